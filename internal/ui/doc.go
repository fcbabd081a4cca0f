// Package ui renders the interactive worker status view: per-user sync
// checkpoints and the recent job ledger in a refreshable terminal table.
//
// The model is read-only over the repositories; it never mutates collector
// state. Built on bubbletea with bubbles/table for layout.
package ui
