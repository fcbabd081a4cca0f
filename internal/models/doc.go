// Package models defines the domain entities of the playback-history service.
//
// The package contains two categories of types:
//
// 1. Persistent entities backed by the SQLite schema:
//   - [User] : Spotify account owner
//   - [Credential] : sealed refresh token plus cached access token
//   - [Track], [Artist] : catalog rows, keyed by provider id or local id
//   - [Play] : a single playback event, unique per (user, played_at, track)
//   - [SyncCheckpoint] : per-user worker bookmark
//   - [JobRun] : ledger entry for one worker unit
//   - [ImportJob] : lifecycle record for an uploaded archive
//
// 2. Ingest DTOs: [PlayRecord] and [ArtistRef] carry normalized playback
// tuples from the Spotify client or the ZIP importer into the repository.
//
// Local identifiers for tracks and artists that lack a Spotify URI are
// derived deterministically; see [LocalTrackID] and [LocalArtistID].
package models
