// Package tasks implements the ingestion pipeline: the initial-sync backward
// pager, the incremental poller, the ZIP archive importer, and the collector
// run loop that schedules them.
//
// Tasks never abort a whole cycle for a single user's failure. Each unit of
// work records its outcome in the job ledger and, for upstream failures, in
// the user's sync checkpoint; the next cycle retries whatever is retryable.
package tasks
