// Package repositories implements the SQLite persistence layer.
//
// Each repository wraps a *sql.DB and exposes typed CRUD plus the batch and
// aggregate operations the ingestion pipeline and the query tools need:
//
//   - [UserRepository], [CredentialRepository] : accounts and sealed tokens
//   - [MusicRepository] : catalog upserts and play inserts, including the
//     transactional [MusicRepository.ProcessPlayBatch] used by every ingest path
//   - [CheckpointRepository] : per-user sync bookmarks
//   - [JobRepository] : the worker run ledger
//   - [ImportRepository] : archive import lifecycle
//   - [AnalyticsRepository] : read-only aggregates for the query tools
//
// Play dedup lives in the schema: plays carries UNIQUE(user_id, played_at,
// track_id) and inserts use ON CONFLICT DO NOTHING, so re-running any ingest
// source is idempotent regardless of which repository method performed it.
package repositories
