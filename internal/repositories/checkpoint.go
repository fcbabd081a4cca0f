package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/shared"
)

// CheckpointRepository persists per-user sync bookmarks.
//
// The worker reads the checkpoint to decide whether a user still needs an
// initial sync; the poller uses last_poll_latest_played_at as its after
// cursor, so that column only ever moves forward.
type CheckpointRepository struct {
	db *sql.DB
}

// NewCheckpointRepository creates a new CheckpointRepository with the given database connection
func NewCheckpointRepository(db *sql.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

const checkpointColumns = `
	user_id, status,
	initial_sync_started_at, initial_sync_completed_at, initial_sync_earliest_played_at,
	last_poll_started_at, last_poll_completed_at, last_poll_latest_played_at,
	error_message, created_at, updated_at
`

// GetOrCreate returns the checkpoint for a user, creating an idle row on
// first access.
func (r *CheckpointRepository) GetOrCreate(userID string) (*models.SyncCheckpoint, error) {
	cp, err := r.Get(userID)
	if err == nil {
		return cp, nil
	}

	now := time.Now().UTC()
	_, err = r.db.Exec(`
		INSERT INTO sync_checkpoints (user_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, string(models.SyncIdle), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint: %w", err)
	}
	return r.Get(userID)
}

// Get retrieves the checkpoint for a user.
func (r *CheckpointRepository) Get(userID string) (*models.SyncCheckpoint, error) {
	return r.scanOne(r.db.QueryRow(`SELECT `+checkpointColumns+` FROM sync_checkpoints WHERE user_id = ?`, userID))
}

// List returns every checkpoint ordered by user id.
func (r *CheckpointRepository) List() ([]*models.SyncCheckpoint, error) {
	rows, err := r.db.Query(`SELECT ` + checkpointColumns + ` FROM sync_checkpoints ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*models.SyncCheckpoint
	for rows.Next() {
		cp, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return checkpoints, nil
}

// SetStatus transitions the user-level sync status.
func (r *CheckpointRepository) SetStatus(userID string, status models.SyncStatus) error {
	return r.update(userID, `status = ?, updated_at = ?`, string(status), time.Now().UTC())
}

// MarkInitialSyncStarted records the start of a backfill and clears any
// previous error.
func (r *CheckpointRepository) MarkInitialSyncStarted(userID string) error {
	now := time.Now().UTC()
	return r.update(userID,
		`status = ?, initial_sync_started_at = ?, error_message = '', updated_at = ?`,
		string(models.SyncSyncing), now, now)
}

// MarkInitialSyncCompleted records a finished backfill along with the
// earliest play it reached, when one was seen.
func (r *CheckpointRepository) MarkInitialSyncCompleted(userID string, earliest *time.Time) error {
	now := time.Now().UTC()
	return r.update(userID,
		`status = ?, initial_sync_completed_at = ?, initial_sync_earliest_played_at = COALESCE(?, initial_sync_earliest_played_at), updated_at = ?`,
		string(models.SyncIdle), now, nullTime(earliest), now)
}

// MarkPollStarted stamps the beginning of a poll cycle.
func (r *CheckpointRepository) MarkPollStarted(userID string) error {
	now := time.Now().UTC()
	return r.update(userID, `last_poll_started_at = ?, updated_at = ?`, now, now)
}

// MarkPollCompleted stamps a finished poll cycle and advances the poll
// cursor. The cursor is monotonic: a nil or older latest leaves it unchanged.
func (r *CheckpointRepository) MarkPollCompleted(userID string, latest *time.Time) error {
	now := time.Now().UTC()
	return r.update(userID, `
		last_poll_completed_at = ?,
		last_poll_latest_played_at = CASE
			WHEN ? IS NOT NULL AND (last_poll_latest_played_at IS NULL OR last_poll_latest_played_at < ?)
			THEN ? ELSE last_poll_latest_played_at
		END,
		error_message = '',
		updated_at = ?
	`, now, nullTime(latest), nullTime(latest), nullTime(latest), now)
}

// MarkError records a failure message and flips the status to error.
func (r *CheckpointRepository) MarkError(userID, message string) error {
	return r.update(userID, `status = ?, error_message = ?, updated_at = ?`,
		string(models.SyncError), message, time.Now().UTC())
}

func (r *CheckpointRepository) update(userID, set string, args ...any) error {
	args = append(args, userID)
	result, err := r.db.Exec(`UPDATE sync_checkpoints SET `+set+` WHERE user_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update checkpoint: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: checkpoint for user %s", shared.ErrNotFound, userID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *CheckpointRepository) scanOne(row *sql.Row) (*models.SyncCheckpoint, error) {
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: checkpoint", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	return cp, nil
}

func (r *CheckpointRepository) scanRow(rows *sql.Rows) (*models.SyncCheckpoint, error) {
	cp, err := scanCheckpoint(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	return cp, nil
}

func scanCheckpoint(s rowScanner) (*models.SyncCheckpoint, error) {
	var (
		cp                                models.SyncCheckpoint
		status                            string
		started, completed, earliest      sql.NullTime
		pollStarted, pollDone, pollLatest sql.NullTime
	)
	err := s.Scan(&cp.UserID, &status,
		&started, &completed, &earliest,
		&pollStarted, &pollDone, &pollLatest,
		&cp.ErrorMessage, &cp.CreatedAt, &cp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cp.Status = models.SyncStatus(status)
	cp.InitialSyncStartedAt = timePtr(started)
	cp.InitialSyncCompletedAt = timePtr(completed)
	cp.InitialSyncEarliestPlayedAt = timePtr(earliest)
	cp.LastPollStartedAt = timePtr(pollStarted)
	cp.LastPollCompletedAt = timePtr(pollDone)
	cp.LastPollLatestPlayedAt = timePtr(pollLatest)
	return &cp, nil
}
