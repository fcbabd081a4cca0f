package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/shared"
)

// JobRepository is the append-mostly ledger of worker executions. Every
// initial-sync pass, poll cycle, and archive import records one row.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new JobRepository with the given database connection
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Begin opens a running ledger entry for one worker unit.
func (r *JobRepository) Begin(userID string, jobType models.JobType) (*models.JobRun, error) {
	job := &models.JobRun{
		ID:        shared.GenerateID(),
		UserID:    userID,
		JobType:   jobType,
		Status:    models.JobRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := r.db.Exec(`
		INSERT INTO job_runs (id, user_id, job_type, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, job.ID, job.UserID, string(job.JobType), string(job.Status), job.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job run: %w", err)
	}
	return job, nil
}

// Finish closes a ledger entry as successful with its counters.
func (r *JobRepository) Finish(job *models.JobRun, fetched, inserted, skipped int) error {
	now := time.Now().UTC()
	job.Status = models.JobSuccess
	job.CompletedAt = &now
	job.Fetched, job.Inserted, job.Skipped = fetched, inserted, skipped
	return r.close(job, "")
}

// Fail closes a ledger entry as errored, keeping whatever counters were
// accumulated before the failure.
func (r *JobRepository) Fail(job *models.JobRun, cause error) error {
	now := time.Now().UTC()
	job.Status = models.JobError
	job.CompletedAt = &now
	job.ErrorMessage = cause.Error()
	return r.close(job, job.ErrorMessage)
}

func (r *JobRepository) close(job *models.JobRun, errMsg string) error {
	result, err := r.db.Exec(`
		UPDATE job_runs
		SET status = ?, completed_at = ?, fetched = ?, inserted = ?, skipped = ?, error_message = ?
		WHERE id = ?
	`, string(job.Status), nullTime(job.CompletedAt), job.Fetched, job.Inserted, job.Skipped, errMsg, job.ID)
	if err != nil {
		return fmt.Errorf("failed to close job run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: job run %s", shared.ErrNotFound, job.ID)
	}
	return nil
}

// Latest returns the most recent ledger entries for a user, newest first.
// An empty userID returns entries across all users.
func (r *JobRepository) Latest(userID string, limit int) ([]*models.JobRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, user_id, job_type, status, started_at, completed_at, fetched, inserted, skipped, error_message
		FROM job_runs
	`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job runs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.JobRun
	for rows.Next() {
		var (
			job       models.JobRun
			jobType   string
			status    string
			completed sql.NullTime
		)
		err := rows.Scan(&job.ID, &job.UserID, &jobType, &status, &job.StartedAt,
			&completed, &job.Fetched, &job.Inserted, &job.Skipped, &job.ErrorMessage)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		job.JobType = models.JobType(jobType)
		job.Status = models.JobStatus(status)
		job.CompletedAt = timePtr(completed)
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return jobs, nil
}
