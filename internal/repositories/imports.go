package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/shared"
)

// ImportRepository tracks uploaded archives through the import pipeline.
type ImportRepository struct {
	db *sql.DB
}

// NewImportRepository creates a new ImportRepository with the given database connection
func NewImportRepository(db *sql.DB) *ImportRepository {
	return &ImportRepository{db: db}
}

const importColumns = `
	id, user_id, status, archive_path, archive_size, detected_format,
	records_ingested, earliest_played_at, latest_played_at, error_message,
	created_at, updated_at
`

// Enqueue records a newly uploaded archive as pending.
func (r *ImportRepository) Enqueue(userID, archivePath string, archiveSize int64) (*models.ImportJob, error) {
	now := time.Now().UTC()
	job := &models.ImportJob{
		ID:          shared.GenerateID(),
		UserID:      userID,
		Status:      models.ImportPending,
		ArchivePath: archivePath,
		ArchiveSize: archiveSize,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := r.db.Exec(`
		INSERT INTO import_jobs (id, user_id, status, archive_path, archive_size, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.UserID, string(job.Status), job.ArchivePath, job.ArchiveSize, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue import: %w", err)
	}
	return job, nil
}

// Get retrieves an import job by id.
func (r *ImportRepository) Get(id string) (*models.ImportJob, error) {
	job, err := scanImport(r.db.QueryRow(`SELECT `+importColumns+` FROM import_jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: import job %s", shared.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan import job: %w", err)
	}
	return job, nil
}

// ClaimPending atomically flips the oldest pending job to processing and
// returns it, or nil when the queue is empty.
func (r *ImportRepository) ClaimPending() (*models.ImportJob, error) {
	var id string
	err := r.db.QueryRow(`
		SELECT id FROM import_jobs WHERE status = ? ORDER BY created_at ASC LIMIT 1
	`, string(models.ImportPending)).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending import: %w", err)
	}

	result, err := r.db.Exec(`
		UPDATE import_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, string(models.ImportProcessing), time.Now().UTC(), id, string(models.ImportPending))
	if err != nil {
		return nil, fmt.Errorf("failed to claim import: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		// Another worker claimed it first.
		return nil, nil
	}
	return r.Get(id)
}

// Complete closes an import as successful with its detection and ingest results.
func (r *ImportRepository) Complete(job *models.ImportJob) error {
	job.Status = models.ImportSuccess
	job.UpdatedAt = time.Now().UTC()
	result, err := r.db.Exec(`
		UPDATE import_jobs
		SET status = ?, detected_format = ?, records_ingested = ?,
			earliest_played_at = ?, latest_played_at = ?, error_message = '', updated_at = ?
		WHERE id = ?
	`, string(job.Status), string(job.DetectedFormat), job.RecordsIngested,
		nullTime(job.EarliestPlayedAt), nullTime(job.LatestPlayedAt), job.UpdatedAt, job.ID)
	if err != nil {
		return fmt.Errorf("failed to complete import: %w", err)
	}
	return requireRow(result, job.ID)
}

// FailImport closes an import as errored.
func (r *ImportRepository) FailImport(job *models.ImportJob, cause error) error {
	job.Status = models.ImportErrored
	job.ErrorMessage = cause.Error()
	job.UpdatedAt = time.Now().UTC()
	result, err := r.db.Exec(`
		UPDATE import_jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?
	`, string(job.Status), job.ErrorMessage, job.UpdatedAt, job.ID)
	if err != nil {
		return fmt.Errorf("failed to fail import: %w", err)
	}
	return requireRow(result, job.ID)
}

// Latest returns the most recent import jobs for a user, newest first.
func (r *ImportRepository) Latest(userID string, limit int) ([]*models.ImportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`
		SELECT `+importColumns+` FROM import_jobs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query import jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ImportJob
	for rows.Next() {
		job, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return jobs, nil
}

func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: import job %s", shared.ErrNotFound, id)
	}
	return nil
}

func scanImport(s rowScanner) (*models.ImportJob, error) {
	var (
		job              models.ImportJob
		status, format   string
		earliest, latest sql.NullTime
	)
	err := s.Scan(&job.ID, &job.UserID, &status, &job.ArchivePath, &job.ArchiveSize, &format,
		&job.RecordsIngested, &earliest, &latest, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Status = models.ImportStatus(status)
	job.DetectedFormat = models.ImportFormat(format)
	job.EarliestPlayedAt = timePtr(earliest)
	job.LatestPlayedAt = timePtr(latest)
	return &job, nil
}
