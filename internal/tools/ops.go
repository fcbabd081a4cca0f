package tools

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/repositories"
)

// OpsTools exposes worker bookkeeping: checkpoint snapshots and the job and
// import ledgers.
type OpsTools struct {
	users       *repositories.UserRepository
	checkpoints *repositories.CheckpointRepository
	jobs        *repositories.JobRepository
	imports     *repositories.ImportRepository
}

// NewOpsTools creates the ops tool set.
func NewOpsTools(users *repositories.UserRepository, checkpoints *repositories.CheckpointRepository, jobs *repositories.JobRepository, imports *repositories.ImportRepository) *OpsTools {
	return &OpsTools{users: users, checkpoints: checkpoints, jobs: jobs, imports: imports}
}

// syncStatusResult is the wire shape of a checkpoint snapshot.
type syncStatusResult struct {
	UserID                      string     `json:"user_id"`
	Status                      string     `json:"status"`
	InitialSyncStartedAt        *time.Time `json:"initial_sync_started_at,omitempty"`
	InitialSyncCompletedAt      *time.Time `json:"initial_sync_completed_at,omitempty"`
	InitialSyncEarliestPlayedAt *time.Time `json:"initial_sync_earliest_played_at,omitempty"`
	LastPollStartedAt           *time.Time `json:"last_poll_started_at,omitempty"`
	LastPollCompletedAt         *time.Time `json:"last_poll_completed_at,omitempty"`
	LastPollLatestPlayedAt      *time.Time `json:"last_poll_latest_played_at,omitempty"`
	ErrorMessage                string     `json:"error_message,omitempty"`
	UpdatedAt                   time.Time  `json:"updated_at"`
}

// jobRunResult is the wire shape of one job ledger entry.
type jobRunResult struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	JobType      string     `json:"job_type"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Fetched      int        `json:"fetched"`
	Inserted     int        `json:"inserted"`
	Skipped      int        `json:"skipped"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// importJobResult is the wire shape of one import ledger entry.
type importJobResult struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Status           string     `json:"status"`
	DetectedFormat   string     `json:"detected_format,omitempty"`
	RecordsIngested  int        `json:"records_ingested"`
	EarliestPlayedAt *time.Time `json:"earliest_played_at,omitempty"`
	LatestPlayedAt   *time.Time `json:"latest_played_at,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Register adds the ops tools to the registry.
func (o *OpsTools) Register(reg *Registry) {
	reg.Register(Tool{
		Name:        "ops.sync_status",
		Description: "The user's sync checkpoint: status, backfill stamps, poll cursor.",
		Category:    "ops",
		Parameters: []Param{
			{Name: "user_id", Type: "string", Required: true, Description: "internal user id"},
		},
		Handler: o.syncStatus,
	})
	reg.Register(Tool{
		Name:        "ops.latest_job_runs",
		Description: "Recent worker job ledger entries, newest first.",
		Category:    "ops",
		Parameters: []Param{
			{Name: "user_id", Type: "string", Required: true, Description: "internal user id"},
			{Name: "limit", Type: "int", Default: 20, Description: "number of rows"},
		},
		Handler: o.latestJobRuns,
	})
	reg.Register(Tool{
		Name:        "ops.latest_import_jobs",
		Description: "Recent archive import ledger entries, newest first.",
		Category:    "ops",
		Parameters: []Param{
			{Name: "user_id", Type: "string", Required: true, Description: "internal user id"},
			{Name: "limit", Type: "int", Default: 20, Description: "number of rows"},
		},
		Handler: o.latestImportJobs,
	})
}

func (o *OpsTools) syncStatus(ctx context.Context, args Args) (any, error) {
	userID := args.String("user_id")
	if _, err := o.users.Get(userID); err != nil {
		return nil, err
	}
	cp, err := o.checkpoints.GetOrCreate(userID)
	if err != nil {
		return nil, err
	}
	return syncStatusResult{
		UserID:                      cp.UserID,
		Status:                      string(cp.Status),
		InitialSyncStartedAt:        cp.InitialSyncStartedAt,
		InitialSyncCompletedAt:      cp.InitialSyncCompletedAt,
		InitialSyncEarliestPlayedAt: cp.InitialSyncEarliestPlayedAt,
		LastPollStartedAt:           cp.LastPollStartedAt,
		LastPollCompletedAt:         cp.LastPollCompletedAt,
		LastPollLatestPlayedAt:      cp.LastPollLatestPlayedAt,
		ErrorMessage:                cp.ErrorMessage,
		UpdatedAt:                   cp.UpdatedAt,
	}, nil
}

func (o *OpsTools) latestJobRuns(ctx context.Context, args Args) (any, error) {
	userID := args.String("user_id")
	if _, err := o.users.Get(userID); err != nil {
		return nil, err
	}
	runs, err := o.jobs.Latest(userID, args.Int("limit"))
	if err != nil {
		return nil, err
	}
	return lo.Map(runs, func(run *models.JobRun, _ int) jobRunResult {
		return jobRunResult{
			ID:           run.ID,
			UserID:       run.UserID,
			JobType:      string(run.JobType),
			Status:       string(run.Status),
			StartedAt:    run.StartedAt,
			CompletedAt:  run.CompletedAt,
			Fetched:      run.Fetched,
			Inserted:     run.Inserted,
			Skipped:      run.Skipped,
			ErrorMessage: run.ErrorMessage,
		}
	}), nil
}

func (o *OpsTools) latestImportJobs(ctx context.Context, args Args) (any, error) {
	userID := args.String("user_id")
	if _, err := o.users.Get(userID); err != nil {
		return nil, err
	}
	jobs, err := o.imports.Latest(userID, args.Int("limit"))
	if err != nil {
		return nil, err
	}
	return lo.Map(jobs, func(job *models.ImportJob, _ int) importJobResult {
		return importJobResult{
			ID:               job.ID,
			UserID:           job.UserID,
			Status:           string(job.Status),
			DetectedFormat:   string(job.DetectedFormat),
			RecordsIngested:  job.RecordsIngested,
			EarliestPlayedAt: job.EarliestPlayedAt,
			LatestPlayedAt:   job.LatestPlayedAt,
			ErrorMessage:     job.ErrorMessage,
			CreatedAt:        job.CreatedAt,
		}
	}), nil
}
