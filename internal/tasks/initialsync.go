package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/repositories"
	"github.com/spinlog/spinlog/internal/services"
	"github.com/spinlog/spinlog/internal/shared"
)

// StopReason names why a backward pager run ended. Every reason other than a
// fatal error is a clean completion.
type StopReason string

const (
	StopRequestCap  StopReason = "request_cap"
	StopEmpty       StopReason = "empty"
	StopNoProgress  StopReason = "no_progress"
	StopMaxDays     StopReason = "max_days"
	StopRateLimited StopReason = "rate_limited"
)

// SyncOutcome summarizes one initial-sync run.
type SyncOutcome struct {
	Reason       StopReason
	Requests     int
	Fetched      int
	Inserted     int
	Skipped      int
	EarliestSeen *time.Time
}

// InitialSyncOpts bound how deep the pager walks.
type InitialSyncOpts struct {
	MaxDays     int
	MaxRequests int
	Logger      *log.Logger
}

// InitialSync walks recently-played backward from now, ingesting each page,
// until one of five stop conditions fires: the request cap, an empty page,
// a page that makes no backward progress, the age bound, or the rate-limit
// budget. The provider rarely discloses anywhere near the age bound; this is
// a best-effort extraction, not a guarantee.
type InitialSync struct {
	source      services.PlaySource
	music       *repositories.MusicRepository
	checkpoints *repositories.CheckpointRepository
	jobs        *repositories.JobRepository
	opts        InitialSyncOpts
}

// NewInitialSync wires a pager for one run.
func NewInitialSync(source services.PlaySource, music *repositories.MusicRepository, checkpoints *repositories.CheckpointRepository, jobs *repositories.JobRepository, opts InitialSyncOpts) *InitialSync {
	if opts.MaxDays <= 0 {
		opts.MaxDays = 30
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = 200
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &InitialSync{source: source, music: music, checkpoints: checkpoints, jobs: jobs, opts: opts}
}

// Run executes the backward pager for one user.
//
// On any clean stop the checkpoint records completion and the earliest play
// reached; the job ledger records the counters. A fatal error marks both the
// job and the checkpoint as errored and is returned to the caller.
func (s *InitialSync) Run(ctx context.Context, userID string) (*SyncOutcome, error) {
	job, err := s.jobs.Begin(userID, models.JobInitialSync)
	if err != nil {
		return nil, err
	}
	if err := s.checkpoints.MarkInitialSyncStarted(userID); err != nil {
		return nil, s.fatal(userID, job, err)
	}

	outcome := &SyncOutcome{}
	cursor := time.Now().UTC()
	maxAge := time.Duration(s.opts.MaxDays) * 24 * time.Hour
	var prevOldest *time.Time

	for {
		if outcome.Requests >= s.opts.MaxRequests {
			outcome.Reason = StopRequestCap
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, s.fatal(userID, job, err)
		}

		page, err := s.source.RecentlyPlayed(ctx, &cursor, services.RecentlyPlayedMax)
		outcome.Requests++
		if err != nil {
			if errors.Is(err, shared.ErrRateLimited) {
				outcome.Reason = StopRateLimited
				break
			}
			return nil, s.fatal(userID, job, err)
		}
		if len(page) == 0 {
			outcome.Reason = StopEmpty
			break
		}
		outcome.Fetched += len(page)

		result, err := s.music.ProcessPlayBatch(ctx, userID, page)
		if err != nil {
			return nil, s.fatal(userID, job, err)
		}
		outcome.Inserted += result.Inserted
		outcome.Skipped += result.Skipped

		minPA := result.MinPlayedAt
		if minPA == nil {
			// Every record in the page was invalid; the cursor cannot move.
			outcome.Reason = StopNoProgress
			break
		}
		if outcome.EarliestSeen == nil || minPA.Before(*outcome.EarliestSeen) {
			outcome.EarliestSeen = minPA
		}
		if prevOldest != nil && !minPA.Before(*prevOldest) {
			outcome.Reason = StopNoProgress
			break
		}
		prevOldest = minPA

		if time.Since(*minPA) >= maxAge {
			outcome.Reason = StopMaxDays
			break
		}

		// Step strictly past the oldest item seen.
		cursor = time.UnixMilli(minPA.UnixMilli() - 1).UTC()
	}

	if err := s.checkpoints.MarkInitialSyncCompleted(userID, outcome.EarliestSeen); err != nil {
		return nil, s.fatal(userID, job, err)
	}
	if err := s.jobs.Finish(job, outcome.Fetched, outcome.Inserted, outcome.Skipped); err != nil {
		return nil, err
	}

	s.opts.Logger.Info("initial sync finished",
		"user_id", userID,
		"reason", outcome.Reason,
		"requests", outcome.Requests,
		"inserted", outcome.Inserted,
		"skipped", outcome.Skipped)
	return outcome, nil
}

func (s *InitialSync) fatal(userID string, job *models.JobRun, cause error) error {
	if err := s.jobs.Fail(job, cause); err != nil {
		s.opts.Logger.Error("failed to record job failure", "error", err)
	}
	if err := s.checkpoints.MarkError(userID, cause.Error()); err != nil {
		s.opts.Logger.Error("failed to record checkpoint error", "error", err)
	}
	return cause
}
