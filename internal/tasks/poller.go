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

// PollOutcome summarizes one poll cycle for one user.
type PollOutcome struct {
	Fetched     int
	Inserted    int
	Skipped     int
	RateLimited bool
	Latest      *time.Time
}

// Poller performs the forward-looking incremental fetch: one uncursored
// recently-played call per cycle. Overlap with earlier polls is absorbed by
// play dedup; the checkpoint's poll cursor only ever advances.
type Poller struct {
	source      services.PlaySource
	music       *repositories.MusicRepository
	checkpoints *repositories.CheckpointRepository
	jobs        *repositories.JobRepository
	logger      *log.Logger
}

// NewPoller wires a poller for one run.
func NewPoller(source services.PlaySource, music *repositories.MusicRepository, checkpoints *repositories.CheckpointRepository, jobs *repositories.JobRepository, logger *log.Logger) *Poller {
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{source: source, music: music, checkpoints: checkpoints, jobs: jobs, logger: logger}
}

// Run executes one poll for one user. A rate-limit budget exhaustion is a
// clean stop with whatever progress was made; other upstream failures mark
// the job and checkpoint as errored and are returned.
func (p *Poller) Run(ctx context.Context, userID string) (*PollOutcome, error) {
	job, err := p.jobs.Begin(userID, models.JobPoll)
	if err != nil {
		return nil, err
	}
	if err := p.checkpoints.MarkPollStarted(userID); err != nil {
		return nil, p.fatal(userID, job, err)
	}

	outcome := &PollOutcome{}

	page, err := p.source.RecentlyPlayed(ctx, nil, services.RecentlyPlayedMax)
	if err != nil {
		if errors.Is(err, shared.ErrRateLimited) {
			outcome.RateLimited = true
			if cerr := p.checkpoints.MarkPollCompleted(userID, nil); cerr != nil {
				return nil, p.fatal(userID, job, cerr)
			}
			if jerr := p.jobs.Finish(job, 0, 0, 0); jerr != nil {
				return nil, jerr
			}
			p.logger.Warn("poll stopped by rate limit", "user_id", userID)
			return outcome, nil
		}
		return nil, p.fatal(userID, job, err)
	}
	outcome.Fetched = len(page)

	result, err := p.music.ProcessPlayBatch(ctx, userID, page)
	if err != nil {
		return nil, p.fatal(userID, job, err)
	}
	outcome.Inserted = result.Inserted
	outcome.Skipped = result.Skipped
	outcome.Latest = result.MaxPlayedAt

	if err := p.checkpoints.MarkPollCompleted(userID, result.MaxPlayedAt); err != nil {
		return nil, p.fatal(userID, job, err)
	}
	if err := p.jobs.Finish(job, outcome.Fetched, outcome.Inserted, outcome.Skipped); err != nil {
		return nil, err
	}

	p.logger.Debug("poll finished",
		"user_id", userID,
		"fetched", outcome.Fetched,
		"inserted", outcome.Inserted,
		"skipped", outcome.Skipped)
	return outcome, nil
}

func (p *Poller) fatal(userID string, job *models.JobRun, cause error) error {
	if err := p.jobs.Fail(job, cause); err != nil {
		p.logger.Error("failed to record job failure", "error", err)
	}
	if err := p.checkpoints.MarkError(userID, cause.Error()); err != nil {
		p.logger.Error("failed to record checkpoint error", "error", err)
	}
	return cause
}
