package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/repositories"
	"github.com/spinlog/spinlog/internal/services"
	"github.com/spinlog/spinlog/internal/shared"
	"golang.org/x/sync/semaphore"
)

// ClientSource mints a playback API client for a stored user. Implemented by
// services.Authenticator; narrowed here so the collector can be tested with
// fakes.
type ClientSource interface {
	ClientFor(userID string) (*services.SpotifyClient, error)
}

// Collector is the worker run loop: drain pending imports, backfill users
// that still need an initial sync, then poll everyone. One instance per
// deployment; a second instance would double-issue polls.
type Collector struct {
	clients     ClientSource
	users       *repositories.UserRepository
	music       *repositories.MusicRepository
	checkpoints *repositories.CheckpointRepository
	jobs        *repositories.JobRepository
	imports     *repositories.ImportRepository
	importer    *Importer
	cfg         shared.CollectorConfig
	logger      *log.Logger

	// syncSem bounds concurrent initial syncs across users.
	syncSem *semaphore.Weighted
}

// NewCollector wires the run loop.
func NewCollector(clients ClientSource, users *repositories.UserRepository, music *repositories.MusicRepository, checkpoints *repositories.CheckpointRepository, jobs *repositories.JobRepository, imports *repositories.ImportRepository, importer *Importer, cfg shared.CollectorConfig, logger *log.Logger) *Collector {
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 600
	}
	if cfg.InitialSyncConcurrency <= 0 {
		cfg.InitialSyncConcurrency = 2
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Collector{
		clients:     clients,
		users:       users,
		music:       music,
		checkpoints: checkpoints,
		jobs:        jobs,
		imports:     imports,
		importer:    importer,
		cfg:         cfg,
		logger:      logger,
		syncSem:     semaphore.NewWeighted(int64(cfg.InitialSyncConcurrency)),
	}
}

// Run executes cycles until the context is canceled. In-flight work finishes
// the current user before the loop exits.
func (c *Collector) Run(ctx context.Context) error {
	interval := time.Duration(c.cfg.IntervalSeconds) * time.Second
	c.logger.Info("collector started", "interval", interval)

	for {
		c.RunCycle(ctx)

		select {
		case <-ctx.Done():
			c.logger.Info("collector stopped")
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// RunCycle performs one cooperative pass: imports, initial syncs, polls.
// Per-user failures are recorded and skipped, never fatal to the cycle.
func (c *Collector) RunCycle(ctx context.Context) {
	c.drainImports(ctx)
	if ctx.Err() != nil {
		return
	}

	users, err := c.users.List()
	if err != nil {
		c.logger.Error("failed to list users", "error", err)
		return
	}

	var wg sync.WaitGroup
	pollable := make([]*models.User, 0, len(users))

	for _, user := range users {
		cp, err := c.checkpoints.GetOrCreate(user.ID)
		if err != nil {
			c.logger.Error("failed to load checkpoint", "user_id", user.ID, "error", err)
			continue
		}
		if cp.Status == models.SyncPaused {
			continue
		}

		if c.cfg.InitialSyncEnabled && cp.InitialSyncCompletedAt == nil {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				if err := c.syncSem.Acquire(ctx, 1); err != nil {
					return
				}
				defer c.syncSem.Release(1)
				c.runInitialSync(ctx, userID)
			}(user.ID)
			continue
		}
		pollable = append(pollable, user)
	}
	wg.Wait()

	for _, user := range pollable {
		if ctx.Err() != nil {
			return
		}
		c.runPoll(ctx, user.ID)
	}
}

func (c *Collector) drainImports(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := c.imports.ClaimPending()
		if err != nil {
			c.logger.Error("failed to claim import", "error", err)
			return
		}
		if job == nil {
			return
		}
		if err := c.importer.Run(ctx, job); err != nil {
			c.logger.Error("import failed", "import_id", job.ID, "error", err)
		}
	}
}

func (c *Collector) runInitialSync(ctx context.Context, userID string) {
	client, err := c.clients.ClientFor(userID)
	if err != nil {
		c.logger.Error("skipping initial sync, no usable client", "user_id", userID, "error", err)
		return
	}

	sync := NewInitialSync(client, c.music, c.checkpoints, c.jobs, InitialSyncOpts{
		MaxDays:     c.cfg.InitialSyncMaxDays,
		MaxRequests: c.cfg.InitialSyncMaxRequests,
		Logger:      c.logger,
	})
	if _, err := sync.Run(ctx, userID); err != nil {
		c.logger.Error("initial sync failed", "user_id", userID, "error", err)
	}
}

func (c *Collector) runPoll(ctx context.Context, userID string) {
	client, err := c.clients.ClientFor(userID)
	if err != nil {
		c.logger.Error("skipping poll, no usable client", "user_id", userID, "error", err)
		return
	}

	poller := NewPoller(client, c.music, c.checkpoints, c.jobs, c.logger)
	if _, err := poller.Run(ctx, userID); err != nil {
		c.logger.Error("poll failed", "user_id", userID, "error", err)
	}
}
