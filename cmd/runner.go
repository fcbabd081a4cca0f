package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/repositories"
	"github.com/spinlog/spinlog/internal/server"
	"github.com/spinlog/spinlog/internal/services"
	"github.com/spinlog/spinlog/internal/shared"
	"github.com/spinlog/spinlog/internal/tasks"
	"github.com/spinlog/spinlog/internal/tools"
	"github.com/spinlog/spinlog/internal/ui"
	"github.com/spinlog/spinlog/internal/vault"
	"github.com/urfave/cli/v3"
)

// Runner holds shared dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	logger *log.Logger
	output io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Logger *log.Logger
	Output io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{logger: opts.Logger, output: opts.Output}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, migrateCommand, serveCommand, workerCommand, importCommand, statusCommand, authCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// app bundles the wired components a command needs. Not every command builds
// every field; auth is nil unless buildAuth ran.
type app struct {
	config      *shared.Config
	db          *sql.DB
	users       *repositories.UserRepository
	creds       *repositories.CredentialRepository
	music       *repositories.MusicRepository
	checkpoints *repositories.CheckpointRepository
	jobs        *repositories.JobRepository
	imports     *repositories.ImportRepository
	analytics   *repositories.AnalyticsRepository
	auth        *services.Authenticator
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// buildApp loads config, opens the database, and wires the repositories.
func (r *Runner) buildApp(cmd *cli.Command) (*app, error) {
	config, err := shared.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return nil, err
	}
	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	return &app{
		config:      config,
		db:          db,
		users:       repositories.NewUserRepository(db),
		creds:       repositories.NewCredentialRepository(db),
		music:       repositories.NewMusicRepository(db),
		checkpoints: repositories.NewCheckpointRepository(db),
		jobs:        repositories.NewJobRepository(db),
		imports:     repositories.NewImportRepository(db),
		analytics:   repositories.NewAnalyticsRepository(db),
	}, nil
}

// buildAuth validates secrets and attaches the authenticator.
func (r *Runner) buildAuth(a *app) error {
	if err := a.config.Validate(); err != nil {
		return err
	}
	v, err := vault.New(a.config.Vault.EncryptionKey)
	if err != nil {
		return err
	}
	a.auth, err = services.NewAuthenticator(a.config.Spotify, v, a.users, a.creds, r.logger, services.AuthenticatorOpts{
		Concurrency:     a.config.Spotify.Concurrency,
		RateLimitBudget: a.config.Collector.RateLimitBudget,
	})
	return err
}

func (r *Runner) buildImporter(a *app) *tasks.Importer {
	return tasks.NewImporter(a.music, a.imports, a.jobs, tasks.ImporterOpts{
		BatchSize:    a.config.Import.BatchSize,
		MaxZipSizeMB: a.config.Import.MaxZipSizeMB,
		MaxRecords:   a.config.Import.MaxRecords,
		KeepArchives: a.config.Import.KeepArchives,
		Logger:       r.logger,
	})
}

// buildRegistry assembles the full tool catalog.
func buildRegistry(a *app) *tools.Registry {
	registry := tools.NewRegistry()
	tools.NewHistoryTools(a.users, a.analytics).Register(registry)
	tools.NewSpotifyTools(a.auth).Register(registry)
	tools.NewOpsTools(a.users, a.checkpoints, a.jobs, a.imports).Register(registry)
	return registry
}

// SetupConfig writes a starter configuration file.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	return r.writePlainln("wrote %s", path)
}

// Migrate applies pending migrations, or rolls one back with --rollback.
func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	a, err := r.buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.Bool("rollback") {
		return shared.RollbackMigration(a.db)
	}
	return shared.RunMigrations(a.db)
}

// Serve runs the HTTP surface until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	a, err := r.buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := r.buildAuth(a); err != nil {
		return err
	}
	if err := shared.RunMigrations(a.db); err != nil {
		return err
	}

	router := server.NewBasicRouter()
	router.Use(server.Logging(r.logger))
	router.Handler(server.NewHealthHandler(a.db, a.jobs))
	router.Handler(server.NewMCPHandler(buildRegistry(a), a.config.Server.BearerToken))
	router.Handler(server.NewOAuthHandler(a.auth, r.logger))
	router.Handler(server.NewImportHandler(a.users, a.imports, a.config.Import.UploadDir, a.config.Import.MaxZipSizeMB))

	err = server.NewServer(a.config.Server, router, r.logger).Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Worker runs the collector loop, or one cycle with --once.
func (r *Runner) Worker(ctx context.Context, cmd *cli.Command) error {
	a, err := r.buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := r.buildAuth(a); err != nil {
		return err
	}
	if err := shared.RunMigrations(a.db); err != nil {
		return err
	}

	collector := tasks.NewCollector(a.auth, a.users, a.music, a.checkpoints, a.jobs, a.imports,
		r.buildImporter(a), a.config.Collector, r.logger)

	if cmd.Bool("once") {
		collector.RunCycle(ctx)
		return nil
	}
	err = collector.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Import enqueues an archive, optionally processing it inline with --now.
func (r *Runner) Import(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: archive path argument is required", shared.ErrInvalidArgument)
	}

	a, err := r.buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	userID := cmd.String("user")
	if _, err := a.users.Get(userID); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	job, err := a.imports.Enqueue(userID, path, info.Size())
	if err != nil {
		return err
	}
	r.writePlainln("enqueued import %s (%d bytes)", job.ID, job.ArchiveSize)

	if !cmd.Bool("now") {
		return nil
	}
	if claimed, err := a.imports.ClaimPending(); err != nil {
		return err
	} else if claimed != nil && claimed.ID == job.ID {
		job = claimed
	}
	if err := r.buildImporter(a).Run(ctx, job); err != nil {
		return err
	}
	done, err := a.imports.Get(job.ID)
	if err != nil {
		return err
	}
	return r.writePlainln("imported %d records (%s)", done.RecordsIngested, done.DetectedFormat)
}

// Status prints checkpoints and recent jobs, or opens the TUI with --tui.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	a, err := r.buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.Bool("tui") {
		return ui.Run(a.users, a.checkpoints, a.jobs)
	}

	users, err := a.users.List()
	if err != nil {
		return err
	}
	checkpoints, err := a.checkpoints.List()
	if err != nil {
		return err
	}
	jobs, err := a.jobs.Latest("", 10)
	if err != nil {
		return err
	}
	return writeStatusReport(r.output, users, checkpoints, jobs)
}

// AuthURL prints the authorization URL, opening a browser with --open.
func (r *Runner) AuthURL(ctx context.Context, cmd *cli.Command) error {
	a, err := r.buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := r.buildAuth(a); err != nil {
		return err
	}

	url := a.auth.AuthURL()
	if err := r.writePlainln("%s", url); err != nil {
		return err
	}
	if cmd.Bool("open") {
		return shared.OpenBrowser(url)
	}
	return nil
}

// AuthList prints the authorized users.
func (r *Runner) AuthList(ctx context.Context, cmd *cli.Command) error {
	a, err := r.buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.users.List()
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return r.writePlainln("no authorized users")
	}
	for _, user := range users {
		name := user.DisplayName
		if name == "" {
			name = "(no display name)"
		}
		if err := r.writePlain("%s  %s  %s\n", user.ID, user.SpotifyUserID, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	return r.writePlain(format+"\n", args...)
}

// writeStatusReport renders the plain (non-TUI) status output.
func writeStatusReport(w io.Writer, users []*models.User, checkpoints []*models.SyncCheckpoint, jobs []*models.JobRun) error {
	byUser := make(map[string]*models.SyncCheckpoint, len(checkpoints))
	for _, cp := range checkpoints {
		byUser[cp.UserID] = cp
	}

	fmt.Fprintf(w, "Users: %d\n", len(users))
	for _, user := range users {
		cp := byUser[user.ID]
		if cp == nil {
			fmt.Fprintf(w, "  %s  (no checkpoint)\n", user.SpotifyUserID)
			continue
		}
		backfill := "pending"
		if cp.InitialSyncCompletedAt != nil {
			backfill = "done"
		} else if cp.InitialSyncStartedAt != nil {
			backfill = "running"
		}
		fmt.Fprintf(w, "  %s  status=%s backfill=%s", user.SpotifyUserID, cp.Status, backfill)
		if cp.LastPollLatestPlayedAt != nil {
			fmt.Fprintf(w, " cursor=%s", cp.LastPollLatestPlayedAt.UTC().Format("2006-01-02T15:04:05Z"))
		}
		if cp.ErrorMessage != "" {
			fmt.Fprintf(w, " error=%q", cp.ErrorMessage)
		}
		fmt.Fprintln(w)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No job runs recorded.")
		return nil
	}
	fmt.Fprintln(w, "Recent jobs:")
	for _, job := range jobs {
		fmt.Fprintf(w, "  %s  %-12s %-8s fetched=%d inserted=%d skipped=%d",
			job.StartedAt.UTC().Format("2006-01-02 15:04:05"), job.JobType, job.Status,
			job.Fetched, job.Inserted, job.Skipped)
		if job.ErrorMessage != "" {
			fmt.Fprintf(w, " error=%q", job.ErrorMessage)
		}
		fmt.Fprintln(w)
	}
	return nil
}
