package main

import (
	"strings"
	"testing"
	"time"

	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/repositories"
	"github.com/spinlog/spinlog/internal/shared"
)

func TestWriteStatusReport(t *testing.T) {
	cursor := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	completed := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	users := []*models.User{
		{ID: "u1", SpotifyUserID: "spotify:alice"},
		{ID: "u2", SpotifyUserID: "spotify:bob"},
	}
	checkpoints := []*models.SyncCheckpoint{
		{
			UserID:                 "u1",
			Status:                 models.SyncIdle,
			InitialSyncCompletedAt: &completed,
			LastPollLatestPlayedAt: &cursor,
		},
		{
			UserID:       "u2",
			Status:       models.SyncError,
			ErrorMessage: "authorization expired",
		},
	}
	jobs := []*models.JobRun{
		{
			UserID:    "u1",
			JobType:   models.JobPoll,
			Status:    models.JobSuccess,
			StartedAt: cursor,
			Fetched:   50,
			Inserted:  3,
			Skipped:   47,
		},
	}

	var out strings.Builder
	if err := writeStatusReport(&out, users, checkpoints, jobs); err != nil {
		t.Fatalf("report failed: %v", err)
	}

	report := out.String()
	for _, want := range []string{
		"Users: 2",
		"spotify:alice  status=idle backfill=done cursor=2026-08-01T12:00:00Z",
		`spotify:bob  status=error backfill=pending error="authorization expired"`,
		"poll",
		"fetched=50 inserted=3 skipped=47",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestBuildRegistryExposesFullCatalog(t *testing.T) {
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	a := &app{
		users:       repositories.NewUserRepository(db),
		checkpoints: repositories.NewCheckpointRepository(db),
		jobs:        repositories.NewJobRepository(db),
		imports:     repositories.NewImportRepository(db),
		analytics:   repositories.NewAnalyticsRepository(db),
	}

	catalog := buildRegistry(a).Catalog()
	names := make(map[string]bool, len(catalog))
	for _, tool := range catalog {
		names[tool.Name] = true
	}

	for _, want := range []string{
		"history.taste_summary",
		"history.top_artists",
		"history.top_tracks",
		"history.listening_heatmap",
		"history.repeat_rate",
		"history.coverage",
		"spotify.get_top",
		"spotify.search",
		"ops.sync_status",
		"ops.latest_job_runs",
		"ops.latest_import_jobs",
	} {
		if !names[want] {
			t.Errorf("catalog missing tool %s", want)
		}
	}
	if len(catalog) != 11 {
		t.Errorf("expected 11 tools, got %d", len(catalog))
	}
}
