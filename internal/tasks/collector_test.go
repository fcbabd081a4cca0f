package tasks

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/repositories"
	"github.com/spinlog/spinlog/internal/services"
	"github.com/spinlog/spinlog/internal/shared"
)

// fakeClients hands out one shared mocked client, or an error.
type fakeClients struct {
	mu     sync.Mutex
	client *services.SpotifyClient
	err    error
	asked  []string
}

func (f *fakeClients) ClientFor(userID string) (*services.SpotifyClient, error) {
	f.mu.Lock()
	f.asked = append(f.asked, userID)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

func mockedSpotifyClient(t *testing.T) *services.SpotifyClient {
	t.Helper()

	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	return services.NewSpotifyClient(services.ClientOpts{
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(time.Hour),
		BaseURL:     "https://api.spotify.test/v1",
		HTTPClient:  httpClient,
	})
}

func newCollector(db *sql.DB, clients ClientSource, cfg shared.CollectorConfig) *Collector {
	return NewCollector(clients,
		repositories.NewUserRepository(db),
		repositories.NewMusicRepository(db),
		repositories.NewCheckpointRepository(db),
		repositories.NewJobRepository(db),
		repositories.NewImportRepository(db),
		NewImporter(
			repositories.NewMusicRepository(db),
			repositories.NewImportRepository(db),
			repositories.NewJobRepository(db),
			ImporterOpts{KeepArchives: true}),
		cfg, nil)
}

func TestCollectorCycleDrainsPendingImports(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	userID := seedUser(t, db, "spotify:alice")

	path := writeArchive(t, t.TempDir(), "data.zip", map[string]string{
		"endsong_0.json": extendedEntry,
	})
	job := enqueue(t, db, userID, path)

	collector := newCollector(db, &fakeClients{err: errors.New("no credential")}, shared.CollectorConfig{})
	collector.RunCycle(context.Background())

	got, err := repositories.NewImportRepository(db).Get(job.ID)
	if err != nil {
		t.Fatalf("failed to get import: %v", err)
	}
	if got.Status != models.ImportSuccess {
		t.Errorf("expected processed import, got %s", got.Status)
	}
}

func TestCollectorSkipsPausedUsers(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	userID := seedUser(t, db, "spotify:alice")

	checkpoints := repositories.NewCheckpointRepository(db)
	if err := checkpoints.SetStatus(userID, models.SyncPaused); err != nil {
		t.Fatalf("failed to pause user: %v", err)
	}

	clients := &fakeClients{err: errors.New("should not be asked")}
	collector := newCollector(db, clients, shared.CollectorConfig{InitialSyncEnabled: true})
	collector.RunCycle(context.Background())

	if len(clients.asked) != 0 {
		t.Errorf("paused user should be skipped entirely, asked %v", clients.asked)
	}
}

func TestCollectorRunsInitialSyncThenPollsNextCycle(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	userID := seedUser(t, db, "spotify:alice")

	client := mockedSpotifyClient(t)
	httpmock.RegisterResponder("GET", "https://api.spotify.test/v1/me/player/recently-played",
		httpmock.NewStringResponder(200, `{"items":[]}`))

	collector := newCollector(db, &fakeClients{client: client}, shared.CollectorConfig{InitialSyncEnabled: true})

	// First cycle: the user has no completed initial sync, so it backfills.
	collector.RunCycle(context.Background())

	jobs := repositories.NewJobRepository(db)
	entries, err := jobs.Latest(userID, 10)
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(entries) != 1 || entries[0].JobType != models.JobInitialSync {
		t.Fatalf("expected one initial_sync entry, got %+v", entries)
	}

	// Second cycle: initial sync is complete, so the user is polled.
	collector.RunCycle(context.Background())

	entries, err = jobs.Latest(userID, 10)
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(entries) != 2 || entries[0].JobType != models.JobPoll {
		t.Fatalf("expected a poll entry after backfill, got %+v", entries)
	}
}

func TestCollectorSurvivesClientFailure(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedUser(t, db, "spotify:alice")
	seedUser(t, db, "spotify:bob")

	clients := &fakeClients{err: errors.New("credential missing")}
	collector := newCollector(db, clients, shared.CollectorConfig{})

	// Both users fail to produce a client; the cycle must not panic or stop
	// at the first failure.
	collector.RunCycle(context.Background())

	if len(clients.asked) != 2 {
		t.Errorf("expected both users attempted, got %v", clients.asked)
	}
}
