package tools

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/repositories"
	"github.com/spinlog/spinlog/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *sql.DB, spotifyID string) string {
	t.Helper()

	user := &models.User{SpotifyUserID: spotifyID}
	if err := repositories.NewUserRepository(db).Upsert(user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	if _, err := repositories.NewCheckpointRepository(db).GetOrCreate(user.ID); err != nil {
		t.Fatalf("failed to seed checkpoint: %v", err)
	}
	return user.ID
}

// seedPlays inserts one play per instant, all for the same artist and track
// name so repeat statistics are easy to predict.
func seedPlays(t *testing.T, db *sql.DB, userID, track string, instants []time.Time) {
	t.Helper()

	records := make([]models.PlayRecord, 0, len(instants))
	for _, at := range instants {
		records = append(records, models.PlayRecord{
			PlayedAt:  at,
			MsPlayed:  180000,
			TrackName: track,
			AlbumName: "Album",
			Artists:   []models.ArtistRef{{Name: "Artist"}},
			Source:    models.SourceImport,
		})
	}
	result, err := repositories.NewMusicRepository(db).ProcessPlayBatch(context.Background(), userID, records)
	if err != nil {
		t.Fatalf("failed to seed plays: %v", err)
	}
	if result.Inserted != len(instants) {
		t.Fatalf("expected %d seeded plays, inserted %d", len(instants), result.Inserted)
	}
}

func newHistoryRegistry(db *sql.DB) *Registry {
	reg := NewRegistry()
	NewHistoryTools(
		repositories.NewUserRepository(db),
		repositories.NewAnalyticsRepository(db),
	).Register(reg)
	return reg
}
