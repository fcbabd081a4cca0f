package tasks

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

// fakeSource scripts recently-played responses for pager and poller tests.
type fakeSource struct {
	respond func(call int, before *time.Time) ([]models.PlayRecord, error)
	calls   int
	cursors []*time.Time
}

func (f *fakeSource) RecentlyPlayed(ctx context.Context, before *time.Time, limit int) ([]models.PlayRecord, error) {
	f.calls++
	f.cursors = append(f.cursors, before)
	return f.respond(f.calls, before)
}

func apiPlay(playedAt time.Time, track string) models.PlayRecord {
	return models.PlayRecord{
		PlayedAt:       playedAt,
		MsPlayed:       180000,
		TrackName:      track,
		AlbumName:      "Album",
		SpotifyTrackID: "track:" + track,
		DurationMS:     180000,
		Artists:        []models.ArtistRef{{Name: "Artist", SpotifyID: "artist:1"}},
		Source:         models.SourceAPI,
	}
}
