package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/spinlog/spinlog/internal/models"
)

func apiRecord(playedAt time.Time) models.PlayRecord {
	return models.PlayRecord{
		PlayedAt:       playedAt,
		MsPlayed:       180000,
		TrackName:      "Windowlicker",
		AlbumName:      "Windowlicker",
		SpotifyTrackID: "spotify:track:abc",
		DurationMS:     360000,
		Artists:        []models.ArtistRef{{Name: "Aphex Twin", SpotifyID: "spotify:artist:xyz"}},
		Source:         models.SourceAPI,
	}
}

func importRecord(playedAt time.Time) models.PlayRecord {
	return models.PlayRecord{
		PlayedAt:  playedAt,
		MsPlayed:  120000,
		TrackName: "Avril 14th",
		AlbumName: "Drukqs",
		Artists:   []models.ArtistRef{{Name: "Aphex Twin"}},
		Source:    models.SourceImport,
	}
}

func TestMusicRepositoryUpserts(t *testing.T) {
	t.Run("ArtistByProviderID", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewMusicRepository(db)
		ref := models.ArtistRef{Name: "Aphex Twin", SpotifyID: "spotify:artist:xyz"}

		first, err := repo.UpsertArtist(ref, models.SourceAPI)
		if err != nil {
			t.Fatalf("failed to upsert artist: %v", err)
		}
		second, err := repo.UpsertArtist(ref, models.SourceAPI)
		if err != nil {
			t.Fatalf("failed to re-upsert artist: %v", err)
		}
		if first != second {
			t.Errorf("expected stable artist id, got %s then %s", first, second)
		}
	})

	t.Run("ArtistByLocalID", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewMusicRepository(db)
		first, err := repo.UpsertArtist(models.ArtistRef{Name: "Boards of Canada"}, models.SourceImport)
		if err != nil {
			t.Fatalf("failed to upsert artist: %v", err)
		}
		second, err := repo.UpsertArtist(models.ArtistRef{Name: "Boards of Canada"}, models.SourceImport)
		if err != nil {
			t.Fatalf("failed to re-upsert artist: %v", err)
		}
		if first != second {
			t.Errorf("expected name-keyed dedup, got %s then %s", first, second)
		}
	})

	t.Run("TrackLinksArtists", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewMusicRepository(db)
		rec := apiRecord(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
		rec.Artists = append(rec.Artists, models.ArtistRef{Name: "Featured Artist"})

		trackID, err := repo.UpsertTrack(rec)
		if err != nil {
			t.Fatalf("failed to upsert track: %v", err)
		}

		names, err := repo.TrackArtists(trackID)
		if err != nil {
			t.Fatalf("failed to list track artists: %v", err)
		}
		if len(names) != 2 {
			t.Fatalf("expected 2 linked artists, got %d", len(names))
		}

		// Upserting again must not duplicate links.
		if _, err := repo.UpsertTrack(rec); err != nil {
			t.Fatalf("failed to re-upsert track: %v", err)
		}
		names, err = repo.TrackArtists(trackID)
		if err != nil {
			t.Fatalf("failed to list track artists: %v", err)
		}
		if len(names) != 2 {
			t.Errorf("expected link upsert to be a no-op, got %d artists", len(names))
		}
	})

	t.Run("ImportThenAPIConverge", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewMusicRepository(db)
		imp := importRecord(time.Date(2023, 1, 1, 8, 0, 0, 0, time.UTC))

		importedID, err := repo.UpsertTrack(imp)
		if err != nil {
			t.Fatalf("failed to upsert imported track: %v", err)
		}

		// The same song later seen via the API carries a provider id, so it
		// resolves to a distinct catalog row rather than the local one.
		api := imp
		api.SpotifyTrackID = "spotify:track:avril"
		api.DurationMS = 122000
		apiID, err := repo.UpsertTrack(api)
		if err != nil {
			t.Fatalf("failed to upsert api track: %v", err)
		}
		if apiID == importedID {
			t.Error("provider-keyed and local-keyed rows should stay distinct")
		}
	})

	t.Run("DurationBackfill", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewMusicRepository(db)
		rec := apiRecord(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
		rec.DurationMS = 0

		trackID, err := repo.UpsertTrack(rec)
		if err != nil {
			t.Fatalf("failed to upsert track: %v", err)
		}

		rec.DurationMS = 360000
		if _, err := repo.UpsertTrack(rec); err != nil {
			t.Fatalf("failed to re-upsert track: %v", err)
		}

		track, err := repo.GetTrack(trackID)
		if err != nil {
			t.Fatalf("failed to get track: %v", err)
		}
		if track.DurationMS != 360000 {
			t.Errorf("expected duration backfill, got %d", track.DurationMS)
		}
	})
}

func TestInsertPlayDedup(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	userID := seedUser(t, db, "spotify:alice")
	repo := NewMusicRepository(db)

	rec := apiRecord(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	trackID, err := repo.UpsertTrack(rec)
	if err != nil {
		t.Fatalf("failed to upsert track: %v", err)
	}

	inserted, err := repo.InsertPlay(userID, trackID, rec)
	if err != nil {
		t.Fatalf("failed to insert play: %v", err)
	}
	if !inserted {
		t.Error("first insert should report inserted")
	}

	inserted, err = repo.InsertPlay(userID, trackID, rec)
	if err != nil {
		t.Fatalf("failed to re-insert play: %v", err)
	}
	if inserted {
		t.Error("duplicate (user, played_at, track) should be skipped")
	}
}

func TestProcessPlayBatch(t *testing.T) {
	t.Run("CountsAndBounds", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		userID := seedUser(t, db, "spotify:alice")
		repo := NewMusicRepository(db)

		early := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
		late := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
		records := []models.PlayRecord{
			apiRecord(late),
			apiRecord(early),
			importRecord(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		}

		result, err := repo.ProcessPlayBatch(context.Background(), userID, records)
		if err != nil {
			t.Fatalf("failed to process batch: %v", err)
		}
		if result.Inserted != 3 || result.Skipped != 0 {
			t.Errorf("expected 3 inserted / 0 skipped, got %d / %d", result.Inserted, result.Skipped)
		}
		if result.MinPlayedAt == nil || !result.MinPlayedAt.Equal(early) {
			t.Errorf("expected min %v, got %v", early, result.MinPlayedAt)
		}
		if result.MaxPlayedAt == nil || !result.MaxPlayedAt.Equal(late) {
			t.Errorf("expected max %v, got %v", late, result.MaxPlayedAt)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		userID := seedUser(t, db, "spotify:alice")
		repo := NewMusicRepository(db)

		records := []models.PlayRecord{
			apiRecord(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)),
			importRecord(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		}

		if _, err := repo.ProcessPlayBatch(context.Background(), userID, records); err != nil {
			t.Fatalf("failed to process batch: %v", err)
		}
		result, err := repo.ProcessPlayBatch(context.Background(), userID, records)
		if err != nil {
			t.Fatalf("failed to re-process batch: %v", err)
		}
		if result.Inserted != 0 || result.Skipped != 2 {
			t.Errorf("expected rerun to skip everything, got %d / %d", result.Inserted, result.Skipped)
		}
	})

	t.Run("InvalidRecordsSkipped", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		userID := seedUser(t, db, "spotify:alice")
		repo := NewMusicRepository(db)

		records := []models.PlayRecord{
			apiRecord(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)),
			{TrackName: "No Timestamp", Artists: []models.ArtistRef{{Name: "X"}}},
		}

		result, err := repo.ProcessPlayBatch(context.Background(), userID, records)
		if err != nil {
			t.Fatalf("failed to process batch: %v", err)
		}
		if result.Inserted != 1 || result.Skipped != 1 {
			t.Errorf("expected 1 inserted / 1 skipped, got %d / %d", result.Inserted, result.Skipped)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		result, err := NewMusicRepository(db).ProcessPlayBatch(context.Background(), "anyone", nil)
		if err != nil {
			t.Fatalf("empty batch should succeed: %v", err)
		}
		if result.Inserted != 0 || result.Skipped != 0 || result.MinPlayedAt != nil {
			t.Errorf("expected zero-value result, got %+v", result)
		}
	})
}
