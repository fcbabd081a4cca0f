package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/shared"
)

// MusicRepository owns the catalog (artists, tracks, track_artists) and the
// plays table. All ingest paths funnel through [MusicRepository.ProcessPlayBatch].
type MusicRepository struct {
	db *sql.DB
}

// NewMusicRepository creates a new MusicRepository with the given database connection
func NewMusicRepository(db *sql.DB) *MusicRepository {
	return &MusicRepository{db: db}
}

// BatchResult summarizes one ProcessPlayBatch transaction.
type BatchResult struct {
	Inserted    int
	Skipped     int
	MinPlayedAt *time.Time
	MaxPlayedAt *time.Time
}

// observe widens the min/max window to include t.
func (b *BatchResult) observe(t time.Time) {
	if b.MinPlayedAt == nil || t.Before(*b.MinPlayedAt) {
		tc := t
		b.MinPlayedAt = &tc
	}
	if b.MaxPlayedAt == nil || t.After(*b.MaxPlayedAt) {
		tc := t
		b.MaxPlayedAt = &tc
	}
}

// ProcessPlayBatch ingests a batch of normalized play records in a single
// transaction: artists and tracks are upserted, then each play is inserted
// with conflict-skip semantics. Records that fail validation are counted as
// skipped rather than aborting the batch.
func (r *MusicRepository) ProcessPlayBatch(ctx context.Context, userID string, records []models.PlayRecord) (BatchResult, error) {
	var result BatchResult
	if len(records) == 0 {
		return result, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			result.Skipped++
			continue
		}

		trackID, err := upsertTrack(tx, rec)
		if err != nil {
			return BatchResult{}, err
		}

		inserted, err := insertPlay(tx, userID, trackID, rec)
		if err != nil {
			return BatchResult{}, err
		}
		if inserted {
			result.Inserted++
		} else {
			result.Skipped++
		}
		result.observe(rec.PlayedAt.UTC())
	}

	if err := tx.Commit(); err != nil {
		return BatchResult{}, fmt.Errorf("failed to commit batch: %w", err)
	}
	return result, nil
}

// UpsertArtist resolves an artist reference to a catalog row id, inserting
// the row when it does not exist yet.
func (r *MusicRepository) UpsertArtist(ref models.ArtistRef, source models.SourceTag) (string, error) {
	return upsertArtist(r.db, ref, source)
}

// UpsertTrack resolves the track of a play record to a catalog row id,
// inserting the track and its artist links when missing.
func (r *MusicRepository) UpsertTrack(rec models.PlayRecord) (string, error) {
	return upsertTrack(r.db, rec)
}

// InsertPlay inserts one play, reporting false when the (user, played_at,
// track) tuple already exists.
func (r *MusicRepository) InsertPlay(userID, trackID string, rec models.PlayRecord) (bool, error) {
	return insertPlay(r.db, userID, trackID, rec)
}

// GetTrack retrieves a catalog track by internal id.
func (r *MusicRepository) GetTrack(id string) (*models.Track, error) {
	var (
		t         models.Track
		spotifyID sql.NullString
		localID   sql.NullString
	)
	err := r.db.QueryRow(`
		SELECT id, name, spotify_track_id, local_id, album, duration_ms, source, created_at, updated_at
		FROM tracks WHERE id = ?
	`, id).Scan(&t.ID, &t.Name, &spotifyID, &localID, &t.Album, &t.DurationMS, &t.Source, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: track %s", shared.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}
	t.SpotifyTrackID = spotifyID.String
	t.LocalID = localID.String
	return &t, nil
}

// TrackArtists returns the artist names linked to a track, ordered by name.
func (r *MusicRepository) TrackArtists(trackID string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT a.name FROM track_artists ta
		JOIN artists a ON a.id = ta.artist_id
		WHERE ta.track_id = ?
		ORDER BY a.name ASC
	`, trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to query track artists: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan artist name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return names, nil
}

func upsertArtist(q querier, ref models.ArtistRef, source models.SourceTag) (string, error) {
	if ref.Name == "" {
		return "", fmt.Errorf("artist missing name")
	}

	var (
		id      string
		column  string
		keyVal  string
		localID string
	)
	if ref.SpotifyID != "" {
		column, keyVal = "spotify_artist_id", ref.SpotifyID
	} else {
		localID = models.LocalArtistID(ref.Name)
		column, keyVal = "local_id", localID
	}

	err := q.QueryRow(`SELECT id FROM artists WHERE `+column+` = ?`, keyVal).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to look up artist: %w", err)
	}

	id = shared.GenerateID()
	now := time.Now().UTC()
	_, err = q.Exec(`
		INSERT INTO artists (id, name, spotify_artist_id, local_id, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, ref.Name, nullString(ref.SpotifyID), nullString(localID), string(source), now, now)
	if err != nil {
		// A concurrent writer may have inserted the same key between the
		// lookup and the insert; re-resolve before giving up.
		if isUniqueViolation(err) {
			if lerr := q.QueryRow(`SELECT id FROM artists WHERE `+column+` = ?`, keyVal).Scan(&id); lerr == nil {
				return id, nil
			}
		}
		return "", fmt.Errorf("failed to insert artist: %w", err)
	}
	return id, nil
}

func upsertTrack(q querier, rec models.PlayRecord) (string, error) {
	var (
		id      string
		column  string
		keyVal  string
		localID string
	)
	if rec.SpotifyTrackID != "" {
		column, keyVal = "spotify_track_id", rec.SpotifyTrackID
	} else {
		localID = models.LocalTrackID(rec.PrimaryArtist(), rec.TrackName, rec.AlbumName)
		column, keyVal = "local_id", localID
	}

	err := q.QueryRow(`SELECT id FROM tracks WHERE `+column+` = ?`, keyVal).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		id = shared.GenerateID()
		now := time.Now().UTC()
		_, err = q.Exec(`
			INSERT INTO tracks (id, name, spotify_track_id, local_id, album, duration_ms, source, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, rec.TrackName, nullString(rec.SpotifyTrackID), nullString(localID), rec.AlbumName, rec.DurationMS, string(rec.Source), now, now)
		if err != nil {
			if isUniqueViolation(err) {
				if lerr := q.QueryRow(`SELECT id FROM tracks WHERE `+column+` = ?`, keyVal).Scan(&id); lerr == nil {
					break
				}
			}
			return "", fmt.Errorf("failed to insert track: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("failed to look up track: %w", err)
	default:
		// Imported rows carry no duration; backfill it when an API record
		// later supplies one.
		if rec.DurationMS > 0 {
			if _, uerr := q.Exec(`
				UPDATE tracks SET duration_ms = ?, updated_at = ?
				WHERE id = ? AND duration_ms = 0
			`, rec.DurationMS, time.Now().UTC(), id); uerr != nil {
				return "", fmt.Errorf("failed to backfill duration: %w", uerr)
			}
		}
	}

	for _, ref := range rec.Artists {
		if ref.Name == "" {
			continue
		}
		artistID, err := upsertArtist(q, ref, rec.Source)
		if err != nil {
			return "", err
		}
		if _, err := q.Exec(`
			INSERT OR IGNORE INTO track_artists (track_id, artist_id) VALUES (?, ?)
		`, id, artistID); err != nil {
			return "", fmt.Errorf("failed to link artist: %w", err)
		}
	}

	return id, nil
}

func insertPlay(q querier, userID, trackID string, rec models.PlayRecord) (bool, error) {
	result, err := q.Exec(`
		INSERT INTO plays (id, user_id, track_id, played_at, ms_played, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, played_at, track_id) DO NOTHING
	`, shared.GenerateID(), userID, trackID, rec.PlayedAt.UTC(), rec.MsPlayed, string(rec.Source), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert play: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
