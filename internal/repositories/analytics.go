package repositories

import (
	"database/sql"
	"fmt"
	"time"
)

// AnalyticsRepository serves read-only aggregates over the plays table for
// the history query tools. Rankings order by play count with a most-recent
// tie-break so results are deterministic.
type AnalyticsRepository struct {
	db *sql.DB
}

// NewAnalyticsRepository creates a new AnalyticsRepository with the given database connection
func NewAnalyticsRepository(db *sql.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// ArtistStat is one row of a top-artists ranking.
type ArtistStat struct {
	ArtistID        string     `json:"artist_id"`
	Name            string     `json:"name"`
	SpotifyArtistID string     `json:"spotify_artist_id,omitempty"`
	PlayCount       int        `json:"play_count"`
	LastPlayedAt    *time.Time `json:"last_played_at,omitempty"`
}

// TrackStat is one row of a top-tracks or top-repeated ranking.
type TrackStat struct {
	TrackID        string     `json:"track_id"`
	Name           string     `json:"name"`
	Artists        string     `json:"artists"`
	Album          string     `json:"album,omitempty"`
	SpotifyTrackID string     `json:"spotify_track_id,omitempty"`
	PlayCount      int        `json:"play_count"`
	LastPlayedAt   *time.Time `json:"last_played_at,omitempty"`
}

// RepeatStats describes how often a user replays the same tracks.
type RepeatStats struct {
	TotalPlays   int         `json:"total_plays"`
	UniqueTracks int         `json:"unique_tracks"`
	RepeatRate   float64     `json:"repeat_rate"`
	TopRepeated  []TrackStat `json:"top_repeated"`
}

// CoverageStats describes how much history exists in a window and where it
// came from.
type CoverageStats struct {
	TotalPlays        int        `json:"total_plays"`
	EarliestPlayedAt  *time.Time `json:"earliest_played_at,omitempty"`
	LatestPlayedAt    *time.Time `json:"latest_played_at,omitempty"`
	APISourceCount    int        `json:"api_source_count"`
	ImportSourceCount int        `json:"import_source_count"`
	ActiveDays        int        `json:"active_days"`
}

// TopArtists ranks artists by play count since the cutoff.
func (r *AnalyticsRepository) TopArtists(userID string, since time.Time, limit int) ([]ArtistStat, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(`
		SELECT a.id, a.name, COALESCE(a.spotify_artist_id, ''), COUNT(*) AS plays, MAX(p.played_at) AS last_play
		FROM plays p
		JOIN track_artists ta ON ta.track_id = p.track_id
		JOIN artists a ON a.id = ta.artist_id
		WHERE p.user_id = ? AND p.played_at >= ?
		GROUP BY a.id
		ORDER BY plays DESC, last_play DESC
		LIMIT ?
	`, userID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top artists: %w", err)
	}
	defer rows.Close()

	var stats []ArtistStat
	for rows.Next() {
		var (
			s    ArtistStat
			last sql.NullString
		)
		if err := rows.Scan(&s.ArtistID, &s.Name, &s.SpotifyArtistID, &s.PlayCount, &last); err != nil {
			return nil, fmt.Errorf("failed to scan artist stat: %w", err)
		}
		if s.LastPlayedAt, err = aggTimePtr(last); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return stats, nil
}

// TopTracks ranks tracks by play count since the cutoff.
func (r *AnalyticsRepository) TopTracks(userID string, since time.Time, limit int) ([]TrackStat, error) {
	return r.rankTracks(userID, since, limit)
}

// rankTracks backs both TopTracks and the top-repeated list of RepeatStats.
func (r *AnalyticsRepository) rankTracks(userID string, since time.Time, limit int) ([]TrackStat, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(`
		SELECT t.id, t.name,
			COALESCE((
				SELECT GROUP_CONCAT(a.name, ', ') FROM track_artists ta
				JOIN artists a ON a.id = ta.artist_id
				WHERE ta.track_id = t.id
			), '') AS artists,
			t.album, COALESCE(t.spotify_track_id, ''),
			COUNT(*) AS plays, MAX(p.played_at) AS last_play
		FROM plays p
		JOIN tracks t ON t.id = p.track_id
		WHERE p.user_id = ? AND p.played_at >= ?
		GROUP BY t.id
		ORDER BY plays DESC, last_play DESC
		LIMIT ?
	`, userID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top tracks: %w", err)
	}
	defer rows.Close()

	var stats []TrackStat
	for rows.Next() {
		var (
			s    TrackStat
			last sql.NullString
		)
		if err := rows.Scan(&s.TrackID, &s.Name, &s.Artists, &s.Album, &s.SpotifyTrackID, &s.PlayCount, &last); err != nil {
			return nil, fmt.Errorf("failed to scan track stat: %w", err)
		}
		if s.LastPlayedAt, err = aggTimePtr(last); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return stats, nil
}

// PlayTimes returns the raw played_at instants since the cutoff. Heatmap
// bucketing happens in application code to stay dialect-portable.
func (r *AnalyticsRepository) PlayTimes(userID string, since time.Time) ([]time.Time, error) {
	rows, err := r.db.Query(`
		SELECT played_at FROM plays WHERE user_id = ? AND played_at >= ?
	`, userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query play times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan play time: %w", err)
		}
		times = append(times, t.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return times, nil
}

// Repeat computes replay statistics with the topN most-repeated tracks.
func (r *AnalyticsRepository) Repeat(userID string, since time.Time, topN int) (RepeatStats, error) {
	var stats RepeatStats
	err := r.db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT track_id)
		FROM plays WHERE user_id = ? AND played_at >= ?
	`, userID, since.UTC()).Scan(&stats.TotalPlays, &stats.UniqueTracks)
	if err != nil {
		return stats, fmt.Errorf("failed to query repeat stats: %w", err)
	}
	if stats.UniqueTracks > 0 {
		stats.RepeatRate = float64(stats.TotalPlays) / float64(stats.UniqueTracks)
	}

	top, err := r.rankTracks(userID, since, topN)
	if err != nil {
		return stats, err
	}
	stats.TopRepeated = top
	return stats, nil
}

// Coverage summarizes the window: totals, bounds, source split, active days.
func (r *AnalyticsRepository) Coverage(userID string, since time.Time) (CoverageStats, error) {
	var (
		stats            CoverageStats
		earliest, latest sql.NullString
	)
	err := r.db.QueryRow(`
		SELECT COUNT(*),
			MIN(played_at), MAX(played_at),
			COALESCE(SUM(CASE WHEN source = 'api' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN source = 'import' THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT date(played_at))
		FROM plays WHERE user_id = ? AND played_at >= ?
	`, userID, since.UTC()).Scan(&stats.TotalPlays, &earliest, &latest,
		&stats.APISourceCount, &stats.ImportSourceCount, &stats.ActiveDays)
	if err != nil {
		return stats, fmt.Errorf("failed to query coverage: %w", err)
	}
	if stats.EarliestPlayedAt, err = aggTimePtr(earliest); err != nil {
		return stats, err
	}
	if stats.LatestPlayedAt, err = aggTimePtr(latest); err != nil {
		return stats, err
	}
	return stats, nil
}

// TotalMsPlayed sums listening time in the window.
func (r *AnalyticsRepository) TotalMsPlayed(userID string, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRow(`
		SELECT SUM(ms_played) FROM plays WHERE user_id = ? AND played_at >= ?
	`, userID, since.UTC()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to query total ms played: %w", err)
	}
	return total.Int64, nil
}

// RecentPlays returns the newest plays in the window with track context.
func (r *AnalyticsRepository) RecentPlays(userID string, since time.Time, limit int) ([]TrackStat, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`
		SELECT t.id, t.name,
			COALESCE((
				SELECT GROUP_CONCAT(a.name, ', ') FROM track_artists ta
				JOIN artists a ON a.id = ta.artist_id
				WHERE ta.track_id = t.id
			), '') AS artists,
			t.album, COALESCE(t.spotify_track_id, ''), p.played_at
		FROM plays p
		JOIN tracks t ON t.id = p.track_id
		WHERE p.user_id = ? AND p.played_at >= ?
		ORDER BY p.played_at DESC
		LIMIT ?
	`, userID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent plays: %w", err)
	}
	defer rows.Close()

	var plays []TrackStat
	for rows.Next() {
		var (
			s        TrackStat
			playedAt time.Time
		)
		if err := rows.Scan(&s.TrackID, &s.Name, &s.Artists, &s.Album, &s.SpotifyTrackID, &playedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recent play: %w", err)
		}
		utc := playedAt.UTC()
		s.LastPlayedAt = &utc
		s.PlayCount = 1
		plays = append(plays, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return plays, nil
}
