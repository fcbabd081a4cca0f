package tools

import (
	"context"
	"testing"
	"time"

	"github.com/spinlog/spinlog/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeatmapBucketsAndPeaks(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	userID := seedUser(t, db, "spotify:alice")

	// 10 plays on a Monday at 14:00 UTC, 5 on a Friday at 09:00 UTC.
	monday := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	friday := time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC)
	var instants []time.Time
	for i := 0; i < 10; i++ {
		instants = append(instants, monday.Add(time.Duration(i)*time.Minute))
	}
	for i := 0; i < 5; i++ {
		instants = append(instants, friday.Add(time.Duration(i)*time.Minute))
	}
	seedPlays(t, db, userID, "Song", instants)

	reg := newHistoryRegistry(db)
	env := reg.Dispatch(context.Background(), "history.listening_heatmap",
		map[string]any{"user_id": userID, "days": float64(2000)})
	require.True(t, env.Success, "dispatch failed: %s", env.Error)

	hm, ok := env.Result.(Heatmap)
	require.True(t, ok, "unexpected result type %T", env.Result)
	assert.Equal(t, 15, hm.TotalPlays)
	assert.Equal(t, 0, hm.PeakWeekday, "Monday is weekday 0")
	assert.Equal(t, 14, hm.PeakHour)
	assert.Contains(t, hm.Cells, HeatmapCell{Weekday: 0, Hour: 14, Count: 10})
	assert.Contains(t, hm.Cells, HeatmapCell{Weekday: 4, Hour: 9, Count: 5})
	assert.Len(t, hm.Cells, 2, "empty buckets are omitted")
}

func TestTopArtistsRespectsWindow(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	userID := seedUser(t, db, "spotify:alice")

	seedPlays(t, db, userID, "Old Song", []time.Time{
		time.Now().UTC().AddDate(0, 0, -90),
	})
	seedPlays(t, db, userID, "New Song", []time.Time{
		time.Now().UTC().AddDate(0, 0, -1),
		time.Now().UTC().AddDate(0, 0, -2),
	})

	reg := newHistoryRegistry(db)
	env := reg.Dispatch(context.Background(), "history.top_artists",
		map[string]any{"user_id": userID, "days": 7})
	require.True(t, env.Success, "dispatch failed: %s", env.Error)

	stats := env.Result.([]repositories.ArtistStat)
	require.Len(t, stats, 1)
	assert.Equal(t, "Artist", stats[0].Name)
	assert.Equal(t, 2, stats[0].PlayCount, "the 90-day-old play is outside the window")
}

func TestCoverageCarriesRequestedDays(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	userID := seedUser(t, db, "spotify:alice")
	seedPlays(t, db, userID, "Song", []time.Time{time.Now().UTC().Add(-time.Hour)})

	reg := newHistoryRegistry(db)
	env := reg.Dispatch(context.Background(), "history.coverage",
		map[string]any{"user_id": userID, "days": 30})
	require.True(t, env.Success, "dispatch failed: %s", env.Error)

	cov := env.Result.(coverageResult)
	assert.Equal(t, 30, cov.RequestedDays)
	assert.Equal(t, 1, cov.TotalPlays)
	assert.Equal(t, 1, cov.ImportSourceCount)
	assert.Equal(t, 0, cov.APISourceCount)
}

func TestTasteSummaryComposesPrimitives(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	userID := seedUser(t, db, "spotify:alice")

	at := time.Now().UTC().AddDate(0, 0, -2).Truncate(time.Hour)
	seedPlays(t, db, userID, "Song", []time.Time{at, at.Add(time.Minute), at.Add(2 * time.Minute)})

	reg := newHistoryRegistry(db)
	env := reg.Dispatch(context.Background(), "history.taste_summary",
		map[string]any{"user_id": userID, "days": 30})
	require.True(t, env.Success, "dispatch failed: %s", env.Error)

	summary := env.Result.(TasteSummary)
	assert.Equal(t, 30, summary.Days)
	require.Len(t, summary.TopTracks, 1)
	assert.Equal(t, 3, summary.TopTracks[0].PlayCount)
	assert.Equal(t, 3, summary.Repeat.TotalPlays)
	assert.Equal(t, 1, summary.Repeat.UniqueTracks)
	assert.InDelta(t, 3.0, summary.Repeat.RepeatRate, 0.001)
	assert.Equal(t, int64(3*180000), summary.TotalMsPlayed)
	assert.InDelta(t, float64(3*180000)/3600000, summary.ListeningHours, 0.001)
	assert.Equal(t, at.Hour(), summary.PeakHour)
}

func TestHistoryRejectsBadWindow(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	userID := seedUser(t, db, "spotify:alice")
	reg := newHistoryRegistry(db)

	env := reg.Dispatch(context.Background(), "history.top_tracks",
		map[string]any{"user_id": userID, "days": 0})
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "InvalidArgument")

	env = reg.Dispatch(context.Background(), "history.top_tracks",
		map[string]any{"user_id": "ghost", "days": 7})
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "NotFound")
}
