package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spinlog/spinlog/internal/repositories"
	"github.com/spinlog/spinlog/internal/shared"
)

// HistoryTools exposes the aggregate query primitives over stored playback
// history. All windows are "last N days" measured from now in UTC.
type HistoryTools struct {
	users     *repositories.UserRepository
	analytics *repositories.AnalyticsRepository
}

// NewHistoryTools creates the history tool set.
func NewHistoryTools(users *repositories.UserRepository, analytics *repositories.AnalyticsRepository) *HistoryTools {
	return &HistoryTools{users: users, analytics: analytics}
}

// HeatmapCell is one non-empty bucket of the listening heatmap. Weekday is
// ISO style, 0=Monday through 6=Sunday.
type HeatmapCell struct {
	Weekday int `json:"weekday"`
	Hour    int `json:"hour"`
	Count   int `json:"count"`
}

// Heatmap is the full bucketed view of play times in a window.
type Heatmap struct {
	Cells       []HeatmapCell `json:"cells"`
	TotalPlays  int           `json:"total_plays"`
	PeakWeekday int           `json:"peak_weekday"`
	PeakHour    int           `json:"peak_hour"`
}

// TasteSummary composes the individual primitives into one response.
type TasteSummary struct {
	Days           int                       `json:"days"`
	TopArtists     []repositories.ArtistStat `json:"top_artists"`
	TopTracks      []repositories.TrackStat  `json:"top_tracks"`
	Repeat         repositories.RepeatStats  `json:"repeat"`
	Coverage       coverageResult            `json:"coverage"`
	TotalMsPlayed  int64                     `json:"total_ms_played"`
	ListeningHours float64                   `json:"listening_hours"`
	PeakWeekday    int                       `json:"peak_weekday"`
	PeakHour       int                       `json:"peak_hour"`
}

type coverageResult struct {
	repositories.CoverageStats
	RequestedDays int `json:"requested_days"`
}

var dayParams = []Param{
	{Name: "user_id", Type: "string", Required: true, Description: "internal user id"},
	{Name: "days", Type: "int", Required: true, Description: "window size in days"},
}

var rankedParams = append(dayParams[:2:2],
	Param{Name: "limit", Type: "int", Default: 10, Description: "number of rows"})

// Register adds the history tools to the registry.
func (h *HistoryTools) Register(reg *Registry) {
	reg.Register(Tool{
		Name:        "history.taste_summary",
		Description: "Composed listening summary: top artists and tracks, repeat rate, coverage, totals, peak times.",
		Category:    "history",
		Parameters:  dayParams,
		Handler:     h.tasteSummary,
	})
	reg.Register(Tool{
		Name:        "history.top_artists",
		Description: "Artists ranked by play count in the window.",
		Category:    "history",
		Parameters:  rankedParams,
		Handler:     h.topArtists,
	})
	reg.Register(Tool{
		Name:        "history.top_tracks",
		Description: "Tracks ranked by play count in the window.",
		Category:    "history",
		Parameters:  rankedParams,
		Handler:     h.topTracks,
	})
	reg.Register(Tool{
		Name:        "history.listening_heatmap",
		Description: "Plays bucketed by weekday (0=Monday) and hour of day, UTC.",
		Category:    "history",
		Parameters:  dayParams,
		Handler:     h.listeningHeatmap,
	})
	reg.Register(Tool{
		Name:        "history.repeat_rate",
		Description: "Replay statistics and the most-repeated tracks in the window.",
		Category:    "history",
		Parameters:  rankedParams,
		Handler:     h.repeatRate,
	})
	reg.Register(Tool{
		Name:        "history.coverage",
		Description: "How much history exists in the window and where it came from.",
		Category:    "history",
		Parameters:  dayParams,
		Handler:     h.coverage,
	})
}

// window validates the shared (user_id, days) pair and returns the cutoff.
func (h *HistoryTools) window(args Args) (string, int, time.Time, error) {
	days := args.Int("days")
	if days <= 0 {
		return "", 0, time.Time{}, fmt.Errorf("%w: days must be positive", shared.ErrInvalidArgument)
	}
	userID := args.String("user_id")
	if _, err := h.users.Get(userID); err != nil {
		return "", 0, time.Time{}, err
	}
	return userID, days, time.Now().UTC().AddDate(0, 0, -days), nil
}

func (h *HistoryTools) topArtists(ctx context.Context, args Args) (any, error) {
	userID, _, cutoff, err := h.window(args)
	if err != nil {
		return nil, err
	}
	stats, err := h.analytics.TopArtists(userID, cutoff, args.Int("limit"))
	if err != nil {
		return nil, err
	}
	return lo.Ternary(stats != nil, stats, []repositories.ArtistStat{}), nil
}

func (h *HistoryTools) topTracks(ctx context.Context, args Args) (any, error) {
	userID, _, cutoff, err := h.window(args)
	if err != nil {
		return nil, err
	}
	stats, err := h.analytics.TopTracks(userID, cutoff, args.Int("limit"))
	if err != nil {
		return nil, err
	}
	return lo.Ternary(stats != nil, stats, []repositories.TrackStat{}), nil
}

func (h *HistoryTools) listeningHeatmap(ctx context.Context, args Args) (any, error) {
	userID, _, cutoff, err := h.window(args)
	if err != nil {
		return nil, err
	}
	times, err := h.analytics.PlayTimes(userID, cutoff)
	if err != nil {
		return nil, err
	}
	return buildHeatmap(times), nil
}

// buildHeatmap buckets instants into (weekday, hour) cells. Bucketing lives
// in application code instead of SQL so the query stays dialect-portable.
func buildHeatmap(times []time.Time) Heatmap {
	var grid [7][24]int
	for _, t := range times {
		t = t.UTC()
		weekday := (int(t.Weekday()) + 6) % 7
		grid[weekday][t.Hour()]++
	}

	hm := Heatmap{Cells: []HeatmapCell{}}
	peak := 0
	for weekday := 0; weekday < 7; weekday++ {
		for hour := 0; hour < 24; hour++ {
			count := grid[weekday][hour]
			if count == 0 {
				continue
			}
			hm.Cells = append(hm.Cells, HeatmapCell{Weekday: weekday, Hour: hour, Count: count})
			hm.TotalPlays += count
			if count > peak {
				peak = count
				hm.PeakWeekday = weekday
				hm.PeakHour = hour
			}
		}
	}
	return hm
}

func (h *HistoryTools) repeatRate(ctx context.Context, args Args) (any, error) {
	userID, _, cutoff, err := h.window(args)
	if err != nil {
		return nil, err
	}
	stats, err := h.analytics.Repeat(userID, cutoff, args.Int("limit"))
	if err != nil {
		return nil, err
	}
	if stats.TopRepeated == nil {
		stats.TopRepeated = []repositories.TrackStat{}
	}
	return stats, nil
}

func (h *HistoryTools) coverage(ctx context.Context, args Args) (any, error) {
	userID, days, cutoff, err := h.window(args)
	if err != nil {
		return nil, err
	}
	stats, err := h.analytics.Coverage(userID, cutoff)
	if err != nil {
		return nil, err
	}
	return coverageResult{CoverageStats: stats, RequestedDays: days}, nil
}

func (h *HistoryTools) tasteSummary(ctx context.Context, args Args) (any, error) {
	userID, days, cutoff, err := h.window(args)
	if err != nil {
		return nil, err
	}

	summary := TasteSummary{Days: days}
	if summary.TopArtists, err = h.analytics.TopArtists(userID, cutoff, 5); err != nil {
		return nil, err
	}
	if summary.TopTracks, err = h.analytics.TopTracks(userID, cutoff, 5); err != nil {
		return nil, err
	}
	if summary.Repeat, err = h.analytics.Repeat(userID, cutoff, 5); err != nil {
		return nil, err
	}
	cov, err := h.analytics.Coverage(userID, cutoff)
	if err != nil {
		return nil, err
	}
	summary.Coverage = coverageResult{CoverageStats: cov, RequestedDays: days}
	if summary.TotalMsPlayed, err = h.analytics.TotalMsPlayed(userID, cutoff); err != nil {
		return nil, err
	}
	summary.ListeningHours = float64(summary.TotalMsPlayed) / float64(time.Hour.Milliseconds())

	times, err := h.analytics.PlayTimes(userID, cutoff)
	if err != nil {
		return nil, err
	}
	hm := buildHeatmap(times)
	summary.PeakWeekday = hm.PeakWeekday
	summary.PeakHour = hm.PeakHour
	return summary, nil
}
