// Spotify Web API client for the collector.
//
// Response shapes based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/shared"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	// RecentlyPlayedMax is the provider's hard page-size cap.
	RecentlyPlayedMax = 50

	refreshSlack     = 30 * time.Second
	backoffBase      = time.Second
	backoffCap       = 60 * time.Second
	transientRetries = 3

	defaultConcurrency     = 4
	defaultRateLimitBudget = 5
)

// RefreshFunc mints a fresh access token from the user's refresh credential.
// The client invokes it before requests when the cached token is near expiry
// and once more after a 401.
type RefreshFunc func(ctx context.Context) (token string, expiresAt time.Time, err error)

// ClientOpts configures a SpotifyClient for one user session.
type ClientOpts struct {
	AccessToken string
	ExpiresAt   time.Time
	Refresh     RefreshFunc

	// Concurrency caps in-flight requests; RateLimitBudget is the number of
	// consecutive 429s tolerated before the client gives up with RateLimited.
	Concurrency     int
	RateLimitBudget int

	// BaseURL overrides the API root, used by tests.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *log.Logger
}

// SpotifyClient talks to the Spotify Web API on behalf of one user.
//
// Protocol behavior: tokens are refreshed ahead of expiry and once after a
// 401 (a second 401 is AuthExpired); 429s honor Retry-After or fall back to
// jittered exponential backoff until the consecutive budget runs out; 5xx
// responses are retried a bounded number of times; provider error bodies are
// parsed so their message survives into the surfaced error.
type SpotifyClient struct {
	baseURL string
	http    *http.Client
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	budget  int
	logger  *log.Logger

	// tokenMu serializes refresh so concurrent callers do not double-refresh.
	tokenMu     sync.Mutex
	accessToken string
	expiresAt   time.Time
	refresh     RefreshFunc

	mu             sync.Mutex
	consecutive429 int
}

// NewSpotifyClient creates a client for one user session. Cheap to construct
// per operation; safe for concurrent use.
func NewSpotifyClient(opts ClientOpts) *SpotifyClient {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.RateLimitBudget <= 0 {
		opts.RateLimitBudget = defaultRateLimitBudget
	}
	if opts.BaseURL == "" {
		opts.BaseURL = spotifyBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &SpotifyClient{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		http:        opts.HTTPClient,
		sem:         semaphore.NewWeighted(int64(opts.Concurrency)),
		limiter:     rate.NewLimiter(rate.Limit(10), opts.Concurrency),
		budget:      opts.RateLimitBudget,
		logger:      opts.Logger,
		accessToken: opts.AccessToken,
		expiresAt:   opts.ExpiresAt,
		refresh:     opts.Refresh,
	}
}

// RecentlyPlayed fetches up to limit plays strictly before the cursor and
// maps them to normalized play records, newest first.
func (c *SpotifyClient) RecentlyPlayed(ctx context.Context, before *time.Time, limit int) ([]models.PlayRecord, error) {
	if limit <= 0 || limit > RecentlyPlayedMax {
		limit = RecentlyPlayedMax
	}

	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if before != nil {
		query.Set("before", strconv.FormatInt(before.UnixMilli(), 10))
	}

	var resp recentlyPlayedResponse
	if err := c.do(ctx, http.MethodGet, "/me/player/recently-played", query, &resp); err != nil {
		return nil, err
	}

	records := make([]models.PlayRecord, 0, len(resp.Items))
	for _, item := range resp.Items {
		playedAt, err := time.Parse(time.RFC3339Nano, item.PlayedAt)
		if err != nil {
			c.logger.Warn("skipping item with unparseable played_at", "value", item.PlayedAt)
			continue
		}

		artists := make([]models.ArtistRef, 0, len(item.Track.Artists))
		for _, a := range item.Track.Artists {
			artists = append(artists, models.ArtistRef{Name: a.Name, SpotifyID: a.ID})
		}

		records = append(records, models.PlayRecord{
			PlayedAt:       playedAt.UTC(),
			MsPlayed:       int64(item.Track.DurationMS),
			TrackName:      item.Track.Name,
			AlbumName:      item.Track.Album.Name,
			SpotifyTrackID: item.Track.ID,
			DurationMS:     item.Track.DurationMS,
			Artists:        artists,
			Source:         models.SourceAPI,
		})
	}
	return records, nil
}

// Profile retrieves the authenticated user's profile.
func (c *SpotifyClient) Profile(ctx context.Context) (*UserProfile, error) {
	var profile UserProfile
	if err := c.do(ctx, http.MethodGet, "/me", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

var validTimeRanges = map[string]bool{"short_term": true, "medium_term": true, "long_term": true}

// Top proxies the provider's top-artists/top-tracks endpoint.
func (c *SpotifyClient) Top(ctx context.Context, entity, timeRange string, limit int) (json.RawMessage, error) {
	if entity != "artists" && entity != "tracks" {
		return nil, fmt.Errorf("%w: entity must be artists or tracks, got %q", shared.ErrInvalidArgument, entity)
	}
	if timeRange == "" {
		timeRange = "medium_term"
	}
	if !validTimeRanges[timeRange] {
		return nil, fmt.Errorf("%w: invalid time_range %q", shared.ErrInvalidArgument, timeRange)
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	query := url.Values{"time_range": {timeRange}, "limit": {strconv.Itoa(limit)}}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/me/top/"+entity, query, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

var validSearchTypes = map[string]bool{"track": true, "artist": true, "album": true}

// Search proxies the provider's catalog search.
func (c *SpotifyClient) Search(ctx context.Context, q, entityType string, limit int) (json.RawMessage, error) {
	if q == "" {
		return nil, fmt.Errorf("%w: empty search query", shared.ErrInvalidArgument)
	}
	if !validSearchTypes[entityType] {
		return nil, fmt.Errorf("%w: invalid search type %q", shared.ErrInvalidArgument, entityType)
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	query := url.Values{"q": {q}, "type": {entityType}, "limit": {strconv.Itoa(limit)}}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/search", query, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ensureToken returns a usable access token, refreshing when forced or when
// the cached one is within the slack window of expiry.
func (c *SpotifyClient) ensureToken(ctx context.Context, force bool) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	stale := c.accessToken == "" || (!c.expiresAt.IsZero() && time.Now().Add(refreshSlack).After(c.expiresAt))
	if !force && !stale {
		return c.accessToken, nil
	}
	if c.refresh == nil {
		if c.accessToken == "" {
			return "", fmt.Errorf("%w: no access token and no refresh callback", shared.ErrAuthExpired)
		}
		return c.accessToken, nil
	}

	token, expiresAt, err := c.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	c.accessToken = token
	c.expiresAt = expiresAt
	return token, nil
}

// do performs one API call with the full protocol behavior.
func (c *SpotifyClient) do(ctx context.Context, method, path string, query url.Values, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	refreshed := false
	transient := 0
	rateAttempt := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		token, err := c.ensureToken(ctx, false)
		if err != nil {
			return err
		}

		apiURL := c.baseURL + path
		if len(query) > 0 {
			apiURL += "?" + query.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, method, apiURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			transient++
			if transient >= transientRetries {
				return fmt.Errorf("%w: %v", shared.ErrTransientUpstream, err)
			}
			if werr := c.wait(ctx, backoff(transient)); werr != nil {
				return werr
			}
			continue
		}

		body, rerr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			c.reset429()
			if rerr != nil {
				return fmt.Errorf("failed to read response: %w", rerr)
			}
			if out != nil {
				if err := json.Unmarshal(body, out); err != nil {
					return fmt.Errorf("failed to decode response: %w", err)
				}
			}
			return nil

		case resp.StatusCode == http.StatusUnauthorized:
			if refreshed {
				return fmt.Errorf("%w: %s", shared.ErrAuthExpired, apiMessage(body, resp.StatusCode))
			}
			refreshed = true
			if _, err := c.ensureToken(ctx, true); err != nil {
				return fmt.Errorf("%w: %v", shared.ErrAuthExpired, err)
			}

		case resp.StatusCode == http.StatusTooManyRequests:
			n := c.bump429()
			if n >= c.budget {
				return fmt.Errorf("%w: %d consecutive 429 responses", shared.ErrRateLimited, n)
			}
			delay := retryAfter(resp)
			if delay <= 0 {
				delay = backoff(rateAttempt)
				rateAttempt++
			}
			c.logger.Debug("rate limited, backing off", "delay", delay, "consecutive", n)
			if err := c.wait(ctx, delay); err != nil {
				return err
			}

		case resp.StatusCode >= 500:
			transient++
			if transient >= transientRetries {
				return fmt.Errorf("%w: status %d: %s", shared.ErrTransientUpstream, resp.StatusCode, apiMessage(body, resp.StatusCode))
			}
			if err := c.wait(ctx, backoff(transient)); err != nil {
				return err
			}

		case resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %s", shared.ErrMissingScope, apiMessage(body, resp.StatusCode))

		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", shared.ErrNotFound, apiMessage(body, resp.StatusCode))

		default:
			return fmt.Errorf("%w: status %d: %s", shared.ErrInvalidArgument, resp.StatusCode, apiMessage(body, resp.StatusCode))
		}
	}
}

func (c *SpotifyClient) bump429() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutive429++
	return c.consecutive429
}

func (c *SpotifyClient) reset429() {
	c.mu.Lock()
	c.consecutive429 = 0
	c.mu.Unlock()
}

func (c *SpotifyClient) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff returns an exponential delay with jitter, capped at backoffCap.
func backoff(attempt int) time.Duration {
	d := backoffBase << attempt
	if d > backoffCap {
		d = backoffCap
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

// retryAfter parses the Retry-After header, 0 when absent or malformed.
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// apiMessage extracts error.message from a provider error body, falling back
// to the HTTP status text.
func apiMessage(body []byte, status int) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 200 {
		return text
	}
	return http.StatusText(status)
}

type recentlyPlayedResponse struct {
	Items []struct {
		Track    trackObject `json:"track"`
		PlayedAt string      `json:"played_at"`
	} `json:"items"`
}

type trackObject struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DurationMS int    `json:"duration_ms"`
	Album      struct {
		Name string `json:"name"`
	} `json:"album"`
	Artists []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"artists"`
}
