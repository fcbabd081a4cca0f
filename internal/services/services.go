// package services implements the outbound Spotify integration: the
// rate-limited API client and the OAuth authenticator that mints it.
package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/spinlog/spinlog/internal/models"
)

// PlaySource is the slice of the Spotify client the ingestion tasks consume.
// The initial-sync pager and the poller only ever read playback history.
type PlaySource interface {
	// RecentlyPlayed fetches up to limit plays strictly before the cursor.
	// A nil cursor means "most recent". Items arrive newest first.
	RecentlyPlayed(ctx context.Context, before *time.Time, limit int) ([]models.PlayRecord, error)
}

// Lookup is the slice of the Spotify client the passthrough tools consume.
type Lookup interface {
	Profile(ctx context.Context) (*UserProfile, error)
	Top(ctx context.Context, entity, timeRange string, limit int) (json.RawMessage, error)
	Search(ctx context.Context, query, entityType string, limit int) (json.RawMessage, error)
}

// UserProfile is the subset of the provider profile the collector keeps.
type UserProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Product     string `json:"product"`
}

// HasScope reports whether the space-separated granted string covers the
// required scope.
func HasScope(granted, required string) bool {
	for _, s := range strings.Fields(granted) {
		if s == required {
			return true
		}
	}
	return false
}
