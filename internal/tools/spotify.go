package tools

import (
	"context"
	"fmt"

	"github.com/spinlog/spinlog/internal/services"
	"github.com/spinlog/spinlog/internal/shared"
)

// ClientSource mints an authenticated provider client for a stored user and
// reports the scope string granted at authorization time. Implemented by
// services.Authenticator.
type ClientSource interface {
	ClientFor(userID string) (*services.SpotifyClient, error)
	Scope(userID string) (string, error)
}

// SpotifyTools exposes live provider lookups as passthrough tools. Results
// are forwarded as raw provider JSON, not re-modeled.
type SpotifyTools struct {
	clients ClientSource
}

// NewSpotifyTools creates the provider passthrough tool set.
func NewSpotifyTools(clients ClientSource) *SpotifyTools {
	return &SpotifyTools{clients: clients}
}

// Register adds the spotify tools to the registry.
func (s *SpotifyTools) Register(reg *Registry) {
	reg.Register(Tool{
		Name:        "spotify.get_top",
		Description: "The user's top artists or tracks as computed by the provider.",
		Category:    "spotify",
		Parameters: []Param{
			{Name: "user_id", Type: "string", Required: true, Description: "internal user id"},
			{Name: "entity", Type: "string", Required: true, Description: "artists or tracks"},
			{Name: "time_range", Type: "string", Default: "medium_term", Description: "short_term, medium_term, or long_term"},
			{Name: "limit", Type: "int", Default: 20, Description: "number of rows"},
		},
		Handler: s.getTop,
	})
	reg.Register(Tool{
		Name:        "spotify.search",
		Description: "Full-text catalog search against the provider.",
		Category:    "spotify",
		Parameters: []Param{
			{Name: "user_id", Type: "string", Required: true, Description: "internal user id"},
			{Name: "q", Type: "string", Required: true, Description: "search query"},
			{Name: "type", Type: "string", Default: "track", Description: "track, artist, or album"},
			{Name: "limit", Type: "int", Default: 20, Description: "number of rows"},
		},
		Handler: s.search,
	})
}

func (s *SpotifyTools) getTop(ctx context.Context, args Args) (any, error) {
	userID := args.String("user_id")
	scope, err := s.clients.Scope(userID)
	if err != nil {
		return nil, err
	}
	if !services.HasScope(scope, "user-top-read") {
		return nil, fmt.Errorf("%w: user-top-read not granted", shared.ErrMissingScope)
	}

	client, err := s.clients.ClientFor(userID)
	if err != nil {
		return nil, err
	}
	return client.Top(ctx, args.String("entity"), args.String("time_range"), args.Int("limit"))
}

func (s *SpotifyTools) search(ctx context.Context, args Args) (any, error) {
	client, err := s.clients.ClientFor(args.String("user_id"))
	if err != nil {
		return nil, err
	}
	return client.Search(ctx, args.String("q"), args.String("type"), args.Int("limit"))
}
