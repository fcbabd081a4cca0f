package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/spinlog/spinlog/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClients serves one mocked provider client with a fixed scope grant.
type fakeClients struct {
	client *services.SpotifyClient
	scope  string
}

func (f *fakeClients) ClientFor(userID string) (*services.SpotifyClient, error) {
	return f.client, nil
}

func (f *fakeClients) Scope(userID string) (string, error) {
	return f.scope, nil
}

func newSpotifyRegistry(t *testing.T, scope string) *Registry {
	t.Helper()

	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	client := services.NewSpotifyClient(services.ClientOpts{
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(time.Hour),
		BaseURL:     "https://api.spotify.test/v1",
		HTTPClient:  httpClient,
	})

	reg := NewRegistry()
	NewSpotifyTools(&fakeClients{client: client, scope: scope}).Register(reg)
	return reg
}

func TestSearchPassesProviderErrorThrough(t *testing.T) {
	reg := newSpotifyRegistry(t, "user-read-recently-played")
	httpmock.RegisterResponder("GET", "https://api.spotify.test/v1/search",
		httpmock.NewStringResponder(403, `{"error":{"status":403,"message":"Insufficient scope"}}`))

	env := reg.Dispatch(context.Background(), "spotify.search",
		map[string]any{"user_id": "u1", "q": "queen"})

	assert.Equal(t, "spotify.search", env.Tool)
	assert.False(t, env.Success)
	assert.Nil(t, env.Result)
	assert.Equal(t, "MissingScope: Insufficient scope", env.Error)
}

func TestSearchForwardsProviderJSON(t *testing.T) {
	reg := newSpotifyRegistry(t, "user-read-recently-played")
	httpmock.RegisterResponder("GET", "https://api.spotify.test/v1/search",
		httpmock.NewStringResponder(200, `{"tracks":{"items":[{"name":"Bohemian Rhapsody"}]}}`))

	env := reg.Dispatch(context.Background(), "spotify.search",
		map[string]any{"user_id": "u1", "q": "queen", "type": "track"})

	require.True(t, env.Success, "dispatch failed: %s", env.Error)
	raw, ok := env.Result.(json.RawMessage)
	require.True(t, ok, "unexpected result type %T", env.Result)
	assert.Contains(t, string(raw), "Bohemian Rhapsody")
}

func TestGetTopChecksGrantedScope(t *testing.T) {
	reg := newSpotifyRegistry(t, "user-read-recently-played")

	env := reg.Dispatch(context.Background(), "spotify.get_top",
		map[string]any{"user_id": "u1", "entity": "artists"})

	assert.False(t, env.Success)
	assert.Equal(t, "MissingScope: user-top-read not granted", env.Error)
	assert.Equal(t, 0, httpmock.GetTotalCallCount(), "scope failure must not reach the provider")
}

func TestGetTopWithScopeForwards(t *testing.T) {
	reg := newSpotifyRegistry(t, "user-read-recently-played user-top-read")
	httpmock.RegisterResponder("GET", "https://api.spotify.test/v1/me/top/artists",
		httpmock.NewStringResponder(200, `{"items":[{"name":"Queen"}]}`))

	env := reg.Dispatch(context.Background(), "spotify.get_top",
		map[string]any{"user_id": "u1", "entity": "artists", "limit": float64(5)})

	require.True(t, env.Success, "dispatch failed: %s", env.Error)
	assert.NotNil(t, env.Result)
}
