package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/repositories"
	"github.com/spinlog/spinlog/internal/shared"
	"github.com/spinlog/spinlog/internal/vault"
	"golang.org/x/oauth2"
)

// collectorScopes are requested at authorization time. Playback history
// requires user-read-recently-played; the rest back the passthrough tools.
var collectorScopes = []string{
	"user-read-recently-played",
	"user-read-private",
	"user-read-email",
	"user-top-read",
}

// Authenticator runs the OAuth authorization-code flow and mints per-user
// API clients whose refresh callbacks unseal the stored credential at
// point-of-use. Plaintext refresh tokens exist only transiently in memory.
type Authenticator struct {
	config *oauth2.Config
	vault  *vault.Vault
	users  *repositories.UserRepository
	creds  *repositories.CredentialRepository
	logger *log.Logger

	concurrency int
	budget      int

	// apiBaseURL and httpClient are overridable for tests.
	apiBaseURL string
	httpClient *http.Client
}

// AuthenticatorOpts tune provider endpoints and client limits.
type AuthenticatorOpts struct {
	Concurrency     int
	RateLimitBudget int
	APIBaseURL      string
	TokenURL        string
	HTTPClient      *http.Client
}

// NewAuthenticator wires the OAuth config from settings.
func NewAuthenticator(cfg shared.SpotifyConfig, v *vault.Vault, users *repositories.UserRepository, creds *repositories.CredentialRepository, logger *log.Logger, opts AuthenticatorOpts) (*Authenticator, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client credentials", shared.ErrMissingConfig)
	}
	if logger == nil {
		logger = log.Default()
	}

	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyTokenURL
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = cfg.Concurrency
	}

	return &Authenticator{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       collectorScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyAuthURL,
				TokenURL: tokenURL,
			},
		},
		vault:       v,
		users:       users,
		creds:       creds,
		logger:      logger,
		concurrency: concurrency,
		budget:      opts.RateLimitBudget,
		apiBaseURL:  opts.APIBaseURL,
		httpClient:  opts.HTTPClient,
	}, nil
}

// AuthURL returns the provider authorization URL with a signed state value.
// The state is a nonce plus an HMAC tag so the callback can verify it
// without server-side session storage.
func (a *Authenticator) AuthURL() string {
	nonce := shared.GenerateID()
	state := nonce + "." + a.vault.SignState(nonce)
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// VerifyState checks the signed state from a callback.
func (a *Authenticator) VerifyState(state string) bool {
	idx := strings.LastIndex(state, ".")
	if idx <= 0 {
		return false
	}
	return a.vault.VerifyState(state[:idx], state[idx+1:])
}

// Exchange completes the authorization-code flow: verifies state, trades the
// code for tokens, fetches the profile, upserts the user, and persists the
// sealed credential.
func (a *Authenticator) Exchange(ctx context.Context, code, state string) (*models.User, error) {
	if !a.VerifyState(state) {
		return nil, fmt.Errorf("%w: invalid oauth state", shared.ErrInvalidArgument)
	}

	token, err := a.config.Exchange(a.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange failed: %v", shared.ErrAuthExpired, err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: provider returned no refresh token", shared.ErrAuthExpired)
	}

	client := NewSpotifyClient(ClientOpts{
		AccessToken: token.AccessToken,
		ExpiresAt:   token.Expiry,
		BaseURL:     a.apiBaseURL,
		HTTPClient:  a.httpClient,
		Logger:      a.logger,
	})
	profile, err := client.Profile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	user := &models.User{
		SpotifyUserID: profile.ID,
		DisplayName:   profile.DisplayName,
		Email:         profile.Email,
		Country:       profile.Country,
		Product:       profile.Product,
	}
	if err := a.users.Upsert(user); err != nil {
		return nil, err
	}

	sealed, err := a.vault.Seal([]byte(token.RefreshToken))
	if err != nil {
		return nil, err
	}

	scope, _ := token.Extra("scope").(string)
	cred := &models.Credential{
		UserID:               user.ID,
		RefreshTokenSealed:   sealed,
		AccessToken:          token.AccessToken,
		AccessTokenExpiresAt: token.Expiry,
		Scope:                scope,
	}
	if err := a.creds.Save(cred); err != nil {
		return nil, err
	}

	a.logger.Info("authorized user", "user_id", user.ID, "spotify_user_id", user.SpotifyUserID)
	return user, nil
}

// ClientFor mints an API client for a stored user, seeded with the cached
// access token and backed by a refresh callback over the sealed credential.
func (a *Authenticator) ClientFor(userID string) (*SpotifyClient, error) {
	cred, err := a.creds.Get(userID)
	if err != nil {
		return nil, err
	}

	return NewSpotifyClient(ClientOpts{
		AccessToken:     cred.AccessToken,
		ExpiresAt:       cred.AccessTokenExpiresAt,
		Refresh:         a.refreshFunc(userID),
		Concurrency:     a.concurrency,
		RateLimitBudget: a.budget,
		BaseURL:         a.apiBaseURL,
		HTTPClient:      a.httpClient,
		Logger:          a.logger,
	}), nil
}

// Scope returns the scope string granted to a user's credential.
func (a *Authenticator) Scope(userID string) (string, error) {
	cred, err := a.creds.Get(userID)
	if err != nil {
		return "", err
	}
	return cred.Scope, nil
}

// refreshFunc builds the refresh callback for one user. Each invocation
// unseals the refresh token, performs the refresh grant, persists the new
// access token, and re-seals a rotated refresh token when the provider
// issues one.
func (a *Authenticator) refreshFunc(userID string) RefreshFunc {
	return func(ctx context.Context) (string, time.Time, error) {
		cred, err := a.creds.Get(userID)
		if err != nil {
			return "", time.Time{}, err
		}

		plaintext, err := a.vault.Unseal(cred.RefreshTokenSealed)
		if err != nil {
			return "", time.Time{}, err
		}

		source := a.config.TokenSource(a.oauthContext(ctx), &oauth2.Token{RefreshToken: string(plaintext)})
		token, err := source.Token()
		if err != nil {
			return "", time.Time{}, fmt.Errorf("%w: refresh grant failed: %v", shared.ErrAuthExpired, err)
		}

		if token.RefreshToken != "" && token.RefreshToken != string(plaintext) {
			sealed, serr := a.vault.Seal([]byte(token.RefreshToken))
			if serr != nil {
				return "", time.Time{}, serr
			}
			if serr := a.creds.UpdateSealed(userID, sealed); serr != nil {
				return "", time.Time{}, serr
			}
			a.logger.Debug("rotated refresh token", "user_id", userID)
		}

		if err := a.creds.UpdateAccessToken(userID, token.AccessToken, token.Expiry); err != nil {
			return "", time.Time{}, err
		}
		return token.AccessToken, token.Expiry, nil
	}
}

// oauthContext pins the token-endpoint HTTP client when one was injected.
func (a *Authenticator) oauthContext(ctx context.Context) context.Context {
	if a.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}
