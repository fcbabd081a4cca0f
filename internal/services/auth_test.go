package services

import (
	"context"
	"database/sql"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/repositories"
	"github.com/spinlog/spinlog/internal/shared"
	"github.com/spinlog/spinlog/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTokenURL = "https://accounts.spotify.test/api/token"

func setupAuthTest(t *testing.T) (*Authenticator, *sql.DB) {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, shared.RunMigrations(db))

	v, err := vault.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	auth, err := NewAuthenticator(shared.SpotifyConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://localhost:8080/auth/callback",
	}, v, repositories.NewUserRepository(db), repositories.NewCredentialRepository(db), nil, AuthenticatorOpts{
		APIBaseURL: testBaseURL,
		TokenURL:   testTokenURL,
		HTTPClient: httpClient,
	})
	require.NoError(t, err)
	return auth, db
}

func TestAuthenticatorRequiresCredentials(t *testing.T) {
	_, err := NewAuthenticator(shared.SpotifyConfig{}, nil, nil, nil, nil, AuthenticatorOpts{})
	require.ErrorIs(t, err, shared.ErrMissingConfig)
}

func TestAuthURLCarriesVerifiableState(t *testing.T) {
	auth, _ := setupAuthTest(t)

	authURL := auth.AuthURL()
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)

	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	assert.True(t, auth.VerifyState(state))
	assert.False(t, auth.VerifyState(state+"x"))
	assert.False(t, auth.VerifyState("no-signature"))
}

func TestExchangeStoresSealedCredential(t *testing.T) {
	auth, db := setupAuthTest(t)

	httpmock.RegisterResponder("POST", testTokenURL,
		httpmock.NewStringResponder(200, `{
			"access_token": "access-1",
			"token_type": "Bearer",
			"refresh_token": "refresh-secret",
			"expires_in": 3600,
			"scope": "user-read-recently-played user-read-private"
		}`))
	httpmock.RegisterResponder("GET", testBaseURL+"/me",
		httpmock.NewStringResponder(200, `{"id":"spotify:alice","display_name":"Alice","email":"alice@example.com","country":"SE","product":"premium"}`))

	state := "nonce." + auth.vault.SignState("nonce")
	user, err := auth.Exchange(context.Background(), "auth-code", state)
	require.NoError(t, err)
	assert.Equal(t, "spotify:alice", user.SpotifyUserID)
	assert.Equal(t, "Alice", user.DisplayName)

	cred, err := repositories.NewCredentialRepository(db).Get(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-1", cred.AccessToken)
	assert.True(t, HasScope(cred.Scope, "user-read-recently-played"))

	// The stored blob is sealed, not the plaintext.
	assert.NotEqual(t, []byte("refresh-secret"), cred.RefreshTokenSealed)
	plaintext, err := auth.vault.Unseal(cred.RefreshTokenSealed)
	require.NoError(t, err)
	assert.Equal(t, "refresh-secret", string(plaintext))
}

func TestExchangeRejectsBadState(t *testing.T) {
	auth, _ := setupAuthTest(t)

	_, err := auth.Exchange(context.Background(), "code", "forged.state")
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestClientForRefreshesAndRotates(t *testing.T) {
	auth, db := setupAuthTest(t)

	users := repositories.NewUserRepository(db)
	user := &models.User{SpotifyUserID: "spotify:alice"}
	require.NoError(t, users.Upsert(user))

	sealed, err := auth.vault.Seal([]byte("old-refresh"))
	require.NoError(t, err)
	creds := repositories.NewCredentialRepository(db)
	require.NoError(t, creds.Save(&models.Credential{
		UserID:               user.ID,
		RefreshTokenSealed:   sealed,
		AccessToken:          "stale-token",
		AccessTokenExpiresAt: time.Now().Add(-time.Minute),
	}))

	httpmock.RegisterResponder("POST", testTokenURL,
		httpmock.NewStringResponder(200, `{
			"access_token": "access-2",
			"token_type": "Bearer",
			"refresh_token": "rotated-refresh",
			"expires_in": 3600
		}`))
	httpmock.RegisterResponder("GET", testBaseURL+"/me/player/recently-played",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer access-2", req.Header.Get("Authorization"))
			return httpmock.NewStringResponse(200, `{"items":[]}`), nil
		})

	client, err := auth.ClientFor(user.ID)
	require.NoError(t, err)

	_, err = client.RecentlyPlayed(context.Background(), nil, 50)
	require.NoError(t, err)

	cred, err := creds.Get(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-2", cred.AccessToken)

	plaintext, err := auth.vault.Unseal(cred.RefreshTokenSealed)
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh", string(plaintext))
}

func TestRefreshWithCorruptCredential(t *testing.T) {
	auth, db := setupAuthTest(t)

	users := repositories.NewUserRepository(db)
	user := &models.User{SpotifyUserID: "spotify:alice"}
	require.NoError(t, users.Upsert(user))

	creds := repositories.NewCredentialRepository(db)
	require.NoError(t, creds.Save(&models.Credential{
		UserID:               user.ID,
		RefreshTokenSealed:   []byte("garbage"),
		AccessTokenExpiresAt: time.Now().Add(-time.Minute),
	}))

	client, err := auth.ClientFor(user.ID)
	require.NoError(t, err)

	_, err = client.RecentlyPlayed(context.Background(), nil, 50)
	require.ErrorIs(t, err, shared.ErrCorruptCredential)
}
