package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/shared"
)

// UserRepository persists Spotify account owners.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository with the given database connection
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert inserts a user keyed by spotify_user_id, or refreshes the profile
// fields of an existing row. The internal id is stable across upserts and is
// written back into user.ID.
func (r *UserRepository) Upsert(user *models.User) error {
	if user.SpotifyUserID == "" {
		return fmt.Errorf("user missing spotify_user_id")
	}

	var id string
	err := r.db.QueryRow(`SELECT id FROM users WHERE spotify_user_id = ?`, user.SpotifyUserID).Scan(&id)
	now := time.Now().UTC()

	switch {
	case err == sql.ErrNoRows:
		id = shared.GenerateID()
		_, err = r.db.Exec(`
			INSERT INTO users (id, spotify_user_id, display_name, email, country, product, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id, user.SpotifyUserID, user.DisplayName, user.Email, user.Country, user.Product, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to look up user: %w", err)
	default:
		_, err = r.db.Exec(`
			UPDATE users
			SET display_name = ?, email = ?, country = ?, product = ?, updated_at = ?
			WHERE id = ?
		`, user.DisplayName, user.Email, user.Country, user.Product, now, id)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
	}

	user.ID = id
	user.UpdatedAt = now
	return nil
}

// Get retrieves a user by internal id.
func (r *UserRepository) Get(id string) (*models.User, error) {
	return r.scanOne(r.db.QueryRow(`
		SELECT id, spotify_user_id, display_name, email, country, product, created_at, updated_at
		FROM users WHERE id = ?
	`, id))
}

// GetBySpotifyID retrieves a user by their Spotify account id.
func (r *UserRepository) GetBySpotifyID(spotifyUserID string) (*models.User, error) {
	return r.scanOne(r.db.QueryRow(`
		SELECT id, spotify_user_id, display_name, email, country, product, created_at, updated_at
		FROM users WHERE spotify_user_id = ?
	`, spotifyUserID))
}

// List returns every user ordered by creation time.
func (r *UserRepository) List() ([]*models.User, error) {
	rows, err := r.db.Query(`
		SELECT id, spotify_user_id, display_name, email, country, product, created_at, updated_at
		FROM users ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.SpotifyUserID, &u.DisplayName, &u.Email, &u.Country, &u.Product, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return users, nil
}

// Delete removes a user; credentials, plays, and bookkeeping cascade.
func (r *UserRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: user %s", shared.ErrNotFound, id)
	}
	return nil
}

func (r *UserRepository) scanOne(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.SpotifyUserID, &u.DisplayName, &u.Email, &u.Country, &u.Product, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// CredentialRepository persists sealed refresh tokens and cached access tokens.
//
// The refresh token column only ever holds vault output; callers seal before
// saving and unseal after loading.
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository creates a new CredentialRepository with the given database connection
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Save upserts the credential row for cred.UserID.
func (r *CredentialRepository) Save(cred *models.Credential) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO credentials (user_id, refresh_token_sealed, access_token, access_token_expires_at, scope, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			refresh_token_sealed = excluded.refresh_token_sealed,
			access_token = excluded.access_token,
			access_token_expires_at = excluded.access_token_expires_at,
			scope = excluded.scope,
			updated_at = excluded.updated_at
	`, cred.UserID, cred.RefreshTokenSealed, cred.AccessToken, cred.AccessTokenExpiresAt.UTC(), cred.Scope, now, now)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Get retrieves the credential for a user.
func (r *CredentialRepository) Get(userID string) (*models.Credential, error) {
	var (
		cred      models.Credential
		expiresAt sql.NullTime
	)
	err := r.db.QueryRow(`
		SELECT user_id, refresh_token_sealed, access_token, access_token_expires_at, scope, created_at, updated_at
		FROM credentials WHERE user_id = ?
	`, userID).Scan(&cred.UserID, &cred.RefreshTokenSealed, &cred.AccessToken, &expiresAt, &cred.Scope, &cred.CreatedAt, &cred.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: credential for user %s", shared.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}
	if expiresAt.Valid {
		cred.AccessTokenExpiresAt = expiresAt.Time.UTC()
	}
	return &cred, nil
}

// UpdateAccessToken caches a freshly minted access token and its expiry.
func (r *CredentialRepository) UpdateAccessToken(userID, token string, expiresAt time.Time) error {
	result, err := r.db.Exec(`
		UPDATE credentials SET access_token = ?, access_token_expires_at = ?, updated_at = ?
		WHERE user_id = ?
	`, token, expiresAt.UTC(), time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: credential for user %s", shared.ErrNotFound, userID)
	}
	return nil
}

// UpdateSealed replaces the sealed refresh token, used when the provider
// rotates refresh tokens during a refresh grant.
func (r *CredentialRepository) UpdateSealed(userID string, sealed []byte) error {
	result, err := r.db.Exec(`
		UPDATE credentials SET refresh_token_sealed = ?, updated_at = ?
		WHERE user_id = ?
	`, sealed, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update sealed token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: credential for user %s", shared.ErrNotFound, userID)
	}
	return nil
}

// Delete removes a user's credential without touching their history.
func (r *CredentialRepository) Delete(userID string) error {
	_, err := r.db.Exec(`DELETE FROM credentials WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
