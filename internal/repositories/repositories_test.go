package repositories

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	// A pooled :memory: database is a fresh empty database per connection;
	// pin the pool to one so every query sees the migrated schema.
	db.SetMaxOpenConns(1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

// seedUser inserts a user row and returns its internal id.
func seedUser(t *testing.T, db *sql.DB, spotifyID string) string {
	t.Helper()

	repo := NewUserRepository(db)
	user := &models.User{SpotifyUserID: spotifyID, DisplayName: "Test User"}
	if err := repo.Upsert(user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user.ID
}

func TestUserRepository(t *testing.T) {
	t.Run("UpsertInserts", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewUserRepository(db)
		user := &models.User{SpotifyUserID: "spotify:alice", DisplayName: "Alice", Email: "alice@example.com"}

		if err := repo.Upsert(user); err != nil {
			t.Fatalf("failed to upsert user: %v", err)
		}
		if user.ID == "" {
			t.Error("user ID should be set after upsert")
		}
	})

	t.Run("UpsertIsStable", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewUserRepository(db)
		first := &models.User{SpotifyUserID: "spotify:alice", DisplayName: "Alice"}
		if err := repo.Upsert(first); err != nil {
			t.Fatalf("failed to upsert user: %v", err)
		}

		second := &models.User{SpotifyUserID: "spotify:alice", DisplayName: "Alice Renamed"}
		if err := repo.Upsert(second); err != nil {
			t.Fatalf("failed to re-upsert user: %v", err)
		}

		if second.ID != first.ID {
			t.Errorf("expected stable internal id %s, got %s", first.ID, second.ID)
		}

		got, err := repo.Get(first.ID)
		if err != nil {
			t.Fatalf("failed to get user: %v", err)
		}
		if got.DisplayName != "Alice Renamed" {
			t.Errorf("expected refreshed display name, got %q", got.DisplayName)
		}
	})

	t.Run("GetBySpotifyID", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewUserRepository(db)
		id := seedUser(t, db, "spotify:bob")

		got, err := repo.GetBySpotifyID("spotify:bob")
		if err != nil {
			t.Fatalf("failed to get user: %v", err)
		}
		if got.ID != id {
			t.Errorf("expected id %s, got %s", id, got.ID)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		_, err := NewUserRepository(db).Get("nope")
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewUserRepository(db)
		id := seedUser(t, db, "spotify:carol")

		creds := NewCredentialRepository(db)
		if err := creds.Save(&models.Credential{UserID: id, RefreshTokenSealed: []byte{1, 2, 3}}); err != nil {
			t.Fatalf("failed to save credential: %v", err)
		}

		if err := repo.Delete(id); err != nil {
			t.Fatalf("failed to delete user: %v", err)
		}
		if _, err := creds.Get(id); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected credential to cascade, got %v", err)
		}
	})
}

func TestCredentialRepository(t *testing.T) {
	t.Run("SaveAndGet", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		userID := seedUser(t, db, "spotify:alice")
		repo := NewCredentialRepository(db)

		expiry := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		cred := &models.Credential{
			UserID:               userID,
			RefreshTokenSealed:   []byte("sealed-blob"),
			AccessToken:          "token-1",
			AccessTokenExpiresAt: expiry,
			Scope:                "user-read-recently-played",
		}
		if err := repo.Save(cred); err != nil {
			t.Fatalf("failed to save credential: %v", err)
		}

		got, err := repo.Get(userID)
		if err != nil {
			t.Fatalf("failed to get credential: %v", err)
		}
		if string(got.RefreshTokenSealed) != "sealed-blob" {
			t.Errorf("unexpected sealed blob %q", got.RefreshTokenSealed)
		}
		if !got.AccessTokenExpiresAt.Equal(expiry) {
			t.Errorf("expected expiry %v, got %v", expiry, got.AccessTokenExpiresAt)
		}
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		userID := seedUser(t, db, "spotify:alice")
		repo := NewCredentialRepository(db)

		if err := repo.Save(&models.Credential{UserID: userID, RefreshTokenSealed: []byte("old")}); err != nil {
			t.Fatalf("failed to save credential: %v", err)
		}
		if err := repo.Save(&models.Credential{UserID: userID, RefreshTokenSealed: []byte("new"), Scope: "s"}); err != nil {
			t.Fatalf("failed to replace credential: %v", err)
		}

		got, err := repo.Get(userID)
		if err != nil {
			t.Fatalf("failed to get credential: %v", err)
		}
		if string(got.RefreshTokenSealed) != "new" {
			t.Errorf("expected replaced blob, got %q", got.RefreshTokenSealed)
		}
	})

	t.Run("UpdateAccessToken", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		userID := seedUser(t, db, "spotify:alice")
		repo := NewCredentialRepository(db)
		if err := repo.Save(&models.Credential{UserID: userID, RefreshTokenSealed: []byte("x")}); err != nil {
			t.Fatalf("failed to save credential: %v", err)
		}

		expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		if err := repo.UpdateAccessToken(userID, "fresh-token", expiry); err != nil {
			t.Fatalf("failed to update access token: %v", err)
		}

		got, err := repo.Get(userID)
		if err != nil {
			t.Fatalf("failed to get credential: %v", err)
		}
		if got.AccessToken != "fresh-token" {
			t.Errorf("expected fresh token, got %q", got.AccessToken)
		}
		if !got.AccessTokenExpiresAt.Equal(expiry) {
			t.Errorf("expected expiry %v, got %v", expiry, got.AccessTokenExpiresAt)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		err := NewCredentialRepository(db).UpdateAccessToken("nope", "t", time.Now())
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
