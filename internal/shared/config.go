package shared

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration, loaded from a TOML file
// and overlaid with environment variables.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Server    ServerConfig    `toml:"server"`
	Spotify   SpotifyConfig   `toml:"spotify"`
	Vault     VaultConfig     `toml:"vault"`
	Collector CollectorConfig `toml:"collector"`
	Import    ImportConfig    `toml:"import"`
}

// DatabaseConfig contains SQLite connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" env:"DATABASE_URL"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
//
// BearerToken gates POST /mcp/call; the catalog endpoint stays public.
type ServerConfig struct {
	Host        string `toml:"host" env:"HOST"`
	Port        int    `toml:"port" env:"PORT"`
	BearerToken string `toml:"bearer_token" env:"MCP_BEARER_TOKEN"`
}

// SpotifyConfig contains provider OAuth credentials and client limits.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id" env:"SPOTIFY_CLIENT_ID"`
	ClientSecret string `toml:"client_secret" env:"SPOTIFY_CLIENT_SECRET"`
	RedirectURI  string `toml:"redirect_uri" env:"SPOTIFY_REDIRECT_URI"`
	Concurrency  int    `toml:"concurrency" env:"SPOTIFY_CONCURRENCY"`
}

// VaultConfig contains the process secret used to seal refresh tokens.
type VaultConfig struct {
	EncryptionKey string `toml:"encryption_key" env:"TOKEN_ENCRYPTION_KEY"`
}

// CollectorConfig contains run-loop and sync policy settings.
type CollectorConfig struct {
	IntervalSeconds        int  `toml:"interval_seconds" env:"COLLECTOR_INTERVAL_SECONDS"`
	InitialSyncEnabled     bool `toml:"initial_sync_enabled" env:"INITIAL_SYNC_ENABLED"`
	InitialSyncMaxDays     int  `toml:"initial_sync_max_days" env:"INITIAL_SYNC_MAX_DAYS"`
	InitialSyncMaxRequests int  `toml:"initial_sync_max_requests" env:"INITIAL_SYNC_MAX_REQUESTS"`
	InitialSyncConcurrency int  `toml:"initial_sync_concurrency" env:"INITIAL_SYNC_CONCURRENCY"`
	RateLimitBudget        int  `toml:"rate_limit_budget" env:"RATE_LIMIT_BUDGET"`
}

// ImportConfig contains archive-import limits and the upload directory.
type ImportConfig struct {
	MaxZipSizeMB int    `toml:"max_zip_size_mb" env:"IMPORT_MAX_ZIP_SIZE_MB"`
	MaxRecords   int    `toml:"max_records" env:"IMPORT_MAX_RECORDS"`
	BatchSize    int    `toml:"batch_size" env:"IMPORT_BATCH_SIZE"`
	UploadDir    string `toml:"upload_dir" env:"UPLOAD_DIR"`
	KeepArchives bool   `toml:"keep_archives" env:"IMPORT_KEEP_ARCHIVES"`
}

// LoadConfig reads the TOML configuration at path (falling back to embedded
// defaults when the file is absent), then overlays environment variables.
//
// A .env file in the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	config := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := toml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks settings required to run the worker or server.
//
// The encryption key is mandatory: refresh tokens are never persisted in the
// clear. Key length is enforced by the vault at construction time.
func (c *Config) Validate() error {
	if c.Vault.EncryptionKey == "" {
		return fmt.Errorf("%w: TOKEN_ENCRYPTION_KEY is required", ErrMissingKey)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database path is empty", ErrInvalidConfig)
	}
	return nil
}
