package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// SourceTag marks where a track, artist, or play originated.
type SourceTag string

const (
	SourceAPI    SourceTag = "api"
	SourceImport SourceTag = "import"
)

// SyncStatus is the user-level lifecycle the worker scheduler consults.
// Distinct from [JobStatus], which describes a single execution.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncPaused  SyncStatus = "paused"
	SyncSyncing SyncStatus = "syncing"
	SyncError   SyncStatus = "error"
)

// JobStatus describes one worker execution recorded in the ledger.
type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobError   JobStatus = "error"
)

// JobType identifies the kind of worker unit a ledger entry records.
type JobType string

const (
	JobImport      JobType = "import"
	JobInitialSync JobType = "initial_sync"
	JobPoll        JobType = "poll"
	JobEnrich      JobType = "enrich"
)

// ImportStatus is the lifecycle of an uploaded archive.
type ImportStatus string

const (
	ImportPending    ImportStatus = "pending"
	ImportProcessing ImportStatus = "processing"
	ImportSuccess    ImportStatus = "success"
	ImportErrored    ImportStatus = "error"
)

// ImportFormat identifies the detected archive schema.
type ImportFormat string

const (
	FormatExtended    ImportFormat = "extended"
	FormatAccountData ImportFormat = "account_data"
)

// User is a Spotify account owner tracked by the collector.
type User struct {
	ID            string
	SpotifyUserID string
	DisplayName   string
	Email         string
	Country       string
	Product       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Credential holds a user's sealed refresh token and cached access token.
//
// RefreshTokenSealed is the vault output; the plaintext refresh token is
// never persisted and never logged.
type Credential struct {
	UserID               string
	RefreshTokenSealed   []byte
	AccessToken          string
	AccessTokenExpiresAt time.Time
	Scope                string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Artist is a catalog row. At least one of SpotifyArtistID or LocalID is set.
type Artist struct {
	ID              string
	Name            string
	SpotifyArtistID string
	LocalID         string
	Source          SourceTag
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Track is a catalog row. At least one of SpotifyTrackID or LocalID is set.
type Track struct {
	ID             string
	Name           string
	SpotifyTrackID string
	LocalID        string
	Album          string
	DurationMS     int
	Source         SourceTag
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Play is a single playback event.
//
// (UserID, PlayedAt, TrackID) is unique; all insert paths treat a duplicate
// as a silent skip.
type Play struct {
	ID        string
	UserID    string
	TrackID   string
	PlayedAt  time.Time
	MsPlayed  int64
	Source    SourceTag
	CreatedAt time.Time
}

// SyncCheckpoint is the per-user mutable bookmark of worker progress.
type SyncCheckpoint struct {
	UserID                      string
	Status                      SyncStatus
	InitialSyncStartedAt        *time.Time
	InitialSyncCompletedAt      *time.Time
	InitialSyncEarliestPlayedAt *time.Time
	LastPollStartedAt           *time.Time
	LastPollCompletedAt         *time.Time
	LastPollLatestPlayedAt      *time.Time
	ErrorMessage                string
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// JobRun is a ledger entry for one worker unit.
type JobRun struct {
	ID           string
	UserID       string
	JobType      JobType
	Status       JobStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	Fetched      int
	Inserted     int
	Skipped      int
	ErrorMessage string
}

// ImportJob tracks an uploaded archive through the import pipeline.
type ImportJob struct {
	ID               string
	UserID           string
	Status           ImportStatus
	ArchivePath      string
	ArchiveSize      int64
	DetectedFormat   ImportFormat
	RecordsIngested  int
	EarliestPlayedAt *time.Time
	LatestPlayedAt   *time.Time
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ArtistRef names one artist on a normalized playback tuple. SpotifyID is
// empty for imported records, which only carry names.
type ArtistRef struct {
	Name      string
	SpotifyID string
}

// PlayRecord is a normalized playback tuple ready for repository ingest,
// produced by the Spotify client page mapper and by the ZIP importer.
//
// PlayedAt is always a UTC-aware instant; sources that emit naive timestamps
// are normalized before a PlayRecord is built.
type PlayRecord struct {
	PlayedAt       time.Time
	MsPlayed       int64
	TrackName      string
	AlbumName      string
	SpotifyTrackID string
	DurationMS     int
	Artists        []ArtistRef
	Source         SourceTag
}

// Validate checks the fields every insert path requires.
func (r PlayRecord) Validate() error {
	if r.PlayedAt.IsZero() {
		return fmt.Errorf("play record missing played_at")
	}
	if r.TrackName == "" {
		return fmt.Errorf("play record missing track name")
	}
	if len(r.Artists) == 0 || r.Artists[0].Name == "" {
		return fmt.Errorf("play record missing artist name")
	}
	return nil
}

// PrimaryArtist returns the first artist name, or "" when none is present.
func (r PlayRecord) PrimaryArtist() string {
	if len(r.Artists) == 0 {
		return ""
	}
	return r.Artists[0].Name
}

// LocalTrackID derives the deterministic identifier used for tracks without
// a Spotify URI: "local:" + hex(sha1(artist + "|" + track + "|" + album)).
// Empty fields contribute empty strings, so the id is stable across runs.
func LocalTrackID(artist, track, album string) string {
	sum := sha1.Sum([]byte(artist + "|" + track + "|" + album))
	return "local:" + hex.EncodeToString(sum[:])
}

// LocalArtistID derives the deterministic identifier for artists without a
// Spotify id: "local:" + hex(sha1(name)).
func LocalArtistID(name string) string {
	sum := sha1.Sum([]byte(name))
	return "local:" + hex.EncodeToString(sum[:])
}
