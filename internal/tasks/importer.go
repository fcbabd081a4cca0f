package tasks

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/repositories"
	"github.com/spinlog/spinlog/internal/shared"
)

// accountDataTimeLayout is the naive endTime format of account-data exports.
// Parsed as UTC by convention.
const accountDataTimeLayout = "2006-01-02 15:04"

// ImporterOpts bound archive size, record volume, and batch size.
type ImporterOpts struct {
	MaxZipSizeMB int
	MaxRecords   int
	BatchSize    int
	KeepArchives bool
	Logger       *log.Logger
}

// Importer ingests "Download your data" ZIP exports.
//
// Each batch commits in its own transaction, so a crashed import can be
// re-run over the same archive: already-ingested plays dedup to skips.
type Importer struct {
	music   *repositories.MusicRepository
	imports *repositories.ImportRepository
	jobs    *repositories.JobRepository
	opts    ImporterOpts
}

// NewImporter wires an importer with bounded resource limits.
func NewImporter(music *repositories.MusicRepository, imports *repositories.ImportRepository, jobs *repositories.JobRepository, opts ImporterOpts) *Importer {
	if opts.MaxZipSizeMB <= 0 {
		opts.MaxZipSizeMB = 500
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = 5_000_000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5000
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Importer{music: music, imports: imports, jobs: jobs, opts: opts}
}

// Run processes one claimed import job to a terminal status. The returned
// error mirrors what was recorded on the job; callers log it and move on.
func (i *Importer) Run(ctx context.Context, job *models.ImportJob) error {
	ledger, err := i.jobs.Begin(job.UserID, models.JobImport)
	if err != nil {
		return err
	}

	stats, runErr := i.ingest(ctx, job)
	if stats != nil {
		ledger.Fetched = stats.parsed
		ledger.Inserted = stats.inserted
		ledger.Skipped = stats.skipped
	}

	if runErr != nil {
		if err := i.imports.FailImport(job, runErr); err != nil {
			i.opts.Logger.Error("failed to record import failure", "error", err)
		}
		if err := i.jobs.Fail(ledger, runErr); err != nil {
			i.opts.Logger.Error("failed to record job failure", "error", err)
		}
		return runErr
	}

	job.DetectedFormat = stats.format
	job.RecordsIngested = stats.inserted
	job.EarliestPlayedAt = stats.earliest
	job.LatestPlayedAt = stats.latest
	if err := i.imports.Complete(job); err != nil {
		return err
	}
	if err := i.jobs.Finish(ledger, stats.parsed, stats.inserted, stats.skipped); err != nil {
		return err
	}

	i.cleanup(job)
	i.opts.Logger.Info("import finished",
		"import_id", job.ID,
		"format", stats.format,
		"parsed", stats.parsed,
		"inserted", stats.inserted,
		"skipped", stats.skipped)
	return nil
}

type importStats struct {
	format   models.ImportFormat
	parsed   int
	inserted int
	skipped  int
	earliest *time.Time
	latest   *time.Time
}

func (i *Importer) ingest(ctx context.Context, job *models.ImportJob) (*importStats, error) {
	info, err := os.Stat(job.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	if info.Size() > int64(i.opts.MaxZipSizeMB)<<20 {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d MB limit", shared.ErrArchiveTooLarge, info.Size(), i.opts.MaxZipSizeMB)
	}

	archive, err := zip.OpenReader(job.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	format, entries := detectFormat(archive.File)
	if format == "" {
		return nil, fmt.Errorf("%w: no streaming history entries in archive", shared.ErrUnrecognizedFormat)
	}

	stats := &importStats{format: format}
	batch := make([]models.PlayRecord, 0, i.opts.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		result, err := i.music.ProcessPlayBatch(ctx, job.UserID, batch)
		if err != nil {
			return err
		}
		stats.inserted += result.Inserted
		stats.skipped += result.Skipped
		if result.MinPlayedAt != nil && (stats.earliest == nil || result.MinPlayedAt.Before(*stats.earliest)) {
			stats.earliest = result.MinPlayedAt
		}
		if result.MaxPlayedAt != nil && (stats.latest == nil || result.MaxPlayedAt.After(*stats.latest)) {
			stats.latest = result.MaxPlayedAt
		}
		batch = batch[:0]
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		err := i.streamEntry(entry, format, func(rec models.PlayRecord, valid bool) error {
			stats.parsed++
			if stats.parsed > i.opts.MaxRecords {
				return fmt.Errorf("%w: more than %d records", shared.ErrRecordCapExceeded, i.opts.MaxRecords)
			}
			if !valid {
				stats.skipped++
				return nil
			}
			batch = append(batch, rec)
			if len(batch) >= i.opts.BatchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// streamEntry iterates one JSON array entry record by record, never holding
// the whole file in memory.
func (i *Importer) streamEntry(entry *zip.File, format models.ImportFormat, emit func(models.PlayRecord, bool) error) error {
	reader, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry %s: %w", entry.Name, err)
	}
	defer reader.Close()

	dec := json.NewDecoder(reader)
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: entry %s is not a JSON array", shared.ErrUnrecognizedFormat, entry.Name)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return fmt.Errorf("%w: entry %s is not a JSON array", shared.ErrUnrecognizedFormat, entry.Name)
	}

	for dec.More() {
		var (
			rec   models.PlayRecord
			valid bool
		)
		switch format {
		case models.FormatExtended:
			var raw extendedRecord
			if err := dec.Decode(&raw); err != nil {
				return fmt.Errorf("failed to decode record in %s: %w", entry.Name, err)
			}
			rec, valid = raw.normalize()
		case models.FormatAccountData:
			var raw accountRecord
			if err := dec.Decode(&raw); err != nil {
				return fmt.Errorf("failed to decode record in %s: %w", entry.Name, err)
			}
			rec, valid = raw.normalize()
		}
		if err := emit(rec, valid); err != nil {
			return err
		}
	}

	// Drain the closing bracket; a truncated array is tolerated since all
	// complete records were already emitted.
	if _, err := dec.Token(); err != nil && err != io.EOF {
		i.opts.Logger.Warn("archive entry ended unexpectedly", "entry", entry.Name, "error", err)
	}
	return nil
}

// detectFormat scans entry names and picks the schema. Extended exports win
// when both are present since they carry strictly more data.
func detectFormat(files []*zip.File) (models.ImportFormat, []*zip.File) {
	var extended, account []*zip.File
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(f.Name)
		switch {
		case matchPrefixJSON(name, "endsong_"), matchPrefixJSON(name, "Streaming_History_Audio_"):
			extended = append(extended, f)
		case matchPrefixJSON(name, "StreamingHistory"):
			account = append(account, f)
		}
	}
	if len(extended) > 0 {
		return models.FormatExtended, extended
	}
	if len(account) > 0 {
		return models.FormatAccountData, account
	}
	return "", nil
}

func matchPrefixJSON(name, prefix string) bool {
	return strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".json")
}

// cleanup removes the processed archive unless the operator keeps them.
func (i *Importer) cleanup(job *models.ImportJob) {
	if i.opts.KeepArchives {
		return
	}
	if err := os.Remove(job.ArchivePath); err != nil && !os.IsNotExist(err) {
		i.opts.Logger.Warn("failed to remove archive", "path", job.ArchivePath, "error", err)
	}
}

// extendedRecord is one element of an endsong_*.json / Streaming_History_
// Audio_*.json array. Sensitive fields (ip_addr, user_agent) are not mapped
// and are discarded at decode time.
type extendedRecord struct {
	TS       string `json:"ts"`
	MsPlayed *int64 `json:"ms_played"`
	Track    string `json:"master_metadata_track_name"`
	Artist   string `json:"master_metadata_album_artist_name"`
	Album    string `json:"master_metadata_album_album_name"`
	TrackURI string `json:"spotify_track_uri"`
}

func (r extendedRecord) normalize() (models.PlayRecord, bool) {
	if r.TS == "" || r.Track == "" || r.Artist == "" || r.MsPlayed == nil {
		return models.PlayRecord{}, false
	}
	playedAt, err := time.Parse(time.RFC3339, r.TS)
	if err != nil {
		return models.PlayRecord{}, false
	}

	rec := models.PlayRecord{
		PlayedAt:  playedAt.UTC(),
		MsPlayed:  *r.MsPlayed,
		TrackName: r.Track,
		AlbumName: r.Album,
		Artists:   []models.ArtistRef{{Name: r.Artist}},
		Source:    models.SourceImport,
	}
	if id, ok := strings.CutPrefix(r.TrackURI, "spotify:track:"); ok && id != "" {
		rec.SpotifyTrackID = id
	}
	return rec, true
}

// accountRecord is one element of a StreamingHistory*.json array.
type accountRecord struct {
	EndTime    string `json:"endTime"`
	ArtistName string `json:"artistName"`
	TrackName  string `json:"trackName"`
	MsPlayed   *int64 `json:"msPlayed"`
}

func (r accountRecord) normalize() (models.PlayRecord, bool) {
	if r.EndTime == "" || r.TrackName == "" || r.ArtistName == "" || r.MsPlayed == nil {
		return models.PlayRecord{}, false
	}
	// endTime is naive; UTC by convention.
	playedAt, err := time.Parse(accountDataTimeLayout, r.EndTime)
	if err != nil {
		return models.PlayRecord{}, false
	}

	return models.PlayRecord{
		PlayedAt:  playedAt.UTC(),
		MsPlayed:  *r.MsPlayed,
		TrackName: r.TrackName,
		Artists:   []models.ArtistRef{{Name: r.ArtistName}},
		Source:    models.SourceImport,
	}, true
}
