package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/mediagate/pkg/recording"
	"github.com/harun/mediagate/pkg/transcoder"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Status is the lifecycle state of a catalogued recording.
type Status string

const (
	StatusRecording   Status = "recording"
	StatusTranscoding Status = "transcoding"
	StatusReady       Status = "ready"
	StatusFailed      Status = "failed"
	StatusAborted     Status = "aborted"
)

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusRecording, StatusTranscoding, StatusReady, StatusFailed, StatusAborted}
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	for _, status := range Statuses() {
		if string(status) == s {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown status: %q", s)
}

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("recording not found")

const interruptedReason = "interrupted"

// Record is one catalogued recording.
type Record struct {
	ID           string            `json:"id"`
	ConnID       string            `json:"connId"`
	Kind         string            `json:"kind"`
	RawPath      string            `json:"rawPath"`
	FinalPath    string            `json:"finalPath"`
	Status       Status            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	BytesWritten int64             `json:"bytesWritten"`
	StartedAt    time.Time         `json:"startedAt"`
	EndedAt      *time.Time        `json:"endedAt,omitempty"`
	Error        string            `json:"error,omitempty"`
	LogPath      string            `json:"logPath,omitempty"`
}

// Path returns the file that currently holds the recording's bytes.
func (r Record) Path() string {
	if r.Status == StatusReady {
		return r.FinalPath
	}
	return r.RawPath
}

// Config holds catalog configuration
type Config struct {
	Path   string
	Logger zerolog.Logger
}

// Store is the SQLite backed catalog.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens or creates the catalog database.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("catalog path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode so CLI readers do not block the daemon
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger.With().Str("component", "catalog").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			conn_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			raw_path TEXT NOT NULL,
			final_path TEXT NOT NULL,
			status TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			bytes_written INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			error TEXT NOT NULL DEFAULT '',
			log_path TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_recordings_status ON recordings(status);
		CREATE INDEX IF NOT EXISTS idx_recordings_started ON recordings(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordingStarted inserts a row for a new session.
func (s *Store) RecordingStarted(ctx context.Context, info recording.Info) error {
	metadata, err := encodeMetadata(info.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recordings (id, conn_id, kind, raw_path, final_path, status, metadata, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.ConnID, info.Kind.String(), info.RawPath, info.FinalPath,
		StatusRecording, metadata, info.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert recording: %w", err)
	}
	return nil
}

// RecordingClosed stores the drained artifact. Graceful ends move to
// transcoding, aborts to aborted and sink failures to failed.
func (s *Store) RecordingClosed(ctx context.Context, artifact recording.Artifact) error {
	status := StatusTranscoding
	errText := ""
	switch {
	case artifact.Aborted:
		status = StatusAborted
	case artifact.Err != nil:
		status = StatusFailed
	}
	if artifact.Err != nil {
		errText = artifact.Err.Error()
	}

	metadata, err := encodeMetadata(artifact.Metadata)
	if err != nil {
		return err
	}

	return s.update(ctx, artifact.ID, `
		UPDATE recordings
		SET status = ?, metadata = ?, bytes_written = ?, ended_at = ?, error = ?
		WHERE id = ?`,
		status, metadata, artifact.BytesWritten, artifact.EndedAt.UnixMilli(), errText, artifact.ID,
	)
}

// TranscodeFinished stores the encoder outcome.
func (s *Store) TranscodeFinished(ctx context.Context, artifact recording.Artifact, res transcoder.Result) error {
	if res.Succeeded() {
		return s.update(ctx, artifact.ID,
			`UPDATE recordings SET status = ?, error = '', log_path = '' WHERE id = ?`,
			StatusReady, artifact.ID,
		)
	}

	return s.update(ctx, artifact.ID,
		`UPDATE recordings SET status = ?, error = ?, log_path = ? WHERE id = ?`,
		StatusFailed, res.Err.Error(), res.LogPath, artifact.ID,
	)
}

func (s *Store) update(ctx context.Context, id, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update recording %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update recording %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecoverInterrupted repairs rows left behind by a process that exited
// while recording or transcoding. It returns the number of rows changed.
func (s *Store) RecoverInterrupted(ctx context.Context) (int64, error) {
	now := time.Now().UnixMilli()

	aborted, err := s.db.ExecContext(ctx, `
		UPDATE recordings SET status = ?, error = ?, ended_at = COALESCE(ended_at, ?)
		WHERE status = ?`,
		StatusAborted, interruptedReason, now, StatusRecording,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recover recordings: %w", err)
	}
	failed, err := s.db.ExecContext(ctx, `
		UPDATE recordings SET status = ?, error = ?
		WHERE status = ?`,
		StatusFailed, interruptedReason, StatusTranscoding,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recover transcodes: %w", err)
	}

	a, _ := aborted.RowsAffected()
	f, _ := failed.RowsAffected()
	if a+f > 0 {
		s.logger.Warn().Int64("aborted", a).Int64("failed", f).Msg("Recovered interrupted recordings")
	}
	return a + f, nil
}

// Filter narrows List results.
type Filter struct {
	Status Status
	Limit  int
}

const selectColumns = `id, conn_id, kind, raw_path, final_path, status, metadata,
	bytes_written, started_at, ended_at, error, log_path`

// List returns recordings, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `SELECT ` + selectColumns + ` FROM recordings`
	var args []interface{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY started_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns one recording by id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Counts returns the number of recordings per status.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM recordings GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count recordings: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec       Record
		metadata  string
		startedAt int64
		endedAt   sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.ConnID, &rec.Kind, &rec.RawPath, &rec.FinalPath, &rec.Status,
		&metadata, &rec.BytesWritten, &startedAt, &endedAt, &rec.Error, &rec.LogPath)
	if err != nil {
		return Record{}, err
	}

	rec.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64)
		rec.EndedAt = &t
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return Record{}, fmt.Errorf("failed to decode metadata of %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}

var _ recording.Observer = (*Store)(nil)
