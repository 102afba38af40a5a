// Package eventlog persists the daemon's voice activity (gate transitions
// and recognised transcripts) to a local SQLite database so sessions can
// be inspected after the fact.
//
// The store is append-mostly: one row per event, written on the event
// consumer's goroutine, read back only by [Store.Recent] and operator
// tooling. modernc.org/sqlite keeps the daemon free of cgo.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/auricle-dev/auricle/internal/observe"
)

// Schema is the SQL DDL for the voice_events table. [Open] applies it;
// it is exported for deployment tooling that prepares databases ahead
// of time.
const Schema = `
CREATE TABLE IF NOT EXISTS voice_events (
    id         TEXT PRIMARY KEY,
    timestamp  TIMESTAMP NOT NULL,
    kind       TEXT NOT NULL,
    state      TEXT NOT NULL DEFAULT '',
    model      TEXT NOT NULL DEFAULT '',
    score      REAL NOT NULL DEFAULT 0,
    transcript TEXT NOT NULL DEFAULT '',
    is_final   BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_voice_events_timestamp ON voice_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_voice_events_kind ON voice_events(kind);
`

// Event kinds stored in the kind column.
const (
	KindWake       = "wake"
	KindTranscript = "transcript"
)

// Event is one recorded entry. Kind selects which fields are meaningful:
// State/Model/Score for wake events, Transcript/IsFinal for transcripts.
type Event struct {
	ID         string
	Timestamp  time.Time
	Kind       string
	State      string
	Model      string
	Score      float64
	Transcript string
	IsFinal    bool
}

// Store records voice events in a SQLite database. It is safe for
// concurrent use; WAL mode keeps readers unblocked while the event
// consumer writes.
type Store struct {
	db      *sql.DB
	path    string
	log     *slog.Logger
	metrics *observe.Metrics
}

// Option is a functional option for configuring a Store during Open.
type Option func(*Store)

// WithLogger sets the logger for store diagnostics. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics sets the instrument set for store telemetry. Nil disables
// metric recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Open opens the event log at path, creating the file, its directory, and
// the schema as needed.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path: path,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("eventlog: creating directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %q: %w", path, err)
	}
	if err := configure(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}

	s.db = db
	s.log.Info("event log opened", "path", path)
	return s, nil
}

// configure applies the SQLite pragmas for a single-process, write-mostly
// log.
func configure(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = memory",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("eventlog: %s: %w", pragma, err)
		}
	}
	return nil
}

// RecordWake stores a gate transition. Model and score identify the winning
// trigger on transitions to active; pass zero values for the return to
// listening.
func (s *Store) RecordWake(ctx context.Context, state, model string, score float32) error {
	const query = `
		INSERT INTO voice_events (id, timestamp, kind, state, model, score)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		uuid.NewString(), time.Now().UTC(), KindWake, state, model, float64(score),
	)
	if s.metrics != nil {
		s.metrics.RecordEventStored(ctx, KindWake, err)
	}
	if err != nil {
		return fmt.Errorf("eventlog: record wake: %w", err)
	}
	return nil
}

// RecordTranscript stores a recognised utterance.
func (s *Store) RecordTranscript(ctx context.Context, text string, isFinal bool) error {
	const query = `
		INSERT INTO voice_events (id, timestamp, kind, transcript, is_final)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		uuid.NewString(), time.Now().UTC(), KindTranscript, text, isFinal,
	)
	if s.metrics != nil {
		s.metrics.RecordEventStored(ctx, KindTranscript, err)
	}
	if err != nil {
		return fmt.Errorf("eventlog: record transcript: %w", err)
	}
	return nil
}

// Recent returns the n most recent events, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Event, error) {
	const query = `
		SELECT id, timestamp, kind, state, model, score, transcript, is_final
		FROM voice_events
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("eventlog: recent: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(
			&ev.ID, &ev.Timestamp, &ev.Kind, &ev.State,
			&ev.Model, &ev.Score, &ev.Transcript, &ev.IsFinal,
		); err != nil {
			return nil, fmt.Errorf("eventlog: recent scan: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: recent: %w", err)
	}
	return events, nil
}

// Ping verifies the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	s.log.Info("event log closed", "path", s.path)
	return s.db.Close()
}
