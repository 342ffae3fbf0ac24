// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package history keeps a local record of dubctl runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("history: run not found")

// Kind of run.
const (
	KindConvert = "convert"
	KindDub     = "dub"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DefaultLimit is used by List when limit <= 0.
const DefaultLimit = 20

// Run is one finished conversion or dubbing job.
type Run struct {
	ID          string
	Kind        string
	File        string
	VideoID     string
	JobID       string
	Mode        string
	Format      string
	Languages   []string
	State       string
	ArtifactURL string
	Detail      string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration is the wall time of the run, or 0 if unknown.
func (r Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists runs.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, path: path, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK(kind IN ('convert', 'dub')),
		file TEXT NOT NULL DEFAULT '',
		video_id TEXT NOT NULL,
		job_id TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL DEFAULT '',
		format TEXT NOT NULL DEFAULT '',
		languages TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		artifact_url TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at);
	CREATE INDEX IF NOT EXISTS idx_runs_video_id ON runs(video_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores r. An empty ID gets a new UUID and a zero FinishedAt the
// current time. The stored run is returned.
func (s *Store) Record(ctx context.Context, r Run) (Run, error) {
	if r.Kind != KindConvert && r.Kind != KindDub {
		return Run{}, fmt.Errorf("history: unknown run kind %q", r.Kind)
	}
	if r.VideoID == "" {
		return Run{}, errors.New("history: video id is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = s.now()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = r.FinishedAt
	}
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	query := `
	INSERT INTO runs (id, kind, file, video_id, job_id, mode, format, languages, state, artifact_url, detail, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Kind, r.File, r.VideoID, r.JobID, r.Mode, r.Format,
		strings.Join(r.Languages, ","), r.State, r.ArtifactURL, r.Detail,
		r.StartedAt.Format(timeLayout), r.FinishedAt.Format(timeLayout),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

const selectRuns = `
	SELECT id, kind, file, video_id, job_id, mode, format, languages, state, artifact_url, detail, started_at, finished_at
	FROM runs
`

// List returns the newest runs first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY finished_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one run.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                 Run
		langs             string
		started, finished string
	)
	if err := sc.Scan(&r.ID, &r.Kind, &r.File, &r.VideoID, &r.JobID, &r.Mode, &r.Format,
		&langs, &r.State, &r.ArtifactURL, &r.Detail, &started, &finished); err != nil {
		return Run{}, err
	}
	if langs != "" {
		r.Languages = strings.Split(langs, ",")
	}
	r.StartedAt, _ = time.Parse(timeLayout, started)
	r.FinishedAt, _ = time.Parse(timeLayout, finished)
	return r, nil
}
