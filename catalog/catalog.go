// Package catalog keeps a sqlite ledger of split jobs: which source files
// were processed, into which store, where the output went and whether the
// job failed.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get when no job has the given id.
var ErrNotFound = errors.New("catalog: job not found")

// Job is one processed source file.
type Job struct {
	ID        uuid.UUID
	Source    string
	OutputDir string
	Mode      string
	Samples   uint64
	Failed    bool
	Error     string
	Started   time.Time
	Finished  time.Time
}

// Duration returns the wall time the job took.
func (j Job) Duration() time.Duration {
	return j.Finished.Sub(j.Started)
}

// Catalog wraps the job database.
type Catalog struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	output_dir TEXT NOT NULL,
	mode TEXT NOT NULL,
	samples INTEGER NOT NULL DEFAULT 0,
	failed BOOLEAN NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	started INTEGER NOT NULL,
	finished INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_finished ON jobs(finished);
CREATE INDEX IF NOT EXISTS idx_jobs_source ON jobs(source);
`

// Open opens (or creates) the catalog at path.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record stores a job, replacing any previous row with the same id.
func (c *Catalog) Record(ctx context.Context, j Job) error {
	const query = `INSERT OR REPLACE INTO jobs
		(id, source, output_dir, mode, samples, failed, error, started, finished)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		j.ID.String(), j.Source, j.OutputDir, j.Mode, int64(j.Samples),
		j.Failed, j.Error, j.Started.UnixMilli(), j.Finished.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", j.ID, err)
	}
	return nil
}

const columns = `id, source, output_dir, mode, samples, failed, error, started, finished`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var (
		j                 Job
		id                string
		samples           int64
		started, finished int64
	)
	if err := row.Scan(&id, &j.Source, &j.OutputDir, &j.Mode, &samples, &j.Failed, &j.Error, &started, &finished); err != nil {
		return Job{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Job{}, fmt.Errorf("invalid job id %q: %w", id, err)
	}
	j.ID = parsed
	j.Samples = uint64(samples)
	j.Started = time.UnixMilli(started)
	j.Finished = time.UnixMilli(finished)
	return j, nil
}

// Get returns the job with the given id.
func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+columns+` FROM jobs WHERE id = ?`, id.String())
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// Filter narrows List.
type Filter struct {
	FailedOnly bool
	Source     string
	Limit      int
}

// List returns jobs, most recent first.
func (c *Catalog) List(ctx context.Context, f Filter) ([]Job, error) {
	query := `SELECT ` + columns + ` FROM jobs WHERE 1=1`
	var args []any
	if f.FailedOnly {
		query += ` AND failed = 1`
	}
	if f.Source != "" {
		query += ` AND source = ?`
		args = append(args, f.Source)
	}
	query += ` ORDER BY finished DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Processed reports whether source already has a successful job.
func (c *Catalog) Processed(ctx context.Context, source string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE source = ? AND failed = 0`, source).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query jobs: %w", err)
	}
	return n > 0, nil
}
