// Package store persists tracked job listings and fill outcomes to
// PostgreSQL. The fill engine never depends on it; persistence is an
// optional sidecar wired in by the server when a database is configured.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applyflow/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL implementation of the job repository.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.JobRepository = (*Store)(nil)

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS job_listings (
	id         UUID PRIMARY KEY,
	title      TEXT NOT NULL,
	company    TEXT NOT NULL,
	location   TEXT NOT NULL DEFAULT '',
	url        TEXT NOT NULL UNIQUE,
	source     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'saved',
	notes      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS applications (
	id               UUID PRIMARY KEY,
	job_id           UUID NOT NULL REFERENCES job_listings(id) ON DELETE CASCADE,
	profile_snapshot JSONB NOT NULL DEFAULT '{}',
	filled_count     INTEGER NOT NULL DEFAULT 0,
	failed_count     INTEGER NOT NULL DEFAULT 0,
	errors           JSONB NOT NULL DEFAULT '[]',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_applications_job_id ON applications(job_id);
CREATE INDEX IF NOT EXISTS idx_job_listings_status ON job_listings(status);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpsertJob inserts a listing or, when the URL is already tracked,
// refreshes its mutable columns. A missing id or status is assigned here.
func (s *Store) UpsertJob(ctx context.Context, job schemas.JobListing) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = schemas.JobStatusSaved
	}
	if job.URL == "" {
		return fmt.Errorf("job listing requires a url")
	}

	const q = `
		INSERT INTO job_listings (id, title, company, location, url, source, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (url) DO UPDATE SET
			title      = EXCLUDED.title,
			company    = EXCLUDED.company,
			location   = EXCLUDED.location,
			source     = EXCLUDED.source,
			status     = EXCLUDED.status,
			notes      = EXCLUDED.notes,
			updated_at = now()`

	if _, err := s.pool.Exec(ctx, q,
		job.ID, job.Title, job.Company, job.Location,
		job.URL, job.Source, string(job.Status), job.Notes,
	); err != nil {
		return fmt.Errorf("failed to upsert job listing: %w", err)
	}
	return nil
}

// RecordApplication stores one fill outcome and advances the listing to
// applied, atomically.
func (s *Store) RecordApplication(ctx context.Context, app schemas.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.JobID == "" {
		return fmt.Errorf("application requires a job id")
	}

	snapshot := app.ProfileSnapshot
	if len(snapshot) == 0 || string(snapshot) == "null" {
		snapshot = json.RawMessage("{}")
	}
	errs := app.Errors
	if errs == nil {
		errs = []string{}
	}
	errList, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to encode application errors: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	const insertApp = `
		INSERT INTO applications (id, job_id, profile_snapshot, filled_count, failed_count, errors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`
	if _, err := tx.Exec(ctx, insertApp,
		app.ID, app.JobID, snapshot, app.FilledCount, app.FailedCount, errList,
	); err != nil {
		return fmt.Errorf("failed to insert application: %w", err)
	}

	const advanceJob = `
		UPDATE job_listings SET status = $1, updated_at = now() WHERE id = $2`
	if _, err := tx.Exec(ctx, advanceJob, string(schemas.JobStatusApplied), app.JobID); err != nil {
		return fmt.Errorf("failed to advance job status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListJobs returns tracked listings, newest first, optionally filtered by
// status. An empty status returns everything.
func (s *Store) ListJobs(ctx context.Context, status schemas.JobStatus) ([]schemas.JobListing, error) {
	const base = `
		SELECT id, title, company, location, url, source, status, notes, created_at, updated_at
		FROM job_listings`

	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.pool.Query(ctx, base+` ORDER BY updated_at DESC`)
	} else {
		rows, err = s.pool.Query(ctx, base+` WHERE status = $1 ORDER BY updated_at DESC`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job listings: %w", err)
	}
	defer rows.Close()

	var out []schemas.JobListing
	for rows.Next() {
		var (
			j         schemas.JobListing
			rawStatus string
			created   time.Time
			updated   time.Time
		)
		if err := rows.Scan(&j.ID, &j.Title, &j.Company, &j.Location, &j.URL, &j.Source, &rawStatus, &j.Notes, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan job listing: %w", err)
		}
		j.Status = schemas.JobStatus(rawStatus)
		j.CreatedAt = created
		j.UpdatedAt = updated
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job listings: %w", err)
	}
	return out, nil
}
