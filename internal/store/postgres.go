// Package store implements the optional Postgres mirror: when enabled,
// the run summary and posterior reservoir rows are upserted into
// nested_runs and nested_posterior_samples at every checkpoint cadence,
// as an additional sink alongside (never instead of) the atomic
// file-based resume that crash consistency relies on.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/nestedsampling/polychord-go/internal/config"
	"github.com/nestedsampling/polychord-go/internal/posterior"
	"github.com/nestedsampling/polychord-go/internal/resilience"
)

// Store wraps a pooled Postgres connection.
type Store struct {
	db  *sql.DB
	cfg config.PostgresConfig
}

// New opens a pooled Postgres connection and verifies it with a ping,
// retrying per internal/resilience.Retry, then ensures the mirror tables
// exist.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	err = resilience.Retry(ctx, "postgres-connect", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a transaction, committing on success and rolling
// back on error.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS nested_runs (
			file_root TEXT PRIMARY KEY,
			ndead INTEGER NOT NULL,
			log_z DOUBLE PRECISION NOT NULL,
			log_z_sigma DOUBLE PRECISION NOT NULL,
			total_likelihood_calls BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("creating nested_runs table: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS nested_posterior_samples (
			file_root TEXT NOT NULL,
			row_index INTEGER NOT NULL,
			log_weight DOUBLE PRECISION NOT NULL,
			log_l DOUBLE PRECISION NOT NULL,
			physical DOUBLE PRECISION[] NOT NULL,
			derived DOUBLE PRECISION[] NOT NULL,
			PRIMARY KEY (file_root, row_index)
		)`)
	if err != nil {
		return fmt.Errorf("creating nested_posterior_samples table: %w", err)
	}
	return nil
}

// MirrorRun upserts the run-level summary row for fileRoot.
func (s *Store) MirrorRun(ctx context.Context, fileRoot string, ndead int, logZ, logZSigma float64, totalLikelihoodCalls int64) error {
	return s.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO nested_runs (file_root, ndead, log_z, log_z_sigma, total_likelihood_calls, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (file_root) DO UPDATE SET
				ndead = EXCLUDED.ndead,
				log_z = EXCLUDED.log_z,
				log_z_sigma = EXCLUDED.log_z_sigma,
				total_likelihood_calls = EXCLUDED.total_likelihood_calls,
				updated_at = now()`,
			fileRoot, ndead, logZ, logZSigma, totalLikelihoodCalls,
		)
		return err
	})
}

// MirrorPosterior replaces the mirrored posterior rows for fileRoot with
// the reservoir's current contents.
func (s *Store) MirrorPosterior(ctx context.Context, fileRoot string, rows []posterior.Row) error {
	return s.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM nested_posterior_samples WHERE file_root = $1`, fileRoot); err != nil {
			return fmt.Errorf("clearing previous mirror rows: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO nested_posterior_samples (file_root, row_index, log_weight, log_l, physical, derived)
			VALUES ($1, $2, $3, $4, $5, $6)`)
		if err != nil {
			return fmt.Errorf("preparing posterior insert: %w", err)
		}
		defer stmt.Close()
		for i, row := range rows {
			if _, err := stmt.ExecContext(ctx, fileRoot, i, row.LogWeight, row.LogL, pqFloatArray(row.Physical), pqFloatArray(row.Derived)); err != nil {
				return fmt.Errorf("inserting posterior row %d: %w", i, err)
			}
		}
		return nil
	})
}

// pqFloatArray formats a []float64 as a Postgres array literal understood
// by lib/pq's driver.Valuer fallback (string form), avoiding a dependency
// on the pq.Array helper so this package's only lib/pq surface is the
// database/sql driver registration.
func pqFloatArray(values []float64) string {
	s := "{"
	for i, v := range values {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%g", v)
	}
	return s + "}"
}
