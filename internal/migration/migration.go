package migration

import (
	"context"
	"fmt"

	"detectpd/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the run tracking schema.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Tables lists the tracking tables in dependency order.
var Tables = []string{"runs", "run_params", "run_metrics", "run_artifacts"}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createRunsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create runs table")
	}

	if err := r.createParamsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create run_params table")
	}

	if err := r.createMetricsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create run_metrics table")
	}

	if err := r.createArtifactsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create run_artifacts table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

// Reset drops every tracking table. Used by the migrate command's --reset flag.
func (r *MigrationRunner) Reset(ctx context.Context, db *sqlx.DB) error {
	for i := len(Tables) - 1; i >= 0; i-- {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", Tables[i])); err != nil {
			return errors.Wrapf(err, "failed to drop table %s", Tables[i])
		}
	}
	return nil
}

func (r *MigrationRunner) createRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			run_id UUID PRIMARY KEY,
			run_name VARCHAR(255) NOT NULL,
			experiment_name VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'running',
			dataset_hash VARCHAR(64) NOT NULL,
			config_hash VARCHAR(64) NOT NULL,
			seed BIGINT NOT NULL,
			code_version VARCHAR(64),
			fingerprint VARCHAR(64) NOT NULL,
			row_count INTEGER NOT NULL DEFAULT 0,
			targets TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMP WITH TIME ZONE
		)
	`)
	return err
}

func (r *MigrationRunner) createParamsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_params (
			run_id UUID NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			key VARCHAR(255) NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (run_id, key)
		)
	`)
	return err
}

func (r *MigrationRunner) createMetricsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_metrics (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			stage VARCHAR(64) NOT NULL,
			target VARCHAR(128) NOT NULL,
			model VARCHAR(128) NOT NULL DEFAULT '',
			name VARCHAR(128) NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			logged_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createArtifactsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_artifacts (
			run_id UUID NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			path TEXT NOT NULL,
			PRIMARY KEY (run_id, name)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment_name, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint)",
		"CREATE INDEX IF NOT EXISTS idx_run_metrics_run ON run_metrics(run_id, stage, target)",
	}

	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
