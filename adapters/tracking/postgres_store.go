package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"detectpd/domain/core"
	"detectpd/domain/run"
	"detectpd/internal"
	"detectpd/ports"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore records runs in the tables created by internal/migration.
type PostgresStore struct {
	db     *sqlx.DB
	logger *internal.Logger
}

var (
	_ ports.RunTrackerPort = (*PostgresStore)(nil)
	_ ports.RunReaderPort  = (*PostgresStore)(nil)
)

// NewPostgresStore wraps an open connection. The schema must already exist.
func NewPostgresStore(db *sqlx.DB, logger *internal.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger.With("PostgresTracker")}
}

type runRow struct {
	RunID          string         `db:"run_id"`
	RunName        string         `db:"run_name"`
	ExperimentName string         `db:"experiment_name"`
	Status         string         `db:"status"`
	DatasetHash    string         `db:"dataset_hash"`
	ConfigHash     string         `db:"config_hash"`
	Seed           int64          `db:"seed"`
	CodeVersion    sql.NullString `db:"code_version"`
	Fingerprint    string         `db:"fingerprint"`
	Rows           int            `db:"row_count"`
	Targets        pq.StringArray `db:"targets"`
	CreatedAt      time.Time      `db:"created_at"`
	EndedAt        sql.NullTime   `db:"ended_at"`
}

type metricRow struct {
	RunID string `db:"run_id"`
	ports.MetricRecord
}

type artifactRow struct {
	RunID string `db:"run_id"`
	ports.ArtifactRecord
}

func (s *PostgresStore) StartRun(ctx context.Context, manifest *run.Manifest) error {
	if err := manifest.Validate(); err != nil {
		return err
	}
	fp := manifest.Fingerprint
	row := runRow{
		RunID:          manifest.RunID.String(),
		RunName:        manifest.RunName,
		ExperimentName: manifest.ExperimentName,
		Status:         string(run.StatusRunning),
		DatasetHash:    fp.DatasetHash.String(),
		ConfigHash:     fp.ConfigHash.String(),
		Seed:           fp.Seed,
		CodeVersion:    sql.NullString{String: fp.CodeVersion, Valid: fp.CodeVersion != ""},
		Fingerprint:    fp.Fingerprint.String(),
		Rows:           manifest.Rows,
		Targets:        pq.StringArray(manifest.Targets),
		CreatedAt:      manifest.CreatedAt.Time(),
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (
			run_id, run_name, experiment_name, status, dataset_hash, config_hash,
			seed, code_version, fingerprint, row_count, targets, created_at
		) VALUES (
			:run_id, :run_name, :experiment_name, :status, :dataset_hash, :config_hash,
			:seed, :code_version, :fingerprint, :row_count, :targets, :created_at
		)
	`, row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return fmt.Errorf("%w: run %s already recorded", core.ErrDuplicateKey, manifest.RunID)
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}
	s.logger.Info("started run %s (%s)", manifest.RunID, manifest.RunName)
	return nil
}

func (s *PostgresStore) LogParams(ctx context.Context, runID core.RunID, params map[string]string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for k, v := range params {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO run_params (run_id, key, value) VALUES ($1, $2, $3)
				ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value
			`, runID.String(), k, v)
			if err != nil {
				return fmt.Errorf("failed to log param %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) LogMetrics(ctx context.Context, runID core.RunID, metrics []ports.MetricRecord) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, m := range metrics {
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO run_metrics (run_id, stage, target, model, name, value)
				VALUES (:run_id, :stage, :target, :model, :name, :value)
			`, metricRow{RunID: runID.String(), MetricRecord: m})
			if err != nil {
				return fmt.Errorf("failed to log metric %s/%s/%s: %w", m.Target, m.Model, m.Name, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) LogArtifacts(ctx context.Context, runID core.RunID, artifacts []ports.ArtifactRecord) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, a := range artifacts {
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO run_artifacts (run_id, name, path) VALUES (:run_id, :name, :path)
				ON CONFLICT (run_id, name) DO UPDATE SET path = EXCLUDED.path
			`, artifactRow{RunID: runID.String(), ArtifactRecord: a})
			if err != nil {
				return fmt.Errorf("failed to log artifact %s: %w", a.Name, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) EndRun(ctx context.Context, runID core.RunID, status run.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $2, ended_at = NOW() WHERE run_id = $1
	`, runID.String(), string(status))
	if err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: run %s not recorded", core.ErrInvalidInput, runID)
	}
	return nil
}

// GetRun reads a recorded run back.
func (s *PostgresStore) GetRun(ctx context.Context, runID core.RunID) (*ports.TrackedRun, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `
		SELECT run_id, run_name, experiment_name, status, dataset_hash, config_hash,
		       seed, code_version, fingerprint, row_count, targets, created_at, ended_at
		FROM runs
		WHERE run_id = $1
	`, runID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s not recorded", core.ErrInvalidInput, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	tr := &ports.TrackedRun{
		Manifest: run.Manifest{
			RunID:          core.RunID(row.RunID),
			RunName:        row.RunName,
			ExperimentName: row.ExperimentName,
			Fingerprint: run.Fingerprint{
				DatasetHash: core.Hash(row.DatasetHash),
				ConfigHash:  core.Hash(row.ConfigHash),
				Seed:        row.Seed,
				CodeVersion: row.CodeVersion.String,
				Fingerprint: core.Hash(row.Fingerprint),
			},
			Rows:      row.Rows,
			Targets:   []string(row.Targets),
			CreatedAt: core.NewTimestamp(row.CreatedAt),
		},
		Status: run.Status(row.Status),
		Params: map[string]string{},
	}
	if row.EndedAt.Valid {
		ended := core.NewTimestamp(row.EndedAt.Time)
		tr.EndedAt = &ended
	}

	var params []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &params, `
		SELECT key, value FROM run_params WHERE run_id = $1 ORDER BY key
	`, runID.String()); err != nil {
		return nil, fmt.Errorf("failed to load params: %w", err)
	}
	for _, p := range params {
		tr.Params[p.Key] = p.Value
	}

	if err := s.db.SelectContext(ctx, &tr.Metrics, `
		SELECT stage, target, model, name, value FROM run_metrics WHERE run_id = $1 ORDER BY id
	`, runID.String()); err != nil {
		return nil, fmt.Errorf("failed to load metrics: %w", err)
	}

	if err := s.db.SelectContext(ctx, &tr.Artifacts, `
		SELECT name, path FROM run_artifacts WHERE run_id = $1 ORDER BY name
	`, runID.String()); err != nil {
		return nil, fmt.Errorf("failed to load artifacts: %w", err)
	}
	return tr, nil
}

// ImportRun copies a run recorded elsewhere, keeping its status and end
// time. Importing a run id that already exists returns ErrDuplicateKey.
func (s *PostgresStore) ImportRun(ctx context.Context, tr *ports.TrackedRun) error {
	if err := s.StartRun(ctx, &tr.Manifest); err != nil {
		return err
	}
	runID := tr.Manifest.RunID
	if err := s.LogParams(ctx, runID, tr.Params); err != nil {
		return err
	}
	if err := s.LogMetrics(ctx, runID, tr.Metrics); err != nil {
		return err
	}
	if err := s.LogArtifacts(ctx, runID, tr.Artifacts); err != nil {
		return err
	}
	var ended sql.NullTime
	if tr.EndedAt != nil {
		ended = sql.NullTime{Time: tr.EndedAt.Time(), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $2, ended_at = $3 WHERE run_id = $1
	`, runID.String(), string(tr.Status), ended); err != nil {
		return fmt.Errorf("failed to set imported run status: %w", err)
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
