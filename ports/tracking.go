package ports

import (
	"context"

	"detectpd/domain/core"
	"detectpd/domain/run"
)

// MetricRecord is one scalar metric of a (target, model) pair for a stage.
type MetricRecord struct {
	Stage  string  `json:"stage" db:"stage"`
	Target string  `json:"target" db:"target"`
	Model  string  `json:"model" db:"model"`
	Name   string  `json:"name" db:"name"`
	Value  float64 `json:"value" db:"value"`
}

// ArtifactRecord points at a file produced by a run.
type ArtifactRecord struct {
	Name string `json:"name" db:"name"`
	Path string `json:"path" db:"path"`
}

// RunTrackerPort records a run's manifest, parameters, metrics and
// artifacts. The pipeline itself never depends on what was recorded.
type RunTrackerPort interface {
	StartRun(ctx context.Context, manifest *run.Manifest) error
	LogParams(ctx context.Context, runID core.RunID, params map[string]string) error
	LogMetrics(ctx context.Context, runID core.RunID, metrics []MetricRecord) error
	LogArtifacts(ctx context.Context, runID core.RunID, artifacts []ArtifactRecord) error
	EndRun(ctx context.Context, runID core.RunID, status run.Status) error
}

// RunReaderPort reads back what a tracker recorded.
type RunReaderPort interface {
	GetRun(ctx context.Context, runID core.RunID) (*TrackedRun, error)
}

// TrackedRun is everything recorded for one run.
type TrackedRun struct {
	Manifest  run.Manifest      `json:"manifest"`
	Status    run.Status        `json:"status"`
	Params    map[string]string `json:"params"`
	Metrics   []MetricRecord    `json:"metrics"`
	Artifacts []ArtifactRecord  `json:"artifacts"`
	EndedAt   *core.Timestamp   `json:"ended_at,omitempty"`
}
