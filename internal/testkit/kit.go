package testkit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"detectpd/domain/core"
	"detectpd/domain/dataset"
	"detectpd/domain/run"
	"detectpd/internal"
	"detectpd/internal/config"
	"detectpd/ports"
)

// TestKit provides testing utilities and fixtures
type TestKit struct {
	tracker *InMemoryTracker // Shared tracker instance
	logger  *internal.Logger
	cohort  CohortGeneratorConfig
}

// NewTestKit creates a new test kit instance with the default synthetic cohort
func NewTestKit() *TestKit {
	return NewTestKitWithCohort(DefaultCohortConfig())
}

// NewTestKitWithCohort creates a test kit generating cohorts from cfg
func NewTestKitWithCohort(cfg CohortGeneratorConfig) *TestKit {
	return &TestKit{
		tracker: NewInMemoryTracker(),
		logger:  internal.NewDiscardLogger(),
		cohort:  cfg,
	}
}

// Logger returns a logger that discards everything
func (t *TestKit) Logger() *internal.Logger { return t.logger }

// Tracker returns the shared in-memory run tracker
func (t *TestKit) Tracker() *InMemoryTracker { return t.tracker }

// CohortTable generates the cohort as a raw CRF table. Every call with the
// same configuration returns the same cells.
func (t *TestKit) CohortTable() dataset.RawTable {
	return NewCohortGenerator(t.cohort).GenerateTable()
}

// PipelineConfig returns the fast end-to-end configuration writing under dir
func (t *TestKit) PipelineConfig(dir string) *config.PipelineConfig {
	return PipelineConfig(dir)
}

// InMemoryTracker implements the run tracker and reader ports with in-memory storage
type InMemoryTracker struct {
	runs map[core.RunID]*ports.TrackedRun
	mu   sync.RWMutex
}

var (
	_ ports.RunTrackerPort = (*InMemoryTracker)(nil)
	_ ports.RunReaderPort  = (*InMemoryTracker)(nil)
)

func NewInMemoryTracker() *InMemoryTracker {
	return &InMemoryTracker{runs: make(map[core.RunID]*ports.TrackedRun)}
}

func (s *InMemoryTracker) StartRun(ctx context.Context, manifest *run.Manifest) error {
	if err := manifest.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[manifest.RunID]; exists {
		return fmt.Errorf("%w: run %s already recorded", core.ErrDuplicateKey, manifest.RunID)
	}
	s.runs[manifest.RunID] = &ports.TrackedRun{
		Manifest: *manifest,
		Status:   run.StatusRunning,
		Params:   map[string]string{},
	}
	return nil
}

func (s *InMemoryTracker) LogParams(ctx context.Context, runID core.RunID, params map[string]string) error {
	return s.update(runID, func(tr *ports.TrackedRun) {
		for k, v := range params {
			tr.Params[k] = v
		}
	})
}

func (s *InMemoryTracker) LogMetrics(ctx context.Context, runID core.RunID, metrics []ports.MetricRecord) error {
	return s.update(runID, func(tr *ports.TrackedRun) {
		tr.Metrics = append(tr.Metrics, metrics...)
	})
}

func (s *InMemoryTracker) LogArtifacts(ctx context.Context, runID core.RunID, artifacts []ports.ArtifactRecord) error {
	return s.update(runID, func(tr *ports.TrackedRun) {
		tr.Artifacts = append(tr.Artifacts, artifacts...)
	})
}

func (s *InMemoryTracker) EndRun(ctx context.Context, runID core.RunID, status run.Status) error {
	return s.update(runID, func(tr *ports.TrackedRun) {
		tr.Status = status
		ended := core.Now()
		tr.EndedAt = &ended
	})
}

func (s *InMemoryTracker) GetRun(ctx context.Context, runID core.RunID) (*ports.TrackedRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("%w: run %s not recorded", core.ErrInvalidInput, runID)
	}
	out := *tr
	out.Params = make(map[string]string, len(tr.Params))
	for k, v := range tr.Params {
		out.Params[k] = v
	}
	out.Metrics = append([]ports.MetricRecord(nil), tr.Metrics...)
	out.Artifacts = append([]ports.ArtifactRecord(nil), tr.Artifacts...)
	return &out, nil
}

// RunIDs returns every recorded run id in sorted order
func (s *InMemoryTracker) RunIDs() []core.RunID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]core.RunID, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *InMemoryTracker) update(runID core.RunID, fn func(tr *ports.TrackedRun)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, exists := s.runs[runID]
	if !exists {
		return fmt.Errorf("%w: run %s not recorded", core.ErrInvalidInput, runID)
	}
	fn(tr)
	return nil
}
