package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"detectpd/domain/core"
	"detectpd/domain/run"
	"detectpd/internal"
	"detectpd/ports"
)

const runFile = "run.json"

// FileStore keeps every run as <root>/<run_id>/run.json. Each call rewrites
// the whole file so a crashed run still leaves a readable record.
type FileStore struct {
	root   string
	mu     sync.Mutex
	logger *internal.Logger
}

var (
	_ ports.RunTrackerPort = (*FileStore)(nil)
	_ ports.RunReaderPort  = (*FileStore)(nil)
)

// NewFileStore creates a store rooted at dir. The directory is created on
// the first write.
func NewFileStore(dir string, logger *internal.Logger) *FileStore {
	return &FileStore{root: dir, logger: logger.With("FileTracker")}
}

// Root returns the directory runs are written under.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) StartRun(ctx context.Context, manifest *run.Manifest) error {
	if err := manifest.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(manifest.RunID)); err == nil {
		return fmt.Errorf("%w: run %s already recorded", core.ErrDuplicateKey, manifest.RunID)
	}
	tr := &ports.TrackedRun{
		Manifest: *manifest,
		Status:   run.StatusRunning,
		Params:   map[string]string{},
	}
	if err := s.write(tr); err != nil {
		return err
	}
	s.logger.Info("started run %s (%s) in %s", manifest.RunID, manifest.RunName, s.dir(manifest.RunID))
	return nil
}

func (s *FileStore) LogParams(ctx context.Context, runID core.RunID, params map[string]string) error {
	return s.update(runID, func(tr *ports.TrackedRun) {
		for k, v := range params {
			tr.Params[k] = v
		}
	})
}

func (s *FileStore) LogMetrics(ctx context.Context, runID core.RunID, metrics []ports.MetricRecord) error {
	return s.update(runID, func(tr *ports.TrackedRun) {
		tr.Metrics = append(tr.Metrics, metrics...)
	})
}

func (s *FileStore) LogArtifacts(ctx context.Context, runID core.RunID, artifacts []ports.ArtifactRecord) error {
	return s.update(runID, func(tr *ports.TrackedRun) {
		index := make(map[string]int, len(tr.Artifacts))
		for i, a := range tr.Artifacts {
			index[a.Name] = i
		}
		for _, a := range artifacts {
			if i, ok := index[a.Name]; ok {
				tr.Artifacts[i] = a
				continue
			}
			index[a.Name] = len(tr.Artifacts)
			tr.Artifacts = append(tr.Artifacts, a)
		}
	})
}

func (s *FileStore) EndRun(ctx context.Context, runID core.RunID, status run.Status) error {
	return s.update(runID, func(tr *ports.TrackedRun) {
		now := core.Now()
		tr.Status = status
		tr.EndedAt = &now
	})
}

// GetRun reads a recorded run back.
func (s *FileStore) GetRun(ctx context.Context, runID core.RunID) (*ports.TrackedRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(runID)
}

// ListRuns returns the ids of every recorded run in lexical order, which for
// time-ordered ids is creation order.
func (s *FileStore) ListRuns(ctx context.Context) ([]core.RunID, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list runs in %s: %w", s.root, err)
	}
	var ids []core.RunID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), runFile)); err != nil {
			continue
		}
		ids = append(ids, core.RunID(e.Name()))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *FileStore) update(runID core.RunID, mutate func(*ports.TrackedRun)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, err := s.read(runID)
	if err != nil {
		return err
	}
	if tr.Params == nil {
		tr.Params = map[string]string{}
	}
	mutate(tr)
	return s.write(tr)
}

func (s *FileStore) read(runID core.RunID) (*ports.TrackedRun, error) {
	data, err := os.ReadFile(s.path(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: run %s not recorded", core.ErrInvalidInput, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	var tr ports.TrackedRun
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &tr, nil
}

func (s *FileStore) write(tr *ports.TrackedRun) error {
	dir := s.dir(tr.Manifest.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	tmp := filepath.Join(dir, runFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run: %w", err)
	}
	return os.Rename(tmp, filepath.Join(dir, runFile))
}

func (s *FileStore) dir(runID core.RunID) string {
	return filepath.Join(s.root, runID.String())
}

func (s *FileStore) path(runID core.RunID) string {
	return filepath.Join(s.dir(runID), runFile)
}
