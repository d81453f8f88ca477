// Package profiling summarises the columns of a dataset before modelling:
// missingness, location, spread, shape and IQR outliers. The profile is
// informational; no stage reads it back.
package profiling

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"detectpd/domain/dataset"
	"detectpd/internal"
)

// ProfileFile is the file name WriteProfile uses.
const ProfileFile = "data_profile.json"

// Default thresholds for Warnings.
const (
	HighMissingRate = 0.2
	HighSkewness    = 1.0
)

// ColumnProfile describes one column.
type ColumnProfile struct {
	Name         string        `json:"name"`
	Kind         string        `json:"kind"`
	Count        int           `json:"count"`
	Missing      int           `json:"missing"`
	MissingRate  float64       `json:"missing_rate"`
	Levels       int           `json:"levels,omitempty"`
	Summary      *Summary      `json:"summary,omitempty"`
	Distribution *Distribution `json:"distribution,omitempty"`
}

// Profile is the per-column profile of one dataset, ordered by column name.
type Profile struct {
	Rows    int             `json:"rows"`
	Columns []ColumnProfile `json:"columns"`
}

// DataProfiler profiles datasets column by column.
type DataProfiler struct {
	logger *internal.Logger
}

// NewDataProfiler creates a new data profiler
func NewDataProfiler(logger *internal.Logger) *DataProfiler {
	return &DataProfiler{logger: logger.With("Profiler")}
}

// ProfileDataset profiles every column of ds. Numeric columns with fewer
// than two observed values get counts only.
func (dp *DataProfiler) ProfileDataset(ds *dataset.Dataset) *Profile {
	names := ds.Columns()
	sort.Strings(names)

	p := &Profile{Rows: ds.NumRows(), Columns: make([]ColumnProfile, 0, len(names))}
	for _, name := range names {
		col, _ := ds.Column(name)
		p.Columns = append(p.Columns, dp.profileColumn(name, col))
	}
	dp.logger.Debug("Profiled %d columns over %d rows", len(p.Columns), p.Rows)
	return p
}

func (dp *DataProfiler) profileColumn(name string, col *dataset.Column) ColumnProfile {
	n := col.Len()
	cp := ColumnProfile{Name: name, Kind: col.Kind.String(), Count: n}
	for i := 0; i < n; i++ {
		if col.IsMissing(i) {
			cp.Missing++
		}
	}
	if n > 0 {
		cp.MissingRate = float64(cp.Missing) / float64(n)
	}

	switch col.Kind {
	case dataset.Numeric:
		observed := make([]float64, 0, n-cp.Missing)
		for _, v := range col.Floats {
			if !math.IsNaN(v) {
				observed = append(observed, v)
			}
		}
		if len(observed) < 2 {
			return cp
		}
		s, d, err := analyzeDistribution(observed)
		if err != nil {
			dp.logger.Debug("Could not summarise %s: %v", name, err)
			return cp
		}
		cp.Summary = &s
		cp.Distribution = &d
	case dataset.Categorical:
		levels := map[string]bool{}
		for i, v := range col.Strings {
			if !col.IsMissing(i) {
				levels[v] = true
			}
		}
		cp.Levels = len(levels)
	}
	return cp
}

// Column returns the profile of name.
func (p *Profile) Column(name string) (ColumnProfile, bool) {
	i := sort.Search(len(p.Columns), func(i int) bool { return p.Columns[i].Name >= name })
	if i < len(p.Columns) && p.Columns[i].Name == name {
		return p.Columns[i], true
	}
	return ColumnProfile{}, false
}

// Warnings lists columns missing more than HighMissingRate of their values
// and numeric columns whose skewness exceeds HighSkewness in magnitude,
// unless they are already log-transformed.
func (p *Profile) Warnings(logTransformed []string) []string {
	skip := make(map[string]bool, len(logTransformed))
	for _, c := range logTransformed {
		skip[c] = true
	}
	var out []string
	for _, c := range p.Columns {
		if c.MissingRate > HighMissingRate {
			out = append(out, fmt.Sprintf("%s is missing in %.0f%% of rows", c.Name, 100*c.MissingRate))
		}
		if c.Distribution != nil && !skip[c.Name] && math.Abs(c.Distribution.Skewness) > HighSkewness {
			out = append(out, fmt.Sprintf("%s is skewed (%.2f); consider log_transform_features", c.Name, c.Distribution.Skewness))
		}
	}
	return out
}

// WriteProfile stores p as JSON in dir and returns the file path.
func WriteProfile(dir string, p *Profile) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode profile: %w", err)
	}
	path := filepath.Join(dir, ProfileFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write profile: %w", err)
	}
	return path, nil
}
