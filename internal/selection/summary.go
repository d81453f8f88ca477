package selection

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SummaryFile is the name of the per-run selection summary.
const SummaryFile = "selected_features.json"

type summaryEntry struct {
	SelectedFeatures []string           `json:"selected_features"`
	Coefficients     map[string]float64 `json:"coefficients"`
	Alpha            float64            `json:"alpha"`
	MSEPlot          string             `json:"mse_plot,omitempty"`
	ImportancePlot   string             `json:"importance_plot,omitempty"`
}

// WriteSummary writes selected_features.json into dir and returns its path.
func WriteSummary(dir string, out *Output) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create selection output dir: %w", err)
	}
	summary := make(map[string]summaryEntry, len(out.Results))
	for target, r := range out.Results {
		summary[target] = summaryEntry{
			SelectedFeatures: r.SelectedFeatures,
			Coefficients:     r.Coefficients,
			Alpha:            r.OptimalAlpha,
			MSEPlot:          r.CVPlotPath,
			ImportancePlot:   r.ImportancePlot,
		}
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode selection summary: %w", err)
	}
	path := filepath.Join(dir, SummaryFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write selection summary: %w", err)
	}
	return path, nil
}
