package report

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"detectpd/internal"
	"detectpd/internal/errors"
	"detectpd/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport(dir string) ports.Report {
	return ports.Report{
		Title:   "DETECT-PD evaluation",
		RunID:   "0191d3a4-0000-7000-8000-000000000000",
		RunName: "detect-pd-test",
		Sections: []ports.ReportSection{{
			Target:           "ktv",
			BestModel:        "enet",
			ComparisonMetric: "r2",
			MetricNames:      []string{"mae", "r2"},
			Rows: []ports.ReportRow{
				{Model: "enet", Values: []float64{0.1234567, 0.9}},
				{Model: "xgboost", Values: []float64{0.2, math.NaN()}},
			},
			SelectedFeatures: []string{"age", "albumin"},
			Plots:            []string{filepath.Join(dir, "plots", "calibration_ktv.png")},
		}},
	}
}

func TestRenderMarkdown(t *testing.T) {
	dir := "/tmp/report"
	md := string(RenderMarkdown(dir, sampleReport(dir)))

	assert.Contains(t, md, "# DETECT-PD evaluation")
	assert.Contains(t, md, "## ktv")
	assert.Contains(t, md, "Best model by r2: **enet**")
	assert.Contains(t, md, "| Model | mae | r2 |")
	assert.Contains(t, md, "| **enet** | 0.1235 | 0.9000 |")
	assert.Contains(t, md, "| xgboost | 0.2000 | n/a |")
	assert.Contains(t, md, "Selected features (2): age, albumin")
	assert.Contains(t, md, "![calibration_ktv](plots/calibration_ktv.png)")
}

func TestRenderMarkdownWithoutSections(t *testing.T) {
	md := string(RenderMarkdown(t.TempDir(), ports.Report{}))
	assert.Contains(t, md, "# Evaluation report")
	assert.Contains(t, md, "No targets were evaluated.")
}

func TestWriteReportWritesMarkdownAndHTML(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "report")
	w := NewWriter(internal.NewDiscardLogger())

	paths, err := w.WriteReport(context.Background(), dir, sampleReport(dir))
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, MarkdownFile), filepath.Join(dir, HTMLFile)}, paths)

	page, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Contains(t, string(page), "<title>DETECT-PD evaluation</title>")
	assert.Contains(t, string(page), "<table>")
	assert.Contains(t, string(page), `src="plots/calibration_ktv.png"`)
}

func TestWriteReportReportsFilesystemFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := NewWriter(internal.NewDiscardLogger()).WriteReport(context.Background(), filepath.Join(blocker, "report"), ports.Report{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeExternalService, errors.GetCode(err))
}

func TestWriteReportHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewWriter(internal.NewDiscardLogger()).WriteReport(ctx, t.TempDir(), ports.Report{})
	assert.ErrorIs(t, err, context.Canceled)
}
