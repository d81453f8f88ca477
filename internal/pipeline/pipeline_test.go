package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"detectpd/adapters/plots"
	"detectpd/adapters/report"
	"detectpd/adapters/tracking"
	"detectpd/domain/core"
	"detectpd/domain/dataset"
	"detectpd/domain/run"
	"detectpd/internal/ingestion"
	"detectpd/internal/testkit"
	"detectpd/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cohortDataset(t *testing.T, kit *testkit.TestKit) *dataset.Dataset {
	t.Helper()
	ds, err := ingestion.Normalize(kit.CohortTable(), testkit.IngestionConfig(), kit.Logger())
	require.NoError(t, err)
	return ds
}

func TestRunEndToEndWithFileTracker(t *testing.T) {
	kit := testkit.NewTestKit()
	dir := t.TempDir()
	cfg := kit.PipelineConfig(dir)
	ds := cohortDataset(t, kit)

	store := tracking.NewFileStore(filepath.Join(dir, "runs"), kit.Logger())
	deps := Deps{
		Renderer:    plots.NewRenderer(kit.Logger()),
		Tracker:     store,
		Reports:     report.NewWriter(kit.Logger()),
		CodeVersion: "test",
	}

	res, err := Run(context.Background(), cfg, ds, deps, kit.Logger())
	require.NoError(t, err)
	require.NotNil(t, res.Manifest)
	assert.Equal(t, ds.NumRows(), res.Manifest.Rows)
	assert.Equal(t, []string{"ktv", "pet"}, res.Manifest.Targets)
	assert.Equal(t, "test", res.Manifest.Fingerprint.CodeVersion)

	assert.ElementsMatch(t, []string{"ktv", "pet"}, res.Selection.Targets())
	assert.ElementsMatch(t, []string{"ktv", "pet"}, res.Training.TargetNames())
	require.Contains(t, res.Evaluation.Targets, "ktv")
	assert.Len(t, res.Evaluation.Targets["ktv"].Models, 2)
	assert.NotEmpty(t, res.Evaluation.Targets["ktv"].BestModel)
	assert.Len(t, Describe(res), 2)

	tr, err := store.GetRun(context.Background(), res.Manifest.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, tr.Status)
	assert.NotNil(t, tr.EndedAt)
	assert.Equal(t, "42", tr.Params["split.random_seed"])
	assert.NotEmpty(t, tr.Metrics)
	assert.Equal(t, res.Artifacts, tr.Artifacts)

	names := map[string]string{}
	for _, a := range res.Artifacts {
		names[a.Name] = a.Path
	}
	require.NotNil(t, res.Profile)
	_, ok := res.Profile.Column("albumin")
	assert.True(t, ok)
	for _, name := range []string{"data_profile", "selected_features", "report_md", "report_html", "calibration_ktv"} {
		require.Contains(t, names, name)
		_, err := os.Stat(names[name])
		assert.NoError(t, err, name)
	}
	assert.Equal(t, filepath.Join(dir, ReportsDir, res.Manifest.RunName), filepath.Dir(names["report_md"]))
}

func TestRunWithoutSideEffects(t *testing.T) {
	kit := testkit.NewTestKit()
	cfg := kit.PipelineConfig("")
	cfg.Evaluation.GeneratePlots = false
	ds := cohortDataset(t, kit)

	res, err := Run(context.Background(), cfg, ds, Deps{Tracker: kit.Tracker()}, kit.Logger())
	require.NoError(t, err)
	assert.Empty(t, res.Artifacts)

	tr, err := kit.Tracker().GetRun(context.Background(), res.Manifest.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, tr.Status)

	stages := map[string]bool{}
	for _, m := range tr.Metrics {
		stages[m.Stage] = true
	}
	assert.True(t, stages[StageProfiling])
	assert.True(t, stages[StageSelection])
	assert.True(t, stages[StageTraining])
	assert.True(t, stages[StageEvaluation])
}

func TestRunMarksCancelledRunFailed(t *testing.T) {
	kit := testkit.NewTestKit()
	ds := cohortDataset(t, kit)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, kit.PipelineConfig(""), ds, Deps{Tracker: kit.Tracker()}, kit.Logger())
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	tr, err := kit.Tracker().GetRun(context.Background(), res.Manifest.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, tr.Status)
	assert.Empty(t, tr.Metrics)
}

func TestRunRejectsInvalidConfiguration(t *testing.T) {
	kit := testkit.NewTestKit()
	cfg := kit.PipelineConfig("")
	cfg.Split.TestSize = 0.9

	_, err := Run(context.Background(), cfg, cohortDataset(t, kit), Deps{Tracker: kit.Tracker()}, kit.Logger())
	require.ErrorIs(t, err, core.ErrInvalidConfiguration)
	assert.Empty(t, kit.Tracker().RunIDs())
}

func TestRunFingerprintIsStableForSameInputs(t *testing.T) {
	kit := testkit.NewTestKit()
	cfg := kit.PipelineConfig("")
	cfg.Evaluation.GeneratePlots = false

	a, err := Run(context.Background(), cfg, cohortDataset(t, kit), Deps{}, kit.Logger())
	require.NoError(t, err)
	b, err := Run(context.Background(), cfg, cohortDataset(t, kit), Deps{}, kit.Logger())
	require.NoError(t, err)
	assert.Equal(t, a.Manifest.Fingerprint.Fingerprint, b.Manifest.Fingerprint.Fingerprint)
	assert.NotEqual(t, a.Manifest.RunID, b.Manifest.RunID)
}

type failingReader struct{}

func (failingReader) ReadTable(context.Context, string, string) (dataset.RawTable, error) {
	return dataset.RawTable{}, os.ErrNotExist
}

func TestLoadDataset(t *testing.T) {
	kit := testkit.NewTestKit()
	cfg := testkit.IngestionConfig()

	_, err := LoadDataset(context.Background(), cfg, failingReader{}, kit.Logger())
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	cfg.FilePath = "missing.xlsx"
	_, err = LoadDataset(context.Background(), cfg, failingReader{}, kit.Logger())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuildReportWithoutEvaluation(t *testing.T) {
	rep := BuildReport(&Result{})
	assert.Empty(t, rep.Sections)
	assert.Equal(t, ports.Report{Title: "DETECT-PD model evaluation"}, rep)
}
