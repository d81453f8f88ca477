package testkit

import (
	"context"
	"strconv"
	"testing"

	"detectpd/domain/core"
	"detectpd/domain/run"
	"detectpd/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallCohort() CohortGeneratorConfig {
	cfg := DefaultCohortConfig()
	cfg.PatientCount = 40
	return cfg
}

func TestCohortGeneratorIsDeterministic(t *testing.T) {
	a := NewCohortGenerator(smallCohort()).GenerateTable()
	b := NewCohortGenerator(smallCohort()).GenerateTable()
	assert.Equal(t, a, b)

	other := smallCohort()
	other.Seed = 7
	c := NewCohortGenerator(other).GenerateTable()
	assert.NotEqual(t, a.Rows[2:], c.Rows[2:])
}

func TestCohortTableShape(t *testing.T) {
	table := NewCohortGenerator(smallCohort()).GenerateTable()
	require.Len(t, table.Rows, 2+40)

	width := len(ColumnNames())
	for i, row := range table.Rows {
		assert.Len(t, row, width, "row %d", i)
	}
	assert.Equal(t, "Demographics", table.Rows[0][0])
	assert.Equal(t, "", table.Rows[0][1])
	assert.Equal(t, "Patient ID", table.Rows[1][0])
	assert.Equal(t, "PD0001", table.Rows[2][0])
}

func TestCohortValuesStayInClinicalRanges(t *testing.T) {
	cfg := smallCohort()
	cfg.MissingLabRate = 0
	cfg.MissingOutcomeRate = 0
	for _, p := range NewCohortGenerator(cfg).GeneratePatients() {
		assert.GreaterOrEqual(t, p.Age, 18.0)
		assert.LessOrEqual(t, p.Age, 90.0)
		assert.Contains(t, []string{"M", "F"}, p.Sex)
		assert.InDelta(t, 2.3, p.KtV, 1.5)
		assert.GreaterOrEqual(t, p.PETRatio, 0.3)
		assert.LessOrEqual(t, p.PETRatio, 0.95)
		assert.True(t, p.EGFRDate.Before(p.TKIDate))
		assert.True(t, p.TKIDate.Before(p.PDStartDate))
		assert.True(t, p.PDStartDate.Before(p.Assessment))
	}
}

func TestMissingOutcomesRenderAsBlankCells(t *testing.T) {
	cfg := smallCohort()
	cfg.MissingOutcomeRate = 1
	table := NewCohortGenerator(cfg).GenerateTable()
	ktv := len(ColumnNames()) - 2
	for _, row := range table.Rows[2:] {
		assert.Equal(t, "", row[ktv])
		assert.Equal(t, "", row[ktv+1])
		_, err := strconv.ParseFloat(row[1], 64)
		assert.NoError(t, err)
	}
}

func TestIngestionConfigCoversEveryColumn(t *testing.T) {
	cfg := IngestionConfig()
	assert.Len(t, cfg.ColumnRenames, len(ColumnNames()))
	assert.Equal(t, "ktv", cfg.ColumnRenames["Outcomes::Kt/V"])
	assert.Equal(t, "pet", cfg.ColumnRenames["Outcomes::PET D/P creatinine"])
	assert.Equal(t, "age", cfg.ColumnRenames["Demographics::Age (years)"])
	assert.Equal(t, "", FlatHeader("unknown"))
	require.NoError(t, cfg.Validate())
}

func TestPipelineConfigValidates(t *testing.T) {
	cfg := PipelineConfig(t.TempDir())
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.FeatureSelection.Targets, 2)
	assert.Len(t, cfg.ModelTraining.Targets, 2)
}

func TestInMemoryTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	tracker := NewTestKit().Tracker()

	fp := run.NewFingerprint(core.NewHash([]byte("data")), core.NewHash([]byte("cfg")), 42, "test")
	manifest := run.NewManifest("exp", "run-{timestamp}", fp, 10, []string{"ktv"})

	require.NoError(t, tracker.StartRun(ctx, manifest))
	assert.ErrorIs(t, tracker.StartRun(ctx, manifest), core.ErrDuplicateKey)
	require.NoError(t, tracker.LogParams(ctx, manifest.RunID, map[string]string{"seed": "42"}))
	require.NoError(t, tracker.LogMetrics(ctx, manifest.RunID, []ports.MetricRecord{{Stage: "evaluation", Target: "ktv", Model: "enet", Name: "r2", Value: 0.5}}))
	require.NoError(t, tracker.LogArtifacts(ctx, manifest.RunID, []ports.ArtifactRecord{{Name: "report_md", Path: "r.md"}}))
	require.NoError(t, tracker.EndRun(ctx, manifest.RunID, run.StatusCompleted))

	tr, err := tracker.GetRun(ctx, manifest.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, tr.Status)
	assert.Equal(t, "42", tr.Params["seed"])
	assert.Len(t, tr.Metrics, 1)
	assert.Len(t, tr.Artifacts, 1)
	assert.NotNil(t, tr.EndedAt)
	assert.Equal(t, []core.RunID{manifest.RunID}, tracker.RunIDs())

	_, err = tracker.GetRun(ctx, core.RunID("missing"))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.ErrorIs(t, tracker.EndRun(ctx, core.RunID("missing"), run.StatusFailed), core.ErrInvalidInput)
}
