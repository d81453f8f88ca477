// Package pipeline runs the stages in order: split, profiling, preprocess,
// feature selection, training-input assembly, training and evaluation. It owns no
// modelling logic; every stage is a call into its own package.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"detectpd/domain/core"
	"detectpd/domain/dataset"
	"detectpd/domain/run"
	"detectpd/internal"
	"detectpd/internal/config"
	"detectpd/internal/evaluation"
	"detectpd/internal/ingestion"
	"detectpd/internal/preprocessing"
	"detectpd/internal/profiling"
	"detectpd/internal/selection"
	"detectpd/internal/split"
	"detectpd/internal/training"
	"detectpd/internal/traininginput"
	"detectpd/ports"
)

// Output sub-directories under PipelineConfig.OutputDir.
const (
	SelectionDir = "feature_selection"
	ReportsDir   = "reports"
)

// Deps are the optional side effects of a run. A nil field disables the
// corresponding output.
type Deps struct {
	Renderer    ports.PlotRendererPort
	Tracker     ports.RunTrackerPort
	Reports     ports.ReportWriterPort
	CodeVersion string
}

// Result carries every stage output of one run.
type Result struct {
	Manifest      *run.Manifest
	Split         *split.Output
	Profile       *profiling.Profile
	Preprocessed  *preprocessing.Output
	Selection     *selection.Output
	TrainingInput *traininginput.Input
	Training      *training.Output
	Evaluation    *evaluation.Summary
	Artifacts     []ports.ArtifactRecord
}

// LoadDataset reads the CRF file named by cfg and normalises it.
func LoadDataset(ctx context.Context, cfg config.IngestionConfig, reader ports.CRFReaderPort, logger *internal.Logger) (*dataset.Dataset, error) {
	if cfg.FilePath == "" {
		return nil, core.NewConfigurationError("data_ingestion.file_path", "must be set")
	}
	table, err := reader.ReadTable(ctx, cfg.FilePath, cfg.SheetName)
	if err != nil {
		return nil, err
	}
	return ingestion.Normalize(table, cfg, logger)
}

// Run executes the whole pipeline on ds. When a tracker is given the run is
// started before the first stage and ended as completed or failed.
func Run(ctx context.Context, cfg *config.PipelineConfig, ds *dataset.Dataset, deps Deps, logger *internal.Logger) (*Result, error) {
	log := logger.With("Pipeline")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fp := run.NewFingerprint(ds.Fingerprint(), core.HashOf(cfg), cfg.Split.RandomSeed, deps.CodeVersion)
	manifest := run.NewManifest(cfg.Tracking.ExperimentName, cfg.Tracking.RunNameTemplate, fp, ds.NumRows(), cfg.Preprocessing.TargetColumns)
	res := &Result{Manifest: manifest}
	log.Info("Starting run %s (%s) on %d rows, fingerprint %s", manifest.RunName, manifest.RunID, ds.NumRows(), fp.Fingerprint.Short())

	tracker := deps.Tracker
	if tracker != nil {
		if err := tracker.StartRun(ctx, manifest); err != nil {
			return nil, fmt.Errorf("start run tracking: %w", err)
		}
		if err := tracker.LogParams(ctx, manifest.RunID, Params(cfg)); err != nil {
			log.Warn("Failed to log run parameters: %v", err)
		}
	}

	if err := runStages(ctx, cfg, ds, deps, res, log); err != nil {
		log.Error("Run %s failed: %v", manifest.RunID, err)
		if tracker != nil {
			if endErr := tracker.EndRun(ctx, manifest.RunID, run.StatusFailed); endErr != nil {
				log.Warn("Failed to mark run %s failed: %v", manifest.RunID, endErr)
			}
		}
		return res, err
	}

	if tracker != nil {
		if err := tracker.LogMetrics(ctx, manifest.RunID, MetricRecords(res)); err != nil {
			log.Warn("Failed to log metrics: %v", err)
		}
		if len(res.Artifacts) > 0 {
			if err := tracker.LogArtifacts(ctx, manifest.RunID, res.Artifacts); err != nil {
				log.Warn("Failed to log artifacts: %v", err)
			}
		}
		if err := tracker.EndRun(ctx, manifest.RunID, run.StatusCompleted); err != nil {
			log.Warn("Failed to mark run %s completed: %v", manifest.RunID, err)
		}
	}
	log.Info("Run %s completed", manifest.RunID)
	return res, nil
}

func runStages(ctx context.Context, cfg *config.PipelineConfig, ds *dataset.Dataset, deps Deps, res *Result, log *internal.Logger) error {
	var err error

	err = stage(ctx, log, "split", func() error {
		res.Split, err = split.Split(ds, cfg.Split, log)
		return err
	})
	if err != nil {
		return err
	}

	err = stage(ctx, log, "profiling", func() error {
		res.Profile = profiling.NewDataProfiler(log).ProfileDataset(res.Split.Train)
		for _, w := range res.Profile.Warnings(cfg.Preprocessing.LogTransformFeatures) {
			log.Warn("Training data: %s", w)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if cfg.OutputDir != "" {
		if path, err := profiling.WriteProfile(cfg.OutputDir, res.Profile); err != nil {
			log.Warn("Failed to write data profile: %v", err)
		} else {
			res.Artifacts = appendArtifact(res.Artifacts, "data_profile", path)
		}
	}

	err = stage(ctx, log, "preprocessing", func() error {
		res.Preprocessed, err = preprocessing.Preprocess(res.Split.Train, cfg.Preprocessing, log)
		return err
	})
	if err != nil {
		return err
	}

	selectionDir := filepath.Join(cfg.OutputDir, SelectionDir)
	err = stage(ctx, log, "feature_selection", func() error {
		opts := selection.Options{Renderer: deps.Renderer}
		if deps.Renderer != nil {
			opts.OutputDir = selectionDir
		}
		res.Selection, err = selection.Run(ctx, res.Preprocessed.Features, res.Preprocessed.Targets, cfg.FeatureSelection, opts, log)
		return err
	})
	if err != nil {
		return err
	}
	if cfg.OutputDir != "" && len(res.Selection.Results) > 0 {
		if path, err := selection.WriteSummary(selectionDir, res.Selection); err != nil {
			log.Warn("Failed to write selection summary: %v", err)
		} else {
			res.Artifacts = append(res.Artifacts, ports.ArtifactRecord{Name: "selected_features", Path: path})
		}
	}
	for _, target := range res.Selection.Targets() {
		r := res.Selection.Results[target]
		res.Artifacts = appendArtifact(res.Artifacts, "lasso_path_"+target, r.CVPlotPath)
		res.Artifacts = appendArtifact(res.Artifacts, "importance_"+target, r.ImportancePlot)
	}

	err = stage(ctx, log, "training_input", func() error {
		res.TrainingInput, err = traininginput.Build(res.Preprocessed, res.Selection, cfg.FeatureSelection.SharedAllowedFeatures, log)
		return err
	})
	if err != nil {
		return err
	}

	err = stage(ctx, log, "training", func() error {
		res.Training, err = training.NewTrainer(cfg.ModelTraining, log).Train(ctx, res.TrainingInput)
		return err
	})
	if err != nil {
		return err
	}

	err = stage(ctx, log, "evaluation", func() error {
		var renderer ports.PlotRendererPort
		if cfg.Evaluation.GeneratePlots {
			renderer = deps.Renderer
		}
		ev := evaluation.NewEvaluator(cfg.Evaluation, cfg.Preprocessing, renderer, log)
		res.Evaluation, err = ev.Evaluate(ctx, res.Training, res.TrainingInput, res.Split.Test)
		return err
	})
	if err != nil {
		return err
	}
	for _, target := range res.Evaluation.TargetNames() {
		res.Artifacts = appendArtifact(res.Artifacts, "discrimination_"+target, res.Evaluation.DiscriminationPlots[target])
		res.Artifacts = appendArtifact(res.Artifacts, "calibration_"+target, res.Evaluation.CalibrationPlots[target])
	}

	if deps.Reports != nil && cfg.OutputDir != "" {
		dir := filepath.Join(cfg.OutputDir, ReportsDir, res.Manifest.RunName)
		paths, err := deps.Reports.WriteReport(ctx, dir, BuildReport(res))
		if err != nil {
			log.Warn("Failed to write report: %v", err)
		}
		for _, p := range paths {
			res.Artifacts = appendArtifact(res.Artifacts, "report_"+filepath.Ext(p)[1:], p)
		}
	}
	return nil
}

// stage times one stage and stops early when ctx is done.
func stage(ctx context.Context, log *internal.Logger, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	log.Info("Stage %s started", name)
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Info("Stage %s finished in %s", name, time.Since(start).Round(time.Millisecond))
	return nil
}

func appendArtifact(list []ports.ArtifactRecord, name, path string) []ports.ArtifactRecord {
	if path == "" {
		return list
	}
	return append(list, ports.ArtifactRecord{Name: name, Path: path})
}
