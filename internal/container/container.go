package container

import (
	"context"
	"fmt"

	"detectpd/adapters/excel"
	"detectpd/adapters/plots"
	"detectpd/adapters/report"
	"detectpd/adapters/tracking"
	"detectpd/internal"
	"detectpd/internal/config"
	"detectpd/internal/pipeline"
	"detectpd/ports"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.PipelineConfig
	Logger *internal.Logger

	// Data access
	Reader ports.CRFReaderPort
	Writer ports.CRFWriterPort

	// Outputs
	Renderer ports.PlotRendererPort
	Reports  ports.ReportWriterPort
	Tracker  tracking.Store

	closeTracker func() error
}

// New creates a new dependency injection container. Adapters that need no
// connection are built immediately; the tracker is opened by Init.
func New(cfg *config.PipelineConfig, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Container{
		Config:   cfg,
		Logger:   logger,
		Reader:   excel.NewDataReader(logger),
		Writer:   excel.NewDataWriter(logger),
		Renderer: plots.NewRenderer(logger),
		Reports:  report.NewWriter(logger),
	}, nil
}

// Init opens the run tracker named by the tracking configuration
func (c *Container) Init(ctx context.Context) error {
	store, closeFn, err := tracking.Open(ctx, c.Config.Tracking.TrackingURI, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to open run tracker: %w", err)
	}
	c.Tracker = store
	c.closeTracker = closeFn

	c.Logger.With("Container").Info("Container initialized (tracking: %s)", trackerKind(c.Config.Tracking.TrackingURI))
	return nil
}

func trackerKind(uri string) string {
	if tracking.IsDatabaseURI(uri) {
		return "postgres"
	}
	return "file " + uri
}

// Deps returns the pipeline side effects backed by this container
func (c *Container) Deps(codeVersion string) pipeline.Deps {
	deps := pipeline.Deps{
		Renderer:    c.Renderer,
		Reports:     c.Reports,
		CodeVersion: codeVersion,
	}
	if c.Tracker != nil {
		deps.Tracker = c.Tracker
	}
	return deps
}

// Shutdown gracefully shuts down all components
func (c *Container) Shutdown(ctx context.Context) error {
	if c.closeTracker == nil {
		return nil
	}
	closeFn := c.closeTracker
	c.closeTracker = nil
	return closeFn()
}
