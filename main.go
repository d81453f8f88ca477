package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"detectpd/internal"
	"detectpd/internal/config"
	"detectpd/internal/container"
	"detectpd/internal/pipeline"

	"github.com/joho/godotenv"
)

// version is stamped into every run fingerprint; set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "config/pipeline.yaml", "pipeline configuration file")
	flag.Parse()

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.PipelineConfig, logger *internal.Logger) error {
	c, err := container.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Init(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Shutdown(context.Background()); err != nil {
			logger.Warn("Shutdown failed: %v", err)
		}
	}()

	ds, err := pipeline.LoadDataset(ctx, cfg.DataIngestion, c.Reader, logger)
	if err != nil {
		return err
	}

	res, err := pipeline.Run(ctx, cfg, ds, c.Deps(version), logger)
	if err != nil {
		return err
	}

	logger.Info("Run %s (%s) finished", res.Manifest.RunName, res.Manifest.RunID)
	for _, line := range pipeline.Describe(res) {
		logger.Info("%s", line)
	}
	for _, a := range res.Artifacts {
		logger.Debug("Artifact %s: %s", a.Name, a.Path)
	}
	return nil
}
