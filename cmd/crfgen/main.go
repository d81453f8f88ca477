package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"detectpd/adapters/excel"
	"detectpd/internal"
	"detectpd/internal/testkit"

	"gopkg.in/yaml.v3"
)

func main() {
	out := flag.String("out", "data/crf_synthetic.xlsx", "output spreadsheet (.xlsx or .csv)")
	sheet := flag.String("sheet", "Sheet1", "worksheet name")
	patients := flag.Int("patients", 200, "number of patients")
	seed := flag.Int64("seed", 42, "random seed")
	missing := flag.Float64("missing-rate", 0.05, "probability a lab value is missing")
	configOut := flag.String("config-out", "", "also write a pipeline configuration matching the generated file")
	flag.Parse()

	logger := internal.NewDefaultLogger()

	cfg := testkit.DefaultCohortConfig()
	cfg.PatientCount = *patients
	cfg.Seed = *seed
	cfg.MissingLabRate = *missing

	start := time.Now()
	table := testkit.NewCohortGenerator(cfg).GenerateTable()
	if err := excel.NewDataWriter(logger).WriteTable(context.Background(), *out, *sheet, table); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}
	log.Printf("Generated %d patients in %s (%s)", cfg.PatientCount, *out, time.Since(start).Round(time.Millisecond))

	if *configOut == "" {
		return
	}
	pcfg := testkit.PipelineConfig(filepath.Join(filepath.Dir(*out), "artifacts"))
	pcfg.LogLevel = "INFO"
	pcfg.DataIngestion.FilePath = *out
	pcfg.DataIngestion.SheetName = *sheet
	pcfg.Tracking.TrackingURI = filepath.Join(filepath.Dir(*out), "artifacts", "runs")
	data, err := yaml.Marshal(pcfg)
	if err != nil {
		log.Fatalf("Failed to encode configuration: %v", err)
	}
	if err := os.WriteFile(*configOut, data, 0o644); err != nil {
		log.Fatalf("Failed to write %s: %v", *configOut, err)
	}
	log.Printf("Wrote pipeline configuration to %s", *configOut)
}
