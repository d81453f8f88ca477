package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"

	"detectpd/adapters/tracking"
	"detectpd/domain/core"
	"detectpd/internal"
	"detectpd/internal/migration"

	"github.com/joho/godotenv"
)

func main() {
	reset := flag.Bool("reset", false, "drop and recreate the tracking tables before importing")
	flag.Usage = func() {
		log.Printf("Usage: migrate [--reset] <database_url> [runs_dir]")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	databaseURL := flag.Arg(0)
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		flag.Usage()
		os.Exit(2)
	}
	runsDir := flag.Arg(1)

	logger := internal.NewDefaultLogger()
	ctx := context.Background()

	db, err := tracking.Connect(ctx, databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	runner := migration.NewRunner()
	if *reset {
		log.Println("Resetting tracking tables...")
		if err := runner.Reset(ctx, db); err != nil {
			log.Fatalf("Failed to reset tracking tables: %v", err)
		}
	}
	if err := runner.Run(ctx, db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Tracking schema at version %s", runner.Version())

	if runsDir == "" {
		return
	}

	files := tracking.NewFileStore(runsDir, logger)
	store := tracking.NewPostgresStore(db, logger)
	ids, err := files.ListRuns(ctx)
	if err != nil {
		log.Fatalf("Failed to list runs in %s: %v", runsDir, err)
	}
	log.Printf("Found %d runs to import from %s", len(ids), runsDir)

	migrated, skipped := 0, 0
	for _, id := range ids {
		tr, err := files.GetRun(ctx, id)
		if err != nil {
			log.Printf("Failed to load run %s: %v", id, err)
			skipped++
			continue
		}
		if err := store.ImportRun(ctx, tr); err != nil {
			if errors.Is(err, core.ErrDuplicateKey) {
				log.Printf("Run %s already imported, skipping", id)
			} else {
				log.Printf("Failed to import run %s: %v", id, err)
			}
			skipped++
			continue
		}
		migrated++
	}
	log.Printf("Import complete: %d migrated, %d skipped", migrated, skipped)
}
