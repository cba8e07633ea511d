package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/noah-isme/clg-aas-api/internal/repository"
	"github.com/noah-isme/clg-aas-api/pkg/config"
	"github.com/noah-isme/clg-aas-api/pkg/database"
	"github.com/noah-isme/clg-aas-api/pkg/logger"
)

// statusmigrate back-fills the assignment status enum from the legacy
// active boolean and drops the old column. Run once during cutover.
func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "migration timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	repo := repository.NewAssignmentRepository(db)
	migrated, err := repo.BackfillLegacyStatus(ctx)
	if err != nil {
		logr.Sugar().Fatalw("status backfill failed", "error", err)
	}
	logr.Sugar().Infow("status backfill complete", "migrated", migrated)
}
