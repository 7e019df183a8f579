package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/uuid"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/config"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/emission"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/logger"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/provider"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/provider/csvupload"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/provider/travelapi"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/repository"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/service"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/storage"
)

// One-shot sync runner for operators: creates a single job and drives it to
// a terminal state in the foreground, without the API server.
func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "co2-sync-cli",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	unitID := flag.String("unit", "", "Reporting unit id (required)")
	domainName := flag.String("domain", "travel", "Reporting domain (travel, emission_factors)")
	sourceKind := flag.String("source", "csv_upload", "Source kind (csv_upload, external_api)")
	targetKind := flag.String("target", "activity_records", "Target kind (activity_records, reference_factors)")
	categoryID := flag.String("category", "", "Factor category id (reference_factors only)")
	period := flag.Int("period", 0, "Reporting period, e.g. 2025 (required)")
	objectKey := flag.String("object-key", "", "Object storage key of an uploaded CSV (csv_upload only)")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if *unitID == "" || *period == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	appLogger.WithFields(logger.Fields{
		"unit":   *unitID,
		"domain": *domainName,
		"source": *sourceKind,
		"target": *targetKind,
		"period": *period,
	}).Info("Starting one-shot sync")

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	jobRepo := repository.NewJobRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	factorRepo := repository.NewFactorRepository(db)

	objectStorage, err := storage.NewS3Storage(&storage.S3Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}

	calc := emission.NewFactorTable()
	registry := provider.NewRegistry()
	registry.Register(domain.DomainTravel, domain.SourceCSVUpload, domain.TargetActivityRecords,
		csvupload.NewTrips(objectStorage, activityRepo, calc))
	registry.Register(domain.DomainTravel, domain.SourceExternalAPI, domain.TargetActivityRecords,
		travelapi.New(&travelapi.Config{
			BaseURL:  cfg.TravelAPI.BaseURL,
			APIKey:   cfg.TravelAPI.APIKey,
			PageSize: cfg.TravelAPI.PageSize,
			Timeout:  cfg.TravelAPI.Timeout,
		}, activityRepo, calc))
	registry.Register(domain.DomainEmissionFactors, domain.SourceCSVUpload, domain.TargetReferenceFactors,
		csvupload.NewFactors(objectStorage, factorRepo))

	runner := service.NewRunner(jobRepo, registry, appLogger, &cfg.Sync)

	jobConfig := domain.JSONMap{}
	if *objectKey != "" {
		jobConfig["object_key"] = *objectKey
	}

	ctx := context.Background()
	job := &domain.SyncJob{
		ID:         uuid.New().String(),
		UnitID:     *unitID,
		TargetKind: domain.TargetKind(*targetKind),
		CategoryID: *categoryID,
		Domain:     domain.Domain(*domainName),
		SourceKind: domain.SourceKind(*sourceKind),
		Period:     *period,
		Detail:     domain.StatusDetail{Code: domain.CodeInProgress, Message: "queued"},
		Progress:   domain.Progress{Errors: []domain.RecordError{}},
		Config:     jobConfig,
		CreatedBy:  "cli",
	}
	if err := jobRepo.CreateIfScopeIdle(ctx, job); err != nil {
		appLogger.WithError(err).Fatal("Failed to admit sync job")
	}

	// Drive the job to a terminal state in the foreground.
	runner.Run(ctx, job.ID)

	final, err := jobRepo.GetByID(ctx, job.ID)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to read back job")
	}

	appLogger.WithFields(logger.Fields{
		"job_id":      final.ID,
		"status":      final.Status,
		"code":        final.Detail.Code,
		"fetched":     final.Progress.Fetched,
		"transformed": final.Progress.Transformed,
		"loaded":      final.Progress.Loaded,
		"errors":      len(final.Progress.Errors),
	}).Info("Sync finished")

	if final.Status != domain.JobStatusCompleted {
		os.Exit(1)
	}
}
