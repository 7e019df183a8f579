package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/api"
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

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := logger.LoadFromEnv().ToConfig()
	if cfg.Server.Mode != "release" {
		logCfg.Level = "debug"
		logCfg.Format = "text"
	}
	appLog := logger.New(logCfg)
	logger.SetDefaultLogger(appLog)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize repositories
	jobRepo := repository.NewJobRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	factorRepo := repository.NewFactorRepository(db)

	// Initialize object storage for uploaded source files
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
		appLog.Fatalf("Failed to initialize storage: %v", err)
	}

	ctx := context.Background()
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		appLog.Fatalf("Failed to ensure storage bucket: %v", err)
	}

	// Register sync providers. Adding a source is one provider plus one
	// Register call; nothing else changes.
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

	// Start the pipeline worker pool
	runner := service.NewRunner(jobRepo, registry, appLog, &cfg.Sync)
	runner.Start()

	syncService := service.NewSyncService(jobRepo, registry, runner, appLog, &cfg.Sync)

	// Setup router
	router := api.SetupRouter(syncService, objectStorage, &cfg.Server)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLog.Infof("Starting API server on port %d (mode=%s)", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down server...")

	// Stop taking requests first, then drain the worker pool; claimed jobs
	// run to a terminal state before exit.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Errorf("Server forced to shutdown: %v", err)
	}
	runner.Shutdown()

	appLog.Info("Server exited")
}
