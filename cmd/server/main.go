package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"runner-insights/api/rest/routes"
	"runner-insights/config"
	"runner-insights/core/analysis"
	"runner-insights/core/archival"
	"runner-insights/core/lifecycle"
	"runner-insights/core/monitoring"
	"runner-insights/core/repository"
	"runner-insights/core/repository/badgerstore"
	"runner-insights/core/telemetry"
	"runner-insights/providers/github"
	"runner-insights/storage"

	"github.com/gorilla/mux"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"
)

func main() {
	configPath := flag.String("config", os.Getenv("RUNNER_INSIGHTS_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:       arbor_models.LogWriterTypeConsole,
		TimeFormat: "15:04:05",
	}).WithLevelFromString(cfg.Log.Level)

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("Server exited")
}

type lockCounter interface {
	LockCount() int
}

func run(cfg *config.Config, logger arbor.ILogger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var lockCount func() int
	if lc, ok := store.(lockCounter); ok {
		lockCount = lc.LockCount
	}
	metrics := monitoring.NewCollector(lockCount)

	// Log archival is optional; without it jobs complete with an empty log reference
	var (
		objects    archival.ObjectStore
		dispatcher *archival.Dispatcher
		sweeper    *archival.Sweeper
		archiver   lifecycle.LogArchiver
	)
	if cfg.Archive.Enabled {
		gh, err := github.NewClient(ctx, github.Config{
			Token:             cfg.GitHub.Token,
			BaseURL:           cfg.GitHub.BaseURL,
			RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
			Timeout:           cfg.GitHub.Timeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("github client: %w", err)
		}

		s3Store, err := storage.NewS3LogStore(ctx, storage.S3Config{
			Bucket:   cfg.Archive.Bucket,
			Region:   cfg.Archive.Region,
			Endpoint: cfg.Archive.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("s3 log store: %w", err)
		}
		objects = s3Store

		dispatcher = archival.NewDispatcher(archival.NewArchiver(gh, s3Store), store, archival.DispatcherConfig{
			Workers:        cfg.Archive.Workers,
			QueueSize:      cfg.Archive.QueueSize,
			AttemptTimeout: cfg.Archive.AttemptTimeout,
			MaxAttempts:    cfg.Archive.MaxAttempts,
		}, metrics, logger)
		dispatcher.Start(ctx)
		archiver = dispatcher

		sweeper = archival.NewSweeper(store, dispatcher, cfg.Archive.SweepSchedule, cfg.Archive.SweepMaxAge, cfg.Archive.SweepBatch, logger)
		if err := sweeper.Start(ctx); err != nil {
			return fmt.Errorf("archival sweep: %w", err)
		}
	} else {
		logger.Warn().Msg("Log archival disabled, set archive.bucket or ARCHIVE_BUCKET to enable it")
	}

	r := mux.NewRouter()
	routes.SetupRoutes(r, routes.Dependencies{
		Store:         store,
		Ingest:        telemetry.NewService(store, metrics, logger),
		Processor:     lifecycle.NewProcessor(store, archiver, metrics, logger),
		Analyzer:      analysis.NewService(store, objects, metrics, logger),
		Logs:          objects,
		Metrics:       metrics,
		WebhookSecret: cfg.GitHub.WebhookSecret,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Server.Port).Str("store", cfg.Store.Driver).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Server forced to shutdown")
	}

	if sweeper != nil {
		sweeper.Stop()
	}
	cancel()
	if dispatcher != nil {
		dispatcher.Wait()
	}
	return nil
}

func openStore(cfg *config.Config, logger arbor.ILogger) (repository.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverBadger:
		store, err := badgerstore.Open(logger, badgerstore.Config{Path: cfg.Store.BadgerPath})
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		logger.Info().Str("path", cfg.Store.BadgerPath).Msg("Badger store opened")
		return store, nil
	default:
		if cfg.Store.AutoMigrate {
			if err := repository.Migrate(cfg.Store.DatabaseURL, "up"); err != nil {
				return nil, err
			}
			logger.Info().Msg("Database migrations applied")
		}
		db, err := repository.NewDB(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		logger.Info().Msg("Database connected successfully")
		return repository.NewPostgresStore(db), nil
	}
}
