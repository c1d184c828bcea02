package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dealtracker/server/config"
	"dealtracker/server/internal/api"
	"dealtracker/server/internal/census"
	"dealtracker/server/internal/database"
	"dealtracker/server/internal/geocoding"
	"dealtracker/server/internal/intel"
	"dealtracker/server/internal/processor"
	"dealtracker/server/internal/queue"
	"dealtracker/server/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if level != logrus.DebugLevel && level != logrus.TraceLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	logger.WithField("driver", cfg.Database.Driver).Info("Opening database")
	db, err := database.NewDatabase(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	// Run database migrations
	logger.Info("Running database migrations...")
	if err := db.RunMigrations(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	// Census source
	client := census.NewClient(cfg.Census.BaseURL, cfg.Census.APIKey, logger)
	if !client.HasCredential() {
		logger.Warn("CENSUS_API_KEY is not set; market statistics will be served from the cache only")
	}
	resolver := census.NewResolver(client, logger)
	fetcher := census.NewFetcher(client, cfg.Census.MinYear, logger)

	intelService := intel.NewService(db, resolver, fetcher, intel.Options{
		HasCredential: client.HasCredential(),
		LatestYear:    cfg.Census.LatestYear,
	}, logger)

	// Geocoding stays a nil interface when disabled
	var geocoder database.PostalGeocoder
	jobs := []scheduler.Job{{
		Name:     "reconcile_markets",
		Interval: cfg.Scheduler.ReconcileInterval,
		Run: func(ctx context.Context) error {
			_, err := db.ReconcileMarkets(ctx)
			return err
		},
	}}
	if cfg.Geocoder.Enabled {
		g := geocoding.NewGeocoder(logger, cfg.Geocoder.CacheDir)
		geocoder = g
		jobs = append(jobs, scheduler.Job{
			Name:     "geocode_postal_codes",
			Interval: cfg.Scheduler.GeocodeInterval,
			Run: func(ctx context.Context) error {
				updated, err := db.UpdateMissingPostalCoordinates(ctx, g)
				if err != nil {
					return err
				}
				logger.Infof("Geocoded %d postal codes", updated)
				return nil
			},
		})
	}

	maintenance := scheduler.NewScheduler(logger, jobs...)
	maintenance.Start()

	// Deal ingestion
	dealQueue := queue.NewDealQueue(cfg.BatchProcessing.QueueSize, logger)
	batchProcessor := processor.NewBatchProcessor(db, dealQueue, cfg, logger)
	batchProcessor.Start()

	handler := api.NewHandler(intelService, db, batchProcessor, geocoder, logger)
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shut down")
	}

	maintenance.Stop()

	// Store any deals still queued before closing the database
	batchProcessor.Stop()
	logger.Info("Server stopped")
}
