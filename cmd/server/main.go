package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"propval/config"
	"propval/internal/api"
	"propval/internal/comparables"
	"propval/internal/database"
	"propval/internal/geocoding"
	"propval/internal/metrics"
	"propval/internal/processor"
	"propval/internal/queue"
	"propval/internal/scheduler"
	"propval/internal/store"
	"propval/internal/valuation"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithError(err).Warn("Unknown log level, keeping info")
	}
	gin.SetMode(cfg.GinMode)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		logger.WithError(err).Fatal("Failed to create database directory")
	}
	logger.Infof("Using database at: %s", cfg.DBPath)

	db, err := database.NewDatabase(cfg.DBPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	modelStore, closeStore := openModelStore(cfg, db, logger)
	defer closeStore()

	registry := metrics.NewRegistry()
	cache := valuation.NewCache()
	trainer := valuation.NewTrainer(logger, modelStore, cache, registry)
	predictor := valuation.NewPredictor(logger, registry)

	markets, err := config.LoadMarkets(cfg.MarketsFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load markets")
	}

	var geocoder database.Geocoder
	var enrich func(ctx context.Context) error
	if cfg.Geocoder.Enabled {
		geocoder = geocoding.NewGeocoder(cfg.Geocoder, logger)
		enrich = func(ctx context.Context) error {
			return db.UpdateMissingCoordinates(ctx, geocoder)
		}
	}

	propertyQueue := queue.NewPropertyQueue(cfg.BatchProcessing.QueueSize, logger)
	opts := []processor.Option{processor.WithMetrics(registry), processor.WithInvalidator(cache)}
	if geocoder != nil {
		opts = append(opts, processor.WithEnricher(enrich))
	}
	batchProcessor := processor.NewBatchProcessor(db.GetDB(), propertyQueue, cfg.BatchProcessing, logger, opts...)
	batchProcessor.Start()
	propertyQueue.Start()

	jobs := scheduler.NewScheduler(db, trainer, logger)
	if cfg.RetrainSchedule != "" {
		if err := jobs.Schedule(cfg.RetrainSchedule, scheduler.JobTypeRetrain); err != nil {
			logger.WithError(err).Fatal("Failed to schedule retraining")
		}
	}
	if geocoder != nil && cfg.GeocodeSchedule != "" {
		jobs.SetEnricher(enrich)
		if err := jobs.Schedule(cfg.GeocodeSchedule, scheduler.JobTypeGeocode); err != nil {
			logger.WithError(err).Fatal("Failed to schedule geocoding")
		}
	}
	jobs.Start()

	handler := api.NewHandler(cfg, api.Services{
		DB:        db,
		Queue:     propertyQueue,
		Trainer:   trainer,
		Predictor: predictor,
		Ranker:    comparables.NewRanker(logger, predictor),
		Markets:   markets,
		Geocoder:  geocoder,
		Ingest:    batchProcessor,
	}, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	// Accepted batches are drained before the workers stop
	if err := propertyQueue.Close(); err != nil {
		logger.WithError(err).Error("Failed to close queue")
	}
	batchProcessor.Stop()
	jobs.Stop()
	logger.Info("Server exited")
}

// openModelStore picks the model blob store. Redis failures fall back to
// the database so the service still starts.
func openModelStore(cfg *config.Config, db *database.Database, logger *logrus.Logger) (valuation.ModelStore, func()) {
	if cfg.Store.Backend == "redis" {
		rs := store.NewRedisStore(cfg.Store.RedisAddr, cfg.Store.RedisDB, cfg.Store.RedisPrefix, cfg.Store.RedisTTL)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := rs.Ping(ctx)
		if err == nil {
			logger.WithField("addr", cfg.Store.RedisAddr).Info("Using redis model store")
			return rs, func() { rs.Close() }
		}
		logger.WithError(err).Warn("Redis unavailable, storing models in the database")
		rs.Close()
	}

	gs, err := store.NewGormStore(db.GetDB())
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize model store")
	}
	return gs, func() {}
}
