package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/lukaut-approvals/internal"
	"github.com/DukeRupert/lukaut-approvals/internal/jobs"
	"github.com/DukeRupert/lukaut-approvals/internal/lock"
	"github.com/DukeRupert/lukaut-approvals/internal/metrics"
	"github.com/DukeRupert/lukaut-approvals/internal/middleware"
	"github.com/DukeRupert/lukaut-approvals/internal/notify"
	"github.com/DukeRupert/lukaut-approvals/internal/repository"
	"github.com/DukeRupert/lukaut-approvals/internal/repository/memory"
	"github.com/DukeRupert/lukaut-approvals/internal/service"
	"github.com/DukeRupert/lukaut-approvals/internal/worker"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// ==========================================================================
	// Storage
	// ==========================================================================

	var (
		store service.InspectionStore
		ready = func(context.Context) error { return nil }
	)
	switch cfg.StoreProvider {
	case internal.StoreProviderPostgres:
		db, err := sql.Open("pgx", cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		if err := internal.RunMigrations(db, logger); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		store = repository.NewStore(db)
		ready = db.PingContext
	default:
		logger.Warn("Using in-memory store, data is lost on restart")
		store = memory.NewStore()
	}
	logger.Info("Store ready", "provider", cfg.StoreProvider)

	// ==========================================================================
	// Notifications and leases
	// ==========================================================================

	notifier, closeNotifier, err := newNotifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("notifier initialization failed: %w", err)
	}
	defer closeNotifier.Close()

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		client, err := lock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client)
		logger.Info("Sweep leases shared through Redis")
	}

	// ==========================================================================
	// Services
	// ==========================================================================

	opts := []service.Option{
		service.WithLocation(cfg.Location),
		service.WithMaxRetries(cfg.MaxVoteRetries),
		service.WithRetention(cfg.BatchRetention),
		service.WithSweepConcurrency(cfg.SweepConcurrency),
		service.WithNotifyTimeout(cfg.NotifyTimeout),
	}
	// Only the sweeps run in this process. Voting and batch actions are
	// called by the embedding web layer with an authenticated actor.
	batchService := service.NewBatchService(store, notifier, logger, opts...)

	// ==========================================================================
	// Scheduler
	// ==========================================================================

	workerCfg := worker.DefaultConfig()
	workerCfg.Location = cfg.Location
	workerCfg.GroupingSpec = cfg.GroupingCron
	workerCfg.RetentionSpec = cfg.RetentionCron
	workerCfg.JobTimeout = cfg.SweepTimeout
	if workerCfg.LeaseTTL <= cfg.SweepTimeout {
		workerCfg.LeaseTTL = cfg.SweepTimeout + 5*time.Minute
	}

	scheduler, err := worker.New(workerCfg, locker, logger)
	if err != nil {
		return fmt.Errorf("scheduler initialization failed: %w", err)
	}
	if err := scheduler.Register(workerCfg.GroupingSpec, jobs.NewGroupingSweepJob(batchService, logger)); err != nil {
		return err
	}
	if err := scheduler.Register(workerCfg.RetentionSpec, jobs.NewRetentionSweepJob(batchService, logger)); err != nil {
		return err
	}
	if cfg.SchedulerEnabled {
		scheduler.Start()
	} else {
		logger.Info("Scheduler disabled, sweeps run only when triggered")
	}

	// ==========================================================================
	// Ops server
	// ==========================================================================

	mux := http.NewServeMux()
	protect := metrics.NewBasicAuth(cfg.MetricsUsername, cfg.MetricsPassword)
	if !protect.Enabled() {
		logger.Warn("Metrics and sweep endpoints are unprotected, set METRICS_USERNAME and METRICS_PASSWORD")
	}

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Readiness includes the database
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if err := ready(r.Context()); err != nil {
			logger.Warn("Readiness check failed", "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})

	mux.Handle("GET /metrics", protect.Handler(promhttp.Handler()))

	// Manual sweep trigger, same lease as the scheduled run
	mux.Handle("POST /sweeps/{job}", protect.Handler(sweepHandler(scheduler, logger)))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           middleware.Stack(metrics.Middleware, middleware.NewRequestLogger(logger).Handler)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	scheduler.Stop()

	logger.Info("Graceful shutdown complete")
	return nil
}

// newNotifier builds the configured sink. Kafka events are mirrored to the
// log so delivery can be traced when the broker is unreachable.
func newNotifier(cfg *internal.Config, logger *slog.Logger) (notify.Notifier, io.Closer, error) {
	logNotifier := notify.NewLogNotifier(logger)
	if cfg.Notifier != internal.NotifierKafka {
		return logNotifier, io.NopCloser(nil), nil
	}

	kafkaNotifier, err := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Publishing notifications to Kafka", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	return notify.Multi{logNotifier, kafkaNotifier}, kafkaNotifier, nil
}

func sweepHandler(scheduler *worker.Scheduler, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("job")
		err := scheduler.RunNow(r.Context(), name)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, worker.ErrUnknownJob):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, worker.ErrLeaseHeld):
			http.Error(w, "sweep already running", http.StatusConflict)
		default:
			logger.Error("Manual sweep failed", "job", name, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
