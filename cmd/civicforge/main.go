package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfhttp "github.com/civicforge/civicforge/internal/adapter/http"
	cfnats "github.com/civicforge/civicforge/internal/adapter/nats"
	"github.com/civicforge/civicforge/internal/adapter/natskv"
	"github.com/civicforge/civicforge/internal/adapter/otel"
	"github.com/civicforge/civicforge/internal/adapter/postgres"
	"github.com/civicforge/civicforge/internal/adapter/ristretto"
	"github.com/civicforge/civicforge/internal/adapter/scorer"
	"github.com/civicforge/civicforge/internal/adapter/tiered"
	"github.com/civicforge/civicforge/internal/adapter/tracker"
	"github.com/civicforge/civicforge/internal/adapter/ws"
	"github.com/civicforge/civicforge/internal/config"
	"github.com/civicforge/civicforge/internal/logger"
	"github.com/civicforge/civicforge/internal/middleware"
	"github.com/civicforge/civicforge/internal/port/cache"
	"github.com/civicforge/civicforge/internal/port/notifier"
	trackerport "github.com/civicforge/civicforge/internal/port/tracker"
	"github.com/civicforge/civicforge/internal/resilience"
	"github.com/civicforge/civicforge/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"quorum_size", cfg.Validation.QuorumSize,
	)

	ctx := context.Background()

	shutdownTracer := otel.InitTracer(cfg.Logging.Service)
	defer func() { _ = shutdownTracer(ctx) }()

	otelMetrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	classCache, err := buildCache(ctx, queue, cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	classifier := scorer.NewClient(cfg.Scorer)
	classifier.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	var perf trackerport.Tracker
	if cfg.Tracker.URL != "" {
		perf = tracker.NewClient(cfg.Tracker)
	}

	var notify notifier.Notifier
	if cfg.Notifier.Provider != "" {
		notify, err = notifier.New(cfg.Notifier.Provider, cfg.Notifier.Settings)
		if err != nil {
			return fmt.Errorf("notifier: %w", err)
		}
	}

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	lock := postgres.NewAdvisoryLock(pool)

	evalSvc := service.NewEvaluationService(store, classCache, classifier, queue, hub, cfg.Moderation, cfg.Cache.TTL)
	evalSvc.SetMetrics(otelMetrics)

	selectorSvc := service.NewSelectorService(store, queue, hub, notify, cfg.Validation)

	consensusSvc := service.NewConsensusService(store, lock, queue, hub, perf, cfg.Validation)
	consensusSvc.SetMetrics(otelMetrics)

	stopEval, err := evalSvc.Start(ctx)
	if err != nil {
		return fmt.Errorf("evaluation subscriber: %w", err)
	}
	defer stopEval()
	evalSvc.StartMetricsLoop(ctx)

	stopSelector, err := selectorSvc.Start(ctx)
	if err != nil {
		return fmt.Errorf("selector subscriber: %w", err)
	}
	defer stopSelector()

	stopConsensus, err := consensusSvc.Start(ctx)
	if err != nil {
		return fmt.Errorf("consensus subscriber: %w", err)
	}
	defer stopConsensus()

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Store:          store,
		Queue:          queue,
		Workers:        evalSvc.Metrics(),
		QueueConnected: queue.IsConnected,
	}

	rl := middleware.NewRateLimiter(5, 20)
	stopCleanup := rl.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/ws", hub.HandleWS)
	cfhttp.MountRoutes(r, handlers, rl)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// buildCache assembles the two-level classification cache: in-process
// ristretto in front of a shared JetStream KV bucket.
func buildCache(ctx context.Context, queue *cfnats.Queue, cfg config.Cache) (cache.Cache, error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("l1: %w", err)
	}

	kv, err := queue.KeyValue(ctx, cfg.L2Bucket, cfg.TTL)
	if err != nil {
		return nil, fmt.Errorf("l2 bucket: %w", err)
	}

	return tiered.New(l1, natskv.New(kv), cfg.TTL), nil
}
