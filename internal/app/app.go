package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"featureworker/features/feature"
	"featureworker/features/job"
	"featureworker/features/stats"
	"featureworker/internal/config"
	"featureworker/internal/middleware"
	"featureworker/internal/queue"
	"featureworker/internal/ratelimit"
	"featureworker/internal/worker"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	Handler  http.Handler
	Pool     *worker.Pool
	Events   *worker.AsyncSink
	Metrics  *worker.Metrics
	Features *feature.Service
	Jobs     *job.Service

	addr   string
	logger *slog.Logger
}

func New(cfg *config.Config, db *sql.DB, transport queue.Transport, logger *slog.Logger) (*App, error) {
	// Feature: Feature records
	featureRepo := feature.NewPostgresRepo(db)
	featureService := feature.NewService(featureRepo, transport)

	// Feature: Job (dead letters)
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, transport, logger)
	jobHandler := job.NewHandler(jobService)

	// Worker
	metrics := worker.NewMetrics()
	events := worker.NewAsyncSink(cfg.EventBuffer, worker.NewLogListener(logger), metrics)

	pool, err := worker.NewPool(worker.Options{
		Concurrency: cfg.WorkerConcurrency,
		Limiter:     ratelimit.NewSlidingWindow(cfg.RateLimitMax, cfg.RateLimitWindow),
		Retry: worker.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Base:        cfg.BackoffBase,
			Max:         cfg.BackoffMax,
		},
		Transport:   transport,
		Dispatcher:  worker.NewDispatcher(featureRepo, logger),
		Sink:        events,
		DeadLetters: jobService,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}

	// Feature: Stats
	statsHandler := stats.NewHandler(jobRepo, metrics)

	// Routes
	mux := http.NewServeMux()

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(middleware.CORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(middleware.CORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(middleware.CORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:  mux,
		Pool:     pool,
		Events:   events,
		Metrics:  metrics,
		Features: featureService,
		Jobs:     jobService,
		addr:     fmt.Sprintf(":%d", cfg.ServerPort),
		logger:   logger,
	}, nil
}

// Run serves the ops endpoints and runs the worker pool until ctx is done.
// Jobs already started are allowed to finish before Run returns.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.addr,
		Handler: a.Handler,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("server starting", "addr", a.addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		err := a.Pool.Run(gctx)
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := a.Events.Close(closeCtx); cerr != nil {
			a.logger.Warn("event sink did not drain", "error", cerr, "dropped", a.Events.Dropped())
		}
		return err
	})

	return g.Wait()
}
