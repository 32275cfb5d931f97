package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"featureworker/features/feature"
	"featureworker/features/job"
	"featureworker/internal/app"
	"featureworker/internal/config"
	"featureworker/internal/queue"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, env queue.Envelope) error
}

type DeadLetterQueue interface {
	List(ctx context.Context) ([]job.Job, error)
	Retry(ctx context.Context, id string) (string, error)
}

type FeatureService interface {
	Create(ctx context.Context, organizationID, userID string, in feature.CreateInput) (*feature.Feature, error)
	List(ctx context.Context, organizationID string, q feature.Query) (*feature.Page, error)
	Update(ctx context.Context, id, organizationID, userID string, in feature.UpdateInput) (*feature.Feature, error)
	Remove(ctx context.Context, id, organizationID, userID string) error
	RequestBulk(ctx context.Context, organizationID, userID string, ids []string, action queue.Action) (string, error)
}

// Session is what the short-lived commands talk to.
type Session struct {
	Enqueuer    Enqueuer
	DeadLetters DeadLetterQueue
	Features    FeatureService
	Close       func()
}

type Opener func(ctx context.Context) (*Session, error)

// RunFunc runs the worker until ctx is done.
type RunFunc func(ctx context.Context) error

func DefaultOpener(ctx context.Context) (*Session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, deps.DB, deps.Transport, slog.Default())
	if err != nil {
		deps.Close()
		return nil, err
	}
	return &Session{
		Enqueuer:    deps.Transport,
		DeadLetters: a.Jobs,
		Features:    a.Features,
		Close: func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = a.Events.Close(closeCtx)
			deps.Close()
		},
	}, nil
}

func RunWorker(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	a, err := app.New(cfg, deps.DB, deps.Transport, slog.Default())
	if err != nil {
		return err
	}
	if err := deps.StartConsuming(cfg); err != nil {
		return err
	}

	slog.Info("worker starting", "transport", cfg.Transport, "concurrency", cfg.WorkerConcurrency,
		"rate_limit", cfg.RateLimitMax, "rate_window", cfg.RateLimitWindow, "pid", os.Getpid())
	return a.Run(ctx)
}

func withSession(ctx context.Context, open Opener, fn func(*Session) error) error {
	s, err := open(ctx)
	if err != nil {
		return err
	}
	if s.Close != nil {
		defer s.Close()
	}
	return fn(s)
}
