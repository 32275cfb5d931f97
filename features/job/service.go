package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"featureworker/internal/middleware"
	"featureworker/internal/queue"
)

const publishTimeout = 5 * time.Second

var ErrPublishTimeout = errors.New("timeout waiting for job publish")

type Producer interface {
	Enqueue(ctx context.Context, env queue.Envelope) error
}

type Service struct {
	repo     Repository
	producer Producer
	logger   *slog.Logger
	timeout  time.Duration
}

func NewService(repo Repository, producer Producer, logger *slog.Logger) *Service {
	return &Service{repo: repo, producer: producer, logger: logger, timeout: publishTimeout}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// Record stores a job that failed for good. It satisfies the worker's
// dead-letter sink.
func (s *Service) Record(ctx context.Context, j *queue.Job, reason string) error {
	dead := &Job{
		ID:       j.ID,
		Name:     j.Name,
		Payload:  j.Data,
		Error:    reason,
		Attempts: j.Attempts,
	}
	if j.Payload != nil {
		dead.OrganizationID = j.Payload.Organization()
	}
	if err := s.repo.Save(ctx, dead); err != nil {
		return fmt.Errorf("save failed job %s: %w", j.ID, err)
	}
	s.logger.InfoContext(ctx, "saved failed job for retry", "job_id", j.ID, "name", j.Name)
	return nil
}

// Retry puts a dead letter back on the queue with a fresh attempt budget and
// removes it from the store.
func (s *Service) Retry(ctx context.Context, id string) (string, error) {
	dead, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}

	env := queue.Envelope{Name: dead.Name, Data: dead.Payload}
	if cid, ok := middleware.LookupCorrelationID(ctx); ok {
		env.CorrelationID = cid
	}
	env.Normalize()

	pubCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.producer.Enqueue(pubCtx, env) }()

	select {
	case err = <-done:
	case <-pubCtx.Done():
		err = pubCtx.Err()
	}
	if err != nil {
		if errors.Is(pubCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "publish timed out", "id", id)
			return "", ErrPublishTimeout
		}
		return "", fmt.Errorf("re-enqueue failed job %s: %w", id, err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "failed job re-enqueued", "id", id, "new_job_id", env.ID)
	return env.ID, nil
}
