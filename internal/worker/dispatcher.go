package worker

import (
	"context"
	"log/slog"
	"time"

	"featureworker/features/feature"
	"featureworker/internal/queue"
)

// ProgressFunc reports job progress as a percentage.
type ProgressFunc func(percent int)

// Dispatcher routes a leased job to the handler for its payload.
type Dispatcher struct {
	store  feature.Store
	bulk   *BulkExecutor
	logger *slog.Logger
}

func NewDispatcher(store feature.Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		bulk:   NewBulkExecutor(store, logger, time.Now),
		logger: logger,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, job *queue.Job, progress ProgressFunc) Result {
	if progress == nil {
		progress = func(int) {}
	}
	switch p := job.Payload.(type) {
	case queue.CreatedPayload:
		return d.handleCreated(ctx, p)
	case queue.UpdatedPayload:
		return d.handleUpdated(ctx, p)
	case queue.BulkPayload:
		return OK(d.bulk.Execute(ctx, p, progress))
	default:
		// Only reachable for names the decoder did not recognise.
		d.logger.WarnContext(ctx, "unknown job type", "name", job.Name)
		return OK(nil)
	}
}
