package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"featureworker/internal/middleware"
	"featureworker/internal/queue"
)

const (
	defaultConcurrency     = 5
	defaultLeaseRetryDelay = time.Second
)

// Limiter gates job starts.
type Limiter interface {
	Wait(ctx context.Context) error
}

type JobDispatcher interface {
	Dispatch(ctx context.Context, job *queue.Job, progress ProgressFunc) Result
}

// DeadLetters keeps jobs that failed for good.
type DeadLetters interface {
	Record(ctx context.Context, job *queue.Job, reason string) error
}

type Options struct {
	Concurrency int
	Limiter     Limiter
	Retry       RetryPolicy
	Transport   queue.Transport
	Dispatcher  JobDispatcher
	Sink        Sink
	DeadLetters DeadLetters
	Logger      *slog.Logger
	// LeaseRetryDelay is the pause after a transport error before leasing again.
	LeaseRetryDelay time.Duration
}

// Pool leases jobs from a transport and runs at most Concurrency of them at
// once. Every start is admitted by the limiter first.
type Pool struct {
	opts Options
	sem  *semaphore.Weighted
}

func NewPool(opts Options) (*Pool, error) {
	if opts.Transport == nil {
		return nil, errors.New("worker pool: transport is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("worker pool: dispatcher is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = discardSink{}
	}
	if opts.LeaseRetryDelay <= 0 {
		opts.LeaseRetryDelay = defaultLeaseRetryDelay
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Pool{
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.Concurrency)),
	}, nil
}

// Run leases and processes jobs until ctx is done, then waits for the jobs
// already started. In-flight jobs are not cancelled by ctx.
func (p *Pool) Run(ctx context.Context) error {
	if n, ok := p.opts.Transport.(queue.StallNotifier); ok {
		n.OnStall(func(id string) {
			p.opts.Sink.Emit(Event{Type: EventStalled, JobID: id})
		})
	}

	p.opts.Logger.InfoContext(ctx, "worker pool started", "concurrency", p.opts.Concurrency)

	var g errgroup.Group
	jobCtx := context.WithoutCancel(ctx)

	for {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			break
		}

		job, err := p.opts.Transport.Lease(ctx)
		if err != nil {
			p.sem.Release(1)
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				break
			}
			if job != nil && errors.Is(err, queue.ErrMalformedPayload) {
				p.failMalformed(jobCtx, job, err)
				continue
			}
			p.opts.Logger.ErrorContext(ctx, "failed to lease job", "error", err)
			if !sleep(ctx, p.opts.LeaseRetryDelay) {
				break
			}
			continue
		}

		if p.opts.Limiter != nil {
			if err := p.opts.Limiter.Wait(ctx); err != nil {
				// The lease runs out and the transport redelivers the job.
				p.sem.Release(1)
				p.opts.Logger.InfoContext(ctx, "released job on shutdown", "job_id", job.ID)
				break
			}
		}

		g.Go(func() error {
			defer p.sem.Release(1)
			p.process(jobCtx, job)
			return nil
		})
	}

	err := g.Wait()
	p.opts.Logger.Info("worker pool stopped")
	return err
}

func (p *Pool) process(ctx context.Context, job *queue.Job) {
	ctx = middleware.WithJobID(ctx, job.ID)
	if job.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, job.CorrelationID)
	}

	if job.Exhausted() {
		p.fail(ctx, job, Decision{
			Action:    ActionFail,
			Attempts:  job.Attempts,
			Exhausted: true,
			Err:       fmt.Errorf("%w (%d/%d)", ErrExhaustedRetries, job.Attempts, job.MaxAttempts),
		})
		return
	}

	p.emit(Event{Type: EventActive, JobID: job.ID, Name: job.Name, Attempts: job.Attempts})

	handlerCtx := ctx
	if !job.LeaseExpiresAt.IsZero() {
		var cancel context.CancelFunc
		handlerCtx, cancel = context.WithDeadline(ctx, job.LeaseExpiresAt)
		defer cancel()
	}

	progress := func(percent int) {
		p.emit(Event{Type: EventProgress, JobID: job.ID, Name: job.Name, Progress: percent})
	}
	res := p.dispatch(handlerCtx, job, progress)

	d := p.opts.Retry.Decide(job, res)
	switch d.Action {
	case ActionComplete:
		if err := p.opts.Transport.Ack(ctx, job); err != nil && p.leaseLost(ctx, job, "ack", err) {
			return
		}
		p.emit(Event{Type: EventCompleted, JobID: job.ID, Name: job.Name, Result: res.Value, Attempts: d.Attempts})
	case ActionRequeue:
		if err := p.opts.Transport.Nack(ctx, job, d.Delay); err != nil && p.leaseLost(ctx, job, "nack", err) {
			return
		}
		p.emit(Event{Type: EventFailed, JobID: job.ID, Name: job.Name, Err: d.Err, Attempts: d.Attempts, RetryIn: d.Delay})
	case ActionFail:
		p.fail(ctx, job, d)
	}
}

// dispatch runs the handler; a panic counts as a retryable failure.
func (p *Pool) dispatch(ctx context.Context, job *queue.Job, progress ProgressFunc) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.opts.Logger.ErrorContext(ctx, "job handler panicked", "panic", r)
			res = Retryable(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return p.opts.Dispatcher.Dispatch(ctx, job, progress)
}

func (p *Pool) fail(ctx context.Context, job *queue.Job, d Decision) {
	reason := "job failed"
	if d.Err != nil {
		reason = d.Err.Error()
	}
	if err := p.opts.Transport.Fail(ctx, job, reason); err != nil && p.leaseLost(ctx, job, "fail", err) {
		return
	}

	dead := *job
	dead.Attempts = d.Attempts
	if p.opts.DeadLetters != nil {
		if err := p.opts.DeadLetters.Record(ctx, &dead, reason); err != nil {
			p.opts.Logger.ErrorContext(ctx, "failed to record dead letter", "error", err)
		}
	}

	p.emit(Event{
		Type:      EventFailed,
		JobID:     job.ID,
		Name:      job.Name,
		Err:       d.Err,
		Attempts:  d.Attempts,
		Final:     true,
		Exhausted: d.Exhausted,
	})
}

func (p *Pool) failMalformed(ctx context.Context, job *queue.Job, err error) {
	ctx = middleware.WithJobID(ctx, job.ID)
	p.opts.Logger.ErrorContext(ctx, "dropping malformed job", "name", job.Name, "error", err)
	p.fail(ctx, job, Decision{Action: ActionFail, Attempts: job.Attempts, Err: err})
}

// leaseLost logs a failed resolution and reports whether the job now belongs
// to another delivery, in which case this one must not emit anything further.
func (p *Pool) leaseLost(ctx context.Context, job *queue.Job, op string, err error) bool {
	if errors.Is(err, queue.ErrLeaseLost) {
		p.opts.Logger.WarnContext(ctx, "job lease lost before "+op)
		return true
	}
	p.opts.Logger.ErrorContext(ctx, "failed to "+op+" job", "error", err)
	return false
}

func (p *Pool) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	p.opts.Sink.Emit(e)
}

type discardSink struct{}

func (discardSink) Emit(Event) {}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
