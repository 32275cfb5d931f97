package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLeaseLost is returned when a job is resolved after its lease expired
	// and the job was handed back to the queue.
	ErrLeaseLost = errors.New("job lease lost")
	ErrClosed    = errors.New("transport closed")
)

// Transport delivers jobs to the worker pool and records how each delivery
// ended.
//
// Lease blocks until a job is available or ctx is done. A job whose payload
// cannot be decoded is still returned, together with an error wrapping
// ErrMalformedPayload, so the caller can fail it.
type Transport interface {
	Lease(ctx context.Context) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	// Nack counts a failed attempt and makes the job available again at the
	// back of the queue once delay has passed.
	Nack(ctx context.Context, job *Job, delay time.Duration) error
	Fail(ctx context.Context, job *Job, reason string) error
	Enqueue(ctx context.Context, env Envelope) error
	Close() error
}

// StallNotifier is implemented by transports that can tell when a leased job
// was abandoned and redelivered.
type StallNotifier interface {
	OnStall(fn func(jobID string))
}
