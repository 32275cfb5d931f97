package queue

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"
)

// Publisher is the subset of *nsq.Producer the transport needs.
type Publisher interface {
	Publish(topic string, body []byte) error
	DeferredPublish(topic string, delay time.Duration, body []byte) error
}

type nsqLease struct {
	msg      *nsq.Message
	deadline time.Time
}

// NSQTransport adapts an NSQ topic to the Transport contract. Register it as
// the consumer's handler; every message is held until the pool leases it and
// is finished only once the job is resolved.
type NSQTransport struct {
	topic         string
	publisher     Publisher
	leaseDuration time.Duration

	deliveries chan *nsq.Message
	done       chan struct{}
	closeOnce  sync.Once

	mu       sync.Mutex
	inflight map[string]nsqLease
	onStall  func(jobID string)
}

func NewNSQTransport(topic string, publisher Publisher, leaseDuration time.Duration) *NSQTransport {
	return &NSQTransport{
		topic:         topic,
		publisher:     publisher,
		leaseDuration: leaseDuration,
		deliveries:    make(chan *nsq.Message),
		done:          make(chan struct{}),
		inflight:      make(map[string]nsqLease),
	}
}

func (t *NSQTransport) OnStall(fn func(jobID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStall = fn
}

// HandleMessage implements nsq.Handler.
func (t *NSQTransport) HandleMessage(m *nsq.Message) error {
	m.DisableAutoResponse()
	select {
	case t.deliveries <- m:
	case <-t.done:
		m.Requeue(0)
	}
	return nil
}

func (t *NSQTransport) Lease(ctx context.Context) (*Job, error) {
	var m *nsq.Message
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrClosed
	case m = <-t.deliveries:
	}

	token := hex.EncodeToString(m.ID[:])
	job, _, err := DecodeBytes(m.Body, token)
	job.Status = StatusActive
	job.LeaseToken = token

	lease := nsqLease{msg: m}
	if t.leaseDuration > 0 {
		lease.deadline = time.Now().Add(t.leaseDuration)
		job.LeaseExpiresAt = lease.deadline
	}

	t.mu.Lock()
	t.inflight[token] = lease
	fn := t.onStall
	t.mu.Unlock()

	// nsqd only redelivers a message it handed out before when the previous
	// consumer never responded in time.
	if m.Attempts > 1 && fn != nil {
		fn(job.ID)
	}
	return job, err
}

func (t *NSQTransport) Ack(ctx context.Context, job *Job) error {
	m, err := t.take(job)
	if err != nil {
		return err
	}
	m.Finish()
	return nil
}

func (t *NSQTransport) Nack(ctx context.Context, job *Job, delay time.Duration) error {
	m, err := t.take(job)
	if err != nil {
		return err
	}
	env := job.Envelope()
	env.Attempts++
	body, err := json.Marshal(env)
	if err != nil {
		m.Requeue(delay)
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if delay > 0 {
		err = t.publisher.DeferredPublish(t.topic, delay, body)
	} else {
		err = t.publisher.Publish(t.topic, body)
	}
	if err != nil {
		// Leave it to nsqd so the job is not lost; the attempt is not counted.
		m.Requeue(delay)
		return fmt.Errorf("republish job %s: %w", job.ID, err)
	}
	m.Finish()
	return nil
}

func (t *NSQTransport) Fail(ctx context.Context, job *Job, reason string) error {
	m, err := t.take(job)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "finishing failed job", "job_id", job.ID, "reason", reason)
	m.Finish()
	return nil
}

func (t *NSQTransport) Enqueue(ctx context.Context, env Envelope) error {
	env.Normalize()
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := t.publisher.Publish(t.topic, body); err != nil {
		return fmt.Errorf("publish to %s: %w", t.topic, err)
	}
	return nil
}

func (t *NSQTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *NSQTransport) take(job *Job) (*nsq.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lease, ok := t.inflight[job.LeaseToken]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLeaseLost, job.ID)
	}
	delete(t.inflight, job.LeaseToken)
	if !lease.deadline.IsZero() && time.Now().After(lease.deadline) {
		return nil, fmt.Errorf("%w: %s", ErrLeaseLost, job.ID)
	}
	return lease.msg, nil
}
