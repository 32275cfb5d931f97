package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	env    Envelope
	status Status
	token  string
	timer  *time.Timer
	reason string
}

// MemoryTransport is an in-process FIFO used for local runs and tests.
type MemoryTransport struct {
	leaseDuration time.Duration

	mu      sync.Mutex
	ready   []string
	entries map[string]*memEntry
	wake    chan struct{}
	seq     uint64
	timers  map[*time.Timer]struct{}
	onStall func(jobID string)
	closed  bool
}

func NewMemoryTransport(leaseDuration time.Duration) *MemoryTransport {
	return &MemoryTransport{
		leaseDuration: leaseDuration,
		entries:       make(map[string]*memEntry),
		wake:          make(chan struct{}),
		timers:        make(map[*time.Timer]struct{}),
	}
}

func (t *MemoryTransport) OnStall(fn func(jobID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStall = fn
}

func (t *MemoryTransport) Enqueue(ctx context.Context, env Envelope) error {
	env.Normalize()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if _, ok := t.entries[env.ID]; ok {
		return fmt.Errorf("job %s already enqueued", env.ID)
	}
	t.entries[env.ID] = &memEntry{env: env, status: StatusWaiting}
	t.pushLocked(env.ID)
	return nil
}

func (t *MemoryTransport) Lease(ctx context.Context) (*Job, error) {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return nil, ErrClosed
		}
		if len(t.ready) > 0 {
			id := t.ready[0]
			t.ready = t.ready[1:]
			job, err := t.leaseLocked(id)
			t.mu.Unlock()
			return job, err
		}
		wake := t.wake
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

func (t *MemoryTransport) leaseLocked(id string) (*Job, error) {
	e := t.entries[id]
	t.seq++
	token := strconv.FormatUint(t.seq, 10)
	e.token = token
	e.status = StatusActive

	job, err := Decode(e.env)
	job.Status = StatusActive
	job.LeaseToken = token
	if t.leaseDuration > 0 {
		job.LeaseExpiresAt = time.Now().Add(t.leaseDuration)
		e.timer = t.afterLocked(t.leaseDuration, func() { t.expire(id, token) })
	}
	return job, err
}

// expire hands a job whose lease ran out back to the queue.
func (t *MemoryTransport) expire(id, token string) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if t.closed || !ok || e.token != token || e.status != StatusActive {
		t.mu.Unlock()
		return
	}
	e.token = ""
	e.timer = nil
	e.status = StatusStalled
	t.pushLocked(id)
	fn := t.onStall
	t.mu.Unlock()

	if fn != nil {
		fn(id)
	}
}

func (t *MemoryTransport) Ack(ctx context.Context, job *Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, err := t.resolveLocked(job)
	if err != nil {
		return err
	}
	e.status = StatusCompleted
	delete(t.entries, job.ID)
	return nil
}

func (t *MemoryTransport) Nack(ctx context.Context, job *Job, delay time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, err := t.resolveLocked(job)
	if err != nil {
		return err
	}
	e.env.Attempts++
	e.status = StatusWaiting
	if delay <= 0 {
		t.pushLocked(job.ID)
		return nil
	}
	id := job.ID
	t.afterLocked(delay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.entries[id]; ok && !t.closed {
			t.pushLocked(id)
		}
	})
	return nil
}

func (t *MemoryTransport) Fail(ctx context.Context, job *Job, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, err := t.resolveLocked(job)
	if err != nil {
		return err
	}
	e.status = StatusFailed
	e.reason = reason
	return nil
}

// Status reports the last known state of a job and, for failed jobs, the
// failure reason. Completed jobs are forgotten.
func (t *MemoryTransport) Status(id string) (Status, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return "", "", false
	}
	return e.status, e.reason, true
}

// Len returns the number of jobs ready to be leased.
func (t *MemoryTransport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ready)
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for timer := range t.timers {
		timer.Stop()
	}
	t.timers = nil
	close(t.wake)
	return nil
}

func (t *MemoryTransport) resolveLocked(job *Job) (*memEntry, error) {
	if t.closed {
		return nil, ErrClosed
	}
	e, ok := t.entries[job.ID]
	if !ok || e.status != StatusActive || e.token != job.LeaseToken {
		return nil, fmt.Errorf("%w: %s", ErrLeaseLost, job.ID)
	}
	if e.timer != nil {
		e.timer.Stop()
		delete(t.timers, e.timer)
		e.timer = nil
	}
	e.token = ""
	return e, nil
}

func (t *MemoryTransport) pushLocked(id string) {
	t.ready = append(t.ready, id)
	close(t.wake)
	t.wake = make(chan struct{})
}

func (t *MemoryTransport) afterLocked(d time.Duration, fn func()) *time.Timer {
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.timers != nil {
			delete(t.timers, timer)
		}
		t.mu.Unlock()
		fn()
	})
	t.timers[timer] = struct{}{}
	return timer
}
