package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type EventType string

const (
	EventActive    EventType = "active"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventStalled   EventType = "stalled"
)

// Event describes one step of a job's lifecycle. Which fields are set depends
// on Type.
type Event struct {
	Type     EventType
	JobID    string
	Name     string
	Progress int
	Result   any
	Err      error
	Attempts int
	// Final is set on failed events after which the job will not run again.
	Final     bool
	Exhausted bool
	RetryIn   time.Duration
	At        time.Time
}

type Sink interface {
	Emit(Event)
}

type Listener interface {
	Handle(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) Handle(e Event) { f(e) }

// AsyncSink delivers events to its listeners from a single goroutine, in the
// order they were emitted. Emit never blocks; when the buffer is full the
// event is dropped and counted.
type AsyncSink struct {
	listeners []Listener
	events    chan Event
	dropped   atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsyncSink(buffer int, listeners ...Listener) *AsyncSink {
	if buffer <= 0 {
		buffer = 1
	}
	s := &AsyncSink{
		listeners: listeners,
		events:    make(chan Event, buffer),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.events <- e:
	default:
		s.dropped.Add(1)
	}
}

func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

// Close stops accepting events and waits until the buffered ones have been
// delivered or ctx is done.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for e := range s.events {
		for _, l := range s.listeners {
			s.deliver(l, e)
		}
	}
}

func (s *AsyncSink) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event listener panicked", "event", e.Type, "job_id", e.JobID, "panic", r)
		}
	}()
	l.Handle(e)
}

// LogListener writes every event as a structured log line.
type LogListener struct {
	logger *slog.Logger
}

func NewLogListener(logger *slog.Logger) *LogListener {
	return &LogListener{logger: logger}
}

func (l *LogListener) Handle(e Event) {
	switch e.Type {
	case EventActive:
		l.logger.Debug("job active", "job_id", e.JobID, "name", e.Name, "attempts", e.Attempts)
	case EventProgress:
		l.logger.Info("job progress", "job_id", e.JobID, "progress", e.Progress)
	case EventCompleted:
		l.logger.Info("job completed", "job_id", e.JobID, "name", e.Name)
	case EventFailed:
		args := []any{"job_id", e.JobID, "name", e.Name, "attempts", e.Attempts, "error", e.Err}
		if e.RetryIn > 0 {
			args = append(args, "retry_in", e.RetryIn)
		}
		l.logger.Error("job failed", args...)
		if e.Exhausted {
			l.logger.Error("job exhausted all retry attempts", "job_id", e.JobID, "name", e.Name, "attempts", e.Attempts)
		}
	case EventStalled:
		l.logger.Warn("job stalled", "job_id", e.JobID)
	}
}
