package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow admits at most limit starts in any window of the configured
// length. Callers over the limit are delayed, never rejected. A non-positive
// limit disables limiting.
type SlidingWindow struct {
	limit  int
	window time.Duration

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu     sync.Mutex
	starts []time.Time
}

type Option func(*SlidingWindow)

// WithClock replaces the time source and timer, for tests.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(s *SlidingWindow) {
		s.now = now
		s.after = after
	}
}

func NewSlidingWindow(limit int, window time.Duration, opts ...Option) *SlidingWindow {
	s := &SlidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
		after:  time.After,
		starts: make([]time.Time, 0, limit),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until a start can be admitted and records it.
func (s *SlidingWindow) Wait(ctx context.Context) error {
	for {
		wait, ok := s.reserve()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(wait):
		}
	}
}

// Allow records a start if one is available right now.
func (s *SlidingWindow) Allow() bool {
	_, ok := s.reserve()
	return ok
}

// Stats returns the starts inside the current window and how many more would
// be admitted immediately.
func (s *SlidingWindow) Stats() (inWindow, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
	return len(s.starts), s.limit - len(s.starts)
}

// reserve admits a start, or reports how long until the oldest start leaves
// the window.
func (s *SlidingWindow) reserve() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limit <= 0 {
		return 0, true
	}
	now := s.now()
	s.pruneLocked(now)
	if len(s.starts) < s.limit {
		s.starts = append(s.starts, now)
		return 0, true
	}
	return s.starts[0].Add(s.window).Sub(now), false
}

// A start at s is inside the window (now-W, now]; once s <= now-W it is gone.
func (s *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.starts) && !s.starts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.starts = append(s.starts[:0], s.starts[i:]...)
	}
}
