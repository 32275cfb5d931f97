package worker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"featureworker/features/feature"
	"featureworker/internal/queue"
	"featureworker/internal/worker"
)

// Mocks

type MockStore struct{ mock.Mock }

func (m *MockStore) FindByIDAndOrg(ctx context.Context, id, org string, opts feature.LookupOptions) (*feature.Feature, error) {
	args := m.Called(ctx, id, org, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*feature.Feature), args.Error(1)
}

func (m *MockStore) Update(ctx context.Context, id, org string, fields feature.Fields) error {
	args := m.Called(ctx, id, org, fields)
	return args.Error(0)
}

func (m *MockStore) CreateAuditEntry(ctx context.Context, entry feature.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

type MockDeadLetters struct{ mock.Mock }

func (m *MockDeadLetters) Record(ctx context.Context, job *queue.Job, reason string) error {
	args := m.Called(ctx, job, reason)
	return args.Error(0)
}

// memStore is a tenant-scoped record store that fails the test whenever a
// call reaches a feature owned by a different organization than the caller.
type memStore struct {
	t *testing.T

	mu       sync.Mutex
	features map[string]*feature.Feature
	audits   []feature.AuditEntry
	updates  map[string]int
	failOn   map[string]error
}

func newMemStore(t *testing.T, features ...*feature.Feature) *memStore {
	s := &memStore{
		t:        t,
		features: map[string]*feature.Feature{},
		updates:  map[string]int{},
		failOn:   map[string]error{},
	}
	for _, f := range features {
		s.features[f.ID] = f
	}
	return s
}

func (s *memStore) FindByIDAndOrg(ctx context.Context, id, org string, opts feature.LookupOptions) (*feature.Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.features[id]
	if !ok || f.OrganizationID != org {
		return nil, feature.ErrNotFound
	}
	if f.Deleted() && !opts.IncludeDeleted {
		return nil, feature.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *memStore) Update(ctx context.Context, id, org string, fields feature.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[id]; err != nil {
		return err
	}
	f, ok := s.features[id]
	if !ok {
		return feature.ErrNotFound
	}
	if f.OrganizationID != org {
		s.t.Errorf("update of %s owned by %s requested by %s", id, f.OrganizationID, org)
		return feature.ErrNotFound
	}
	if fields.Status != nil {
		f.Status = *fields.Status
	}
	if fields.UpdatedBy != nil {
		f.UpdatedBy = *fields.UpdatedBy
	}
	if fields.DeletedAt != nil {
		at := *fields.DeletedAt
		f.DeletedAt = &at
	}
	if fields.DeletedBy != nil {
		f.DeletedBy = *fields.DeletedBy
	}
	s.updates[id]++
	return nil
}

func (s *memStore) CreateAuditEntry(ctx context.Context, entry feature.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.features[entry.ResourceID]; ok && f.OrganizationID != entry.OrganizationID {
		s.t.Errorf("audit of %s owned by %s written for %s", entry.ResourceID, f.OrganizationID, entry.OrganizationID)
	}
	s.audits = append(s.audits, entry)
	return nil
}

func (s *memStore) get(id string) feature.Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.features[id]
}

func (s *memStore) auditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audits)
}

// recordingSink keeps every event in emission order.
type recordingSink struct {
	mu     sync.Mutex
	events []worker.Event
}

func (s *recordingSink) Emit(e worker.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) snapshot() []worker.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]worker.Event(nil), s.events...)
}

func (s *recordingSink) ofType(t worker.EventType) []worker.Event {
	var out []worker.Event
	for _, e := range s.snapshot() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) forJob(id string) []worker.EventType {
	var out []worker.EventType
	for _, e := range s.snapshot() {
		if e.JobID == id {
			out = append(out, e.Type)
		}
	}
	return out
}

// dispatchFunc adapts a function to worker.JobDispatcher.
type dispatchFunc func(ctx context.Context, job *queue.Job, progress worker.ProgressFunc) worker.Result

func (f dispatchFunc) Dispatch(ctx context.Context, job *queue.Job, progress worker.ProgressFunc) worker.Result {
	return f(ctx, job, progress)
}

// manualClock drives ratelimit.SlidingWindow in pool tests. Timers fire only
// when the test advances the clock.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []clockWaiter
}

type clockWaiter struct {
	at time.Time
	ch chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, clockWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

func createdEnvelope(t *testing.T, featureID, org string) queue.Envelope {
	t.Helper()
	env, err := queue.NewEnvelope(queue.CreatedPayload{FeatureID: featureID, OrganizationID: org, UserID: "u1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func bulkJob(ids []string, action queue.Action) *queue.Job {
	return &queue.Job{
		ID:          fmt.Sprintf("bulk-%s", action),
		Name:        queue.NameBulk,
		Kind:        queue.KindBulk,
		MaxAttempts: queue.DefaultMaxAttempts,
		Payload:     queue.BulkPayload{FeatureIDs: ids, OrganizationID: "org-1", UserID: "u1", Action: action},
	}
}
