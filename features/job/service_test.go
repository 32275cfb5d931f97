package job

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featureworker/internal/middleware"
	"featureworker/internal/queue"
)

type slowProducer struct {
	sleep time.Duration
	last  queue.Envelope
}

func (p *slowProducer) Enqueue(ctx context.Context, env queue.Envelope) error {
	p.last = env
	select {
	case <-time.After(p.sleep):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type memRepo struct {
	Repository
	jobs    map[string]*Job
	deleted []string
}

func (m *memRepo) Save(ctx context.Context, j *Job) error {
	if m.jobs == nil {
		m.jobs = map[string]*Job{}
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *memRepo) Get(ctx context.Context, id string) (*Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j, nil
}

func (m *memRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	delete(m.jobs, id)
	return nil
}

func (m *memRepo) Count(ctx context.Context) (int, error) { return len(m.jobs), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestService_RecordThenRetry(t *testing.T) {
	repo := &memRepo{}
	producer := &slowProducer{}
	service := NewService(repo, producer, testLogger())

	env, err := queue.NewEnvelope(queue.UpdatedPayload{FeatureID: "f1", OrganizationID: "org1", UserID: "u1", Changes: map[string]any{"name": "X"}}, "")
	require.NoError(t, err)
	env.Attempts = 3
	dead, err := queue.Decode(env)
	require.NoError(t, err)

	require.NoError(t, service.Record(context.Background(), dead, "exhausted all retry attempts"))
	saved := repo.jobs[dead.ID]
	require.NotNil(t, saved)
	assert.Equal(t, "org1", saved.OrganizationID)
	assert.Equal(t, 3, saved.Attempts)

	ctx := middleware.WithCorrelationID(context.Background(), "corr-9")
	newID, err := service.Retry(ctx, dead.ID)
	require.NoError(t, err)

	assert.Equal(t, newID, producer.last.ID)
	assert.Equal(t, 0, producer.last.Attempts)
	assert.Equal(t, queue.DefaultMaxAttempts, producer.last.MaxAttempts)
	assert.Equal(t, "corr-9", producer.last.CorrelationID)
	assert.Equal(t, []string{dead.ID}, repo.deleted)

	again, err := queue.Decode(producer.last)
	require.NoError(t, err)
	assert.Equal(t, dead.Payload, again.Payload)
}

func TestService_RecordMalformed(t *testing.T) {
	repo := &memRepo{}
	service := NewService(repo, nil, testLogger())

	j := &queue.Job{ID: "m1", Name: queue.NameCreated, Data: json.RawMessage(`{}`), Kind: queue.KindCreated}
	require.NoError(t, service.Record(context.Background(), j, "malformed job payload"))
	assert.Empty(t, repo.jobs["m1"].OrganizationID)
}

func TestRetry_Timeout(t *testing.T) {
	repo := &memRepo{jobs: map[string]*Job{"1": {ID: "1", Name: queue.NameCreated, Payload: []byte("{}")}}}
	producer := &slowProducer{sleep: time.Second}
	service := NewService(repo, producer, testLogger())
	service.timeout = 20 * time.Millisecond

	_, err := service.Retry(context.Background(), "1")
	assert.ErrorIs(t, err, ErrPublishTimeout)
	assert.Empty(t, repo.deleted)
}

func TestService_Count(t *testing.T) {
	repo := &memRepo{jobs: map[string]*Job{"1": {}, "2": {}}}
	service := NewService(repo, nil, testLogger())

	count, err := service.Count(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}
