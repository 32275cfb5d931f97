package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featureworker/internal/queue"
	"featureworker/internal/testutils"
)

func TestRedisTransport_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	s := testutils.NewIntegrationSuite(t)
	s.StartRedis()
	defer s.Teardown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t.Run("fifo, nack and ack", func(t *testing.T) {
		tr := queue.NewRedisTransport(s.Redis, "t1", time.Minute)

		a := enqueueCreated(t, tr, "a")
		b := enqueueCreated(t, tr, "b")

		ja, err := tr.Lease(ctx)
		require.NoError(t, err)
		assert.Equal(t, a.ID, ja.ID)

		require.NoError(t, tr.Nack(ctx, ja, 0))

		jb, err := tr.Lease(ctx)
		require.NoError(t, err)
		assert.Equal(t, b.ID, jb.ID)
		require.NoError(t, tr.Ack(ctx, jb))

		again, err := tr.Lease(ctx)
		require.NoError(t, err)
		assert.Equal(t, a.ID, again.ID)
		assert.Equal(t, 1, again.Attempts)
		require.NoError(t, tr.Fail(ctx, again, "gave up"))
		assert.ErrorIs(t, tr.Ack(ctx, again), queue.ErrLeaseLost)
	})

	t.Run("delayed requeue", func(t *testing.T) {
		tr := queue.NewRedisTransport(s.Redis, "t2", time.Minute)
		enqueueCreated(t, tr, "a")

		job, err := tr.Lease(ctx)
		require.NoError(t, err)
		require.NoError(t, tr.Nack(ctx, job, 1500*time.Millisecond))

		start := time.Now()
		again, err := tr.Lease(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), time.Second)
		assert.Equal(t, job.ID, again.ID)
	})

	t.Run("expired lease is reaped as stalled", func(t *testing.T) {
		tr := queue.NewRedisTransport(s.Redis, "t3", 500*time.Millisecond)
		stalled := make(chan string, 1)
		tr.OnStall(func(id string) { stalled <- id })

		env := enqueueCreated(t, tr, "a")
		first, err := tr.Lease(ctx)
		require.NoError(t, err)

		second, err := tr.Lease(ctx)
		require.NoError(t, err)
		assert.Equal(t, env.ID, second.ID)
		assert.Equal(t, env.ID, <-stalled)

		assert.ErrorIs(t, tr.Ack(ctx, first), queue.ErrLeaseLost)
		assert.NoError(t, tr.Ack(ctx, second))
	})
}
