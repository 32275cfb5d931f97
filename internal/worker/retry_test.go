package worker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"featureworker/internal/queue"
	"featureworker/internal/worker"
)

func TestRetryPolicy_Decide(t *testing.T) {
	policy := worker.RetryPolicy{MaxAttempts: 3, Base: time.Second}
	transient := errors.New("connection reset")

	tests := []struct {
		name      string
		attempts  int
		result    worker.Result
		action    worker.Action
		delay     time.Duration
		exhausted bool
	}{
		{"ok completes", 0, worker.OK("done"), worker.ActionComplete, 0, false},
		{"terminal fails at once", 0, worker.Terminal(errors.New("not found")), worker.ActionFail, 0, false},
		{"first retryable waits base", 0, worker.Retryable(transient), worker.ActionRequeue, time.Second, false},
		{"second retryable doubles", 1, worker.Retryable(transient), worker.ActionRequeue, 2 * time.Second, false},
		{"third retryable is exhausted", 2, worker.Retryable(transient), worker.ActionFail, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &queue.Job{Attempts: tt.attempts, MaxAttempts: 3}
			d := policy.Decide(job, tt.result)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.delay, d.Delay)
			assert.Equal(t, tt.exhausted, d.Exhausted)
			if tt.exhausted {
				assert.ErrorIs(t, d.Err, worker.ErrExhaustedRetries)
				assert.Equal(t, 3, d.Attempts)
			}
		})
	}
}

func TestRetryPolicy_UsesPolicyMaxWhenJobHasNone(t *testing.T) {
	policy := worker.RetryPolicy{MaxAttempts: 5, Base: time.Second}
	d := policy.Decide(&queue.Job{Attempts: 3}, worker.Retryable(errors.New("x")))
	assert.Equal(t, worker.ActionRequeue, d.Action)
	assert.Equal(t, 8*time.Second, d.Delay)
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := worker.RetryPolicy{Base: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, policy.Delay(1))
	assert.Equal(t, 200*time.Millisecond, policy.Delay(2))
	assert.Equal(t, 400*time.Millisecond, policy.Delay(3))
	assert.Equal(t, 800*time.Millisecond, policy.Delay(4))

	capped := worker.RetryPolicy{Base: time.Second, Max: 3 * time.Second}
	assert.Equal(t, 2*time.Second, capped.Delay(2))
	assert.Equal(t, 3*time.Second, capped.Delay(3))
	assert.Equal(t, 3*time.Second, capped.Delay(10))
}
