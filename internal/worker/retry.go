package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"featureworker/internal/queue"
)

var ErrExhaustedRetries = errors.New("exhausted all retry attempts")

// RetryPolicy decides what happens to a job after a failed attempt.
// Zero values are treated as defaults.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries a job gets when its own
	// budget is unset.
	MaxAttempts int
	// Base is the delay before the first retry; each later retry doubles it.
	Base time.Duration
	// Max caps a single delay. Zero means uncapped.
	Max time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: queue.DefaultMaxAttempts, Base: time.Second}
}

type Action int

const (
	ActionComplete Action = iota
	ActionRequeue
	ActionFail
)

type Decision struct {
	Action Action
	// Attempts is the failed-attempt count after this outcome.
	Attempts int
	Delay    time.Duration
	// Exhausted is set when a retryable failure ran out of attempts.
	Exhausted bool
	Err       error
}

func (p RetryPolicy) maxAttempts(job *queue.Job) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return queue.DefaultMaxAttempts
}

// Decide maps a handler result to what the pool does with the job.
func (p RetryPolicy) Decide(job *queue.Job, res Result) Decision {
	switch res.Outcome {
	case OutcomeOK:
		return Decision{Action: ActionComplete, Attempts: job.Attempts}
	case OutcomeTerminal:
		return Decision{Action: ActionFail, Attempts: job.Attempts + 1, Err: res.Err}
	}

	attempts := job.Attempts + 1
	limit := p.maxAttempts(job)
	if attempts < limit {
		return Decision{Action: ActionRequeue, Attempts: attempts, Delay: p.Delay(attempts), Err: res.Err}
	}
	return Decision{
		Action:    ActionFail,
		Attempts:  attempts,
		Exhausted: true,
		Err:       fmt.Errorf("%w (%d/%d): %v", ErrExhaustedRetries, attempts, limit, res.Err),
	}
}

// Delay returns the wait before retry number attempts (1-based):
// Base * 2^(attempts-1), capped at Max when set.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.MaxInterval = time.Duration(1<<63 - 1)
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.Reset()

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}
