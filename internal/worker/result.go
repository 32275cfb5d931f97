package worker

type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeRetryable failures are worth another attempt.
	OutcomeRetryable
	// OutcomeTerminal failures fail the job immediately.
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	}
	return "unknown"
}

// Result is what a handler reports back to the pool.
type Result struct {
	Outcome Outcome
	Value   any
	Err     error
}

func OK(v any) Result { return Result{Outcome: OutcomeOK, Value: v} }

func Retryable(err error) Result { return Result{Outcome: OutcomeRetryable, Err: err} }

func Terminal(err error) Result { return Result{Outcome: OutcomeTerminal, Err: err} }
