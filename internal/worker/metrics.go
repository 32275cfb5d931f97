package worker

import "sync/atomic"

// Metrics counts job lifecycle events.
type Metrics struct {
	started   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	exhausted atomic.Int64
	stalled   atomic.Int64
}

type MetricsSnapshot struct {
	Started   int64 `json:"started_jobs"`
	Completed int64 `json:"completed_jobs"`
	Failed    int64 `json:"failed_jobs"`
	Retried   int64 `json:"retried_jobs"`
	Exhausted int64 `json:"exhausted_jobs"`
	Stalled   int64 `json:"stalled_jobs"`
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Handle(e Event) {
	switch e.Type {
	case EventActive:
		m.started.Add(1)
	case EventCompleted:
		m.completed.Add(1)
	case EventFailed:
		if e.Final {
			m.failed.Add(1)
		} else {
			m.retried.Add(1)
		}
		if e.Exhausted {
			m.exhausted.Add(1)
		}
	case EventStalled:
		m.stalled.Add(1)
	}
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Started:   m.started.Load(),
		Completed: m.completed.Load(),
		Failed:    m.failed.Load(),
		Retried:   m.retried.Load(),
		Exhausted: m.exhausted.Load(),
		Stalled:   m.stalled.Load(),
	}
}
