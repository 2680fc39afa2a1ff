package sched

import "time"

// EventKind identifies the type of event emitted by the scheduler.
type EventKind string

const (
	// EventJobStarted is emitted when a job is admitted and begins running.
	EventJobStarted EventKind = "job.started"

	// EventJobFinished is emitted when a job resolves, successfully or not.
	EventJobFinished EventKind = "job.finished"

	// EventRetryScheduled is emitted when a quota-exceeded failure is
	// re-queued with a backoff delay.
	EventRetryScheduled EventKind = "retry.scheduled"

	// EventReservoirDepleted is emitted once per refill window when jobs
	// are waiting but the token reservoir is empty.
	EventReservoirDepleted EventKind = "reservoir.depleted"

	// EventJobDropped is emitted when a job is discarded without running.
	// This is correctness-relevant and must never happen silently.
	EventJobDropped EventKind = "job.dropped"
)

func (k EventKind) String() string { return string(k) }

// Event is a structured record of a scheduler state change, consumed by
// logging and metrics subscribers without the scheduler knowing them.
type Event struct {
	Kind       EventKind
	JobID      string
	Priority   Priority
	Attempt    int
	Wait       time.Duration
	QueueDepth int
	Error      string
	Time       time.Time
}

// EventHandler is a function type for handling scheduler events.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}
