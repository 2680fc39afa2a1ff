// Package sched provides a rate-limited request scheduler for outbound
// calls to the remote board API. A job starts only when all three
// constraints hold at once: in-flight jobs are below the concurrency
// ceiling, the minimum spacing since the previous start has elapsed, and
// the token reservoir holds at least one token. Overflow is held in a
// priority queue (FIFO within a priority), and quota-exceeded failures
// are retried with bounded exponential backoff.
package sched

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightport/boardbridge/fault"
)

// Priority orders pending jobs; higher is served sooner.
type Priority int

const (
	// PriorityLow is the bulk/background tier.
	PriorityLow Priority = 1
	// PriorityNormal is the default tier.
	PriorityNormal Priority = 5
	// PriorityHigh is the latency-sensitive single-item tier.
	PriorityHigh Priority = 9
)

// Operation is a deferred remote call. It must honor ctx cancellation
// for its own I/O, but the scheduler never cancels a started operation.
type Operation func(ctx context.Context) (any, error)

// Outcome is the resolution of a scheduled job.
type Outcome struct {
	Value    any
	Err      error
	Attempts int
}

// Config configures a Scheduler. Zero fields take the documented
// defaults, which follow the remote API's published quota.
type Config struct {
	// Concurrency is the ceiling on simultaneously in-flight jobs.
	// Default: 4.
	Concurrency int

	// Tokens is the reservoir ceiling and the amount it is reset to on
	// every refill. Default: 100.
	Tokens int

	// RefillInterval is how often the reservoir is reset to Tokens.
	// The reset is absolute, not incremental, which bounds burstiness
	// deterministically across windows. Default: 10s.
	RefillInterval time.Duration

	// MinSpacing is the minimum delay between consecutive job starts.
	// Default: 60ms.
	MinSpacing time.Duration

	// MaxAttempts bounds retries of quota-exceeded failures. Default: 3.
	MaxAttempts int

	// BackoffBase scales the retry delay: BackoffBase doubled per prior
	// attempt, capped at BackoffCap. Defaults: 500ms base, 10s cap.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	Logger *slog.Logger
	Events EventHandler
}

type job struct {
	id       string
	op       Operation
	priority Priority
	seq      uint64
	attempt  int
	result   chan Outcome
}

// Scheduler dispatches jobs against the rate budget. Construct with New
// and release with Close; pending jobs at Close are dropped with an
// error, never silently.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
	events EventHandler

	mu        sync.Mutex
	queue     jobQueue
	seq       uint64
	tokens    int
	inFlight  int
	lastStart time.Time
	depleted  bool // reservoir.depleted already emitted this window
	closed    bool

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Scheduler and starts its dispatch loop.
func New(cfg Config) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Tokens <= 0 {
		cfg.Tokens = 100
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = 10 * time.Second
	}
	if cfg.MinSpacing < 0 {
		cfg.MinSpacing = 0
	} else if cfg.MinSpacing == 0 {
		cfg.MinSpacing = 60 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		cfg:    cfg,
		logger: logger,
		events: cfg.Events,
		tokens: cfg.Tokens,
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	heap.Init(&s.queue)
	go s.run()
	return s
}

// Submit enqueues op at the given priority and returns a channel that
// resolves with the operation's outcome. The channel is buffered, so an
// abandoning caller never blocks the scheduler.
func (s *Scheduler) Submit(op Operation, priority Priority) <-chan Outcome {
	j := &job{
		id:       uuid.NewString(),
		op:       op,
		priority: priority,
		result:   make(chan Outcome, 1),
	}

	s.mu.Lock()
	if s.closed {
		depth := s.queue.Len()
		s.mu.Unlock()
		s.emit(Event{Kind: EventJobDropped, JobID: j.id, Priority: priority, QueueDepth: depth, Error: "scheduler closed", Time: time.Now()})
		s.logger.Warn("job dropped: scheduler closed", "job_id", j.id)
		j.result <- Outcome{Err: fault.New(fault.CodeInternal, "scheduler is closed")}
		return j.result
	}
	s.seq++
	j.seq = s.seq
	heap.Push(&s.queue, j)
	s.mu.Unlock()

	s.wake()
	return j.result
}

// Do schedules op and waits for its outcome or ctx expiry. On ctx expiry
// the job is abandoned from the caller's perspective but continues until
// the remote response resolves; it is not preemptible once started.
func (s *Scheduler) Do(ctx context.Context, op Operation, priority Priority) (any, error) {
	select {
	case out := <-s.Submit(op, priority):
		return out.Value, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DoHigh schedules op on the latency-sensitive tier.
func (s *Scheduler) DoHigh(ctx context.Context, op Operation) (any, error) {
	return s.Do(ctx, op, PriorityHigh)
}

// DoLow schedules op on the bulk/background tier.
func (s *Scheduler) DoLow(ctx context.Context, op Operation) (any, error) {
	return s.Do(ctx, op, PriorityLow)
}

// Stats is a point-in-time snapshot of scheduler state.
type Stats struct {
	QueueDepth int
	InFlight   int
	Tokens     int
}

// Stats returns the current queue depth, in-flight count, and reservoir.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{QueueDepth: s.queue.Len(), InFlight: s.inFlight, Tokens: s.tokens}
}

// Close stops the dispatch loop. Queued jobs that never started are
// resolved with an error and reported as dropped. In-flight jobs run to
// completion. Close is safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.doneCh
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	refill := time.NewTicker(s.cfg.RefillInterval)
	defer refill.Stop()

	var spacing *time.Timer
	defer func() {
		if spacing != nil {
			spacing.Stop()
		}
	}()

	for {
		wait := s.dispatch()

		var spacingC <-chan time.Time
		if wait > 0 {
			if spacing == nil {
				spacing = time.NewTimer(wait)
			} else {
				if !spacing.Stop() {
					select {
					case <-spacing.C:
					default:
					}
				}
				spacing.Reset(wait)
			}
			spacingC = spacing.C
		}

		select {
		case <-s.stopCh:
			s.drainDropped()
			return
		case <-refill.C:
			s.mu.Lock()
			// Absolute reset, independent of consumption this window.
			s.tokens = s.cfg.Tokens
			s.depleted = false
			s.mu.Unlock()
		case <-s.wakeCh:
		case <-spacingC:
		}
	}
}

// dispatch starts every job the budget currently admits. It returns the
// remaining spacing delay when that is the only blocking constraint, so
// the loop can arm a timer instead of spinning.
func (s *Scheduler) dispatch() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.queue.Len() > 0 {
		if s.inFlight >= s.cfg.Concurrency {
			return 0
		}
		if s.tokens < 1 {
			if !s.depleted {
				s.depleted = true
				depth := s.queue.Len()
				s.logger.Warn("rate reservoir depleted, queue backing up", "queue_depth", depth)
				s.emit(Event{Kind: EventReservoirDepleted, QueueDepth: depth, Time: time.Now()})
			}
			return 0
		}
		now := time.Now()
		if wait := s.cfg.MinSpacing - now.Sub(s.lastStart); !s.lastStart.IsZero() && wait > 0 {
			return wait
		}

		j := heap.Pop(&s.queue).(*job)
		// Check-and-decrement happens under the lock; the reservoir
		// only moves at job start and on refill.
		s.tokens--
		s.inFlight++
		s.lastStart = now
		s.emit(Event{Kind: EventJobStarted, JobID: j.id, Priority: j.priority, Attempt: j.attempt, QueueDepth: s.queue.Len(), Time: now})
		go s.execute(j)
	}
	return 0
}

func (s *Scheduler) execute(j *job) {
	value, err := j.op(context.Background())

	s.mu.Lock()
	s.inFlight--
	closed := s.closed
	s.mu.Unlock()

	if err != nil && fault.IsQuotaExceeded(err) && j.attempt < s.cfg.MaxAttempts-1 && !closed {
		delay := s.backoff(j.attempt)
		j.attempt++
		s.logger.Info("quota exceeded, retry scheduled",
			"job_id", j.id, "attempt", j.attempt, "delay", delay)
		s.emit(Event{Kind: EventRetryScheduled, JobID: j.id, Priority: j.priority, Attempt: j.attempt, Wait: delay, Time: time.Now()})
		time.AfterFunc(delay, func() { s.requeue(j) })
		s.wake()
		return
	}

	errText := ""
	if err != nil {
		errText = err.Error()
	}
	s.emit(Event{Kind: EventJobFinished, JobID: j.id, Priority: j.priority, Attempt: j.attempt, Error: errText, Time: time.Now()})
	j.result <- Outcome{Value: value, Err: err, Attempts: j.attempt + 1}
	s.wake()
}

func (s *Scheduler) requeue(j *job) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.emit(Event{Kind: EventJobDropped, JobID: j.id, Priority: j.priority, Attempt: j.attempt, Error: "scheduler closed during backoff", Time: time.Now()})
		s.logger.Warn("job dropped: scheduler closed during backoff", "job_id", j.id)
		j.result <- Outcome{Err: fault.New(fault.CodeInternal, "scheduler closed during backoff"), Attempts: j.attempt}
		return
	}
	s.seq++
	j.seq = s.seq
	heap.Push(&s.queue, j)
	s.mu.Unlock()
	s.wake()
}

// backoff doubles per prior attempt: base, 2*base, 4*base, capped.
func (s *Scheduler) backoff(attempt int) time.Duration {
	delay := s.cfg.BackoffBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffCap {
			return s.cfg.BackoffCap
		}
	}
	if delay > s.cfg.BackoffCap {
		return s.cfg.BackoffCap
	}
	return delay
}

func (s *Scheduler) drainDropped() {
	s.mu.Lock()
	dropped := make([]*job, 0, s.queue.Len())
	for s.queue.Len() > 0 {
		dropped = append(dropped, heap.Pop(&s.queue).(*job))
	}
	s.mu.Unlock()

	for _, j := range dropped {
		s.emit(Event{Kind: EventJobDropped, JobID: j.id, Priority: j.priority, Attempt: j.attempt, Error: "scheduler closed", Time: time.Now()})
		s.logger.Warn("job dropped: scheduler closed", "job_id", j.id)
		j.result <- Outcome{Err: fault.New(fault.CodeInternal, "scheduler closed before job started"), Attempts: j.attempt}
	}
}

func (s *Scheduler) emit(e Event) {
	if s.events != nil {
		s.events(e)
	}
}

// jobQueue is a max-heap on priority with FIFO order inside a priority.
type jobQueue []*job

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *jobQueue) Push(x any) { *q = append(*q, x.(*job)) }

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
