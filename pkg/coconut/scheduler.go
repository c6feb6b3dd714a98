package coconut

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is a deferred unit of AI work.
type Task func(ctx context.Context) error

// Handle is the result channel of an enqueued Task.
type Handle struct {
	id       string
	ctx      context.Context
	task     Task
	enqueued time.Time

	started chan struct{}
	done    chan struct{}
	err     error
}

// ID returns the scheduler-assigned task id.
func (h *Handle) ID() string { return h.id }

// Started is closed when the task begins running.
func (h *Handle) Started() <-chan struct{} { return h.started }

// Done is closed when the task has finished or was dropped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the task's error. Only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends. A task that already
// started keeps running when ctx ends; there is no cancellation of started work.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) fail(err error) {
	h.err = err
	close(h.done)
}

// SchedulerStats is a point-in-time view of the scheduler.
type SchedulerStats struct {
	Pending   int
	Active    int
	Started   int64
	Completed int64
	Failed    int64
	Dropped   int64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithPolicies overrides the elevated and standard admission policies.
func WithPolicies(elevated, standard Policy) SchedulerOption {
	return func(s *Scheduler) {
		s.elevated = elevated
		s.standard = standard
	}
}

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(logger Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSchedulerMetrics sets the scheduler metrics recorder.
func WithSchedulerMetrics(metrics Metrics) SchedulerOption {
	return func(s *Scheduler) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// Scheduler is a FIFO admission queue in front of the AI provider.
//
// A single dispatcher goroutine starts queued tasks while fewer than the
// tier's ceiling are running, waiting the tier's delay between starts when more
// tasks are pending. The tier is polled before every start decision.
type Scheduler struct {
	tier     AccessTier
	elevated Policy
	standard Policy
	logger   Logger
	metrics  Metrics

	mu       sync.Mutex
	queue    []*Handle
	active   int
	stats    SchedulerStats
	stopping bool

	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewScheduler creates and starts a scheduler. Close must be called to stop it.
func NewScheduler(tier AccessTier, opts ...SchedulerOption) *Scheduler {
	if tier == nil {
		tier = StaticTier(false)
	}
	s := &Scheduler{
		tier:     tier,
		elevated: ElevatedPolicy,
		standard: StandardPolicy,
		logger:   &NoopLogger{},
		metrics:  &NoopMetrics{},
		wake:     make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.elevated.Ceiling <= 0 {
		s.elevated.Ceiling = 1
	}
	if s.standard.Ceiling <= 0 {
		s.standard.Ceiling = 1
	}

	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue appends task to the queue and returns its handle. If ctx ends before
// the task starts, the task is dropped and its handle fails with ctx's error.
func (s *Scheduler) Enqueue(ctx context.Context, task Task) *Handle {
	if ctx == nil {
		ctx = context.Background()
	}
	h := &Handle{
		id:       uuid.NewString(),
		ctx:      ctx,
		task:     task,
		enqueued: time.Now(),
		started:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		h.fail(ErrSchedulerClosed)
		return h
	}
	s.queue = append(s.queue, h)
	pending, active := len(s.queue), s.active
	s.mu.Unlock()

	s.metrics.RecordQueueDepth(pending, active)
	s.signal()
	return h
}

// Submit enqueues fn and waits for its typed result.
func Submit[T any](ctx context.Context, s *Scheduler, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	h := s.Enqueue(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err := h.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Stats returns current counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Pending = len(s.queue)
	st.Active = s.active
	return st
}

// Close stops the dispatcher and fails every pending task with ErrSchedulerClosed.
// Running tasks are not interrupted; Close does not wait for them.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	s.wg.Wait()
	return nil
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.closed:
			s.failPending()
			return
		case <-s.wake:
			s.drain()
		}
	}
}

func (s *Scheduler) policy() (Policy, bool) {
	if s.tier.Elevated(context.Background()) {
		return s.elevated, true
	}
	return s.standard, false
}

// drain starts tasks while permits are available, spacing starts by the tier delay.
func (s *Scheduler) drain() {
	for {
		policy, elevated := s.policy()

		s.mu.Lock()
		if s.active >= policy.Ceiling {
			s.mu.Unlock()
			return
		}
		h := s.popLocked()
		if h == nil {
			s.mu.Unlock()
			return
		}
		s.active++
		s.stats.Started++
		remaining, active := len(s.queue), s.active
		s.mu.Unlock()

		s.logger.Debug("dispatching AI task",
			Field{Key: "task_id", Value: h.id},
			Field{Key: "pending", Value: remaining},
			Field{Key: "active", Value: active},
			Field{Key: "elevated", Value: elevated},
		)
		s.metrics.RecordQueueDepth(remaining, active)
		s.start(h)

		if remaining == 0 {
			return
		}
		if !s.sleep(policy.Delay) {
			return
		}
	}
}

// popLocked removes the head of the queue, dropping tasks whose context already ended.
func (s *Scheduler) popLocked() *Handle {
	for len(s.queue) > 0 {
		h := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		if err := h.ctx.Err(); err != nil {
			s.stats.Dropped++
			h.fail(err)
			continue
		}
		return h
	}
	return nil
}

func (s *Scheduler) start(h *Handle) {
	s.metrics.RecordQueueWait(time.Since(h.enqueued))
	close(h.started)

	go func() {
		err := runTask(context.WithoutCancel(h.ctx), h.task)

		s.mu.Lock()
		s.active--
		if err != nil {
			s.stats.Failed++
		} else {
			s.stats.Completed++
		}
		pending, active := len(s.queue), s.active
		s.mu.Unlock()

		s.metrics.RecordQueueDepth(pending, active)
		h.err = err
		close(h.done)
		s.signal()
	}()
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// sleep waits d, returning false if the scheduler closed meanwhile.
func (s *Scheduler) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.closed:
		return false
	}
}

func (s *Scheduler) failPending() {
	s.mu.Lock()
	s.stopping = true
	pending := s.queue
	s.queue = nil
	s.stats.Dropped += int64(len(pending))
	s.mu.Unlock()

	for _, h := range pending {
		h.fail(ErrSchedulerClosed)
	}
}
