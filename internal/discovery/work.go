package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/muurk/btgate/internal/logging"
	"go.uber.org/zap"
)

// task is one unit of work queued on the WorkManager.
type task struct {
	name string
	run  func(ctx context.Context)
	// fail is called instead of run when the task is discarded, and after run
	// when it panicked. It may be nil.
	fail func(err error)
}

// WorkManager runs radio operations one at a time, in submission order, on a
// single dedicated goroutine. The radio hardware forbids concurrent inquiries
// and searches; this is the only place where that is enforced.
//
// Shutdown must not be called from inside a unit of work.
type WorkManager struct {
	mu        sync.Mutex
	queue     []*task
	schedules map[*Schedule]struct{}
	current   string
	stopped   bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorkManager starts the worker goroutine.
func NewWorkManager() *WorkManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &WorkManager{
		schedules: make(map[*Schedule]struct{}),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go m.loop()
	return m
}

// Submit queues a one-shot unit of work.
func (m *WorkManager) Submit(name string, fn func(ctx context.Context)) error {
	return m.enqueue(&task{name: name, run: fn})
}

// Future is the pending result of a unit submitted with SubmitValue.
type Future[T any] struct {
	p *promise[futureResult[T]]
}

type futureResult[T any] struct {
	val T
	err error
}

// Wait blocks until the unit has run (or was discarded) or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	r, err := f.p.await(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return r.val, r.err
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.p.done
}

// SubmitValue queues a unit of work that produces a result.
func SubmitValue[T any](m *WorkManager, name string, fn func(ctx context.Context) (T, error)) (*Future[T], error) {
	p := newPromise[futureResult[T]]()
	t := &task{
		name: name,
		run: func(ctx context.Context) {
			v, err := fn(ctx)
			p.resolve(futureResult[T]{val: v, err: err})
		},
		fail: func(err error) {
			p.resolve(futureResult[T]{err: err})
		},
	}
	if err := m.enqueue(t); err != nil {
		return nil, err
	}
	return &Future[T]{p: p}, nil
}

// Schedule is a periodic job registered with ScheduleFixedDelay.
type Schedule struct {
	m      *WorkManager
	name   string
	fn     func(ctx context.Context)
	period time.Duration

	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
}

// ScheduleFixedDelay queues fn immediately and then again period after each
// run returns. Runs never overlap: the next one is armed only once the
// previous one, including any wait inside it, has completed.
func (m *WorkManager) ScheduleFixedDelay(name string, fn func(ctx context.Context), period time.Duration) (*Schedule, error) {
	if period <= 0 {
		return nil, fmt.Errorf("schedule %s: period must be positive, got %v", name, period)
	}

	s := &Schedule{m: m, name: name, fn: fn, period: period}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrWorkManagerStopped
	}
	m.schedules[s] = struct{}{}
	m.mu.Unlock()

	logging.Info("Submitting periodic task",
		zap.String("task", name),
		zap.Duration("period", period),
	)

	if err := m.enqueue(s.task()); err != nil {
		s.Cancel()
		return nil, err
	}
	return s, nil
}

func (s *Schedule) task() *task {
	return &task{name: s.name, run: s.runOnce}
}

func (s *Schedule) runOnce(ctx context.Context) {
	defer s.rearm()
	s.fn(ctx)
}

func (s *Schedule) rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.timer = time.AfterFunc(s.period, func() {
		// Held across enqueue so a concurrent Cancel either sees the run
		// queued or prevents it.
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cancelled {
			return
		}
		if err := s.m.enqueue(s.task()); err != nil {
			logging.Debug("Periodic task not re-armed",
				zap.String("task", s.name),
				zap.Error(err),
			)
		}
	})
}

// Cancel stops future runs. A run already queued or executing is not affected.
func (s *Schedule) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.m.mu.Lock()
	delete(s.m.schedules, s)
	s.m.mu.Unlock()
}

// Pending returns the number of queued units, excluding the running one.
func (m *WorkManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Running returns the name of the executing unit, or "" when idle.
func (m *WorkManager) Running() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Shutdown interrupts the running unit through its context, discards the
// queue, cancels all schedules and waits for the worker to exit. Discarded
// units that carry a Future fail with ErrWorkManagerStopped.
func (m *WorkManager) Shutdown() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		<-m.done
		return
	}
	m.stopped = true
	queued := m.queue
	m.queue = nil
	schedules := make([]*Schedule, 0, len(m.schedules))
	for s := range m.schedules {
		schedules = append(schedules, s)
	}
	m.mu.Unlock()

	logging.Info("Shutting down work manager", zap.Int("discarded", len(queued)))

	for _, s := range schedules {
		s.Cancel()
	}
	m.cancel()

	for _, t := range queued {
		if t.fail != nil {
			t.fail(ErrWorkManagerStopped)
		}
	}

	<-m.done
}

func (m *WorkManager) enqueue(t *task) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrWorkManagerStopped
	}
	m.queue = append(m.queue, t)
	depth := len(m.queue)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}

	logging.Debug("Task submitted",
		zap.String("task", t.name),
		zap.Int("queue", depth),
	)
	return nil
}

func (m *WorkManager) loop() {
	defer close(m.done)
	for {
		t := m.next()
		if t == nil {
			return
		}
		m.execute(t)
	}
}

func (m *WorkManager) next() *task {
	for {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return nil
		}
		if len(m.queue) > 0 {
			t := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.current = t.name
			m.mu.Unlock()
			return t
		}
		m.mu.Unlock()

		select {
		case <-m.wake:
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *WorkManager) execute(t *task) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Uncaught panic in unit of work",
				zap.String("task", t.name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			if t.fail != nil {
				t.fail(fmt.Errorf("task %s panicked: %v", t.name, r))
			}
		}
		m.mu.Lock()
		m.current = ""
		m.mu.Unlock()
	}()

	t.run(m.ctx)
}
