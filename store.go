package resultstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

// Store tracks one asynchronous computation and the [Result] it produces.
//
// A Store owns at most one running task at a time. [Store.Run] starts a task
// for a [Producer], superseding any task already running; the task publishes
// Waiting first, then Success for every value, then Failure if the producer
// fails. Subscribers registered with [Store.Subscribe] are notified exactly
// once per published transition and read the current state with
// [Store.Snapshot].
//
// A superseded or interrupted task never publishes again, even if it was in
// the middle of producing a value when cancellation was requested.
// Cancellation itself is never published.
//
// The typical lifecycle is:
//
//	s, err := resultstore.New[User](resultstore.WithName("user"))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	unsubscribe := s.Subscribe(func() {
//	    bag := s.Snapshot()
//	    if bag.IsLoading() {
//	        fmt.Println("loading...")
//	    }
//	})
//	defer unsubscribe()
//
//	s.Run(resultstore.FromFunc(fetchUser))
//
// All methods are safe for concurrent use.
type Store[A any] struct {
	executor          Executor
	logger            *slog.Logger
	clock             func() time.Time
	inst              *instruments
	resumeOnSubscribe bool

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	result    Result[A]
	metrics   Metrics
	bag       *Bag[A]
	listeners []*listener
	active    *task
	producer  Producer[A]
	resumable bool
	closed    bool

	// pending holds one batch of listeners per published transition, in
	// publish order. Only the caller that set delivering drains it.
	pending    [][]*listener
	delivering bool
}

// task is one execution of a Producer.
// cancelled, finished and handle are guarded by Store.mu.
type task struct {
	id        string
	cancelled bool
	finished  bool
	handle    Handle
	done      chan struct{}
}

type listener struct {
	fn      func()
	removed atomic.Bool
}

// New creates a new [Store] with the given options.
//
// Options have sensible defaults:
//   - Executor: a zero [GoExecutor]
//   - Logger: [slog.Default]
//   - Clock: [time.Now]
//   - MeterProvider: the global OpenTelemetry provider
//
// Returns an error if any option is invalid.
func New[A any](opts ...Option) (*Store[A], error) {
	cfg := &storeConfig{}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.executor == nil {
		cfg.executor = &GoExecutor{}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	if cfg.meterProvider == nil {
		cfg.meterProvider = otel.GetMeterProvider()
	}

	logger := cfg.logger
	if cfg.name != "" {
		logger = logger.With("store", cfg.name)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Store[A]{
		executor:          cfg.executor,
		logger:            logger,
		clock:             cfg.clock,
		inst:              newInstruments(cfg.meterProvider, cfg.name),
		resumeOnSubscribe: cfg.resumeOnSubscribe,
		ctx:               ctx,
		cancel:            cancel,
	}
	s.bag = newBag(s.result, s.metrics)

	return s, nil
}

// MustNew is like [New] but panics if an option is invalid.
func MustNew[A any](opts ...Option) *Store[A] {
	s, err := New[A](opts...)
	if err != nil {
		panic(fmt.Sprintf("resultstore: %v", err))
	}
	return s
}

// Run starts a task for p, superseding the running task, if any.
//
// Run does not block. The superseded task is asked to cancel and, from the
// moment Run returns, can no longer publish. The new task first publishes
// Waiting over the current Result, then drives p. A failure of p is
// published as a Failure; it is never returned or panicked out of Run.
//
// Calling Run on a closed store does nothing. Run panics if p is nil.
func (s *Store[A]) Run(p Producer[A]) {
	if p == nil {
		panic("Run(nil): undefined behavior")
	}

	t := &task{id: uuid.NewString(), done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("run ignored on closed store")
		return
	}
	prev, prevHandle := s.detachLocked()
	s.active = t
	s.producer = p
	s.resumable = false
	s.metrics.InvocationCount++
	s.bag = newBag(s.result, s.metrics)
	s.mu.Unlock()

	if prev != nil {
		if prevHandle != nil {
			prevHandle.Cancel()
		}
		s.inst.interrupts.Add(context.Background(), 1, s.inst.attrs)
		s.logger.Debug("task superseded", "task_id", prev.id, "by", t.id)
	}

	s.inst.runs.Add(context.Background(), 1, s.inst.attrs)
	s.logger.Debug("task started", "task_id", t.id)

	h := s.executor.Fork(s.ctx, func(ctx context.Context) {
		s.runTask(ctx, t, p)
	})

	s.mu.Lock()
	t.handle = h
	cancelled := t.cancelled
	s.mu.Unlock()

	// An interrupt that landed while Fork was in progress found no handle.
	if cancelled {
		h.Cancel()
	}
}

// InterruptIfRunning interrupts the running task, if any. The store becomes
// idle and keeps its current Result. Calling it on an idle store does nothing.
func (s *Store[A]) InterruptIfRunning() {
	s.interrupt(false)
}

// interrupt detaches and cancels the running task. When unobserved is true,
// it does so only if no subscriber is registered.
func (s *Store[A]) interrupt(unobserved bool) {
	s.mu.Lock()
	if unobserved && len(s.listeners) != 0 {
		s.mu.Unlock()
		return
	}
	t, h := s.detachLocked()
	if t != nil {
		s.resumable = true
		s.bag = newBag(s.result, s.metrics)
	}
	s.mu.Unlock()

	if t == nil {
		return
	}
	if h != nil {
		h.Cancel()
	}

	s.inst.interrupts.Add(context.Background(), 1, s.inst.attrs)
	s.logger.Debug("task interrupted", "task_id", t.id, "unobserved", unobserved)
}

// detachLocked marks the running task cancelled and forgets it.
// It returns the task and its handle, both nil if the store was idle.
// The caller must cancel the handle after releasing s.mu.
func (s *Store[A]) detachLocked() (*task, Handle) {
	t := s.active
	if t == nil {
		return nil, nil
	}
	t.cancelled = true
	s.active = nil
	s.metrics.InterruptCount++
	return t, t.handle
}

// Subscribe registers fn to be called after every published transition and
// returns a function that unregisters it.
//
// Subscribing does not start a task (unless [WithResumeOnSubscribe] is set).
// Unsubscribing is idempotent. When the last subscriber leaves, the store
// interrupts its running task, but only on the executor's next turn (see
// [Executor.Defer]) and only if nobody subscribed in the meantime.
//
// fn runs outside the store's lock and may call any method of the store.
// Subscribing to a closed store returns a no-op unsubscribe function.
func (s *Store[A]) Subscribe(fn func()) (unsubscribe func()) {
	l := &listener{fn: fn}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	s.listeners = append(s.listeners, l)
	resume := s.resumeOnSubscribe && s.resumable && s.active == nil && len(s.listeners) == 1
	p := s.producer
	s.mu.Unlock()

	if resume && p != nil {
		s.logger.Debug("resuming last producer on subscribe")
		s.Run(p)
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(l) })
	}
}

func (s *Store[A]) unsubscribe(l *listener) {
	l.removed.Store(true)

	s.mu.Lock()
	if i := slices.Index(s.listeners, l); i != -1 {
		s.listeners = slices.Delete(s.listeners, i, i+1)
	}
	last := len(s.listeners) == 0 && !s.closed
	s.mu.Unlock()

	if last {
		s.executor.Defer(func() { s.interrupt(true) })
	}
}

// Snapshot returns the current [Bag]. It returns the same pointer until the
// store changes again, so it can be compared by identity.
func (s *Store[A]) Snapshot() *Bag[A] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bag
}

// Result returns the current [Result].
func (s *Store[A]) Result() Result[A] {
	return s.Snapshot().Result()
}

// Running reports whether the store has a running task.
func (s *Store[A]) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Wait blocks until the running task, if any, has returned, or until ctx is
// done. It returns nil right away on an idle store.
func (s *Store[A]) Wait(ctx context.Context) error {
	s.mu.Lock()
	t := s.active
	s.mu.Unlock()

	if t == nil {
		return nil
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close interrupts the running task, drops every subscriber and makes later
// calls to Run no-ops. Close is idempotent.
func (s *Store[A]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	t, h := s.detachLocked()
	for _, l := range s.listeners {
		l.removed.Store(true)
	}
	s.listeners = nil
	s.pending = nil
	s.bag = newBag(s.result, s.metrics)
	s.mu.Unlock()

	if h != nil {
		h.Cancel()
	}
	s.cancel()

	if t != nil {
		s.inst.interrupts.Add(context.Background(), 1, s.inst.attrs)
	}
	s.logger.Debug("store closed")
}

// runTask is the body of every task.
func (s *Store[A]) runTask(ctx context.Context, t *task, p Producer[A]) {
	defer s.finish(t)

	if !s.publish(t, Waiting[A], true) {
		return
	}

	yielded, cause, failed := s.drive(ctx, t, p)

	switch {
	case !failed && yielded:
		return
	case !failed:
		// Exhausted without a value: settle back on the previous state
		// without counting it as a new outcome.
		s.publish(t, func(cur Result[A]) Result[A] {
			if prev, ok := cur.Previous(); ok {
				return prev
			}
			return cur
		}, false)
	case cause.IsInterruptedOnly():
		s.logger.Debug("task stopped by interruption", "task_id", t.id)
	default:
		if !s.publish(t, func(Result[A]) Result[A] { return Failure[A](cause) }, true) {
			return
		}
		if cause.IsDefect() {
			s.logger.Error("task defect",
				"task_id", t.id,
				"panic", fmt.Sprintf("%v", cause.DefectValue()),
				"stack", string(cause.Stack()),
			)
		} else {
			s.logger.Warn("task failed", "task_id", t.id, "error", cause.Error())
		}
	}
}

// drive runs p, publishing every value it yields. It reports whether any
// value was yielded and the cause p terminated with, if it failed.
func (s *Store[A]) drive(ctx context.Context, t *task, p Producer[A]) (yielded bool, cause Cause, failed bool) {
	defer func() {
		if v := recover(); v != nil {
			cause, failed = defectWithStack(v, debug.Stack()), true
		}
	}()

	err := p(ctx, func(a A) bool {
		yielded = true
		return s.publish(t, func(Result[A]) Result[A] { return Success(a) }, true)
	})
	if err == nil {
		return yielded, Cause{}, false
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return yielded, Interrupted(), true
	}
	return yielded, causeOf(err), true
}

// publish adopts next(current) as the new Result and notifies subscribers,
// unless t has been cancelled or has finished. When track is true, the new
// Result is folded into the store's Metrics. It reports whether the Result
// was adopted.
func (s *Store[A]) publish(t *task, next func(Result[A]) Result[A], track bool) bool {
	s.mu.Lock()
	if t.cancelled || t.finished {
		s.mu.Unlock()
		s.inst.dropped.Add(context.Background(), 1, s.inst.attrs)
		s.logger.Debug("dropped publish from stale task", "task_id", t.id)
		return false
	}

	r := next(s.result)
	s.result = r
	if track {
		UpdateFromResult(&s.metrics, r, s.clock())
	} else {
		s.metrics.CurrentStatus = r.tag
	}
	s.bag = newBag(r, s.metrics)

	if len(s.listeners) != 0 {
		s.pending = append(s.pending, slices.Clone(s.listeners))
	}
	deliver := !s.delivering && len(s.pending) != 0
	if deliver {
		s.delivering = true
	}
	s.mu.Unlock()

	if track {
		s.inst.recordResult(r.tag, r.cause)
	}

	if deliver {
		s.deliver()
	}
	return true
}

// deliver drains pending batches in order, calling listeners outside s.mu.
func (s *Store[A]) deliver() {
	s.mu.Lock()
	for len(s.pending) != 0 {
		batch := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.mu.Unlock()

		for _, l := range batch {
			if !l.removed.Load() {
				s.invokeListenerSafe(l.fn)
			}
		}

		s.mu.Lock()
	}
	s.pending = nil
	s.delivering = false
	s.mu.Unlock()
}

// invokeListenerSafe calls a subscriber with panic recovery.
// Panics are logged but do not propagate.
func (s *Store[A]) invokeListenerSafe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber panicked",
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

func (s *Store[A]) finish(t *task) {
	s.mu.Lock()
	t.finished = true
	if s.active == t {
		s.active = nil
	}
	s.mu.Unlock()

	close(t.done)
	s.logger.Debug("task finished", "task_id", t.id)
}
