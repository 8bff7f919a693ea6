package resultstore

import (
	"context"
	"sync"
	"time"
)

// DefaultDeferDelay is how long a [GoExecutor] with no explicit delay waits
// before running a deferred function.
const DefaultDeferDelay = 10 * time.Millisecond

// Executor is the execution context a [Store] runs its tasks on.
//
// Fork starts fn and returns a [Handle] for it. The context passed to fn is
// cancelled when the Handle is cancelled. Cancellation is a request: fn may
// keep running for a while, and a Store never relies on it stopping promptly.
//
// Defer schedules fn to run later, after the caller's current turn. A Store
// uses it to postpone the "no subscribers left" check after an unsubscribe,
// so that an unsubscribe immediately followed by a subscribe does not
// interrupt the running task.
type Executor interface {
	Fork(ctx context.Context, fn func(ctx context.Context)) Handle
	Defer(fn func())
}

// Handle controls one task started by [Executor.Fork].
type Handle interface {
	// Cancel requests cancellation of the task. It does not wait.
	Cancel()

	// Done returns a channel that is closed once the task has returned.
	Done() <-chan struct{}
}

// handle is the Handle used by both executors in this package.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newHandle(ctx context.Context) (*handle, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &handle{cancel: cancel, done: make(chan struct{})}, ctx
}

func (h *handle) Cancel()               { h.cancel() }
func (h *handle) Done() <-chan struct{} { return h.done }

// GoExecutor is an [Executor] that runs every task in its own goroutine.
//
// Deferred functions run on a timer goroutine after DeferDelay, or after
// [DefaultDeferDelay] when DeferDelay is zero.
//
// The zero GoExecutor is ready to use.
type GoExecutor struct {
	DeferDelay time.Duration
}

// Fork runs fn in a new goroutine.
func (e *GoExecutor) Fork(ctx context.Context, fn func(ctx context.Context)) Handle {
	h, ctx := newHandle(ctx)
	go func() {
		defer close(h.done)
		defer h.cancel()
		fn(ctx)
	}()
	return h
}

// Defer runs fn on a timer goroutine after the configured delay.
func (e *GoExecutor) Defer(fn func()) {
	d := e.DeferDelay
	if d <= 0 {
		d = DefaultDeferDelay
	}
	time.AfterFunc(d, fn)
}

// SerialExecutor is a single-threaded [Executor].
//
// Forked tasks and deferred functions are appended to a FIFO queue. The Run
// method pops and runs each of them until the queue is emptied, one at a
// time. If one of them blocks, nothing else runs, so tasks forked on a
// SerialExecutor should not block.
//
// Manually calling Run is often not desired. Autorun sets up a function that
// is called whenever something is queued while the executor is idle; passing
// the Run method itself makes the executor run queued work immediately, on
// the goroutine that queued it.
//
// The zero SerialExecutor is ready to use.
type SerialExecutor struct {
	mu      sync.Mutex
	queue   []func()
	running bool
	autorun func()
}

// Autorun sets up f to be called whenever work is queued while the executor
// is idle. f must call the Run method, directly or from another goroutine.
// The executor never calls f twice at the same time.
func (e *SerialExecutor) Autorun(f func()) {
	e.mu.Lock()
	e.autorun = f
	e.mu.Unlock()
}

// Run pops and runs queued work until the queue is emptied.
//
// Run must not be called twice at the same time.
func (e *SerialExecutor) Run() {
	e.mu.Lock()
	e.running = true

	for len(e.queue) != 0 {
		f := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]

		e.mu.Unlock()
		f()
		e.mu.Lock()
	}

	e.queue = nil
	e.running = false
	e.mu.Unlock()
}

// Pending returns the number of queued functions.
func (e *SerialExecutor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Fork queues fn. If the returned Handle is cancelled before fn is popped,
// fn still runs, with an already cancelled context.
func (e *SerialExecutor) Fork(ctx context.Context, fn func(ctx context.Context)) Handle {
	h, ctx := newHandle(ctx)
	e.enqueue(func() {
		defer close(h.done)
		defer h.cancel()
		fn(ctx)
	})
	return h
}

// Defer queues fn.
func (e *SerialExecutor) Defer(fn func()) {
	e.enqueue(fn)
}

func (e *SerialExecutor) enqueue(f func()) {
	var autorun func()

	e.mu.Lock()

	if !e.running && e.autorun != nil {
		e.running = true
		autorun = e.autorun
	}

	e.queue = append(e.queue, f)
	e.mu.Unlock()

	if autorun != nil {
		autorun()
	}
}
