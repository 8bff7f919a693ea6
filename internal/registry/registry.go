package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jpalmerr/resultstore"
	"github.com/jpalmerr/resultstore/internal/poller"
)

// subscriberBuffer is the channel buffer of each subscriber.
const subscriberBuffer = 100

var (
	// ErrNotFound is returned for operations on an unknown source name.
	ErrNotFound = errors.New("source not found")

	// ErrDuplicate is returned when adding a source whose name is taken.
	ErrDuplicate = errors.New("duplicate source name")

	// ErrClosed is returned when adding a source to a closed registry.
	ErrClosed = errors.New("registry closed")
)

// Service is what the HTTP layer needs from a registry.
//
// Implementations must be safe for concurrent access.
type Service interface {
	// Views returns a view of every source, in registration order.
	Views() []View

	// View returns the view of one source.
	View(name string) (View, bool)

	// Refresh re-runs the checks of a source, superseding any running ones.
	Refresh(name string) error

	// Interrupt stops the checks of a source and keeps its last result.
	Interrupt(name string) error

	// Subscribe returns a channel that receives a view after every change.
	// Slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan View

	// Unsubscribe removes a subscription and closes the channel.
	Unsubscribe(ch <-chan View)
}

// Entry registers one source.
type Entry struct {
	Source poller.Source

	// RetryDelay is how long after a failure the source is checked again.
	// Zero disables retries.
	RetryDelay time.Duration
}

// Registry owns one [resultstore.Store] per source and publishes a [View]
// of each store whenever it changes.
//
// Subscribers receive views via buffered channels (buffer size 100). Views
// are sent non-blocking; if a subscriber's buffer is full, the view is
// dropped for that subscriber to prevent blocking the stores.
type Registry struct {
	checker   *poller.Checker
	logger    *slog.Logger
	storeOpts []resultstore.Option

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	closed  bool

	subMu       sync.RWMutex
	subscribers map[chan View]struct{}
}

var _ Service = (*Registry)(nil)

type entry struct {
	Entry
	store       *resultstore.Store[poller.Sample]
	unsubscribe func()

	mu      sync.Mutex
	retry   *time.Timer
	stopped bool
}

// New creates an empty [Registry]. storeOpts are passed to every store it
// creates, after the registry's own name and logger options.
func New(checker *poller.Checker, logger *slog.Logger, storeOpts ...resultstore.Option) *Registry {
	return &Registry{
		checker:     checker,
		logger:      logger,
		storeOpts:   storeOpts,
		entries:     make(map[string]*entry),
		subscribers: make(map[chan View]struct{}),
	}
}

// Add registers e and starts checking its source.
func (r *Registry) Add(e Entry) error {
	opts := append([]resultstore.Option{
		resultstore.WithName(e.Source.Name),
		resultstore.WithLogger(r.logger),
	}, r.storeOpts...)

	st, err := resultstore.New[poller.Sample](opts...)
	if err != nil {
		return fmt.Errorf("source %q: %w", e.Source.Name, err)
	}
	en := &entry{Entry: e, store: st}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		st.Close()
		return ErrClosed
	}
	if _, exists := r.entries[e.Source.Name]; exists {
		r.mu.Unlock()
		st.Close()
		return fmt.Errorf("%w: %q", ErrDuplicate, e.Source.Name)
	}
	r.entries[e.Source.Name] = en
	r.order = append(r.order, e.Source.Name)
	en.unsubscribe = st.Subscribe(func() { r.onChange(en) })
	r.mu.Unlock()

	st.Run(r.checker.Producer(e.Source))
	return nil
}

// Remove stops checking a source and forgets it.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	en, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
		r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	en.close()
	return nil
}

// Sync makes the registry match entries: sources that disappeared are
// removed, new ones are added, and changed ones are replaced and re-run.
// Unchanged sources keep running undisturbed.
func (r *Registry) Sync(entries []Entry) error {
	wanted := make(map[string]Entry, len(entries))
	for _, e := range entries {
		wanted[e.Source.Name] = e
	}

	r.mu.RLock()
	current := make(map[string]Entry, len(r.entries))
	for name, en := range r.entries {
		current[name] = en.Entry
	}
	r.mu.RUnlock()

	var added, removed, updated int
	for _, name := range slices.Sorted(maps.Keys(current)) {
		e, keep := wanted[name]
		if keep && sameEntry(current[name], e) {
			continue
		}
		if err := r.Remove(name); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if keep {
			updated++
		} else {
			removed++
		}
	}

	for _, e := range entries {
		if prev, ok := current[e.Source.Name]; ok && sameEntry(prev, e) {
			continue
		}
		if err := r.Add(e); err != nil {
			return err
		}
		if _, ok := current[e.Source.Name]; !ok {
			added++
		}
	}

	r.logger.Info("sources synced", "added", added, "removed", removed, "updated", updated)
	return nil
}

// sameEntry compares everything but the extractor, which is rebuilt on every
// configuration load.
func sameEntry(a, b Entry) bool {
	return a.RetryDelay == b.RetryDelay &&
		a.Source.URL == b.Source.URL &&
		a.Source.Method == b.Source.Method &&
		a.Source.Timeout == b.Source.Timeout &&
		a.Source.Interval == b.Source.Interval &&
		maps.Equal(a.Source.Headers, b.Source.Headers) &&
		maps.Equal(a.Source.Labels, b.Source.Labels)
}

// Names returns the registered source names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Views returns a view of every source, in registration order.
func (r *Registry) Views() []View {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.order))
	for _, name := range r.order {
		entries = append(entries, r.entries[name])
	}
	r.mu.RUnlock()

	views := make([]View, 0, len(entries))
	for _, en := range entries {
		views = append(views, en.view())
	}
	return views
}

// View returns the view of one source.
func (r *Registry) View(name string) (View, bool) {
	en, ok := r.lookup(name)
	if !ok {
		return View{}, false
	}
	return en.view(), true
}

// Store returns the store of one source.
func (r *Registry) Store(name string) (*resultstore.Store[poller.Sample], bool) {
	en, ok := r.lookup(name)
	if !ok {
		return nil, false
	}
	return en.store, true
}

// Refresh re-runs the checks of a source, superseding any running ones.
func (r *Registry) Refresh(name string) error {
	en, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	en.cancelRetry()
	en.store.Run(r.checker.Producer(en.Source))
	return nil
}

// Interrupt stops the checks of a source and keeps its last result.
func (r *Registry) Interrupt(name string) error {
	en, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	en.cancelRetry()
	en.store.InterruptIfRunning()
	return nil
}

// Close stops every source. The registry cannot be reused.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := slices.Collect(maps.Values(r.entries))
	r.entries = make(map[string]*entry)
	r.order = nil
	r.mu.Unlock()

	for _, en := range entries {
		en.close()
	}
}

// Subscribe creates a new subscription and returns a channel for receiving
// views.
//
// The returned channel has a buffer of 100 messages. If the buffer fills
// (slow consumer), new views are dropped for this subscriber.
//
// Caller must call [Registry.Unsubscribe] when done to prevent resource leaks.
func (r *Registry) Subscribe() <-chan View {
	ch := make(chan View, subscriberBuffer)

	r.subMu.Lock()
	r.subscribers[ch] = struct{}{}
	r.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// Safe to call multiple times or with an unknown channel.
func (r *Registry) Unsubscribe(ch <-chan View) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for subCh := range r.subscribers {
		if subCh == ch {
			delete(r.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	en, ok := r.entries[name]
	return en, ok
}

// onChange runs after every transition of en's store.
func (r *Registry) onChange(en *entry) {
	bag := en.store.Snapshot()
	r.notifySubscribers(NewView(en.Source, bag, en.store.Running()))

	if bag.IsError() && en.RetryDelay > 0 {
		en.scheduleRetry(func() {
			if !en.store.Snapshot().IsError() {
				return
			}
			r.logger.Info("retrying source",
				"store", en.Source.Name,
				"failures", en.store.Snapshot().FailureCount(),
			)
			en.store.Run(r.checker.Producer(en.Source))
		})
	}
}

// notifySubscribers sends the view to all active subscribers.
//
// This is non-blocking: if a subscriber's channel buffer is full, the view
// is dropped for that subscriber rather than blocking the store.
func (r *Registry) notifySubscribers(v View) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()

	for ch := range r.subscribers {
		select {
		case ch <- v:
		default:
			// subscriber is slow, drop the message
		}
	}
}

func (en *entry) view() View {
	return NewView(en.Source, en.store.Snapshot(), en.store.Running())
}

// scheduleRetry runs fn after the retry delay unless a retry is already
// pending or the entry was stopped.
func (en *entry) scheduleRetry(fn func()) {
	en.mu.Lock()
	defer en.mu.Unlock()

	if en.stopped || en.retry != nil {
		return
	}
	en.retry = time.AfterFunc(en.RetryDelay, func() {
		en.mu.Lock()
		en.retry = nil
		stopped := en.stopped
		en.mu.Unlock()

		if !stopped {
			fn()
		}
	})
}

func (en *entry) cancelRetry() {
	en.mu.Lock()
	defer en.mu.Unlock()

	if en.retry != nil {
		en.retry.Stop()
		en.retry = nil
	}
}

func (en *entry) close() {
	en.mu.Lock()
	en.stopped = true
	if en.retry != nil {
		en.retry.Stop()
		en.retry = nil
	}
	en.mu.Unlock()

	en.unsubscribe()
	en.store.Close()
}
