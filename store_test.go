package resultstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock returns strictly increasing timestamps.
func fakeClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

// newSerialStore returns a store whose tasks run synchronously on the
// goroutine that starts them.
func newSerialStore[A any](t *testing.T, opts ...Option) *Store[A] {
	t.Helper()

	exec := &SerialExecutor{}
	exec.Autorun(exec.Run)

	opts = append([]Option{
		WithExecutor(exec),
		WithLogger(discardLogger()),
		WithClock(fakeClock()),
	}, opts...)

	s, err := New[A](opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// manualDeferExecutor forks tasks on goroutines but holds deferred functions
// until flush is called.
type manualDeferExecutor struct {
	GoExecutor

	mu       sync.Mutex
	deferred []func()
}

func (e *manualDeferExecutor) Defer(fn func()) {
	e.mu.Lock()
	e.deferred = append(e.deferred, fn)
	e.mu.Unlock()
}

func (e *manualDeferExecutor) flush() {
	e.mu.Lock()
	fns := e.deferred
	e.deferred = nil
	e.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// recorder collects one snapshot per notification.
type recorder[A any] struct {
	mu    sync.Mutex
	store *Store[A]
	bags  []*Bag[A]
}

func record[A any](s *Store[A]) (*recorder[A], func()) {
	r := &recorder[A]{store: s}
	unsubscribe := s.Subscribe(func() {
		bag := s.Snapshot()
		r.mu.Lock()
		r.bags = append(r.bags, bag)
		r.mu.Unlock()
	})
	return r, unsubscribe
}

func (r *recorder[A]) snapshots() []*Bag[A] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Bag[A](nil), r.bags...)
}

// blockUntilCancelled is a producer that signals started and then waits for
// cancellation.
func blockUntilCancelled[A any](started chan<- struct{}, stopped chan<- error) Producer[A] {
	return func(ctx context.Context, yield func(A) bool) error {
		close(started)
		<-ctx.Done()
		if stopped != nil {
			stopped <- ctx.Err()
		}
		return ctx.Err()
	}
}

func TestNew_Defaults(t *testing.T) {
	s, err := New[int]()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if !s.Result().IsInitial() {
		t.Errorf("Result() = %v, want initial", s.Result())
	}
	if s.Running() {
		t.Error("new store should be idle")
	}
	if _, ok := s.executor.(*GoExecutor); !ok {
		t.Errorf("default executor = %T, want *GoExecutor", s.executor)
	}
}

func TestNew_InvalidOption(t *testing.T) {
	_, err := New[int](WithLogger(nil))
	if err == nil {
		t.Fatal("New() should fail with a nil logger")
	}
	if !strings.Contains(err.Error(), "logger") {
		t.Errorf("error = %v, want it to mention the logger", err)
	}
}

func TestMustNew_PanicsOnInvalidOption(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustNew() should panic on an invalid option")
		}
	}()
	MustNew[int](WithExecutor(nil))
}

func TestStore_Run_NilPanics(t *testing.T) {
	s := newSerialStore[int](t)

	defer func() {
		if recover() == nil {
			t.Error("Run(nil) should panic")
		}
	}()
	s.Run(nil)
}

func TestStore_FirstLoad(t *testing.T) {
	s := newSerialStore[int](t)
	rec, unsubscribe := record(s)
	defer unsubscribe()

	s.Run(FromValues(1))

	bags := rec.snapshots()
	if len(bags) != 2 {
		t.Fatalf("got %d notifications, want 2", len(bags))
	}
	if !bags[0].IsLoading() {
		t.Errorf("first notification = %v, want loading", bags[0].Result())
	}
	if !Equal(bags[1].Result(), Success(1)) || bags[1].Result().IsWaiting() {
		t.Errorf("second notification = %v, want success(1)", bags[1].Result())
	}
	if s.Running() {
		t.Error("store should be idle after the producer is exhausted")
	}
}

func TestStore_Refresh(t *testing.T) {
	s := newSerialStore[int](t)
	s.Run(FromValues(1))

	rec, unsubscribe := record(s)
	defer unsubscribe()

	s.Run(FromValues(2))

	bags := rec.snapshots()
	if len(bags) != 2 {
		t.Fatalf("got %d notifications, want 2", len(bags))
	}
	if !bags[0].IsRefreshing() || bags[0].IsLoading() {
		t.Errorf("first notification = %v, want refreshing and not loading", bags[0].Result())
	}
	if v, _ := bags[0].Result().Value(); v != 1 {
		t.Errorf("refreshing value = %d, want the previous value 1", v)
	}
	if v, _ := s.Result().Value(); v != 2 {
		t.Errorf("final value = %d, want 2", v)
	}
}

func TestStore_Retry(t *testing.T) {
	failing := func(ctx context.Context, yield func(int) bool) error { return errBoom }

	t.Run("without prior data", func(t *testing.T) {
		s := newSerialStore[int](t)
		s.Run(failing)

		rec, unsubscribe := record(s)
		defer unsubscribe()
		s.Run(failing)

		first := rec.snapshots()[0]
		if !first.IsRetrying() {
			t.Fatalf("first notification = %v, want retrying", first.Result())
		}
		if !first.IsLoadingFailure() {
			t.Error("IsLoadingFailure() should be true when no data was ever loaded")
		}
		if first.FailureCount() != 1 {
			t.Errorf("FailureCount() = %d, want 1", first.FailureCount())
		}
	})

	t.Run("after data", func(t *testing.T) {
		s := newSerialStore[int](t)
		s.Run(FromValues(1))
		s.Run(failing)

		rec, unsubscribe := record(s)
		defer unsubscribe()
		s.Run(failing)

		first := rec.snapshots()[0]
		if !first.IsRetrying() {
			t.Fatalf("first notification = %v, want retrying", first.Result())
		}
		if first.IsLoadingFailure() {
			t.Error("IsLoadingFailure() should be false once data was loaded")
		}
		if _, ok := first.DataUpdatedAt(); !ok {
			t.Error("DataUpdatedAt() should report the earlier success")
		}
	})
}

func TestStore_Supersede_DropsStaleValues(t *testing.T) {
	s, err := New[int](WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	rec, unsubscribe := record(s)
	defer unsubscribe()

	release := make(chan struct{})
	firstStarted := make(chan struct{})
	staleYield := make(chan bool, 1)

	s.Run(func(ctx context.Context, yield func(int) bool) error {
		close(firstStarted)
		<-release
		staleYield <- yield(1)
		return nil
	})
	<-firstStarted

	s.Run(FromValues(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	close(release)
	select {
	case ok := <-staleYield:
		if ok {
			t.Error("yield from a superseded task should return false")
		}
	case <-ctx.Done():
		t.Fatal("superseded producer never finished")
	}

	if v, _ := s.Result().Value(); v != 2 || !s.Result().IsSuccess() {
		t.Errorf("Result() = %v, want success(2)", s.Result())
	}
	for _, b := range rec.snapshots() {
		if v, ok := b.Result().Value(); ok && v == 1 {
			t.Errorf("observed stale value from superseded task: %v", b.Result())
		}
	}
	if got := s.Snapshot().Metrics().InterruptCount; got != 1 {
		t.Errorf("InterruptCount = %d, want 1", got)
	}
}

func TestStore_InterruptIfRunning(t *testing.T) {
	s, err := New[int](WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	rec, unsubscribe := record(s)
	defer unsubscribe()

	started := make(chan struct{})
	stopped := make(chan error, 1)
	s.Run(blockUntilCancelled[int](started, stopped))
	<-started

	s.InterruptIfRunning()
	s.InterruptIfRunning() // idempotent

	select {
	case err := <-stopped:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("producer context error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("producer was not cancelled")
	}

	if s.Running() {
		t.Error("store should be idle after InterruptIfRunning")
	}

	bags := rec.snapshots()
	if len(bags) != 1 {
		t.Errorf("got %d notifications, want only the Waiting one", len(bags))
	}
	if !s.Result().IsLoading() {
		t.Errorf("Result() = %v, want the last published state", s.Result())
	}

	m := s.Snapshot().Metrics()
	if m.InterruptCount != 1 {
		t.Errorf("InterruptCount = %d, want 1", m.InterruptCount)
	}
	if m.RunningErrorCount != 0 {
		t.Errorf("RunningErrorCount = %d, want 0 (interruptions are not errors)", m.RunningErrorCount)
	}
}

func TestStore_InterruptIfRunning_Idle(t *testing.T) {
	s := newSerialStore[int](t)
	s.InterruptIfRunning()

	if got := s.Snapshot().Metrics().InterruptCount; got != 0 {
		t.Errorf("InterruptCount = %d, want 0", got)
	}
}

func TestStore_ExplicitInterruptionIsNotPublished(t *testing.T) {
	s := newSerialStore[int](t)
	rec, unsubscribe := record(s)
	defer unsubscribe()

	s.Run(func(ctx context.Context, yield func(int) bool) error {
		return Interrupted()
	})

	if n := len(rec.snapshots()); n != 1 {
		t.Errorf("got %d notifications, want 1", n)
	}
	if s.Result().IsFailure() {
		t.Errorf("Result() = %v, interruption must not be published", s.Result())
	}
}

func TestStore_Defect(t *testing.T) {
	s := newSerialStore[int](t)

	s.Run(func(ctx context.Context, yield func(int) bool) error {
		panic("kaboom")
	})

	c, ok := s.Result().Cause()
	if !ok || !c.IsDefect() {
		t.Fatalf("Result() = %v, want a defect", s.Result())
	}
	if c.DefectValue() != "kaboom" {
		t.Errorf("DefectValue() = %v, want kaboom", c.DefectValue())
	}
	if len(c.Stack()) == 0 {
		t.Error("defect from a panic should carry a stack")
	}

	m := s.Snapshot().Metrics()
	if m.CurrentDefectCount != 1 || m.CurrentFailureCount != 0 {
		t.Errorf("defect/failure counts = (%d, %d), want (1, 0)", m.CurrentDefectCount, m.CurrentFailureCount)
	}
	if !m.ErrorUpdatedAt.IsZero() {
		t.Error("a defect should not move ErrorUpdatedAt")
	}
}

func TestStore_ReturnedDefect(t *testing.T) {
	s := newSerialStore[int](t)

	s.Run(func(ctx context.Context, yield func(int) bool) error {
		return Defect(errTimeout)
	})

	c, _ := s.Result().Cause()
	if !c.IsDefect() || !errors.Is(c, errTimeout) {
		t.Errorf("cause = %v, want a defect wrapping errTimeout", c)
	}
}

func TestStore_ValuesThenFailure(t *testing.T) {
	s := newSerialStore[int](t)
	rec, unsubscribe := record(s)
	defer unsubscribe()

	s.Run(func(ctx context.Context, yield func(int) bool) error {
		yield(1)
		yield(2)
		return errBoom
	})

	var got []string
	for _, b := range rec.snapshots() {
		got = append(got, b.Result().String())
	}
	want := []string{"waiting(initial())", "success(1)", "success(2)", "failure(boom)"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	m := s.Snapshot().Metrics()
	if m.CurrentFailureCount != 1 || m.RunningErrorCount != 1 {
		t.Errorf("metrics = %+v, want one failure", m)
	}
	if !m.ErrorUpdatedAt.After(m.DataUpdatedAt) {
		t.Error("ErrorUpdatedAt should be after DataUpdatedAt")
	}
}

func TestStore_EmptyProducerRestoresPrevious(t *testing.T) {
	s := newSerialStore[int](t)
	s.Run(FromValues(1))
	before := s.Snapshot().Metrics()

	s.Run(FromValues[int]())

	r := s.Result()
	if !r.IsSuccess() {
		t.Fatalf("Result() = %v, want success(1)", r)
	}
	after := s.Snapshot().Metrics()
	if !after.DataUpdatedAt.Equal(before.DataUpdatedAt) {
		t.Error("restoring the previous result should not count as new data")
	}
	if after.CurrentStatus != TagSuccess {
		t.Errorf("CurrentStatus = %v, want success", after.CurrentStatus)
	}
}

func TestStore_SnapshotIsStable(t *testing.T) {
	s := newSerialStore[int](t)

	a, b := s.Snapshot(), s.Snapshot()
	if a != b {
		t.Error("Snapshot() should return the same pointer while nothing changes")
	}

	s.Run(FromValues(1))
	if s.Snapshot() == a {
		t.Error("Snapshot() should change after a transition")
	}
	if !a.Result().IsInitial() {
		t.Error("an old snapshot must not change")
	}
}

func TestStore_ReentrantListener(t *testing.T) {
	s := newSerialStore[int](t)

	var transitions []string
	rerun := true
	unsubscribe := s.Subscribe(func() {
		r := s.Result()
		transitions = append(transitions, r.String())
		if rerun && r.IsSuccess() {
			rerun = false
			s.Run(FromValues(2))
		}
	})
	defer unsubscribe()

	s.Run(FromValues(1))

	want := []string{"waiting(initial())", "success(1)", "waiting(success(1))", "success(2)"}
	if strings.Join(transitions, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestStore_ListenerPanicIsRecovered(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := newSerialStore[int](t, WithLogger(logger))

	unsubscribePanic := s.Subscribe(func() { panic("listener bug") })
	defer unsubscribePanic()
	rec, unsubscribe := record(s)
	defer unsubscribe()

	s.Run(FromValues(1))

	if n := len(rec.snapshots()); n != 2 {
		t.Errorf("healthy listener got %d notifications, want 2", n)
	}
	if !strings.Contains(buf.String(), "subscriber panicked") {
		t.Errorf("expected panic to be logged, got: %s", buf.String())
	}
}

func TestStore_UnsubscribeIsIdempotent(t *testing.T) {
	s := newSerialStore[int](t)
	calls := 0
	unsubscribe := s.Subscribe(func() { calls++ })

	unsubscribe()
	unsubscribe()

	s.Run(FromValues(1))
	if calls != 0 {
		t.Errorf("unsubscribed listener called %d times", calls)
	}
}

func TestStore_LastUnsubscribeInterruptsOnNextTurn(t *testing.T) {
	exec := &manualDeferExecutor{}
	s, err := New[int](WithExecutor(exec), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	unsubscribe := s.Subscribe(func() {})
	started := make(chan struct{})
	s.Run(blockUntilCancelled[int](started, nil))
	<-started

	unsubscribe()
	if !s.Running() {
		t.Fatal("unsubscribe must not interrupt synchronously")
	}

	exec.flush()
	if s.Running() {
		t.Error("task should be interrupted once the deferred check runs")
	}
	if got := s.Snapshot().Metrics().InterruptCount; got != 1 {
		t.Errorf("InterruptCount = %d, want 1", got)
	}
}

func TestStore_ResubscribeBeforeNextTurnKeepsTask(t *testing.T) {
	exec := &manualDeferExecutor{}
	s, err := New[int](WithExecutor(exec), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	unsubscribe := s.Subscribe(func() {})
	started := make(chan struct{})
	s.Run(blockUntilCancelled[int](started, nil))
	<-started

	unsubscribe()
	unsubscribeAgain := s.Subscribe(func() {})
	defer unsubscribeAgain()

	exec.flush()
	if !s.Running() {
		t.Error("resubscribing before the deferred check must keep the task running")
	}
	if got := s.Snapshot().Metrics().InterruptCount; got != 0 {
		t.Errorf("InterruptCount = %d, want 0", got)
	}
}

func TestStore_ResumeOnSubscribe(t *testing.T) {
	exec := &manualDeferExecutor{}
	s, err := New[int](WithExecutor(exec), WithLogger(discardLogger()), WithResumeOnSubscribe())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	starts := make(chan struct{}, 2)
	p := func(ctx context.Context, yield func(int) bool) error {
		starts <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}

	unsubscribe := s.Subscribe(func() {})
	s.Run(p)
	<-starts
	unsubscribe()
	exec.flush()

	if s.Running() {
		t.Fatal("task should be interrupted after the last unsubscribe")
	}

	unsubscribe = s.Subscribe(func() {})
	defer unsubscribe()

	if !s.Running() {
		t.Error("subscribing should resume the interrupted producer")
	}
	if got := s.Snapshot().Metrics().InvocationCount; got != 2 {
		t.Errorf("InvocationCount = %d, want 2", got)
	}

	select {
	case <-starts:
	case <-time.After(2 * time.Second):
		t.Error("resumed producer never started")
	}
}

func TestStore_SubscribeDoesNotStartByDefault(t *testing.T) {
	s := newSerialStore[int](t)
	s.Run(FromValues(1))
	s.InterruptIfRunning()

	unsubscribe := s.Subscribe(func() {})
	defer unsubscribe()

	if got := s.Snapshot().Metrics().InvocationCount; got != 1 {
		t.Errorf("InvocationCount = %d, want 1", got)
	}
}

func TestStore_Close(t *testing.T) {
	s, err := New[int](WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	started := make(chan struct{})
	stopped := make(chan error, 1)
	calls := 0
	s.Subscribe(func() { calls++ })
	s.Run(blockUntilCancelled[int](started, stopped))
	<-started

	s.Close()
	s.Close()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Close should cancel the running task")
	}

	before := calls
	s.Run(FromValues(1))
	if s.Running() || s.Result().IsSuccess() {
		t.Error("Run on a closed store should do nothing")
	}
	if calls != before {
		t.Error("listeners should be dropped by Close")
	}

	unsubscribe := s.Subscribe(func() {})
	unsubscribe()
}

func TestStore_Wait(t *testing.T) {
	s, err := New[int](WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if err := s.Wait(context.Background()); err != nil {
		t.Errorf("Wait() on idle store = %v, want nil", err)
	}

	started := make(chan struct{})
	s.Run(blockUntilCancelled[int](started, nil))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want context.DeadlineExceeded", err)
	}
}

func TestStore_ConcurrentRuns(t *testing.T) {
	s, err := New[int](WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Run(FromValues(i))
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for s.Running() {
		if err := s.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}

	m := s.Snapshot().Metrics()
	if m.InvocationCount != 50 {
		t.Errorf("InvocationCount = %d, want 50", m.InvocationCount)
	}
}

func TestStore_RecordsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	s := newSerialStore[int](t, WithMeterProvider(mp), WithName("users"))

	s.Run(FromValues(1, 2))
	s.Run(func(ctx context.Context, yield func(int) bool) error { return errBoom })

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	want := map[string]int64{
		"resultstore.runs.total":      2,
		"resultstore.successes.total": 2,
		"resultstore.failures.total":  1,
	}
	got := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value("store"); !ok || v.AsString() != "users" {
					t.Errorf("%s data point missing store attribute", m.Name)
				}
				got[m.Name] += dp.Value
			}
		}
	}

	for name, n := range want {
		if got[name] != n {
			t.Errorf("%s = %d, want %d", name, got[name], n)
		}
	}
}
