package registry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jpalmerr/resultstore"
	"github.com/jpalmerr/resultstore/internal/poller"
)

func newSerialStore(t *testing.T) *resultstore.Store[poller.Sample] {
	t.Helper()

	exec := &resultstore.SerialExecutor{}
	exec.Autorun(exec.Run)
	s := resultstore.MustNew[poller.Sample](resultstore.WithExecutor(exec), resultstore.WithLogger(testLogger()))
	t.Cleanup(s.Close)
	return s
}

func failWith(err error) resultstore.Producer[poller.Sample] {
	return func(ctx context.Context, yield func(poller.Sample) bool) error { return err }
}

func TestNewView_Initial(t *testing.T) {
	s := newSerialStore(t)
	src := poller.Source{Name: "api", URL: "http://api"}

	v := NewView(src, s.Snapshot(), false)

	if v.State != "initial" || v.Phase != "" {
		t.Errorf("view = (%q, %q), want (initial, \"\")", v.State, v.Phase)
	}
	if v.Error != nil || v.CheckedAt != nil || v.DataUpdatedAt != nil {
		t.Errorf("initial view should carry no outcome: %+v", v)
	}
}

func TestNewView_Success(t *testing.T) {
	s := newSerialStore(t)
	checkedAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.Run(resultstore.FromValues(poller.Sample{
		Source:     "api",
		StatusCode: http.StatusOK,
		Status:     poller.StatusDegraded,
		Latency:    42 * time.Millisecond,
		CheckedAt:  checkedAt,
	}))

	v := NewView(poller.Source{Name: "api"}, s.Snapshot(), false)

	if v.State != "success" || v.Status != "degraded" || v.StatusCode != 200 {
		t.Errorf("view = (%q, %q, %d), want (success, degraded, 200)", v.State, v.Status, v.StatusCode)
	}
	if v.ResponseTimeMs != 42 {
		t.Errorf("ResponseTimeMs = %d, want 42", v.ResponseTimeMs)
	}
	if v.CheckedAt == nil || !v.CheckedAt.Equal(checkedAt) {
		t.Errorf("CheckedAt = %v, want %v", v.CheckedAt, checkedAt)
	}
	if v.Invocations != 1 {
		t.Errorf("Invocations = %d, want 1", v.Invocations)
	}
}

func TestNewView_StatusErrorFailure(t *testing.T) {
	s := newSerialStore(t)
	s.Run(failWith(resultstore.Expected(&poller.StatusError{
		URL:        "http://api",
		StatusCode: http.StatusNotFound,
		Status:     poller.StatusDegraded,
		Latency:    5 * time.Millisecond,
	})))

	v := NewView(poller.Source{Name: "api"}, s.Snapshot(), false)

	if v.State != "failure" || v.Error == nil {
		t.Fatalf("view = %+v, want a failure with an error", v)
	}
	if v.Status != "degraded" || v.StatusCode != http.StatusNotFound {
		t.Errorf("view status = (%q, %d), want (degraded, 404)", v.Status, v.StatusCode)
	}
	if v.Defect {
		t.Error("an HTTP failure is not a defect")
	}
	if v.FailureCount != 1 || v.ErrorUpdatedAt == nil {
		t.Errorf("view metrics = %+v, want one failure with a timestamp", v)
	}
}

func TestNewView_DefectAndRetryPhase(t *testing.T) {
	s := newSerialStore(t)
	s.Run(failWith(resultstore.Defect("extractor exploded")))

	v := NewView(poller.Source{Name: "api"}, s.Snapshot(), false)
	if !v.Defect || v.Status != "down" {
		t.Errorf("view = (defect %v, %q), want (true, down)", v.Defect, v.Status)
	}

	var retry View
	unsubscribe := s.Subscribe(func() {
		if retry.Phase == "" {
			retry = NewView(poller.Source{Name: "api"}, s.Snapshot(), true)
		}
	})
	defer unsubscribe()
	s.Run(resultstore.FromValues(poller.Sample{Status: poller.StatusUp}))

	if retry.Phase != "loading_failure" {
		t.Errorf("retry phase = %q, want loading_failure", retry.Phase)
	}
	if retry.Error == nil {
		t.Error("a retrying view should still report the last error")
	}
}
