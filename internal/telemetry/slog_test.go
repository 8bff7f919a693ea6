package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// memoryExporter keeps exported records for inspection.
type memoryExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryExporter) Export(ctx context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryExporter) Shutdown(ctx context.Context) error   { return nil }
func (e *memoryExporter) ForceFlush(ctx context.Context) error { return nil }

func (e *memoryExporter) all() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sdklog.Record(nil), e.records...)
}

func attrsOf(r sdklog.Record) map[string]otellog.Value {
	m := make(map[string]otellog.Value)
	r.WalkAttributes(func(kv otellog.KeyValue) bool {
		m[kv.Key] = kv.Value
		return true
	})
	return m
}

func newTestLogger(t *testing.T) (*slog.Logger, *memoryExporter, *bytes.Buffer) {
	t.Helper()

	res, err := newResource(context.Background(), Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("newResource() error = %v", err)
	}

	exp := &memoryExporter{}
	lp := NewLoggerProvider(res, sdklog.NewSimpleProcessor(exp))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	var buf bytes.Buffer
	next := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(NewSlogHandler(next, lp, "resultstore")), exp, &buf
}

func TestSlogHandler_MirrorsRecords(t *testing.T) {
	logger, exp, buf := newTestLogger(t)

	logger.Warn("task failed", "store", "api", "attempt", 3, "latency", 250*time.Millisecond, "retry", true)

	if !strings.Contains(buf.String(), `"msg":"task failed"`) {
		t.Errorf("next handler output = %q, want the record", buf.String())
	}

	records := exp.all()
	if len(records) != 1 {
		t.Fatalf("exported %d records, want 1", len(records))
	}

	r := records[0]
	if r.Body().AsString() != "task failed" {
		t.Errorf("Body = %q, want task failed", r.Body().AsString())
	}
	if r.Severity() != otellog.SeverityWarn {
		t.Errorf("Severity = %v, want Warn", r.Severity())
	}

	attrs := attrsOf(r)
	if attrs["store"].AsString() != "api" {
		t.Errorf("store = %v, want api", attrs["store"])
	}
	if attrs["attempt"].AsInt64() != 3 {
		t.Errorf("attempt = %v, want 3", attrs["attempt"])
	}
	if attrs["latency"].AsString() != "250ms" {
		t.Errorf("latency = %v, want 250ms", attrs["latency"])
	}
	if !attrs["retry"].AsBool() {
		t.Errorf("retry = %v, want true", attrs["retry"])
	}
}

func TestSlogHandler_WithAttrsAndGroups(t *testing.T) {
	logger, exp, _ := newTestLogger(t)

	logger.With("store", "api").WithGroup("req").Info("checked", "code", 200, slog.Group("timing", "ms", 12))

	records := exp.all()
	if len(records) != 1 {
		t.Fatalf("exported %d records, want 1", len(records))
	}

	attrs := attrsOf(records[0])
	for key, want := range map[string]int64{"req.code": 200, "req.timing.ms": 12} {
		if got := attrs[key].AsInt64(); got != want {
			t.Errorf("%s = %d, want %d", key, got, want)
		}
	}
	if attrs["store"].AsString() != "api" {
		t.Errorf("store = %v, want api", attrs["store"])
	}
}

func TestSlogHandler_RespectsLevel(t *testing.T) {
	logger, exp, buf := newTestLogger(t)

	logger.Debug("noise")

	if buf.Len() != 0 {
		t.Errorf("next handler wrote %q for a disabled level", buf.String())
	}
	if n := len(exp.all()); n != 0 {
		t.Errorf("exported %d records for a disabled level", n)
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  otellog.Severity
	}{
		{slog.LevelDebug, otellog.SeverityDebug},
		{slog.LevelInfo, otellog.SeverityInfo},
		{slog.LevelWarn, otellog.SeverityWarn},
		{slog.LevelError, otellog.SeverityError},
		{slog.LevelError + 4, otellog.SeverityError},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
