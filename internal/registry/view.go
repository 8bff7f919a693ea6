package registry

import (
	"errors"
	"strings"
	"time"

	"github.com/jpalmerr/resultstore"
	"github.com/jpalmerr/resultstore/internal/poller"
)

// View is the JSON representation of one source's store, used by the REST
// API and SSE.
type View struct {
	// Name is the source's name.
	Name string `json:"name"`

	// URL is the checked URL.
	URL string `json:"url"`

	// Labels contains key-value metadata for grouping and filtering.
	Labels map[string]string `json:"labels,omitempty"`

	// State is the variant of the current result: "initial", "waiting",
	// "failure" or "success".
	State string `json:"state"`

	// Phase refines a waiting state: "loading", "refreshing", "retrying",
	// "loading_failure" or "refreshing_failure".
	Phase string `json:"phase,omitempty"`

	// Running reports whether a check task is active.
	Running bool `json:"running"`

	// Status is the health status read from the last answer.
	Status string `json:"status,omitempty"`

	// StatusCode is the HTTP status code of the last answer.
	StatusCode int `json:"status_code,omitempty"`

	// ResponseTimeMs is the latency of the last answer in milliseconds.
	ResponseTimeMs int64 `json:"response_time_ms"`

	// CheckedAt is when the last successful check completed.
	CheckedAt *time.Time `json:"checked_at,omitempty"`

	// Error is the message of the last failure, nil if the last outcome was
	// not a failure.
	Error *string `json:"error"`

	// Defect reports whether the last failure was a defect.
	Defect bool `json:"defect,omitempty"`

	FailureCount   int        `json:"failure_count"`
	ErrorCount     int        `json:"error_count"`
	Invocations    int        `json:"invocations"`
	Interrupts     int        `json:"interrupts"`
	DataUpdatedAt  *time.Time `json:"data_updated_at,omitempty"`
	ErrorUpdatedAt *time.Time `json:"error_updated_at,omitempty"`
}

// NewView projects a store snapshot of src into a [View].
func NewView(src poller.Source, bag *resultstore.Bag[poller.Sample], running bool) View {
	r := bag.Result()
	m := bag.Metrics()

	v := View{
		Name:         src.Name,
		URL:          src.URL,
		Labels:       src.Labels,
		State:        strings.ToLower(r.Tag().String()),
		Phase:        phase(bag),
		Running:      running,
		FailureCount: m.CurrentFailureCount,
		ErrorCount:   m.RunningErrorCount,
		Invocations:  m.InvocationCount,
		Interrupts:   m.InterruptCount,
	}

	if at, ok := bag.DataUpdatedAt(); ok {
		v.DataUpdatedAt = &at
	}
	if at, ok := bag.ErrorUpdatedAt(); ok {
		v.ErrorUpdatedAt = &at
	}

	if sample, ok := r.Value(); ok {
		v.Status = string(sample.Status)
		v.StatusCode = sample.StatusCode
		v.ResponseTimeMs = sample.Latency.Milliseconds()
		checkedAt := sample.CheckedAt
		v.CheckedAt = &checkedAt
	}

	if cause, ok := r.Cause(); ok {
		msg := cause.Error()
		v.Error = &msg
		v.Defect = cause.IsDefect()
		v.Status = string(poller.StatusDown)

		var se *poller.StatusError
		if errors.As(cause, &se) {
			v.Status = string(se.Status)
			v.StatusCode = se.StatusCode
			v.ResponseTimeMs = se.Latency.Milliseconds()
		}
	}

	return v
}

func phase(bag *resultstore.Bag[poller.Sample]) string {
	switch {
	case bag.IsLoadingFailure():
		return "loading_failure"
	case bag.IsRefreshingFailure():
		return "refreshing_failure"
	case bag.IsRetrying():
		return "retrying"
	case bag.IsRefreshing():
		return "refreshing"
	case bag.IsLoading():
		return "loading"
	default:
		return ""
	}
}
