package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jpalmerr/resultstore"
)

// DefaultTimeout applies to sources that do not set a timeout.
const DefaultTimeout = 10 * time.Second

// Source describes an HTTP endpoint to check.
type Source struct {
	// Name identifies the source. It is unique within a registry.
	Name string

	// URL is the target URL to check.
	URL string

	// Method is the HTTP method (GET, HEAD, POST). Empty defaults to GET.
	Method string

	// Headers contains custom HTTP headers to send with requests.
	Headers map[string]string

	// Labels contains key-value metadata for the source.
	Labels map[string]string

	// Timeout is the per-request timeout. Zero uses [DefaultTimeout].
	Timeout time.Duration

	// Interval is the time between checks. Zero checks once.
	Interval time.Duration

	// Extractor reads the status from a response. Nil uses
	// [DefaultExtractor].
	Extractor Extractor
}

// Sample is the outcome of one successful check.
type Sample struct {
	Source     string
	URL        string
	StatusCode int
	Status     Status
	Latency    time.Duration
	CheckedAt  time.Time
	Body       []byte
}

// StatusError reports a check that did not get a 2xx or 3xx answer.
// StatusCode is zero when the request failed before a response arrived; Err
// then holds the transport error.
type StatusError struct {
	URL        string
	StatusCode int
	Status     Status
	Latency    time.Duration
	Err        error
}

func (e *StatusError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("%s returned HTTP %d (%s)", e.URL, e.StatusCode, e.Status)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Checker runs checks for sources, sharing one [Client] and bounding the
// number of requests in flight across all of them.
type Checker struct {
	client  *Client
	limiter *semaphore.Weighted
	logger  *slog.Logger
	now     func() time.Time
}

// NewChecker creates a [Checker] that makes at most maxConcurrency requests
// at a time. Values below 1 are treated as 1.
func NewChecker(client *Client, maxConcurrency int, logger *slog.Logger) *Checker {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Checker{
		client:  client,
		limiter: semaphore.NewWeighted(int64(maxConcurrency)),
		logger:  logger,
		now:     time.Now,
	}
}

// Close releases the idle connections of the underlying client.
func (c *Checker) Close() {
	c.client.Close()
}

// Check checks src once.
//
// Transport errors and answers outside 2xx/3xx fail with an expected
// [resultstore.Cause] wrapping a [*StatusError]. A panicking extractor fails
// with a defect whose message carries a correlation ID.
func (c *Checker) Check(ctx context.Context, src Source) (Sample, error) {
	if err := c.limiter.Acquire(ctx, 1); err != nil {
		return Sample{}, err
	}
	defer c.limiter.Release(1)

	timeout := src.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	resp, err := c.client.Fetch(ctx, Request{
		Method:  src.Method,
		URL:     src.URL,
		Headers: src.Headers,
		Timeout: timeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Sample{}, ctx.Err()
		}
		return Sample{}, resultstore.Expected(&StatusError{
			URL:     src.URL,
			Status:  StatusDown,
			Latency: resp.Latency,
			Err:     err,
		})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return Sample{}, resultstore.Expected(&StatusError{
			URL:        src.URL,
			StatusCode: resp.StatusCode,
			Status:     HTTPStatusExtractor(resp.Body, resp.StatusCode),
			Latency:    resp.Latency,
		})
	}

	extractor := src.Extractor
	if extractor == nil {
		extractor = DefaultExtractor
	}

	status, err := c.safeExtract(src.Name, extractor, resp.Body, resp.StatusCode)
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		Source:     src.Name,
		URL:        src.URL,
		StatusCode: resp.StatusCode,
		Status:     status,
		Latency:    resp.Latency,
		CheckedAt:  c.now(),
		Body:       resp.Body,
	}, nil
}

// Producer returns a producer that checks src every Interval, or once when
// Interval is zero. The sequence ends with the first failed check.
func (c *Checker) Producer(src Source) resultstore.Producer[Sample] {
	p := resultstore.FromFunc(func(ctx context.Context) (Sample, error) {
		return c.Check(ctx, src)
	})
	if src.Interval <= 0 {
		return p
	}
	return resultstore.Repeat(p, src.Interval)
}

// safeExtract calls the extractor with panic recovery.
// If the extractor panics, it logs the full stack trace with a correlation ID
// and returns a defect carrying that ID.
func (c *Checker) safeExtract(name string, extractor Extractor, body []byte, statusCode int) (status Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()

			// log full context server-side for debugging
			c.logger.Error("extractor panic",
				"source", name,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)

			err = resultstore.Defect(fmt.Errorf("extractor panic (correlation_id: %s)", correlationID))
		}
	}()
	return extractor(body, statusCode), nil
}
