package resultstore

import (
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// storeConfig holds mutable state during Store construction.
type storeConfig struct {
	executor          Executor
	logger            *slog.Logger
	clock             func() time.Time
	meterProvider     metric.MeterProvider
	name              string
	resumeOnSubscribe bool
}

// Option is a function that configures a [Store] during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithExecutor], [WithLogger], [WithClock],
// [WithMeterProvider], [WithName], [WithResumeOnSubscribe].
type Option func(*storeConfig) error

// WithExecutor sets the [Executor] the store forks its tasks on.
//
// Defaults to a zero [GoExecutor], which runs each task in its own goroutine.
//
// Example:
//
//	var exec resultstore.SerialExecutor
//	exec.Autorun(exec.Run)
//	s, err := resultstore.New[int](resultstore.WithExecutor(&exec))
//
// Returns an error if the executor is nil.
func WithExecutor(e Executor) Option {
	return func(cfg *storeConfig) error {
		if e == nil {
			return errors.New("executor cannot be nil")
		}
		cfg.executor = e
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the store.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *storeConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithClock sets the function used to timestamp adopted Results in
// [Metrics]. Defaults to [time.Now].
//
// Returns an error if now is nil.
func WithClock(now func() time.Time) Option {
	return func(cfg *storeConfig) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = now
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry [metric.MeterProvider] the store
// records its counters with. Defaults to the global provider.
//
// Returns an error if mp is nil.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *storeConfig) error {
		if mp == nil {
			return errors.New("meter provider cannot be nil")
		}
		cfg.meterProvider = mp
		return nil
	}
}

// WithName names the store. The name is attached to log records and metric
// attributes.
func WithName(name string) Option {
	return func(cfg *storeConfig) error {
		cfg.name = name
		return nil
	}
}

// WithResumeOnSubscribe makes the store re-run its last [Producer] when a
// subscriber arrives while the store sits idle because its previous task was
// torn down (interrupted after the last subscriber left, or by
// [Store.InterruptIfRunning]).
//
// By default, subscribing never starts a task.
func WithResumeOnSubscribe() Option {
	return func(cfg *storeConfig) error {
		cfg.resumeOnSubscribe = true
		return nil
	}
}
