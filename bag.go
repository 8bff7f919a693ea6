package resultstore

import "time"

// Bag is the read-only view a [Store] hands out from [Store.Snapshot]: the
// current [Result] together with a copy of the store's [Metrics].
//
// A Bag never changes after it is built. Predicates are evaluated on every
// call from the Result and Metrics it holds.
type Bag[A any] struct {
	result  Result[A]
	metrics Metrics
}

func newBag[A any](r Result[A], m Metrics) *Bag[A] {
	return &Bag[A]{result: r, metrics: m}
}

// Result returns the Result held by b.
func (b *Bag[A]) Result() Result[A] { return b.result }

// Metrics returns a copy of the Metrics held by b.
func (b *Bag[A]) Metrics() Metrics { return b.metrics }

// IsLoading reports whether the first computation is in flight.
func (b *Bag[A]) IsLoading() bool { return b.result.IsLoading() }

// IsRefreshing reports whether a computation is in flight over a Success.
func (b *Bag[A]) IsRefreshing() bool { return b.result.IsRefreshing() }

// IsRetrying reports whether a computation is in flight over a Failure.
func (b *Bag[A]) IsRetrying() bool { return b.result.IsRetrying() }

// IsError reports whether the Result is a Failure.
func (b *Bag[A]) IsError() bool { return b.result.IsError() }

// IsSuccess reports whether the Result is a Success.
func (b *Bag[A]) IsSuccess() bool { return b.result.IsSuccess() }

// IsLoadingFailure reports whether a retry is in flight and no data was ever
// loaded.
func (b *Bag[A]) IsLoadingFailure() bool {
	return b.result.IsRetrying() && b.metrics.DataUpdatedAt.IsZero()
}

// IsRefreshingFailure reports whether a retry is in flight and data was
// loaded more recently than the last failure.
func (b *Bag[A]) IsRefreshingFailure() bool {
	return b.result.IsRetrying() && b.metrics.DataUpdatedAt.After(b.metrics.ErrorUpdatedAt)
}

// DataUpdatedAt returns when the last Success was adopted.
// The second return value is false if there never was one.
func (b *Bag[A]) DataUpdatedAt() (time.Time, bool) {
	return b.metrics.DataUpdatedAt, !b.metrics.DataUpdatedAt.IsZero()
}

// ErrorUpdatedAt returns when the last expected failure was adopted.
// The second return value is false if there never was one.
func (b *Bag[A]) ErrorUpdatedAt() (time.Time, bool) {
	return b.metrics.ErrorUpdatedAt, !b.metrics.ErrorUpdatedAt.IsZero()
}

// FailureCount returns the number of expected failures since the last Success.
func (b *Bag[A]) FailureCount() int { return b.metrics.CurrentFailureCount }

// ErrorRunningCount returns the number of failures and defects ever adopted.
func (b *Bag[A]) ErrorRunningCount() int { return b.metrics.RunningErrorCount }

// FailureCause returns the cause of the last failure or defect, or the zero
// Cause if there was none.
func (b *Bag[A]) FailureCause() Cause { return b.metrics.LastFailureCause }
