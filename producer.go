package resultstore

import (
	"context"
	"iter"
	"time"
)

// Producer is a lazy asynchronous sequence of values that ends either by
// returning nil (exhausted) or by returning an error (failed).
//
// A [Store] calls a Producer once per [Store.Run], on its [Executor]. Every
// value passed to yield is published as a Success. yield returns false once
// the run has been superseded or interrupted; the Producer should then return
// as soon as it can. The context is cancelled at the same time.
//
// A returned error is published as an expected failure, unless it is (or
// wraps) a [Cause], in which case that Cause is published as is. A panic is
// published as a defect.
type Producer[A any] func(ctx context.Context, yield func(A) bool) error

// FromFunc returns a [Producer] that calls f once and yields its value.
func FromFunc[A any](f func(ctx context.Context) (A, error)) Producer[A] {
	return func(ctx context.Context, yield func(A) bool) error {
		a, err := f(ctx)
		if err != nil {
			return err
		}
		yield(a)
		return nil
	}
}

// FromValues returns a [Producer] that yields vs in order.
func FromValues[A any](vs ...A) Producer[A] {
	return func(ctx context.Context, yield func(A) bool) error {
		for _, v := range vs {
			if !yield(v) {
				return nil
			}
		}
		return nil
	}
}

// FromSeq returns a [Producer] that yields the values of seq.
func FromSeq[A any](seq iter.Seq[A]) Producer[A] {
	return func(ctx context.Context, yield func(A) bool) error {
		for v := range seq {
			if !yield(v) {
				return nil
			}
		}
		return nil
	}
}

// FromSeq2 returns a [Producer] that yields the values of seq and fails with
// the first non-nil error it produces.
func FromSeq2[A any](seq iter.Seq2[A, error]) Producer[A] {
	return func(ctx context.Context, yield func(A) bool) error {
		for v, err := range seq {
			if err != nil {
				return err
			}
			if !yield(v) {
				return nil
			}
		}
		return nil
	}
}

// FromChan returns a [Producer] that yields values received from ch until ch
// is closed.
func FromChan[A any](ch <-chan A) Producer[A] {
	return func(ctx context.Context, yield func(A) bool) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case v, ok := <-ch:
				if !ok {
					return nil
				}
				if !yield(v) {
					return nil
				}
			}
		}
	}
}

// Repeat returns a [Producer] that runs p, waits for interval, and runs p
// again, until p fails or the run is cancelled.
func Repeat[A any](p Producer[A], interval time.Duration) Producer[A] {
	return func(ctx context.Context, yield func(A) bool) error {
		stopped := false
		y := func(a A) bool {
			if !yield(a) {
				stopped = true
			}
			return !stopped
		}

		timer := time.NewTimer(interval)
		defer timer.Stop()

		for {
			if err := p(ctx, y); err != nil {
				return err
			}
			if stopped {
				return nil
			}

			timer.Reset(interval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}
