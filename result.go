package resultstore

import "fmt"

// Tag identifies the variant of a [Result].
type Tag uint8

const (
	// TagInitial marks a Result for which no computation has ever completed
	// or is running.
	TagInitial Tag = iota

	// TagWaiting marks a Result whose computation is in flight.
	TagWaiting

	// TagFailure marks a Result whose computation terminated with a [Cause].
	TagFailure

	// TagSuccess marks a Result whose computation most recently produced a value.
	TagSuccess
)

// String returns the name of the variant.
func (t Tag) String() string {
	switch t {
	case TagInitial:
		return "Initial"
	case TagWaiting:
		return "Waiting"
	case TagFailure:
		return "Failure"
	case TagSuccess:
		return "Success"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Result is an immutable value describing the lifecycle of one tracked
// computation. It is one of four variants:
//
//   - Initial: nothing has run yet. The zero Result is Initial.
//   - Waiting: a computation is in flight. It keeps the last non-waiting
//     Result so that a first load, a refresh and a retry can be told apart.
//   - Failure: the computation terminated with a [Cause].
//   - Success: the computation produced a value.
//
// Results are never modified; every transition creates a new value. Use
// [Equal] or [EqualFunc] to compare them.
type Result[A any] struct {
	tag   Tag
	value A
	cause Cause
	prev  *Result[A]
}

// Initial returns the Result for which nothing has run yet.
func Initial[A any]() Result[A] {
	return Result[A]{}
}

// Success returns a Result carrying a.
func Success[A any](a A) Result[A] {
	return Result[A]{tag: TagSuccess, value: a}
}

// Failure returns a Result that terminated with cause.
func Failure[A any](cause Cause) Result[A] {
	return Result[A]{tag: TagFailure, cause: cause}
}

// Fail returns a Result that terminated with the expected failure err.
func Fail[A any](err error) Result[A] {
	return Failure[A](causeOf(err))
}

// Waiting returns a Result describing an in-flight computation that started
// from prev. If prev is already waiting, prev is returned unchanged, so
// waiting states never nest.
func Waiting[A any](prev Result[A]) Result[A] {
	if prev.tag == TagWaiting {
		return prev
	}
	return Result[A]{tag: TagWaiting, prev: &prev}
}

// FromExit returns [Success] of a when err is nil, and a failure otherwise.
// A [Cause] found in err's chain keeps its kind; any other error becomes an
// expected failure.
func FromExit[A any](a A, err error) Result[A] {
	if err != nil {
		return Fail[A](err)
	}
	return Success(a)
}

// Tag returns the variant of r.
func (r Result[A]) Tag() Tag { return r.tag }

// IsInitial reports whether r is Initial.
func (r Result[A]) IsInitial() bool { return r.tag == TagInitial }

// IsWaiting reports whether r is Waiting.
func (r Result[A]) IsWaiting() bool { return r.tag == TagWaiting }

// IsFailure reports whether r is a Failure.
func (r Result[A]) IsFailure() bool { return r.tag == TagFailure }

// IsSuccess reports whether r is a Success.
func (r Result[A]) IsSuccess() bool { return r.tag == TagSuccess }

// IsError reports whether r is a Failure. A Waiting Result is never an error,
// even when it retries a failure.
func (r Result[A]) IsError() bool { return r.tag == TagFailure }

// IsLoading reports whether r is a first load: Waiting over Initial.
func (r Result[A]) IsLoading() bool {
	return r.tag == TagWaiting && r.prev.tag == TagInitial
}

// IsRefreshing reports whether r refreshes a value: Waiting over Success.
func (r Result[A]) IsRefreshing() bool {
	return r.tag == TagWaiting && r.prev.tag == TagSuccess
}

// IsRetrying reports whether r retries a failure: Waiting over Failure.
func (r Result[A]) IsRetrying() bool {
	return r.tag == TagWaiting && r.prev.tag == TagFailure
}

// Previous returns the Result a Waiting r started from.
// The second return value is false when r is not Waiting.
func (r Result[A]) Previous() (Result[A], bool) {
	if r.tag != TagWaiting {
		return Result[A]{}, false
	}
	return *r.prev, true
}

// Value returns the value of the innermost non-waiting Result, if it is a
// Success.
func (r Result[A]) Value() (A, bool) {
	t := r.terminal()
	if t.tag == TagSuccess {
		return t.value, true
	}
	var zero A
	return zero, false
}

// Cause returns the cause of the innermost non-waiting Result, if it is a
// Failure.
func (r Result[A]) Cause() (Cause, bool) {
	t := r.terminal()
	if t.tag == TagFailure {
		return t.cause, true
	}
	return Cause{}, false
}

// Exit collapses r into what a synchronous call would have returned.
// Waiting Results report their previous state. Initial reports an expected
// failure wrapping [ErrNoSuchElement].
func (r Result[A]) Exit() (A, error) {
	var zero A
	switch t := r.terminal(); t.tag {
	case TagSuccess:
		return t.value, nil
	case TagFailure:
		return zero, t.cause
	default:
		return zero, Expected(ErrNoSuchElement)
	}
}

// terminal strips a Waiting wrapper. Waiting never nests, so one step is
// enough; the loop guards against hand-built values.
func (r Result[A]) terminal() Result[A] {
	for r.tag == TagWaiting {
		r = *r.prev
	}
	return r
}

// String renders r in constructor notation, e.g. "waiting(success(1))".
func (r Result[A]) String() string {
	switch r.tag {
	case TagWaiting:
		return "waiting(" + r.prev.String() + ")"
	case TagFailure:
		return "failure(" + r.cause.Error() + ")"
	case TagSuccess:
		return fmt.Sprintf("success(%v)", r.value)
	default:
		return "initial()"
	}
}

// Equal reports whether a and b are the same variant with equal payloads.
// Waiting is unwrapped on both sides first, so Waiting(p) equals p.
func Equal[A comparable](a, b Result[A]) bool {
	return EqualFunc(a, b, func(x, y A) bool { return x == y })
}

// EqualFunc is like [Equal] but compares success values with eq.
func EqualFunc[A any](a, b Result[A], eq func(A, A) bool) bool {
	a, b = a.terminal(), b.terminal()
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TagSuccess:
		return eq(a.value, b.value)
	case TagFailure:
		return a.cause.Equal(b.cause)
	default:
		return true
	}
}

// Matcher holds one handler per [Result] variant. See [Match].
type Matcher[A, Z any] struct {
	OnInitial func() Z
	OnWaiting func(prev Result[A]) Z
	OnFailure func(cause Cause) Z
	OnSuccess func(value A) Z
}

// Match reduces r with the handler matching its variant.
// It panics if that handler is nil.
func Match[A, Z any](r Result[A], m Matcher[A, Z]) Z {
	switch r.tag {
	case TagWaiting:
		return m.OnWaiting(*r.prev)
	case TagFailure:
		return m.OnFailure(r.cause)
	case TagSuccess:
		return m.OnSuccess(r.value)
	default:
		return m.OnInitial()
	}
}

// FlatMap sequences f after a Success:
//   - Initial stays Initial;
//   - Failure keeps its cause;
//   - Success(a) becomes f(a);
//   - Waiting(p) becomes Waiting(FlatMap(p, f)), collapsing if f itself
//     returned a Waiting Result.
func FlatMap[A, B any](r Result[A], f func(A) Result[B]) Result[B] {
	switch r.tag {
	case TagWaiting:
		if r.prev.tag == TagWaiting {
			return FlatMap(*r.prev, f)
		}
		return Waiting(FlatMap(*r.prev, f))
	case TagFailure:
		return Failure[B](r.cause)
	case TagSuccess:
		return f(r.value)
	default:
		return Initial[B]()
	}
}

// Map transforms the value of a Success with f. Other variants keep their
// tag; a Waiting Result maps its previous state.
func Map[A, B any](r Result[A], f func(A) B) Result[B] {
	return FlatMap(r, func(a A) Result[B] { return Success(f(a)) })
}

// As replaces the value of a Success with b.
func As[A, B any](r Result[A], b B) Result[B] {
	return Map(r, func(A) B { return b })
}

// Flatten removes one level of nesting from a Result of Results.
func Flatten[A any](r Result[Result[A]]) Result[A] {
	return FlatMap(r, func(inner Result[A]) Result[A] { return inner })
}

// Find applies pf to r and, while pf reports nothing and r is Waiting, to the
// previous states of r.
func Find[A, Z any](r Result[A], pf func(Result[A]) (Z, bool)) (Z, bool) {
	for {
		if z, ok := pf(r); ok {
			return z, true
		}
		if r.tag != TagWaiting {
			var zero Z
			return zero, false
		}
		r = *r.prev
	}
}
