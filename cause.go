package resultstore

import (
	"errors"
	"fmt"
)

// ErrNoSuchElement is the error carried by [Result.Exit] when the result is
// [Initial]: there is no outcome to report yet.
var ErrNoSuchElement = errors.New("resultstore: no such element")

// causeKind discriminates the three ways a computation can stop without a value.
type causeKind uint8

const (
	causeExpected causeKind = iota + 1
	causeDefect
	causeInterrupted
)

// Cause describes why a computation terminated without producing a value.
//
// A Cause is one of:
//   - an expected failure, created with [Expected]: a typed error the
//     producer returned on purpose;
//   - a defect, created with [Defect]: an unexpected fault such as a panic
//     escaping the producer;
//   - an interruption, created with [Interrupted]: the computation was
//     cancelled.
//
// Cause is an immutable value and implements error, so a producer can return
// one to choose the kind explicitly. [Store] never publishes an interruption.
type Cause struct {
	kind   causeKind
	err    error
	defect any
	stack  []byte
}

// Expected returns a [Cause] for an expected, typed failure.
func Expected(err error) Cause {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return Cause{kind: causeExpected, err: err}
}

// Defect returns a [Cause] for an unexpected fault. v is usually the value
// recovered from a panic.
func Defect(v any) Cause {
	c := Cause{kind: causeDefect, defect: v}
	if err, ok := v.(error); ok {
		c.err = err
	}
	return c
}

// Interrupted returns a [Cause] describing a cancellation.
func Interrupted() Cause {
	return Cause{kind: causeInterrupted}
}

func defectWithStack(v any, stack []byte) Cause {
	c := Defect(v)
	c.stack = stack
	return c
}

// causeOf converts an error returned by a producer into a [Cause].
// A Cause anywhere in err's chain is kept as is.
func causeOf(err error) Cause {
	var c Cause
	if errors.As(err, &c) && c.kind != 0 {
		return c
	}
	return Expected(err)
}

// IsFailure reports whether c is an expected failure.
func (c Cause) IsFailure() bool { return c.kind == causeExpected }

// IsDefect reports whether c is an unexpected fault.
func (c Cause) IsDefect() bool { return c.kind == causeDefect }

// IsInterruptedOnly reports whether c is purely a cancellation.
func (c Cause) IsInterruptedOnly() bool { return c.kind == causeInterrupted }

// IsZero reports whether c is the zero Cause (no failure recorded).
func (c Cause) IsZero() bool { return c.kind == 0 }

// Err returns the error carried by c: the expected error, or the defect value
// when it is an error. It returns nil otherwise.
func (c Cause) Err() error { return c.err }

// DefectValue returns the value of a defect, typically a recovered panic value.
func (c Cause) DefectValue() any { return c.defect }

// Stack returns the stack trace captured when a defect was recovered by a
// [Store], or nil.
func (c Cause) Stack() []byte { return c.stack }

// Error implements error.
func (c Cause) Error() string {
	switch c.kind {
	case causeExpected:
		return c.err.Error()
	case causeDefect:
		return fmt.Sprintf("defect: %v", c.defect)
	case causeInterrupted:
		return "interrupted"
	default:
		return "empty cause"
	}
}

// Unwrap returns the error carried by c, so that [errors.Is] and [errors.As]
// see through a Cause.
func (c Cause) Unwrap() error { return c.err }

// String returns a short, human readable description of c.
func (c Cause) String() string {
	switch c.kind {
	case causeExpected:
		return "fail(" + c.err.Error() + ")"
	case causeDefect:
		return fmt.Sprintf("die(%v)", c.defect)
	case causeInterrupted:
		return "interrupt"
	default:
		return "empty"
	}
}

// Equal reports whether c and other are of the same kind with equal payloads.
// Payloads that cannot be compared are considered unequal.
func (c Cause) Equal(other Cause) bool {
	if c.kind != other.kind {
		return false
	}
	switch c.kind {
	case causeExpected:
		return equal(c.err, other.err)
	case causeDefect:
		return equal(c.defect, other.defect)
	default:
		return true
	}
}

func equal(a, b any) (eq bool) {
	defer func() { _ = recover() }()
	return a == b
}
