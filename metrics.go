package resultstore

import "time"

// Metrics is the side record a [Store] keeps about the Results it adopts.
// It answers questions a single Result cannot, such as whether a failure
// happened before any data was ever loaded.
//
// A zero time.Time stands for "never"; it orders before every real timestamp.
type Metrics struct {
	// DataUpdatedAt is when the last Success was adopted.
	DataUpdatedAt time.Time

	// ErrorUpdatedAt is when the last expected failure was adopted.
	// Defects do not move it.
	ErrorUpdatedAt time.Time

	// CurrentFailureCount counts expected failures since the last Success.
	CurrentFailureCount int

	// CurrentDefectCount counts defects since the last Success.
	CurrentDefectCount int

	// CurrentErrorCount counts failures and defects since the last Success.
	CurrentErrorCount int

	// RunningErrorCount counts every failure and defect ever adopted.
	RunningErrorCount int

	// InvocationCount counts the tasks started by Run.
	InvocationCount int

	// InterruptCount counts the tasks that were interrupted while running.
	InterruptCount int

	// CurrentStatus is the tag of the last adopted Result.
	CurrentStatus Tag

	// LastFailureCause is the cause of the last failure or defect.
	LastFailureCause Cause
}

// UpdateFromResult folds one newly adopted Result into m.
//
// Initial and Waiting carry no new outcome and only move CurrentStatus.
// A Failure that is purely an interruption changes nothing at all.
func UpdateFromResult[A any](m *Metrics, r Result[A], now time.Time) {
	if r.tag == TagFailure && r.cause.IsInterruptedOnly() {
		return
	}

	m.CurrentStatus = r.tag

	switch r.tag {
	case TagFailure:
		if r.cause.IsFailure() {
			m.CurrentFailureCount++
			m.CurrentErrorCount++
			m.RunningErrorCount++
			m.ErrorUpdatedAt = now
			m.LastFailureCause = r.cause
			return
		}
		m.CurrentDefectCount++
		m.CurrentErrorCount++
		m.RunningErrorCount++
		m.LastFailureCause = r.cause
	case TagSuccess:
		m.CurrentFailureCount = 0
		m.CurrentDefectCount = 0
		m.CurrentErrorCount = 0
		m.DataUpdatedAt = now
	}
}
