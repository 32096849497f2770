package loop

import (
	"errors"
	"fmt"
)

// LoopError represents a failure detected while servicing loop requests.
//
// Loop errors are recoverable runtime conditions: the request is logged and
// dropped, never escalated to a crash. The one exception in this package is
// a loop-thread affinity violation, which panics - see EventLoop.MustOnLoop.
type LoopError struct {
	// Code identifies the error category.
	Code LoopErrorCode

	// Message is a human-readable description.
	Message string
}

// LoopErrorCode categorizes loop errors.
type LoopErrorCode string

const (
	// ErrCodeTimersExhausted indicates the pending-timer capacity was hit.
	ErrCodeTimersExhausted LoopErrorCode = "TIMERS_EXHAUSTED"

	// ErrCodeQueueClosed indicates a post was attempted after shutdown.
	ErrCodeQueueClosed LoopErrorCode = "QUEUE_CLOSED"

	// ErrCodeAlreadyRunning indicates Run was called on a loop that already
	// has (or had) a loop goroutine. A stopped loop cannot restart.
	ErrCodeAlreadyRunning LoopErrorCode = "ALREADY_RUNNING"

	// ErrCodeContextNotComparable indicates a timer request carried a
	// context value (map, slice, func) that cannot be matched by identity.
	ErrCodeContextNotComparable LoopErrorCode = "CONTEXT_NOT_COMPARABLE"
)

// Error implements the error interface.
func (e *LoopError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsTimersExhausted returns true if the error is a timer capacity error.
// Uses errors.As to handle wrapped errors.
func IsTimersExhausted(err error) bool {
	var le *LoopError
	if errors.As(err, &le) {
		return le.Code == ErrCodeTimersExhausted
	}
	return false
}

func newTimersExhaustedError(pending, max int) *LoopError {
	return &LoopError{
		Code:    ErrCodeTimersExhausted,
		Message: fmt.Sprintf("pending timers at capacity (%d >= %d)", pending, max),
	}
}

func newQueueClosedError() *LoopError {
	return &LoopError{
		Code:    ErrCodeQueueClosed,
		Message: "event posted after shutdown",
	}
}

func newContextNotComparableError(context any) *LoopError {
	return &LoopError{
		Code:    ErrCodeContextNotComparable,
		Message: fmt.Sprintf("timer context of type %T cannot be matched by identity", context),
	}
}
