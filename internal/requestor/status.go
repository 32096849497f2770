package requestor

// Status is the result taxonomy for driver and requestor operations.
//
// Everything here is recoverable: an INVALID_STATE operation is recorded and
// dropped, RESOURCES_EXHAUSTED signals a capacity limit. The one failure
// class that is NOT a Status is a loop-thread affinity violation, which
// panics (see package doc).
type Status int

const (
	// StatusNoError indicates success.
	StatusNoError Status = iota

	// StatusInvalidState indicates an operation attempted in a state that
	// does not permit it.
	StatusInvalidState

	// StatusResourcesExhausted indicates a capacity limit was hit
	// (e.g. max pending timers or sessions).
	StatusResourcesExhausted
)

// String returns the wire-stable name of the status.
func (s Status) String() string {
	switch s {
	case StatusNoError:
		return "NO_ERROR"
	case StatusInvalidState:
		return "INVALID_STATE"
	case StatusResourcesExhausted:
		return "RESOURCES_EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}
