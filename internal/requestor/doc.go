// Package requestor implements the OTA requestor state machine.
//
// The requestor models a device's firmware-update lifecycle: query a
// provider for a new image, download it over a BDX session, request and
// confirm the apply, and cycle back to idle.
//
// CRITICAL PATTERNS:
//
// Single-Writer State:
// Every state transition executes on the event-loop goroutine. Call-ins
// (externally triggered notifications such as "provider session
// established") assert loop-thread affinity before touching state; a
// violation panics because it indicates a broken invariant, not a runtime
// condition. No locks guard the state or context - the loop's single-writer
// guarantee is the synchronization.
//
// Guarded Call-Ins:
// Each call-in checks that the machine is in the one state that expects it.
// A stale call-in - a session or timer completion arriving after the
// machine moved on, which can happen when cancellation races in-flight
// work - is logged and discarded, never escalated.
//
// Collaborators:
// The Driver performs the actual session establishment, timers, persistence
// and bookkeeping; the ImageProcessor consumes downloaded blocks. Both are
// interfaces so platforms (and tests) supply their own. Driver failures
// surface as Status values and route the machine back to a defined state,
// never leaving the context indeterminate.
package requestor
