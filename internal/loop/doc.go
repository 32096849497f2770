// Package loop implements the otaloop event-loop platform.
//
// The loop is the heart of otaloop - it serializes all work onto one
// goroutine, provides a cooperative timer facility with replace-by-identity
// semantics, and dispatches every event to a single pluggable handler.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// One goroutine executes all event handlers and timer callbacks. This
// ensures:
// - No locks around consumer state (single-writer invariant)
// - Predictable, serialized handler execution
// - Simple reasoning about causality
//
// Iteration:
// 1. Dequeue with a bounded timeout (the heartbeat)
// 2. Shutdown sentinel stops the loop immediately
// 3. Timer start/cancel requests are intercepted into the registry;
//    everything else goes to the handler
// 4. The elapsed clock advances and expired timers fire, every iteration
//
// Timers:
// A timer is keyed by its (callback, context) identity. Starting a timer
// whose identity is already pending replaces the old deadline; it never
// stacks. A fired timer is not rearmed - periodic consumers re-arm from
// their own callback. Timer resolution is bounded by the dequeue timeout
// plus handler execution time.
//
// Time:
// The loop tracks a logical elapsed-milliseconds counter advanced by
// wall-clock deltas once per iteration. Wall-clock jumps only enter via
// deltas; tests can fast-forward the counter without waiting.
//
// The loop is designed for correctness on a single device, not throughput.
// A handler or timer callback that blocks stalls every subsequent event
// and timer scan (head-of-line blocking).
package loop
