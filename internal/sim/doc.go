// Package sim provides a simulated platform for the OTA requestor: an
// in-process session establisher, an in-memory image pipe and a Driver
// that wires the requestor's call-ins back through the event loop.
//
// Everything here is loop-goroutine code. The driver's methods are only
// invoked from requestor call-ins, which already run on the loop, so the
// package holds no locks; the few thread-safe entry points (FailNextSessions)
// hop onto the loop before touching state.
//
// The simulation is deterministic under a fast-forwarded clock: session
// establishment and periodic queries ride loop timers, block delivery
// rides chained work items, and every externally visible effect lands in
// the store's transition log.
package sim
