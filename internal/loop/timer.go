package loop

import "reflect"

// timerEntry is a pending one-shot timer. Identity for replacement and
// cancellation is the (callback, context) pair, never the deadline.
type timerEntry struct {
	deadline int64 // absolute elapsed-time instant, ms
	callback Callback
	context  any
}

// timerRegistry holds pending timers in insertion/replacement order.
//
// The collection is unordered with respect to deadlines; expiry uses a
// linear scan, which is fine for the handful of timers a single device
// carries. Firing order between timers expiring in the same scan is
// registry order and deliberately unspecified.
//
// Owned exclusively by the loop goroutine. All external mutation paths go
// through the event queue, so the registry is never touched mid-scan from
// outside a firing callback's own posts.
type timerRegistry struct {
	entries []timerEntry
	max     int
}

func newTimerRegistry(max int) *timerRegistry {
	return &timerRegistry{max: max}
}

// callbackID returns the code entry point of cb for identity matching.
// Method values of the same method share an entry point; the context value
// carries the per-instance distinction.
func callbackID(cb Callback) uintptr {
	return reflect.ValueOf(cb).Pointer()
}

// comparableContext reports whether context can participate in identity
// matching. Identity compares contexts with ==, so map, slice and func
// contexts are rejected up front instead of panicking inside the comparison.
func comparableContext(context any) bool {
	return context == nil || reflect.TypeOf(context).Comparable()
}

func (r *timerRegistry) find(cb Callback, context any) int {
	if !comparableContext(context) {
		return -1
	}
	id := callbackID(cb)
	for i, e := range r.entries {
		if callbackID(e.callback) == id && e.context == context {
			return i
		}
	}
	return -1
}

// Upsert inserts or replaces the timer identified by (cb, context).
// An existing entry loses its old deadline unconditionally; at most one
// pending timer exists per identity. Returns a TIMERS_EXHAUSTED LoopError
// when the registry is full and the identity is new, and a
// CONTEXT_NOT_COMPARABLE LoopError when context cannot be matched with ==.
func (r *timerRegistry) Upsert(deadline int64, cb Callback, context any) error {
	if !comparableContext(context) {
		return newContextNotComparableError(context)
	}
	entry := timerEntry{deadline: deadline, callback: cb, context: context}
	if i := r.find(cb, context); i >= 0 {
		r.entries[i] = entry
		return nil
	}
	if r.max > 0 && len(r.entries) >= r.max {
		return newTimersExhaustedError(len(r.entries), r.max)
	}
	r.entries = append(r.entries, entry)
	return nil
}

// Remove cancels the pending timer identified by (cb, context).
// Reports whether a timer was pending.
func (r *timerRegistry) Remove(cb Callback, context any) bool {
	i := r.find(cb, context)
	if i < 0 {
		return false
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	return true
}

// Len returns the number of pending timers.
func (r *timerRegistry) Len() int {
	return len(r.entries)
}

// Process fires every timer whose deadline has passed at elapsed and
// returns the number fired.
//
// Expired entries are snapshotted before any callback runs: a callback that
// re-arms itself posts a start request that lands past this scan, so it is
// never visited twice. Removal happens after all callbacks have run, by
// descending index, so removing one entry does not shift the indices of the
// others still to be removed.
//
// Callbacks run synchronously on the loop goroutine; a slow callback delays
// everything behind it. A fired timer is not rearmed.
func (r *timerRegistry) Process(elapsed int64) int {
	var expired []int
	for i := range r.entries {
		if r.entries[i].deadline <= elapsed {
			expired = append(expired, i)
		}
	}
	if len(expired) == 0 {
		return 0
	}

	snapshot := make([]timerEntry, len(expired))
	for k, i := range expired {
		snapshot[k] = r.entries[i]
	}
	for _, e := range snapshot {
		e.callback(e.context)
	}

	for k := len(expired) - 1; k >= 0; k-- {
		i := expired[k]
		r.entries = append(r.entries[:i], r.entries[i+1:]...)
	}

	return len(snapshot)
}
