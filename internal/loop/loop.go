package loop

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultDequeueTimeout bounds each blocking dequeue. The timeout is the
// heartbeat that drives timer scans when no events arrive, so timer
// resolution is roughly this value plus handler execution time.
const DefaultDequeueTimeout = 100 * time.Millisecond

// DefaultMaxPendingTimers caps the timer registry. A device carries a
// handful of concurrent timers; hitting the cap indicates a leak.
const DefaultMaxPendingTimers = 64

// Handler consumes every dequeued event the loop does not intercept.
// Handlers run synchronously on the loop goroutine and never concurrently
// with another handler or timer callback.
type Handler func(Event)

// EventLoop is the single-writer scheduler.
//
// All cross-thread communication enters through the event queue: Post,
// ScheduleWork, StartTimer and CancelTimer are safe from any goroutine and
// enqueue for a future iteration. Everything else - the clock, the timer
// registry, and any state owned by the handler - belongs to the one
// goroutine that called Run.
//
// Lifetime is explicit: construct with New, call Run on a dedicated
// goroutine, stop by posting the shutdown sentinel (Shutdown), then join.
// A stopped loop does not restart; create a new one.
type EventLoop struct {
	queue   *eventQueue
	clock   *elapsedClock
	timers  *timerRegistry
	timeout time.Duration

	// loopGID is the opaque identity of the loop goroutine, captured at Run
	// entry. Zero means Run has not started.
	loopGID atomic.Int64
}

// Option configures an EventLoop.
type Option func(*EventLoop)

// WithDequeueTimeout overrides the bounded dequeue wait.
// Shorter timeouts tighten timer resolution at the cost of more idle wakeups.
func WithDequeueTimeout(d time.Duration) Option {
	return func(l *EventLoop) {
		l.timeout = d
	}
}

// WithMaxPendingTimers overrides the timer registry capacity.
// A start request that would exceed the capacity is logged and dropped.
func WithMaxPendingTimers(max int) Option {
	return func(l *EventLoop) {
		l.timers = newTimerRegistry(max)
	}
}

// WithWallClock overrides the wall-time source feeding the elapsed clock.
// Tests combine this with testutil.ManualWallClock for deterministic deltas.
func WithWallClock(wall func() time.Time) Option {
	return func(l *EventLoop) {
		l.clock = newElapsedClock(wall)
	}
}

// New creates a stopped-but-ready EventLoop. Nothing runs until Run.
func New(opts ...Option) *EventLoop {
	l := &EventLoop{
		queue:   newEventQueue(),
		clock:   newElapsedClock(nil),
		timers:  newTimerRegistry(DefaultMaxPendingTimers),
		timeout: DefaultDequeueTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post enqueues an event for processing by the loop goroutine.
// Thread-safe, never blocks. Returns false once the loop has shut down;
// the dropped event is logged with a QUEUE_CLOSED loop error.
func (l *EventLoop) Post(ev Event) bool {
	if !l.queue.Enqueue(ev) {
		slog.Debug("event dropped", "kind", ev.Kind, "error", newQueueClosedError())
		return false
	}
	return true
}

// ScheduleWork posts a run-work event invoking cb(context) on the loop
// goroutine. Thread-safe.
func (l *EventLoop) ScheduleWork(cb Callback, context any) bool {
	return l.Post(RunWorkEvent(cb, context))
}

// StartTimer posts a timer upsert expiring expiryMS from the loop's elapsed
// time at the moment the request is processed. If a timer with the same
// (cb, context) identity is pending it is replaced, not stacked. A zero
// delta still waits for the next timer scan; nothing fires synchronously.
// context must be comparable - identity matching uses ==, and a map, slice
// or func context is logged and dropped by the registry. Thread-safe.
func (l *EventLoop) StartTimer(expiryMS int64, cb Callback, context any) bool {
	return l.Post(StartTimerEvent(expiryMS, cb, context))
}

// CancelTimer posts removal of the pending timer identified by
// (cb, context). Cancelling an absent timer is a no-op, and a
// non-comparable context never matches anything. Thread-safe.
func (l *EventLoop) CancelTimer(cb Callback, context any) bool {
	return l.Post(CancelTimerEvent(cb, context))
}

// Shutdown posts the shutdown sentinel. Cancellation is cooperative: events
// ahead of the sentinel are processed first, and an in-flight handler
// finishes before the loop observes it.
func (l *EventLoop) Shutdown() {
	l.queue.Enqueue(ShutdownEvent())
}

// Run executes the loop until the shutdown sentinel is dequeued.
// Blocking; intended to be invoked on its own dedicated goroutine. Returns
// an ALREADY_RUNNING LoopError if called twice - a stopped loop does not
// restart.
//
// Every handler invocation and timer callback executes on this goroutine
// and never concurrently with another. Consumers rely on this single-writer
// guarantee instead of locks.
func (l *EventLoop) Run(handler Handler) error {
	if handler == nil {
		handler = Dispatch
	}
	if !l.loopGID.CompareAndSwap(0, goroutineID()) {
		return &LoopError{Code: ErrCodeAlreadyRunning, Message: "Run called on a loop that already has a loop goroutine"}
	}

	l.clock.Rebase()
	slog.Info("event loop starting", "dequeue_timeout", l.timeout)

	for {
		ev, ok := l.queue.DequeueTimeout(l.timeout)
		if ok {
			switch ev.Kind {
			case KindShutdown:
				slog.Info("event loop stopping: shutdown sentinel", "elapsed_ms", l.clock.Elapsed())
				l.queue.Close()
				return nil
			case KindStartTimer:
				l.handleStartTimer(ev.Timer)
			case KindCancelTimer:
				if l.timers.Remove(ev.Timer.Callback, ev.Timer.Context) {
					slog.Debug("timer cancelled", "pending", l.timers.Len())
				}
			default:
				handler(ev)
			}
		}
		// Timer scan runs every iteration, dequeue or timeout alike.
		l.timers.Process(l.clock.Advance())
	}
}

// handleStartTimer computes the deadline against freshly advanced elapsed
// time and upserts. Capacity failures are logged and dropped.
func (l *EventLoop) handleStartTimer(p *TimerPayload) {
	deadline := l.clock.Advance() + p.ExpiryMS
	if err := l.timers.Upsert(deadline, p.Callback, p.Context); err != nil {
		slog.Error("timer start dropped",
			"error", err,
			"expiry_ms", p.ExpiryMS,
			"pending", l.timers.Len(),
		)
	}
}

// OnLoop reports whether the caller is the loop goroutine.
// False before Run has started.
func (l *EventLoop) OnLoop() bool {
	gid := l.loopGID.Load()
	return gid != 0 && gid == goroutineID()
}

// MustOnLoop panics when the caller is not the loop goroutine.
//
// State mutation off the loop breaks the single-writer invariant the whole
// design depends on, so this is treated as a fatal programming error rather
// than a recoverable condition.
func (l *EventLoop) MustOnLoop() {
	if !l.OnLoop() {
		panic(fmt.Sprintf("loop: call from goroutine %d, loop goroutine is %d", goroutineID(), l.loopGID.Load()))
	}
}

// QueueLen returns the current number of undelivered events.
// Thread-safe; useful for monitoring and test settling.
func (l *EventLoop) QueueLen() int {
	return l.queue.Len()
}

// PendingTimers returns the number of pending timers.
// Loop goroutine only.
func (l *EventLoop) PendingTimers() int {
	l.MustOnLoop()
	return l.timers.Len()
}

// ElapsedMS returns the loop's elapsed time without advancing it.
// Loop goroutine only.
func (l *EventLoop) ElapsedMS() int64 {
	l.MustOnLoop()
	return l.clock.Elapsed()
}

// FastForwardClockForTesting flushes due timers once, then jumps elapsed
// time forward by ms without a real-time wait. Timers falling due inside
// the jump fire on the next scan, not synchronously here. Loop goroutine
// only - tests reach it through ScheduleWork.
func (l *EventLoop) FastForwardClockForTesting(ms int64) {
	l.MustOnLoop()
	l.timers.Process(l.clock.Advance())
	l.clock.FastForward(ms)
}
