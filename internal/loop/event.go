package loop

// EventKind distinguishes between event kinds.
type EventKind int

const (
	// KindTimerDone carries a timer callback handed to the loop for
	// invocation. Drivers that run their own timers use this to bounce
	// completions back onto the loop goroutine.
	KindTimerDone EventKind = iota + 1
	// KindStartTimer requests a timer upsert. Intercepted by the loop;
	// the handler never sees it.
	KindStartTimer
	// KindCancelTimer requests removal of a pending timer by identity.
	// Intercepted by the loop.
	KindCancelTimer
	// KindRunWork carries an arbitrary callback to run on the loop goroutine.
	KindRunWork
	// KindBlockReceived carries a received image block for the application
	// handler.
	KindBlockReceived
	// KindShutdown is the shutdown sentinel. The loop exits after dequeuing
	// it; events posted ahead of it are still processed.
	KindShutdown
)

// Callback runs on the loop goroutine with the context it was registered with.
type Callback func(context any)

// TimerPayload identifies a timer by its (Callback, Context) pair and, for
// start requests, carries the expiry delta.
type TimerPayload struct {
	ExpiryMS int64
	Callback Callback
	Context  any
}

// WorkPayload carries a callback for a run-work or timer-done event.
type WorkPayload struct {
	Callback Callback
	Context  any
}

// BlockPayload carries a received image block.
type BlockPayload struct {
	Data []byte
}

// Event is the closed union of everything the loop processes. Exactly one
// payload pointer matching Kind is set. Events are immutable values: created
// by any goroutine, consumed exactly once by the loop goroutine.
type Event struct {
	Kind  EventKind
	Timer *TimerPayload
	Work  *WorkPayload
	Block *BlockPayload
}

// TimerDoneEvent hands a timer callback invocation to the loop goroutine.
func TimerDoneEvent(cb Callback, context any) Event {
	return Event{Kind: KindTimerDone, Timer: &TimerPayload{Callback: cb, Context: context}}
}

// StartTimerEvent requests that the loop upsert a timer expiring expiryMS
// from the loop's current elapsed time.
func StartTimerEvent(expiryMS int64, cb Callback, context any) Event {
	return Event{Kind: KindStartTimer, Timer: &TimerPayload{ExpiryMS: expiryMS, Callback: cb, Context: context}}
}

// CancelTimerEvent requests removal of the pending timer identified by
// (cb, context). Cancelling a timer that is not pending is a no-op.
func CancelTimerEvent(cb Callback, context any) Event {
	return Event{Kind: KindCancelTimer, Timer: &TimerPayload{Callback: cb, Context: context}}
}

// RunWorkEvent schedules cb to run on the loop goroutine.
func RunWorkEvent(cb Callback, context any) Event {
	return Event{Kind: KindRunWork, Work: &WorkPayload{Callback: cb, Context: context}}
}

// BlockReceivedEvent carries an image block to the application handler.
func BlockReceivedEvent(data []byte) Event {
	return Event{Kind: KindBlockReceived, Block: &BlockPayload{Data: data}}
}

// ShutdownEvent returns the shutdown sentinel.
func ShutdownEvent() Event {
	return Event{Kind: KindShutdown}
}

// Dispatch invokes the callback carried by work and timer-done events.
// Application handlers that add no event kinds of their own can pass
// Dispatch directly to Run; handlers with extra kinds typically wrap it.
func Dispatch(ev Event) {
	switch ev.Kind {
	case KindRunWork:
		ev.Work.Callback(ev.Work.Context)
	case KindTimerDone:
		ev.Timer.Callback(ev.Timer.Context)
	}
}
