package sim

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/otaloop/internal/loop"
	"github.com/roach88/otaloop/internal/requestor"
)

// DefaultSessionLatencyMS is how long a simulated session establishment
// takes on the loop's logical clock.
const DefaultSessionLatencyMS = 50

// pendingSession carries one in-flight establishment through the loop's
// timer registry. Each attempt gets its own pointer, so concurrent
// establishments never replace each other's timers.
type pendingSession struct {
	info    requestor.SessionInfo
	deliver func(requestor.SessionInfo)
}

// SessionEstablisher simulates asynchronous session establishment.
// Completion is delivered through a loop timer after the configured
// latency, mirroring how a real stack reports back from its network
// thread: never inline with the establish call.
type SessionEstablisher struct {
	loop      *loop.EventLoop
	latencyMS int64

	// failNext makes the next N establishments fail. Loop goroutine only.
	failNext int
}

// NewSessionEstablisher creates an establisher delivering on l's timers.
func NewSessionEstablisher(l *loop.EventLoop, latencyMS int64) *SessionEstablisher {
	if latencyMS <= 0 {
		latencyMS = DefaultSessionLatencyMS
	}
	return &SessionEstablisher{loop: l, latencyMS: latencyMS}
}

// FailNext makes the next n establishments fail. Loop goroutine only.
func (e *SessionEstablisher) FailNext(n int) {
	e.loop.MustOnLoop()
	e.failNext = n
}

// Establish starts one simulated establishment. After the latency elapses
// on the loop clock, exactly one of onSuccess or onFailure runs on the
// loop goroutine with a fresh session identity.
func (e *SessionEstablisher) Establish(
	fabricIndex int,
	nodeID uint64,
	onSuccess, onFailure func(requestor.SessionInfo),
) {
	e.loop.MustOnLoop()

	p := &pendingSession{
		info: requestor.SessionInfo{
			FabricIndex: fabricIndex,
			NodeID:      nodeID,
			SessionID:   uuid.NewString(),
		},
	}
	if e.failNext > 0 {
		e.failNext--
		p.deliver = onFailure
		slog.Debug("session establishment will fail",
			"session_id", p.info.SessionID,
			"node_id", nodeID,
		)
	} else {
		p.deliver = onSuccess
	}

	if !e.loop.StartTimer(e.latencyMS, e.complete, p) {
		slog.Error("session timer not armed: loop shut down", "node_id", nodeID)
	}
}

// complete is the shared timer callback; the pending pointer is the timer
// context and carries the per-attempt outcome.
func (e *SessionEstablisher) complete(c any) {
	p := c.(*pendingSession)
	p.deliver(p.info)
}
