package loop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/otaloop/internal/testutil"
)

// startTestLoop runs l on its own goroutine and arranges shutdown + join at
// test cleanup.
func startTestLoop(t *testing.T, l *EventLoop, h Handler) {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- l.Run(h) }()

	t.Cleanup(func() {
		l.Shutdown()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("loop did not stop after shutdown sentinel")
		}
	})
}

// barrier waits until every event posted before it has been processed and
// the iteration that processed the last of them has finished its timer scan.
func barrier(t *testing.T, l *EventLoop) {
	t.Helper()

	done := make(chan struct{})
	require.True(t, l.ScheduleWork(func(any) { close(done) }, nil))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("barrier work item never ran")
	}
}

// fastForward jumps the loop clock from the loop goroutine and waits for the
// subsequent timer scan.
func fastForward(t *testing.T, l *EventLoop, ms int64) {
	t.Helper()

	l.ScheduleWork(func(any) { l.FastForwardClockForTesting(ms) }, nil)
	barrier(t, l)
}

func newQuietLoop(wall *testutil.ManualWallClock) *EventLoop {
	return New(
		WithWallClock(wall.Now),
		WithDequeueTimeout(5*time.Millisecond),
	)
}

func TestEventLoop_FIFOFromSinglePoster(t *testing.T) {
	l := New(WithDequeueTimeout(5 * time.Millisecond))

	var seen []string
	record := func(context any) { seen = append(seen, context.(string)) }

	startTestLoop(t, l, Dispatch)

	require.True(t, l.ScheduleWork(record, "E1"))
	require.True(t, l.ScheduleWork(record, "E2"))
	require.True(t, l.ScheduleWork(record, "E3"))
	barrier(t, l)

	assert.Equal(t, []string{"E1", "E2", "E3"}, seen)
}

func TestEventLoop_ShutdownProcessesEventsAheadOfSentinel(t *testing.T) {
	l := New(WithDequeueTimeout(5 * time.Millisecond))

	processed := 0
	h := func(ev Event) {
		if ev.Kind == KindRunWork {
			processed++
		}
	}

	done := make(chan error, 1)

	// Queue three events, then the sentinel, before the loop starts - the
	// loop must drain all three first.
	for i := 0; i < 3; i++ {
		l.ScheduleWork(func(any) {}, nil)
	}
	l.Shutdown()

	go func() { done <- l.Run(h) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, 3, processed)

	// Every post path reports the closed queue by returning false.
	assert.False(t, l.Post(ShutdownEvent()), "post after shutdown must fail")
	assert.False(t, l.ScheduleWork(func(any) {}, nil))
	assert.False(t, l.StartTimer(10, func(any) {}, nil))
	assert.False(t, l.CancelTimer(func(any) {}, nil))
}

func TestEventLoop_TimerReplacement(t *testing.T) {
	wall := testutil.NewManualWallClock(time.Unix(1000, 0))
	l := newQuietLoop(wall)

	fired := 0
	cb := func(context any) { fired++ }

	startTestLoop(t, l, Dispatch)

	require.True(t, l.StartTimer(1000, cb, "A"))
	barrier(t, l)
	require.True(t, l.StartTimer(5000, cb, "A"))
	barrier(t, l)

	fastForward(t, l, 1500)
	read := func(t *testing.T) int {
		var n int
		done := make(chan struct{})
		l.ScheduleWork(func(any) { n = fired; close(done) }, nil)
		<-done
		return n
	}
	assert.Equal(t, 0, read(t), "replaced 1000ms deadline must not fire")

	fastForward(t, l, 4000)
	assert.Equal(t, 1, read(t), "replacement deadline fires exactly once")

	fastForward(t, l, 10000)
	assert.Equal(t, 1, read(t), "no double fire")
}

func TestEventLoop_ZeroDeltaTimerFiresOnNextScanOnly(t *testing.T) {
	wall := testutil.NewManualWallClock(time.Unix(1000, 0))
	l := newQuietLoop(wall)

	firedAt := make(chan struct{})
	cb := func(context any) { close(firedAt) }

	startTestLoop(t, l, Dispatch)

	require.True(t, l.StartTimer(0, cb, nil))
	barrier(t, l)

	select {
	case <-firedAt:
	case <-time.After(time.Second):
		t.Fatal("zero-delta timer never fired")
	}
}

func TestEventLoop_CancelTimer(t *testing.T) {
	wall := testutil.NewManualWallClock(time.Unix(1000, 0))
	l := newQuietLoop(wall)

	fired := 0
	cb := func(context any) { fired++ }

	startTestLoop(t, l, Dispatch)

	l.StartTimer(100, cb, "victim")
	barrier(t, l)
	l.CancelTimer(cb, "victim")
	barrier(t, l)

	fastForward(t, l, 500)
	barrier(t, l)

	var n int
	done := make(chan struct{})
	l.ScheduleWork(func(any) { n = fired; close(done) }, nil)
	<-done
	assert.Equal(t, 0, n, "cancelled timer must not fire")
}

func TestEventLoop_SelfRearmingTimer(t *testing.T) {
	wall := testutil.NewManualWallClock(time.Unix(1000, 0))
	l := newQuietLoop(wall)

	fired := 0
	var tick Callback
	tick = func(context any) {
		fired++
		l.StartTimer(100, tick, context)
	}

	startTestLoop(t, l, Dispatch)

	l.StartTimer(100, tick, "periodic")
	barrier(t, l)

	fastForward(t, l, 150)
	fastForward(t, l, 150)
	fastForward(t, l, 150)

	var n int
	done := make(chan struct{})
	l.ScheduleWork(func(any) { n = fired; close(done) }, nil)
	<-done
	assert.Equal(t, 3, n, "self re-arm fires once per window")
}

func TestEventLoop_ThreadAffinity(t *testing.T) {
	l := New(WithDequeueTimeout(5 * time.Millisecond))

	assert.False(t, l.OnLoop(), "no loop goroutine before Run")

	startTestLoop(t, l, Dispatch)

	onLoop := make(chan bool, 1)
	l.ScheduleWork(func(any) { onLoop <- l.OnLoop() }, nil)
	assert.True(t, <-onLoop, "work callbacks run on the loop goroutine")

	assert.Panics(t, func() { l.MustOnLoop() }, "off-loop call-in must be fatal")
	assert.Panics(t, func() { l.FastForwardClockForTesting(10) })
}

func TestEventLoop_RunTwiceFails(t *testing.T) {
	l := New(WithDequeueTimeout(5 * time.Millisecond))
	startTestLoop(t, l, Dispatch)
	barrier(t, l)

	err := l.Run(Dispatch)
	require.Error(t, err)
	var le *LoopError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeAlreadyRunning, le.Code)
}

func TestEventLoop_TimerCapacityDropsNewStarts(t *testing.T) {
	wall := testutil.NewManualWallClock(time.Unix(1000, 0))
	l := New(
		WithWallClock(wall.Now),
		WithDequeueTimeout(5*time.Millisecond),
		WithMaxPendingTimers(1),
	)

	fired := []string{}
	cb := func(context any) { fired = append(fired, context.(string)) }

	startTestLoop(t, l, Dispatch)

	l.StartTimer(100, cb, "kept")
	l.StartTimer(100, cb, "dropped")
	barrier(t, l)

	fastForward(t, l, 500)

	var got []string
	done := make(chan struct{})
	l.ScheduleWork(func(any) { got = append(got, fired...); close(done) }, nil)
	<-done
	assert.Equal(t, []string{"kept"}, got)
}

func TestEventLoop_HandlerSeesNoTimerControlEvents(t *testing.T) {
	l := New(WithDequeueTimeout(5 * time.Millisecond))

	var kinds []EventKind
	h := func(ev Event) {
		kinds = append(kinds, ev.Kind)
		Dispatch(ev)
	}

	startTestLoop(t, l, h)

	cb := func(any) {}
	l.StartTimer(10000, cb, nil)
	l.CancelTimer(cb, nil)
	l.Post(BlockReceivedEvent([]byte{1}))
	barrier(t, l)

	// The barrier's own run-work event reaches the handler too.
	assert.Equal(t, []EventKind{KindBlockReceived, KindRunWork}, kinds)
}
