package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/otaloop/internal/loop"
	"github.com/roach88/otaloop/internal/requestor"
)

func startEstablisherLoop(t *testing.T) *loop.EventLoop {
	t.Helper()

	l := loop.New(loop.WithDequeueTimeout(5 * time.Millisecond))
	done := make(chan error, 1)
	go func() { done <- l.Run(nil) }()
	t.Cleanup(func() {
		l.Shutdown()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("loop did not stop")
		}
	})
	return l
}

func TestSessionEstablisher_DeliversSuccessWithFreshIdentity(t *testing.T) {
	l := startEstablisherLoop(t)
	e := NewSessionEstablisher(l, 5)

	results := make(chan requestor.SessionInfo, 2)
	require.True(t, l.ScheduleWork(func(any) {
		onOK := func(info requestor.SessionInfo) { results <- info }
		onErr := func(requestor.SessionInfo) { t.Error("unexpected failure") }
		// Two attempts in flight at once must not replace each other.
		e.Establish(1, 100, onOK, onErr)
		e.Establish(1, 200, onOK, onErr)
	}, nil))

	var got []requestor.SessionInfo
	for i := 0; i < 2; i++ {
		select {
		case info := <-results:
			got = append(got, info)
		case <-time.After(2 * time.Second):
			t.Fatal("session never delivered")
		}
	}

	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].SessionID)
	assert.NotEqual(t, got[0].SessionID, got[1].SessionID)
	assert.ElementsMatch(t, []uint64{100, 200}, []uint64{got[0].NodeID, got[1].NodeID})
}

func TestSessionEstablisher_FailNextFailsThenRecovers(t *testing.T) {
	l := startEstablisherLoop(t)
	e := NewSessionEstablisher(l, 5)

	type outcome struct {
		info requestor.SessionInfo
		ok   bool
	}
	results := make(chan outcome, 2)

	require.True(t, l.ScheduleWork(func(any) {
		e.FailNext(1)
		onOK := func(info requestor.SessionInfo) { results <- outcome{info, true} }
		onErr := func(info requestor.SessionInfo) { results <- outcome{info, false} }
		e.Establish(1, 100, onOK, onErr)
		e.Establish(1, 100, onOK, onErr)
	}, nil))

	var got []outcome
	for i := 0; i < 2; i++ {
		select {
		case o := <-results:
			got = append(got, o)
		case <-time.After(2 * time.Second):
			t.Fatal("session never delivered")
		}
	}

	oks := 0
	for _, o := range got {
		if o.ok {
			oks++
		}
	}
	assert.Equal(t, 1, oks, "exactly one of the two attempts succeeds")
}

func TestSessionEstablisher_FailNextOffLoopPanics(t *testing.T) {
	l := startEstablisherLoop(t)
	e := NewSessionEstablisher(l, 5)

	assert.Panics(t, func() { e.FailNext(1) })
}
