package loop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workEvent(tag string, sink *[]string) Event {
	return RunWorkEvent(func(context any) {
		*sink = append(*sink, context.(string))
	}, tag)
}

func TestEventQueue_EnqueueDequeue(t *testing.T) {
	q := newEventQueue()

	ok := q.Enqueue(BlockReceivedEvent([]byte("block-1")))
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, KindBlockReceived, got.Kind)
	assert.Equal(t, []byte("block-1"), got.Block.Data)
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	var sink []string
	q.Enqueue(workEvent("A", &sink))
	q.Enqueue(workEvent("B", &sink))
	q.Enqueue(workEvent("C", &sink))

	for i := 0; i < 3; i++ {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		Dispatch(e)
	}
	assert.Equal(t, []string{"A", "B", "C"}, sink)
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_DequeueTimeout_ReturnsPostedEvent(t *testing.T) {
	q := newEventQueue()

	done := make(chan Event, 1)
	go func() {
		if e, ok := q.DequeueTimeout(time.Second); ok {
			done <- e
		}
	}()

	// Give the goroutine time to block
	time.Sleep(10 * time.Millisecond)
	q.Enqueue(BlockReceivedEvent([]byte("late")))

	select {
	case e := <-done:
		assert.Equal(t, []byte("late"), e.Block.Data)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock")
	}
}

func TestEventQueue_DequeueTimeout_TimesOutEmpty(t *testing.T) {
	q := newEventQueue()

	start := time.Now()
	_, ok := q.DequeueTimeout(20 * time.Millisecond)
	assert.False(t, ok, "timeout should report empty, not an error")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestEventQueue_Close_UnblocksDequeue(t *testing.T) {
	q := newEventQueue()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.DequeueTimeout(5 * time.Second)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok, "dequeue after close should report empty")
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after close")
	}
}

func TestEventQueue_Enqueue_AfterClose(t *testing.T) {
	q := newEventQueue()
	q.Close()

	ok := q.Enqueue(ShutdownEvent())
	assert.False(t, ok, "enqueue after close should return false")
}

func TestEventQueue_Len(t *testing.T) {
	q := newEventQueue()

	assert.Equal(t, 0, q.Len())

	q.Enqueue(ShutdownEvent())
	assert.Equal(t, 1, q.Len())

	q.Enqueue(ShutdownEvent())
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())

	q.TryDequeue()
	assert.Equal(t, 0, q.Len())
}

func TestEventQueue_ThreadSafe(t *testing.T) {
	q := newEventQueue()

	const producers = 10
	const eventsPerProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < eventsPerProducer; i++ {
				q.Enqueue(BlockReceivedEvent(nil))
			}
		}()
	}
	wg.Wait()

	received := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		received++
	}
	assert.Equal(t, producers*eventsPerProducer, received)
}
