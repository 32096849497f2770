package sim

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/otaloop/internal/loop"
	"github.com/roach88/otaloop/internal/requestor"
	"github.com/roach88/otaloop/internal/store"
)

// testConfig shrinks every latency so a full cycle completes in real
// milliseconds on the 5ms heartbeat.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ImageSizeBytes = 64
	cfg.BlockSizeBytes = 16
	cfg.SessionLatencyMS = 5
	cfg.ApplyDurationMS = 5
	return cfg
}

type fixture struct {
	loop   *loop.EventLoop
	store  *store.Store
	driver *Driver
	req    *requestor.Requestor
	image  *MemoryImage
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "ota.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	l := loop.New(loop.WithDequeueTimeout(5 * time.Millisecond))
	d := NewDriver(l, st, cfg)
	img := NewMemoryImage(cfg.ImageSizeBytes)
	req := requestor.New(l, d, img, requestor.WithDefaultProvider(1, 0xA11CE))
	d.Bind(req, img)
	require.Equal(t, requestor.StatusNoError, req.Initialize())

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

	return &fixture{loop: l, store: st, driver: d, req: req, image: img}
}

// state reads the requestor state from the loop goroutine.
func (f *fixture) state(t *testing.T) requestor.State {
	t.Helper()

	var s requestor.State
	done := make(chan struct{})
	require.True(t, f.loop.ScheduleWork(func(any) { s = f.req.State(); close(done) }, nil))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop work item never ran")
	}
	return s
}

func (f *fixture) waitForState(t *testing.T, want requestor.State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.state(t) == want },
		5*time.Second, 2*time.Millisecond, "waiting for state %v", want)
}

// fastForward jumps the loop clock from the loop goroutine.
func (f *fixture) fastForward(t *testing.T, ms int64) {
	t.Helper()

	done := make(chan struct{})
	require.True(t, f.loop.ScheduleWork(func(any) {
		f.loop.FastForwardClockForTesting(ms)
		close(done)
	}, nil))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fast-forward never ran")
	}
}

func (f *fixture) edges(t *testing.T) [][2]string {
	t.Helper()

	transitions, err := f.store.Transitions(context.Background())
	require.NoError(t, err)
	edges := make([][2]string, len(transitions))
	for i, tr := range transitions {
		edges[i] = [2]string{tr.FromState, tr.ToState}
	}
	return edges
}

func TestDriver_FullUpdateCycle(t *testing.T) {
	f := newFixture(t, testConfig())

	f.req.TriggerImmediateQuery()
	f.waitForState(t, requestor.StateIdle)

	// The cycle may still be finishing its tail writes when the state
	// flips; the final edge is written before the transition returns, so
	// the log is complete by now.
	want := [][2]string{
		{"idle", "establishing_provider_connection"},
		{"establishing_provider_connection", "querying"},
		{"querying", "establishing_bdx_connection"},
		{"establishing_bdx_connection", "downloading"},
		{"downloading", "requesting_apply"},
		{"requesting_apply", "applying"},
		{"applying", "booting_into_new"},
		{"booting_into_new", "idle"},
	}
	require.Eventually(t, func() bool { return len(f.edges(t)) == len(want) },
		5*time.Second, 2*time.Millisecond)
	assert.Equal(t, want, f.edges(t))

	versions, err := f.store.AppliedVersions(context.Background())
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, uint32(2), versions[0].Version)

	assert.Len(t, f.image.Bytes(), 64, "entire image staged")

	_, found, err := f.store.LoadContext(context.Background())
	require.NoError(t, err)
	assert.False(t, found, "context cleared after the cycle completes")
}

func TestDriver_NoUpdateWaitsThenRequeries(t *testing.T) {
	cfg := testConfig()
	cfg.UpdateAvailable = false
	f := newFixture(t, cfg)

	f.req.TriggerImmediateQuery()
	f.waitForState(t, requestor.StateWaitingForNextQuery)

	// Jumping past the query interval fires the query timer and starts
	// the next cycle without any wall-clock wait.
	f.fastForward(t, requestor.DefaultQueryIntervalMS)
	f.waitForState(t, requestor.StateWaitingForNextQuery)

	established := 0
	for _, e := range f.edges(t) {
		if e[1] == "establishing_provider_connection" {
			established++
		}
	}
	assert.GreaterOrEqual(t, established, 2, "timer must start a second query cycle")
}

func TestDriver_SessionFailureRetriesAfterInterval(t *testing.T) {
	f := newFixture(t, testConfig())

	f.driver.FailNextSessions(1)
	f.req.TriggerImmediateQuery()
	f.waitForState(t, requestor.StateWaitingForNextQuery)

	f.fastForward(t, requestor.DefaultQueryIntervalMS)
	f.waitForState(t, requestor.StateIdle)

	edges := f.edges(t)
	assert.Equal(t, [2]string{"establishing_provider_connection", "waiting_for_next_query"}, edges[1],
		"first attempt fails at session establishment")
	assert.Equal(t, [2]string{"booting_into_new", "idle"}, edges[len(edges)-1],
		"retry completes the update")
}

func TestDriver_CancelDuringDownload(t *testing.T) {
	cfg := testConfig()
	// Paced delivery leaves a wide window for the cancel to land
	// mid-stream.
	cfg.ImageSizeBytes = 64 << 10
	cfg.BlockSizeBytes = 1024
	cfg.BlockIntervalMS = 5
	f := newFixture(t, cfg)

	f.req.TriggerImmediateQuery()
	f.waitForState(t, requestor.StateDownloading)

	f.req.CancelOngoingOTA()
	f.waitForState(t, requestor.StateIdle)

	edges := f.edges(t)
	assert.Equal(t, [2]string{"downloading", "idle"}, edges[len(edges)-1])

	_, found, err := f.store.LoadContext(context.Background())
	require.NoError(t, err)
	assert.False(t, found, "cancel clears the persisted context")
}

func TestDriver_DelayedApplyHeldUntilTimer(t *testing.T) {
	cfg := testConfig()
	cfg.ApplyDelayMS = 30_000
	f := newFixture(t, cfg)

	f.req.TriggerImmediateQuery()
	f.waitForState(t, requestor.StateRequestingApply)

	// The apply is held; nothing moves until the delay elapses.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, requestor.StateRequestingApply, f.state(t))

	f.fastForward(t, cfg.ApplyDelayMS)
	f.waitForState(t, requestor.StateIdle)

	versions, err := f.store.AppliedVersions(context.Background())
	require.NoError(t, err)
	require.Len(t, versions, 1)
}

func TestDriver_DownloadErrorRecorded(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg)
	f.image.FailAfter(32)

	f.req.TriggerImmediateQuery()
	f.waitForState(t, requestor.StateWaitingForNextQuery)

	downloadErrors, err := f.store.DownloadErrors(context.Background())
	require.NoError(t, err)
	require.Len(t, downloadErrors, 1)
	assert.Contains(t, downloadErrors[0].Reason, "image verification failed")
}

func TestDriver_PersistedContextSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ota.db")

	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.SaveContext(context.Background(), store.OTAContext{
		InProgress:      true,
		ProviderNodeID:  0xA11CE,
		DownloadNodeID:  0xB0B,
		FabricIndex:     1,
		FileDesignator:  "firmware-v2.ota",
		SoftwareVersion: 2,
	}))
	require.NoError(t, st.Close())

	st, err = store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	l := loop.New(loop.WithDequeueTimeout(5 * time.Millisecond))
	d := NewDriver(l, st, testConfig())
	img := NewMemoryImage(64)
	req := requestor.New(l, d, img)
	d.Bind(req, img)
	require.Equal(t, requestor.StatusNoError, req.Initialize())

	done := make(chan error, 1)
	go func() { done <- l.Run(nil) }()
	defer func() { l.Shutdown(); <-done }()

	var ctx requestor.Context
	ready := make(chan struct{})
	require.True(t, l.ScheduleWork(func(any) { ctx = req.OTAContext(); close(ready) }, nil))
	<-ready

	assert.True(t, ctx.InProgress)
	assert.Equal(t, uint64(0xB0B), ctx.DownloadNodeID)
	assert.Equal(t, "firmware-v2.ota", ctx.FileDesignator)
}
