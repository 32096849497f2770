// Package harness provides a conformance testing framework for the OTA
// requestor: YAML scenarios drive a real event loop, requestor and
// simulated platform against a fresh in-memory store, and the recorded
// transition trace is compared against golden files.
//
// Determinism comes from the loop's logical clock. Scenario steps never
// sleep; they fast-forward elapsed time and let the settle loop drain the
// queue and fire due timers, so traces are stable across machines and
// -race runs. Elapsed-ms values are excluded from golden snapshots
// because wall-clock creep between fast-forwards still varies.
package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/otaloop/internal/loop"
	"github.com/roach88/otaloop/internal/requestor"
	"github.com/roach88/otaloop/internal/sim"
	"github.com/roach88/otaloop/internal/store"
)

// settleRounds caps the settle loop. Each round fast-forwards the clock
// and drains the queue; a scenario that needs more rounds than this is
// stuck.
const settleRounds = 1000

// settleStepMS is the per-round clock jump. Large enough to cover the
// simulated session and apply latencies, small enough not to fire the
// periodic query timer (scenarios fast-forward explicitly for that).
const settleStepMS = 100

// Result holds a scenario execution outcome.
type Result struct {
	Passed          bool
	Errors          []string
	FinalState      string
	Transitions     []store.Transition
	DownloadErrors  []store.DownloadError
	AppliedVersions []store.AppliedVersion
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(format string, args ...any) {
	r.Passed = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// runner wires one scenario execution.
type runner struct {
	loop   *loop.EventLoop
	store  *store.Store
	driver *sim.Driver
	req    *requestor.Requestor
	done   chan error
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. The
// loop runs on its own goroutine with a tight heartbeat; Run drives it
// through the scenario's steps and shuts it down before returning.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	cfg := simConfig(scenario.Config)
	l := loop.New(loop.WithDequeueTimeout(2 * time.Millisecond))
	driver := sim.NewDriver(l, st, cfg)
	image := sim.NewMemoryImage(cfg.ImageSizeBytes)
	if scenario.Config.FailImageAfterBytes > 0 {
		image.FailAfter(scenario.Config.FailImageAfterBytes)
	}

	queryInterval := scenario.Config.QueryIntervalMS
	if queryInterval == 0 {
		queryInterval = requestor.DefaultQueryIntervalMS
	}
	req := requestor.New(l, driver, image,
		requestor.WithQueryInterval(queryInterval),
		requestor.WithDefaultProvider(1, 0xA11CE),
	)
	driver.Bind(req, image)
	if status := req.Initialize(); status != requestor.StatusNoError {
		return nil, fmt.Errorf("requestor initialization failed: %v", status)
	}

	r := &runner{loop: l, store: st, driver: driver, req: req, done: make(chan error, 1)}
	go func() { r.done <- l.Run(nil) }()
	defer func() {
		l.Shutdown()
		<-r.done
	}()

	result := &Result{Passed: true}
	for i, step := range scenario.Steps {
		if err := r.executeStep(step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	// Capture the durable trace before shutdown.
	ctx := context.Background()
	if result.Transitions, err = st.Transitions(ctx); err != nil {
		return nil, fmt.Errorf("failed to read transitions: %w", err)
	}
	if result.DownloadErrors, err = st.DownloadErrors(ctx); err != nil {
		return nil, fmt.Errorf("failed to read download errors: %w", err)
	}
	if result.AppliedVersions, err = st.AppliedVersions(ctx); err != nil {
		return nil, fmt.Errorf("failed to read applied versions: %w", err)
	}
	result.FinalState = r.state().String()

	return result, nil
}

// executeStep applies one directive and settles the loop afterwards.
func (r *runner) executeStep(step Step, result *Result) error {
	switch {
	case step.TriggerQuery:
		r.req.TriggerImmediateQuery()
	case step.Cancel:
		r.req.CancelOngoingOTA()
	case step.AnnounceProvider != nil:
		a := requestor.AnnounceOTAProvider{
			FabricIndex:    step.AnnounceProvider.FabricIndex,
			ProviderNodeID: step.AnnounceProvider.NodeID,
		}
		r.onLoop(func() { r.req.OnAnnounceOTAProvider(a) })
	case step.FailNextSessions > 0:
		r.driver.FailNextSessions(step.FailNextSessions)
	case step.FastForwardMS > 0:
		r.onLoop(func() { r.loop.FastForwardClockForTesting(step.FastForwardMS) })
	case step.ExpectState != "":
		r.settle()
		if got := r.state().String(); got != step.ExpectState {
			result.AddError("expected state %q, got %q", step.ExpectState, got)
		}
		return nil
	default:
		return fmt.Errorf("no directive set")
	}

	r.settle()
	return nil
}

// settle drives the loop until the scenario stops making progress: the
// queue is drained and a clock jump produces no new transitions. The
// jump is what fires session, block and apply timers without real waits.
func (r *runner) settle() {
	prev := r.snapshot()
	stable := 0
	for round := 0; round < settleRounds; round++ {
		r.onLoop(func() { r.loop.FastForwardClockForTesting(settleStepMS) })
		cur := r.snapshot()
		if cur == prev && r.loop.QueueLen() == 0 {
			stable++
			if stable >= 2 {
				return
			}
		} else {
			stable = 0
		}
		prev = cur
	}
}

type progress struct {
	state  requestor.State
	timers int
}

func (r *runner) snapshot() progress {
	var p progress
	r.onLoop(func() {
		p.state = r.req.State()
		p.timers = r.loop.PendingTimers()
	})
	return p
}

func (r *runner) state() requestor.State {
	var s requestor.State
	r.onLoop(func() { s = r.req.State() })
	return s
}

// onLoop runs fn on the loop goroutine and waits for it.
func (r *runner) onLoop(fn func()) {
	done := make(chan struct{})
	if !r.loop.ScheduleWork(func(any) { fn(); close(done) }, nil) {
		return
	}
	<-done
}

// simConfig overlays scenario overrides on a fast default simulation.
func simConfig(sc ScenarioConfig) sim.Config {
	cfg := sim.DefaultConfig()
	cfg.ImageSizeBytes = 64
	cfg.BlockSizeBytes = 16
	cfg.SessionLatencyMS = 10
	cfg.ApplyDurationMS = 10

	if sc.UpdateAvailable != nil {
		cfg.UpdateAvailable = *sc.UpdateAvailable
	}
	if sc.SoftwareVersion != 0 {
		cfg.SoftwareVersion = sc.SoftwareVersion
	}
	if sc.FileDesignator != "" {
		cfg.FileDesignator = sc.FileDesignator
	}
	if sc.ImageSizeBytes != 0 {
		cfg.ImageSizeBytes = sc.ImageSizeBytes
	}
	if sc.BlockSizeBytes != 0 {
		cfg.BlockSizeBytes = sc.BlockSizeBytes
	}
	if sc.SessionLatencyMS != 0 {
		cfg.SessionLatencyMS = sc.SessionLatencyMS
	}
	if sc.QueryDelayMS != 0 {
		cfg.QueryDelayMS = sc.QueryDelayMS
	}
	if sc.ApplyProceed != nil {
		cfg.ApplyProceed = *sc.ApplyProceed
	}
	if sc.ApplyDelayMS != 0 {
		cfg.ApplyDelayMS = sc.ApplyDelayMS
	}
	if sc.ApplyDurationMS != 0 {
		cfg.ApplyDurationMS = sc.ApplyDurationMS
	}
	return cfg
}
