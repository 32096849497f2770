package requestor

import (
	"log/slog"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/otaloop/internal/loop"
)

// DefaultQueryIntervalMS is the periodic provider-query interval used when
// no override is configured.
const DefaultQueryIntervalMS = 60_000

// Requestor drives the OTA update lifecycle.
//
// All state lives on the event-loop goroutine: every call-in begins with an
// affinity assertion, so the struct needs no locks. Construct with New,
// Initialize before the loop processes traffic, then interact through the
// thread-safe entry points (TriggerImmediateQuery, CancelOngoingOTA) or, for
// the driver, the On* call-ins from loop-goroutine work items.
type Requestor struct {
	loop   *loop.EventLoop
	driver Driver
	image  ImageProcessor

	state State
	ctx   Context

	queryIntervalMS int64
}

// Option configures a Requestor.
type Option func(*Requestor)

// WithQueryInterval overrides the periodic query interval.
func WithQueryInterval(ms int64) Option {
	return func(r *Requestor) {
		r.queryIntervalMS = ms
	}
}

// WithDefaultProvider seeds the provider identity used when no announcement
// or stored context supplies one.
func WithDefaultProvider(fabricIndex int, nodeID uint64) Option {
	return func(r *Requestor) {
		r.ctx.FabricIndex = fabricIndex
		r.ctx.ProviderNodeID = nodeID
	}
}

// New creates an idle Requestor bound to l and its collaborators.
func New(l *loop.EventLoop, driver Driver, image ImageProcessor, opts ...Option) *Requestor {
	r := &Requestor{
		loop:            l,
		driver:          driver,
		image:           image,
		state:           StateIdle,
		queryIntervalMS: DefaultQueryIntervalMS,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize restores persisted OTA state through the driver. Must run
// before the loop processes any update traffic. On load failure the stored
// context is cleared and the in-memory context reset, so the requestor
// never starts from a half-restored state.
func (r *Requestor) Initialize() Status {
	seed := r.ctx

	status := r.driver.LoadStoredContext(&r.ctx)
	if status != StatusNoError {
		slog.Warn("stored ota context unusable, clearing", "status", status)
		r.driver.ClearStoredContext()
		r.ctx = Context{FabricIndex: seed.FabricIndex, ProviderNodeID: seed.ProviderNodeID}
		return status
	}

	if r.ctx.ProviderNodeID == 0 {
		r.ctx.FabricIndex = seed.FabricIndex
		r.ctx.ProviderNodeID = seed.ProviderNodeID
	}
	r.ctx.FileDesignator = norm.NFC.String(r.ctx.FileDesignator)
	if r.ctx.InProgress {
		slog.Info("resuming interrupted ota",
			"file_designator", r.ctx.FileDesignator,
			"software_version", r.ctx.SoftwareVersion,
		)
	}
	return StatusNoError
}

// State returns the current lifecycle state. Loop goroutine only.
func (r *Requestor) State() State {
	r.loop.MustOnLoop()
	return r.state
}

// OTAContext returns a copy of the ongoing-OTA context. Loop goroutine only.
func (r *Requestor) OTAContext() Context {
	r.loop.MustOnLoop()
	return r.ctx
}

// TriggerImmediateQuery schedules an immediate provider query.
// Thread-safe entry point; the transition itself happens on the loop.
func (r *Requestor) TriggerImmediateQuery() {
	r.loop.ScheduleWork(func(any) { r.OnTriggerImmediateQuery() }, nil)
}

// CancelOngoingOTA schedules cancellation of any in-flight update.
// Thread-safe entry point.
func (r *Requestor) CancelOngoingOTA() {
	r.loop.ScheduleWork(func(any) { r.OnCancelOngoingOTA() }, nil)
}

// transition moves the machine to next and records the edge through the
// driver, in order.
func (r *Requestor) transition(next State) {
	from := r.state
	r.state = next
	slog.Info("requestor state transition", "from", from, "to", next)
	r.driver.RecordStateTransition(from, next)
}

// stale logs and discards an unexpected call-in. Timers and sessions race
// with cancellation, so this is a recorded diagnostic, never a crash.
func (r *Requestor) stale(callIn string, expected State) {
	slog.Warn("stale call-in discarded",
		"call_in", callIn,
		"state", r.state,
		"expected", expected,
	)
}

// abortToNextQuery tears down the attempt and waits out the query interval.
func (r *Requestor) abortToNextQuery() {
	r.driver.CloseProviderSession(r.ctx.FabricIndex, r.ctx.ProviderNodeID)
	r.transition(StateWaitingForNextQuery)
	if st := r.driver.StartQueryTimer(r.queryIntervalMS); st != StatusNoError {
		slog.Error("query timer not armed", "status", st)
	}
}

// OnTriggerImmediateQuery begins a query cycle. Rejected (logged, state
// unchanged) unless the machine is idle.
func (r *Requestor) OnTriggerImmediateQuery() {
	r.loop.MustOnLoop()
	if r.state != StateIdle {
		slog.Warn("immediate query rejected: not idle", "state", r.state)
		return
	}
	r.transition(StateEstablishingProviderConnection)
	r.driver.EstablishProviderSession(r.ctx.FabricIndex, r.ctx.ProviderNodeID)
}

// OnCancelOngoingOTA tears everything down and returns to idle.
func (r *Requestor) OnCancelOngoingOTA() {
	r.loop.MustOnLoop()
	if r.state == StateIdle {
		slog.Warn("cancel rejected: nothing in progress")
		return
	}
	r.driver.CloseProviderSession(r.ctx.FabricIndex, r.ctx.ProviderNodeID)
	r.driver.ClearStoredContext()
	r.ctx = Context{FabricIndex: r.ctx.FabricIndex, ProviderNodeID: r.ctx.ProviderNodeID}
	r.transition(StateIdle)
}

// OnAnnounceOTAProvider records the announced provider and, when idle,
// starts a query cycle against it.
func (r *Requestor) OnAnnounceOTAProvider(a AnnounceOTAProvider) {
	r.loop.MustOnLoop()
	r.ctx.FabricIndex = a.FabricIndex
	r.ctx.ProviderNodeID = a.ProviderNodeID
	if r.state != StateIdle {
		slog.Info("provider announcement noted, update already in flight", "state", r.state)
		return
	}
	r.OnTriggerImmediateQuery()
}

// OnProviderSessionEstablished schedules the query-image request.
func (r *Requestor) OnProviderSessionEstablished(info SessionInfo) {
	r.loop.MustOnLoop()
	if r.state != StateEstablishingProviderConnection {
		r.stale("provider_session_established", StateEstablishingProviderConnection)
		return
	}
	slog.Debug("provider session established", "session_id", info.SessionID, "node_id", info.NodeID)
	r.transition(StateQuerying)
	if st := r.driver.ScheduleRequestorWork(WorkSendQueryImageRequest); st != StatusNoError {
		slog.Error("query image request not scheduled", "status", st)
		r.abortToNextQuery()
	}
}

// OnProviderSessionError retries after the query interval.
func (r *Requestor) OnProviderSessionError(info SessionInfo) {
	r.loop.MustOnLoop()
	if r.state != StateEstablishingProviderConnection {
		r.stale("provider_session_error", StateEstablishingProviderConnection)
		return
	}
	slog.Warn("provider session failed", "node_id", info.NodeID)
	r.abortToNextQuery()
}

// OnQueryImageResponse routes the provider's answer: no update waits out the
// interval, a busy delay arms the delayed-action timer, and an available
// update stages the download.
func (r *Requestor) OnQueryImageResponse(resp QueryImageResponse) {
	r.loop.MustOnLoop()
	if r.state != StateQuerying {
		r.stale("query_image_response", StateQuerying)
		return
	}

	if !resp.UpdateAvailable {
		slog.Info("no update available")
		r.abortToNextQuery()
		return
	}

	if resp.DelayedActionMS > 0 {
		slog.Info("provider busy, delaying query", "delay_ms", resp.DelayedActionMS)
		r.driver.CloseProviderSession(r.ctx.FabricIndex, r.ctx.ProviderNodeID)
		r.transition(StateWaitingForNextQuery)
		if st := r.driver.StartDelayedActionTimer(resp.DelayedActionMS); st != StatusNoError {
			slog.Error("delayed action timer not armed", "status", st)
		}
		return
	}

	r.ctx.InProgress = true
	r.ctx.DownloadNodeID = resp.DownloadNodeID
	r.ctx.FileDesignator = norm.NFC.String(resp.FileDesignator)
	r.ctx.SoftwareVersion = resp.SoftwareVersion

	if st := r.driver.PrepareOTA(r.ctx); st != StatusNoError {
		slog.Error("ota preparation failed", "status", st)
		r.ctx.InProgress = false
		r.abortToNextQuery()
		return
	}

	r.transition(StateEstablishingBDXConnection)
	r.driver.EstablishBDXSession(r.ctx.FabricIndex, r.ctx.DownloadNodeID)
}

// OnQueryImageFailed retries after the query interval.
func (r *Requestor) OnQueryImageFailed(statusCode int) {
	r.loop.MustOnLoop()
	if r.state != StateQuerying {
		r.stale("query_image_failed", StateQuerying)
		return
	}
	slog.Warn("query image failed", "status_code", statusCode)
	r.abortToNextQuery()
}

// OnBDXSessionEstablished starts the block transfer.
func (r *Requestor) OnBDXSessionEstablished(info SessionInfo) {
	r.loop.MustOnLoop()
	if r.state != StateEstablishingBDXConnection {
		r.stale("bdx_session_established", StateEstablishingBDXConnection)
		return
	}
	slog.Info("bdx session established",
		"session_id", info.SessionID,
		"start_offset", r.image.StartOffset(),
	)
	r.transition(StateDownloading)
}

// OnBDXSessionError abandons the download attempt and retries later.
func (r *Requestor) OnBDXSessionError(info SessionInfo) {
	r.loop.MustOnLoop()
	if r.state != StateEstablishingBDXConnection {
		r.stale("bdx_session_error", StateEstablishingBDXConnection)
		return
	}
	r.driver.RecordDownloadError("bdx session establishment failed")
	r.abortToNextQuery()
}

// OnBDXBlock feeds one received block to the image processor and moves to
// the apply phase once the processor reports the image complete.
func (r *Requestor) OnBDXBlock(block []byte) {
	r.loop.MustOnLoop()
	if r.state != StateDownloading {
		r.stale("bdx_block", StateDownloading)
		return
	}

	if err := r.image.HandleBlock(block); err != nil {
		slog.Error("block rejected by image processor", "error", err)
		r.driver.RecordDownloadError(err.Error())
		r.ctx.InProgress = false
		r.abortToNextQuery()
		return
	}

	action := r.image.NextBlockAction()
	switch action.Type {
	case BlockActionDone:
		r.driver.SetProgress(100)
		r.transition(StateRequestingApply)
		if st := r.driver.ScheduleRequestorWork(WorkSendApplyUpdateRequest); st != StatusNoError {
			slog.Error("apply update request not scheduled", "status", st)
			r.abortToNextQuery()
		}
	case BlockActionNextBlockWithSkip:
		slog.Debug("transfer continues with skip", "next_offset", action.NextOffset)
	case BlockActionNextBlock:
		// Transfer continues; the driver keeps streaming.
	}
}

// OnBDXError abandons the download and retries later.
func (r *Requestor) OnBDXError(statusCode int) {
	r.loop.MustOnLoop()
	if r.state != StateDownloading {
		r.stale("bdx_error", StateDownloading)
		return
	}
	r.driver.RecordDownloadError("bdx transfer error")
	slog.Warn("bdx transfer error", "status_code", statusCode)
	r.ctx.InProgress = false
	r.abortToNextQuery()
}

// OnApplyUpdateResponse proceeds to apply, immediately or after the
// provider-requested delay.
func (r *Requestor) OnApplyUpdateResponse(resp ApplyUpdateResponse) {
	r.loop.MustOnLoop()
	if r.state != StateRequestingApply {
		r.stale("apply_update_response", StateRequestingApply)
		return
	}

	if !resp.Proceed {
		slog.Warn("apply discontinued by provider")
		r.ctx.InProgress = false
		r.abortToNextQuery()
		return
	}

	if resp.DelayedActionMS > 0 {
		slog.Info("apply delayed by provider", "delay_ms", resp.DelayedActionMS)
		if st := r.driver.StartDelayedActionTimer(resp.DelayedActionMS); st != StatusNoError {
			slog.Error("delayed action timer not armed", "status", st)
		}
		return
	}

	r.transition(StateApplying)
}

// OnApplyRequestFailed retries after the query interval.
func (r *Requestor) OnApplyRequestFailed(statusCode int) {
	r.loop.MustOnLoop()
	if r.state != StateRequestingApply {
		r.stale("apply_request_failed", StateRequestingApply)
		return
	}
	slog.Warn("apply request failed", "status_code", statusCode)
	r.ctx.InProgress = false
	r.abortToNextQuery()
}

// OnDelayedActionTimerHit resumes whichever phase armed the delay: a held
// apply proceeds, a busy-provider wait re-queries.
func (r *Requestor) OnDelayedActionTimerHit() {
	r.loop.MustOnLoop()
	switch r.state {
	case StateRequestingApply:
		r.transition(StateApplying)
	case StateWaitingForNextQuery:
		r.transition(StateEstablishingProviderConnection)
		r.driver.EstablishProviderSession(r.ctx.FabricIndex, r.ctx.ProviderNodeID)
	default:
		r.stale("delayed_action_timer_hit", StateRequestingApply)
	}
}

// OnQueryTimerHit starts the next periodic query cycle. Fires both out of
// the wait state and out of idle (the post-apply timer lands there).
func (r *Requestor) OnQueryTimerHit() {
	r.loop.MustOnLoop()
	if r.state != StateWaitingForNextQuery && r.state != StateIdle {
		r.stale("query_timer_hit", StateWaitingForNextQuery)
		return
	}
	r.transition(StateEstablishingProviderConnection)
	r.driver.EstablishProviderSession(r.ctx.FabricIndex, r.ctx.ProviderNodeID)
}

// OnOTAApplied finishes the cycle: record the version, notify the provider,
// clear the persisted context and return to idle with the query timer armed.
func (r *Requestor) OnOTAApplied() {
	r.loop.MustOnLoop()
	if r.state != StateApplying {
		r.stale("ota_applied", StateApplying)
		return
	}

	r.transition(StateBootingIntoNew)
	r.driver.RecordVersionApplied(r.ctx.SoftwareVersion)
	if st := r.driver.ScheduleRequestorWork(WorkSendUpdateApplied); st != StatusNoError {
		slog.Error("update-applied notification not scheduled", "status", st)
	}

	r.driver.CloseProviderSession(r.ctx.FabricIndex, r.ctx.ProviderNodeID)
	r.driver.ClearStoredContext()
	r.ctx = Context{FabricIndex: r.ctx.FabricIndex, ProviderNodeID: r.ctx.ProviderNodeID}
	r.transition(StateIdle)
	if st := r.driver.StartQueryTimer(r.queryIntervalMS); st != StatusNoError {
		slog.Error("query timer not armed", "status", st)
	}
}
