package sim

import (
	"context"
	"log/slog"

	"github.com/roach88/otaloop/internal/loop"
	"github.com/roach88/otaloop/internal/requestor"
	"github.com/roach88/otaloop/internal/store"
)

// timerKey distinguishes the driver's loop timers. Each key is one timer
// identity: re-arming with the same key replaces the previous deadline.
type timerKey string

const (
	queryTimerKey         timerKey = "query"
	delayedActionTimerKey timerKey = "delayed-action"
	applyTimerKey         timerKey = "apply"
	blockTimerKey         timerKey = "next-block"
)

// Config shapes the simulated provider and transfer.
type Config struct {
	// ImageSizeBytes / BlockSizeBytes shape the simulated BDX transfer.
	// BlockIntervalMS paces delivery on the loop clock; 0 chains blocks
	// back to back.
	ImageSizeBytes  int
	BlockSizeBytes  int
	BlockIntervalMS int64

	// Query-image response fields.
	UpdateAvailable bool
	SoftwareVersion uint32
	FileDesignator  string
	DownloadNodeID  uint64
	QueryDelayMS    int64 // provider-busy delay; 0 means available now

	// Apply-update response fields.
	ApplyProceed bool
	ApplyDelayMS int64

	// ApplyDurationMS is how long the simulated apply takes before the
	// platform reports the new image running.
	ApplyDurationMS int64

	// SessionLatencyMS is the simulated session establishment time.
	SessionLatencyMS int64
}

// DefaultConfig returns a provider with a small update available.
func DefaultConfig() Config {
	return Config{
		ImageSizeBytes:  1024,
		BlockSizeBytes:  256,
		UpdateAvailable: true,
		SoftwareVersion: 2,
		FileDesignator:  "firmware-v2.ota",
		DownloadNodeID:  0xB0B,
		ApplyProceed:    true,
		ApplyDurationMS: 100,
	}
}

// Driver is the simulated platform behind the requestor's Driver port.
// Sessions ride loop timers, block delivery rides chained work items and
// durable state lands in the store. Construct with NewDriver, then Bind
// the requestor and image before the loop starts processing.
type Driver struct {
	loop        *loop.EventLoop
	store       *store.Store
	establisher *SessionEstablisher
	cfg         Config

	req   *requestor.Requestor
	image *MemoryImage
	sent  int
}

// NewDriver creates a driver persisting into st and simulating per cfg.
func NewDriver(l *loop.EventLoop, st *store.Store, cfg Config) *Driver {
	return &Driver{
		loop:        l,
		store:       st,
		establisher: NewSessionEstablisher(l, cfg.SessionLatencyMS),
		cfg:         cfg,
	}
}

// Bind attaches the requestor and its image processor. Must happen before
// the first call-in; the driver has nowhere to deliver until then.
func (d *Driver) Bind(req *requestor.Requestor, image *MemoryImage) {
	d.req = req
	d.image = image
}

// FailNextSessions makes the next n session establishments fail.
// Thread-safe; the change applies once the loop processes it.
func (d *Driver) FailNextSessions(n int) {
	d.loop.ScheduleWork(func(any) { d.establisher.FailNext(n) }, nil)
}

func (d *Driver) EstablishProviderSession(fabricIndex int, nodeID uint64) {
	d.establisher.Establish(fabricIndex, nodeID,
		d.req.OnProviderSessionEstablished,
		d.req.OnProviderSessionError,
	)
}

func (d *Driver) EstablishBDXSession(fabricIndex int, nodeID uint64) {
	d.establisher.Establish(fabricIndex, nodeID,
		d.req.OnBDXSessionEstablished,
		d.req.OnBDXSessionError,
	)
}

func (d *Driver) CloseProviderSession(fabricIndex int, nodeID uint64) {
	slog.Debug("provider session closed", "fabric_index", fabricIndex, "node_id", nodeID)
}

// ScheduleRequestorWork queues the item as a loop work event, so the
// requestor's response call-in runs on a later iteration, never inline.
func (d *Driver) ScheduleRequestorWork(item requestor.WorkItem) requestor.Status {
	if !d.loop.ScheduleWork(d.runWorkItem, item) {
		return requestor.StatusInvalidState
	}
	return requestor.StatusNoError
}

func (d *Driver) runWorkItem(c any) {
	item := c.(requestor.WorkItem)
	switch item {
	case requestor.WorkTriggerImmediate:
		d.req.OnTriggerImmediateQuery()
	case requestor.WorkCancelOTA:
		d.req.OnCancelOngoingOTA()
	case requestor.WorkSendQueryImageRequest:
		d.req.OnQueryImageResponse(requestor.QueryImageResponse{
			UpdateAvailable: d.cfg.UpdateAvailable,
			DownloadNodeID:  d.cfg.DownloadNodeID,
			FileDesignator:  d.cfg.FileDesignator,
			SoftwareVersion: d.cfg.SoftwareVersion,
			DelayedActionMS: d.cfg.QueryDelayMS,
		})
	case requestor.WorkSendApplyUpdateRequest:
		d.req.OnApplyUpdateResponse(requestor.ApplyUpdateResponse{
			Proceed:         d.cfg.ApplyProceed,
			DelayedActionMS: d.cfg.ApplyDelayMS,
		})
	case requestor.WorkSendUpdateApplied:
		slog.Info("update-applied notification sent", "software_version", d.cfg.SoftwareVersion)
	default:
		slog.Warn("unknown work item", "item", item)
	}
}

func (d *Driver) StartQueryTimer(durationMS int64) requestor.Status {
	if !d.loop.StartTimer(durationMS, d.onQueryTimer, queryTimerKey) {
		return requestor.StatusInvalidState
	}
	return requestor.StatusNoError
}

func (d *Driver) StartDelayedActionTimer(durationMS int64) requestor.Status {
	if !d.loop.StartTimer(durationMS, d.onDelayedActionTimer, delayedActionTimerKey) {
		return requestor.StatusInvalidState
	}
	return requestor.StatusNoError
}

func (d *Driver) onQueryTimer(any)         { d.req.OnQueryTimerHit() }
func (d *Driver) onDelayedActionTimer(any) { d.req.OnDelayedActionTimerHit() }
func (d *Driver) onApplyDone(any)          { d.req.OnOTAApplied() }

// PrepareOTA stages the image buffer for a fresh transfer and persists
// the context so an interrupted download is visible after restart.
func (d *Driver) PrepareOTA(ctx requestor.Context) requestor.Status {
	d.image.Reset()
	err := d.store.SaveContext(context.Background(), store.OTAContext{
		InProgress:      ctx.InProgress,
		ProviderNodeID:  ctx.ProviderNodeID,
		DownloadNodeID:  ctx.DownloadNodeID,
		FabricIndex:     ctx.FabricIndex,
		FileDesignator:  ctx.FileDesignator,
		SoftwareVersion: ctx.SoftwareVersion,
	})
	if err != nil {
		slog.Error("ota context not persisted", "error", err)
		return requestor.StatusResourcesExhausted
	}
	return requestor.StatusNoError
}

func (d *Driver) LoadStoredContext(ctx *requestor.Context) requestor.Status {
	c, found, err := d.store.LoadContext(context.Background())
	if err != nil {
		slog.Error("stored ota context unreadable", "error", err)
		return requestor.StatusInvalidState
	}
	if !found {
		return requestor.StatusNoError
	}
	ctx.InProgress = c.InProgress
	ctx.ProviderNodeID = c.ProviderNodeID
	ctx.DownloadNodeID = c.DownloadNodeID
	ctx.FabricIndex = c.FabricIndex
	ctx.FileDesignator = c.FileDesignator
	ctx.SoftwareVersion = c.SoftwareVersion
	return requestor.StatusNoError
}

func (d *Driver) ClearStoredContext() {
	if err := d.store.ClearContext(context.Background()); err != nil {
		slog.Error("ota context not cleared", "error", err)
	}
}

func (d *Driver) RecordDownloadError(reason string) {
	if err := d.store.RecordDownloadError(context.Background(), reason, d.loop.ElapsedMS()); err != nil {
		slog.Error("download error not recorded", "error", err)
	}
}

// RecordStateTransition persists the edge and runs the simulation hooks
// hanging off it: entering Downloading starts the block stream, entering
// Applying arms the apply-completion timer, returning to Idle disarms
// whatever phase timers are still pending.
func (d *Driver) RecordStateTransition(from, to requestor.State) {
	err := d.store.RecordStateTransition(
		context.Background(), from.String(), to.String(), d.loop.ElapsedMS())
	if err != nil {
		slog.Error("state transition not recorded", "error", err)
	}

	switch to {
	case requestor.StateDownloading:
		d.sent = int(d.image.StartOffset())
		d.loop.ScheduleWork(d.streamBlock, nil)
	case requestor.StateApplying:
		duration := d.cfg.ApplyDurationMS
		if duration <= 0 {
			duration = 1
		}
		d.loop.StartTimer(duration, d.onApplyDone, applyTimerKey)
	case requestor.StateIdle:
		d.loop.CancelTimer(d.onApplyDone, applyTimerKey)
		d.loop.CancelTimer(d.onDelayedActionTimer, delayedActionTimerKey)
		d.loop.CancelTimer(d.streamBlock, blockTimerKey)
	}
}

func (d *Driver) RecordVersionApplied(version uint32) {
	if err := d.store.RecordVersionApplied(context.Background(), version, d.loop.ElapsedMS()); err != nil {
		slog.Error("applied version not recorded", "error", err)
	}
}

func (d *Driver) SetProgress(percent int) {
	slog.Debug("download progress", "percent", percent)
}

// streamBlock delivers one block and chains the next delivery as a fresh
// work item, so cancellation and errors can interleave between blocks.
func (d *Driver) streamBlock(any) {
	if d.req.State() != requestor.StateDownloading {
		return
	}
	remaining := d.cfg.ImageSizeBytes - d.sent
	if remaining <= 0 {
		return
	}

	n := min(d.cfg.BlockSizeBytes, remaining)
	block := make([]byte, n)
	for i := range block {
		block[i] = byte((d.sent + i) % 251)
	}
	d.sent += n

	d.req.OnBDXBlock(block)

	if d.req.State() != requestor.StateDownloading || d.sent >= d.cfg.ImageSizeBytes {
		return
	}
	if d.cfg.BlockIntervalMS > 0 {
		d.loop.StartTimer(d.cfg.BlockIntervalMS, d.streamBlock, blockTimerKey)
	} else {
		d.loop.ScheduleWork(d.streamBlock, nil)
	}
}
