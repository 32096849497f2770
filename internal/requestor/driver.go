package requestor

// SessionInfo identifies an established (or failed) session. Carried by
// session call-ins so the requestor never downcasts an untyped context.
type SessionInfo struct {
	FabricIndex int
	NodeID      uint64
	SessionID   string
}

// QueryImageResponse is the provider's answer to a query-image request.
type QueryImageResponse struct {
	UpdateAvailable bool
	DownloadNodeID  uint64
	FileDesignator  string
	SoftwareVersion uint32

	// DelayedActionMS asks the requestor to hold off before acting.
	// Zero means act immediately.
	DelayedActionMS int64
}

// ApplyUpdateResponse is the provider's answer to an apply-update request.
type ApplyUpdateResponse struct {
	Proceed         bool
	DelayedActionMS int64
}

// AnnounceOTAProvider is an unsolicited provider announcement.
type AnnounceOTAProvider struct {
	FabricIndex    int
	ProviderNodeID uint64
}

// BlockActionType enumerates what the image processor wants next.
type BlockActionType int

const (
	// BlockActionDone - the image is complete; stop the transfer.
	BlockActionDone BlockActionType = iota
	// BlockActionNextBlock - continue with the next sequential block.
	BlockActionNextBlock
	// BlockActionNextBlockWithSkip - continue from NextOffset.
	BlockActionNextBlockWithSkip
)

// BlockAction is the image processor's verdict after consuming a block.
type BlockAction struct {
	Type       BlockActionType
	NextOffset int64 // meaningful only for BlockActionNextBlockWithSkip
}

// ImageProcessor consumes the downloaded image block stream.
// Implementations own the staging area (flash slot, file, memory buffer).
type ImageProcessor interface {
	// StartOffset returns the offset the transfer should begin from,
	// supporting resumed downloads.
	StartOffset() int64

	// HandleBlock consumes one block of image data.
	HandleBlock(block []byte) error

	// NextBlockAction reports whether the transfer should continue, skip,
	// or finish, based on what has been consumed so far.
	NextBlockAction() BlockAction
}

// Driver is the platform collaborator performing the actual network,
// timer and persistence work on behalf of the requestor.
//
// Session establishment is asynchronous: the driver performs blocking I/O
// off the loop goroutine and reports back through the requestor's
// session call-ins. Every other method either completes inline or returns
// a Status; the driver never crashes the requestor.
type Driver interface {
	// EstablishProviderSession starts establishing a session to the
	// provider node. Completion arrives via OnProviderSessionEstablished
	// or OnProviderSessionError.
	EstablishProviderSession(fabricIndex int, nodeID uint64)

	// EstablishBDXSession starts establishing a bulk-transfer session to
	// the download node. Completion arrives via OnBDXSessionEstablished or
	// OnBDXSessionError.
	EstablishBDXSession(fabricIndex int, nodeID uint64)

	// CloseProviderSession releases the provider session, if any.
	CloseProviderSession(fabricIndex int, nodeID uint64)

	// ScheduleRequestorWork queues a requestor work item onto the platform.
	ScheduleRequestorWork(item WorkItem) Status

	// StartQueryTimer arms the periodic query timer.
	StartQueryTimer(durationMS int64) Status

	// StartDelayedActionTimer arms the provider-requested delay timer.
	StartDelayedActionTimer(durationMS int64) Status

	// PrepareOTA stages the platform for a new download described by ctx
	// (allocating the slot, persisting the in-progress context).
	PrepareOTA(ctx Context) Status

	// LoadStoredContext restores a previously persisted OTA context into
	// ctx. A missing context is NOT an error; ctx is left zeroed.
	LoadStoredContext(ctx *Context) Status

	// ClearStoredContext discards any persisted OTA context.
	ClearStoredContext()

	// RecordDownloadError notes a failed or aborted download.
	RecordDownloadError(reason string)

	// RecordStateTransition notes a state change, in order.
	RecordStateTransition(from, to State)

	// RecordVersionApplied notes that version is now running.
	RecordVersionApplied(version uint32)

	// SetProgress reports download progress in percent.
	SetProgress(percent int)
}
