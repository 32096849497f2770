package requestor

// Context is the ongoing-OTA context, owned exclusively by the requestor
// and mutated only from loop-goroutine call-ins.
//
// The context is persisted through the Driver (PrepareOTA /
// LoadStoredContext / ClearStoredContext) so an interrupted update can be
// observed after restart. Cleared on load failure, cancel, and cycle
// completion.
type Context struct {
	InProgress      bool
	ProviderNodeID  uint64
	DownloadNodeID  uint64
	FabricIndex     int
	FileDesignator  string
	SoftwareVersion uint32
}
