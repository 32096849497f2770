package store

// OTAContext is the persisted ongoing-OTA context. At most one exists.
type OTAContext struct {
	InProgress      bool
	ProviderNodeID  uint64
	DownloadNodeID  uint64
	FabricIndex     int
	FileDesignator  string
	SoftwareVersion uint32
}

// Transition is one recorded state change. Seq is the rowid and gives the
// total order; ElapsedMS is the loop's logical clock at transition time.
type Transition struct {
	Seq       int64  `json:"-"`
	FromState string `json:"from"`
	ToState   string `json:"to"`
	ElapsedMS int64  `json:"at_elapsed_ms"`
}

// DownloadError is one recorded download failure.
type DownloadError struct {
	Seq       int64
	Reason    string
	ElapsedMS int64
}

// AppliedVersion is one recorded successful apply.
type AppliedVersion struct {
	Seq       int64
	Version   uint32
	ElapsedMS int64
}
