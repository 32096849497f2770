package requestor

// State enumerates the requestor lifecycle states.
// There is no terminal state; the machine cycles back to StateIdle after an
// apply completes, on cancel, and on error recovery.
type State int

const (
	StateIdle State = iota
	StateEstablishingProviderConnection
	StateEstablishingBDXConnection
	StateQuerying
	StateWaitingForNextQuery
	StateDownloading
	StateRequestingApply
	StateApplying
	StateBootingIntoNew
)

var stateNames = map[State]string{
	StateIdle:                           "idle",
	StateEstablishingProviderConnection: "establishing_provider_connection",
	StateEstablishingBDXConnection:      "establishing_bdx_connection",
	StateQuerying:                       "querying",
	StateWaitingForNextQuery:            "waiting_for_next_query",
	StateDownloading:                    "downloading",
	StateRequestingApply:                "requesting_apply",
	StateApplying:                       "applying",
	StateBootingIntoNew:                 "booting_into_new",
}

// String returns the stable name used in logs, the transition record and
// golden traces.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// WorkItem identifies a unit of requestor work the driver schedules onto
// the platform.
type WorkItem int

const (
	WorkTriggerImmediate WorkItem = iota
	WorkCancelOTA
	WorkSendQueryImageRequest
	WorkSendApplyUpdateRequest
	WorkSendUpdateApplied
)

// String returns the work item name for logs.
func (w WorkItem) String() string {
	switch w {
	case WorkTriggerImmediate:
		return "trigger_immediate"
	case WorkCancelOTA:
		return "cancel_ota"
	case WorkSendQueryImageRequest:
		return "send_query_image_request"
	case WorkSendApplyUpdateRequest:
		return "send_apply_update_request"
	case WorkSendUpdateApplied:
		return "send_update_applied"
	default:
		return "unknown"
	}
}
