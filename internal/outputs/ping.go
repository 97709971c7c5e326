package outputs

// PingState is the last known reachability of a controller.
type PingState int32

const (
	// PingUnknown is the initial state and the state after AsyncPing is requested.
	PingUnknown PingState = iota
	// PingUnavailable means the kind cannot be probed or the probe was not possible.
	PingUnavailable
	// PingOK means the controller answered a protocol level probe.
	PingOK
	// PingWebOK means the controller's web interface accepted a connection.
	PingWebOK
	// PingOpen means a serial port is already held open by this process.
	PingOpen
	// PingOpened means a serial port could be opened.
	PingOpened
	// PingAllFailed means every probe method failed.
	PingAllFailed
)

var pingStateNames = map[PingState]string{
	PingUnknown:     "UNKNOWN",
	PingUnavailable: "UNAVAILABLE",
	PingOK:          "OK",
	PingWebOK:       "WEB_OK",
	PingOpen:        "OPEN",
	PingOpened:      "OPENED",
	PingAllFailed:   "ALL_FAILED",
}

func (s PingState) String() string {
	if name, ok := pingStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsReachable reports whether the state represents a successful probe.
func (s PingState) IsReachable() bool {
	switch s {
	case PingOK, PingWebOK, PingOpen, PingOpened:
		return true
	default:
		return false
	}
}

// ParsePingState is the inverse of String. Unrecognised names map to PingUnknown.
func ParsePingState(name string) PingState {
	for state, n := range pingStateNames {
		if n == name {
			return state
		}
	}
	return PingUnknown
}
