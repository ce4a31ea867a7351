package models

// TransportPhase is the state of the single push-channel connection.
type TransportPhase string

const (
	TransportConnecting TransportPhase = "connecting"
	TransportOpen       TransportPhase = "open"
	TransportDegraded   TransportPhase = "degraded"
	TransportClosed     TransportPhase = "closed"
)

// TransportStatus backs the status indicator in the view layer.
type TransportStatus struct {
	Phase             TransportPhase `json:"phase"`
	LastUpdate        int64          `json:"lastUpdateTimestamp"` // Unix ms, 0 if never
	ReconnectAttempts int            `json:"reconnectAttempts"`
	PollIntervalMs    int            `json:"pollIntervalMs"`
}

// CapabilitySet lists the optional server-side subsystems advertised on the
// initial push-channel message (e.g. "smemory", "logserver").
type CapabilitySet map[string]bool

// Has reports whether a capability was advertised.
func (c CapabilitySet) Has(name string) bool {
	return c != nil && c[name]
}
