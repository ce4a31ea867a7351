package models

// SessionPhase represents the lifecycle phase of an open view.
type SessionPhase string

const (
	SessionCreated    SessionPhase = "created"
	SessionActive     SessionPhase = "active"
	SessionBackground SessionPhase = "background"
	SessionClosed     SessionPhase = "closed"
)

// SessionInfo is the view-facing record for one open object view ("tab").
type SessionInfo struct {
	Key          string       `json:"key"`
	DisplayName  string       `json:"displayName"`
	ServerID     string       `json:"serverId"`
	ServerName   string       `json:"serverName"`
	RendererType string       `json:"rendererType"`
	Phase        SessionPhase `json:"phase"`
	Foreground   bool         `json:"isForeground"`
	Polling      bool         `json:"polling"`
	Charts       []string     `json:"charts,omitempty"`
}
