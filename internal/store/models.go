package store

import "time"

// Load outcomes.
const (
	OutcomeLoaded = "loaded"
	OutcomeFailed = "failed"
)

// LoadRequest is one settled load-into-viewer request.
type LoadRequest struct {
	ID          string    `json:"id"`
	PanelID     string    `json:"panelId"`
	NodeID      string    `json:"nodeId"`
	UserID      string    `json:"userId,omitempty"`
	URN         string    `json:"urn"`
	FileType    string    `json:"fileType"`
	Name        string    `json:"name"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"durationMs"`
	RequestedAt time.Time `json:"requestedAt"`
}

// DefaultListLimit caps ListLoadRequests when the caller passes no limit.
const DefaultListLimit = 50
