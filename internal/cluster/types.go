package cluster

import (
	"time"

	"linkmon/internal/metrics"
	"linkmon/internal/models"
)

// Peer identifies a remote agent the observer reconciles from.
type Peer struct {
	Name    string
	BaseURL string
}

// AgentStatusResponse is the document served by an agent's /status endpoint:
// its own outbound link states keyed by target, then by protocol.
type AgentStatusResponse struct {
	Self        string                                 `json:"self"`
	Timestamp   time.Time                              `json:"timestamp"`
	Connections map[string]map[string]models.LinkState `json:"connections"`
}

// PeerSnapshot stores the last known status of a peer. A failed poll leaves
// an explicit error placeholder; it never erases another peer's data.
type PeerSnapshot struct {
	Status    *AgentStatusResponse `json:"status,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
	Error     string               `json:"error,omitempty"`
	URL       string               `json:"url,omitempty"`
}

// SnapshotResponse is the observer's aggregate document served on /api/data.
type SnapshotResponse struct {
	Node         string                                 `json:"node"`
	GeneratedAt  time.Time                              `json:"generated_at"`
	Links        map[string]map[string]models.LinkState `json:"links"`
	Peers        map[string]PeerSnapshot                `json:"peers"`
	History      []models.OutageRecord                  `json:"history"`
	Availability []metrics.LinkAvailability             `json:"availability,omitempty"`
}

// ClearResult is returned to the caller of a clear command, before the peer
// fan-out completes.
type ClearResult struct {
	ID        string    `json:"id"`
	ClearedAt time.Time `json:"cleared_at"`
}

// AgentClearResponse acknowledges a clear received by an agent.
type AgentClearResponse struct {
	OK   bool      `json:"ok"`
	Node string    `json:"node"`
	TS   time.Time `json:"ts"`
}
