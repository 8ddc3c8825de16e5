package models

import "time"

// Protocol identifies the transport a link is probed over.
type Protocol string

const (
	ProtocolHTTP Protocol = "HTTP"
	ProtocolWS   Protocol = "WS"
	ProtocolTCP  Protocol = "TCP"
)

// Key returns the lowercase form used as a JSON map key in status tables.
func (p Protocol) Key() string {
	switch p {
	case ProtocolHTTP:
		return "http"
	case ProtocolWS:
		return "ws"
	case ProtocolTCP:
		return "tcp"
	}
	return string(p)
}

// Status is the connectivity state of a link.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusConnected Status = "connected"
	StatusError     Status = "error"
)

// Source identifies the vantage point that recorded an outage.
type Source string

const (
	SourceObserver Source = "observer"
	SourceAgent    Source = "agent"
)

// Link is one directed monitoring relationship: this node probing one target
// over one protocol. Immutable once probing starts.
type Link struct {
	Source   string
	Target   string
	Protocol Protocol
}

// LinkState holds the current status of a single link.
type LinkState struct {
	Status     Status    `json:"status"`
	Since      time.Time `json:"since"`
	LastUpdate time.Time `json:"last_update"`
	LastError  string    `json:"last_error,omitempty"`
}
