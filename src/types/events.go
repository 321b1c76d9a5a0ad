package types

import (
	"encoding/json"
	"time"
)

// Event kinds published by the hub. Inbound data envelopes are published
// under EventMessage and again under their own envelope kind.
const (
	EventConnected        = "connected"
	EventDisconnected     = "disconnected"
	EventError            = "error"
	EventConnectionStatus = "connectionStatus"
	EventConnectionFailed = "connection_failed"
	EventLatencyUpdate    = "latency_update"
	EventMessage          = "message"

	// EventPeer carries an event relayed from another daemon instance.
	EventPeer = "peer"

	// Wildcard subscribes a handler to every kind.
	Wildcard = "*"
)

// Connection status values carried by StatusEvent.
const (
	StatusReconnecting = "reconnecting"
	StatusFailed       = "failed"
)

// ConnectedEvent is the payload of EventConnected.
type ConnectedEvent struct {
	Endpoint string `json:"endpoint"`
	ID       string `json:"id"`
}

// DisconnectedEvent is the payload of EventDisconnected.
type DisconnectedEvent struct {
	Endpoint string `json:"endpoint"`
	ID       string `json:"id"`
	Explicit bool   `json:"explicit"`
}

// ErrorEvent is the payload of EventError.
type ErrorEvent struct {
	Endpoint string `json:"endpoint"`
	ID       string `json:"id"`
	Err      error  `json:"-"`
	Message  string `json:"message"`
}

// StatusEvent is the payload of EventConnectionStatus.
type StatusEvent struct {
	ConnectionID string        `json:"connectionId"`
	Status       string        `json:"status"`
	Attempts     int           `json:"attempts"`
	Delay        time.Duration `json:"delay,omitempty"`
}

// FailedEvent is the payload of EventConnectionFailed.
type FailedEvent struct {
	ConnectionID string `json:"connectionId"`
	Attempts     int    `json:"attempts"`
}

// LatencyEvent is the payload of EventLatencyUpdate.
type LatencyEvent struct {
	ConnectionID string        `json:"connectionId"`
	Latency      time.Duration `json:"latency"`
}

// InboundMessage carries a backend data envelope whose kind the core does
// not interpret.
type InboundMessage struct {
	ConnectionID string          `json:"connectionId"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    string          `json:"timestamp,omitempty"`
	ReceivedAt   time.Time       `json:"receivedAt"`
}

// PeerEvent is the payload of EventPeer. Kind and Payload are the relayed
// event's kind and its JSON-encoded payload.
type PeerEvent struct {
	Origin  string          `json:"origin"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
