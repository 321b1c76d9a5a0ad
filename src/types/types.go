package types

import (
	"context"
	"encoding/json"
	"time"
)

// Reserved envelope kinds.
const (
	KindPing        = "ping"
	KindPong        = "pong"
	KindBatch       = "batch"
	KindSubscribe   = "subscribe"
	KindUnsubscribe = "unsubscribe"
)

// Envelope is the unit exchanged over a connection in both directions.
// Channel is only set on subscribe/unsubscribe control messages; Messages
// and Count only on batch wrappers.
type Envelope struct {
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Messages  []Envelope      `json:"messages,omitempty"`
	Count     int             `json:"count,omitempty"`
}

// NewEnvelope encodes payload and stamps the envelope with t.
func NewEnvelope(kind string, payload any, t time.Time) (Envelope, error) {
	env := Envelope{Kind: kind, Timestamp: t.UTC().Format(time.RFC3339Nano)}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

// ControlEnvelope builds a subscribe or unsubscribe request for channel.
func ControlEnvelope(kind, channel string, t time.Time) Envelope {
	return Envelope{Kind: kind, Channel: channel, Timestamp: t.UTC().Format(time.RFC3339Nano)}
}

// BatchEnvelope wraps msgs, in order, into a single batch frame.
func BatchEnvelope(msgs []Envelope) Envelope {
	return Envelope{Kind: KindBatch, Messages: msgs, Count: len(msgs)}
}

// DecodeEnvelope parses one inbound text frame. Frames that are not JSON
// objects or carry no kind yield a *ProtocolError.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &ProtocolError{Frame: truncate(data), Err: err}
	}
	if env.Kind == "" {
		return Envelope{}, &ProtocolError{Frame: truncate(data), Err: ErrMissingKind}
	}
	return env, nil
}

func truncate(data []byte) string {
	const limit = 256
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

// State is a connection's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateReconnecting
	StateFailed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectionInfo holds metadata about one tracked connection.
type ConnectionInfo struct {
	ID                string        `json:"id"`
	Endpoint          string        `json:"endpoint"`
	State             State         `json:"state"`
	ReconnectAttempts int           `json:"reconnect_attempts"`
	LastOpenedAt      time.Time     `json:"last_opened_at,omitempty"`
	LastClosedAt      time.Time     `json:"last_closed_at,omitempty"`
	Channels          []string      `json:"channels"`
	Latency           time.Duration `json:"latency_ns"`
}

// Conn abstracts a duplex text-frame connection for testability.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn against a fully qualified ws:// or wss:// URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
