package types

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrNotConnected       = errors.New("connection not open")
	ErrUnknownConnection  = errors.New("unknown connection")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrPongTimeout        = errors.New("no pong within heartbeat deadline")
	ErrEmptyEndpoint      = errors.New("endpoint is required")
	ErrMissingKind        = errors.New("envelope has no kind")
)

// ConnectionError reports a transport-level failure on one connection.
type ConnectionError struct {
	ID  string
	Op  string // "dial", "read", "write", "heartbeat"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %s: %v", e.ID, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports an inbound frame that is not a valid envelope.
type ProtocolError struct {
	Frame string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
