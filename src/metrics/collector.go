// Package metrics keeps monotonically increasing counters for the sync
// client. Values are for observability only; nothing reads them to make
// control decisions.
package metrics

import "sync/atomic"

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalConnections  int64    `json:"totalConnections"`
	ActiveConnections int64    `json:"activeConnections"`
	MessagesSent      int64    `json:"messagesSent"`
	MessagesReceived  int64    `json:"messagesReceived"`
	Errors            int64    `json:"errors"`
	Reconnects        int64    `json:"reconnects"`
	Connections       []string `json:"connections"`
}

// Collector is safe for concurrent use.
type Collector struct {
	total      atomic.Int64
	active     atomic.Int64
	sent       atomic.Int64
	received   atomic.Int64
	errors     atomic.Int64
	reconnects atomic.Int64
}

// New creates a zeroed Collector.
func New() *Collector { return &Collector{} }

// ConnectionOpened counts a transport that reached the open state.
func (c *Collector) ConnectionOpened() {
	c.total.Add(1)
	c.active.Add(1)
}

// ConnectionClosed decrements the active connection gauge.
func (c *Collector) ConnectionClosed() { c.active.Add(-1) }

// MessageSent counts one outbound frame written to a transport.
func (c *Collector) MessageSent() { c.sent.Add(1) }

// MessageReceived counts one decoded inbound frame.
func (c *Collector) MessageReceived() { c.received.Add(1) }

// Error counts a transport or protocol error.
func (c *Collector) Error() { c.errors.Add(1) }

// Reconnect counts a scheduled reconnect attempt.
func (c *Collector) Reconnect() { c.reconnects.Add(1) }

// Snapshot reads all counters and attaches the given tracked ids.
func (c *Collector) Snapshot(connections []string) Snapshot {
	if connections == nil {
		connections = []string{}
	}
	return Snapshot{
		TotalConnections:  c.total.Load(),
		ActiveConnections: c.active.Load(),
		MessagesSent:      c.sent.Load(),
		MessagesReceived:  c.received.Load(),
		Errors:            c.errors.Load(),
		Reconnects:        c.reconnects.Load(),
		Connections:       connections,
	}
}
