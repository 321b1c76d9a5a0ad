package hub

import (
	"time"

	"github.com/orchestra-mcp/realtime/src/clock"
	"github.com/orchestra-mcp/realtime/src/types"
)

// Connection is the registry record for one logical connection. The same
// record survives reconnects; its transport is replaced on each dial.
// Mutable fields are guarded by the owning hub's mu.
type Connection struct {
	hub      *Hub
	id       string
	endpoint string
	url      string

	state        types.State
	attempts     int
	lastOpenedAt time.Time
	lastClosedAt time.Time
	channels     []string

	// gen is bumped whenever the transport is replaced or abandoned.
	// Callbacks carrying an older value are ignored.
	gen       uint64
	conn      types.Conn
	outbox    chan []byte
	stopWrite chan struct{}

	reconnectTimer clock.Timer
	heartbeatTimer clock.Timer
	awaitingPong   bool
	lastPingAt     time.Time
	latency        time.Duration
}

func newConnection(h *Hub, id, endpoint, url string) *Connection {
	return &Connection{
		hub:      h,
		id:       id,
		endpoint: endpoint,
		url:      url,
		state:    types.StateIdle,
	}
}

// ID returns the connection identifier.
func (c *Connection) ID() string { return c.id }

// Endpoint returns the endpoint path the connection was opened against.
func (c *Connection) Endpoint() string {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	return c.endpoint
}

// State returns the current lifecycle state.
func (c *Connection) State() types.State {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	return c.state
}

// Info returns a snapshot of the connection's metadata.
func (c *Connection) Info() types.ConnectionInfo {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	return c.infoLocked()
}

func (c *Connection) infoLocked() types.ConnectionInfo {
	channels := make([]string, len(c.channels))
	copy(channels, c.channels)
	return types.ConnectionInfo{
		ID:                c.id,
		Endpoint:          c.endpoint,
		State:             c.state,
		ReconnectAttempts: c.attempts,
		LastOpenedAt:      c.lastOpenedAt,
		LastClosedAt:      c.lastClosedAt,
		Channels:          channels,
		Latency:           c.latency,
	}
}

func (c *Connection) hasChannel(channel string) bool {
	for _, ch := range c.channels {
		if ch == channel {
			return true
		}
	}
	return false
}

func (c *Connection) removeChannel(channel string) bool {
	for i, ch := range c.channels {
		if ch == channel {
			c.channels = append(c.channels[:i], c.channels[i+1:]...)
			return true
		}
	}
	return false
}

// attachLocked installs an open transport and starts its pumps.
func (c *Connection) attachLocked(conn types.Conn, bufferSize int) {
	c.conn = conn
	c.outbox = make(chan []byte, bufferSize)
	c.stopWrite = make(chan struct{})
	go c.readPump(conn, c.gen)
	go c.writePump(conn, c.outbox, c.stopWrite)
}

// detachLocked stops the heartbeat and the write pump and returns the
// transport for the caller to close once h.mu is released.
func (c *Connection) detachLocked() types.Conn {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
	c.awaitingPong = false
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	close(c.stopWrite)
	c.conn = nil
	c.outbox = nil
	c.stopWrite = nil
	return conn
}

func (c *Connection) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// enqueueLocked hands an encoded frame to the write pump without
// blocking.
func (c *Connection) enqueueLocked(data []byte) bool {
	if c.outbox == nil {
		return false
	}
	select {
	case c.outbox <- data:
		return true
	default:
		return false
	}
}

// readPump forwards every inbound frame, then the terminal read error, to
// the hub loop.
func (c *Connection) readPump(conn types.Conn, gen uint64) {
	h := c.hub
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			h.post(func() { h.handleClosed(c, gen, err) })
			return
		}
		h.post(func() { h.handleFrame(c, gen, data) })
	}
}

// writePump drains the outbox onto the transport. A write failure closes
// the transport so the read pump reports the loss.
func (c *Connection) writePump(conn types.Conn, outbox <-chan []byte, stop <-chan struct{}) {
	h := c.hub
	for {
		select {
		case data := <-outbox:
			if err := conn.WriteMessage(data); err != nil {
				h.logger.Warn().Err(err).Str("connection_id", c.id).Msg("write failed")
				conn.Close()
				return
			}
			h.metrics.MessageSent()
		case <-stop:
			return
		}
	}
}
