package hub

import (
	"errors"
	"io"

	"github.com/orchestra-mcp/realtime/src/transport"
	"github.com/orchestra-mcp/realtime/src/types"
)

// Connect opens a connection to endpoint under id, defaulting id to the
// endpoint. Calling it for an id that is already open or connecting
// returns the existing record. A failed or reconnecting connection is
// dialed again immediately.
func (h *Hub) Connect(endpoint, id string) (*Connection, error) {
	if endpoint == "" {
		return nil, types.ErrEmptyEndpoint
	}
	if id == "" {
		id = endpoint
	}
	url, err := transport.URL(h.opts.BaseURL, endpoint)
	if err != nil {
		return nil, &types.ConnectionError{ID: id, Op: "connect", Err: err}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[id]
	if ok && (c.state == types.StateOpen || c.state == types.StateConnecting) {
		return c, nil
	}
	if !ok {
		c = newConnection(h, id, endpoint, url)
		h.conns[id] = c
		delete(h.retired, id)
	} else {
		c.stopReconnectLocked()
		c.endpoint = endpoint
		c.url = url
		if c.state == types.StateFailed {
			c.attempts = 0
		}
	}

	h.logger.Info().Str("connection_id", id).Str("url", url).Msg("connecting")
	h.dialLocked(c)
	return c, nil
}

// dialLocked moves c to Connecting and dials its URL in the background.
func (h *Hub) dialLocked(c *Connection) {
	c.state = types.StateConnecting
	c.gen++
	gen, url := c.gen, c.url

	go func() {
		conn, err := h.dialer.Dial(h.ctx, url)
		if err != nil {
			h.post(func() {
				h.handleClosed(c, gen, &types.ConnectionError{ID: c.id, Op: "dial", Err: err})
			})
			return
		}
		h.post(func() { h.handleOpen(c, gen, conn) })
	}()
}

// currentLocked reports whether c is still the tracked record for its id and
// gen is its live generation.
func (h *Hub) currentLocked(c *Connection, gen uint64) bool {
	return h.conns[c.id] == c && c.gen == gen
}

func (h *Hub) handleOpen(c *Connection, gen uint64, conn types.Conn) {
	h.mu.Lock()
	if !h.currentLocked(c, gen) || c.state != types.StateConnecting {
		h.mu.Unlock()
		conn.Close()
		return
	}

	c.state = types.StateOpen
	c.attempts = 0
	c.lastOpenedAt = h.clock.Now()
	c.attachLocked(conn, h.opts.SendBufferSize)
	h.startHeartbeatLocked(c, gen)

	now := h.clock.Now()
	for _, channel := range c.channels {
		h.transmitLocked(c, types.ControlEnvelope(types.KindSubscribe, channel, now))
	}
	if pending := h.queue.takeFor(c.id); len(pending) > 0 {
		for _, g := range group(pending) {
			h.transmitLocked(c, g.frame())
		}
	}
	endpoint := c.endpoint
	h.mu.Unlock()

	h.metrics.ConnectionOpened()
	h.logger.Info().Str("connection_id", c.id).Str("endpoint", endpoint).Msg("connection open")
	h.emit(types.EventConnected, types.ConnectedEvent{Endpoint: endpoint, ID: c.id})
}

func (h *Hub) handleFrame(c *Connection, gen uint64, data []byte) {
	h.mu.Lock()
	live := h.currentLocked(c, gen) && c.state == types.StateOpen
	h.mu.Unlock()
	if !live {
		return
	}

	h.metrics.MessageReceived()
	env, err := types.DecodeEnvelope(data)
	if err != nil {
		h.logger.Warn().Err(err).Str("connection_id", c.id).Msg("dropping malformed frame")
		return
	}
	h.route(c, gen, env)
}

func (h *Hub) route(c *Connection, gen uint64, env types.Envelope) {
	switch env.Kind {
	case types.KindPong:
		h.handlePong(c, gen)
	case types.KindPing:
		h.mu.Lock()
		if h.currentLocked(c, gen) {
			h.transmitLocked(c, types.Envelope{Kind: types.KindPong, Timestamp: env.Timestamp})
		}
		h.mu.Unlock()
	case types.KindBatch:
		for _, inner := range env.Messages {
			h.route(c, gen, inner)
		}
	default:
		msg := types.InboundMessage{
			ConnectionID: c.id,
			Kind:         env.Kind,
			Payload:      env.Payload,
			Timestamp:    env.Timestamp,
			ReceivedAt:   h.clock.Now(),
		}
		h.emit(types.EventMessage, msg)
		if !lifecycleKind(env.Kind) {
			h.emit(env.Kind, msg)
		}
	}
}

// lifecycleKind reports whether kind collides with an event the hub
// publishes itself. Such inbound envelopes are only delivered as
// EventMessage.
func lifecycleKind(kind string) bool {
	switch kind {
	case types.EventConnected, types.EventDisconnected, types.EventError,
		types.EventConnectionStatus, types.EventConnectionFailed,
		types.EventLatencyUpdate, types.EventMessage, types.EventPeer, types.Wildcard:
		return true
	}
	return false
}

// handleClosed processes the loss of a transport, either after it opened
// or while dialing. An io.EOF cause is a clean close.
func (h *Hub) handleClosed(c *Connection, gen uint64, cause error) {
	h.mu.Lock()
	if !h.currentLocked(c, gen) || (c.state != types.StateOpen && c.state != types.StateConnecting) {
		h.mu.Unlock()
		return
	}
	wasOpen := c.state == types.StateOpen
	conn := c.detachLocked()
	c.state = types.StateClosed
	c.lastClosedAt = h.clock.Now()
	endpoint := c.endpoint
	h.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasOpen {
		h.metrics.ConnectionClosed()
	}

	if !errors.Is(cause, io.EOF) {
		var cerr *types.ConnectionError
		if !errors.As(cause, &cerr) {
			cerr = &types.ConnectionError{ID: c.id, Op: "read", Err: cause}
		}
		h.metrics.Error()
		h.logger.Warn().Err(cerr).Str("connection_id", c.id).Msg("connection error")
		h.emit(types.EventError, types.ErrorEvent{
			Endpoint: endpoint,
			ID:       c.id,
			Err:      cerr,
			Message:  cerr.Error(),
		})
	}
	if wasOpen {
		h.logger.Info().Str("connection_id", c.id).Msg("connection closed")
		h.emit(types.EventDisconnected, types.DisconnectedEvent{Endpoint: endpoint, ID: c.id})
	}

	h.scheduleReconnect(c, gen)
}

// Disconnect closes the connection with the given id and stops tracking
// it. No reconnect is attempted. It returns false for an unknown id.
func (h *Hub) Disconnect(id string) bool {
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return false
	}
	wasOpen := c.state == types.StateOpen
	c.gen++
	c.stopReconnectLocked()
	conn := c.detachLocked()
	c.state = types.StateClosed
	c.lastClosedAt = h.clock.Now()
	endpoint := c.endpoint
	delete(h.conns, id)
	h.retired[id] = types.StateClosed
	dropped := h.queue.dropFor(id)
	h.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if dropped > 0 {
		h.logger.Warn().Str("connection_id", id).Int("dropped", dropped).Msg("discarding queued messages")
	}
	h.logger.Info().Str("connection_id", id).Msg("disconnected")

	if wasOpen {
		h.metrics.ConnectionClosed()
		h.post(func() {
			h.emit(types.EventDisconnected, types.DisconnectedEvent{Endpoint: endpoint, ID: id, Explicit: true})
		})
	}
	return true
}

// DisconnectAll closes every tracked connection.
func (h *Hub) DisconnectAll() {
	for _, id := range h.IDs() {
		h.Disconnect(id)
	}
}
