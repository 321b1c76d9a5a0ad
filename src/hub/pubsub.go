package hub

import (
	"encoding/json"

	"github.com/orchestra-mcp/realtime/src/types"
)

// transmitLocked encodes env and hands it to c's write pump.
func (h *Hub) transmitLocked(c *Connection, env types.Envelope) bool {
	if c.state != types.StateOpen {
		return false
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).Str("connection_id", c.id).Str("kind", env.Kind).Msg("encode failed")
		return false
	}
	if !c.enqueueLocked(data) {
		h.logger.Warn().Str("connection_id", c.id).Str("kind", env.Kind).Msg("send buffer full, dropping")
		return false
	}
	return true
}

// Send queues env for the next batch flush to id. Messages to a
// connection that is still dialing or reconnecting wait in the queue, up
// to SendBufferSize per connection. It returns false, after logging, when
// the message was dropped.
func (h *Hub) Send(id string, env types.Envelope) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[id]
	if !ok || c.state == types.StateClosed || c.state == types.StateFailed {
		h.logger.Warn().Err(types.ErrNotConnected).Str("connection_id", id).Str("kind", env.Kind).Msg("dropping message")
		return false
	}
	if c.state != types.StateOpen && h.queue.countFor(id) >= h.opts.SendBufferSize {
		h.logger.Warn().Err(types.ErrNotConnected).Str("connection_id", id).Str("kind", env.Kind).Int("held", h.opts.SendBufferSize).Msg("hold limit reached, dropping message")
		return false
	}
	h.queue.push(queueEntry{connectionID: id, message: env, enqueuedAt: h.clock.Now()})
	return true
}

// SendImmediate writes env to id without waiting for the batch flush.
// Immediate sends may overtake older batched messages.
func (h *Hub) SendImmediate(id string, env types.Envelope) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[id]
	if !ok || c.state != types.StateOpen {
		h.logger.Warn().Err(types.ErrNotConnected).Str("connection_id", id).Str("kind", env.Kind).Msg("dropping immediate message")
		return false
	}
	return h.transmitLocked(c, env)
}

// Subscribe records channel on connection id and, when open, asks the
// backend for it. Recorded channels are requested again after every
// reconnect.
func (h *Hub) Subscribe(id, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[id]
	if !ok || channel == "" {
		return false
	}
	if c.hasChannel(channel) {
		return true
	}
	c.channels = append(c.channels, channel)
	if c.state == types.StateOpen {
		h.transmitLocked(c, types.ControlEnvelope(types.KindSubscribe, channel, h.clock.Now()))
	}
	return true
}

// Unsubscribe forgets channel on connection id.
func (h *Hub) Unsubscribe(id, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[id]
	if !ok || !c.removeChannel(channel) {
		return false
	}
	if c.state == types.StateOpen {
		h.transmitLocked(c, types.ControlEnvelope(types.KindUnsubscribe, channel, h.clock.Now()))
	}
	return true
}
