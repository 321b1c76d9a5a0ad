package hub

import (
	"time"

	"github.com/orchestra-mcp/realtime/src/types"
)

// startHeartbeatLocked arms the first heartbeat tick for an open
// connection.
func (h *Hub) startHeartbeatLocked(c *Connection, gen uint64) {
	c.awaitingPong = false
	c.heartbeatTimer = h.clock.AfterFunc(h.opts.HeartbeatInterval, func() {
		h.post(func() { h.heartbeat(c, gen) })
	})
}

// heartbeat sends a ping when none is outstanding. A ping left
// unanswered for PongTimeoutIntervals intervals closes the connection so
// the reconnect policy takes over.
func (h *Hub) heartbeat(c *Connection, gen uint64) {
	h.mu.Lock()
	if !h.currentLocked(c, gen) || c.state != types.StateOpen {
		h.mu.Unlock()
		return
	}

	now := h.clock.Now()
	if c.awaitingPong {
		timeout := time.Duration(h.opts.PongTimeoutIntervals) * h.opts.HeartbeatInterval
		if now.Sub(c.lastPingAt) >= timeout {
			h.mu.Unlock()
			h.logger.Warn().Str("connection_id", c.id).Dur("timeout", timeout).Msg("pong timeout")
			h.handleClosed(c, gen, &types.ConnectionError{ID: c.id, Op: "heartbeat", Err: types.ErrPongTimeout})
			return
		}
	} else if h.transmitLocked(c, types.Envelope{Kind: types.KindPing, Timestamp: now.UTC().Format(time.RFC3339Nano)}) {
		c.awaitingPong = true
		c.lastPingAt = now
	}

	c.heartbeatTimer = h.clock.AfterFunc(h.opts.HeartbeatInterval, func() {
		h.post(func() { h.heartbeat(c, gen) })
	})
	h.mu.Unlock()
}

func (h *Hub) handlePong(c *Connection, gen uint64) {
	h.mu.Lock()
	if !h.currentLocked(c, gen) || !c.awaitingPong {
		h.mu.Unlock()
		return
	}
	latency := h.clock.Now().Sub(c.lastPingAt)
	c.awaitingPong = false
	c.latency = latency
	h.mu.Unlock()

	h.emit(types.EventLatencyUpdate, types.LatencyEvent{ConnectionID: c.id, Latency: latency})
}
