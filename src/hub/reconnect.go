package hub

import (
	"time"

	"github.com/orchestra-mcp/realtime/src/types"
)

// Backoff computes reconnect delays. The delay for attempt n is
// Base*2^n capped at Max. After MaxAttempts consecutive retries without
// an open the connection is marked failed.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait before attempt n.
func (b Backoff) Delay(n int) time.Duration {
	d := b.Base
	for i := 0; i < n; i++ {
		if b.Max > 0 && d >= b.Max {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// scheduleReconnect arms a retry for a connection that just closed, or
// marks it failed once the attempt ceiling is reached.
func (h *Hub) scheduleReconnect(c *Connection, gen uint64) {
	h.mu.Lock()
	if !h.currentLocked(c, gen) || c.state != types.StateClosed {
		h.mu.Unlock()
		return
	}

	n := c.attempts
	if n >= h.opts.Backoff.MaxAttempts {
		c.state = types.StateFailed
		h.mu.Unlock()

		h.logger.Error().Err(types.ErrReconnectExhausted).Str("connection_id", c.id).Int("attempts", n).Msg("giving up on connection")
		h.emit(types.EventConnectionStatus, types.StatusEvent{
			ConnectionID: c.id,
			Status:       types.StatusFailed,
			Attempts:     n,
		})
		h.emit(types.EventConnectionFailed, types.FailedEvent{ConnectionID: c.id, Attempts: n})
		return
	}

	c.attempts = n + 1
	delay := h.opts.Backoff.Delay(c.attempts)
	c.state = types.StateReconnecting
	c.reconnectTimer = h.clock.AfterFunc(delay, func() {
		h.post(func() { h.retry(c, gen) })
	})
	attempts := c.attempts
	h.mu.Unlock()

	h.metrics.Reconnect()
	h.logger.Info().Str("connection_id", c.id).Int("attempt", attempts).Dur("delay", delay).Msg("scheduling reconnect")
	h.emit(types.EventConnectionStatus, types.StatusEvent{
		ConnectionID: c.id,
		Status:       types.StatusReconnecting,
		Attempts:     attempts,
		Delay:        delay,
	})
}

func (h *Hub) retry(c *Connection, gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.currentLocked(c, gen) || c.state != types.StateReconnecting {
		return
	}
	c.reconnectTimer = nil
	h.dialLocked(c)
}
