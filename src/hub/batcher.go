package hub

import (
	"time"

	"github.com/orchestra-mcp/realtime/src/types"
)

type queueEntry struct {
	connectionID string
	message      types.Envelope
	enqueuedAt   time.Time
}

// outboundQueue is the hub-wide FIFO of non-immediate sends. Guarded by
// the hub's mu.
type outboundQueue struct {
	entries []queueEntry
}

func (q *outboundQueue) push(e queueEntry) {
	q.entries = append(q.entries, e)
}

func (q *outboundQueue) len() int { return len(q.entries) }

// countFor reports how many entries are addressed to id.
func (q *outboundQueue) countFor(id string) int {
	n := 0
	for _, e := range q.entries {
		if e.connectionID == id {
			n++
		}
	}
	return n
}

// takeDue removes and returns entries that have waited at least window.
func (q *outboundQueue) takeDue(now time.Time, window time.Duration) []queueEntry {
	var due, keep []queueEntry
	for _, e := range q.entries {
		if now.Sub(e.enqueuedAt) >= window {
			due = append(due, e)
		} else {
			keep = append(keep, e)
		}
	}
	q.entries = keep
	return due
}

// takeFor removes and returns every entry addressed to id.
func (q *outboundQueue) takeFor(id string) []queueEntry {
	var taken, keep []queueEntry
	for _, e := range q.entries {
		if e.connectionID == id {
			taken = append(taken, e)
		} else {
			keep = append(keep, e)
		}
	}
	q.entries = keep
	return taken
}

func (q *outboundQueue) dropFor(id string) int {
	return len(q.takeFor(id))
}

// requeue puts older entries back at the head of the queue.
func (q *outboundQueue) requeue(entries []queueEntry) {
	if len(entries) == 0 {
		return
	}
	q.entries = append(append([]queueEntry(nil), entries...), q.entries...)
}

type batchGroup struct {
	connectionID string
	entries      []queueEntry
}

// frame returns the single envelope that carries the group.
func (g batchGroup) frame() types.Envelope {
	if len(g.entries) == 1 {
		return g.entries[0].message
	}
	msgs := make([]types.Envelope, len(g.entries))
	for i, e := range g.entries {
		msgs[i] = e.message
	}
	return types.BatchEnvelope(msgs)
}

// group partitions entries by connection id in first-seen order,
// preserving enqueue order within each group.
func group(entries []queueEntry) []batchGroup {
	var groups []batchGroup
	index := make(map[string]int)
	for _, e := range entries {
		i, ok := index[e.connectionID]
		if !ok {
			i = len(groups)
			index[e.connectionID] = i
			groups = append(groups, batchGroup{connectionID: e.connectionID})
		}
		groups[i].entries = append(groups[i].entries, e)
	}
	return groups
}

// flush runs once per batch interval on the hub loop and always re-arms
// itself.
func (h *Hub) flush() {
	h.mu.Lock()
	defer h.mu.Unlock()

	due := h.queue.takeDue(h.clock.Now(), h.opts.BatchInterval)
	var held []queueEntry
	for _, g := range group(due) {
		c, ok := h.conns[g.connectionID]
		switch {
		case !ok || c.state == types.StateClosed || c.state == types.StateFailed:
			h.logger.Warn().Str("connection_id", g.connectionID).Int("dropped", len(g.entries)).Msg("connection unavailable, dropping batch")
		case c.state != types.StateOpen:
			held = append(held, g.entries...)
		default:
			h.transmitLocked(c, g.frame())
		}
	}
	h.queue.requeue(held)

	h.batchTimer = h.clock.AfterFunc(h.opts.BatchInterval, func() { h.post(h.flush) })
}
