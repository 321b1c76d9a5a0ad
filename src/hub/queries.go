package hub

import (
	"sort"

	"github.com/orchestra-mcp/realtime/src/metrics"
	"github.com/orchestra-mcp/realtime/src/types"
)

// Get returns the tracked connection with the given id.
func (h *Hub) Get(id string) (*Connection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	return c, ok
}

// State returns the lifecycle state of id. Explicitly disconnected ids
// report Closed; ids never seen report Idle and false.
func (h *Hub) State(id string) (types.State, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[id]; ok {
		return c.state, true
	}
	if st, ok := h.retired[id]; ok {
		return st, true
	}
	return types.StateIdle, false
}

// Info returns metadata for a tracked connection.
func (h *Hub) Info(id string) (types.ConnectionInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return types.ConnectionInfo{}, false
	}
	return c.infoLocked(), true
}

// Connections returns metadata for every tracked connection, ordered by
// id.
func (h *Hub) Connections() []types.ConnectionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	infos := make([]types.ConnectionInfo, 0, len(h.conns))
	for _, c := range h.conns {
		infos = append(infos, c.infoLocked())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// IDs returns the tracked connection ids in sorted order.
func (h *Hub) IDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Metrics returns a counter snapshot with the tracked ids attached.
func (h *Hub) Metrics() metrics.Snapshot {
	return h.metrics.Snapshot(h.IDs())
}

// Pending returns the number of messages waiting for a batch flush.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queue.len()
}
