package hnsw

import (
	"context"
)

// Compact rebuilds the graph from live nodes only, physically removing
// tombstoned vectors. It returns the number of removed nodes. The index is
// left untouched if ctx is done before the rebuild completes.
func (h *HNSW) Compact(ctx context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := len(h.nodes) - len(h.lookup)
	if removed == 0 {
		return 0, nil
	}

	fresh := h.emptyClone()
	for i, n := range h.nodes {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		if h.tombstones.Contains(uint32(i)) {
			continue
		}
		var plan [][]uint32
		if fresh.maxLevel >= 0 {
			plan = fresh.planLinks(n.vector, n.level)
		}
		fresh.commit(n.id, n.version, n.vector, n.level, plan)
	}

	h.nodes = fresh.nodes
	h.lookup = fresh.lookup
	h.tombstones = fresh.tombstones
	h.entryPoint = fresh.entryPoint
	h.maxLevel = fresh.maxLevel
	h.generation++

	return removed, nil
}

// Reset drops every vector.
func (h *HNSW) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	fresh := h.emptyClone()
	h.nodes = fresh.nodes
	h.lookup = fresh.lookup
	h.tombstones = fresh.tombstones
	h.entryPoint = 0
	h.maxLevel = -1
	h.generation++
}
