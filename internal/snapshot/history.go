package snapshot

import (
	"github.com/ernie/arena-relay/internal/domain"
)

// History retains the last N full tick states as delta baselines. The tick
// driver is the only writer; readers get the stored maps and must not
// mutate them.
type History struct {
	entries []historyEntry
	next    int
	horizon int
}

type historyEntry struct {
	tick     domain.WorldTick
	entities map[uint64]domain.EntitySnapshot
	valid    bool
}

// NewHistory creates a history retaining up to horizon ticks.
func NewHistory(horizon int) *History {
	if horizon < 1 {
		horizon = 1
	}
	return &History{
		entries: make([]historyEntry, horizon),
		horizon: horizon,
	}
}

// Record stores the full entity set for a tick, evicting the oldest retained
// tick once the horizon is full.
func (h *History) Record(tick domain.WorldTick, entities []domain.EntitySnapshot) {
	m := make(map[uint64]domain.EntitySnapshot, len(entities))
	for _, e := range entities {
		m[e.ID] = e
	}
	h.entries[h.next] = historyEntry{tick: tick, entities: m, valid: true}
	h.next = (h.next + 1) % h.horizon
}

// At returns the recorded entity set for a tick, or false if the tick has
// fallen outside the retained horizon.
func (h *History) At(tick domain.WorldTick) (map[uint64]domain.EntitySnapshot, bool) {
	for i := range h.entries {
		if h.entries[i].valid && h.entries[i].tick == tick {
			return h.entries[i].entities, true
		}
	}
	return nil, false
}

// Horizon returns the retention capacity in ticks.
func (h *History) Horizon() int { return h.horizon }
