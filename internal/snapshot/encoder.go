package snapshot

import (
	"math"
	"sort"

	"github.com/ernie/arena-relay/internal/domain"
)

// Frame is one encoded world-sync frame for one session: either a complete
// entity set or an exact delta against the session's acknowledged baseline.
type Frame struct {
	Tick     domain.WorldTick
	Full     bool
	Entities []domain.EntitySnapshot // populated when Full
	Delta    *domain.DeltaFrame      // populated when !Full
}

// Encoder computes per-session world-sync frames. Steady-state output is
// O(changed entities); when baseline continuity breaks it falls back to a
// full snapshot, never a partial delta against stale data.
type Encoder struct {
	history *History
	epsilon float32
}

// NewEncoder creates an encoder over the given tick history. Numeric field
// changes smaller than epsilon are treated as unchanged so simulation
// jitter is not retransmitted.
func NewEncoder(history *History, epsilon float64) *Encoder {
	return &Encoder{history: history, epsilon: float32(epsilon)}
}

// History returns the backing tick history.
func (enc *Encoder) History() *History { return enc.history }

// Encode produces the frame for one session at the current tick. baseline
// is the session's last acknowledged tick; hasBaseline is false for a
// session that has never acknowledged anything (first frame, or after a
// baseline reset). The returned bool reports whether the frame is a delta;
// when it is false the caller must reset the session's baseline and wait
// for a fresh acknowledgment.
func (enc *Encoder) Encode(baseline domain.WorldTick, hasBaseline bool, tick domain.WorldTick, current []domain.EntitySnapshot) (Frame, bool) {
	if hasBaseline && baseline < tick {
		if base, ok := enc.history.At(baseline); ok {
			delta := enc.diff(base, current, baseline, tick)
			return Frame{Tick: tick, Delta: delta}, true
		}
		// Baseline fell out of the horizon (stalled client). Recovered
		// locally with a full snapshot; the client just sees a resync.
	}
	full := make([]domain.EntitySnapshot, len(current))
	copy(full, current)
	sort.Slice(full, func(i, j int) bool { return full[i].ID < full[j].ID })
	return Frame{Tick: tick, Full: true, Entities: full}, false
}

// diff computes the exact field-level difference between the baseline state
// and the current entity set. Output ordering is deterministic: all three
// lists are sorted by entity ID.
func (enc *Encoder) diff(base map[uint64]domain.EntitySnapshot, current []domain.EntitySnapshot, baselineTick, tick domain.WorldTick) *domain.DeltaFrame {
	delta := &domain.DeltaFrame{BaselineTick: baselineTick, Tick: tick}
	seen := make(map[uint64]struct{}, len(current))

	for _, e := range current {
		seen[e.ID] = struct{}{}
		prev, ok := base[e.ID]
		if !ok {
			delta.Added = append(delta.Added, e)
			continue
		}
		mask := enc.changedFields(prev, e)
		if mask == 0 {
			continue
		}
		delta.Updated = append(delta.Updated, domain.EntityUpdate{ID: e.ID, Mask: mask, Entity: masked(e, mask)})
	}
	for id := range base {
		if _, ok := seen[id]; !ok {
			delta.Removed = append(delta.Removed, id)
		}
	}

	sort.Slice(delta.Added, func(i, j int) bool { return delta.Added[i].ID < delta.Added[j].ID })
	sort.Slice(delta.Updated, func(i, j int) bool { return delta.Updated[i].ID < delta.Updated[j].ID })
	sort.Slice(delta.Removed, func(i, j int) bool { return delta.Removed[i] < delta.Removed[j] })
	return delta
}

// changedFields returns the mask of fields that differ beyond epsilon.
func (enc *Encoder) changedFields(prev, cur domain.EntitySnapshot) domain.FieldMask {
	var mask domain.FieldMask
	if enc.moved(prev.X, cur.X) || enc.moved(prev.Y, cur.Y) {
		mask |= domain.FieldPos
	}
	if enc.moved(prev.VX, cur.VX) || enc.moved(prev.VY, cur.VY) {
		mask |= domain.FieldVel
	}
	if enc.moved(prev.Heading, cur.Heading) {
		mask |= domain.FieldHeading
	}
	if enc.moved(prev.Health, cur.Health) {
		mask |= domain.FieldHealth
	}
	if prev.Owner != cur.Owner {
		mask |= domain.FieldOwner
	}
	return mask
}

func (enc *Encoder) moved(a, b float32) bool {
	return float32(math.Abs(float64(a-b))) > enc.epsilon
}

// masked zeroes the fields an update does not carry, so encoded updates
// transmit only the changed values.
func masked(e domain.EntitySnapshot, mask domain.FieldMask) domain.EntitySnapshot {
	out := domain.EntitySnapshot{ID: e.ID, Kind: e.Kind}
	if mask.Has(domain.FieldPos) {
		out.X, out.Y = e.X, e.Y
	}
	if mask.Has(domain.FieldVel) {
		out.VX, out.VY = e.VX, e.VY
	}
	if mask.Has(domain.FieldHeading) {
		out.Heading = e.Heading
	}
	if mask.Has(domain.FieldHealth) {
		out.Health = e.Health
	}
	if mask.Has(domain.FieldOwner) {
		out.Owner = e.Owner
	}
	return out
}
