package domain

// WorldTick identifies one simulation step. Ticks are monotonically
// increasing and never reused within a process lifetime.
type WorldTick = uint64

// EntityKind tags the gameplay category of an entity.
type EntityKind uint8

const (
	EntityShip EntityKind = iota + 1
	EntityProjectile
	EntityCollectible
	EntityObstacle
)

// String returns a human-readable kind name for logs and the admin API.
func (k EntityKind) String() string {
	switch k {
	case EntityShip:
		return "ship"
	case EntityProjectile:
		return "projectile"
	case EntityCollectible:
		return "collectible"
	case EntityObstacle:
		return "obstacle"
	default:
		return "unknown"
	}
}

// EntitySnapshot is the per-tick state of one entity as produced by the
// simulation. The sync layer never mutates it, only diffs and serializes it.
type EntitySnapshot struct {
	ID      uint64     `json:"id"`
	Kind    EntityKind `json:"kind"`
	X       float32    `json:"x"`
	Y       float32    `json:"y"`
	VX      float32    `json:"vx"`
	VY      float32    `json:"vy"`
	Heading float32    `json:"heading"`
	Health  float32    `json:"health"`
	Owner   string     `json:"owner,omitempty"`
}

// FieldMask marks which fields of an EntityUpdate carry a changed value.
type FieldMask uint8

const (
	// FieldPos covers X and Y together; they always change as a pair.
	FieldPos FieldMask = 1 << iota
	// FieldVel covers VX and VY together.
	FieldVel
	// FieldHeading covers the orientation angle.
	FieldHeading
	// FieldHealth covers the health pool.
	FieldHealth
	// FieldOwner covers the owning player identity.
	FieldOwner
)

// Has reports whether the mask includes the given field bit.
func (m FieldMask) Has(f FieldMask) bool { return m&f != 0 }

// EntityUpdate is a field-level change for one entity. Only the fields
// named by Mask are meaningful in Entity; the rest are zero.
type EntityUpdate struct {
	ID     uint64         `json:"id"`
	Mask   FieldMask      `json:"mask"`
	Entity EntitySnapshot `json:"entity"`
}

// DeltaFrame describes the exact difference between the world at
// BaselineTick and the world at Tick. Applying it to the recorded state at
// BaselineTick reproduces the recorded state at Tick with no loss.
type DeltaFrame struct {
	BaselineTick WorldTick        `json:"baseline_tick"`
	Tick         WorldTick        `json:"tick"`
	Added        []EntitySnapshot `json:"added,omitempty"`
	Updated      []EntityUpdate   `json:"updated,omitempty"`
	Removed      []uint64         `json:"removed,omitempty"`
}

// Empty reports whether the delta carries no changes at all.
func (d *DeltaFrame) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// ApplyDelta reconstructs the entity set at d.Tick from the entity set at
// d.BaselineTick. The baseline map is not modified.
func ApplyDelta(baseline map[uint64]EntitySnapshot, d *DeltaFrame) map[uint64]EntitySnapshot {
	next := make(map[uint64]EntitySnapshot, len(baseline)+len(d.Added))
	for id, e := range baseline {
		next[id] = e
	}
	for _, id := range d.Removed {
		delete(next, id)
	}
	for _, u := range d.Updated {
		e, ok := next[u.ID]
		if !ok {
			continue
		}
		if u.Mask.Has(FieldPos) {
			e.X, e.Y = u.Entity.X, u.Entity.Y
		}
		if u.Mask.Has(FieldVel) {
			e.VX, e.VY = u.Entity.VX, u.Entity.VY
		}
		if u.Mask.Has(FieldHeading) {
			e.Heading = u.Entity.Heading
		}
		if u.Mask.Has(FieldHealth) {
			e.Health = u.Entity.Health
		}
		if u.Mask.Has(FieldOwner) {
			e.Owner = u.Entity.Owner
		}
		next[u.ID] = e
	}
	for _, e := range d.Added {
		next[e.ID] = e
	}
	return next
}
