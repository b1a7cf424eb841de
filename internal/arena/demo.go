package arena

import (
	"math"

	"github.com/ernie/arena-relay/internal/domain"
	"github.com/ernie/arena-relay/internal/wire"
)

// DemoSim is a tiny built-in simulation for local play and smoke testing:
// one ship per connected player plus a ring of drifting collectibles.
// Production deployments inject the real gameplay simulation instead.
type DemoSim struct {
	ships     map[string]*demoShip
	nextShip  uint64
	arenaSize float32
}

type demoShip struct {
	id      uint64
	x, y    float32
	vx, vy  float32
	heading float32
	score   int64
}

// NewDemoSim creates a demo simulation with the given square arena size.
func NewDemoSim(arenaSize float32) *DemoSim {
	if arenaSize <= 0 {
		arenaSize = 1000
	}
	return &DemoSim{
		ships:     make(map[string]*demoShip),
		arenaSize: arenaSize,
	}
}

// Step implements Simulation.
func (d *DemoSim) Step(tick domain.WorldTick, inputs map[string]wire.InputCommand) ([]domain.EntitySnapshot, map[string]int64) {
	for playerID := range inputs {
		if _, ok := d.ships[playerID]; !ok {
			d.nextShip++
			d.ships[playerID] = &demoShip{
				id: d.nextShip,
				x:  d.arenaSize / 2,
				y:  d.arenaSize / 2,
			}
		}
	}
	for playerID, ship := range d.ships {
		in, ok := inputs[playerID]
		if !ok {
			delete(d.ships, playerID)
			continue
		}
		ship.heading += in.Turn * 0.1
		ship.vx += in.Thrust * float32(math.Cos(float64(ship.heading)))
		ship.vy += in.Thrust * float32(math.Sin(float64(ship.heading)))
		ship.x = clamp(ship.x+ship.vx, 0, d.arenaSize)
		ship.y = clamp(ship.y+ship.vy, 0, d.arenaSize)
		ship.vx *= 0.95
		ship.vy *= 0.95
		if in.Thrust > 0 {
			ship.score++
		}
	}

	entities := make([]domain.EntitySnapshot, 0, len(d.ships)+8)
	scores := make(map[string]int64, len(d.ships))
	for playerID, ship := range d.ships {
		entities = append(entities, domain.EntitySnapshot{
			ID:      ship.id,
			Kind:    domain.EntityShip,
			X:       ship.x,
			Y:       ship.y,
			VX:      ship.vx,
			VY:      ship.vy,
			Heading: ship.heading,
			Health:  100,
			Owner:   playerID,
		})
		scores[playerID] = ship.score
	}

	// A ring of collectibles that slowly orbits the arena center.
	angle := float64(tick) * 0.01
	for i := 0; i < 8; i++ {
		a := angle + float64(i)*math.Pi/4
		entities = append(entities, domain.EntitySnapshot{
			ID:   1_000_000 + uint64(i),
			Kind: domain.EntityCollectible,
			X:    d.arenaSize/2 + d.arenaSize/4*float32(math.Cos(a)),
			Y:    d.arenaSize/2 + d.arenaSize/4*float32(math.Sin(a)),
		})
	}
	return entities, scores
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
