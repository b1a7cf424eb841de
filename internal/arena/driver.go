// Package arena runs the authoritative tick loop and wires the sync layer
// together. The tick driver is the sole mutator of entity state; everything
// that blocks (persistence, socket writes) runs off the tick path.
package arena

import (
	"context"
	"log"
	"time"

	"github.com/ernie/arena-relay/internal/domain"
	"github.com/ernie/arena-relay/internal/wire"
)

// Simulation is the external gameplay step. It consumes the latest input
// per player and produces the full entity set and current scores for one
// tick. The sync layer treats both as opaque outputs.
type Simulation interface {
	Step(tick domain.WorldTick, inputs map[string]wire.InputCommand) ([]domain.EntitySnapshot, map[string]int64)
}

// runTicks drives the simulation and the broadcaster until ctx is
// cancelled. Nothing in this loop is allowed to block on I/O: score and
// identity changes leave through the bus, frames leave through per-session
// queues.
func (s *Server) runTicks(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Server.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tick := s.tick.Add(1)
		now := time.Now()

		inputs := s.Manager.Inputs()
		entities, scores := s.sim.Step(tick, inputs)

		s.Manager.SetTick(tick)
		s.Broadcaster.Publish(tick, entities)

		trusted := s.Manager.TrustedPlayers()
		for playerID, score := range scores {
			s.Manager.UpdateScore(playerID, score)
			if !trusted[playerID] {
				continue
			}
			s.Bus.Publish(domain.SubjectScoreUpdate, domain.ScoreEvent{
				PlayerID: playerID,
				Score:    score,
				Tick:     tick,
				At:       now,
			})
		}

		s.Manager.SweepIdle(now)
	}
}

// runLeaderboard publishes and distributes leaderboard snapshots on a
// decoupled cadence; leaderboard data changes far less often than entity
// positions and is not worth every-tick bandwidth.
func (s *Server) runLeaderboard(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Sync.LeaderboardInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.Leaderboard.ApplyBatch()
		tick := s.tick.Load()
		s.Leaderboard.Publish(tick)
		snap := s.Leaderboard.Snapshot(domain.PeriodAllTime)
		if len(snap.Entries) > 0 {
			s.Broadcaster.PublishLeaderboard(snap)
			if s.Store != nil {
				saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.Store.SaveLeaderboard(saveCtx, snap); err != nil {
					log.Printf("Persisting leaderboard snapshot failed: %v", err)
				}
				cancel()
			}
		}
	}
}

// Tick returns the current world tick.
func (s *Server) Tick() domain.WorldTick {
	return s.tick.Load()
}

// Health is the liveness view served by the admin API.
type Health struct {
	Region        string  `json:"region"`
	Tick          uint64  `json:"tick"`
	Sessions      int     `json:"sessions"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Health reports the server's live status.
func (s *Server) Health() Health {
	return Health{
		Region:        s.cfg.Server.Region,
		Tick:          s.tick.Load(),
		Sessions:      s.Manager.Count(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
}
