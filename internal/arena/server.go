package arena

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ernie/arena-relay/internal/auth"
	"github.com/ernie/arena-relay/internal/broadcast"
	"github.com/ernie/arena-relay/internal/bus"
	"github.com/ernie/arena-relay/internal/chat"
	"github.com/ernie/arena-relay/internal/config"
	"github.com/ernie/arena-relay/internal/domain"
	"github.com/ernie/arena-relay/internal/leaderboard"
	"github.com/ernie/arena-relay/internal/session"
	"github.com/ernie/arena-relay/internal/snapshot"
	"github.com/ernie/arena-relay/internal/storage"
)

// Server assembles the sync layer: session manager, encoder, broadcaster,
// leaderboard, bus, and persistence, all around one simulation.
type Server struct {
	cfg *config.Config
	sim Simulation

	Auth        *auth.Service
	Manager     *session.Manager
	Broadcaster *broadcast.Broadcaster
	Leaderboard *leaderboard.Service
	Bus         *bus.Bus
	Store       *storage.Store
	Writer      *storage.Writer

	tick      atomic.Uint64
	startedAt time.Time
	wg        sync.WaitGroup
}

// NewServer wires all components together. store may be nil for a fully
// ephemeral server (tests, local play).
func NewServer(cfg *config.Config, sim Simulation, store *storage.Store) (*Server, error) {
	b, err := bus.New()
	if err != nil {
		return nil, fmt.Errorf("starting event bus: %w", err)
	}

	authSvc := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	filter := chat.NewBlocklistFilter(cfg.Chat.Blocklist)
	manager := session.NewManager(cfg, authSvc, store, b, filter)
	history := snapshot.NewHistory(cfg.Sync.HistoryHorizon)
	encoder := snapshot.NewEncoder(history, cfg.Sync.DeltaEpsilon)

	s := &Server{
		cfg:         cfg,
		sim:         sim,
		Auth:        authSvc,
		Manager:     manager,
		Broadcaster: broadcast.New(encoder, manager),
		Leaderboard: leaderboard.NewService(),
		Bus:         b,
		Store:       store,
		startedAt:   time.Now(),
	}
	if store != nil {
		s.Writer = storage.NewWriter(store, cfg.Database.RetryQueueSize, cfg.Database.RetryBase, cfg.Database.RetryMax)
	}

	if err := s.wireConsumers(); err != nil {
		b.Close()
		return nil, err
	}
	return s, nil
}

// wireConsumers attaches the off-tick consumers: the leaderboard ingests
// score events, the persistence writer ingests identity events. The final
// score on disconnect is the one critical write.
func (s *Server) wireConsumers() error {
	if _, err := bus.Subscribe(s.Bus, domain.SubjectScoreUpdate, func(ev domain.ScoreEvent) {
		s.Leaderboard.RecordScore(ev)
	}); err != nil {
		return err
	}

	if _, err := bus.Subscribe(s.Bus, domain.SubjectPlayerSeen, func(ev domain.PlayerSeenEvent) {
		if s.Writer == nil {
			return
		}
		s.Writer.Enqueue(domain.PlayerRecord{
			PlayerID:  ev.PlayerID,
			Name:      ev.Name,
			Plays:     ev.Plays,
			FirstSeen: ev.At,
			LastSeen:  ev.At,
		}, false)
	}); err != nil {
		return err
	}

	if _, err := bus.Subscribe(s.Bus, domain.SubjectSessionClose, func(ev domain.SessionCloseEvent) {
		s.Leaderboard.RecordScore(domain.ScoreEvent{
			PlayerID: ev.PlayerID,
			Name:     ev.Name,
			Score:    ev.FinalScore,
			At:       ev.At,
		})
		if s.Writer == nil {
			return
		}
		s.Writer.Enqueue(domain.PlayerRecord{
			PlayerID:  ev.PlayerID,
			Name:      ev.Name,
			BestScore: ev.FinalScore,
			Muted:     ev.Muted,
			Offenses:  ev.Offenses,
			Plays:     ev.Plays,
			FirstSeen: ev.FirstSeen,
			LastSeen:  ev.At,
		}, true)
	}); err != nil {
		return err
	}
	return nil
}

// Run starts the tick loop, the leaderboard cadence, and the persistence
// writer, and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	if s.Writer != nil {
		// The writer gets its own context so the final-score flush is
		// detached from session and tick cancellation.
		writerCtx, writerCancel := context.WithCancel(context.Background())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Writer.Run(writerCtx)
		}()
		defer writerCancel()
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.runTicks(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.runLeaderboard(ctx)
	}()

	<-ctx.Done()
	s.Manager.Shutdown()
	// Give draining sessions their grace period before the transports die.
	time.Sleep(s.cfg.Server.DrainGrace)
}

// Close releases the bus and waits for background loops.
func (s *Server) Close() {
	s.Bus.Close()
	s.wg.Wait()
}
