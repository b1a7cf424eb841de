// Package session owns the per-connection lifecycle: handshake and
// authentication, inbound routing, acknowledgment tracking, idle sweeping,
// and the drain-then-close teardown. The session table is the single owned
// home of mutable session state; all mutations serialize through the
// Manager.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ernie/arena-relay/internal/auth"
	"github.com/ernie/arena-relay/internal/broadcast"
	"github.com/ernie/arena-relay/internal/bus"
	"github.com/ernie/arena-relay/internal/chat"
	"github.com/ernie/arena-relay/internal/config"
	"github.com/ernie/arena-relay/internal/domain"
	"github.com/ernie/arena-relay/internal/storage"
	"github.com/ernie/arena-relay/internal/wire"
)

// malformedLimit is how many consecutive undecodable messages force a
// session into Draining.
const malformedLimit = 3

// lookupTimeout bounds the synchronous record load during authentication.
const lookupTimeout = 2 * time.Second

// Manager owns all live sessions.
type Manager struct {
	cfg     *config.Config
	auth    *auth.Service
	store   *storage.Store
	bus     *bus.Bus
	filter  chat.Filter
	limiter *auth.IPRateLimiter

	mu       sync.RWMutex
	sessions map[string]*Session
	tick     domain.WorldTick
}

// NewManager creates a session manager. store may be nil in tests; every
// read failure already degrades to ephemeral identity.
func NewManager(cfg *config.Config, authSvc *auth.Service, store *storage.Store, b *bus.Bus, filter chat.Filter) *Manager {
	interval := time.Duration(float64(time.Second) / cfg.Server.HandshakeRate)
	return &Manager{
		cfg:      cfg,
		auth:     authSvc,
		store:    store,
		bus:      b,
		filter:   filter,
		limiter:  auth.NewIPRateLimiter(interval, cfg.Server.HandshakeBurst),
		sessions: make(map[string]*Session),
	}
}

// SetTick records the current world tick for frames originated here
// (chat, notices).
func (m *Manager) SetTick(tick domain.WorldTick) {
	m.mu.Lock()
	m.tick = tick
	m.mu.Unlock()
}

func (m *Manager) currentTick() domain.WorldTick {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tick
}

// Open runs the handshake for a new connection and registers the session.
// A valid token resumes that durable identity; an absent token gets a
// fresh anonymous identity and a token to resume it later. On auth
// failure the connection never reaches Active.
func (m *Manager) Open(hs auth.Handshake, w broadcast.FrameWriter) (*Session, error) {
	if m.limiter.ShouldLimit(hs.RemoteIP) {
		return nil, domain.ErrRateLimited
	}

	var playerID, name, token string
	if hs.Token != "" {
		claims, err := m.auth.ValidateToken(hs.Token)
		if err != nil {
			return nil, domain.ErrAuthToken
		}
		playerID = claims.PlayerID
		name = claims.Name
		token = hs.Token
	} else {
		playerID = "anon-" + uuid.NewString()
		name = hs.Name
		if name == "" {
			name = "guest-" + playerID[len(playerID)-6:]
		}
		minted, err := m.auth.GenerateToken(playerID, name, false)
		if err != nil {
			return nil, fmt.Errorf("minting identity token: %w", err)
		}
		token = minted
	}
	if hs.Name != "" {
		name = sanitizeName(hs.Name)
	}

	now := time.Now()
	sess := &Session{
		id:        uuid.NewString(),
		state:     domain.StateAuthenticated,
		playerID:  playerID,
		name:      name,
		trust:     auth.ClassifyTrust(hs),
		firstSeen: now,
		createdAt: now,
		lastSeen:  now,
		plays:     1,
	}

	// Known players resume their durable record; an unreachable store
	// degrades to ephemeral identity rather than blocking the handshake.
	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		rec, err := m.store.LoadPlayer(ctx, playerID)
		cancel()
		switch {
		case err == nil:
			sess.plays = rec.Plays + 1
			sess.offenses = rec.Offenses
			sess.muted = rec.Muted
			sess.firstSeen = rec.FirstSeen
		case errors.Is(err, domain.ErrNotFound):
			// First connection for this identity.
		default:
			log.Printf("Player lookup for %s unavailable, proceeding ephemeral: %v", playerID, err)
		}
	}

	sess.queue = broadcast.NewQueue(w, m.cfg.Sync.QueueCapacity, m.cfg.Sync.CriticalCapacity, func(err error) {
		log.Printf("Session %s transport failure: %v", sess.id, err)
		m.Close(sess.id, domain.CloseClientQuit)
	})

	m.mu.Lock()
	m.sessions[sess.id] = sess
	count := len(m.sessions)
	m.mu.Unlock()

	m.enqueueCritical(sess, broadcast.Frame{
		Kind: wire.FrameWelcome,
		Data: wire.EncodeWelcome(sess.id, playerID, name, token),
	})

	if m.bus != nil {
		m.bus.Publish(domain.SubjectPlayerSeen, domain.PlayerSeenEvent{
			PlayerID: playerID,
			Name:     name,
			Plays:    sess.plays,
			At:       now,
		})
	}

	log.Printf("Session %s opened for %s (%s, %d total)", sess.id, name, sess.trust, count)
	return sess, nil
}

// Route handles one inbound message for a session. A malformed message is
// dropped and logged, never fatal on its own; three consecutive malformed
// messages force the session into Draining.
func (m *Manager) Route(id string, data []byte) error {
	sess := m.get(id)
	if sess == nil {
		return domain.ErrSessionNotFound
	}

	msg, err := wire.DecodeInbound(data)
	if err != nil {
		return m.penalize(sess, err)
	}

	sess.mu.Lock()
	if sess.state == domain.StateDraining || sess.state == domain.StateClosed {
		sess.mu.Unlock()
		return nil
	}
	sess.malformed = 0
	sess.lastSeen = time.Now()
	sess.mu.Unlock()

	switch msg.Kind {
	case wire.InboundHello:
		// The handshake already happened; a second hello is a protocol
		// violation.
		return m.penalize(sess, fmt.Errorf("%w: duplicate hello", domain.ErrProtocol))
	case wire.InboundSubscribe:
		sess.mu.Lock()
		sess.region = msg.Region
		if sess.state == domain.StateAuthenticated {
			sess.state = domain.StateActive
		}
		sess.mu.Unlock()
	case wire.InboundAck:
		sess.mu.Lock()
		sess.ackTick = msg.AckTick
		sess.hasAck = true
		sess.mu.Unlock()
	case wire.InboundInput:
		sess.mu.Lock()
		if sess.state == domain.StateActive {
			sess.lastInput = *msg.Input
		}
		sess.mu.Unlock()
	case wire.InboundChat:
		m.handleChat(sess, msg.Chat)
	default:
		return m.penalize(sess, fmt.Errorf("%w: unknown kind", domain.ErrProtocol))
	}
	return nil
}

// penalize counts a protocol violation and drains the session after
// repeated offenses.
func (m *Manager) penalize(sess *Session, cause error) error {
	sess.mu.Lock()
	sess.malformed++
	strikes := sess.malformed
	sess.mu.Unlock()

	log.Printf("Session %s malformed message (%d/%d): %v", sess.id, strikes, malformedLimit, cause)
	if strikes >= malformedLimit {
		m.Close(sess.id, domain.CloseProtocolViolation)
	}
	return domain.ErrProtocol
}

// handleChat gates a chat line through moderation and delivers the
// filtered text. Raw text never reaches a recipient.
func (m *Manager) handleChat(sess *Session, req *wire.ChatRequest) {
	sess.mu.Lock()
	muted := sess.muted
	sender := sess.name
	playerID := sess.playerID
	region := sess.region
	sess.mu.Unlock()

	tick := m.currentTick()
	if muted {
		m.enqueueCritical(sess, broadcast.Frame{
			Tick: tick,
			Kind: wire.FrameNotice,
			Data: wire.EncodeNotice(tick, "muted", "you are muted"),
		})
		return
	}

	filtered, censored := m.filter.Censor(req.Text)
	if censored {
		sess.mu.Lock()
		sess.offenses++
		if int(sess.offenses) >= m.cfg.Chat.MuteThreshold {
			sess.muted = true
		}
		nowMuted := sess.muted
		sess.mu.Unlock()
		if nowMuted {
			m.enqueueCritical(sess, broadcast.Frame{
				Tick: tick,
				Kind: wire.FrameNotice,
				Data: wire.EncodeNotice(tick, "muted", "repeated violations, you are muted"),
			})
		}
	}

	msg := &domain.ChatMessage{
		SessionID: sess.id,
		PlayerID:  playerID,
		Sender:    sender,
		Scope:     req.Scope,
		Target:    req.Target,
		Raw:       req.Text,
		Filtered:  filtered,
		SentAt:    time.Now(),
	}
	m.deliverChat(sess, msg, region, tick)
}

func (m *Manager) deliverChat(from *Session, msg *domain.ChatMessage, region string, tick domain.WorldTick) {
	data := wire.EncodeChat(tick, msg)
	frame := broadcast.Frame{Tick: tick, Kind: wire.FrameChat, Data: data}

	switch msg.Scope {
	case domain.ChatWhisper:
		if target := m.get(msg.Target); target != nil && target.State() == domain.StateActive {
			_ = target.queue.Enqueue(frame)
		}
	case domain.ChatTeam:
		m.ForEachActive(func(t broadcast.Target) {
			if s, ok := t.(*Session); ok {
				s.mu.Lock()
				same := s.region == region
				s.mu.Unlock()
				if same {
					_ = s.queue.Enqueue(frame)
				}
			}
		})
	default:
		m.ForEachActive(func(t broadcast.Target) {
			_ = t.Outbound().Enqueue(frame)
		})
	}
}

// Close transitions a session to Draining, flushes its outbound queue
// within the grace deadline, then finalizes it. Safe to call repeatedly.
func (m *Manager) Close(id string, reason domain.CloseReason) {
	sess := m.get(id)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	if sess.state == domain.StateDraining || sess.state == domain.StateClosed {
		sess.mu.Unlock()
		return
	}
	sess.state = domain.StateDraining
	sess.mu.Unlock()

	tick := m.currentTick()
	_ = sess.queue.Enqueue(broadcast.Frame{
		Tick: tick,
		Kind: wire.FrameClose,
		Data: wire.EncodeClose(tick, reason),
	})
	sess.queue.Drain()

	go func() {
		select {
		case <-sess.queue.Drained():
		case <-time.After(m.cfg.Server.DrainGrace):
		}
		m.finalize(sess, reason)
	}()
}

// finalize marks the session Closed, removes it from the table, and hands
// the final score write to the asynchronous persistence path. The write is
// deliberately detached from the session's own lifetime.
func (m *Manager) finalize(sess *Session, reason domain.CloseReason) {
	now := time.Now()
	sess.mu.Lock()
	if sess.state == domain.StateClosed {
		sess.mu.Unlock()
		return
	}
	sess.state = domain.StateClosed
	sess.mu.Unlock()

	sess.queue.Close()

	m.mu.Lock()
	delete(m.sessions, sess.id)
	count := len(m.sessions)
	m.mu.Unlock()

	if m.bus != nil {
		rec := sess.record(now)
		m.bus.Publish(domain.SubjectSessionClose, domain.SessionCloseEvent{
			SessionID:  sess.id,
			PlayerID:   rec.PlayerID,
			Name:       rec.Name,
			FinalScore: rec.BestScore,
			Offenses:   rec.Offenses,
			Muted:      rec.Muted,
			Plays:      rec.Plays,
			FirstSeen:  rec.FirstSeen,
			Reason:     reason,
			At:         now,
		})
	}

	log.Printf("Session %s closed (%s, %d total)", sess.id, reason, count)
}

// SweepIdle drains sessions that have gone quiet past the idle timeout.
func (m *Manager) SweepIdle(now time.Time) {
	cutoff := now.Add(-m.cfg.Server.IdleTimeout)
	var idle []string
	m.mu.RLock()
	for id, sess := range m.sessions {
		if sess.State() != domain.StateClosed && sess.LastSeen().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()
	for _, id := range idle {
		m.Close(id, domain.CloseIdleTimeout)
	}
}

// Shutdown drains every live session with the shutdown reason.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.Close(id, domain.CloseServerShutdown)
	}
}

// ForEachActive implements broadcast.Roster over the live session table.
func (m *Manager) ForEachActive(fn func(broadcast.Target)) {
	m.mu.RLock()
	active := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if sess.State() == domain.StateActive {
			active = append(active, sess)
		}
	}
	m.mu.RUnlock()
	for _, sess := range active {
		fn(sess)
	}
}

// UpdateScore records a player's current score against their live session,
// so the final-score write on disconnect reflects the latest state.
func (m *Manager) UpdateScore(playerID string, score int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.sessions {
		sess.mu.Lock()
		if sess.playerID == playerID {
			sess.score = score
		}
		sess.mu.Unlock()
	}
}

// Inputs returns the latest input command per active player, for the
// simulation driver to consume.
func (m *Manager) Inputs() map[string]wire.InputCommand {
	out := make(map[string]wire.InputCommand)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.sessions {
		sess.mu.Lock()
		if sess.state == domain.StateActive {
			out[sess.playerID] = sess.lastInput
		}
		sess.mu.Unlock()
	}
	return out
}

// TrustedPlayers returns the player IDs of active sessions that passed the
// bot classifier. Only these feed the leaderboard.
func (m *Manager) TrustedPlayers() map[string]bool {
	out := make(map[string]bool)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.sessions {
		sess.mu.Lock()
		if sess.state == domain.StateActive && sess.trust != domain.TrustBot {
			out[sess.playerID] = true
		}
		sess.mu.Unlock()
	}
	return out
}

// Sessions returns read-only views of all live sessions for the admin API.
func (m *Manager) Sessions() []domain.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.Info())
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// DropSlowConsumer implements broadcast.Roster: a session whose critical
// channel is saturated is closed rather than left missing a critical frame.
func (m *Manager) DropSlowConsumer(id string) {
	m.Close(id, domain.CloseSlowConsumer)
}

// enqueueCritical pushes a critical frame and closes the session if its
// critical channel is saturated: better a clean close than a silent drop.
func (m *Manager) enqueueCritical(sess *Session, f broadcast.Frame) {
	if err := sess.queue.Enqueue(f); err != nil {
		log.Printf("Session %s cannot accept critical frames: %v", sess.id, err)
		m.Close(sess.id, domain.CloseSlowConsumer)
	}
}

// sanitizeName trims and bounds a display name.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if len(name) > 24 {
		name = name[:24]
	}
	return name
}
