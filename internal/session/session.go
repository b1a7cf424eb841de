package session

import (
	"sync"
	"time"

	"github.com/ernie/arena-relay/internal/broadcast"
	"github.com/ernie/arena-relay/internal/domain"
	"github.com/ernie/arena-relay/internal/wire"
)

// Session is the per-connection state machine. It is owned exclusively by
// the Manager; every other component refers to sessions by ID only.
type Session struct {
	id string

	mu        sync.Mutex
	state     domain.SessionState
	playerID  string
	name      string
	trust     domain.TrustLevel
	region    string
	ackTick   domain.WorldTick
	hasAck    bool
	score     int64
	plays     int64
	offenses  int64
	muted     bool
	firstSeen time.Time
	createdAt time.Time
	lastSeen  time.Time
	malformed int
	lastInput wire.InputCommand

	queue *broadcast.Queue
}

// SessionID implements broadcast.Target.
func (s *Session) SessionID() string { return s.id }

// Baseline implements broadcast.Target: the last tick the client has
// acknowledged, if any.
func (s *Session) Baseline() (domain.WorldTick, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ackTick, s.hasAck
}

// ResetBaseline implements broadcast.Target. Called when a full snapshot
// was sent; deltas resume once the client acknowledges it.
func (s *Session) ResetBaseline() {
	s.mu.Lock()
	s.hasAck = false
	s.mu.Unlock()
}

// Outbound implements broadcast.Target.
func (s *Session) Outbound() *broadcast.Queue { return s.queue }

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PlayerID returns the durable identity bound at handshake.
func (s *Session) PlayerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID
}

// LastSeen returns when the session last sent a valid message. The
// broadcaster and the idle sweep both key off this.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Info returns the read-only view exposed by the admin API.
func (s *Session) Info() domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SessionInfo{
		ID:        s.id,
		PlayerID:  s.playerID,
		Name:      s.name,
		State:     s.state,
		StateName: s.state.String(),
		Trust:     s.trust.String(),
		Region:    s.region,
		AckedTick: s.ackTick,
		Score:     s.score,
		CreatedAt: s.createdAt,
		LastSeen:  s.lastSeen,
	}
}

// record builds the durable player record reflecting this session's end
// state. Monotone fields (best score, offenses, plays) merge with the
// stored row via the keyed upsert.
func (s *Session) record(now time.Time) domain.PlayerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.PlayerRecord{
		PlayerID:  s.playerID,
		Name:      s.name,
		BestScore: s.score,
		Muted:     s.muted,
		Offenses:  s.offenses,
		Plays:     s.plays,
		FirstSeen: s.firstSeen,
		LastSeen:  now,
	}
}
