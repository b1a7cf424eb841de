package domain

import "time"

// SessionState tracks a connection through its lifecycle.
type SessionState uint8

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateActive
	StateDraining
	StateClosed
)

// String returns the state name used in logs and the admin API.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TrustLevel is the bot-classifier verdict for a connection, decided at
// handshake time from connection metadata.
type TrustLevel uint8

const (
	TrustUnknown TrustLevel = iota
	TrustPlayer
	TrustSuspect
	TrustBot
)

// String returns the trust name used in logs and the admin API.
func (t TrustLevel) String() string {
	switch t {
	case TrustPlayer:
		return "player"
	case TrustSuspect:
		return "suspect"
	case TrustBot:
		return "bot"
	default:
		return "unknown"
	}
}

// CloseReason is the specific reason code reported to a client when its
// session is closed. Clients never see a silent hang.
type CloseReason string

const (
	CloseClientQuit        CloseReason = "client_quit"
	CloseIdleTimeout       CloseReason = "idle_timeout"
	CloseProtocolViolation CloseReason = "protocol_violation"
	CloseAuthFailed        CloseReason = "auth_failed"
	CloseSlowConsumer      CloseReason = "slow_consumer"
	CloseServerShutdown    CloseReason = "server_shutdown"
)

// SessionInfo is the read-only view of a session exposed by the admin API.
// The live session object itself is owned exclusively by the session
// manager; everything else refers to sessions by ID only.
type SessionInfo struct {
	ID        string       `json:"id"`
	PlayerID  string       `json:"player_id,omitempty"`
	Name      string       `json:"name,omitempty"`
	State     SessionState `json:"-"`
	StateName string       `json:"state"`
	Trust     string       `json:"trust"`
	Region    string       `json:"region,omitempty"`
	AckedTick WorldTick    `json:"acked_tick"`
	Score     int64        `json:"score"`
	CreatedAt time.Time    `json:"created_at"`
	LastSeen  time.Time    `json:"last_seen"`
}
