package domain

import "time"

// Bus subjects for off-tick eventing. Score and identity changes leave the
// tick-critical path through these subjects and are consumed asynchronously
// by the leaderboard service and the persistence gateway.
const (
	SubjectScoreUpdate  = "arena.score.update"
	SubjectPlayerSeen   = "arena.player.seen"
	SubjectSessionClose = "arena.session.close"
)

// ScoreEvent reports a player's score as of one tick.
type ScoreEvent struct {
	PlayerID string    `json:"player_id"`
	Name     string    `json:"name"`
	Score    int64     `json:"score"`
	Tick     WorldTick `json:"tick"`
	At       time.Time `json:"at"`
}

// PlayerSeenEvent reports that an authenticated player connected, for
// last-seen and play-count bookkeeping.
type PlayerSeenEvent struct {
	PlayerID string    `json:"player_id"`
	Name     string    `json:"name"`
	Plays    int64     `json:"plays"`
	At       time.Time `json:"at"`
}

// SessionCloseEvent carries the final state of a closed session. The final
// score write derived from it is critical: it is retried until it lands or
// the process shuts down.
type SessionCloseEvent struct {
	SessionID  string      `json:"session_id"`
	PlayerID   string      `json:"player_id,omitempty"`
	Name       string      `json:"name,omitempty"`
	FinalScore int64       `json:"final_score"`
	Offenses   int64       `json:"offenses"`
	Muted      bool        `json:"muted"`
	Plays      int64       `json:"plays"`
	FirstSeen  time.Time   `json:"first_seen"`
	Reason     CloseReason `json:"reason"`
	At         time.Time   `json:"at"`
}
