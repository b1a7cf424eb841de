package domain

import "time"

// PlayerRecord is the durable record for one player identity. Created on
// first authenticated connection, updated on session end, never deleted
// automatically.
type PlayerRecord struct {
	PlayerID  string    `json:"player_id"`
	Name      string    `json:"name"`
	BestScore int64     `json:"best_score"`
	Muted     bool      `json:"muted"`
	Offenses  int64     `json:"offenses"` // moderation strikes accumulated across sessions
	Plays     int64     `json:"plays"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// LeaderboardPeriod selects which rolling window a leaderboard covers.
type LeaderboardPeriod string

const (
	PeriodAllTime LeaderboardPeriod = "all"
	PeriodWeekly  LeaderboardPeriod = "week"
	PeriodDaily   LeaderboardPeriod = "day"
)

// Valid reports whether p is one of the known periods.
func (p LeaderboardPeriod) Valid() bool {
	return p == PeriodAllTime || p == PeriodWeekly || p == PeriodDaily
}

// LeaderboardEntry is one row of a published ranking. Rank is derived at
// publish time, never stored authoritatively.
type LeaderboardEntry struct {
	Rank       int       `json:"rank"`
	PlayerID   string    `json:"player_id"`
	Name       string    `json:"name"`
	Score      int64     `json:"score"`
	AchievedAt time.Time `json:"achieved_at"`
}

// LeaderboardSnapshot is an immutable published ranking. Consumers may hold
// it indefinitely; the service never mutates a snapshot after publishing.
type LeaderboardSnapshot struct {
	Period      LeaderboardPeriod  `json:"period"`
	Tick        WorldTick          `json:"tick"`
	PublishedAt time.Time          `json:"published_at"`
	Entries     []LeaderboardEntry `json:"entries"`
}
