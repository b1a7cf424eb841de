package domain

import "time"

// ChatScope selects who receives a chat message.
type ChatScope uint8

const (
	ChatBroadcast ChatScope = iota + 1
	ChatTeam
	ChatWhisper
)

// String returns the scope name used in logs.
func (s ChatScope) String() string {
	switch s {
	case ChatBroadcast:
		return "broadcast"
	case ChatTeam:
		return "team"
	case ChatWhisper:
		return "whisper"
	default:
		return "unknown"
	}
}

// ChatMessage is an ephemeral chat line in flight. Raw text never reaches a
// recipient; delivery always uses Filtered.
type ChatMessage struct {
	SessionID string    `json:"session_id"`
	PlayerID  string    `json:"player_id,omitempty"`
	Sender    string    `json:"sender"`
	Scope     ChatScope `json:"scope"`
	Target    string    `json:"target,omitempty"` // recipient session for whispers
	Raw       string    `json:"-"`
	Filtered  string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}
