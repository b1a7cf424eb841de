package auth

import (
	"strings"

	"github.com/ernie/arena-relay/internal/domain"
)

// Handshake is the connection metadata available when a client connects,
// before any world subscription happens.
type Handshake struct {
	Token     string
	Name      string
	UserAgent string
	RemoteIP  string
}

// headless fragments that mark automated clients outright.
var botAgentFragments = []string{
	"bot", "crawler", "spider", "curl/", "wget/", "python-requests", "headless",
}

// ClassifyTrust decides a connection's trust level from handshake metadata.
// This is a heuristic gate, not an anti-cheat system: bots are admitted but
// excluded from leaderboards.
func ClassifyTrust(hs Handshake) domain.TrustLevel {
	ua := strings.ToLower(hs.UserAgent)
	if ua == "" {
		return domain.TrustSuspect
	}
	for _, frag := range botAgentFragments {
		if strings.Contains(ua, frag) {
			return domain.TrustBot
		}
	}
	return domain.TrustPlayer
}
