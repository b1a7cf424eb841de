// Package broadcast fans encoded frames out to sessions each tick. Every
// session drains an independent queue, so one slow client never stalls the
// tick loop or its neighbors.
package broadcast

import (
	"errors"
	"log"

	"github.com/ernie/arena-relay/internal/domain"
	"github.com/ernie/arena-relay/internal/snapshot"
	"github.com/ernie/arena-relay/internal/wire"
)

// Target is the broadcaster's view of one session: baseline bookkeeping
// plus the outbound queue. Sessions themselves are owned elsewhere and
// referenced by ID only.
type Target interface {
	SessionID() string
	Baseline() (domain.WorldTick, bool)
	ResetBaseline()
	Outbound() *Queue
}

// Roster enumerates the sessions currently subscribed to the world and
// retires the ones that cannot keep up.
type Roster interface {
	ForEachActive(fn func(Target))
	// DropSlowConsumer closes a session whose critical channel is
	// saturated. Invoked by the broadcaster when a critical frame cannot
	// be enqueued; the alternative would be losing the frame.
	DropSlowConsumer(id string)
}

// Broadcaster encodes and enqueues per-session frames once per tick. It is
// driven synchronously from the tick loop and never blocks on network I/O;
// queues absorb the handoff to the per-session writer pumps.
type Broadcaster struct {
	enc    *snapshot.Encoder
	roster Roster
}

// New creates a broadcaster over an encoder and a session roster.
func New(enc *snapshot.Encoder, roster Roster) *Broadcaster {
	return &Broadcaster{enc: enc, roster: roster}
}

// Publish records the tick in history and fans out one frame per active
// session: a field-level delta when the session's baseline allows it, a
// full snapshot otherwise. Empty deltas are skipped entirely.
func (b *Broadcaster) Publish(tick domain.WorldTick, entities []domain.EntitySnapshot) {
	b.enc.History().Record(tick, entities)

	b.roster.ForEachActive(func(t Target) {
		baseline, ok := t.Baseline()
		frame, isDelta := b.enc.Encode(baseline, ok, tick, entities)

		var f Frame
		if isDelta {
			if frame.Delta.Empty() {
				return
			}
			f = Frame{Tick: tick, Kind: wire.FrameDelta, Data: wire.EncodeDelta(frame.Delta)}
		} else {
			t.ResetBaseline()
			f = Frame{Tick: tick, Kind: wire.FrameFullSnapshot, Data: wire.EncodeFull(tick, frame.Entities)}
		}
		if err := t.Outbound().Enqueue(f); err != nil {
			log.Printf("Session %s outbound failure: %v", t.SessionID(), err)
		}
	})
}

// PublishLeaderboard distributes a published ranking to every active
// session. Leaderboard frames are critical and never dropped by
// backpressure: a session that cannot absorb one is closed instead.
func (b *Broadcaster) PublishLeaderboard(snap *domain.LeaderboardSnapshot) {
	data := wire.EncodeLeaderboard(snap)
	b.roster.ForEachActive(func(t Target) {
		err := t.Outbound().Enqueue(Frame{Tick: snap.Tick, Kind: wire.FrameLeaderboard, Data: data})
		if err == nil {
			return
		}
		log.Printf("Session %s leaderboard delivery failure: %v", t.SessionID(), err)
		if errors.Is(err, ErrSlowConsumer) {
			b.roster.DropSlowConsumer(t.SessionID())
		}
	})
}
