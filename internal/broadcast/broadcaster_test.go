package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/ernie/arena-relay/internal/domain"
	"github.com/ernie/arena-relay/internal/snapshot"
	"github.com/ernie/arena-relay/internal/wire"
)

// captureWriter records decoded frame kinds in arrival order.
type captureWriter struct {
	mu     sync.Mutex
	frames []capturedFrame
}

type capturedFrame struct {
	kind wire.FrameKind
	tick domain.WorldTick
	data []byte
}

func (w *captureWriter) WriteBinary(data []byte) error {
	kind, tick, _, err := wire.DecodeFrame(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.frames = append(w.frames, capturedFrame{kind: kind, tick: tick, data: data})
	w.mu.Unlock()
	return nil
}

func (w *captureWriter) Close() error { return nil }

func (w *captureWriter) waitFrames(t *testing.T, n int) []capturedFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		if len(w.frames) >= n {
			out := make([]capturedFrame, len(w.frames))
			copy(out, w.frames)
			w.mu.Unlock()
			return out
		}
		w.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames", n)
	return nil
}

// fakeTarget is a minimal session stand-in with baseline bookkeeping.
type fakeTarget struct {
	id string

	mu      sync.Mutex
	ackTick domain.WorldTick
	hasAck  bool
	queue   *Queue
	resets  int
}

func newFakeTarget(id string, w FrameWriter) *fakeTarget {
	return &fakeTarget{id: id, queue: NewQueue(w, 16, 16, nil)}
}

func (f *fakeTarget) SessionID() string { return f.id }

func (f *fakeTarget) Baseline() (domain.WorldTick, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ackTick, f.hasAck
}

func (f *fakeTarget) ResetBaseline() {
	f.mu.Lock()
	f.hasAck = false
	f.resets++
	f.mu.Unlock()
}

func (f *fakeTarget) ack(tick domain.WorldTick) {
	f.mu.Lock()
	f.ackTick = tick
	f.hasAck = true
	f.mu.Unlock()
}

func (f *fakeTarget) Outbound() *Queue { return f.queue }

type fakeRoster struct {
	targets []*fakeTarget

	mu      sync.Mutex
	dropped []string
}

func (r *fakeRoster) ForEachActive(fn func(Target)) {
	for _, t := range r.targets {
		fn(t)
	}
}

func (r *fakeRoster) DropSlowConsumer(id string) {
	r.mu.Lock()
	r.dropped = append(r.dropped, id)
	r.mu.Unlock()
}

// Until a session acknowledges a tick it keeps receiving full snapshots;
// after an ack it receives deltas.
func TestPublishFullThenDeltaAfterAck(t *testing.T) {
	w := &captureWriter{}
	target := newFakeTarget("s1", w)
	defer target.queue.Close()

	history := snapshot.NewHistory(8)
	b := New(snapshot.NewEncoder(history, 1e-4), &fakeRoster{targets: []*fakeTarget{target}})

	world := []domain.EntitySnapshot{{ID: 1, Kind: domain.EntityShip, X: 5}}
	b.Publish(10, world)

	frames := w.waitFrames(t, 1)
	if frames[0].kind != wire.FrameFullSnapshot || frames[0].tick != 10 {
		t.Fatalf("expected full snapshot at tick 10, got %v at %d", frames[0].kind, frames[0].tick)
	}

	target.ack(10)
	world = []domain.EntitySnapshot{{ID: 1, Kind: domain.EntityShip, X: 6}}
	b.Publish(11, world)

	frames = w.waitFrames(t, 2)
	if frames[1].kind != wire.FrameDelta || frames[1].tick != 11 {
		t.Fatalf("expected delta at tick 11, got %v at %d", frames[1].kind, frames[1].tick)
	}
}

// A tick where nothing changed beyond epsilon produces no frame at all for
// an acknowledged session.
func TestPublishSkipsEmptyDeltas(t *testing.T) {
	w := &captureWriter{}
	target := newFakeTarget("s1", w)
	defer target.queue.Close()

	history := snapshot.NewHistory(8)
	b := New(snapshot.NewEncoder(history, 1e-4), &fakeRoster{targets: []*fakeTarget{target}})

	world := []domain.EntitySnapshot{{ID: 1, Kind: domain.EntityShip, X: 5}}
	b.Publish(10, world)
	w.waitFrames(t, 1)

	target.ack(10)
	b.Publish(11, world) // identical world state

	time.Sleep(50 * time.Millisecond)
	w.mu.Lock()
	n := len(w.frames)
	w.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected no frame for an unchanged tick, got %d total", n)
	}
}

// Sending a full snapshot resets the baseline so the next tick is full
// again until the client acknowledges.
func TestFullSnapshotResetsBaseline(t *testing.T) {
	w := &captureWriter{}
	target := newFakeTarget("s1", w)
	defer target.queue.Close()

	history := snapshot.NewHistory(2)
	b := New(snapshot.NewEncoder(history, 1e-4), &fakeRoster{targets: []*fakeTarget{target}})

	// Acked baseline far outside the 2-tick horizon forces a full snapshot.
	target.ack(1)
	for tick := domain.WorldTick(10); tick <= 12; tick++ {
		b.Publish(tick, []domain.EntitySnapshot{{ID: 1, X: float32(tick)}})
	}

	frames := w.waitFrames(t, 3)
	for i, f := range frames {
		if f.kind != wire.FrameFullSnapshot {
			t.Fatalf("frame %d should be full while unacknowledged, got %v", i, f.kind)
		}
	}
	target.mu.Lock()
	resets := target.resets
	target.mu.Unlock()
	if resets == 0 {
		t.Fatal("baseline never reset after full snapshot")
	}
}

// Leaderboard snapshots fan out to every active session as critical frames.
func TestPublishLeaderboardReachesAllSessions(t *testing.T) {
	w1, w2 := &captureWriter{}, &captureWriter{}
	t1, t2 := newFakeTarget("s1", w1), newFakeTarget("s2", w2)
	defer t1.queue.Close()
	defer t2.queue.Close()

	history := snapshot.NewHistory(8)
	b := New(snapshot.NewEncoder(history, 1e-4), &fakeRoster{targets: []*fakeTarget{t1, t2}})

	snap := &domain.LeaderboardSnapshot{
		Period: domain.PeriodAllTime,
		Tick:   42,
		Entries: []domain.LeaderboardEntry{
			{Rank: 1, PlayerID: "p1", Name: "ace", Score: 900, AchievedAt: time.Now()},
		},
	}
	b.PublishLeaderboard(snap)

	for i, w := range []*captureWriter{w1, w2} {
		frames := w.waitFrames(t, 1)
		if frames[0].kind != wire.FrameLeaderboard || frames[0].tick != 42 {
			t.Fatalf("session %d: expected leaderboard frame at tick 42, got %v at %d", i, frames[0].kind, frames[0].tick)
		}
	}
}

// A session whose critical channel is saturated is reported to the roster
// for closing; the leaderboard frame must never be silently lost on a live
// session.
func TestPublishLeaderboardDropsSaturatedSession(t *testing.T) {
	w := newGateWriter()
	target := &fakeTarget{id: "s1", queue: NewQueue(w, 1, 1, nil)}
	defer target.queue.Close()

	roster := &fakeRoster{targets: []*fakeTarget{target}}
	history := snapshot.NewHistory(8)
	b := New(snapshot.NewEncoder(history, 1e-4), roster)

	snap := &domain.LeaderboardSnapshot{Period: domain.PeriodAllTime, Tick: 1}
	b.PublishLeaderboard(snap)
	w.next(t) // pump now blocked mid-write

	b.PublishLeaderboard(snap) // fills the 1-deep critical channel
	roster.mu.Lock()
	n := len(roster.dropped)
	roster.mu.Unlock()
	if n != 0 {
		t.Fatalf("session dropped while its channel still had room: %v", roster.dropped)
	}

	b.PublishLeaderboard(snap) // overflows it
	roster.mu.Lock()
	dropped := append([]string(nil), roster.dropped...)
	roster.mu.Unlock()
	if len(dropped) != 1 || dropped[0] != "s1" {
		t.Fatalf("saturated session not reported for closing: %v", dropped)
	}

	w.release <- struct{}{}
	w.release <- struct{}{}
}
