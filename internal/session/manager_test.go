package session

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ernie/arena-relay/internal/auth"
	"github.com/ernie/arena-relay/internal/broadcast"
	"github.com/ernie/arena-relay/internal/chat"
	"github.com/ernie/arena-relay/internal/config"
	"github.com/ernie/arena-relay/internal/domain"
	"github.com/ernie/arena-relay/internal/snapshot"
	"github.com/ernie/arena-relay/internal/wire"
)

// stallWriter blocks every write until released, simulating a client that
// stopped reading.
type stallWriter struct {
	writes  chan []byte
	release chan struct{}
}

func newStallWriter() *stallWriter {
	return &stallWriter{writes: make(chan []byte, 16), release: make(chan struct{})}
}

func (w *stallWriter) WriteBinary(data []byte) error {
	w.writes <- data
	<-w.release
	return nil
}

func (w *stallWriter) Close() error { return nil }

func (w *stallWriter) next(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-w.writes:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return nil
	}
}

// collectWriter records every written frame for inspection.
type collectWriter struct {
	mu     sync.Mutex
	frames [][]byte
}

func (w *collectWriter) WriteBinary(data []byte) error {
	w.mu.Lock()
	w.frames = append(w.frames, data)
	w.mu.Unlock()
	return nil
}

func (w *collectWriter) Close() error { return nil }

func (w *collectWriter) waitKind(t *testing.T, kind wire.FrameKind) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		for _, data := range w.frames {
			k, _, payload, err := wire.DecodeFrame(data)
			if err == nil && k == kind {
				w.mu.Unlock()
				return payload
			}
		}
		w.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %v frame arrived", kind)
	return nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.DrainGrace = 50 * time.Millisecond
	cfg.Server.HandshakeBurst = 100
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Chat.Blocklist = []string{"grief"}
	cfg.Chat.MuteThreshold = 2
	return cfg
}

func newTestManager(cfg *config.Config) *Manager {
	return NewManager(cfg, auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration), nil, nil, chat.NewBlocklistFilter(cfg.Chat.Blocklist))
}

func openSession(t *testing.T, m *Manager, hs auth.Handshake) (*Session, *collectWriter) {
	t.Helper()
	if hs.UserAgent == "" {
		hs.UserAgent = "Mozilla/5.0 test"
	}
	if hs.RemoteIP == "" {
		hs.RemoteIP = "127.0.0.1"
	}
	w := &collectWriter{}
	sess, err := m.Open(hs, w)
	if err != nil {
		t.Fatalf("opening session: %v", err)
	}
	return sess, w
}

func waitClosed(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Count() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sessions never finalized, %d still live", m.Count())
}

// An anonymous handshake mints a fresh identity and hands the client a
// token that resumes it.
func TestAnonymousHandshakeMintsResumableIdentity(t *testing.T) {
	cfg := testConfig()
	m := newTestManager(cfg)
	sess, w := openSession(t, m, auth.Handshake{Name: "ace"})
	defer m.Shutdown()

	if !strings.HasPrefix(sess.PlayerID(), "anon-") {
		t.Fatalf("anonymous identity missing: %q", sess.PlayerID())
	}
	if sess.State() != domain.StateAuthenticated {
		t.Fatalf("state after handshake = %v", sess.State())
	}

	payload := w.waitKind(t, wire.FrameWelcome)
	wl, err := wire.DecodeWelcome(payload)
	if err != nil {
		t.Fatalf("decoding welcome: %v", err)
	}
	if wl.SessionID != sess.SessionID() || wl.PlayerID != sess.PlayerID() {
		t.Fatalf("welcome identity mismatch: %+v", wl)
	}

	claims, err := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration).ValidateToken(wl.Token)
	if err != nil {
		t.Fatalf("minted token invalid: %v", err)
	}
	if claims.PlayerID != sess.PlayerID() {
		t.Fatalf("minted token resumes %q, want %q", claims.PlayerID, sess.PlayerID())
	}
}

func TestTokenHandshakeResumesIdentity(t *testing.T) {
	cfg := testConfig()
	m := newTestManager(cfg)
	defer m.Shutdown()

	svc := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	token, err := svc.GenerateToken("player-7", "vet", false)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	sess, _ := openSession(t, m, auth.Handshake{Token: token})
	if sess.PlayerID() != "player-7" {
		t.Fatalf("token did not resume identity: %q", sess.PlayerID())
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	m := newTestManager(testConfig())
	_, err := m.Open(auth.Handshake{Token: "garbage", UserAgent: "ua", RemoteIP: "127.0.0.1"}, &collectWriter{})
	if !errors.Is(err, domain.ErrAuthToken) {
		t.Fatalf("expected ErrAuthToken, got %v", err)
	}
	if m.Count() != 0 {
		t.Fatal("rejected handshake left a session behind")
	}
}

func TestSubscribeActivatesAndAckSetsBaseline(t *testing.T) {
	m := newTestManager(testConfig())
	defer m.Shutdown()
	sess, _ := openSession(t, m, auth.Handshake{Name: "ace"})

	if err := m.Route(sess.SessionID(), wire.EncodeSubscribe("eu-west")); err != nil {
		t.Fatalf("routing subscribe: %v", err)
	}
	if sess.State() != domain.StateActive {
		t.Fatalf("state after subscribe = %v", sess.State())
	}

	if _, ok := sess.Baseline(); ok {
		t.Fatal("baseline set before any ack")
	}
	if err := m.Route(sess.SessionID(), wire.EncodeAck(17)); err != nil {
		t.Fatalf("routing ack: %v", err)
	}
	tick, ok := sess.Baseline()
	if !ok || tick != 17 {
		t.Fatalf("baseline = (%d, %v), want (17, true)", tick, ok)
	}
}

// One malformed message is dropped and logged; three in a row force the
// session out.
func TestRepeatedMalformedMessagesDrainSession(t *testing.T) {
	m := newTestManager(testConfig())
	sess, _ := openSession(t, m, auth.Handshake{Name: "ace"})

	for i := 0; i < 2; i++ {
		if err := m.Route(sess.SessionID(), []byte{0xFF, 0xFF}); !errors.Is(err, domain.ErrProtocol) {
			t.Fatalf("malformed message %d: got %v", i+1, err)
		}
		if st := sess.State(); st == domain.StateDraining || st == domain.StateClosed {
			t.Fatalf("session closed after only %d strikes", i+1)
		}
	}
	if err := m.Route(sess.SessionID(), []byte{0xFF, 0xFF}); !errors.Is(err, domain.ErrProtocol) {
		t.Fatalf("third malformed message: got %v", err)
	}
	waitClosed(t, m)
}

// A valid message resets the malformed counter; only consecutive garbage
// counts toward the limit.
func TestValidMessageResetsMalformedCount(t *testing.T) {
	m := newTestManager(testConfig())
	defer m.Shutdown()
	sess, _ := openSession(t, m, auth.Handshake{Name: "ace"})

	for round := 0; round < 3; round++ {
		m.Route(sess.SessionID(), []byte{0xFF})
		m.Route(sess.SessionID(), []byte{0xFF})
		if err := m.Route(sess.SessionID(), wire.EncodeAck(uint64(round))); err != nil {
			t.Fatalf("valid ack rejected: %v", err)
		}
	}
	if st := sess.State(); st == domain.StateDraining || st == domain.StateClosed {
		t.Fatal("interleaved garbage closed a healthy session")
	}
}

// Blocked words are censored on delivery and repeated offenses mute the
// sender.
func TestRepeatedBlockedChatMutesSender(t *testing.T) {
	m := newTestManager(testConfig())
	defer m.Shutdown()

	sender, _ := openSession(t, m, auth.Handshake{Name: "ace"})
	receiver, rw := openSession(t, m, auth.Handshake{Name: "bob"})
	m.Route(sender.SessionID(), wire.EncodeSubscribe("eu"))
	m.Route(receiver.SessionID(), wire.EncodeSubscribe("eu"))

	chatData := wire.EncodeChatRequest(&wire.ChatRequest{Scope: domain.ChatBroadcast, Text: "pure grief tactics"})
	if err := m.Route(sender.SessionID(), chatData); err != nil {
		t.Fatalf("routing chat: %v", err)
	}

	payload := rw.waitKind(t, wire.FrameChat)
	msg, err := wire.DecodeChat(payload)
	if err != nil {
		t.Fatalf("decoding chat: %v", err)
	}
	if strings.Contains(msg.Filtered, "grief") {
		t.Fatalf("raw blocked word delivered: %q", msg.Filtered)
	}
	if msg.Sender != "ace" {
		t.Fatalf("sender mismatch: %q", msg.Sender)
	}

	// Second offense crosses the mute threshold.
	if err := m.Route(sender.SessionID(), chatData); err != nil {
		t.Fatalf("routing second chat: %v", err)
	}
	sender.mu.Lock()
	muted := sender.muted
	offenses := sender.offenses
	sender.mu.Unlock()
	if offenses != 2 {
		t.Fatalf("offenses = %d, want 2", offenses)
	}
	if !muted {
		t.Fatal("sender not muted after repeated offenses")
	}
}

func TestWhisperReachesOnlyTarget(t *testing.T) {
	m := newTestManager(testConfig())
	defer m.Shutdown()

	sender, _ := openSession(t, m, auth.Handshake{Name: "ace"})
	target, tw := openSession(t, m, auth.Handshake{Name: "bob"})
	bystander, bw := openSession(t, m, auth.Handshake{Name: "carol"})
	for _, s := range []*Session{sender, target, bystander} {
		m.Route(s.SessionID(), wire.EncodeSubscribe("eu"))
	}

	data := wire.EncodeChatRequest(&wire.ChatRequest{Scope: domain.ChatWhisper, Target: target.SessionID(), Text: "psst"})
	if err := m.Route(sender.SessionID(), data); err != nil {
		t.Fatalf("routing whisper: %v", err)
	}

	tw.waitKind(t, wire.FrameChat)

	time.Sleep(50 * time.Millisecond)
	bw.mu.Lock()
	defer bw.mu.Unlock()
	for _, data := range bw.frames {
		if k, _, _, err := wire.DecodeFrame(data); err == nil && k == wire.FrameChat {
			t.Fatal("whisper leaked to a bystander")
		}
	}
}

func TestHandshakeRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Server.HandshakeRate = 0.001 // effectively one per long interval
	cfg.Server.HandshakeBurst = 1
	m := newTestManager(cfg)
	defer m.Shutdown()

	hs := auth.Handshake{Name: "ace", UserAgent: "ua", RemoteIP: "10.9.8.7"}
	for i := 0; i < 2; i++ {
		if _, err := m.Open(hs, &collectWriter{}); err != nil {
			t.Fatalf("handshake %d within burst rejected: %v", i+1, err)
		}
	}
	if _, err := m.Open(hs, &collectWriter{}); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestSweepIdleClosesQuietSessions(t *testing.T) {
	m := newTestManager(testConfig())
	sess, _ := openSession(t, m, auth.Handshake{Name: "ace"})
	m.Route(sess.SessionID(), wire.EncodeSubscribe("eu"))

	m.SweepIdle(time.Now().Add(time.Hour))
	waitClosed(t, m)
}

// A saturated critical channel on the leaderboard fan-out closes the
// session instead of silently losing the frame.
func TestLeaderboardBackpressureClosesSlowSession(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.CriticalCapacity = 1
	m := newTestManager(cfg)

	w := newStallWriter()
	defer close(w.release)
	sess, err := m.Open(auth.Handshake{Name: "ace", UserAgent: "Mozilla/5.0 test", RemoteIP: "127.0.0.1"}, w)
	if err != nil {
		t.Fatalf("opening session: %v", err)
	}
	if err := m.Route(sess.SessionID(), wire.EncodeSubscribe("eu")); err != nil {
		t.Fatalf("routing subscribe: %v", err)
	}
	w.next(t) // writer now stalled on the welcome frame

	b := broadcast.New(snapshot.NewEncoder(snapshot.NewHistory(8), 1e-4), m)
	snap := &domain.LeaderboardSnapshot{Period: domain.PeriodAllTime, Tick: 1}
	b.PublishLeaderboard(snap) // fills the 1-deep critical channel
	if sess.State() == domain.StateDraining || sess.State() == domain.StateClosed {
		t.Fatal("session closed while its channel still had room")
	}

	b.PublishLeaderboard(snap) // overflows it
	waitClosed(t, m)
	if sess.State() != domain.StateClosed {
		t.Fatalf("state after overflow = %v", sess.State())
	}
}

// Dropping a slow consumer reports the dedicated close reason.
func TestDropSlowConsumerClosesWithReason(t *testing.T) {
	m := newTestManager(testConfig())
	sess, w := openSession(t, m, auth.Handshake{Name: "ace"})

	m.DropSlowConsumer(sess.SessionID())

	payload := w.waitKind(t, wire.FrameClose)
	reason, err := wire.DecodeClose(payload)
	if err != nil {
		t.Fatalf("decoding close: %v", err)
	}
	if reason != domain.CloseSlowConsumer {
		t.Fatalf("close reason = %q, want %q", reason, domain.CloseSlowConsumer)
	}
	waitClosed(t, m)
}

// The durable record built at finalize reflects the session's end state:
// latest score, moderation flags, and play counters.
func TestFinalRecordMergesSessionState(t *testing.T) {
	m := newTestManager(testConfig())
	defer m.Shutdown()
	sess, _ := openSession(t, m, auth.Handshake{Name: "ace"})

	m.UpdateScore(sess.PlayerID(), 777)
	sess.mu.Lock()
	sess.offenses = 3
	sess.muted = true
	sess.mu.Unlock()

	now := time.Now()
	rec := sess.record(now)
	if rec.PlayerID != sess.PlayerID() || rec.Name != "ace" {
		t.Fatalf("record identity mismatch: %+v", rec)
	}
	if rec.BestScore != 777 {
		t.Fatalf("record score = %d, want 777", rec.BestScore)
	}
	if rec.Offenses != 3 || !rec.Muted {
		t.Fatalf("moderation state lost: %+v", rec)
	}
	if rec.Plays != 1 {
		t.Fatalf("record plays = %d, want 1", rec.Plays)
	}
	if !rec.LastSeen.Equal(now) {
		t.Fatalf("record last seen = %v, want %v", rec.LastSeen, now)
	}
}

func TestCloseSendsReasonAndFinalizes(t *testing.T) {
	m := newTestManager(testConfig())
	sess, w := openSession(t, m, auth.Handshake{Name: "ace"})

	m.Close(sess.SessionID(), domain.CloseServerShutdown)

	payload := w.waitKind(t, wire.FrameClose)
	reason, err := wire.DecodeClose(payload)
	if err != nil {
		t.Fatalf("decoding close: %v", err)
	}
	if reason != domain.CloseServerShutdown {
		t.Fatalf("close reason = %q", reason)
	}
	waitClosed(t, m)

	// Closing again is a no-op.
	m.Close(sess.SessionID(), domain.CloseClientQuit)
}
