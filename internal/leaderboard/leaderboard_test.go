package leaderboard

import (
	"testing"
	"time"

	"github.com/ernie/arena-relay/internal/domain"
)

func record(s *Service, playerID, name string, score int64, at time.Time) {
	s.RecordScore(domain.ScoreEvent{PlayerID: playerID, Name: name, Score: score, At: at})
}

func TestScoresRankDescending(t *testing.T) {
	s := NewService()
	now := time.Now()
	record(s, "p1", "alpha", 100, now)
	record(s, "p2", "beta", 300, now)
	record(s, "p3", "gamma", 200, now)
	s.ApplyBatch()
	s.Publish(7)

	snap := s.Snapshot(domain.PeriodAllTime)
	if snap.Tick != 7 {
		t.Fatalf("snapshot tick = %d, want 7", snap.Tick)
	}
	if len(snap.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap.Entries))
	}
	wantOrder := []string{"p2", "p3", "p1"}
	for i, e := range snap.Entries {
		if e.PlayerID != wantOrder[i] {
			t.Errorf("rank %d: got %s, want %s", i+1, e.PlayerID, wantOrder[i])
		}
		if e.Rank != i+1 {
			t.Errorf("entry %d carries rank %d", i, e.Rank)
		}
	}
}

// Equal scores rank by who got there first; identical timestamps fall back
// to player ID so the order is still total.
func TestTieBreakByEarliestAchievement(t *testing.T) {
	s := NewService()
	now := time.Now()
	record(s, "late", "late", 500, now)
	record(s, "early", "early", 500, now.Add(-time.Minute))
	record(s, "zz", "zz", 500, now)
	s.ApplyBatch()
	s.Publish(1)

	snap := s.Snapshot(domain.PeriodAllTime)
	wantOrder := []string{"early", "late", "zz"}
	for i, e := range snap.Entries {
		if e.PlayerID != wantOrder[i] {
			t.Fatalf("rank %d: got %s, want %s", i+1, e.PlayerID, wantOrder[i])
		}
	}
}

// A player's recorded best only improves; a lower later score neither
// replaces the score nor refreshes the achievement time.
func TestScoreOnlyImproves(t *testing.T) {
	s := NewService()
	first := time.Now().Add(-time.Hour)
	record(s, "p1", "alpha", 500, first)
	record(s, "p1", "alpha", 300, time.Now())
	s.ApplyBatch()
	s.Publish(1)

	snap := s.Snapshot(domain.PeriodAllTime)
	if len(snap.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(snap.Entries))
	}
	e := snap.Entries[0]
	if e.Score != 500 {
		t.Fatalf("score regressed to %d", e.Score)
	}
	if !e.AchievedAt.Equal(first) {
		t.Fatalf("achievement time refreshed by a lower score: %v", e.AchievedAt)
	}
}

// Scores from a previous week stay on the all-time board but drop off the
// weekly and daily boards.
func TestPeriodBucketsExpire(t *testing.T) {
	s := NewService()
	record(s, "old", "old", 900, time.Now().AddDate(0, 0, -8))
	record(s, "new", "new", 100, time.Now())
	s.ApplyBatch()
	s.Publish(1)

	all := s.Snapshot(domain.PeriodAllTime)
	if len(all.Entries) != 2 || all.Entries[0].PlayerID != "old" {
		t.Fatalf("all-time board wrong: %+v", all.Entries)
	}

	week := s.Snapshot(domain.PeriodWeekly)
	if len(week.Entries) != 1 || week.Entries[0].PlayerID != "new" {
		t.Fatalf("weekly board should only hold this week's score: %+v", week.Entries)
	}

	day := s.Snapshot(domain.PeriodDaily)
	if len(day.Entries) != 1 || day.Entries[0].PlayerID != "new" {
		t.Fatalf("daily board should only hold today's score: %+v", day.Entries)
	}
}

// Publishing without new observations keeps the previous snapshot instead
// of recomputing.
func TestPublishIsLazyWhenClean(t *testing.T) {
	s := NewService()
	record(s, "p1", "alpha", 100, time.Now())
	s.ApplyBatch()
	s.Publish(1)
	before := s.Snapshot(domain.PeriodAllTime)

	s.Publish(2)
	after := s.Snapshot(domain.PeriodAllTime)
	if before != after {
		t.Fatal("clean publish replaced the snapshot")
	}

	record(s, "p2", "beta", 200, time.Now())
	s.ApplyBatch()
	s.Publish(3)
	if s.Snapshot(domain.PeriodAllTime) == before {
		t.Fatal("dirty publish did not produce a new snapshot")
	}
}

// A day rollover republishes even with no new scores, so the daily and
// weekly boards shed the previous bucket's entries instead of serving them
// stale.
func TestBucketRolloverRepublishesWithoutNewScores(t *testing.T) {
	s := NewService()
	base := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC) // Wednesday
	record(s, "p1", "alpha", 500, base)
	s.ApplyBatch()
	s.publishAt(1, base)

	if n := len(s.Snapshot(domain.PeriodDaily).Entries); n != 1 {
		t.Fatalf("daily entries on the publish day = %d", n)
	}

	// Next day, same week: the daily board empties, the weekly one holds.
	s.publishAt(2, base.AddDate(0, 0, 1))
	if n := len(s.Snapshot(domain.PeriodDaily).Entries); n != 0 {
		t.Fatalf("daily board kept yesterday's entries: %d", n)
	}
	if n := len(s.Snapshot(domain.PeriodWeekly).Entries); n != 1 {
		t.Fatalf("weekly board lost a same-week entry: %d", n)
	}
	if n := len(s.Snapshot(domain.PeriodAllTime).Entries); n != 1 {
		t.Fatalf("all-time board lost an entry: %d", n)
	}

	// A week later the weekly board empties too.
	s.publishAt(3, base.AddDate(0, 0, 7))
	if n := len(s.Snapshot(domain.PeriodWeekly).Entries); n != 0 {
		t.Fatalf("weekly board kept last week's entries: %d", n)
	}
	if n := len(s.Snapshot(domain.PeriodAllTime).Entries); n != 1 {
		t.Fatalf("all-time board lost an entry: %d", n)
	}
}

func TestSnapshotBeforeAnyPublishIsEmpty(t *testing.T) {
	s := NewService()
	snap := s.Snapshot(domain.PeriodWeekly)
	if snap == nil || len(snap.Entries) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
	if snap.Period != domain.PeriodWeekly {
		t.Fatalf("snapshot period = %q", snap.Period)
	}
}

func TestWeekStartsMonday(t *testing.T) {
	// 2026-08-23 is a Sunday; its ISO week starts Monday the 17th.
	sunday := time.Date(2026, 8, 23, 15, 0, 0, 0, time.UTC)
	want := time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)
	if got := weekStart(sunday); !got.Equal(want) {
		t.Fatalf("weekStart(%v) = %v, want %v", sunday, got, want)
	}
	monday := time.Date(2026, 8, 17, 0, 30, 0, 0, time.UTC)
	if got := weekStart(monday); !got.Equal(want) {
		t.Fatalf("weekStart(%v) = %v, want %v", monday, got, want)
	}
}
