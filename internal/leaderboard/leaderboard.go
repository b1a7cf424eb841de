// Package leaderboard maintains ranked player scores across rolling
// periods. Score updates arrive batched off the tick path; rankings are
// recomputed lazily and published as immutable snapshots so readers never
// observe a half-updated ordering.
package leaderboard

import (
	"sort"
	"sync"
	"time"

	"github.com/ernie/arena-relay/internal/domain"
)

// maxEntries bounds how many rows a published snapshot carries.
const maxEntries = 100

type scoreEntry struct {
	playerID   string
	name       string
	score      int64
	achievedAt time.Time
	bucket     time.Time // period bucket start; zero for all-time
}

// Service holds the live score set and the latest published snapshots.
type Service struct {
	mu      sync.Mutex
	scores  map[domain.LeaderboardPeriod]map[string]*scoreEntry
	pending []domain.ScoreEvent
	dirty   bool

	// pubDay is the UTC day of the last publish; zero until the first one.
	// A day rollover invalidates the daily and weekly boards even when no
	// score arrived in between.
	pubDay time.Time

	pubMu     sync.RWMutex
	published map[domain.LeaderboardPeriod]*domain.LeaderboardSnapshot
}

// NewService creates an empty leaderboard service.
func NewService() *Service {
	scores := make(map[domain.LeaderboardPeriod]map[string]*scoreEntry)
	for _, p := range []domain.LeaderboardPeriod{domain.PeriodAllTime, domain.PeriodWeekly, domain.PeriodDaily} {
		scores[p] = make(map[string]*scoreEntry)
	}
	return &Service{
		scores:    scores,
		published: make(map[domain.LeaderboardPeriod]*domain.LeaderboardSnapshot),
	}
}

// RecordScore queues one score observation. Cheap enough to call from the
// bus consumer; nothing is ranked until the next batch apply.
func (s *Service) RecordScore(ev domain.ScoreEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
}

// ApplyBatch folds all queued score observations into the ranked score set.
// A player's entry only improves: a lower score than the recorded best for
// the period leaves the entry untouched.
func (s *Service) ApplyBatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return
	}
	for _, ev := range s.pending {
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		s.applyOne(domain.PeriodAllTime, ev, at, time.Time{})
		s.applyOne(domain.PeriodWeekly, ev, at, weekStart(at))
		s.applyOne(domain.PeriodDaily, ev, at, dayStart(at))
	}
	s.pending = s.pending[:0]
	s.dirty = true
}

func (s *Service) applyOne(period domain.LeaderboardPeriod, ev domain.ScoreEvent, at, bucket time.Time) {
	entries := s.scores[period]
	e, ok := entries[ev.PlayerID]
	if !ok || !e.bucket.Equal(bucket) {
		entries[ev.PlayerID] = &scoreEntry{
			playerID:   ev.PlayerID,
			name:       ev.Name,
			score:      ev.Score,
			achievedAt: at,
			bucket:     bucket,
		}
		return
	}
	if ev.Name != "" {
		e.name = ev.Name
	}
	if ev.Score > e.score {
		e.score = ev.Score
		e.achievedAt = at
	}
}

// Publish recomputes rankings if the score set changed since the last
// publish and swaps in fresh immutable snapshots. Runs on its own cadence,
// never inside the tick boundary. A clean score set still republishes after
// a day rollover, so period boards shed the previous bucket's entries.
func (s *Service) Publish(tick domain.WorldTick) {
	s.publishAt(tick, time.Now())
}

func (s *Service) publishAt(tick domain.WorldTick, now time.Time) {
	s.mu.Lock()
	if !s.dirty && !s.pubDay.IsZero() && dayStart(now).Equal(s.pubDay) {
		s.mu.Unlock()
		return
	}
	snaps := make(map[domain.LeaderboardPeriod]*domain.LeaderboardSnapshot, len(s.scores))
	for period, entries := range s.scores {
		snaps[period] = s.rankLocked(period, entries, tick, now)
	}
	s.dirty = false
	s.pubDay = dayStart(now)
	s.mu.Unlock()

	s.pubMu.Lock()
	s.published = snaps
	s.pubMu.Unlock()
}

// rankLocked produces a total order: score descending, then earliest
// achievement time, then player ID so equal-timestamp submissions still
// rank deterministically.
func (s *Service) rankLocked(period domain.LeaderboardPeriod, entries map[string]*scoreEntry, tick domain.WorldTick, now time.Time) *domain.LeaderboardSnapshot {
	bucket := currentBucket(period, now)
	rows := make([]*scoreEntry, 0, len(entries))
	for _, e := range entries {
		if !e.bucket.Equal(bucket) {
			continue // stale period bucket, expired from this board
		}
		rows = append(rows, e)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		if !rows[i].achievedAt.Equal(rows[j].achievedAt) {
			return rows[i].achievedAt.Before(rows[j].achievedAt)
		}
		return rows[i].playerID < rows[j].playerID
	})
	if len(rows) > maxEntries {
		rows = rows[:maxEntries]
	}
	snap := &domain.LeaderboardSnapshot{
		Period:      period,
		Tick:        tick,
		PublishedAt: now,
		Entries:     make([]domain.LeaderboardEntry, len(rows)),
	}
	for i, e := range rows {
		snap.Entries[i] = domain.LeaderboardEntry{
			Rank:       i + 1,
			PlayerID:   e.playerID,
			Name:       e.name,
			Score:      e.score,
			AchievedAt: e.achievedAt,
		}
	}
	return snap
}

// Snapshot returns the latest published ranking for a period. The returned
// snapshot is immutable; callers may hold it indefinitely.
func (s *Service) Snapshot(period domain.LeaderboardPeriod) *domain.LeaderboardSnapshot {
	s.pubMu.RLock()
	defer s.pubMu.RUnlock()
	if snap, ok := s.published[period]; ok {
		return snap
	}
	return &domain.LeaderboardSnapshot{Period: period}
}

func currentBucket(period domain.LeaderboardPeriod, now time.Time) time.Time {
	switch period {
	case domain.PeriodWeekly:
		return weekStart(now)
	case domain.PeriodDaily:
		return dayStart(now)
	default:
		return time.Time{}
	}
}

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func weekStart(t time.Time) time.Time {
	day := dayStart(t)
	// ISO week starts Monday.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
