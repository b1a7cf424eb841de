package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ernie/arena-relay/internal/domain"
	_ "modernc.org/sqlite"
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func parseTimestamp(s string) time.Time {
	if t, err := time.Parse("2006-01-02T15:04:05.000Z", s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02T15:04:05Z", s)
	return t
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable foreign keys, WAL mode for better performance, and busy timeout for concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	// Create tables
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Player methods ---

// UpsertPlayer creates or updates a player record. The upsert is keyed and
// idempotent: best_score only ever increases, first_seen only ever moves
// earlier, and moderation counters never regress, so retries are safe.
func (s *Store) UpsertPlayer(ctx context.Context, rec *domain.PlayerRecord) error {
	if rec.PlayerID == "" {
		return fmt.Errorf("upserting player: empty player id")
	}
	firstSeen := rec.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}
	lastSeen := rec.LastSeen
	if lastSeen.IsZero() {
		lastSeen = firstSeen
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (player_id, name, best_score, muted, offenses, plays, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(player_id) DO UPDATE SET
			name       = excluded.name,
			best_score = MAX(players.best_score, excluded.best_score),
			muted      = MAX(players.muted, excluded.muted),
			offenses   = MAX(players.offenses, excluded.offenses),
			plays      = MAX(players.plays, excluded.plays),
			first_seen = MIN(players.first_seen, excluded.first_seen),
			last_seen  = MAX(players.last_seen, excluded.last_seen)
	`, rec.PlayerID, rec.Name, rec.BestScore, boolToInt(rec.Muted), rec.Offenses, rec.Plays,
		formatTimestamp(firstSeen), formatTimestamp(lastSeen))
	if err != nil {
		return fmt.Errorf("upserting player %s: %w", rec.PlayerID, wrapUnavailable(err))
	}
	return nil
}

// LoadPlayer fetches a player record by identity key. Returns
// domain.ErrNotFound when no record exists.
func (s *Store) LoadPlayer(ctx context.Context, playerID string) (*domain.PlayerRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT player_id, name, best_score, muted, offenses, plays, first_seen, last_seen
		FROM players WHERE player_id = ?
	`, playerID)

	var rec domain.PlayerRecord
	var muted int
	var firstSeen, lastSeen string
	err := row.Scan(&rec.PlayerID, &rec.Name, &rec.BestScore, &muted, &rec.Offenses, &rec.Plays, &firstSeen, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading player %s: %w", playerID, wrapUnavailable(err))
	}
	rec.Muted = muted != 0
	rec.FirstSeen = parseTimestamp(firstSeen)
	rec.LastSeen = parseTimestamp(lastSeen)
	return &rec, nil
}

// TopPlayers returns the highest lifetime scores on record.
func (s *Store) TopPlayers(ctx context.Context, limit int) ([]*domain.PlayerRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT player_id, name, best_score, muted, offenses, plays, first_seen, last_seen
		FROM players ORDER BY best_score DESC, last_seen DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top players: %w", wrapUnavailable(err))
	}
	defer rows.Close()

	var out []*domain.PlayerRecord
	for rows.Next() {
		var rec domain.PlayerRecord
		var muted int
		var firstSeen, lastSeen string
		if err := rows.Scan(&rec.PlayerID, &rec.Name, &rec.BestScore, &muted, &rec.Offenses, &rec.Plays, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning player row: %w", err)
		}
		rec.Muted = muted != 0
		rec.FirstSeen = parseTimestamp(firstSeen)
		rec.LastSeen = parseTimestamp(lastSeen)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// --- Leaderboard snapshot methods ---

// SaveLeaderboard persists one published leaderboard snapshot.
func (s *Store) SaveLeaderboard(ctx context.Context, snap *domain.LeaderboardSnapshot) error {
	if len(snap.Entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saving leaderboard: %w", wrapUnavailable(err))
	}
	defer tx.Rollback()

	captured := formatTimestamp(snap.PublishedAt)
	for _, e := range snap.Entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO leaderboard_snapshots (period, captured_at, rank, player_id, name, score, achieved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, string(snap.Period), captured, e.Rank, e.PlayerID, e.Name, e.Score, formatTimestamp(e.AchievedAt)); err != nil {
			return fmt.Errorf("saving leaderboard entry: %w", wrapUnavailable(err))
		}
	}
	return tx.Commit()
}

// LoadLeaderboard returns the most recently captured snapshot for a period.
func (s *Store) LoadLeaderboard(ctx context.Context, period domain.LeaderboardPeriod) (*domain.LeaderboardSnapshot, error) {
	var captured string
	err := s.db.QueryRowContext(ctx, `
		SELECT captured_at FROM leaderboard_snapshots WHERE period = ?
		ORDER BY captured_at DESC LIMIT 1
	`, string(period)).Scan(&captured)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading leaderboard: %w", wrapUnavailable(err))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rank, player_id, name, score, achieved_at
		FROM leaderboard_snapshots WHERE period = ? AND captured_at = ?
		ORDER BY rank
	`, string(period), captured)
	if err != nil {
		return nil, fmt.Errorf("loading leaderboard: %w", wrapUnavailable(err))
	}
	defer rows.Close()

	snap := &domain.LeaderboardSnapshot{Period: period, PublishedAt: parseTimestamp(captured)}
	for rows.Next() {
		var e domain.LeaderboardEntry
		var achieved string
		if err := rows.Scan(&e.Rank, &e.PlayerID, &e.Name, &e.Score, &achieved); err != nil {
			return nil, fmt.Errorf("scanning leaderboard row: %w", err)
		}
		e.AchievedAt = parseTimestamp(achieved)
		snap.Entries = append(snap.Entries, e)
	}
	return snap, rows.Err()
}

// --- User methods ---

// User is an administrative account for the read/admin API.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateUser adds an administrative account.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?)
	`, username, passwordHash, boolToInt(isAdmin), formatTimestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("creating user %s: %w", username, wrapUnavailable(err))
	}
	return nil
}

// GetUser fetches an account by username. Returns domain.ErrNotFound when
// no such user exists.
func (s *Store) GetUser(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, is_admin, created_at FROM users WHERE username = ?
	`, username)
	var u User
	var isAdmin int
	var created string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &isAdmin, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", username, wrapUnavailable(err))
	}
	u.IsAdmin = isAdmin != 0
	u.CreatedAt = parseTimestamp(created)
	return &u, nil
}

// DeleteUser removes an account by username.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("deleting user %s: %w", username, wrapUnavailable(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListUsers returns all accounts ordered by creation.
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, is_admin, created_at FROM users ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", wrapUnavailable(err))
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		var u User
		var isAdmin int
		var created string
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &isAdmin, &created); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		u.IsAdmin = isAdmin != 0
		u.CreatedAt = parseTimestamp(created)
		out = append(out, &u)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// wrapUnavailable tags backend failures so callers can degrade to ephemeral
// identity instead of blocking. Not-found is handled separately.
func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}
