package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ernie/arena-relay/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth reports liveness and basic counters
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.srv.Health())
}

// handleGetLeaderboard returns the latest published ranking for a period
func (r *Router) handleGetLeaderboard(w http.ResponseWriter, req *http.Request) {
	period := domain.LeaderboardPeriod(req.URL.Query().Get("period"))
	if period == "" {
		period = domain.PeriodAllTime
	}
	if !period.Valid() {
		writeError(w, http.StatusBadRequest, "unknown period")
		return
	}
	writeJSON(w, http.StatusOK, r.srv.Leaderboard.Snapshot(period))
}

// handleGetPlayers returns the top lifetime scores on record
func (r *Router) handleGetPlayers(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	limit := 20
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	players, err := r.store.TopPlayers(req.Context(), limit)
	if err != nil {
		log.Printf("Error listing players: %v", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, players)
}

// handleGetPlayer returns one durable player record
func (r *Router) handleGetPlayer(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}
	rec, err := r.store.LoadPlayer(req.Context(), req.PathValue("id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}
	if err != nil {
		log.Printf("Error loading player: %v", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetSessions lists live sessions (admin only)
func (r *Router) handleGetSessions(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.srv.Manager.Sessions())
}
