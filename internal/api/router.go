// Package api serves the request-response surface: liveness, leaderboard
// retrieval, player lookup, admin session listing, and the websocket game
// channel upgrade. It is independent of the per-session binary protocol
// except for the upgrade endpoint.
package api

import (
	"net/http"

	"github.com/ernie/arena-relay/internal/arena"
	"github.com/ernie/arena-relay/internal/storage"
)

// Router holds the HTTP routes and dependencies
type Router struct {
	mux   *http.ServeMux
	srv   *arena.Server
	store *storage.Store
}

// NewRouter creates a new HTTP router
func NewRouter(srv *arena.Server, store *storage.Store) *Router {
	r := &Router{
		mux:   http.NewServeMux(),
		srv:   srv,
		store: store,
	}

	// Read endpoints
	r.mux.HandleFunc("GET /api/leaderboard", r.handleGetLeaderboard)
	r.mux.HandleFunc("GET /api/players", r.handleGetPlayers)
	r.mux.HandleFunc("GET /api/players/{id}", r.handleGetPlayer)

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)

	// Admin routes
	r.mux.HandleFunc("GET /api/sessions", r.requireAdmin(r.handleGetSessions))

	// Game channel
	r.mux.HandleFunc("GET /ws", r.handleGameSocket)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}
