package domain

import "errors"

var (
	// ErrAuthToken means the handshake identity token was invalid or
	// expired. The session never reaches Active.
	ErrAuthToken = errors.New("invalid or expired identity token")

	// ErrProtocol means an inbound frame could not be decoded. The frame
	// is dropped and the session penalized; the session survives unless
	// violations repeat.
	ErrProtocol = errors.New("malformed inbound frame")

	// ErrBaselineExpired means a delta baseline fell outside the retained
	// tick horizon. Recovered locally by forcing a full snapshot; never
	// surfaced to a client.
	ErrBaselineExpired = errors.New("baseline tick outside retained horizon")

	// ErrStorageUnavailable means the persistence backend is unreachable.
	// Callers degrade to ephemeral identity or queued retry.
	ErrStorageUnavailable = errors.New("persistence backend unavailable")

	// ErrNotFound means no durable record exists for the requested key.
	ErrNotFound = errors.New("record not found")

	// ErrSessionNotFound means the session ID does not name a live session.
	ErrSessionNotFound = errors.New("unknown session")

	// ErrRateLimited means a handshake was refused by the per-IP limiter.
	ErrRateLimited = errors.New("handshake rate limit exceeded")
)
