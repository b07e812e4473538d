package orchestrator

import "errors"

var (
	// ErrMissingReasoner is returned by New without a reasoning client.
	ErrMissingReasoner = errors.New("orchestrator: reasoning client required")

	// ErrMissingScript is returned by New without a procedure script.
	ErrMissingScript = errors.New("orchestrator: procedure script required")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("orchestrator: already running")

	// ErrStopped is returned by Run after a previous Run has ended.
	ErrStopped = errors.New("orchestrator: stopped")

	// ErrNotRunning is returned by Status when Run is not active.
	ErrNotRunning = errors.New("orchestrator: not running")
)
