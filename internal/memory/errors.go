package memory

import "errors"

var (
	// ErrInvalidInput is returned synchronously for empty content, unknown
	// tiers or categories, and invalid configuration values.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotRunning marks operations attempted while the system is stopped.
	ErrNotRunning = errors.New("system not running")

	// ErrPersistence marks a failed durable write.
	ErrPersistence = errors.New("persistence failure")

	// ErrHandlerFailure marks an event handler that returned an error or panicked.
	ErrHandlerFailure = errors.New("event handler failure")
)
