package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned when the admission queue is physically full
	// and the item was not force-inserted.
	ErrQueueFull = errors.New("admission queue full")

	// ErrInvalidItem is returned for items missing both text and an audio
	// reference.
	ErrInvalidItem = errors.New("item requires text or audio_ref")

	// ErrShutdown is returned for operations attempted after Shutdown.
	ErrShutdown = errors.New("engine shut down")

	// ErrUnknownBackend is returned when no synthesis backend is registered
	// under the requested id.
	ErrUnknownBackend = errors.New("unknown synthesis backend")
)

// BackendError wraps a synthesis failure with the backend id that produced
// it. Items failing synthesis are dropped, never retried.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %q: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
