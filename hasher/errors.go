package hasher

import "github.com/NebulousLabs/errors"

var (
	// ErrBusy is returned by TrySubmit when the queue is at its bound and
	// the caller asked not to block.
	ErrBusy = errors.New("hasher queue is full")

	// ErrStopped is returned by Submit/TrySubmit once Stop has been
	// called; the worker goroutine is gone and nothing will ever drain
	// the queue again.
	ErrStopped = errors.New("hasher has been stopped")
)
