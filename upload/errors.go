package upload

import "github.com/NebulousLabs/errors"

var (
	// ErrAlreadyQueued is returned by Enqueue when the peer already has a
	// waiting or active slot.
	ErrAlreadyQueued = errors.New("peer is already queued or uploading")

	// ErrNotQueued is returned by Dequeue/UpdateCredit when the peer has
	// no waiting or active slot, and by Complete when it has no active
	// slot.
	ErrNotQueued = errors.New("peer is not queued or uploading")
)
