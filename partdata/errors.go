package partdata

import "github.com/NebulousLabs/errors"

var (
	// ErrOutOfBounds is returned by Write when the target offset range
	// falls outside [0, Size-1], and by LockedRange.Write when it falls
	// outside the lock's span.
	ErrOutOfBounds = errors.New("write falls outside the file's bounds")

	// ErrPaused is returned by GetRange while the PartData is paused.
	// Leases acquired before the pause keep working; a plain Write fails
	// with ErrNotRunning instead.
	ErrPaused = errors.New("partdata is paused")

	// ErrStopped is returned by GetRange, GetLock, LockedRange.Write and
	// LockedRange.Release once Stop has been called; all outstanding
	// leases are invalidated.
	ErrStopped = errors.New("partdata has been stopped")

	// ErrNoNeeded is returned by GetRange when every byte is already
	// completed or covered by an outstanding UsedRange.
	ErrNoNeeded = errors.New("no needed bytes remain")

	// ErrNoMatchingAvailability is returned by GetRange when the peer's
	// mask does not intersect any needed chunk.
	ErrNoMatchingAvailability = errors.New("peer offers no needed chunk")

	// ErrExhausted is returned by GetLock when a UsedRange has no
	// remaining unlocked, uncompleted bytes to carve a LockedRange from.
	ErrExhausted = errors.New("used range is fully locked or completed")

	// ErrLeasedOnDestroy names the condition of dropping a UsedRange that
	// still has open LockedRange children. No operation in this package
	// returns it: UsedRange.Cancel releases such locks and discards their
	// writes instead.
	ErrLeasedOnDestroy = errors.New("used range still has open locked ranges")

	// ErrLockOverlap is a Severe-level invariant violation: two
	// LockedRanges were about to cover the same byte at the same time.
	ErrLockOverlap = errors.New("locked range overlaps an existing locked range")

	// ErrAlreadyReleased is returned by LockedRange.Write/Release once a
	// lock has already been released or cancelled.
	ErrAlreadyReleased = errors.New("locked range already released")

	// ErrNotRunning is returned by operations that require state ==
	// running (or hashing, where explicitly allowed) but found the
	// PartData in some other state.
	ErrNotRunning = errors.New("partdata is not in a running state")

	// ErrUnknownChunkSize is returned by RemoveSourceMask for a chunk size
	// the PartData has no bookkeeping for; AddSourceMask creates the
	// bookkeeping on demand instead.
	ErrUnknownChunkSize = errors.New("unknown chunk size")

	// ErrAlreadyComplete names the complete state's no-further-mutation
	// rule. No operation in this package returns it: on a complete
	// PartData, Write fails with ErrNotRunning and GetRange with
	// ErrNoNeeded.
	ErrAlreadyComplete = errors.New("partdata is already complete")

	// ErrHashSetDistrusted is returned by AttachHashSet once a chunk
	// size's HashSet has disagreed across attachments often enough to be
	// globally distrusted; further attachments at that chunk size are
	// rejected outright.
	ErrHashSetDistrusted = errors.New("hash set chunk size is globally distrusted")

	// ErrInvalidArgument is returned by AddSourceMask when a peer's
	// offered-chunk bitmap claims availability past the chunk count for
	// the chunk size it was reported against.
	ErrInvalidArgument = errors.New("mask length exceeds chunk count")
)
