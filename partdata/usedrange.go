package partdata

import "gitlab.com/hydranode/hydracore/rangeset"

// UsedRange is a non-owning lease over a chunk-aligned sub-range of a
// PartData, held by whichever worker is driving writes inside it. A
// UsedRange owns zero or more LockedRanges, which are the only points of
// actual mutual exclusion.
type UsedRange struct {
	id       uint64
	pd       *PartData
	rng      rangeset.Range
	sourceID string
	locks    map[uint64]*LockedRange
}

// Range returns the byte span this lease covers.
func (ur *UsedRange) Range() rangeset.Range {
	return ur.rng
}

// GetLock carves out a LockedRange of at most size bytes from the
// earliest not-yet-locked, not-yet-completed offset within ur. Fails with
// ErrExhausted once ur has no remaining unlocked, uncompleted bytes.
func (ur *UsedRange) GetLock(size uint64) (*LockedRange, error) {
	return ur.pd.getLock(ur, size)
}

// Cancel releases ur without completion: bytes already promoted to
// completed (via a released LockedRange) remain so, but any LockedRange
// still open under ur is dropped along with its unreleased writes.
func (ur *UsedRange) Cancel() error {
	return ur.pd.cancelRange(ur)
}

// LockedRange is a small, non-overlapping sub-range of a UsedRange. It is
// the only path through which PartData bytes become completed: a write
// lands in the lock's private write set, and only Release promotes that
// write set into the PartData's completed RangeList.
type LockedRange struct {
	id         uint64
	ur         *UsedRange
	rng        rangeset.Range
	leaseToken int
	written    *rangeset.RangeList
	released   bool
}

// Range returns the byte span this lock covers.
func (lr *LockedRange) Range() rangeset.Range {
	return lr.rng
}

// Write writes data at offset, which must fall within lr's span. The
// write is retried with exponential backoff on disk failure; on exhausted
// retries the error is returned and the lock stays open (unreleased). Its
// span stays locked, so a fresh GetLock over the same UsedRange does not
// hand it out again until the lock is released or the UsedRange cancelled.
func (lr *LockedRange) Write(offset uint64, data []byte) error {
	return lr.ur.pd.lockedWrite(lr, offset, data)
}

// Release promotes whatever this lock actually wrote to the PartData's
// completed set, frees the lock's span for reuse, and (if the newly
// completed bytes finish one or more chunks) triggers the chunk
// verification state machine.
func (lr *LockedRange) Release() error {
	return lr.ur.pd.releaseLock(lr)
}
