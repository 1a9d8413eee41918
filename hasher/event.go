package hasher

import (
	"gitlab.com/hydranode/hydracore/filehash"
	"gitlab.com/hydranode/hydracore/rangeset"
)

// EventKind tags the four outcomes a Job can produce, per the worker
// contract: a chunk verify either confirms or refutes the chunk, a
// full-file job eventually produces a HashSet, and anything that isn't a
// normal per-job failure (a read error on the data source, an
// unrecognized algorithm) is reported as FatalError rather than folded
// into Failed.
type EventKind int

const (
	// EventVerified reports a chunk whose hash matched.
	EventVerified EventKind = iota
	// EventFailed reports a chunk whose hash did not match.
	EventFailed
	// EventFullHashed reports a completed full-file HashSet.
	EventFullHashed
	// EventFatalError reports a job that could not run at all (a read
	// error, an unsupported algorithm) as opposed to a hash mismatch.
	EventFatalError
)

// An Event is what the worker posts back for one Job. Only the fields
// relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind   EventKind
	JobID  uint64
	FileID uint64

	// EventVerified / EventFailed
	ChunkIndex int
	Range      rangeset.Range
	ChunkHash  filehash.Hash

	// EventFullHashed
	HashSet filehash.HashSet

	// EventFatalError
	ErrKind string
	Message string
}
