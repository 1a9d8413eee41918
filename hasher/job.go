package hasher

import (
	"io"
	"sync/atomic"

	"gitlab.com/hydranode/hydracore/filehash"
	"gitlab.com/hydranode/hydracore/rangeset"
)

// Priority tags a Job for queue ordering. Chunk-verify jobs are drained
// ahead of full-file jobs: a pending verify is what unblocks PartData's
// chunk state machine, while a full-file hash is background bookkeeping
// that nothing is waiting on synchronously.
type Priority int

const (
	// PriorityChunkVerify orders ahead of PriorityFullFile.
	PriorityChunkVerify Priority = iota
	// PriorityFullFile is the lower of the two priorities.
	PriorityFullFile
)

// Kind identifies what a Job actually computes.
type Kind int

const (
	// KindChunkVerify hashes one already-known-size chunk and compares it
	// against an expected Hash.
	KindChunkVerify Kind = iota
	// KindFullFile streams an entire file through a HashSetMaker.
	KindFullFile
)

// A Job is one unit of work submitted to a Hasher. Jobs are intrusive-
// refcounted in the original design via a fatness flag checked before
// execution; here that's a single atomically-set valid flag the submitter
// can clear with Invalidate at any point, including after the job has
// started (the worker only honors it at the next chunk boundary).
type Job struct {
	id       uint64
	fileID   uint64
	kind     Kind
	priority Priority

	// chunk-verify fields
	chunkIndex int
	rng        rangeset.Range
	expected   filehash.Hash
	data       []byte

	// full-file fields
	scheme    filehash.Alg
	chunkSize uint64
	reader    io.Reader

	valid int32
}

// NewChunkVerifyJob returns a job that hashes data (the exact bytes of
// chunk chunkIndex, spanning rng) and compares the result against
// expected.
func NewChunkVerifyJob(fileID uint64, chunkIndex int, rng rangeset.Range, expected filehash.Hash, data []byte) *Job {
	return &Job{
		fileID:     fileID,
		kind:       KindChunkVerify,
		priority:   PriorityChunkVerify,
		chunkIndex: chunkIndex,
		rng:        rng,
		expected:   expected,
		data:       data,
		valid:      1,
	}
}

// NewFullFileJob returns a job that streams r through a HashSetMaker using
// scheme at the given chunkSize, producing a FullHashed event on success.
func NewFullFileJob(fileID uint64, scheme filehash.Alg, chunkSize uint64, r io.Reader) *Job {
	return &Job{
		fileID:    fileID,
		kind:      KindFullFile,
		priority:  PriorityFullFile,
		scheme:    scheme,
		chunkSize: chunkSize,
		reader:    r,
		valid:     1,
	}
}

// ID returns the job's queue-assigned sequence number, usable to correlate
// a later Event back to this submission.
func (j *Job) ID() uint64 {
	return j.id
}

// Invalidate clears the job's valid flag. A job already running finishes
// its current chunk and then drops silently instead of emitting an event;
// a job still queued is skipped when its turn comes.
func (j *Job) Invalidate() {
	atomic.StoreInt32(&j.valid, 0)
}

// isValid reports the job's current valid flag.
func (j *Job) isValid() bool {
	return atomic.LoadInt32(&j.valid) == 1
}
