package filehash

import "github.com/NebulousLabs/errors"

var (
	// ErrFinalized is returned by Update/SumUp once Finalize has already
	// been called on the transform or maker.
	ErrFinalized = errors.New("hash transform already finalized")

	// ErrNotReady is returned when the digest is read before Finalize has
	// been called.
	ErrNotReady = errors.New("hash transform has not been finalized")

	// ErrUnsupportedAlg is returned for an Alg value this package does not
	// implement.
	ErrUnsupportedAlg = errors.New("unsupported hash algorithm")

	// ErrChunkSizeMismatch is returned when two HashSets for the same
	// chunk size disagree on a chunk hash, or when a HashSet is built with
	// a zero chunk size.
	ErrChunkSizeMismatch = errors.New("chunk size mismatch")

	// ErrHashSetConflict is returned by a caller-level merge when two
	// HashSets claim the same chunk size but carry different chunk
	// hashes; see PartData's cross-file HashSet-disagreement handling.
	ErrHashSetConflict = errors.New("hash sets disagree for the same chunk size")
)
