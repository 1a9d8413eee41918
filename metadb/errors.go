package metadb

import "github.com/NebulousLabs/errors"

var (
	// ErrNotFound is returned by the Find* lookups when no MetaData matches.
	ErrNotFound = errors.New("no matching metadata record")

	// ErrHashConflict is returned by Push when two records claim the same
	// hash but disagree on its bytes or on an attached HashSet's chunk
	// hashes - the one situation Push refuses to silently merge.
	ErrHashConflict = errors.New("conflicting metadata for the same hash")

	// ErrBadEnvelope is returned by Load when the on-disk envelope's magic
	// or version does not match what this package understands.
	ErrBadEnvelope = errors.New("unrecognized metadata db envelope")

	// ErrTruncated is returned by Load when the stream ends in the middle
	// of a record.
	ErrTruncated = errors.New("metadata db file truncated")
)
