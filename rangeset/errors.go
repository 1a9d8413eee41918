package rangeset

import "github.com/NebulousLabs/errors"

var (
	// ErrInvalidRange is returned when a Range is malformed (begin > end) or
	// when an operation is asked to merge two Ranges that neither overlap
	// nor border one another.
	ErrInvalidRange = errors.New("invalid range")

	// ErrOverflow is returned when a merge would extend a Range past the
	// maximum value representable by Offset. RangeList arithmetic is
	// saturating: it refuses rather than wraps.
	ErrOverflow = errors.New("range arithmetic overflow")

	// ErrExhausted is returned by GetFirst when no position satisfies the
	// requested size and skip predicate.
	ErrExhausted = errors.New("no matching range available")
)
