package filehash

// A Transform is a scoped, single-algorithm streaming hash accumulator:
// call Update any number of times, then Finalize exactly once. Further
// Updates after Finalize fail with ErrFinalized; reading the Hash before
// Finalize fails with ErrNotReady. This mirrors the Merkle tree's Push/Root
// split (push leaves, then ask for the root once), generalized from a fixed
// algorithm to any of the Alg tags.
type Transform struct {
	alg  Alg
	h    hashWriter
	done bool
	sum  Hash
}

// hashWriter is the subset of hash.Hash the transform needs; kept narrow so
// NewTransform's caller doesn't have to reason about block size / size
// methods it never uses.
type hashWriter interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
}

// NewTransform returns a Transform for the given plain (non-composite)
// algorithm.
func NewTransform(alg Alg) (*Transform, error) {
	h, err := newHasher(alg)
	if err != nil {
		return nil, err
	}
	return &Transform{alg: alg, h: h}, nil
}

// Update feeds data into the transform. It fails with ErrFinalized if
// Finalize has already been called.
func (t *Transform) Update(data []byte) error {
	if t.done {
		return ErrFinalized
	}
	t.h.Write(data)
	return nil
}

// Finalize closes the transform and returns the resulting Hash. Finalize is
// destructive: calling it a second time returns ErrFinalized.
func (t *Transform) Finalize() (Hash, error) {
	if t.done {
		return Hash{}, ErrFinalized
	}
	t.sum = Hash{Alg: t.alg, Sum: t.h.Sum(nil)}
	t.done = true
	return t.sum, nil
}

// Hash returns the finalized digest, or ErrNotReady if Finalize has not yet
// been called.
func (t *Transform) Hash() (Hash, error) {
	if !t.done {
		return Hash{}, ErrNotReady
	}
	return t.sum, nil
}
