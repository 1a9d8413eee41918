package filehash

import "gitlab.com/hydranode/hydracore/rangeset"

// A HashSet pairs a file hash with the sequence of chunk hashes that cover
// it at one particular chunk size. A file may have several HashSets (one
// per chunk size) attached to the same MetaData; PartData picks the
// smallest chunk size as canonical (see the chunk-size renegotiation rules
// in package partdata) and verifies chunks only against the HashSet at that
// canonical chunk size; HashSets at other chunk sizes are not checked
// against the downloaded bytes.
type HashSet struct {
	FileHash    Hash
	ChunkHashes []Hash
	ChunkSize   uint64
	FileSize    uint64
}

// ChunkCount returns ceil(FileSize / ChunkSize).
func (hs HashSet) ChunkCount() int {
	if hs.ChunkSize == 0 {
		return 0
	}
	return int((hs.FileSize + hs.ChunkSize - 1) / hs.ChunkSize)
}

// ChunkRange returns the byte range covered by chunk i:
// [i*ChunkSize, min((i+1)*ChunkSize, FileSize)-1].
func (hs HashSet) ChunkRange(i int) (rangeset.Range, error) {
	if i < 0 || i >= hs.ChunkCount() {
		return rangeset.Range{}, ErrChunkSizeMismatch
	}
	begin := uint64(i) * hs.ChunkSize
	end := begin + hs.ChunkSize - 1
	if end > hs.FileSize-1 {
		end = hs.FileSize - 1
	}
	return rangeset.New(begin, end)
}

// Agrees reports whether hs and other describe the same chunk hashes for
// every chunk size they share. Two HashSets with different ChunkSize always
// agree (they're talking about different chunks); two HashSets with equal
// ChunkSize must have byte-identical ChunkHashes slices or they disagree.
func (hs HashSet) Agrees(other HashSet) bool {
	if hs.ChunkSize != other.ChunkSize {
		return true
	}
	if len(hs.ChunkHashes) != len(other.ChunkHashes) {
		return false
	}
	for i := range hs.ChunkHashes {
		if !hs.ChunkHashes[i].Equal(other.ChunkHashes[i]) {
			return false
		}
	}
	return true
}

// chunkPlainAlg returns the underlying plain hash algorithm used for one
// chunk of a composite HashSet's scheme.
func chunkPlainAlg(composite Alg) Alg {
	switch composite {
	case AlgED2K:
		return AlgMD4
	case AlgBTStyle:
		return AlgSHA1
	default:
		return composite
	}
}

// A HashSetMaker accepts a stream of bytes in order and incrementally
// builds a HashSet: every ChunkSize bytes it closes one chunk hash, and
// feeds that chunk hash into a second accumulator that becomes the file
// hash once finalized (the eD2K/BT-style "composite" scheme of package
// filehash). When the file turns out to fit inside a single chunk, the file
// hash equals that one chunk hash directly rather than being hashed again.
type HashSetMaker struct {
	scheme    Alg
	chunkSize uint64

	cur      hashWriter
	curLen   uint64
	fullAcc  hashWriter
	chunks   []Hash
	total    uint64
	done     bool
	finalSet HashSet
}

// NewHashSetMaker returns a maker for the composite scheme (AlgED2K or
// AlgBTStyle) at the given chunk size. chunkSize must be non-zero.
func NewHashSetMaker(scheme Alg, chunkSize uint64) (*HashSetMaker, error) {
	if chunkSize == 0 {
		return nil, ErrChunkSizeMismatch
	}
	chunk, full, err := chunkAndFullHashers(scheme)
	if err != nil {
		return nil, err
	}
	return &HashSetMaker{scheme: scheme, chunkSize: chunkSize, cur: chunk, fullAcc: full}, nil
}

// Update feeds data into the maker in file order.
func (m *HashSetMaker) Update(data []byte) error {
	if m.done {
		return ErrFinalized
	}
	for len(data) > 0 {
		remaining := m.chunkSize - m.curLen
		n := remaining
		if uint64(len(data)) < n {
			n = uint64(len(data))
		}
		m.cur.Write(data[:n])
		m.curLen += n
		m.total += n
		data = data[n:]
		if m.curLen == m.chunkSize {
			m.closeChunk()
		}
	}
	return nil
}

// closeChunk finalizes the in-progress chunk accumulator, records its hash,
// folds it into the full-hash accumulator, and resets for the next chunk.
func (m *HashSetMaker) closeChunk() {
	sum := m.cur.Sum(nil)
	ch := Hash{Alg: chunkPlainAlg(m.scheme), Sum: sum}
	m.chunks = append(m.chunks, ch)
	m.fullAcc.Write(sum)

	next, _, _ := chunkAndFullHashers(m.scheme)
	m.cur = next
	m.curLen = 0
}

// Finalize closes the maker and returns the resulting HashSet. Calling
// Finalize a second time (the original design's "sumUp on a finalized
// instance") returns ErrFinalized.
func (m *HashSetMaker) Finalize() (HashSet, error) {
	if m.done {
		return HashSet{}, ErrFinalized
	}
	if m.curLen > 0 || len(m.chunks) == 0 {
		m.closeChunk()
	}

	var fileHash Hash
	if len(m.chunks) == 1 {
		fileHash = m.chunks[0]
	} else {
		fileHash = Hash{Alg: m.scheme, Sum: m.fullAcc.Sum(nil)}
	}

	m.finalSet = HashSet{
		FileHash:    fileHash,
		ChunkHashes: m.chunks,
		ChunkSize:   m.chunkSize,
		FileSize:    m.total,
	}
	m.done = true
	return m.finalSet, nil
}

// HashSet returns the finalized HashSet, or ErrNotReady if Finalize has not
// yet been called.
func (m *HashSetMaker) HashSet() (HashSet, error) {
	if !m.done {
		return HashSet{}, ErrNotReady
	}
	return m.finalSet, nil
}
