// Package filehash implements the closed set of content hashes the core
// uses to identify files and verify chunks: streaming MD4/MD5/SHA-1
// transforms, and the chunked HashSet accumulators built on top of them
// (eD2K-style composite hashing and BitTorrent-style flat per-chunk
// hashing). It is grounded on the streaming-hash helpers of a Merkle-tree
// package (push bytes, finalize once) generalized to a tagged sum type
// over algorithms instead of a single fixed hash.
package filehash

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/md4"
)

// Alg identifies one of the hash algorithms the core knows how to compute.
// Dynamic polymorphism over hash algorithms (the HashSetBase dispatch the
// original design used) is expressed here as a tagged sum type: every
// operation switches on Alg rather than relying on an interface hierarchy.
type Alg uint8

const (
	// AlgMD4 is a plain (non-chunked) MD4 digest.
	AlgMD4 Alg = iota
	// AlgMD5 is a plain (non-chunked) MD5 digest.
	AlgMD5
	// AlgSHA1 is a plain (non-chunked) SHA-1 digest.
	AlgSHA1
	// AlgED2K is the composite eD2K file hash: MD4 over fixed-size chunks,
	// then MD4 over the concatenation of the chunk hashes (or, when the
	// file fits in a single chunk, the file hash equals that one chunk
	// hash directly).
	AlgED2K
	// AlgBTStyle is the composite BitTorrent-style file hash: SHA-1 over
	// arbitrary-size chunks, full-file hash computed the same two-stage
	// way as AlgED2K but with SHA-1 at both stages.
	AlgBTStyle
)

// String names the algorithm, used in log lines and error messages.
func (a Alg) String() string {
	switch a {
	case AlgMD4:
		return "MD4"
	case AlgMD5:
		return "MD5"
	case AlgSHA1:
		return "SHA1"
	case AlgED2K:
		return "ED2K"
	case AlgBTStyle:
		return "BT-style"
	default:
		return "unknown"
	}
}

// newHasher returns a fresh hash.Hash for the plain (non-composite)
// algorithms. Composite algorithms (AlgED2K, AlgBTStyle) are driven by
// HashSetMaker and don't have a single flat hasher.
func newHasher(a Alg) (hash.Hash, error) {
	switch a {
	case AlgMD4:
		return md4.New(), nil
	case AlgMD5:
		return md5.New(), nil
	case AlgSHA1:
		return sha1.New(), nil
	default:
		return nil, ErrUnsupportedAlg
	}
}

// chunkAndFullHashers returns the hash.Hash used for one chunk of a composite
// HashSet, and the hash.Hash used to digest the concatenation of chunk
// hashes into the file hash.
func chunkAndFullHashers(a Alg) (chunk hash.Hash, full hash.Hash, err error) {
	switch a {
	case AlgED2K:
		return md4.New(), md4.New(), nil
	case AlgBTStyle:
		return sha1.New(), sha1.New(), nil
	default:
		return nil, nil, ErrUnsupportedAlg
	}
}

// Hash is a (algorithm, digest) pair. Two Hashes are equal iff both the
// algorithm tag and the digest bytes match.
type Hash struct {
	Alg Alg
	Sum []byte
}

// Equal reports whether h and other identify the same content under the
// same algorithm.
func (h Hash) Equal(other Hash) bool {
	return h.Alg == other.Alg && bytes.Equal(h.Sum, other.Sum)
}

// String renders the digest as hex, prefixed with the algorithm name, e.g.
// "MD4:aabbcc...".
func (h Hash) String() string {
	return h.Alg.String() + ":" + hex.EncodeToString(h.Sum)
}
