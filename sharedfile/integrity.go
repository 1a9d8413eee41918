package sharedfile

import (
	"crypto/sha256"

	"github.com/NebulousLabs/merkletree"
	"gitlab.com/hydranode/hydracore/filehash"
)

// IntegrityTree builds a Merkle tree over a committed file's per-chunk
// hashes, giving container composition (a multi-file torrent, an archive
// under repair) a way to prove that one child's chunk range is really
// part of the parent blob that was committed, without re-hashing the
// whole parent. Grounded on the teacher's merkletree.Tree: leaves pushed
// in chunk order, one proof built per chunk index on request
// (BuildChunkProof); nothing in FilesList builds proofs at commit time.
type IntegrityTree struct {
	root      []byte
	numLeaves uint64
}

// BuildFileIntegrityTree builds an IntegrityTree for sf's committed
// chunk hashes. Returns ErrStillDownloading if sf has not yet completed -
// a PartData's HashSets are not a trustworthy basis for a proof until
// every chunk has actually been verified against them.
func BuildFileIntegrityTree(sf *SharedFile, chunks []filehash.Hash) (*IntegrityTree, error) {
	if !sf.IsComplete() {
		return nil, ErrStillDownloading
	}
	return BuildIntegrityTree(chunks), nil
}

// BuildIntegrityTree pushes every chunk hash in chunks, in order, and
// returns the resulting tree. Call once, after a PartData has committed
// and its final HashSet is known.
func BuildIntegrityTree(chunks []filehash.Hash) *IntegrityTree {
	tree := merkletree.New(sha256.New())
	for _, h := range chunks {
		tree.Push(h.Sum)
	}
	return &IntegrityTree{root: tree.Root(), numLeaves: uint64(len(chunks))}
}

// Root returns the tree's Merkle root.
func (it *IntegrityTree) Root() []byte {
	return it.root
}

// NumLeaves returns how many chunk hashes were pushed into the tree.
func (it *IntegrityTree) NumLeaves() uint64 {
	return it.numLeaves
}

// BuildChunkProof returns a Merkle proof that the chunk hash at index
// belongs to the tree built from chunks, along with the root it proves
// membership against.
func BuildChunkProof(chunks []filehash.Hash, index int) (root []byte, proofSet [][]byte, numLeaves uint64, err error) {
	tree := merkletree.New(sha256.New())
	if err := tree.SetIndex(uint64(index)); err != nil {
		return nil, nil, 0, err
	}
	for _, h := range chunks {
		tree.Push(h.Sum)
	}
	root, proofSet, _, numLeaves = tree.Prove()
	return root, proofSet, numLeaves, nil
}

// VerifyChunkProof reports whether proofSet (as returned by
// BuildChunkProof, whose first element is the leaf itself) proves
// membership in the tree identified by root at proofIndex out of
// numLeaves total chunks.
func VerifyChunkProof(root []byte, proofSet [][]byte, proofIndex, numLeaves uint64) bool {
	return merkletree.VerifyProof(sha256.New(), root, proofSet, proofIndex, numLeaves)
}
