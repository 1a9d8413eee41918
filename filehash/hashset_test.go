package filehash

import (
	"bytes"
	"testing"
)

// TestHashSetSingleChunk checks the eD2K single-chunk shortcut: when the
// file fits in one chunk, the file hash equals that chunk's hash directly,
// matching spec scenario 1 (S=1MiB, chunkSize=9500kB, chunkCount=1).
func TestHashSetSingleChunk(t *testing.T) {
	m, err := NewHashSetMaker(AlgED2K, 9500*1024)
	if err != nil {
		t.Fatal(err)
	}
	data := bytes.Repeat([]byte{0xAB}, 1024*1024)
	if err := m.Update(data); err != nil {
		t.Fatal(err)
	}
	hs, err := m.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if hs.ChunkCount() != 1 {
		t.Fatalf("expected 1 chunk, got %d", hs.ChunkCount())
	}
	if len(hs.ChunkHashes) != 1 {
		t.Fatalf("expected 1 chunk hash, got %d", len(hs.ChunkHashes))
	}
	if !hs.FileHash.Equal(hs.ChunkHashes[0]) {
		t.Fatalf("expected file hash to equal the single chunk hash")
	}
}

// TestHashSetMultiChunk checks chunk count and chunk-range math for a file
// spanning multiple chunks, matching spec scenario 2 (S=20MiB, chunkSize=
// 9500kB, chunkCount=3).
func TestHashSetMultiChunk(t *testing.T) {
	chunkSize := uint64(9500 * 1024)
	fileSize := 20 * 1024 * 1024
	m, err := NewHashSetMaker(AlgED2K, chunkSize)
	if err != nil {
		t.Fatal(err)
	}
	data := bytes.Repeat([]byte{0x11}, fileSize)
	if err := m.Update(data); err != nil {
		t.Fatal(err)
	}
	hs, err := m.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if hs.ChunkCount() != 3 {
		t.Fatalf("expected 3 chunks, got %d", hs.ChunkCount())
	}
	if len(hs.ChunkHashes) != 3 {
		t.Fatalf("expected 3 chunk hashes, got %d", len(hs.ChunkHashes))
	}
	// The file hash must differ from every individual chunk hash once
	// there's more than one chunk (the second-stage digest kicks in).
	for _, ch := range hs.ChunkHashes {
		if hs.FileHash.Equal(ch) {
			t.Fatalf("file hash should not equal any single chunk hash with >1 chunk")
		}
	}
	last, err := hs.ChunkRange(2)
	if err != nil {
		t.Fatal(err)
	}
	if last.End != uint64(fileSize)-1 {
		t.Fatalf("expected last chunk to end at %d, got %d", fileSize-1, last.End)
	}
}

// TestHashSetAgrees checks the cross-file HashSet agreement rule: equal
// chunk sizes must produce identical chunk hashes for the same bytes, and
// different chunk sizes are always compatible (they describe different
// chunks).
func TestHashSetAgrees(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 3*1024*1024)

	m1, _ := NewHashSetMaker(AlgED2K, 1024*1024)
	m1.Update(data)
	hs1, _ := m1.Finalize()

	m2, _ := NewHashSetMaker(AlgED2K, 1024*1024)
	m2.Update(data)
	hs2, _ := m2.Finalize()

	if !hs1.Agrees(hs2) {
		t.Fatal("identical input at the same chunk size should agree")
	}

	corrupted := append([]byte{}, data...)
	corrupted[0] ^= 0xFF
	m3, _ := NewHashSetMaker(AlgED2K, 1024*1024)
	m3.Update(corrupted)
	hs3, _ := m3.Finalize()
	if hs1.Agrees(hs3) {
		t.Fatal("expected disagreement for corrupted input at the same chunk size")
	}

	m4, _ := NewHashSetMaker(AlgED2K, 512*1024)
	m4.Update(data)
	hs4, _ := m4.Finalize()
	if !hs1.Agrees(hs4) {
		t.Fatal("different chunk sizes should never be reported as disagreeing")
	}
}

// TestHashSetMakerFinalizeOnce checks the sumUp-after-finalize failure mode.
func TestHashSetMakerFinalizeOnce(t *testing.T) {
	m, err := NewHashSetMaker(AlgBTStyle, 16*1024)
	if err != nil {
		t.Fatal(err)
	}
	m.Update([]byte("payload"))
	if _, err := m.Finalize(); err != nil {
		t.Fatal(err)
	}
	if err := m.Update([]byte("more")); err != ErrFinalized {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	if _, err := m.Finalize(); err != ErrFinalized {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
}
