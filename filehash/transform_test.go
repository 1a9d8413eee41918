package filehash

import (
	"bytes"
	"testing"
)

// TestTransformBasic checks that Update/Finalize produce a stable digest
// regardless of how the input is chunked into Update calls.
func TestTransformBasic(t *testing.T) {
	data := bytes.Repeat([]byte("hydra"), 1000)

	whole, err := NewTransform(AlgSHA1)
	if err != nil {
		t.Fatal(err)
	}
	if err := whole.Update(data); err != nil {
		t.Fatal(err)
	}
	wholeHash, err := whole.Finalize()
	if err != nil {
		t.Fatal(err)
	}

	split, err := NewTransform(AlgSHA1)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(data); i += 37 {
		end := i + 37
		if end > len(data) {
			end = len(data)
		}
		if err := split.Update(data[i:end]); err != nil {
			t.Fatal(err)
		}
	}
	splitHash, err := split.Finalize()
	if err != nil {
		t.Fatal(err)
	}

	if !wholeHash.Equal(splitHash) {
		t.Fatalf("digest depends on chunking: %v != %v", wholeHash, splitHash)
	}
}

// TestTransformFinalizeOnce checks that Update after Finalize, and a second
// Finalize, both fail with ErrFinalized.
func TestTransformFinalizeOnce(t *testing.T) {
	tr, err := NewTransform(AlgMD5)
	if err != nil {
		t.Fatal(err)
	}
	tr.Update([]byte("abc"))
	if _, err := tr.Finalize(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Update([]byte("def")); err != ErrFinalized {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	if _, err := tr.Finalize(); err != ErrFinalized {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
}

// TestTransformNotReady checks that reading the digest before Finalize
// fails with ErrNotReady.
func TestTransformNotReady(t *testing.T) {
	tr, err := NewTransform(AlgMD4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Hash(); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	tr.Update([]byte("x"))
	tr.Finalize()
	if _, err := tr.Hash(); err != nil {
		t.Fatalf("expected ready hash, got %v", err)
	}
}
