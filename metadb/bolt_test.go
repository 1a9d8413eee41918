package metadb

import (
	"path/filepath"
	"testing"

	"gitlab.com/hydranode/hydracore/filehash"
)

func TestStorePersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.db")

	store, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}

	db := New()
	md, err := db.Push(&MetaData{
		Size:     8192,
		Names:    []string{"disk.iso"},
		HashSets: []filehash.HashSet{sampleHashSet(70)},
		TypeTag:  "archive",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Persist(db); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	loaded, err := reopened.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 1 {
		t.Fatalf("expected 1 record after reopen, got %d", loaded.Len())
	}
	found, err := loaded.FindByHash(sampleHashSet(70).FileHash)
	if err != nil {
		t.Fatal(err)
	}
	if found.ID != md.ID || !found.HasName("disk.iso") {
		t.Fatalf("loaded record mismatch: %+v", found)
	}
}

func TestStorePutOne(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	db := New()
	md, err := db.Push(&MetaData{Size: 1, Names: []string{"a"}, HashSets: []filehash.HashSet{sampleHashSet(80)}})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.PutOne(md); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", loaded.Len())
	}
}
