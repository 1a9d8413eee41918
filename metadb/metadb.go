package metadb

import (
	"bytes"
	"io"

	"gitlab.com/hydranode/hydracore/encoding"
	"gitlab.com/hydranode/hydracore/filehash"
)

// envelopeMagic and envelopeVersion identify the on-disk format. A Load
// that sees a different magic, or a version it doesn't know how to read,
// fails with ErrBadEnvelope rather than guessing.
const (
	envelopeMagic   = "HCMD"
	envelopeVersion = uint64(1)
)

// MetaDb is the in-memory identity index: every MetaData record the core
// knows about, indexed by ID, by every hash it carries, by every name it
// has been seen under, and by size. It is not safe for concurrent use -
// like the original design's equivalent store, all access is expected to
// happen from one goroutine (the same one driving the hasher and partdata
// event loop), so MetaDb carries no lock of its own.
type MetaDb struct {
	byID   map[uint64]*MetaData
	byHash map[string]*MetaData
	byName map[string][]*MetaData
	bySize map[uint64][]*MetaData
	nextID uint64
}

// hashKey turns a filehash.Hash into a map key that distinguishes
// algorithm and digest.
func hashKey(h filehash.Hash) string {
	return h.Alg.String() + ":" + string(h.Sum)
}

// New returns an empty MetaDb.
func New() *MetaDb {
	return &MetaDb{
		byID:   make(map[uint64]*MetaData),
		byHash: make(map[string]*MetaData),
		byName: make(map[string][]*MetaData),
		bySize: make(map[uint64][]*MetaData),
		nextID: 1,
	}
}

// index adds md to every secondary index. Callers must have already
// ensured md.ID is set and unique within the db.
func (db *MetaDb) index(md *MetaData) {
	db.byID[md.ID] = md
	for _, h := range md.Hashes() {
		db.byHash[hashKey(h)] = md
	}
	for _, n := range md.Names {
		db.byName[n] = appendUnique(db.byName[n], md)
	}
	db.bySize[md.Size] = appendUnique(db.bySize[md.Size], md)
}

func appendUnique(list []*MetaData, md *MetaData) []*MetaData {
	for _, m := range list {
		if m == md {
			return list
		}
	}
	return append(list, md)
}

// findByAnyHash returns the first existing record that shares a hash with
// md, or nil.
func (db *MetaDb) findByAnyHash(md *MetaData) *MetaData {
	for _, h := range md.Hashes() {
		if existing, ok := db.byHash[hashKey(h)]; ok {
			return existing
		}
	}
	return nil
}

// Push records md. If no existing record shares a hash with md, md is
// assigned a fresh ID and inserted as a new record. If an existing record
// does share a hash, the two are merged in place (union of names, union of
// HashSets, union of custom strings, Stream filled in if previously unset)
// and the existing, now-updated record is returned - this is the
// alias-merging behavior a file re-discovered under a new name or a second
// chunk size is expected to go through. Merge fails with ErrHashConflict
// if the two records' HashSets disagree at a shared chunk size.
func (db *MetaDb) Push(md *MetaData) (*MetaData, error) {
	if existing := db.findByAnyHash(md); existing != nil {
		for _, hs := range md.HashSets {
			if err := existing.mergeHashSet(hs); err != nil {
				return nil, err
			}
		}
		for _, n := range md.Names {
			existing.addName(n)
		}
		for _, c := range md.Custom {
			existing.addCustom(c)
		}
		if existing.Stream == nil && md.Stream != nil {
			existing.Stream = md.Stream
		}
		if existing.TypeTag == "" {
			existing.TypeTag = md.TypeTag
		}
		if existing.Size == 0 {
			existing.Size = md.Size
		}
		db.index(existing)
		return existing, nil
	}

	md.ID = db.nextID
	db.nextID++
	db.index(md)
	return md, nil
}

// FindByID returns the record with the given ID, or ErrNotFound.
func (db *MetaDb) FindByID(id uint64) (*MetaData, error) {
	if md, ok := db.byID[id]; ok {
		return md, nil
	}
	return nil, ErrNotFound
}

// FindByHash returns the record carrying h as one of its file hashes, or
// ErrNotFound.
func (db *MetaDb) FindByHash(h filehash.Hash) (*MetaData, error) {
	if md, ok := db.byHash[hashKey(h)]; ok {
		return md, nil
	}
	return nil, ErrNotFound
}

// FindByName returns every record that has been seen under name.
func (db *MetaDb) FindByName(name string) []*MetaData {
	return db.byName[name]
}

// FindBySize returns every record of the given size - a coarse hint useful
// for size+name matching when no hash is known yet.
func (db *MetaDb) FindBySize(size uint64) []*MetaData {
	return db.bySize[size]
}

// Len returns the number of distinct records in db.
func (db *MetaDb) Len() int {
	return len(db.byID)
}

// Save writes every record in db to w in ID order, wrapped in a versioned
// envelope (magic, version, record count) so Load can refuse a file it
// doesn't recognize instead of misreading it.
func (db *MetaDb) Save(w io.Writer) error {
	enc := encoding.NewEncoder(w)
	enc.Write([]byte(envelopeMagic))
	enc.WriteUint64(envelopeVersion)
	enc.WriteUint64(db.nextID)
	enc.WriteInt(len(db.byID))

	ids := make([]uint64, 0, len(db.byID))
	for id := range db.byID {
		ids = append(ids, id)
	}
	sortUint64s(ids)

	for _, id := range ids {
		enc.WritePrefixedBytes(encodeMetaData(db.byID[id]))
	}
	return enc.Err()
}

// sortUint64s is a tiny insertion sort; record counts are small enough
// (thousands, not millions) that pulling in sort.Slice for this one call
// site isn't worth the closure allocation.
func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Load reads a MetaDb previously written by Save. It fails with
// ErrBadEnvelope if the magic or version don't match, or ErrTruncated if
// the stream ends mid-record.
func Load(r io.Reader) (*MetaDb, error) {
	dec := encoding.NewDecoder(r)
	magic := make([]byte, len(envelopeMagic))
	dec.ReadFull(magic)
	if dec.Err() != nil {
		return nil, ErrTruncated
	}
	if !bytes.Equal(magic, []byte(envelopeMagic)) {
		return nil, ErrBadEnvelope
	}
	version := dec.NextUint64()
	if version != envelopeVersion {
		return nil, ErrBadEnvelope
	}
	nextID := dec.NextUint64()
	count := dec.NextPrefix(1)

	db := New()
	db.nextID = nextID
	for i := uint64(0); i < count; i++ {
		payload := dec.ReadPrefixedBytes()
		if dec.Err() != nil {
			return nil, ErrTruncated
		}
		md, err := decodeMetaData(payload)
		if err != nil {
			return nil, err
		}
		db.index(md)
	}
	if err := dec.Err(); err != nil && err != io.EOF {
		return nil, err
	}
	return db, nil
}
