package metadb

import (
	"encoding/binary"

	"github.com/NebulousLabs/errors"
	bolt "go.etcd.io/bbolt"
)

// bucketRecords holds one (8-byte big-endian ID -> encodeMetaData payload)
// pair per record. bucketMeta holds the single "nextID" counter. Splitting
// the counter into its own bucket keeps the records bucket a pure ID ->
// record mapping, so a Store can be range-scanned without skipping a
// sentinel key.
var (
	bucketRecords = []byte("records")
	bucketMeta    = []byte("meta")
	keyNextID     = []byte("nextID")
)

// Store is a bolt-backed persistence layer for a MetaDb: every Push'd
// record is durable across restarts without requiring the caller to
// remember to call Save. It mirrors the teacher's bolt-backed persistence
// pattern (open once, defer Close, one bucket per logical table) rather
// than the flat-file Save/Load envelope, which remains useful for
// export/import but isn't what callers reach for in steady-state use.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if necessary) a bolt database at path and
// ensures its buckets exist.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.AddContext(err, "could not open metadata store")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRecords); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.AddContext(err, "could not initialize metadata store buckets")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads every record out of the store into a fresh, in-memory MetaDb.
func (s *Store) Load() (*MetaDb, error) {
	db := New()
	err := s.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(bucketMeta).Get(keyNextID); raw != nil {
			db.nextID = binary.BigEndian.Uint64(raw)
		}
		return tx.Bucket(bucketRecords).ForEach(func(_, payload []byte) error {
			md, err := decodeMetaData(payload)
			if err != nil {
				return err
			}
			db.index(md)
			return nil
		})
	})
	if err != nil {
		return nil, errors.AddContext(err, "could not load metadata store")
	}
	return db, nil
}

// Persist writes db's current state to the store, replacing whatever was
// there before. Callers typically do this after a batch of Push calls
// rather than after every single one.
func (s *Store) Persist(db *MetaDb) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		// Clear and rewrite; record counts here are small enough (a
		// user's local file index, not a distributed table) that a
		// bucket recreate-and-refill is simpler than diffing.
		if err := tx.DeleteBucket(bucketRecords); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		records, err := tx.CreateBucket(bucketRecords)
		if err != nil {
			return err
		}
		for id, md := range db.byID {
			var key [8]byte
			binary.BigEndian.PutUint64(key[:], id)
			if err := records.Put(key[:], encodeMetaData(md)); err != nil {
				return err
			}
		}
		var nextIDBuf [8]byte
		binary.BigEndian.PutUint64(nextIDBuf[:], db.nextID)
		return tx.Bucket(bucketMeta).Put(keyNextID, nextIDBuf[:])
	})
}

// PutOne persists a single record without rewriting the whole bucket, for
// the common case of one Push followed immediately by a durability point.
func (s *Store) PutOne(md *MetaData) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], md.ID)
		return tx.Bucket(bucketRecords).Put(key[:], encodeMetaData(md))
	})
}
