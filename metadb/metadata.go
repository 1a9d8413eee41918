// Package metadb is the content-addressed identity index: one MetaData
// record per logical file, keyed by any hash it is known under, its stable
// ID, or size+name hints, with a binary on-disk format that round-trips
// attributes it doesn't recognize instead of dropping them. It plays the
// role the original design's persistent object store played for file
// identity, narrowed to just that one concern.
package metadb

import "gitlab.com/hydranode/hydracore/filehash"

// attr tag values. Tags 0-99 are reserved for fields this package knows
// about; anything else read from disk is preserved verbatim in
// MetaData.unknown so a newer writer's fields survive a round trip through
// an older reader.
const (
	tagName         uint16 = 1
	tagHashSet      uint16 = 2
	tagTypeTag      uint16 = 3
	tagCustomString uint16 = 4
	tagStreamInfo   uint16 = 5
)

// attr is one forward-compatible (tag, payload) pair. MetaData keeps every
// attr it reads that it doesn't recognize so Save writes it back out
// unchanged.
type attr struct {
	Tag     uint16
	Payload []byte
}

// StreamInfo carries the handful of attributes a media file needs beyond
// its raw bytes: run length and a default codec/container hint. Neither
// field is interpreted by this package; they exist purely as a named slot
// other modules can populate.
type StreamInfo struct {
	Duration uint64
	Codec    string
}

// MetaData is the identity record for one logical file: its stable ID, its
// known size, every name it has been seen under, every HashSet computed
// for it (one per chunk size, at most one per chunk size - see Push), an
// optional free-form type tag ("video", "archive", ...), optional
// free-form custom strings, and optional stream metadata.
type MetaData struct {
	ID       uint64
	Size     uint64
	Names    []string
	HashSets []filehash.HashSet
	TypeTag  string
	Custom   []string
	Stream   *StreamInfo

	unknown []attr
}

// HasName reports whether name is already recorded against md.
func (md *MetaData) HasName(name string) bool {
	for _, n := range md.Names {
		if n == name {
			return true
		}
	}
	return false
}

// addName appends name if it isn't already present.
func (md *MetaData) addName(name string) {
	if name == "" || md.HasName(name) {
		return
	}
	md.Names = append(md.Names, name)
}

// addCustom appends s if it isn't already present.
func (md *MetaData) addCustom(s string) {
	for _, c := range md.Custom {
		if c == s {
			return
		}
	}
	md.Custom = append(md.Custom, s)
}

// hashSetAt returns the index of the HashSet with the given chunk size, or
// -1 if none is attached yet.
func (md *MetaData) hashSetAt(chunkSize uint64) int {
	for i, hs := range md.HashSets {
		if hs.ChunkSize == chunkSize {
			return i
		}
	}
	return -1
}

// mergeHashSet folds hs into md's HashSets: if a HashSet with the same
// chunk size is already present, the two must Agree (see filehash.HashSet)
// or ErrHashConflict is returned; otherwise hs is appended as a new entry.
func (md *MetaData) mergeHashSet(hs filehash.HashSet) error {
	if i := md.hashSetAt(hs.ChunkSize); i >= 0 {
		if !md.HashSets[i].Agrees(hs) {
			return ErrHashConflict
		}
		return nil
	}
	md.HashSets = append(md.HashSets, hs)
	return nil
}

// Hashes returns every file-level Hash attached to md, across all of its
// HashSets, for use as lookup keys in MetaDb's byHash index.
func (md *MetaData) Hashes() []filehash.Hash {
	out := make([]filehash.Hash, 0, len(md.HashSets))
	for _, hs := range md.HashSets {
		out = append(out, hs.FileHash)
	}
	return out
}
