package metadb

import (
	"bytes"
	"io"

	"gitlab.com/hydranode/hydracore/encoding"
	"gitlab.com/hydranode/hydracore/filehash"
)

// encodeHashSet serializes hs to its on-disk form: file hash, chunk size,
// file size, then every chunk hash in order. Used both for MetaData
// persistence and as the payload of a tagHashSet attr.
func encodeHashSet(hs filehash.HashSet) []byte {
	var buf bytes.Buffer
	enc := encoding.NewEncoder(&buf)
	enc.WriteByte(byte(hs.FileHash.Alg))
	enc.WritePrefixedBytes(hs.FileHash.Sum)
	enc.WriteUint64(hs.ChunkSize)
	enc.WriteUint64(hs.FileSize)
	enc.WriteInt(len(hs.ChunkHashes))
	for _, ch := range hs.ChunkHashes {
		enc.WriteByte(byte(ch.Alg))
		enc.WritePrefixedBytes(ch.Sum)
	}
	return buf.Bytes()
}

// decodeHashSet is encodeHashSet's inverse.
func decodeHashSet(payload []byte) (filehash.HashSet, error) {
	dec := encoding.NewDecoder(bytes.NewReader(payload))

	algByte := make([]byte, 1)
	var hs filehash.HashSet
	dec.ReadFull(algByte)
	hs.FileHash.Alg = filehash.Alg(algByte[0])
	hs.FileHash.Sum = dec.ReadPrefixedBytes()
	hs.ChunkSize = dec.NextUint64()
	hs.FileSize = dec.NextUint64()
	count := dec.NextPrefix(1)

	hs.ChunkHashes = make([]filehash.Hash, 0, count)
	for i := uint64(0); i < count; i++ {
		dec.ReadFull(algByte)
		sum := dec.ReadPrefixedBytes()
		hs.ChunkHashes = append(hs.ChunkHashes, filehash.Hash{Alg: filehash.Alg(algByte[0]), Sum: sum})
	}
	if err := dec.Err(); err != nil && err != io.EOF {
		return filehash.HashSet{}, err
	}
	return hs, nil
}

// encodeAttr writes one (tag, length-prefixed payload) pair.
func encodeAttr(enc *encoding.Encoder, tag uint16, payload []byte) {
	enc.WriteUint64(uint64(tag))
	enc.WritePrefixedBytes(payload)
}
