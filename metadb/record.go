package metadb

import (
	"bytes"

	"gitlab.com/hydranode/hydracore/encoding"
)

// encodeStreamInfo serializes a StreamInfo to its on-disk form.
func encodeStreamInfo(s StreamInfo) []byte {
	var buf bytes.Buffer
	enc := encoding.NewEncoder(&buf)
	enc.WriteUint64(s.Duration)
	enc.WritePrefixedBytes([]byte(s.Codec))
	return buf.Bytes()
}

// decodeStreamInfo is encodeStreamInfo's inverse.
func decodeStreamInfo(payload []byte) StreamInfo {
	dec := encoding.NewDecoder(bytes.NewReader(payload))
	d := dec.NextUint64()
	codec := dec.ReadPrefixedBytes()
	return StreamInfo{Duration: d, Codec: string(codec)}
}

// encodeMetaData writes one MetaData record as (id, size, attr count,
// attrs...). Every known field becomes zero or more attrs; any attr this
// package read from disk but didn't recognize (md.unknown) is written back
// out verbatim so a newer writer's fields survive an older reader's round
// trip.
func encodeMetaData(md *MetaData) []byte {
	var attrs []attr
	for _, n := range md.Names {
		attrs = append(attrs, attr{Tag: tagName, Payload: []byte(n)})
	}
	for _, hs := range md.HashSets {
		attrs = append(attrs, attr{Tag: tagHashSet, Payload: encodeHashSet(hs)})
	}
	if md.TypeTag != "" {
		attrs = append(attrs, attr{Tag: tagTypeTag, Payload: []byte(md.TypeTag)})
	}
	for _, c := range md.Custom {
		attrs = append(attrs, attr{Tag: tagCustomString, Payload: []byte(c)})
	}
	if md.Stream != nil {
		attrs = append(attrs, attr{Tag: tagStreamInfo, Payload: encodeStreamInfo(*md.Stream)})
	}
	attrs = append(attrs, md.unknown...)

	var buf bytes.Buffer
	enc := encoding.NewEncoder(&buf)
	enc.WriteUint64(md.ID)
	enc.WriteUint64(md.Size)
	enc.WriteInt(len(attrs))
	for _, a := range attrs {
		encodeAttr(enc, a.Tag, a.Payload)
	}
	return buf.Bytes()
}

// decodeMetaData is encodeMetaData's inverse. Attrs whose tag this package
// doesn't recognize are kept verbatim in the returned record's unknown
// slice rather than discarded.
func decodeMetaData(payload []byte) (*MetaData, error) {
	dec := encoding.NewDecoder(bytes.NewReader(payload))
	md := &MetaData{
		ID:   dec.NextUint64(),
		Size: dec.NextUint64(),
	}
	count := dec.NextPrefix(1)
	for i := uint64(0); i < count; i++ {
		tag := uint16(dec.NextUint64())
		p := dec.ReadPrefixedBytes()
		switch tag {
		case tagName:
			md.addName(string(p))
		case tagHashSet:
			hs, err := decodeHashSet(p)
			if err != nil {
				return nil, err
			}
			md.HashSets = append(md.HashSets, hs)
		case tagTypeTag:
			md.TypeTag = string(p)
		case tagCustomString:
			md.addCustom(string(p))
		case tagStreamInfo:
			s := decodeStreamInfo(p)
			md.Stream = &s
		default:
			md.unknown = append(md.unknown, attr{Tag: tag, Payload: p})
		}
	}
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return md, nil
}
