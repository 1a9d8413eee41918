package encoding

import (
	"bytes"
	"io"
	"testing"
)

func TestEncoderWriteByteUint64Int(t *testing.T) {
	b := new(bytes.Buffer)
	enc := NewEncoder(b)
	enc.WriteByte(7)
	enc.WriteUint64(1 << 40)
	enc.WriteInt(-3)
	if err := enc.Err(); err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder(b)
	var buf [1]byte
	dec.ReadFull(buf[:])
	if buf[0] != 7 {
		t.Errorf("expected 7, got %v", buf[0])
	}
	if u := dec.NextUint64(); u != 1<<40 {
		t.Errorf("expected %v, got %v", uint64(1<<40), u)
	}
	if i := int64(dec.NextUint64()); i != -3 {
		t.Errorf("expected -3, got %v", i)
	}
	if err := dec.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestEncoderWritePrefixedBytesRoundTrip(t *testing.T) {
	b := new(bytes.Buffer)
	enc := NewEncoder(b)
	enc.WritePrefixedBytes([]byte("hydracore"))
	if err := enc.Err(); err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder(b)
	got := dec.ReadPrefixedBytes()
	if err := dec.Err(); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hydracore" {
		t.Errorf("expected hydracore, got %s", got)
	}
}

func TestEncoderWritePrefixedBytesEmpty(t *testing.T) {
	b := new(bytes.Buffer)
	enc := NewEncoder(b)
	enc.WritePrefixedBytes(nil)
	dec := NewDecoder(b)
	got := dec.ReadPrefixedBytes()
	if err := dec.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty slice, got %v", got)
	}
}

func TestEncoderErrIsSticky(t *testing.T) {
	enc := NewEncoder(&limitedWriter{limit: 4})
	enc.WriteUint64(1)
	enc.WriteUint64(2) // should be a no-op, since the first write already failed
	if enc.Err() == nil {
		t.Fatal("expected an error after a short write")
	}
}

type limitedWriter struct {
	limit int
	n     int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.n
	if remaining <= 0 {
		return 0, io.ErrShortWrite
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	w.n += len(p)
	return len(p), nil
}

func TestDecoderReadFullEOF(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte{1, 2, 3}))
	var buf [8]byte
	dec.ReadFull(buf[:])
	if dec.Err() == nil {
		t.Fatal("expected an error reading past the end of the stream")
	}
}

func TestDecoderNextPrefixRejectsOversizedLength(t *testing.T) {
	b := new(bytes.Buffer)
	NewEncoder(b).WriteUint64(MaxSliceSize + 1)
	dec := NewDecoder(b)
	if n := dec.NextPrefix(1); n != 0 {
		t.Errorf("expected 0, got %v", n)
	}
	if _, ok := dec.Err().(ErrSliceTooLarge); !ok {
		t.Errorf("expected ErrSliceTooLarge, got %v (%T)", dec.Err(), dec.Err())
	}
}

func TestDecoderReadPrefixedBytesRejectsOversizedLength(t *testing.T) {
	b := new(bytes.Buffer)
	NewEncoder(b).WriteUint64(MaxSliceSize + 1)
	dec := NewDecoder(b)
	if got := dec.ReadPrefixedBytes(); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if _, ok := dec.Err().(ErrSliceTooLarge); !ok {
		t.Errorf("expected ErrSliceTooLarge, got %v (%T)", dec.Err(), dec.Err())
	}
}

func TestDecoderReadEnforcesMaxObjectSize(t *testing.T) {
	dec := NewDecoder(bytes.NewReader(make([]byte, MaxObjectSize+1)))
	buf := make([]byte, MaxObjectSize+1)
	dec.ReadFull(buf)
	if _, ok := dec.Err().(ErrObjectTooLarge); !ok {
		t.Errorf("expected ErrObjectTooLarge, got %v (%T)", dec.Err(), dec.Err())
	}
}

func TestNewEncoderNewDecoderReuseExistingInstance(t *testing.T) {
	b := new(bytes.Buffer)
	enc := NewEncoder(b)
	if NewEncoder(enc) != enc {
		t.Error("NewEncoder should return the same *Encoder when given one")
	}
	dec := NewDecoder(b)
	if NewDecoder(dec) != dec {
		t.Error("NewDecoder should return the same *Decoder when given one")
	}
}
