package uf2

import (
	"bytes"
	"io"
	"slices"
	"testing"
)

func TestEncodeRead(t *testing.T) {
	data := make([]byte, 500)
	for i := range data {
		data[i] = byte(i)
	}
	const addr = 0x10000000
	var f bytes.Buffer
	if err := Encode(&f, FamilyRP2350ARMSigned, addr, data); err != nil {
		t.Fatal(err)
	}
	if f.Len() != 2*blockSize {
		t.Errorf("encoded %d bytes, want %d", f.Len(), 2*blockSize)
	}
	r := NewReader(bytes.NewReader(f.Bytes()), FamilyRP2350ARMSigned)
	got, err := io.ReadAll(r)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if r.StartAddr != addr {
		t.Errorf("got start address %x, expected %x", r.StartAddr, addr)
	}
	// The payload of the final block is zero padded.
	if len(got) != 2*payloadSize {
		t.Fatalf("read %d bytes, want %d", len(got), 2*payloadSize)
	}
	if !slices.Equal(got[:len(data)], data) {
		t.Errorf("wrote %x..., yet read %x...", data[:10], got[:10])
	}
	for _, b := range got[len(data):] {
		if b != 0 {
			t.Errorf("padding byte %#x, want 0", b)
		}
	}
}

func TestFamilySkip(t *testing.T) {
	var f bytes.Buffer
	if err := Encode(&f, FamilyAbsolute, 0x20000000, make([]byte, payloadSize)); err != nil {
		t.Fatal(err)
	}
	data := bytes.Repeat([]byte{0xa5}, 2*payloadSize)
	const addr = 0x10000000
	if err := Encode(&f, FamilyRP2350ARMSigned, addr, data); err != nil {
		t.Fatal(err)
	}
	r := NewReader(bytes.NewReader(f.Bytes()), FamilyRP2350ARMSigned)
	got, err := io.ReadAll(r)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if r.StartAddr != addr {
		t.Errorf("got start address %x, expected %x", r.StartAddr, addr)
	}
	if !slices.Equal(got, data) {
		t.Error("foreign family blocks leaked into the payload")
	}
}

func TestNonContiguous(t *testing.T) {
	var f bytes.Buffer
	if err := Encode(&f, FamilyRP2350ARMSigned, 0x10000000, make([]byte, payloadSize)); err != nil {
		t.Fatal(err)
	}
	// A gap of one payload before the second run of blocks.
	if err := Encode(&f, FamilyRP2350ARMSigned, 0x10000200, make([]byte, payloadSize)); err != nil {
		t.Fatal(err)
	}
	r := NewReader(bytes.NewReader(f.Bytes()), FamilyRP2350ARMSigned)
	if _, err := io.ReadAll(r); err == nil {
		t.Error("gap in target addresses not reported")
	}
}

func TestWrite(t *testing.T) {
	data := make([]byte, 500)
	for i := range data {
		data[i] = byte(i)
	}
	var f bytes.Buffer
	if err := Encode(&f, FamilyRP2350ARMSigned, 0x10000000, make([]byte, 2*payloadSize)); err != nil {
		t.Fatal(err)
	}
	w := &seekableBuffer{data: f.Bytes()}
	r2 := NewReader(w, FamilyRP2350ARMSigned)
	if _, err := r2.Write(data); err != nil {
		t.Fatal(err)
	}
	r := &seekableBuffer{data: w.data}
	r3 := NewReader(r, FamilyRP2350ARMSigned)
	buf2 := make([]byte, len(data))
	n, err := io.ReadFull(r3, buf2[:])
	if err != nil {
		t.Fatal(err)
	}
	buf2 = buf2[:n]
	if !slices.Equal(data, buf2) {
		t.Errorf("wrote %x..., yet read %x...", data[:10], buf2[:10])
	}
}

type seekableBuffer struct {
	data []byte
	idx  int
}

func (s *seekableBuffer) Read(b []byte) (int, error) {
	n := copy(b, s.data[s.idx:])
	s.idx += n
	return n, nil
}

func (s *seekableBuffer) Write(b []byte) (int, error) {
	n := copy(s.data[s.idx:], b)
	s.idx += n
	return n, nil
}
