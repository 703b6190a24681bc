package blob

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"

	"github.com/Priyanshu23/FlashBatchGo/seqalloc"
)

func TestCreateBlobRoundTrips(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, seqalloc.New(0), 0)

	value := []byte("ABCDEFGHI")
	seq, f, err := w.CreateBlob(value)
	if err != nil {
		t.Fatalf("CreateBlob: %v", err)
	}
	defer f.Close()

	if seq != 1 {
		t.Fatalf("expected sequence 1, got %d", seq)
	}

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("read blob file: %v", err)
	}

	if len(data) < 4 {
		t.Fatalf("blob file too short: %d bytes", len(data))
	}
	gotLen := binary.BigEndian.Uint32(data[:4])
	if gotLen != uint32(len(value)) {
		t.Fatalf("expected length header %d, got %d", len(value), gotLen)
	}

	originalLen, payload, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if originalLen != uint32(len(value)) {
		t.Fatalf("expected originalLen %d, got %d", len(value), originalLen)
	}
	if !bytes.Equal(payload, value) {
		t.Fatalf("expected decoded payload %q, got %q", value, payload)
	}
}

func TestCreateBlobAllocatesMonotonicSequence(t *testing.T) {
	dir := t.TempDir()
	alloc := seqalloc.New(10)
	w := New(dir, alloc, 0)

	seq1, f1, err := w.CreateBlob([]byte("first"))
	if err != nil {
		t.Fatalf("CreateBlob: %v", err)
	}
	defer f1.Close()

	seq2, f2, err := w.CreateBlob([]byte("second"))
	if err != nil {
		t.Fatalf("CreateBlob: %v", err)
	}
	defer f2.Close()

	if seq1 != 11 || seq2 != 12 {
		t.Fatalf("expected sequence numbers 11,12, got %d,%d", seq1, seq2)
	}
}

func TestCreateBlobNamesFileWithZeroPaddedSequence(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, seqalloc.New(0), 0)

	_, f, err := w.CreateBlob([]byte("x"))
	if err != nil {
		t.Fatalf("CreateBlob: %v", err)
	}
	defer f.Close()

	want := "00000001.blob"
	if got := f.Name(); len(got) < len(want) || got[len(got)-len(want):] != want {
		t.Fatalf("expected file name ending in %q, got %q", want, got)
	}
}
