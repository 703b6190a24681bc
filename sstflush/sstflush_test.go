package sstflush

import (
	"testing"

	"github.com/Priyanshu23/FlashBatchGo/entry"
	"github.com/Priyanshu23/FlashBatchGo/seqalloc"
	"github.com/Priyanshu23/FlashBatchGo/sstbuilder"
)

func TestCreateSSTAllocatesSequenceAndWritesReadableFile(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, seqalloc.New(4), false)

	entries := []entry.Entry[string]{
		entry.NewSmall("k1", []byte("v1")),
		entry.NewSmall("k2", []byte("v2")),
	}

	seq, file, err := CreateSST(f, 2, entries, 4, 4)
	if err != nil {
		t.Fatalf("CreateSST: %v", err)
	}
	defer file.Close()

	if seq != 5 {
		t.Fatalf("expected sequence 5, got %d", seq)
	}

	want := "00000005.sst"
	if got := file.Name(); len(got) < len(want) || got[len(got)-len(want):] != want {
		t.Fatalf("expected file name ending in %q, got %q", want, got)
	}

	r, err := sstbuilder.Open(file.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.FamilyID() != 2 {
		t.Fatalf("expected family id 2, got %d", r.FamilyID())
	}
	_, value, _, ok, err := sstbuilder.Lookup(r, "k1")
	if err != nil || !ok {
		t.Fatalf("Lookup(k1): ok=%v err=%v", ok, err)
	}
	if string(value) != "v1" {
		t.Fatalf("expected value v1, got %q", value)
	}
}

func TestCreateSSTWithVerificationPasses(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, seqalloc.New(0), true)

	entries := []entry.Entry[string]{
		entry.NewSmall("a", []byte("1")),
		entry.NewTombstone[string]("b"),
	}

	_, file, err := CreateSST(f, 0, entries, 2, 1)
	if err != nil {
		t.Fatalf("CreateSST with verification: %v", err)
	}
	file.Close()
}

func TestCreateSSTSequenceSharedAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	alloc := seqalloc.New(0)
	f := New(dir, alloc, false)

	entries := []entry.Entry[string]{entry.NewSmall("x", []byte("y"))}

	seq1, file1, err := CreateSST(f, 0, entries, 1, 1)
	if err != nil {
		t.Fatalf("CreateSST: %v", err)
	}
	defer file1.Close()

	seq2, file2, err := CreateSST(f, 1, entries, 1, 1)
	if err != nil {
		t.Fatalf("CreateSST: %v", err)
	}
	defer file2.Close()

	if seq1 != 1 || seq2 != 2 {
		t.Fatalf("expected sequence numbers 1,2, got %d,%d", seq1, seq2)
	}
}

