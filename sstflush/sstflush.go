// Package sstflush implements the SST flusher collaborator. A shared
// collector's sorted contents become one immutable, sequence-
// numbered SST file under the write batch's directory.
package sstflush

import (
	"fmt"
	"os"

	"github.com/Priyanshu23/FlashBatchGo/entry"
	"github.com/Priyanshu23/FlashBatchGo/pathutil"
	"github.com/Priyanshu23/FlashBatchGo/seqalloc"
	"github.com/Priyanshu23/FlashBatchGo/sstbuilder"
)

// Flusher allocates sequence numbers and writes SST files under dbPath,
// drawing from the same *seqalloc.Allocator the blob writer uses.
type Flusher struct {
	dbPath string
	seq    *seqalloc.Allocator
	verify bool
}

// New returns a Flusher rooted at dbPath. If verify is true, every
// CreateSST call re-reads the file it just wrote and checks it against
// the entries it was given, panicking on any disagreement.
func New(dbPath string, seq *seqalloc.Allocator, verify bool) *Flusher {
	return &Flusher{dbPath: dbPath, seq: seq, verify: verify}
}

// CreateSST allocates the next sequence number and writes sorted (already
// key-sorted, insertion-order-stable for ties) to a fresh NNNNNNNN.sst
// file for familyID. Go has no generic methods, so this is a free
// function over Flusher rather than a method, mirroring sstbuilder.Lookup.
func CreateSST[K entry.Key](f *Flusher, familyID uint32, sorted []entry.Entry[K], totalKeyBytes, totalValueBytes int) (uint32, *os.File, error) {
	seq := f.seq.Next()
	path := pathutil.ArtifactPath(f.dbPath, seq, "sst")

	b := sstbuilder.New(familyID, sorted, totalKeyBytes, totalValueBytes)
	file, err := b.Write(path)
	if err != nil {
		return 0, nil, fmt.Errorf("sstflush: create sst for family %d: %w", familyID, err)
	}

	if f.verify {
		if err := sstbuilder.Verify(path, sorted); err != nil {
			file.Close()
			return 0, nil, fmt.Errorf("sstflush: verify sst for family %d: %w", familyID, err)
		}
	}

	return seq, file, nil
}
