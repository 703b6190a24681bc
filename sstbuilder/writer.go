// Package sstbuilder is FlashBatchGo's implementation of the SST builder
// collaborator: given a family id, a sorted view of entries, and aggregate
// byte totals, it writes an immutable on-disk SST file and hands back the
// open file.
//
// Keeps the data-block/index-block/bloom-filter/footer layout and the
// io.MultiWriter(file, crc32.NewIEEE()) CRC trick of an earlier two-variant
// Put/Delete writer, generalized to entry.Kind's four variants (Small/
// Medium/Blob/Tombstone), and from a single hardcoded "segment-001.sst"
// filename to whatever sequence-numbered path the caller (package
// sstflush) supplies.
package sstbuilder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/Priyanshu23/FlashBatchGo/entry"
)

const defaultMaxDataBlockSize = 4 * 1024 // 4KiB target per data block

type dataEntry struct {
	kind    entry.Kind
	key     []byte
	payload []byte
}

func (d dataEntry) size() int {
	return 4 + 4 + 1 + len(d.key) + len(d.payload)
}

type dataBlock struct {
	entries []dataEntry
}

type indexEntry struct {
	key         []byte
	blockOffset int64
	blockSize   uint32
}

type indexBlock struct {
	entries []indexEntry
}

// Builder accumulates one family's sorted entries into an SST file. Callers
// construct one with New, then call Write exactly once.
type Builder[K entry.Key] struct {
	familyID         uint32
	entries          []entry.Entry[K]
	totalKeyBytes    int
	totalValueBytes  int
	maxDataBlockSize int

	file              *os.File
	currDataBlock     dataBlock
	currDataBlockSize int
	index             indexBlock
	minKey            []byte
	maxKey            []byte
	bloomFilter       *bloom.BloomFilter
}

// New returns a Builder for familyID over the already-sorted entries, with
// the aggregate key/value byte totals the collector computed. The totals are
// kept on the Builder; the bloom filter is pre-sized from len(entries).
func New[K entry.Key](familyID uint32, entries []entry.Entry[K], totalKeyBytes, totalValueBytes int) *Builder[K] {
	estimate := uint(len(entries))
	if estimate == 0 {
		estimate = 1
	}
	return &Builder[K]{
		familyID:         familyID,
		entries:          entries,
		totalKeyBytes:    totalKeyBytes,
		totalValueBytes:  totalValueBytes,
		maxDataBlockSize: defaultMaxDataBlockSize,
		bloomFilter:      bloom.NewWithEstimates(estimate, 0.01),
	}
}

// Write serializes the builder's entries to path and returns the open file.
func (b *Builder[K]) Write(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sstbuilder: create %s: %w", path, err)
	}
	b.file = f

	for _, e := range b.entries {
		if err := b.add(e); err != nil {
			f.Close()
			return nil, fmt.Errorf("sstbuilder: write %s: %w", path, err)
		}
	}

	footerStart, err := b.flush()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstbuilder: write %s: %w", path, err)
	}

	// Trailing fixed-size pointer to the footer: the footer itself is
	// variable length (it embeds the min/max key bytes), so a reader needs
	// a fixed-size anchor at the very end of the file to find it.
	if err := binary.Write(f, binary.LittleEndian, footerStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstbuilder: write %s: %w", path, err)
	}

	return f, nil
}

// TrailerSize is the fixed-size pointer at the very end of every SST file,
// holding the absolute offset of the (variable-length) footer.
const TrailerSize = 8

func (b *Builder[K]) add(e entry.Entry[K]) error {
	key := e.KeyBytes()
	if b.minKey == nil || bytes.Compare(key, b.minKey) < 0 {
		b.minKey = append([]byte(nil), key...)
	}
	if b.maxKey == nil || bytes.Compare(key, b.maxKey) > 0 {
		b.maxKey = append([]byte(nil), key...)
	}

	de := dataEntry{kind: e.Kind, key: key, payload: payloadOf(e)}

	if de.size()+b.currDataBlockSize > b.maxDataBlockSize && len(b.currDataBlock.entries) > 0 {
		if err := b.appendDataBlock(); err != nil {
			return err
		}
		b.currDataBlock = dataBlock{}
		b.currDataBlockSize = 0
	}

	b.currDataBlock.entries = append(b.currDataBlock.entries, de)
	b.currDataBlockSize += de.size()
	b.bloomFilter.Add(key)

	return nil
}

// payloadOf returns the bytes stored after the TYPE byte: the inline value
// for Small/Medium, the 4-byte big-endian sequence number for Blob, nothing
// for Tombstone.
func payloadOf[K entry.Key](e entry.Entry[K]) []byte {
	switch e.Kind {
	case entry.Small, entry.Medium:
		return e.Value
	case entry.Blob:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, e.SequenceNumber)
		return buf
	default: // Tombstone
		return nil
	}
}

func (b *Builder[K]) recordIndex(blockOffset int64, blockSize uint32) {
	if len(b.currDataBlock.entries) == 0 {
		return
	}
	firstKey := b.currDataBlock.entries[0].key
	keyCopy := make([]byte, len(firstKey))
	copy(keyCopy, firstKey)

	b.index.entries = append(b.index.entries, indexEntry{
		key:         keyCopy,
		blockOffset: blockOffset,
		blockSize:   blockSize,
	})
}

func (b *Builder[K]) appendDataBlock() error {
	blockStart, err := b.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	if err := binary.Write(b.file, binary.LittleEndian, uint32(0)); err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(b.file, crc)

	for _, e := range b.currDataBlock.entries {
		if err := binary.Write(mw, binary.LittleEndian, uint32(len(e.key))); err != nil {
			return err
		}
		if err := binary.Write(mw, binary.LittleEndian, uint32(len(e.payload))); err != nil {
			return err
		}
		if err := binary.Write(mw, binary.LittleEndian, uint8(e.kind)); err != nil {
			return err
		}
		if _, err := mw.Write(e.key); err != nil {
			return err
		}
		if _, err := mw.Write(e.payload); err != nil {
			return err
		}
	}

	payloadEnd, err := b.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	payloadSize := uint32(payloadEnd - blockStart - 4)

	if err := binary.Write(b.file, binary.LittleEndian, crc.Sum32()); err != nil {
		return err
	}

	finalEnd, err := b.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := b.file.Seek(blockStart, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(b.file, binary.LittleEndian, payloadSize); err != nil {
		return err
	}
	if _, err := b.file.Seek(finalEnd, io.SeekStart); err != nil {
		return err
	}

	// The index points past the size prefix, at the payload and its CRC.
	b.recordIndex(blockStart+4, payloadSize+4)
	return nil
}

func (b *Builder[K]) writeIndexBlock() (int64, uint32, error) {
	start, err := b.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, err
	}

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(b.file, crc)

	if err := binary.Write(mw, binary.LittleEndian, uint32(len(b.index.entries))); err != nil {
		return 0, 0, err
	}

	for _, e := range b.index.entries {
		if err := binary.Write(mw, binary.LittleEndian, uint32(len(e.key))); err != nil {
			return 0, 0, err
		}
		if _, err := mw.Write(e.key); err != nil {
			return 0, 0, err
		}
		if err := binary.Write(mw, binary.LittleEndian, e.blockOffset); err != nil {
			return 0, 0, err
		}
		if err := binary.Write(mw, binary.LittleEndian, e.blockSize); err != nil {
			return 0, 0, err
		}
	}

	if err := binary.Write(b.file, binary.LittleEndian, crc.Sum32()); err != nil {
		return 0, 0, err
	}

	end, err := b.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, err
	}
	return start, uint32(end - start), nil
}

func (b *Builder[K]) writeBloomFilter() (int64, uint32, error) {
	start, err := b.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, fmt.Errorf("seek start of bloom block: %w", err)
	}

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(b.file, crc)

	if err := binary.Write(mw, binary.LittleEndian, uint32(b.bloomFilter.K())); err != nil {
		return 0, 0, fmt.Errorf("write bloom hash count: %w", err)
	}
	if err := binary.Write(mw, binary.LittleEndian, uint32(b.bloomFilter.Cap())); err != nil {
		return 0, 0, fmt.Errorf("write bloom size: %w", err)
	}
	if _, err := b.bloomFilter.WriteTo(mw); err != nil {
		return 0, 0, fmt.Errorf("write bloom bit array: %w", err)
	}
	if err := binary.Write(b.file, binary.LittleEndian, crc.Sum32()); err != nil {
		return 0, 0, fmt.Errorf("write bloom crc: %w", err)
	}

	end, err := b.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, fmt.Errorf("seek end of bloom block: %w", err)
	}
	return start, uint32(end - start), nil
}

func (b *Builder[K]) writeFooter(indexOffset int64, indexSize uint32, bloomOffset int64, bloomSize uint32) error {
	crc := crc32.NewIEEE()
	mw := io.MultiWriter(b.file, crc)

	if err := binary.Write(mw, binary.LittleEndian, b.familyID); err != nil {
		return fmt.Errorf("write family id: %w", err)
	}
	if err := binary.Write(mw, binary.LittleEndian, indexOffset); err != nil {
		return fmt.Errorf("write index offset: %w", err)
	}
	if err := binary.Write(mw, binary.LittleEndian, indexSize); err != nil {
		return fmt.Errorf("write index size: %w", err)
	}
	if err := binary.Write(mw, binary.LittleEndian, bloomOffset); err != nil {
		return fmt.Errorf("write bloom offset: %w", err)
	}
	if err := binary.Write(mw, binary.LittleEndian, bloomSize); err != nil {
		return fmt.Errorf("write bloom size: %w", err)
	}
	if err := binary.Write(mw, binary.LittleEndian, uint16(len(b.minKey))); err != nil {
		return fmt.Errorf("write min key size: %w", err)
	}
	if _, err := mw.Write(b.minKey); err != nil {
		return fmt.Errorf("write min key: %w", err)
	}
	if err := binary.Write(mw, binary.LittleEndian, uint16(len(b.maxKey))); err != nil {
		return fmt.Errorf("write max key size: %w", err)
	}
	if _, err := mw.Write(b.maxKey); err != nil {
		return fmt.Errorf("write max key: %w", err)
	}

	return binary.Write(b.file, binary.LittleEndian, crc.Sum32())
}

// flush writes the final (possibly partial) data block, the index block,
// the bloom filter block, and the footer, in that order, and returns the
// absolute offset the footer starts at.
func (b *Builder[K]) flush() (int64, error) {
	if len(b.currDataBlock.entries) > 0 {
		if err := b.appendDataBlock(); err != nil {
			return 0, err
		}
	}

	indexOffset, indexSize, err := b.writeIndexBlock()
	if err != nil {
		return 0, err
	}

	bloomOffset, bloomSize, err := b.writeBloomFilter()
	if err != nil {
		return 0, err
	}

	footerStart, err := b.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	if err := b.writeFooter(indexOffset, indexSize, bloomOffset, bloomSize); err != nil {
		return 0, err
	}

	return footerStart, nil
}
