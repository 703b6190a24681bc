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

// footer is the fixed set of fields every SST's variable-length footer
// carries, decoded from the file located via its trailing TrailerSize
// pointer.
type footer struct {
	familyID    uint32
	indexOffset int64
	indexSize   uint32
	bloomOffset int64
	bloomSize   uint32
	minKey      []byte
	maxKey      []byte
}

// Reader opens an SST file written by Builder.Write and serves point
// lookups against it: the flusher's output must be readable back, both
// for callers and for the verification pass below.
type Reader struct {
	file   *os.File
	footer footer
	index  indexBlock
	bloom  *bloom.BloomFilter
}

// Open reads path's trailer, footer, index block, and bloom filter, and
// returns a Reader ready for Lookup. It does not read any data block until
// a lookup actually needs one.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstbuilder: open %s: %w", path, err)
	}

	r := &Reader{file: f}
	if err := r.load(); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstbuilder: load %s: %w", path, err)
	}
	return r, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.file.Close() }

// FamilyID returns the column family id the SST was built for.
func (r *Reader) FamilyID() uint32 { return r.footer.familyID }

// MinKey and MaxKey return the (copied) bounding keys recorded in the
// footer.
func (r *Reader) MinKey() []byte { return append([]byte(nil), r.footer.minKey...) }
func (r *Reader) MaxKey() []byte { return append([]byte(nil), r.footer.maxKey...) }

func (r *Reader) load() error {
	end, err := r.file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if end < TrailerSize {
		return fmt.Errorf("file too short to hold trailer: %d bytes", end)
	}

	if _, err := r.file.Seek(end-TrailerSize, io.SeekStart); err != nil {
		return err
	}
	var footerStart int64
	if err := binary.Read(r.file, binary.LittleEndian, &footerStart); err != nil {
		return fmt.Errorf("read trailer: %w", err)
	}

	ft, err := r.readFooter(footerStart, end-TrailerSize)
	if err != nil {
		return err
	}
	r.footer = ft

	idx, err := r.readIndexBlock(ft.indexOffset, ft.indexSize)
	if err != nil {
		return err
	}
	r.index = idx

	bf, err := r.readBloomFilter(ft.bloomOffset, ft.bloomSize)
	if err != nil {
		return err
	}
	r.bloom = bf

	return nil
}

func (r *Reader) readFooter(start, end int64) (footer, error) {
	if _, err := r.file.Seek(start, io.SeekStart); err != nil {
		return footer{}, err
	}
	size := end - start
	if size <= 0 {
		return footer{}, fmt.Errorf("invalid footer bounds [%d,%d)", start, end)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r.file, buf); err != nil {
		return footer{}, fmt.Errorf("read footer: %w", err)
	}

	body := buf[:len(buf)-4]
	wantCRC := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if gotCRC := crc32.ChecksumIEEE(body); gotCRC != wantCRC {
		return footer{}, fmt.Errorf("footer checksum mismatch: got %08x, want %08x", gotCRC, wantCRC)
	}

	br := bytes.NewReader(body)
	var ft footer

	if err := binary.Read(br, binary.LittleEndian, &ft.familyID); err != nil {
		return footer{}, fmt.Errorf("read family id: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &ft.indexOffset); err != nil {
		return footer{}, fmt.Errorf("read index offset: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &ft.indexSize); err != nil {
		return footer{}, fmt.Errorf("read index size: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &ft.bloomOffset); err != nil {
		return footer{}, fmt.Errorf("read bloom offset: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &ft.bloomSize); err != nil {
		return footer{}, fmt.Errorf("read bloom size: %w", err)
	}

	var minLen, maxLen uint16
	if err := binary.Read(br, binary.LittleEndian, &minLen); err != nil {
		return footer{}, fmt.Errorf("read min key size: %w", err)
	}
	ft.minKey = make([]byte, minLen)
	if _, err := io.ReadFull(br, ft.minKey); err != nil {
		return footer{}, fmt.Errorf("read min key: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &maxLen); err != nil {
		return footer{}, fmt.Errorf("read max key size: %w", err)
	}
	ft.maxKey = make([]byte, maxLen)
	if _, err := io.ReadFull(br, ft.maxKey); err != nil {
		return footer{}, fmt.Errorf("read max key: %w", err)
	}

	return ft, nil
}

func (r *Reader) readIndexBlock(offset int64, size uint32) (indexBlock, error) {
	if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
		return indexBlock{}, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r.file, buf); err != nil {
		return indexBlock{}, fmt.Errorf("read index block: %w", err)
	}

	body := buf[:len(buf)-4]
	wantCRC := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if gotCRC := crc32.ChecksumIEEE(body); gotCRC != wantCRC {
		return indexBlock{}, fmt.Errorf("index block checksum mismatch: got %08x, want %08x", gotCRC, wantCRC)
	}

	br := bytes.NewReader(body)
	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return indexBlock{}, fmt.Errorf("read index entry count: %w", err)
	}

	ib := indexBlock{entries: make([]indexEntry, 0, count)}
	for i := uint32(0); i < count; i++ {
		var keyLen uint32
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return indexBlock{}, fmt.Errorf("read index key size: %w", err)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return indexBlock{}, fmt.Errorf("read index key: %w", err)
		}
		var blockOffset int64
		var blockSize uint32
		if err := binary.Read(br, binary.LittleEndian, &blockOffset); err != nil {
			return indexBlock{}, fmt.Errorf("read index block offset: %w", err)
		}
		if err := binary.Read(br, binary.LittleEndian, &blockSize); err != nil {
			return indexBlock{}, fmt.Errorf("read index block size: %w", err)
		}
		ib.entries = append(ib.entries, indexEntry{key: key, blockOffset: blockOffset, blockSize: blockSize})
	}

	return ib, nil
}

func (r *Reader) readBloomFilter(offset int64, size uint32) (*bloom.BloomFilter, error) {
	if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r.file, buf); err != nil {
		return nil, fmt.Errorf("read bloom block: %w", err)
	}

	body := buf[:len(buf)-4]
	wantCRC := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if gotCRC := crc32.ChecksumIEEE(body); gotCRC != wantCRC {
		return nil, fmt.Errorf("bloom block checksum mismatch: got %08x, want %08x", gotCRC, wantCRC)
	}

	br := bytes.NewReader(body)
	var k, m uint32
	if err := binary.Read(br, binary.LittleEndian, &k); err != nil {
		return nil, fmt.Errorf("read bloom hash count: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &m); err != nil {
		return nil, fmt.Errorf("read bloom size: %w", err)
	}

	bf := bloom.New(m, k)
	if _, err := bf.ReadFrom(br); err != nil {
		return nil, fmt.Errorf("read bloom bit array: %w", err)
	}
	return bf, nil
}

// MayContain reports whether key could be present, per the bloom filter.
// A false result is authoritative; a true result requires Lookup to
// confirm.
func (r *Reader) MayContain(key []byte) bool {
	return r.bloom.Test(key)
}

// lookupRaw scans the data block whose index entry could hold key and
// returns the matching entry's kind and raw on-disk payload. When key was
// written more than once, the last entry for it wins. found is
// false if key is provably absent (bloom filter) or not present in its
// candidate block. Go has no generic methods, so the typed Lookup below
// is a free function built on top of this byte-level one.
func (r *Reader) lookupRaw(key []byte) (kind entry.Kind, payload []byte, found bool, err error) {
	if !r.bloom.Test(key) {
		return 0, nil, false, nil
	}

	idx := r.candidateBlock(key)
	if idx < 0 {
		return 0, nil, false, nil
	}
	block := r.index.entries[idx]

	entries, err := r.readDataBlock(block.blockOffset, block.blockSize)
	if err != nil {
		return 0, nil, false, err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		if de := entries[i]; bytes.Equal(de.key, key) {
			return de.kind, de.payload, true, nil
		}
	}
	return 0, nil, false, nil
}

// Lookup looks up key and decodes its payload according to its kind:
// the inline value for Small/Medium, the blob sequence number for Blob
// (value is nil), nothing for Tombstone. ok is false only if key is
// genuinely absent from the SST.
func Lookup[K entry.Key](r *Reader, key K) (kind entry.Kind, value []byte, blobSeq uint32, ok bool, err error) {
	keyBytes := []byte(string(key))
	kind, payload, found, err := r.lookupRaw(keyBytes)
	if err != nil || !found {
		return kind, nil, 0, false, err
	}

	switch kind {
	case entry.Small, entry.Medium:
		return kind, payload, 0, true, nil
	case entry.Blob:
		if len(payload) != 4 {
			return kind, nil, 0, false, fmt.Errorf("sstbuilder: malformed blob payload for key %q: %d bytes", key, len(payload))
		}
		return kind, nil, binary.BigEndian.Uint32(payload), true, nil
	default: // Tombstone
		return kind, nil, 0, true, nil
	}
}

// Verify re-opens path (just written by Builder.Write) and looks up every
// entry in source, panicking on any class/value/sequence mismatch or on a
// miss for a key known to have been written. A key with several entries in
// source reads back as its last one, so only that entry's class and
// contents are compared; earlier ones are checked for presence. This is an assertion-class
// failure reserved for builder/reader disagreement — it is
// never expected to fire against correctly-written data, so a caller that
// hits it has a corrupt SST or a bug in this package, not a recoverable
// runtime condition.
func Verify[K entry.Key](path string, source []entry.Entry[K]) error {
	r, err := Open(path)
	if err != nil {
		return fmt.Errorf("sstbuilder: verify %s: %w", path, err)
	}
	defer r.Close()

	for i, want := range source {
		kind, value, blobSeq, ok, err := Lookup(r, want.Key)
		if err != nil {
			return fmt.Errorf("sstbuilder: verify %s: lookup %q: %w", path, string(want.Key), err)
		}
		if !ok {
			panic(fmt.Sprintf("sstbuilder: verify %s: key %q written but missing on readback", path, string(want.Key)))
		}
		if i+1 < len(source) && source[i+1].Key == want.Key {
			continue
		}
		if kind != want.Kind {
			panic(fmt.Sprintf("sstbuilder: verify %s: key %q kind mismatch: wrote %s, read %s", path, string(want.Key), want.Kind, kind))
		}
		switch want.Kind {
		case entry.Small, entry.Medium:
			if !bytes.Equal(value, want.Value) {
				panic(fmt.Sprintf("sstbuilder: verify %s: key %q value mismatch", path, string(want.Key)))
			}
		case entry.Blob:
			if blobSeq != want.SequenceNumber {
				panic(fmt.Sprintf("sstbuilder: verify %s: key %q blob sequence mismatch: wrote %d, read %d", path, string(want.Key), want.SequenceNumber, blobSeq))
			}
		}
	}

	return nil
}

// readDataBlock reads and CRC-validates the data block at [offset,
// offset+size) and decodes its entries.
func (r *Reader) readDataBlock(offset int64, size uint32) ([]dataEntry, error) {
	if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r.file, buf); err != nil {
		return nil, fmt.Errorf("read data block: %w", err)
	}

	body := buf[:len(buf)-4]
	wantCRC := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if gotCRC := crc32.ChecksumIEEE(body); gotCRC != wantCRC {
		return nil, fmt.Errorf("data block checksum mismatch: got %08x, want %08x", gotCRC, wantCRC)
	}

	br := bytes.NewReader(body)
	var entries []dataEntry
	for br.Len() > 0 {
		var keyLen, payloadLen uint32
		var kind uint8

		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return nil, fmt.Errorf("read entry key size: %w", err)
		}
		if err := binary.Read(br, binary.LittleEndian, &payloadLen); err != nil {
			return nil, fmt.Errorf("read entry payload size: %w", err)
		}
		if err := binary.Read(br, binary.LittleEndian, &kind); err != nil {
			return nil, fmt.Errorf("read entry kind: %w", err)
		}

		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return nil, fmt.Errorf("read entry key: %w", err)
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(br, payload); err != nil {
			return nil, fmt.Errorf("read entry payload: %w", err)
		}

		entries = append(entries, dataEntry{kind: entry.Kind(kind), key: key, payload: payload})
	}

	return entries, nil
}

// candidateBlock returns the index of the last index entry whose first
// key is <= key, or -1 if key precedes every block's first key.
func (r *Reader) candidateBlock(key []byte) int {
	candidate := -1
	for i, e := range r.index.entries {
		if bytes.Compare(e.key, key) <= 0 {
			candidate = i
		} else {
			break
		}
	}
	return candidate
}
