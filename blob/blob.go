// Package blob implements the blob writer collaborator. A large value is
// framed as [u32 big-endian original length][LZ4 stream] and written to
// its own sequence-numbered file.
//
// Wire-format deviation: the original Rust store compresses with a raw
// LZ4 block codec (lzzzz::lz4::compress_to_vec), so its on-disk format is
// genuinely "block, no trailer" and needs the length prefix to know how
// large a buffer to allocate before decompressing, since a raw block
// carries no self-description at all. Every LZ4 library touched anywhere
// in this codebase's retrieval pack — including klauspost/compress/lz4
// itself — is only ever used through its streaming Frame Writer/Reader
// (magic number, FLG/BD descriptor, block-size-prefixed blocks, mandatory
// end marker), never through a raw-block API; no pack-visible library
// demonstrates one. This package therefore writes a full LZ4 frame rather
// than a bare block, so the file is not strictly "block, no trailer": the
// frame's own header and end marker are an on-disk deviation from the
// pinned format. The length prefix is kept anyway, not because decoding
// requires it (the frame is self-delimiting), but as a cheap pre-sizing
// hint for DecodeFrame's output buffer. See DESIGN.md for the full
// rationale.
package blob

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/lz4"

	"github.com/Priyanshu23/FlashBatchGo/pathutil"
	"github.com/Priyanshu23/FlashBatchGo/seqalloc"
)

// Error tags a blob-writing failure with the stage it occurred at: one of
// the four blob error kinds (compress, create, write, flush).
type Error struct {
	Stage string // "compress", "create", "write", or "flush"
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("blob: %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Writer allocates sequence numbers and writes blob files under dbPath. The
// sequence allocator is shared with the SST flusher (package sstflush) so
// both artifact kinds draw from one monotonic space — see batch.WriteBatch,
// which owns the *seqalloc.Allocator passed here.
type Writer struct {
	dbPath       string
	seq          *seqalloc.Allocator
	acceleration int
}

// New returns a blob Writer rooted at dbPath, drawing sequence numbers from
// seq. acceleration selects the LZ4 compression level; 0 leaves the library
// at its default
// (fastest). The caller is responsible for pathutil.EnsureDir(dbPath)
// before the first write.
func New(dbPath string, seq *seqalloc.Allocator, acceleration int) *Writer {
	return &Writer{dbPath: dbPath, seq: seq, acceleration: acceleration}
}

// CreateBlob allocates the next sequence number, frames value, and writes
// it to a fresh NNNNNNNN.blob file under the writer's dbPath. It returns
// that sequence number together with the open file handle, for
// FinishResult.NewBlobFiles to collect.
func (w *Writer) CreateBlob(value []byte) (uint32, *os.File, error) {
	framed, err := frame(value, w.acceleration)
	if err != nil {
		return 0, nil, &Error{Stage: "compress", Err: err}
	}

	seq := w.seq.Next()
	path := pathutil.ArtifactPath(w.dbPath, seq, "blob")
	f, err := os.Create(path)
	if err != nil {
		return 0, nil, &Error{Stage: "create", Err: err}
	}

	if _, err := f.Write(framed); err != nil {
		f.Close()
		return 0, nil, &Error{Stage: "write", Err: err}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return 0, nil, &Error{Stage: "flush", Err: err}
	}

	return seq, f, nil
}

// frame builds the on-disk blob payload: a 4-byte big-endian original
// length followed by a complete LZ4 frame (header through end marker) for
// value — see the package doc for why this is a frame and not a raw
// block. acceleration of 0 leaves the writer at the library's default
// (fastest) level; any other value is applied as the LZ4 compression level.
func frame(value []byte, acceleration int) ([]byte, error) {
	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	if acceleration != 0 {
		if err := zw.Apply(lz4.CompressionLevelOption(lz4.CompressionLevel(acceleration))); err != nil {
			return nil, err
		}
	}
	if _, err := zw.Write(value); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	out := make([]byte, 4, 4+compressed.Len())
	binary.BigEndian.PutUint32(out, uint32(len(value)))
	out = append(out, compressed.Bytes()...)
	return out, nil
}

// DecodeFrame reverses frame: it returns the original-length header and the
// decompressed payload. originalLen is used only to pre-size the output
// buffer — the LZ4 frame reader needs no help finding the end of the
// stream. Used by tests and the blob-framing round-trip property.
func DecodeFrame(framed []byte) (originalLen uint32, payload []byte, err error) {
	if len(framed) < 4 {
		return 0, nil, fmt.Errorf("blob: frame too short: %d bytes", len(framed))
	}
	originalLen = binary.BigEndian.Uint32(framed[:4])

	zr := lz4.NewReader(bytes.NewReader(framed[4:]))
	payload = make([]byte, 0, originalLen)
	buf := make([]byte, 4096)
	for {
		n, readErr := zr.Read(buf)
		if n > 0 {
			payload = append(payload, buf[:n]...)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return originalLen, nil, readErr
		}
	}
	return originalLen, payload, nil
}
