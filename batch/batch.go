// Package batch implements WriteBatch, the write-batch orchestrator tying
// together collector, blob, and sstflush. Thread-local state keyed by
// thread identity becomes an explicit context-carried handle in Go — see
// handle.go.
package batch

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Priyanshu23/FlashBatchGo/blob"
	"github.com/Priyanshu23/FlashBatchGo/collector"
	"github.com/Priyanshu23/FlashBatchGo/entry"
	"github.com/Priyanshu23/FlashBatchGo/pathutil"
	"github.com/Priyanshu23/FlashBatchGo/seqalloc"
	"github.com/Priyanshu23/FlashBatchGo/sstflush"
)

// smallValueSizeThreshold separates the Small and Medium entry.Kind
// variants within the inline (non-blob) path. Only the blob-divert
// threshold is an exposed tuning constant (MaxMediumValueSize); the
// Small/Medium split itself is an internal fixed boundary (see DESIGN.md).
const smallValueSizeThreshold = 256

type state int

const (
	active state = iota
	finished
)

// SSTFile pairs a flushed SST's sequence number with its open file handle.
type SSTFile struct {
	Sequence uint32
	File     *os.File
}

// FinishResult is Finish's return value.
type FinishResult struct {
	SequenceNumber uint32
	NewSSTFiles    []SSTFile
	NewBlobFiles   []*os.File
}

type familySlot[K entry.Key] struct {
	mu        sync.Mutex
	collector *collector.Collector[K]
}

// WriteBatch stages Put/Delete calls from many goroutines into per-family
// collectors and, on Finish, flushes everything to immutable SST and blob
// files.
type WriteBatch[K entry.Key] struct {
	dbPath string
	cfg    config

	seq        *seqalloc.Allocator
	blobWriter *blob.Writer
	flusher    *sstflush.Flusher

	threadLocalPool *collector.Pool[K]
	sharedPool      *collector.Pool[K]

	handlesMu sync.Mutex
	handles   []*local[K]

	shared []*familySlot[K]

	sstMu       sync.Mutex
	newSSTFiles []SSTFile

	stateMu sync.Mutex
	st      state
}

// NewWriteBatch returns a WriteBatch rooted at dbPath, accepting
// initialSequence as the last committed sequence number (the batch's
// first-allocated artifact gets initialSequence+1). families is fixed for
// the batch's lifetime — Go has no compile-time value generics, so a
// compile-time FAMILIES constant becomes a validated constructor
// parameter, set via WithFamilies.
func NewWriteBatch[K entry.Key](dbPath string, initialSequence uint32, opts ...Option[K]) (*WriteBatch[K], error) {
	if err := pathutil.EnsureDir(dbPath); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.families <= 0 {
		return nil, fmt.Errorf("batch: families must be positive, got %d", cfg.families)
	}

	seq := seqalloc.New(initialSequence)

	shared := make([]*familySlot[K], cfg.families)
	sharedPool := collector.NewPool[K](collector.CapacityClass{Shift: cfg.sharedSizeShift})
	for i := range shared {
		shared[i] = &familySlot[K]{collector: sharedPool.Get()}
	}

	return &WriteBatch[K]{
		dbPath:          dbPath,
		cfg:             cfg,
		seq:             seq,
		blobWriter:      blob.New(dbPath, seq, cfg.lz4Acceleration),
		flusher:         sstflush.New(dbPath, seq, cfg.verify),
		threadLocalPool: collector.NewPool[K](collector.CapacityClass{Shift: cfg.threadLocalSizeShift}),
		sharedPool:      sharedPool,
		shared:          shared,
	}, nil
}

func (b *WriteBatch[K]) validateFamily(family int) error {
	if family < 0 || family >= b.cfg.families {
		return fmt.Errorf("%w: %d (families=%d)", ErrFamilyOutOfRange, family, b.cfg.families)
	}
	return nil
}

func (b *WriteBatch[K]) checkActive() error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.st != active {
		return ErrBatchFinished
	}
	return nil
}

// Put appends a Small/Medium entry for (family, key, value), or diverts
// to a blob file when value exceeds MaxMediumValueSize.
func (b *WriteBatch[K]) Put(ctx context.Context, family int, key K, value []byte) error {
	if err := b.checkActive(); err != nil {
		return err
	}
	if err := b.validateFamily(family); err != nil {
		return err
	}

	h := b.boundHandle(ctx)
	c, err := b.localCollector(h, family)
	if err != nil {
		return err
	}

	if len(value) > b.cfg.maxMediumValueSize {
		seq, f, err := b.blobWriter.CreateBlob(value)
		if err != nil {
			return fmt.Errorf("batch: put: %w", err)
		}
		h.newBlobFiles = append(h.newBlobFiles, f)
		c.PutBlob(key, seq)
		return nil
	}

	c.Put(key, value, len(value) > smallValueSizeThreshold)
	return nil
}

// Delete appends a tombstone for (family, key).
func (b *WriteBatch[K]) Delete(ctx context.Context, family int, key K) error {
	if err := b.checkActive(); err != nil {
		return err
	}
	if err := b.validateFamily(family); err != nil {
		return err
	}

	h := b.boundHandle(ctx)
	c, err := b.localCollector(h, family)
	if err != nil {
		return err
	}

	c.Delete(key)
	return nil
}

// localCollector returns h's collector for family, lazily acquiring one
// from the thread-local pool, and flushes it into the shared collector
// first if it is already full.
func (b *WriteBatch[K]) localCollector(h *local[K], family int) (*collector.Collector[K], error) {
	c := h.collectors[family]
	if c == nil {
		c = b.threadLocalPool.Get()
		h.collectors[family] = c
	}

	if c.IsFull() {
		if err := b.flushThreadLocalToShared(family, c); err != nil {
			return nil, fmt.Errorf("batch: thread-local flush: %w", err)
		}
	}

	return c, nil
}

// flushThreadLocalToShared drains c's entries into family's shared
// collector under its lock, swapping in a fresh idle shared collector
// whenever it fills and queuing the full one for out-of-lock SST writes.
// c is left empty and otherwise untouched — the caller keeps using it.
func (b *WriteBatch[K]) flushThreadLocalToShared(family int, c *collector.Collector[K]) error {
	slot := b.shared[family]
	entries := c.Drain()

	var full []*collector.Collector[K]

	slot.mu.Lock()
	for _, e := range entries {
		switch e.Kind {
		case entry.Blob:
			slot.collector.PutBlob(e.Key, e.SequenceNumber)
		case entry.Tombstone:
			slot.collector.Delete(e.Key)
		default:
			slot.collector.Put(e.Key, e.Value, e.Kind == entry.Medium)
		}

		if slot.collector.IsFull() {
			full = append(full, slot.collector)
			slot.collector = b.sharedPool.Get()
		}
	}
	slot.mu.Unlock()

	for _, fc := range full {
		if err := b.flushSharedToSST(family, fc); err != nil {
			return err
		}
	}
	return nil
}

// flushSharedToSST sorts c, writes an SST for family, clears c, and
// returns it to the shared pool.
func (b *WriteBatch[K]) flushSharedToSST(family int, c *collector.Collector[K]) error {
	sorted, totalKey, totalValue := c.Sorted()
	if len(sorted) == 0 {
		c.Clear()
		b.sharedPool.Put(c)
		return nil
	}

	seq, f, err := sstflush.CreateSST(b.flusher, uint32(family), sorted, totalKey, totalValue)
	if err != nil {
		return err
	}

	b.sstMu.Lock()
	b.newSSTFiles = append(b.newSSTFiles, SSTFile{Sequence: seq, File: f})
	b.sstMu.Unlock()

	c.Clear()
	b.sharedPool.Put(c)
	return nil
}

// Finish flushes every remaining thread-local and shared collector to SST
// files and returns the artifacts produced since construction or the last
// Reset.
func (b *WriteBatch[K]) Finish(ctx context.Context) (FinishResult, error) {
	b.stateMu.Lock()
	if b.st != active {
		b.stateMu.Unlock()
		return FinishResult{}, ErrBatchFinished
	}
	b.st = finished
	b.stateMu.Unlock()

	b.handlesMu.Lock()
	handles := b.handles
	b.handles = nil
	b.handlesMu.Unlock()

	var blobFiles []*os.File

	type pending struct {
		family    int
		collector *collector.Collector[K]
	}
	var pendingFlushes []pending

	for _, h := range handles {
		blobFiles = append(blobFiles, h.newBlobFiles...)
		for family, c := range h.collectors {
			if c == nil || c.IsEmpty() {
				if c != nil {
					b.threadLocalPool.Put(c)
				}
				continue
			}
			pendingFlushes = append(pendingFlushes, pending{family: family, collector: c})
		}
	}

	// Structured task scope: each task owns one (family, collector) pair
	// and flushes it thread-local→shared independently.
	g, _ := errgroup.WithContext(ctx)
	for _, p := range pendingFlushes {
		g.Go(func() error {
			err := b.flushThreadLocalToShared(p.family, p.collector)
			p.collector.Clear()
			b.threadLocalPool.Put(p.collector)
			return err
		})
	}
	flushErr := g.Wait()

	// Data-parallel for-each over the fixed-size family array: Go has no
	// rayon par_iter, so a plain WaitGroup over b.cfg.families goroutines
	// is the idiomatic equivalent.
	var wg sync.WaitGroup
	var finalErrMu sync.Mutex
	var finalErr error

	for family := range b.shared {
		wg.Add(1)
		go func() {
			defer wg.Done()

			slot := b.shared[family]
			slot.mu.Lock()
			c := slot.collector
			slot.collector = b.sharedPool.Get()
			slot.mu.Unlock()

			if err := b.flushSharedToSST(family, c); err != nil {
				finalErrMu.Lock()
				if finalErr == nil {
					finalErr = err
				}
				finalErrMu.Unlock()
			}
		}()
	}
	wg.Wait()

	if flushErr == nil {
		flushErr = finalErr
	}
	if flushErr != nil {
		return FinishResult{}, &FlushError{Err: flushErr}
	}

	b.sstMu.Lock()
	sstFiles := b.newSSTFiles
	b.newSSTFiles = nil
	b.sstMu.Unlock()

	sort.Slice(sstFiles, func(i, j int) bool { return sstFiles[i].Sequence < sstFiles[j].Sequence })

	return FinishResult{
		SequenceNumber: b.seq.Current(),
		NewSSTFiles:    sstFiles,
		NewBlobFiles:   blobFiles,
	}, nil
}

// Reset reseeds the sequence counter and returns the batch to Active.
// Only valid from Finished; collectors and pools are untouched since
// Finish already left them empty.
func (b *WriteBatch[K]) Reset(nextSequence uint32) error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	if b.st != finished {
		return ErrBatchNotFinished
	}

	b.seq.Reset(nextSequence)
	b.st = active
	return nil
}
