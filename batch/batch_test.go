package batch

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/Priyanshu23/FlashBatchGo/blob"
	"github.com/Priyanshu23/FlashBatchGo/entry"
	"github.com/Priyanshu23/FlashBatchGo/sstbuilder"
)

func newTestBatch(t *testing.T, opts ...Option[string]) *WriteBatch[string] {
	t.Helper()
	dir := t.TempDir()
	wb, err := NewWriteBatch[string](dir, 0, opts...)
	if err != nil {
		t.Fatalf("NewWriteBatch: %v", err)
	}
	return wb
}

func openSST(t *testing.T, path string) *sstbuilder.Reader {
	t.Helper()
	r, err := sstbuilder.Open(path)
	if err != nil {
		t.Fatalf("sstbuilder.Open(%s): %v", path, err)
	}
	return r
}

// Scenario A — single thread, small values, one family.
func TestScenarioASingleThreadSmallValues(t *testing.T) {
	wb := newTestBatch(t)
	ctx := wb.Bind(context.Background())

	if err := wb.Put(ctx, 0, "a", []byte("1")); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := wb.Put(ctx, 0, "b", []byte("2")); err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if err := wb.Delete(ctx, 0, "a"); err != nil {
		t.Fatalf("Delete a: %v", err)
	}

	result, err := wb.Finish(ctx)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	defer closeResult(result)

	if result.SequenceNumber != 1 {
		t.Fatalf("expected sequence number 1, got %d", result.SequenceNumber)
	}
	if len(result.NewSSTFiles) != 1 {
		t.Fatalf("expected 1 SST, got %d", len(result.NewSSTFiles))
	}
	if len(result.NewBlobFiles) != 0 {
		t.Fatalf("expected 0 blobs, got %d", len(result.NewBlobFiles))
	}

	r := openSST(t, result.NewSSTFiles[0].File.Name())
	defer r.Close()

	kind, _, _, ok, err := sstbuilder.Lookup(r, "a")
	if err != nil || !ok {
		t.Fatalf("lookup a: ok=%v err=%v", ok, err)
	}
	if kind != entry.Tombstone {
		t.Fatalf("expected key a to be a tombstone, got %s", kind)
	}

	kind, value, _, ok, err := sstbuilder.Lookup(r, "b")
	if err != nil || !ok {
		t.Fatalf("lookup b: ok=%v err=%v", ok, err)
	}
	if kind != entry.Small && kind != entry.Medium {
		t.Fatalf("expected key b inline, got %s", kind)
	}
	if string(value) != "2" {
		t.Fatalf("expected value '2', got %q", value)
	}
}

// Scenario B — blob spill.
func TestScenarioBBlobSpill(t *testing.T) {
	wb := newTestBatch(t, WithMaxMediumValueSize[string](8))
	ctx := wb.Bind(context.Background())

	if err := wb.Put(ctx, 0, "k", []byte("ABCDEFGHI")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, err := wb.Finish(ctx)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	defer closeResult(result)

	if len(result.NewBlobFiles) != 1 {
		t.Fatalf("expected 1 blob file, got %d", len(result.NewBlobFiles))
	}
	if len(result.NewSSTFiles) != 1 {
		t.Fatalf("expected 1 SST file, got %d", len(result.NewSSTFiles))
	}
	if result.NewSSTFiles[0].Sequence != 2 {
		t.Fatalf("expected SST sequence 2, got %d", result.NewSSTFiles[0].Sequence)
	}

	blobData, err := os.ReadFile(result.NewBlobFiles[0].Name())
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	originalLen, payload, err := blob.DecodeFrame(blobData)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if originalLen != 9 || string(payload) != "ABCDEFGHI" {
		t.Fatalf("unexpected blob payload: len=%d payload=%q", originalLen, payload)
	}

	r := openSST(t, result.NewSSTFiles[0].File.Name())
	defer r.Close()

	kind, _, blobSeq, ok, err := sstbuilder.Lookup(r, "k")
	if err != nil || !ok {
		t.Fatalf("lookup k: ok=%v err=%v", ok, err)
	}
	if kind != entry.Blob {
		t.Fatalf("expected kind Blob, got %s", kind)
	}
	if blobSeq != 1 {
		t.Fatalf("expected blob sequence 1, got %d", blobSeq)
	}
}

// Scenario C — two families.
func TestScenarioCTwoFamilies(t *testing.T) {
	wb := newTestBatch(t, WithFamilies[string](2))
	ctx := wb.Bind(context.Background())

	if err := wb.Put(ctx, 0, "x", []byte("X")); err != nil {
		t.Fatalf("Put x: %v", err)
	}
	if err := wb.Put(ctx, 1, "y", []byte("Y")); err != nil {
		t.Fatalf("Put y: %v", err)
	}

	result, err := wb.Finish(ctx)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	defer closeResult(result)

	if len(result.NewSSTFiles) != 2 {
		t.Fatalf("expected 2 SSTs, got %d", len(result.NewSSTFiles))
	}
	if !sort.SliceIsSorted(result.NewSSTFiles, func(i, j int) bool {
		return result.NewSSTFiles[i].Sequence < result.NewSSTFiles[j].Sequence
	}) {
		t.Fatal("expected NewSSTFiles sorted by sequence")
	}

	families := map[uint32]bool{}
	for _, sst := range result.NewSSTFiles {
		r := openSST(t, sst.File.Name())
		families[r.FamilyID()] = true
		r.Close()
	}
	if !families[0] || !families[1] {
		t.Fatalf("expected SSTs for both families, got %v", families)
	}
}

// Scenario D — thread-local overflow without filling shared.
func TestScenarioDThreadLocalOverflow(t *testing.T) {
	wb := newTestBatch(t,
		WithThreadLocalSizeShift[string](4),  // 16 bytes: overflows quickly
		WithSharedSizeShift[string](20),      // 1 MiB: never fills for this test
	)
	ctx := wb.Bind(context.Background())

	const n = 100
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%03d", i)
		if err := wb.Put(ctx, 0, key, []byte(fmt.Sprintf("v%03d", i))); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}

	result, err := wb.Finish(ctx)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	defer closeResult(result)

	if len(result.NewSSTFiles) != 1 {
		t.Fatalf("expected exactly 1 SST, got %d", len(result.NewSSTFiles))
	}

	r := openSST(t, result.NewSSTFiles[0].File.Name())
	defer r.Close()
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%03d", i)
		_, value, _, ok, err := sstbuilder.Lookup(r, key)
		if err != nil || !ok {
			t.Fatalf("lookup %s: ok=%v err=%v", key, ok, err)
		}
		if string(value) != fmt.Sprintf("v%03d", i) {
			t.Fatalf("unexpected value for %s: %q", key, value)
		}
	}
}

// Scenario E — shared overflow mid-batch.
func TestScenarioESharedOverflowMidBatch(t *testing.T) {
	wb := newTestBatch(t,
		WithThreadLocalSizeShift[string](6),  // 64 bytes
		WithSharedSizeShift[string](12),      // 4 KiB: fills repeatedly over 3k puts
	)
	ctx := wb.Bind(context.Background())

	const n = 3000
	want := make(map[string]string, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%05d", i)
		value := fmt.Sprintf("v%05d", i)
		want[key] = value
		if err := wb.Put(ctx, 0, key, []byte(value)); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}

	result, err := wb.Finish(ctx)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	defer closeResult(result)

	if len(result.NewSSTFiles) < 3 {
		t.Fatalf("expected at least 3 SSTs, got %d", len(result.NewSSTFiles))
	}

	var lastSeq uint32
	total := 0
	for _, sst := range result.NewSSTFiles {
		if sst.Sequence <= lastSeq {
			t.Fatalf("expected strictly increasing sequence numbers, got %d after %d", sst.Sequence, lastSeq)
		}
		lastSeq = sst.Sequence

		r := openSST(t, sst.File.Name())
		if r.FamilyID() != 0 {
			t.Fatalf("expected family 0, got %d", r.FamilyID())
		}
		for key, value := range want {
			_, v, _, ok, err := sstbuilder.Lookup(r, key)
			if err != nil {
				t.Fatalf("lookup %s: %v", key, err)
			}
			if ok {
				total++
				if string(v) != value {
					t.Fatalf("unexpected value for %s: %q", key, v)
				}
			}
		}
		r.Close()
	}
	if total != n {
		t.Fatalf("expected conservation of %d entries across SSTs, found %d", n, total)
	}
}

// Scenario F — many threads, disjoint keys.
func TestScenarioFManyThreadsDisjointKeys(t *testing.T) {
	wb := newTestBatch(t)

	const threads = 8
	const perThread = 1000

	var wg sync.WaitGroup
	for worker := 0; worker < threads; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			ctx := wb.Bind(context.Background())
			for i := 0; i < perThread; i++ {
				key := fmt.Sprintf("w%d-k%04d", worker, i)
				if err := wb.Put(ctx, 0, key, []byte("v")); err != nil {
					t.Errorf("Put %s: %v", key, err)
				}
			}
		}(worker)
	}
	wg.Wait()

	result, err := wb.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	defer closeResult(result)

	total := 0
	for _, sst := range result.NewSSTFiles {
		r := openSST(t, sst.File.Name())
		for worker := 0; worker < threads; worker++ {
			for i := 0; i < perThread; i++ {
				key := fmt.Sprintf("w%d-k%04d", worker, i)
				_, _, _, ok, err := sstbuilder.Lookup(r, key)
				if err != nil {
					t.Fatalf("lookup %s: %v", key, err)
				}
				if ok {
					total++
				}
			}
		}
		r.Close()
	}
	if total != threads*perThread {
		t.Fatalf("expected %d entries across all SSTs, found %d", threads*perThread, total)
	}
}

func TestFinishTwiceReturnsErrBatchFinished(t *testing.T) {
	wb := newTestBatch(t)
	ctx := wb.Bind(context.Background())
	if err := wb.Put(ctx, 0, "a", []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, err := wb.Finish(ctx)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	closeResult(result)

	if _, err := wb.Finish(ctx); err != ErrBatchFinished {
		t.Fatalf("expected ErrBatchFinished, got %v", err)
	}
	if err := wb.Put(ctx, 0, "b", []byte("2")); err != ErrBatchFinished {
		t.Fatalf("expected ErrBatchFinished from Put, got %v", err)
	}
}

func TestResetRequiresFinished(t *testing.T) {
	wb := newTestBatch(t)
	if err := wb.Reset(5); err != ErrBatchNotFinished {
		t.Fatalf("expected ErrBatchNotFinished, got %v", err)
	}
}

// Idempotent reset: after finish then reset(s), the next allocated
// sequence number is s+1.
func TestResetThenNextSequence(t *testing.T) {
	wb := newTestBatch(t)
	ctx := wb.Bind(context.Background())
	if err := wb.Put(ctx, 0, "a", []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	result, err := wb.Finish(ctx)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	closeResult(result)

	if err := wb.Reset(41); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	ctx2 := wb.Bind(context.Background())
	if err := wb.Put(ctx2, 0, "b", []byte("2")); err != nil {
		t.Fatalf("Put after reset: %v", err)
	}
	result2, err := wb.Finish(ctx2)
	if err != nil {
		t.Fatalf("Finish after reset: %v", err)
	}
	defer closeResult(result2)

	if result2.SequenceNumber != 42 {
		t.Fatalf("expected sequence 42 after reset(41), got %d", result2.SequenceNumber)
	}
}

func TestPutWithoutBindPanics(t *testing.T) {
	wb := newTestBatch(t)
	defer func() {
		r := recover()
		if r != ErrUnbound {
			t.Fatalf("expected panic ErrUnbound, got %v", r)
		}
	}()
	_ = wb.Put(context.Background(), 0, "a", []byte("1"))
}

func TestPutFamilyOutOfRange(t *testing.T) {
	wb := newTestBatch(t)
	ctx := wb.Bind(context.Background())
	if err := wb.Put(ctx, 5, "a", []byte("1")); err == nil {
		t.Fatal("expected error for out-of-range family")
	}
}

func closeResult(r FinishResult) {
	for _, sst := range r.NewSSTFiles {
		sst.File.Close()
	}
	for _, f := range r.NewBlobFiles {
		f.Close()
	}
}
