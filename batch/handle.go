package batch

import (
	"context"
	"os"

	"github.com/Priyanshu23/FlashBatchGo/collector"
	"github.com/Priyanshu23/FlashBatchGo/entry"
)

// local is the per-goroutine thread-local state: one optional collector
// per family, plus the blob files this goroutine's puts have produced. It
// is reachable only through the context a Bind call returned, so only its
// owning goroutine ever touches it until Finish harvests it.
type local[K entry.Key] struct {
	collectors   []*collector.Collector[K]
	newBlobFiles []*os.File
}

func newLocal[K entry.Key](families int) *local[K] {
	return &local[K]{collectors: make([]*collector.Collector[K], families)}
}

type handleKey[K entry.Key] struct{ batch *WriteBatch[K] }

// Bind registers a fresh per-goroutine handle with b and returns a context
// carrying it. Must be called once by each goroutine before its first
// Put/Delete: state discoverable by thread identity elsewhere becomes an
// explicit context-carried handle here, since Go exposes no stable
// goroutine identity to key a map by.
func (b *WriteBatch[K]) Bind(ctx context.Context) context.Context {
	h := newLocal[K](b.cfg.families)

	b.handlesMu.Lock()
	b.handles = append(b.handles, h)
	b.handlesMu.Unlock()

	return context.WithValue(ctx, handleKey[K]{batch: b}, h)
}

// boundHandle fetches the calling goroutine's handle from ctx, panicking
// with ErrUnbound if Bind was never called on this ctx for this batch —
// the same programmer-error tier as the sstbuilder verification panics.
func (b *WriteBatch[K]) boundHandle(ctx context.Context) *local[K] {
	h, ok := ctx.Value(handleKey[K]{batch: b}).(*local[K])
	if !ok {
		panic(ErrUnbound)
	}
	return h
}
