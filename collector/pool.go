package collector

import (
	"sync"

	"github.com/Priyanshu23/FlashBatchGo/entry"
)

// Pool is a LIFO stack of cleared, idle collectors of one capacity class,
// recycled across batches to avoid allocation churn. A single push/pop is
// guarded by a mutex; contention is
// negligible because the pool is only touched on collector boundaries
// (full/idle swaps), never per-entry.
type Pool[K entry.Key] struct {
	mu    sync.Mutex
	class CapacityClass
	idle  []*Collector[K]
}

// NewPool returns an empty pool for the given capacity class.
func NewPool[K entry.Key](class CapacityClass) *Pool[K] {
	return &Pool[K]{class: class}
}

// Get pops an idle collector if one is available, or constructs a fresh
// empty one of this pool's class.
func (p *Pool[K]) Get() *Collector[K] {
	p.mu.Lock()
	n := len(p.idle)
	if n == 0 {
		p.mu.Unlock()
		return New[K](p.class)
	}
	c := p.idle[n-1]
	p.idle = p.idle[:n-1]
	p.mu.Unlock()
	return c
}

// Put pushes an idle collector back onto the pool. The caller must have
// already Clear()-ed it.
func (p *Pool[K]) Put(c *Collector[K]) {
	p.mu.Lock()
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// Len reports the number of collectors currently idle in the pool
// (test/introspection only).
func (p *Pool[K]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
