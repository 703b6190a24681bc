// Package collector implements the bounded, append-only buffer of entries
// that a write batch accumulates for one column family.
//
// Two capacity classes exist (thread-local, small; shared, larger), both
// expressed as size-shift constants the way data blocks are sized
// elsewhere in this module ("target ~4KB"), generalized to a threshold
// the caller chooses per class instead of a single hardcoded constant.
package collector

import (
	"sort"

	"github.com/Priyanshu23/FlashBatchGo/entry"
)

// CapacityClass governs when a Collector reports IsFull: the cumulative
// |key|+|value| byte cost crosses 1<<Shift bytes.
type CapacityClass struct {
	Shift uint
}

// Threshold returns the byte-cost threshold this class fills at.
func (c CapacityClass) Threshold() int {
	return 1 << c.Shift
}

// Default capacity classes, framed as size shifts: a small thread-local
// class tuned so filling is common and cheap, and a
// larger shared class tuned so each SST is meaningful.
var (
	ThreadLocalClass = CapacityClass{Shift: 16} // 64 KiB
	SharedClass      = CapacityClass{Shift: 22} // 4 MiB
)

// Collector is an insertion-ordered, append-only buffer of entries for one
// family, plus running totals of key and value bytes. It is not safe for
// concurrent use by multiple goroutines; callers serialize access (a
// thread-local collector is touched only by its owning goroutine, a shared
// collector only under its own mutex — see package batch).
type Collector[K entry.Key] struct {
	class   CapacityClass
	entries []entry.Entry[K]

	totalKeyBytes   int
	totalValueBytes int
}

// New returns an empty Collector of the given capacity class.
func New[K entry.Key](class CapacityClass) *Collector[K] {
	return &Collector[K]{class: class}
}

// Put appends a Small or Medium entry (the caller decides which, based on
// its own Small/Medium size boundary) and updates the running totals.
func (c *Collector[K]) Put(key K, value []byte, medium bool) {
	var e entry.Entry[K]
	if medium {
		e = entry.NewMedium(key, value)
	} else {
		e = entry.NewSmall(key, value)
	}
	c.append(e)
}

// PutBlob appends a Blob entry pointing at seq; only key bytes count
// towards the running totals (the value itself lives in a blob file).
func (c *Collector[K]) PutBlob(key K, seq uint32) {
	c.append(entry.NewBlob(key, seq))
}

// Delete appends a Tombstone for key.
func (c *Collector[K]) Delete(key K) {
	c.append(entry.NewTombstone(key))
}

func (c *Collector[K]) append(e entry.Entry[K]) {
	c.entries = append(c.entries, e)
	c.totalKeyBytes += e.KeySize()
	c.totalValueBytes += e.ValueSize()
}

// IsFull reports whether the cumulative key+value byte cost has crossed
// this collector's class threshold.
func (c *Collector[K]) IsFull() bool {
	return c.totalKeyBytes+c.totalValueBytes >= c.class.Threshold()
}

// IsEmpty reports whether the collector holds no entries.
func (c *Collector[K]) IsEmpty() bool {
	return len(c.entries) == 0
}

// Len returns the number of entries currently held.
func (c *Collector[K]) Len() int {
	return len(c.entries)
}

// Drain returns all entries and clears the collector's counts, without
// sorting. The returned slice must not be mutated by the caller; Collector
// does not retain a reference to it after Drain.
func (c *Collector[K]) Drain() []entry.Entry[K] {
	out := c.entries
	c.entries = nil
	c.totalKeyBytes = 0
	c.totalValueBytes = 0
	return out
}

// Sorted returns a stably key-sorted copy of the held entries (ascending),
// plus the aggregate key and value byte totals, without mutating the
// collector. Stability preserves insertion order for entries with equal
// keys, so a later write to the same key from the same collector sorts
// after the earlier one.
func (c *Collector[K]) Sorted() (entries []entry.Entry[K], totalKeyBytes, totalValueBytes int) {
	out := make([]entry.Entry[K], len(c.entries))
	copy(out, c.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Key < out[j].Key
	})
	return out, c.totalKeyBytes, c.totalValueBytes
}

// Clear empties the buffer; counters return to zero. Required before a
// Collector is returned to an idle Pool: a pooled collector must always
// come back out empty.
func (c *Collector[K]) Clear() {
	c.entries = c.entries[:0]
	c.totalKeyBytes = 0
	c.totalValueBytes = 0
}
