// Package frame implements the frame table and clock eviction policy
// (spec.md §4.4, component C4). It tracks which physical frames are
// currently backing a resident page and, when the underlying pool is
// exhausted, picks a victim via a circular clock sweep over the
// accessed bit.
//
// The table never imports package page: it depends on the narrow
// Victim interface instead, so the frame/page relationship (C4 evicts
// by asking C5 to swap itself out; C5 asks C4 for a frame when it
// swaps back in) stays one-directional at the Go package level, the
// same layering biscuit keeps between its physical-page allocator
// (mem/pmem.go) and its higher vm_* callers — the allocator never
// imports vm.
package frame

import (
	"sync"

	"vmkernel/kerr"
	"vmkernel/mem"
	"vmkernel/metrics"
)

// Victim is the narrow interface a resident page presents to the frame
// table so it can be evicted without the table knowing its page type
// (spec.md §4.5: Uninit/Anon/File each swap out differently).
type Victim interface {
	// Accessed reports the hardware accessed bit for this page's
	// mapping(s) and clears it as a side effect — the standard
	// test-and-clear step of the clock algorithm.
	Accessed() bool
	// Pinned reports whether this page must never be chosen as a
	// victim (e.g. mid-fault-in, or explicitly locked).
	Pinned() bool
	// SwapOut persists the frame's contents (if needed) and detaches
	// the page from it. Called while the table still records the
	// frame under this page; the table reassigns the frame only after
	// SwapOut succeeds.
	SwapOut() kerr.Err_t
}

type slot struct {
	pa     mem.Pa_t
	victim Victim
}

// Table is the frame table: the set of physical frames currently on
// loan to resident pages, plus the clock hand used to pick a victim
// when the pool is exhausted.
type Table struct {
	mu       sync.Mutex
	pool     mem.Pool
	capacity int
	slots    []slot
	hand     int
	sink     metrics.Sink
}

// New builds a frame table drawing from pool, capped at capacity
// resident frames (spec.md §4.4: "bounded by the number of physical
// frames available to the VM subsystem").
func New(pool mem.Pool, capacity int, sink metrics.Sink) *Table {
	if sink == nil {
		sink = metrics.Noop()
	}
	return &Table{pool: pool, capacity: capacity, sink: sink}
}

func (t *Table) indexOf(pa mem.Pa_t) int {
	for i, s := range t.slots {
		if s.pa == pa {
			return i
		}
	}
	return -1
}

// GetFrame returns a physical frame to back v, evicting an existing
// resident page via the clock policy if the table is already full
// (spec.md §4.4 "clock / second-chance" algorithm).
func (t *Table) GetFrame(v Victim) (mem.Pa_t, kerr.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.slots) < t.capacity {
		pa, _, ok := t.pool.Alloc()
		if !ok {
			return 0, kerr.ENOMEM
		}
		t.slots = append(t.slots, slot{pa: pa, victim: v})
		return pa, 0
	}

	return t.evictLocked(v)
}

// evictLocked runs the two-pass clock sweep: first pass clears
// accessed bits and skips pages found accessed; second pass takes the
// first page still found not-accessed (spec.md §4.4). Pinned pages are
// never considered. The chosen victim's SwapOut is invoked before its
// frame is handed to v.
func (t *Table) evictLocked(v Victim) (mem.Pa_t, kerr.Err_t) {
	n := len(t.slots)
	if n == 0 {
		return 0, kerr.ENOMEM
	}

	for pass := 0; pass < 2; pass++ {
		for i := 0; i < n; i++ {
			idx := (t.hand + i) % n
			s := t.slots[idx]
			if s.victim.Pinned() {
				continue
			}
			accessed := s.victim.Accessed()
			if accessed && pass == 0 {
				continue
			}
			t.hand = (idx + 1) % n
			if err := s.victim.SwapOut(); err != 0 {
				return 0, err
			}
			t.sink.Eviction()
			t.slots[idx] = slot{pa: s.pa, victim: v}
			return s.pa, 0
		}
	}
	return 0, kerr.ENOMEM
}

// Release drops one reference to pa, used when a page is destroyed
// outright rather than evicted (spec.md §4.5 Destroy). A COW-shared
// frame (spec.md §4.9) is referenced from more than one descriptor but
// tracked by a single slot here; Release must not tear that slot down
// while a sibling still holds it. The pool's refcount (the same one
// ShareFrame/COWBreak maintain, per SPEC_FULL.md §4.10) is the source
// of truth: the slot and the physical frame are only reclaimed once
// this was the last reference.
func (t *Table) Release(pa mem.Pa_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.indexOf(pa)
	if idx < 0 {
		panic("frame: release of untracked frame")
	}
	if !t.pool.Refdown(pa) {
		return
	}
	t.slots = append(t.slots[:idx], t.slots[idx+1:]...)
}

// Resident reports how many frames are currently tracked.
func (t *Table) Resident() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Capacity reports the table's frame budget.
func (t *Table) Capacity() int { return t.capacity }
