// Package mem implements the kernel's physical page pool: a fixed-size
// arena of page-sized frames with reference counting and a free list,
// the way biscuit's Physmem_t manages the machine's physical memory. This
// module runs hosted (no real MMU), so "physical address" is just an
// opaque handle (Pa_t) indexing into the arena rather than a real
// machine address.
package mem

import (
	"sync"
)

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

// PGSIZE is the size in bytes of a single page-sized frame.
const PGSIZE = 1 << PGSHIFT

// Page_t is one physical page's backing storage.
type Page_t [PGSIZE]byte

// Pa_t is an opaque handle for a physical page. The zero value never
// denotes a live page; Pool hands out 1-based indices.
type Pa_t uint32

// Pool is the page allocator contract assumed by the rest of the core
// (spec.md §6, "Page allocator"). It mirrors biscuit's Page_i: callers
// allocate a page, refcount it across sharers (COW, block cache), and
// free it when the last reference drops.
type Pool interface {
	Alloc() (Pa_t, *Page_t, bool)
	AllocNoZero() (Pa_t, *Page_t, bool)
	Deref(Pa_t) *Page_t
	Refcnt(Pa_t) int
	Refup(Pa_t)
	Refdown(Pa_t) bool
	Free(Pa_t)
}

type slot struct {
	page   Page_t
	refcnt int32
	inUse  bool
}

// Physmem_t is the concrete Pool: a flat array of slots plus a free list,
// grounded on biscuit's mem.Physmem_t free-list allocator (mem/mem.go),
// simplified to a single global free list since this core targets a
// uniprocessor cooperative kernel (spec.md §5) rather than biscuit's
// per-CPU free lists.
type Physmem_t struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
}

var zeroPage Page_t

// NewPool allocates a physical memory pool of n page-sized frames.
func NewPool(n int) *Physmem_t {
	p := &Physmem_t{
		slots: make([]slot, n),
		free:  make([]uint32, n),
	}
	for i := range p.free {
		p.free[i] = uint32(n - 1 - i)
	}
	return p
}

func (p *Physmem_t) allocIdx() (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return 0, false
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.slots[idx].inUse = true
	p.slots[idx].refcnt = 1
	return idx, true
}

// Alloc returns a freshly zeroed frame.
func (p *Physmem_t) Alloc() (Pa_t, *Page_t, bool) {
	idx, ok := p.allocIdx()
	if !ok {
		return 0, nil, false
	}
	p.slots[idx].page = zeroPage
	return Pa_t(idx + 1), &p.slots[idx].page, true
}

// AllocNoZero returns a frame without clearing its previous contents,
// for callers about to overwrite every byte (e.g. COW copy-out).
func (p *Physmem_t) AllocNoZero() (Pa_t, *Page_t, bool) {
	idx, ok := p.allocIdx()
	if !ok {
		return 0, nil, false
	}
	return Pa_t(idx + 1), &p.slots[idx].page, true
}

func (p *Physmem_t) idx(pa Pa_t) uint32 {
	if pa == 0 {
		panic("mem: nil physical address")
	}
	return uint32(pa) - 1
}

// Deref returns the backing array for pa.
func (p *Physmem_t) Deref(pa Pa_t) *Page_t {
	return &p.slots[p.idx(pa)].page
}

// Refcnt reports the current reference count of pa.
func (p *Physmem_t) Refcnt(pa Pa_t) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.slots[p.idx(pa)].refcnt)
}

// Refup increments pa's reference count.
func (p *Physmem_t) Refup(pa Pa_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.idx(pa)
	if !p.slots[i].inUse {
		panic("mem: refup on free page")
	}
	p.slots[i].refcnt++
}

// Refdown decrements pa's reference count, freeing it and returning true
// when the count reaches zero.
func (p *Physmem_t) Refdown(pa Pa_t) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.idx(pa)
	if !p.slots[i].inUse {
		panic("mem: refdown on free page")
	}
	p.slots[i].refcnt--
	if p.slots[i].refcnt < 0 {
		panic("mem: negative refcount")
	}
	if p.slots[i].refcnt == 0 {
		p.slots[i].inUse = false
		p.free = append(p.free, i)
		return true
	}
	return false
}

// Free forces pa back onto the free list regardless of refcount; used by
// callers that allocated a frame and must unwind before publishing it
// anywhere a refcount could be shared.
func (p *Physmem_t) Free(pa Pa_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.idx(pa)
	p.slots[i].inUse = false
	p.slots[i].refcnt = 0
	p.free = append(p.free, i)
}

// Avail returns the number of unallocated frames.
func (p *Physmem_t) Avail() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
