// Package page implements the page descriptor and its per-type
// operations (spec.md §4.5, component C5): the tagged union of
// Uninit/Anon/File pages the supplemental page table indexes, lazy
// loading via Uninit's one-shot initializer, and copy-on-write frame
// sharing for fork.
//
// A Descriptor implements frame.Victim so the frame table can evict it
// without depending on this package; this package is the one that
// imports frame, keeping the C4/C5 dependency one-directional.
package page

import (
	"sync"

	"vmkernel/frame"
	"vmkernel/inode"
	"vmkernel/kerr"
	"vmkernel/mem"
	"vmkernel/mmu"
	"vmkernel/swap"
)

// Type tags which union member a Descriptor currently holds.
type Type int

const (
	Uninit Type = iota
	Anon
	File
)

// Initializer lazily fills a freshly claimed frame the first time an
// Uninit page is touched (spec.md §4.5: "uninit pages carry a
// one-shot initializer"). It receives the raw frame to fill and
// whatever aux data the page was created with.
type Initializer func(dst *mem.Page_t, aux interface{}) kerr.Err_t

// Descriptor is one entry of the supplemental page table: a page's
// virtual address plus enough type-specific state to fault it in,
// evict it, and tear it down.
type Descriptor struct {
	mu      sync.Mutex
	va      uintptr
	table   mmu.Table
	pool    mem.Pool
	typ     Type
	pa      mem.Pa_t // 0 when not resident
	pinned  bool
	writable bool

	// Uninit
	init     Initializer
	aux      interface{}
	destType Type

	// Anon
	swapTbl     *swap.Bitmap
	swapSlot    int
	hasSwapSlot bool

	// File-backed (mmap)
	handle    *inode.Handle
	fileOff   int
	readBytes int
	shared    bool
}

// NewUninit builds a page that lazily becomes destType the first time
// it's claimed, running init to populate the frame (spec.md §4.5: used
// both for zero-fill-on-demand anon pages and for lazily loaded
// executable segments).
func NewUninit(va uintptr, table mmu.Table, pool mem.Pool, destType Type, init Initializer, aux interface{}) *Descriptor {
	return &Descriptor{
		va:       va,
		table:    table,
		pool:     pool,
		typ:      Uninit,
		destType: destType,
		init:     init,
		aux:      aux,
		writable: true,
	}
}

// SetSwapTable attaches the swap backing store a page should use once
// it becomes Anon, needed for Uninit pages whose destination type is
// Anon (e.g. lazily grown stack pages) since NewUninit itself has no
// swap table to hand them.
func (d *Descriptor) SetSwapTable(t *swap.Bitmap) {
	d.mu.Lock()
	d.swapTbl = t
	d.mu.Unlock()
}

// NewAnon builds an already-anonymous (not-yet-resident) page with no
// swap slot assigned yet.
func NewAnon(va uintptr, table mmu.Table, pool mem.Pool, swapTbl *swap.Bitmap, writable bool) *Descriptor {
	return &Descriptor{
		va:       va,
		table:    table,
		pool:     pool,
		typ:      Anon,
		swapTbl:  swapTbl,
		writable: writable,
	}
}

// NewFile builds a file-backed (mmap) page. readBytes is how much of
// the page comes from the file (the remainder, up to mem.PGSIZE, is
// zero-filled — spec.md §4.8, the last page of a mapping that doesn't
// align to a page boundary). shared controls whether writes are
// written back to handle on evict/unmap or stay private to this
// address space.
func NewFile(va uintptr, table mmu.Table, pool mem.Pool, handle *inode.Handle, fileOff, readBytes int, writable, shared bool) *Descriptor {
	return &Descriptor{
		va:        va,
		table:     table,
		pool:      pool,
		typ:       File,
		handle:    handle,
		fileOff:   fileOff,
		readBytes: readBytes,
		writable:  writable,
		shared:    shared,
	}
}

// VA returns the page's virtual address.
func (d *Descriptor) VA() uintptr { return d.va }

// Type returns the page's current union tag.
func (d *Descriptor) Type() Type {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typ
}

// Resident reports whether the page currently occupies a frame.
func (d *Descriptor) Resident() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pa != 0
}

// Pa returns the backing frame, or 0 if not resident.
func (d *Descriptor) Pa() mem.Pa_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pa
}

// Writable reports the page's logical writability (distinct from the
// hardware write bit, which COW pages keep cleared while shared).
func (d *Descriptor) Writable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writable
}

// Pin/Unpin exempt a page from eviction, e.g. while a fault is being
// resolved for it.
func (d *Descriptor) Pin() {
	d.mu.Lock()
	d.pinned = true
	d.mu.Unlock()
}

func (d *Descriptor) Unpin() {
	d.mu.Lock()
	d.pinned = false
	d.mu.Unlock()
}

// Pinned implements frame.Victim.
func (d *Descriptor) Pinned() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pinned
}

// Accessed implements frame.Victim: test-and-clear the hardware
// accessed bit for this page's mapping.
func (d *Descriptor) Accessed() bool {
	a := d.table.IsAccessed(d.va)
	if a {
		d.table.SetAccessed(d.va, false)
	}
	return a
}

// Claim faults the page in: if Uninit, allocates a frame, runs the
// initializer, and mutates the descriptor into destType in place
// (spec.md §4.5: "on first claim, Uninit pages mutate into their
// destination type"); if Anon or File and not resident, allocates a
// frame and repopulates it from swap or from the backing file.
func (d *Descriptor) Claim(frames *frame.Table) kerr.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pa != 0 {
		return 0
	}

	switch d.typ {
	case Uninit:
		pa, err := frames.GetFrame(d)
		if err != 0 {
			return err
		}
		dst := d.pool.Deref(pa)
		for i := range dst {
			dst[i] = 0
		}
		if d.init != nil {
			if err := d.init(dst, d.aux); err != 0 {
				frames.Release(pa)
				return err
			}
		}
		d.pa = pa
		d.typ = d.destType
		if !d.table.Install(d.va, pa, d.writable) {
			return kerr.ENOMEM
		}
		return 0

	case Anon:
		pa, err := frames.GetFrame(d)
		if err != 0 {
			return err
		}
		dst := d.pool.Deref(pa)
		if d.hasSwapSlot {
			if err := d.swapTbl.Read(d.swapSlot, dst); err != 0 {
				frames.Release(pa)
				return err
			}
			d.swapTbl.Release(d.swapSlot)
			d.hasSwapSlot = false
		} else {
			for i := range dst {
				dst[i] = 0
			}
		}
		d.pa = pa
		if !d.table.Install(d.va, pa, d.writable) {
			return kerr.ENOMEM
		}
		return 0

	case File:
		pa, err := frames.GetFrame(d)
		if err != 0 {
			return err
		}
		dst := d.pool.Deref(pa)
		for i := range dst {
			dst[i] = 0
		}
		if d.readBytes > 0 {
			n, ferr := d.handle.ReadAt(dst[:d.readBytes], d.fileOff)
			if ferr != 0 {
				frames.Release(pa)
				return ferr
			}
			_ = n
		}
		d.pa = pa
		if !d.table.Install(d.va, pa, d.writable) {
			return kerr.ENOMEM
		}
		return 0
	}
	panic("page: claim of unknown type")
}

// SwapOut implements frame.Victim: persists the frame's contents (if
// it owns any that would otherwise be lost) and detaches the page,
// leaving it non-resident. The frame itself is not freed here — the
// frame table immediately hands the same physical frame to the new
// victim that triggered this eviction.
func (d *Descriptor) SwapOut() kerr.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pa == 0 {
		panic("page: swap-out of non-resident page")
	}
	src := d.pool.Deref(d.pa)

	switch d.typ {
	case Anon:
		slot, ok := d.swapTbl.Allocate()
		if !ok {
			return kerr.ENOSPC
		}
		if err := d.swapTbl.Write(slot, src); err != 0 {
			d.swapTbl.Release(slot)
			return err
		}
		d.swapSlot = slot
		d.hasSwapSlot = true

	case File:
		if d.shared && d.writable && d.table.IsDirty(d.va) {
			if _, err := d.handle.WriteAt(src[:d.readBytes], d.fileOff); err != 0 {
				return err
			}
			d.table.SetDirty(d.va, false)
		}

	case Uninit:
		panic("page: swap-out of uninit page")
	}

	d.table.Clear(d.va)
	d.pa = 0
	return 0
}

// WriteBack flushes a resident, dirty shared File page to its backing
// handle without evicting it, used by munmap (spec.md §4.8 step 3).
func (d *Descriptor) WriteBack() kerr.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.typ != File || d.pa == 0 || !d.shared || !d.writable || !d.table.IsDirty(d.va) {
		return 0
	}
	src := d.pool.Deref(d.pa)
	if _, err := d.handle.WriteAt(src[:d.readBytes], d.fileOff); err != 0 {
		return err
	}
	d.table.SetDirty(d.va, false)
	return 0
}

// Destroy tears the page down outright (not an eviction): frees its
// frame if resident, releases any swap slot it owns, and clears its
// mapping. Used by address-space teardown and by munmap after
// write-back.
func (d *Descriptor) Destroy(frames *frame.Table) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pa != 0 {
		frames.Release(d.pa)
		d.table.Clear(d.va)
		d.pa = 0
	}
	if d.typ == Anon && d.hasSwapSlot {
		d.swapTbl.Release(d.swapSlot)
		d.hasSwapSlot = false
	}
}

// CopyDescriptor clones a descriptor's type-specific state (not its
// residency) onto a new virtual address, used by fork when a page
// cannot be shared COW (e.g. it is still Uninit).
func (d *Descriptor) CopyDescriptor(va uintptr, table mmu.Table) *Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &Descriptor{
		va:        va,
		table:     table,
		pool:      d.pool,
		typ:       d.typ,
		writable:  d.writable,
		init:      d.init,
		aux:       d.aux,
		destType:  d.destType,
		swapTbl:   d.swapTbl,
		handle:    d.handle,
		fileOff:   d.fileOff,
		readBytes: d.readBytes,
		shared:    d.shared,
	}
	return c
}

// ShareFrame installs parent's resident frame on child's mapping,
// read-only on both sides, and bumps the frame's refcount — the COW
// fork path (spec.md §4.9). Returns the descriptor's own copy sharing
// this frame; caller is responsible for registering it in the child's
// supplemental page table. The frame table keeps the shared frame
// recorded under the descriptor that originally claimed it only; the
// sharing itself is carried by the frame's pool refcount.
func (d *Descriptor) ShareFrame(childVA uintptr, childTable mmu.Table) (*Descriptor, kerr.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pa == 0 {
		panic("page: share of non-resident frame")
	}
	d.pool.Refup(d.pa)
	if !d.table.Install(d.va, d.pa, false) {
		d.pool.Refdown(d.pa)
		return nil, kerr.ENOMEM
	}
	if !childTable.Install(childVA, d.pa, false) {
		d.pool.Refdown(d.pa)
		return nil, kerr.ENOMEM
	}

	child := &Descriptor{
		va:       childVA,
		table:    childTable,
		pool:     d.pool,
		typ:      d.typ,
		pa:       d.pa,
		writable: d.writable,
		swapTbl:  d.swapTbl,
		handle:   d.handle,
		fileOff:  d.fileOff,
		readBytes: d.readBytes,
		shared:   d.shared,
	}
	return child, 0
}

// COWBreak duplicates a shared frame into a private one and restores
// the hardware write bit, run on a write fault to a read-only-but-
// logically-writable page whose frame is shared (spec.md §4.9: "a
// write fault on a shared, writable page triggers a copy").
func (d *Descriptor) COWBreak(frames *frame.Table) kerr.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pool.Refcnt(d.pa) <= 1 {
		// Sole owner: no copy needed, just restore the write bit.
		d.table.Clear(d.va)
		if !d.table.Install(d.va, d.pa, true) {
			return kerr.ENOMEM
		}
		return 0
	}

	newPa, err := frames.GetFrame(d)
	if err != 0 {
		return err
	}
	copy(d.pool.Deref(newPa)[:], d.pool.Deref(d.pa)[:])

	oldPa := d.pa
	d.table.Clear(d.va)
	if !d.table.Install(d.va, newPa, true) {
		frames.Release(newPa)
		return kerr.ENOMEM
	}
	d.pa = newPa
	d.pool.Refdown(oldPa)
	return 0
}
