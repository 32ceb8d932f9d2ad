// Package fault implements the page-fault handler and stack growth
// (spec.md §4.7, component C7): the entry point a trap handler calls
// with a faulting address and the access that triggered it, which
// classifies the fault, claims or grows a page, and resolves
// copy-on-write writes.
package fault

import (
	"vmkernel/frame"
	"vmkernel/kerr"
	"vmkernel/mem"
	"vmkernel/mmu"
	"vmkernel/page"
	"vmkernel/spt"
	"vmkernel/swap"
)

// Reason classifies a fault for callers that want to log or count it
// separately (spec.md §4.7's dispatch: not-present vs. present-but-
// read-only).
type Reason int

const (
	NotPresent Reason = iota
	WriteProtect
	StackGrowth
	Unrecoverable
)

// Handler resolves faults for one address space.
type Handler struct {
	table      *spt.Table
	mmuTbl     mmu.Table
	frames     *frame.Table
	pool       mem.Pool
	swapTbl    *swap.Bitmap
	stackLimit uintptr // lowest address the stack is allowed to grow down to
	stackTop   uintptr // current lowest mapped stack address
}

// NewHandler builds a fault handler over table, bounding automatic
// stack growth to [stackLimit, stackTop) (spec.md §4.7: "growth is
// permitted only within a bounded window below the current stack
// pointer").
func NewHandler(table *spt.Table, mmuTbl mmu.Table, frames *frame.Table, pool mem.Pool, swapTbl *swap.Bitmap, stackLimit, stackTop uintptr) *Handler {
	return &Handler{table: table, mmuTbl: mmuTbl, frames: frames, pool: pool, swapTbl: swapTbl, stackLimit: stackLimit, stackTop: stackTop}
}

func pageAlign(va uintptr) uintptr {
	return va &^ (mem.PGSIZE - 1)
}

// classify determines why the fault occurred: an existing SPT entry
// not yet resident is NotPresent; an existing entry that's resident,
// hardware-read-only, but logically writable (a COW-shared page) and
// took a write is WriteProtect; no entry at all, but the address falls
// within the stack growth window, is StackGrowth; anything else is
// Unrecoverable (spec.md §4.7 edge cases: "a fault below the stack
// window, or with no matching SPT entry, is not recoverable" — and a
// write to a page whose descriptor itself says not-writable is the
// same EFAULT, not a COW break).
func (h *Handler) classify(va uintptr, write bool) (Reason, *page.Descriptor) {
	pa := pageAlign(va)
	if d, ok := h.table.Find(pa); ok {
		if !d.Resident() {
			return NotPresent, d
		}
		if write && !h.mmuTbl.IsWritable(pa) {
			if d.Writable() {
				return WriteProtect, d
			}
			return Unrecoverable, d
		}
		return Unrecoverable, d
	}
	if pa >= h.stackLimit && pa < h.stackTop {
		return StackGrowth, nil
	}
	return Unrecoverable, nil
}

// Handle resolves one fault at va (which need not be page-aligned).
// write reports whether the faulting access was a store.
func (h *Handler) Handle(va uintptr, write bool) kerr.Err_t {
	reason, d := h.classify(va, write)

	switch reason {
	case NotPresent:
		d.Pin()
		defer d.Unpin()
		return d.Claim(h.frames)

	case WriteProtect:
		d.Pin()
		defer d.Unpin()
		if err := d.COWBreak(h.frames); err != 0 {
			return err
		}
		return 0

	case StackGrowth:
		return h.growStack(pageAlign(va))

	default:
		return kerr.EFAULT
	}
}

// growStack installs one new anonymous, zero-filled page at pa and
// lowers the tracked stack top to include it (spec.md §4.7: stack
// pages are ordinary lazily-zeroed anon pages, distinguished only by
// the bounded window check that authorizes creating one on a
// not-found fault).
func (h *Handler) growStack(pa uintptr) kerr.Err_t {
	if pa < h.stackLimit {
		return kerr.EFAULT
	}
	d := page.NewUninit(pa, h.mmuTbl, h.pool, page.Anon, nil, nil)
	d.SetSwapTable(h.swapTbl)
	if !h.table.Insert(d) {
		return kerr.EFAULT
	}
	if err := d.Claim(h.frames); err != 0 {
		return err
	}
	if pa < h.stackTop {
		h.stackTop = pa
	}
	return 0
}
