// Package spt implements the supplemental page table (spec.md §4.6,
// component C6): the per-address-space index from virtual page number
// to its page.Descriptor, backing fork, teardown, and fault lookup.
//
// It is built directly on khash.Table, the generics hashtable adapted
// from biscuit's hashtable.Hashtable_t, keyed by page-aligned virtual
// address.
package spt

import (
	"vmkernel/frame"
	"vmkernel/kerr"
	"vmkernel/khash"
	"vmkernel/mem"
	"vmkernel/mmu"
	"vmkernel/page"
)

const numBuckets = 64

// Table is one address space's supplemental page table.
type Table struct {
	entries *khash.Table[uintptr, *page.Descriptor]
	mmuTbl  mmu.Table
	frames  *frame.Table
}

// New builds an empty supplemental page table over the given hardware
// mapping and shared frame table.
func New(mmuTbl mmu.Table, frames *frame.Table) *Table {
	return &Table{
		entries: khash.New[uintptr, *page.Descriptor](numBuckets, khash.HashUintptr),
		mmuTbl:  mmuTbl,
		frames:  frames,
	}
}

// pageVA rounds va down to its containing page, the key every lookup
// and insert normalizes to (spec.md §4.6: "keyed by page number").
func pageVA(va uintptr) uintptr {
	return va &^ (mem.PGSIZE - 1)
}

// Insert registers a new descriptor, rejecting a duplicate mapping at
// the same page (spec.md §4.6: "insert fails if an entry already
// exists for that page").
func (t *Table) Insert(d *page.Descriptor) bool {
	return t.entries.Set(pageVA(d.VA()), d)
}

// Find looks up the descriptor covering va, or (nil,false) if va isn't
// mapped in this address space.
func (t *Table) Find(va uintptr) (*page.Descriptor, bool) {
	return t.entries.Get(pageVA(va))
}

// Delete removes va's entry without touching its frame or backing
// store — callers that must release resources first should call
// Destroy via Kill or do so explicitly before Delete.
func (t *Table) Delete(va uintptr) bool {
	return t.entries.Del(pageVA(va))
}

// Len reports how many pages are currently mapped.
func (t *Table) Len() int {
	return t.entries.Len()
}

// Kill tears the whole table down: every resident page is destroyed
// (frame freed, swap slot released, dirty shared file pages written
// back) before the entry is dropped (spec.md §4.6 "kill()", used at
// process exit).
func (t *Table) Kill() kerr.Err_t {
	for _, p := range t.entries.Elems() {
		d := p.Value
		d.WriteBack()
		d.Destroy(t.frames)
	}
	t.entries.Iter(func(k uintptr, _ *page.Descriptor) bool {
		t.entries.Del(k)
		return false
	})
	return 0
}

// Copy implements fork's address-space duplication (spec.md §4.9):
// every entry in the parent table gets a counterpart in childTbl at
// the same virtual address. Resident anon and file pages, including
// pages of shared file mappings, are shared copy-on-write (both sides
// remapped read-only, refcount bumped); non-resident and Uninit pages
// are cloned by descriptor only — there is no frame to share yet.
func (t *Table) Copy(childTbl *Table, childMMU mmu.Table) kerr.Err_t {
	for _, p := range t.entries.Elems() {
		va, d := p.Key, p.Value

		if d.Resident() && d.Type() != page.Uninit {
			child, err := d.ShareFrame(va, childMMU)
			if err != 0 {
				return err
			}
			if !childTbl.Insert(child) {
				panic("spt: duplicate entry during fork copy")
			}
			continue
		}

		child := d.CopyDescriptor(va, childMMU)
		if !childTbl.Insert(child) {
			panic("spt: duplicate entry during fork copy")
		}
	}
	return 0
}

// Fork is a convenience wrapper building a fresh child table sharing
// this table's frame table and copying every entry into it (spec.md
// §4.9 "fork()").
func (t *Table) Fork(childMMU mmu.Table) (*Table, kerr.Err_t) {
	child := New(childMMU, t.frames)
	if err := t.Copy(child, childMMU); err != 0 {
		return nil, err
	}
	return child, 0
}
