// Package mmapvm implements the mmap/munmap pipeline (spec.md §4.8,
// component C8): validating a mapping request, installing one lazily
// loaded File page per page-sized chunk of the mapping, and — on
// unmap — writing back dirty shared pages before tearing the mapping
// down.
package mmapvm

import (
	"vmkernel/frame"
	"vmkernel/inode"
	"vmkernel/kerr"
	"vmkernel/mem"
	"vmkernel/mmu"
	"vmkernel/page"
	"vmkernel/spt"
)

// Mapping records one mmap call's extent, needed at munmap time to
// walk every page it installed.
type Mapping struct {
	VA     uintptr
	Length int
	Handle *inode.Handle
}

// Manager issues and retires mappings against one address space's
// supplemental page table.
type Manager struct {
	table  *spt.Table
	mmuTbl mmu.Table
	pool   mem.Pool
	frames *frame.Table
}

// NewManager builds an mmap manager over table.
func NewManager(table *spt.Table, mmuTbl mmu.Table, pool mem.Pool, frames *frame.Table) *Manager {
	return &Manager{table: table, mmuTbl: mmuTbl, pool: pool, frames: frames}
}

// Mmap installs length bytes of handle, starting at fileOff, as
// lazily-loaded File pages at va (spec.md §4.8). Preconditions from
// spec.md §4.8 step 0: va must be page-aligned, length must be
// positive, and no existing SPT entry may overlap [va, va+length);
// otherwise EINVAL is returned. length need not be a multiple of the
// page size: the last page reads only the remaining bytes.
func (m *Manager) Mmap(va uintptr, length int, handle *inode.Handle, fileOff int, writable, shared bool) (*Mapping, kerr.Err_t) {
	if length <= 0 {
		return nil, kerr.EINVAL
	}
	if va%mem.PGSIZE != 0 {
		return nil, kerr.EINVAL
	}

	npages := (length + mem.PGSIZE - 1) / mem.PGSIZE
	for i := 0; i < npages; i++ {
		pageVA := va + uintptr(i*mem.PGSIZE)
		if _, ok := m.table.Find(pageVA); ok {
			m.unwind(va, i)
			return nil, kerr.EINVAL
		}
	}

	installed := 0
	for i := 0; i < npages; i++ {
		pageVA := va + uintptr(i*mem.PGSIZE)
		off := fileOff + i*mem.PGSIZE
		remaining := length - i*mem.PGSIZE
		readBytes := mem.PGSIZE
		if remaining < mem.PGSIZE {
			readBytes = remaining
		}
		d := page.NewFile(pageVA, m.mmuTbl, m.pool, handle, off, readBytes, writable, shared)
		if !m.table.Insert(d) {
			m.unwind(va, installed)
			return nil, kerr.EINVAL
		}
		installed++
	}

	return &Mapping{VA: va, Length: length, Handle: handle}, 0
}

func (m *Manager) unwind(va uintptr, npages int) {
	for i := 0; i < npages; i++ {
		m.table.Delete(va + uintptr(i*mem.PGSIZE))
	}
}

// Munmap writes back every dirty, resident, shared page in mapping and
// removes its entries from the supplemental page table (spec.md §4.8
// step 3: "each resident dirty page belonging to a shared mapping is
// written back to its file before the mapping is torn down").
func (m *Manager) Munmap(mapping *Mapping) kerr.Err_t {
	npages := (mapping.Length + mem.PGSIZE - 1) / mem.PGSIZE
	for i := 0; i < npages; i++ {
		pageVA := mapping.VA + uintptr(i*mem.PGSIZE)
		d, ok := m.table.Find(pageVA)
		if !ok {
			continue
		}
		if err := d.WriteBack(); err != 0 {
			return err
		}
		d.Destroy(m.frames)
		m.table.Delete(pageVA)
	}
	return 0
}
