// Package mmu models the page-table interface the core talks to
// (spec.md §6, "Page-table (MMU) interface"). biscuit implements this
// against real x86_64 page tables with recursive mappings and raw PTE
// bit tests (PTE_P/PTE_W/PTE_A/PTE_D in vm/as.go); this module is
// hosted, so the interface is reified as a Go trait with a map-backed
// simulator, exactly the substitution Design Notes §9 calls for
// ("Dirty-bit and accessed-bit probes ... expose them as a small MMU
// trait").
package mmu

import (
	"sync"

	"vmkernel/mem"
)

// Table is one address space's page table. VAs are page-aligned by
// convention; callers round down before calling (the core never needs
// sub-page translation).
type Table interface {
	// Install maps va to frame, marking it present. writable controls
	// the write-permission bit; it returns false if the mapping could
	// not be installed (never happens for the in-memory simulator, kept
	// for parity with a real MMU that could run out of page-table pages).
	Install(va uintptr, frame mem.Pa_t, writable bool) bool
	// Clear unmaps va, leaving no entry behind.
	Clear(va uintptr)
	// Translate returns the frame mapped at va, if present.
	Translate(va uintptr) (mem.Pa_t, bool)
	IsPresent(va uintptr) bool
	IsWritable(va uintptr) bool
	IsAccessed(va uintptr) bool
	SetAccessed(va uintptr, v bool)
	IsDirty(va uintptr) bool
	SetDirty(va uintptr, v bool)
}

type entry struct {
	frame    mem.Pa_t
	writable bool
	accessed bool
	dirty    bool
}

// Sim is an in-memory Table simulator: one map entry per mapped page.
type Sim struct {
	mu      sync.Mutex
	entries map[uintptr]*entry
}

// NewSim constructs an empty simulated page table for one address space.
func NewSim() *Sim {
	return &Sim{entries: make(map[uintptr]*entry)}
}

func (s *Sim) Install(va uintptr, frame mem.Pa_t, writable bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[va] = &entry{frame: frame, writable: writable, accessed: true}
	return true
}

func (s *Sim) Clear(va uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, va)
}

func (s *Sim) Translate(va uintptr) (mem.Pa_t, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[va]
	if !ok {
		return 0, false
	}
	return e.frame, true
}

func (s *Sim) IsPresent(va uintptr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[va]
	return ok
}

func (s *Sim) IsWritable(va uintptr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[va]
	return ok && e.writable
}

// SetWritable is a simulator-only helper that flips a mapping's write
// bit without reinstalling the whole entry.
func (s *Sim) SetWritable(va uintptr, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[va]; ok {
		e.writable = v
	}
}

func (s *Sim) IsAccessed(va uintptr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[va]
	return ok && e.accessed
}

func (s *Sim) SetAccessed(va uintptr, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[va]; ok {
		e.accessed = v
	}
}

func (s *Sim) IsDirty(va uintptr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[va]
	return ok && e.dirty
}

func (s *Sim) SetDirty(va uintptr, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[va]; ok {
		e.dirty = v
	}
}

// Touch simulates a user load/store through va: it's how tests (and a
// real trap handler, were one wired in) record that hardware observed
// an access, and a write additionally sets the dirty bit.
func (s *Sim) Touch(va uintptr, write bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[va]
	if !ok {
		return
	}
	e.accessed = true
	if write {
		e.dirty = true
	}
}
