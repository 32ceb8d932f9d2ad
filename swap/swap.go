// Package swap implements the anonymous-page backing store (spec.md
// §4.3, component C3): a bitmap over a raw block device, one bit per
// page-sized slot, linear-scan allocation. It mirrors the free-list
// bitmap style biscuit's allocator code favors (a flat array guarded by
// one lock, scanned for a free entry — see fat.Table.findFree, built
// the same way) applied to whole pages instead of clusters.
package swap

import (
	"sync"

	"vmkernel/block"
	"vmkernel/kerr"
	"vmkernel/mem"
	"vmkernel/metrics"
)

// SectorsPerPage is how many disk sectors back one page-sized slot.
const SectorsPerPage = mem.PGSIZE / block.SectorSize

// Bitmap is the swap device's slot allocator.
type Bitmap struct {
	mu       sync.Mutex
	dev      block.Device
	occupied []bool
	hint     int
	sink     metrics.Sink
}

// Init reads the swap device's size and partitions it into page-sized
// slots, all initially free (spec.md §4.3: "init()").
func Init(dev block.Device, sink metrics.Sink) *Bitmap {
	if sink == nil {
		sink = metrics.Noop()
	}
	n := dev.NumSectors() / SectorsPerPage
	return &Bitmap{
		dev:      dev,
		occupied: make([]bool, n),
		sink:     sink,
	}
}

// NumSlots reports the total slot count.
func (b *Bitmap) NumSlots() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.occupied)
}

// Allocate finds and claims a free slot, returning (-1, false) when the
// device is full (spec.md §4.3: "allocate() → slot | none").
func (b *Bitmap) Allocate() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.occupied)
	for i := 0; i < n; i++ {
		idx := (b.hint + i) % n
		if !b.occupied[idx] {
			b.occupied[idx] = true
			b.hint = (idx + 1) % n
			return idx, true
		}
	}
	return -1, false
}

// Release frees slot for reuse.
func (b *Bitmap) Release(slot int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot < 0 || slot >= len(b.occupied) {
		panic("swap: bad slot")
	}
	if !b.occupied[slot] {
		panic("swap: double release")
	}
	b.occupied[slot] = false
}

// Occupied reports the current population, used by the swap-thrash
// test (spec.md §8 scenario 3 asserts a final population of 1).
func (b *Bitmap) Occupied() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, o := range b.occupied {
		if o {
			n++
		}
	}
	return n
}

func (b *Bitmap) baseSector(slot int) int {
	return slot * SectorsPerPage
}

// Read pulls slot's contents into dst (spec.md §4.3: "sector-by-sector
// I/O across sectors_per_page consecutive sectors").
func (b *Bitmap) Read(slot int, dst *mem.Page_t) kerr.Err_t {
	base := b.baseSector(slot)
	for i := 0; i < SectorsPerPage; i++ {
		off := i * block.SectorSize
		if err := b.dev.ReadSector(base+i, dst[off:off+block.SectorSize]); err != 0 {
			return err
		}
	}
	b.sink.SwapIn()
	return 0
}

// Write pushes src's contents out to slot.
func (b *Bitmap) Write(slot int, src *mem.Page_t) kerr.Err_t {
	base := b.baseSector(slot)
	for i := 0; i < SectorsPerPage; i++ {
		off := i * block.SectorSize
		if err := b.dev.WriteSector(base+i, src[off:off+block.SectorSize]); err != 0 {
			return err
		}
	}
	b.sink.SwapOut()
	return 0
}
