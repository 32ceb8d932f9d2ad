// Package fat implements the on-disk cluster allocator (spec.md §4.1,
// component C1): a flat array mapping each cluster to its successor,
// end-of-chain marker, or free, persisted to a reserved region of the
// file system disk. It is grounded on the same "flat array over a raw
// block device" shape biscuit uses for its superblock
// (biscuit/src/fs/super.go's Superblock_t, read once at mount into a
// single in-memory page and explicit field accessors rather than
// unsafe-cast structs) — this module keeps one full in-memory array
// instead of one page, since the FAT itself can span many sectors, but
// the "read at mount, write at close, no incremental journaling"
// persistence policy (spec.md §4.1) is identical.
package fat

import (
	"encoding/binary"
	"sync"

	"vmkernel/block"
	"vmkernel/kerr"
	"vmkernel/metrics"
)

// entrySize is the on-disk width of one FAT entry.
const entrySize = 4

// entriesPerSector is how many FAT entries fit in one disk sector.
const entriesPerSector = block.SectorSize / entrySize

// Free marks a cluster as unallocated.
const Free uint32 = 0

// EOC marks the last cluster in a chain.
const EOC uint32 = 0xffffffff

// MaxSymlinkDepth bounds symlink-resolution loops a caller builds atop
// this allocator (spec.md §9 Open Questions: "bounded follow count
// (e.g., 8)"). The allocator itself does not resolve paths (out of
// scope per spec.md §1), but exports the bound so a path-parsing layer
// built on top shares one source of truth.
const MaxSymlinkDepth = 8

// Table is the in-memory FAT, mirrored to a reserved disk region.
type Table struct {
	mu          sync.Mutex
	dev         block.Device
	fatBase     int // first sector of the FAT region
	fatSectors  int
	dataBase    int // DATA_AREA_BASE: first sector of the data area
	numClusters int
	sectorsPer  int // SECTORS_PER_CLUSTER
	entries     []uint32
	scanHint    int
	sink        metrics.Sink
}

// Format zero-initializes a fresh FAT region on dev and writes it out.
// fatBase/fatSectors describe the reserved FAT region; dataBase is the
// first sector of the data area; numClusters is the number of
// allocatable clusters.
func Format(dev block.Device, fatBase, fatSectors, dataBase, numClusters, sectorsPerCluster int) kerr.Err_t {
	t := &Table{
		dev:         dev,
		fatBase:     fatBase,
		fatSectors:  fatSectors,
		dataBase:    dataBase,
		numClusters: numClusters,
		sectorsPer:  sectorsPerCluster,
		entries:     make([]uint32, numClusters),
		sink:        metrics.Noop(),
	}
	return t.flushLocked()
}

// Mount reads an existing FAT region from dev into memory.
func Mount(dev block.Device, fatBase, fatSectors, dataBase, numClusters, sectorsPerCluster int, sink metrics.Sink) (*Table, kerr.Err_t) {
	if sink == nil {
		sink = metrics.Noop()
	}
	t := &Table{
		dev:         dev,
		fatBase:     fatBase,
		fatSectors:  fatSectors,
		dataBase:    dataBase,
		numClusters: numClusters,
		sectorsPer:  sectorsPerCluster,
		entries:     make([]uint32, numClusters),
		sink:        sink,
	}
	buf := make([]byte, block.SectorSize)
	for s := 0; s < fatSectors; s++ {
		if err := dev.ReadSector(fatBase+s, buf); err != 0 {
			return nil, err
		}
		base := s * entriesPerSector
		for i := 0; i < entriesPerSector; i++ {
			idx := base + i
			if idx >= numClusters {
				break
			}
			t.entries[idx] = binary.LittleEndian.Uint32(buf[i*entrySize:])
		}
	}
	return t, 0
}

// Close writes the in-memory FAT back to its reserved disk region
// (spec.md §4.1: "written back on close", no incremental journal).
func (t *Table) Close() kerr.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked()
}

func (t *Table) flushLocked() kerr.Err_t {
	buf := make([]byte, block.SectorSize)
	for s := 0; s < t.fatSectors; s++ {
		for i := range buf {
			buf[i] = 0
		}
		base := s * entriesPerSector
		for i := 0; i < entriesPerSector; i++ {
			idx := base + i
			if idx >= len(t.entries) {
				break
			}
			binary.LittleEndian.PutUint32(buf[i*entrySize:], t.entries[idx])
		}
		if err := t.dev.WriteSector(t.fatBase+s, buf); err != 0 {
			return err
		}
	}
	return 0
}

// clusterIndex validates and converts a 1-based cluster id to a slice
// index. Cluster ids start at 1; index 0 in `entries` backs cluster 1.
func (t *Table) clusterIndex(cluster uint32) (int, bool) {
	if cluster == 0 || cluster == EOC {
		return 0, false
	}
	idx := int(cluster) - 1
	if idx < 0 || idx >= len(t.entries) {
		return 0, false
	}
	return idx, true
}

// findFree scans for a free cluster starting from the scan hint, the
// same "linear scan for a zero bit" approach spec.md §4.3 specifies for
// the swap bitmap; here it scans FAT entries rather than bits.
func (t *Table) findFree() (uint32, bool) {
	n := len(t.entries)
	for i := 0; i < n; i++ {
		idx := (t.scanHint + i) % n
		if t.entries[idx] == Free {
			t.scanHint = (idx + 1) % n
			return uint32(idx + 1), true
		}
	}
	return 0, false
}

// CreateChain allocates one free cluster (spec.md §4.1). If predecessor
// is 0 a new chain is started; otherwise the new cluster is appended
// after predecessor. Returns 0 if no free cluster exists.
func (t *Table) CreateChain(predecessor uint32) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	newc, ok := t.findFree()
	if !ok {
		t.sink.ClusterAllocFailure()
		return 0
	}
	idx, _ := t.clusterIndex(newc)
	t.entries[idx] = EOC

	if predecessor != 0 {
		pidx, ok := t.clusterIndex(predecessor)
		if !ok {
			panic("fat: bad predecessor")
		}
		t.entries[pidx] = newc
	}
	return newc
}

// RemoveChain walks from head following the FAT, marking each visited
// cluster free. If preceding is nonzero its successor link is cut
// first, truncating the chain there instead of freeing the whole thing.
func (t *Table) RemoveChain(head uint32, preceding uint32) kerr.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()

	if preceding != 0 {
		pidx, ok := t.clusterIndex(preceding)
		if !ok {
			return kerr.EINVAL
		}
		t.entries[pidx] = EOC
	}

	cur := head
	seen := make(map[uint32]bool)
	for cur != 0 && cur != EOC {
		if seen[cur] {
			panic("fat: cyclic chain")
		}
		seen[cur] = true
		idx, ok := t.clusterIndex(cur)
		if !ok {
			return kerr.EINVAL
		}
		next := t.entries[idx]
		t.entries[idx] = Free
		t.sink.ClusterFreed()
		cur = next
	}
	return 0
}

// Get returns the successor of cluster: another cluster id, EOC, or
// Free if the chain terminates unexpectedly.
func (t *Table) Get(cluster uint32) (uint32, kerr.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.clusterIndex(cluster)
	if !ok {
		return 0, kerr.EINVAL
	}
	return t.entries[idx], 0
}

// SectorOf converts a cluster id to the first sector of its data, pure
// arithmetic around the data-area base (spec.md §4.1).
func (t *Table) SectorOf(cluster uint32) int {
	idx := int(cluster) - 1
	return t.dataBase + idx*t.sectorsPer
}

// ClusterOf converts a data-area sector back to its owning cluster
// id, using the corrected arithmetic form spec.md §9 calls for
// ("cluster = (sector − DATA_AREA_BASE) / SECTORS_PER_CLUSTER +
// FIRST_DATA_CLUSTER", with FIRST_DATA_CLUSTER == 1 here).
func (t *Table) ClusterOf(sector int) uint32 {
	if sector < t.dataBase {
		panic("fat: sector before data area")
	}
	return uint32((sector-t.dataBase)/t.sectorsPer) + 1
}

// SectorsPerCluster reports the configured cluster size in sectors.
func (t *Table) SectorsPerCluster() int { return t.sectorsPer }

// NumClusters reports the total addressable cluster count.
func (t *Table) NumClusters() int { return len(t.entries) }

// FreeCount reports the number of unallocated clusters, used by tests and
// by `cmd/diskctl stat`.
func (t *Table) FreeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if e == Free {
			n++
		}
	}
	return n
}
