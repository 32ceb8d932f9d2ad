// Package inode implements the inode layer (spec.md §4.2, component
// C2): mapping a logical byte range onto a cluster chain managed by
// package fat, with auto-grow-on-write, zero-fill-on-grow, and
// reference-counted open handles deduplicated by disk location.
//
// It is grounded on biscuit's inode-adjacent plumbing in
// biscuit/src/fs (the block cache and superblock accessor style in
// fs/blk.go and fs/super.go: small, explicit, manually-packed on-disk
// structures addressed by sector, read through the block.Device
// contract) and on the open-inode dedup idea in biscuit's Fs_t (every
// in-memory inode is unique per disk location, shared by Reopen, freed
// at zero opencount) as described by its ufs wrapper (biscuit/src/ufs).
package inode

import (
	"encoding/binary"
	"sync"

	"vmkernel/block"
	"vmkernel/fat"
	"vmkernel/kerr"
)

// Magic is the on-disk validity stamp for an inode sector
// (spec.md §6: "magic constant 0x494e4f44").
const Magic uint32 = 0x494e4f44

const symlinkMax = 128

// on-disk layout (one sector, little-endian):
//
//	0:4   magic
//	4:8   first cluster
//	8:16  length
//	16:17 flags (bit0 dir, bit1 symlink)
//	17:18 symlink target length
//	18:18+symlinkMax  symlink target bytes
//	remainder: zero padding
const (
	offMagic        = 0
	offFirstCluster = 4
	offLength       = 8
	offFlags        = 16
	offSymlinkLen   = 17
	offSymlinkData  = 18

	flagDir     = 1 << 0
	flagSymlink = 1 << 1
)

// Disk is the on-disk image of one inode.
type Disk struct {
	FirstCluster uint32
	Length       int64
	IsDir        bool
	IsSymlink    bool
	SymlinkTgt   string
}

func (d *Disk) encode() []byte {
	buf := make([]byte, block.SectorSize)
	binary.LittleEndian.PutUint32(buf[offMagic:], Magic)
	binary.LittleEndian.PutUint32(buf[offFirstCluster:], d.FirstCluster)
	binary.LittleEndian.PutUint64(buf[offLength:], uint64(d.Length))
	var flags byte
	if d.IsDir {
		flags |= flagDir
	}
	if d.IsSymlink {
		flags |= flagSymlink
	}
	buf[offFlags] = flags
	tgt := []byte(d.SymlinkTgt)
	if len(tgt) > symlinkMax {
		tgt = tgt[:symlinkMax]
	}
	buf[offSymlinkLen] = byte(len(tgt))
	copy(buf[offSymlinkData:], tgt)
	return buf
}

func decode(buf []byte) (*Disk, kerr.Err_t) {
	magic := binary.LittleEndian.Uint32(buf[offMagic:])
	if magic != Magic {
		panic("inode: bad magic")
	}
	d := &Disk{
		FirstCluster: binary.LittleEndian.Uint32(buf[offFirstCluster:]),
		Length:       int64(binary.LittleEndian.Uint64(buf[offLength:])),
	}
	flags := buf[offFlags]
	d.IsDir = flags&flagDir != 0
	d.IsSymlink = flags&flagSymlink != 0
	if d.IsSymlink {
		n := int(buf[offSymlinkLen])
		d.SymlinkTgt = string(buf[offSymlinkData : offSymlinkData+n])
	}
	return d, 0
}

// Inode_t is the in-memory, reference-counted inode. At most one
// instance exists per disk sector across a Registry (spec.md §3's
// uniqueness invariant).
type Inode_t struct {
	mu sync.Mutex

	sector int
	dev    block.Device
	fat    *fat.Table

	disk Disk

	openCount    int
	removed      bool
	denyWriteCnt int
}

// Registry is the open-inode set: the dedup table every Open/Close goes
// through. Design Notes §9 calls for passing this explicitly rather
// than through a package-level global, so a process hosting several
// mounted file systems (as the test suite does) gets independent sets.
type Registry struct {
	mu   sync.Mutex
	open map[int]*Inode_t
}

// NewRegistry constructs an empty open-inode set.
func NewRegistry() *Registry {
	return &Registry{open: make(map[int]*Inode_t)}
}

// Create allocates a chain of ceil(length/sector) clusters, zero-fills
// them, and writes the inode metadata to sector. On any allocation
// failure the partial chain is unwound and ENOSPC is returned
// (spec.md §4.2).
func Create(dev block.Device, ft *fat.Table, sector int, length int, isDir bool) kerr.Err_t {
	if length < 0 {
		return kerr.EINVAL
	}
	nsectors := (length + block.SectorSize - 1) / block.SectorSize
	var first uint32
	var tail uint32
	zero := make([]byte, block.SectorSize)
	for i := 0; i < nsectors; i++ {
		c := ft.CreateChain(tail)
		if c == 0 {
			if first != 0 {
				ft.RemoveChain(first, 0)
			}
			return kerr.ENOSPC
		}
		if first == 0 {
			first = c
		}
		tail = c
		if err := dev.WriteSector(ft.SectorOf(c), zero); err != 0 {
			ft.RemoveChain(first, 0)
			return err
		}
	}
	d := &Disk{FirstCluster: first, Length: int64(length), IsDir: isDir}
	if err := dev.WriteSector(sector, d.encode()); err != 0 {
		if first != 0 {
			ft.RemoveChain(first, 0)
		}
		return err
	}
	return 0
}

// CreateSymlink writes an inode of length 0 marked as a symlink, whose
// target is target. Resolution itself (following the link, bounding the
// loop at fat.MaxSymlinkDepth) is a path-layer concern out of scope
// here per spec.md §1.
func CreateSymlink(dev block.Device, sector int, target string) kerr.Err_t {
	if len(target) > symlinkMax {
		return kerr.ENAMETOOLONG
	}
	d := &Disk{IsSymlink: true, SymlinkTgt: target}
	return dev.WriteSector(sector, d.encode())
}

// Open returns the in-memory inode for sector, reading it from disk on
// first open and reusing the cached instance on subsequent opens
// (spec.md §3: "Uniqueness invariant: at most one in-memory inode per
// disk location").
func (r *Registry) Open(dev block.Device, ft *fat.Table, sector int) (*Inode_t, kerr.Err_t) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ino, ok := r.open[sector]; ok {
		ino.mu.Lock()
		ino.openCount++
		ino.mu.Unlock()
		return ino, 0
	}

	buf := make([]byte, block.SectorSize)
	if err := dev.ReadSector(sector, buf); err != 0 {
		return nil, err
	}
	d, err := decode(buf)
	if err != 0 {
		return nil, err
	}
	ino := &Inode_t{
		sector:    sector,
		dev:       dev,
		fat:       ft,
		disk:      *d,
		openCount: 1,
	}
	r.open[sector] = ino
	return ino, 0
}

// Reopen increments the open count of an inode already in hand (e.g.
// dup2, or mmap's independent file handle per spec.md §4.8).
func (ino *Inode_t) Reopen() *Inode_t {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.openCount++
	return ino
}

// Close decrements the open count; at zero it removes the inode from
// the registry and, if marked removed, frees its metadata sector and
// data chain (spec.md §3 lifecycle).
func (ino *Inode_t) Close(r *Registry) kerr.Err_t {
	ino.mu.Lock()
	ino.openCount--
	if ino.openCount < 0 {
		panic("inode: close without open")
	}
	last := ino.openCount == 0
	removed := ino.removed
	first := ino.disk.FirstCluster
	sector := ino.sector
	ino.mu.Unlock()

	if !last {
		return 0
	}

	r.mu.Lock()
	delete(r.open, sector)
	r.mu.Unlock()

	if removed {
		if first != 0 {
			if err := ino.fat.RemoveChain(first, 0); err != 0 {
				return err
			}
		}
		zero := make([]byte, block.SectorSize)
		return ino.dev.WriteSector(sector, zero)
	}
	return 0
}

// Unlink marks the inode removed; its storage is reclaimed when the
// last open handle closes (spec.md §3).
func (ino *Inode_t) Unlink() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.removed = true
}

// DenyWrite increments the deny-write count (spec.md §4.2's reference
// counted write lock). The caller-side invariant deny ≤ open is
// asserted here since biscuit treats it as an invariant violation, not
// a recoverable error (spec.md §7).
func (ino *Inode_t) DenyWrite() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.denyWriteCnt++
	if ino.denyWriteCnt > ino.openCount {
		panic("inode: deny count exceeds open count")
	}
}

// AllowWrite decrements the deny-write count.
func (ino *Inode_t) AllowWrite() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	if ino.denyWriteCnt == 0 {
		panic("inode: allow write without deny")
	}
	ino.denyWriteCnt--
}

// Length returns the inode's current byte length.
func (ino *Inode_t) Length() int {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return int(ino.disk.Length)
}

func (ino *Inode_t) IsDir() bool {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.disk.IsDir
}

func (ino *Inode_t) IsSymlink() bool {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.disk.IsSymlink
}

func (ino *Inode_t) SymlinkTarget() string {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.disk.SymlinkTgt
}

// Sector is the inode's metadata sector, used as its unique identity
// (an "inumber" in the system-call boundary's vocabulary).
func (ino *Inode_t) Sector() int { return ino.sector }

// clusterAt walks the FAT from the first cluster to the n-th cluster
// (0-indexed). It returns (0, false) as soon as the walk hits a free
// slot or the chain end before reaching n. ReadAt and WriteAt decide
// EOF and growth from the inode length before walking, so for them
// this result means an inconsistent chain: ReadAt reports EIO and
// WriteAt panics.
func (ino *Inode_t) clusterAt(n int) (uint32, bool) {
	cur := ino.disk.FirstCluster
	for i := 0; i < n; i++ {
		if cur == 0 || cur == fat.EOC {
			return 0, false
		}
		next, err := ino.fat.Get(cur)
		if err != 0 || next == fat.Free {
			return 0, false
		}
		cur = next
	}
	if cur == 0 || cur == fat.EOC {
		return 0, false
	}
	return cur, true
}

func (ino *Inode_t) sectorForByte(pos int) (int, bool) {
	n := pos / block.SectorSize
	c, ok := ino.clusterAt(n)
	if !ok {
		return 0, false
	}
	return ino.fat.SectorOf(c), true
}

// ReadAt reads up to len(buf) bytes at offset, returning 0 at EOF. It
// never extends the file (spec.md §9 Open Questions: "reads never
// extend").
func (ino *Inode_t) ReadAt(buf []byte, offset int) (int, kerr.Err_t) {
	ino.mu.Lock()
	defer ino.mu.Unlock()

	if offset < 0 {
		return 0, kerr.EINVAL
	}
	length := int(ino.disk.Length)
	if offset >= length {
		return 0, 0
	}
	n := len(buf)
	if offset+n > length {
		n = length - offset
	}

	read := 0
	bounce := make([]byte, block.SectorSize)
	for read < n {
		pos := offset + read
		sector, ok := ino.sectorForByte(pos)
		if !ok {
			// Should not happen within the known length; treat as an
			// I/O inconsistency rather than silently truncating.
			return read, kerr.EIO
		}
		soff := pos % block.SectorSize
		want := n - read
		avail := block.SectorSize - soff
		chunk := want
		if chunk > avail {
			chunk = avail
		}

		if soff == 0 && chunk == block.SectorSize {
			if err := ino.dev.ReadSector(sector, buf[read:read+chunk]); err != 0 {
				return read, err
			}
		} else {
			if err := ino.dev.ReadSector(sector, bounce); err != 0 {
				return read, err
			}
			copy(buf[read:read+chunk], bounce[soff:soff+chunk])
		}
		read += chunk
	}
	return read, 0
}

// WriteAt writes len(buf) bytes at offset, extending the inode (and
// zero-filling any gap) when offset+len(buf) exceeds the current
// length (spec.md §4.2). Returns 0 without writing if the inode is
// currently write-denied.
func (ino *Inode_t) WriteAt(buf []byte, offset int) (int, kerr.Err_t) {
	ino.mu.Lock()
	defer ino.mu.Unlock()

	if ino.denyWriteCnt > 0 {
		return 0, 0
	}
	if offset < 0 {
		return 0, kerr.EINVAL
	}

	newEnd := offset + len(buf)
	if newEnd > int(ino.disk.Length) {
		if err := ino.growLocked(newEnd); err != 0 {
			return 0, err
		}
	}

	written := 0
	bounce := make([]byte, block.SectorSize)
	for written < len(buf) {
		pos := offset + written
		sector, ok := ino.sectorForByte(pos)
		if !ok {
			panic("inode: write past grown length")
		}
		soff := pos % block.SectorSize
		want := len(buf) - written
		avail := block.SectorSize - soff
		chunk := want
		if chunk > avail {
			chunk = avail
		}

		if soff == 0 && chunk == block.SectorSize {
			if err := ino.dev.WriteSector(sector, buf[written:written+chunk]); err != 0 {
				return written, err
			}
		} else {
			if err := ino.dev.ReadSector(sector, bounce); err != 0 {
				return written, err
			}
			copy(bounce[soff:soff+chunk], buf[written:written+chunk])
			if err := ino.dev.WriteSector(sector, bounce); err != 0 {
				return written, err
			}
		}
		written += chunk
	}

	// Final length is set after the write completes, not during growth
	// (spec.md §4.2).
	if newEnd := offset + written; newEnd > int(ino.disk.Length) {
		ino.disk.Length = int64(newEnd)
		if err := ino.dev.WriteSector(ino.sector, ino.disk.encode()); err != 0 {
			return written, err
		}
	}
	return written, 0
}

// growLocked appends clusters until the chain covers newEnd bytes,
// zero-filling the old tail's partial sector and every newly appended
// sector (spec.md §4.2's "Zero-fill-on-grow policy"). On allocation
// failure it unwinds exactly the clusters it appended this call.
func (ino *Inode_t) growLocked(newEnd int) kerr.Err_t {
	oldLen := int(ino.disk.Length)
	oldSectors := (oldLen + block.SectorSize - 1) / block.SectorSize
	neededSectors := (newEnd + block.SectorSize - 1) / block.SectorSize
	if neededSectors <= oldSectors {
		return 0
	}

	if rem := oldLen % block.SectorSize; rem != 0 && oldSectors > 0 {
		lastCluster, ok := ino.clusterAt(oldSectors - 1)
		if !ok {
			panic("inode: missing cluster within current length")
		}
		sector := ino.fat.SectorOf(lastCluster)
		buf := make([]byte, block.SectorSize)
		if err := ino.dev.ReadSector(sector, buf); err != 0 {
			return err
		}
		for i := rem; i < block.SectorSize; i++ {
			buf[i] = 0
		}
		if err := ino.dev.WriteSector(sector, buf); err != 0 {
			return err
		}
	}

	origTail := uint32(0)
	if oldSectors > 0 {
		origTail, _ = ino.clusterAt(oldSectors - 1)
	}
	tail := origTail
	firstNew := uint32(0)
	zero := make([]byte, block.SectorSize)
	for i := oldSectors; i < neededSectors; i++ {
		c := ino.fat.CreateChain(tail)
		if c == 0 {
			if firstNew != 0 {
				// Unwind exactly the clusters appended this call,
				// restoring the chain's original end (spec.md §4.1:
				// "any partial chain built by a multi-step caller must
				// be unwound by that caller").
				ino.fat.RemoveChain(firstNew, origTail)
				if ino.disk.FirstCluster == firstNew {
					ino.disk.FirstCluster = 0
				}
			}
			return kerr.ENOSPC
		}
		if firstNew == 0 {
			firstNew = c
		}
		if ino.disk.FirstCluster == 0 {
			ino.disk.FirstCluster = c
		}
		tail = c
		if err := ino.dev.WriteSector(ino.fat.SectorOf(c), zero); err != 0 {
			return err
		}
	}
	return 0
}
