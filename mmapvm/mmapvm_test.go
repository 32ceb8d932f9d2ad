package mmapvm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmkernel/block"
	"vmkernel/disk"
	"vmkernel/fat"
	"vmkernel/frame"
	"vmkernel/inode"
	"vmkernel/kerr"
	"vmkernel/mem"
	"vmkernel/metrics"
	"vmkernel/mmu"
	"vmkernel/spt"
)

const (
	testFatBase     = 1
	testFatSectors  = 1
	testDataBase    = 2
	testNumClusters = 32
	testSectorsPer  = 1
	testFileSector  = 0
)

func freshFile(t *testing.T, length int) (*inode.Handle, *inode.Registry) {
	t.Helper()
	dev := disk.NewMem(testDataBase + testNumClusters*testSectorsPer)
	require.Zero(t, fat.Format(dev, testFatBase, testFatSectors, testDataBase, testNumClusters, testSectorsPer))
	ft, err := fat.Mount(dev, testFatBase, testFatSectors, testDataBase, testNumClusters, testSectorsPer, nil)
	require.Zero(t, err)
	require.Zero(t, inode.Create(dev, ft, testFileSector, length, false))
	reg := inode.NewRegistry()
	ino, err := reg.Open(dev, ft, testFileSector)
	require.Zero(t, err)
	return inode.OpenHandleOn(ino), reg
}

func TestMmapRejectsOverlap(t *testing.T) {
	handle, reg := freshFile(t, block.SectorSize*2)
	defer handle.Close(reg)

	pool := mem.NewPool(8)
	frames := frame.New(pool, 8, metrics.Noop())
	mmuTbl := mmu.NewSim()
	tbl := spt.New(mmuTbl, frames)
	mgr := NewManager(tbl, mmuTbl, pool, frames)

	_, err := mgr.Mmap(mem.PGSIZE, block.SectorSize, handle, 0, true, true)
	require.Zero(t, err)
	_, err = mgr.Mmap(mem.PGSIZE, block.SectorSize, handle, 0, true, true)
	require.Equal(t, kerr.EINVAL, err, "expected EINVAL on overlapping mmap")
}

func TestMunmapWritesBackDirtyPage(t *testing.T) {
	handle, reg := freshFile(t, block.SectorSize)
	defer handle.Close(reg)

	pool := mem.NewPool(8)
	frames := frame.New(pool, 8, metrics.Noop())
	mmuTbl := mmu.NewSim()
	tbl := spt.New(mmuTbl, frames)
	mgr := NewManager(tbl, mmuTbl, pool, frames)

	mapping, err := mgr.Mmap(mem.PGSIZE, block.SectorSize, handle, 0, true, true)
	require.Zero(t, err)
	d, ok := tbl.Find(mem.PGSIZE)
	require.True(t, ok, "expected an spt entry for the mapped page")
	require.Zero(t, d.Claim(frames))
	copy(pool.Deref(d.Pa())[:5], []byte("hello"))
	mmuTbl.Touch(mem.PGSIZE, true)

	require.Zero(t, mgr.Munmap(mapping))

	back := make([]byte, 5)
	n, rerr := handle.ReadAt(back, 0)
	require.Zero(t, rerr)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(back), "expected write-back content")
	_, ok = tbl.Find(mem.PGSIZE)
	require.False(t, ok, "expected the spt entry removed after munmap")
}

func TestMmapZeroFillsPastFileLength(t *testing.T) {
	handle, reg := freshFile(t, 3)
	defer handle.Close(reg)

	pool := mem.NewPool(8)
	frames := frame.New(pool, 8, metrics.Noop())
	mmuTbl := mmu.NewSim()
	tbl := spt.New(mmuTbl, frames)
	mgr := NewManager(tbl, mmuTbl, pool, frames)

	_, err := mgr.Mmap(mem.PGSIZE, block.SectorSize, handle, 0, false, false)
	require.Zero(t, err)
	d, _ := tbl.Find(mem.PGSIZE)
	require.Zero(t, d.Claim(frames))
	page := pool.Deref(d.Pa())
	for i := 3; i < 10; i++ {
		require.Zero(t, page[i], "expected zero-fill past file length at byte %d", i)
	}
}
