package inode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmkernel/block"
	"vmkernel/disk"
	"vmkernel/fat"
)

const (
	testFatBase     = 1
	testFatSectors  = 1
	testDataBase    = 2
	testNumClusters = 64
	testSectorsPer  = 1
	testRootSector  = 0
)

func freshFS(t *testing.T) (block.Device, *fat.Table, *Registry) {
	t.Helper()
	dev := disk.NewMem(testDataBase + testNumClusters*testSectorsPer)
	require.Zero(t, fat.Format(dev, testFatBase, testFatSectors, testDataBase, testNumClusters, testSectorsPer))
	ft, err := fat.Mount(dev, testFatBase, testFatSectors, testDataBase, testNumClusters, testSectorsPer, nil)
	require.Zero(t, err)
	return dev, ft, NewRegistry()
}

func TestCreateAndReadEmptyFile(t *testing.T) {
	dev, ft, reg := freshFS(t)
	require.Zero(t, Create(dev, ft, testRootSector, 0, false))
	ino, err := reg.Open(dev, ft, testRootSector)
	require.Zero(t, err)
	defer ino.Close(reg)
	require.Equal(t, 0, ino.Length())
	buf := make([]byte, 10)
	n, err := ino.ReadAt(buf, 0)
	require.Zero(t, err)
	require.Equal(t, 0, n, "expected EOF read")
}

func TestWriteGrowsAcrossClusters(t *testing.T) {
	dev, ft, reg := freshFS(t)
	require.Zero(t, Create(dev, ft, testRootSector, 0, false))
	ino, err := reg.Open(dev, ft, testRootSector)
	require.Zero(t, err)
	defer ino.Close(reg)

	data := make([]byte, block.SectorSize*3+11)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := ino.WriteAt(data, 0)
	require.Zero(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, len(data), ino.Length())

	back := make([]byte, len(data))
	n, err = ino.ReadAt(back, 0)
	require.Zero(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, back)
}

func TestSparseWriteZeroFillsGap(t *testing.T) {
	dev, ft, reg := freshFS(t)
	require.Zero(t, Create(dev, ft, testRootSector, 0, false))
	ino, err := reg.Open(dev, ft, testRootSector)
	require.Zero(t, err)
	defer ino.Close(reg)

	gapStart := block.SectorSize + 5
	n, err := ino.WriteAt([]byte("x"), gapStart)
	require.Zero(t, err)
	require.Equal(t, 1, n)
	gap := make([]byte, gapStart)
	n, err = ino.ReadAt(gap, 0)
	require.Zero(t, err)
	require.Equal(t, gapStart, n)
	require.Equal(t, make([]byte, gapStart), gap, "expected the preceding gap to read back as zero")
}

func TestDenyWriteBlocksWrites(t *testing.T) {
	dev, ft, reg := freshFS(t)
	require.Zero(t, Create(dev, ft, testRootSector, 0, false))
	ino, err := reg.Open(dev, ft, testRootSector)
	require.Zero(t, err)
	defer ino.Close(reg)

	ino.DenyWrite()
	n, err := ino.WriteAt([]byte("nope"), 0)
	require.Zero(t, err)
	require.Equal(t, 0, n, "expected silent no-op write")
	ino.AllowWrite()
	n, err = ino.WriteAt([]byte("ok"), 0)
	require.Zero(t, err)
	require.Equal(t, 2, n, "expected write to succeed after allow")
}

func TestOpenDedupsByDiskLocation(t *testing.T) {
	dev, ft, reg := freshFS(t)
	require.Zero(t, Create(dev, ft, testRootSector, 0, false))
	a, err := reg.Open(dev, ft, testRootSector)
	require.Zero(t, err)
	b, err := reg.Open(dev, ft, testRootSector)
	require.Zero(t, err)
	require.Same(t, a, b, "expected the same in-memory inode for the same sector")
	a.Close(reg)
	b.Close(reg)
}

func TestUnlinkFreesOnLastClose(t *testing.T) {
	dev, ft, reg := freshFS(t)
	const sector = 8
	require.Zero(t, Create(dev, ft, sector, block.SectorSize*2, false))
	before := ft.FreeCount()
	ino, err := reg.Open(dev, ft, sector)
	require.Zero(t, err)
	ino.Unlink()
	require.Zero(t, ino.Close(reg))
	require.Greater(t, ft.FreeCount(), before, "expected clusters reclaimed on unlink+close")
}

func TestHandleIndependentPositions(t *testing.T) {
	dev, ft, reg := freshFS(t)
	require.Zero(t, Create(dev, ft, testRootSector, block.SectorSize, false))
	ino, err := reg.Open(dev, ft, testRootSector)
	require.Zero(t, err)
	h1 := OpenHandleOn(ino)
	h2 := OpenHandleOn(ino)
	defer h1.Close(reg)
	defer h2.Close(reg)

	h1.Write([]byte("abcd"))
	require.Equal(t, 4, h1.Tell())
	require.Equal(t, 0, h2.Tell(), "expected h2's position to be independent")
}
