package fat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmkernel/disk"
)

const (
	testFatBase     = 1
	testFatSectors  = 1
	testDataBase    = 2
	testNumClusters = 32
	testSectorsPer  = 1
)

func freshTable(t *testing.T) (*Table, *disk.Mem_t) {
	t.Helper()
	dev := disk.NewMem(testDataBase + testNumClusters*testSectorsPer)
	require.Zero(t, Format(dev, testFatBase, testFatSectors, testDataBase, testNumClusters, testSectorsPer))
	ft, err := Mount(dev, testFatBase, testFatSectors, testDataBase, testNumClusters, testSectorsPer, nil)
	require.Zero(t, err)
	return ft, dev
}

func TestCreateChainAndGet(t *testing.T) {
	ft, _ := freshTable(t)
	c1 := ft.CreateChain(0)
	require.NotZero(t, c1, "expected a fresh cluster")
	succ, err := ft.Get(c1)
	require.Zero(t, err)
	require.Equal(t, EOC, succ)
	c2 := ft.CreateChain(c1)
	succ, _ = ft.Get(c1)
	require.Equal(t, c2, succ, "expected c1 to link to c2")
}

func TestRemoveChainFreesAll(t *testing.T) {
	ft, _ := freshTable(t)
	before := ft.FreeCount()
	c1 := ft.CreateChain(0)
	c2 := ft.CreateChain(c1)
	_ = ft.CreateChain(c2)
	require.Equal(t, before-3, ft.FreeCount(), "expected 3 clusters consumed")
	require.Zero(t, ft.RemoveChain(c1, 0))
	require.Equal(t, before, ft.FreeCount(), "expected all clusters freed")
}

func TestRemoveChainTruncatesAtPreceding(t *testing.T) {
	ft, _ := freshTable(t)
	c1 := ft.CreateChain(0)
	c2 := ft.CreateChain(c1)
	c3 := ft.CreateChain(c2)
	require.Zero(t, ft.RemoveChain(c3, c2))
	succ, _ := ft.Get(c2)
	require.Equal(t, EOC, succ, "expected c2 to become the new chain end")
}

func TestExhaustion(t *testing.T) {
	ft, _ := freshTable(t)
	var tail uint32
	for i := 0; i < testNumClusters; i++ {
		c := ft.CreateChain(tail)
		require.NotZero(t, c, "unexpected exhaustion at cluster %d", i)
		tail = c
	}
	require.Zero(t, ft.CreateChain(tail), "expected exhaustion to return 0")
}

func TestMountPersistsAcrossRemount(t *testing.T) {
	ft, dev := freshTable(t)
	c1 := ft.CreateChain(0)
	require.Zero(t, ft.Close())
	ft2, err := Mount(dev, testFatBase, testFatSectors, testDataBase, testNumClusters, testSectorsPer, nil)
	require.Zero(t, err)
	succ, err := ft2.Get(c1)
	require.Zero(t, err)
	require.Equal(t, EOC, succ, "expected persisted chain end")
}

func TestClusterOfRoundTrip(t *testing.T) {
	ft, _ := freshTable(t)
	c := ft.CreateChain(0)
	sector := ft.SectorOf(c)
	require.Equal(t, c, ft.ClusterOf(sector))
}
