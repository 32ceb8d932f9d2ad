package spt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmkernel/frame"
	"vmkernel/mem"
	"vmkernel/metrics"
	"vmkernel/mmu"
	"vmkernel/page"
)

func TestInsertRejectsDuplicate(t *testing.T) {
	pool := mem.NewPool(4)
	frames := frame.New(pool, 4, metrics.Noop())
	mmuTbl := mmu.NewSim()
	tbl := New(mmuTbl, frames)

	d1 := page.NewAnon(0x1000, mmuTbl, pool, nil, true)
	d2 := page.NewAnon(0x1000, mmuTbl, pool, nil, true)
	require.True(t, tbl.Insert(d1), "first insert should succeed")
	require.False(t, tbl.Insert(d2), "expected duplicate insert at the same page to be rejected")
}

func TestFindRoundsToPageBoundary(t *testing.T) {
	pool := mem.NewPool(4)
	frames := frame.New(pool, 4, metrics.Noop())
	mmuTbl := mmu.NewSim()
	tbl := New(mmuTbl, frames)

	d := page.NewAnon(0x1000, mmuTbl, pool, nil, true)
	tbl.Insert(d)
	_, ok := tbl.Find(0x1042)
	require.True(t, ok, "expected a mid-page address to find the containing page's entry")
}

func TestForkSharesResidentAnonPage(t *testing.T) {
	pool := mem.NewPool(8)
	frames := frame.New(pool, 8, metrics.Noop())
	parentMMU := mmu.NewSim()
	parent := New(parentMMU, frames)

	d := page.NewAnon(0x5000, parentMMU, pool, nil, true)
	parent.Insert(d)
	require.Zero(t, d.Claim(frames))

	childMMU := mmu.NewSim()
	child, err := parent.Fork(childMMU)
	require.Zero(t, err)
	cd, ok := child.Find(0x5000)
	require.True(t, ok, "expected the child to have inherited the page")
	require.True(t, cd.Resident(), "expected the inherited page to remain resident")
	require.Equal(t, 2, pool.Refcnt(d.Pa()), "expected shared frame refcount 2")
}

func TestKillTearsDownEveryEntry(t *testing.T) {
	pool := mem.NewPool(4)
	frames := frame.New(pool, 4, metrics.Noop())
	mmuTbl := mmu.NewSim()
	tbl := New(mmuTbl, frames)

	d := page.NewAnon(0x6000, mmuTbl, pool, nil, true)
	tbl.Insert(d)
	d.Claim(frames)

	require.Zero(t, tbl.Kill())
	require.Equal(t, 0, tbl.Len(), "expected every entry removed after kill")
	require.Equal(t, 0, frames.Resident(), "expected every frame released after kill")
}
