package fault

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmkernel/disk"
	"vmkernel/frame"
	"vmkernel/kerr"
	"vmkernel/mem"
	"vmkernel/metrics"
	"vmkernel/mmu"
	"vmkernel/page"
	"vmkernel/spt"
	"vmkernel/swap"
)

func TestNotPresentClaimsUninitPage(t *testing.T) {
	pool := mem.NewPool(4)
	frames := frame.New(pool, 4, metrics.Noop())
	mmuTbl := mmu.NewSim()
	tbl := spt.New(mmuTbl, frames)
	h := NewHandler(tbl, mmuTbl, frames, pool, nil, 0, 0)

	d := page.NewUninit(0x1000, mmuTbl, pool, page.Anon, nil, nil)
	tbl.Insert(d)

	require.Zero(t, h.Handle(0x1000, false))
	require.True(t, d.Resident(), "expected the page to be claimed")
}

func TestStackGrowthWithinWindow(t *testing.T) {
	pool := mem.NewPool(4)
	frames := frame.New(pool, 4, metrics.Noop())
	mmuTbl := mmu.NewSim()
	tbl := spt.New(mmuTbl, frames)
	swapDev := disk.NewMem(swap.SectorsPerPage * 4)
	swapTbl := swap.Init(swapDev, metrics.Noop())

	const top = 0x10000
	const limit = top - mem.PGSIZE*4
	h := NewHandler(tbl, mmuTbl, frames, pool, swapTbl, limit, top)

	require.Zero(t, h.Handle(top-1, true))
	_, ok := tbl.Find(top - mem.PGSIZE)
	require.True(t, ok, "expected a new stack page installed within the window")
}

func TestStackGrowthOutsideWindowIsUnrecoverable(t *testing.T) {
	pool := mem.NewPool(4)
	frames := frame.New(pool, 4, metrics.Noop())
	mmuTbl := mmu.NewSim()
	tbl := spt.New(mmuTbl, frames)

	const top = 0x10000
	const limit = top - mem.PGSIZE
	h := NewHandler(tbl, mmuTbl, frames, pool, nil, limit, top)

	require.Equal(t, kerr.EFAULT, h.Handle(0, true), "expected EFAULT far below the stack window")
}

func TestWriteProtectTriggersCOWBreak(t *testing.T) {
	pool := mem.NewPool(8)
	frames := frame.New(pool, 8, metrics.Noop())
	parentMMU := mmu.NewSim()
	parentTbl := spt.New(parentMMU, frames)

	d := page.NewAnon(0x2000, parentMMU, pool, nil, true)
	parentTbl.Insert(d)
	d.Claim(frames)

	childMMU := mmu.NewSim()
	childTbl, err := parentTbl.Fork(childMMU)
	require.Zero(t, err)

	h := NewHandler(childTbl, childMMU, frames, pool, nil, 0, 0)
	require.Zero(t, h.Handle(0x2000, true))
	require.True(t, childMMU.IsWritable(0x2000), "expected the write bit restored after COW break")
}
