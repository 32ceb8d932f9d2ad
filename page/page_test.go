package page

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmkernel/disk"
	"vmkernel/frame"
	"vmkernel/kerr"
	"vmkernel/mem"
	"vmkernel/metrics"
	"vmkernel/mmu"
	"vmkernel/swap"
)

func setup(capacity int) (*frame.Table, mmu.Table, mem.Pool) {
	pool := mem.NewPool(capacity + 4)
	frames := frame.New(pool, capacity, metrics.Noop())
	tbl := mmu.NewSim()
	return frames, tbl, pool
}

func TestUninitClaimMutatesToDestType(t *testing.T) {
	frames, mmuTbl, pool := setup(4)
	called := false
	d := NewUninit(0x1000, mmuTbl, pool, Anon, func(dst *mem.Page_t, aux interface{}) kerr.Err_t {
		called = true
		dst[0] = 0xAB
		return 0
	}, nil)
	require.Equal(t, Uninit, d.Type(), "expected Uninit before claim")
	require.Zero(t, d.Claim(frames))
	require.True(t, called, "expected initializer to run")
	require.Equal(t, Anon, d.Type(), "expected mutation to Anon after claim")
	require.True(t, d.Resident())
	require.Equal(t, byte(0xAB), pool.Deref(d.Pa())[0], "expected initializer's write to land in the claimed frame")
}

func TestAnonSwapOutAndBackIn(t *testing.T) {
	frames, mmuTbl, pool := setup(4)
	swapDev := disk.NewMem(swap.SectorsPerPage * 4)
	swapTbl := swap.Init(swapDev, metrics.Noop())

	d := NewAnon(0x2000, mmuTbl, pool, swapTbl, true)
	d.Claim(frames)
	pool.Deref(d.Pa())[0] = 0x42

	require.Zero(t, d.SwapOut())
	require.False(t, d.Resident(), "expected non-resident after swap-out")

	require.Zero(t, d.Claim(frames))
	require.Equal(t, byte(0x42), pool.Deref(d.Pa())[0], "expected swap-in to restore content")
}

func TestCOWBreakCopiesOnSharedFrame(t *testing.T) {
	frames, parentMMU, pool := setup(8)
	childMMU := mmu.NewSim()

	d := NewAnon(0x3000, parentMMU, pool, nil, true)
	d.Claim(frames)
	pool.Deref(d.Pa())[0] = 1

	child, err := d.ShareFrame(0x3000, childMMU)
	require.Zero(t, err)
	require.Equal(t, 2, pool.Refcnt(d.Pa()))

	require.Zero(t, child.COWBreak(frames))
	pool.Deref(child.Pa())[0] = 2

	require.Equal(t, byte(1), pool.Deref(d.Pa())[0], "parent frame must not be affected by child's post-COW write")
	require.Equal(t, 1, pool.Refcnt(d.Pa()), "expected parent frame refcnt back to 1")
}

func TestDestroyReleasesFrameAndSwapSlot(t *testing.T) {
	frames, mmuTbl, pool := setup(4)
	swapDev := disk.NewMem(swap.SectorsPerPage * 2)
	swapTbl := swap.Init(swapDev, metrics.Noop())

	d := NewAnon(0x4000, mmuTbl, pool, swapTbl, true)
	d.Claim(frames)
	d.SwapOut()
	require.Equal(t, 1, swapTbl.Occupied(), "expected the swap slot to be occupied")
	d.Destroy(frames)
	require.Equal(t, 0, swapTbl.Occupied(), "expected Destroy to release the held swap slot")
}
