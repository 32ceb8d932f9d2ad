package frame

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmkernel/kerr"
	"vmkernel/mem"
	"vmkernel/metrics"
)

type fakeVictim struct {
	accessed   bool
	pinned     bool
	swappedOut bool
}

func (v *fakeVictim) Accessed() bool {
	a := v.accessed
	v.accessed = false
	return a
}
func (v *fakeVictim) Pinned() bool { return v.pinned }
func (v *fakeVictim) SwapOut() kerr.Err_t {
	v.swappedOut = true
	return 0
}

func TestGetFrameWithinCapacity(t *testing.T) {
	pool := mem.NewPool(4)
	tbl := New(pool, 2, metrics.Noop())
	v1 := &fakeVictim{}
	v2 := &fakeVictim{}
	_, err := tbl.GetFrame(v1)
	require.Zero(t, err)
	_, err = tbl.GetFrame(v2)
	require.Zero(t, err)
	require.Equal(t, 2, tbl.Resident())
}

func TestEvictionPicksNotAccessed(t *testing.T) {
	pool := mem.NewPool(4)
	tbl := New(pool, 2, metrics.Noop())
	v1 := &fakeVictim{accessed: false}
	v2 := &fakeVictim{accessed: true}
	tbl.GetFrame(v1)
	tbl.GetFrame(v2)

	v3 := &fakeVictim{}
	_, err := tbl.GetFrame(v3)
	require.Zero(t, err)
	require.True(t, v1.swappedOut, "expected the not-accessed victim to be evicted")
	require.False(t, v2.swappedOut, "expected the accessed victim to survive the first pass")
}

func TestPinnedNeverEvicted(t *testing.T) {
	pool := mem.NewPool(4)
	tbl := New(pool, 1, metrics.Noop())
	v1 := &fakeVictim{pinned: true}
	tbl.GetFrame(v1)

	v2 := &fakeVictim{}
	_, err := tbl.GetFrame(v2)
	require.Equal(t, kerr.ENOMEM, err, "expected ENOMEM when the only frame is pinned")
}

func TestReleaseOfUntrackedFramePanics(t *testing.T) {
	pool := mem.NewPool(1)
	tbl := New(pool, 1, metrics.Noop())
	require.Panics(t, func() { tbl.Release(1) }, "expected panic releasing an untracked frame")
}
