package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocExhaustion(t *testing.T) {
	p := NewPool(2)
	_, _, ok1 := p.Alloc()
	_, _, ok2 := p.Alloc()
	_, _, ok3 := p.Alloc()
	require.True(t, ok1 && ok2, "expected first two allocations to succeed")
	require.False(t, ok3, "expected third allocation to fail: pool exhausted")
}

func TestAllocIsZeroed(t *testing.T) {
	p := NewPool(2)
	pa, page, ok := p.Alloc()
	require.True(t, ok)
	page[0] = 0xff
	p.Free(pa)
	pa2, page2, ok := p.Alloc()
	require.True(t, ok)
	require.Equal(t, pa, pa2, "expected freed frame to be reused")
	require.Equal(t, byte(0), page2[0], "expected Alloc to zero the frame")
}

func TestRefcounting(t *testing.T) {
	p := NewPool(1)
	pa, _, _ := p.Alloc()
	p.Refup(pa)
	require.Equal(t, 2, p.Refcnt(pa))
	require.False(t, p.Refdown(pa), "refdown from 2 should not report freed")
	require.True(t, p.Refdown(pa), "refdown from 1 should report freed")
	require.Equal(t, 1, p.Avail(), "expected the frame back on the free list")
}

func TestRefupOnFreePagePanics(t *testing.T) {
	p := NewPool(1)
	pa, _, _ := p.Alloc()
	p.Free(pa)
	require.Panics(t, func() { p.Refup(pa) }, "expected panic on refup of a free page")
}
