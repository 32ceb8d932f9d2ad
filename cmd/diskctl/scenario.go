package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vmkernel/block"
	"vmkernel/disk"
	"vmkernel/fat"
	"vmkernel/frame"
	"vmkernel/inode"
	"vmkernel/mem"
	"vmkernel/metrics"
	"vmkernel/mmapvm"
	"vmkernel/mmu"
	"vmkernel/page"
	"vmkernel/spt"
	"vmkernel/swap"
)

// scenario is one of the end-to-end testable properties spec.md §8
// describes, runnable standalone against a fresh in-memory disk so
// diskctl doubles as an executable spec check.
type scenario struct {
	name string
	desc string
	run  func() error
}

func scenarios() []scenario {
	return []scenario{
		{"grow-across-clusters", "write a range spanning several clusters and read it back", scenarioGrowAcrossClusters},
		{"sparse-write", "write past EOF and verify the gap zero-fills", scenarioSparseWrite},
		{"swap-thrash", "fault in N+1 anon pages against N frames and verify eviction", scenarioSwapThrash},
		{"mmap-writeback", "mmap a file, dirty a page, munmap, verify the write landed", scenarioMmapWriteback},
		{"cow-fork", "fork an anon page and verify a child write doesn't affect the parent", scenarioCOWFork},
		{"deny-write", "verify a denied inode silently refuses writes", scenarioDenyWrite},
	}
}

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-scenario [name]",
		Short: "run one (or, with no argument, all) of the built-in end-to-end scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			all := scenarios()
			if len(args) == 0 {
				failed := 0
				for _, s := range all {
					if err := s.run(); err != nil {
						fmt.Printf("FAIL %-24s %v\n", s.name, err)
						failed++
					} else {
						fmt.Printf("ok   %-24s %s\n", s.name, s.desc)
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d scenario(s) failed", failed)
				}
				return nil
			}
			for _, s := range all {
				if s.name == args[0] {
					return s.run()
				}
			}
			return fmt.Errorf("unknown scenario %q", args[0])
		},
	}
	return cmd
}

// testLayout builds a small in-memory disk: 64 single-sector clusters,
// enough for every scenario below.
func testLayout() layout {
	return computeLayout(64, 1)
}

func freshFS() (*disk.Mem_t, *fat.Table, *inode.Registry, layout, error) {
	l := testLayout()
	dev := disk.NewMem(l.totalSectors())
	if err := formatDisk(dev, l); err != 0 {
		return nil, nil, nil, l, fmt.Errorf("format: %s", err)
	}
	ft, err := mountFAT(dev, l)
	if err != 0 {
		return nil, nil, nil, l, fmt.Errorf("mount: %s", err)
	}
	return dev, ft, inode.NewRegistry(), l, nil
}

func scenarioGrowAcrossClusters() error {
	dev, ft, reg, l, err := freshFS()
	if err != nil {
		return err
	}
	_ = l
	if kerrv := inode.Create(dev, ft, 8, 0, false); kerrv != 0 {
		return fmt.Errorf("create: %s", kerrv)
	}
	ino, kerrv := reg.Open(dev, ft, 8)
	if kerrv != 0 {
		return fmt.Errorf("open: %s", kerrv)
	}
	defer ino.Close(reg)

	data := make([]byte, block.SectorSize*5+37)
	for i := range data {
		data[i] = byte(i)
	}
	n, kerrv := ino.WriteAt(data, 0)
	if kerrv != 0 || n != len(data) {
		return fmt.Errorf("write: n=%d err=%s", n, kerrv)
	}
	back := make([]byte, len(data))
	n, kerrv = ino.ReadAt(back, 0)
	if kerrv != 0 || n != len(data) {
		return fmt.Errorf("read: n=%d err=%s", n, kerrv)
	}
	for i := range data {
		if data[i] != back[i] {
			return fmt.Errorf("mismatch at byte %d: wrote %d got %d", i, data[i], back[i])
		}
	}
	return nil
}

func scenarioSparseWrite() error {
	dev, ft, reg, _, err := freshFS()
	if err != nil {
		return err
	}
	if kerrv := inode.Create(dev, ft, 8, 0, false); kerrv != 0 {
		return fmt.Errorf("create: %s", kerrv)
	}
	ino, kerrv := reg.Open(dev, ft, 8)
	if kerrv != 0 {
		return fmt.Errorf("open: %s", kerrv)
	}
	defer ino.Close(reg)

	payload := []byte("tail")
	gapStart := block.SectorSize*2 + 10
	n, kerrv := ino.WriteAt(payload, gapStart)
	if kerrv != 0 || n != len(payload) {
		return fmt.Errorf("write: n=%d err=%s", n, kerrv)
	}

	gap := make([]byte, gapStart)
	n, kerrv = ino.ReadAt(gap, 0)
	if kerrv != 0 || n != gapStart {
		return fmt.Errorf("read gap: n=%d err=%s", n, kerrv)
	}
	for i, b := range gap {
		if b != 0 {
			return fmt.Errorf("gap byte %d not zero-filled: %d", i, b)
		}
	}
	return nil
}

func scenarioSwapThrash() error {
	const nframes = 4
	pool := mem.NewPool(nframes + 8)
	swapDev := disk.NewMem(nframes * 4 * swap.SectorsPerPage)
	swapTbl := swap.Init(swapDev, metrics.Noop())
	frames := frame.New(pool, nframes, metrics.Noop())
	mmuTbl := mmu.NewSim()
	table := spt.New(mmuTbl, frames)

	descs := make([]*page.Descriptor, 0, nframes+1)
	for i := 0; i < nframes+1; i++ {
		va := uintptr((i + 1) * mem.PGSIZE)
		d := page.NewAnon(va, mmuTbl, pool, swapTbl, true)
		if !table.Insert(d) {
			return fmt.Errorf("insert page %d failed", i)
		}
		if kerrv := d.Claim(frames); kerrv != 0 {
			return fmt.Errorf("claim page %d: %s", i, kerrv)
		}
		descs = append(descs, d)
	}

	if frames.Resident() != nframes {
		return fmt.Errorf("expected %d resident frames, got %d", nframes, frames.Resident())
	}
	if swapTbl.Occupied() != 1 {
		return fmt.Errorf("expected exactly 1 swapped page, got %d", swapTbl.Occupied())
	}

	evicted := descs[0]
	if evicted.Resident() {
		return fmt.Errorf("expected the first page to have been evicted")
	}
	if kerrv := evicted.Claim(frames); kerrv != 0 {
		return fmt.Errorf("swap-in: %s", kerrv)
	}
	if !evicted.Resident() {
		return fmt.Errorf("expected page to be resident after swap-in")
	}
	return nil
}

func scenarioMmapWriteback() error {
	dev, ft, reg, _, err := freshFS()
	if err != nil {
		return err
	}
	if kerrv := inode.Create(dev, ft, 8, block.SectorSize, false); kerrv != 0 {
		return fmt.Errorf("create: %s", kerrv)
	}
	ino, kerrv := reg.Open(dev, ft, 8)
	if kerrv != 0 {
		return fmt.Errorf("open: %s", kerrv)
	}
	handle := inode.OpenHandleOn(ino)
	defer handle.Close(reg)

	pool := mem.NewPool(8)
	frames := frame.New(pool, 8, metrics.Noop())
	mmuTbl := mmu.NewSim()
	table := spt.New(mmuTbl, frames)
	mgr := mmapvm.NewManager(table, mmuTbl, pool, frames)

	mapping, kerrv := mgr.Mmap(mem.PGSIZE, block.SectorSize, handle, 0, true, true)
	if kerrv != 0 {
		return fmt.Errorf("mmap: %s", kerrv)
	}

	d, ok := table.Find(mem.PGSIZE)
	if !ok {
		return fmt.Errorf("no spt entry installed by mmap")
	}
	if kerrv := d.Claim(frames); kerrv != 0 {
		return fmt.Errorf("claim: %s", kerrv)
	}
	dst := pool.Deref(d.Pa())
	copy(dst[:4], []byte("mmap"))
	mmuTbl.Touch(mem.PGSIZE, true)

	if kerrv := mgr.Munmap(mapping); kerrv != 0 {
		return fmt.Errorf("munmap: %s", kerrv)
	}

	back := make([]byte, 4)
	n, kerrv := handle.ReadAt(back, 0)
	if kerrv != 0 || n != 4 {
		return fmt.Errorf("read back: n=%d err=%s", n, kerrv)
	}
	if string(back) != "mmap" {
		return fmt.Errorf("expected write-back content %q, got %q", "mmap", back)
	}
	return nil
}

func scenarioCOWFork() error {
	pool := mem.NewPool(8)
	frames := frame.New(pool, 8, metrics.Noop())
	parentMMU := mmu.NewSim()
	childMMU := mmu.NewSim()
	parentTbl := spt.New(parentMMU, frames)

	va := uintptr(mem.PGSIZE)
	d := page.NewAnon(va, parentMMU, pool, nil, true)
	if !parentTbl.Insert(d) {
		return fmt.Errorf("insert failed")
	}
	if kerrv := d.Claim(frames); kerrv != 0 {
		return fmt.Errorf("claim: %s", kerrv)
	}
	copy(pool.Deref(d.Pa())[:5], []byte("hello"))

	childTbl, kerrv := parentTbl.Fork(childMMU)
	if kerrv != 0 {
		return fmt.Errorf("fork: %s", kerrv)
	}

	childD, ok := childTbl.Find(va)
	if !ok {
		return fmt.Errorf("child missing forked page")
	}
	if pool.Refcnt(d.Pa()) != 2 {
		return fmt.Errorf("expected shared frame refcount 2, got %d", pool.Refcnt(d.Pa()))
	}

	if kerrv := childD.COWBreak(frames); kerrv != 0 {
		return fmt.Errorf("cow break: %s", kerrv)
	}
	copy(pool.Deref(childD.Pa())[:5], []byte("WORLD"))

	parentBytes := pool.Deref(d.Pa())[:5]
	if string(parentBytes) != "hello" {
		return fmt.Errorf("parent page corrupted by child's COW write: %q", parentBytes)
	}
	return nil
}

func scenarioDenyWrite() error {
	dev, ft, reg, _, err := freshFS()
	if err != nil {
		return err
	}
	if kerrv := inode.Create(dev, ft, 8, 0, false); kerrv != 0 {
		return fmt.Errorf("create: %s", kerrv)
	}
	ino, kerrv := reg.Open(dev, ft, 8)
	if kerrv != 0 {
		return fmt.Errorf("open: %s", kerrv)
	}
	defer ino.Close(reg)

	ino.DenyWrite()
	n, kerrv := ino.WriteAt([]byte("nope"), 0)
	if kerrv != 0 {
		return fmt.Errorf("write-while-denied returned an error instead of (0, 0): %s", kerrv)
	}
	if n != 0 {
		return fmt.Errorf("write-while-denied wrote %d bytes, expected 0", n)
	}
	ino.AllowWrite()
	n, kerrv = ino.WriteAt([]byte("ok"), 0)
	if kerrv != 0 || n != 2 {
		return fmt.Errorf("write-after-allow: n=%d err=%s", n, kerrv)
	}
	return nil
}
