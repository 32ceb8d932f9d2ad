// Package disk implements block.Device against a host file (the
// "physical" disk image, one per mounted file system or swap area) and
// against an in-memory buffer for tests. It is grounded on biscuit's
// ahci_disk_t (biscuit/src/ufs/driver.go), which simulates the AHCI
// driver by seeking and read()/write()-ing a host file under a mutex so
// that seek-then-I/O is atomic; the same shape is kept here since this
// module also never runs against real hardware.
package disk

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"vmkernel/block"
	"vmkernel/kerr"
)

// File_t is a block.Device backed by a host file.
type File_t struct {
	mu  sync.Mutex
	f   *os.File
	n   int
	log *logrus.Entry
}

// Open opens (without creating) the image at path, sized to n sectors.
func Open(path string, n int, log *logrus.Logger) (*File_t, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "disk: open %s", path)
	}
	if log == nil {
		log = logrus.New()
	}
	return &File_t{f: f, n: n, log: log.WithField("disk", path)}, nil
}

// Create makes a fresh, zeroed image file of n sectors at path.
func Create(path string, n int, log *logrus.Logger) (*File_t, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "disk: create %s", path)
	}
	if err := f.Truncate(int64(n) * block.SectorSize); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "disk: truncate %s", path)
	}
	if log == nil {
		log = logrus.New()
	}
	return &File_t{f: f, n: n, log: log.WithField("disk", path)}, nil
}

func (d *File_t) NumSectors() int { return d.n }

// ReadSector reads one sector. The mutex makes seek-then-read atomic,
// the same invariant ahci_disk_t.Start relies on for BDEV_READ.
func (d *File_t) ReadSector(sector int, buf []byte) kerr.Err_t {
	if len(buf) != block.SectorSize {
		panic("disk: bad buffer size")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.Seek(int64(sector)*block.SectorSize, 0); err != nil {
		d.log.WithError(err).WithField("sector", sector).Error("seek failed")
		return kerr.EIO
	}
	if _, err := d.f.Read(buf); err != nil {
		d.log.WithError(err).WithField("sector", sector).Error("read failed")
		return kerr.EIO
	}
	return 0
}

// WriteSector writes one sector.
func (d *File_t) WriteSector(sector int, buf []byte) kerr.Err_t {
	if len(buf) != block.SectorSize {
		panic("disk: bad buffer size")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.Seek(int64(sector)*block.SectorSize, 0); err != nil {
		d.log.WithError(err).WithField("sector", sector).Error("seek failed")
		return kerr.EIO
	}
	if _, err := d.f.Write(buf); err != nil {
		d.log.WithError(err).WithField("sector", sector).Error("write failed")
		return kerr.EIO
	}
	return 0
}

// Sync flushes the underlying file, the "sync on shutdown" consistency
// model spec.md's Non-goals settle for.
func (d *File_t) Sync() error {
	return d.f.Sync()
}

// Close closes the backing file.
func (d *File_t) Close() error {
	return d.f.Close()
}

// Mem_t is an in-memory block.Device used by unit tests so that FAT,
// inode, and swap logic can be exercised without touching the host
// file system.
type Mem_t struct {
	mu   sync.Mutex
	data [][block.SectorSize]byte
}

// NewMem allocates an in-memory disk of n sectors, all zeroed.
func NewMem(n int) *Mem_t {
	return &Mem_t{data: make([][block.SectorSize]byte, n)}
}

func (m *Mem_t) NumSectors() int { return len(m.data) }

func (m *Mem_t) ReadSector(sector int, buf []byte) kerr.Err_t {
	if len(buf) != block.SectorSize {
		panic("disk: bad buffer size")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sector < 0 || sector >= len(m.data) {
		return kerr.EIO
	}
	copy(buf, m.data[sector][:])
	return 0
}

func (m *Mem_t) WriteSector(sector int, buf []byte) kerr.Err_t {
	if len(buf) != block.SectorSize {
		panic("disk: bad buffer size")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sector < 0 || sector >= len(m.data) {
		return kerr.EIO
	}
	copy(m.data[sector][:], buf)
	return 0
}
