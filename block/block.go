// Package block defines the raw block-device contract the file system
// core talks to (spec.md §6, "Block device"). It is the Go analogue of
// biscuit's Disk_i / Bdev_req_t (fs/blk.go): fixed-sector read/write,
// synchronous from the caller's point of view.
package block

import "vmkernel/kerr"

// SectorSize is the fixed size in bytes of one on-disk sector
// (spec.md §6: "DISK_SECTOR_SIZE, typically 512 B"). The cluster
// allocator and swap bitmap both address the device in these units.
const SectorSize = 512

// Device is a raw block device: fixed-size sector reads and writes.
// Both File_t and Mem_t (package disk) implement it.
type Device interface {
	// ReadSector reads exactly SectorSize bytes into buf.
	ReadSector(sector int, buf []byte) kerr.Err_t
	// WriteSector writes exactly SectorSize bytes from buf.
	WriteSector(sector int, buf []byte) kerr.Err_t
	// NumSectors reports the device's capacity in sectors.
	NumSectors() int
}
