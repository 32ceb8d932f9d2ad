package main

import (
	"os"

	"vmkernel/block"
	"vmkernel/disk"
	"vmkernel/fat"
	"vmkernel/inode"
	"vmkernel/kerr"
)

func openImage(path string, sectors int) (*disk.File_t, error) {
	if _, statErr := os.Stat(path); statErr == nil {
		return disk.Open(path, sectors, nil)
	}
	return disk.Create(path, sectors, nil)
}

func formatDisk(dev block.Device, l layout) kerr.Err_t {
	if err := fat.Format(dev, l.fatBase, l.fatSectors, l.dataBase, l.numClusters, l.sectorsPerCluster); err != 0 {
		return err
	}
	ft, err := mountFAT(dev, l)
	if err != 0 {
		return err
	}
	defer ft.Close()
	return inode.Create(dev, ft, rootInodeSector, 0, true)
}

func mountFAT(dev block.Device, l layout) (*fat.Table, kerr.Err_t) {
	return fat.Mount(dev, l.fatBase, l.fatSectors, l.dataBase, l.numClusters, l.sectorsPerCluster, nil)
}
