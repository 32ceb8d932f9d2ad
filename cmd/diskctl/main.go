// Command diskctl formats disk images for the FAT-style file system
// and drives the end-to-end scenarios testable properties spec.md §8
// describes, against either a host file or an in-memory disk. It
// follows the single-rootCmd-plus-subcommands shape operator-registry's
// CLI entry points use (cmd/pipe-fitter/main.go), with
// sirupsen/logrus for diagnostics instead of bare fmt.Printf.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// layout is the fixed on-disk geometry diskctl assumes: sector 0 holds
// the root directory's inode, the FAT region follows immediately, and
// the data area follows the FAT.
type layout struct {
	fatBase           int
	fatSectors        int
	dataBase          int
	numClusters       int
	sectorsPerCluster int
}

const rootInodeSector = 0

func computeLayout(numClusters, sectorsPerCluster int) layout {
	const entriesPerSector = 512 / 4
	fatSectors := (numClusters + entriesPerSector - 1) / entriesPerSector
	return layout{
		fatBase:           rootInodeSector + 1,
		fatSectors:        fatSectors,
		dataBase:          rootInodeSector + 1 + fatSectors,
		numClusters:       numClusters,
		sectorsPerCluster: sectorsPerCluster,
	}
}

func (l layout) totalSectors() int {
	return l.dataBase + l.numClusters*l.sectorsPerCluster
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("diskctl failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "diskctl",
		Short: "format and exercise the vmkernel FAT disk",
	}
	var debug bool
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if debug {
			logrus.SetLevel(logrus.DebugLevel)
		}
	}
	root.AddCommand(newFormatCmd())
	root.AddCommand(newStatCmd())
	root.AddCommand(newScenarioCmd())
	return root
}

func newFormatCmd() *cobra.Command {
	var (
		image             string
		numClusters       int
		sectorsPerCluster int
	)
	cmd := &cobra.Command{
		Use:   "format",
		Short: "create and format a fresh disk image",
		RunE: func(cmd *cobra.Command, args []string) error {
			l := computeLayout(numClusters, sectorsPerCluster)
			dev, err := openImage(image, l.totalSectors())
			if err != nil {
				return err
			}
			defer dev.Close()

			if err := formatDisk(dev, l); err != 0 {
				return fmt.Errorf("format: %s", err)
			}
			logrus.WithFields(logrus.Fields{
				"image":    image,
				"clusters": numClusters,
				"sectors":  l.totalSectors(),
			}).Info("disk formatted")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&image, "image", "disk.img", "path to the disk image")
	f.IntVar(&numClusters, "clusters", 256, "number of allocatable clusters")
	f.IntVar(&sectorsPerCluster, "cluster-sectors", 1, "sectors per cluster")
	return cmd
}

func newStatCmd() *cobra.Command {
	var (
		image             string
		numClusters       int
		sectorsPerCluster int
	)
	cmd := &cobra.Command{
		Use:   "stat",
		Short: "report free-space statistics for a formatted disk image",
		RunE: func(cmd *cobra.Command, args []string) error {
			l := computeLayout(numClusters, sectorsPerCluster)
			dev, err := openImage(image, l.totalSectors())
			if err != nil {
				return err
			}
			defer dev.Close()

			ft, ferr := mountFAT(dev, l)
			if ferr != 0 {
				return fmt.Errorf("mount: %s", ferr)
			}
			defer ft.Close()

			fmt.Printf("clusters: %d total, %d free\n", ft.NumClusters(), ft.FreeCount())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&image, "image", "disk.img", "path to the disk image")
	f.IntVar(&numClusters, "clusters", 256, "number of allocatable clusters")
	f.IntVar(&sectorsPerCluster, "cluster-sectors", 1, "sectors per cluster")
	return cmd
}
