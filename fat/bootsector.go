// Package fat implements the FAT/VFAT walker (§4.5): boot sector geometry,
// FAT table cross-comparison, long-filename reassembly, the EA DATA. SF
// dual-table lookup, and the recursive reachability walk over the root
// directory and cluster chains.
//
// Grounded on dargueta-disko/drivers/fat/common.go's boot-sector decoding
// (same field layout, same derived-geometry formulas) adapted from that
// driver's read/write file system model to a read-only forensic walk that
// classifies every cluster it visits instead of mounting the volume.
package fat

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/fstwalk/blockio"
	diskoerrors "github.com/dargueta/fstwalk/errors"
)

// BootSector is the decoded BIOS parameter block plus the geometry values
// derived from it.
type BootSector struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	HiddenSectors     uint32
	TotalSectors16    uint16
	TotalSectors32    uint32
	SectorsPerFAT32   uint32
	RootCluster       uint32 // FAT32 only

	// Derived geometry, per §4.5 "Geometry".
	RootDirSectors  uint32
	FirstRootSector uint32
	FirstDataSector uint32
	BytesPerCluster uint32
	TotalClusters   uint32
	Bits            int // 12, 16, or 32
}

// legacyClusterThreshold is the FAT12/FAT16 boundary from §4.5 and §8
// scenario 3: "clusters - 2 > 4085" selects 16-bit encoding.
const legacyClusterThreshold = 4085

// ParseBootSector decodes sector 0 of a FAT volume and computes its
// geometry. It does not validate the jump instruction or OEM name; those
// are cosmetic per §7's taxonomy and aren't checked here at all, since a
// walk has no use for them.
func ParseBootSector(sector blockio.Sector) (*BootSector, error) {
	b := sector[:]
	bs := &BootSector{
		BytesPerSector:    binary.LittleEndian.Uint16(b[11:13]),
		SectorsPerCluster: b[13],
		ReservedSectors:   binary.LittleEndian.Uint16(b[14:16]),
		NumFATs:           b[16],
		RootEntryCount:    binary.LittleEndian.Uint16(b[17:19]),
		TotalSectors16:    binary.LittleEndian.Uint16(b[19:21]),
		Media:             b[21],
		SectorsPerFAT16:   binary.LittleEndian.Uint16(b[22:24]),
		HiddenSectors:     binary.LittleEndian.Uint32(b[28:32]),
		TotalSectors32:    binary.LittleEndian.Uint32(b[32:36]),
	}

	if bs.BytesPerSector != blockio.SectorSize {
		return nil, diskoerrors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("fat: bytes-per-sector must be %d, got %d", blockio.SectorSize, bs.BytesPerSector))
	}
	if bs.SectorsPerCluster == 0 {
		return nil, diskoerrors.ErrFileSystemCorrupted.WithMessage(
			"fat: sectors-per-cluster is zero")
	}
	if bs.NumFATs == 0 {
		return nil, diskoerrors.ErrFileSystemCorrupted.WithMessage(
			"fat: NumFATs is zero")
	}

	// FAT32 extended fields live where sectorsPerFAT16 would read 0.
	if bs.SectorsPerFAT16 == 0 {
		bs.SectorsPerFAT32 = binary.LittleEndian.Uint32(b[36:40])
		bs.RootCluster = binary.LittleEndian.Uint32(b[44:48])
	}

	sectorsPerFAT := uint32(bs.SectorsPerFAT16)
	if sectorsPerFAT == 0 {
		sectorsPerFAT = bs.SectorsPerFAT32
	}

	totalSectors := uint32(bs.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = bs.TotalSectors32
	}

	bs.RootDirSectors = (uint32(bs.RootEntryCount)*32 + uint32(bs.BytesPerSector) - 1) / uint32(bs.BytesPerSector)
	bs.FirstRootSector = uint32(bs.ReservedSectors) + uint32(bs.NumFATs)*sectorsPerFAT
	bs.FirstDataSector = bs.FirstRootSector + bs.RootDirSectors
	bs.BytesPerCluster = uint32(bs.BytesPerSector) * uint32(bs.SectorsPerCluster)

	dataSectors := totalSectors - bs.FirstDataSector
	bs.TotalClusters = dataSectors/uint32(bs.SectorsPerCluster) + 2 // cluster numbering starts at 2

	if bs.TotalClusters-2 > legacyClusterThreshold {
		bs.Bits = 16
	} else {
		bs.Bits = 12
	}
	if bs.SectorsPerFAT16 == 0 && bs.SectorsPerFAT32 != 0 {
		bs.Bits = 32
	}

	return bs, nil
}

// ClusterToSector converts a cluster number (>= 2) to its first absolute
// sector number.
func (bs *BootSector) ClusterToSector(cluster uint32) uint32 {
	return bs.FirstDataSector + (cluster-2)*uint32(bs.SectorsPerCluster)
}

// FATStartSector returns the first sector of the copy-th FAT copy
// (0-based).
func (bs *BootSector) FATStartSector(copy uint8) uint32 {
	sectorsPerFAT := uint32(bs.SectorsPerFAT16)
	if sectorsPerFAT == 0 {
		sectorsPerFAT = bs.SectorsPerFAT32
	}
	return uint32(bs.ReservedSectors) + uint32(copy)*sectorsPerFAT
}

// FATSectorCount returns the number of sectors occupied by one FAT copy.
func (bs *BootSector) FATSectorCount() uint32 {
	if bs.SectorsPerFAT16 != 0 {
		return uint32(bs.SectorsPerFAT16)
	}
	return bs.SectorsPerFAT32
}
