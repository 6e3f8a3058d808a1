// Package geometry computes and looks up BIOS-parameter-block-style disk
// geometry: heads, cylinders, sectors per track, and the CHS coordinates of
// a given sector. blockio.DeviceSource uses it both to derive
// TotalSectors() from a live device's BPB and, when the BPB is degenerate
// (common on recovered images with a zeroed or missing boot sector), to
// fall back to a catalog of known floppy/HPFS-era geometries.
package geometry

// Geometry describes a device's physical layout in BIOS-parameter-block
// terms.
type Geometry struct {
	Heads           uint32
	Cylinders       uint32
	SectorsPerTrack uint32
	HiddenSectors   uint32
}

// TotalSectors returns heads * cylinders * sectors-per-track, minus hidden
// sectors, per §4.2's definition of total_sectors() for a live device.
func (g Geometry) TotalSectors() uint32 {
	total := g.Heads * g.Cylinders * g.SectorsPerTrack
	if total < g.HiddenSectors {
		return 0
	}
	return total - g.HiddenSectors
}

// CHS converts a zero-based logical sector number into its
// cylinder/head/sector coordinates under this geometry. Sector numbers
// within a track are 1-based, matching the convention the BIOS and every
// FAT/HPFS-era tool uses.
func (g Geometry) CHS(lba uint32) (cylinder, head, sector uint32) {
	if g.SectorsPerTrack == 0 || g.Heads == 0 {
		return 0, 0, 0
	}
	absolute := lba + g.HiddenSectors
	sector = (absolute % g.SectorsPerTrack) + 1
	temp := absolute / g.SectorsPerTrack
	head = temp % g.Heads
	cylinder = temp / g.Heads
	return cylinder, head, sector
}

// IsZero reports whether the geometry carries no usable information, i.e.
// every field is the zero value.
func (g Geometry) IsZero() bool {
	return g == Geometry{}
}
