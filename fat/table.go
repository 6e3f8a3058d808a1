package fat

import (
	"fmt"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
	diskoerrors "github.com/dargueta/fstwalk/errors"
)

// Table is one decoded copy of the FAT, exposing cluster-chain navigation
// independent of whether the on-disk encoding was 12-, 16-, or 32-bit.
type Table struct {
	bits    int
	entries []uint32
}

// ReadTable decodes one FAT copy starting at startSector, bits wide
// (12/16/32), spanning sectorCount sectors.
func ReadTable(src blockio.Source, startSector, sectorCount uint32, bits int, totalClusters uint32) (*Table, error) {
	raw := make([]byte, 0, int(sectorCount)*blockio.SectorSize)
	for i := uint32(0); i < sectorCount; i++ {
		sector, err := src.ReadSector(startSector + i)
		if err != nil {
			return nil, err
		}
		raw = append(raw, sector[:]...)
	}

	t := &Table{bits: bits, entries: make([]uint32, totalClusters)}
	switch bits {
	case 12:
		for c := uint32(0); c < totalClusters; c++ {
			off := c + c/2
			if int(off)+1 >= len(raw) {
				break
			}
			packed := uint16(raw[off]) | uint16(raw[off+1])<<8
			if c%2 == 0 {
				t.entries[c] = uint32(packed & 0x0FFF)
			} else {
				t.entries[c] = uint32(packed >> 4)
			}
		}
	case 16:
		for c := uint32(0); c < totalClusters; c++ {
			off := c * 2
			if int(off)+1 >= len(raw) {
				break
			}
			t.entries[c] = uint32(raw[off]) | uint32(raw[off+1])<<8
		}
	case 32:
		for c := uint32(0); c < totalClusters; c++ {
			off := c * 4
			if int(off)+3 >= len(raw) {
				break
			}
			v := uint32(raw[off]) | uint32(raw[off+1])<<8 | uint32(raw[off+2])<<16 | uint32(raw[off+3])<<24
			t.entries[c] = v & 0x0FFFFFFF
		}
	default:
		return nil, diskoerrors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("fat: unsupported bit width %d", bits))
	}
	return t, nil
}

func (t *Table) endOfChainThreshold() uint32 {
	switch t.bits {
	case 12:
		return 0x0FF8
	case 16:
		return 0xFFF8
	default:
		return 0x0FFFFFF8
	}
}

func (t *Table) badMarker() uint32 {
	switch t.bits {
	case 12:
		return 0x0FF7
	case 16:
		return 0xFFF7
	default:
		return 0x0FFFFFF7
	}
}

// Entry returns the raw FAT entry for cluster c.
func (t *Table) Entry(c uint32) uint32 {
	if int(c) >= len(t.entries) {
		return 0
	}
	return t.entries[c]
}

// IsEndOfChain reports whether entry marks the end of a cluster chain.
func (t *Table) IsEndOfChain(entry uint32) bool { return entry >= t.endOfChainThreshold() }

// IsBad reports whether entry marks a cluster as bad.
func (t *Table) IsBad(entry uint32) bool { return entry == t.badMarker() }

// IsFree reports whether entry marks a cluster as unused.
func (t *Table) IsFree(entry uint32) bool { return entry == 0 }

// IsInRange reports whether entry is a plausible next-cluster pointer
// (neither free, bad, end-of-chain, nor beyond the volume's cluster
// count).
func (t *Table) IsInRange(entry uint32) bool {
	return entry >= 2 && int(entry) < len(t.entries)+2 && !t.IsBad(entry) && !t.IsEndOfChain(entry)
}

// CrossCompare reads every FAT copy and warns on any mismatch against the
// first (operational) copy, enumerating differing cluster indexes per
// §4.5 "FAT cross-comparison".
func CrossCompare(src blockio.Source, bs *BootSector, warns *accounting.Warnings) (*Table, error) {
	sectorCount := bs.FATSectorCount()
	first, err := ReadTable(src, bs.FATStartSector(0), sectorCount, bs.Bits, bs.TotalClusters)
	if err != nil {
		return nil, err
	}

	for copyIdx := uint8(1); copyIdx < bs.NumFATs; copyIdx++ {
		other, err := ReadTable(src, bs.FATStartSector(copyIdx), sectorCount, bs.Bits, bs.TotalClusters)
		if err != nil {
			warns.Addf(accounting.SeverityHard, "fat: could not read FAT copy %d: %s", copyIdx, err)
			continue
		}

		var diffs []uint32
		for c := uint32(0); c < bs.TotalClusters && int(c) < len(first.entries); c++ {
			if first.entries[c] != other.entries[c] {
				diffs = append(diffs, c)
			}
		}
		if len(diffs) > 0 {
			warns.Addf(accounting.SeverityHard,
				"fat: FAT copy %d disagrees with copy 0 at %d cluster(s): %v",
				copyIdx, len(diffs), diffs)
		}
	}
	return first, nil
}
