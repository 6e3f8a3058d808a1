package hpfs

import (
	"encoding/binary"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
	"github.com/dargueta/fstwalk/extent"
)

// bandSectors is the number of sectors one band's bitmap covers: 2048 bytes
// times 8 bits per byte, per §4.6 "2048 x 8 = 16384 sectors (8 MiB)".
const bandSectors = 2048 * 8

// bandBitmapSectors is the number of sectors one band's bitmap itself
// occupies (2048 bytes == 4 sectors).
const bandBitmapSectors = 4

// LoadBitmapIndirect reads the bitmap-indirect block (a list of per-band
// bitmap head sector numbers) and every band bitmap it points to, filling
// `shadow` and recording each bitmap sector's usage in `vector`. Once every
// band has loaded, shadow.SetReady is called, per §4.6 "once all loaded,
// set the shadow-bitmap ready flag".
func LoadBitmapIndirect(src blockio.Source, totalSectors uint32, secno uint32, vector *accounting.Vector, arena *accounting.Arena, shadow *accounting.ShadowBitmap, warns *accounting.Warnings) *extent.Histogram {
	bands := (totalSectors + bandSectors - 1) / bandSectors
	blocks := (bands + 511) / 512 // 512 uint32 entries per 4-sector block

	path := arena.Root("bitmap-indirect")
	data := make([]byte, 0, blocks*blockio.SectorSize)
	for i := uint32(0); i < blocks*bandBitmapSectors; i++ {
		sector, err := src.ReadSector(secno + i)
		if err != nil {
			warns.Addf(accounting.SeverityHard, "hpfs: could not read bitmap indirect block at #%d: %s", secno+i, err)
			return nil
		}
		data = append(data, sector[:]...)
		vector.UseUnit(int(secno+i), ClassBitmapIndirect, path)
	}

	freeRuns := extent.NewHistogram()
	var run uint64

	for i := uint32(0); i < bands; i++ {
		off := i * 4
		if int(off)+4 > len(data) {
			break
		}
		bsecno := binary.LittleEndian.Uint32(data[off : off+4])
		if bsecno == 0 {
			warns.Addf(accounting.SeverityHard, "hpfs: bitmap indirect block at #%d: entry %d is zero", secno, i)
			break
		}
		loadBand(src, bsecno, i, vector, arena, shadow, warns, freeRuns, &run)
	}

	for i := bands; i < blocks*512; i++ {
		off := i * 4
		if int(off)+4 > len(data) {
			continue
		}
		if binary.LittleEndian.Uint32(data[off:off+4]) != 0 {
			warns.Addf(accounting.SeverityHard, "hpfs: bitmap indirect block at #%d: too many entries", secno)
			break
		}
	}

	if run > 0 {
		freeRuns.Observe(int(run))
	}
	shadow.SetReady()
	return freeRuns
}

// loadBand reads one band's 4-sector bitmap and marks each sector's
// allocation state in `shadow`. A set bit means unallocated, per
// do_bitmap2's BITSETP convention; the walker inverts that to populate
// ShadowBitmap.MarkAllocated, which tracks "allocated" sectors. freeRuns
// accumulates a free-space fragmentation histogram across the whole scan,
// threading a running free-run length in `run` across band boundaries.
func loadBand(src blockio.Source, bsecno uint32, band uint32, vector *accounting.Vector, arena *accounting.Arena, shadow *accounting.ShadowBitmap, warns *accounting.Warnings, freeRuns *extent.Histogram, run *uint64) {
	path := arena.Root("band-bitmap")
	var raw []byte
	for i := uint32(0); i < bandBitmapSectors; i++ {
		sector, err := src.ReadSector(bsecno + i)
		if err != nil {
			warns.Addf(accounting.SeverityHard, "hpfs: could not read band %d bitmap at #%d: %s", band, bsecno+i, err)
			return
		}
		raw = append(raw, sector[:]...)
		vector.UseUnit(int(bsecno+i), ClassBandBitmap, path)
	}

	base := band * bandSectors
	for bit := uint32(0); bit < bandSectors; bit++ {
		byteIdx := bit / 8
		if int(byteIdx) >= len(raw) {
			break
		}
		free := raw[byteIdx]&(1<<(bit%8)) != 0
		if free {
			*run++
		} else {
			shadow.MarkAllocated(int(base + bit))
			if *run > 0 {
				freeRuns.Observe(int(*run))
				*run = 0
			}
		}
	}
}
