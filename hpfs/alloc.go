package hpfs

import (
	"encoding/binary"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
)

const albHeaderSize = 8   // sizeof(ALBLK)
const alLeafSize = 12     // sizeof(ALLEAF)
const alNodeSize = 8      // sizeof(ALNODE)
const alsecHeaderSize = 12 // sig + lsnSelf + lsnRent, before the embedded ALBLK

// embeddedLeafCount and embeddedNodeCount are the FNODE-resident ALBLK's
// capacity; alsecLeafCount and alsecNodeCount are an ALSEC's, per hpfs.h's
// FILESTORAGE/ALSEC unions.
const (
	embeddedLeafCount = 8
	embeddedNodeCount = 12
	alsecLeafCount    = 40
	alsecNodeCount    = 60
)

// WalkAllocationTree walks the allocation structure embedded at the root of
// a file, directory, EA, or ACL's storage: an FNODE-resident ALBLK (up to 8
// leaves or 12 nodes) that may point down into a tree of ALSEC sectors (up
// to 40 leaves or 60 nodes each). ownerSector identifies the FNODE for
// warning messages and parent-pointer cross-checks. It returns the number
// of extents observed and the tree height, mirroring do_storage/do_alsec.
func WalkAllocationTree(src blockio.Source, header []byte, ownerSector uint32, class accounting.Class, path *accounting.Path, expectedSectors uint32, vector *accounting.Vector, arena *accounting.Arena, seen *accounting.SeenSet, warns *accounting.Warnings) (extents int, height int) {
	var nextFileSector uint32
	var nextDiskSector uint32
	height = walkStorage(src, header, embeddedLeafCount, ownerSector, ownerSector, 1, class, path, &nextFileSector, &nextDiskSector, expectedSectors, vector, arena, seen, warns, &extents)

	if nextFileSector != expectedSectors {
		warns.Addf(accounting.SeverityHard,
			"hpfs: FNODE #%d: wrong size: allocation tree maps %d sectors, expected %d",
			ownerSector, nextFileSector, expectedSectors)
	}
	return extents, height
}

// walkStorage decodes one ALBLK header (at the front of `header`, which is
// either the FNODE-embedded FILESTORAGE bytes or an ALSEC's trailing
// bytes) and recurses. parentALBLK is the sector number that owns this
// ALBLK, used for an ALSEC child's parent-pointer cross-check.
func walkStorage(src blockio.Source, header []byte, capacity uint32, ownerSector uint32, parentALBLK uint32, level int, class accounting.Class, path *accounting.Path, nextFileSector *uint32, nextDiskSector *uint32, totalSectors uint32, vector *accounting.Vector, arena *accounting.Arena, seen *accounting.SeenSet, warns *accounting.Warnings, extents *int) int {
	if len(header) < albHeaderSize {
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: allocation block truncated", ownerSector)
		return 0
	}
	flag := header[0]
	free := uint32(header[4])
	used := uint32(header[5])
	offFree := binary.LittleEndian.Uint16(header[6:8])

	if (flag&ABFFNP != 0) != (level == 1) {
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: ABF_FNP bit is wrong", ownerSector)
	}

	n := used
	if flag&ABFNode != 0 {
		nodeCapacity := capacity + capacity/2
		if free+used != nodeCapacity {
			warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: wrong number of ALNODEs", ownerSector)
			if n > nodeCapacity {
				n = nodeCapacity
			}
		}
		if n*alNodeSize+albHeaderSize != uint32(offFree) {
			warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: offset to free entry is wrong", ownerSector)
		}

		maxHeight := 0
		for i := uint32(0); i < n; i++ {
			off := albHeaderSize + int(i)*alNodeSize
			if off+alNodeSize > len(header) {
				break
			}
			logical := binary.LittleEndian.Uint32(header[off : off+4])
			physical := binary.LittleEndian.Uint32(header[off+4 : off+8])

			want := *nextFileSector
			if i+1 == n {
				want = 0xffffffff
			}
			if logical != want {
				warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: wrong file sector in ALNODE (%d vs %d)", ownerSector, logical, want)
			}

			h := walkALSec(src, physical, ownerSector, parentALBLK, class, path, nextFileSector, nextDiskSector, totalSectors, vector, arena, seen, warns, extents)
			if i == 0 {
				maxHeight = h
			} else {
				if h != maxHeight {
					warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: unbalanced allocation tree", ownerSector)
				}
				if h > maxHeight {
					maxHeight = h
				}
			}
		}
		return maxHeight
	}

	if free+used != capacity {
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: wrong number of ALLEAFs", ownerSector)
		if n > capacity {
			n = capacity
		}
	}
	if n*alLeafSize+albHeaderSize != uint32(offFree) {
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: offset to free entry is wrong", ownerSector)
	}
	*extents += int(n)

	for i := uint32(0); i < n; i++ {
		off := albHeaderSize + int(i)*alLeafSize
		if off+alLeafSize > len(header) {
			break
		}
		logical := binary.LittleEndian.Uint32(header[off : off+4])
		count := binary.LittleEndian.Uint32(header[off+4 : off+8])
		physical := binary.LittleEndian.Uint32(header[off+8 : off+12])

		if logical != *nextFileSector {
			warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: wrong file sector (%d vs %d)", ownerSector, logical, *nextFileSector)
		}
		for s := uint32(0); s < count; s++ {
			vector.UseUnit(int(physical+s), class, path)
		}
		*nextDiskSector = physical + count
		*nextFileSector += count
	}
	return 0
}

// walkALSec reads and validates one ALSEC sector and recurses into its own
// embedded ALBLK. rootSector names the owning FNODE for warning messages and
// never changes across the recursion; expectedParent is the sector of this
// ALSEC's immediate parent ALBLK (the root FNODE at the first level, or a
// shallower ALSEC's own sector further down), checked against lsnRent.
func walkALSec(src blockio.Source, secno uint32, rootSector uint32, expectedParent uint32, class accounting.Class, path *accounting.Path, nextFileSector *uint32, nextDiskSector *uint32, totalSectors uint32, vector *accounting.Vector, arena *accounting.Arena, seen *accounting.SeenSet, warns *accounting.Warnings, extents *int) int {
	if seen.HaveSeen(int(secno), 1, accounting.SeenTag(seenTagALSec)) {
		warns.Addf(accounting.SeverityHard, "hpfs: ALSEC #%d: revisited (cycle)", secno)
		return 0
	}
	sector, err := src.ReadSector(secno)
	if err != nil {
		warns.Addf(accounting.SeverityHard, "hpfs: could not read ALSEC at #%d: %s", secno, err)
		return 0
	}
	vector.UseUnit(int(secno), ClassAllocSector, path)

	raw := sector[:]
	sig := binary.LittleEndian.Uint32(raw[0:4])
	if sig != SigALSec {
		warns.Addf(accounting.SeverityHard, "hpfs: ALSEC #%d: bad signature", secno)
		return 0
	}
	lsnSelf := binary.LittleEndian.Uint32(raw[4:8])
	lsnParent := binary.LittleEndian.Uint32(raw[8:12])
	if lsnSelf != secno {
		warns.Addf(accounting.SeverityHard, "hpfs: ALSEC #%d: incorrect self pointer", secno)
	}
	if lsnParent != expectedParent {
		warns.Addf(accounting.SeverityHard, "hpfs: ALSEC #%d: incorrect parent pointer", secno)
	}

	h := walkStorage(src, raw[alsecHeaderSize:], alsecLeafCount, rootSector, secno, 2, class, path, nextFileSector, nextDiskSector, totalSectors, vector, arena, seen, warns, extents)
	return h + 1
}

// seenTagALSec identifies the ALSEC cycle-detection space.
const seenTagALSec = 3
