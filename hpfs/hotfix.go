package hpfs

import (
	"encoding/binary"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
)

// hotfixListSectors is the fixed size of the hotfix list block, per §4.6
// "Four-sector block".
const hotfixListSectors = 4

// maxHotfixEntries bounds the three parallel arrays packed into the
// 4-sector (512 uint32) hotfix block: do_hotfix_list's "total > 512/3".
const maxHotfixEntries = 512 / 3

// Hotfix is one decoded (bad sector, replacement sector, owning FNODE)
// triple from the hotfix list.
type Hotfix struct {
	BadSector       uint32
	ReplacementSector uint32
	OwningFNode     uint32
}

// LoadHotfixList reads the 4-sector hotfix block at secno and decodes up to
// `count` entries, validating each replacement sector against `total` and
// `shadow`, per §4.6 "Validate hotfix targets as allocated".
func LoadHotfixList(src blockio.Source, secno uint32, count uint32, total uint32, vector *accounting.Vector, arena *accounting.Arena, shadow *accounting.ShadowBitmap, warns *accounting.Warnings) []Hotfix {
	if count > maxHotfixEntries {
		warns.Addf(accounting.SeverityHard, "hpfs: maximum number of hotfixes is too big (%d)", count)
		count = maxHotfixEntries
	}

	path := arena.Root("hotfix-list")
	var raw []byte
	for i := uint32(0); i < hotfixListSectors; i++ {
		sector, err := src.ReadSector(secno + i)
		if err != nil {
			warns.Addf(accounting.SeverityHard, "hpfs: could not read hotfix list at #%d: %s", secno+i, err)
			return nil
		}
		raw = append(raw, sector[:]...)
		vector.UseUnit(int(secno+i), ClassHotfix, path)
	}

	entries := make([]uint32, 512)
	for i := range entries {
		entries[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}

	var hotfixes []Hotfix
	for i := uint32(0); i < count; i++ {
		badSector := entries[i]
		replacement := entries[i+count]
		owningFNode := entries[i+2*count]

		if replacement == 0 {
			warns.Addf(accounting.SeverityHard, "hpfs: hotfix sector number is zero for bad sector #%d", badSector)
			continue
		}
		if replacement >= total {
			warns.Addf(accounting.SeverityHard, "hpfs: hotfix replacement sector #%d is too big", replacement)
			continue
		}

		hotfixes = append(hotfixes, Hotfix{BadSector: badSector, ReplacementSector: replacement, OwningFNode: owningFNode})
		vector.UseUnit(int(replacement), ClassHotfix, path)
		shadow.CrossCheck(int(replacement), warns)
	}
	return hotfixes
}
