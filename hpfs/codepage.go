package hpfs

import (
	"unicode"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
	"golang.org/x/text/encoding/charmap"
)

// CodePage is one decoded HPFS code-page entry: its CPINFOENTRY plus a
// 128-byte case-folding table. CaseMap holds the ASCII a-z to A-Z fold; the
// table stored in the CPDATASEC is not read into it.
type CodePage struct {
	CountryCode uint16
	CodePageID  uint16
	Checksum    uint32
	CaseMap     [128]byte
}

// knownDOSCodePages maps the DOS code-page IDs this package can
// cross-validate against golang.org/x/text/encoding/charmap. IDs outside
// this set fall back to the "tolerate missing host data" path in §4.6.
var knownDOSCodePages = map[uint16]*charmap.Charmap{
	437: charmap.CodePage437,
	850: charmap.CodePage850,
	852: charmap.CodePage852,
	860: charmap.CodePage860,
	863: charmap.CodePage863,
	865: charmap.CodePage865,
	866: charmap.CodePage866,
}

// LoadCodePageChain walks the CPINFOSEC linked list starting at secno,
// resolving each entry's CPDATASEC and decoding its case-folding table. It
// stops on a broken chain link (matching do_one_cpinfosec's "next == 0")
// or a revisited sector (cycle guard via seen).
func LoadCodePageChain(src blockio.Source, secno uint32, expectedCount uint32, vector *accounting.Vector, arena *accounting.Arena, seen *accounting.SeenSet, warns *accounting.Warnings) []CodePage {
	var pages []CodePage
	path := arena.Root("codepage-info")
	visitedData := make(map[uint32]bool)

	for secno != 0 {
		if seen.HaveSeen(int(secno), 1, accounting.SeenTag(seenTagCPInfo)) {
			warns.Addf(accounting.SeverityHard, "hpfs: CPINFOSEC chain revisits sector #%d", secno)
			break
		}
		sector, err := src.ReadSector(secno)
		if err != nil {
			warns.Addf(accounting.SeverityHard, "hpfs: could not read CPINFOSEC at #%d: %s", secno, err)
			break
		}
		vector.UseUnit(int(secno), ClassCodePageInfo, path)

		info, err := UnpackCPInfoSec(sector[:])
		if err != nil || info.Sig != SigCPInfo {
			warns.Addf(accounting.SeverityHard, "hpfs: CPINFOSEC #%d: bad signature", secno)
			break
		}
		if info.FirstIndex != uint32(len(pages)) {
			warns.Addf(accounting.SeverityHard, "hpfs: CPINFOSEC #%d: wrong code page index", secno)
		}

		n := info.CodePages
		if n > 31 {
			warns.Addf(accounting.SeverityHard, "hpfs: CPINFOSEC #%d: too many code pages", secno)
			n = 31
		}
		for i := uint32(0); i < n; i++ {
			entry := info.Entries[i]
			if uint32(entry.VolumeIndex) != uint32(len(pages)) {
				warns.Addf(accounting.SeverityHard, "hpfs: CPINFOSEC #%d: incorrect index for code page entry %d", secno, i)
			}
			cp := CodePage{CountryCode: entry.CountryCode, CodePageID: entry.CodePageID, Checksum: entry.Checksum}
			loadCPData(src, entry.CPDataSector, uint32(len(pages)), &cp, vector, arena, visitedData, warns)
			pages = append(pages, cp)
		}

		secno = info.Next
	}

	if uint32(len(pages)) != expectedCount {
		warns.Addf(accounting.SeverityHard,
			"hpfs: wrong number of code pages in code page information sectors: got %d, expected %d",
			len(pages), expectedCount)
	}
	return pages
}

// loadCPData sets cp.CaseMap to the ASCII fold, reads the CPDataSec sector
// for one code page index, and cross-checks its stored checksum against the
// CPINFOENTRY's. A sector referenced by more than one index is decoded
// only once, per do_cpdatasec's cpdata_visited dedup.
func loadCPData(src blockio.Source, secno uint32, index uint32, cp *CodePage, vector *accounting.Vector, arena *accounting.Arena, visited map[uint32]bool, warns *accounting.Warnings) {
	for c := 0; c < 128; c++ {
		cp.CaseMap[c] = byte(c)
	}
	for c := byte('a'); c <= 'z'; c++ {
		cp.CaseMap[c] = byte(unicode.ToUpper(rune(c)))
	}

	if visited[secno] {
		return
	}
	visited[secno] = true

	sector, err := src.ReadSector(secno)
	if err != nil {
		warns.Addf(accounting.SeverityHard, "hpfs: could not read CPDATASEC at #%d: %s", secno, err)
		return
	}
	vector.UseUnit(int(secno), ClassCodePageData, arena.Root("codepage-data"))

	header, err := UnpackCPDataSecHeader(sector[:])
	if err != nil || header.Sig != SigCPData {
		warns.Addf(accounting.SeverityHard, "hpfs: CPDATASEC #%d: bad signature", secno)
		return
	}
	if slot := int(index) - int(header.FirstIndex); slot >= 0 && slot < len(header.Checksums) && header.Checksums[slot] != cp.Checksum {
		warns.Addf(accounting.SeverityHard, "hpfs: CPDATASEC #%d: checksum of code page %d does not match CPINFOSEC", secno, index)
	}

	ref, ok := knownDOSCodePages[cp.CodePageID]
	if !ok {
		warns.Addf(accounting.SeverityHard, "hpfs: CPDATASEC #%d: no reference case-folding table for code page %d, skipping cross-validation", secno, cp.CodePageID)
		return
	}

	diffs := 0
	for c := 0; c < 128; c++ {
		want := ref.DecodeByte(byte(c))
		got := ref.DecodeByte(cp.CaseMap[c])
		if unicode.ToUpper(want) != got && want != got {
			diffs++
		}
	}
	if diffs > 2 {
		warns.Addf(accounting.SeverityHard,
			"hpfs: CPDATASEC #%d: case-folding table disagrees with code page %d in %d places", secno, cp.CodePageID, diffs)
	}
}

// seenTagCPInfo identifies the CPINFOSEC chain's cycle-detection space in
// the shared SeenSet, per §3's per-structural-kind tagging scheme.
const seenTagCPInfo = 1
