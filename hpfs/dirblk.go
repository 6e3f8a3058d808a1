package hpfs

import (
	"encoding/binary"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
)

// dirblkSectors is the fixed 4-sector (2048-byte) size of one DIRBLK.
const dirblkSectors = 4
const dirblkHeaderSize = 20 // sig, offulFirstFree, culChange, lsnParent, lsnThisDir

// dirTreeState threads the invariants that must hold across an entire
// directory's B-tree walk: per-level down-pointer consistency, the
// case-folded ordering watermark, and whether the ".." entry has been
// seen yet.
type dirTreeState struct {
	downPtr    [32]int // -1 unset, 0 leaf-only, 1 node-only
	lastName   string
	lastCP     int
	dotdotSeen bool
	entryIndex int
}

func newDirTreeState() *dirTreeState {
	s := &dirTreeState{}
	for i := range s.downPtr {
		s.downPtr[i] = -1
	}
	return s
}

// WalkDirectoryTree reads the DIRBLK rooted at secno and recurses through
// its B-tree, invoking visit for every non-special, non-end DIRENT and
// validating the invariants named in §4.6. parentSector identifies the
// FNODE (for a top-level DIRBLK) or parent DIRBLK this block should
// self-report as its parent.
func WalkDirectoryTree(src blockio.Source, secno uint32, fnodeSector uint32, parentSector uint32, path *accounting.Path, vector *accounting.Vector, arena *accounting.Arena, seen *accounting.SeenSet, codePages []CodePage, warns *accounting.Warnings, visit func(d DirEnt, childPath *accounting.Path)) {
	state := newDirTreeState()
	walkDirblkLevel(src, secno, fnodeSector, parentSector, 0, path, vector, arena, seen, codePages, warns, state, visit)
}

func walkDirblkLevel(src blockio.Source, secno uint32, fnodeSector uint32, parentSector uint32, level int, path *accounting.Path, vector *accounting.Vector, arena *accounting.Arena, seen *accounting.SeenSet, codePages []CodePage, warns *accounting.Warnings, state *dirTreeState, visit func(d DirEnt, childPath *accounting.Path)) {
	if secno%dirblkSectors != 0 {
		warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK #%d: sector number not a multiple of 4", secno)
	}
	if seen.HaveSeen(int(secno), dirblkSectors, accounting.SeenTag(seenTagDirblk)) {
		warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK #%d: revisited (cycle)", secno)
		return
	}

	var raw []byte
	for i := uint32(0); i < dirblkSectors; i++ {
		sector, err := src.ReadSector(secno + i)
		if err != nil {
			warns.Addf(accounting.SeverityHard, "hpfs: could not read DIRBLK at #%d: %s", secno+i, err)
			return
		}
		raw = append(raw, sector[:]...)
	}
	vector.UseUnit(int(secno), ClassDirBlock, path)
	for i := uint32(1); i < dirblkSectors; i++ {
		vector.UseUnit(int(secno+i), ClassDirBlock, path)
	}

	sig := binary.LittleEndian.Uint32(raw[0:4])
	if sig != SigDIRBLK {
		warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK #%d: bad signature", secno)
		return
	}
	firstFree := binary.LittleEndian.Uint32(raw[4:8])
	change := binary.LittleEndian.Uint32(raw[8:12])
	lsnParent := binary.LittleEndian.Uint32(raw[12:16])
	lsnSelf := binary.LittleEndian.Uint32(raw[16:20])

	if lsnSelf != secno {
		warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK #%d: wrong self pointer (%d)", secno, lsnSelf)
	}
	if lsnParent != parentSector {
		warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK #%d: wrong parent pointer (got %d, want %d)", secno, lsnParent, parentSector)
	}
	if (change&1 != 0) != (level == 0) {
		warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK #%d: top-most bit is incorrect for level %d", secno, level)
	}

	var caseMap *[128]byte
	pos := dirblkHeaderSize
	for {
		d, ok := parseDirEnt(raw, pos)
		if !ok {
			warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK #%d: entry at offset %d is malformed", secno, pos)
			break
		}

		if idx := d.CodePageIndex(); idx < len(codePages) {
			caseMap = &codePages[idx].CaseMap
		} else {
			caseMap = nil
		}

		if d.HasDownPointer {
			walkDirblkLevel(src, d.DownPointer, fnodeSector, secno, level+1, path, vector, arena, seen, codePages, warns, state, visit)
			checkDownPointer(state, level, secno, warns, true)
		} else {
			checkDownPointer(state, level, secno, warns, false)
		}

		if !d.IsEnd() {
			if d.IsDotDot() {
				if state.dotdotSeen {
					warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK #%d: more than one \"..\" entry", secno)
				} else if state.entryIndex != 0 {
					warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK #%d: \"..\" entry is not the first entry", secno)
				}
				state.dotdotSeen = true
			} else {
				if caseFoldCompare(state.lastName, d.Name, caseMap) > 0 {
					warns.Addf(accounting.SeverityHard,
						"hpfs: DIRBLK #%d: file names not in ascending order (%q vs %q)", secno, state.lastName, d.Name)
				}
				state.lastName = d.Name
				state.lastCP = d.CodePageIndex()
				childPath := arena.Child(path, d.Name)
				visit(d, childPath)
			}
		} else {
			if d.Name != "\xff" {
				warns.Addf(accounting.SeveritySoft, "hpfs: DIRBLK #%d: wrong name for end entry", secno)
			}
		}

		pos += int(d.Length)
		if d.IsEnd() {
			break
		}
		state.entryIndex++
	}

	if uint32(pos) != firstFree {
		warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK #%d: wrong offset to first free byte", secno)
	}
	_ = state.lastCP
}

func checkDownPointer(state *dirTreeState, level int, secno uint32, warns *accounting.Warnings, present bool) {
	if level >= len(state.downPtr) {
		return
	}
	flag := 0
	if present {
		flag = 1
	}
	if state.downPtr[level] == -1 {
		state.downPtr[level] = flag
	} else if state.downPtr[level] != flag {
		if flag == 0 {
			warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK #%d: missing down pointer at level %d", secno, level)
		} else {
			warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK #%d: undesired down pointer at level %d", secno, level)
		}
	}
}

// seenTagDirblk identifies the DIRBLK cycle-detection space.
const seenTagDirblk = 2
