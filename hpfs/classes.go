// Package hpfs implements the HPFS walker (§4.6): Superblock/Spareblock
// validation, the bitmap-indirect allocation bitmap, the hotfix list, the
// code-page chain, the FNODE/DIRBLK directory B-tree, the ALBLK/ALSEC
// allocation tree, and extended-attribute resolution.
//
// Grounded throughout on dargueta-disko's driver layering (one file per
// structural concern, a Walker that owns the accounting substrate) and on
// dsoprea-go-exfat/structures.go for decoding fixed on-disk records with
// go-restruct/restruct instead of hand-rolled binary.LittleEndian offsets.
package hpfs

import "github.com/dargueta/fstwalk/accounting"

// Usage classes for HPFS sectors, per §3's per-walker closed class set.
// Every structural kind the walker visits gets its own class so a usage
// conflict warning can name what collided with what.
const (
	ClassSuperblock accounting.Class = iota + 1
	ClassSpareblock
	ClassBitmapIndirect
	ClassBandBitmap
	ClassHotfix
	ClassCodePageInfo
	ClassCodePageData
	ClassFNode
	ClassDirBlock
	ClassAllocSector
	ClassExternalEA
	ClassACL
	ClassFileData
)

// ClassName renders a Class for warning messages.
func ClassName(c accounting.Class) string {
	switch c {
	case accounting.Empty:
		return "empty"
	case ClassSuperblock:
		return "superblock"
	case ClassSpareblock:
		return "spareblock"
	case ClassBitmapIndirect:
		return "bitmap-indirect"
	case ClassBandBitmap:
		return "band-bitmap"
	case ClassHotfix:
		return "hotfix"
	case ClassCodePageInfo:
		return "codepage-info"
	case ClassCodePageData:
		return "codepage-data"
	case ClassFNode:
		return "fnode"
	case ClassDirBlock:
		return "dirblock"
	case ClassAllocSector:
		return "allocsector"
	case ClassExternalEA:
		return "external-ea"
	case ClassACL:
		return "acl"
	case ClassFileData:
		return "file-data"
	default:
		return "unknown"
	}
}

// CanUpgrade implements the HPFS walker's upgrade rule: like FAT, the only
// legal transition is Empty -> anything. Every structural kind claims its
// sectors exactly once; any second claim is a structural inconsistency.
func CanUpgrade(old, candidate accounting.Class) bool {
	return old == accounting.Empty
}
