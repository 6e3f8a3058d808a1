package hpfs

import (
	"encoding/binary"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
	"github.com/dargueta/fstwalk/extent"
)

// Byte offsets of an FNODE's fields within its 512-byte sector. FNODE packs
// its fields with no implicit alignment padding, matching hpfs.h's FNODE
// struct read straight off an OS/2 volume.
const (
	fnodeOffName          = 12
	fnodeOffContainingDir = 28
	fnodeOffACLInfo        = 32
	fnodeOffEAInfo         = 44
	fnodeOffFlag           = 55
	fnodeOffStorage        = 56 // ALBLK header + 96-byte leaf/node union
	fnodeStorageHeaderLen  = 104
	fnodeOffVLen           = 160
	fnodeOffRefCount       = 164
	fnodeOffACLBase        = 184
)

// auxInfoAt decodes an AUXINFO (11 bytes: SPTR + usFNL + bDat) at a byte
// offset within a raw FNODE sector.
func auxInfoAt(raw []byte, off int) AuxInfo {
	return AuxInfo{
		Storage: StoragePointer{
			ByteLength: binary.LittleEndian.Uint32(raw[off : off+4]),
			LSN:        binary.LittleEndian.Uint32(raw[off+4 : off+8]),
		},
		InFNodeLength: binary.LittleEndian.Uint16(raw[off+8 : off+10]),
		Data:          raw[off+10],
	}
}

// FNodeReport summarizes one FNODE's validated extents, for the caller's
// per-object size/extent accounting.
type FNodeReport struct {
	IsDirectory   bool
	FileSize      uint32
	RootDirBlock  uint32
	Extents       int
	TreeHeight    int
	NeedEACount   uint32
}

// WalkFNode reads and validates the FNODE at secno, checking it against the
// directory entry that named it (dirFlag, parentFNode, fileSize, name,
// needEAs per §4.6's FNODE cross-checks), then walks its allocation tree
// (for files) or returns its root DIRBLK pointer (for directories) and its
// EA/ACL storage, per do_fnode.
func WalkFNode(src blockio.Source, secno uint32, path *accounting.Path, dirFlag bool, parentFNode uint32, name string, fileSize uint32, checkFileSize bool, needEAs bool, eaSize uint32, checkEASize bool, vector *accounting.Vector, arena *accounting.Arena, seen *accounting.SeenSet, fileExtents *extent.Histogram, eaExtents *extent.Histogram, warns *accounting.Warnings) (FNodeReport, bool) {
	var rep FNodeReport

	if seen.HaveSeen(int(secno), 1, accounting.SeenTag(seenTagFNode)) {
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: revisited (cycle)", secno)
		return rep, false
	}
	sector, err := src.ReadSector(secno)
	if err != nil {
		warns.Addf(accounting.SeverityHard, "hpfs: could not read FNODE at #%d: %s", secno, err)
		return rep, false
	}
	vector.UseUnit(int(secno), ClassFNode, path)

	raw := sector[:]
	if binary.LittleEndian.Uint32(raw[0:4]) != SigFNode {
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: bad signature", secno)
		return rep, false
	}

	flag := raw[fnodeOffFlag]
	rep.IsDirectory = flag&FNFDir != 0
	if rep.IsDirectory != dirFlag {
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: incorrect directory bit", secno)
	}
	containingDir := binary.LittleEndian.Uint32(raw[fnodeOffContainingDir : fnodeOffContainingDir+4])
	if containingDir != parentFNode {
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: wrong pointer to containing directory", secno)
	}

	refCount := binary.LittleEndian.Uint32(raw[fnodeOffRefCount : fnodeOffRefCount+4])
	rep.NeedEACount = refCount
	if (refCount == 0) == needEAs {
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: need-EA bit of directory entry is wrong", secno)
	}

	nameLen := int(raw[fnodeOffName])
	stored := raw[fnodeOffName+1 : fnodeOffName+16]
	want := []byte(name)
	truncated := len(want)
	if truncated > 15 {
		truncated = 15
	}
	switch {
	case nameLen != len(name) && bytesEqual(stored[:truncated], want[:truncated]):
		warns.Addf(accounting.SeveritySoft, "hpfs: FNODE #%d: truncated name mangled by legacy name-length bug", secno)
	case nameLen != len(name):
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: wrong full name length (%d vs %d)", secno, nameLen, len(name))
	case !bytesEqual(stored[:truncated], want[:truncated]):
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: wrong truncated name", secno)
	}

	fnSize := binary.LittleEndian.Uint32(raw[fnodeOffVLen : fnodeOffVLen+4])
	rep.FileSize = fnSize
	if !dirFlag && checkFileSize && fileSize != fnSize {
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: file size does not match directory entry", secno)
	}

	aclBase := binary.LittleEndian.Uint16(raw[fnodeOffACLBase : fnodeOffACLBase+2])
	aclInfo := auxInfoAt(raw, fnodeOffACLInfo)
	eaInfo := auxInfoAt(raw, fnodeOffEAInfo)

	if dirFlag {
		storage := raw[fnodeOffStorage : fnodeOffStorage+fnodeStorageHeaderLen]
		rep.RootDirBlock = binary.LittleEndian.Uint32(storage[albHeaderSize : albHeaderSize+4])
	} else {
		storage := raw[fnodeOffStorage : fnodeOffStorage+fnodeStorageHeaderLen]
		extents, height := WalkAllocationTree(src, storage, secno, ClassFileData, path, (fnSize+511)/512, vector, arena, seen, warns)
		rep.Extents = extents
		rep.TreeHeight = height
		if fileExtents != nil {
			fileExtents.Observe(extents)
		}
	}

	eaOffset := int(aclBase) + int(aclInfo.InFNodeLength)
	ResolveAuxInfo(src, raw, &eaInfo, eaOffset, secno, path, ClassExternalEA, eaSize, checkEASize, refCount, eaExtents, vector, arena, seen, warns)
	ResolveAuxInfo(src, raw, &aclInfo, int(aclBase), secno, path, ClassACL, 0, false, 0, nil, vector, arena, seen, warns)

	return rep, true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// seenTagFNode identifies the FNODE cycle-detection space.
const seenTagFNode = 4
