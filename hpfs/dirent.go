package hpfs

import (
	"encoding/binary"
)

// dirheaderSize is sizeof(DIRENT) up to and including the one-byte
// bName[1] placeholder, 32 bytes, matching the C struct's padding.
const dirheaderSize = 32

// Attribute bits a DIRENT's bAttr carries (the FAT-compatible attribute
// byte HPFS mirrors for FAT emulation).
const (
	AttrDir      = 0x10
	AttrReadOnly = 0x01
	AttrHidden   = 0x02
	AttrSystem   = 0x04
	AttrLabel    = 0x08
	AttrArchived = 0x20
	AttrNonFAT   = 0x40
)

// DirEnt is one decoded DIRENT record.
type DirEnt struct {
	Length       uint16
	Flags        uint8
	Attr         uint8
	FNodeSector  uint32
	ModTime      uint32
	FileSize     uint32
	AccessTime   uint32
	CreateTime   uint32
	EALength     uint32
	ACECount     uint8
	CodePageRaw  uint8
	Name         string
	DownPointer  uint32 // valid only if HasDownPointer
	HasDownPointer bool
}

// IsEnd reports whether this is the DF_END sentinel terminating a DIRBLK.
func (d *DirEnt) IsEnd() bool { return d.Flags&DFEnd != 0 }

// IsDotDot reports whether this is the DF_SPEC ".." entry.
func (d *DirEnt) IsDotDot() bool { return d.Flags&DFSpec != 0 }

// CodePageIndex is the low 7 bits of bCodePage; the top bit flags a DBCS
// name.
func (d *DirEnt) CodePageIndex() int { return int(d.CodePageRaw & 0x7f) }

// parseDirEnt decodes one DIRENT starting at byte offset pos within a
// 2048-byte DIRBLK body. ok is false if the entry doesn't fit or its
// length fields are inconsistent, mirroring check_dirent's "looks bad"
// rejection.
func parseDirEnt(body []byte, pos int) (d DirEnt, ok bool) {
	if pos+dirheaderSize > len(body) {
		return DirEnt{}, false
	}
	length := binary.LittleEndian.Uint16(body[pos : pos+2])
	if int(length) < dirheaderSize || pos+int(length) > len(body) {
		return DirEnt{}, false
	}
	if length%4 != 0 {
		return DirEnt{}, false
	}

	d.Length = length
	d.Flags = body[pos+2]
	d.Attr = body[pos+3]
	d.FNodeSector = binary.LittleEndian.Uint32(body[pos+4 : pos+8])
	d.ModTime = binary.LittleEndian.Uint32(body[pos+8 : pos+12])
	d.FileSize = binary.LittleEndian.Uint32(body[pos+12 : pos+16])
	d.AccessTime = binary.LittleEndian.Uint32(body[pos+16 : pos+20])
	d.CreateTime = binary.LittleEndian.Uint32(body[pos+20 : pos+24])
	d.EALength = binary.LittleEndian.Uint32(body[pos+24 : pos+28])
	d.ACECount = body[pos+28] & 7
	d.CodePageRaw = body[pos+29]
	cchName := int(body[pos+30])

	nameEnd := pos + 31 + cchName
	if cchName == 0 || nameEnd > pos+int(length) {
		return DirEnt{}, false
	}
	d.Name = string(body[pos+31 : nameEnd])

	if d.Flags&DFBTP != 0 {
		if int(length) < 4 {
			return DirEnt{}, false
		}
		d.DownPointer = binary.LittleEndian.Uint32(body[pos+int(length)-4 : pos+int(length)])
		d.HasDownPointer = true
	}
	return d, true
}

// caseFoldCompare compares two names the way HPFS orders a directory:
// bytewise under the given code page's case-folding table, with the
// DF_END sentinel ("\xFF") sorting greatest and ".." ("\x01\x01") sorting
// least, per §4.6's B-tree ordering invariant.
func caseFoldCompare(a, b string, caseMap *[128]byte) int {
	if a == "\xff" && b != "\xff" {
		return 1
	}
	if b == "\xff" && a != "\xff" {
		return -1
	}
	if a == "\x01\x01" && b != "\x01\x01" {
		return -1
	}
	if b == "\x01\x01" && a != "\x01\x01" {
		return 1
	}

	for i := 0; i < len(a) && i < len(b); i++ {
		ca, cb := foldByte(a[i], caseMap), foldByte(b[i], caseMap)
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func foldByte(b byte, caseMap *[128]byte) byte {
	if caseMap != nil && b < 128 {
		return caseMap[b]
	}
	return b
}
