package hpfs

import (
	"encoding/binary"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
	"github.com/dargueta/fstwalk/extent"
)

// feaHeaderSize is sizeof(FEA): a one-byte flag, a one-byte name length, and
// a two-byte value length.
const feaHeaderSize = 4

// FEA storage-method codes, the low 7 bits of fEA.
const (
	feaMethodInline = 0x00
	feaMethodRun    = 0x01
	feaMethodALSec  = 0x03
)

// maxAuxInfoBufferBytes caps how large an externally-stored EA/ACL buffer
// this package will read into memory before scanning it, matching
// do_auxinfo's 1 MiB guard.
const maxAuxInfoBufferBytes = 0x100000

// ResolveAuxInfo processes one AUXINFO structure (an FNODE's EA or ACL
// storage): it is stored entirely inside the FNODE, entirely in one sector
// run, or entirely in an ALSEC-mapped set of runs, per do_auxinfo. fnodeRaw
// is the full 512-byte FNODE sector (used only when the data is internal).
// base is the byte offset within the FNODE where internal data would start.
func ResolveAuxInfo(src blockio.Source, fnodeRaw []byte, info *AuxInfo, base int, secno uint32, path *accounting.Path, class accounting.Class, eaSize uint32, checkEASize bool, eaNeed uint32, eaExtents *extent.Histogram, vector *accounting.Vector, arena *accounting.Arena, seen *accounting.SeenSet, warns *accounting.Warnings) {
	runLength := info.Storage.ByteLength
	start := info.Storage.LSN

	if runLength != 0 && info.InFNodeLength != 0 {
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: both internal and external %s", secno, classLabel(class))
	}

	var buf []byte

	switch {
	case runLength != 0:
		count := (runLength + 511) / 512
		if info.Data != 0 {
			var fileSec, diskSec uint32
			var extents int
			h := walkALSec(src, start, secno, secno, class, path, &fileSec, &diskSec, count, vector, arena, seen, warns, &extents)
			_ = h
			if fileSec*512 < runLength {
				warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: not enough sectors allocated for %s", secno, classLabel(class))
			}
			if fileSec > count {
				warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: too many sectors allocated for %s", secno, classLabel(class))
			}
			if eaExtents != nil {
				eaExtents.Observe(extents)
			}
		} else {
			for i := uint32(0); i < count; i++ {
				vector.UseUnit(int(start+i), class, path)
			}
			if eaExtents != nil {
				eaExtents.Observe(1)
			}
			if runLength <= maxAuxInfoBufferBytes {
				buf = make([]byte, count*blockio.SectorSize)
				for i := uint32(0); i < count; i++ {
					sector, err := src.ReadSector(start + i)
					if err != nil {
						warns.Addf(accounting.SeverityHard, "hpfs: could not read %s data at #%d: %s", classLabel(class), start+i, err)
						buf = nil
						break
					}
					copy(buf[i*blockio.SectorSize:], sector[:])
				}
				if buf != nil {
					buf = buf[:runLength]
				}
			} else {
				warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: %s too big for examination", secno, classLabel(class))
			}
		}
	case info.InFNodeLength != 0:
		length := int(info.InFNodeLength)
		if base < fnodeMinFreeOffset {
			warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: %s offset invalid", secno, classLabel(class))
		} else if base+length > blockio.SectorSize {
			warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: %s beyond end of FNODE", secno, classLabel(class))
		} else {
			buf = fnodeRaw[base : base+length]
		}
	}

	if buf == nil {
		return
	}
	if class == ClassExternalEA {
		resolveEAList(buf, secno, path, eaSize, checkEASize, eaNeed, warns)
	}
}

// fnodeMinFreeOffset is the byte offset of FNODE.abFree: internal EA/ACL
// data must start no earlier than this.
const fnodeMinFreeOffset = 196

func classLabel(c accounting.Class) string {
	if c == ClassACL {
		return "ACL"
	}
	return "EA"
}

// resolveEAList scans a buffer of packed FEA records (an object's extended
// attributes), cross-checking the accumulated byte size and "need" EA count
// against the values recorded in the owning FNODE, per do_auxinfo_ea.
func resolveEAList(buf []byte, secno uint32, path *accounting.Path, eaSize uint32, checkEASize bool, eaNeed uint32, warns *accounting.Warnings) {
	var pos, size, needCount uint32

	for pos < uint32(len(buf)) {
		if pos+feaHeaderSize > uint32(len(buf)) {
			warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: truncated extended attribute record", secno)
			break
		}
		flag := buf[pos]
		nameLen := uint32(buf[pos+1])
		valueLen := uint32(binary.LittleEndian.Uint16(buf[pos+2 : pos+4]))

		if pos+feaHeaderSize+nameLen+1+valueLen > uint32(len(buf)) {
			warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: truncated extended attribute record", secno)
			break
		}
		if buf[pos+feaHeaderSize+nameLen] != 0 {
			warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: extended attribute name not null-terminated", secno)
		}
		if flag&FEANeedEA != 0 {
			needCount++
		}

		switch flag & 0x7f {
		case feaMethodInline:
			size += feaHeaderSize + nameLen + 1 + valueLen
		case feaMethodRun:
			if valueLen != 8 {
				warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: incorrect size of external extended attribute record", secno)
			} else {
				sptrOff := pos + feaHeaderSize + nameLen + 1
				bytesLen := binary.LittleEndian.Uint32(buf[sptrOff : sptrOff+4])
				size += feaHeaderSize + nameLen + 1 + bytesLen
			}
		case feaMethodALSec:
			if valueLen != 8 {
				warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: incorrect size of external extended attribute record", secno)
			} else {
				sptrOff := pos + feaHeaderSize + nameLen + 1
				bytesLen := binary.LittleEndian.Uint32(buf[sptrOff : sptrOff+4])
				size += feaHeaderSize + nameLen + 1 + bytesLen
			}
		default:
			warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: invalid extended attribute storage method 0x%.2x", secno, flag)
			pos = uint32(len(buf))
			continue
		}
		pos += feaHeaderSize + nameLen + 1 + valueLen
	}

	if checkEASize && size != eaSize {
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: incorrect extended attribute size (%d vs %d)", secno, size, eaSize)
	}
	if needCount != eaNeed {
		warns.Addf(accounting.SeverityHard, "hpfs: FNODE #%d: incorrect number of \"need\" extended attributes", secno)
	}
}
