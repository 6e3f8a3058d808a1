package fat

import (
	"encoding/binary"
	"fmt"

	diskoerrors "github.com/dargueta/fstwalk/errors"
)

// eaDataSFBaseEntries is the fixed size of the first table in
// "EA DATA. SF", per §4.5.
const eaDataSFBaseEntries = 240

// EADataSF is the two-table index OS/2 FAT volumes use to resolve a file's
// EA pointer to the relative cluster holding its extended attributes.
type EADataSF struct {
	table1 [eaDataSFBaseEntries]uint16
	table2 []uint16
}

// ParseEADataSF decodes the first cluster of EA DATA. SF: 240 fixed base
// values followed by a variable-length table of per-slot additions sized
// to fill the rest of the cluster.
func ParseEADataSF(firstClusterData []byte) (*EADataSF, error) {
	if len(firstClusterData) < eaDataSFBaseEntries*2 {
		return nil, diskoerrors.ErrFileSystemCorrupted.WithMessage(
			"fat: EA DATA. SF first cluster too small for the base table")
	}

	e := &EADataSF{}
	for i := 0; i < eaDataSFBaseEntries; i++ {
		e.table1[i] = binary.LittleEndian.Uint16(firstClusterData[i*2 : i*2+2])
	}

	rest := firstClusterData[eaDataSFBaseEntries*2:]
	e.table2 = make([]uint16, len(rest)/2)
	for i := range e.table2 {
		e.table2[i] = binary.LittleEndian.Uint16(rest[i*2 : i*2+2])
	}
	return e, nil
}

// ResolveCluster resolves EA pointer k to the relative cluster number
// holding that file's extended attributes, per §4.5: table1[k>>7] +
// table2[k].
func (e *EADataSF) ResolveCluster(k int) (uint32, error) {
	base := int(k >> 7)
	if base >= len(e.table1) {
		return 0, diskoerrors.ErrResultOutOfRange.WithMessage(
			fmt.Sprintf("fat: EA pointer %d: base index %d out of range", k, base))
	}
	if k >= len(e.table2) {
		return 0, diskoerrors.ErrResultOutOfRange.WithMessage(
			fmt.Sprintf("fat: EA pointer %d: addition table has only %d entries", k, len(e.table2)))
	}
	return uint32(e.table1[base]) + uint32(e.table2[k]), nil
}

// eaBlockMagic is the 2-byte signature an EA block's header carries.
const eaBlockMagic = "EA"

// eaBlockHeaderSize is the byte offset of the FEA list's cbList field:
// magic(2) + rel_cluster(2) + need_eas(4) + name(14) + unknown(4).
const eaBlockHeaderSize = 26

// eaBlockNameSize is the fixed size of the owning file's short name, as
// last recorded when the EA block was written.
const eaBlockNameSize = 14

// EABlockHeader is the header every "EA DATA. SF" EA block carries: a
// back-reference to the EA pointer that should resolve to it, the file
// name OS/2 recorded at write time, and the declared FEA list size.
type EABlockHeader struct {
	RelCluster uint32
	NeedEAs    uint32
	Name       string
	ListSize   uint32
}

// ParseEABlockHeader validates the magic and decodes the header fields at
// the start of an EA block. The caller is responsible for cross-checking
// RelCluster against the EA pointer k that resolved to this block and
// emitting a warning on mismatch.
func ParseEABlockHeader(data []byte) (EABlockHeader, error) {
	if len(data) < eaBlockHeaderSize+4 || string(data[0:2]) != eaBlockMagic {
		return EABlockHeader{}, diskoerrors.ErrBadMagic.WithMessage(
			"fat: EA block missing \"EA\" signature")
	}
	nameField := data[8 : 8+eaBlockNameSize]
	name := nameField
	if i := indexByte(nameField, 0); i >= 0 {
		name = nameField[:i]
	}
	return EABlockHeader{
		RelCluster: uint32(binary.LittleEndian.Uint16(data[2:4])),
		NeedEAs:    binary.LittleEndian.Uint32(data[4:8]),
		Name:       string(name),
		ListSize:   binary.LittleEndian.Uint32(data[eaBlockHeaderSize : eaBlockHeaderSize+4]),
	}, nil
}

// NameTerminated reports whether the recorded name field contained a null
// terminator within its fixed size, per do_ea's "not null-terminated"
// check.
func (h EABlockHeader) NameTerminated(data []byte) bool {
	return indexByte(data[8:8+eaBlockNameSize], 0) >= 0
}

func indexByte(b []byte, v byte) int {
	for i, c := range b {
		if c == v {
			return i
		}
	}
	return -1
}

// ScanFEAList walks the packed FEA records starting at offset
// eaBlockHeaderSize+4 within a raw EA block, counting "need" EAs and
// validating each record's bounds and name termination, per do_ea's
// FEALIST scan. listSize is the declared byte size of the list
// (EABlockHeader.ListSize).
func ScanFEAList(data []byte, listSize uint32) (needCount uint32, ok bool) {
	pos := uint32(eaBlockHeaderSize + 4)
	end := pos + listSize
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	for pos < end {
		if pos+feaRecordHeaderSize > end {
			return needCount, false
		}
		flag := data[pos]
		nameLen := uint32(data[pos+1])
		valueLen := uint32(binary.LittleEndian.Uint16(data[pos+2 : pos+4]))
		if flag&feaNeedEA != 0 {
			needCount++
		}
		if pos+feaRecordHeaderSize+nameLen+1+valueLen > end {
			return needCount, false
		}
		pos += feaRecordHeaderSize + nameLen + 1 + valueLen
	}
	return needCount, true
}

const feaRecordHeaderSize = 4
const feaNeedEA = 0x80
