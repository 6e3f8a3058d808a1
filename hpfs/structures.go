package hpfs

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
)

// Fixed on-disk record layouts, decoded with go-restruct/restruct the way
// dsoprea-go-exfat/structures.go decodes exFAT's boot sector: a Go struct
// whose field order and native sizes already match the wire layout, handed
// straight to restruct.Unpack instead of manually indexed byte offsets.
//
// Field names and layouts are taken directly from the OS/2 "fst" utility's
// hpfs.h, renamed to Go convention.

// SigSuperblock1/2, SigSpareblock1/2, SigCPInfo, SigCPData, SigALSec,
// SigDIRBLK, and SigFNode are the fixed magics every structural sector
// carries.
const (
	SigSuperblock1 = 0xf995e849
	SigSuperblock2 = 0xfa53e9c5
	SigSpareblock1 = 0xf9911849
	SigSpareblock2 = 0xfa5229c5
	SigALSec       = 0x37e40aae
	SigDIRBLK      = 0x77e40aae
	SigFNode       = 0xf7e40aae
	SigCPInfo      = 0x494521f7
	SigCPData      = 0x894521f7
)

// Spareblock flag bits.
const (
	SPFDirty   = 0x01
	SPFSpare   = 0x02
	SPFHFUsed  = 0x04
	SPFBadSec  = 0x08
	SPFBadBM   = 0x10
	SPFFastFmt = 0x20
	SPFVersion = 0x80
)

// FNODE flag bits.
const FNFDir = 0x01

// ALBLK flag bits.
const (
	ABFNode = 0x80
	ABFFNP  = 0x20
)

// DIRENT flag bits.
const (
	DFSpec    = 0x01
	DFACL     = 0x02
	DFBTP     = 0x04
	DFEnd     = 0x08
	DFAttr    = 0x10
	DFPerm    = 0x20
	DFXACL    = 0x40
	DFNeedEAs = 0x80
)

// FEA flag bits (the OS/2 extended-attribute record header).
const FEANeedEA = 0x80

// RunPointer is an RSP: a main/spare sector pair.
type RunPointer struct {
	Main  uint32
	Spare uint32
}

// StoragePointer is an SPTR: a byte-run length plus its starting LSN (a raw
// sector run, or the ALSEC root mapping it, depending on context).
type StoragePointer struct {
	ByteLength uint32
	LSN        uint32
}

// AuxInfo is an AUXINFO: a storage pointer for external EA/ACL data plus
// the portion (if any) stored inline in the FNODE.
type AuxInfo struct {
	Storage       StoragePointer
	InFNodeLength uint16
	Data          uint8
}

// Superblock is sector 16 of an HPFS volume (SUPERB).
type Superblock struct {
	Sig1            uint32
	Sig2            uint32
	Version         uint8
	FuncVersion     uint8
	_               uint16
	RootFNode       uint32
	TotalSectors    uint32
	BadSectorCount  uint32
	BitmapIndirect  RunPointer
	BadBlockList    RunPointer
	LastCheckdsk    uint32
	LastOptimize    uint32
	DirBandSectors  uint32
	DirBandFirst    uint32
	DirBandLast     uint32
	DirBandBitmap   uint32
	VolumeName      [32]byte
	UserIDTable     uint32
}

// UnpackSuperblock decodes a Superblock from a raw 512-byte sector.
func UnpackSuperblock(raw []byte) (*Superblock, error) {
	var s Superblock
	if err := restruct.Unpack(raw, littleEndian, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Spareblock is sector 17 (SPAREB).
type Spareblock struct {
	Sig1          uint32
	Sig2          uint32
	Flag          uint8
	Align         [3]uint8
	HotfixList    uint32
	HotfixCount   uint32
	HotfixMax     uint32
	SpareDirBlks  uint32
	SpareDirMax   uint32
	CPInfo        uint32
	CPCount       uint32
	Extra         [17]uint32
	SpareDirBlkLSNs [101]uint32
}

// UnpackSpareblock decodes a Spareblock from a raw 512-byte sector.
func UnpackSpareblock(raw []byte) (*Spareblock, error) {
	var s Spareblock
	if err := restruct.Unpack(raw, littleEndian, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CPInfoEntry is one CPINFOENTRY record embedded in a CPInfoSec.
type CPInfoEntry struct {
	CountryCode  uint16
	CodePageID   uint16
	Checksum     uint32
	CPDataSector uint32
	VolumeIndex  uint16
	DBCSRangeCnt uint16
}

// CPInfoSec is a CPINFOSEC sector: a chained list of up to 31 code-page
// descriptors pointing at CPDataSec sectors.
type CPInfoSec struct {
	Sig        uint32
	CodePages  uint32
	FirstIndex uint32
	Next       uint32
	Entries    [31]CPInfoEntry
}

// UnpackCPInfoSec decodes a CPInfoSec from a raw 512-byte sector.
func UnpackCPInfoSec(raw []byte) (*CPInfoSec, error) {
	var c CPInfoSec
	if err := restruct.Unpack(raw, littleEndian, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// CPDataSecHeader is the fixed header of a CPDATASEC sector; the
// CPDATAENTRY records it indexes via offCPData follow at variable offsets
// and are decoded separately.
type CPDataSecHeader struct {
	Sig         uint32
	CodePages   uint16
	FirstIndex  uint16
	Checksums   [3]uint32
	DataOffsets [3]uint16
}

// UnpackCPDataSecHeader decodes just the fixed header of a CPDATASEC
// sector.
func UnpackCPDataSecHeader(raw []byte) (*CPDataSecHeader, error) {
	var h CPDataSecHeader
	if err := restruct.Unpack(raw[:26], littleEndian, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ALLeaf is an ALLEAF: a contiguous extent of the mapped object.
type ALLeaf struct {
	LogicalSector  uint32
	SectorCount    uint32
	PhysicalSector uint32
}

// ALNode is an ALNODE: an internal allocation-tree pointer.
type ALNode struct {
	LogicalSector  uint32
	PhysicalSector uint32
}

// ALBlkHeader is the fixed 8-byte ALBLK header preceding either an ALLEAF
// array or an ALNODE array.
type ALBlkHeader struct {
	Flag  uint8
	_     [3]uint8
	Free  uint8
	Used  uint8
	FreeOffset uint16
}

// littleEndian is passed to every restruct.Unpack call in this package;
// every HPFS on-disk structure is little-endian, matching the x86 OS/2
// host the original driver ran on.
var littleEndian = binary.LittleEndian
