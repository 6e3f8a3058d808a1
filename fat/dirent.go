package fat

import (
	"encoding/binary"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/dargueta/fstwalk/accounting"
)

// DirentSize is the size of one raw 32-byte directory entry.
const DirentSize = 32

// Attribute flags, per §4.5 and the conventional FAT directory entry
// layout (dargueta-disko/drivers/fat/common.go names the same bits).
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLongName  = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

// DirEntFree and DirEntFreeRest mark, respectively, an individual deleted
// entry and "this entry and every following one in the directory is free".
const (
	DirEntFree     = 0xE5
	DirEntFreeRest = 0x00
)

// Dirent is a decoded short-name (8.3) directory entry.
type Dirent struct {
	ShortName    string // already dotted, trimmed of padding
	Attributes   uint8
	FirstCluster uint32
	FileSize     uint32
	Modified     time.Time
	Deleted      bool
	// EAPointer is bytes 20-21, OS/2's index into "EA DATA. SF" on a
	// FAT12/16 volume (the same bytes FAT32 repurposes as the high half of
	// FirstCluster -- the two usages never coexist, since OS/2 never
	// formatted a FAT32 volume). Zero means "no EAs".
	EAPointer uint16
	raw       [11]byte // the padded 11-byte name, for LFN checksum validation
}

func (d *Dirent) IsDirectory() bool { return d.Attributes&AttrDirectory != 0 }
func (d *Dirent) IsVolumeID() bool  { return d.Attributes&AttrVolumeID != 0 }
func (d *Dirent) IsLongNamePart() bool {
	return d.Attributes&AttrLongName == AttrLongName
}

// ParseDirent decodes one 32-byte directory entry. ok is false if the
// entry and everything after it in the directory is free (the 0x00
// sentinel), signaling the caller to stop iterating this cluster chain.
func ParseDirent(data []byte) (d Dirent, ok bool) {
	if data[0] == DirEntFreeRest {
		return Dirent{}, false
	}

	copy(d.raw[:], data[0:11])
	d.Deleted = data[0] == DirEntFree
	d.Attributes = data[11]

	name := strings.TrimRight(string(data[0:8]), " ")
	ext := strings.TrimRight(string(data[8:11]), " ")
	if d.Deleted && len(name) > 0 {
		name = "\x05" + name[1:] // byte 0 was overwritten by the deletion marker
	}
	if ext != "" {
		d.ShortName = name + "." + ext
	} else {
		d.ShortName = name
	}

	hi := binary.LittleEndian.Uint16(data[20:22])
	lo := binary.LittleEndian.Uint16(data[26:28])
	d.FirstCluster = uint32(hi)<<16 | uint32(lo)
	d.EAPointer = hi
	d.FileSize = binary.LittleEndian.Uint32(data[28:32])

	modDate := binary.LittleEndian.Uint16(data[24:26])
	modTime := binary.LittleEndian.Uint16(data[22:24])
	d.Modified = fatTimestamp(modDate, modTime)
	return d, true
}

func fatTimestamp(date, t uint16) time.Time {
	day := int(date & 0x1F)
	month := int((date >> 5) & 0x0F)
	year := 1980 + int(date>>9)
	if day == 0 || month == 0 {
		return time.Time{}
	}
	second := int((t & 0x1F) * 2)
	minute := int((t >> 5) & 0x3F)
	hour := int(t >> 11)
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
}

// shortNameChecksum computes the rotate-right-by-one-bit checksum VFAT
// long-name fragments are validated against, over the raw padded 11-byte
// short name. Grounded on _examples/soypat-fat's sum_sfn: same
// rotate-then-add recurrence, same 11-byte span.
func shortNameChecksum(raw [11]byte) byte {
	var sum byte
	for _, b := range raw {
		sum = (sum >> 1) + (sum << 7) + b
	}
	return sum
}

// lfnCharOffsets gives the byte offsets of the 13 UTF-16 code units packed
// into one VFAT long-name fragment, in logical order.
var lfnCharOffsets = [13]int{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30}

const lfnLastFragmentBit = 0x40
const lfnIndexMask = 0x3F

// lfnFragment is one decoded VFAT long-name directory entry (attribute
// 0x0F).
type lfnFragment struct {
	index    int // 1-based ordinal within the name
	isLast   bool
	checksum byte
	chars    [13]uint16
}

func parseLFNFragment(data []byte) lfnFragment {
	var f lfnFragment
	ord := data[0]
	f.isLast = ord&lfnLastFragmentBit != 0
	f.index = int(ord & lfnIndexMask)
	f.checksum = data[13]
	for i, off := range lfnCharOffsets {
		f.chars[i] = binary.LittleEndian.Uint16(data[off : off+2])
	}
	return f
}

// ReassembleLongName walks a run of raw 32-byte directory entries starting
// at the first VFAT fragment (in on-disk, descending-index order) and
// returns the reconstructed name plus the short-name dirent that
// terminates the run. It reports anomalies (non-terminated sequence,
// wrong index, checksum mismatch, orphan fragment) to warns but always
// continues, per §4.5 "Long names" and §8 scenario 4.
//
// entries must start at the first (highest-index, "last fragment")
// fragment and end with the short-name companion entry. consumed is the
// number of raw entries consumed, including the short-name entry.
func ReassembleLongName(entries [][]byte, warns *accounting.Warnings, path string) (name string, short Dirent, consumed int, ok bool) {
	var fragments []lfnFragment
	i := 0
	expectedIndex := 0

	for i < len(entries) {
		attr := entries[i][11]
		if attr != AttrLongName {
			break
		}
		frag := parseLFNFragment(entries[i])
		if len(fragments) == 0 {
			if !frag.isLast {
				warns.Addf(accounting.SeverityHard,
					"fat: %s: VFAT fragment sequence doesn't start with a last-fragment marker", path)
			}
			expectedIndex = frag.index
		} else if frag.index != expectedIndex-1 {
			warns.Addf(accounting.SeverityHard,
				"fat: %s: VFAT fragment out of order, expected index %d, got %d", path, expectedIndex-1, frag.index)
		}
		expectedIndex = frag.index
		fragments = append(fragments, frag)
		i++
	}

	if len(fragments) == 0 || i >= len(entries) {
		return "", Dirent{}, i, false
	}

	shortEntry, valid := ParseDirent(entries[i])
	if !valid {
		return "", Dirent{}, i, false
	}
	i++

	sum := shortNameChecksum(shortEntry.raw)
	for _, f := range fragments {
		if f.checksum != sum {
			warns.Addf(accounting.SeverityHard,
				"fat: %s: VFAT fragment checksum 0x%02x doesn't match short name checksum 0x%02x",
				path, f.checksum, sum)
			break
		}
	}
	if fragments[len(fragments)-1].index != 1 {
		warns.Addf(accounting.SeverityHard,
			"fat: %s: VFAT fragment sequence never reaches index 1 (orphan fragment run)", path)
	}

	var units []uint16
	for k := len(fragments) - 1; k >= 0; k-- {
		units = append(units, fragments[k].chars[:]...)
	}
	decoded := utf16.Decode(units)
	for idx, r := range decoded {
		if r == 0 {
			decoded = decoded[:idx]
			break
		}
	}
	return string(decoded), shortEntry, i, true
}
