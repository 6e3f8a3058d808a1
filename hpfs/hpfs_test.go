package hpfs

import (
	"encoding/binary"
	"testing"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
	"github.com/stretchr/testify/require"
)

type memSource struct {
	sectors map[uint32]blockio.Sector
	total   uint32
}

func newMemSource(total uint32) *memSource {
	return &memSource{sectors: make(map[uint32]blockio.Sector), total: total}
}

func (m *memSource) Kind() blockio.Kind { return blockio.KindDevice }
func (m *memSource) TotalSectors() uint32 { return m.total }
func (m *memSource) Close() error         { return nil }
func (m *memSource) Checksum(uint32) (uint32, error) {
	return 0, nil
}

func (m *memSource) ReadSector(n uint32) (blockio.Sector, error) {
	return m.sectors[n], nil
}

func (m *memSource) WriteSector(n uint32, data blockio.Sector) error {
	m.sectors[n] = data
	return nil
}

func (m *memSource) put(n uint32, data []byte) {
	var s blockio.Sector
	copy(s[:], data)
	m.sectors[n] = s
}

func TestRollingChecksum_OrderSensitive(t *testing.T) {
	a := rollingChecksum([]byte{1, 2, 3})
	b := rollingChecksum([]byte{3, 2, 1})
	require.NotEqual(t, a, b)
	require.Equal(t, a, rollingChecksum([]byte{1, 2, 3}))
}

func TestRollingChecksum_PinnedReferenceValue(t *testing.T) {
	// §8 scenario 5: rotating-left-by-7 accumulator over 00 01 .. 0f
	// starting at 0, pinned on first implementation.
	data := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}
	require.EqualValues(t, 0x61f65364, rollingChecksum(data))
}

func TestSpareblockChecksumInput_MasksFlagAndZeroesExtra1(t *testing.T) {
	raw := make([]byte, 52)
	raw[8] = 0xFF // flag byte: only SPFVersion|SPFFastFmt survive
	binary.LittleEndian.PutUint32(raw[44:48], 0xdeadbeef)

	out := spareblockChecksumInput(raw)
	require.EqualValues(t, SPFVersion|SPFFastFmt, out[8])
	require.EqualValues(t, 0, binary.LittleEndian.Uint32(out[44:48]))
	require.EqualValues(t, 0xFF, raw[8], "input must not be mutated")
}

func TestParseDirEnt_DecodesNameAndLength(t *testing.T) {
	body := make([]byte, 64)
	binary.LittleEndian.PutUint16(body[0:2], 36) // length: 32 header + 4-byte name, round to 4
	body[2] = 0
	body[30] = 4 // cchName
	copy(body[31:35], "test")

	d, ok := parseDirEnt(body, 0)
	require.True(t, ok)
	require.Equal(t, "test", d.Name)
	require.False(t, d.IsEnd())
	require.False(t, d.IsDotDot())
}

func TestParseDirEnt_RejectsTruncated(t *testing.T) {
	body := make([]byte, 10)
	_, ok := parseDirEnt(body, 0)
	require.False(t, ok)
}

func TestCaseFoldCompare_DotDotFirstEndLast(t *testing.T) {
	require.Equal(t, -1, caseFoldCompare("\x01\x01", "anything", nil))
	require.Equal(t, 1, caseFoldCompare("\xff", "anything", nil))
	require.Equal(t, -1, caseFoldCompare("abc", "abd", nil))
}

func TestCaseFoldCompare_UsesCaseMap(t *testing.T) {
	var caseMap [128]byte
	for i := range caseMap {
		caseMap[i] = byte(i)
	}
	caseMap['a'] = 'A'
	require.Equal(t, 0, caseFoldCompare("a", "A", &caseMap))
}

func TestLoadBitmapIndirect_InvertsFreeBitConvention(t *testing.T) {
	src := newMemSource(200)

	// Bitmap-indirect block: one band head at sector 10.
	indirect := make([]byte, blockio.SectorSize)
	binary.LittleEndian.PutUint32(indirect[0:4], 10)
	src.put(1, indirect)
	for i := uint32(2); i < 1+bandBitmapSectors; i++ {
		src.put(i, make([]byte, blockio.SectorSize))
	}

	// Band bitmap: every bit set (free) except bit 5, which is allocated.
	band := make([]byte, bandBitmapSectors*blockio.SectorSize)
	for i := range band {
		band[i] = 0xFF
	}
	band[0] &^= 1 << 5
	for i := uint32(0); i < bandBitmapSectors; i++ {
		src.put(10+i, band[i*blockio.SectorSize:(i+1)*blockio.SectorSize])
	}

	vector := accounting.NewVector(200, CanUpgrade, ClassName, accounting.NewWarnings())
	arena := accounting.NewArena(8)
	shadow := accounting.NewShadowBitmap(200)
	warns := accounting.NewWarnings()

	LoadBitmapIndirect(src, 200, 1, vector, arena, shadow, warns)

	require.True(t, shadow.Ready())
	require.True(t, shadow.IsAllocated(5))
	require.False(t, shadow.IsAllocated(6))
}

func TestLoadHotfixList_RejectsOutOfRangeReplacement(t *testing.T) {
	src := newMemSource(50)
	raw := make([]byte, hotfixListSectors*blockio.SectorSize)
	binary.LittleEndian.PutUint32(raw[0:4], 7)   // entries[0]: bad sector for i=0
	binary.LittleEndian.PutUint32(raw[8:12], 999) // entries[2]: replacement for i=0 (count=2, out of range)
	for i := uint32(0); i < hotfixListSectors; i++ {
		src.put(i, raw[i*blockio.SectorSize:(i+1)*blockio.SectorSize])
	}

	vector := accounting.NewVector(50, CanUpgrade, ClassName, accounting.NewWarnings())
	arena := accounting.NewArena(4)
	shadow := accounting.NewShadowBitmap(50)
	warns := accounting.NewWarnings()

	hotfixes := LoadHotfixList(src, 0, 2, 50, vector, arena, shadow, warns)
	require.Empty(t, hotfixes)
	require.Greater(t, warns.HardCount(), 0)
}

func TestCanUpgrade_OnlyFromEmpty(t *testing.T) {
	require.True(t, CanUpgrade(accounting.Empty, ClassFNode))
	require.False(t, CanUpgrade(ClassFNode, ClassDirBlock))
}

// buildDirEnt encodes one DIRENT record (flags/attr zero unless set by the
// caller) at the given on-disk length, matching parseDirEnt's layout.
func buildDirEnt(flags byte, name string, length int) []byte {
	raw := make([]byte, length)
	binary.LittleEndian.PutUint16(raw[0:2], uint16(length))
	raw[2] = flags
	raw[30] = byte(len(name))
	copy(raw[31:31+len(name)], name)
	return raw
}

func TestWalkDirectoryTree_RejectsNamesOutOfOrder(t *testing.T) {
	// §8 scenario 6: a synthetic DIRBLK whose DIRENT list is
	// ["ABC", "ABD", "ABB", END] must produce exactly one severity-1
	// "names not in ascending order" warning and must not abort the walk.
	const secno = uint32(4)
	const fnodeSector = uint32(100)

	body := make([]byte, dirblkHeaderSize)
	binary.LittleEndian.PutUint32(body[8:12], 1)           // culChange: top bit set, this is the root
	binary.LittleEndian.PutUint32(body[12:16], fnodeSector) // lsnParent
	binary.LittleEndian.PutUint32(body[16:20], secno)       // lsnThisDir

	body = append(body, buildDirEnt(0, "ABC", 36)...)
	body = append(body, buildDirEnt(0, "ABD", 36)...)
	body = append(body, buildDirEnt(0, "ABB", 36)...)
	body = append(body, buildDirEnt(DFEnd, "\xff", 32)...)

	binary.LittleEndian.PutUint32(body[4:8], uint32(len(body))) // offulFirstFree

	raw := make([]byte, 2048)
	copy(raw, body)
	binary.LittleEndian.PutUint32(raw[0:4], SigDIRBLK)

	src := newMemSource(16)
	for i := uint32(0); i < dirblkSectors; i++ {
		src.put(secno+i, raw[i*blockio.SectorSize:(i+1)*blockio.SectorSize])
	}

	vector := accounting.NewVector(16, CanUpgrade, ClassName, accounting.NewWarnings())
	arena := accounting.NewArena(8)
	seen := accounting.NewSeenSet(16)
	warns := accounting.NewWarnings()
	root := arena.Root("/")

	var visited []string
	WalkDirectoryTree(src, secno, fnodeSector, fnodeSector, root, vector, arena, seen, nil, warns,
		func(d DirEnt, childPath *accounting.Path) {
			visited = append(visited, d.Name)
		})

	require.Equal(t, []string{"ABC", "ABD", "ABB"}, visited)
	require.Equal(t, 1, warns.HardCount())
}
