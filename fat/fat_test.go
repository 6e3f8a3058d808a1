package fat

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
	"github.com/stretchr/testify/require"
)

// buildBootSector writes a minimal FAT12 BPB into a 512-byte sector.
func buildBootSector(t *testing.T, numFATs uint8, sectorsPerFAT uint16, rootEntries uint16, totalSectors uint16, sectorsPerCluster uint8) blockio.Sector {
	t.Helper()
	var s blockio.Sector
	binary.LittleEndian.PutUint16(s[11:13], blockio.SectorSize)
	s[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(s[14:16], 1) // reserved sectors
	s[16] = numFATs
	binary.LittleEndian.PutUint16(s[17:19], rootEntries)
	binary.LittleEndian.PutUint16(s[19:21], totalSectors)
	s[21] = 0xF8
	binary.LittleEndian.PutUint16(s[22:24], sectorsPerFAT)
	return s
}

func TestParseBootSector_FAT12Threshold(t *testing.T) {
	// §8 scenario 3: a tiny volume whose cluster count sits below the
	// FAT12/FAT16 threshold (4085) must decode as 12-bit.
	sector := buildBootSector(t, 2, 1, 224, 400, 1)
	bs, err := ParseBootSector(sector)
	require.NoError(t, err)
	require.Equal(t, 12, bs.Bits)
}

func TestParseBootSector_RejectsWrongSectorSize(t *testing.T) {
	var s blockio.Sector
	binary.LittleEndian.PutUint16(s[11:13], 1024)
	_, err := ParseBootSector(s)
	require.Error(t, err)
}

type memSource struct {
	sectors map[uint32]blockio.Sector
	total   uint32
}

func newMemSource(total uint32) *memSource {
	return &memSource{sectors: make(map[uint32]blockio.Sector), total: total}
}

func (m *memSource) Kind() blockio.Kind          { return blockio.KindDevice }
func (m *memSource) TotalSectors() uint32        { return m.total }
func (m *memSource) Close() error                { return nil }
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

func TestReadTable_FAT12PackedEntries(t *testing.T) {
	src := newMemSource(4)
	// Two packed 12-bit entries per 3 bytes: cluster 2 = 0x345, cluster 3 = 0xF8F.
	raw := make([]byte, blockio.SectorSize)
	raw[3] = 0x45
	raw[4] = 0xF3 // low nibble of byte 4 is high nibble of cluster2=0x345; byte4 hi nibble is low nibble of cluster3
	raw[5] = 0xF8
	// cluster2 bytes at offset off=2+2/2=3: raw[3],raw[4] packed & 0xFFF = 0x345
	// cluster3 bytes at offset off=3+3/2=4: raw[4],raw[5] packed >>4 = 0xF8F3 >> 4 = 0xF8F
	src.put(0, raw)

	table, err := ReadTable(src, 0, 1, 12, 4)
	require.NoError(t, err)
	require.EqualValues(t, 0x345, table.Entry(2))
}

func TestTable_EndOfChainAndBad(t *testing.T) {
	src := newMemSource(1)
	table, err := ReadTable(src, 0, 1, 16, 4)
	require.NoError(t, err)

	require.True(t, table.IsEndOfChain(0xFFF8))
	require.True(t, table.IsBad(0xFFF7))
	require.True(t, table.IsFree(0))
	require.False(t, table.IsInRange(0xFFF8))
	require.True(t, table.IsInRange(3))
}

func buildShortDirent(name string, attr uint8, cluster uint32, size uint32) []byte {
	raw := make([]byte, DirentSize)
	copy(raw[0:8], padName(name, 8))
	copy(raw[8:11], padName("", 3))
	raw[11] = attr
	binary.LittleEndian.PutUint16(raw[20:22], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(raw[26:28], uint16(cluster))
	binary.LittleEndian.PutUint32(raw[28:32], size)
	return raw
}

func padName(name string, width int) []byte {
	out := make([]byte, width)
	for i := range out {
		out[i] = ' '
	}
	copy(out, name)
	return out
}

func TestParseDirent_FreeRestSentinel(t *testing.T) {
	raw := make([]byte, DirentSize)
	_, ok := ParseDirent(raw)
	require.False(t, ok)
}

func TestParseDirent_DecodesClusterAndSize(t *testing.T) {
	raw := buildShortDirent("README", AttrArchive, 5, 1234)
	d, ok := ParseDirent(raw)
	require.True(t, ok)
	require.Equal(t, "README", d.ShortName)
	require.EqualValues(t, 5, d.FirstCluster)
	require.EqualValues(t, 1234, d.FileSize)
	require.False(t, d.IsDirectory())
}

func buildLFNFragment(index int, isLast bool, checksum byte, text string) []byte {
	raw := make([]byte, DirentSize)
	ord := byte(index)
	if isLast {
		ord |= lfnLastFragmentBit
	}
	raw[0] = ord
	raw[11] = AttrLongName
	raw[13] = checksum

	units := []rune(text)
	for slot, off := range lfnCharOffsets {
		var ch uint16
		if slot < len(units) {
			ch = uint16(units[slot])
		} else if slot == len(units) {
			ch = 0
		} else {
			ch = 0xFFFF
		}
		binary.LittleEndian.PutUint16(raw[off:off+2], ch)
	}
	return raw
}

func TestReassembleLongName_TwoFragments(t *testing.T) {
	// §8 scenario 4: a name long enough to need two VFAT fragments,
	// stored on disk in descending-index order and read from index 1 up.
	short := buildShortDirent("LONGNA~1", AttrArchive, 10, 0)
	shortDirent, ok := ParseDirent(short)
	require.True(t, ok)
	sum := shortNameChecksum(shortDirent.raw)

	frag2 := buildLFNFragment(2, true, sum, "ile name.txt")
	frag1 := buildLFNFragment(1, false, sum, "a very long f")

	warns := accounting.NewWarnings()
	name, resultShort, consumed, ok := ReassembleLongName([][]byte{frag2, frag1, short}, warns, "/")
	require.True(t, ok)
	require.Equal(t, 3, consumed)
	require.Equal(t, "a very long file name.txt", name)
	require.Equal(t, "LONGNA~1", resultShort.ShortName)
	require.Equal(t, 0, warns.HardCount())
}

func TestReassembleLongName_ChecksumMismatchWarns(t *testing.T) {
	short := buildShortDirent("LONGNA~1", AttrArchive, 10, 0)
	frag := buildLFNFragment(1, true, 0x00, "x")

	warns := accounting.NewWarnings()
	_, _, _, ok := ReassembleLongName([][]byte{frag, short}, warns, "/")
	require.True(t, ok)
	require.Greater(t, warns.HardCount(), 0)
}

func TestEADataSF_ResolveCluster(t *testing.T) {
	data := make([]byte, eaDataSFBaseEntries*2+4)
	binary.LittleEndian.PutUint16(data[0:2], 1000) // table1[0]
	binary.LittleEndian.PutUint16(data[eaDataSFBaseEntries*2:eaDataSFBaseEntries*2+2], 5)  // table2[0]
	binary.LittleEndian.PutUint16(data[eaDataSFBaseEntries*2+2:eaDataSFBaseEntries*2+4], 7) // table2[1]

	ea, err := ParseEADataSF(data)
	require.NoError(t, err)

	cluster, err := ea.ResolveCluster(0)
	require.NoError(t, err)
	require.EqualValues(t, 1005, cluster)

	cluster, err = ea.ResolveCluster(1)
	require.NoError(t, err)
	require.EqualValues(t, 1007, cluster)
}

func TestParseEABlockHeader_RejectsBadMagic(t *testing.T) {
	data := make([]byte, 8)
	copy(data, "XX")
	_, err := ParseEABlockHeader(data)
	require.Error(t, err)
}

func TestCanUpgrade_OnlyFromEmpty(t *testing.T) {
	require.True(t, CanUpgrade(accounting.Empty, ClassFile))
	require.False(t, CanUpgrade(ClassFile, ClassDir))
}

// runWithTimeout fails the test instead of hanging forever if fn doesn't
// return within d -- needed because the bug this guards against is an
// infinite loop, not a wrong return value.
func runWithTimeout(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("did not terminate: likely stuck in an infinite loop")
	}
}

func TestFollowChain_SelfCycleSameClassBreaksWithWarning(t *testing.T) {
	// Cluster 2's FAT entry points back to cluster 2 itself: a one-cluster
	// cycle where every visit reclassifies the unit as the *same* class it
	// already holds. §8 "Cycle safety" requires this to terminate via a
	// conflict from UseUnit, not loop forever because the candidate class
	// happens to match the existing one.
	src := newMemSource(4)
	raw := make([]byte, blockio.SectorSize)
	raw[3] = 0x02 // cluster 2 (12-bit, even index): low 12 bits = 2
	src.put(0, raw)

	table, err := ReadTable(src, 0, 1, 12, 4)
	require.NoError(t, err)

	warns := accounting.NewWarnings()
	vector := accounting.NewVector(4, CanUpgrade, ClassName, warns)
	arena := accounting.NewArena(4)
	w := &Walker{Table: table, Vector: vector, Warnings: warns, Arena: arena}

	var clusters []uint32
	runWithTimeout(t, 2*time.Second, func() {
		clusters, err = w.followChain(2, ClassDir, arena.Root("/cyclic"))
	})
	require.NoError(t, err)
	require.LessOrEqual(t, len(clusters), 1)
	require.Greater(t, warns.HardCount(), 0)
}

func TestWalker_Walk_DirectoryCycleTerminates(t *testing.T) {
	// End-to-end: a root directory holding one subdirectory whose first
	// cluster's FAT entry points back to itself. Walk() must come back
	// with a hard warning instead of hanging (§4.5 "Cycle detected by
	// use_unit returning a conflict on an already-owned entry").
	src := newMemSource(40)

	boot := buildBootSector(t, 1, 1, 16, 40, 1)
	src.sectors[0] = boot

	var fatSector blockio.Sector
	fatSector[3] = 0x02 // cluster 2 -> cluster 2
	src.sectors[1] = fatSector

	var rootSector blockio.Sector
	copy(rootSector[:], buildShortDirent("SUBDIR", AttrDirectory, 2, 0))
	src.sectors[2] = rootSector

	warns := accounting.NewWarnings()
	w, err := NewWalker(src, warns)
	require.NoError(t, err)

	runWithTimeout(t, 2*time.Second, func() {
		err = w.Walk()
	})
	require.NoError(t, err)
	require.Greater(t, warns.HardCount(), 0)
}
