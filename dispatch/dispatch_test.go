package dispatch

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
	"github.com/stretchr/testify/require"
)

// fakeSource is a minimal in-memory blockio.Source, the same shape
// fat_test.go's memSource uses, kept local since dispatch doesn't import
// fat's unexported test helpers.
type fakeSource struct {
	sectors map[uint32]blockio.Sector
	total   uint32
}

func newFakeSource(total uint32) *fakeSource {
	return &fakeSource{sectors: make(map[uint32]blockio.Sector), total: total}
}

func (f *fakeSource) Kind() blockio.Kind   { return blockio.KindDevice }
func (f *fakeSource) TotalSectors() uint32 { return f.total }
func (f *fakeSource) Close() error         { return nil }

func (f *fakeSource) Checksum(n uint32) (uint32, error) {
	s, ok := f.sectors[n]
	if !ok {
		return 0, nil
	}
	return binary.LittleEndian.Uint32(s[0:4]), nil
}

func (f *fakeSource) ReadSector(n uint32) (blockio.Sector, error) {
	return f.sectors[n], nil
}

func (f *fakeSource) WriteSector(n uint32, data blockio.Sector) error {
	f.sectors[n] = data
	return nil
}

func TestDetectKind_ForcedOverridesDetection(t *testing.T) {
	src := newFakeSource(100)
	kind, err := DetectKind(src, ForceHPFS)
	require.NoError(t, err)
	require.Equal(t, FSHPFS, kind)
}

func TestDetectKind_SmallVolumeIsFAT(t *testing.T) {
	// §4.6: HPFS's own superblock lives at sector 16; a volume too small to
	// have one can't be HPFS.
	src := newFakeSource(10)
	kind, err := DetectKind(src, ForceNone)
	require.NoError(t, err)
	require.Equal(t, FSFAT, kind)
}

func TestDetectKind_SuperblockSignatureSelectsHPFS(t *testing.T) {
	src := newFakeSource(1000)
	var sector blockio.Sector
	binary.LittleEndian.PutUint32(sector[0:4], 0xf995e849)
	binary.LittleEndian.PutUint32(sector[4:8], 0xfa53e9c5)
	src.sectors[16] = sector

	kind, err := DetectKind(src, ForceNone)
	require.NoError(t, err)
	require.Equal(t, FSHPFS, kind)
}

func TestDetectKind_NoSignatureFallsBackToFAT(t *testing.T) {
	src := newFakeSource(1000)
	kind, err := DetectKind(src, ForceNone)
	require.NoError(t, err)
	require.Equal(t, FSFAT, kind)
}

func TestDispatchRead(t *testing.T) {
	src := newFakeSource(10)
	var sector blockio.Sector
	copy(sector[:], "hello")
	src.sectors[3] = sector

	rep, err := dispatchRead(src, Config{Unit: 3})
	require.NoError(t, err)
	require.NotNil(t, rep.SectorData)
	require.Equal(t, byte('h'), rep.SectorData[0])
}

func TestDispatchWrite_RequiresWriteEnable(t *testing.T) {
	src := newFakeSource(10)
	_, err := dispatchWrite(src, Config{Unit: 1, WriteData: make([]byte, blockio.SectorSize)})
	require.Error(t, err)
}

func TestDispatchWrite_RequiresExactSectorSize(t *testing.T) {
	src := newFakeSource(10)
	_, err := dispatchWrite(src, Config{Unit: 1, WriteEnable: true, WriteData: []byte("too short")})
	require.Error(t, err)
}

func TestDispatchWrite_WritesSector(t *testing.T) {
	src := newFakeSource(10)
	data := make([]byte, blockio.SectorSize)
	data[0] = 0xAB

	rep, err := dispatchWrite(src, Config{Unit: 2, WriteEnable: true, WriteData: data})
	require.NoError(t, err)
	require.Equal(t, 0, rep.ExitCode)
	require.Equal(t, byte(0xAB), src.sectors[2][0])
}

func TestExitCodeFor(t *testing.T) {
	clean := accounting.NewWarnings()
	require.Equal(t, 0, exitCodeFor(clean))

	dirty := accounting.NewWarnings()
	dirty.Add(accounting.SeverityHard, "boom")
	require.Equal(t, 1, exitCodeFor(dirty))

	soft := accounting.NewWarnings()
	soft.Add(accounting.SeveritySoft, "meh")
	require.Equal(t, 0, exitCodeFor(soft))
}

func TestDispatchDiff_IdenticalSources(t *testing.T) {
	dir := t.TempDir()

	var sector blockio.Sector
	copy(sector[:], "same content")

	makeSnapshot := func(name string) string {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		require.NoError(t, err)
		defer f.Close()

		header := make([]byte, 512)
		binary.LittleEndian.PutUint32(header[0:4], blockio.SnapshotMagic)
		binary.LittleEndian.PutUint32(header[4:8], 1)
		binary.LittleEndian.PutUint32(header[8:12], 512+blockio.SectorSize)
		binary.LittleEndian.PutUint32(header[12:16], 0)
		_, err = f.Write(header)
		require.NoError(t, err)
		_, err = f.Write(sector[:])
		require.NoError(t, err)
		var logical [4]byte
		binary.LittleEndian.PutUint32(logical[:], 0)
		_, err = f.Write(logical[:])
		require.NoError(t, err)
		return path
	}

	pathA := makeSnapshot("a.snap")
	pathB := makeSnapshot("b.snap")

	srcA, err := blockio.Open(pathA, blockio.AllKinds, false)
	require.NoError(t, err)
	defer srcA.Close()

	rep, err := dispatchDiff(srcA, Config{Source: pathA, Target: pathB})
	require.NoError(t, err)
	require.Equal(t, 0, rep.ExitCode)
	require.Empty(t, rep.DiffDiffering)
	require.Empty(t, rep.DiffOnlyInSource)
	require.Empty(t, rep.DiffOnlyInTarget)
	require.Equal(t, 1, rep.DiffSectorsCompared)
}

func TestDispatchRestore_RejectsNonSnapshotSource(t *testing.T) {
	src := newFakeSource(10)
	_, err := dispatchRestore(src, Config{})
	require.Error(t, err)
}
