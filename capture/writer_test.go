package capture

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
	"github.com/stretchr/testify/require"
)

func TestScrambleConstant_MatchesBlockio(t *testing.T) {
	require.EqualValues(t, blockio.ScrambleConstant, ScrambleConstant)
}

type memWS struct {
	buf []byte
	pos int64
}

func (m *memWS) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[m.pos:end], p)
	m.pos = end
	return n, nil
}

func (m *memWS) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.buf)) + offset
	}
	return m.pos, nil
}

func TestSnapshotWriter_DedupAndFinalize(t *testing.T) {
	dest := &memWS{}
	w, err := NewSnapshotWriter(dest, 16, accounting.NewWarnings())
	require.NoError(t, err)

	var sector blockio.Sector
	for i := range sector {
		sector[i] = byte(i)
	}

	require.NoError(t, w.Record(10, sector))
	require.NoError(t, w.Record(10, sector)) // duplicate, ignored
	require.NoError(t, w.Record(20, sector))
	require.NoError(t, w.Close())

	require.Equal(t, uint32(blockio.SnapshotMagic), binary.LittleEndian.Uint32(dest.buf[0:4]))
	require.EqualValues(t, 2, binary.LittleEndian.Uint32(dest.buf[4:8])) // record count

	src, err := blockio.OpenSnapshotSource(bytesReadWriteSeeker(dest.buf))
	require.NoError(t, err)
	got, err := src.ReadSector(10)
	require.NoError(t, err)
	require.Equal(t, sector, got)
}

func TestCRCWriter_RecordAndUnreadable(t *testing.T) {
	dest := &memWS{}
	warns := accounting.NewWarnings()
	w, err := NewCRCWriter(dest, 4, warns)
	require.NoError(t, err)

	var sector blockio.Sector
	require.NoError(t, w.Record(0, sector))
	w.RecordUnreadable(1)
	require.NoError(t, w.Close())

	require.Equal(t, 1, warns.SoftCount())

	src, err := blockio.OpenCRCSidecarSource(bytesReadWriteSeeker(dest.buf))
	require.NoError(t, err)
	require.EqualValues(t, 4, src.TotalSectors())
}

// bytesReadWriteSeeker adapts a plain byte slice into an io.ReadWriteSeeker
// for reading back what a memWS accumulated, without pulling in an extra
// dependency just for this test helper.
type rwsBuf struct {
	*bytes.Reader
	buf []byte
}

func (r *rwsBuf) Write(p []byte) (int, error) { return 0, io.ErrClosedPipe }
func (r *rwsBuf) Seek(offset int64, whence int) (int64, error) {
	return r.Reader.Seek(offset, whence)
}

func bytesReadWriteSeeker(buf []byte) io.ReadWriteSeeker {
	return &rwsBuf{Reader: bytes.NewReader(buf), buf: buf}
}
