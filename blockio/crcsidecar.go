package blockio

import (
	"encoding/binary"
	"fmt"
	"io"

	diskoerrors "github.com/dargueta/fstwalk/errors"
)

// CRCSidecarMagic identifies a CRC sidecar file, per §6 "CRC sidecar
// format".
const CRCSidecarMagic uint32 = 0xac994df4

const crcSidecarHeaderSize = 512

// CRCSidecarSource is a Source backed by per-sector CRCs only -- no sector
// content is ever available from it. ReadSector and WriteSector always
// fail; Checksum returns the stored value directly.
type CRCSidecarSource struct {
	rw           io.ReadWriteSeeker
	totalSectors uint32
	version      uint32
	sums         []uint32
}

// OpenCRCSidecarSource parses a CRC sidecar's header and its dense
// per-sector CRC vector.
func OpenCRCSidecarSource(rw io.ReadWriteSeeker) (*CRCSidecarSource, error) {
	if _, err := rw.Seek(0, io.SeekStart); err != nil {
		return nil, diskoerrors.ErrIOFailed.WrapError(err)
	}

	header := make([]byte, crcSidecarHeaderSize)
	if _, err := io.ReadFull(rw, header); err != nil {
		return nil, diskoerrors.ErrIOFailed.WrapError(err)
	}

	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != CRCSidecarMagic {
		return nil, diskoerrors.ErrBadMagic.WithMessage(
			fmt.Sprintf("crc sidecar: got magic 0x%08x", magic))
	}

	s := &CRCSidecarSource{rw: rw}
	s.totalSectors = binary.LittleEndian.Uint32(header[4:8])
	s.version = binary.LittleEndian.Uint32(header[8:12])

	sumBytes := make([]byte, 4*int(s.totalSectors))
	if s.totalSectors > 0 {
		if _, err := io.ReadFull(rw, sumBytes); err != nil {
			return nil, diskoerrors.ErrIOFailed.WrapError(err)
		}
	}

	s.sums = make([]uint32, s.totalSectors)
	for i := range s.sums {
		s.sums[i] = binary.LittleEndian.Uint32(sumBytes[i*4 : i*4+4])
	}
	return s, nil
}

func (s *CRCSidecarSource) Kind() Kind { return KindCRCSidecar }

func (s *CRCSidecarSource) TotalSectors() uint32 { return s.totalSectors }

func (s *CRCSidecarSource) ReadSector(n uint32) (Sector, error) {
	var sector Sector
	return sector, diskoerrors.ErrNotSupported.WithMessage(
		"crc sidecar sources carry no sector content")
}

func (s *CRCSidecarSource) WriteSector(n uint32, data Sector) error {
	return diskoerrors.ErrReadOnlyFileSystem.WithMessage(
		"crc sidecar sources are read-only")
}

func (s *CRCSidecarSource) Checksum(n uint32) (uint32, error) {
	if n >= s.totalSectors {
		return 0, diskoerrors.ErrResultOutOfRange.WithMessage(
			fmt.Sprintf("crc sidecar: sector %d out of range [0, %d)", n, s.totalSectors))
	}
	return s.sums[n], nil
}

func (s *CRCSidecarSource) Close() error {
	if closer, ok := s.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// WriteSidecarHeader writes the fixed-size sidecar header used both by a
// freshly created CRCSidecarSource and by capture.Writer's CRC mode, so the
// two paths that can produce a sidecar file never disagree on layout.
func WriteSidecarHeader(w io.Writer, totalSectors, version uint32) error {
	header := make([]byte, crcSidecarHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], CRCSidecarMagic)
	binary.LittleEndian.PutUint32(header[4:8], totalSectors)
	binary.LittleEndian.PutUint32(header[8:12], version)
	_, err := w.Write(header)
	return err
}
