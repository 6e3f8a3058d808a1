package blockio

import "io"

// seekerAsReaderWriterAt adapts an io.ReadWriteSeeker to the ReaderAt/WriterAt
// pair DeviceSource needs, via Seek-then-Read/Write. Safe under §5's
// single-threaded walk model, where nothing else touches the stream's
// position concurrently.
type seekerAsReaderWriterAt struct {
	rw io.ReadWriteSeeker
}

func (s seekerAsReaderWriterAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := s.rw.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(s.rw, p)
}

func (s seekerAsReaderWriterAt) WriteAt(p []byte, off int64) (int, error) {
	if _, err := s.rw.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return s.rw.Write(p)
}

// NewMemorySource wraps an in-memory io.ReadWriteSeeker (typically
// xaionaro-go/bytesextra's byte-slice-backed seeker, as fstest uses for
// decompressed reference images) as a DeviceSource with a fixed sector
// count and no locking -- there's no real device to protect.
func NewMemorySource(rw io.ReadWriteSeeker, totalSectors uint32) (*DeviceSource, error) {
	d, err := OpenDeviceSource(seekerAsReaderWriterAt{rw}, NoopLocker, true, int64(totalSectors)*SectorSize)
	if err != nil {
		return nil, err
	}
	// A synthetic fixture's sector count is known exactly; don't let a
	// degenerate or catalog-guessed BPB override it.
	d.total = totalSectors
	return d, nil
}
