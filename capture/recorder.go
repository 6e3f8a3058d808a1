package capture

import "github.com/dargueta/fstwalk/blockio"

// Recorder wraps a blockio.Source and mirrors successful reads to a Writer
// whenever an enclosing "record this" scope is active. Per design note 9,
// this is an explicit scoped flag rather than a boolean threaded through
// every read call site or ambient process-wide state.
type Recorder struct {
	blockio.Source
	writer    *Writer
	recording bool
}

// NewRecorder wraps src so its reads can be mirrored to w. Recording
// starts disabled; callers enable it for the scope of a particular read
// (or a whole walk) via WithRecording.
func NewRecorder(src blockio.Source, w *Writer) *Recorder {
	return &Recorder{Source: src, writer: w}
}

// WithRecording sets the recording flag for the caller's scope and returns
// a function that restores the previous value. Typical use:
//
//	restore := rec.WithRecording(true)
//	defer restore()
func (r *Recorder) WithRecording(active bool) func() {
	prev := r.recording
	r.recording = active
	return func() { r.recording = prev }
}

// ReadSector reads through to the wrapped Source and, if recording is
// active and the read succeeded, mirrors the sector to the capture Writer.
// A CRC-mode writer still records an unreadable sector (per §4.3, "the
// slot is still written") when the underlying read fails.
func (r *Recorder) ReadSector(n uint32) (blockio.Sector, error) {
	sector, err := r.Source.ReadSector(n)
	if !r.recording || r.writer == nil {
		return sector, err
	}

	if err != nil {
		r.writer.RecordUnreadable(n)
		return sector, err
	}
	_ = r.writer.Record(n, sector)
	return sector, err
}
