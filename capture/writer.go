// Package capture implements the snapshot/crc-sidecar capture writer (§4.3):
// it mirrors sectors read during a walk into a growing snapshot file or a
// dense per-sector CRC vector, finalized when the walk ends.
//
// Grounded on dargueta-disko/utilities/compression's staging-buffer-then-
// flush idiom (compress into a preallocated buffer, then write it out) and
// on noxer/bytewriter, the library dargueta-disko/file_systems/unixv1's
// Format uses for exactly this "sequential writes into a preallocated
// buffer, flushed as a unit" shape.
package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
	"github.com/dargueta/fstwalk/crc"
	diskoerrors "github.com/dargueta/fstwalk/errors"
	"github.com/noxer/bytewriter"
)

// Mode selects which of the two capture file formats a Writer produces.
type Mode int

const (
	ModeSnapshot Mode = iota
	ModeCRC
)

const snapshotHeaderSize = 512
const crcHeaderSize = 512

// ScrambleConstant restates blockio.ScrambleConstant; capture and blockio
// must agree on it, which TestScrambleConstant_MatchesBlockio in
// writer_test.go cross-checks.
const ScrambleConstant uint32 = 0x551234af

// Writer accumulates sector records (ModeSnapshot) or per-sector CRCs
// (ModeCRC) during a walk and finalizes them into dest on Close.
type Writer struct {
	mode   Mode
	dest   io.WriteSeeker
	warns  *accounting.Warnings
	closed bool

	// Snapshot mode state.
	seen     map[uint32]bool
	order    []uint32
	staging  io.Writer
	stageBuf []byte
	stageLen int

	// CRC mode state.
	totalSectors uint32
	sums         []uint32
	haveSum      []bool
}

// NewSnapshotWriter returns a Writer that stages sector records in memory as
// they're captured, deduplicating by logical sector number, and writes them
// to dest on Close. maxSectors bounds the staging buffer; it should be at
// least the volume's total sector count.
func NewSnapshotWriter(dest io.WriteSeeker, maxSectors uint32, warns *accounting.Warnings) (*Writer, error) {
	buf := make([]byte, int(maxSectors)*blockio.SectorSize)
	w := &Writer{
		mode:     ModeSnapshot,
		dest:     dest,
		warns:    warns,
		seen:     make(map[uint32]bool),
		stageBuf: buf,
		staging:  bytewriter.New(buf),
	}
	return w, nil
}

// NewCRCWriter returns a Writer that accumulates one CRC per sector over
// [0, totalSectors) and writes the dense vector on Close.
func NewCRCWriter(dest io.WriteSeeker, totalSectors uint32, warns *accounting.Warnings) (*Writer, error) {
	return &Writer{
		mode:         ModeCRC,
		dest:         dest,
		warns:        warns,
		totalSectors: totalSectors,
		sums:         make([]uint32, totalSectors),
		haveSum:      make([]bool, totalSectors),
	}, nil
}

// CheckNotSameTarget refuses to let a capture target resolve to the same
// path as the source being captured, per §4.3 "must refuse to target the
// same device as the source".
func CheckNotSameTarget(sourcePath, targetPath string) error {
	srcAbs, err1 := filepath.Abs(sourcePath)
	dstAbs, err2 := filepath.Abs(targetPath)
	if err1 == nil && err2 == nil && srcAbs == dstAbs {
		return diskoerrors.ErrCrossDeviceLink.WithMessage(
			fmt.Sprintf("capture target %q is the source being captured", targetPath))
	}
	return nil
}

// Record captures one sector's content at logical sector number n.
// Snapshot mode: captures at most once per logical sector (subsequent
// calls are no-ops, matching §4.3's "each logical sector is captured at
// most once"). CRC mode: records (or overwrites) the CRC for n.
func (w *Writer) Record(n uint32, data blockio.Sector) error {
	if w.mode == ModeCRC {
		if n >= w.totalSectors {
			return diskoerrors.ErrResultOutOfRange.WithMessage(
				fmt.Sprintf("capture: sector %d exceeds declared total %d", n, w.totalSectors))
		}
		w.sums[n] = crc.Compute(data[:])
		w.haveSum[n] = true
		return nil
	}

	if w.seen[n] {
		return nil
	}
	scrambled := data
	scrambleSector(&scrambled)

	if w.stageLen+blockio.SectorSize > len(w.stageBuf) {
		return diskoerrors.ErrNoSpaceOnDevice.WithMessage(
			"capture: staging buffer exhausted, maxSectors was too small")
	}
	if _, err := w.staging.Write(scrambled[:]); err != nil {
		return diskoerrors.ErrIOFailed.WrapError(err)
	}
	w.stageLen += blockio.SectorSize

	w.seen[n] = true
	w.order = append(w.order, n)
	return nil
}

// RecordUnreadable notes that sector n could not be read during a CRC
// capture; its slot is still written (as zero), with a warning, per §4.3.
func (w *Writer) RecordUnreadable(n uint32) {
	if w.mode != ModeCRC || n >= w.totalSectors {
		return
	}
	w.haveSum[n] = false
	w.sums[n] = 0
	if w.warns != nil {
		w.warns.Addf(accounting.SeveritySoft, "capture: sector %d unreadable, CRC slot written as zero", n)
	}
}

// Close finalizes the capture file: for snapshot mode, appends the
// logical-sector map and (re)writes the header with the final record
// count and map offset; for CRC mode, writes the header followed by the
// dense CRC vector.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.mode == ModeCRC {
		return w.closeCRC()
	}
	return w.closeSnapshot()
}

func (w *Writer) closeSnapshot() error {
	count := uint32(len(w.order))
	mapPos := uint32(snapshotHeaderSize) + count*blockio.SectorSize

	header := make([]byte, snapshotHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], blockio.SnapshotMagic)
	binary.LittleEndian.PutUint32(header[4:8], count)
	binary.LittleEndian.PutUint32(header[8:12], mapPos)
	binary.LittleEndian.PutUint32(header[12:16], 1) // scrambled records

	if _, err := w.dest.Seek(0, io.SeekStart); err != nil {
		return diskoerrors.ErrIOFailed.WrapError(err)
	}
	if _, err := w.dest.Write(header); err != nil {
		return diskoerrors.ErrIOFailed.WrapError(err)
	}
	if count > 0 {
		if _, err := w.dest.Write(w.stageBuf[:w.stageLen]); err != nil {
			return diskoerrors.ErrIOFailed.WrapError(err)
		}
	}

	mapBytes := make([]byte, 4*count)
	for i, n := range w.order {
		binary.LittleEndian.PutUint32(mapBytes[i*4:i*4+4], n)
	}
	if _, err := w.dest.Write(mapBytes); err != nil {
		return diskoerrors.ErrIOFailed.WrapError(err)
	}

	if closer, ok := w.dest.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (w *Writer) closeCRC() error {
	if err := blockio.WriteSidecarHeader(w.dest, w.totalSectors, 0); err != nil {
		return diskoerrors.ErrIOFailed.WrapError(err)
	}

	sumBytes := make([]byte, 4*len(w.sums))
	for i, s := range w.sums {
		binary.LittleEndian.PutUint32(sumBytes[i*4:i*4+4], s)
	}
	if _, err := w.dest.Write(sumBytes); err != nil {
		return diskoerrors.ErrIOFailed.WrapError(err)
	}

	if closer, ok := w.dest.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Abort discards the capture without finalizing it, deleting nothing
// itself (the caller owns the file handle's lifecycle) but marking the
// Writer so a subsequent Close is a no-op -- used on the fatal-error
// unwind path in §7, which deletes any partial capture file.
func (w *Writer) Abort() {
	w.closed = true
}

func scrambleSector(s *blockio.Sector) {
	word := binary.LittleEndian.Uint32(s[0:4])
	binary.LittleEndian.PutUint32(s[0:4], word^ScrambleConstant)
}
