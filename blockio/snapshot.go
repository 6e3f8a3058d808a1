package blockio

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dargueta/fstwalk/crc"
	diskoerrors "github.com/dargueta/fstwalk/errors"
)

// SnapshotMagic identifies a snapshot file, per §6 "Snapshot file format".
const SnapshotMagic uint32 = 0xaf974803

// ScrambleConstant is XORed into the first 32-bit word of every sector
// record stored in a snapshot, so a live file-system driver handed the raw
// file never recognizes an on-disk signature and tries to mount it.
const ScrambleConstant uint32 = 0x551234af

// snapshotHeaderSize is the on-disk header size; the rest of the first
// sector is padding.
const snapshotHeaderSize = 512

// snapshotHashBuckets is the fixed bucket count for the logical-sector ->
// record-index hash built at open time, per the data model's "Snapshot
// index" section.
const snapshotHashBuckets = 997

// SnapshotSource is a Source backed by a sparse capture of an arbitrary
// subset of a volume's sectors, indexed by logical sector number.
//
// Grounded on dargueta-disko/drivers/common/blockstream.go's
// seek-then-read-at-a-fixed-stride idiom, generalized to a sparse,
// hash-indexed record set instead of a dense contiguous stream.
type SnapshotSource struct {
	rw          io.ReadWriteSeeker
	version     uint32
	mapPos      uint32
	recordCount uint32

	// heads[b] is the index (1-based; 0 means empty) of the first record in
	// bucket b's chain. next[i] is the 1-based index of the next record in
	// the same bucket's chain after record i, or 0 at the end.
	heads [snapshotHashBuckets]uint32
	next  []uint32
	// logicalOf[i] is the logical sector number recorded for record i.
	logicalOf []uint32
	// recordOf maps a logical sector number to its record index. It is
	// filled alongside the chained hash, but lookups (recordIndex) walk
	// the chain only.
	recordOf map[uint32]uint32
}

// OpenSnapshotSource parses a snapshot file's header and logical-sector map,
// and builds the in-memory logical->record hash. rw must support seeking;
// writes go through WriteSector, which never extends the snapshot.
func OpenSnapshotSource(rw io.ReadWriteSeeker) (*SnapshotSource, error) {
	if _, err := rw.Seek(0, io.SeekStart); err != nil {
		return nil, diskoerrors.ErrIOFailed.WrapError(err)
	}

	header := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(rw, header); err != nil {
		return nil, diskoerrors.ErrIOFailed.WrapError(err)
	}

	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != SnapshotMagic {
		return nil, diskoerrors.ErrBadMagic.WithMessage(
			fmt.Sprintf("snapshot: got magic 0x%08x", magic))
	}

	s := &SnapshotSource{rw: rw}
	s.recordCount = binary.LittleEndian.Uint32(header[4:8])
	s.mapPos = binary.LittleEndian.Uint32(header[8:12])
	s.version = binary.LittleEndian.Uint32(header[12:16])
	if s.version > 1 {
		return nil, diskoerrors.ErrNotSupported.WithMessage(
			fmt.Sprintf("snapshot: unsupported version %d", s.version))
	}

	if err := s.loadMap(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SnapshotSource) loadMap() error {
	if _, err := s.rw.Seek(int64(s.mapPos), io.SeekStart); err != nil {
		return diskoerrors.ErrIOFailed.WrapError(err)
	}

	logicalBytes := make([]byte, 4*int(s.recordCount))
	if s.recordCount > 0 {
		if _, err := io.ReadFull(s.rw, logicalBytes); err != nil {
			return diskoerrors.ErrIOFailed.WrapError(err)
		}
	}

	s.logicalOf = make([]uint32, s.recordCount)
	s.next = make([]uint32, s.recordCount)
	s.recordOf = make(map[uint32]uint32, s.recordCount)

	for i := uint32(0); i < s.recordCount; i++ {
		logical := binary.LittleEndian.Uint32(logicalBytes[i*4 : i*4+4])
		s.logicalOf[i] = logical

		bucket := logical % snapshotHashBuckets
		s.next[i] = s.heads[bucket]
		s.heads[bucket] = i + 1 // 1-based, so 0 remains "empty"
		s.recordOf[logical] = i
	}
	return nil
}

// recordIndex walks the hash chain for logical sector n through the
// 997-bucket-head-plus-next-vector structure. It is the only lookup path;
// recordOf is not consulted.
func (s *SnapshotSource) recordIndex(n uint32) (uint32, bool) {
	bucket := n % snapshotHashBuckets
	for cur := s.heads[bucket]; cur != 0; cur = s.next[cur-1] {
		idx := cur - 1
		if s.logicalOf[idx] == n {
			return idx, true
		}
	}
	return 0, false
}

func (s *SnapshotSource) Kind() Kind { return KindSnapshot }

// TotalSectors always returns 0: the snapshot format carries no field for
// the original volume's sector count, so there is nothing honest to report
// here. Per §4.2 "(may be 0 when unknown)" -- for a snapshot it always is.
// Callers that need the sector count a snapshot actually covers want
// RecordCount or Sectors instead.
func (s *SnapshotSource) TotalSectors() uint32 {
	return 0
}

// RecordCount returns the number of sector records actually stored, unlike
// TotalSectors, which always returns 0 for a snapshot.
func (s *SnapshotSource) RecordCount() uint32 {
	return s.recordCount
}

// Sectors returns every logical sector number this snapshot has a record
// for, in capture order. Used by the `restore` action to enumerate which
// sectors to write back onto a live device or another snapshot, the
// inverse of the `save` action's capture.
func (s *SnapshotSource) Sectors() []uint32 {
	out := make([]uint32, len(s.logicalOf))
	copy(out, s.logicalOf)
	return out
}

func (s *SnapshotSource) recordOffset(idx uint32) int64 {
	return snapshotHeaderSize + int64(idx)*SectorSize
}

func (s *SnapshotSource) ReadSector(n uint32) (Sector, error) {
	var sector Sector
	idx, ok := s.recordIndex(n)
	if !ok {
		return sector, diskoerrors.ErrSectorNotPresent
	}

	if _, err := s.rw.Seek(s.recordOffset(idx), io.SeekStart); err != nil {
		return sector, diskoerrors.ErrIOFailed.WrapError(err)
	}
	if _, err := io.ReadFull(s.rw, sector[:]); err != nil {
		return sector, diskoerrors.ErrIOFailed.WrapError(err)
	}

	if s.version >= 1 {
		unscramble(&sector)
	}
	return sector, nil
}

func (s *SnapshotSource) WriteSector(n uint32, data Sector) error {
	idx, ok := s.recordIndex(n)
	if !ok {
		return diskoerrors.ErrSectorNotPresent.WithMessage(
			fmt.Sprintf("snapshot: sector %d absent, snapshots are never extended", n))
	}

	if s.version >= 1 {
		scramble(&data)
	}

	if _, err := s.rw.Seek(s.recordOffset(idx), io.SeekStart); err != nil {
		return diskoerrors.ErrIOFailed.WrapError(err)
	}
	if _, err := s.rw.Write(data[:]); err != nil {
		return diskoerrors.ErrIOFailed.WrapError(err)
	}
	return nil
}

func (s *SnapshotSource) Checksum(n uint32) (uint32, error) {
	sector, err := s.ReadSector(n)
	if err != nil {
		return 0, err
	}
	return crc.Compute(sector[:]), nil
}

func (s *SnapshotSource) Close() error {
	if closer, ok := s.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// scramble XORs the scramble constant into a sector's first 32-bit word, in
// place.
func scramble(s *Sector) {
	word := binary.LittleEndian.Uint32(s[0:4])
	binary.LittleEndian.PutUint32(s[0:4], word^ScrambleConstant)
}

// unscramble reverses scramble; XOR is its own inverse, so this is the same
// operation, named for readability at call sites.
func unscramble(s *Sector) {
	scramble(s)
}
