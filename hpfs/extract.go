package hpfs

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/fstwalk/blockio"
)

// PhysicalRun is one contiguous extent of a file's allocation tree, logical
// file sector to physical disk sector, as extracted for the `copy` action.
// It carries the same fields ALLEAF does, without re-running the
// structural validation WalkAllocationTree already performs during a
// `check`/`info` walk -- `copy` only needs to read the bytes back.
type PhysicalRun struct {
	LogicalStart  uint32
	PhysicalStart uint32
	Length        uint32
}

// collectExtents walks the same embedded-ALBLK/ALSEC-tree shape
// WalkAllocationTree validates, but only extracts the ordered list of
// physical runs.
func collectExtents(src blockio.Source, header []byte, runs *[]PhysicalRun) error {
	if len(header) < albHeaderSize {
		return fmt.Errorf("hpfs: allocation block truncated")
	}
	flag := header[0]
	used := uint32(header[5])

	if flag&ABFNode != 0 {
		for i := uint32(0); i < used; i++ {
			off := albHeaderSize + int(i)*alNodeSize
			if off+alNodeSize > len(header) {
				break
			}
			physical := binary.LittleEndian.Uint32(header[off+4 : off+8])
			sector, err := src.ReadSector(physical)
			if err != nil {
				return err
			}
			raw := sector[:]
			if err := collectExtents(src, raw[alsecHeaderSize:], runs); err != nil {
				return err
			}
		}
		return nil
	}

	for i := uint32(0); i < used; i++ {
		off := albHeaderSize + int(i)*alLeafSize
		if off+alLeafSize > len(header) {
			break
		}
		logical := binary.LittleEndian.Uint32(header[off : off+4])
		count := binary.LittleEndian.Uint32(header[off+4 : off+8])
		physical := binary.LittleEndian.Uint32(header[off+8 : off+12])
		*runs = append(*runs, PhysicalRun{LogicalStart: logical, PhysicalStart: physical, Length: count})
	}
	return nil
}

// ReadFileContent reads the full content of the file whose FNODE lives at
// fnodeSecno, walking its allocation tree to assemble the sector runs in
// logical order, then trimming to the FNODE's recorded size. Used by the
// dispatcher's `copy` action once a `find`/`where` walk has located the
// target; it deliberately re-reads the FNODE rather than reusing any state
// from the walk that located it, since that walk stopped before claiming
// the target's own sectors.
func ReadFileContent(src blockio.Source, fnodeSecno uint32) ([]byte, uint32, error) {
	sector, err := src.ReadSector(fnodeSecno)
	if err != nil {
		return nil, 0, err
	}
	raw := sector[:]
	if binary.LittleEndian.Uint32(raw[0:4]) != SigFNode {
		return nil, 0, fmt.Errorf("hpfs: FNODE #%d: bad signature", fnodeSecno)
	}
	if raw[fnodeOffFlag]&FNFDir != 0 {
		return nil, 0, fmt.Errorf("hpfs: FNODE #%d: is a directory, not a file", fnodeSecno)
	}
	size := binary.LittleEndian.Uint32(raw[fnodeOffVLen : fnodeOffVLen+4])

	storage := raw[fnodeOffStorage : fnodeOffStorage+fnodeStorageHeaderLen]
	var runs []PhysicalRun
	if err := collectExtents(src, storage, &runs); err != nil {
		return nil, 0, err
	}

	out := make([]byte, 0, size)
	for _, run := range runs {
		for s := uint32(0); s < run.Length; s++ {
			sec, err := src.ReadSector(run.PhysicalStart + s)
			if err != nil {
				return nil, 0, err
			}
			out = append(out, sec[:]...)
		}
	}
	if uint32(len(out)) > size {
		out = out[:size]
	}
	return out, size, nil
}
