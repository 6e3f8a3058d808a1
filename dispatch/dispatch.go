package dispatch

import (
	"os"
	"sort"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
	"github.com/dargueta/fstwalk/capture"
	diskoerrors "github.com/dargueta/fstwalk/errors"
	"github.com/dargueta/fstwalk/fat"
	"github.com/dargueta/fstwalk/hpfs"
)

// Report is what Dispatch returns: everything cmd/fstwalk needs to print a
// result, without Dispatch or any walker ever calling fmt or log itself
// (design note 9, "the walker is otherwise pure with respect to its
// inputs").
type Report struct {
	Kind     FSKind
	FAT      *fat.Report
	HPFS     *hpfs.Report
	Warnings *accounting.Warnings

	// SectorData is set by ActionRead.
	SectorData *blockio.Sector

	// DiffDiffering lists the sector numbers ActionDiff found present on
	// both sides but with different content.
	DiffDiffering []uint32
	// DiffOnlyInSource/DiffOnlyInTarget list sector numbers ActionDiff
	// found recorded in one source but not the other, per
	// _examples/original_source/fst.c's diff_sectors `which` categories
	// 1 and 2 (only meaningful when both sides are snapshots; a missing
	// sector against a device/crc source instead means "beyond its
	// declared total" and is reported through DiffOnlyInSource/Target too,
	// mirroring compare_sectors_array's "Missing sectors" tail).
	DiffOnlyInSource    []uint32
	DiffOnlyInTarget    []uint32
	DiffSectorsCompared int

	// WhatClass/WhatPath answer ActionWhat: which usage class and
	// reachability path (if any) the accounting substrate recorded for
	// Config.Unit.
	WhatClass string
	WhatPath  string

	// CopyBytes is the number of bytes ActionCopy wrote to Config.Target.
	CopyBytes int

	// ExitCode mirrors §6's command surface: 0 success, 1 walk completed
	// with a severity-1 warning, 2 on fatal error (in which case Dispatch
	// returns a non-nil error instead of a Report).
	ExitCode int
}

// Dispatch opens Config's source, selects a walker by its magic (or
// Config.Force), and drives the requested action to completion. A non-nil
// error means a §7 "fatal" condition: the caller should treat this as exit
// code 2 and, if a capture was in progress, its partial output has already
// been removed.
func Dispatch(cfg Config) (*Report, error) {
	allowed := cfg.resolveAllowedKinds()
	forWrite := cfg.WriteEnable && (cfg.Action == ActionWrite || cfg.Action == ActionRestore)

	src, err := blockio.Open(cfg.Source, allowed, forWrite)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	switch cfg.Action {
	case ActionRead:
		return dispatchRead(src, cfg)
	case ActionWrite:
		return dispatchWrite(src, cfg)
	case ActionDiff:
		return dispatchDiff(src, cfg)
	case ActionRestore:
		return dispatchRestore(src, cfg)
	case ActionSave, ActionCRC:
		return dispatchCapture(src, cfg)
	case ActionCopy:
		return dispatchCopy(src, cfg)
	default:
		return dispatchWalk(src, cfg)
	}
}

// walkResult holds the constructed walker alongside which kind it is, so
// post-walk queries (ActionWhat's accounting lookup, ActionCopy's content
// read) can reach the walker's Vector/Report without Dispatch having to
// widen fat.Report/hpfs.Report with fields the other doesn't have.
type walkResult struct {
	kind       FSKind
	fatWalker  *fat.Walker
	hpfsWalker *hpfs.Walker
}

// runWalk constructs the appropriate walker for src and drives it through
// one full Walk(), parameterized by cfg's Find/Dir/Pedantic settings. It is
// shared by the plain walk actions (info/check/find/where/what/dir/copy)
// and by the capture actions, which wrap src in a capture.Recorder first.
func runWalk(src blockio.Source, cfg Config, warns *accounting.Warnings) (*walkResult, error) {
	kind, err := DetectKind(src, cfg.Force)
	if err != nil {
		return nil, err
	}

	res := &walkResult{kind: kind}

	switch kind {
	case FSFAT:
		w, err := fat.NewWalker(src, warns)
		if err != nil {
			return nil, err
		}
		w.Pedantic = cfg.Pedantic
		switch cfg.Action {
		case ActionFind, ActionWhere, ActionCopy:
			w.Find = cfg.Path
		case ActionDir:
			w.ListDir = cfg.Path
		}
		if err := w.Walk(); err != nil {
			return nil, err
		}
		res.fatWalker = w
		return res, nil

	case FSHPFS:
		w, err := hpfs.NewWalker(src, warns)
		if err != nil {
			return nil, err
		}
		switch cfg.Action {
		case ActionFind, ActionWhere, ActionCopy:
			w.Find = cfg.Path
		case ActionDir:
			w.ListDir = cfg.Path
		}
		if err := w.Walk(); err != nil {
			return nil, err
		}
		res.hpfsWalker = w
		return res, nil

	default:
		return nil, diskoerrors.ErrNotSupported.WithMessage(
			"dispatch: could not determine whether the volume is FAT or HPFS")
	}
}

// dispatchWalk drives info/check/find/where/what/dir and assembles a
// Report directly from the walker's own Report, without a capture.
func dispatchWalk(src blockio.Source, cfg Config) (*Report, error) {
	warns := accounting.NewWarnings()
	res, err := runWalk(src, cfg, warns)
	if err != nil {
		return nil, err
	}

	rep := &Report{Kind: res.kind, Warnings: warns}
	switch res.kind {
	case FSFAT:
		fr := res.fatWalker.Report
		rep.FAT = &fr
	case FSHPFS:
		hr := res.hpfsWalker.Report
		rep.HPFS = &hr
	}

	if cfg.Action == ActionWhat {
		rep.WhatClass, rep.WhatPath = whatOwns(res, cfg.Unit)
	}

	rep.ExitCode = exitCodeFor(warns)
	return rep, nil
}

// whatOwns answers ActionWhat: which usage class and reachability path (if
// any) the accounting substrate recorded for unit n. FAT units are cluster
// numbers (offset by the "clusters start at 2" convention); HPFS units are
// sector numbers.
func whatOwns(res *walkResult, unit uint32) (class, path string) {
	switch res.kind {
	case FSFAT:
		idx := int(unit) - 2
		if idx < 0 || idx >= res.fatWalker.Vector.Len() {
			return "out of range", ""
		}
		return fat.ClassName(res.fatWalker.Vector.ClassOf(idx)), pathString(res.fatWalker.Vector.PathOf(idx))
	case FSHPFS:
		idx := int(unit)
		if idx < 0 || idx >= res.hpfsWalker.Vector.Len() {
			return "out of range", ""
		}
		return hpfs.ClassName(res.hpfsWalker.Vector.ClassOf(idx)), pathString(res.hpfsWalker.Vector.PathOf(idx))
	default:
		return "", ""
	}
}

func pathString(p *accounting.Path) string {
	if p == nil {
		return ""
	}
	return p.String()
}

// dispatchRead implements ActionRead: dump the raw content of one sector or
// cluster.
func dispatchRead(src blockio.Source, cfg Config) (*Report, error) {
	sector, err := src.ReadSector(cfg.Unit)
	if err != nil {
		return nil, err
	}
	return &Report{SectorData: &sector}, nil
}

// dispatchWrite implements ActionWrite: the narrow sector-level overwrite
// primitive §1 permits as the one exception to "no repair".
func dispatchWrite(src blockio.Source, cfg Config) (*Report, error) {
	if !cfg.WriteEnable {
		return nil, diskoerrors.ErrNotPermitted.WithMessage(
			"write action requires write-enable")
	}
	if len(cfg.WriteData) != blockio.SectorSize {
		return nil, diskoerrors.ErrInvalidArgument.WithMessage(
			"write action requires exactly one sector's worth of data")
	}
	var sector blockio.Sector
	copy(sector[:], cfg.WriteData)
	if err := src.WriteSector(cfg.Unit, sector); err != nil {
		return nil, err
	}
	return &Report{ExitCode: 0}, nil
}

// dispatchCopy implements ActionCopy: locate Config.Path with a `find`-style
// walk, then stream its content to Config.Target.
func dispatchCopy(src blockio.Source, cfg Config) (*Report, error) {
	warns := accounting.NewWarnings()
	findCfg := cfg
	findCfg.Action = ActionCopy
	res, err := runWalk(src, findCfg, warns)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch res.kind {
	case FSFAT:
		if res.fatWalker.Report.FoundPath == "" {
			return nil, diskoerrors.ErrNotFound.WithMessage(cfg.Path)
		}
		data, err = res.fatWalker.ReadFile(res.fatWalker.Report.FoundCluster, res.fatWalker.Report.FoundSize)
	case FSHPFS:
		if res.hpfsWalker.Report.FoundPath == "" {
			return nil, diskoerrors.ErrNotFound.WithMessage(cfg.Path)
		}
		data, _, err = hpfs.ReadFileContent(src, res.hpfsWalker.Report.FoundFNode)
	}
	if err != nil {
		return nil, err
	}

	out, err := os.Create(cfg.Target)
	if err != nil {
		return nil, diskoerrors.ErrIOFailed.WrapError(err)
	}
	defer out.Close()
	if _, err := out.Write(data); err != nil {
		return nil, diskoerrors.ErrIOFailed.WrapError(err)
	}

	rep := &Report{Kind: res.kind, Warnings: warns, CopyBytes: len(data), ExitCode: exitCodeFor(warns)}
	switch res.kind {
	case FSFAT:
		fr := res.fatWalker.Report
		rep.FAT = &fr
	case FSHPFS:
		hr := res.hpfsWalker.Report
		rep.HPFS = &hr
	}
	return rep, nil
}

// dispatchDiff implements ActionDiff, picking one of three algorithms by
// which side (if either) is a snapshot, per
// _examples/original_source/fst.c's cmd_diff: a sparse, unordered snapshot
// capture has no declared total sector count to scan sequentially (see
// blockio.SnapshotSource.TotalSectors), so the snapshot's own recorded
// sector list drives the comparison instead.
func dispatchDiff(srcA blockio.Source, cfg Config) (*Report, error) {
	srcB, err := blockio.Open(cfg.Target, blockio.AllKinds, false)
	if err != nil {
		return nil, err
	}
	defer srcB.Close()

	warns := accounting.NewWarnings()
	rep := &Report{Warnings: warns}

	snapA, aIsSnap := srcA.(*blockio.SnapshotSource)
	snapB, bIsSnap := srcB.(*blockio.SnapshotSource)

	switch {
	case aIsSnap && bIsSnap:
		diffSnapshotPair(snapA, snapB, cfg, rep, warns)
	case aIsSnap:
		diffSnapshotAgainst(snapA, srcB, true, cfg.Target, rep, warns)
	case bIsSnap:
		diffSnapshotAgainst(snapB, srcA, false, cfg.Source, rep, warns)
	default:
		diffSequential(srcA, srcB, cfg, rep, warns)
	}

	rep.ExitCode = exitCodeFor(warns)
	return rep, nil
}

// diffSnapshotPair mirrors diff_sectors' sorted three-way merge over two
// snapshots' logical-sector lists: a sector present in both is compared by
// content, a sector present in only one is reported against the source
// that lacks it rather than silently skipped.
func diffSnapshotPair(a, b *blockio.SnapshotSource, cfg Config, rep *Report, warns *accounting.Warnings) {
	listA := a.Sectors()
	listB := b.Sectors()
	sort.Slice(listA, func(i, j int) bool { return listA[i] < listA[j] })
	sort.Slice(listB, func(i, j int) bool { return listB[i] < listB[j] })

	i, j := 0, 0
	for i < len(listA) || j < len(listB) {
		switch {
		case j >= len(listB) || (i < len(listA) && listA[i] < listB[j]):
			rep.DiffOnlyInSource = append(rep.DiffOnlyInSource, listA[i])
			warns.Addf(accounting.SeverityHard, "diff: sector %d present only in %s", listA[i], cfg.Source)
			i++
		case i >= len(listA) || listB[j] < listA[i]:
			rep.DiffOnlyInTarget = append(rep.DiffOnlyInTarget, listB[j])
			warns.Addf(accounting.SeverityHard, "diff: sector %d present only in %s", listB[j], cfg.Target)
			j++
		default:
			n := listA[i]
			sumA, errA := a.Checksum(n)
			sumB, errB := b.Checksum(n)
			if errA == nil && errB == nil {
				rep.DiffSectorsCompared++
				if sumA != sumB {
					rep.DiffDiffering = append(rep.DiffDiffering, n)
					warns.Addf(accounting.SeverityHard, "diff: sector %d content differs", n)
				}
			}
			i++
			j++
		}
	}
}

// diffSnapshotAgainst mirrors compare_sectors_array: it walks only the
// snapshot's own recorded, sorted sector list against a device or crc
// sidecar source, stopping once a logical sector number runs past the
// other source's declared total (when that total is known) -- the
// remainder is reported as missing from that source rather than compared.
// snapIsSource says whether the snapshot is cfg.Source or cfg.Target, so
// the "only in" results land in the matching Report field.
func diffSnapshotAgainst(snap *blockio.SnapshotSource, other blockio.Source, snapIsSource bool, otherLabel string, rep *Report, warns *accounting.Warnings) {
	sectors := snap.Sectors()
	sort.Slice(sectors, func(i, j int) bool { return sectors[i] < sectors[j] })

	otherTotal := other.TotalSectors()

	var missing []uint32
	idx := 0
	for ; idx < len(sectors); idx++ {
		n := sectors[idx]
		if otherTotal != 0 && n >= otherTotal {
			break
		}

		sumSnap, errSnap := snap.Checksum(n)
		sumOther, errOther := other.Checksum(n)
		if errSnap != nil || errOther != nil {
			continue
		}
		rep.DiffSectorsCompared++
		if sumSnap != sumOther {
			rep.DiffDiffering = append(rep.DiffDiffering, n)
			warns.Addf(accounting.SeverityHard, "diff: sector %d content differs", n)
		}
	}
	for ; idx < len(sectors); idx++ {
		missing = append(missing, sectors[idx])
		warns.Addf(accounting.SeverityHard, "diff: sector %d missing from %s", sectors[idx], otherLabel)
	}

	if snapIsSource {
		rep.DiffOnlyInTarget = append(rep.DiffOnlyInTarget, missing...)
	} else {
		rep.DiffOnlyInSource = append(rep.DiffOnlyInSource, missing...)
	}
}

// diffSequential mirrors compare_sectors_all: a flat scan over [0,
// min(totalA, totalB)), used when neither source is a snapshot. A
// difference in declared totals is noted as an informational soft warning
// rather than enumerating the uncompared tail, matching the original's
// "First/second disk has more sectors" note.
func diffSequential(srcA, srcB blockio.Source, cfg Config, rep *Report, warns *accounting.Warnings) {
	totalA := srcA.TotalSectors()
	totalB := srcB.TotalSectors()
	total := totalA
	if totalB < total {
		total = totalB
	}

	for n := uint32(0); n < total; n++ {
		sumA, errA := srcA.Checksum(n)
		sumB, errB := srcB.Checksum(n)
		if errA != nil || errB != nil {
			continue
		}
		rep.DiffSectorsCompared++
		if sumA != sumB {
			rep.DiffDiffering = append(rep.DiffDiffering, n)
			warns.Addf(accounting.SeverityHard, "diff: sector %d content differs", n)
		}
	}

	if totalA > totalB {
		warns.Addf(accounting.SeveritySoft, "diff: %s has more sectors than %s", cfg.Source, cfg.Target)
	} else if totalA < totalB {
		warns.Addf(accounting.SeveritySoft, "diff: %s has more sectors than %s", cfg.Target, cfg.Source)
	}
}

// dispatchRestore implements ActionRestore: write every sector a snapshot
// carries back onto a live device or another snapshot, the inverse of
// ActionSave.
func dispatchRestore(src blockio.Source, cfg Config) (*Report, error) {
	snap, ok := src.(*blockio.SnapshotSource)
	if !ok {
		return nil, diskoerrors.ErrInvalidArgument.WithMessage(
			"restore: source must be a snapshot")
	}
	if !cfg.WriteEnable {
		return nil, diskoerrors.ErrNotPermitted.WithMessage(
			"restore action requires write-enable")
	}

	dest, err := blockio.Open(cfg.Target, blockio.NewKindSet(blockio.KindDevice, blockio.KindSnapshot), true)
	if err != nil {
		return nil, err
	}
	defer dest.Close()

	warns := accounting.NewWarnings()
	restored := 0
	for _, n := range snap.Sectors() {
		data, err := snap.ReadSector(n)
		if err != nil {
			warns.Addf(accounting.SeverityHard, "restore: could not read sector %d from snapshot: %s", n, err)
			continue
		}
		if err := dest.WriteSector(n, data); err != nil {
			warns.Addf(accounting.SeverityHard, "restore: could not write sector %d: %s", n, err)
			continue
		}
		restored++
	}

	return &Report{Warnings: warns, ExitCode: exitCodeFor(warns), CopyBytes: restored * blockio.SectorSize}, nil
}

// dispatchCapture implements ActionSave/ActionCRC: run a full walk through
// a capture.Recorder so every sector the walk reads is mirrored into a
// snapshot or crc-sidecar file, finalized on success and discarded on
// failure (§7's "capture file, if any, is deleted" fatal-unwind rule).
func dispatchCapture(src blockio.Source, cfg Config) (*Report, error) {
	if err := capture.CheckNotSameTarget(cfg.Source, cfg.Target); err != nil {
		return nil, err
	}

	dest, err := os.Create(cfg.Target)
	if err != nil {
		return nil, diskoerrors.ErrIOFailed.WrapError(err)
	}

	warns := accounting.NewWarnings()
	total := src.TotalSectors()
	if total == 0 {
		// A snapshot source always reports 0 (it carries no total-sectors
		// field); fall back to how many sector records it actually holds,
		// mirroring cmd_save's DIO_DISK|DIO_SNAPSHOT source.
		if snap, ok := src.(*blockio.SnapshotSource); ok {
			total = snap.RecordCount()
		}
	}
	if total == 0 {
		dest.Close()
		os.Remove(cfg.Target)
		return nil, diskoerrors.ErrInvalidArgument.WithMessage(
			"capture: source does not report a known sector count")
	}

	var writer *capture.Writer
	if cfg.Action == ActionCRC {
		writer, err = capture.NewCRCWriter(dest, total, warns)
	} else {
		writer, err = capture.NewSnapshotWriter(dest, total, warns)
	}
	if err != nil {
		dest.Close()
		os.Remove(cfg.Target)
		return nil, err
	}

	rec := capture.NewRecorder(src, writer)
	restoreRecording := rec.WithRecording(true)

	res, walkErr := runWalk(rec, cfg, warns)
	restoreRecording()

	if walkErr != nil {
		writer.Abort()
		dest.Close()
		os.Remove(cfg.Target)
		return nil, walkErr
	}
	if err := writer.Close(); err != nil {
		os.Remove(cfg.Target)
		return nil, err
	}

	rep := &Report{Kind: res.kind, Warnings: warns, ExitCode: exitCodeFor(warns)}
	switch res.kind {
	case FSFAT:
		fr := res.fatWalker.Report
		rep.FAT = &fr
	case FSHPFS:
		hr := res.hpfsWalker.Report
		rep.HPFS = &hr
	}
	return rep, nil
}

// exitCodeFor maps a Warnings collector to §6's exit-code convention: 0
// when clean, 1 when any severity-1 warning was recorded. Fatal conditions
// never reach here -- Dispatch returns an error directly for those.
func exitCodeFor(w *accounting.Warnings) int {
	if w.HardCount() > 0 {
		return 1
	}
	return 0
}
