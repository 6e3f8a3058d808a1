package hpfs

import (
	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
	"github.com/dargueta/fstwalk/extent"
)

// Report summarizes one HPFS walk, mirroring fat.Report's dispatcher-facing
// shape so both walkers can feed the same action layer.
type Report struct {
	Files           int
	Directories     int
	LostSectors     int // allocated per the volume's own bitmap, but never claimed
	FileExtents     *extent.Histogram
	EAExtents       *extent.Histogram
	FreeRuns        *extent.Histogram
	FoundPath       string
	FoundFNode      uint32
	FoundSize       uint32 // 0 for a directory match
	TerminatedEarly bool

	// DirListing is populated when Walker.ListDir matched a directory
	// during the walk, per the `dir` action (§4.7 "a `dir` walk formats
	// DIRENTs instead of recursing further").
	DirListing []DirEntry
}

// DirEntry is one formatted DIRENT for the `dir` action's listing.
type DirEntry struct {
	Name        string
	IsDir       bool
	Size        uint32
	FNodeSector uint32
}

// Walker drives a single HPFS volume walk: Superblock/Spareblock
// validation, the bitmap-indirect/hotfix/code-page preamble, and the
// recursive FNODE/DIRBLK walk from the root directory.
type Walker struct {
	Source   blockio.Source
	Super    *Superblock
	Spare    *Spareblock
	Vector   *accounting.Vector
	Warnings *accounting.Warnings
	Arena    *accounting.Arena
	Seen     *accounting.SeenSet
	Shadow   *accounting.ShadowBitmap
	CodePages []CodePage
	Report   Report

	// Find mirrors the dispatcher's `find`/`where` action: when non-empty,
	// the walk stops as soon as a path matching Find is reached.
	Find string

	// ListDir mirrors the dispatcher's `dir` action: when non-empty and
	// the walk reaches the directory whose label equals ListDir, its
	// entries are recorded into Report.DirListing instead of recursing
	// into any of them, and the walk stops.
	ListDir string
}

// NewWalker reads and cross-checks the Superblock and Spareblock, returning
// a Walker ready to Walk the volume.
func NewWalker(src blockio.Source, warns *accounting.Warnings) (*Walker, error) {
	superSector, err := src.ReadSector(SectorSuperblock)
	if err != nil {
		return nil, err
	}
	spareSector, err := src.ReadSector(SectorSpareblock)
	if err != nil {
		return nil, err
	}

	super, err := ReadSuperblock(src)
	if err != nil {
		return nil, err
	}
	spare, err := ReadSpareblock(src)
	if err != nil {
		return nil, err
	}
	ValidateBlocks(superSector, spareSector, super, spare, warns)

	total := int(super.TotalSectors)
	vector := accounting.NewVector(total, CanUpgrade, ClassName, warns)
	arena := accounting.NewArena(total / 16)
	seen := accounting.NewSeenSet(total)
	shadow := accounting.NewShadowBitmap(total)

	vector.UseUnit(SectorBoot, ClassSuperblock, arena.Root("boot"))
	for i := 1; i <= SectorLoaderLast; i++ {
		vector.UseUnit(i, ClassSuperblock, arena.Root("loader"))
	}
	vector.UseUnit(SectorSuperblock, ClassSuperblock, arena.Root("superblock"))
	vector.UseUnit(SectorSpareblock, ClassSpareblock, arena.Root("spareblock"))

	return &Walker{
		Source:   src,
		Super:    super,
		Spare:    spare,
		Vector:   vector,
		Warnings: warns,
		Arena:    arena,
		Seen:     seen,
		Shadow:   shadow,
		Report: Report{
			FileExtents: extent.NewHistogram(),
			EAExtents:   extent.NewHistogram(),
		},
	}, nil
}

// Walk performs the bitmap/hotfix/code-page preamble, the recursive
// directory walk rooted at Super.RootFNode, and the final allocated-vs-used
// cross-check sweep.
func (w *Walker) Walk() error {
	w.Report.FreeRuns = LoadBitmapIndirect(w.Source, w.Super.TotalSectors, w.Super.BitmapIndirect.Main, w.Vector, w.Arena, w.Shadow, w.Warnings)

	if w.Spare.Flag&SPFHFUsed != 0 {
		LoadHotfixList(w.Source, w.Spare.HotfixList, w.Spare.HotfixCount, w.Super.TotalSectors, w.Vector, w.Arena, w.Shadow, w.Warnings)
	}

	w.CodePages = LoadCodePageChain(w.Source, w.Spare.CPInfo, w.Spare.CPCount, w.Vector, w.Arena, w.Seen, w.Warnings)

	root := w.Arena.Root("/")
	stop := w.walkDirectoryFNode(w.Super.RootFNode, root, "/", w.Super.RootFNode, false, 0, false, "")
	w.Report.TerminatedEarly = stop

	w.sweepAllocation()
	return nil
}

// walkDirectoryFNode resolves the FNODE for a directory, then recurses into
// its DIRBLK B-tree, visiting each entry's FNODE in turn.
func (w *Walker) walkDirectoryFNode(secno uint32, path *accounting.Path, label string, parentFNode uint32, checkEASize bool, eaSize uint32, needEAs bool, name string) bool {
	rep, ok := WalkFNode(w.Source, secno, path, true, parentFNode, name, 0, false, needEAs, eaSize, checkEASize, w.Vector, w.Arena, w.Seen, nil, nil, w.Warnings)
	if !ok {
		return false
	}
	w.Report.Directories++

	listing := w.ListDir != "" && w.ListDir == label
	stopped := false
	WalkDirectoryTree(w.Source, rep.RootDirBlock, secno, secno, path, w.Vector, w.Arena, w.Seen, w.CodePages, w.Warnings,
		func(d DirEnt, childPath *accounting.Path) {
			if stopped {
				return
			}
			childLabel := label + d.Name

			if listing {
				w.Report.DirListing = append(w.Report.DirListing, DirEntry{
					Name:        d.Name,
					IsDir:       d.Attr&AttrDir != 0,
					Size:        d.FileSize,
					FNodeSector: d.FNodeSector,
				})
				return
			}

			if d.Attr&AttrDir != 0 {
				if w.Find != "" && w.Find == childLabel {
					w.Report.FoundPath = childLabel
					w.Report.FoundFNode = d.FNodeSector
					stopped = true
					return
				}
				if w.walkDirectoryFNode(d.FNodeSector, childPath, childLabel+"/", secno, true, d.EALength, d.Flags&DFNeedEAs != 0, d.Name) {
					stopped = true
				}
				return
			}

			if w.Find != "" && w.Find == childLabel {
				w.Report.FoundPath = childLabel
				w.Report.FoundFNode = d.FNodeSector
				w.Report.FoundSize = d.FileSize
				stopped = true
				return
			}
			w.Report.Files++
			WalkFNode(w.Source, d.FNodeSector, childPath, false, secno, d.Name, d.FileSize, true, d.Flags&DFNeedEAs != 0, d.EALength, true, w.Vector, w.Arena, w.Seen, w.Report.FileExtents, w.Report.EAExtents, w.Warnings)
		})
	if listing {
		stopped = true
	}
	return stopped
}

// sweepAllocation cross-checks every sector this walk classified against
// the volume's own bitmap, and counts allocated-but-unclaimed sectors as
// lost, mirroring do_hpfs.c's check_alloc.
func (w *Walker) sweepAllocation() {
	for n := 0; n < w.Vector.Len(); n++ {
		if w.Vector.ClassOf(n) != accounting.Empty {
			w.Shadow.CrossCheck(n, w.Warnings)
		}
	}
	w.Vector.Sweep(func(n int) {
		if w.Shadow.IsAllocated(n) {
			w.Report.LostSectors++
		}
	})
}
