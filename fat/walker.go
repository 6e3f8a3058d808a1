package fat

import (
	"fmt"

	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
	"github.com/dargueta/fstwalk/extent"
)

// eaDataSFName is the on-disk short name of the OS/2 EA container file on
// FAT volumes, per §4.5 "EA DATA. SF".
const eaDataSFName = "EA DATA. SF"

// Report summarizes one FAT walk, per §4.7's dispatcher-facing "walker
// returns a Report" design note.
type Report struct {
	Files           int
	Directories     int
	LostClusters    int
	FileExtents     *extent.Histogram
	EAExtents       *extent.Histogram
	FoundPath       string // set by a `find` action when it locates its target
	FoundCluster    uint32
	FoundSize       uint32 // 0 for a directory match
	TerminatedEarly bool // set when a find/where/dir action short-circuits the walk

	// DirListing is populated when Walker.ListDir matched a directory
	// during the walk, per the `dir` action (§4.7 "a `dir` walk formats
	// DIRENTs instead of recursing further").
	DirListing []DirEntry
}

// DirEntry is one formatted DIRENT for the `dir` action's listing.
type DirEntry struct {
	Name         string
	IsDir        bool
	Size         uint32
	FirstCluster uint32
}

// Walker drives a single FAT volume walk. It is constructed fresh per
// §3's "Lifetimes: accounting vectors live for one volume walk".
type Walker struct {
	Source   blockio.Source
	Boot     *BootSector
	Table    *Table
	Vector   *accounting.Vector
	Warnings *accounting.Warnings
	Arena    *accounting.Arena
	Report   Report

	eaData         *EADataSF
	eaDataClusters []uint32

	// Find mirrors the dispatcher's `find`/`where` action (§4.7): when
	// non-empty, the walk stops as soon as a path matching Find is
	// reached, recording it in Report.
	Find string

	// ListDir mirrors the dispatcher's `dir` action (§4.7): when non-empty
	// and the walk reaches the directory whose label equals ListDir, its
	// entries are recorded into Report.DirListing and the walk stops
	// without recursing into any of that directory's subdirectories.
	ListDir string

	// Pedantic mirrors the dispatcher's `pedantic` flag (§4.7, §9 Open
	// Question (b)): when set, a mismatch between an EA block's recorded
	// file name and the current path's name is reported. Off by default
	// since OS/2 never updates "EA DATA. SF" on rename.
	Pedantic bool
}

// NewWalker reads and validates the boot sector and cross-compares every
// FAT copy, returning a Walker ready to Walk the root directory.
func NewWalker(src blockio.Source, warns *accounting.Warnings) (*Walker, error) {
	sector, err := src.ReadSector(0)
	if err != nil {
		return nil, err
	}
	boot, err := ParseBootSector(sector)
	if err != nil {
		return nil, err
	}

	table, err := CrossCompare(src, boot, warns)
	if err != nil {
		return nil, err
	}

	vector := accounting.NewVector(int(boot.TotalClusters), CanUpgrade, ClassName, warns)

	return &Walker{
		Source:   src,
		Boot:     boot,
		Table:    table,
		Vector:   vector,
		Warnings: warns,
		Arena:    accounting.NewArena(int(boot.TotalClusters)),
		Report: Report{
			FileExtents: extent.NewHistogram(),
			EAExtents:   extent.NewHistogram(),
		},
	}, nil
}

// Walk performs the full reachability walk from the root directory and
// the post-walk lost-cluster sweep.
func (w *Walker) Walk() error {
	root := w.Arena.Root("/")

	var data []byte
	var err error
	if w.Boot.Bits == 32 {
		clusters, walkErr := w.followChain(w.Boot.RootCluster, ClassDir, root)
		if walkErr != nil {
			return walkErr
		}
		data, err = w.readClusters(clusters)
	} else {
		data, err = w.readFixedRoot()
	}
	if err != nil {
		return err
	}

	if stop, stopErr := w.walkDirectoryBytes(data, root, "/"); stopErr != nil {
		return stopErr
	} else if stop {
		w.Report.TerminatedEarly = true
		return nil
	}

	w.sweepLostClusters()
	return nil
}

func (w *Walker) readFixedRoot() ([]byte, error) {
	var out []byte
	for i := uint32(0); i < w.Boot.RootDirSectors; i++ {
		sector, err := w.Source.ReadSector(w.Boot.FirstRootSector + i)
		if err != nil {
			return nil, err
		}
		out = append(out, sector[:]...)
	}
	return out, nil
}

// followChain walks a cluster chain starting at `start`, classifying every
// cluster it visits as `class` reachable via `path`. It stops at end-of-
// chain, a bad marker, an unused (free) cluster, an out-of-range pointer,
// or a cycle (detected when UseUnit refuses to reclassify an
// already-claimed cluster) -- the terminal states of §4.7's
// "Cluster-chain walk (FAT)" state machine. End-of-chain terminates
// normally; the other four are reported as hard warnings (a cycle by
// UseUnit, the rest here) and the chain is truncated at that point.
func (w *Walker) followChain(start uint32, class accounting.Class, path *accounting.Path) ([]uint32, error) {
	var clusters []uint32
	current := start

	for {
		entry := w.Table.Entry(current)

		if current < 2 || int(current)-2 >= w.Vector.Len() {
			w.Warnings.Addf(accounting.SeverityHard,
				"fat: %s: cluster %d out of range", path.String(), current)
			break
		}

		before := w.Vector.ClassOf(int(current) - 2)
		w.Vector.UseUnit(int(current)-2, class, path)
		after := w.Vector.ClassOf(int(current) - 2)
		if before != accounting.Empty && after == before {
			// UseUnit refused the reclassification: cycle/conflict, stop.
			break
		}
		clusters = append(clusters, current)

		if w.Table.IsEndOfChain(entry) {
			break
		}
		if w.Table.IsBad(entry) {
			w.Warnings.Addf(accounting.SeverityHard,
				"fat: %s: chain hit bad-cluster marker after %d cluster(s)", path.String(), len(clusters))
			break
		}
		if w.Table.IsFree(entry) {
			w.Warnings.Addf(accounting.SeverityHard,
				"fat: %s: chain hit an unused cluster after %d cluster(s)", path.String(), len(clusters))
			break
		}
		if !w.Table.IsInRange(entry) {
			w.Warnings.Addf(accounting.SeverityHard,
				"fat: %s: chain points to out-of-range cluster 0x%x", path.String(), entry)
			break
		}
		current = entry
	}
	return clusters, nil
}

func (w *Walker) readClusters(clusters []uint32) ([]byte, error) {
	var out []byte
	for _, c := range clusters {
		sector := w.Boot.ClusterToSector(c)
		for i := uint32(0); i < uint32(w.Boot.SectorsPerCluster); i++ {
			s, err := w.Source.ReadSector(sector + i)
			if err != nil {
				return nil, err
			}
			out = append(out, s[:]...)
		}
	}
	return out, nil
}

// walkDirectoryBytes iterates the 32-byte directory entries in data,
// reassembling VFAT long names and recursing into subdirectories. It
// returns stop=true if a `find` action located its target.
func (w *Walker) walkDirectoryBytes(data []byte, dirPath *accounting.Path, dirLabel string) (stop bool, err error) {
	raw := splitDirents(data)
	listing := w.ListDir != "" && w.ListDir == dirLabel

	for i := 0; i < len(raw); {
		attr := raw[i][11]
		if raw[i][0] == DirEntFreeRest {
			break
		}
		if raw[i][0] == DirEntFree {
			i++
			continue
		}

		if attr == AttrLongName {
			name, short, consumed, ok := ReassembleLongName(raw[i:], w.Warnings, dirLabel)
			if !ok {
				i++
				continue
			}
			i += consumed
			if short.IsVolumeID() {
				continue
			}
			if listing {
				w.recordListing(name, short)
				continue
			}
			if stop, err := w.visitEntry(name, short, dirPath, dirLabel); err != nil {
				return false, err
			} else if stop {
				return true, nil
			}
			continue
		}

		short, ok := ParseDirent(raw[i])
		i++
		if !ok || short.IsVolumeID() || short.Deleted {
			continue
		}
		if short.ShortName == "." || short.ShortName == ".." {
			continue
		}
		if short.ShortName == eaDataSFName {
			w.loadEAData(short)
			continue
		}
		if listing {
			w.recordListing(short.ShortName, short)
			continue
		}
		if stop, err := w.visitEntry(short.ShortName, short, dirPath, dirLabel); err != nil {
			return false, err
		} else if stop {
			return true, nil
		}
	}
	return listing, nil
}

// recordListing appends one DIRENT to Report.DirListing for the `dir`
// action, without claiming its cluster chain or recursing into it.
func (w *Walker) recordListing(name string, d Dirent) {
	w.Report.DirListing = append(w.Report.DirListing, DirEntry{
		Name:         name,
		IsDir:        d.IsDirectory(),
		Size:         d.FileSize,
		FirstCluster: d.FirstCluster,
	})
}

func splitDirents(data []byte) [][]byte {
	var out [][]byte
	for off := 0; off+DirentSize <= len(data); off += DirentSize {
		out = append(out, data[off:off+DirentSize])
	}
	return out
}

func (w *Walker) visitEntry(name string, d Dirent, parent *accounting.Path, dirLabel string) (stop bool, err error) {
	childPath := w.Arena.Child(parent, name)
	label := dirLabel + name

	if d.IsDirectory() {
		w.Report.Directories++
		if w.Find != "" && w.Find == label {
			w.Report.FoundPath = label
			w.Report.FoundCluster = d.FirstCluster
			return true, nil
		}
		clusters, err := w.followChain(d.FirstCluster, ClassDir, childPath)
		if err != nil {
			return false, err
		}
		data, err := w.readClusters(clusters)
		if err != nil {
			return false, err
		}
		return w.walkDirectoryBytes(data, childPath, label+"/")
	}

	w.Report.Files++
	if w.Find != "" && w.Find == label {
		w.Report.FoundPath = label
		w.Report.FoundCluster = d.FirstCluster
		w.Report.FoundSize = d.FileSize
		return true, nil
	}

	clusters, err := w.followChain(d.FirstCluster, ClassFile, childPath)
	if err != nil {
		return false, err
	}

	expectedClusters := (uint64(d.FileSize) + uint64(w.Boot.BytesPerCluster) - 1) / uint64(w.Boot.BytesPerCluster)
	if d.FileSize > 0 && expectedClusters != uint64(len(clusters)) {
		w.Warnings.Addf(accounting.SeverityHard,
			"fat: %s: size %d implies %d cluster(s), chain has %d",
			label, d.FileSize, expectedClusters, len(clusters))
	}
	w.Report.FileExtents.Observe(countExtents(clusters))

	if w.Boot.Bits != 32 && d.EAPointer != 0 {
		w.resolveFileEA(int(d.EAPointer), name, label)
	}
	return false, nil
}

// resolveFileEA resolves and validates one file's EA block, per do_ea: the
// block's rel_cluster back-reference, its recorded "need" EA count against
// a fresh scan of the FEA list, and (pedantic only) whether the name OS/2
// wrote into the block still matches the file's current name.
func (w *Walker) resolveFileEA(k int, name, label string) {
	_, header, data, err := w.ResolveEA(k)
	if err != nil {
		w.Warnings.Addf(accounting.SeverityHard, "fat: %q: %s", label, err)
		return
	}
	if !header.NameTerminated(data) {
		w.Warnings.Addf(accounting.SeverityHard,
			"fat: %q: name in \"EA DATA. SF\" not null-terminated", label)
	} else if w.Pedantic && header.Name != name {
		w.Warnings.Addf(accounting.SeveritySoft,
			"fat: %q: name in \"EA DATA. SF\" does not match (%q)", label, header.Name)
	}

	needCount, ok := ScanFEAList(data, header.ListSize)
	if !ok {
		w.Warnings.Addf(accounting.SeverityHard, "fat: %q: truncated or malformed FEA list", label)
		return
	}
	if needCount != header.NeedEAs {
		w.Warnings.Addf(accounting.SeverityHard, "fat: %q: incorrect number of \"need\" extended attributes", label)
	}
	w.Report.EAExtents.Observe(1)
}

// countExtents counts the number of contiguous runs in an ordered cluster
// list, the fragmentation measure the extent tracker records.
func countExtents(clusters []uint32) int {
	if len(clusters) == 0 {
		return 0
	}
	runs := 1
	for i := 1; i < len(clusters); i++ {
		if clusters[i] != clusters[i-1]+1 {
			runs++
		}
	}
	return runs
}

// loadEAData decodes the EA DATA. SF container file's first cluster into
// the walker's EADataSF index, for later resolution of per-file EA
// pointers. Failure is a hard warning and the walk goes on without the
// index: EA support is best-effort per the Open Questions in §9.
func (w *Walker) loadEAData(d Dirent) {
	clusters, err := w.followChain(d.FirstCluster, ClassFile, w.Arena.Root(eaDataSFName))
	if err != nil || len(clusters) == 0 {
		w.Warnings.Addf(accounting.SeverityHard, "fat: could not read %s", eaDataSFName)
		return
	}
	data, err := w.readClusters(clusters[:1])
	if err != nil {
		w.Warnings.Addf(accounting.SeverityHard, "fat: could not read %s: %s", eaDataSFName, err)
		return
	}
	ea, err := ParseEADataSF(data)
	if err != nil {
		w.Warnings.Addf(accounting.SeverityHard, "fat: %s", err)
		return
	}
	w.eaData = ea
	w.eaDataClusters = clusters
}

// ResolveEA resolves a file's EA pointer k to the absolute cluster holding
// its extended attributes, reads the whole EA block (it may span several
// clusters), and validates the header's back-reference against k.
// Pedantic-only cross-checks (rename staleness, per Open Question (b)) are
// applied by the caller, which knows whether pedantic mode is active.
func (w *Walker) ResolveEA(k int) (cluster uint32, header EABlockHeader, data []byte, err error) {
	if w.eaData == nil {
		return 0, EABlockHeader{}, nil, fmt.Errorf("fat: EA DATA. SF not loaded")
	}
	relCluster, err := w.eaData.ResolveCluster(k)
	if err != nil {
		return 0, EABlockHeader{}, nil, err
	}
	if int(relCluster) >= len(w.eaDataClusters) {
		return relCluster, EABlockHeader{}, nil, fmt.Errorf(
			"fat: relative cluster %d of \"EA DATA. SF\" is out of range", relCluster)
	}

	first, err := w.readClusters(w.eaDataClusters[relCluster : relCluster+1])
	if err != nil {
		return relCluster, EABlockHeader{}, nil, err
	}
	header, err = ParseEABlockHeader(first)
	if err != nil {
		return relCluster, header, nil, err
	}
	if header.RelCluster != uint32(k) {
		w.Warnings.Addf(accounting.SeverityHard,
			"fat: EA block at cluster %d has rel_cluster %d, expected %d",
			relCluster, header.RelCluster, k)
	}

	total := eaBlockHeaderSize + 4 + header.ListSize
	clustersNeeded := (total + w.Boot.BytesPerCluster - 1) / w.Boot.BytesPerCluster
	if clustersNeeded < 1 {
		clustersNeeded = 1
	}
	end := relCluster + clustersNeeded
	if end > uint32(len(w.eaDataClusters)) {
		end = uint32(len(w.eaDataClusters))
	}
	data, err = w.readClusters(w.eaDataClusters[relCluster:end])
	if err != nil {
		return relCluster, header, nil, err
	}
	return relCluster, header, data, nil
}

// ReadFile reads a file's full content given its first cluster and
// declared size, for the dispatcher's `copy` action. It claims the chain's
// clusters as ClassFile the same way the ordinary reachability walk does,
// so a `copy` run still participates in the accounting substrate and a
// subsequent lost-cluster sweep sees them as used.
func (w *Walker) ReadFile(firstCluster uint32, size uint32) ([]byte, error) {
	clusters, err := w.followChain(firstCluster, ClassFile, w.Arena.Root("copy"))
	if err != nil {
		return nil, err
	}
	data, err := w.readClusters(clusters)
	if err != nil {
		return nil, err
	}
	if uint32(len(data)) > size {
		data = data[:size]
	}
	return data, nil
}

// sweepLostClusters finds every cluster the FAT marks allocated but that
// the walk never classified, per §4.5 "Lost clusters".
func (w *Walker) sweepLostClusters() {
	w.Vector.Sweep(func(n int) {
		cluster := uint32(n) + 2
		entry := w.Table.Entry(cluster)
		if !w.Table.IsFree(entry) {
			w.Report.LostClusters++
		}
	})
}
