package hpfs

import (
	"github.com/dargueta/fstwalk/accounting"
	"github.com/dargueta/fstwalk/blockio"
	diskoerrors "github.com/dargueta/fstwalk/errors"
)

// Fixed sector numbers, per §4.6 "Fixed layout".
const (
	SectorBoot       = 0
	SectorLoaderLast = 15
	SectorSuperblock = 16
	SectorSpareblock = 17
)

// ReadSuperblock reads and validates sector 16, checking both magics.
func ReadSuperblock(src blockio.Source) (*Superblock, error) {
	sector, err := src.ReadSector(SectorSuperblock)
	if err != nil {
		return nil, err
	}
	sb, err := UnpackSuperblock(sector[:])
	if err != nil {
		return nil, err
	}
	if sb.Sig1 != SigSuperblock1 || sb.Sig2 != SigSuperblock2 {
		return nil, diskoerrors.ErrBadMagic.WithMessage("hpfs: superblock signature mismatch")
	}
	return sb, nil
}

// ReadSpareblock reads and validates sector 17.
func ReadSpareblock(src blockio.Source) (*Spareblock, error) {
	sector, err := src.ReadSector(SectorSpareblock)
	if err != nil {
		return nil, err
	}
	spb, err := UnpackSpareblock(sector[:])
	if err != nil {
		return nil, err
	}
	if spb.Sig1 != SigSpareblock1 || spb.Sig2 != SigSpareblock2 {
		return nil, diskoerrors.ErrBadMagic.WithMessage("hpfs: spareblock signature mismatch")
	}
	return spb, nil
}

// ValidateBlocks checks the Superblock/Spareblock checksums and the
// structural cross-checks §4.6 names, recording hard warnings rather than
// failing the walk.
func ValidateBlocks(superSector, spareSector blockio.Sector, sb *Superblock, spb *Spareblock, warns *accounting.Warnings) {
	superChecksum := rollingChecksum(superSector[:])
	spareChecksum := rollingChecksum(spareblockChecksumInput(spareSector[:]))

	if spb.Extra[0] != superChecksum {
		warns.Addf(accounting.SeverityHard,
			"hpfs: superblock checksum mismatch: stored 0x%08x, computed 0x%08x", spb.Extra[0], superChecksum)
	}
	if spb.Extra[1] != spareChecksum {
		warns.Addf(accounting.SeverityHard,
			"hpfs: spareblock checksum mismatch: stored 0x%08x, computed 0x%08x", spb.Extra[1], spareChecksum)
	}

	if sb.DirBandFirst > sb.DirBandLast {
		warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK band start %d greater than end %d", sb.DirBandFirst, sb.DirBandLast)
	}
	if sb.DirBandSectors%4 != 0 {
		warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK band size %d is not a multiple of 4", sb.DirBandSectors)
	}
	if sb.DirBandFirst+sb.DirBandSectors-1 != sb.DirBandLast {
		warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK band size does not reconcile with first/last sector")
	}
	if sb.DirBandBitmap%4 != 0 {
		warns.Addf(accounting.SeverityHard, "hpfs: DIRBLK band bitmap not on a 2K boundary")
	}

	if ((spb.Flag&SPFHFUsed) == 0) != (spb.HotfixCount == 0) {
		warns.Addf(accounting.SeverityHard, "hpfs: spareblock hotfix-used flag disagrees with hotfix count")
	}
	if ((spb.Flag&SPFBadSec) == 0) != (sb.BadSectorCount == 0) {
		warns.Addf(accounting.SeverityHard, "hpfs: spareblock bad-sector flag disagrees with superblock bad sector count")
	}
	if ((spb.Flag&SPFSpare) == 0) != (spb.SpareDirBlks == spb.SpareDirMax) {
		warns.Addf(accounting.SeverityHard, "hpfs: spareblock spare-dirblk flag disagrees with spare counts")
	}
	if spb.SpareDirBlks > spb.SpareDirMax {
		warns.Addf(accounting.SeverityHard, "hpfs: free spare DIRBLK count %d exceeds maximum %d", spb.SpareDirBlks, spb.SpareDirMax)
	}
}
