package dispatch

import (
	"encoding/binary"

	"github.com/dargueta/fstwalk/blockio"
	diskoerrors "github.com/dargueta/fstwalk/errors"
	"github.com/dargueta/fstwalk/hpfs"
)

// FSKind identifies which walker a volume's magic selects.
type FSKind int

const (
	FSUnknown FSKind = iota
	FSFAT
	FSHPFS
)

func (k FSKind) String() string {
	switch k {
	case FSFAT:
		return "FAT"
	case FSHPFS:
		return "HPFS"
	default:
		return "unknown"
	}
}

// DetectKind inspects sector 16 for the HPFS superblock signature; anything
// else is assumed to be FAT, since the FAT boot sector carries no single
// fixed magic of its own (only the BPB jump instruction and media byte,
// which §4.5 already treats as cosmetic). A forced kind from Config always
// wins over detection.
func DetectKind(src blockio.Source, forced ForcedKind) (FSKind, error) {
	switch forced {
	case ForceFAT:
		return FSFAT, nil
	case ForceHPFS:
		return FSHPFS, nil
	}

	if src.TotalSectors() != 0 && src.TotalSectors() <= hpfs.SectorSpareblock {
		return FSFAT, nil
	}

	sector, err := src.ReadSector(hpfs.SectorSuperblock)
	if err != nil {
		if err == diskoerrors.ErrSectorNotPresent {
			return FSFAT, nil
		}
		return FSUnknown, err
	}

	sig1 := binary.LittleEndian.Uint32(sector[0:4])
	sig2 := binary.LittleEndian.Uint32(sector[4:8])
	if sig1 == hpfs.SigSuperblock1 && sig2 == hpfs.SigSuperblock2 {
		return FSHPFS, nil
	}
	return FSFAT, nil
}
