package blockio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"regexp"

	diskoerrors "github.com/dargueta/fstwalk/errors"
)

// deviceSpecifier matches the command surface's drive-letter device syntax
// (e.g. "c:", "C:"), as opposed to a file path naming a snapshot or crc
// sidecar.
var deviceSpecifier = regexp.MustCompile(`^[A-Za-z]:$`)

// Open infers a Source's backend from name's syntax and, for file paths,
// its leading magic, then constructs the matching Source. It fails if the
// resolved kind isn't in allowed. forWrite opens the device or file for
// writing; it is not checked against the resolved kind (snapshots support
// WriteSector by construction, crc sidecars never do).
func Open(name string, allowed KindSet, forWrite bool) (Source, error) {
	if deviceSpecifier.MatchString(name) {
		if !allowed.Allows(KindDevice) {
			return nil, diskoerrors.ErrNotSupported.WithMessage(
				fmt.Sprintf("%s resolves to a device, which isn't allowed here", name))
		}
		return openPlatformDevice(name, forWrite)
	}

	flags := os.O_RDONLY
	if forWrite {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(name, flags, 0)
	if err != nil {
		return nil, diskoerrors.ErrIOFailed.WrapError(err)
	}

	var header [4]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, diskoerrors.ErrIOFailed.WithMessage(
			fmt.Sprintf("%s: too short to carry a magic", name))
	}
	magic := binary.LittleEndian.Uint32(header[:])

	switch magic {
	case SnapshotMagic:
		if !allowed.Allows(KindSnapshot) {
			f.Close()
			return nil, diskoerrors.ErrNotSupported.WithMessage(
				fmt.Sprintf("%s is a snapshot, which isn't allowed here", name))
		}
		return OpenSnapshotSource(f)
	case CRCSidecarMagic:
		if !allowed.Allows(KindCRCSidecar) {
			f.Close()
			return nil, diskoerrors.ErrNotSupported.WithMessage(
				fmt.Sprintf("%s is a crc sidecar, which isn't allowed here", name))
		}
		return OpenCRCSidecarSource(f)
	default:
		f.Close()
		return nil, diskoerrors.ErrBadMagic.WithMessage(
			fmt.Sprintf("%s: unrecognized magic 0x%08x", name, magic))
	}
}
