// Package fstest provides fixture helpers for exercising the fat and hpfs
// walkers without a real block device: compressed reference images (the
// same RLE8+gzip scheme dargueta-disko/testing/images.go uses) and
// byte-slice-backed block sources built on xaionaro-go/bytesextra.
package fstest

import (
	"bytes"
	"io"
	"testing"

	"github.com/dargueta/fstwalk/blockio"
	"github.com/dargueta/fstwalk/utilities/compression"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// LoadDiskImage takes a compressed disk image and returns a stream to access
// the uncompressed data.
//
//   - Writes to the stream do not affect `compressedImageBytes`.
//   - While the stream can be written to, its size is fixed to
//     `sectorSize * totalSectors`. Attempting to write past the end of this
//     buffer will trigger an error.
func LoadDiskImage(
	t *testing.T, compressedImageBytes []byte, sectorSize, totalSectors uint,
) io.ReadWriteSeeker {
	compressedBuf := bytes.NewBuffer(compressedImageBytes)
	require.Greater(t, len(compressedImageBytes), 0, "compressed image is empty")

	imageBytes, err := compression.DecompressImageToBytes(compressedBuf)
	require.NoError(t, err)

	require.Equal(
		t,
		totalSectors*sectorSize,
		uint(len(imageBytes)),
		"uncompressed image is wrong size",
	)
	return bytesextra.NewReadWriteSeeker(imageBytes)
}

// LoadDeviceSource decompresses a reference image and wraps it as a
// blockio.DeviceSource-equivalent in-memory source, for walker tests that
// want real device semantics (a bounded, fully-populated sector space)
// without touching an actual block device.
func LoadDeviceSource(
	t *testing.T, compressedImageBytes []byte, totalSectors uint,
) blockio.Source {
	stream := LoadDiskImage(t, compressedImageBytes, blockio.SectorSize, totalSectors)
	src, err := blockio.NewMemorySource(stream, uint32(totalSectors))
	require.NoError(t, err)
	return src
}
