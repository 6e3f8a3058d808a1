package crc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompute_ReferenceVector(t *testing.T) {
	// "123456789" under poly 0x04C11DB7, init all-ones, no reflection, final
	// complement is the standard CRC-32/BZIP2 check value.
	require.EqualValues(t, 0xFC891918, Compute([]byte("123456789")))
}

func TestCompute_Deterministic(t *testing.T) {
	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = byte(i * 7)
	}

	first := Compute(buf)
	second := Compute(buf)
	require.Equal(t, first, second, "computing the CRC of the same buffer twice must agree")
}

func TestUpdater_MatchesWholeBufferCompute(t *testing.T) {
	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = byte(255 - i)
	}

	whole := Compute(buf)

	u := NewUpdater()
	for _, b := range buf {
		u.Write([]byte{b})
	}
	require.Equal(t, whole, u.Sum(), "byte-by-byte updates must match the whole-buffer call")
}

func TestUpdater_ChunkedMatchesWholeBuffer(t *testing.T) {
	buf := []byte("the quick brown fox jumps over the lazy dog, 1234567890")
	whole := Compute(buf)

	u := NewUpdater()
	u.Write(buf[:10])
	u.Write(buf[10:30])
	u.Write(buf[30:])
	require.Equal(t, whole, u.Sum())
}

func TestTable_FirstEntriesMatchDirectConstruction(t *testing.T) {
	tbl := Table()
	require.EqualValues(t, 0, tbl[0])
	require.EqualValues(t, Polynomial, tbl[1])
}
