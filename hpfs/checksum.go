package hpfs

import "math/bits"

// rollingChecksum implements the Superblock/Spareblock checksum: add each
// byte then rotate the 32-bit accumulator left by 7 bits. Grounded on
// do_hpfs.c's chksum(): "sum += *p; sum = rotl32(sum, 7)". This is
// unrelated to the CRC-32 kernel in package crc; HPFS never uses CRC-32.
func rollingChecksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
		sum = bits.RotateLeft32(sum, 7)
	}
	return sum
}

// spareblockChecksumInput returns a copy of the raw Spareblock sector with
// its two stored checksums' slot (Extra[1]) zeroed and bFlag masked to
// SPFVersion|SPFFastFmt, the exact transformation do_hpfs.c applies before
// hashing: "spareb_tmp.bFlag &= (SPF_VER|SPF_FASTFMT); spareb_tmp.aulExtra[1] = 0".
func spareblockChecksumInput(raw []byte) []byte {
	const flagOffset = 8   // sig1(4) + sig2(4)
	const extra1Offset = 44 // sig1+sig2(8) + flag+align+hotfix*3+sparedir*2+cpinfo+cpcount(32) + Extra[0](4)
	out := make([]byte, len(raw))
	copy(out, raw)
	out[flagOffset] &= SPFVersion | SPFFastFmt
	for i := 0; i < 4; i++ {
		out[extra1Offset+i] = 0
	}
	return out
}
