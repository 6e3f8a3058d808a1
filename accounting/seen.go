package accounting

import "github.com/boljen/go-bitmap"

// SeenTag identifies one of the structural pointer types a walker follows
// that can legally revisit the same unit from different callers (and so
// needs its own cycle-detection space) -- FNODE, DIRBLK, ALSEC, bad-list,
// and CPINFOSEC chains for HPFS; cluster chains for FAT.
type SeenTag int

// SeenSet tags each unit with the set of structural kinds that have visited
// it, so a pointer cycle within one structural type (e.g. an ALSEC tree
// pointing back at an ancestor ALSEC) can be detected independently of
// cycles in another type touching the same physical unit.
//
// One bitmap.Bitmap per tag, following the same boljen/go-bitmap idiom as
// accounting.ShadowBitmap and dargueta-disko's Allocator.
type SeenSet struct {
	bits map[SeenTag]bitmap.Bitmap
	size int
}

// NewSeenSet allocates a SeenSet covering `size` units.
func NewSeenSet(size int) *SeenSet {
	return &SeenSet{bits: make(map[SeenTag]bitmap.Bitmap), size: size}
}

func (s *SeenSet) bitmapFor(tag SeenTag) bitmap.Bitmap {
	b, ok := s.bits[tag]
	if !ok {
		b = bitmap.New(s.size)
		s.bits[tag] = b
	}
	return b
}

// HaveSeen sets the bit for unit n under tag, for each of the `count`
// consecutive units starting at n (count is usually 1; DIRBLKs and ALSECs
// are single units, but a cluster-chain cycle check may cover a whole run).
// It returns true if ANY of those bits were already set -- the caller
// should treat that as "stop, this is a cycle" and not recurse further.
func (s *SeenSet) HaveSeen(n int, count int, tag SeenTag) bool {
	bm := s.bitmapFor(tag)
	already := false
	for i := 0; i < count; i++ {
		idx := n + i
		if idx < 0 || idx >= s.size {
			continue
		}
		if bm.Get(idx) {
			already = true
		}
		bm.Set(idx, true)
	}
	return already
}
