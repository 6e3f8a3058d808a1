package accounting

import "github.com/boljen/go-bitmap"

// ShadowBitmap mirrors the volume's self-declared free/used bits, one bit
// per sector, filled in as the HPFS bitmap-indirect walk (or the FAT
// walker's FAT-table sweep) progresses. Consumers must not rely on it until
// Ready reports true, since partial data would make every unread sector
// look "free".
type ShadowBitmap struct {
	bits  bitmap.Bitmap
	size  int
	ready bool
}

// NewShadowBitmap allocates a shadow bitmap covering `size` sectors, all
// initially clear.
func NewShadowBitmap(size int) *ShadowBitmap {
	return &ShadowBitmap{bits: bitmap.New(size), size: size}
}

// MarkAllocated records that the volume's own metadata declares sector n
// allocated.
func (s *ShadowBitmap) MarkAllocated(n int) {
	s.bits.Set(n, true)
}

// IsAllocated reports whether sector n is marked allocated. It does not
// consult Ready; a sector not yet marked answers false.
func (s *ShadowBitmap) IsAllocated(n int) bool {
	if n < 0 || n >= s.size {
		return false
	}
	return s.bits.Get(n)
}

// SetReady marks the bitmap as fully loaded. Called once, after the
// bitmap-indirect (HPFS) or FAT-table (FAT) walk completes.
func (s *ShadowBitmap) SetReady() {
	s.ready = true
}

// Ready reports whether the bitmap has been fully loaded.
func (s *ShadowBitmap) Ready() bool {
	return s.ready
}

// CrossCheck records a hard warning in `warnings` if the bitmap is ready and
// sector n is not marked allocated in the shadow bitmap. It does not consult
// the usage vector itself; callers pass sectors they have found in use. It
// is a no-op before the bitmap is ready.
func (s *ShadowBitmap) CrossCheck(n int, warnings *Warnings) {
	if !s.ready {
		return
	}
	if !s.IsAllocated(n) {
		warnings.Addf(SeverityHard,
			"unit %d is in use but not marked allocated in the volume's own bitmap", n)
	}
}
