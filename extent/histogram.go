// Package extent implements the extent-count histogram the data model
// calls for: a resizable counts-by-extent-count table recording, for files
// and for EAs separately, how many objects had k extents. The HPFS
// walker's free-run fragmentation report (the `frag` action) reuses the
// same structure for "how many free runs had length k".
package extent

// Histogram counts how many objects fell into each bucket k, where k is
// usually an extent count but can be any small non-negative integer (a
// free-run length, for the fragmentation report). The backing slice grows
// on demand, so sparse large keys don't need to be pre-sized.
type Histogram struct {
	counts []uint64
	total  uint64
}

// NewHistogram returns an empty histogram.
func NewHistogram() *Histogram {
	return &Histogram{}
}

// Observe records one more object with bucket value k.
func (h *Histogram) Observe(k int) {
	if k < 0 {
		k = 0
	}
	if k >= len(h.counts) {
		grown := make([]uint64, k+1)
		copy(grown, h.counts)
		h.counts = grown
	}
	h.counts[k]++
	h.total++
}

// Count returns how many objects were observed with bucket value k.
func (h *Histogram) Count(k int) uint64 {
	if k < 0 || k >= len(h.counts) {
		return 0
	}
	return h.counts[k]
}

// Total returns how many objects were observed across all buckets.
func (h *Histogram) Total() uint64 {
	return h.total
}

// Max returns the largest bucket value observed, or -1 if the histogram is
// empty.
func (h *Histogram) Max() int {
	return len(h.counts) - 1
}

// Buckets returns a snapshot of (k, count) pairs for every bucket that has
// at least one observation, in ascending order of k.
func (h *Histogram) Buckets() []Bucket {
	var out []Bucket
	for k, c := range h.counts {
		if c > 0 {
			out = append(out, Bucket{K: k, Count: c})
		}
	}
	return out
}

// Bucket is one (k, count) pair from a Histogram snapshot.
type Bucket struct {
	K     int
	Count uint64
}
