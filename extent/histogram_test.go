package extent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHistogram_ObserveAndCount(t *testing.T) {
	h := NewHistogram()
	h.Observe(1)
	h.Observe(1)
	h.Observe(3)

	require.EqualValues(t, 2, h.Count(1))
	require.EqualValues(t, 1, h.Count(3))
	require.EqualValues(t, 0, h.Count(2))
	require.EqualValues(t, 3, h.Total())
	require.Equal(t, 3, h.Max())
}

func TestHistogram_Buckets_SkipsEmpty(t *testing.T) {
	h := NewHistogram()
	h.Observe(0)
	h.Observe(5)
	h.Observe(5)

	require.Equal(t, []Bucket{{K: 0, Count: 1}, {K: 5, Count: 2}}, h.Buckets())
}

func TestHistogram_NegativeClampsToZero(t *testing.T) {
	h := NewHistogram()
	h.Observe(-3)
	require.EqualValues(t, 1, h.Count(0))
}
