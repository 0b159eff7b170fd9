package histogram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordBasic(t *testing.T) {
	h := New()
	require.Equal(t, uint64(0), h.Len())
	require.True(t, h.IsEmpty())

	h.Record(10 * time.Microsecond)
	require.Equal(t, uint64(1), h.Len())
	require.False(t, h.IsEmpty())
}

func TestMinMax(t *testing.T) {
	h := New()
	h.Record(5 * time.Microsecond)
	h.Record(10 * time.Microsecond)
	h.Record(3 * time.Microsecond)

	require.Equal(t, 3*time.Microsecond, h.Min())
	require.Equal(t, 10*time.Microsecond, h.Max())
	require.Equal(t, uint64(3), h.Len())
}

func TestMean(t *testing.T) {
	h := New()
	h.Record(10 * time.Microsecond)
	h.Record(20 * time.Microsecond)
	h.Record(30 * time.Microsecond)

	require.Equal(t, 20*time.Microsecond, h.Mean())
}

func TestPercentileMonotone(t *testing.T) {
	h := New()
	for i := 1; i <= 100; i++ {
		h.Record(time.Duration(i) * time.Microsecond)
	}

	p50 := h.Percentile(50)
	p99 := h.Percentile(99)
	require.LessOrEqual(t, p50, p99)
	require.GreaterOrEqual(t, p50.Microseconds(), int64(32))
	require.LessOrEqual(t, p50.Microseconds(), int64(64))
}

func TestMergeAssociative(t *testing.T) {
	h1 := New()
	h2 := New()

	h1.Record(10 * time.Microsecond)
	h1.Record(20 * time.Microsecond)
	h2.Record(30 * time.Microsecond)
	h2.Record(40 * time.Microsecond)

	h1.Merge(h2)

	require.Equal(t, uint64(4), h1.Len())
	require.Equal(t, 10*time.Microsecond, h1.Min())
	require.Equal(t, 40*time.Microsecond, h1.Max())
	require.Equal(t, 25*time.Microsecond, h1.Mean())
}

func TestMergeCommutative(t *testing.T) {
	a := New()
	a.Record(1 * time.Microsecond)
	a.Record(1000 * time.Microsecond)
	a.Record(50 * time.Microsecond)

	b := New()
	b.Record(5 * time.Microsecond)
	b.Record(500 * time.Microsecond)

	ab := a.Clone()
	ab.Merge(b)

	ba := b.Clone()
	ba.Merge(a)

	require.Equal(t, ab.Len(), ba.Len())
	require.Equal(t, ab.Min(), ba.Min())
	require.Equal(t, ab.Max(), ba.Max())
	require.Equal(t, ab.Percentile(50), ba.Percentile(50))
	require.Equal(t, ab.Percentile(99), ba.Percentile(99))
}

func TestZeroLatencyMapsToBucketZero(t *testing.T) {
	h := New()
	h.Record(0)
	h.Record(500 * time.Nanosecond)

	require.Equal(t, uint64(2), h.Len())
	require.Equal(t, time.Duration(0), h.Min())
	require.Equal(t, uint64(2), h.BucketCount(0))
}

func TestExportElidesEmptyBuckets(t *testing.T) {
	h := New()
	h.Record(10 * time.Microsecond)
	h.Record(10 * time.Microsecond)

	buckets := h.Export()
	require.Len(t, buckets, 1)
	require.Equal(t, uint64(2), buckets[0].Count)
}

func TestCloneIsIndependent(t *testing.T) {
	h := New()
	h.Record(10 * time.Microsecond)

	c := h.Clone()
	c.Record(20 * time.Microsecond)

	require.Equal(t, uint64(1), h.Len())
	require.Equal(t, uint64(2), c.Len())
}
