// Package histogram implements the fixed-size logarithmic latency
// histogram used by every worker's statistics.
//
// The shape is deliberately simple: a flat 112-bucket array, no
// allocation on the hot path, and an associative merge. 28 log2
// levels times 4 sub-buckets per level covers latencies up to 2^28
// microseconds (roughly 268 seconds) before clamping into the last
// bucket.
package histogram

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/bits"
	"time"
)

const (
	numBuckets     = 112
	bucketFraction = 4
)

// Histogram is a fixed-size, allocation-free latency histogram.
// It is not safe for concurrent use; each worker owns one and the
// monitor only ever reads a cloned snapshot (see Clone).
type Histogram struct {
	buckets    [numBuckets]uint64
	numSamples uint64
	totalNanos uint64
	minNanos   uint64
	maxNanos   uint64
}

// New returns an empty histogram.
func New() *Histogram {
	return &Histogram{minNanos: ^uint64(0)}
}

// Record adds one latency sample. O(1), branch-light, no allocation.
func (h *Histogram) Record(d time.Duration) {
	nanos := uint64(d.Nanoseconds())

	h.numSamples++
	h.totalNanos += nanos
	if nanos < h.minNanos {
		h.minNanos = nanos
	}
	if nanos > h.maxNanos {
		h.maxNanos = nanos
	}

	h.buckets[bucketIndex(nanos)]++
}

// bucketIndex maps a nanosecond latency to a bucket in [0, numBuckets).
func bucketIndex(nanos uint64) int {
	micros := nanos / 1000
	if micros == 0 {
		return 0
	}

	log2Val := 63 - bits.LeadingZeros64(micros)
	base := uint64(1) << uint(log2Val)
	offsetInLevel := micros - base
	subBucket := int((offsetInLevel * bucketFraction) / base)

	idx := log2Val*bucketFraction + subBucket
	if idx >= numBuckets {
		idx = numBuckets - 1
	}
	return idx
}

// Len reports the number of recorded samples.
func (h *Histogram) Len() uint64 { return h.numSamples }

// IsEmpty reports whether no samples have been recorded.
func (h *Histogram) IsEmpty() bool { return h.numSamples == 0 }

// Min returns the exact minimum recorded latency.
func (h *Histogram) Min() time.Duration {
	if h.numSamples == 0 {
		return 0
	}
	return time.Duration(h.minNanos)
}

// Max returns the exact maximum recorded latency.
func (h *Histogram) Max() time.Duration {
	if h.numSamples == 0 {
		return 0
	}
	return time.Duration(h.maxNanos)
}

// Mean returns the arithmetic mean of all recorded latencies.
func (h *Histogram) Mean() time.Duration {
	if h.numSamples == 0 {
		return 0
	}
	return time.Duration(h.totalNanos / h.numSamples)
}

// Percentile returns the nominal lower bound of the bucket containing
// the p-th percentile, walking buckets until the cumulative count
// reaches ceil(p/100 * total). Bucket 0 reports 500ns, matching the
// sub-microsecond special case.
func (h *Histogram) Percentile(p float64) time.Duration {
	if h.numSamples == 0 {
		return 0
	}

	target := uint64(math.Ceil((p / 100.0) * float64(h.numSamples)))
	if target == 0 {
		target = 1
	}

	var cumulative uint64
	for idx, count := range h.buckets {
		cumulative += count
		if cumulative >= target {
			if idx == 0 {
				return 500 * time.Nanosecond
			}
			return time.Duration(bucketIndexToMicros(idx)) * time.Microsecond
		}
	}
	return h.Max()
}

// bucketIndexToMicros is the inverse of bucketIndex, returning the
// bucket's nominal lower-bound microsecond value.
func bucketIndexToMicros(idx int) uint64 {
	if idx == 0 {
		return 0
	}
	log2Val := idx / bucketFraction
	subBucket := idx % bucketFraction

	base := uint64(1) << uint(log2Val)
	increment := (base * uint64(subBucket)) / bucketFraction
	return base + increment
}

// Merge folds other's counts into h. O(112), associative and
// commutative, so per-worker histograms can be combined in any order.
func (h *Histogram) Merge(other *Histogram) {
	if other == nil {
		return
	}
	for i, count := range other.buckets {
		h.buckets[i] += count
	}
	h.numSamples += other.numSamples
	h.totalNanos += other.totalNanos
	if other.minNanos < h.minNanos {
		h.minNanos = other.minNanos
	}
	if other.maxNanos > h.maxNanos {
		h.maxNanos = other.maxNanos
	}
}

// Reset clears the histogram back to its empty state, in place.
func (h *Histogram) Reset() {
	h.buckets = [numBuckets]uint64{}
	h.numSamples = 0
	h.totalNanos = 0
	h.minNanos = ^uint64(0)
	h.maxNanos = 0
}

// Clone returns an independent copy, safe to hand to a reader (e.g.
// the monitor) while the original continues recording.
func (h *Histogram) Clone() *Histogram {
	c := *h
	return &c
}

// gobState mirrors Histogram's private fields with exported names so
// gob can encode/decode it; the distributed protocol ships histograms
// over the wire inside a WorkerStatsSnapshot (see pkg/protocol), the
// same role bincode::serialize(&histogram) plays in the original.
type gobState struct {
	Buckets    [numBuckets]uint64
	NumSamples uint64
	TotalNanos uint64
	MinNanos   uint64
	MaxNanos   uint64
}

// GobEncode implements gob.GobEncoder.
func (h *Histogram) GobEncode() ([]byte, error) {
	state := gobState{
		Buckets:    h.buckets,
		NumSamples: h.numSamples,
		TotalNanos: h.totalNanos,
		MinNanos:   h.minNanos,
		MaxNanos:   h.maxNanos,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (h *Histogram) GobDecode(data []byte) error {
	var state gobState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return err
	}
	h.buckets = state.Buckets
	h.numSamples = state.NumSamples
	h.totalNanos = state.TotalNanos
	h.minNanos = state.MinNanos
	h.maxNanos = state.MaxNanos
	return nil
}

// BucketCount returns the sample count in the given bucket, or 0 if
// index is out of range.
func (h *Histogram) BucketCount(index int) uint64 {
	if index < 0 || index >= numBuckets {
		return 0
	}
	return h.buckets[index]
}

// NumBuckets is the fixed bucket count, exported for exporters that
// need to iterate the full range.
const NumBuckets = numBuckets

// Bucket describes one exported histogram bucket, per spec.md §6.
type Bucket struct {
	Index        int   `json:"index"`
	RangeStartUs uint64 `json:"range_start_us"`
	RangeEndUs   uint64 `json:"range_end_us"`
	Count        uint64 `json:"count"`
}

// Export returns the non-empty buckets as {index, range_start_us,
// range_end_us, count} tuples; zero-count buckets are elided.
func (h *Histogram) Export() []Bucket {
	out := make([]Bucket, 0, numBuckets)
	for idx, count := range h.buckets {
		if count == 0 {
			continue
		}
		start := bucketIndexToMicros(idx)
		var end uint64
		if idx+1 < numBuckets {
			end = bucketIndexToMicros(idx + 1)
		} else {
			end = start * 2
		}
		out = append(out, Bucket{Index: idx, RangeStartUs: start, RangeEndUs: end, Count: count})
	}
	return out
}
