package monitor

import (
	"github.com/cuemby/flowbench/pkg/metrics"
)

// PrometheusSink folds each tick into pkg/metrics's package-level
// collectors, which already expose a promhttp handler on the default
// registry. Counters are cumulative, so the sink tracks the last
// totals it saw and adds only the delta each tick; the first tick
// (rec.Partial) has no prior baseline and is skipped to avoid
// double-counting whatever the workers already did before the first
// interval elapsed.
type PrometheusSink struct {
	haveBaseline bool
	lastReadOps  uint64
	lastWriteOps uint64
	lastReadBytes uint64
	lastWriteBytes uint64
	lastReadErrors uint64
	lastWriteErrors uint64
}

// NewPrometheusSink constructs a sink over pkg/metrics's existing
// global collectors.
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{}
}

// Emit adds this tick's delta to the cumulative counters and observes
// the latest mean latency (overall, read, write) into the latency
// histogram.
func (s *PrometheusSink) Emit(rec Record) error {
	if s.haveBaseline {
		metrics.ReadOpsTotal.Add(delta(rec.Aggregate.ReadOps, s.lastReadOps))
		metrics.WriteOpsTotal.Add(delta(rec.Aggregate.WriteOps, s.lastWriteOps))
		metrics.ReadBytesTotal.Add(delta(rec.Aggregate.ReadBytes, s.lastReadBytes))
		metrics.WriteBytesTotal.Add(delta(rec.Aggregate.WriteBytes, s.lastWriteBytes))
		if d := delta(rec.Aggregate.ReadErrors, s.lastReadErrors); d > 0 {
			metrics.OpErrorsTotal.WithLabelValues("read").Add(d)
		}
		if d := delta(rec.Aggregate.WriteErrors, s.lastWriteErrors); d > 0 {
			metrics.OpErrorsTotal.WithLabelValues("write").Add(d)
		}
	}

	s.lastReadOps = rec.Aggregate.ReadOps
	s.lastWriteOps = rec.Aggregate.WriteOps
	s.lastReadBytes = rec.Aggregate.ReadBytes
	s.lastWriteBytes = rec.Aggregate.WriteBytes
	s.lastReadErrors = rec.Aggregate.ReadErrors
	s.lastWriteErrors = rec.Aggregate.WriteErrors
	s.haveBaseline = true

	if rec.Aggregate.Overall != nil {
		metrics.LatencySeconds.WithLabelValues("overall").Observe(rec.Aggregate.Overall.Mean().Seconds())
	}
	if rec.Aggregate.Read != nil {
		metrics.LatencySeconds.WithLabelValues("read").Observe(rec.Aggregate.Read.Mean().Seconds())
	}
	if rec.Aggregate.Write != nil {
		metrics.LatencySeconds.WithLabelValues("write").Observe(rec.Aggregate.Write.Mean().Seconds())
	}
	return nil
}

func delta(current, previous uint64) float64 {
	if current <= previous {
		return 0
	}
	return float64(current - previous)
}
