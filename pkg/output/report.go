// Package output renders a run's final summary: distinct from
// pkg/monitor's per-tick time series, this is the one-shot report
// produced once a run completes, in text, JSON, or CSV, following the
// teacher's preference for small focused render functions over a
// single do-everything formatter.
//
// The JSON shape deliberately echoes the layout of one fio job entry
// (read.iops, write.bw_bytes at the top level; there is no jobs
// array) so anyone who has read fio JSON
// output recognizes this one immediately, per the fio wrapper in the
// retrieval pack (runningwild-jolt's pkg/fio).
package output

import (
	"time"

	"github.com/cuemby/flowbench/pkg/histogram"
	"github.com/cuemby/flowbench/pkg/resource"
	"github.com/cuemby/flowbench/pkg/stats"
)

// OpReport summarizes one operation direction (read or write) over
// the life of a run.
type OpReport struct {
	Ops        uint64         `json:"total_ios"`
	Bytes      uint64         `json:"bytes"`
	Errors     uint64         `json:"errors"`
	IOPS       float64        `json:"iops"`
	BWBytesSec float64        `json:"bw_bytes"`
	MeanNs     uint64         `json:"mean_ns"`
	P50Ns      uint64         `json:"p50_ns"`
	P90Ns      uint64         `json:"p90_ns"`
	P95Ns      uint64         `json:"p95_ns"`
	P99Ns      uint64         `json:"p99_ns"`
	P999Ns     uint64         `json:"p999_ns"`
	MinNs      uint64         `json:"min_ns"`
	MaxNs      uint64         `json:"max_ns"`
	Buckets    []histogram.Bucket `json:"buckets,omitempty"`
}

// MetadataOpReport summarizes one metadata operation kind.
type MetadataOpReport struct {
	Name  string  `json:"name"`
	Count uint64  `json:"count"`
	MeanNs uint64 `json:"mean_ns"`
	P99Ns  uint64 `json:"p99_ns"`
}

// CoverageReport is present only when the run enabled block coverage
// tracking.
type CoverageReport struct {
	UniqueBlocks  uint64  `json:"unique_blocks"`
	TotalBlocks   uint64  `json:"total_blocks"`
	CoveragePct   float64 `json:"coverage_pct"`
	RewritePct    float64 `json:"rewrite_pct"`
}

// QueueDepthReport is present whenever the snapshot recorded any
// queue-depth samples (peak or average above zero). BuildReport does
// not see the configured queue depth, so depth-1 runs get one too.
type QueueDepthReport struct {
	Average float64 `json:"average"`
	Peak    uint64  `json:"peak"`
}

// NodeReport is one distributed node's contribution to a multi-node
// run; Name is "" for single-process runs.
type NodeReport struct {
	Name string        `json:"name,omitempty"`
	Read  OpReport      `json:"read"`
	Write OpReport      `json:"write"`
}

// Report is the full final summary for one run, shaped like a single
// fio job: top-level Read/Write blocks plus the distributed node
// breakdown, resource usage, and the optional extras.
type Report struct {
	RunID      string        `json:"run_id,omitempty"`
	DurationNs uint64        `json:"duration_ns"`

	Read  OpReport `json:"read"`
	Write OpReport `json:"write"`

	Metadata []MetadataOpReport `json:"metadata,omitempty"`

	Resource resource.Stats `json:"resource"`

	Coverage   *CoverageReport   `json:"coverage,omitempty"`
	QueueDepth *QueueDepthReport `json:"queue_depth,omitempty"`

	Nodes []NodeReport `json:"nodes,omitempty"`
}

// BuildReport reduces a stats.Snapshot (the cluster-wide aggregate, or
// a single process's own stats) plus its resource usage into a
// Report. perNode may be nil for a single-process run.
func BuildReport(runID string, duration time.Duration, snap stats.Snapshot, res resource.Stats, perNode map[string]stats.Snapshot) Report {
	durNs := uint64(duration.Nanoseconds())

	r := Report{
		RunID:      runID,
		DurationNs: durNs,
		Read:       buildOpReport(snap.ReadOps, snap.ReadBytes, snap.ReadErrors, snap.Read, durNs),
		Write:      buildOpReport(snap.WriteOps, snap.WriteBytes, snap.WriteErrors, snap.Write, durNs),
		Resource:   res,
	}

	for i := range snap.MetadataOps {
		if snap.MetadataOps[i] == 0 {
			continue
		}
		mr := MetadataOpReport{Name: stats.MetadataOp(i).String(), Count: snap.MetadataOps[i]}
		if h := snap.MetadataHists[i]; h != nil && !h.IsEmpty() {
			mr.MeanNs = uint64(h.Mean().Nanoseconds())
			mr.P99Ns = uint64(h.Percentile(99).Nanoseconds())
		}
		r.Metadata = append(r.Metadata, mr)
	}

	if snap.CoverageEnabled {
		total := uint64(len(snap.TouchCounts))
		if total == 0 {
			total = snap.UniqueBlocks
		}
		var pct, rewrite float64
		if total > 0 {
			pct = 100 * float64(snap.UniqueBlocks) / float64(total)
		}
		var touched, rewrites uint64
		for _, c := range snap.TouchCounts {
			touched++
			if c > 1 {
				rewrites++
			}
		}
		if touched > 0 {
			rewrite = 100 * float64(rewrites) / float64(touched)
		}
		r.Coverage = &CoverageReport{
			UniqueBlocks: snap.UniqueBlocks,
			TotalBlocks:  total,
			CoveragePct:  pct,
			RewritePct:   rewrite,
		}
	}

	if snap.PeakQueueDepth > 0 || snap.AvgQueueDepth > 0 {
		r.QueueDepth = &QueueDepthReport{Average: snap.AvgQueueDepth, Peak: snap.PeakQueueDepth}
	}

	if len(perNode) > 0 {
		for name, ns := range perNode {
			r.Nodes = append(r.Nodes, NodeReport{
				Name:  name,
				Read:  buildOpReport(ns.ReadOps, ns.ReadBytes, ns.ReadErrors, ns.Read, durNs),
				Write: buildOpReport(ns.WriteOps, ns.WriteBytes, ns.WriteErrors, ns.Write, durNs),
			})
		}
	}

	return r
}

func buildOpReport(ops, bytes, errs uint64, h *histogram.Histogram, durNs uint64) OpReport {
	or := OpReport{Ops: ops, Bytes: bytes, Errors: errs}

	if durNs > 0 {
		secs := float64(durNs) / 1e9
		or.IOPS = float64(ops) / secs
		or.BWBytesSec = float64(bytes) / secs
	}

	if h != nil && !h.IsEmpty() {
		or.MeanNs = uint64(h.Mean().Nanoseconds())
		or.MinNs = uint64(h.Min().Nanoseconds())
		or.MaxNs = uint64(h.Max().Nanoseconds())
		or.P50Ns = uint64(h.Percentile(50).Nanoseconds())
		or.P90Ns = uint64(h.Percentile(90).Nanoseconds())
		or.P95Ns = uint64(h.Percentile(95).Nanoseconds())
		or.P99Ns = uint64(h.Percentile(99).Nanoseconds())
		or.P999Ns = uint64(h.Percentile(99.9).Nanoseconds())
		or.Buckets = h.Export()
	}

	return or
}
