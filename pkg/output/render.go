package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Format selects a final-report rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Render writes the report to w in the requested format.
func Render(w io.Writer, r Report, format Format) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, r)
	case FormatCSV:
		return renderCSV(w, r)
	case FormatText, "":
		return renderText(w, r)
	default:
		return fmt.Errorf("output: unknown format %q", format)
	}
}

func renderJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func renderText(w io.Writer, r Report) error {
	if r.RunID != "" {
		if _, err := fmt.Fprintf(w, "run %s, duration %.2fs\n", r.RunID, float64(r.DurationNs)/1e9); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(w, "duration %.2fs\n", float64(r.DurationNs)/1e9); err != nil {
			return err
		}
	}

	if err := renderOpText(w, "read", r.Read); err != nil {
		return err
	}
	if err := renderOpText(w, "write", r.Write); err != nil {
		return err
	}

	for _, m := range r.Metadata {
		if _, err := fmt.Fprintf(w, "  %-8s count=%d mean=%dns p99=%dns\n", m.Name, m.Count, m.MeanNs, m.P99Ns); err != nil {
			return err
		}
	}

	if r.Coverage != nil {
		if _, err := fmt.Fprintf(w, "coverage: %.1f%% unique (%d/%d blocks), rewrite %.1f%%\n",
			r.Coverage.CoveragePct, r.Coverage.UniqueBlocks, r.Coverage.TotalBlocks, r.Coverage.RewritePct); err != nil {
			return err
		}
	}
	if r.QueueDepth != nil {
		if _, err := fmt.Fprintf(w, "queue depth: avg=%.2f peak=%d\n", r.QueueDepth.Average, r.QueueDepth.Peak); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "cpu=%.1f%% rss=%dB peak_rss=%dB\n", r.Resource.CPUPercent, r.Resource.MemoryBytes, r.Resource.PeakMemoryBytes); err != nil {
		return err
	}

	for _, n := range r.Nodes {
		if _, err := fmt.Fprintf(w, "node %s: read_iops=%.1f write_iops=%.1f\n", n.Name, n.Read.IOPS, n.Write.IOPS); err != nil {
			return err
		}
	}

	return nil
}

func renderOpText(w io.Writer, label string, op OpReport) error {
	_, err := fmt.Fprintf(w, "%s: ops=%d bytes=%d errors=%d iops=%.1f bw=%.1fB/s mean=%dns p50=%dns p99=%dns p99.9=%dns\n",
		label, op.Ops, op.Bytes, op.Errors, op.IOPS, op.BWBytesSec, op.MeanNs, op.P50Ns, op.P99Ns, op.P999Ns)
	return err
}

func renderCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	header := []string{
		"direction", "ops", "bytes", "errors", "iops", "bw_bytes_sec",
		"mean_ns", "p50_ns", "p90_ns", "p95_ns", "p99_ns", "p999_ns",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range []struct {
		label string
		op    OpReport
	}{
		{"read", r.Read},
		{"write", r.Write},
	} {
		rec := []string{
			row.label,
			strconv.FormatUint(row.op.Ops, 10),
			strconv.FormatUint(row.op.Bytes, 10),
			strconv.FormatUint(row.op.Errors, 10),
			strconv.FormatFloat(row.op.IOPS, 'f', 2, 64),
			strconv.FormatFloat(row.op.BWBytesSec, 'f', 2, 64),
			strconv.FormatUint(row.op.MeanNs, 10),
			strconv.FormatUint(row.op.P50Ns, 10),
			strconv.FormatUint(row.op.P90Ns, 10),
			strconv.FormatUint(row.op.P95Ns, 10),
			strconv.FormatUint(row.op.P99Ns, 10),
			strconv.FormatUint(row.op.P999Ns, 10),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
