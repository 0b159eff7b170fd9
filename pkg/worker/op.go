package worker

import (
	"github.com/cuemby/flowbench/pkg/config"
	"github.com/cuemby/flowbench/pkg/ioengine"
	"github.com/cuemby/flowbench/pkg/sampler"
)

// pickOp chooses an operation kind by weighted coin toss over
// (read_percent, write_percent), then a block-size/access entry from
// that kind's distribution list — spec.md §4.6 steps 2-3.
func (w *Worker) pickOp() (ioengine.OpKind, config.OpDistEntry) {
	if w.rng.IntN(100) < w.wl.ReadPercent {
		return ioengine.OpRead, w.pickDistEntry(w.wl.ReadDist)
	}
	return ioengine.OpWrite, w.pickDistEntry(w.wl.WriteDist)
}

func (w *Worker) pickDistEntry(entries []config.OpDistEntry) config.OpDistEntry {
	if len(entries) == 0 {
		return config.OpDistEntry{
			Access:    accessFromSampler(w.wl.OffsetDistribution.Kind),
			BlockSize: w.wl.DefaultBlockSize,
		}
	}
	roll := w.rng.IntN(100)
	cum := 0
	for _, e := range entries {
		cum += e.Weight
		if roll < cum {
			return e
		}
	}
	return entries[len(entries)-1]
}

func accessFromSampler(k sampler.Kind) config.AccessPattern {
	if k == sampler.Sequential {
		return config.Sequential
	}
	return config.Random
}

// nextOffset picks the next byte offset within fh's window for a
// blockSize-sized op: a monotonic cursor for Sequential access, the
// worker's per-file sampler (converted from a block index to a byte
// offset) for Random access — spec.md §4.6 step 4.
func (w *Worker) nextOffset(fh *fileHandle, entry config.OpDistEntry, blockSize uint64) int64 {
	winSize := fh.window.EndOffset - fh.window.StartOffset
	if blockSize == 0 || blockSize > winSize {
		blockSize = winSize
	}

	var rel uint64
	switch entry.Access {
	case config.Sequential:
		rel = fh.cursor
		fh.cursor += blockSize
		if fh.cursor+blockSize > winSize {
			fh.cursor = 0
		}
	default:
		idx := fh.blocks.Next()
		rel = idx * blockSize
		if rel+blockSize > winSize {
			rel = winSize - blockSize
		}
	}

	return int64(fh.window.StartOffset + rel)
}
