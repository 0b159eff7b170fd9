// Package worker implements the per-worker I/O loop: op selection,
// offset sampling, buffer checkout, issuing ops to a back-end, and
// folding completions into the worker's Stats — spec.md §4.6.
//
// The loop is a ticker-free busy loop that checks two atomic flags
// (graceful stop and hard abort) at the top of every iteration, so
// Stop and HardAbort both take effect within one iteration, never
// mid-op. It is adapted from the teacher's heartbeatLoop/
// containerExecutorLoop goroutines, which use a stop channel instead.
package worker

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/cuemby/flowbench/pkg/buffer"
	"github.com/cuemby/flowbench/pkg/config"
	"github.com/cuemby/flowbench/pkg/ioengine"
	"github.com/cuemby/flowbench/pkg/sampler"
	"github.com/cuemby/flowbench/pkg/stats"
	"github.com/cuemby/flowbench/pkg/target"
)

// Config is everything one Worker needs to run independently of its
// siblings: its slice of the target's files, the workload definition,
// and where to report statistics.
type Config struct {
	Index     int
	Workload  config.Workload
	Target    config.Target
	Windows   []target.FileWindow
	StartAt   time.Time // zero value means start immediately
	Stats     *stats.Stats
	Seed      uint64
}

type fileHandle struct {
	fileID int
	window target.FileWindow
	cursor uint64 // sequential-access byte cursor within the window
	blocks *sampler.Sampler
}

// Worker owns one back-end instance, one buffer pool, and a disjoint
// (or intentionally overlapping, per Shared distribution) slice of a
// target's files.
type Worker struct {
	index    int
	wl       config.Workload
	startAt  time.Time
	statsOut *stats.Stats

	backend ioengine.Backend
	pool    *buffer.Pool
	files   []fileHandle

	rng *rand.Rand

	pending      map[uint64]pendingOp
	nextCorrID   uint64
	opIndex      uint64
	bytesDone    uint64
	errorCount   uint64
	lastLatency  time.Duration
	runStart     time.Time

	stopRequested atomic.Bool
	hardAbort     atomic.Bool
}

type pendingOp struct {
	kind      ioengine.OpKind
	bufIdx    int
	bytes     int
	fileIdx   int
	offset    int64
	pattern   config.VerifyPattern
	submitted time.Time
}

// ErrHardAbort is returned by Run when the worker aborted without
// draining in-flight ops, per spec.md §4.6's error policy.
var ErrHardAbort = fmt.Errorf("worker: hard abort")

// New constructs a Worker: it opens every assigned file through a
// fresh back-end instance and allocates an aligned buffer pool sized
// to the workload's largest configured block, per spec.md §4.6's
// initial conditions (files opened, pool allocated and pre-filled,
// back-end initialised, ahead of the barrier gate).
func New(cfg Config) (*Worker, error) {
	if cfg.Workload.Backend == config.EngineMmap && cfg.Workload.QueueDepth > 1 {
		cfg.Workload.QueueDepth = 1 // mmap depth is clamped to 1, not an error
	}

	alignment := 1
	if cfg.Workload.Direct {
		alignment = 4096
	}

	backend, err := ioengine.New(toEngineKind(cfg.Workload.Backend), cfg.Workload.QueueDepth, alignment)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", cfg.Index, err)
	}

	blockSize := maxBlockSize(cfg.Workload)
	poolCount := cfg.Workload.QueueDepth
	if poolCount < 1 {
		poolCount = 1
	}
	pool, err := buffer.NewPool(poolCount, int(blockSize), alignment)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", cfg.Index, err)
	}

	w := &Worker{
		index:    cfg.Index,
		wl:       cfg.Workload,
		startAt:  cfg.StartAt,
		statsOut: cfg.Stats,
		backend:  backend,
		pool:     pool,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^uint64(cfg.Index)+0x9E3779B97F4A7C15)),
		pending:  make(map[uint64]pendingOp, poolCount),
	}

	for i, win := range cfg.Windows {
		direct := cfg.Workload.Direct
		fileID, err := backend.Open(win.Path, direct)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("worker %d: opening %s: %w", cfg.Index, win.Path, err)
		}

		size := win.EndOffset - win.StartOffset
		slots := size / blockSize
		if slots == 0 {
			slots = 1
		}
		s, err := sampler.New(cfg.Workload.OffsetDistribution, slots, cfg.Seed+uint64(i)+1)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("worker %d: %w", cfg.Index, err)
		}
		w.files = append(w.files, fileHandle{fileID: fileID, window: win, blocks: s})
	}

	if len(w.files) == 0 {
		w.Close()
		return nil, fmt.Errorf("worker %d: no files assigned", cfg.Index)
	}

	return w, nil
}

func toEngineKind(e config.EngineType) ioengine.Kind {
	switch e {
	case config.EngineIOUring:
		return ioengine.KindIOUring
	case config.EngineLibaio:
		return ioengine.KindLibaio
	case config.EngineMmap:
		return ioengine.KindMmap
	default:
		return ioengine.KindSync
	}
}

func maxBlockSize(wl config.Workload) uint64 {
	max := wl.DefaultBlockSize
	if max == 0 {
		max = 4096
	}
	for _, e := range wl.ReadDist {
		if e.BlockSize > max {
			max = e.BlockSize
		}
	}
	for _, e := range wl.WriteDist {
		if e.BlockSize > max {
			max = e.BlockSize
		}
	}
	return max
}

// Stop requests a graceful drain: no new ops are issued, but in-flight
// ops are reaped before Run returns.
func (w *Worker) Stop() { w.stopRequested.Store(true) }

// HardAbort requests an immediate stop after the next reap, without
// waiting for in-flight ops to drain — spec.md §4.6's "hard abort"
// stop signal, used on fatal error or operator-initiated abort.
func (w *Worker) HardAbort() { w.hardAbort.Store(true) }

// Close releases the worker's back-end file handles and buffer pool.
// Safe to call after Run returns, or during construction failure.
func (w *Worker) Close() error {
	for _, fh := range w.files {
		w.backend.Close(fh.fileID)
	}
	if w.pool != nil {
		return w.pool.Close()
	}
	return nil
}

// Run executes the main op loop described in spec.md §4.6 until the
// completion criterion is met (graceful return), Stop is called and
// in-flight ops drain (graceful return), HardAbort is called or the
// submit-error count reaches MaxErrors under ContinueOnError (returns
// ErrHardAbort), or, without ContinueOnError, a submit or reap fails
// (returns that error).
func (w *Worker) Run() error {
	if !w.startAt.IsZero() {
		if d := time.Until(w.startAt); d > 0 {
			time.Sleep(d)
		}
	}
	w.runStart = time.Now()

	draining := false
	for {
		if w.hardAbort.Load() {
			return ErrHardAbort
		}

		if !draining && (w.stopRequested.Load() || w.completionMet()) {
			draining = true
		}

		if !draining && len(w.pending) < w.wl.QueueDepth {
			if err := w.submitNext(); err != nil {
				if !w.wl.ContinueOnError {
					return err
				}
				w.errorCount++
				if w.wl.MaxErrors > 0 && w.errorCount >= w.wl.MaxErrors {
					return ErrHardAbort
				}
			}
			continue
		}

		if len(w.pending) == 0 {
			if draining {
				return nil
			}
			continue
		}

		if err := w.reapOnce(); err != nil && !w.wl.ContinueOnError {
			return err
		}
	}
}

func (w *Worker) completionMet() bool {
	switch w.wl.Completion.Mode {
	case config.CompletionDuration:
		return time.Since(w.runStart) >= time.Duration(w.wl.Completion.DurationSec)*time.Second
	case config.CompletionTotalBytes:
		return w.bytesDone >= w.wl.Completion.TotalBytes
	case config.CompletionRunUntilComplete:
		return w.bytesDone >= w.totalAssignedBytes()
	default:
		return true
	}
}

func (w *Worker) totalAssignedBytes() uint64 {
	var total uint64
	for _, fh := range w.files {
		total += fh.window.EndOffset - fh.window.StartOffset
	}
	return total
}

func (w *Worker) submitNext() error {
	bufIdx, err := w.pool.Checkout()
	if err != nil {
		// Pool exhausted with room left under queue depth: reap to
		// free a buffer and retry on the next loop iteration.
		return w.reapOnce()
	}

	kind, entry := w.pickOp()
	fh := &w.files[int(w.opIndex)%len(w.files)]
	w.opIndex++

	blockSize := entry.BlockSize
	if blockSize == 0 {
		blockSize = maxBlockSize(w.wl)
	}
	buf := w.pool.Buffer(bufIdx)[:blockSize]

	offset := w.nextOffset(fh, entry, blockSize)

	w.nextCorrID++
	corrID := w.nextCorrID
	submitted := time.Now()

	var submitErr error
	if kind == ioengine.OpWrite {
		buffer.Fill(buf, w.wl.FillPattern.ToBufferPattern(), uint64(offset))
		submitErr = w.backend.Write(fh.fileID, buf, offset, corrID)
	} else {
		submitErr = w.backend.Read(fh.fileID, buf, offset, corrID)
	}
	if submitErr != nil {
		w.pool.Return(bufIdx)
		if w.statsOut != nil {
			w.statsOut.RecordError(errKindFor(kind))
		}
		return fmt.Errorf("worker %d: %s at offset %d: %w", w.index, kind, offset, submitErr)
	}

	w.pending[corrID] = pendingOp{
		kind: kind, bufIdx: bufIdx, bytes: int(blockSize),
		fileIdx: int(w.opIndex-1) % len(w.files), offset: offset,
		pattern: w.wl.FillPattern, submitted: submitted,
	}

	if err := w.backend.SubmitBatch(); err != nil {
		return fmt.Errorf("worker %d: submit batch: %w", w.index, err)
	}

	w.applyThinkTime()
	return nil
}

func (w *Worker) reapOnce() error {
	if w.statsOut != nil {
		w.statsOut.UpdateQueueDepth(uint64(len(w.pending)))
	}

	completions, err := w.backend.Reap(len(w.pending))
	if err != nil {
		return fmt.Errorf("worker %d: reap: %w", w.index, err)
	}
	for _, c := range completions {
		op, ok := w.pending[c.CorrelationID]
		if !ok {
			continue
		}
		delete(w.pending, c.CorrelationID)
		w.pool.Return(op.bufIdx)

		latency := time.Since(op.submitted)
		w.lastLatency = latency

		if c.Err != nil {
			if w.statsOut != nil {
				w.statsOut.RecordError(errKindFor(op.kind))
			}
			continue
		}

		// A short completion (c.Bytes < the requested op.bytes) is
		// treated as an op error per spec.md §4.5, not a partial
		// success: the back-end's documented semantics never promise
		// partial transfers for a fixed-size positional op.
		if c.Bytes < op.bytes {
			if w.statsOut != nil {
				w.statsOut.RecordError(errKindFor(op.kind))
			}
			continue
		}

		w.bytesDone += uint64(op.bytes)
		if w.statsOut != nil {
			latNanos := uint64(latency.Nanoseconds())
			if op.kind == ioengine.OpWrite {
				w.statsOut.RecordWrite(uint64(op.bytes), latNanos)
			} else {
				w.statsOut.RecordRead(uint64(op.bytes), latNanos)
				if w.wl.Verify {
					buf := w.pool.Buffer(op.bufIdx)[:op.bytes]
					ok := buffer.Verify(buf, op.pattern.ToBufferPattern(), uint64(op.offset)) == -1
					w.statsOut.RecordVerify(ok)
				}
			}
			w.statsOut.RecordCoverage(uint64(op.offset), uint64(op.bytes))
		}
	}
	return nil
}

func errKindFor(k ioengine.OpKind) stats.ErrorKind {
	if k == ioengine.OpWrite {
		return stats.WriteError
	}
	return stats.ReadError
}

func (w *Worker) applyThinkTime() {
	tt := w.wl.ThinkTime
	if tt == nil || tt.ApplyEveryNOps == 0 || w.opIndex%tt.ApplyEveryNOps != 0 {
		return
	}

	var d time.Duration
	if tt.AdaptivePercent > 0 {
		d = time.Duration(float64(w.lastLatency) * tt.AdaptivePercent / 100)
	} else {
		d = time.Duration(tt.FixedMicros) * time.Microsecond
	}
	if d <= 0 {
		return
	}

	if tt.Mode == config.ThinkSpin {
		deadline := time.Now().Add(d)
		for time.Now().Before(deadline) {
			// busy-spin, per spec.md §4.6's "sleep or spin"
		}
		return
	}
	time.Sleep(d)
}
