// Package monitor implements the periodic snapshot merge and
// time-series aggregation of spec.md §4.8: a ticker-driven goroutine
// that, on every tick, clones every worker's statistics, merges them
// into a single aggregate, appends the result to a bounded in-memory
// time-series, and fans it out to a set of fire-and-forget sinks.
//
// The monitor calls every sink's Emit synchronously on the tick. The
// queue-decoupled producer/consumer shape used by FileSink — a
// buffered channel feeding one background goroutine that owns the
// disk writes, so that sink never stalls the tick — is grounded on
// AsyncMetricsSystem's diskWriterLoop pattern (other_examples'
// jsturma-joblet metrics package): a ticker drives batched flushes,
// and the queue drops rather than blocks when a sink falls behind.
package monitor

import (
	"sync"
	"time"

	"github.com/cuemby/flowbench/pkg/log"
	"github.com/cuemby/flowbench/pkg/resource"
	"github.com/cuemby/flowbench/pkg/stats"
)

// WorkerSource is anything the monitor can snapshot. *stats.Stats
// already satisfies this.
type WorkerSource interface {
	Snapshot() stats.Snapshot
}

// Record is one tick's output: a merged aggregate, the elapsed time
// since the monitor started, and optionally each worker's own
// snapshot for sinks that want per-worker breakdowns.
type Record struct {
	Timestamp time.Time
	ElapsedNs uint64

	Aggregate stats.Snapshot
	PerWorker []stats.Snapshot

	Resource   resource.Stats
	HasResource bool

	// Partial flags the first tick produced before any worker has run
	// for a full interval, per spec.md §4.8: downstream formatters may
	// drop it.
	Partial bool
}

// Sink receives every Record the monitor produces. Emit must not
// block the monitor's tick for long; sinks that do real I/O should
// queue internally (see FileSink).
type Sink interface {
	Emit(Record) error
}

// Options configures a Monitor.
type Options struct {
	Interval       time.Duration
	BufferCapacity int // time-series ring size; 0 means unbounded append
	EmitPerWorker  bool
	Resource       *resource.Tracker // optional; nil disables resource fields
}

// Monitor periodically merges worker statistics into a time-series
// and fans each Record out to its sinks.
type Monitor struct {
	opts    Options
	workers []WorkerSource
	sinks   []Sink

	mu        sync.RWMutex
	series    []Record
	startedAt time.Time
	tickCount uint64

	stop chan struct{}
	done chan struct{}
}

// New constructs a Monitor over workers, reporting to sinks on every
// tick. Call Run to start the background goroutine.
func New(workers []WorkerSource, sinks []Sink, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Monitor{
		opts:    opts,
		workers: workers,
		sinks:   sinks,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run starts the tick loop in a new goroutine. Stop blocks until it
// exits.
func (m *Monitor) Run() {
	m.startedAt = time.Now()
	go m.loop()
}

func (m *Monitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	logger := log.WithComponent("monitor")

	for {
		select {
		case <-ticker.C:
			rec := m.tick()
			m.append(rec)
			for _, sink := range m.sinks {
				if err := sink.Emit(rec); err != nil {
					logger.Warn().Err(err).Msg("monitor sink emit failed")
				}
			}
		case <-m.stop:
			return
		}
	}
}

// tick produces one merged Record without touching the time-series
// or sinks, so it can also be called synchronously (e.g. for a final
// snapshot at drain).
func (m *Monitor) tick() Record {
	m.mu.Lock()
	m.tickCount++
	firstTick := m.tickCount == 1
	m.mu.Unlock()

	per := make([]stats.Snapshot, len(m.workers))
	for i, w := range m.workers {
		per[i] = w.Snapshot()
	}

	var agg stats.Snapshot
	if len(per) > 0 {
		agg = per[0]
		for _, s := range per[1:] {
			agg = agg.Merge(s)
		}
	}

	rec := Record{
		Timestamp: time.Now(),
		ElapsedNs: uint64(time.Since(m.startedAt).Nanoseconds()),
		Aggregate: agg,
		Partial:   firstTick,
	}
	if m.opts.EmitPerWorker {
		rec.PerWorker = per
	}
	if m.opts.Resource != nil {
		m.opts.Resource.Sample()
		if rs, ok := m.opts.Resource.Stats(); ok {
			rec.Resource, rec.HasResource = rs, true
		}
	}
	return rec
}

// Tick produces and records one Record immediately, bypassing the
// ticker — used for the final snapshot at drain so the last partial
// interval is captured before Stop returns.
func (m *Monitor) Tick() Record {
	rec := m.tick()
	m.append(rec)
	for _, sink := range m.sinks {
		_ = sink.Emit(rec)
	}
	return rec
}

func (m *Monitor) append(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.series = append(m.series, rec)
	if m.opts.BufferCapacity > 0 && len(m.series) > m.opts.BufferCapacity {
		m.series = m.series[len(m.series)-m.opts.BufferCapacity:]
	}
}

// Series returns a copy of the time-series buffer accumulated so far.
// Per spec.md's ownership model, the monitor owns the buffer and
// downstream consumers receive clones.
func (m *Monitor) Series() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, len(m.series))
	copy(out, m.series)
	return out
}

// Stop halts the tick loop and waits for it to exit. Safe to call
// once.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

// Aggregate merges the most recently observed worker snapshots
// on-demand, without advancing the tick counter or appending to the
// series — used by callers (e.g. a node assembling a Results message)
// that need a final merge outside the regular cadence.
func (m *Monitor) Aggregate() stats.Snapshot {
	per := make([]stats.Snapshot, len(m.workers))
	for i, w := range m.workers {
		per[i] = w.Snapshot()
	}
	var agg stats.Snapshot
	if len(per) > 0 {
		agg = per[0]
		for _, s := range per[1:] {
			agg = agg.Merge(s)
		}
	}
	return agg
}
