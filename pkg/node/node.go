// Package node implements the node side of spec.md §4.9's distributed
// protocol state machine: accept a coordinator connection, initialise
// workers from a Config message, wait for the Start barrier, run,
// heartbeat, and drain on Stop.
//
// Grounded on the teacher's worker/manager connection lifecycle
// (pkg/worker/worker.go's connect-register-heartbeatLoop-executorLoop
// shape) minus mTLS and gRPC: flowbench dials a plain net.Conn and
// speaks pkg/protocol's length-framed envelope instead of a generated
// gRPC client, per spec.md §4.9's own wire contract.
package node

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/flowbench/pkg/config"
	"github.com/cuemby/flowbench/pkg/log"
	"github.com/cuemby/flowbench/pkg/protocol"
	"github.com/cuemby/flowbench/pkg/resource"
	"github.com/cuemby/flowbench/pkg/stats"
	"github.com/cuemby/flowbench/pkg/target"
	"github.com/cuemby/flowbench/pkg/worker"
)

// HeartbeatInterval is how often a running node reports progress,
// per spec.md §4.9's "heartbeat every 1 s while running".
const HeartbeatInterval = time.Second

// DefaultDeadManTimeout is the dead-man's-switch default: if no
// HeartbeatAck arrives within this window the node self-terminates
// rather than run an orphaned test.
const DefaultDeadManTimeout = 10 * time.Second

// Options configures one Node.
type Options struct {
	NodeID         string
	DeadManTimeout time.Duration // zero means DefaultDeadManTimeout
	Resource       *resource.Tracker
}

// Node drives one coordinator connection through the full protocol
// state machine described in spec.md §4.9.
type Node struct {
	id             string
	conn           net.Conn
	deadManTimeout time.Duration
	resourceTrk    *resource.Tracker

	workers     []*worker.Worker
	workerStats []*stats.Stats

	writeMu sync.Mutex

	lastAckAt   time.Time
	lastAckMu   sync.Mutex
}

// New wraps an already-accepted or already-dialed connection.
func New(conn net.Conn, opts Options) *Node {
	timeout := opts.DeadManTimeout
	if timeout == 0 {
		timeout = DefaultDeadManTimeout
	}
	return &Node{
		id:             opts.NodeID,
		conn:           conn,
		deadManTimeout: timeout,
		resourceTrk:    opts.Resource,
	}
}

// Run drives the node's side of the protocol to completion: it
// returns nil after sending Results and closing the connection, or an
// error if the protocol was aborted (malformed message, version
// mismatch, I/O error, or a hard worker failure).
func (n *Node) Run() error {
	logger := log.WithNodeID(n.id)
	defer n.conn.Close()

	env, err := protocol.ReadMessage(n.conn)
	if err != nil {
		return fmt.Errorf("node: reading first message: %w", err)
	}

	if env.Kind == protocol.KindPrepareFiles {
		if err := n.handlePrepareFiles(*env.PrepareFiles); err != nil {
			n.sendError(err, 0)
			return err
		}
		env, err = protocol.ReadMessage(n.conn)
		if err != nil {
			return fmt.Errorf("node: reading config after prepare: %w", err)
		}
	}

	if env.Kind != protocol.KindConfig {
		err := fmt.Errorf("node: expected Config, got %s", env.Kind)
		n.sendError(err, 0)
		return err
	}
	cfg := *env.Config

	if err := protocol.CheckVersion(cfg.ProtocolVersion); err != nil {
		n.sendError(err, 0)
		return err
	}

	if err := n.initWorkers(cfg); err != nil {
		n.sendError(err, 0)
		return err
	}

	if err := n.write(protocol.NewReady(protocol.ReadyMessage{
		ProtocolVersion: protocol.Version,
		NodeID:          n.id,
		NumWorkers:      len(n.workers),
	})); err != nil {
		return fmt.Errorf("node: sending ready: %w", err)
	}

	env, err = protocol.ReadMessage(n.conn)
	if err != nil {
		return fmt.Errorf("node: reading start: %w", err)
	}
	if env.Kind != protocol.KindStart {
		err := fmt.Errorf("node: expected Start, got %s", env.Kind)
		n.sendError(err, 0)
		return err
	}

	startAt := time.Unix(0, env.Start.StartTimestampNs)
	if d := time.Until(startAt); d > 0 {
		logger.Debug().Dur("delay", d).Msg("waiting for start barrier")
		time.Sleep(d)
	}

	return n.runLoop()
}

// handlePrepareFiles performs the optional pre-test file creation
// phase and reports back FilesReady, per spec.md §4.9's table.
func (n *Node) handlePrepareFiles(m protocol.PrepareFilesMessage) error {
	if err := protocol.CheckVersion(m.ProtocolVersion); err != nil {
		return err
	}

	start := time.Now()
	created, filled := 0, 0
	for _, path := range m.FileList {
		tgt := config.Target{
			Path:      path,
			Role:      config.RegularFile,
			SizeBytes: m.FileSize,
		}
		if err := fillOneFile(tgt, m.FillPattern, m.FillFiles); err != nil {
			return fmt.Errorf("node: preparing %s: %w", path, err)
		}
		created++
		if m.FillFiles {
			filled++
		}
	}

	return n.write(protocol.NewFilesReady(protocol.FilesReadyMessage{
		ProtocolVersion: protocol.Version,
		NodeID:          n.id,
		FilesCreated:    created,
		FilesFilled:     filled,
		DurationNs:      uint64(time.Since(start).Nanoseconds()),
	}))
}

// initWorkers partitions the node's assigned file list across its
// worker_id range and constructs one worker.Worker per id, per
// spec.md §4.7's partitioning strategies.
func (n *Node) initWorkers(cfg protocol.ConfigMessage) error {
	numWorkers := cfg.WorkerIDEnd - cfg.WorkerIDStart
	if numWorkers < 1 {
		return fmt.Errorf("node: empty worker id range [%d, %d)", cfg.WorkerIDStart, cfg.WorkerIDEnd)
	}
	if len(cfg.Targets) == 0 {
		return fmt.Errorf("node: config carries no targets")
	}
	tgt := cfg.Targets[0]

	files := cfg.FileList
	if cfg.HasFileRange {
		if cfg.FileRangeStart < 0 || cfg.FileRangeEnd > len(files) || cfg.FileRangeStart > cfg.FileRangeEnd {
			return fmt.Errorf("node: invalid file range [%d, %d) over %d files", cfg.FileRangeStart, cfg.FileRangeEnd, len(files))
		}
		files = files[cfg.FileRangeStart:cfg.FileRangeEnd]
	}
	if len(files) == 0 {
		files = []string{tgt.Path}
	}

	rt := &target.ResolvedTarget{Target: tgt, Files: files}
	windows, err := target.Partition(rt, numWorkers)
	if err != nil {
		return err
	}

	granularity := uint64(0)
	if cfg.Workload.HeatmapEnabled {
		granularity = cfg.Workload.HeatmapBucketBytes
	}

	n.workers = make([]*worker.Worker, numWorkers)
	n.workerStats = make([]*stats.Stats, numWorkers)
	for i := 0; i < numWorkers; i++ {
		st := stats.New(granularity)
		w, err := worker.New(worker.Config{
			Index:    cfg.WorkerIDStart + i,
			Workload: cfg.Workload,
			Target:   tgt,
			Windows:  windows[i],
			Stats:    st,
			Seed:     uint64(cfg.WorkerIDStart+i) + 1,
		})
		if err != nil {
			for _, prior := range n.workers[:i] {
				if prior != nil {
					prior.Close()
				}
			}
			return fmt.Errorf("node: initialising worker %d: %w", cfg.WorkerIDStart+i, err)
		}
		n.workers[i] = w
		n.workerStats[i] = st
	}
	return nil
}

// runLoop runs every worker concurrently, heartbeats every second,
// watches the dead-man's-switch, and returns once Stop is received
// and all workers have drained.
func (n *Node) runLoop() error {
	runStart := time.Now()

	var wg sync.WaitGroup
	errCh := make(chan error, len(n.workers))
	for _, w := range n.workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			if err := w.Run(); err != nil {
				errCh <- err
			}
		}(w)
	}

	runDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(runDone)
	}()

	stopCh := make(chan struct{})
	readErrCh := make(chan error, 1)
	go n.readLoop(stopCh, readErrCh)

	n.resetAck()
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()
	deadMan := time.NewTicker(n.deadManTimeout / 4)
	defer deadMan.Stop()

	var firstErr error
	for {
		select {
		case <-runDone:
			n.closeAllWorkers()
			return n.sendResults(runStart, firstErr)

		case err := <-errCh:
			if firstErr == nil {
				firstErr = err
			}
			for _, w := range n.workers {
				w.HardAbort()
			}

		case <-heartbeat.C:
			if err := n.sendHeartbeat(runStart); err != nil {
				return err
			}

		case <-deadMan.C:
			if time.Since(n.ackAge()) > n.deadManTimeout {
				for _, w := range n.workers {
					w.HardAbort()
				}
				n.closeAllWorkers()
				return fmt.Errorf("node: dead-man's-switch fired: no HeartbeatAck in %s", n.deadManTimeout)
			}

		case <-stopCh:
			for _, w := range n.workers {
				w.Stop()
			}

		case err := <-readErrCh:
			for _, w := range n.workers {
				w.HardAbort()
			}
			n.closeAllWorkers()
			return err
		}
	}
}

// readLoop reads coordinator messages concurrently with the run loop:
// Stop requests a drain, HeartbeatAck resets the dead-man's-switch.
func (n *Node) readLoop(stopCh chan<- struct{}, errCh chan<- error) {
	for {
		env, err := protocol.ReadMessage(n.conn)
		if err != nil {
			errCh <- fmt.Errorf("node: reading from coordinator: %w", err)
			return
		}
		switch env.Kind {
		case protocol.KindHeartbeatAck:
			n.resetAck()
		case protocol.KindStop:
			stopCh <- struct{}{}
			return
		}
	}
}

func (n *Node) resetAck() {
	n.lastAckMu.Lock()
	n.lastAckAt = time.Now()
	n.lastAckMu.Unlock()
}

func (n *Node) ackAge() time.Time {
	n.lastAckMu.Lock()
	defer n.lastAckMu.Unlock()
	return n.lastAckAt
}

func (n *Node) sendHeartbeat(runStart time.Time) error {
	agg := n.aggregateSnapshot()
	perWorker := make([]protocol.WorkerStatsSnapshot, len(n.workerStats))
	cpu, mem, peak := n.resourceSample()
	for i, st := range n.workerStats {
		perWorker[i] = protocol.FromSnapshot(st.Snapshot(), cpu, mem, peak, 0)
	}

	return n.write(protocol.NewHeartbeat(protocol.HeartbeatMessage{
		NodeID:       n.id,
		ElapsedNs:    uint64(time.Since(runStart).Nanoseconds()),
		Aggregate:    protocol.FromSnapshot(agg, cpu, mem, peak, 0),
		PerWorker:    perWorker,
		HasPerWorker: true,
	}))
}

func (n *Node) sendResults(runStart time.Time, runErr error) error {
	if runErr != nil {
		n.sendError(runErr, uint64(time.Since(runStart).Nanoseconds()))
		return runErr
	}

	agg := n.aggregateSnapshot()
	cpu, mem, peak := n.resourceSample()
	perWorker := make([]protocol.WorkerStatsSnapshot, len(n.workerStats))
	for i, st := range n.workerStats {
		perWorker[i] = protocol.FromSnapshot(st.Snapshot(), cpu, mem, peak, 0)
	}

	return n.write(protocol.NewResults(protocol.ResultsMessage{
		NodeID:     n.id,
		DurationNs: uint64(time.Since(runStart).Nanoseconds()),
		PerWorker:  perWorker,
		Aggregate:  protocol.FromSnapshot(agg, cpu, mem, peak, 0),
	}))
}

func (n *Node) aggregateSnapshot() stats.Snapshot {
	var agg stats.Snapshot
	for i, st := range n.workerStats {
		if i == 0 {
			agg = st.Snapshot()
			continue
		}
		agg = agg.Merge(st.Snapshot())
	}
	return agg
}

func (n *Node) resourceSample() (cpuPercent float64, memBytes, peakMemBytes uint64) {
	if n.resourceTrk == nil {
		return 0, 0, 0
	}
	n.resourceTrk.Sample()
	rs, ok := n.resourceTrk.Stats()
	if !ok {
		return 0, 0, 0
	}
	return rs.CPUPercent, rs.MemoryBytes, rs.PeakMemoryBytes
}

func (n *Node) closeAllWorkers() {
	for _, w := range n.workers {
		w.Close()
	}
}

func (n *Node) sendError(err error, elapsedNs uint64) {
	_ = n.write(protocol.NewError(protocol.ErrorMessage{
		NodeID:    n.id,
		Message:   err.Error(),
		ElapsedNs: elapsedNs,
	}))
}

func (n *Node) write(env protocol.Envelope) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	return protocol.WriteMessage(n.conn, env)
}

func fillOneFile(tgt config.Target, pattern config.VerifyPattern, fill bool) error {
	tgt.TruncateToSize = true
	tgt.RefillPattern = pattern
	tgt.RefillRequested = fill
	wl := config.Workload{FillPattern: pattern}
	_, err := target.Setup(tgt, wl, nil)
	return err
}
