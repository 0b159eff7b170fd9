// Package coordinator implements the coordinator side of spec.md
// §4.9's distributed protocol state machine: dial every node, push
// configuration, synchronize a start barrier on a future wall-clock
// timestamp, fan in heartbeats into a cluster-wide live aggregate,
// broadcast Stop on completion or signal, and collect final Results.
//
// Grounded on pkg/node's own state machine (the opposite side of the
// same wire contract) and on the teacher's manager/reconciler
// connection-fan-out idiom (one goroutine per managed connection,
// errors funneled through a buffered channel) minus the teacher's
// gRPC/raft machinery, which spec.md §4.9 does not call for (see
// DESIGN.md).
package coordinator

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/flowbench/pkg/config"
	"github.com/cuemby/flowbench/pkg/log"
	"github.com/cuemby/flowbench/pkg/protocol"
	"github.com/cuemby/flowbench/pkg/stats"
)

// StartDelay is the δ added to "now" when choosing start_timestamp_ns,
// chosen so every node receives Start well before that instant, per
// spec.md §4.9.
const StartDelay = 1 * time.Second

// ConnectTimeout bounds how long dialing a single node may take.
const ConnectTimeout = 10 * time.Second

// NodeSpec names one node to connect to and the worker-id range and
// file-list slice it is responsible for.
type NodeSpec struct {
	ID             string
	Addr           string
	WorkerIDStart  int
	WorkerIDEnd    int
	FileRangeStart int
	FileRangeEnd   int
}

// Options configures one Coordinator run.
type Options struct {
	Nodes   []NodeSpec
	Workload config.Workload
	Targets  []config.Target
	FileList []string

	PrepareFiles      bool
	FillFiles         bool
	SkipPreallocation bool

	MonitorIntervalSec uint64

	// ContinueOnWorkerFailure excludes a failed node from the final
	// aggregate instead of aborting the whole run, per spec.md §4.9's
	// failure-semantics policy switch.
	ContinueOnWorkerFailure bool
}

// HeartbeatSample is delivered to an optional live-aggregate sink each
// time any node's heartbeat is processed.
type HeartbeatSample struct {
	NodeID    string
	ElapsedNs uint64
	Aggregate stats.Snapshot
}

// Result is one node's terminal outcome: either a final Results
// message, or the error that ended its connection.
type Result struct {
	NodeID  string
	Results protocol.ResultsMessage
	Err     error
}

// Coordinator drives Options.Nodes through the full protocol.
type Coordinator struct {
	opts Options

	mu   sync.Mutex
	conns map[string]net.Conn
	// latest holds each node's most recent heartbeat snapshot, which is
	// already a cumulative total for that node (stats.Stats counters
	// only ever increase); the live aggregate is the merge of these
	// latest-per-node snapshots, never a merge across successive
	// heartbeats from the same node.
	latest map[string]stats.Snapshot

	onHeartbeat func(HeartbeatSample)
}

// New constructs a Coordinator. onHeartbeat, if non-nil, is invoked
// synchronously from the coordinator's reactor every time a node's
// heartbeat updates the cluster-wide live aggregate (spec.md §4.9);
// it must return quickly.
func New(opts Options, onHeartbeat func(HeartbeatSample)) *Coordinator {
	return &Coordinator{
		opts:        opts,
		conns:       make(map[string]net.Conn),
		latest:      make(map[string]stats.Snapshot),
		onHeartbeat: onHeartbeat,
	}
}

// Run executes the full coordinator state machine and returns each
// node's terminal Result, plus an overall error only when the run was
// aborted outright (no ContinueOnWorkerFailure and a node failed).
func (c *Coordinator) Run(stopSignal <-chan struct{}) ([]Result, error) {
	logger := log.WithComponent("coordinator")

	if err := c.connectAll(); err != nil {
		return nil, err
	}
	defer c.closeAll()

	if c.opts.PrepareFiles {
		if err := c.prepareAllFiles(); err != nil {
			return nil, err
		}
	}

	readyCh, configErrCh := c.configureAll()
	numReady := 0
	for numReady < len(c.opts.Nodes) {
		select {
		case err := <-configErrCh:
			return nil, err
		case <-readyCh:
			numReady++
		}
	}
	logger.Info().Int("nodes", numReady).Msg("all nodes ready")

	startAt := time.Now().Add(StartDelay)
	if err := c.broadcast(protocol.NewStart(protocol.StartMessage{
		StartTimestampNs: startAt.UnixNano(),
	})); err != nil {
		return nil, err
	}

	return c.reactor(stopSignal)
}

func (c *Coordinator) connectAll() error {
	for _, n := range c.opts.Nodes {
		conn, err := net.DialTimeout("tcp", n.Addr, ConnectTimeout)
		if err != nil {
			c.closeAll()
			return fmt.Errorf("coordinator: dialing node %s at %s: %w", n.ID, n.Addr, err)
		}
		c.conns[n.ID] = conn
	}
	return nil
}

func (c *Coordinator) closeAll() {
	for _, conn := range c.conns {
		conn.Close()
	}
}

func (c *Coordinator) prepareAllFiles() error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(c.opts.Nodes))

	for _, n := range c.opts.Nodes {
		wg.Add(1)
		go func(n NodeSpec) {
			defer wg.Done()
			conn := c.conns[n.ID]
			size := uint64(0)
			if len(c.opts.Targets) > 0 {
				size = c.opts.Targets[0].SizeBytes
			}
			pattern := c.opts.Workload.FillPattern

			if err := protocol.WriteMessage(conn, protocol.NewPrepareFiles(protocol.PrepareFilesMessage{
				ProtocolVersion: protocol.Version,
				NodeID:          n.ID,
				FileList:        c.nodeFiles(n),
				FileSize:        size,
				FillPattern:     pattern,
				FillFiles:       c.opts.FillFiles,
			})); err != nil {
				errCh <- fmt.Errorf("coordinator: sending PrepareFiles to %s: %w", n.ID, err)
				return
			}

			env, err := protocol.ReadMessage(conn)
			if err != nil {
				errCh <- fmt.Errorf("coordinator: reading FilesReady from %s: %w", n.ID, err)
				return
			}
			if env.Kind != protocol.KindFilesReady {
				errCh <- fmt.Errorf("coordinator: node %s: expected FilesReady, got %s", n.ID, env.Kind)
				return
			}
		}(n)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) nodeFiles(n NodeSpec) []string {
	if n.FileRangeEnd > n.FileRangeStart && n.FileRangeEnd <= len(c.opts.FileList) {
		return c.opts.FileList[n.FileRangeStart:n.FileRangeEnd]
	}
	return c.opts.FileList
}

// configureAll sends Config to every node and reports Ready arrivals
// and any error, concurrently.
func (c *Coordinator) configureAll() (<-chan struct{}, <-chan error) {
	readyCh := make(chan struct{}, len(c.opts.Nodes))
	errCh := make(chan error, len(c.opts.Nodes))

	for _, n := range c.opts.Nodes {
		go func(n NodeSpec) {
			conn := c.conns[n.ID]

			hasRange := n.FileRangeEnd > n.FileRangeStart
			if err := protocol.WriteMessage(conn, protocol.NewConfig(protocol.ConfigMessage{
				ProtocolVersion:    protocol.Version,
				NodeID:             n.ID,
				Workload:           c.opts.Workload,
				Targets:            c.opts.Targets,
				WorkerIDStart:      n.WorkerIDStart,
				WorkerIDEnd:        n.WorkerIDEnd,
				FileList:           c.opts.FileList,
				FileRangeStart:     n.FileRangeStart,
				FileRangeEnd:       n.FileRangeEnd,
				HasFileRange:       hasRange,
				SkipPreallocation:  c.opts.SkipPreallocation,
				MonitorIntervalSec: c.opts.MonitorIntervalSec,
			})); err != nil {
				errCh <- fmt.Errorf("coordinator: sending Config to %s: %w", n.ID, err)
				return
			}

			env, err := protocol.ReadMessage(conn)
			if err != nil {
				errCh <- fmt.Errorf("coordinator: reading Ready from %s: %w", n.ID, err)
				return
			}
			switch env.Kind {
			case protocol.KindReady:
				readyCh <- struct{}{}
			case protocol.KindError:
				errCh <- fmt.Errorf("coordinator: node %s reported error: %s", n.ID, env.Error.Message)
			default:
				errCh <- fmt.Errorf("coordinator: node %s: expected Ready, got %s", n.ID, env.Kind)
			}
		}(n)
	}

	return readyCh, errCh
}

func (c *Coordinator) broadcast(env protocol.Envelope) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(c.conns))
	for id, conn := range c.conns {
		wg.Add(1)
		go func(id string, conn net.Conn) {
			defer wg.Done()
			if err := protocol.WriteMessage(conn, env); err != nil {
				errCh <- fmt.Errorf("coordinator: broadcasting %s to %s: %w", env.Kind, id, err)
			}
		}(id, conn)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// nodeMsg tags an inbound envelope with the node it arrived from, for
// the reactor's single fan-in channel.
type nodeMsg struct {
	nodeID string
	env    protocol.Envelope
	err    error
}

// reactor fans in every node's message stream, maintaining the
// cluster-wide live aggregate and reacting to completion, failure, and
// external stop requests exactly as spec.md §4.9's coordinator state
// machine describes.
func (c *Coordinator) reactor(stopSignal <-chan struct{}) ([]Result, error) {
	logger := log.WithComponent("coordinator")

	msgCh := make(chan nodeMsg, len(c.opts.Nodes)*4)
	for _, n := range c.opts.Nodes {
		go func(n NodeSpec) {
			conn := c.conns[n.ID]
			for {
				env, err := protocol.ReadMessage(conn)
				msgCh <- nodeMsg{nodeID: n.ID, env: env, err: err}
				if err != nil {
					return
				}
				if env.Kind == protocol.KindResults || env.Kind == protocol.KindError {
					return
				}
			}
		}(n)
	}

	results := make(map[string]Result, len(c.opts.Nodes))
	failed := make(map[string]bool)
	stopped := false

	for len(results) < len(c.opts.Nodes) {
		select {
		case <-stopSignal:
			if !stopped {
				stopped = true
				_ = c.broadcast(protocol.NewStop())
			}
			stopSignal = nil // don't fire again

		case m := <-msgCh:
			if m.err != nil {
				results[m.nodeID] = Result{NodeID: m.nodeID, Err: m.err}
				failed[m.nodeID] = true
				if !c.opts.ContinueOnWorkerFailure {
					_ = c.broadcast(protocol.NewStop())
					return c.collectRemaining(results, msgCh,
						fmt.Errorf("coordinator: node %s disconnected: %w", m.nodeID, m.err))
				}
				continue
			}

			switch m.env.Kind {
			case protocol.KindHeartbeat:
				c.recordHeartbeat(m.nodeID, *m.env.Heartbeat)
				_ = c.writeTo(m.nodeID, protocol.NewHeartbeatAck())

			case protocol.KindResults:
				results[m.nodeID] = Result{NodeID: m.nodeID, Results: *m.env.Results}

			case protocol.KindError:
				err := fmt.Errorf("coordinator: node %s reported error: %s", m.nodeID, m.env.Error.Message)
				results[m.nodeID] = Result{NodeID: m.nodeID, Err: err}
				failed[m.nodeID] = true
				if !c.opts.ContinueOnWorkerFailure {
					_ = c.broadcast(protocol.NewStop())
					return c.collectRemaining(results, msgCh, err)
				}
			}
		}
	}

	logger.Info().Int("nodes", len(results)).Int("failed", len(failed)).Msg("collected all node results")
	return toSlice(results, c.opts.Nodes), nil
}

// collectRemaining drains already in-flight node messages with a
// short grace period after an abort decision, so nodes that were
// already mid-Results aren't needlessly reported as failed.
func (c *Coordinator) collectRemaining(results map[string]Result, msgCh <-chan nodeMsg, abortErr error) ([]Result, error) {
	deadline := time.After(2 * time.Second)
	for len(results) < len(c.opts.Nodes) {
		select {
		case m := <-msgCh:
			if m.err != nil {
				results[m.nodeID] = Result{NodeID: m.nodeID, Err: m.err}
				continue
			}
			if m.env.Kind == protocol.KindResults {
				results[m.nodeID] = Result{NodeID: m.nodeID, Results: *m.env.Results}
			}
		case <-deadline:
			for _, n := range c.opts.Nodes {
				if _, ok := results[n.ID]; !ok {
					results[n.ID] = Result{NodeID: n.ID, Err: fmt.Errorf("coordinator: node %s never reported after abort", n.ID)}
				}
			}
			return toSlice(results, c.opts.Nodes), abortErr
		}
	}
	return toSlice(results, c.opts.Nodes), abortErr
}

func toSlice(results map[string]Result, nodes []NodeSpec) []Result {
	out := make([]Result, 0, len(nodes))
	for _, n := range nodes {
		if r, ok := results[n.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (c *Coordinator) recordHeartbeat(nodeID string, hb protocol.HeartbeatMessage) {
	c.mu.Lock()
	c.latest[nodeID] = hb.Aggregate.ToSnapshot()
	agg := c.mergeLatestLocked()
	c.mu.Unlock()

	if c.onHeartbeat != nil {
		c.onHeartbeat(HeartbeatSample{NodeID: nodeID, ElapsedNs: hb.ElapsedNs, Aggregate: agg})
	}
}

// mergeLatestLocked merges every node's latest known snapshot into
// one cluster-wide aggregate. Must be called with c.mu held.
func (c *Coordinator) mergeLatestLocked() stats.Snapshot {
	var agg stats.Snapshot
	first := true
	for _, snap := range c.latest {
		if first {
			agg = snap
			first = false
			continue
		}
		agg = agg.Merge(snap)
	}
	return agg
}

func (c *Coordinator) writeTo(nodeID string, env protocol.Envelope) error {
	conn, ok := c.conns[nodeID]
	if !ok {
		return fmt.Errorf("coordinator: no connection for node %s", nodeID)
	}
	return protocol.WriteMessage(conn, env)
}

// Aggregate returns the cluster-wide live aggregate, merged from the
// latest heartbeat snapshot seen from each node. Safe to call
// concurrently with Run.
func (c *Coordinator) Aggregate() stats.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mergeLatestLocked()
}
