package coordinator

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/flowbench/pkg/config"
	"github.com/cuemby/flowbench/pkg/histogram"
	"github.com/cuemby/flowbench/pkg/protocol"
	"github.com/cuemby/flowbench/pkg/stats"
)

// fakeNode is a minimal stand-in for pkg/node's state machine, driven
// purely from the wire protocol, so coordinator tests never need a
// real worker/target pipeline.
func fakeNode(t *testing.T, ln net.Listener, nodeID string, heartbeats int, fail bool) {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	env, err := protocol.ReadMessage(conn)
	require.NoError(t, err)
	require.Equal(t, protocol.KindConfig, env.Kind)

	require.NoError(t, protocol.WriteMessage(conn, protocol.NewReady(protocol.ReadyMessage{
		ProtocolVersion: protocol.Version,
		NodeID:          nodeID,
		NumWorkers:      2,
	})))

	env, err = protocol.ReadMessage(conn)
	require.NoError(t, err)
	require.Equal(t, protocol.KindStart, env.Kind)

	if fail {
		require.NoError(t, protocol.WriteMessage(conn, protocol.NewError(protocol.ErrorMessage{
			NodeID:  nodeID,
			Message: "simulated failure",
		})))
		return
	}

	snap := stats.Snapshot{ReadOps: 10, Overall: histogram.New(), Read: histogram.New(), Write: histogram.New(), LockLatency: histogram.New()}
	for i := 0; i < heartbeats; i++ {
		require.NoError(t, protocol.WriteMessage(conn, protocol.NewHeartbeat(protocol.HeartbeatMessage{
			NodeID:    nodeID,
			ElapsedNs: uint64(i) * uint64(time.Second),
			Aggregate: protocol.FromSnapshot(snap, 0, 0, 0, 0),
		})))
		ackEnv, err := protocol.ReadMessage(conn)
		require.NoError(t, err)
		require.Equal(t, protocol.KindHeartbeatAck, ackEnv.Kind)
	}

	require.NoError(t, protocol.WriteMessage(conn, protocol.NewResults(protocol.ResultsMessage{
		NodeID:     nodeID,
		DurationNs: uint64(time.Second),
		Aggregate:  protocol.FromSnapshot(snap, 0, 0, 0, 0),
	})))
}

func TestCoordinatorHappyPath(t *testing.T) {
	ln1, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln1.Close()
	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln2.Close()

	go fakeNode(t, ln1, "node-a", 2, false)
	go fakeNode(t, ln2, "node-b", 2, false)

	var heartbeats int
	coord := New(Options{
		Nodes: []NodeSpec{
			{ID: "node-a", Addr: ln1.Addr().String(), WorkerIDStart: 0, WorkerIDEnd: 2},
			{ID: "node-b", Addr: ln2.Addr().String(), WorkerIDStart: 2, WorkerIDEnd: 4},
		},
		Workload: config.Workload{ReadPercent: 100, WritePercent: 0},
		Targets:  []config.Target{{Path: "/tmp/shared.bin", Distribution: config.Shared}},
	}, func(HeartbeatSample) { heartbeats++ })

	results, err := coord.Run(nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
	assert.Greater(t, heartbeats, 0)
	// Each node's heartbeat carries its own cumulative total (10 reads);
	// the live aggregate merges the latest snapshot per node, so it's
	// 2 nodes x 10, not 2 nodes x 2 heartbeats x 10.
	assert.EqualValues(t, 20, coord.Aggregate().ReadOps)
}

func TestCoordinatorNodeFailureAbortsByDefault(t *testing.T) {
	ln1, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln1.Close()
	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln2.Close()

	go fakeNode(t, ln1, "node-a", 0, true)
	go fakeNode(t, ln2, "node-b", 0, false)

	coord := New(Options{
		Nodes: []NodeSpec{
			{ID: "node-a", Addr: ln1.Addr().String(), WorkerIDStart: 0, WorkerIDEnd: 2},
			{ID: "node-b", Addr: ln2.Addr().String(), WorkerIDStart: 2, WorkerIDEnd: 4},
		},
		Workload: config.Workload{ReadPercent: 100, WritePercent: 0},
		Targets:  []config.Target{{Path: "/tmp/shared.bin", Distribution: config.Shared}},
	}, nil)

	_, err = coord.Run(nil)
	assert.Error(t, err)
}

func TestCoordinatorContinueOnWorkerFailure(t *testing.T) {
	ln1, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln1.Close()
	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln2.Close()

	go fakeNode(t, ln1, "node-a", 0, true)
	go fakeNode(t, ln2, "node-b", 0, false)

	coord := New(Options{
		Nodes: []NodeSpec{
			{ID: "node-a", Addr: ln1.Addr().String(), WorkerIDStart: 0, WorkerIDEnd: 2},
			{ID: "node-b", Addr: ln2.Addr().String(), WorkerIDStart: 2, WorkerIDEnd: 4},
		},
		Workload:                config.Workload{ReadPercent: 100, WritePercent: 0},
		Targets:                 []config.Target{{Path: "/tmp/shared.bin", Distribution: config.Shared}},
		ContinueOnWorkerFailure: true,
	}, nil)

	results, err := coord.Run(nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	var failedCount int
	for _, r := range results {
		if r.Err != nil {
			failedCount++
		}
	}
	assert.Equal(t, 1, failedCount)
}
