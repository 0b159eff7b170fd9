package node

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/flowbench/pkg/config"
	"github.com/cuemby/flowbench/pkg/protocol"
)

// dialPair returns two ends of a loopback TCP connection, standing in
// for the coordinator and node sides of the wire protocol without any
// real coordinator package dependency.
func dialPair(t *testing.T) (coordSide, nodeSide net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		acceptCh <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	return client, <-acceptCh
}

func TestNodeHappyPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 64*1024), 0o644))

	coordConn, nodeConn := dialPair(t)
	defer coordConn.Close()

	n := New(nodeConn, Options{NodeID: "node-test"})
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- n.Run() }()

	wl := config.Workload{
		ReadPercent:      100,
		WritePercent:     0,
		DefaultBlockSize: 4096,
		QueueDepth:       1,
		Completion: config.CompletionCriterion{
			Mode:       config.CompletionTotalBytes,
			TotalBytes: 16 * 1024,
		},
	}
	tgt := config.Target{Path: path, Role: config.RegularFile, SizeBytes: 64 * 1024}

	require.NoError(t, protocol.WriteMessage(coordConn, protocol.NewConfig(protocol.ConfigMessage{
		ProtocolVersion: protocol.Version,
		NodeID:          "node-test",
		Workload:        wl,
		Targets:         []config.Target{tgt},
		WorkerIDStart:   0,
		WorkerIDEnd:     2,
		FileList:        []string{path},
	})))

	env, err := protocol.ReadMessage(coordConn)
	require.NoError(t, err)
	require.Equal(t, protocol.KindReady, env.Kind)
	require.Equal(t, 2, env.Ready.NumWorkers)

	require.NoError(t, protocol.WriteMessage(coordConn, protocol.NewStart(protocol.StartMessage{
		StartTimestampNs: time.Now().UnixNano(),
	})))

	var gotResults bool
	deadline := time.After(5 * time.Second)
	for !gotResults {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for node to report results")
		default:
		}

		env, err := protocol.ReadMessage(coordConn)
		require.NoError(t, err)
		switch env.Kind {
		case protocol.KindHeartbeat:
			require.NoError(t, protocol.WriteMessage(coordConn, protocol.NewHeartbeatAck()))
		case protocol.KindResults:
			require.Equal(t, "node-test", env.Results.NodeID)
			gotResults = true
		case protocol.KindError:
			t.Fatalf("node reported error: %s", env.Error.Message)
		}
	}

	require.NoError(t, <-runErrCh)
}

func TestNodeRejectsEmptyWorkerRange(t *testing.T) {
	coordConn, nodeConn := dialPair(t)
	defer coordConn.Close()

	n := New(nodeConn, Options{NodeID: "node-test"})
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- n.Run() }()

	require.NoError(t, protocol.WriteMessage(coordConn, protocol.NewConfig(protocol.ConfigMessage{
		ProtocolVersion: protocol.Version,
		NodeID:          "node-test",
		Workload:        config.Workload{ReadPercent: 100, QueueDepth: 1},
		Targets:         []config.Target{{Path: "/tmp/whatever", Role: config.RegularFile}},
		WorkerIDStart:   0,
		WorkerIDEnd:     0,
	})))

	env, err := protocol.ReadMessage(coordConn)
	require.NoError(t, err)
	require.Equal(t, protocol.KindError, env.Kind)

	err = <-runErrCh
	require.Error(t, err)
}
