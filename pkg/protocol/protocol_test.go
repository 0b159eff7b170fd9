package protocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/flowbench/pkg/config"
	"github.com/cuemby/flowbench/pkg/histogram"
)

func sampleSnapshot() WorkerStatsSnapshot {
	overall := histogramWithSamples(10*time.Microsecond, 2*time.Millisecond)
	read := histogramWithSamples(5 * time.Microsecond)
	write := histogramWithSamples(8 * time.Microsecond)

	snap := WorkerStatsSnapshot{
		ReadOps: 100, WriteOps: 50,
		ReadBytes: 409600, WriteBytes: 204800,
		ReadErrors: 1, WriteErrors: 2, MetadataErrors: 3,
		VerifyOps: 10, VerifyFailures: 0,
		MinBytesPerOp: 4096, MaxBytesPerOp: 65536,
		AvgQueueDepth: 1.5, PeakQueueDepth: 4,
		Overall: overall, Read: read, Write: write,
		LockLatency:     histogramWithSamples(1 * time.Microsecond),
		CPUPercent:      42.5,
		MemoryBytes:     1 << 20,
		PeakMemBytes:    2 << 20,
		CoverageEnabled: true,
		UniqueBlocks:    12,
		TotalBlocks:     20,
	}
	for i := range snap.MetadataHists {
		snap.MetadataHists[i] = histogramWithSamples(time.Duration(i+1) * time.Microsecond)
		snap.MetadataOps[i] = uint64(i + 1)
	}
	return snap
}

func histogramWithSamples(durations ...time.Duration) *histogram.Histogram {
	h := histogram.New()
	for _, d := range durations {
		h.Record(d)
	}
	return h
}

func TestEnvelopeRoundTripAllKinds(t *testing.T) {
	snap := sampleSnapshot()

	cases := []Envelope{
		NewPrepareFiles(PrepareFilesMessage{
			ProtocolVersion: Version,
			NodeID:          "node-a",
			FileList:        []string{"/data/f1", "/data/f2"},
			FileSize:        1 << 20,
			StartOffset:     0,
			FillPattern:     config.VerifyOnes,
			FillFiles:       true,
		}),
		NewFilesReady(FilesReadyMessage{
			ProtocolVersion: Version,
			NodeID:          "node-a",
			FilesCreated:    2,
			FilesFilled:     2,
			DurationNs:      1_500_000,
		}),
		NewConfig(ConfigMessage{
			ProtocolVersion: Version,
			NodeID:          "node-a",
			Workload: config.Workload{
				ReadPercent:      70,
				WritePercent:     30,
				DefaultBlockSize: 4096,
				QueueDepth:       8,
			},
			Targets: []config.Target{
				{Path: "/data/f1", Role: config.RegularFile, SizeBytes: 1 << 20},
			},
			WorkerIDStart:      0,
			WorkerIDEnd:        4,
			FileList:           []string{"/data/f1"},
			FileRangeStart:     0,
			FileRangeEnd:       1,
			HasFileRange:       true,
			SkipPreallocation:  false,
			MonitorIntervalSec: 1,
		}),
		NewReady(ReadyMessage{ProtocolVersion: Version, NodeID: "node-a", NumWorkers: 4}),
		NewStart(StartMessage{StartTimestampNs: 1_700_000_000_000_000_000}),
		NewHeartbeat(HeartbeatMessage{
			NodeID:       "node-a",
			ElapsedNs:    2_000_000_000,
			Aggregate:    snap,
			PerWorker:    []WorkerStatsSnapshot{snap},
			HasPerWorker: true,
		}),
		NewHeartbeatAck(),
		NewStop(),
		NewResults(ResultsMessage{
			NodeID:     "node-a",
			DurationNs: 10_000_000_000,
			PerWorker:  []WorkerStatsSnapshot{snap},
			Aggregate:  snap,
		}),
		NewError(ErrorMessage{NodeID: "node-a", Message: "disk full", ElapsedNs: 500_000}),
	}

	for _, env := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteMessage(&buf, env))

		got, err := ReadMessage(&buf)
		require.NoError(t, err)
		require.Equal(t, env.Kind, got.Kind)

		switch env.Kind {
		case KindPrepareFiles:
			require.Equal(t, env.PrepareFiles, got.PrepareFiles)
		case KindFilesReady:
			require.Equal(t, env.FilesReady, got.FilesReady)
		case KindConfig:
			require.Equal(t, env.Config, got.Config)
		case KindReady:
			require.Equal(t, env.Ready, got.Ready)
		case KindStart:
			require.Equal(t, env.Start, got.Start)
		case KindHeartbeat:
			require.Equal(t, env.Heartbeat.NodeID, got.Heartbeat.NodeID)
			require.Equal(t, env.Heartbeat.ElapsedNs, got.Heartbeat.ElapsedNs)
			requireSnapshotEqual(t, env.Heartbeat.Aggregate, got.Heartbeat.Aggregate)
		case KindHeartbeatAck, KindStop:
			require.Nil(t, got.PrepareFiles)
			require.Nil(t, got.Config)
		case KindResults:
			require.Equal(t, env.Results.NodeID, got.Results.NodeID)
			require.Equal(t, env.Results.DurationNs, got.Results.DurationNs)
			requireSnapshotEqual(t, env.Results.Aggregate, got.Results.Aggregate)
		case KindError:
			require.Equal(t, env.Error, got.Error)
		}
	}
}

func requireSnapshotEqual(t *testing.T, want, got WorkerStatsSnapshot) {
	t.Helper()
	require.Equal(t, want.ReadOps, got.ReadOps)
	require.Equal(t, want.WriteOps, got.WriteOps)
	require.Equal(t, want.ReadBytes, got.ReadBytes)
	require.Equal(t, want.WriteBytes, got.WriteBytes)
	require.Equal(t, want.Overall.Len(), got.Overall.Len())
	require.Equal(t, want.Overall.Mean(), got.Overall.Mean())
	require.Equal(t, want.CoverageEnabled, got.CoverageEnabled)
	require.Equal(t, want.UniqueBlocks, got.UniqueBlocks)
	for i := range want.MetadataHists {
		require.Equal(t, want.MetadataHists[i].Len(), got.MetadataHists[i].Len())
	}
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	lenPrefix := []byte{0xff, 0xff, 0xff, 0x7f} // ~2GiB, over MaxMessageSize
	buf.Write(lenPrefix)

	_, err := ReadMessage(&buf)
	require.Error(t, err)
}

func TestCheckVersionRejectsMismatch(t *testing.T) {
	require.NoError(t, CheckVersion(Version))
	require.Error(t, CheckVersion(Version+1))
}
