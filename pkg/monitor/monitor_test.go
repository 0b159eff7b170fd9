package monitor

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/flowbench/pkg/stats"
)

type fakeWorker struct {
	s *stats.Stats
}

func (f fakeWorker) Snapshot() stats.Snapshot { return f.s.Snapshot() }

func TestMonitorMergesAcrossWorkers(t *testing.T) {
	s1 := stats.New(0)
	s2 := stats.New(0)
	s1.RecordRead(4096, 10_000)
	s2.RecordWrite(4096, 20_000)

	var buf bytes.Buffer
	sink := NewTextSink(&buf)

	m := New([]WorkerSource{fakeWorker{s1}, fakeWorker{s2}}, []Sink{sink}, Options{Interval: 10 * time.Millisecond})
	m.Run()
	time.Sleep(35 * time.Millisecond)
	m.Stop()

	require.NotEmpty(t, m.Series())
	last := m.Series()[len(m.Series())-1]
	require.Equal(t, uint64(1), last.Aggregate.ReadOps)
	require.Equal(t, uint64(1), last.Aggregate.WriteOps)
	require.Contains(t, buf.String(), "read_ops=1")
}

func TestMonitorFirstTickFlaggedPartial(t *testing.T) {
	s1 := stats.New(0)
	m := New([]WorkerSource{fakeWorker{s1}}, nil, Options{Interval: time.Millisecond})
	rec := m.tick()
	require.True(t, rec.Partial)

	rec2 := m.tick()
	require.False(t, rec2.Partial)
}

func TestJSONSinkEmitsValidLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf)

	s := stats.New(0)
	s.RecordRead(1024, 5000)

	m := New([]WorkerSource{fakeWorker{s}}, nil, Options{Interval: time.Millisecond})
	rec := m.tick()
	require.NoError(t, sink.Emit(rec))

	var decoded jsonRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, uint64(1), decoded.ReadOps)
}

func TestCSVSinkWritesHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	sink := NewCSVSink(&buf)

	s := stats.New(0)
	m := New([]WorkerSource{fakeWorker{s}}, nil, Options{Interval: time.Millisecond})

	require.NoError(t, sink.Emit(m.tick()))
	require.NoError(t, sink.Emit(m.tick()))

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	require.Equal(t, 3, lines) // header + 2 rows
}

func TestFileSinkWritesAndCloses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "series.jsonl.gz")
	sink, err := NewFileSink(path, 1)
	require.NoError(t, err)

	s := stats.New(0)
	m := New([]WorkerSource{fakeWorker{s}}, nil, Options{Interval: time.Millisecond})

	require.NoError(t, sink.Emit(m.tick()))
	require.NoError(t, sink.Close())
}

func TestPrometheusSinkSkipsFirstPartialTick(t *testing.T) {
	sink := NewPrometheusSink()

	s := stats.New(0)
	s.RecordRead(4096, 1000)

	m := New([]WorkerSource{fakeWorker{s}}, nil, Options{Interval: time.Millisecond})
	require.NoError(t, sink.Emit(m.tick()))
	require.True(t, sink.haveBaseline)

	s.RecordRead(4096, 1000)
	require.NoError(t, sink.Emit(m.tick()))
}
