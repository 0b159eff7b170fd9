// Package protocol implements the distributed coordination wire
// protocol of spec.md §4.9: a length-framed binary envelope carrying a
// tagged union of message types between one coordinator and N nodes.
//
// Grounded on original_source/src/distributed/protocol.rs for the
// exact message set, field lists, and WorkerStatsSnapshot shape. The
// original uses bincode/MessagePack; flowbench uses encoding/gob,
// Go's idiomatic choice for an internal, version-checked,
// same-language wire format — this is not an RPC framework (spec.md
// §4.9 normatively specifies a raw envelope, not a service interface),
// so gRPC/protobuf are deliberately not used here (see DESIGN.md).
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/cuemby/flowbench/pkg/config"
	"github.com/cuemby/flowbench/pkg/histogram"
	"github.com/cuemby/flowbench/pkg/stats"
)

// Version is the running protocol version carried in
// Config/Ready/PrepareFiles/FilesReady; mismatches are rejected.
const Version = 1

// MaxMessageSize rejects any envelope claiming a body larger than
// 100 MiB, per spec.md §4.9.
const MaxMessageSize = 100 << 20

// Kind tags the type of message carried by an Envelope.
type Kind uint8

const (
	KindPrepareFiles Kind = iota
	KindFilesReady
	KindConfig
	KindReady
	KindStart
	KindHeartbeat
	KindHeartbeatAck
	KindStop
	KindResults
	KindError
)

func (k Kind) String() string {
	names := [...]string{"PrepareFiles", "FilesReady", "Config", "Ready", "Start", "Heartbeat", "HeartbeatAck", "Stop", "Results", "Error"}
	if int(k) < 0 || int(k) >= len(names) {
		return "Unknown"
	}
	return names[k]
}

// WorkerStatsSnapshot is the wire-serializable form of stats.Snapshot,
// flattened to the field list original_source/src/distributed/protocol.rs's
// WorkerStatsSnapshot defines, including the ten paired metadata
// counters/histograms and optional coverage/lock-latency data.
type WorkerStatsSnapshot struct {
	ReadOps, WriteOps     uint64
	ReadBytes, WriteBytes uint64
	ReadErrors            uint64
	WriteErrors           uint64
	MetadataErrors        uint64
	VerifyOps             uint64
	VerifyFailures        uint64

	MinBytesPerOp uint64
	MaxBytesPerOp uint64

	AvgQueueDepth  float64
	PeakQueueDepth uint64

	// Histograms travel over the wire as *histogram.Histogram, which
	// already implements gob.GobEncoder/GobDecoder.
	Overall *histogram.Histogram
	Read    *histogram.Histogram
	Write   *histogram.Histogram

	MetadataOps   [10]uint64
	MetadataHists [10]*histogram.Histogram

	LockLatency *histogram.Histogram

	CPUPercent   float64
	MemoryBytes  uint64
	PeakMemBytes uint64

	CoverageEnabled bool
	UniqueBlocks    uint64
	TotalBlocks     uint64
}

// FromSnapshot converts a worker's live statistics snapshot to its
// wire form.
func FromSnapshot(s stats.Snapshot, cpuPercent float64, memBytes, peakMemBytes uint64, totalBlocks uint64) WorkerStatsSnapshot {
	w := WorkerStatsSnapshot{
		ReadOps: s.ReadOps, WriteOps: s.WriteOps,
		ReadBytes: s.ReadBytes, WriteBytes: s.WriteBytes,
		ReadErrors: s.ReadErrors, WriteErrors: s.WriteErrors, MetadataErrors: s.MetadataErrors,
		VerifyOps: s.VerifyOps, VerifyFailures: s.VerifyFailures,
		MinBytesPerOp: s.MinBytesPerOp, MaxBytesPerOp: s.MaxBytesPerOp,
		AvgQueueDepth: s.AvgQueueDepth, PeakQueueDepth: s.PeakQueueDepth,
		Overall: s.Overall, Read: s.Read, Write: s.Write,
		LockLatency:     s.LockLatency,
		CPUPercent:      cpuPercent, MemoryBytes: memBytes, PeakMemBytes: peakMemBytes,
		CoverageEnabled: s.CoverageEnabled, UniqueBlocks: s.UniqueBlocks, TotalBlocks: totalBlocks,
	}
	for i := range s.MetadataHists {
		w.MetadataOps[i] = s.MetadataOps[i]
		w.MetadataHists[i] = s.MetadataHists[i]
	}
	return w
}

// ToSnapshot converts a wire-form statistics snapshot back to
// stats.Snapshot, for a coordinator re-aggregating node results.
func (w WorkerStatsSnapshot) ToSnapshot() stats.Snapshot {
	snap := stats.Snapshot{
		ReadOps: w.ReadOps, WriteOps: w.WriteOps,
		ReadBytes: w.ReadBytes, WriteBytes: w.WriteBytes,
		ReadErrors: w.ReadErrors, WriteErrors: w.WriteErrors, MetadataErrors: w.MetadataErrors,
		VerifyOps: w.VerifyOps, VerifyFailures: w.VerifyFailures,
		MinBytesPerOp: w.MinBytesPerOp, MaxBytesPerOp: w.MaxBytesPerOp,
		AvgQueueDepth: w.AvgQueueDepth, PeakQueueDepth: w.PeakQueueDepth,
		Overall: cloneOrEmpty(w.Overall), Read: cloneOrEmpty(w.Read), Write: cloneOrEmpty(w.Write),
		LockLatency:     cloneOrEmpty(w.LockLatency),
		CoverageEnabled: w.CoverageEnabled, UniqueBlocks: w.UniqueBlocks,
	}
	for i := range w.MetadataHists {
		snap.MetadataOps[i] = w.MetadataOps[i]
		snap.MetadataHists[i] = cloneOrEmpty(w.MetadataHists[i])
	}
	return snap
}

func cloneOrEmpty(h *histogram.Histogram) *histogram.Histogram {
	if h == nil {
		return histogram.New()
	}
	return h.Clone()
}

// PrepareFilesMessage distributes pre-test file creation/filling to a
// node ahead of Config (C→N).
type PrepareFilesMessage struct {
	ProtocolVersion int
	NodeID          string
	FileList        []string
	FileSize        uint64
	StartOffset     uint64
	FillPattern     config.VerifyPattern
	FillFiles       bool
}

// FilesReadyMessage reports completion of the prepare phase (N→C).
type FilesReadyMessage struct {
	ProtocolVersion int
	NodeID          string
	FilesCreated    int
	FilesFilled     int
	DurationNs      uint64
}

// ConfigMessage is the authoritative test configuration pushed to one
// node (C→N).
type ConfigMessage struct {
	ProtocolVersion    int
	NodeID             string
	Workload           config.Workload
	Targets            []config.Target
	WorkerIDStart      int
	WorkerIDEnd        int
	FileList           []string
	FileRangeStart     int
	FileRangeEnd       int
	HasFileRange       bool
	SkipPreallocation  bool
	MonitorIntervalSec uint64
}

// ReadyMessage reports that a node has initialised and is waiting
// (N→C).
type ReadyMessage struct {
	ProtocolVersion int
	NodeID          string
	NumWorkers      int
}

// StartMessage releases the barrier at an absolute wall-clock instant
// (C→N).
type StartMessage struct {
	StartTimestampNs int64
}

// HeartbeatMessage carries periodic progress (N→C).
type HeartbeatMessage struct {
	NodeID           string
	ElapsedNs        uint64
	Aggregate        WorkerStatsSnapshot
	PerWorker        []WorkerStatsSnapshot
	HasPerWorker     bool
}

// ResultsMessage carries the final per-node result set (N→C).
type ResultsMessage struct {
	NodeID     string
	DurationNs uint64
	PerWorker  []WorkerStatsSnapshot
	Aggregate  WorkerStatsSnapshot
}

// ErrorMessage signals an abort from the node side (N→C), or a
// protocol-level rejection in either direction.
type ErrorMessage struct {
	NodeID    string
	Message   string
	ElapsedNs uint64
}

// Envelope is one framed, typed message: [u32 LE length][gob body].
// At most one of the typed fields is populated, selected by Kind;
// HeartbeatAck and Stop carry none.
type Envelope struct {
	Kind Kind

	PrepareFiles *PrepareFilesMessage
	FilesReady   *FilesReadyMessage
	Config       *ConfigMessage
	Ready        *ReadyMessage
	Start        *StartMessage
	Heartbeat    *HeartbeatMessage
	Results      *ResultsMessage
	Error        *ErrorMessage
}

// WriteMessage frames and writes one envelope: a 4-byte
// little-endian length prefix followed by its gob-encoded body.
func WriteMessage(w io.Writer, env Envelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("protocol: encoding %s: %w", env.Kind, err)
	}
	if buf.Len() > MaxMessageSize {
		return fmt.Errorf("protocol: encoded %s message is %d bytes, exceeds %d byte limit", env.Kind, buf.Len(), MaxMessageSize)
	}

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("protocol: writing length prefix: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("protocol: writing body: %w", err)
	}
	return nil
}

// ReadMessage reads one framed envelope, rejecting bodies larger than
// MaxMessageSize before they are allocated.
func ReadMessage(r io.Reader) (Envelope, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Envelope{}, err // EOF propagates as-is so callers can detect a clean close
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	if n > MaxMessageSize {
		return Envelope{}, fmt.Errorf("protocol: message of %d bytes exceeds %d byte limit", n, MaxMessageSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("protocol: reading body: %w", err)
	}

	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decoding envelope: %w", err)
	}
	return env, nil
}

// Helper constructors keep call sites at coordinator/node boundaries
// from hand-assembling an Envelope's Kind/payload pair.

func NewPrepareFiles(m PrepareFilesMessage) Envelope {
	return Envelope{Kind: KindPrepareFiles, PrepareFiles: &m}
}

func NewFilesReady(m FilesReadyMessage) Envelope {
	return Envelope{Kind: KindFilesReady, FilesReady: &m}
}

func NewConfig(m ConfigMessage) Envelope {
	return Envelope{Kind: KindConfig, Config: &m}
}

func NewReady(m ReadyMessage) Envelope {
	return Envelope{Kind: KindReady, Ready: &m}
}

func NewStart(m StartMessage) Envelope {
	return Envelope{Kind: KindStart, Start: &m}
}

func NewHeartbeat(m HeartbeatMessage) Envelope {
	return Envelope{Kind: KindHeartbeat, Heartbeat: &m}
}

func NewHeartbeatAck() Envelope {
	return Envelope{Kind: KindHeartbeatAck}
}

func NewStop() Envelope {
	return Envelope{Kind: KindStop}
}

func NewResults(m ResultsMessage) Envelope {
	return Envelope{Kind: KindResults, Results: &m}
}

func NewError(m ErrorMessage) Envelope {
	return Envelope{Kind: KindError, Error: &m}
}

// CheckVersion rejects a mismatched protocol version with the
// diagnostic spec.md §4.9 requires for a malformed/version-mismatched
// message.
func CheckVersion(v int) error {
	if v != Version {
		return fmt.Errorf("protocol: version mismatch: got %d, want %d", v, Version)
	}
	return nil
}
