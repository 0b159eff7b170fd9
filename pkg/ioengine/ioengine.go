// Package ioengine implements the I/O back-end abstraction: sync,
// io_uring-style, libaio-style, and mmap back-ends behind one
// submit/reap contract (spec.md §4.5).
//
// Go has no stdlib io_uring binding and none of the pack's third-party
// dependencies provide one, so the two ring-shaped back-ends are
// software-emulated: a bounded channel plays the submission ring, a
// small pool of goroutines performs the blocking positional I/O, and a
// second bounded channel plays the completion ring. This preserves
// the submit/reap contract and the queue-depth cap exactly — the
// testable surface spec.md §9 calls out — without claiming to be the
// real kernel facility.
package ioengine

import "fmt"

// OpKind distinguishes a read from a write operation.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
)

func (k OpKind) String() string {
	if k == OpWrite {
		return "write"
	}
	return "read"
}

// ErrorKind classifies a failed operation the way spec.md §4.5
// requires: transient (retry policy is the caller's), permanent on
// the file (close and skip it), or permanent on the op (count as an
// op error and move on).
type ErrorKind int

const (
	Transient ErrorKind = iota
	PermanentFile
	PermanentOp
)

// Completion reports the outcome of one previously submitted op.
// CorrelationID matches it back to its submission; back-ends make no
// promise that completions are reaped in submission order.
type Completion struct {
	CorrelationID uint64
	Kind          OpKind
	Bytes         int
	Err           error
	ErrKind       ErrorKind
}

// OpState is the per-op state machine spec.md §4.5 requires for async
// back-ends: Idle → Submitted → Completed.
type OpState int

const (
	StateIdle OpState = iota
	StateSubmitted
	StateCompleted
)

// Backend is the uniform operation set every I/O back-end exposes.
// FileID is an opaque handle returned by Open; back-ends are free to
// choose their own representation internally.
type Backend interface {
	// Open opens path, returning an opaque file id. direct requests
	// O_DIRECT where the back-end supports it.
	Open(path string, direct bool) (fileID int, err error)

	// Read submits (or, for the synchronous back-end, immediately
	// performs) a read of len(buf) bytes at offset. correlationID is
	// echoed back on the matching Completion.
	Read(fileID int, buf []byte, offset int64, correlationID uint64) error

	// Write submits/performs a write, symmetric to Read.
	Write(fileID int, buf []byte, offset int64, correlationID uint64) error

	// SubmitBatch drains any buffered submissions into the ring (or
	// is a no-op for back-ends with no separate submit phase).
	SubmitBatch() error

	// Reap returns up to max completed ops, blocking according to the
	// back-end's own semantics (immediate for sync/mmap, ring-poll or
	// deadline-wait for the emulated rings).
	Reap(max int) ([]Completion, error)

	// Close releases fileID. Safe to call once per successful Open.
	Close(fileID int) error

	// Sync flushes fileID's data to stable storage.
	Sync(fileID int) error

	// InFlight reports the current number of outstanding ops, for the
	// worker's queue-depth accounting.
	InFlight() int
}

// QueueDepthViolation is returned by New when a back-end's fixed
// queue-depth policy (sync = 1, mmap clamped to 1) is violated by the
// requested depth.
type QueueDepthViolation struct {
	Backend  string
	Depth    int
	Required string
}

func (e *QueueDepthViolation) Error() string {
	return fmt.Sprintf("ioengine: %s backend requires queue_depth %s, got %d", e.Backend, e.Required, e.Depth)
}

// Kind selects which concrete Backend New constructs.
type Kind int

const (
	KindSync Kind = iota
	KindIOUring
	KindLibaio
	KindMmap
)

// New constructs the requested back-end with the given queue depth
// (maximum in-flight ops) and alignment (for direct I/O buffer and
// offset checks).
func New(kind Kind, queueDepth, alignment int) (Backend, error) {
	switch kind {
	case KindSync:
		if queueDepth != 1 {
			return nil, &QueueDepthViolation{Backend: "sync", Depth: queueDepth, Required: "= 1"}
		}
		return newSyncBackend(alignment), nil
	case KindMmap:
		if queueDepth > 1 {
			queueDepth = 1 // clamped, not an error, per spec.md §4.5
		}
		return newMmapBackend(alignment), nil
	case KindIOUring:
		return newRingBackend("io_uring", queueDepth, alignment, true), nil
	case KindLibaio:
		return newRingBackend("libaio", queueDepth, alignment, false), nil
	default:
		return nil, fmt.Errorf("ioengine: unknown backend kind %d", kind)
	}
}
