package ioengine

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// syncBackend issues positional reads/writes directly on the calling
// goroutine. Submit blocks until the syscall returns; completions are
// buffered for Reap to drain, satisfying the Backend contract without
// pretending there is any real asynchrony. Queue depth is fixed at 1,
// enforced by New.
type syncBackend struct {
	mu        sync.Mutex
	files     map[int]*os.File
	nextID    int
	pending   []Completion
	alignment int
}

func newSyncBackend(alignment int) *syncBackend {
	return &syncBackend{files: make(map[int]*os.File), alignment: alignment}
}

func (b *syncBackend) Open(path string, direct bool) (int, error) {
	flags := os.O_RDWR | os.O_CREATE
	if direct {
		flags |= unix.O_DIRECT
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return 0, fmt.Errorf("ioengine: sync open %s: %w", path, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.files[id] = f
	return id, nil
}

func (b *syncBackend) file(fileID int) (*os.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[fileID]
	if !ok {
		return nil, fmt.Errorf("ioengine: unknown file id %d", fileID)
	}
	return f, nil
}

func (b *syncBackend) Read(fileID int, buf []byte, offset int64, correlationID uint64) error {
	f, err := b.file(fileID)
	if err != nil {
		return err
	}
	n, err := unix.Pread(int(f.Fd()), buf, offset)
	b.complete(OpRead, correlationID, n, err)
	return nil
}

func (b *syncBackend) Write(fileID int, buf []byte, offset int64, correlationID uint64) error {
	f, err := b.file(fileID)
	if err != nil {
		return err
	}
	n, err := unix.Pwrite(int(f.Fd()), buf, offset)
	b.complete(OpWrite, correlationID, n, err)
	return nil
}

func (b *syncBackend) complete(kind OpKind, correlationID uint64, n int, err error) {
	c := Completion{CorrelationID: correlationID, Kind: kind, Bytes: n}
	if err != nil {
		c.Err = err
		c.ErrKind = PermanentOp
	}
	b.mu.Lock()
	b.pending = append(b.pending, c)
	b.mu.Unlock()
}

// SubmitBatch is a no-op: the synchronous back-end has no separate
// submit phase, every Read/Write already ran to completion.
func (b *syncBackend) SubmitBatch() error { return nil }

func (b *syncBackend) Reap(max int) ([]Completion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if max <= 0 || max > len(b.pending) {
		max = len(b.pending)
	}
	out := b.pending[:max]
	b.pending = b.pending[max:]
	return out, nil
}

func (b *syncBackend) Close(fileID int) error {
	f, err := b.file(fileID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.files, fileID)
	b.mu.Unlock()
	return f.Close()
}

func (b *syncBackend) Sync(fileID int) error {
	f, err := b.file(fileID)
	if err != nil {
		return err
	}
	return f.Sync()
}

// InFlight is always 0 or 1 for the synchronous back-end — each
// Read/Write completes before returning, so there is never more than
// one op "in flight" at a time, matching DESIGN.md Open Question 4.
func (b *syncBackend) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) > 0 {
		return 1
	}
	return 0
}
