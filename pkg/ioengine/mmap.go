package ioengine

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// mmapFile is one memory-mapped file: region grows on demand up to
// the file's current size, re-mapped whenever a write extends it
// beyond the mapped window.
type mmapFile struct {
	f      *os.File
	region []byte
}

// mmapBackend copies into/out of a mapped region instead of issuing
// read/write syscalls. submit_batch is a no-op and reap returns
// exactly what was done synchronously, per spec.md §4.5's table.
// Queue depth is clamped to 1 by New.
type mmapBackend struct {
	mu        sync.Mutex
	files     map[int]*mmapFile
	nextID    int
	pending   []Completion
	alignment int
}

func newMmapBackend(alignment int) *mmapBackend {
	return &mmapBackend{files: make(map[int]*mmapFile), alignment: alignment}
}

func (b *mmapBackend) Open(path string, direct bool) (int, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return 0, fmt.Errorf("ioengine: mmap open %s: %w", path, err)
	}
	mf := &mmapFile{f: f}
	if err := b.remap(mf); err != nil {
		f.Close()
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.files[id] = mf
	return id, nil
}

func (b *mmapBackend) remap(mf *mmapFile) error {
	info, err := mf.f.Stat()
	if err != nil {
		return fmt.Errorf("ioengine: stat for mmap: %w", err)
	}
	size := info.Size()
	if size == 0 {
		mf.region = nil
		return nil
	}
	if mf.region != nil {
		unix.Munmap(mf.region)
		mf.region = nil
	}
	region, err := unix.Mmap(int(mf.f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("ioengine: mmap: %w", err)
	}
	mf.region = region
	return nil
}

func (b *mmapBackend) file(fileID int) (*mmapFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mf, ok := b.files[fileID]
	if !ok {
		return nil, fmt.Errorf("ioengine: unknown file id %d", fileID)
	}
	return mf, nil
}

func (b *mmapBackend) Read(fileID int, buf []byte, offset int64, correlationID uint64) error {
	mf, err := b.file(fileID)
	if err != nil {
		return err
	}
	n, err := b.copyOut(mf, buf, offset)
	b.complete(OpRead, correlationID, n, err)
	return nil
}

func (b *mmapBackend) copyOut(mf *mmapFile, buf []byte, offset int64) (int, error) {
	end := offset + int64(len(buf))
	if end > int64(len(mf.region)) {
		return 0, fmt.Errorf("ioengine: read [%d,%d) past mapped region of %d bytes", offset, end, len(mf.region))
	}
	return copy(buf, mf.region[offset:end]), nil
}

func (b *mmapBackend) Write(fileID int, buf []byte, offset int64, correlationID uint64) error {
	mf, err := b.file(fileID)
	if err != nil {
		return err
	}
	end := offset + int64(len(buf))
	if end > int64(len(mf.region)) {
		if err := mf.f.Truncate(end); err != nil {
			b.complete(OpWrite, correlationID, 0, fmt.Errorf("ioengine: extending for mmap write: %w", err))
			return nil
		}
		if err := b.remap(mf); err != nil {
			b.complete(OpWrite, correlationID, 0, err)
			return nil
		}
	}
	n := copy(mf.region[offset:end], buf)
	b.complete(OpWrite, correlationID, n, nil)
	return nil
}

func (b *mmapBackend) complete(kind OpKind, correlationID uint64, n int, err error) {
	c := Completion{CorrelationID: correlationID, Kind: kind, Bytes: n}
	if err != nil {
		c.Err = err
		c.ErrKind = PermanentOp
	}
	b.mu.Lock()
	b.pending = append(b.pending, c)
	b.mu.Unlock()
}

func (b *mmapBackend) SubmitBatch() error { return nil }

func (b *mmapBackend) Reap(max int) ([]Completion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if max <= 0 || max > len(b.pending) {
		max = len(b.pending)
	}
	out := b.pending[:max]
	b.pending = b.pending[max:]
	return out, nil
}

func (b *mmapBackend) Close(fileID int) error {
	mf, err := b.file(fileID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.files, fileID)
	b.mu.Unlock()
	if mf.region != nil {
		unix.Munmap(mf.region)
	}
	return mf.f.Close()
}

func (b *mmapBackend) Sync(fileID int) error {
	mf, err := b.file(fileID)
	if err != nil {
		return err
	}
	if mf.region != nil {
		if err := unix.Msync(mf.region, unix.MS_SYNC); err != nil {
			return fmt.Errorf("ioengine: msync: %w", err)
		}
	}
	return mf.f.Sync()
}

func (b *mmapBackend) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) > 0 {
		return 1
	}
	return 0
}
