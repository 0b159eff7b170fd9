// Package buffer implements the aligned buffer pool: pre-allocated,
// power-of-two-aligned byte buffers with O(1) checkout/return and
// pattern fill/verify for write-path payload generation and
// read-path verification.
//
// Buffers are carved out of one large anonymous mmap region rather
// than allocated individually, which is the only way to get an
// OS-guaranteed aligned allocation in Go without cgo — the shape
// (one buffer size per pool, indirect index handles rather than raw
// pointers) follows
// the lock-free bounded buffer pool documented in the retrieval
// pack's iobuf reference.
package buffer

import (
	"fmt"
	"math/rand/v2"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Pattern identifies a fill/verify pattern.
type Pattern int

const (
	// Zeros fills every byte with 0x00.
	Zeros Pattern = iota
	// Ones fills every byte with 0xFF.
	Ones
	// LCGRandom fills using the deterministic linear congruential
	// generator, keyed by a caller-supplied seed. Write-fill and
	// read-verify must agree bit-for-bit, which is why the exact
	// recurrence is specified rather than left to a stdlib PRNG:
	// state = state*1103515245 + 12345 (mod 2^64), byte = (state>>16)&0xFF.
	LCGRandom
	// Sequential fills byte at file offset k with k mod 256,
	// independent of block boundaries. This deliberately follows
	// spec.md's file-offset-relative definition rather than the
	// original Rust implementation's buffer-relative one (see
	// DESIGN.md, Open Question 1) — callers pass the absolute file
	// offset of the buffer's first byte.
	Sequential
)

// Pool owns count buffers of exactly size bytes, each aligned to a
// power-of-two boundary, backed by a single mmap'd region.
type Pool struct {
	mem       []byte
	base      int // offset of buffer 0 within mem
	size      int
	alignment int
	count     int
	free      []int // stack of free buffer indices
}

// ErrExhausted is returned by Checkout when no buffer is free.
var ErrExhausted = fmt.Errorf("buffer pool exhausted")

// NewPool allocates a pool of count buffers of size bytes each,
// aligned to alignment (which must be a power of two).
func NewPool(count, size, alignment int) (*Pool, error) {
	if count <= 0 || size <= 0 {
		return nil, fmt.Errorf("buffer: count and size must be positive")
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return nil, fmt.Errorf("buffer: alignment %d is not a power of two", alignment)
	}

	total := count*size + alignment
	mem, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("buffer: mmap %d bytes: %w", total, err)
	}

	addr := uintptr(unsafe.Pointer(&mem[0]))
	aligned := (addr + uintptr(alignment) - 1) &^ (uintptr(alignment) - 1)
	base := int(aligned - addr)

	free := make([]int, count)
	for i := range free {
		free[i] = count - 1 - i // pop from the tail, so Checkout returns index 0 first
	}

	return &Pool{mem: mem, base: base, size: size, alignment: alignment, count: count, free: free}, nil
}

// Close releases the backing mmap region. Not safe to call while
// buffers are checked out elsewhere.
func (p *Pool) Close() error {
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}

// Count returns the total number of buffers owned by the pool.
func (p *Pool) Count() int { return p.count }

// Size returns the size in bytes of each buffer.
func (p *Pool) Size() int { return p.size }

// Alignment returns the pool's alignment, in bytes.
func (p *Pool) Alignment() int { return p.alignment }

// Checkout removes a buffer from the free set. O(1), never
// allocates. Returns ErrExhausted if none are free.
func (p *Pool) Checkout() (int, error) {
	if len(p.free) == 0 {
		return 0, ErrExhausted
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return idx, nil
}

// Return restores a buffer to the free set.
func (p *Pool) Return(index int) {
	p.free = append(p.free, index)
}

// Buffer returns the byte slice backing the given buffer index. The
// returned slice's address is guaranteed congruent to 0 modulo the
// pool's alignment.
func (p *Pool) Buffer(index int) []byte {
	start := p.base + index*p.size
	return p.mem[start : start+p.size]
}

// Address returns the raw address of buffer index, for alignment
// assertions in tests and invariant checks.
func (p *Pool) Address(index int) uintptr {
	return uintptr(unsafe.Pointer(&p.Buffer(index)[0]))
}

// PrefillRandom fills every buffer with uniformly random bytes once,
// so write paths that don't require deterministic verification can
// reuse payloads without regenerating them per op.
func (p *Pool) PrefillRandom() {
	for i := 0; i < p.count; i++ {
		buf := p.Buffer(i)
		for j := range buf {
			buf[j] = byte(rand.IntN(256))
		}
	}
}

// Fill writes pattern into buf. seedOrOffset is the LCG seed
// for LCGRandom, or the absolute file offset of the buffer's first
// byte for Sequential; it is ignored for Zeros/Ones.
func Fill(buf []byte, pattern Pattern, seedOrOffset uint64) {
	switch pattern {
	case Zeros:
		for i := range buf {
			buf[i] = 0
		}
	case Ones:
		for i := range buf {
			buf[i] = 0xFF
		}
	case LCGRandom:
		state := seedOrOffset
		for i := range buf {
			state = state*1103515245 + 12345
			buf[i] = byte((state >> 16) & 0xFF)
		}
	case Sequential:
		for i := range buf {
			buf[i] = byte((seedOrOffset + uint64(i)) % 256)
		}
	}
}

// Verify checks buf against pattern, returning the byte offset of the
// first mismatch, or -1 if the buffer matches exactly.
func Verify(buf []byte, pattern Pattern, seedOrOffset uint64) int {
	want := make([]byte, len(buf))
	Fill(want, pattern, seedOrOffset)
	for i := range buf {
		if buf[i] != want[i] {
			return i
		}
	}
	return -1
}
