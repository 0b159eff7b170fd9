package target

import (
	"fmt"
	"os"

	"github.com/cuemby/flowbench/pkg/buffer"
	"github.com/cuemby/flowbench/pkg/config"
)

// defaultFillBlockBytes is used when the workload carries no default
// block size to key the fill chunking off of.
const defaultFillBlockBytes = 4096

// fillFileSpan writes pattern across [0, size) of the file at path, in
// blockSize-sized chunks, each independently seeded with its own
// absolute file offset.
//
// This must match pkg/worker's per-op convention exactly: a write op
// calls buffer.Fill(buf, pattern, uint64(offset)) fresh for every op,
// never threading LCG state across ops, so a later read at that same
// offset and length verifies via buffer.Verify(buf, pattern,
// uint64(offset)). Chunking the target-manager's prefill at anything
// other than the workload's own block size would desynchronize the
// two — a chunk seeded at its own start offset produces different
// bytes than two reads' worth of sub-chunks each reseeded at their own
// (different) start offsets.
func fillFileSpan(path string, pattern config.VerifyPattern, size uint64, blockSize uint64) error {
	if size == 0 {
		return nil
	}
	if blockSize == 0 {
		blockSize = defaultFillBlockBytes
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("target: opening %s for fill: %w", path, err)
	}
	defer f.Close()

	bufPattern := pattern.ToBufferPattern()
	buf := make([]byte, blockSize)

	var offset uint64
	for offset < size {
		n := blockSize
		if remaining := size - offset; remaining < n {
			n = remaining
		}
		chunk := buf[:n]
		buffer.Fill(chunk, bufPattern, offset)

		if _, err := f.WriteAt(chunk, int64(offset)); err != nil {
			return fmt.Errorf("target: writing fill at offset %d: %w", offset, err)
		}
		offset += n
	}
	return nil
}
