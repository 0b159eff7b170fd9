// Package target implements the Target Manager: resolving a
// configured target into a concrete file list, creating/preallocating/
// filling those files ahead of the barrier release, and partitioning
// them across a worker pool per spec.md §4.7.
//
// Grounded on original_source/src/target/tree.rs for tree generation
// and on original_source/src/config/{cli_convert.rs,workload.rs} for
// the partition-strategy semantics. The preallocate/fill step follows
// the teacher's plain os.File-based setup style (no fs abstraction
// library anywhere in the pack), using golang.org/x/sys/unix for
// fallocate the same way pkg/buffer already depends on it for aligned
// mmap.
package target

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/cuemby/flowbench/pkg/config"
)

// FileWindow is one worker's byte-range view of one file, produced by
// Partition per spec.md §4.7's distribution strategies.
type FileWindow struct {
	Path        string
	StartOffset uint64
	EndOffset   uint64
}

// ResolvedTarget is a Target after file-list resolution (tree
// generation, if any) and pre-test setup (preallocate/fill) have run.
type ResolvedTarget struct {
	Target config.Target
	Files  []string
}

// Setup resolves tgt into a concrete file list and prepares every
// file (preallocate/truncate/refill/implicit-fill), per spec.md §4.7
// steps 1-3.
//
// fileListOverride, when non-nil, skips resolution (tree generation or
// single-path default) and prepares exactly the given files instead —
// used when the caller already knows the file list (e.g. a
// distributed node preparing one file at a time during the
// PrepareFiles phase).
func Setup(tgt config.Target, wl config.Workload, fileListOverride []string) (ResolvedTarget, error) {
	var files []string

	switch {
	case fileListOverride != nil:
		files = fileListOverride
	case tgt.Role == config.DirectoryRole && tgt.Layout != nil:
		tc := TreeConfig{
			Depth:       tgt.Layout.Depth,
			Width:       tgt.Layout.Width,
			FilesPerDir: tgt.Layout.FilesPerDir,
			FileSize:    tgt.SizeBytes,
			Naming:      tgt.Layout.Naming,
			Prefix:      tgt.Layout.Prefix,
		}
		gen := NewTreeGenerator(tgt.Path, tc, tgt.Layout.ExactTotalFiles)
		if err := gen.Generate(); err != nil {
			return ResolvedTarget{}, fmt.Errorf("target: generating layout at %s: %w", tgt.Path, err)
		}
		files = gen.FilePaths()
	default:
		files = []string{tgt.Path}
	}

	for _, f := range files {
		if err := prepareFile(f, tgt, wl); err != nil {
			return ResolvedTarget{}, fmt.Errorf("target: preparing %s: %w", f, err)
		}
	}

	return ResolvedTarget{Target: tgt, Files: files}, nil
}

// prepareFile implements spec.md §4.7 step 3 for one file: size it per
// Preallocate/TruncateToSize, then either honor an explicit refill
// request or, for a read-heavy workload against a just-created empty
// file with auto-refill not suppressed, perform the implicit fill.
func prepareFile(path string, tgt config.Target, wl config.Workload) error {
	if tgt.Role == config.DirectoryRole {
		return nil // already materialized by tree generation
	}
	if tgt.Role == config.BlockDevice {
		if tgt.RefillRequested && tgt.SizeBytes > 0 {
			return fillFileSpan(path, tgt.RefillPattern, tgt.SizeBytes, fillBlockSize(wl))
		}
		return nil
	}

	_, preExisting, err := statSize(path)
	if err != nil {
		return err
	}

	if tgt.Preallocate || tgt.TruncateToSize || (!preExisting && tgt.SizeBytes > 0) {
		if err := allocateFile(path, tgt.SizeBytes, tgt.Preallocate); err != nil {
			return fmt.Errorf("allocating: %w", err)
		}
	}

	curSize, _, err := statSize(path)
	if err != nil {
		return err
	}

	blockSize := fillBlockSize(wl)

	switch {
	case tgt.RefillRequested:
		return fillFileSpan(path, tgt.RefillPattern, spanOrDefault(tgt.SizeBytes, curSize), blockSize)
	case wl.ReadPercent > 0 && !preExisting && !tgt.SuppressAutoRefill && curSize > 0:
		return fillFileSpan(path, wl.FillPattern, curSize, blockSize)
	default:
		return nil
	}
}

// fillBlockSize picks the chunk size the prefill must reseed its LCG
// at, matching whichever block size an actual op would most commonly
// use: the workload's configured default, falling back to the first
// read-distribution entry (reads are what prefill exists to serve),
// then a plain 4 KiB default.
func fillBlockSize(wl config.Workload) uint64 {
	if wl.DefaultBlockSize > 0 {
		return wl.DefaultBlockSize
	}
	if len(wl.ReadDist) > 0 {
		return wl.ReadDist[0].BlockSize
	}
	return defaultFillBlockBytes
}

func spanOrDefault(configured, actual uint64) uint64 {
	if configured > 0 {
		return configured
	}
	return actual
}

// statSize returns a file's current size, whether it already existed,
// and an error for any failure other than not-existing.
func statSize(path string) (size uint64, existed bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(info.Size()), true, nil
}

// allocateFile ensures path exists and is sized to sizeBytes, using a
// filesystem-level reserve (fallocate) when preallocate is requested
// and falling back to a plain truncate when fallocate isn't supported
// by the underlying filesystem (e.g. tmpfs, some network mounts).
func allocateFile(path string, sizeBytes uint64, preallocate bool) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if sizeBytes == 0 {
		return nil
	}

	if preallocate {
		if err := unix.Fallocate(int(f.Fd()), 0, 0, int64(sizeBytes)); err == nil {
			return nil
		}
		// fallocate unsupported on this filesystem; fall through to truncate.
	}
	return f.Truncate(int64(sizeBytes))
}
