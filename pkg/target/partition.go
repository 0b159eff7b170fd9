package target

import (
	"fmt"
	"os"

	"github.com/cuemby/flowbench/pkg/config"
)

// Partition splits a resolved target's file list into one []FileWindow
// per worker, per spec.md §4.7 step 4's three distribution strategies.
func Partition(rt *ResolvedTarget, numWorkers int) ([][]FileWindow, error) {
	if numWorkers < 1 {
		return nil, fmt.Errorf("target: numWorkers must be >= 1, got %d", numWorkers)
	}
	if len(rt.Files) == 0 {
		return nil, fmt.Errorf("target: no files to partition")
	}

	sizes := make([]uint64, len(rt.Files))
	for i, f := range rt.Files {
		sz, err := fileExtent(f, rt.Target.SizeBytes)
		if err != nil {
			return nil, err
		}
		sizes[i] = sz
	}

	windows := make([][]FileWindow, numWorkers)

	switch rt.Target.Distribution {
	case config.Shared:
		for w := 0; w < numWorkers; w++ {
			for i, f := range rt.Files {
				windows[w] = append(windows[w], FileWindow{Path: f, StartOffset: 0, EndOffset: sizes[i]})
			}
		}

	case config.Partitioned:
		for i, f := range rt.Files {
			size := sizes[i]
			per := size / uint64(numWorkers)
			if per == 0 {
				return nil, fmt.Errorf("target: file %s (%d bytes) is too small to partition among %d workers", f, size, numWorkers)
			}
			for w := 0; w < numWorkers; w++ {
				start := uint64(w) * per
				end := start + per
				if w == numWorkers-1 {
					end = size // last worker absorbs any remainder
				}
				windows[w] = append(windows[w], FileWindow{Path: f, StartOffset: start, EndOffset: end})
			}
		}

	case config.PerWorker:
		for i, f := range rt.Files {
			w := i % numWorkers
			windows[w] = append(windows[w], FileWindow{Path: f, StartOffset: 0, EndOffset: sizes[i]})
		}
		for w := 0; w < numWorkers; w++ {
			if len(windows[w]) == 0 {
				return nil, fmt.Errorf("target: PerWorker distribution: %d files cannot cover %d workers without leaving some idle", len(rt.Files), numWorkers)
			}
		}

	default:
		return nil, fmt.Errorf("target: unknown file distribution %v", rt.Target.Distribution)
	}

	return windows, nil
}

// fileExtent returns a file's usable size for window computation: the
// target's configured size when set (so pre-test setup's intended
// size is authoritative even before fsync'd metadata catches up),
// otherwise the file's actual on-disk size.
func fileExtent(path string, configuredSize uint64) (uint64, error) {
	if configuredSize > 0 {
		return configuredSize, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("target: stat %s: %w", path, err)
	}
	return uint64(info.Size()), nil
}
