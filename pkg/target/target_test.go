package target

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/flowbench/pkg/config"
)

func TestTreeGeneratorDepth(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tree_depth")
	gen := NewTreeGenerator(root, TreeConfig{
		Depth:       3,
		Width:       2,
		FilesPerDir: 1,
		Naming:      config.NamingSequential,
	}, nil)

	require.NoError(t, gen.Generate())
	// Level 0: 1 file, level 1: 2 dirs + 2 files, level 2: 4 dirs + 4 files,
	// level 3 (max depth): 8 files. Total = 1+2+4+8 = 15.
	require.Equal(t, 15, gen.FileCount())
	require.Greater(t, gen.Stats().MkdirCount, uint64(0))
	require.Greater(t, gen.Stats().CreateCount, uint64(0))
}

func TestTreeGeneratorFileSize(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tree_size")
	gen := NewTreeGenerator(root, TreeConfig{
		Depth:       1,
		Width:       1,
		FilesPerDir: 2,
		FileSize:    4096,
		Naming:      config.NamingSequential,
	}, nil)

	require.NoError(t, gen.Generate())
	for _, p := range gen.FilePaths() {
		info, err := os.Stat(p)
		require.NoError(t, err)
		require.EqualValues(t, 4096, info.Size())
	}
}

func TestTreeGeneratorNamingPatterns(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tree_prefixed")
	gen := NewTreeGenerator(root, TreeConfig{
		Depth:       1,
		Width:       1,
		FilesPerDir: 2,
		Naming:      config.NamingPrefixed,
		Prefix:      "test_file",
	}, nil)

	require.NoError(t, gen.Generate())
	require.Contains(t, filepath.Base(gen.FilePaths()[0]), "test_file_")
}

func TestTreeGeneratorExactTotalTruncatesAndPads(t *testing.T) {
	rootTrunc := filepath.Join(t.TempDir(), "tree_trunc")
	total := 2
	genTrunc := NewTreeGenerator(rootTrunc, TreeConfig{
		Depth: 1, Width: 1, FilesPerDir: 3, Naming: config.NamingSequential,
	}, &total)
	require.NoError(t, genTrunc.Generate())
	require.Equal(t, 2, genTrunc.FileCount())

	rootPad := filepath.Join(t.TempDir(), "tree_pad")
	padTotal := 10
	genPad := NewTreeGenerator(rootPad, TreeConfig{
		Depth: 1, Width: 1, FilesPerDir: 2, Naming: config.NamingSequential,
	}, &padTotal)
	require.NoError(t, genPad.Generate())
	require.Equal(t, 10, genPad.FileCount())
	for _, p := range genPad.FilePaths() {
		_, err := os.Stat(p)
		require.NoError(t, err)
	}
}

func TestTreeGeneratorExportManifest(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tree_export")
	gen := NewTreeGenerator(root, TreeConfig{
		Depth: 2, Width: 2, FilesPerDir: 2, Naming: config.NamingSequential,
	}, nil)
	require.NoError(t, gen.Generate())

	manifestPath := filepath.Join(t.TempDir(), "tree_def.txt")
	require.NoError(t, gen.ExportManifest(manifestPath))

	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "# Directory Tree Definition")
	require.Contains(t, string(data), "file_")

	imported, err := ImportManifest(manifestPath, root)
	require.NoError(t, err)
	require.Len(t, imported, gen.FileCount())
}

func TestSetupRegularFilePreallocate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	tgt := config.Target{
		Path:        path,
		Role:        config.RegularFile,
		SizeBytes:   8192,
		Preallocate: true,
	}
	wl := config.Workload{ReadPercent: 0, WritePercent: 100}

	resolved, err := Setup(tgt, wl, nil)
	require.NoError(t, err)
	require.Equal(t, []string{path}, resolved.Files)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 8192, info.Size())
}

func TestSetupImplicitFillForReadOnlyEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readme.bin")
	tgt := config.Target{
		Path:      path,
		Role:      config.RegularFile,
		SizeBytes: 4096,
	}
	wl := config.Workload{ReadPercent: 100, WritePercent: 0, DefaultBlockSize: 4096, FillPattern: config.VerifyOnes}

	_, err := Setup(tgt, wl, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, b := range data {
		require.Equal(t, byte(0xFF), b)
	}
}

func TestSetupSuppressAutoRefillLeavesFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noref.bin")
	tgt := config.Target{
		Path:               path,
		Role:               config.RegularFile,
		SizeBytes:          4096,
		SuppressAutoRefill: true,
	}
	wl := config.Workload{ReadPercent: 100, WritePercent: 0}

	_, err := Setup(tgt, wl, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, b := range data {
		require.Equal(t, byte(0), b)
	}
}

func TestPartitionShared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 1024), 0o644))

	rt := &ResolvedTarget{
		Target: config.Target{Path: path, Distribution: config.Shared},
		Files:  []string{path},
	}
	windows, err := Partition(rt, 4)
	require.NoError(t, err)
	require.Len(t, windows, 4)
	for _, w := range windows {
		require.Len(t, w, 1)
		require.EqualValues(t, 0, w[0].StartOffset)
		require.EqualValues(t, 1024, w[0].EndOffset)
	}
}

func TestPartitionedDisjointWindows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 1000), 0o644))

	rt := &ResolvedTarget{
		Target: config.Target{Path: path, Distribution: config.Partitioned},
		Files:  []string{path},
	}
	windows, err := Partition(rt, 4)
	require.NoError(t, err)

	var prevEnd uint64
	for i, w := range windows {
		require.Len(t, w, 1)
		require.Equal(t, prevEnd, w[0].StartOffset)
		if i == len(windows)-1 {
			require.EqualValues(t, 1000, w[0].EndOffset)
		}
		prevEnd = w[0].EndOffset
	}
}

func TestPerWorkerDistinctFileSubsets(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for i := 0; i < 4; i++ {
		p := filepath.Join(dir, "f"+string(rune('a'+i)))
		require.NoError(t, os.WriteFile(p, make([]byte, 256), 0o644))
		files = append(files, p)
	}

	rt := &ResolvedTarget{
		Target: config.Target{Distribution: config.PerWorker},
		Files:  files,
	}
	windows, err := Partition(rt, 2)
	require.NoError(t, err)
	require.Len(t, windows, 2)

	seen := map[string]bool{}
	for _, w := range windows {
		require.NotEmpty(t, w)
		for _, fw := range w {
			require.False(t, seen[fw.Path], "file assigned to more than one worker")
			seen[fw.Path] = true
		}
	}
	require.Len(t, seen, 4)
}

func TestPartitionRejectsTooFewWorkersForPerWorker(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "only.bin")
	require.NoError(t, os.WriteFile(p, make([]byte, 256), 0o644))

	rt := &ResolvedTarget{
		Target: config.Target{Distribution: config.PerWorker},
		Files:  []string{p},
	}
	_, err := Partition(rt, 2)
	require.Error(t, err)
}
