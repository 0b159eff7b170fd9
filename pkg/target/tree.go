package target

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/flowbench/pkg/config"
)

// TreeConfig describes a directory tree to generate against a
// directory target, grounded line-for-line on
// original_source/src/target/tree.rs's TreeConfig.
type TreeConfig struct {
	Depth       int
	Width       int
	FilesPerDir int
	FileSize    uint64
	Naming      config.NamingPattern
	Prefix      string
}

// MetadataStats tallies the mkdir/create metadata operations a tree
// generation run performed, mirroring tree.rs's MetadataStats.
type MetadataStats struct {
	MkdirCount     uint64
	MkdirLatencyNs uint64
	CreateCount    uint64
	CreateLatencyNs uint64
}

// AvgMkdirLatencyNs returns the mean mkdir latency, or 0 if none were performed.
func (s MetadataStats) AvgMkdirLatencyNs() uint64 {
	if s.MkdirCount == 0 {
		return 0
	}
	return s.MkdirLatencyNs / s.MkdirCount
}

// AvgCreateLatencyNs returns the mean file-create latency, or 0 if none were performed.
func (s MetadataStats) AvgCreateLatencyNs() uint64 {
	if s.CreateCount == 0 {
		return 0
	}
	return s.CreateLatencyNs / s.CreateCount
}

// TreeGenerator creates a directory tree of the configured depth and
// width, with files_per_dir files at every level (not only the
// leaves), and can export the resulting file list as a manifest.
type TreeGenerator struct {
	root       string
	cfg        TreeConfig
	exactTotal *int

	stats     MetadataStats
	dirPaths  []string
	filePaths []string
	nextSeq   int
}

// NewTreeGenerator constructs a generator rooted at root. exactTotal,
// when non-nil, truncates or pads the generated file list to that
// exact count after generation, per spec.md §4.7 step 2.
func NewTreeGenerator(root string, cfg TreeConfig, exactTotal *int) *TreeGenerator {
	return &TreeGenerator{root: root, cfg: cfg, exactTotal: exactTotal}
}

// Generate creates the root directory (if absent) and the full tree
// beneath it, tracking every created path and mkdir/create latency.
func (g *TreeGenerator) Generate() error {
	if _, err := os.Stat(g.root); os.IsNotExist(err) {
		start := time.Now()
		if err := os.MkdirAll(g.root, 0o755); err != nil {
			return fmt.Errorf("target: creating root directory %s: %w", g.root, err)
		}
		g.recordMkdir(time.Since(start))
	}
	g.dirPaths = append(g.dirPaths, g.root)

	if err := g.generateLevel(g.root, 0); err != nil {
		return err
	}

	if g.exactTotal != nil {
		if err := g.applyExactTotal(*g.exactTotal); err != nil {
			return err
		}
	}
	return nil
}

func (g *TreeGenerator) generateLevel(parent string, depth int) error {
	if depth >= g.cfg.Depth {
		return g.createFiles(parent)
	}

	for i := 0; i < g.cfg.Width; i++ {
		dirPath := filepath.Join(parent, fmt.Sprintf("dir_%04d", i))

		start := time.Now()
		if err := os.Mkdir(dirPath, 0o755); err != nil {
			return fmt.Errorf("target: creating directory %s: %w", dirPath, err)
		}
		g.recordMkdir(time.Since(start))
		g.dirPaths = append(g.dirPaths, dirPath)

		if err := g.generateLevel(dirPath, depth+1); err != nil {
			return err
		}
	}

	return g.createFiles(parent)
}

func (g *TreeGenerator) createFiles(dir string) error {
	for i := 0; i < g.cfg.FilesPerDir; i++ {
		name := g.fileName(g.nextSeq)
		g.nextSeq++
		path := filepath.Join(dir, name)
		if err := g.createFile(path); err != nil {
			return err
		}
	}
	return nil
}

func (g *TreeGenerator) createFile(path string) error {
	start := time.Now()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("target: creating file %s: %w", path, err)
	}
	if g.cfg.FileSize > 0 {
		if err := f.Truncate(int64(g.cfg.FileSize)); err != nil {
			f.Close()
			return fmt.Errorf("target: sizing file %s: %w", path, err)
		}
	}
	f.Close()
	g.recordCreate(time.Since(start))
	g.filePaths = append(g.filePaths, path)
	return nil
}

func (g *TreeGenerator) fileName(seq int) string {
	switch g.cfg.Naming {
	case config.NamingRandom:
		const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
		var sb strings.Builder
		for i := 0; i < 16; i++ {
			sb.WriteByte(alphabet[rand.IntN(len(alphabet))])
		}
		return "file_" + sb.String()
	case config.NamingRandomHex:
		return fmt.Sprintf("file_%016x", rand.Uint64())
	case config.NamingPrefixed:
		prefix := g.cfg.Prefix
		if prefix == "" {
			prefix = "test_file"
		}
		return fmt.Sprintf("%s_%06d", prefix, seq)
	default: // NamingSequential
		return fmt.Sprintf("file_%06d", seq)
	}
}

// applyExactTotal truncates the generated file list to total, or pads
// it by creating additional files cycling through the directories
// already materialized, per spec.md §4.7 step 2.
func (g *TreeGenerator) applyExactTotal(total int) error {
	if total < 0 {
		return fmt.Errorf("target: exact_total_files must be non-negative, got %d", total)
	}
	if len(g.filePaths) >= total {
		g.filePaths = g.filePaths[:total]
		return nil
	}

	dirs := g.dirPaths
	if len(dirs) == 0 {
		dirs = []string{g.root}
	}
	need := total - len(g.filePaths)
	for i := 0; i < need; i++ {
		dir := dirs[i%len(dirs)]
		name := g.fileName(g.nextSeq)
		g.nextSeq++
		if err := g.createFile(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func (g *TreeGenerator) recordMkdir(d time.Duration) {
	g.stats.MkdirCount++
	g.stats.MkdirLatencyNs += uint64(d.Nanoseconds())
}

func (g *TreeGenerator) recordCreate(d time.Duration) {
	g.stats.CreateCount++
	g.stats.CreateLatencyNs += uint64(d.Nanoseconds())
}

// Stats returns the accumulated mkdir/create metadata statistics.
func (g *TreeGenerator) Stats() MetadataStats { return g.stats }

// FilePaths returns every generated file's absolute path.
func (g *TreeGenerator) FilePaths() []string { return g.filePaths }

// FileCount returns the number of files generated.
func (g *TreeGenerator) FileCount() int { return len(g.filePaths) }

// ExportManifest writes the "# Directory Tree Definition" manifest
// spec.md §6 describes: a comment header followed by one path,
// relative to the tree's root, per line.
func (g *TreeGenerator) ExportManifest(outputPath string) error {
	var sb strings.Builder
	sb.WriteString("# Directory Tree Definition\n")
	fmt.Fprintf(&sb, "# Generated from: %s\n\n", g.root)

	for _, path := range g.filePaths {
		rel, err := filepath.Rel(g.root, path)
		if err != nil {
			rel = path
		}
		sb.WriteString(rel)
		sb.WriteString("\n")
	}

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("target: writing tree manifest %s: %w", outputPath, err)
	}
	return nil
}

// ImportManifest reads a manifest previously written by ExportManifest
// and returns the absolute paths it lists under root, allowing a
// generated layout to be reproduced exactly (spec.md §6).
func ImportManifest(manifestPath, root string) ([]string, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("target: reading tree manifest %s: %w", manifestPath, err)
	}

	var files []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		files = append(files, filepath.Join(root, line))
	}
	return files, nil
}
