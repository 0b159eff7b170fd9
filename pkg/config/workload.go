// Package config holds the workload and target configuration model,
// YAML loading, CLI-string parsing (sizes, durations, think-time), and
// pre-flight validation — including the user-visible write-conflict
// gate spec.md §7 requires.
//
// Plain structs with a Validate() error method, no reflection-based
// validation library.
package config

import (
	"fmt"

	"github.com/cuemby/flowbench/pkg/buffer"
	"github.com/cuemby/flowbench/pkg/sampler"
)

// AccessPattern selects sequential or random access within a
// distribution entry.
type AccessPattern int

const (
	Sequential AccessPattern = iota
	Random
)

func (a AccessPattern) String() string {
	if a == Sequential {
		return "sequential"
	}
	return "random"
}

// OpDistEntry is one weighted entry in a read or write distribution
// list (spec.md §3: weighted list of {weight, access, block_size}).
type OpDistEntry struct {
	Weight    int           `yaml:"weight"`
	Access    AccessPattern `yaml:"access"`
	BlockSize uint64        `yaml:"block_size"`
}

// CompletionMode selects exactly one completion criterion.
type CompletionMode int

const (
	CompletionDuration CompletionMode = iota
	CompletionTotalBytes
	CompletionRunUntilComplete
)

// CompletionCriterion is normatively exactly one of duration,
// total_bytes, or run_until_complete (spec.md §6).
type CompletionCriterion struct {
	Mode           CompletionMode `yaml:"mode"`
	DurationSec    uint64         `yaml:"duration_seconds"`
	TotalBytes     uint64         `yaml:"total_bytes"`
}

// ThinkTimeMode selects how a worker waits out its think-time.
type ThinkTimeMode int

const (
	ThinkSleep ThinkTimeMode = iota
	ThinkSpin
)

// ThinkTimeConfig configures optional per-op pacing.
type ThinkTimeConfig struct {
	Mode            ThinkTimeMode `yaml:"mode"`
	FixedMicros     uint64        `yaml:"fixed_micros"`
	AdaptivePercent float64       `yaml:"adaptive_percent"`
	ApplyEveryNOps  uint64        `yaml:"apply_every_n_ops"`
}

// Validate enforces original_source/src/config/workload.rs's bounds:
// fixed duration <= 1,000,000us, apply_every_n_ops > 0, adaptive
// percent <= 100.
func (t ThinkTimeConfig) Validate() error {
	if t.FixedMicros > 1_000_000 {
		return fmt.Errorf("config: think-time fixed duration %dus exceeds 1,000,000us", t.FixedMicros)
	}
	if t.ApplyEveryNOps == 0 {
		return fmt.Errorf("config: think-time apply_every_n_ops must be > 0")
	}
	if t.AdaptivePercent > 100 {
		return fmt.Errorf("config: think-time adaptive_percent %f exceeds 100", t.AdaptivePercent)
	}
	return nil
}

// EngineType selects the I/O back-end.
type EngineType int

const (
	EngineSync EngineType = iota
	EngineIOUring
	EngineLibaio
	EngineMmap
)

func (e EngineType) String() string {
	switch e {
	case EngineSync:
		return "sync"
	case EngineIOUring:
		return "io_uring"
	case EngineLibaio:
		return "libaio"
	case EngineMmap:
		return "mmap"
	default:
		return "unknown"
	}
}

// VerifyPattern selects the read-verification payload.
type VerifyPattern int

const (
	VerifyZeros VerifyPattern = iota
	VerifyOnes
	VerifyRandom
	VerifySequential
)

func (v VerifyPattern) ToBufferPattern() buffer.Pattern {
	switch v {
	case VerifyZeros:
		return buffer.Zeros
	case VerifyOnes:
		return buffer.Ones
	case VerifySequential:
		return buffer.Sequential
	default:
		return buffer.LCGRandom
	}
}

// AdvisoryFlags captures fadvise/madvise hint sets; string-keyed so
// new hints don't require a schema migration.
type AdvisoryFlags struct {
	Fadvise []string `yaml:"fadvise,omitempty"`
	Madvise []string `yaml:"madvise,omitempty"`
}

// Workload is the value object spec.md §3 describes.
type Workload struct {
	ReadPercent  int `yaml:"read_percent"`
	WritePercent int `yaml:"write_percent"`

	ReadDist  []OpDistEntry `yaml:"read_distribution"`
	WriteDist []OpDistEntry `yaml:"write_distribution"`

	DefaultBlockSize uint64 `yaml:"default_block_size"`
	QueueDepth       int    `yaml:"queue_depth"`

	Completion CompletionCriterion `yaml:"completion"`

	OffsetDistribution sampler.Params `yaml:"offset_distribution"`

	ThinkTime *ThinkTimeConfig `yaml:"think_time,omitempty"`

	Backend   EngineType    `yaml:"backend"`
	Direct    bool          `yaml:"direct"`
	Sync      bool          `yaml:"synchronous"`
	Advisory  AdvisoryFlags `yaml:"advisory"`

	HeatmapEnabled     bool   `yaml:"heatmap_enabled"`
	HeatmapBucketBytes uint64 `yaml:"heatmap_bucket_bytes"`

	FillPattern VerifyPattern `yaml:"fill_pattern"`
	Verify      bool          `yaml:"verify"`

	ContinueOnError bool `yaml:"continue_on_error"`
	MaxErrors       uint64 `yaml:"max_errors"`

	AllowWriteConflicts bool `yaml:"allow_write_conflicts"`
}

// Validate checks every invariant spec.md §3 and the workload.rs
// bounds require, before any I/O is attempted.
func (w Workload) Validate() error {
	if w.ReadPercent+w.WritePercent != 100 {
		return fmt.Errorf("config: read_percent (%d) + write_percent (%d) must equal 100", w.ReadPercent, w.WritePercent)
	}
	if err := validateDistribution("read_distribution", w.ReadDist); err != nil {
		return err
	}
	if err := validateDistribution("write_distribution", w.WriteDist); err != nil {
		return err
	}
	if w.DefaultBlockSize != 0 {
		if err := validateBlockSize(w.DefaultBlockSize); err != nil {
			return err
		}
	}
	if w.QueueDepth < 1 || w.QueueDepth > 1024 {
		return fmt.Errorf("config: queue_depth %d out of range [1,1024]", w.QueueDepth)
	}
	if err := w.OffsetDistribution.Validate(); err != nil {
		return err
	}
	if w.ThinkTime != nil {
		if err := w.ThinkTime.Validate(); err != nil {
			return err
		}
	}

	switch w.Completion.Mode {
	case CompletionDuration, CompletionTotalBytes, CompletionRunUntilComplete:
	default:
		return fmt.Errorf("config: unknown completion mode")
	}

	if w.Backend == EngineSync && w.QueueDepth != 1 {
		return fmt.Errorf("config: synchronous back-end requires queue_depth = 1, got %d", w.QueueDepth)
	}
	if w.Backend == EngineMmap && w.QueueDepth > 1 {
		w.QueueDepth = 1 // not an error; this only changes Validate's copy, worker.New clamps the depth it runs with
	}

	return nil
}

func validateDistribution(name string, entries []OpDistEntry) error {
	if len(entries) == 0 {
		return nil
	}
	sum := 0
	for _, e := range entries {
		if err := validateBlockSize(e.BlockSize); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		sum += e.Weight
	}
	if sum != 100 {
		return fmt.Errorf("config: %s weights sum to %d, want 100", name, sum)
	}
	return nil
}

func validateBlockSize(size uint64) error {
	const min = 512
	const max = 64 * 1024 * 1024
	if size < min || size > max {
		return fmt.Errorf("block_size %d out of range [%d,%d]", size, min, max)
	}
	return nil
}

// IsWriteRandom reports whether the write distribution contains any
// random-access entry, or falls back to the default block size
// distribution's implicit sequential behavior when empty. This
// resolves spec.md's write-conflict gate against a data model that,
// unlike the original's single global "random" flag, expresses access
// pattern per distribution entry (see DESIGN.md Open Question 2).
func (w Workload) IsWriteRandom() bool {
	for _, e := range w.WriteDist {
		if e.Access == Random {
			return true
		}
	}
	return false
}
