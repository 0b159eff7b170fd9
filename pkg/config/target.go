package config

import "fmt"

// TargetRole identifies what kind of path a Target refers to.
type TargetRole int

const (
	RegularFile TargetRole = iota
	BlockDevice
	DirectoryRole
)

// NamingPattern selects how generated files/directories are named,
// grounded on original_source/src/target/tree.rs's four patterns.
type NamingPattern int

const (
	NamingSequential NamingPattern = iota
	NamingRandom
	NamingRandomHex
	NamingPrefixed
)

// LayoutConfig describes a directory tree to generate against a
// directory target (spec.md §4.7).
type LayoutConfig struct {
	Depth          int           `yaml:"depth"`
	Width          int           `yaml:"width"`
	FilesPerDir    int           `yaml:"files_per_dir"`
	Naming         NamingPattern `yaml:"naming"`
	Prefix         string        `yaml:"prefix,omitempty"`
	ExactTotalFiles *int         `yaml:"exact_total_files,omitempty"`
}

// FileDistribution selects how the target's file set is partitioned
// among workers (spec.md §4.7).
type FileDistribution int

const (
	Shared FileDistribution = iota
	Partitioned
	PerWorker
)

// FileLockMode selects the file-locking policy used to arbitrate
// overlapping writes.
type FileLockMode int

const (
	LockNone FileLockMode = iota
	LockRange
	LockFull
)

// Target is the value object spec.md §3 describes.
type Target struct {
	Path string     `yaml:"path"`
	Role TargetRole `yaml:"role"`

	SizeBytes uint64        `yaml:"size_bytes,omitempty"`
	Layout    *LayoutConfig `yaml:"layout,omitempty"`

	Distribution FileDistribution `yaml:"distribution"`

	Preallocate        bool          `yaml:"preallocate"`
	TruncateToSize     bool          `yaml:"truncate_to_size"`
	RefillPattern      VerifyPattern `yaml:"refill_pattern"`
	RefillRequested    bool          `yaml:"refill"`
	SuppressAutoRefill bool          `yaml:"suppress_auto_refill"`

	Advisory AdvisoryFlags `yaml:"advisory"`

	LockMode FileLockMode `yaml:"lock_mode"`
}

// Validate checks the target config, including spec.md §8's boundary
// behaviour: a zero-length file with a read-only workload and
// no_refill set must fail fast with a clear message.
func (tgt Target) Validate(readPercent int) error {
	if tgt.Path == "" {
		return fmt.Errorf("config: target path is required")
	}
	if tgt.Layout != nil {
		if tgt.Layout.Depth < 0 || tgt.Layout.Width < 0 || tgt.Layout.FilesPerDir < 0 {
			return fmt.Errorf("config: target %s: layout depth/width/files_per_dir must be non-negative", tgt.Path)
		}
	}
	if readPercent == 100 && tgt.SizeBytes == 0 && tgt.SuppressAutoRefill {
		return fmt.Errorf("config: target %s: zero-length file with a read-only workload and suppress_auto_refill set has nothing to read", tgt.Path)
	}
	return nil
}

// ValidateWriteConflicts implements spec.md §7's user-visible
// write-conflict gate, grounded on
// original_source/src/config/validator.rs's validate_write_conflicts.
// The gate is skipped entirely for single-worker runs, since there is
// no cross-worker overlap to arbitrate.
func ValidateWriteConflicts(wl Workload, targets []Target, numWorkers int) error {
	if numWorkers <= 1 {
		return nil
	}
	if wl.AllowWriteConflicts {
		return nil
	}

	hasWrites := wl.WritePercent > 0
	isRandom := wl.IsWriteRandom()

	for _, tgt := range targets {
		isShared := tgt.Distribution == Shared
		noLocking := tgt.LockMode == LockNone

		if isShared && hasWrites && isRandom && noLocking {
			return fmt.Errorf(
				"config: target %s: %d workers issue overlapping random writes to a shared file with no locking.\n"+
					"Choose one of the following before running:\n"+
					"  1. Use a lock mode:          --lock-mode range\n"+
					"  2. Partition the file:       --file-distribution partitioned\n"+
					"  3. Give each worker its own file: --file-distribution per-worker\n"+
					"Explicit conflict handling required. Choose one of the options above.\n"+
					"Use --allow-write-conflicts if you're benchmarking and don't care about data integrity.",
				tgt.Path, numWorkers)
		}
	}
	return nil
}
