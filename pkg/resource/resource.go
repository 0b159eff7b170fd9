// Package resource samples process CPU and memory utilization from
// /proc, feeding the resource-utilization fields every time-series
// record carries (spec.md §6). Ported field-for-field from
// original_source/src/util/resource.rs: /proc/self/stat fields 14/15
// (utime/stime, clock ticks at USER_HZ=100) for CPU time, and
// /proc/self/status's VmRSS/VmSize for memory. Linux-only; callers on
// other platforms get ok=false from Take and should treat resource
// fields as unavailable rather than fatal.
package resource

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const ticksPerSecond = 100

// Snapshot is a point-in-time read of process CPU and memory usage.
type Snapshot struct {
	CPUUserMicros   uint64
	CPUSystemMicros uint64
	Taken           time.Time
	RSSBytes        uint64
	VMBytes         uint64
}

// Take reads /proc/self/stat and /proc/self/status. ok is false if
// either read failed (e.g. non-Linux or a restricted /proc mount).
func Take() (snap Snapshot, ok bool) {
	userUs, sysUs, err := readCPUTime()
	if err != nil {
		return Snapshot{}, false
	}
	rss, vm, err := readMemory()
	if err != nil {
		return Snapshot{}, false
	}
	return Snapshot{
		CPUUserMicros:   userUs,
		CPUSystemMicros: sysUs,
		Taken:           time.Now(),
		RSSBytes:        rss,
		VMBytes:         vm,
	}, true
}

func readCPUTime() (userUs, sysUs uint64, err error) {
	data, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0, 0, fmt.Errorf("resource: reading /proc/self/stat: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 15 {
		return 0, 0, fmt.Errorf("resource: /proc/self/stat has %d fields, want >= 15", len(fields))
	}
	utimeTicks, err := strconv.ParseUint(fields[13], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("resource: parsing utime field: %w", err)
	}
	stimeTicks, err := strconv.ParseUint(fields[14], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("resource: parsing stime field: %w", err)
	}
	return utimeTicks * 1_000_000 / ticksPerSecond, stimeTicks * 1_000_000 / ticksPerSecond, nil
}

func readMemory() (rssBytes, vmBytes uint64, err error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, 0, fmt.Errorf("resource: opening /proc/self/status: %w", err)
	}
	defer f.Close()

	var rssKB, vmKB uint64
	var haveRSS, haveVM bool
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "VmRSS:"):
			if v, perr := parseStatusKB(line); perr == nil {
				rssKB, haveRSS = v, true
			}
		case strings.HasPrefix(line, "VmSize:"):
			if v, perr := parseStatusKB(line); perr == nil {
				vmKB, haveVM = v, true
			}
		}
		if haveRSS && haveVM {
			break
		}
	}
	if !haveRSS || !haveVM {
		return 0, 0, fmt.Errorf("resource: VmRSS/VmSize not found in /proc/self/status")
	}
	return rssKB * 1024, vmKB * 1024, nil
}

func parseStatusKB(line string) (uint64, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, fmt.Errorf("resource: malformed status line %q", line)
	}
	return strconv.ParseUint(fields[1], 10, 64)
}

// CPUPercentSince returns CPU utilization between earlier and s, as a
// percentage where 100.0 means one full core saturated and values
// above 100 indicate more than one core's worth of CPU time.
func (s Snapshot) CPUPercentSince(earlier Snapshot) float64 {
	wallUs := s.Taken.Sub(earlier.Taken).Microseconds()
	if wallUs <= 0 {
		return 0
	}
	cpuUs := (s.CPUUserMicros + s.CPUSystemMicros) - (earlier.CPUUserMicros + earlier.CPUSystemMicros)
	return float64(cpuUs) / float64(wallUs) * 100
}

// Stats is the summarized resource utilization the monitor exports
// into each time-series record and the final summary.
type Stats struct {
	CPUPercent      float64
	MemoryBytes     uint64
	PeakMemoryBytes uint64
}

// Tracker accumulates Snapshots over the life of a run and reduces
// them to Stats. Not safe for concurrent use; callers own one per
// worker (or one shared tracker sampled by the monitor).
type Tracker struct {
	start         Snapshot
	haveStart     bool
	samples       []Snapshot
	peakMemory    uint64
	synthetic     Stats
	haveSynthetic bool
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker { return &Tracker{} }

// Start takes the initial snapshot, establishing the CPU-time
// baseline for later CPUPercentSince calls.
func (t *Tracker) Start() {
	if snap, ok := Take(); ok {
		t.start = snap
		t.haveStart = true
		t.peakMemory = snap.RSSBytes
	}
}

// Sample records one more observation, tracking the running memory
// peak. No-op if /proc is unavailable.
func (t *Tracker) Sample() {
	snap, ok := Take()
	if !ok {
		return
	}
	if snap.RSSBytes > t.peakMemory {
		t.peakMemory = snap.RSSBytes
	}
	t.samples = append(t.samples, snap)
}

// SetSynthetic installs stats received over the distributed protocol
// in place of local /proc sampling — a coordinator reconstructing a
// remote node's resource stats from a Heartbeat or Results message has
// no local /proc access to sample from.
func (t *Tracker) SetSynthetic(cpuPercent float64, memoryBytes, peakMemoryBytes uint64) {
	t.synthetic = Stats{CPUPercent: cpuPercent, MemoryBytes: memoryBytes, PeakMemoryBytes: peakMemoryBytes}
	t.haveSynthetic = true
}

// Stats reduces accumulated samples to a summary. ok is false when no
// synthetic stats were installed and Start recorded no baseline
// (Start was never called, or /proc was unavailable when it was),
// even if Sample has collected samples.
func (t *Tracker) Stats() (Stats, bool) {
	if t.haveSynthetic {
		return t.synthetic, true
	}
	if !t.haveStart {
		return Stats{}, false
	}

	if len(t.samples) == 0 {
		if final, ok := Take(); ok {
			peak := t.peakMemory
			if final.RSSBytes > peak {
				peak = final.RSSBytes
			}
			return Stats{
				CPUPercent:      final.CPUPercentSince(t.start),
				MemoryBytes:     final.RSSBytes,
				PeakMemoryBytes: peak,
			}, true
		}
		return Stats{MemoryBytes: t.start.RSSBytes, PeakMemoryBytes: t.peakMemory}, true
	}

	last := t.samples[len(t.samples)-1]
	var totalMemory uint64
	for _, s := range t.samples {
		totalMemory += s.RSSBytes
	}
	return Stats{
		CPUPercent:      last.CPUPercentSince(t.start),
		MemoryBytes:     totalMemory / uint64(len(t.samples)),
		PeakMemoryBytes: t.peakMemory,
	}, true
}

// NumCPUs returns the number of logical CPUs visible to the process,
// the idiomatic Go equivalent of the original's /proc/cpuinfo scan
// with a num_cpus-crate fallback — runtime.NumCPU() already does both
// (it consults the process's CPU affinity mask on Linux) without a
// third-party dependency.
func NumCPUs() int { return runtime.NumCPU() }
