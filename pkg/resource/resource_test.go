package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTakeOnLinux(t *testing.T) {
	snap, ok := Take()
	if !ok {
		t.Skip("resource: /proc unavailable on this platform")
	}
	require.True(t, snap.VMBytes >= snap.RSSBytes || snap.VMBytes == 0)
	require.False(t, snap.Taken.IsZero())
}

func TestCPUPercentSince(t *testing.T) {
	earlier := Snapshot{CPUUserMicros: 1000, CPUSystemMicros: 500, Taken: time.Unix(0, 0)}
	later := Snapshot{CPUUserMicros: 2000, CPUSystemMicros: 1000, Taken: time.Unix(0, 0).Add(1500 * time.Microsecond)}

	pct := later.CPUPercentSince(earlier)
	require.InDelta(t, 100.0, pct, 0.01)
}

func TestCPUPercentSinceZeroWallTime(t *testing.T) {
	snap := Snapshot{Taken: time.Unix(0, 0)}
	require.Equal(t, 0.0, snap.CPUPercentSince(snap))
}

func TestTrackerSynthetic(t *testing.T) {
	tr := NewTracker()
	tr.SetSynthetic(42.5, 1024, 2048)

	stats, ok := tr.Stats()
	require.True(t, ok)
	require.Equal(t, 42.5, stats.CPUPercent)
	require.Equal(t, uint64(1024), stats.MemoryBytes)
	require.Equal(t, uint64(2048), stats.PeakMemoryBytes)
}

func TestTrackerNoStartNoSynthetic(t *testing.T) {
	tr := NewTracker()
	_, ok := tr.Stats()
	require.False(t, ok)
}

func TestTrackerStartAndSample(t *testing.T) {
	tr := NewTracker()
	tr.Start()
	tr.Sample()
	tr.Sample()

	stats, ok := tr.Stats()
	if !ok {
		t.Skip("resource: /proc unavailable on this platform")
	}
	require.GreaterOrEqual(t, stats.PeakMemoryBytes, stats.MemoryBytes)
}

func TestNumCPUs(t *testing.T) {
	require.Greater(t, NumCPUs(), 0)
}
