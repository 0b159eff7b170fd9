package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordReadWrite(t *testing.T) {
	s := New(0)
	s.RecordRead(4096, 1000)
	s.RecordWrite(8192, 2000)

	snap := s.Snapshot()
	require.Equal(t, uint64(1), snap.ReadOps)
	require.Equal(t, uint64(1), snap.WriteOps)
	require.Equal(t, uint64(4096), snap.ReadBytes)
	require.Equal(t, uint64(8192), snap.WriteBytes)
	require.Equal(t, uint64(4096), snap.MinBytesPerOp)
	require.Equal(t, uint64(8192), snap.MaxBytesPerOp)
	require.Equal(t, uint64(2), snap.Overall.Len())
}

func TestMergeIsAssociativeOnCounters(t *testing.T) {
	a := New(0)
	a.RecordRead(100, 10)
	b := New(0)
	b.RecordRead(200, 20)
	c := New(0)
	c.RecordWrite(300, 30)

	ab := a.Snapshot().Merge(b.Snapshot())
	abc1 := ab.Merge(c.Snapshot())

	bc := b.Snapshot().Merge(c.Snapshot())
	abc2 := a.Snapshot().Merge(bc)

	require.Equal(t, abc1.ReadOps, abc2.ReadOps)
	require.Equal(t, abc1.ReadBytes, abc2.ReadBytes)
	require.Equal(t, abc1.WriteOps, abc2.WriteOps)
	require.Equal(t, abc1.Overall.Len(), abc2.Overall.Len())
}

func TestCoverageTracksUniqueBlocks(t *testing.T) {
	s := New(4096)
	s.RecordRead(4096, 10)
	s.RecordCoverage(0, 4096)
	s.RecordRead(4096, 10)
	s.RecordCoverage(0, 4096) // rewrite of the same block
	s.RecordRead(4096, 10)
	s.RecordCoverage(4096, 4096)

	snap := s.Snapshot()
	require.Equal(t, uint64(2), snap.UniqueBlocks)
	require.True(t, snap.RewritePercent() > 0)
}

func TestCoverageDisabledByDefault(t *testing.T) {
	s := New(0)
	s.RecordRead(4096, 10)
	s.RecordCoverage(0, 4096)

	snap := s.Snapshot()
	require.False(t, snap.CoverageEnabled)
	require.Equal(t, float64(0), snap.RewritePercent())
}

func TestQueueDepthAverageAndPeak(t *testing.T) {
	s := New(0)
	s.UpdateQueueDepth(2)
	s.UpdateQueueDepth(4)
	s.UpdateQueueDepth(6)

	snap := s.Snapshot()
	require.Equal(t, uint64(6), snap.PeakQueueDepth)
	require.Equal(t, float64(4), snap.AvgQueueDepth)
}

func TestMetadataOpsTracked(t *testing.T) {
	s := New(0)
	s.RecordMetadataOp(Mkdir, 500)
	s.RecordMetadataOp(Mkdir, 1500)
	s.RecordMetadataOp(Fsync, 2500)

	snap := s.Snapshot()
	require.Equal(t, uint64(2), snap.MetadataOps[Mkdir])
	require.Equal(t, uint64(1), snap.MetadataOps[Fsync])
	require.Equal(t, uint64(2), snap.MetadataHists[Mkdir].Len())
}

func TestSnapshotIsIndependentOfLiveStats(t *testing.T) {
	s := New(0)
	s.RecordRead(100, 10)

	snap := s.Snapshot()
	s.RecordRead(200, 20)

	require.Equal(t, uint64(1), snap.ReadOps)
	require.Equal(t, uint64(2), s.Snapshot().ReadOps)
}
