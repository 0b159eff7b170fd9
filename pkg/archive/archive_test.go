package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/flowbench/pkg/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGetRunMeta(t *testing.T) {
	s := openTestStore(t)

	meta := RunMeta{RunID: "run-1", StartedAt: time.Now(), NumNodes: 2}
	require.NoError(t, s.PutRunMeta(meta))

	got, err := s.GetRunMeta("run-1")
	require.NoError(t, err)
	require.Equal(t, meta.RunID, got.RunID)
	require.Equal(t, meta.NumNodes, got.NumNodes)
}

func TestGetRunMetaMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRunMeta("nope")
	require.Error(t, err)
}

func TestPutAndListNodeResults(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutRunMeta(RunMeta{RunID: "run-2", NumNodes: 2}))
	require.NoError(t, s.PutNodeResult("run-2", NodeResult{
		NodeID:  "node-a",
		Results: protocol.ResultsMessage{NodeID: "node-a", DurationNs: 1000},
	}))
	require.NoError(t, s.PutNodeResult("run-2", NodeResult{
		NodeID:  "node-b",
		Results: protocol.ResultsMessage{NodeID: "node-b", DurationNs: 2000},
	}))

	results, err := s.ListNodeResults("run-2")
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestListRunIDs(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutRunMeta(RunMeta{RunID: "run-a"}))
	require.NoError(t, s.PutRunMeta(RunMeta{RunID: "run-b"}))

	ids, err := s.ListRunIDs()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"run-a", "run-b"}, ids)
}

func TestDeleteRun(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutRunMeta(RunMeta{RunID: "run-x"}))
	require.NoError(t, s.DeleteRun("run-x"))

	_, err := s.GetRunMeta("run-x")
	require.Error(t, err)
}
