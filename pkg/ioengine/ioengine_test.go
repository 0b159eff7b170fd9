package ioengine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSyncBackendRoundTrip(t *testing.T) {
	be, err := New(KindSync, 1, 4096)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sync.dat")
	fileID, err := be.Open(path, false)
	require.NoError(t, err)

	payload := []byte("hello flowbench")
	require.NoError(t, be.Write(fileID, payload, 0, 1))

	completions, err := be.Reap(1)
	require.NoError(t, err)
	require.Len(t, completions, 1)
	require.Equal(t, uint64(1), completions[0].CorrelationID)
	require.Equal(t, len(payload), completions[0].Bytes)

	out := make([]byte, len(payload))
	require.NoError(t, be.Read(fileID, out, 0, 2))
	completions, err = be.Reap(1)
	require.NoError(t, err)
	require.Len(t, completions, 1)
	require.Equal(t, payload, out)

	require.NoError(t, be.Sync(fileID))
	require.NoError(t, be.Close(fileID))
}

func TestSyncBackendRejectsBadQueueDepth(t *testing.T) {
	_, err := New(KindSync, 4, 4096)
	require.Error(t, err)
	var qerr *QueueDepthViolation
	require.ErrorAs(t, err, &qerr)
}

func TestMmapBackendRoundTrip(t *testing.T) {
	be, err := New(KindMmap, 1, 4096)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "mmap.dat")
	fileID, err := be.Open(path, false)
	require.NoError(t, err)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	require.NoError(t, be.Write(fileID, payload, 0, 1))
	completions, err := be.Reap(0)
	require.NoError(t, err)
	require.Len(t, completions, 1)

	out := make([]byte, 4096)
	require.NoError(t, be.Read(fileID, out, 0, 2))
	completions, err = be.Reap(0)
	require.NoError(t, err)
	require.Len(t, completions, 1)
	require.Equal(t, payload, out)

	require.NoError(t, be.Close(fileID))
}

func TestMmapClampsQueueDepth(t *testing.T) {
	be, err := New(KindMmap, 32, 4096)
	require.NoError(t, err)
	require.NotNil(t, be)
}

func TestRingBackendRoundTrip(t *testing.T) {
	for _, kind := range []Kind{KindIOUring, KindLibaio} {
		be, err := New(kind, 8, 4096)
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "ring.dat")
		fileID, err := be.Open(path, false)
		require.NoError(t, err)

		payload := []byte("ring payload")
		require.NoError(t, be.Write(fileID, payload, 0, 42))

		var completions []Completion
		require.Eventually(t, func() bool {
			c, err := be.Reap(8)
			require.NoError(t, err)
			completions = append(completions, c...)
			return len(completions) >= 1
		}, 2*time.Second, 10*time.Millisecond)

		require.Equal(t, uint64(42), completions[0].CorrelationID)
		require.NoError(t, be.Close(fileID))
	}
}

func TestRingBackendQueueFull(t *testing.T) {
	rb := newRingBackend("io_uring", 1, 4096, true)
	defer rb.Shutdown()

	path := filepath.Join(t.TempDir(), "full.dat")
	fileID, err := rb.Open(path, false)
	require.NoError(t, err)

	// Exhaust the single queue slot before the worker can drain it by
	// holding the lock isn't possible here, so instead assert the
	// InFlight accounting never exceeds queueDepth across many ops.
	for i := 0; i < 50; i++ {
		buf := []byte("x")
		_ = rb.Write(fileID, buf, int64(i), uint64(i))
		require.LessOrEqual(t, rb.InFlight(), 1)
		rb.Reap(1)
	}
}
