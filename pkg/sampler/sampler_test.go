package sampler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequentialWrapsModuloN(t *testing.T) {
	s, err := New(Params{Kind: Sequential}, 4, 1)
	require.NoError(t, err)

	var seen []uint64
	for i := 0; i < 9; i++ {
		seen = append(seen, s.Next())
	}
	require.Equal(t, []uint64{0, 1, 2, 3, 0, 1, 2, 3, 0}, seen)
}

func TestUniformStaysInRange(t *testing.T) {
	s, err := New(Params{Kind: Uniform}, 100, 42)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		idx := s.Next()
		require.Less(t, idx, uint64(100))
	}
}

func TestZipfDegeneratesToUniformAtThetaZero(t *testing.T) {
	s, err := New(Params{Kind: Zipf, Theta: 0}, 1000, 7)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		require.Less(t, s.Next(), uint64(1000))
	}
}

func TestZipfSkewsTowardZero(t *testing.T) {
	s, err := New(Params{Kind: Zipf, Theta: 1.2}, 1000, 3)
	require.NoError(t, err)

	var lowHalf, total int
	for i := 0; i < 5000; i++ {
		if s.Next() < 500 {
			lowHalf++
		}
		total++
	}
	require.Greater(t, float64(lowHalf)/float64(total), 0.5)
}

func TestParetoValidatesBounds(t *testing.T) {
	_, err := New(Params{Kind: Pareto, H: 11}, 100, 1)
	require.Error(t, err)

	_, err = New(Params{Kind: Pareto, H: -1}, 100, 1)
	require.Error(t, err)
}

func TestGaussianValidatesBounds(t *testing.T) {
	_, err := New(Params{Kind: Gaussian, Stddev: 0, Center: 0.5}, 100, 1)
	require.Error(t, err)

	_, err = New(Params{Kind: Gaussian, Stddev: 0.1, Center: 1.5}, 100, 1)
	require.Error(t, err)
}

func TestGaussianStaysInRange(t *testing.T) {
	s, err := New(Params{Kind: Gaussian, Stddev: 0.2, Center: 0.5}, 1000, 9)
	require.NoError(t, err)

	for i := 0; i < 2000; i++ {
		idx := s.Next()
		require.Less(t, idx, uint64(1000))
	}
}
