// Package sampler implements the distribution sampler: given a
// logical range [0, N) of block slots assigned to a worker, it emits
// a block index per spec.md §4.4. Each Sampler is owned by exactly
// one worker and is not safe for concurrent use.
package sampler

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Kind identifies an offset distribution.
type Kind int

const (
	Sequential Kind = iota
	Uniform
	Zipf
	Pareto
	Gaussian
)

func (k Kind) String() string {
	switch k {
	case Sequential:
		return "sequential"
	case Uniform:
		return "uniform"
	case Zipf:
		return "zipf"
	case Pareto:
		return "pareto"
	case Gaussian:
		return "gaussian"
	default:
		return "unknown"
	}
}

// Params configures a Sampler. Only the fields relevant to Kind are
// consulted; bounds match original_source/src/config/workload.rs:
// Theta in [0,3], H in [0,10], Stddev > 0, Center in [0,1].
type Params struct {
	Kind   Kind
	Theta  float64 // Zipf
	H      float64 // Pareto
	Stddev float64 // Gaussian
	Center float64 // Gaussian
}

// Validate checks Params against the bounds from the workload config.
func (p Params) Validate() error {
	switch p.Kind {
	case Zipf:
		if p.Theta < 0 || p.Theta > 3 {
			return fmt.Errorf("sampler: zipf theta %f out of range [0,3]", p.Theta)
		}
	case Pareto:
		if p.H < 0 || p.H > 10 {
			return fmt.Errorf("sampler: pareto h %f out of range [0,10]", p.H)
		}
	case Gaussian:
		if p.Stddev <= 0 {
			return fmt.Errorf("sampler: gaussian stddev must be > 0, got %f", p.Stddev)
		}
		if p.Center < 0 || p.Center > 1 {
			return fmt.Errorf("sampler: gaussian center %f out of range [0,1]", p.Center)
		}
	}
	return nil
}

// Sampler draws block indices in [0, N) according to Params.
type Sampler struct {
	params Params
	n      uint64
	rng    *rand.Rand
	seqCtr uint64
}

// New constructs a Sampler over the logical range [0, n), seeded with
// seed so distributed runs can reproduce a run deterministically per
// worker when given the same seed.
func New(params Params, n uint64, seed uint64) (*Sampler, error) {
	if n == 0 {
		return nil, fmt.Errorf("sampler: range must be non-empty")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Sampler{
		params: params,
		n:      n,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
	}, nil
}

// Next returns the next block index in [0, n).
func (s *Sampler) Next() uint64 {
	switch s.params.Kind {
	case Sequential:
		idx := s.seqCtr % s.n
		s.seqCtr++
		return idx
	case Uniform:
		return s.rng.Uint64N(s.n)
	case Zipf:
		return s.zipf()
	case Pareto:
		return s.pareto()
	case Gaussian:
		return s.gaussian()
	default:
		return s.rng.Uint64N(s.n)
	}
}

// zipf uses an inverse-CDF Zipf-Mandelbrot approximation: theta=0
// degenerates to uniform; larger theta concentrates mass near index 0.
func (s *Sampler) zipf() uint64 {
	if s.params.Theta == 0 {
		return s.rng.Uint64N(s.n)
	}
	u := s.rng.Float64()
	if u <= 0 {
		u = 1e-12
	}
	// (1-u)^(1/(1+theta)) stays in (0,1); concentrates toward 0 as
	// theta grows, matching the Zipf-like left skew.
	v := math.Pow(1-u, 1/(1+s.params.Theta))
	idx := uint64(float64(s.n) * (1 - v))
	return clamp(idx, s.n)
}

// pareto implements the Pareto(h) inverse-CDF from spec.md §4.4,
// floor(N * (1 - U^(1/alpha))), with alpha derived from h so that
// larger h produces heavier left skew (alpha = 1 + h).
func (s *Sampler) pareto() uint64 {
	alpha := 1 + s.params.H
	u := s.rng.Float64()
	idx := uint64(float64(s.n) * (1 - math.Pow(u, 1/alpha)))
	return clamp(idx, s.n)
}

// gaussian draws a Box-Muller normal sample scaled by stddev*N and
// offset by center*N, clamped into [0, N-1].
func (s *Sampler) gaussian() uint64 {
	u1 := s.rng.Float64()
	u2 := s.rng.Float64()
	if u1 <= 0 {
		u1 = 1e-12
	}
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

	value := s.params.Center*float64(s.n) + z*s.params.Stddev*float64(s.n)
	if value < 0 {
		return 0
	}
	return clamp(uint64(value), s.n)
}

func clamp(idx, n uint64) uint64 {
	if idx >= n {
		return n - 1
	}
	return idx
}
