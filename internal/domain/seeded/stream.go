// Package seeded provides reproducible random streams. Values depend only on
// the seed and salt, never on the Go release or the platform.
package seeded

import "math/rand/v2"

// Stream salts keep independent concerns on separate sequences.
const (
	SimulationSalt uint64 = 0x5350_5249_5452_4143
	DropSalt       uint64 = 0x4452_4f50_5354_524d
)

// Stream is a single PCG sequence with fixed derivations for floats and indexes.
type Stream struct {
	src *rand.PCG
}

// New returns a stream for seed on the sequence selected by salt.
func New(seed int64, salt uint64) *Stream {
	return &Stream{src: rand.NewPCG(uint64(seed), salt)}
}

// Float64 returns a value in [0, 1) built from the top 53 bits of the next draw.
func (s *Stream) Float64() float64 {
	return float64(s.src.Uint64()>>11) * (1.0 / (1 << 53))
}

// Index returns a value in [0, n). n must be positive.
func (s *Stream) Index(n int) int {
	i := int(s.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

// Uniform returns a value in [lo, hi).
func (s *Stream) Uniform(lo, hi float64) float64 {
	return lo + float64((hi-lo)*s.Float64())
}
