package testkit

import "math"

// Rand is a deterministic draw source: a 64-bit linear congruential engine
// with Box-Muller normals. Fixtures seeded through it stay stable no matter
// how math/rand's sequence changes across Go releases.
type Rand struct {
	state    uint64
	spare    float64
	hasSpare bool
}

// NewRand returns a generator whose sequence is fully determined by seed.
func NewRand(seed int64) *Rand {
	return &Rand{state: uint64(seed)}
}

// next advances the engine with Knuth's MMIX multiplier and increment.
func (r *Rand) next() uint64 {
	r.state = r.state*6364136223846793005 + 1442695040888963407
	return r.state
}

// Float64 returns a uniform draw in [0, 1) from the top 53 bits, where the
// congruential engine's period is longest.
func (r *Rand) Float64() float64 {
	return float64(r.next()>>11) / (1 << 53)
}

// Norm returns a standard normal draw via the Box-Muller transform. Each
// transform yields two normals; the second is cached for the next call.
func (r *Rand) Norm() float64 {
	if r.hasSpare {
		r.hasSpare = false
		return r.spare
	}
	u := r.Float64()
	for u == 0 {
		u = r.Float64()
	}
	v := r.Float64()
	radius := math.Sqrt(-2 * math.Log(u))
	angle := 2 * math.Pi * v
	r.spare = radius * math.Sin(angle)
	r.hasSpare = true
	return radius * math.Cos(angle)
}
