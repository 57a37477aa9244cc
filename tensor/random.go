package tensor

import (
	"math/rand/v2"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/groupnorm/types/shapes"
)

// Uniform returns a tensor of the given dtype and dimensions with values sampled uniformly from [low, high).
//
// Values are sampled in float64 and then converted to dtype.
func Uniform(rng *rand.Rand, low, high float64, dtype dtypes.DType, dimensions ...int) (*Tensor, error) {
	values := make([]float64, shapes.Make(dtype, dimensions...).Size())
	for i := range values {
		values[i] = low + (high-low)*rng.Float64()
	}
	return FromFloat64s(dtype, values, dimensions...)
}

// NewRand returns a deterministic random number generator seeded with seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
