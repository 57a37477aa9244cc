package cpu

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/groupnorm/backends"
	"github.com/gomlx/groupnorm/tensor"
	"github.com/gomlx/groupnorm/types"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-5

func TestRegistered(t *testing.T) {
	assert.Contains(t, backends.List(), BackendName)
	b, err := backends.New("cpu")
	require.NoError(t, err)
	assert.Equal(t, "cpu", b.Name())
	b.Finalize()
}

func TestForward(t *testing.T) {
	b := New()
	x := must.M1(tensor.FromFlatAndDimensions([]float64{1, 2, 3, 4}, 1, 2, 2))
	gamma := must.M1(tensor.Ones(dtypes.Float64, 2))
	beta := must.M1(tensor.Zeros(dtypes.Float64, 2))

	t.Run("groups=1", func(t *testing.T) {
		y, err := b.GroupNormForward(x, gamma, beta, 1, eps)
		require.NoError(t, err)
		std := math.Sqrt(1.25 + eps)
		assert.InDeltaSlice(t, []float64{-1.5 / std, -0.5 / std, 0.5 / std, 1.5 / std}, y.Float64s(), 1e-12)
	})

	t.Run("groups=2", func(t *testing.T) {
		scale := must.M1(tensor.FromFlatAndDimensions([]float64{2, 3}, 2))
		shift := must.M1(tensor.FromFlatAndDimensions([]float64{10, 20}, 2))
		y, err := b.GroupNormForward(x, scale, shift, 2, eps)
		require.NoError(t, err)
		n := 0.5 / math.Sqrt(0.25+eps)
		assert.InDeltaSlice(t, []float64{10 - 2*n, 10 + 2*n, 20 - 3*n, 20 + 3*n}, y.Float64s(), 1e-12)
	})

	t.Run("mixed precision", func(t *testing.T) {
		x16 := must.M1(x.Convert(dtypes.Float16))
		gamma32 := must.M1(gamma.Convert(dtypes.Float32))
		beta32 := must.M1(beta.Convert(dtypes.Float32))
		y, err := b.GroupNormForward(x16, gamma32, beta32, 1, eps)
		require.NoError(t, err)
		assert.Equal(t, dtypes.Float16, y.DType())
		assert.Equal(t, []int{1, 2, 2}, y.Shape().Dimensions)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := b.GroupNormForward(x, gamma, beta, 3, eps)
		assert.True(t, errors.Is(err, types.ErrValue))
		flat := must.M1(tensor.FromFlatAndDimensions([]float64{1, 2}, 2))
		_, err = b.GroupNormForward(flat, gamma, beta, 1, eps)
		assert.True(t, errors.Is(err, types.ErrValue))
		wrongGamma := must.M1(tensor.Ones(dtypes.Float64, 3))
		_, err = b.GroupNormForward(x, wrongGamma, beta, 1, eps)
		assert.True(t, errors.Is(err, types.ErrValue))
	})
}

// numericGrad returns the central difference of sum(forward * gy) with respect to values[i].
func numericGrad(values []float64, i int, f func() float64) float64 {
	const delta = 1e-6
	orig := values[i]
	values[i] = orig + delta
	plus := f()
	values[i] = orig - delta
	minus := f()
	values[i] = orig
	return (plus - minus) / (2 * delta)
}

func TestBackward(t *testing.T) {
	b := New()
	rng := tensor.NewRand(7)
	const groups = 2
	xs := must.M1(tensor.Uniform(rng, -1, 1, dtypes.Float64, 2, 4, 3)).Float64s()
	gammas := must.M1(tensor.Uniform(rng, 0.5, 1.5, dtypes.Float64, 4)).Float64s()
	betas := must.M1(tensor.Uniform(rng, -1, 1, dtypes.Float64, 4)).Float64s()
	gy := must.M1(tensor.Uniform(rng, -1, 1, dtypes.Float64, 2, 4, 3))
	gys := gy.Float64s()

	loss := func() float64 {
		x := must.M1(tensor.FromFloat64s(dtypes.Float64, xs, 2, 4, 3))
		gamma := must.M1(tensor.FromFloat64s(dtypes.Float64, gammas, 4))
		beta := must.M1(tensor.FromFloat64s(dtypes.Float64, betas, 4))
		y := must.M1(b.GroupNormForward(x, gamma, beta, groups, eps))
		var sum float64
		for i, v := range y.Float64s() {
			sum += v * gys[i]
		}
		return sum
	}

	x := must.M1(tensor.FromFloat64s(dtypes.Float64, xs, 2, 4, 3))
	gamma := must.M1(tensor.FromFloat64s(dtypes.Float64, gammas, 4))
	gx, gGamma, gBeta, err := b.GroupNormBackward(x, gamma, gy, groups, eps)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 3}, gx.Shape().Dimensions)
	assert.Equal(t, []int{4}, gGamma.Shape().Dimensions)

	gxs, gGammas, gBetas := gx.Float64s(), gGamma.Float64s(), gBeta.Float64s()
	for i := range xs {
		assert.InDeltaf(t, numericGrad(xs, i, loss), gxs[i], 1e-5, "gx[%d]", i)
	}
	for c := range gammas {
		assert.InDeltaf(t, numericGrad(gammas, c, loss), gGammas[c], 1e-5, "gGamma[%d]", c)
		assert.InDeltaf(t, numericGrad(betas, c, loss), gBetas[c], 1e-5, "gBeta[%d]", c)
	}

	// Gradients with respect to x of a normalization sum to zero within each group.
	for grp := range 2 * groups {
		var sum float64
		for _, v := range gxs[grp*6 : (grp+1)*6] {
			sum += v
		}
		assert.InDelta(t, 0, sum, 1e-9)
	}

	_, _, _, err = b.GroupNormBackward(x, gamma, gamma, groups, eps)
	assert.True(t, errors.Is(err, types.ErrValue))
}

func TestBackward_MixedPrecision(t *testing.T) {
	b := New()
	rng := tensor.NewRand(3)
	x := must.M1(tensor.Uniform(rng, -1, 1, dtypes.Float16, 3, 4))
	gy := must.M1(tensor.Uniform(rng, -1, 1, dtypes.Float16, 3, 4))
	gamma := must.M1(tensor.Ones(dtypes.Float32, 4))
	gx, gGamma, gBeta, err := b.GroupNormBackward(x, gamma, gy, 2, eps)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float16, gx.DType())
	assert.Equal(t, dtypes.Float32, gGamma.DType())
	assert.Equal(t, dtypes.Float32, gBeta.DType())
}
