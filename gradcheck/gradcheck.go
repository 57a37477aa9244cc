// Package gradcheck compares analytic gradients with numerical (finite differences) ones.
//
// CheckBackward follows the directional derivative approach: instead of differentiating every input
// element independently, it draws a random unit direction d over all the inputs and compares the
// central difference of f along d,
//
//	(f(x + eps*d) - f(x - eps*d)) / (2*eps), with f(x) = sum(forward(x) * gy),
//
// with the analytic directional derivative sum_i <grad_i, d_i>. This is a single comparison per check,
// and it needs only 2 extra forward evaluations.
//
// NumericalGrad computes element-wise central differences, for small inputs.
package gradcheck

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/groupnorm/tensor"
	"github.com/gomlx/groupnorm/types"
	"github.com/gomlx/groupnorm/types/precision"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Forward computes the output of the function being checked.
type Forward func(inputs []*tensor.Tensor) (*tensor.Tensor, error)

// Backward returns the gradient of sum(forward(inputs) * gy) with respect to each of the inputs.
type Backward func(inputs []*tensor.Tensor, gy *tensor.Tensor) ([]*tensor.Tensor, error)

// DefaultEps is the default finite differences step.
const DefaultEps = 1e-3

// Tolerance for a comparison: |got - want| <= Atol + Rtol*|want|.
type Tolerance struct {
	Atol, Rtol float64
}

// Tolerances returns the forward and backward tolerances used to check group normalization in the given mode.
//
// Reduced precision modes (Float16, BFloat16 and Mixed16) get much looser tolerances.
func Tolerances(mode precision.Mode) (forward, backward Tolerance) {
	if mode.IsReduced() {
		return Tolerance{Atol: 1e-2, Rtol: 1e-1}, Tolerance{Atol: 5e-1, Rtol: 1e-1}
	}
	return Tolerance{Atol: 1e-4, Rtol: 1e-3}, Tolerance{Atol: 1e-3, Rtol: 1e-2}
}

type config struct {
	eps          float64
	tolerance    Tolerance
	rng          *rand.Rand
	numericDType dtypes.DType
}

// Option configures CheckBackward.
type Option func(c *config)

// WithEps sets the finite differences step. Default is DefaultEps.
func WithEps(eps float64) Option {
	return func(c *config) { c.eps = eps }
}

// WithTolerance sets the tolerance of the comparison. Default is the Float32 backward tolerance.
func WithTolerance(atol, rtol float64) Option {
	return func(c *config) { c.tolerance = Tolerance{Atol: atol, Rtol: rtol} }
}

// WithRandom sets the random number generator used to draw the direction.
func WithRandom(rng *rand.Rand) Option {
	return func(c *config) { c.rng = rng }
}

// WithNumericDType sets the dtype inputs are converted to for the numerical evaluation.
//
// By default, reduced precision inputs (Float16 and BFloat16) are evaluated in Float64, since the
// rounding of a 16 bits forward is of the order of the finite differences. Other inputs keep their dtype.
func WithNumericDType(dtype dtypes.DType) Option {
	return func(c *config) { c.numericDType = dtype }
}

func isReduced(dtype dtypes.DType) bool {
	return dtype == dtypes.Float16 || dtype == dtypes.BFloat16
}

// CheckBackward verifies that grad is the gradient of fn at inputs, for the output gradient gy.
//
// It returns nil if the numerical and analytic directional derivatives agree within the tolerance, or an
// error wrapping types.ErrValue describing the mismatch.
func CheckBackward(fn Forward, grad Backward, inputs []*tensor.Tensor, gy *tensor.Tensor, options ...Option) error {
	_, backwardTolerance := Tolerances(precision.Float32)
	c := &config{eps: DefaultEps, tolerance: backwardTolerance}
	for _, option := range options {
		option(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if len(inputs) == 0 {
		return types.ValueErrorf("CheckBackward requires at least one input")
	}
	if c.eps <= 0 {
		return types.ValueErrorf("CheckBackward requires a positive eps, got %g", c.eps)
	}

	// Analytic directional derivative.
	grads, err := grad(inputs, gy)
	if err != nil {
		return errors.WithMessage(err, "CheckBackward: backward failed")
	}
	if len(grads) != len(inputs) {
		return types.ValueErrorf("CheckBackward: backward returned %d gradients for %d inputs", len(grads), len(inputs))
	}
	directions := randomDirections(c.rng, inputs)
	var analytic float64
	for i, g := range grads {
		if !g.Shape().EqualDimensions(inputs[i].Shape()) {
			return types.ValueErrorf("CheckBackward: gradient #%d has shape %s, but input has shape %s", i, g.Shape(), inputs[i].Shape())
		}
		analytic += floats.Dot(g.Float64s(), directions[i])
	}

	// Numerical directional derivative.
	gys := gy.Float64s()
	evaluate := func(step float64) (float64, error) {
		var err error
		shifted := make([]*tensor.Tensor, len(inputs))
		for i, input := range inputs {
			values := input.Float64s()
			floats.AddScaled(values, step, directions[i])
			dtype := c.numericDType
			if dtype == dtypes.InvalidDType {
				dtype = input.DType()
				if isReduced(dtype) {
					dtype = dtypes.Float64
				}
			}
			if shifted[i], err = tensor.FromFloat64s(dtype, values, input.Shape().Dimensions...); err != nil {
				return 0, err
			}
		}
		y, err := fn(shifted)
		if err != nil {
			return 0, errors.WithMessage(err, "CheckBackward: forward failed")
		}
		if y.Size() != len(gys) {
			return 0, types.ValueErrorf("CheckBackward: forward output %s doesn't match gy %s", y.Shape(), gy.Shape())
		}
		return floats.Dot(y.Float64s(), gys), nil
	}
	plus, err := evaluate(c.eps)
	if err != nil {
		return err
	}
	minus, err := evaluate(-c.eps)
	if err != nil {
		return err
	}
	numerical := (plus - minus) / (2 * c.eps)

	diff := math.Abs(numerical - analytic)
	if math.IsNaN(diff) || diff > c.tolerance.Atol+c.tolerance.Rtol*math.Abs(numerical) {
		return types.ValueErrorf("CheckBackward: numerical directional derivative %g and analytic %g differ by %g (atol=%g, rtol=%g, eps=%g)",
			numerical, analytic, diff, c.tolerance.Atol, c.tolerance.Rtol, c.eps)
	}
	return nil
}

// randomDirections returns a random direction for each input, normalized such that the concatenation of all
// of them has unit norm.
func randomDirections(rng *rand.Rand, inputs []*tensor.Tensor) [][]float64 {
	directions := make([][]float64, len(inputs))
	var sumSquares float64
	for i, input := range inputs {
		d := make([]float64, input.Size())
		for j := range d {
			d[j] = rng.NormFloat64()
		}
		norm := floats.Norm(d, 2)
		sumSquares += norm * norm
		directions[i] = d
	}
	if sumSquares == 0 {
		return directions
	}
	scale := 1 / math.Sqrt(sumSquares)
	for _, d := range directions {
		floats.Scale(scale, d)
	}
	return directions
}

// NumericalGrad returns the element-wise central differences of sum(fn(inputs) * gy) with respect
// to each input, computed in float64.
//
// It takes 2 forward evaluations per input element, so it's only practical for small inputs.
func NumericalGrad(fn Forward, inputs []*tensor.Tensor, gy *tensor.Tensor, eps float64) ([]*tensor.Tensor, error) {
	if eps <= 0 {
		return nil, types.ValueErrorf("NumericalGrad requires a positive eps, got %g", eps)
	}
	gys := gy.Float64s()
	values := make([][]float64, len(inputs))
	for i, input := range inputs {
		values[i] = input.Float64s()
	}
	evaluate := func() (float64, error) {
		current := make([]*tensor.Tensor, len(inputs))
		for i, input := range inputs {
			var err error
			if current[i], err = tensor.FromFloat64s(dtypes.Float64, values[i], input.Shape().Dimensions...); err != nil {
				return 0, err
			}
		}
		y, err := fn(current)
		if err != nil {
			return 0, err
		}
		return floats.Dot(y.Float64s(), gys), nil
	}

	grads := make([]*tensor.Tensor, len(inputs))
	for i, input := range inputs {
		g := make([]float64, len(values[i]))
		for j := range values[i] {
			orig := values[i][j]
			values[i][j] = orig + eps
			plus, err := evaluate()
			if err != nil {
				return nil, err
			}
			values[i][j] = orig - eps
			minus, err := evaluate()
			if err != nil {
				return nil, err
			}
			values[i][j] = orig
			g[j] = (plus - minus) / (2 * eps)
		}
		var err error
		if grads[i], err = tensor.FromFloat64s(dtypes.Float64, g, input.Shape().Dimensions...); err != nil {
			return nil, err
		}
	}
	return grads, nil
}
