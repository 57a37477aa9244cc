package sweep

import (
	"math"

	"github.com/gomlx/groupnorm"
	"github.com/gomlx/groupnorm/backends"
	"github.com/gomlx/groupnorm/fixtures"
	"github.com/gomlx/groupnorm/gradcheck"
	"github.com/gomlx/groupnorm/tensor"
	"github.com/gomlx/groupnorm/types"
	"github.com/gomlx/groupnorm/types/shapes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// Result of checking one case. A nil error means the check passed, or it was skipped.
type Result struct {
	Case Case

	// Setup holds errors creating the link or its inputs, and the outcome of cases expected to fail.
	Setup error

	Forward, BatchInvariance, Backward error

	// BatchChecked is false for batches of one example.
	BatchChecked bool

	// MaxError is the largest absolute difference found by the comparisons of the case.
	MaxError float64
}

// Ok returns whether all checks of the case passed.
func (r *Result) Ok() bool {
	return r.Setup == nil && r.Forward == nil && r.BatchInvariance == nil && r.Backward == nil
}

// Options of Run.
type Options struct {
	// Elementwise also compares the analytic gradient with element-wise numerical gradients.
	Elementwise bool
}

// Run checks all the cases of the configuration with the backend.
func Run(backend backends.Backend, config *Config, options Options) []*Result {
	cases := config.Expand()
	results := make([]*Result, len(cases))
	for i, c := range cases {
		results[i] = runCase(backend, config, options, c, config.Seed+uint64(i))
		if results[i].Ok() {
			klog.V(1).Infof("sweep: %s passed", c.Name())
		} else {
			klog.Errorf("sweep: %s failed", c.Name())
		}
	}
	return results
}

func checkExpectation(c Case, err error) error {
	switch c.Expect {
	case ExpectValueError:
		if !errors.Is(err, types.ErrValue) {
			return errors.Errorf("expected a value error, got %v", err)
		}
	case ExpectTypeError:
		if !errors.Is(err, types.ErrType) {
			return errors.Errorf("expected a type error, got %v", err)
		}
	}
	return nil
}

func runCase(backend backends.Backend, config *Config, options Options, c Case, seed uint64) *Result {
	r := &Result{Case: c}
	mode := c.DType
	gn, err := groupnorm.NewFromAny(c.Groups, groupnorm.WithPrecision(mode), groupnorm.WithEpsilon(config.Eps), groupnorm.WithBackend(backend))
	if c.Expect != ExpectPass {
		if err == nil {
			var x *tensor.Tensor
			x, err = tensor.Zeros(mode.Compute(), c.Shape...)
			if err == nil {
				_, err = gn.Forward(x)
			}
		}
		r.Setup = checkExpectation(c, err)
		return r
	}
	if err != nil {
		r.Setup = err
		return r
	}

	rng := tensor.NewRand(seed)
	x, err := fixtures.GroupInputs(rng, shapes.Make(mode.Compute(), c.Shape...), gn.Groups)
	if err != nil {
		r.Setup = err
		return r
	}
	channels := c.Shape[1]
	gamma, err := fixtures.Uniform(rng, mode.Params(), channels)
	if err != nil {
		r.Setup = err
		return r
	}
	beta, err := fixtures.Uniform(rng, mode.Params(), channels)
	if err != nil {
		r.Setup = err
		return r
	}
	if err = gn.Initialize(channels); err != nil {
		r.Setup = err
		return r
	}
	gn.Gamma.Data, gn.Beta.Data = gamma, beta
	forwardTolerance, backwardTolerance := gradcheck.Tolerances(mode)

	// Forward and batch invariance.
	y, err := gn.Forward(x)
	if err == nil && !y.Shape().Equal(x.Shape()) {
		err = types.ValueErrorf("output shape %s doesn't match input shape %s", y.Shape(), x.Shape())
	}
	r.Forward = err
	if err == nil && c.Shape[0] > 1 {
		r.BatchChecked = true
		r.BatchInvariance = func() error {
			samples, err := x.Split()
			if err != nil {
				return err
			}
			perSample := make([]*tensor.Tensor, len(samples))
			for i, sample := range samples {
				if perSample[i], err = gn.Forward(sample); err != nil {
					return err
				}
			}
			concatenated, err := tensor.Concatenate(0, perSample...)
			if err != nil {
				return err
			}
			r.MaxError = max(r.MaxError, maxAbsDiff(y, concatenated))
			return tensor.AllClose(y, concatenated, forwardTolerance.Atol, forwardTolerance.Rtol)
		}()
	}

	// Backward.
	gy, err := fixtures.Uniform(rng, mode.Compute(), c.Shape...)
	if err != nil {
		r.Backward = err
		return r
	}
	fn, grad := groupnorm.Function(gn.Groups, gn.Eps, backend)
	inputs := []*tensor.Tensor{x, gamma, beta}
	r.Backward = gradcheck.CheckBackward(fn, grad, inputs, gy,
		gradcheck.WithEps(config.BackwardEps),
		gradcheck.WithTolerance(backwardTolerance.Atol, backwardTolerance.Rtol),
		gradcheck.WithRandom(rng))
	if r.Backward == nil && options.Elementwise {
		r.Backward = checkElementwise(r, fn, grad, inputs, gy, backwardTolerance)
	}
	return r
}

var inputNames = []string{"x", "gamma", "beta"}

// elementwiseEps is the step of the element-wise numerical gradients, which are always evaluated in Float64.
const elementwiseEps = 1e-4

func checkElementwise(r *Result, fn gradcheck.Forward, grad gradcheck.Backward, inputs []*tensor.Tensor, gy *tensor.Tensor,
	tolerance gradcheck.Tolerance) error {
	analytic, err := grad(inputs, gy)
	if err != nil {
		return err
	}
	numerical, err := gradcheck.NumericalGrad(fn, inputs, gy, elementwiseEps)
	if err != nil {
		return err
	}
	for i := range inputs {
		r.MaxError = max(r.MaxError, maxAbsDiff(numerical[i], analytic[i]))
		if err := tensor.AllClose(numerical[i], analytic[i], tolerance.Atol, tolerance.Rtol); err != nil {
			return errors.WithMessagef(err, "element-wise gradient of %s", inputNames[i])
		}
	}
	return nil
}

func maxAbsDiff(a, b *tensor.Tensor) float64 {
	av, bv := a.Float64s(), b.Float64s()
	if len(av) != len(bv) || len(av) == 0 {
		return math.NaN()
	}
	return floats.Distance(av, bv, math.Inf(1))
}
