package groupnorm_test

import (
	"flag"
	"fmt"
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/groupnorm"
	"github.com/gomlx/groupnorm/backends"
	"github.com/gomlx/groupnorm/backends/cpu"
	"github.com/gomlx/groupnorm/backends/xla"
	"github.com/gomlx/groupnorm/fixtures"
	"github.com/gomlx/groupnorm/gradcheck"
	"github.com/gomlx/groupnorm/internal/testutil"
	"github.com/gomlx/groupnorm/tensor"
	"github.com/gomlx/groupnorm/types"
	"github.com/gomlx/groupnorm/types/precision"
	"github.com/gomlx/groupnorm/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var flagPluginNames = flag.String("plugins", "cpu", "List (|-separated) of PJRT plugin names to also run the suite with, e.g. \"cpu|cuda\". Missing plugins are skipped.")

// backwardEps is the finite differences step of the gradient checks.
const backwardEps = 2e-2

var testModes = []precision.Mode{precision.Float16, precision.Float32, precision.Float64, precision.Mixed16}

func getPluginNames() []string {
	var names []string
	for _, name := range strings.Split(*flagPluginNames, "|") {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// iterateBackends runs testFn with the cpu backend, and with an xla backend for each plugin in -plugins,
// with one device and, if available, with 2 replicas.
func iterateBackends(t *testing.T, testFn func(t *testing.T, b backends.Backend)) {
	t.Run("cpu", func(t *testing.T) {
		testFn(t, cpu.New())
	})
	for _, pluginName := range getPluginNames() {
		t.Run("xla:"+pluginName, func(t *testing.T) {
			if !xla.PluginAvailable(pluginName) {
				t.Skipf("PJRT plugin %q not available (available: %v)", pluginName, xla.AvailablePlugins())
			}
			b, err := xla.New(pluginName)
			require.NoError(t, err)
			defer b.Finalize()
			testFn(t, b)
		})
		t.Run("xla:"+pluginName+",replicas=2", func(t *testing.T) {
			if !xla.PluginAvailable(pluginName) {
				t.Skipf("PJRT plugin %q not available", pluginName)
			}
			probe := must.M1(xla.New(pluginName))
			numDevices := probe.NumDevices()
			probe.Finalize()
			if numDevices < 2 {
				t.Skipf("requires at least 2 devices, but plugin %q only has %d", pluginName, numDevices)
			}
			b, err := xla.New(pluginName, xla.WithReplicas(2))
			require.NoError(t, err)
			defer b.Finalize()
			testFn(t, b)
		})
	}
}

func gridAxes() []testutil.Axis {
	return []testutil.Axis{
		testutil.Values("shape", []int{1, 4, 5, 3}, []int{5, 4, 7}, []int{3, 20}),
		testutil.Values("groups", 1, 2, 4),
		testutil.Values("dtype", testModes...),
	}
}

// caseName formats dimensions in tuple notation.
func caseName(c testutil.Case, axes []testutil.Axis) string {
	named := make(testutil.Case, len(c))
	for k, v := range c {
		if dims, ok := v.([]int); ok {
			v = shapes.Make(dtypes.Float32, dims...)
		}
		named[k] = v
	}
	return named.Name(axes)
}

// newLink samples the inputs of a grid case and creates the link with random initial parameters.
func newLink(b backends.Backend, c testutil.Case, seed uint64) (gn *groupnorm.GroupNormalization, x *tensor.Tensor) {
	dims := testutil.Get[[]int](c, "shape")
	groups := testutil.Get[int](c, "groups")
	mode := testutil.Get[precision.Mode](c, "dtype")
	rng := tensor.NewRand(seed)
	x = must.M1(fixtures.GroupInputs(rng, shapes.Make(mode.Compute(), dims...), groups))
	gamma := must.M1(fixtures.Uniform(rng, mode.Params(), dims[1]))
	beta := must.M1(fixtures.Uniform(rng, mode.Params(), dims[1]))
	gn = groupnorm.New(groups,
		groupnorm.WithPrecision(mode),
		groupnorm.WithInitialGamma(gamma),
		groupnorm.WithInitialBeta(beta),
		groupnorm.WithBackend(b))
	return gn, x
}

func TestGroupNormalization_Forward(t *testing.T) {
	iterateBackends(t, func(t *testing.T, b backends.Backend) {
		axes := gridAxes()
		for i, c := range testutil.Product(axes...) {
			t.Run(caseName(c, axes), func(t *testing.T) {
				mode := testutil.Get[precision.Mode](c, "dtype")
				gn, x := newLink(b, c, uint64(i))
				y, err := gn.Forward(x)
				require.NoError(t, err)
				assert.True(t, y.Shape().Equal(x.Shape()), "output shape %s, input shape %s", y.Shape(), x.Shape())
				assert.Equal(t, mode.Compute(), y.DType())

				if x.Shape().Dimensions[0] <= 1 {
					return
				}
				forwardTolerance, _ := gradcheck.Tolerances(mode)
				samples := must.M1(x.Split())
				perSample := make([]*tensor.Tensor, len(samples))
				for j, sample := range samples {
					perSample[j], err = gn.Forward(sample)
					require.NoError(t, err)
				}
				concatenated := must.M1(tensor.Concatenate(0, perSample...))
				require.NoError(t, tensor.AllClose(y, concatenated, forwardTolerance.Atol, forwardTolerance.Rtol))
			})
		}
	})
}

func TestGroupNormalization_Backward(t *testing.T) {
	iterateBackends(t, func(t *testing.T, b backends.Backend) {
		axes := gridAxes()
		for i, c := range testutil.Product(axes...) {
			t.Run(caseName(c, axes), func(t *testing.T) {
				mode := testutil.Get[precision.Mode](c, "dtype")
				gn, x := newLink(b, c, uint64(i))

				// Warm-up on zeros creates the parameters.
				_, err := gn.Forward(must.M1(tensor.Zeros(x.DType(), x.Shape().Dimensions...)))
				require.NoError(t, err)

				rng := tensor.NewRand(uint64(1000 + i))
				gy := must.M1(fixtures.Uniform(rng, x.DType(), x.Shape().Dimensions...))
				forward, backward := groupnorm.Function(gn.Groups, gn.Eps, b)
				_, backwardTolerance := gradcheck.Tolerances(mode)
				err = gradcheck.CheckBackward(forward, backward,
					[]*tensor.Tensor{x, gn.Gamma.Data, gn.Beta.Data}, gy,
					gradcheck.WithEps(backwardEps),
					gradcheck.WithTolerance(backwardTolerance.Atol, backwardTolerance.Rtol),
					gradcheck.WithRandom(rng))
				require.NoError(t, err)
			})
		}
	})
}

// TestGroupNormalization_BackwardLink checks the gradients returned and accumulated by the link
// itself against element-wise numerical gradients.
func TestGroupNormalization_BackwardLink(t *testing.T) {
	iterateBackends(t, func(t *testing.T, b backends.Backend) {
		rng := tensor.NewRand(17)
		gn := groupnorm.New(2,
			groupnorm.WithPrecision(precision.Float64),
			groupnorm.WithInitialGamma([]float64{0.5, 1, 1.5, 2}),
			groupnorm.WithInitialBeta([]float64{-1, 0, 1, 2}),
			groupnorm.WithBackend(b))
		x := must.M1(fixtures.GroupInputs(rng, shapes.Make(dtypes.Float64, 3, 4, 5), 2))
		gy := must.M1(fixtures.Uniform(rng, dtypes.Float64, 3, 4, 5))
		_, err := gn.Forward(x)
		require.NoError(t, err)
		gn.CleanGrads()
		gx, err := gn.Backward(x, gy)
		require.NoError(t, err)

		forward, _ := groupnorm.Function(gn.Groups, gn.Eps, b)
		numerical, err := gradcheck.NumericalGrad(forward, []*tensor.Tensor{x, gn.Gamma.Data, gn.Beta.Data}, gy, 1e-4)
		require.NoError(t, err)
		_, tolerance := gradcheck.Tolerances(precision.Float64)
		require.NoError(t, tensor.AllClose(numerical[0], gx, tolerance.Atol, tolerance.Rtol), "gx")
		require.NoError(t, tensor.AllClose(numerical[1], gn.Gamma.Grad, tolerance.Atol, tolerance.Rtol), "gamma gradient")
		require.NoError(t, tensor.AllClose(numerical[2], gn.Beta.Grad, tolerance.Atol, tolerance.Rtol), "beta gradient")
	})
}

func TestGroupNormalization_Initialize(t *testing.T) {
	iterateBackends(t, func(t *testing.T, b backends.Backend) {
		axes := []testutil.Axis{
			testutil.Values("size", 3, 30),
			testutil.Values("groups", 1, 3),
			testutil.Values("dtype", testModes...),
		}
		for i, c := range testutil.Product(axes...) {
			t.Run(c.Name(axes), func(t *testing.T) {
				size := testutil.Get[int](c, "size")
				groups := testutil.Get[int](c, "groups")
				mode := testutil.Get[precision.Mode](c, "dtype")
				rng := tensor.NewRand(uint64(i))
				initialGamma := must.M1(fixtures.Uniform(rng, mode.Params(), size))
				initialBeta := must.M1(fixtures.Uniform(rng, mode.Params(), size))
				gn := groupnorm.New(groups,
					groupnorm.WithPrecision(mode),
					groupnorm.WithInitialGamma(initialGamma),
					groupnorm.WithInitialBeta(initialBeta),
					groupnorm.WithBackend(b))
				x := must.M1(tensor.Zeros(mode.Compute(), 1, size, 1))
				y, err := gn.Forward(x)
				require.NoError(t, err)

				assert.Equal(t, mode.Params(), gn.Gamma.Data.DType())
				assert.Equal(t, mode.Params(), gn.Beta.Data.DType())
				require.NoError(t, tensor.AllClose(initialGamma, gn.Gamma.Data, 0, 0))
				require.NoError(t, tensor.AllClose(initialBeta, gn.Beta.Data, 0, 0))

				// Constant inputs normalize to 0, so the output is beta.
				forwardTolerance, _ := gradcheck.Tolerances(mode)
				want := must.M1(must.M1(initialBeta.Convert(mode.Compute())).Reshape(1, size, 1))
				require.NoError(t, tensor.AllClose(want, y, forwardTolerance.Atol, forwardTolerance.Rtol))
			})
		}
	})
}

func TestGroupNormalization_DefaultInitializer(t *testing.T) {
	const size = 3
	iterateBackends(t, func(t *testing.T, b backends.Backend) {
		axes := []testutil.Axis{
			testutil.Values("groups", 1, 3),
			testutil.Values("dtype", testModes...),
		}
		for _, c := range testutil.Product(axes...) {
			t.Run(c.Name(axes), func(t *testing.T) {
				mode := testutil.Get[precision.Mode](c, "dtype")
				gn := groupnorm.New(testutil.Get[int](c, "groups"), groupnorm.WithPrecision(mode), groupnorm.WithBackend(b))
				_, err := gn.Forward(must.M1(tensor.Zeros(mode.Compute(), 1, size, 1)))
				require.NoError(t, err)
				require.NoError(t, tensor.AllClose(must.M1(tensor.Ones(mode.Params(), size)), gn.Gamma.Data, 0, 0))
				require.NoError(t, tensor.AllClose(must.M1(tensor.Zeros(mode.Params(), size)), gn.Beta.Data, 0, 0))
				assert.Equal(t, mode.Params(), gn.Gamma.Data.DType())
				assert.Equal(t, mode.Params(), gn.Beta.Data.DType())
			})
		}
	})
}

func TestGroupNormalization_InvalidInput(t *testing.T) {
	iterateBackends(t, func(t *testing.T, b backends.Backend) {
		axes := []testutil.Axis{
			testutil.Values("shape", shapes.Make(dtypes.Float32, 2), shapes.Make(dtypes.Float32)),
			testutil.Values("dtype", dtypes.Float16, dtypes.Float32, dtypes.Float64),
		}
		for _, c := range testutil.Product(axes...) {
			t.Run(c.Name(axes), func(t *testing.T) {
				shape := testutil.Get[shapes.Shape](c, "shape")
				x := must.M1(tensor.Zeros(testutil.Get[dtypes.DType](c, "dtype"), shape.Dimensions...))
				gn := groupnorm.New(3, groupnorm.WithBackend(b))
				_, err := gn.Forward(x)
				require.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrValue), "expected a value error, got %v", err)
			})
		}
	})
}

func TestGroupNormalization_InvalidConfiguration(t *testing.T) {
	iterateBackends(t, func(t *testing.T, b backends.Backend) {
		t.Run("groups=3/channels=5", func(t *testing.T) {
			gn := must.M1(groupnorm.NewFromAny(3, groupnorm.WithBackend(b)))
			_, err := gn.Forward(must.M1(tensor.Zeros(dtypes.Float32, 2, 5, 2)))
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrValue), "expected a value error, got %v", err)
		})
		t.Run("groups=3.5", func(t *testing.T) {
			_, err := groupnorm.NewFromAny(3.5, groupnorm.WithBackend(b))
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrType), "expected a type error, got %v", err)
		})
	})
}

func Example() {
	gn := groupnorm.New(2)
	x := must.M1(tensor.FromValue([][]float32{{1, 2, 3, 5}, {0, 0, 4, 4}}))
	y := must.M1(gn.Forward(x))
	fmt.Println(y.Shape().Dimensions)
	// Output: [2 4]
}
