// Package sweep runs the group normalization checks over a grid of configurations, outside of `go test`.
//
// The grid is described by a Config, usually loaded from YAML:
//
//	seed: 42
//	shapes: [[1, 4, 5, 3], [5, 4, 7], [3, 20]]
//	groups: [1, 2, 4]
//	dtypes: [float16, float32, float64, mixed16]
//	cases:
//	  - {shape: [2, 5, 2], groups: 3, expect: value_error}
//	  - {shape: [2, 4], groups: 3.5, expect: type_error}
package sweep

import (
	"fmt"
	"math"
	"os"

	"github.com/gomlx/groupnorm"
	"github.com/gomlx/groupnorm/internal/testutil"
	"github.com/gomlx/groupnorm/types/precision"
	"github.com/gomlx/groupnorm/types/shapes"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Expectation of the outcome of a case.
type Expectation string

const (
	ExpectPass       Expectation = ""
	ExpectValueError Expectation = "value_error"
	ExpectTypeError  Expectation = "type_error"
)

// Case is one configuration to check.
type Case struct {
	Shape []int `yaml:"shape"`

	// Groups is decoded as any YAML scalar, so non-integer values are reported as type errors by the link.
	Groups any `yaml:"groups"`

	DType  precision.Mode `yaml:"dtype"`
	Expect Expectation    `yaml:"expect,omitempty"`
}

// Name of the case, e.g. "shape=(1,4,5,3)/groups=2/dtype=float32".
func (c Case) Name() string {
	return fmt.Sprintf("shape=%s/groups=%v/dtype=%s", shapes.Make(c.DType.Compute(), c.Shape...).DimensionsString(), c.Groups, c.DType)
}

// Config of a sweep.
type Config struct {
	Seed uint64 `yaml:"seed"`

	// Eps is the epsilon of the link. Default is groupnorm.DefaultEpsilon.
	Eps float64 `yaml:"eps"`

	// BackwardEps is the finite differences step. Default is DefaultBackwardEps.
	BackwardEps float64 `yaml:"backward_eps"`

	// Cases are checked as given.
	Cases []Case `yaml:"cases"`

	// Shapes, Groups and DTypes are axes whose cartesian product is added to Cases.
	Shapes [][]int          `yaml:"shapes"`
	Groups []any            `yaml:"groups"`
	DTypes []precision.Mode `yaml:"dtypes"`
}

// DefaultBackwardEps is the default finite differences step of the gradient checks.
const DefaultBackwardEps = 2e-2

// Default returns the configuration of the standard grid, including the invalid configurations.
func Default() *Config {
	return &Config{
		Eps:         groupnorm.DefaultEpsilon,
		BackwardEps: DefaultBackwardEps,
		Shapes:      [][]int{{1, 4, 5, 3}, {5, 4, 7}, {3, 20}},
		Groups:      []any{1, 2, 4},
		DTypes:      []precision.Mode{precision.Float16, precision.Float32, precision.Float64, precision.Mixed16},
		Cases: []Case{
			{Shape: []int{2}, Groups: 3, DType: precision.Float32, Expect: ExpectValueError},
			{Shape: []int{}, Groups: 3, DType: precision.Float32, Expect: ExpectValueError},
			{Shape: []int{2, 5, 2}, Groups: 3, DType: precision.Float32, Expect: ExpectValueError},
			{Shape: []int{2, 4}, Groups: 3.5, DType: precision.Float32, Expect: ExpectTypeError},
		},
	}
}

// Parse a YAML configuration. Absent eps and backward_eps take their default values, an explicit
// "eps: 0" is kept.
func Parse(data []byte) (*Config, error) {
	c := Config{Eps: groupnorm.DefaultEpsilon, BackwardEps: DefaultBackwardEps}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "failed to parse sweep configuration")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load and parse a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sweep configuration %q", path)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration %q", path)
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.Eps < 0 || math.IsNaN(c.Eps) {
		return errors.Errorf("eps must be non-negative, got %g", c.Eps)
	}
	if !(c.BackwardEps > 0) {
		return errors.Errorf("backward_eps must be positive, got %g", c.BackwardEps)
	}
	axes := 0
	for _, n := range []int{len(c.Shapes), len(c.Groups), len(c.DTypes)} {
		if n > 0 {
			axes++
		}
	}
	if axes != 0 && axes != 3 {
		return errors.Errorf("shapes, groups and dtypes must be given together (got %d shapes, %d groups, %d dtypes)",
			len(c.Shapes), len(c.Groups), len(c.DTypes))
	}
	for i, expect := range c.allExpectations() {
		switch expect {
		case ExpectPass, ExpectValueError, ExpectTypeError:
		default:
			return errors.Errorf("case #%d: unknown expectation %q, valid values are %q and %q", i, expect, ExpectValueError, ExpectTypeError)
		}
	}
	if len(c.Expand()) == 0 {
		return errors.New("sweep configuration has no cases")
	}
	return nil
}

func (c *Config) allExpectations() []Expectation {
	expectations := make([]Expectation, len(c.Cases))
	for i, cs := range c.Cases {
		expectations[i] = cs.Expect
	}
	return expectations
}

// Expand returns the cases of the product of the axes, followed by the explicit cases.
func (c *Config) Expand() []Case {
	var cases []Case
	if len(c.Shapes) > 0 {
		axes := []testutil.Axis{
			testutil.Values("shape", c.Shapes...),
			testutil.Values("groups", c.Groups...),
			testutil.Values("dtype", c.DTypes...),
		}
		for _, p := range testutil.Product(axes...) {
			cases = append(cases, Case{
				Shape:  testutil.Get[[]int](p, "shape"),
				Groups: testutil.Get[any](p, "groups"),
				DType:  testutil.Get[precision.Mode](p, "dtype"),
			})
		}
	}
	return append(cases, c.Cases...)
}
