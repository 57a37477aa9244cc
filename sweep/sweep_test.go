package sweep

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/groupnorm"
	"github.com/gomlx/groupnorm/backends/cpu"
	"github.com/gomlx/groupnorm/types/precision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
seed: 7
shapes: [[2, 4, 3], [3, 20]]
groups: [1, 2]
dtypes: [float64, f32, mixed16]
cases:
  - {shape: [2, 5, 2], groups: 3, expect: value_error}
  - {shape: [2, 4], groups: 3.5, dtype: float16, expect: type_error}
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(testConfig))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), c.Seed)
	assert.Equal(t, groupnorm.DefaultEpsilon, c.Eps)
	assert.Equal(t, DefaultBackwardEps, c.BackwardEps)
	assert.Equal(t, []precision.Mode{precision.Float64, precision.Float32, precision.Mixed16}, c.DTypes)
	require.Len(t, c.Cases, 2)
	assert.Equal(t, 3, c.Cases[0].Groups)
	assert.Equal(t, 3.5, c.Cases[1].Groups)
	assert.Equal(t, precision.Float32, c.Cases[0].DType)
	assert.Equal(t, precision.Float16, c.Cases[1].DType)

	cases := c.Expand()
	require.Len(t, cases, 2*2*3+2)
	assert.Equal(t, "shape=(2,4,3)/groups=1/dtype=float64", cases[0].Name())
	assert.Equal(t, "shape=(2,4)/groups=3.5/dtype=float16", cases[len(cases)-1].Name())
}

func TestParse_Errors(t *testing.T) {
	for name, config := range map[string]string{
		"invalid yaml":   "shapes: [",
		"partial axes":   "shapes: [[2, 4]]\ngroups: [1]",
		"no cases":       "seed: 1",
		"bad dtype":      "cases: [{shape: [2, 4], groups: 1, dtype: int8}]",
		"bad expect":     "cases: [{shape: [2, 4], groups: 1, expect: maybe}]",
		"negative steps": "backward_eps: -1\ncases: [{shape: [2, 4], groups: 1}]",
		"zero step":      "backward_eps: 0\ncases: [{shape: [2, 4], groups: 1}]",
		"negative eps":   "eps: -1e-5\ncases: [{shape: [2, 4], groups: 1}]",
	} {
		_, err := Parse([]byte(config))
		assert.Errorf(t, err, "config %q", name)
	}
}

func TestParse_ZeroEps(t *testing.T) {
	c, err := Parse([]byte("eps: 0\ncases: [{shape: [2, 4, 3], groups: 2, dtype: float64}]"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.Eps)
	assert.Equal(t, DefaultBackwardEps, c.BackwardEps)

	results := Run(cpu.New(), c, Options{})
	require.Len(t, results, 1)
	assert.True(t, results[0].Ok(), "%+v", results[0])
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.Expand(), 14)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Len(t, c.Expand(), 3*3*4+4)
}

func TestRun(t *testing.T) {
	c, err := Parse([]byte(testConfig))
	require.NoError(t, err)
	results := Run(cpu.New(), c, Options{Elementwise: true})
	require.Len(t, results, 14)
	for _, r := range results {
		assert.Truef(t, r.Ok(), "%s: setup=%v, forward=%v, batch=%v, backward=%v",
			r.Case.Name(), r.Setup, r.Forward, r.BatchInvariance, r.Backward)
	}
	assert.True(t, results[0].BatchChecked)
	assert.Less(t, results[0].MaxError, 1e-3)
}

func TestRun_UnexpectedOutcome(t *testing.T) {
	c, err := Parse([]byte(`
cases:
  - {shape: [2, 4], groups: 2, expect: value_error}
  - {shape: [2, 4], groups: 3}
`))
	require.NoError(t, err)
	results := Run(cpu.New(), c, Options{})
	require.Len(t, results, 2)
	assert.False(t, results[0].Ok())
	assert.ErrorContains(t, results[0].Setup, "expected a value error")
	assert.False(t, results[1].Ok())
	assert.Error(t, results[1].Setup)
}
