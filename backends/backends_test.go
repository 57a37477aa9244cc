package backends

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/groupnorm/tensor"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	config string
}

func (f *fakeBackend) Name() string { return "fake:" + f.config }
func (f *fakeBackend) GroupNormForward(x, gamma, beta *tensor.Tensor, groups int, eps float64) (*tensor.Tensor, error) {
	return x, nil
}
func (f *fakeBackend) GroupNormBackward(x, gamma, gy *tensor.Tensor, groups int, eps float64) (gx, gGamma, gBeta *tensor.Tensor, err error) {
	return gy, gamma, gamma, nil
}
func (f *fakeBackend) Finalize() {}

func TestRegistry(t *testing.T) {
	Register("fake", func(config string) (Backend, error) {
		return &fakeBackend{config: config}, nil
	})
	Register("broken", func(config string) (Backend, error) {
		return nil, errors.New("no device")
	})
	assert.Contains(t, List(), "fake")
	assert.Contains(t, List(), "broken")

	b, err := New("fake:gpu")
	require.NoError(t, err)
	assert.Equal(t, "fake:gpu", b.Name())

	t.Setenv(ConfigEnvVar, "fake:env")
	b, err = Default()
	require.NoError(t, err)
	assert.Equal(t, "fake:env", b.Name())

	_, err = New("broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device")

	_, err = New("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestGroupLayout(t *testing.T) {
	x := must.M1(tensor.Zeros(dtypes.Float32, 2, 6, 5, 3))
	layout := NewGroupLayout(x.Shape(), 3)
	assert.Equal(t, GroupLayout{Batch: 2, Channels: 6, Groups: 3, Spatial: 15}, layout)
	assert.Equal(t, 30, layout.GroupSize())

	matrix := must.M1(tensor.Zeros(dtypes.Float32, 3, 20))
	assert.Equal(t, 5, NewGroupLayout(matrix.Shape(), 4).GroupSize())
}

func TestCheck(t *testing.T) {
	x := must.M1(tensor.Zeros(dtypes.Float32, 2, 4, 3))
	gamma := must.M1(tensor.Ones(dtypes.Float32, 4))
	assert.NoError(t, CheckForward(x, gamma, gamma, 2))
	assert.Error(t, CheckForward(x, gamma, nil, 2))
	assert.Error(t, CheckForward(x, gamma, gamma, 3))
	assert.NoError(t, CheckBackward(x, gamma, x, 4))
	assert.Error(t, CheckBackward(x, gamma, gamma, 4))
}
