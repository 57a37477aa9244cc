// Package groupnorm implements a group normalization link: a layer normalizing its input per
// (example, group of channels), followed by a per channel scale (gamma) and shift (beta).
//
// The input is shaped [batch, channels, spatial...]. The channels are split into Groups groups of
// contiguous channels, and the mean and variance are taken over each group's channels and all the
// spatial positions:
//
//	y = (x - mean) / sqrt(var + eps) * gamma[c] + beta[c]
//
// The computation itself is delegated to a backends.Backend: the pure Go "cpu" backend by default, or
// the PJRT based "xla" backend. The gradient is computed in closed form, see Backward.
//
// Example:
//
//	gn := groupnorm.New(2, groupnorm.WithPrecision(precision.Mixed16))
//	y, err := gn.Forward(x)
package groupnorm

import (
	"math"
	"reflect"

	"github.com/gomlx/groupnorm/backends"
	"github.com/gomlx/groupnorm/backends/cpu"
	"github.com/gomlx/groupnorm/gradcheck"
	"github.com/gomlx/groupnorm/shapeinference"
	"github.com/gomlx/groupnorm/tensor"
	"github.com/gomlx/groupnorm/types"
	"github.com/gomlx/groupnorm/types/precision"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultEpsilon is added to the variance before taking its square root.
const DefaultEpsilon = 1e-5

// GroupNormalization is the group normalization link.
//
// Gamma and Beta are nil until the link is initialized: either on the first Forward call, when their size
// is taken from the number of channels of the input, or by Initialize.
type GroupNormalization struct {
	Groups int
	Eps    float64

	Gamma, Beta *Parameter

	mode                      precision.Mode
	initialGamma, initialBeta any
	backend                   backends.Backend
}

// Option configures a GroupNormalization.
type Option func(gn *GroupNormalization)

// WithPrecision sets the precision mode of the link. Parameters are stored in mode.Params().
// Default is precision.Float32.
func WithPrecision(mode precision.Mode) Option {
	return func(gn *GroupNormalization) { gn.mode = mode }
}

// WithInitialGamma sets the initial value of gamma, either a *tensor.Tensor, a []float64 or any value accepted
// by tensor.FromValue. It must have one value per channel. Default is ones.
func WithInitialGamma(value any) Option {
	return func(gn *GroupNormalization) { gn.initialGamma = value }
}

// WithInitialBeta sets the initial value of beta, see WithInitialGamma. Default is zeros.
func WithInitialBeta(value any) Option {
	return func(gn *GroupNormalization) { gn.initialBeta = value }
}

// WithEpsilon sets the value added to the variance. Default is DefaultEpsilon.
func WithEpsilon(eps float64) Option {
	return func(gn *GroupNormalization) { gn.Eps = eps }
}

// WithBackend sets the backend computing the link. Default is a cpu backend.
func WithBackend(backend backends.Backend) Option {
	return func(gn *GroupNormalization) { gn.backend = backend }
}

// New creates a group normalization link with the given number of groups.
//
// The number of groups is validated against the input on the first call to Forward.
func New(groups int, options ...Option) *GroupNormalization {
	gn := &GroupNormalization{
		Groups: groups,
		Eps:    DefaultEpsilon,
		mode:   precision.Float32,
	}
	for _, option := range options {
		option(gn)
	}
	if gn.backend == nil {
		gn.backend = cpu.New()
	}
	return gn
}

// NewFromAny is like New, but groups can be of any Go integer type.
// Any other type, including a float with an integral value, is a type error.
func NewFromAny(groups any, options ...Option) (*GroupNormalization, error) {
	v := reflect.ValueOf(groups)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return New(int(v.Int()), options...), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if v.Uint() > math.MaxInt32 {
			return nil, types.ValueErrorf("groupnorm: groups %d is too large", v.Uint())
		}
		return New(int(v.Uint()), options...), nil
	default:
		return nil, types.TypeErrorf("groupnorm: groups must be an integer, got %T (%v)", groups, groups)
	}
}

// Mode returns the precision mode of the link.
func (gn *GroupNormalization) Mode() precision.Mode { return gn.mode }

// Backend returns the backend used by the link.
func (gn *GroupNormalization) Backend() backends.Backend { return gn.backend }

// ToBackend moves the link to the given backend. Parameters are kept on the host, so only
// later calls are affected.
func (gn *GroupNormalization) ToBackend(backend backends.Backend) {
	klog.V(1).Infof("groupnorm: moving link from backend %q to %q", gn.backend.Name(), backend.Name())
	gn.backend = backend
}

// Initialize creates the parameters for the given number of channels, if they haven't been created yet.
//
// Initial values given with WithInitialGamma or WithInitialBeta are copied and converted to the
// parameters dtype.
func (gn *GroupNormalization) Initialize(channels int) error {
	if gn.Gamma != nil && gn.Beta != nil {
		return nil
	}
	dtype := gn.mode.Params()
	gamma, err := initialParameter("gamma", gn.initialGamma, 1, channels, gn.mode)
	if err != nil {
		return err
	}
	beta, err := initialParameter("beta", gn.initialBeta, 0, channels, gn.mode)
	if err != nil {
		return err
	}
	gn.Gamma, gn.Beta = NewParameter("gamma", gamma), NewParameter("beta", beta)
	klog.V(2).Infof("groupnorm: initialized parameters with %d channels, dtype %s", channels, dtype)
	return nil
}

func initialParameter(name string, initial any, defaultValue float64, channels int, mode precision.Mode) (*tensor.Tensor, error) {
	if initial == nil {
		return tensor.Full(mode.Params(), defaultValue, channels)
	}
	var (
		t   *tensor.Tensor
		err error
	)
	switch v := initial.(type) {
	case *tensor.Tensor:
		t = v
	case []float64:
		t, err = tensor.FromFloat64s(mode.Params(), v, len(v))
	default:
		t, err = tensor.FromValue(v)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "groupnorm: invalid initial %s", name)
	}
	if t.Size() != channels {
		return nil, types.ValueErrorf("groupnorm: initial %s has %d values, but the input has %d channels", name, t.Size(), channels)
	}
	t, err = t.Convert(mode.Params())
	if err != nil {
		return nil, err
	}
	return t.Reshape(channels)
}

func (gn *GroupNormalization) prepare(x *tensor.Tensor) error {
	if x == nil {
		return types.ValueErrorf("groupnorm: input is nil")
	}
	channels, err := shapeinference.GroupNormalizationChannels(x.Shape(), gn.Groups)
	if err != nil {
		return err
	}
	if gn.Eps < 0 || math.IsNaN(gn.Eps) {
		return types.ValueErrorf("groupnorm: eps must be non-negative, got %g", gn.Eps)
	}
	return gn.Initialize(channels)
}

// Forward returns the normalized x, scaled by gamma and shifted by beta.
// The output has the shape and dtype of x.
//
// x must have at least 2 axes, and its number of channels (axis 1) must be a multiple of Groups.
func (gn *GroupNormalization) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := gn.prepare(x); err != nil {
		return nil, err
	}
	y, err := gn.backend.GroupNormForward(x, gn.Gamma.Data, gn.Beta.Data, gn.Groups, gn.Eps)
	if err != nil {
		return nil, errors.WithMessagef(err, "groupnorm: forward on backend %q", gn.backend.Name())
	}
	return y, nil
}

// Backward returns the gradient of sum(Forward(x) * gy) with respect to x, and it accumulates the
// gradients with respect to gamma and beta into Gamma.Grad and Beta.Grad.
func (gn *GroupNormalization) Backward(x, gy *tensor.Tensor) (*tensor.Tensor, error) {
	if err := gn.prepare(x); err != nil {
		return nil, err
	}
	gx, gGamma, gBeta, err := gn.backend.GroupNormBackward(x, gn.Gamma.Data, gy, gn.Groups, gn.Eps)
	if err != nil {
		return nil, errors.WithMessagef(err, "groupnorm: backward on backend %q", gn.backend.Name())
	}
	if err = gn.Gamma.AccumulateGrad(gGamma); err != nil {
		return nil, err
	}
	if err = gn.Beta.AccumulateGrad(gBeta); err != nil {
		return nil, err
	}
	return gx, nil
}

// CleanGrads clears the accumulated gradients of the parameters.
func (gn *GroupNormalization) CleanGrads() {
	for _, p := range gn.Params() {
		p.ClearGrad()
	}
}

// Params returns the parameters of the link, or nil if it is not initialized.
func (gn *GroupNormalization) Params() []*Parameter {
	if gn.Gamma == nil {
		return nil
	}
	return []*Parameter{gn.Gamma, gn.Beta}
}

// Function returns the stateless group normalization over the inputs [x, gamma, beta] and its
// gradient, computed by backend. They can be given to gradcheck.CheckBackward.
func Function(groups int, eps float64, backend backends.Backend) (gradcheck.Forward, gradcheck.Backward) {
	forward := func(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
		if len(inputs) != 3 {
			return nil, types.ValueErrorf("groupnorm.Function: expected inputs [x, gamma, beta], got %d inputs", len(inputs))
		}
		return backend.GroupNormForward(inputs[0], inputs[1], inputs[2], groups, eps)
	}
	backward := func(inputs []*tensor.Tensor, gy *tensor.Tensor) ([]*tensor.Tensor, error) {
		if len(inputs) != 3 {
			return nil, types.ValueErrorf("groupnorm.Function: expected inputs [x, gamma, beta], got %d inputs", len(inputs))
		}
		gx, gGamma, gBeta, err := backend.GroupNormBackward(inputs[0], inputs[1], gy, groups, eps)
		if err != nil {
			return nil, err
		}
		return []*tensor.Tensor{gx, gGamma, gBeta}, nil
	}
	return forward, backward
}
