// Package fixtures generates the random inputs used to verify group normalization.
package fixtures

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/groupnorm/shapeinference"
	"github.com/gomlx/groupnorm/tensor"
	"github.com/gomlx/groupnorm/types/shapes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

const (
	// MinStd is the minimum population standard deviation required for every (example, group) of a sampled input.
	// Groups with almost constant values have unstable gradients that fail numerical checks.
	MinStd = 0.02

	// MaxRetries is the number of times an input is re-sampled before giving up.
	MaxRetries = 20
)

// Uniform returns a tensor with values sampled uniformly from [-1, 1).
func Uniform(rng *rand.Rand, dtype dtypes.DType, dimensions ...int) (*tensor.Tensor, error) {
	return tensor.Uniform(rng, -1, 1, dtype, dimensions...)
}

// MinGroupStd returns the smallest population standard deviation over all (example, group) slices of x.
func MinGroupStd(x *tensor.Tensor, groups int) (float64, error) {
	if _, err := shapeinference.GroupNormalizationChannels(x.Shape(), groups); err != nil {
		return 0, err
	}
	values := x.Float64s()
	numGroups := x.Shape().Dimensions[0] * groups
	groupSize := len(values) / max(numGroups, 1)
	minStd := math.Inf(1)
	for g := range numGroups {
		group := values[g*groupSize : (g+1)*groupSize]
		minStd = min(minStd, math.Sqrt(stat.PopVariance(group, nil)))
	}
	return minStd, nil
}

// GroupInputs samples x of the given shape uniformly from [-1, 1), such that every (example, group) slice
// has a standard deviation of at least MinStd.
//
// It retries up to MaxRetries times, and then it returns an error.
func GroupInputs(rng *rand.Rand, shape shapes.Shape, groups int) (*tensor.Tensor, error) {
	for retry := 0; ; retry++ {
		x, err := Uniform(rng, shape.DType, shape.Dimensions...)
		if err != nil {
			return nil, err
		}
		minStd, err := MinGroupStd(x, groups)
		if err != nil {
			return nil, err
		}
		if minStd >= MinStd {
			return x, nil
		}
		if retry >= MaxRetries {
			klog.Warningf("fixtures: failed to sample inputs %s with groups=%d after %d retries (min std %g)", shape, groups, retry, minStd)
			return nil, errors.Errorf("too many retries to generate inputs of shape %s with groups=%d: min group std %g < %g",
				shape, groups, minStd, MinStd)
		}
		klog.V(2).Infof("fixtures: re-sampling inputs %s, min group std %g < %g", shape, minStd, MinStd)
	}
}
