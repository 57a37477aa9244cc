// Package cpu implements a pure Go group normalization backend.
//
// Values are converted to float64 for the computation, and the results are rounded to the
// dtype of the inputs, so reduced precision inputs are computed with more precision than
// they are stored with.
//
// It registers itself as "cpu".
package cpu

import (
	"math"

	"github.com/gomlx/groupnorm/backends"
	"github.com/gomlx/groupnorm/tensor"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// BackendName is the name the backend is registered with.
const BackendName = "cpu"

func init() {
	backends.Register(BackendName, func(config string) (backends.Backend, error) {
		return New(), nil
	})
}

// Backend implements backends.Backend on the host.
type Backend struct{}

// Compile time check.
var _ backends.Backend = (*Backend)(nil)

// New returns a new CPU backend. It holds no resources.
func New() *Backend {
	return &Backend{}
}

// Name implements backends.Backend.
func (b *Backend) Name() string { return BackendName }

// Finalize implements backends.Backend.
func (b *Backend) Finalize() {}

// normalize returns 1/sqrt(var+eps) of every (example, group), and xHat = (x - mean) * invStd.
func normalize(xs []float64, layout backends.GroupLayout, eps float64) (invStds, xHat []float64) {
	numGroups := layout.Batch * layout.Groups
	groupSize := layout.GroupSize()
	invStds = make([]float64, numGroups)
	xHat = make([]float64, len(xs))
	for g := range numGroups {
		group := xs[g*groupSize : (g+1)*groupSize]
		mean := stat.Mean(group, nil)
		variance := stat.PopVariance(group, nil)
		invStd := 1 / math.Sqrt(variance+eps)
		invStds[g] = invStd
		normalized := xHat[g*groupSize : (g+1)*groupSize]
		for i, v := range group {
			normalized[i] = (v - mean) * invStd
		}
	}
	return
}

// channelOf returns the channel of the element at flat index i.
func channelOf(i int, layout backends.GroupLayout) int {
	return (i / layout.Spatial) % layout.Channels
}

// GroupNormForward implements backends.Backend.
func (b *Backend) GroupNormForward(x, gamma, beta *tensor.Tensor, groups int, eps float64) (*tensor.Tensor, error) {
	if err := backends.CheckForward(x, gamma, beta, groups); err != nil {
		return nil, err
	}
	layout := backends.NewGroupLayout(x.Shape(), groups)
	gammas, betas := gamma.Float64s(), beta.Float64s()
	_, y := normalize(x.Float64s(), layout, eps)
	for i := range y {
		c := channelOf(i, layout)
		y[i] = y[i]*gammas[c] + betas[c]
	}
	return tensor.FromFloat64s(x.DType(), y, x.Shape().Dimensions...)
}

// GroupNormBackward implements backends.Backend.
//
// With xHat the normalized input, g = gy * gamma and all means taken over each group:
//
//	gx = invStd * (g - mean(g) - xHat * mean(g * xHat))
//	gGamma[c] = sum(gy * xHat) and gBeta[c] = sum(gy), over the batch and spatial positions of channel c.
func (b *Backend) GroupNormBackward(x, gamma, gy *tensor.Tensor, groups int, eps float64) (gx, gGamma, gBeta *tensor.Tensor, err error) {
	if err = backends.CheckBackward(x, gamma, gy, groups); err != nil {
		return
	}
	layout := backends.NewGroupLayout(x.Shape(), groups)
	gammas, gys := gamma.Float64s(), gy.Float64s()
	invStds, xHat := normalize(x.Float64s(), layout, eps)

	gGammas := make([]float64, layout.Channels)
	gBetas := make([]float64, layout.Channels)
	g := make([]float64, len(gys))
	for i, v := range gys {
		c := channelOf(i, layout)
		g[i] = v * gammas[c]
		gGammas[c] += v * xHat[i]
		gBetas[c] += v
	}

	gxs := make([]float64, len(gys))
	groupSize := layout.GroupSize()
	for grp := range layout.Batch * layout.Groups {
		from, to := grp*groupSize, (grp+1)*groupSize
		gGroup, xHatGroup := g[from:to], xHat[from:to]
		meanG := floats.Sum(gGroup) / float64(groupSize)
		meanGXHat := floats.Dot(gGroup, xHatGroup) / float64(groupSize)
		for i := from; i < to; i++ {
			gxs[i] = invStds[grp] * (g[i] - meanG - xHat[i]*meanGXHat)
		}
	}

	if gx, err = tensor.FromFloat64s(x.DType(), gxs, x.Shape().Dimensions...); err != nil {
		return
	}
	if gGamma, err = tensor.FromFloat64s(gamma.DType(), gGammas, layout.Channels); err != nil {
		return
	}
	gBeta, err = tensor.FromFloat64s(gamma.DType(), gBetas, layout.Channels)
	return
}
