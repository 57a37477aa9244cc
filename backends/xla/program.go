package xla

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/groupnorm/backends"
	"github.com/gomlx/groupnorm/hlo"
	"github.com/gomlx/groupnorm/internal/utils"
	"github.com/gomlx/groupnorm/types/shapes"
)

// lowering builds the group normalization graph in a hlo.Function.
//
// Errors are sticky: once an operation fails, the following ones are no-ops returning nil, and the
// first error is reported by Build.
type lowering struct {
	builder *hlo.Builder
	fn      *hlo.Function
	layout  backends.GroupLayout
	acc     dtypes.DType
	err     error
}

func newLowering(name string, replicas int, layout backends.GroupLayout, acc dtypes.DType, inputs ...*hlo.Value) *lowering {
	b := hlo.New(name)
	if replicas > 1 {
		b.WithNumReplicas(replicas)
	}
	return &lowering{builder: b, fn: b.Main(inputs...), layout: layout, acc: acc}
}

// accumulationDType returns the dtype used for the computation: Float64 if either the operand or the
// parameters are Float64, Float32 otherwise.
func accumulationDType(xDType, paramDType dtypes.DType) dtypes.DType {
	if acc := utils.AccumulationDType(xDType); acc == dtypes.Float64 {
		return acc
	}
	return utils.AccumulationDType(paramDType)
}

func (l *lowering) check(v *hlo.Value, err error) *hlo.Value {
	if l.err == nil && err != nil {
		l.err = err
	}
	if l.err != nil {
		return nil
	}
	return v
}

func (l *lowering) binary(op func(lhs, rhs *hlo.Value) (*hlo.Value, error), lhs, rhs *hlo.Value) *hlo.Value {
	if l.err != nil {
		return nil
	}
	return l.check(op(lhs, rhs))
}

func (l *lowering) add(lhs, rhs *hlo.Value) *hlo.Value { return l.binary(hlo.Add, lhs, rhs) }
func (l *lowering) sub(lhs, rhs *hlo.Value) *hlo.Value { return l.binary(hlo.Subtract, lhs, rhs) }
func (l *lowering) mul(lhs, rhs *hlo.Value) *hlo.Value { return l.binary(hlo.Multiply, lhs, rhs) }

func (l *lowering) constant(value float64) *hlo.Value {
	if l.err != nil {
		return nil
	}
	return l.check(l.fn.Constant(l.acc, value))
}

// convert to dtype, if not already.
func (l *lowering) convert(v *hlo.Value, dtype dtypes.DType) *hlo.Value {
	if l.err != nil {
		return nil
	}
	if v.Shape().DType == dtype {
		return v
	}
	return l.check(hlo.Convert(v, dtype))
}

func (l *lowering) reshape(v *hlo.Value, dimensions ...int) *hlo.Value {
	if l.err != nil {
		return nil
	}
	return l.check(hlo.Reshape(v, dimensions...))
}

func (l *lowering) groupedDims() []int {
	return []int{l.layout.Batch, l.layout.Groups, l.layout.GroupSize()}
}

func (l *lowering) channelDims() []int {
	return []int{l.layout.Batch, l.layout.Channels, l.layout.Spatial}
}

// grouped converts v (with x's shape) to the accumulation dtype and reshapes it to [batch, groups, groupSize].
func (l *lowering) grouped(v *hlo.Value) *hlo.Value {
	return l.reshape(l.convert(v, l.acc), l.groupedDims()...)
}

// perChannel broadcasts a parameter of shape [channels] to [batch, groups, groupSize].
func (l *lowering) perChannel(param *hlo.Value) *hlo.Value {
	param = l.convert(param, l.acc)
	if l.err != nil {
		return nil
	}
	broadcast := l.check(hlo.BroadcastInDim(param, shapes.Make(l.acc, l.channelDims()...), []int{1}))
	return l.reshape(broadcast, l.groupedDims()...)
}

// groupMean returns the mean of each group of v (shaped [batch, groups, groupSize]), broadcast back to v's shape.
func (l *lowering) groupMean(v *hlo.Value) *hlo.Value {
	if l.err != nil {
		return nil
	}
	sum := l.check(hlo.ReduceSum(v, 2))
	mean := l.mul(sum, l.constant(1/float64(l.layout.GroupSize())))
	if l.err != nil {
		return nil
	}
	return l.check(hlo.BroadcastInDim(mean, v.Shape(), []int{0, 1}))
}

// channelSum sums v (shaped [batch, groups, groupSize]) over the batch and spatial axes, returning a [channels] value.
func (l *lowering) channelSum(v *hlo.Value) *hlo.Value {
	v = l.reshape(v, l.channelDims()...)
	if l.err != nil {
		return nil
	}
	return l.check(hlo.ReduceSum(v, 0, 2))
}

// normalize returns xHat = (x - mean) * invStd and invStd = 1/sqrt(var + eps), both shaped as the grouped x.
func (l *lowering) normalize(x *hlo.Value, eps float64) (xHat, invStd *hlo.Value) {
	centered := l.sub(x, l.groupMean(x))
	variance := l.groupMean(l.mul(centered, centered))
	if l.err != nil {
		return nil, nil
	}
	invStd = l.check(hlo.Rsqrt(l.add(variance, l.constant(eps))))
	xHat = l.mul(centered, invStd)
	return
}

// output reshapes v to the original dimensions of x and converts it to dtype.
func (l *lowering) output(v *hlo.Value, xShape shapes.Shape) *hlo.Value {
	return l.convert(l.reshape(v, xShape.Dimensions...), xShape.DType)
}

func (l *lowering) build(outputs ...*hlo.Value) ([]byte, error) {
	if l.err != nil {
		return nil, l.err
	}
	if err := l.fn.Return(outputs...); err != nil {
		return nil, err
	}
	return l.builder.Build()
}

// forwardProgram returns the StableHLO program computing the group normalization of x (with the given shape),
// with parameters gamma and beta of dtype paramDType.
func forwardProgram(xShape shapes.Shape, paramDType dtypes.DType, groups int, eps float64, replicas int) ([]byte, error) {
	paramShape := shapes.Make(paramDType, xShape.Dimensions[1])
	x, gamma, beta := hlo.NamedValue("x", xShape), hlo.NamedValue("gamma", paramShape), hlo.NamedValue("beta", paramShape)
	layout := backends.NewGroupLayout(xShape, groups)
	l := newLowering("group_norm_forward", replicas, layout, accumulationDType(xShape.DType, paramDType), x, gamma, beta)
	xHat, _ := l.normalize(l.grouped(x), eps)
	y := l.add(l.mul(xHat, l.perChannel(gamma)), l.perChannel(beta))
	return l.build(l.output(y, xShape))
}

// backwardProgram returns the StableHLO program computing the gradients of the group normalization of x
// with respect to x, gamma and beta, given the gradient of the output gy.
func backwardProgram(xShape shapes.Shape, paramDType dtypes.DType, groups int, eps float64, replicas int) ([]byte, error) {
	paramShape := shapes.Make(paramDType, xShape.Dimensions[1])
	x, gamma, gy := hlo.NamedValue("x", xShape), hlo.NamedValue("gamma", paramShape), hlo.NamedValue("gy", xShape)
	layout := backends.NewGroupLayout(xShape, groups)
	l := newLowering("group_norm_backward", replicas, layout, accumulationDType(xShape.DType, paramDType), x, gamma, gy)
	xHat, invStd := l.normalize(l.grouped(x), eps)
	gyGrouped := l.grouped(gy)

	// gx = invStd * (g - mean(g) - xHat * mean(g * xHat)), with g = gy * gamma.
	g := l.mul(gyGrouped, l.perChannel(gamma))
	gx := l.sub(l.sub(g, l.groupMean(g)), l.mul(xHat, l.groupMean(l.mul(g, xHat))))
	gx = l.mul(invStd, gx)

	gGamma := l.convert(l.channelSum(l.mul(gyGrouped, xHat)), paramDType)
	gBeta := l.convert(l.channelSum(gyGrouped), paramDType)
	return l.build(l.output(gx, xShape), gGamma, gBeta)
}
