// Package shapeinference calculates the shape resulting from operations and validates its inputs.
//
// It is used both by the host tensor implementation and by the hlo builder, so that the same
// errors are reported regardless of where a group normalization is computed.
//
// It defines BinaryOp for element-wise binary functions (no broadcasting other than scalars),
// UnaryOp for element-wise unary functions, and one function for each of the remaining
// operations, including GroupNormalization itself.
//
// Errors caused by bad shapes wrap types.ErrValue, and errors caused by bad dtypes wrap
// types.ErrType.
package shapeinference

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/groupnorm/internal/optypes"
	"github.com/gomlx/groupnorm/internal/utils"
	"github.com/gomlx/groupnorm/types"
	"github.com/gomlx/groupnorm/types/shapes"
	"github.com/pkg/errors"
)

var (
	// StandardBinaryOperations are the element-wise operations on lhs and rhs handled by BinaryOp.
	StandardBinaryOperations = utils.SetWith(
		optypes.Add,
		optypes.Subtract,
		optypes.Multiply,
		optypes.Divide,
	)

	// StandardUnaryOperations are the element-wise operations on one operand handled by UnaryOp.
	StandardUnaryOperations = utils.SetWith(
		optypes.Rsqrt,
	)

	// FloatOperations operate only on float dtypes.
	FloatOperations = utils.SetWith(
		optypes.Rsqrt,
	)
)

// BinaryOp returns the expected output shape for ops in the StandardBinaryOperations set.
//
// Both operands must have the same dtype. Either both have the same dimensions, or one of them is a scalar,
// in which case the output takes the shape of the other.
func BinaryOp(opType optypes.OpType, lhsShape, rhsShape shapes.Shape) (output shapes.Shape, err error) {
	if !StandardBinaryOperations.Has(opType) {
		err = errors.Errorf("operation %s is not in the StandardBinaryOperations set, cannot process it with BinaryOp", opType)
		return
	}
	if !lhsShape.Ok() || !rhsShape.Ok() {
		err = types.ValueErrorf("invalid shape for %s or %s for %q", lhsShape, rhsShape, opType)
		return
	}
	if lhsShape.DType != rhsShape.DType {
		err = types.TypeErrorf("dtypes for %q must match, got %s and %s", opType, lhsShape, rhsShape)
		return
	}
	if lhsShape.DType == dtypes.Bool {
		err = types.TypeErrorf("numeric BinaryOp %s must have a number data type as input, got %s", opType, lhsShape)
		return
	}
	switch {
	case lhsShape.IsScalar():
		return rhsShape.Clone(), nil
	case rhsShape.IsScalar():
		return lhsShape.Clone(), nil
	case !lhsShape.Equal(rhsShape):
		err = types.ValueErrorf("shapes for %q must match, got %s and %s", opType, lhsShape, rhsShape)
		return
	}
	return lhsShape.Clone(), nil
}

// UnaryOp checks the validity of the data type for StandardUnaryOperations and returns their output shape,
// which is the same as the operand.
func UnaryOp(opType optypes.OpType, operand shapes.Shape) (output shapes.Shape, err error) {
	if !StandardUnaryOperations.Has(opType) {
		err = errors.Errorf("operation %s is not in the StandardUnaryOperations set, cannot process it with UnaryOp", opType)
		return
	}
	if !operand.Ok() {
		err = types.ValueErrorf("invalid shape %s for %s", operand, opType)
		return
	}
	if FloatOperations.Has(opType) && !utils.IsNormalizable(operand.DType) {
		err = types.TypeErrorf("float UnaryOp %s must have a float (Float32, Float64, ...) data type as input, got %s", opType, operand)
		return
	}
	return operand.Clone(), nil
}

// AdjustAxisToRank returns a positive axis, adjusting negative numbers to the correct rank.
func AdjustAxisToRank(axis, rank int) (int, error) {
	if axis < -rank || axis >= rank {
		return -1, types.ValueErrorf("axis %d is out of range for the rank %d", axis, rank)
	}
	if axis < 0 {
		axis += rank
	}
	return axis, nil
}

// Reshape checks that operand can be reshaped to the given dimensions and returns the new shape.
func Reshape(operand shapes.Shape, dimensions ...int) (output shapes.Shape, err error) {
	if !operand.Ok() {
		return shapes.Invalid(), types.ValueErrorf("Reshape: invalid operand shape %s", operand)
	}
	for i, dim := range dimensions {
		if dim < 0 {
			return shapes.Invalid(), types.ValueErrorf("Reshape: negative dimension %d at axis %d", dim, i)
		}
	}
	output = shapes.Shape{DType: operand.DType, Dimensions: slices.Clone(dimensions)}
	if output.Size() != operand.Size() {
		return shapes.Invalid(), types.ValueErrorf("Reshape requires the total size of the new shape to match the original shape, got operand=%s and dimensions=%v",
			operand, dimensions)
	}
	return output, nil
}

// BroadcastInDim verifies that the arguments are valid. The output shape is already known, so nothing is returned.
//
// axesMapping maps each operand axis to the corresponding axis of the target shape: operand axes must
// either match the target dimension, or be of dimension 1 (broadcast).
func BroadcastInDim(operand, targetShape shapes.Shape, axesMapping []int) error {
	if operand.DType != targetShape.DType {
		return types.TypeErrorf("BroadcastInDim: operand (%s) and target shape (%s) must have the same dtype",
			operand, targetShape)
	}
	if len(axesMapping) != operand.Rank() {
		return types.ValueErrorf("BroadcastInDim: axesMapping (length %d) must have the same length as the operand rank (%d)",
			len(axesMapping), operand.Rank())
	}
	usedAxes := utils.MakeSet[int](len(axesMapping))
	for operandAxis, targetAxis := range axesMapping {
		if targetAxis < 0 || targetAxis >= targetShape.Rank() {
			return types.ValueErrorf("BroadcastInDim: axesMapping[%d]=%d is out of range for target shape %s",
				operandAxis, targetAxis, targetShape)
		}
		if usedAxes.Has(targetAxis) {
			return types.ValueErrorf("BroadcastInDim: axesMapping has duplicate target axis %d", targetAxis)
		}
		usedAxes.Insert(targetAxis)
		operandDim := operand.Dimensions[operandAxis]
		targetDim := targetShape.Dimensions[targetAxis]
		if operandDim != 1 && operandDim != targetDim {
			return types.ValueErrorf("BroadcastInDim: operand axis %d (dimension %d) can't be broadcast to target axis %d (dimension %d)",
				operandAxis, operandDim, targetAxis, targetDim)
		}
	}
	return nil
}

// Convert returns the operand shape with the new dtype.
func Convert(operand shapes.Shape, dtype dtypes.DType) (output shapes.Shape, err error) {
	if !operand.Ok() {
		return shapes.Invalid(), types.ValueErrorf("Convert: invalid operand shape %s", operand)
	}
	if dtype == dtypes.InvalidDType {
		return shapes.Invalid(), types.TypeErrorf("Convert: invalid target dtype for operand %s", operand)
	}
	return operand.WithDType(dtype), nil
}

// Reduce returns the operation's output shape and checks all shapes and dtypes are valid.
// The axes are also normalized to positive in-place.
//
// reductionInputs and reductionOutputs are the shapes of the reduction function parameters
// (lhs and rhs scalars) and results (one scalar).
func Reduce(input, initialValue shapes.Shape, reductionInputs, reductionOutputs []shapes.Shape, axes []int) (output shapes.Shape, err error) {
	if !input.Ok() {
		return shapes.Invalid(), types.ValueErrorf("Reduce: invalid input shape %s", input)
	}
	if input.DType != initialValue.DType || !initialValue.IsScalar() {
		return shapes.Invalid(), types.TypeErrorf("Reduce requires a scalar initial value with the same dtype as the input, got %s and %s",
			initialValue, input)
	}
	if len(reductionInputs) != 2 || len(reductionOutputs) != 1 {
		return shapes.Invalid(), types.ValueErrorf("the reduction function for Reduce must have 2 inputs and 1 output, got %d inputs and %d outputs",
			len(reductionInputs), len(reductionOutputs))
	}
	for i, s := range append(slices.Clone(reductionInputs), reductionOutputs...) {
		if s.DType != input.DType || !s.IsScalar() {
			return shapes.Invalid(), types.TypeErrorf("the reduction function for Reduce must work on scalars of %s, got parameter/result #%d=%s",
				input.DType, i, s)
		}
	}

	rank := input.Rank()
	if len(axes) > rank {
		return shapes.Invalid(), types.ValueErrorf("input for Reduce has rank=%d, but %d axes for reduction were given", rank, len(axes))
	}
	axesSet := utils.MakeSet[int](len(axes))
	for i, axis := range axes {
		adjustedAxis, err := AdjustAxisToRank(axis, rank)
		if err != nil {
			return shapes.Invalid(), errors.WithMessagef(err, "invalid value for axes[%d]=%d for Reduce, input.shape=%s",
				i, axis, input)
		}
		if axesSet.Has(adjustedAxis) {
			return shapes.Invalid(), types.ValueErrorf("duplicate value for axes[%d]=%d for Reduce, axes=%v", i, axis, axes)
		}
		axesSet.Insert(adjustedAxis)
		axes[i] = adjustedAxis
	}

	reducedDims := make([]int, 0, rank-len(axes))
	for axis, dim := range input.Dimensions {
		if axesSet.Has(axis) {
			continue
		}
		reducedDims = append(reducedDims, dim)
	}
	return shapes.Make(reductionOutputs[0].DType, reducedDims...), nil
}

// Concatenate returns the shape of inputs joined along axis: every input must have the dtype and
// rank of the first one, and the same dimensions on all other axes.
func Concatenate(inputs []shapes.Shape, axis int) (output shapes.Shape, err error) {
	if len(inputs) == 0 {
		return shapes.Invalid(), types.ValueErrorf("Concatenate requires at least one input shape")
	}
	if !inputs[0].Ok() {
		return shapes.Invalid(), types.ValueErrorf("Concatenate: invalid shape %s for input #0", inputs[0])
	}
	output = inputs[0].Clone()
	axis, err = AdjustAxisToRank(axis, output.Rank())
	if err != nil {
		return shapes.Invalid(), errors.WithMessagef(err, "Concatenate of %s", output)
	}
	for i, input := range inputs[1:] {
		switch {
		case input.DType != output.DType:
			return shapes.Invalid(), types.TypeErrorf("Concatenate: input #%d has dtype %s, expected %s", i+1, input.DType, output.DType)
		case input.Rank() != output.Rank():
			return shapes.Invalid(), types.ValueErrorf("Concatenate: input #%d has rank %d, expected %d", i+1, input.Rank(), output.Rank())
		}
		for d, dim := range input.Dimensions {
			if d == axis {
				output.Dimensions[d] += dim
				continue
			}
			if dim != inputs[0].Dimensions[d] {
				return shapes.Invalid(), types.ValueErrorf("Concatenate: input #%d has dimension %d on axis %d, expected %d",
					i+1, dim, d, inputs[0].Dimensions[d])
			}
		}
	}
	return output, nil
}
