package hlo

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/groupnorm/internal/optypes"
	"github.com/gomlx/groupnorm/shapeinference"
	"github.com/gomlx/groupnorm/types/shapes"
	"github.com/pkg/errors"
)

// operandsFunction returns the function the new operation op belongs to: the one of the first operand.
// All operands must be non-nil and belong to it, and it must not have returned yet.
func operandsFunction(op optypes.OpType, operands ...*Value) (*Function, error) {
	if len(operands) == 0 || operands[0] == nil {
		return nil, errors.Errorf("%s: missing operand", op)
	}
	fn := operands[0].fn
	if fn == nil {
		return nil, errors.Errorf("%s: operand %s is not part of any function", op, operands[0])
	}
	if err := fn.checkOpen(op); err != nil {
		return nil, err
	}
	if err := fn.checkOwned(op, operands...); err != nil {
		return nil, err
	}
	return fn, nil
}

// addOp appends a statement with one output of the given shape.
func (fn *Function) addOp(op optypes.OpType, outputShape shapes.Shape, inputs ...*Value) *Statement {
	stmt := &Statement{OpType: op, Inputs: inputs, Outputs: []*Value{fn.newValue(outputShape)}}
	fn.Statements = append(fn.Statements, stmt)
	return stmt
}

// binaryOp adds an element-wise operation. StableHLO requires operands of the same shape, so a
// scalar operand is first broadcast to the shape of the other one.
func binaryOp(op optypes.OpType, lhs, rhs *Value) (*Value, error) {
	fn, err := operandsFunction(op, lhs, rhs)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.BinaryOp(op, lhs.shape, rhs.shape)
	if err != nil {
		return nil, err
	}
	operands := []*Value{lhs, rhs}
	for i, operand := range operands {
		if operand.shape.Rank() == output.Rank() {
			continue
		}
		if operands[i], err = BroadcastInDim(operand, output, nil); err != nil {
			return nil, err
		}
	}
	return fn.addOp(op, output, operands...).Outputs[0], nil
}

func unaryOp(op optypes.OpType, operand *Value) (*Value, error) {
	fn, err := operandsFunction(op, operand)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.UnaryOp(op, operand.shape)
	if err != nil {
		return nil, err
	}
	return fn.addOp(op, output, operand).Outputs[0], nil
}

// Add returns lhs + rhs, element-wise. One of them may be a scalar.
func Add(lhs, rhs *Value) (*Value, error) { return binaryOp(optypes.Add, lhs, rhs) }

// Subtract returns lhs - rhs, element-wise. One of them may be a scalar.
func Subtract(lhs, rhs *Value) (*Value, error) { return binaryOp(optypes.Subtract, lhs, rhs) }

// Multiply returns lhs * rhs, element-wise. One of them may be a scalar.
func Multiply(lhs, rhs *Value) (*Value, error) { return binaryOp(optypes.Multiply, lhs, rhs) }

// Divide returns lhs / rhs, element-wise. One of them may be a scalar.
func Divide(lhs, rhs *Value) (*Value, error) { return binaryOp(optypes.Divide, lhs, rhs) }

// Rsqrt returns 1/sqrt(x), element-wise.
func Rsqrt(x *Value) (*Value, error) { return unaryOp(optypes.Rsqrt, x) }

// Reshape returns the operand with new dimensions of the same total size. The row-major order of
// the values is kept.
func Reshape(operand *Value, dimensions ...int) (*Value, error) {
	fn, err := operandsFunction(optypes.Reshape, operand)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.Reshape(operand.shape, dimensions...)
	if err != nil {
		return nil, err
	}
	return fn.addOp(optypes.Reshape, output, operand).Outputs[0], nil
}

// BroadcastInDim broadcasts the operand to the target shape. axesMapping[i] is the axis of the target
// the operand axis i maps to; the other target axes are new.
func BroadcastInDim(operand *Value, target shapes.Shape, axesMapping []int) (*Value, error) {
	fn, err := operandsFunction(optypes.BroadcastInDim, operand)
	if err != nil {
		return nil, err
	}
	if err = shapeinference.BroadcastInDim(operand.shape, target, axesMapping); err != nil {
		return nil, err
	}
	stmt := fn.addOp(optypes.BroadcastInDim, target.Clone(), operand)
	stmt.Attributes = map[string]any{"broadcast_dimensions": intSliceToArrayI64StableHLO(axesMapping)}
	return stmt.Outputs[0], nil
}

// Convert x to dtype.
func Convert(x *Value, dtype dtypes.DType) (*Value, error) {
	fn, err := operandsFunction(optypes.Convert, x)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.Convert(x.shape, dtype)
	if err != nil {
		return nil, err
	}
	return fn.addOp(optypes.Convert, output, x).Outputs[0], nil
}

// Reduce x over axes, starting from initialValue and combining values with reductionFn.
//
// reductionFn must be a returned closure of x's function (see Function.Closure), taking two scalars and
// returning their combination. It should be associative and commutative.
func Reduce(x, initialValue *Value, reductionFn *Function, axes ...int) (*Value, error) {
	op := optypes.Reduce
	fn, err := operandsFunction(op, x, initialValue)
	if err != nil {
		return nil, err
	}
	switch {
	case reductionFn == nil || reductionFn.Parent != fn:
		return nil, errors.Errorf("%s: reduction function is not a closure of %q", op, fn.Name)
	case !reductionFn.Returned:
		return nil, errors.Errorf("%s: reduction function %q has no return statement", op, reductionFn.Name)
	}
	axes = slices.Clone(axes)
	output, err := shapeinference.Reduce(x.shape, initialValue.shape, shapesOf(reductionFn.Inputs), reductionFn.Outputs, axes)
	if err != nil {
		return nil, err
	}
	stmt := fn.addOp(op, output, x, initialValue)
	stmt.Attributes = map[string]any{"dimensions": intSliceToArrayI64StableHLO(axes)}
	stmt.Regions = []*Function{reductionFn}
	return stmt.Outputs[0], nil
}

// ReduceSum sums x over axes.
func ReduceSum(x *Value, axes ...int) (*Value, error) {
	if x == nil || x.fn == nil {
		return nil, errors.Errorf("%s: missing operand", optypes.Reduce)
	}
	dtype := x.shape.DType
	zero, err := x.fn.Constant(dtype, 0)
	if err != nil {
		return nil, err
	}
	adder := x.fn.Closure()
	sum, err := Add(adder.Input(shapes.Make(dtype)), adder.Input(shapes.Make(dtype)))
	if err != nil {
		return nil, err
	}
	if err = adder.Return(sum); err != nil {
		return nil, err
	}
	return Reduce(x, zero, adder, axes...)
}
