package hlo

import (
	"fmt"
	"strconv"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/groupnorm/internal/optypes"
	"github.com/gomlx/groupnorm/internal/utils"
	"github.com/gomlx/groupnorm/types"
	"github.com/gomlx/groupnorm/types/shapes"
	"github.com/pkg/errors"
)

// Function is a `func.func` of the module, or a closure: a region of an operation like Reduce.
type Function struct {
	Builder *Builder

	// Name without the "@" prefix. Closures are named only for error messages.
	Name string

	Inputs []*Value

	// Outputs are the types of the returned values, set by Return.
	Outputs []shapes.Shape

	Statements []*Statement

	// Parent is the function that created the closure, nil for top-level functions.
	Parent *Function

	// Returned is set by Return, after which the function is immutable.
	Returned bool

	// Counters for generated names. Only the ones of the root function are used, so names are unique
	// across a function and its closures.
	numArgs, numValues, numClosures int
}

func (fn *Function) root() *Function {
	for fn.Parent != nil {
		fn = fn.Parent
	}
	return fn
}

func (fn *Function) newValue(shape shapes.Shape) *Value {
	root := fn.root()
	v := &Value{fn: fn, shape: shape, name: strconv.Itoa(root.numValues)}
	root.numValues++
	return v
}

// Input appends a parameter named "arg<N>" to the function.
// Parameters are given to the compiled program in the order they are created.
func (fn *Function) Input(shape shapes.Shape) *Value {
	root := fn.root()
	name := fmt.Sprintf("arg%d", root.numArgs)
	root.numArgs++
	return fn.NamedInput(name, shape)
}

// NamedInput appends a parameter with the given name, which must be unique in the function.
// Names "<N>" and "arg<N>" are used for generated values.
func (fn *Function) NamedInput(name string, shape shapes.Shape) *Value {
	v := &Value{fn: fn, shape: shape, name: NormalizeIdentifier(name)}
	fn.Inputs = append(fn.Inputs, v)
	return v
}

func (fn *Function) checkOpen(op optypes.OpType) error {
	if fn.Returned {
		return errors.Errorf("%s: function %q already returned", op, fn.Name)
	}
	return nil
}

// checkOwned verifies the operands are not nil and were created in fn.
func (fn *Function) checkOwned(op optypes.OpType, operands ...*Value) error {
	for i, v := range operands {
		switch {
		case v == nil:
			return errors.Errorf("%s: operand #%d is nil, in function %q", op, i, fn.Name)
		case v.fn != fn:
			return errors.Errorf("%s: operand #%d (%s) belongs to another function than %q", op, i, v, fn.Name)
		}
	}
	return nil
}

// Constant adds a scalar constant of a float dtype. Reduced precision values are rounded by the compiler.
func (fn *Function) Constant(dtype dtypes.DType, value float64) (*Value, error) {
	if err := fn.checkOpen(optypes.Constant); err != nil {
		return nil, err
	}
	if !utils.IsNormalizable(dtype) {
		return nil, types.TypeErrorf("Constant: only float dtypes are supported, got %s", dtype)
	}
	literal, err := newFloatLiteral(dtype, value)
	if err != nil {
		return nil, err
	}
	stmt := fn.addOp(optypes.Constant, shapes.Make(dtype))
	stmt.Attributes = map[string]any{"value": literal}
	return stmt.Outputs[0], nil
}

// Return ends the function with the given values, at least one.
// Top-level functions use "func.return", and closures "stablehlo.return".
func (fn *Function) Return(values ...*Value) error {
	op := optypes.FuncReturn
	if fn.Parent != nil {
		op = optypes.Return
	}
	if err := fn.checkOpen(op); err != nil {
		return err
	}
	if len(values) == 0 {
		return errors.Errorf("%s: function %q must return at least one value", op, fn.Name)
	}
	if err := fn.checkOwned(op, values...); err != nil {
		return err
	}
	fn.Statements = append(fn.Statements, &Statement{OpType: op, Inputs: values})
	fn.Outputs = shapesOf(values)
	fn.Returned = true
	return nil
}

// Closure creates a function to be used as the region of an operation of fn (or of its closures).
// Its body is built as any function, and it must end with Return before being used.
func (fn *Function) Closure() *Function {
	root := fn.root()
	closure := fn.Builder.NewFunction(fmt.Sprintf("closure%d", root.numClosures))
	root.numClosures++
	closure.Parent = fn
	return closure
}

// write renders a top-level function as a `func.func`, or a closure as the block of a region.
func (fn *Function) write(tw *textWriter, indentation string) {
	params := make([]string, len(fn.Inputs))
	for i, input := range fn.Inputs {
		params[i] = fmt.Sprintf("%s: %s", input, input.shape.ToStableHLO())
	}
	if fn.Parent != nil {
		tw.printf("%s^bb0(%s):\n", indentation, joinComma(params))
	} else {
		tw.printf("%sfunc.func @%s(%s) -> ", indentation, fn.Name, joinComma(params))
		tw.signature(fn.Outputs)
		tw.printf(" {\n")
	}
	for _, stmt := range fn.Statements {
		stmt.write(tw, indentation+IndentationStep)
		tw.printf("\n")
	}
	if fn.Parent == nil {
		tw.printf("%s}", indentation)
	}
}
