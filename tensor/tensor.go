// Package tensor implements a minimal host tensor: a shape plus a flat slice of values of the
// shape's dtype.
//
// Only floating point dtypes are supported (Float16, BFloat16, Float32 and Float64), the ones
// group normalization is defined for. Reduced precision values are stored with their own Go types
// (float16.Float16 and bfloat16.BFloat16), so converting a tensor to a reduced precision and back
// loses precision the same way a device would.
package tensor

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/groupnorm/internal/utils"
	"github.com/gomlx/groupnorm/shapeinference"
	"github.com/gomlx/groupnorm/types"
	"github.com/gomlx/groupnorm/types/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Tensor holds the values of a shape on the host.
//
// The flat values are stored in row-major order.
type Tensor struct {
	shape shapes.Shape
	flat  any
}

// FromFlatAndDimensions creates a tensor from a flat slice ([]float16.Float16, []bfloat16.BFloat16,
// []float32 or []float64) and the dimensions of its shape.
//
// The tensor takes ownership of flat, it is not copied.
func FromFlatAndDimensions(flat any, dimensions ...int) (*Tensor, error) {
	if flat == nil {
		return nil, types.TypeErrorf("tensor.FromFlatAndDimensions: flat values are nil")
	}
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return nil, types.TypeErrorf("tensor.FromFlatAndDimensions: expected a slice, got %T", flat)
	}
	dtype := dtypes.FromGoType(flatV.Type().Elem())
	if !utils.IsNormalizable(dtype) {
		return nil, types.TypeErrorf("tensor.FromFlatAndDimensions: unsupported flat values type %T, only float types are supported", flat)
	}
	for _, dim := range dimensions {
		if dim < 0 {
			return nil, types.ValueErrorf("tensor.FromFlatAndDimensions: negative dimension in %v", dimensions)
		}
	}
	shape := shapes.Make(dtype, dimensions...)
	if shape.Size() != flatV.Len() {
		return nil, types.ValueErrorf("flat values size %d doesn't match shape size %d (%s)", flatV.Len(), shape.Size(), shape)
	}
	return &Tensor{shape: shape, flat: flat}, nil
}

// FromValue creates a tensor from a scalar or a (multi-level) slice of one of the supported float types.
// Sub-slices must be regular, e.g. [][]float32{{1, 2}, {3, 4}}.
func FromValue(value any) (*Tensor, error) {
	shape, err := shapes.FromAnyValue(value)
	if err != nil {
		return nil, errors.WithMessage(err, "tensor.FromValue")
	}
	if !utils.IsNormalizable(shape.DType) {
		return nil, types.TypeErrorf("tensor.FromValue: unsupported dtype %s, only float types are supported", shape.DType)
	}
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), 0, shape.Size())
	flatV = flattenRecursive(flatV, reflect.ValueOf(value))
	return &Tensor{shape: shape, flat: flatV.Interface()}, nil
}

func flattenRecursive(flatV, v reflect.Value) reflect.Value {
	if v.Kind() != reflect.Slice {
		return reflect.Append(flatV, v)
	}
	for ii := 0; ii < v.Len(); ii++ {
		flatV = flattenRecursive(flatV, v.Index(ii))
	}
	return flatV
}

// FromFloat64s creates a tensor of the given dtype and dimensions, converting the values (in row-major order).
func FromFloat64s(dtype dtypes.DType, values []float64, dimensions ...int) (*Tensor, error) {
	if !utils.IsNormalizable(dtype) {
		return nil, types.TypeErrorf("tensor.FromFloat64s: unsupported dtype %s", dtype)
	}
	return FromFlatAndDimensions(fromFloat64s(dtype, values), dimensions...)
}

// Full returns a tensor of the given dtype and dimensions filled with value.
func Full(dtype dtypes.DType, value float64, dimensions ...int) (*Tensor, error) {
	size := shapes.Make(dtype, dimensions...).Size()
	values := make([]float64, size)
	for i := range values {
		values[i] = value
	}
	return FromFloat64s(dtype, values, dimensions...)
}

// Zeros returns a tensor of the given dtype and dimensions filled with 0.
func Zeros(dtype dtypes.DType, dimensions ...int) (*Tensor, error) {
	return Full(dtype, 0, dimensions...)
}

// Ones returns a tensor of the given dtype and dimensions filled with 1.
func Ones(dtype dtypes.DType, dimensions ...int) (*Tensor, error) {
	return Full(dtype, 1, dimensions...)
}

// Shape returns the tensor shape.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the tensor dtype.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank returns the number of axes of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Flat returns the underlying flat slice, not a copy.
func (t *Tensor) Flat() any { return t.flat }

// Float64s returns a copy of the values of the tensor converted to float64.
func (t *Tensor) Float64s() []float64 {
	return toFloat64s(t.flat)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: t.shape.Clone(), flat: cloneFlat(t.flat)}
}

// Convert returns a copy of the tensor converted to dtype. If the tensor already has the dtype,
// the copy is still made.
func (t *Tensor) Convert(dtype dtypes.DType) (*Tensor, error) {
	if !utils.IsNormalizable(dtype) {
		return nil, types.TypeErrorf("Tensor.Convert: unsupported dtype %s", dtype)
	}
	if dtype == t.DType() {
		return t.Clone(), nil
	}
	return &Tensor{shape: t.shape.WithDType(dtype), flat: fromFloat64s(dtype, t.Float64s())}, nil
}

// Reshape returns a tensor sharing the same values, with new dimensions.
func (t *Tensor) Reshape(dimensions ...int) (*Tensor, error) {
	shape, err := shapeinference.Reshape(t.shape, dimensions...)
	if err != nil {
		return nil, err
	}
	return &Tensor{shape: shape, flat: t.flat}, nil
}

// Split the tensor along its first axis: it returns one tensor per example, each with a leading
// axis of dimension 1, so it can be fed to the same function as the whole batch.
//
// The values are copied.
func (t *Tensor) Split() ([]*Tensor, error) {
	if t.Rank() == 0 {
		return nil, types.ValueErrorf("Tensor.Split: can't split a scalar")
	}
	batchSize := t.shape.Dimensions[0]
	exampleDims := slices.Clone(t.shape.Dimensions)
	exampleDims[0] = 1
	exampleSize := shapes.Make(t.DType(), exampleDims...).Size()
	flatV := reflect.ValueOf(t.flat)
	parts := make([]*Tensor, batchSize)
	for ii := range parts {
		part := flatV.Slice(ii*exampleSize, (ii+1)*exampleSize)
		parts[ii] = &Tensor{
			shape: shapes.Make(t.DType(), exampleDims...),
			flat:  cloneFlat(part.Interface()),
		}
	}
	return parts, nil
}

// Concatenate tensors along the given axis. All tensors must have the same dtype and the same
// dimensions except on the concatenation axis.
func Concatenate(axis int, tensors ...*Tensor) (*Tensor, error) {
	inputShapes := make([]shapes.Shape, len(tensors))
	for i, t := range tensors {
		if t == nil {
			return nil, types.ValueErrorf("tensor.Concatenate: tensor #%d is nil", i)
		}
		inputShapes[i] = t.shape
	}
	output, err := shapeinference.Concatenate(inputShapes, axis)
	if err != nil {
		return nil, err
	}
	axis, _ = shapeinference.AdjustAxisToRank(axis, output.Rank())

	// outerSize is the number of "rows" before the concatenation axis: each input contributes
	// a contiguous chunk to every row.
	outerSize := 1
	for _, dim := range output.Dimensions[:axis] {
		outerSize *= dim
	}
	flatV := reflect.MakeSlice(reflect.SliceOf(output.DType.GoType()), 0, output.Size())
	for row := range outerSize {
		for _, t := range tensors {
			chunk := t.Size() / max(outerSize, 1)
			flatV = reflect.AppendSlice(flatV, reflect.ValueOf(t.flat).Slice(row*chunk, (row+1)*chunk))
		}
	}
	return &Tensor{shape: output, flat: flatV.Interface()}, nil
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v", t.shape, t.Float64s())
}

func toFloat64s(flat any) []float64 {
	switch values := flat.(type) {
	case []float64:
		return slices.Clone(values)
	case []float32:
		out := make([]float64, len(values))
		for i, v := range values {
			out[i] = float64(v)
		}
		return out
	case []float16.Float16:
		out := make([]float64, len(values))
		for i, v := range values {
			out[i] = float64(v.Float32())
		}
		return out
	case []bfloat16.BFloat16:
		out := make([]float64, len(values))
		for i, v := range values {
			out[i] = float64(v.Float32())
		}
		return out
	}
	panic(fmt.Sprintf("tensor: unsupported flat type %T", flat))
}

func fromFloat64s(dtype dtypes.DType, values []float64) any {
	switch dtype {
	case dtypes.Float64:
		return slices.Clone(values)
	case dtypes.Float32:
		out := make([]float32, len(values))
		for i, v := range values {
			out[i] = float32(v)
		}
		return out
	case dtypes.Float16:
		out := make([]float16.Float16, len(values))
		for i, v := range values {
			out[i] = float16.Fromfloat32(float32(v))
		}
		return out
	case dtypes.BFloat16:
		out := make([]bfloat16.BFloat16, len(values))
		for i, v := range values {
			out[i] = bfloat16.FromFloat32(float32(v))
		}
		return out
	}
	panic(fmt.Sprintf("tensor: unsupported dtype %s", dtype))
}

func cloneFlat(flat any) any {
	flatV := reflect.ValueOf(flat)
	newV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(newV, flatV)
	return newV.Interface()
}
