package shapes

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// FromAnyValue returns the shape of a Go value: a supported scalar (float16.Float16, bfloat16.BFloat16,
// float32, float64, ints) or nested slices of one. Sub-slices must all have the same length.
//
// Example:
//
//	shape, _ := shapes.FromAnyValue([][]float64{{0, 0}}) // Returns shape (Float64)[1 2]
func FromAnyValue(v any) (shape Shape, err error) {
	if v == nil {
		return Invalid(), errors.New("cannot infer a shape from a nil value")
	}
	err = fromValueRecursive(&shape, reflect.ValueOf(v), reflect.TypeOf(v))
	if err != nil {
		return Invalid(), err
	}
	return shape, nil
}

func fromValueRecursive(shape *Shape, v reflect.Value, t reflect.Type) error {
	if t.Kind() != reflect.Slice {
		shape.DType = dtypes.FromGoType(t)
		if shape.DType == dtypes.InvalidDType {
			return errors.Errorf("cannot convert type %q to a valid shape (maybe type not supported yet?)", t)
		}
		return nil
	}

	t = t.Elem()
	shape.Dimensions = append(shape.Dimensions, v.Len())
	prefix := shape.Clone()
	if v.Len() == 0 {
		return errors.Errorf("value with empty slice not valid for shape conversion: %T -- inner dimensions can't be inferred", v.Interface())
	}
	if err := fromValueRecursive(shape, v.Index(0), t); err != nil {
		return err
	}
	for ii := 1; ii < v.Len(); ii++ {
		other := prefix.Clone()
		if err := fromValueRecursive(&other, v.Index(ii), t); err != nil {
			return err
		}
		if !shape.Equal(other) {
			return errors.Errorf("sub-slices have irregular shapes, found shapes %q, and %q", shape, other)
		}
	}
	return nil
}
