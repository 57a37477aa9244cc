package hlo

import "github.com/gomlx/groupnorm/types/shapes"

// Value is the result of an operation or a function parameter, written as `%<name>`.
type Value struct {
	fn    *Function
	shape shapes.Shape
	name  string
}

// Shape of the value.
func (v *Value) Shape() shapes.Shape { return v.shape }

// String implements fmt.Stringer.
func (v *Value) String() string { return "%" + v.name }

// NamedValue creates a detached parameter with the given name (passed through NormalizeIdentifier),
// to be given to Builder.NewFunction.
func NamedValue(name string, shape shapes.Shape) *Value {
	return &Value{shape: shape, name: NormalizeIdentifier(name)}
}

func shapesOf(values []*Value) []shapes.Shape {
	result := make([]shapes.Shape, len(values))
	for i, v := range values {
		result[i] = v.shape
	}
	return result
}
