package testutil

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/groupnorm/types/shapes"
	"github.com/stretchr/testify/assert"
)

func TestProduct(t *testing.T) {
	axes := []Axis{
		Values("shape", shapes.Make(dtypes.Float32, 1, 4, 5, 3), shapes.Make(dtypes.Float32, 3, 20)),
		Values("groups", 1, 2, 4),
		Values("dtype", "float32"),
	}
	cases := Product(axes...)
	assert.Len(t, cases, 6)
	assert.Equal(t, "shape=(1,4,5,3)/groups=1/dtype=float32", cases[0].Name(axes))
	assert.Equal(t, "shape=(1,4,5,3)/groups=2/dtype=float32", cases[1].Name(axes))
	assert.Equal(t, "shape=(3,20)/groups=4/dtype=float32", cases[5].Name(axes))
	assert.Equal(t, 4, Get[int](cases[5], "groups"))
	assert.Panics(t, func() { Get[int](cases[0], "missing") })

	assert.Len(t, Product(), 1)
	assert.Empty(t, Product(Values[int]("empty")))
}
