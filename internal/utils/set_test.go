package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	axes := MakeSet[int](3)
	assert.Empty(t, axes)
	axes.Insert(0, 2, 2)
	assert.Len(t, axes, 2)
	assert.True(t, axes.Has(2))
	assert.False(t, axes.Has(1))

	ops := SetWith("add", "rsqrt")
	assert.True(t, ops.Has("rsqrt"))
	assert.False(t, ops.Has("reduce"))
	assert.Len(t, SetWith[int](), 0)
}

func TestToSnakeCase(t *testing.T) {
	for camel, want := range map[string]string{
		"BroadcastInDim": "broadcast_in_dim",
		"Rsqrt":          "rsqrt",
		"Add":            "add",
		"":               "",
	} {
		assert.Equal(t, want, ToSnakeCase(camel))
	}
}
