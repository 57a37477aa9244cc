package types

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	err := ValueErrorf("groups=%d doesn't divide %d channels", 3, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValue))
	assert.False(t, errors.Is(err, ErrType))
	assert.Contains(t, err.Error(), "groups=3 doesn't divide 5 channels")

	err = errors.WithMessage(TypeErrorf("groups must be an integer, got %v", 3.5), "GroupNormalization")
	assert.True(t, errors.Is(err, ErrType))
	assert.Contains(t, err.Error(), "GroupNormalization: groups must be an integer, got 3.5")
}
