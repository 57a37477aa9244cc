package shapeinference

import (
	"testing"

	"github.com/gomlx/groupnorm/types"
	"github.com/gomlx/groupnorm/types/shapes"
	"github.com/pkg/errors"
)

func TestGroupNormalization(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		for _, tc := range []struct {
			operand shapes.Shape
			groups  int
		}{
			{S(F32, 1, 4, 5, 3), 2},
			{S(F16, 5, 4, 7), 4},
			{S(F64, 3, 20), 1},
		} {
			channels := tc.operand.Dim(ChannelAxis)
			gamma, beta := S(F32, channels), S(F32, channels)
			output := must1(GroupNormalization(tc.operand, gamma, beta, tc.groups))
			if !output.Equal(tc.operand) {
				t.Errorf("GroupNormalization(%s, groups=%d) = %s, want %s", tc.operand, tc.groups, output, tc.operand)
			}
		}
	})

	t.Run("rank too small", func(t *testing.T) {
		for _, operand := range []shapes.Shape{S(F32, 2), S(F32)} {
			_, err := GroupNormalizationChannels(operand, 3)
			if !errors.Is(err, types.ErrValue) {
				t.Errorf("expected value error for operand %s, got %v", operand, err)
			}
		}
	})

	t.Run("groups don't divide channels", func(t *testing.T) {
		_, err := GroupNormalizationChannels(S(F32, 2, 5, 2), 3)
		if !errors.Is(err, types.ErrValue) {
			t.Errorf("expected value error, got %v", err)
		}
		_, err = GroupNormalizationChannels(S(F32, 2, 6, 2), 0)
		if !errors.Is(err, types.ErrValue) {
			t.Errorf("expected value error for groups=0, got %v", err)
		}
	})

	t.Run("non-float operand", func(t *testing.T) {
		_, err := GroupNormalizationChannels(S(I32, 2, 6), 3)
		if !errors.Is(err, types.ErrType) {
			t.Errorf("expected type error, got %v", err)
		}
	})

	t.Run("parameter shapes", func(t *testing.T) {
		operand := S(F16, 2, 6, 3)
		_, err := GroupNormalization(operand, S(F32, 5), S(F32, 6), 3)
		if !errors.Is(err, types.ErrValue) {
			t.Errorf("expected value error for wrong gamma size, got %v", err)
		}
		_, err = GroupNormalization(operand, S(F32, 6), S(F64, 6), 3)
		if !errors.Is(err, types.ErrType) {
			t.Errorf("expected type error for mismatched gamma/beta dtypes, got %v", err)
		}
	})
}

func TestGroupNormalizationGradient(t *testing.T) {
	operand, gamma := S(F16, 5, 4, 7), S(F32, 4)
	gx, gGamma, gBeta, err := GroupNormalizationGradient(operand, gamma, operand, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gx.Equal(operand) || !gGamma.Equal(gamma) || !gBeta.Equal(gamma) {
		t.Errorf("got gradient shapes %s, %s, %s", gx, gGamma, gBeta)
	}
	_, _, _, err = GroupNormalizationGradient(operand, gamma, S(F16, 5, 4, 6), 2)
	if !errors.Is(err, types.ErrValue) {
		t.Errorf("expected value error for mismatched output gradient, got %v", err)
	}
}
