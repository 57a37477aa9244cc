package shapeinference

import (
	"github.com/gomlx/groupnorm/internal/utils"
	"github.com/gomlx/groupnorm/types"
	"github.com/gomlx/groupnorm/types/shapes"
)

// ChannelAxis is the axis holding the channels normalized by groups: inputs are laid out as
// [batch, channels, spatial...].
const ChannelAxis = 1

// GroupNormalizationChannels validates the operand of a group normalization against the number of
// groups and returns the number of channels.
//
// It is separate from GroupNormalization because the parameters may not exist yet: they are
// created lazily from the channel count returned here.
func GroupNormalizationChannels(operand shapes.Shape, groups int) (channels int, err error) {
	if !operand.Ok() {
		return 0, types.ValueErrorf("GroupNormalization: invalid operand shape %s", operand)
	}
	if operand.Rank() < 2 {
		return 0, types.ValueErrorf("GroupNormalization: input must have at least 2 axes [batch, channels, ...], got shape %s with rank %d",
			operand, operand.Rank())
	}
	if !utils.IsNormalizable(operand.DType) {
		return 0, types.TypeErrorf("GroupNormalization: input must be a float (Float16, BFloat16, Float32 or Float64), got %s", operand)
	}
	channels = operand.Dimensions[ChannelAxis]
	if groups <= 0 {
		return 0, types.ValueErrorf("GroupNormalization: groups must be positive, got %d", groups)
	}
	if channels%groups != 0 {
		return 0, types.ValueErrorf("GroupNormalization: number of channels (%d) must be a multiple of groups (%d), input shape %s",
			channels, groups, operand)
	}
	return channels, nil
}

// GroupNormalization returns the output shape of a group normalization of operand, scaled by gamma and
// shifted by beta, both of shape [channels].
//
// gamma and beta may have a different (usually higher) precision than the operand. The output has the
// operand's shape and dtype.
func GroupNormalization(operand, gamma, beta shapes.Shape, groups int) (output shapes.Shape, err error) {
	channels, err := GroupNormalizationChannels(operand, groups)
	if err != nil {
		return shapes.Invalid(), err
	}
	if err = checkParameterShape("gamma", gamma, channels); err != nil {
		return shapes.Invalid(), err
	}
	if err = checkParameterShape("beta", beta, channels); err != nil {
		return shapes.Invalid(), err
	}
	if gamma.DType != beta.DType {
		return shapes.Invalid(), types.TypeErrorf("GroupNormalization: gamma (%s) and beta (%s) must have the same dtype", gamma, beta)
	}
	return operand.Clone(), nil
}

// GroupNormalizationGradient returns the shapes of the gradients of a group normalization with respect
// to its operand, gamma and beta, given the gradient of its output.
//
// gradOperand has the shape of the operand, gradGamma and gradBeta the shape of gamma.
func GroupNormalizationGradient(operand, gamma, gradOutput shapes.Shape, groups int) (gradOperand, gradGamma, gradBeta shapes.Shape, err error) {
	channels, err := GroupNormalizationChannels(operand, groups)
	if err != nil {
		return
	}
	if err = checkParameterShape("gamma", gamma, channels); err != nil {
		return
	}
	if !gradOutput.Equal(operand) {
		err = types.ValueErrorf("GroupNormalizationGradient: gradient of the output %s must match the operand %s", gradOutput, operand)
		return
	}
	return operand.Clone(), gamma.Clone(), gamma.Clone(), nil
}

func checkParameterShape(name string, param shapes.Shape, channels int) error {
	if !utils.IsNormalizable(param.DType) {
		return types.TypeErrorf("GroupNormalization: %s must be a float, got %s", name, param)
	}
	if param.Rank() != 1 || param.Dimensions[0] != channels {
		return types.ValueErrorf("GroupNormalization: %s must have shape [%d] (number of channels), got %s", name, channels, param)
	}
	return nil
}
