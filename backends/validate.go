package backends

import (
	"github.com/gomlx/groupnorm/shapeinference"
	"github.com/gomlx/groupnorm/tensor"
	"github.com/gomlx/groupnorm/types"
	"github.com/gomlx/groupnorm/types/shapes"
)

// CheckForward validates the inputs of Backend.GroupNormForward.
func CheckForward(x, gamma, beta *tensor.Tensor, groups int) error {
	if x == nil || gamma == nil || beta == nil {
		return types.ValueErrorf("GroupNormForward: nil input")
	}
	_, err := shapeinference.GroupNormalization(x.Shape(), gamma.Shape(), beta.Shape(), groups)
	return err
}

// CheckBackward validates the inputs of Backend.GroupNormBackward.
func CheckBackward(x, gamma, gy *tensor.Tensor, groups int) error {
	if x == nil || gamma == nil || gy == nil {
		return types.ValueErrorf("GroupNormBackward: nil input")
	}
	_, _, _, err := shapeinference.GroupNormalizationGradient(x.Shape(), gamma.Shape(), gy.Shape(), groups)
	return err
}

// GroupLayout describes how x is split in groups: x is viewed as [batch, groups, groupSize], where
// groupSize = (channels/groups) * spatial.
type GroupLayout struct {
	Batch, Channels, Groups int

	// Spatial is the product of the dimensions after the channels axis (1 if there are none).
	Spatial int
}

// NewGroupLayout returns the layout of an operand with the given shape split in groups.
// It assumes the shape has already been validated.
func NewGroupLayout(operand shapes.Shape, groups int) GroupLayout {
	dims := operand.Dimensions
	layout := GroupLayout{Batch: dims[0], Channels: dims[shapeinference.ChannelAxis], Groups: groups, Spatial: 1}
	for _, dim := range dims[2:] {
		layout.Spatial *= dim
	}
	return layout
}

// GroupSize is the number of elements normalized together.
func (l GroupLayout) GroupSize() int {
	return l.Channels / l.Groups * l.Spatial
}
