package groupnorm

import (
	"github.com/gomlx/groupnorm/tensor"
	"github.com/gomlx/groupnorm/types"
	"gonum.org/v1/gonum/floats"
)

// Parameter is a learnable tensor and its accumulated gradient.
type Parameter struct {
	Name string
	Data *tensor.Tensor

	// Grad is nil until a gradient is accumulated.
	Grad *tensor.Tensor
}

// NewParameter creates a parameter holding data.
func NewParameter(name string, data *tensor.Tensor) *Parameter {
	return &Parameter{Name: name, Data: data}
}

// ClearGrad resets the accumulated gradient.
func (p *Parameter) ClearGrad() {
	p.Grad = nil
}

// AccumulateGrad adds grad to the accumulated gradient. The gradient is stored in the dtype of the parameter.
func (p *Parameter) AccumulateGrad(grad *tensor.Tensor) error {
	if !grad.Shape().EqualDimensions(p.Data.Shape()) {
		return types.ValueErrorf("Parameter %q: gradient shape %s doesn't match parameter shape %s", p.Name, grad.Shape(), p.Data.Shape())
	}
	if p.Grad == nil {
		var err error
		p.Grad, err = grad.Convert(p.Data.DType())
		return err
	}
	sum := p.Grad.Float64s()
	floats.Add(sum, grad.Float64s())
	accumulated, err := tensor.FromFloat64s(p.Data.DType(), sum, p.Data.Shape().Dimensions...)
	if err != nil {
		return err
	}
	p.Grad = accumulated
	return nil
}
