// Package model defines the capabilities the training driver consumes:
// a model with a forward pass and a loss, an optimizer, and the tensors that
// carry gradients between them.
package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"gradloop/internal/metrics"
)

// ErrShape reports a tensor whose dimensions do not match what an operation expects.
var ErrShape = errors.New("model: shape mismatch")

// Model is a trainable function of a batch of input tensors.
type Model interface {
	// Train switches on training-only behaviour such as dropout.
	Train()
	// Eval switches training-only behaviour off.
	Eval()
	Forward(inputs []*Variable) (*Variable, error)
	// Loss scores output against target. inputs are the tensors Forward
	// received, for models whose loss depends on them.
	Loss(output, target *Variable, inputs []*Variable) (Loss, metrics.Stats, error)
}

// Loss is a scalar objective that can propagate gradients to the parameters
// that produced it.
type Loss interface {
	Value() float64
	Backward() error
}

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	ZeroGrad()
	Step() error
}

// Parameterized is implemented by models that expose their trainable parameters.
type Parameterized interface {
	Parameters() []*Parameter
}

// Variable wraps a tensor for gradient tracking.
type Variable struct {
	Value *mat.Dense
	Grad  *mat.Dense

	backward func(grad *mat.Dense) error
}

// NewVariable wraps value. The gradient is allocated on first accumulation.
func NewVariable(value *mat.Dense) *Variable {
	return &Variable{Value: value}
}

// Dims returns the dimensions of the wrapped tensor.
func (v *Variable) Dims() (int, int) {
	return v.Value.Dims()
}

// ZeroGrad clears the accumulated gradient in place.
func (v *Variable) ZeroGrad() {
	if v.Grad != nil {
		v.Grad.Zero()
	}
}

// Backward accumulates grad into v and forwards it to whatever produced v.
func (v *Variable) Backward(grad *mat.Dense) error {
	if err := v.accumulate(grad); err != nil {
		return err
	}
	if v.backward == nil {
		return nil
	}
	return v.backward(grad)
}

func (v *Variable) accumulate(grad *mat.Dense) error {
	r, c := v.Value.Dims()
	gr, gc := grad.Dims()
	if r != gr || c != gc {
		return fmt.Errorf("%w: gradient %dx%d for tensor %dx%d", ErrShape, gr, gc, r, c)
	}
	if v.Grad == nil {
		v.Grad = mat.NewDense(r, c, nil)
	}
	v.Grad.Add(v.Grad, grad)
	return nil
}

// Parameter is a named trainable tensor.
type Parameter struct {
	Name string
	*Variable
}

// NewParameter wraps value as a trainable parameter.
func NewParameter(name string, value *mat.Dense) *Parameter {
	return &Parameter{Name: name, Variable: NewVariable(value)}
}
