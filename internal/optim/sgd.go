// Package optim implements parameter update rules for model.Parameter.
package optim

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"gradloop/internal/model"
)

// SGDConfig holds configuration for the SGD optimizer.
type SGDConfig struct {
	LR       float64 // Learning rate (default: 0.01)
	Momentum float64 // Momentum factor, range [0, 1)
}

// SGD implements stochastic gradient descent with optional momentum.
//
//	velocity = momentum * velocity + gradient
//	param    = param - lr * velocity
type SGD struct {
	params     []*model.Parameter
	lr         float64
	momentum   float64
	velocities map[*model.Parameter]*mat.Dense
}

// NewSGD creates an optimizer over params.
func NewSGD(params []*model.Parameter, cfg SGDConfig) *SGD {
	if cfg.LR <= 0 {
		cfg.LR = 0.01
	}
	if cfg.Momentum < 0 || cfg.Momentum >= 1 {
		cfg.Momentum = 0
	}
	return &SGD{
		params:     params,
		lr:         cfg.LR,
		momentum:   cfg.Momentum,
		velocities: make(map[*model.Parameter]*mat.Dense),
	}
}

// ZeroGrad clears the gradient of every parameter.
func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

// Step applies one update. Parameters without a gradient are skipped.
func (s *SGD) Step() error {
	for _, p := range s.params {
		if p.Grad == nil {
			continue
		}
		r, c := p.Value.Dims()
		gr, gc := p.Grad.Dims()
		if r != gr || c != gc {
			return fmt.Errorf("sgd: %s: %w", p.Name, model.ErrShape)
		}

		update := p.Grad
		if s.momentum > 0 {
			v, ok := s.velocities[p]
			if !ok {
				v = mat.NewDense(r, c, nil)
				s.velocities[p] = v
			}
			v.Scale(s.momentum, v)
			v.Add(v, p.Grad)
			update = v
		}

		var delta mat.Dense
		delta.Scale(s.lr, update)
		p.Value.Sub(p.Value, &delta)
	}
	return nil
}

// LR returns the learning rate.
func (s *SGD) LR() float64 {
	return s.lr
}
