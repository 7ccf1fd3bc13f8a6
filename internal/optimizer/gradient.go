package optimizer

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"

	"gibbs-forge/internal/model"
)

// ErrShapeMismatch indicates two parameter sets disagree on names or shapes.
// It only occurs for a malformed model.
var ErrShapeMismatch = errors.New("optimizer: parameter layout mismatch")

// Gradient returns the contrastive divergence gradient: the model's
// derivatives on the minibatch (positive phase) minus its derivatives on the
// samples (negative phase). Both inputs are coerced to float32 first.
func Gradient(m model.Model, minibatch, samples any) (model.ParamSet, error) {
	vData, err := model.AsMatrix(minibatch)
	if err != nil {
		return nil, fmt.Errorf("optimizer: minibatch: %w", err)
	}
	vModel, err := model.AsMatrix(samples)
	if err != nil {
		return nil, fmt.Errorf("optimizer: samples: %w", err)
	}

	positive := m.Derivatives(vData)
	negative := m.Derivatives(vModel)
	if err := positive.Schema().Validate(negative); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}

	grad := positive.Clone()
	for i, neg := range negative {
		blas32.Axpy(-1, model.Vector(model.Clone(neg.Value)), model.Vector(grad[i].Value))
	}
	return grad, nil
}
