// Package mcmc implements the sequential Monte Carlo sampler that drives a
// model's Gibbs chain and performs importance-weighted resampling of the
// chain state.
package mcmc

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/stat/distuv"

	"gibbs-forge/internal/dataset"
	"gibbs-forge/internal/model"
)

var (
	// ErrInvalidSteps indicates a negative number of Gibbs steps.
	ErrInvalidSteps = errors.New("mcmc: steps must be >= 0")
	// ErrInvalidTemperature indicates a non-positive resampling temperature.
	ErrInvalidTemperature = errors.New("mcmc: temperature must be > 0")
)

// SequentialMC owns a chain state and advances it with the model's Gibbs
// transition. It never reads or writes model parameters.
type SequentialMC struct {
	model model.Model
	state blas32.General
}

// New seeds a sampler with a float32 copy of batch. See model.AsMatrix for the
// accepted batch types.
func New(m model.Model, batch any) (*SequentialMC, error) {
	state, err := model.AsMatrix(batch)
	if err != nil {
		return nil, fmt.Errorf("mcmc: initialize: %w", err)
	}
	return &SequentialMC{model: m, state: state}, nil
}

// FromSource seeds a sampler from the next training minibatch of src and
// rewinds the source.
func FromSource(m model.Model, src dataset.Source) (*SequentialMC, error) {
	batch, ok := src.Get(dataset.Train)
	if !ok {
		return nil, fmt.Errorf("mcmc: %w", dataset.ErrEmptyPartition)
	}
	s, err := New(m, batch)
	src.Reset()
	return s, err
}

// State returns the live chain state.
func (s *SequentialMC) State() blas32.General {
	return s.state
}

// Advance replaces the state with the model's Gibbs chain after steps sweeps.
func (s *SequentialMC) Advance(steps int) error {
	if steps < 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidSteps, steps)
	}
	if steps == 0 {
		return nil
	}
	s.state = s.model.GibbsChain(s.state, steps)
	return nil
}

// AdvanceResample advances one sweep at a time and resamples at temperature
// after every sweep.
func (s *SequentialMC) AdvanceResample(steps int, temperature float32) error {
	if steps < 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidSteps, steps)
	}
	for i := 0; i < steps; i++ {
		if err := s.Advance(1); err != nil {
			return err
		}
		if err := s.Resample(temperature); err != nil {
			return err
		}
	}
	return nil
}

// Resample draws len(state) rows with replacement, weighting each row by its
// Boltzmann factor at temperature, and replaces the state with the draw.
func (s *SequentialMC) Resample(temperature float32) error {
	if !(temperature > 0) {
		return fmt.Errorf("%w (got %v)", ErrInvalidTemperature, temperature)
	}
	weights := ImportanceWeights(s.model.MarginalEnergy(s.state), temperature)
	for i, w := range weights {
		if w < 0 {
			weights[i] = 0
		}
	}

	// A nil source draws from the global math/rand stream.
	dist := distuv.NewCategorical(weights, nil)
	next := model.NewMatrix(s.state.Rows, s.state.Cols)
	for i := 0; i < next.Rows; i++ {
		copy(model.Row(next, i), model.Row(s.state, int(dist.Rand())))
	}
	s.state = next
	return nil
}
