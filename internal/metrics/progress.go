// Package metrics measures training progress: reconstruction error and
// energy distance on the validation partition, and minibatch throughput.
package metrics

import (
	"fmt"
	"math"
	"math/rand"

	"gibbs-forge/internal/dataset"
	"gibbs-forge/internal/mcmc"
	"gibbs-forge/internal/model"
)

const (
	defaultSkip        = 100
	defaultUpdateSteps = 10
)

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	// Skip is the reporting interval in minibatches.
	Skip int
	// UpdateSteps is the number of Gibbs steps taken from a random state
	// before the energy distance is measured.
	UpdateSteps int
	// Downsample caps the rows per side of each energy distance; 0 keeps
	// every row.
	Downsample int
	Seed       int64
}

// Progress is one evaluation over the validation partition.
type Progress struct {
	ReconstructionError float64
	EnergyDistance      float64
}

// Monitor periodically evaluates a model on the validation partition of a
// source.
type Monitor struct {
	src           dataset.Source
	opts          MonitorOptions
	rng           *rand.Rand
	numValidation int
}

// NewMonitor binds a monitor to the validation partition of src.
func NewMonitor(src dataset.Source, opts MonitorOptions) (*Monitor, error) {
	if opts.Skip <= 0 {
		opts.Skip = defaultSkip
	}
	if opts.UpdateSteps < 0 {
		return nil, fmt.Errorf("metrics: update steps must be >= 0 (got %d)", opts.UpdateSteps)
	}
	if opts.UpdateSteps == 0 {
		opts.UpdateSteps = defaultUpdateSteps
	}
	ix := src.Index()
	return &Monitor{
		src:           src,
		opts:          opts,
		rng:           rand.New(rand.NewSource(opts.Seed)),
		numValidation: ix.End[dataset.Validate] - ix.End[dataset.Train],
	}, nil
}

// Skip returns the reporting interval.
func (m *Monitor) Skip() int { return m.opts.Skip }

// ReconstructionError runs one Gibbs step from vData and returns the
// unnormalized squared error Σ(v_data - v_model)².
func (m *Monitor) ReconstructionError(mdl model.Model, vData any) (float32, error) {
	sampler, err := mcmc.New(mdl, vData)
	if err != nil {
		return 0, err
	}
	data := model.Clone(sampler.State())
	if err := sampler.Advance(1); err != nil {
		return 0, err
	}
	state := sampler.State()
	var sum float32
	for i := 0; i < data.Rows; i++ {
		recon := model.Row(state, i)
		for j, x := range model.Row(data, i) {
			d := x - recon[j]
			sum += d * d
		}
	}
	return sum, nil
}

// EnergyDistance draws a random model state shaped like vData, relaxes it for
// UpdateSteps Gibbs steps, resamples at unit temperature and returns
// rows · EnergyDistanceStatistic(vData, state). A single-row minibatch
// contributes zero.
func (m *Monitor) EnergyDistance(mdl model.Model, vData any) (float32, error) {
	data, err := model.AsMatrix(vData)
	if err != nil {
		return 0, fmt.Errorf("metrics: %w", err)
	}
	if data.Rows < 2 {
		return 0, nil
	}
	vModel := mdl.Random(data)
	sampler, err := mcmc.New(mdl, vModel)
	if err != nil {
		return 0, err
	}
	if err := sampler.Advance(m.opts.UpdateSteps); err != nil {
		return 0, err
	}
	if err := sampler.Resample(1); err != nil {
		return 0, err
	}
	var dist float32
	if m.opts.Downsample > 0 {
		dist, err = FastEnergyDistance(data, sampler.State(), m.opts.Downsample, m.rng)
	} else {
		dist, err = EnergyDistanceStatistic(data, sampler.State())
	}
	if err != nil {
		return 0, err
	}
	return float32(vModel.Rows) * dist, nil
}

// CheckProgress evaluates the whole validation partition when t is a
// multiple of Skip; otherwise it reports false. The reconstruction error is
// normalized as sqrt(Σ/N) and the energy distance as Σ/N, with N the
// validation row count.
func (m *Monitor) CheckProgress(mdl model.Model, t int) (Progress, bool, error) {
	if t%m.opts.Skip != 0 {
		return Progress{}, false, nil
	}
	if m.numValidation <= 0 {
		return Progress{}, false, fmt.Errorf("metrics: validate: %w", dataset.ErrEmptyPartition)
	}
	var recon, edist float32
	for {
		vData, ok := m.src.Get(dataset.Validate)
		if !ok {
			break
		}
		r, err := m.ReconstructionError(mdl, vData)
		if err != nil {
			return Progress{}, false, err
		}
		e, err := m.EnergyDistance(mdl, vData)
		if err != nil {
			return Progress{}, false, err
		}
		recon += r
		edist += e
	}
	n := float64(m.numValidation)
	return Progress{
		ReconstructionError: math.Sqrt(float64(recon) / n),
		EnergyDistance:      float64(edist) / n,
	}, true, nil
}
