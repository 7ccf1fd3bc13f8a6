// Package trainer runs contrastive divergence training: it pulls minibatches
// from a source, samples the model's Gibbs chain, hands both to an optimizer
// and reports progress on the validation partition.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/mat"

	"gibbs-forge/internal/dataset"
	"gibbs-forge/internal/mcmc"
	"gibbs-forge/internal/metrics"
	"gibbs-forge/internal/model"
	"gibbs-forge/internal/optimizer"
)

// Training methods accepted by Train.
const (
	MethodCD  = "cd"
	MethodPCD = "pcd"
)

// ErrUnknownMethod indicates an unrecognized training method.
var ErrUnknownMethod = errors.New("trainer: unknown method")

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Model     model.Model
	Source    dataset.Source
	Optimizer optimizer.Optimizer

	Method  string
	Epochs  int
	MCSteps int
	// Skip is the progress reporting interval in minibatches.
	Skip        int
	UpdateSteps int
	Downsample  int
	// Temperature enables resampling after every Gibbs step of the
	// persistent chain when > 0. Ignored by plain CD.
	Temperature float32
	// Convergence is accepted but not read; every epoch always runs.
	Convergence float64
	Seed        int64

	// Logger receives progress lines. Defaults to log.Default().
	Logger *log.Logger
}

// Train dispatches on cfg.Method.
func Train(ctx context.Context, cfg RunConfig) error {
	switch cfg.Method {
	case MethodCD, "":
		return ContrastiveDivergence(ctx, cfg)
	case MethodPCD:
		return PersistentContrastiveDivergence(ctx, cfg)
	default:
		return fmt.Errorf("%w %q", ErrUnknownMethod, cfg.Method)
	}
}

// ContrastiveDivergence restarts the chain from the data minibatch before
// every update.
func ContrastiveDivergence(ctx context.Context, cfg RunConfig) error {
	r, err := newRun(cfg)
	if err != nil {
		return err
	}
	return r.loop(ctx, func(vData mat.Matrix) (blas32.General, error) {
		sampler, err := mcmc.New(r.cfg.Model, vData)
		if err != nil {
			return blas32.General{}, err
		}
		r.sampler = sampler
		if err := sampler.Advance(r.cfg.MCSteps); err != nil {
			return blas32.General{}, err
		}
		return sampler.State(), nil
	})
}

// PersistentContrastiveDivergence keeps one chain, seeded from the first
// training minibatch, alive across every minibatch and epoch.
func PersistentContrastiveDivergence(ctx context.Context, cfg RunConfig) error {
	r, err := newRun(cfg)
	if err != nil {
		return err
	}
	return r.loop(ctx, func(mat.Matrix) (blas32.General, error) {
		var err error
		if r.cfg.Temperature > 0 {
			err = r.sampler.AdvanceResample(r.cfg.MCSteps, r.cfg.Temperature)
		} else {
			err = r.sampler.Advance(r.cfg.MCSteps)
		}
		if err != nil {
			return blas32.General{}, err
		}
		return r.sampler.State(), nil
	})
}

type run struct {
	cfg     RunConfig
	sampler *mcmc.SequentialMC
	monitor *metrics.Monitor
	logger  *log.Logger
	window  metrics.Window
}

func newRun(cfg RunConfig) (*run, error) {
	if cfg.Model == nil || cfg.Source == nil || cfg.Optimizer == nil {
		return nil, errors.New("trainer: model, source and optimizer are required")
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("trainer: epochs must be > 0 (got %d)", cfg.Epochs)
	}
	if cfg.MCSteps < 0 {
		return nil, fmt.Errorf("trainer: mcsteps must be >= 0 (got %d)", cfg.MCSteps)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	sampler, err := mcmc.FromSource(cfg.Model, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("trainer: seed sampler: %w", err)
	}
	monitor, err := metrics.NewMonitor(cfg.Source, metrics.MonitorOptions{
		Skip:        cfg.Skip,
		UpdateSteps: cfg.UpdateSteps,
		Downsample:  cfg.Downsample,
		Seed:        cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	return &run{cfg: cfg, sampler: sampler, monitor: monitor, logger: cfg.Logger}, nil
}

// loop walks epochs × minibatches. chain turns a data minibatch into the
// model-side samples for the negative phase.
func (r *run) loop(ctx context.Context, chain func(mat.Matrix) (blas32.General, error)) error {
	for epoch := 0; epoch < r.cfg.Epochs; epoch++ {
		for t := 0; ; t++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			vData, ok := r.cfg.Source.Get(dataset.Train)
			if !ok {
				break
			}

			start := time.Now()
			vModel, err := chain(vData)
			if err != nil {
				return fmt.Errorf("trainer: epoch %d batch %d: %w", epoch, t, err)
			}
			sampled := time.Now()
			if err := r.cfg.Optimizer.Update(r.cfg.Model, vData, vModel, epoch); err != nil {
				return fmt.Errorf("trainer: epoch %d batch %d: %w", epoch, t, err)
			}
			rows, _ := vData.Dims()
			r.window.Record(rows, sampled.Sub(start), time.Since(sampled))

			prog, ok, err := r.monitor.CheckProgress(r.cfg.Model, t)
			if err != nil {
				return err
			}
			if ok {
				r.logger.Printf("Batch %d: Reconstruction Error: %.6f, Energy Distance: %.6f",
					t, prog.ReconstructionError, prog.EnergyDistance)
			}
		}

		prog, _, err := r.monitor.CheckProgress(r.cfg.Model, 0)
		if err != nil {
			return err
		}
		r.logger.Printf("End of epoch %d: ", epoch)
		r.logger.Printf("-Reconstruction Error: %.6f, Energy Distance: %.6f",
			prog.ReconstructionError, prog.EnergyDistance)

		snap := r.window.Snapshot()
		r.logger.Printf("epoch=%d batches=%d rows_per_sec=%.1f sample_ms=%.2f update_ms=%.2f",
			epoch, snap.Batches, snap.RowsPerSec, snap.AvgSampleMS, snap.AvgUpdateMS)
	}
	return nil
}
