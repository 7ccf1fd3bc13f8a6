package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"gibbs-forge/internal/config"
	"gibbs-forge/internal/dataset"
	"gibbs-forge/internal/metrics"
	"gibbs-forge/internal/model"
	"gibbs-forge/internal/optimizer"
	"gibbs-forge/internal/trainer"
)

const finalDownsample = 100

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	csvPath := flag.String("csv", "", "Override data source with a CSV file")
	hidden := flag.Int("hidden", 0, "Number of hidden units")
	method := flag.String("method", "", "Training method (cd or pcd)")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	mcsteps := flag.Int("mcsteps", 0, "Gibbs steps per update")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	skip := flag.Int("skip", 0, "Report progress every N minibatches")
	opt := flag.String("optimizer", "", "Optimizer (sgd, momentum, rmsprop, adam)")
	stepsize := flag.Float64("stepsize", 0, "Learning rate")
	seed := flag.Int64("seed", 0, "PRNG seed")

	flag.Parse()

	runID := uuid.New().String()
	log.SetPrefix("[" + runID[:8] + "] ")
	log.Printf("run=%s config=%s", runID, *cfgPath)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		CSV:         *csvPath,
		HiddenUnits: *hidden,
		Method:      *method,
		Epochs:      *epochs,
		MCSteps:     *mcsteps,
		BatchSize:   *batchSize,
		Skip:        *skip,
		Optimizer:   *opt,
		Stepsize:    *stepsize,
		Seed:        *seed,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	data, err := loadData(ctx, cfg)
	if err != nil {
		log.Fatalf("load data: %v", err)
	}
	rows, cols := data.Dims()
	log.Printf("rows=%d cols=%d", rows, cols)

	transform, err := dataset.ParseTransform(cfg.Data.Transform)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	batch, err := dataset.NewBatch(data, dataset.Options{
		BatchSize:     cfg.Data.BatchSize,
		TrainFraction: cfg.Data.TrainFraction,
		Transform:     transform,
	})
	if err != nil {
		log.Fatalf("partition data: %v", err)
	}

	rbm, err := model.NewRBM(batch.Cols(), cfg.Model.HiddenUnits, cfg.Seed)
	if err != nil {
		log.Fatalf("build model: %v", err)
	}
	updater, err := optimizer.New(cfg.Optimizer.Kind, rbm, optimizer.Options{
		Stepsize:         cfg.Optimizer.Stepsize,
		LRDecay:          cfg.Optimizer.LRDecay,
		Momentum:         cfg.Optimizer.Momentum,
		MeanWeight:       cfg.Optimizer.MeanWeight,
		MeanSquareWeight: cfg.Optimizer.MeanSquareWeight,
	})
	if err != nil {
		log.Fatalf("build optimizer: %v", err)
	}

	runCfg := trainer.RunConfig{
		Model:       rbm,
		Source:      batch,
		Optimizer:   updater,
		Method:      cfg.Training.Method,
		Epochs:      cfg.Training.Epochs,
		MCSteps:     cfg.Training.MCSteps,
		Skip:        cfg.Training.Skip,
		UpdateSteps: cfg.Training.UpdateSteps,
		Downsample:  cfg.Training.Downsample,
		Temperature: cfg.Training.Temperature,
		Convergence: cfg.Training.Convergence,
		Seed:        cfg.Seed,
	}

	if err := trainer.Train(ctx, runCfg); err != nil {
		log.Fatalf("training failed: %v", err)
	}

	if err := report(rbm, batch, cfg); err != nil {
		log.Fatalf("final evaluation failed: %v", err)
	}
}

func loadData(ctx context.Context, cfg *config.Config) (*mat.Dense, error) {
	if cfg.Data.CSV != "" {
		return dataset.ReadCSV(cfg.Data.CSV)
	}
	return dataset.LoadShards(ctx, dataset.ShardOptions{
		Roots:      cfg.Data.ShardRoots,
		Grid:       cfg.Data.Grid,
		NumWorkers: cfg.Data.NumWorkers,
		Seed:       cfg.Seed,
	})
}

// report scores the trained model once over the full validation partition.
func report(rbm *model.RBM, batch *dataset.Batch, cfg *config.Config) error {
	batch.Reset()
	monitor, err := metrics.NewMonitor(batch, metrics.MonitorOptions{
		Skip:        1,
		UpdateSteps: cfg.Training.UpdateSteps,
		Downsample:  finalDownsample,
		Seed:        cfg.Seed,
	})
	if err != nil {
		return err
	}
	prog, _, err := monitor.CheckProgress(rbm, 0)
	if err != nil {
		return err
	}
	log.Printf("final reconstruction_error=%.6f energy_distance=%.6f",
		prog.ReconstructionError, prog.EnergyDistance)
	return nil
}
