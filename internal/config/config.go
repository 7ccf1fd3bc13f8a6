package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Data      Data      `yaml:"data"`
	Model     Model     `yaml:"model"`
	Training  Training  `yaml:"training"`
	Optimizer Optimizer `yaml:"optimizer"`
	Seed      int64     `yaml:"seed"`
}

// Data selects and partitions the input rows. Exactly one of CSV and
// ShardRoots must be set.
type Data struct {
	CSV           string   `yaml:"csv"`
	ShardRoots    []string `yaml:"shard_roots"`
	Grid          int      `yaml:"grid"`
	Transform     string   `yaml:"transform"`
	TrainFraction float64  `yaml:"train_fraction"`
	BatchSize     int      `yaml:"batch_size"`
	NumWorkers    int      `yaml:"num_workers"`
}

// Model sizes the RBM; the visible layer follows the data width.
type Model struct {
	HiddenUnits int `yaml:"hidden_units"`
}

// Training configures the sampling loop and progress reports.
type Training struct {
	Method      string  `yaml:"method"`
	Epochs      int     `yaml:"epochs"`
	MCSteps     int     `yaml:"mcsteps"`
	Skip        int     `yaml:"skip"`
	UpdateSteps int     `yaml:"update_steps"`
	Downsample  int     `yaml:"downsample"`
	Temperature float32 `yaml:"temperature"`
	Convergence float64 `yaml:"convergence"`
}

// Optimizer selects the update rule and its hyperparameters.
type Optimizer struct {
	Kind             string  `yaml:"kind"`
	Stepsize         float32 `yaml:"stepsize"`
	LRDecay          float32 `yaml:"lr_decay"`
	Momentum         float32 `yaml:"momentum"`
	MeanWeight       float32 `yaml:"mean_weight"`
	MeanSquareWeight float32 `yaml:"mean_square_weight"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	CSV         string
	HiddenUnits int
	Method      string
	Epochs      int
	MCSteps     int
	BatchSize   int
	Skip        int
	Optimizer   string
	Stepsize    float64
	Seed        int64
}

var (
	methods    = []string{"cd", "pcd"}
	optimizers = []string{"sgd", "momentum", "rmsprop", "adam"}
)

// Load reads a Config from YAML. The result is not validated so that
// overrides can be applied first.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML, rejecting unknown keys.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.CSV != "" {
		c.Data.CSV = o.CSV
		c.Data.ShardRoots = nil
	}
	if o.HiddenUnits > 0 {
		c.Model.HiddenUnits = o.HiddenUnits
	}
	if o.Method != "" {
		c.Training.Method = o.Method
	}
	if o.Epochs > 0 {
		c.Training.Epochs = o.Epochs
	}
	if o.MCSteps > 0 {
		c.Training.MCSteps = o.MCSteps
	}
	if o.BatchSize > 0 {
		c.Data.BatchSize = o.BatchSize
	}
	if o.Skip > 0 {
		c.Training.Skip = o.Skip
	}
	if o.Optimizer != "" {
		c.Optimizer.Kind = o.Optimizer
	}
	if o.Stepsize > 0 {
		c.Optimizer.Stepsize = float32(o.Stepsize)
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
}

// Validate verifies the config is runnable and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Data.CSV == "" && len(c.Data.ShardRoots) == 0 {
		return errors.New("either data.csv or data.shard_roots must be set")
	}
	if c.Data.CSV != "" && len(c.Data.ShardRoots) > 0 {
		return errors.New("data.csv and data.shard_roots are mutually exclusive")
	}
	if c.Data.TrainFraction == 0 {
		c.Data.TrainFraction = 0.9
	}
	if c.Data.TrainFraction <= 0 || c.Data.TrainFraction >= 1 {
		return fmt.Errorf("train_fraction must be in (0, 1) (got %v)", c.Data.TrainFraction)
	}
	if c.Data.BatchSize <= 0 {
		c.Data.BatchSize = 50
	}
	if c.Data.NumWorkers <= 0 {
		c.Data.NumWorkers = 1
	}
	if c.Model.HiddenUnits <= 0 {
		return fmt.Errorf("hidden_units must be > 0 (got %d)", c.Model.HiddenUnits)
	}
	if c.Training.Method == "" {
		c.Training.Method = "cd"
	}
	if !slices.Contains(methods, c.Training.Method) {
		return fmt.Errorf("method must be one of %v (got %q)", methods, c.Training.Method)
	}
	if c.Training.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Training.Epochs)
	}
	if c.Training.MCSteps <= 0 {
		c.Training.MCSteps = 1
	}
	if c.Training.Skip <= 0 {
		c.Training.Skip = 100
	}
	if c.Training.UpdateSteps <= 0 {
		c.Training.UpdateSteps = 10
	}
	if c.Training.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0 (got %v)", c.Training.Temperature)
	}
	if c.Optimizer.Kind == "" {
		c.Optimizer.Kind = "sgd"
	}
	if !slices.Contains(optimizers, c.Optimizer.Kind) {
		return fmt.Errorf("optimizer must be one of %v (got %q)", optimizers, c.Optimizer.Kind)
	}
	if c.Optimizer.Stepsize < 0 {
		return fmt.Errorf("stepsize must be >= 0 (got %v)", c.Optimizer.Stepsize)
	}
	return nil
}
