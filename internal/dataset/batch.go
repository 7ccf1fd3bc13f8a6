package dataset

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Mode selects a partition of a Source.
type Mode int

const (
	Train Mode = iota
	Validate
	numModes
)

func (m Mode) String() string {
	switch m {
	case Train:
		return "train"
	case Validate:
		return "validate"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ErrEmptyPartition indicates a partition yielded no minibatch at all.
var ErrEmptyPartition = errors.New("dataset: partition has no rows")

// Index records where each partition ends. Train covers rows
// [0, End[Train]) and Validate covers [End[Train], End[Validate]).
type Index struct {
	End [numModes]int
}

// Len returns the number of rows in the partition.
func (ix Index) Len(mode Mode) int {
	if mode == Train {
		return ix.End[Train]
	}
	return ix.End[mode] - ix.End[mode-1]
}

// Source hands out minibatches per partition. Get reports false once a
// partition is exhausted for the current epoch and rewinds that partition.
type Source interface {
	Get(mode Mode) (mat.Matrix, bool)
	Reset()
	Index() Index
}

// Options configures a Batch.
type Options struct {
	BatchSize     int
	TrainFraction float64
	Transform     Transform
}

const (
	defaultBatchSize     = 50
	defaultTrainFraction = 0.9
)

// Batch is an in-memory Source over a dense row matrix.
type Batch struct {
	data   *mat.Dense
	opts   Options
	index  Index
	cursor [numModes]int
}

var _ Source = (*Batch)(nil)

// NewBatch partitions data row-wise into training and validation rows.
func NewBatch(data *mat.Dense, opts Options) (*Batch, error) {
	if data == nil || data.IsEmpty() {
		return nil, errors.New("dataset: no rows to batch")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.TrainFraction == 0 {
		opts.TrainFraction = defaultTrainFraction
	}
	if opts.TrainFraction < 0 || opts.TrainFraction > 1 {
		return nil, fmt.Errorf("dataset: train fraction must be in (0, 1] (got %v)", opts.TrainFraction)
	}
	rows, _ := data.Dims()
	b := &Batch{data: data, opts: opts}
	b.index.End[Train] = int(opts.TrainFraction * float64(rows))
	b.index.End[Validate] = rows
	b.Reset()
	return b, nil
}

// Index returns the partition boundaries.
func (b *Batch) Index() Index { return b.index }

// Cols returns the row width.
func (b *Batch) Cols() int {
	_, c := b.data.Dims()
	return c
}

// Partition returns every row of a partition with the transform applied.
func (b *Batch) Partition(mode Mode) (mat.Matrix, bool) {
	lo, hi := b.bounds(mode)
	if lo == hi {
		return nil, false
	}
	return b.view(lo, hi), true
}

// Get returns the next minibatch of the partition.
func (b *Batch) Get(mode Mode) (mat.Matrix, bool) {
	lo, hi := b.bounds(mode)
	start := b.cursor[mode]
	if start >= hi {
		b.cursor[mode] = lo
		return nil, false
	}
	end := start + b.opts.BatchSize
	if end > hi {
		end = hi
	}
	b.cursor[mode] = end
	return b.view(start, end), true
}

// Reset rewinds every partition.
func (b *Batch) Reset() {
	for m := Mode(0); m < numModes; m++ {
		b.cursor[m], _ = b.bounds(m)
	}
}

func (b *Batch) bounds(mode Mode) (int, int) {
	if mode == Train {
		return 0, b.index.End[Train]
	}
	return b.index.End[mode-1], b.index.End[mode]
}

func (b *Batch) view(lo, hi int) mat.Matrix {
	_, c := b.data.Dims()
	rows := b.data.Slice(lo, hi, 0, c)
	if b.opts.Transform == nil {
		return rows
	}
	out := mat.DenseCopyOf(rows)
	out.Apply(func(_, _ int, v float64) float64 { return b.opts.Transform(v) }, out)
	return out
}
