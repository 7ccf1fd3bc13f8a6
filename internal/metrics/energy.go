package metrics

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/blas/blas32"

	"gibbs-forge/internal/model"
)

// ErrTooFewSamples indicates a sample set too small for the energy distance.
var ErrTooFewSamples = errors.New("metrics: energy distance needs at least 2 rows per sample")

// EnergyDistanceStatistic estimates the two-sample energy distance
// 2·d(a,b) - d(a,a) - d(b,b), where d is the mean Euclidean distance over
// ordered pairs. The within-sample sums run over every pair including i == j
// but are divided by n²-n; the cross term is divided by n·m. All arithmetic
// is float32. Cost is O((n+m)²).
func EnergyDistanceStatistic(a, b blas32.General) (float32, error) {
	if a.Rows < 2 || b.Rows < 2 {
		return 0, fmt.Errorf("%w (got %d and %d)", ErrTooFewSamples, a.Rows, b.Rows)
	}
	if a.Cols != b.Cols {
		return 0, fmt.Errorf("metrics: energy distance over %d and %d columns", a.Cols, b.Cols)
	}
	n, m := float32(a.Rows), float32(b.Rows)
	d1 := pairwiseSum(a, a) / (n*n - n)
	d2 := pairwiseSum(b, b) / (m*m - m)
	d3 := pairwiseSum(a, b) / (n * m)
	return 2*d3 - d2 - d1, nil
}

// FastEnergyDistance evaluates EnergyDistanceStatistic on random row subsets
// of at most downsample rows from each side. A non-positive downsample uses
// every row.
func FastEnergyDistance(a, b blas32.General, downsample int, rng *rand.Rand) (float32, error) {
	return EnergyDistanceStatistic(subsample(a, downsample, rng), subsample(b, downsample, rng))
}

func subsample(g blas32.General, size int, rng *rand.Rand) blas32.General {
	if size <= 0 || size >= g.Rows {
		return g
	}
	out := model.NewMatrix(size, g.Cols)
	for i, src := range rng.Perm(g.Rows)[:size] {
		copy(model.Row(out, i), model.Row(g, src))
	}
	return out
}

func pairwiseSum(x, y blas32.General) float32 {
	diff := make([]float32, x.Cols)
	v := blas32.Vector{N: x.Cols, Data: diff, Inc: 1}
	var sum float32
	for i := 0; i < x.Rows; i++ {
		xi := model.Row(x, i)
		for j := 0; j < y.Rows; j++ {
			for k, yk := range model.Row(y, j) {
				diff[k] = xi[k] - yk
			}
			sum += blas32.Nrm2(v)
		}
	}
	return sum
}
