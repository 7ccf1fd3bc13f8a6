package mcmc

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/mat"

	"gibbs-forge/internal/dataset"
	"gibbs-forge/internal/model"
)

// stubModel flips every unit once per Gibbs step and reports energies from a
// fixed table indexed by the first column of each row.
type stubModel struct {
	energy     map[float32]float32
	chainCalls []int
}

func (m *stubModel) Schema() model.Schema { return nil }
func (m *stubModel) Params() model.ParamSet { return nil }
func (m *stubModel) Derivatives(v blas32.General) model.ParamSet { return nil }
func (m *stubModel) Random(v blas32.General) blas32.General { return model.NewMatrix(v.Rows, v.Cols) }

func (m *stubModel) GibbsChain(v blas32.General, steps int) blas32.General {
	m.chainCalls = append(m.chainCalls, steps)
	out := model.Clone(v)
	for s := 0; s < steps; s++ {
		for i, x := range out.Data {
			out.Data[i] = 1 - x
		}
	}
	return out
}

func (m *stubModel) MarginalEnergy(v blas32.General) []float32 {
	out := make([]float32, v.Rows)
	for i := range out {
		out[i] = m.energy[model.Row(v, i)[0]]
	}
	return out
}

func rows(t *testing.T, in [][]float64) blas32.General {
	t.Helper()
	g, err := model.AsMatrix(in)
	require.NoError(t, err)
	return g
}

func TestNewRejectsUnconvertibleBatch(t *testing.T) {
	_, err := New(&stubModel{}, [][]float64{{1, 2}, {3}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConversion))
}

func TestNewCopiesBatch(t *testing.T) {
	batch := [][]float64{{1, 0}, {0, 1}}
	s, err := New(&stubModel{}, batch)
	require.NoError(t, err)
	batch[0][0] = 7
	assert.Equal(t, []float32{1, 0, 0, 1}, s.State().Data)
}

func TestAdvanceZeroStepsIsIdentity(t *testing.T) {
	m := &stubModel{}
	s, err := New(m, [][]float64{{1, 0, 1}, {0, 0, 1}})
	require.NoError(t, err)
	before := model.Clone(s.State())

	require.NoError(t, s.Advance(0))
	assert.Equal(t, before.Data, s.State().Data)
	assert.Empty(t, m.chainCalls)
}

func TestAdvanceRunsChain(t *testing.T) {
	m := &stubModel{}
	s, err := New(m, [][]float64{{1, 0}})
	require.NoError(t, err)

	require.NoError(t, s.Advance(3))
	assert.Equal(t, []int{3}, m.chainCalls)
	assert.Equal(t, []float32{0, 1}, s.State().Data)

	err = s.Advance(-1)
	assert.True(t, errors.Is(err, ErrInvalidSteps))
}

func TestResampleKeepsRowsFromInput(t *testing.T) {
	m := &stubModel{energy: map[float32]float32{0: 1, 1: 0.5, 2: 2, 3: -1}}
	input := [][]float64{{0, 10}, {1, 11}, {2, 12}, {3, 13}}
	s, err := New(m, input)
	require.NoError(t, err)

	for round := 0; round < 5; round++ {
		require.NoError(t, s.Resample(1))
		state := s.State()
		require.Equal(t, len(input), state.Rows)
		for i := 0; i < state.Rows; i++ {
			row := model.Row(state, i)
			k := int(row[0])
			require.True(t, k >= 0 && k < len(input), "row %v was synthesized", row)
			assert.Equal(t, float32(input[k][1]), row[1])
		}
	}
}

func TestResampleConcentratesOnLowestEnergy(t *testing.T) {
	m := &stubModel{energy: map[float32]float32{0: 0, 1: 1000, 2: 1000}}
	s, err := New(m, [][]float64{{0, 5}, {1, 6}, {2, 7}})
	require.NoError(t, err)

	require.NoError(t, s.Resample(1))
	for i := 0; i < 3; i++ {
		assert.Equal(t, []float32{0, 5}, model.Row(s.State(), i))
	}
}

func TestResampleRejectsNonPositiveTemperature(t *testing.T) {
	s, err := New(&stubModel{}, [][]float64{{0}})
	require.NoError(t, err)
	for _, temp := range []float32{0, -1, float32(math.NaN())} {
		assert.True(t, errors.Is(s.Resample(temp), ErrInvalidTemperature))
	}
}

func TestAdvanceResample(t *testing.T) {
	m := &stubModel{energy: map[float32]float32{0: 0, 1: 0}}
	s, err := New(m, [][]float64{{0, 1}, {1, 0}})
	require.NoError(t, err)

	require.NoError(t, s.AdvanceResample(2, 1))
	assert.Equal(t, []int{1, 1}, m.chainCalls)
	assert.Equal(t, 2, s.State().Rows)
}

func TestFromSourceRewinds(t *testing.T) {
	data := mat.NewDense(4, 2, []float64{1, 1, 2, 2, 3, 3, 4, 4})
	src, err := dataset.NewBatch(data, dataset.Options{BatchSize: 2, TrainFraction: 0.5})
	require.NoError(t, err)

	s, err := FromSource(&stubModel{}, src)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 2, 2}, s.State().Data)

	first, ok := src.Get(dataset.Train)
	require.True(t, ok)
	assert.Equal(t, 1.0, first.At(0, 0))
}

func TestImportanceWeights(t *testing.T) {
	w := ImportanceWeights([]float32{-3, -1, -3, 5}, 2)
	require.Len(t, w, 4)

	sum := 0.0
	for _, x := range w {
		assert.GreaterOrEqual(t, x, 0.0)
		sum += x
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.InDelta(t, w[0], w[2], 1e-12)
	assert.Greater(t, w[0], w[1])
	assert.Greater(t, w[1], w[3])
	assert.InDelta(t, math.Exp(-1), w[1]/w[0], 1e-6)

	uniform := ImportanceWeights([]float32{4, 4, 4, 4}, 1)
	for _, x := range uniform {
		assert.InDelta(t, 0.25, x, 1e-9)
	}
	assert.Nil(t, ImportanceWeights(nil, 1))
}
