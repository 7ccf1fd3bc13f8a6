package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroRBM(t *testing.T, visible, hidden int) *RBM {
	t.Helper()
	m, err := NewRBM(visible, hidden, 1)
	require.NoError(t, err)
	for i := range m.weights().Data {
		m.weights().Data[i] = 0
	}
	return m
}

func TestNewRBMSchema(t *testing.T) {
	m, err := NewRBM(6, 4, 7)
	require.NoError(t, err)
	want := Schema{
		{Name: WeightsParam, Rows: 6, Cols: 4},
		{Name: VisibleBiasParam, Rows: 1, Cols: 6},
		{Name: HiddenBiasParam, Rows: 1, Cols: 4},
	}
	assert.True(t, want.Equal(m.Schema()))
	assert.NoError(t, want.Validate(m.Params()))

	_, err = NewRBM(0, 4, 7)
	assert.Error(t, err)
}

func TestDerivativesAtZeroWeights(t *testing.T) {
	m := zeroRBM(t, 3, 2)
	v, err := AsMatrix([][]float64{{1, 0, 1}, {1, 1, 0}})
	require.NoError(t, err)

	d := m.Derivatives(v)
	require.NoError(t, m.Schema().Validate(d))

	w, _ := d.Get(WeightsParam)
	// hidden means are 0.5 everywhere, so dW[i][j] = -mean(v_i) * 0.5.
	wantRows := []float32{-0.5, -0.25, -0.25}
	for i, want := range wantRows {
		for _, got := range Row(w, i) {
			assert.InDelta(t, want, got, 1e-6)
		}
	}
	a, _ := d.Get(VisibleBiasParam)
	assert.InDeltaSlice(t, []float32{-1, -0.5, -0.5}, a.Data, 1e-6)
	b, _ := d.Get(HiddenBiasParam)
	assert.InDeltaSlice(t, []float32{-0.5, -0.5}, b.Data, 1e-6)
}

func TestGibbsChainZeroStepsCopies(t *testing.T) {
	m, err := NewRBM(3, 2, 3)
	require.NoError(t, err)
	v, err := AsMatrix([][]float32{{1, 0, 1}, {0, 0, 1}})
	require.NoError(t, err)

	out := m.GibbsChain(v, 0)
	assert.Equal(t, v.Data, out.Data)
	out.Data[0] = 42
	assert.Equal(t, float32(1), v.Data[0], "chain must not alias its input")
}

func TestGibbsChainProducesBinaryStates(t *testing.T) {
	m, err := NewRBM(5, 3, 11)
	require.NoError(t, err)
	v := m.Random(NewMatrix(8, 5))
	out := m.GibbsChain(v, 3)
	require.Equal(t, 8, out.Rows)
	require.Equal(t, 5, out.Cols)
	for _, x := range out.Data {
		assert.True(t, x == 0 || x == 1, "unexpected unit value %v", x)
	}
}

func TestMarginalEnergyZeroParams(t *testing.T) {
	m := zeroRBM(t, 4, 3)
	v, err := AsMatrix([][]float64{{0, 1, 0, 1}, {1, 1, 1, 1}})
	require.NoError(t, err)
	want := float32(-3 * math.Ln2)
	for _, e := range m.MarginalEnergy(v) {
		assert.InDelta(t, want, e, 1e-5)
	}

	m.visibleBias().Data[1] = 2
	e := m.MarginalEnergy(v)
	assert.InDelta(t, want-2, e[0], 1e-5)
	assert.InDelta(t, want-2, e[1], 1e-5)
}
