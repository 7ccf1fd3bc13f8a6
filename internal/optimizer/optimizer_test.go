package optimizer

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/blas/blas32"

	"gibbs-forge/internal/model"
)

// meanModel has a single 1 x cols parameter whose derivative is the column
// mean of the batch, so Gradient(vData, vModel) = mean(vData) - mean(vModel).
type meanModel struct {
	params model.ParamSet
	// extra makes Derivatives report an additional block for multi-row
	// batches, which no well-formed model does.
	extra bool
}

func newMeanModel(cols int, init ...float32) *meanModel {
	w := model.NewMatrix(1, cols)
	copy(w.Data, init)
	return &meanModel{params: model.ParamSet{{Name: "w", Value: w}}}
}

func (m *meanModel) Schema() model.Schema { return m.params.Schema() }
func (m *meanModel) Params() model.ParamSet { return m.params }

func (m *meanModel) Derivatives(v blas32.General) model.ParamSet {
	out := m.params.ZerosLike()
	for i := 0; i < v.Rows; i++ {
		for j, x := range model.Row(v, i) {
			out[0].Value.Data[j] += x / float32(v.Rows)
		}
	}
	if m.extra && v.Rows > 1 {
		out = append(out, model.Param{Name: "extra", Value: model.NewMatrix(1, 1)})
	}
	return out
}

func (m *meanModel) GibbsChain(v blas32.General, steps int) blas32.General { return model.Clone(v) }
func (m *meanModel) MarginalEnergy(v blas32.General) []float32 { return make([]float32, v.Rows) }
func (m *meanModel) Random(v blas32.General) blas32.General { return model.NewMatrix(v.Rows, v.Cols) }

func weights(m *meanModel) []float32 { return m.params[0].Value.Data }

var (
	data    = [][]float64{{1, 2}, {3, 4}}
	samples = [][]float64{{0, 1}, {0, 1}}
)

func TestGradientIdenticalPhasesCancel(t *testing.T) {
	m := newMeanModel(2)
	grad, err := Gradient(m, data, data)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0}, grad[0].Value.Data)
}

func TestGradientIsPositiveMinusNegative(t *testing.T) {
	m := newMeanModel(2)
	grad, err := Gradient(m, data, samples)
	require.NoError(t, err)
	assert.Equal(t, "w", grad[0].Name)
	assert.InDeltaSlice(t, []float32{2, 2}, grad[0].Value.Data, 1e-6)
}

func TestGradientErrors(t *testing.T) {
	m := &meanModel{params: newMeanModel(2).params, extra: true}
	_, err := Gradient(m, data, [][]float64{{1, 1}})
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)

	_, err = Gradient(newMeanModel(2), "rows", samples)
	assert.True(t, errors.Is(err, model.ErrConversion))
	_, err = Gradient(newMeanModel(2), data, [][]float64{{1}, {}})
	assert.True(t, errors.Is(err, model.ErrConversion))
}

func TestZeroGradientIsFixedPoint(t *testing.T) {
	for _, kind := range Kinds {
		t.Run(kind, func(t *testing.T) {
			m := newMeanModel(2, 0.5, -1.5)
			opt, err := New(kind, m, Options{Stepsize: 0.1})
			require.NoError(t, err)
			for epoch := 0; epoch < 3; epoch++ {
				require.NoError(t, opt.Update(m, data, data, epoch))
			}
			assert.Equal(t, []float32{0.5, -1.5}, weights(m))
		})
	}
}

func TestSGDDecaysWithEpoch(t *testing.T) {
	m := newMeanModel(2)
	opt, err := NewSGD(m, Options{Stepsize: 0.1, LRDecay: 0.5})
	require.NoError(t, err)

	require.NoError(t, opt.Update(m, data, samples, 0))
	assert.InDeltaSlice(t, []float32{-0.2, -0.2}, weights(m), 1e-6)

	require.NoError(t, opt.Update(m, data, samples, 2))
	assert.InDeltaSlice(t, []float32{-0.25, -0.25}, weights(m), 1e-6)
	assert.InDeltaSlice(t, []float32{2, 2}, opt.Grad()[0].Value.Data, 1e-6)
}

func TestMomentumAccumulatesVelocity(t *testing.T) {
	m := newMeanModel(2)
	opt, err := NewMomentum(m, Options{Stepsize: 0.1, Momentum: 0.5})
	require.NoError(t, err)
	delta := &opt.Delta()[0].Value.Data[0]

	require.NoError(t, opt.Update(m, data, samples, 0))
	require.NoError(t, opt.Update(m, data, samples, 0))
	// δ₁ = 2, δ₂ = 2 + 0.5·2 = 3; θ = -0.1·2 - 0.1·3.
	assert.InDeltaSlice(t, []float32{3, 3}, opt.Delta()[0].Value.Data, 1e-6)
	assert.InDeltaSlice(t, []float32{-0.5, -0.5}, weights(m), 1e-6)
	assert.Same(t, delta, &opt.Delta()[0].Value.Data[0], "velocity buffer must be updated in place")
}

func TestRMSPropStep(t *testing.T) {
	m := newMeanModel(2)
	opt, err := NewRMSProp(m, Options{Stepsize: 0.1, MeanSquareWeight: 0.9})
	require.NoError(t, err)

	require.NoError(t, opt.Update(m, data, samples, 7))
	s := float32(0.1 * 4)
	want := -0.1 * 2 / float32(math.Sqrt(float64(s+epsilon)))
	assert.InDeltaSlice(t, []float32{s, s}, opt.MeanSquareGrad()[0].Value.Data, 1e-6)
	assert.InDeltaSlice(t, []float32{want, want}, weights(m), 1e-5)
}

func TestRMSPropMeanSquareApproachesSquaredGradient(t *testing.T) {
	m := newMeanModel(2)
	opt, err := NewRMSProp(m, Options{})
	require.NoError(t, err)
	buf := &opt.MeanSquareGrad()[0].Value.Data[0]

	prev := float32(0)
	for i := 0; i < 200; i++ {
		require.NoError(t, opt.Update(m, data, samples, 0))
		cur := opt.MeanSquareGrad()[0].Value.Data[0]
		require.GreaterOrEqual(t, cur, prev-1e-6)
		require.LessOrEqual(t, cur, float32(4)+1e-4)
		prev = cur
	}
	assert.InDelta(t, 4, prev, 1e-3)
	assert.Same(t, buf, &opt.MeanSquareGrad()[0].Value.Data[0])
}

func TestAdamStep(t *testing.T) {
	m := newMeanModel(2)
	opt, err := NewAdam(m, Options{Stepsize: 0.1, MeanWeight: 0.9, MeanSquareWeight: 0.9})
	require.NoError(t, err)

	require.NoError(t, opt.Update(m, data, samples, 0))
	// m = 0.2, s = 0.4; θ = -(0.1/0.1)·0.2/√(0.4/0.1+ε) ≈ -0.1.
	assert.InDeltaSlice(t, []float32{0.2, 0.2}, opt.MeanGrad()[0].Value.Data, 1e-6)
	assert.InDeltaSlice(t, []float32{0.4, 0.4}, opt.MeanSquareGrad()[0].Value.Data, 1e-6)
	assert.InDeltaSlice(t, []float32{-0.1, -0.1}, weights(m), 1e-5)

	prev := opt.MeanSquareGrad()[0].Value.Data[0]
	for i := 0; i < 100; i++ {
		require.NoError(t, opt.Update(m, data, samples, 0))
		cur := opt.MeanSquareGrad()[0].Value.Data[0]
		require.GreaterOrEqual(t, cur, prev-1e-6)
		prev = cur
	}
	assert.InDelta(t, 4, prev, 1e-3)
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New("lbfgs", newMeanModel(1), Options{})
	assert.True(t, errors.Is(err, ErrUnknownOptimizer))
}

func TestUpdateRejectsForeignModel(t *testing.T) {
	opt, err := NewSGD(newMeanModel(2), Options{})
	require.NoError(t, err)
	err = opt.Update(newMeanModel(3), [][]float64{{1, 2, 3}}, [][]float64{{1, 2, 3}}, 0)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestNewRejectsStridedParams(t *testing.T) {
	m := &meanModel{params: model.ParamSet{{
		Name:  "w",
		Value: blas32.General{Rows: 2, Cols: 1, Stride: 2, Data: make([]float32, 4)},
	}}}
	_, err := NewAdam(m, Options{})
	assert.Error(t, err)
}

func TestDefaultOptions(t *testing.T) {
	o := Options{Momentum: 0.3}.withDefaults()
	assert.Equal(t, float32(0.001), o.Stepsize)
	assert.Equal(t, float32(0.5), o.LRDecay)
	assert.Equal(t, float32(0.3), o.Momentum)
	assert.Equal(t, float32(0.9), o.MeanWeight)
	assert.Equal(t, float32(0.9), o.MeanSquareWeight)
}
