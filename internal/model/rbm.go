package model

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Parameter names exposed by RBM.
const (
	WeightsParam     = "weights"
	VisibleBiasParam = "visible_bias"
	HiddenBiasParam  = "hidden_bias"
)

const initScale = 0.01

// RBM is a restricted Boltzmann machine with Bernoulli visible and hidden
// units.
type RBM struct {
	visible int
	hidden  int
	params  ParamSet
	rng     *rand.Rand
}

var _ Model = (*RBM)(nil)

// NewRBM constructs the model with small random weights and zero biases.
func NewRBM(visible, hidden int, seed int64) (*RBM, error) {
	if visible <= 0 {
		return nil, errors.New("model: visible units must be > 0")
	}
	if hidden <= 0 {
		hidden = 64
	}
	rng := rand.New(rand.NewSource(seed))
	weights := NewMatrix(visible, hidden)
	for i := range weights.Data {
		weights.Data[i] = float32(rng.NormFloat64() * initScale)
	}
	return &RBM{
		visible: visible,
		hidden:  hidden,
		params: ParamSet{
			{Name: WeightsParam, Value: weights},
			{Name: VisibleBiasParam, Value: NewMatrix(1, visible)},
			{Name: HiddenBiasParam, Value: NewMatrix(1, hidden)},
		},
		rng: rng,
	}, nil
}

// Visible returns the number of visible units.
func (m *RBM) Visible() int { return m.visible }

// Hidden returns the number of hidden units.
func (m *RBM) Hidden() int { return m.hidden }

func (m *RBM) Schema() Schema { return m.params.Schema() }

func (m *RBM) Params() ParamSet { return m.params }

func (m *RBM) weights() blas32.General { return m.params[0].Value }
func (m *RBM) visibleBias() blas32.General { return m.params[1].Value }
func (m *RBM) hiddenBias() blas32.General { return m.params[2].Value }

// Derivatives returns the batch-averaged derivatives of the energy with the
// hidden units marginalized to their conditional means.
func (m *RBM) Derivatives(v blas32.General) ParamSet {
	h := m.hiddenMeans(v)
	n := float32(v.Rows)
	out := m.params.ZerosLike()

	blas32.Gemm(blas.Trans, blas.NoTrans, -1/n, v, h, 0, out[0].Value)
	columnMeans(v, -1/n, out[1].Value.Data)
	columnMeans(h, -1/n, out[2].Value.Data)
	return out
}

// GibbsChain runs steps sweeps of h ~ p(h|v), v ~ p(v|h) starting from v.
func (m *RBM) GibbsChain(v blas32.General, steps int) blas32.General {
	state := Clone(v)
	for s := 0; s < steps; s++ {
		h := m.hiddenMeans(state)
		m.bernoulli(h)
		state = m.visibleMeans(h)
		m.bernoulli(state)
	}
	return state
}

// MarginalEnergy returns the free energy of each row,
// -a·v - Σ softplus(b + vW).
func (m *RBM) MarginalEnergy(v blas32.General) []float32 {
	pre := m.hiddenField(v)
	a := m.visibleBias().Data
	energies := make([]float32, v.Rows)
	for i := range energies {
		var e float64
		for j, x := range Row(v, i) {
			e -= float64(a[j] * x)
		}
		for _, x := range Row(pre, i) {
			e -= softplus(float64(x))
		}
		energies[i] = float32(e)
	}
	return energies
}

// Random returns a fair-coin binary matrix shaped like v.
func (m *RBM) Random(v blas32.General) blas32.General {
	out := NewMatrix(v.Rows, v.Cols)
	for i := range out.Data {
		if m.rng.Float32() < 0.5 {
			out.Data[i] = 1
		}
	}
	return out
}

func (m *RBM) hiddenField(v blas32.General) blas32.General {
	out := NewMatrix(v.Rows, m.hidden)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, v, m.weights(), 0, out)
	addRowVector(out, m.hiddenBias().Data)
	return out
}

func (m *RBM) hiddenMeans(v blas32.General) blas32.General {
	out := m.hiddenField(v)
	sigmoid(out.Data)
	return out
}

func (m *RBM) visibleMeans(h blas32.General) blas32.General {
	out := NewMatrix(h.Rows, m.visible)
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, h, m.weights(), 0, out)
	addRowVector(out, m.visibleBias().Data)
	sigmoid(out.Data)
	return out
}

// bernoulli replaces each probability with a {0,1} draw.
func (m *RBM) bernoulli(p blas32.General) {
	for i, x := range p.Data {
		if m.rng.Float32() < x {
			p.Data[i] = 1
		} else {
			p.Data[i] = 0
		}
	}
}

func addRowVector(g blas32.General, v []float32) {
	for i := 0; i < g.Rows; i++ {
		row := Row(g, i)
		for j := range row {
			row[j] += v[j]
		}
	}
}

func columnMeans(g blas32.General, scale float32, out []float32) {
	for i := 0; i < g.Rows; i++ {
		for j, x := range Row(g, i) {
			out[j] += x
		}
	}
	for j := range out {
		out[j] *= scale
	}
}

func sigmoid(xs []float32) {
	for i, x := range xs {
		xs[i] = float32(1 / (1 + math.Exp(-float64(x))))
	}
}

func softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}
