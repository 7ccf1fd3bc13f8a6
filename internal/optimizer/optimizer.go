// Package optimizer holds the stateful parameter-update rules used to train
// a model from contrastive divergence gradients.
//
// Every optimizer is bound at construction to the parameter layout of one
// model. Its auxiliary buffers are allocated once, shaped like the model's
// parameters, and mutated in place on each Update. Update borrows the
// model's parameters and rewrites them in place as well. None of this is
// safe for concurrent use.
package optimizer

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas32"

	"gibbs-forge/internal/model"
)

const epsilon = 1e-6

// ErrUnknownOptimizer indicates an unrecognized optimizer kind.
var ErrUnknownOptimizer = errors.New("optimizer: unknown kind")

// Optimizer updates a model's parameters from a data minibatch and the
// sampler's model-side state.
type Optimizer interface {
	Update(m model.Model, vData, vModel any, epoch int) error
}

// Options carries the hyperparameters of every variant. Zero fields take the
// defaults of DefaultOptions.
type Options struct {
	Stepsize         float32
	LRDecay          float32
	Momentum         float32
	MeanWeight       float32
	MeanSquareWeight float32
}

// DefaultOptions returns the stock hyperparameters.
func DefaultOptions() Options {
	return Options{
		Stepsize:         0.001,
		LRDecay:          0.5,
		Momentum:         0.9,
		MeanWeight:       0.9,
		MeanSquareWeight: 0.9,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Stepsize == 0 {
		o.Stepsize = d.Stepsize
	}
	if o.LRDecay == 0 {
		o.LRDecay = d.LRDecay
	}
	if o.Momentum == 0 {
		o.Momentum = d.Momentum
	}
	if o.MeanWeight == 0 {
		o.MeanWeight = d.MeanWeight
	}
	if o.MeanSquareWeight == 0 {
		o.MeanSquareWeight = d.MeanSquareWeight
	}
	return o
}

// Kinds lists the names accepted by New.
var Kinds = []string{"sgd", "momentum", "rmsprop", "adam"}

// New builds an optimizer by name.
func New(kind string, m model.Model, opts Options) (Optimizer, error) {
	switch kind {
	case "sgd":
		return NewSGD(m, opts)
	case "momentum":
		return NewMomentum(m, opts)
	case "rmsprop":
		return NewRMSProp(m, opts)
	case "adam":
		return NewAdam(m, opts)
	default:
		return nil, fmt.Errorf("%w %q (want one of %v)", ErrUnknownOptimizer, kind, Kinds)
	}
}

// base validates the model layout once and computes the gradient for each
// update.
type base struct {
	opts   Options
	schema model.Schema
	grad   model.ParamSet
}

func newBase(m model.Model, opts Options) (base, error) {
	schema := m.Schema()
	if err := schema.Validate(m.Params()); err != nil {
		return base{}, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	for _, p := range m.Params() {
		if p.Value.Stride != p.Value.Cols {
			return base{}, fmt.Errorf("optimizer: parameter %s is not contiguous", p.Name)
		}
	}
	return base{opts: opts.withDefaults(), schema: schema, grad: m.Params().ZerosLike()}, nil
}

// Grad returns the gradient computed by the latest update.
func (b *base) Grad() model.ParamSet { return b.grad }

func (b *base) gradient(m model.Model, vData, vModel any) (model.ParamSet, error) {
	if !b.schema.Equal(m.Schema()) {
		return nil, fmt.Errorf("%w: model layout changed since construction", ErrShapeMismatch)
	}
	grad, err := Gradient(m, vData, vModel)
	if err != nil {
		return nil, err
	}
	if err := b.schema.Validate(grad); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	b.grad = grad
	return grad, nil
}

func decay(rate float32, epoch int) float32 {
	return float32(math.Pow(float64(rate), float64(epoch)))
}

func sqrt32(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// SGD is plain gradient descent with an exponentially decaying step per
// epoch.
type SGD struct {
	base
}

// NewSGD binds plain SGD to m.
func NewSGD(m model.Model, opts Options) (*SGD, error) {
	b, err := newBase(m, opts)
	if err != nil {
		return nil, err
	}
	return &SGD{base: b}, nil
}

// Update applies θ -= decay^epoch · stepsize · g.
func (o *SGD) Update(m model.Model, vData, vModel any, epoch int) error {
	grad, err := o.gradient(m, vData, vModel)
	if err != nil {
		return err
	}
	lr := decay(o.opts.LRDecay, epoch)
	for i, p := range m.Params() {
		blas32.Axpy(-lr*o.opts.Stepsize, model.Vector(grad[i].Value), model.Vector(p.Value))
	}
	return nil
}

// Momentum is gradient descent with a velocity buffer.
type Momentum struct {
	base
	delta model.ParamSet
}

// NewMomentum binds momentum SGD to m.
func NewMomentum(m model.Model, opts Options) (*Momentum, error) {
	b, err := newBase(m, opts)
	if err != nil {
		return nil, err
	}
	return &Momentum{base: b, delta: m.Params().ZerosLike()}, nil
}

// Delta returns the velocity buffer.
func (o *Momentum) Delta() model.ParamSet { return o.delta }

// Update applies δ = g + μδ, θ -= decay^epoch · stepsize · δ.
func (o *Momentum) Update(m model.Model, vData, vModel any, epoch int) error {
	grad, err := o.gradient(m, vData, vModel)
	if err != nil {
		return err
	}
	lr := decay(o.opts.LRDecay, epoch)
	for i, p := range m.Params() {
		delta := model.Vector(o.delta[i].Value)
		blas32.Scal(o.opts.Momentum, delta)
		blas32.Axpy(1, model.Vector(grad[i].Value), delta)
		blas32.Axpy(-lr*o.opts.Stepsize, delta, model.Vector(p.Value))
	}
	return nil
}

// RMSProp scales each step by a running mean square of the gradient.
type RMSProp struct {
	base
	meanSquare model.ParamSet
}

// NewRMSProp binds RMSProp to m.
func NewRMSProp(m model.Model, opts Options) (*RMSProp, error) {
	b, err := newBase(m, opts)
	if err != nil {
		return nil, err
	}
	return &RMSProp{base: b, meanSquare: m.Params().ZerosLike()}, nil
}

// MeanSquareGrad returns the running mean square buffer.
func (o *RMSProp) MeanSquareGrad() model.ParamSet { return o.meanSquare }

// Update applies s = ρs + (1-ρ)g², θ -= stepsize · g/√(s+ε). There is no
// epoch decay.
func (o *RMSProp) Update(m model.Model, vData, vModel any, epoch int) error {
	grad, err := o.gradient(m, vData, vModel)
	if err != nil {
		return err
	}
	rho := o.opts.MeanSquareWeight
	for i, p := range m.Params() {
		g := grad[i].Value.Data
		s := o.meanSquare[i].Value.Data
		theta := p.Value.Data
		for k := range theta {
			s[k] = rho*s[k] + (1-rho)*g[k]*g[k]
			theta[k] -= o.opts.Stepsize * g[k] / sqrt32(s[k]+epsilon)
		}
	}
	return nil
}

// Adam keeps running estimates of the first and second gradient moments.
type Adam struct {
	base
	mean       model.ParamSet
	meanSquare model.ParamSet
}

// NewAdam binds Adam to m.
func NewAdam(m model.Model, opts Options) (*Adam, error) {
	b, err := newBase(m, opts)
	if err != nil {
		return nil, err
	}
	return &Adam{
		base:       b,
		mean:       m.Params().ZerosLike(),
		meanSquare: m.Params().ZerosLike(),
	}, nil
}

// MeanGrad returns the first moment buffer.
func (o *Adam) MeanGrad() model.ParamSet { return o.mean }

// MeanSquareGrad returns the second moment buffer.
func (o *Adam) MeanSquareGrad() model.ParamSet { return o.meanSquare }

// Update applies s = ρ₂s + (1-ρ₂)g², m = ρ₁m + (1-ρ₁)g and
// θ -= (stepsize/(1-ρ₁)) · m/√(s/(1-ρ₂)+ε). The bias correction is the
// constant first-step one, not the usual per-step 1-ρᵗ.
func (o *Adam) Update(m model.Model, vData, vModel any, epoch int) error {
	grad, err := o.gradient(m, vData, vModel)
	if err != nil {
		return err
	}
	rho1, rho2 := o.opts.MeanWeight, o.opts.MeanSquareWeight
	step := o.opts.Stepsize / (1 - rho1)
	for i, p := range m.Params() {
		g := grad[i].Value.Data
		mean := o.mean[i].Value.Data
		s := o.meanSquare[i].Value.Data
		theta := p.Value.Data
		for k := range theta {
			s[k] = rho2*s[k] + (1-rho2)*g[k]*g[k]
			mean[k] = rho1*mean[k] + (1-rho1)*g[k]
			theta[k] -= step * mean[k] / sqrt32(s[k]/(1-rho2)+epsilon)
		}
	}
	return nil
}
