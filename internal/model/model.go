package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"
)

// ErrConversion indicates a minibatch could not be coerced to a float32 matrix.
var ErrConversion = errors.New("model: cannot convert batch to a numeric matrix")

// Model is the capability set the sampler, optimizers and monitor rely on.
// Implementations own their parameters; Params returns the live blocks so
// optimizers can update them in place.
type Model interface {
	Schema() Schema
	Params() ParamSet
	// Derivatives returns the batch mean of dE/dθ for every parameter,
	// in schema order.
	Derivatives(v blas32.General) ParamSet
	// GibbsChain advances a copy of v by steps alternating sweeps.
	GibbsChain(v blas32.General, steps int) blas32.General
	// MarginalEnergy returns one energy per row of v.
	MarginalEnergy(v blas32.General) []float32
	// Random returns an initial model-side state shaped like v.
	Random(v blas32.General) blas32.General
}

// Spec describes one parameter slot.
type Spec struct {
	Name string
	Rows int
	Cols int
}

// Schema is the ordered list of parameter slots a model exposes.
type Schema []Spec

// Equal reports whether both schemas name the same slots with the same shapes
// in the same order.
func (s Schema) Equal(o Schema) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Param is a named parameter block.
type Param struct {
	Name  string
	Value blas32.General
}

// ParamSet holds parameter blocks in schema order.
type ParamSet []Param

// Schema derives the slot layout of p.
func (p ParamSet) Schema() Schema {
	s := make(Schema, len(p))
	for i, param := range p {
		s[i] = Spec{Name: param.Name, Rows: param.Value.Rows, Cols: param.Value.Cols}
	}
	return s
}

// ZerosLike allocates a zero-filled set with the same layout as p.
func (p ParamSet) ZerosLike() ParamSet {
	out := make(ParamSet, len(p))
	for i, param := range p {
		out[i] = Param{Name: param.Name, Value: NewMatrix(param.Value.Rows, param.Value.Cols)}
	}
	return out
}

// Get looks a block up by name.
func (p ParamSet) Get(name string) (blas32.General, bool) {
	for _, param := range p {
		if param.Name == name {
			return param.Value, true
		}
	}
	return blas32.General{}, false
}

// Clone deep-copies every block.
func (p ParamSet) Clone() ParamSet {
	out := make(ParamSet, len(p))
	for i, param := range p {
		out[i] = Param{Name: param.Name, Value: Clone(param.Value)}
	}
	return out
}

// Validate checks p against the expected schema.
func (s Schema) Validate(p ParamSet) error {
	if got := p.Schema(); !s.Equal(got) {
		return fmt.Errorf("parameter layout %v does not match %v", got, s)
	}
	return nil
}
