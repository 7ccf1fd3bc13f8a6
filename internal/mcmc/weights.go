package mcmc

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// ImportanceWeights returns exp(-(e - min e)/temperature) for each energy,
// divided by the L1 norm of the result. The exponent is evaluated in float32.
func ImportanceWeights(energies []float32, temperature float32) []float64 {
	if len(energies) == 0 {
		return nil
	}
	lowest := energies[0]
	for _, e := range energies[1:] {
		if e < lowest {
			lowest = e
		}
	}
	weights := make([]float64, len(energies))
	for i, e := range energies {
		gauge := (e - lowest) / temperature
		weights[i] = float64(float32(math.Exp(-float64(gauge))))
	}
	floats.Scale(1/floats.Norm(weights, 1), weights)
	return weights
}
