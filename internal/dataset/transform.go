package dataset

import (
	"fmt"
	"math"
)

// Transform is applied to every value of a minibatch as it is handed out.
type Transform func(float64) float64

// BinarizeColor maps 8-bit color values onto {0, 1}.
func BinarizeColor(x float64) float64 { return math.Round(x / 255) }

// ColorToUnit maps 8-bit color values onto [0, 1].
func ColorToUnit(x float64) float64 { return x / 255 }

// Binarize rounds unit intensities onto {0, 1}.
func Binarize(x float64) float64 { return math.Round(x) }

// ParseTransform resolves a transform by its config name. The empty name and
// "none" yield a nil Transform.
func ParseTransform(name string) (Transform, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "binarize":
		return Binarize, nil
	case "binarize_color":
		return BinarizeColor, nil
	case "color_to_unit":
		return ColorToUnit, nil
	default:
		return nil, fmt.Errorf("dataset: unknown transform %q", name)
	}
}
