// Package coords provides resolution-independent ratio coordinates.
package coords

import (
	"fmt"
	"math"
)

// Ratio is a position expressed as fractions of width and height.
// Both components are expected to lie in [0, 1].
type Ratio struct {
	X float64 `json:"x_ratio"`
	Y float64 `json:"y_ratio"`
}

// Clamp returns a copy with both components forced into [0, 1].
// NaN components clamp to 0.
func (r Ratio) Clamp() Ratio {
	return Ratio{X: clamp01(r.X), Y: clamp01(r.Y)}
}

// Valid reports whether both components are finite and within [0, 1].
func (r Ratio) Valid() bool {
	return !math.IsNaN(r.X) && !math.IsNaN(r.Y) &&
		r.X >= 0 && r.X <= 1 && r.Y >= 0 && r.Y <= 1
}

// ToPixels converts the ratio into pixel coordinates for the given
// dimensions. The last valid index is dimension-1, so a ratio of 1.0 maps
// onto the final pixel rather than one past it.
func (r Ratio) ToPixels(width, height int) (int, int, error) {
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if math.IsNaN(r.X) || math.IsNaN(r.Y) {
		return 0, 0, fmt.Errorf("ratio contains NaN")
	}
	c := r.Clamp()
	px := int(math.Round(c.X * float64(width-1)))
	py := int(math.Round(c.Y * float64(height-1)))
	return px, py, nil
}

// FromPixels derives the ratio for a pixel position within the given
// dimensions, clamped into range. Single-pixel axes map to 0.
func FromPixels(px, py, width, height int) Ratio {
	r := Ratio{
		X: float64(px) / float64(max(width-1, 1)),
		Y: float64(py) / float64(max(height-1, 1)),
	}
	return r.Clamp()
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
