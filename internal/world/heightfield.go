package world

import (
	"errors"
	"fmt"
	"math"
)

// ErrRasterSize is returned when a raster does not cover the grid.
var ErrRasterSize = errors.New("raster size does not match grid")

// HeightField is a regular lattice of height samples, row-major.
type HeightField struct {
	Width   int
	Height  int
	Samples []float64
}

// NewHeightField wraps samples as a width x height lattice.
func NewHeightField(width, height int, samples []float64) (*HeightField, error) {
	if width <= 0 || height <= 0 || len(samples) < width*height {
		return nil, fmt.Errorf("%w: %dx%d needs %d samples, have %d",
			ErrRasterSize, width, height, width*height, len(samples))
	}
	return &HeightField{Width: width, Height: height, Samples: samples[:width*height]}, nil
}

// At returns the sample at lattice point (x, y), clamped to the lattice.
func (h *HeightField) At(x, y int) float64 {
	x = clampInt(x, 0, h.Width-1)
	y = clampInt(y, 0, h.Height-1)
	return h.Samples[y*h.Width+x]
}

// Sample bilinearly interpolates the height at fractional lattice position
// (x, y). Both lattice coordinates are clamped to the field before
// interpolating, so any input is safe.
func (h *HeightField) Sample(x, y float64) float64 {
	if math.IsNaN(x) {
		x = 0
	}
	if math.IsNaN(y) {
		y = 0
	}
	x = math.Max(0, math.Min(x, float64(h.Width-1)))
	y = math.Max(0, math.Min(y, float64(h.Height-1)))

	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := min(x0+1, h.Width-1), min(y0+1, h.Height-1)
	tx, ty := x-float64(x0), y-float64(y0)

	top := lerp(h.At(x0, y0), h.At(x1, y0), tx)
	bottom := lerp(h.At(x0, y1), h.At(x1, y1), tx)
	return lerp(top, bottom, ty)
}

// Range returns the minimum and maximum sample.
func (h *HeightField) Range() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range h.Samples {
		lo, hi = min(lo, v), max(hi, v)
	}
	return lo, hi
}

// NormalizeRaster rescales values to [0, 1] by their finite min and max.
// Non-finite values map to 0; a flat raster maps to all zeros.
func NormalizeRaster(values []float64) []float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo, hi = min(lo, v), max(hi, v)
	}
	out := make([]float64, len(values))
	span := hi - lo
	if !(span > 0) {
		return out
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = (v - lo) / span
	}
	return out
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
