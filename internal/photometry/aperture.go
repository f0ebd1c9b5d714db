package photometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidAperture is returned for non-positive radii or an annulus whose
// inner radius is not below its outer radius.
var ErrInvalidAperture = errors.New("invalid aperture")

// PixelWeight is the fraction of one pixel that lies inside an aperture.
type PixelWeight struct {
	Row, Col int
	Weight   float64
}

// CircularAperture is a circle centred on a sub-pixel position.
type CircularAperture struct {
	X, Y   float64
	Radius float64
}

// NewCircularAperture validates and returns a circular aperture.
func NewCircularAperture(x, y, radius float64) (CircularAperture, error) {
	if !(radius > 0) || math.IsInf(radius, 0) {
		return CircularAperture{}, fmt.Errorf("%w: radius %v must be positive", ErrInvalidAperture, radius)
	}
	if math.IsNaN(x) || math.IsNaN(y) {
		return CircularAperture{}, fmt.Errorf("%w: center (%v, %v)", ErrInvalidAperture, x, y)
	}
	return CircularAperture{X: x, Y: y, Radius: radius}, nil
}

// Area returns the geometric area πr².
func (a CircularAperture) Area() float64 { return math.Pi * a.Radius * a.Radius }

// Weights returns the exact overlap of every pixel of a rows×cols grid that the
// aperture touches, in row-major order. Parts of the circle outside the grid
// are dropped.
func (a CircularAperture) Weights(rows, cols int) []PixelWeight {
	r0, r1, c0, c1 := bbox(a.X, a.Y, a.Radius, rows, cols)
	out := make([]PixelWeight, 0, (r1-r0+1)*(c1-c0+1))
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			if w := PixelOverlap(row, col, a.X, a.Y, a.Radius); w > 0 {
				out = append(out, PixelWeight{Row: row, Col: col, Weight: w})
			}
		}
	}
	return out
}

// touches reports whether the aperture covers any part of pixel (row, col).
func (a CircularAperture) touches(row, col int) bool {
	return PixelOverlap(row, col, a.X, a.Y, a.Radius) > 0
}

// CircularAnnulus is a ring between two radii around a sub-pixel position.
type CircularAnnulus struct {
	X, Y         float64
	Inner, Outer float64
}

// NewCircularAnnulus validates and returns an annulus. Both radii must be
// positive and Inner < Outer.
func NewCircularAnnulus(x, y, inner, outer float64) (CircularAnnulus, error) {
	if !(inner > 0) || !(outer > 0) || math.IsInf(outer, 0) {
		return CircularAnnulus{}, fmt.Errorf("%w: annulus radii %v, %v must be positive", ErrInvalidAperture, inner, outer)
	}
	if inner >= outer {
		return CircularAnnulus{}, fmt.Errorf("%w: annulus inner radius %v not below outer %v", ErrInvalidAperture, inner, outer)
	}
	if math.IsNaN(x) || math.IsNaN(y) {
		return CircularAnnulus{}, fmt.Errorf("%w: center (%v, %v)", ErrInvalidAperture, x, y)
	}
	return CircularAnnulus{X: x, Y: y, Inner: inner, Outer: outer}, nil
}

// Area returns the geometric area of the ring.
func (a CircularAnnulus) Area() float64 {
	return math.Pi * (a.Outer*a.Outer - a.Inner*a.Inner)
}

// Contains reports whether the point lies in the ring, boundaries included.
func (a CircularAnnulus) Contains(x, y float64) bool {
	d := math.Hypot(x-a.X, y-a.Y)
	return d >= a.Inner && d <= a.Outer
}

// Pixels returns the pixels of a rows×cols grid whose centers fall in the
// ring, in row-major order, each with weight 1.
func (a CircularAnnulus) Pixels(rows, cols int) []PixelWeight {
	r0, r1, c0, c1 := bbox(a.X, a.Y, a.Outer, rows, cols)
	var out []PixelWeight
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			if a.Contains(float64(col), float64(row)) {
				out = append(out, PixelWeight{Row: row, Col: col, Weight: 1})
			}
		}
	}
	return out
}

// bbox returns the inclusive pixel bounds of a circle clipped to the grid.
// An empty box has r0 > r1 or c0 > c1.
func bbox(x, y, radius float64, rows, cols int) (r0, r1, c0, c1 int) {
	r0 = clampInt(int(math.Floor(y-radius+0.5)), 0, rows)
	r1 = clampInt(int(math.Ceil(y+radius-0.5)), -1, rows-1)
	c0 = clampInt(int(math.Floor(x-radius+0.5)), 0, cols)
	c1 = clampInt(int(math.Ceil(x+radius-0.5)), -1, cols-1)
	return r0, r1, c0, c1
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
