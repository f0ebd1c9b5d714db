package imaging

import (
	"errors"
	"fmt"
)

// ErrOutOfBounds is matched by every OutOfBoundsError.
var ErrOutOfBounds = errors.New("region out of bounds")

// OutOfBoundsError reports a region request that does not fit the image.
type OutOfBoundsError struct {
	Rows, Cols    Range
	Width, Height int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("%v: rows [%d,%d) cols [%d,%d) outside %dx%d image",
		ErrOutOfBounds, e.Rows.Start, e.Rows.End, e.Cols.Start, e.Cols.End, e.Width, e.Height)
}

// Is reports whether target is ErrOutOfBounds.
func (e *OutOfBoundsError) Is(target error) bool { return target == ErrOutOfBounds }

// Range is a half-open index interval [Start, End).
type Range struct {
	Start int `json:"start" yaml:"start" mapstructure:"start"`
	End   int `json:"end" yaml:"end" mapstructure:"end"`
}

// Len returns End - Start.
func (r Range) Len() int { return r.End - r.Start }

// Region is a rectangular read-only view over an Image.
type Region struct {
	img  *Image
	rows Range
	cols Range
}

// Extract returns the view of img covering rows × cols.
//
// Both ranges are half-open and must lie within the image and be non-empty;
// otherwise an *OutOfBoundsError is returned. Ranges are never clamped.
func Extract(img *Image, rows, cols Range) (*Region, error) {
	if img == nil {
		return nil, errors.New("extract: nil image")
	}
	if rows.Start < 0 || cols.Start < 0 || rows.End > img.height || cols.End > img.width ||
		rows.Len() <= 0 || cols.Len() <= 0 {
		return nil, &OutOfBoundsError{Rows: rows, Cols: cols, Width: img.width, Height: img.height}
	}
	return &Region{img: img, rows: rows, cols: cols}, nil
}

// ExtractNamed extracts a named part of the image: top-left, top-right,
// bottom-left, bottom-right, top-half, bottom-half, left-half, right-half or
// center (the middle 50% in each direction).
//
// "top" refers to high row numbers, since row 0 is the bottom of the frame.
func ExtractNamed(img *Image, name string) (*Region, error) {
	if img == nil {
		return nil, errors.New("extract: nil image")
	}
	w := img.Width()
	h := img.Height()
	midX := w / 2
	midY := h / 2

	var rows, cols Range

	switch name {
	case "top-left":
		rows, cols = Range{midY, h}, Range{0, midX}
	case "top-right":
		rows, cols = Range{midY, h}, Range{midX, w}
	case "bottom-left":
		rows, cols = Range{0, midY}, Range{0, midX}
	case "bottom-right":
		rows, cols = Range{0, midY}, Range{midX, w}
	case "top-half":
		rows, cols = Range{midY, h}, Range{0, w}
	case "bottom-half":
		rows, cols = Range{0, midY}, Range{0, w}
	case "left-half":
		rows, cols = Range{0, h}, Range{0, midX}
	case "right-half":
		rows, cols = Range{0, h}, Range{midX, w}
	case "center":
		qW := w / 4
		qH := h / 4
		rows, cols = Range{qH, h - qH}, Range{qW, w - qW}
	default:
		return nil, fmt.Errorf("unknown region: %s", name)
	}

	return Extract(img, rows, cols)
}

// Rows returns the number of rows in the region.
func (r *Region) Rows() int { return r.rows.Len() }

// Cols returns the number of columns in the region.
func (r *Region) Cols() int { return r.cols.Len() }

// Bounds returns the row and column ranges in parent image coordinates.
func (r *Region) Bounds() (rows, cols Range) { return r.rows, r.cols }

// Image returns the parent image.
func (r *Region) Image() *Image { return r.img }

// At returns the sample at (row, col) in region coordinates.
func (r *Region) At(row, col int) float64 {
	if row < 0 || row >= r.rows.Len() || col < 0 || col >= r.cols.Len() {
		panic(fmt.Sprintf("imaging: position (%d,%d) outside %dx%d region", row, col, r.cols.Len(), r.rows.Len()))
	}
	return r.img.pix[(r.rows.Start+row)*r.img.width+r.cols.Start+col]
}

// Contains reports whether the sub-pixel position (x, y), in region
// coordinates with pixel centers at integers, falls inside the region.
func (r *Region) Contains(x, y float64) bool {
	return x >= -0.5 && x < float64(r.cols.Len())-0.5 &&
		y >= -0.5 && y < float64(r.rows.Len())-0.5
}

// Values returns a row-major copy of the region's samples.
func (r *Region) Values() []float64 {
	out := make([]float64, 0, r.rows.Len()*r.cols.Len())
	for row := r.rows.Start; row < r.rows.End; row++ {
		start := row*r.img.width + r.cols.Start
		out = append(out, r.img.pix[start:start+r.cols.Len()]...)
	}
	return out
}
