package detection

import (
	"fmt"

	"github.com/ironsheep/astrophot/internal/imaging"
)

// Mask marks region pixels to exclude from detection and photometry.
// A true entry excludes the pixel. Masks are congruent with the region they
// are applied to: mask (row, col) refers to region (row, col).
type Mask struct {
	rows, cols int
	bits       []bool
}

// Rect is a rectangular mask area in region coordinates. Ranges are
// half-open, like imaging.Extract.
type Rect struct {
	Rows imaging.Range `json:"rows" yaml:"rows" mapstructure:"rows"`
	Cols imaging.Range `json:"cols" yaml:"cols" mapstructure:"cols"`
}

// NewMask returns an all-clear mask of the given shape.
func NewMask(rows, cols int) *Mask {
	if rows < 0 {
		rows = 0
	}
	if cols < 0 {
		cols = 0
	}
	return &Mask{rows: rows, cols: cols, bits: make([]bool, rows*cols)}
}

// NewMaskFromRects builds a mask with every pixel inside any of rects set.
// Rectangles that extend past the mask shape are an error, matching the
// no-clamping rule for regions.
func NewMaskFromRects(rows, cols int, rects []Rect) (*Mask, error) {
	m := NewMask(rows, cols)
	for i, r := range rects {
		if r.Rows.Start < 0 || r.Rows.End > rows || r.Rows.Len() <= 0 ||
			r.Cols.Start < 0 || r.Cols.End > cols || r.Cols.Len() <= 0 {
			return nil, fmt.Errorf("mask rectangle %d rows [%d,%d) cols [%d,%d) outside %dx%d region",
				i, r.Rows.Start, r.Rows.End, r.Cols.Start, r.Cols.End, cols, rows)
		}
		for row := r.Rows.Start; row < r.Rows.End; row++ {
			for col := r.Cols.Start; col < r.Cols.End; col++ {
				m.bits[row*cols+col] = true
			}
		}
	}
	return m, nil
}

// Rows returns the mask height.
func (m *Mask) Rows() int { return m.rows }

// Cols returns the mask width.
func (m *Mask) Cols() int { return m.cols }

// At reports whether (row, col) is excluded. Positions outside the mask are
// not excluded.
func (m *Mask) At(row, col int) bool {
	if m == nil || row < 0 || row >= m.rows || col < 0 || col >= m.cols {
		return false
	}
	return m.bits[row*m.cols+col]
}

// Set marks or clears (row, col).
func (m *Mask) Set(row, col int, excluded bool) {
	if row < 0 || row >= m.rows || col < 0 || col >= m.cols {
		panic(fmt.Sprintf("detection: mask position (%d,%d) outside %dx%d", row, col, m.cols, m.rows))
	}
	m.bits[row*m.cols+col] = excluded
}

// Count returns the number of excluded pixels.
func (m *Mask) Count() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

// Bits returns a copy of the mask in row-major order, suitable for
// stats.EstimateMasked.
func (m *Mask) Bits() []bool {
	out := make([]bool, len(m.bits))
	copy(out, m.bits)
	return out
}

// Matches reports whether the mask has the region's shape.
func (m *Mask) Matches(region *imaging.Region) bool {
	return m.rows == region.Rows() && m.cols == region.Cols()
}
