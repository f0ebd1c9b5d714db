package imaging

import (
	"fmt"
	"strings"
)

// Image is a 2D array of intensity samples with the header cards it was
// loaded with.
//
// Samples are stored row-major with row 0 at the bottom of the frame.
// An Image must not be modified after construction.
type Image struct {
	width  int
	height int
	pix    []float64
	header map[string]string
	keys   []string
}

// NewImage wraps row-major samples in an Image.
//
// The slice is used directly, not copied; callers hand over ownership.
// Header keys are stored upper-cased.
func NewImage(width, height int, pix []float64, header map[string]string) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}
	if len(pix) != width*height {
		return nil, fmt.Errorf("pixel count %d does not match %dx%d", len(pix), width, height)
	}

	img := &Image{
		width:  width,
		height: height,
		pix:    pix,
		header: make(map[string]string, len(header)),
	}
	for k, v := range header {
		img.setCard(k, v)
	}
	return img, nil
}

func (img *Image) setCard(key, value string) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if _, ok := img.header[key]; !ok {
		img.keys = append(img.keys, key)
	}
	img.header[key] = value
}

// Width returns the number of columns.
func (img *Image) Width() int { return img.width }

// Height returns the number of rows.
func (img *Image) Height() int { return img.height }

// At returns the sample at (row, col). It panics if the position is outside
// the image, like slice indexing.
func (img *Image) At(row, col int) float64 {
	if row < 0 || row >= img.height || col < 0 || col >= img.width {
		panic(fmt.Sprintf("imaging: position (%d,%d) outside %dx%d image", row, col, img.width, img.height))
	}
	return img.pix[row*img.width+col]
}

// Header returns the value of a header card and whether it was present.
// Keys are case-insensitive.
func (img *Image) Header(key string) (string, bool) {
	v, ok := img.header[strings.ToUpper(strings.TrimSpace(key))]
	return v, ok
}

// HeaderKeys returns the card names in file order.
func (img *Image) HeaderKeys() []string {
	keys := make([]string, len(img.keys))
	copy(keys, img.keys)
	return keys
}

// Full returns a Region covering the whole image.
func (img *Image) Full() *Region {
	return &Region{img: img, rows: Range{0, img.height}, cols: Range{0, img.width}}
}
