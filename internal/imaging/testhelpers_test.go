package imaging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
)

// newTestImage builds an in-memory image whose sample at (row, col) is
// row*1000 + col, which makes view offsets easy to verify.
func newTestImage(t *testing.T, width, height int) *Image {
	t.Helper()
	pix := make([]float64, width*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			pix[row*width+col] = float64(row*1000 + col)
		}
	}
	img, err := NewImage(width, height, pix, map[string]string{"OBJECT": "test"})
	if err != nil {
		t.Fatalf("NewImage failed: %v", err)
	}
	return img
}

// writeTestFITS writes a single-HDU float64 FITS file and returns its path.
func writeTestFITS(t *testing.T, width, height int, pix []float64, cards ...fitsio.Card) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "frame.fits")
	w, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	defer w.Close()

	f, err := fitsio.Create(w)
	if err != nil {
		t.Fatalf("failed to create FITS: %v", err)
	}
	defer f.Close()

	hdu := fitsio.NewImage(-64, []int{width, height})
	defer hdu.Close()

	if len(cards) > 0 {
		if err := hdu.Header().Append(cards...); err != nil {
			t.Fatalf("failed to append cards: %v", err)
		}
	}
	if err := hdu.Write(pix); err != nil {
		t.Fatalf("failed to write data: %v", err)
	}
	if err := f.Write(hdu); err != nil {
		t.Fatalf("failed to write HDU: %v", err)
	}

	return path
}
