package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ironsheep/astrophot/internal/detection"
	astro "github.com/ironsheep/astrophot/internal/imaging"
)

// rampRegion returns a width×height region whose value grows with the row,
// so the top display row is the brightest.
func rampRegion(t *testing.T, width, height int) *astro.Region {
	t.Helper()
	pix := make([]float64, width*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			pix[row*width+col] = float64(row)
		}
	}
	img, err := astro.NewImage(width, height, pix, nil)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	return img.Full()
}

func gray(c interface{ RGBA() (r, g, b, a uint32) }) uint8 {
	r, _, _, _ := c.RGBA()
	return uint8(r >> 8)
}

func TestRegionOrientation(t *testing.T) {
	img, err := Region(rampRegion(t, 8, 10), Options{LowPercentile: 0, HighPercentile: 100})
	if err != nil {
		t.Fatalf("Region: %v", err)
	}
	if got := img.Bounds(); got.Dx() != 8 || got.Dy() != 10 {
		t.Fatalf("bounds = %v, want 8x10", got)
	}
	top, bottom := gray(img.At(3, 0)), gray(img.At(3, 9))
	if top != 255 || bottom != 0 {
		t.Errorf("top=%d bottom=%d, want 255 and 0 (row 0 at the bottom)", top, bottom)
	}
}

func TestRegionScale(t *testing.T) {
	img, err := Region(rampRegion(t, 5, 4), Options{Scale: 3})
	if err != nil {
		t.Fatalf("Region: %v", err)
	}
	if got := img.Bounds(); got.Dx() != 15 || got.Dy() != 12 {
		t.Errorf("bounds = %v, want 15x12", got)
	}
}

func TestStretchMonotonic(t *testing.T) {
	for _, s := range []Stretch{StretchLinear, StretchLog, StretchAsinh} {
		f := transferFunc(s, 0, 100)
		prev := -1.0
		for v := -10.0; v <= 110; v += 5 {
			got := f(v)
			if got < prev || got < 0 || got > 1 {
				t.Errorf("%s: f(%v) = %v after %v", s, v, got, prev)
			}
			prev = got
		}
		if f(0) != 0 || math.Abs(f(100)-1) > 1e-12 {
			t.Errorf("%s: endpoints f(0)=%v f(100)=%v", s, f(0), f(100))
		}
	}
}

func TestLimits(t *testing.T) {
	lo, hi := Limits(rampRegion(t, 4, 101), 0, 100)
	if lo != 0 || hi != 100 {
		t.Errorf("Limits = %v, %v; want 0, 100", lo, hi)
	}

	flat, err := astro.NewImage(3, 3, []float64{7, 7, 7, 7, 7, 7, 7, 7, 7}, nil)
	if err != nil {
		t.Fatal(err)
	}
	lo, hi = Limits(flat.Full(), DefaultLowPercentile, DefaultHighPercentile)
	if lo != 7 || hi != 8 {
		t.Errorf("flat Limits = %v, %v; want 7, 8", lo, hi)
	}
}

func TestRegionInvalidOptions(t *testing.T) {
	tests := []Options{
		{Stretch: "sqrt"},
		{Colormap: "viridis"},
		{LowPercentile: 90, HighPercentile: 10},
		{Scale: 40},
		{MarkerColor: "green"},
	}
	for _, opts := range tests {
		if _, err := Region(rampRegion(t, 4, 4), opts); !errors.Is(err, ErrInvalidOptions) {
			t.Errorf("Region(%+v) error = %v, want ErrInvalidOptions", opts, err)
		}
	}
}

func TestOverlayMarksSources(t *testing.T) {
	pix := make([]float64, 32*32)
	img, err := astro.NewImage(32, 32, pix, nil)
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{
		Scale:          2,
		Sources:        []detection.Source{{ID: 1, X: 10, Y: 20}},
		ApertureRadius: 4,
		MarkerColor:    "#ff0000",
	}
	out, err := Region(img.Full(), opts)
	if err != nil {
		t.Fatalf("Region: %v", err)
	}

	// The aperture circle passes 4 pixels to the right of the source,
	// which sits at display (21, 23) at scale 2.
	var red bool
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			r, g, _, _ := out.At(21+8+dx, 23+dy).RGBA()
			if r>>8 >= 64 && g>>8 < 32 {
				red = true
			}
		}
	}
	if !red {
		t.Error("expected aperture circle near display (29, 23)")
	}
	if r, _, _, _ := out.At(5, 5).RGBA(); r != 0 {
		t.Error("background away from the source should stay black")
	}
}

func TestEncodePNG(t *testing.T) {
	res, err := EncodePNG(rampRegion(t, 6, 4), Options{Colormap: ColormapHeat, Stretch: StretchAsinh})
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	if res.MimeType != "image/png" || res.Width != 6 || res.Height != 4 {
		t.Errorf("unexpected result %+v", res)
	}

	raw, err := base64.StdEncoding.DecodeString(res.ImageBase64)
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("png: %v", err)
	}
	if decoded.Bounds() != image.Rect(0, 0, 6, 4) {
		t.Errorf("decoded bounds %v", decoded.Bounds())
	}
}

func TestSavePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.png")
	if err := SavePNG(path, rampRegion(t, 6, 4), Options{}); err != nil {
		t.Fatalf("SavePNG: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("saved file is not a PNG: %v", err)
	}
}
