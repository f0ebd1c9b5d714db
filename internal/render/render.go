package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/astrophot/internal/detection"
	astro "github.com/ironsheep/astrophot/internal/imaging"
)

// Stretch selects the intensity transfer function.
type Stretch string

const (
	StretchLinear Stretch = "linear"
	StretchLog    Stretch = "log"
	StretchAsinh  Stretch = "asinh"
)

// Colormap names.
const (
	ColormapGray = "gray"
	ColormapHeat = "heat"
)

const (
	DefaultLowPercentile  = 0.5
	DefaultHighPercentile = 99.5
	DefaultMarkerColor    = "#00ff66"
	MaxScale              = 16
)

// ErrInvalidOptions is wrapped by every option validation failure.
var ErrInvalidOptions = errors.New("invalid render options")

// Options controls rendering. The zero value renders a 1:1 linear grayscale
// between the 0.5 and 99.5 percentiles.
type Options struct {
	Stretch  Stretch `json:"stretch,omitempty"`
	Colormap string  `json:"colormap,omitempty"`

	// LowPercentile and HighPercentile set the black and white points.
	LowPercentile  float64 `json:"low_percentile,omitempty"`
	HighPercentile float64 `json:"high_percentile,omitempty"`

	// Scale is the integer magnification.
	Scale int `json:"scale,omitempty"`

	// Sources are drawn as aperture and annulus circles when the radii are
	// positive, with their IDs when Labels is set.
	Sources        []detection.Source `json:"-"`
	ApertureRadius float64            `json:"aperture_radius,omitempty"`
	AnnulusInner   float64            `json:"annulus_inner,omitempty"`
	AnnulusOuter   float64            `json:"annulus_outer,omitempty"`
	Labels         bool               `json:"labels,omitempty"`
	MarkerColor    string             `json:"marker_color,omitempty"`
}

func (o Options) withDefaults() Options {
	if o.Stretch == "" {
		o.Stretch = StretchLinear
	}
	if o.Colormap == "" {
		o.Colormap = ColormapGray
	}
	if o.LowPercentile == 0 && o.HighPercentile == 0 {
		o.LowPercentile, o.HighPercentile = DefaultLowPercentile, DefaultHighPercentile
	}
	if o.Scale == 0 {
		o.Scale = 1
	}
	if o.MarkerColor == "" {
		o.MarkerColor = DefaultMarkerColor
	}
	return o
}

func (o Options) validate() error {
	switch o.Stretch {
	case StretchLinear, StretchLog, StretchAsinh:
	default:
		return fmt.Errorf("%w: unknown stretch %q", ErrInvalidOptions, o.Stretch)
	}
	switch o.Colormap {
	case ColormapGray, ColormapHeat:
	default:
		return fmt.Errorf("%w: unknown colormap %q", ErrInvalidOptions, o.Colormap)
	}
	if o.LowPercentile < 0 || o.HighPercentile > 100 || o.LowPercentile >= o.HighPercentile {
		return fmt.Errorf("%w: percentiles %v..%v", ErrInvalidOptions, o.LowPercentile, o.HighPercentile)
	}
	if o.Scale < 1 || o.Scale > MaxScale {
		return fmt.Errorf("%w: scale must be 1..%d, got %d", ErrInvalidOptions, MaxScale, o.Scale)
	}
	if _, err := colorful.Hex(o.MarkerColor); err != nil {
		return fmt.Errorf("%w: marker color %q: %v", ErrInvalidOptions, o.MarkerColor, err)
	}
	return nil
}

// Region renders region to an image with row 0 at the bottom.
func Region(region *astro.Region, opts Options) (image.Image, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	lo, hi := Limits(region, opts.LowPercentile, opts.HighPercentile)
	transfer := transferFunc(opts.Stretch, lo, hi)
	palette := paletteFunc(opts.Colormap)

	w, h := region.Cols(), region.Rows()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			img.Set(col, row, palette(transfer(region.At(row, col))))
		}
	}

	var out image.Image = transform.FlipV(img)
	if opts.Scale > 1 {
		out = imaging.Resize(out, w*opts.Scale, h*opts.Scale, imaging.NearestNeighbor)
	}

	if len(opts.Sources) > 0 {
		marker, _ := colorful.Hex(opts.MarkerColor)
		out = overlay(out, h, opts, marker)
	}
	return out, nil
}

// Limits returns the values at the low and high percentiles of the finite
// samples in region. A region with no spread returns hi = lo + 1.
func Limits(region *astro.Region, low, high float64) (lo, hi float64) {
	values := make([]float64, 0, region.Rows()*region.Cols())
	for _, v := range region.Values() {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return 0, 1
	}
	sort.Float64s(values)
	lo = stat.Quantile(low/100, stat.Empirical, values, nil)
	hi = stat.Quantile(high/100, stat.Empirical, values, nil)
	if !(hi > lo) {
		hi = lo + 1
	}
	return lo, hi
}

// transferFunc maps a sample to [0, 1].
func transferFunc(s Stretch, lo, hi float64) func(float64) float64 {
	clamp := func(v float64) float64 {
		if math.IsNaN(v) {
			return 0
		}
		return math.Max(0, math.Min(1, (v-lo)/(hi-lo)))
	}
	switch s {
	case StretchLog:
		const a = 1000.0
		norm := math.Log(a + 1)
		return func(v float64) float64 { return math.Log(a*clamp(v)+1) / norm }
	case StretchAsinh:
		const beta = 10.0
		norm := math.Asinh(beta)
		return func(v float64) float64 { return math.Asinh(beta*clamp(v)) / norm }
	default:
		return clamp
	}
}

var (
	heatLow  = colorful.Color{R: 0, G: 0, B: 0}
	heatMid  = colorful.Color{R: 0.85, G: 0.15, B: 0.05}
	heatHigh = colorful.Color{R: 1, G: 1, B: 0.85}
)

// paletteFunc maps a level in [0, 1] to a color.
func paletteFunc(name string) func(float64) color.Color {
	if name == ColormapHeat {
		return func(t float64) color.Color {
			if t < 0.5 {
				return heatLow.BlendRgb(heatMid, t*2).Clamped()
			}
			return heatMid.BlendRgb(heatHigh, (t-0.5)*2).Clamped()
		}
	}
	return func(t float64) color.Color {
		g := uint8(math.Round(t * 255))
		return color.RGBA{R: g, G: g, B: g, A: 255}
	}
}

// overlay draws source markers on a rendered frame. Source positions are in
// region coordinates with pixel centers at integers; rows are flipped to
// match the display orientation.
func overlay(img image.Image, rows int, opts Options, marker colorful.Color) image.Image {
	dc := gg.NewContextForImage(img)
	s := float64(opts.Scale)
	toDisplay := func(x, y float64) (float64, float64) {
		return (x + 0.5) * s, (float64(rows) - 0.5 - y) * s
	}

	r, g, b := marker.RGB255()
	dc.SetLineWidth(1)
	for _, src := range opts.Sources {
		px, py := toDisplay(src.X, src.Y)

		if opts.ApertureRadius > 0 {
			dc.SetRGB255(int(r), int(g), int(b))
			dc.DrawCircle(px, py, opts.ApertureRadius*s)
			dc.Stroke()
		}
		if opts.AnnulusInner > 0 && opts.AnnulusOuter > opts.AnnulusInner {
			dc.SetRGBA255(int(r), int(g), int(b), 128)
			dc.DrawCircle(px, py, opts.AnnulusInner*s)
			dc.Stroke()
			dc.DrawCircle(px, py, opts.AnnulusOuter*s)
			dc.Stroke()
		}
		if opts.Labels {
			dc.SetRGB255(int(r), int(g), int(b))
			dc.DrawStringAnchored(fmt.Sprint(src.ID), px+opts.ApertureRadius*s+2, py, 0, 0.5)
		}
	}
	return dc.Image()
}

// Rendered is a PNG-encoded rendering.
type Rendered struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
	Sources     int    `json:"sources,omitempty"`
}

// EncodePNG renders region and encodes it as base64 PNG.
func EncodePNG(region *astro.Region, opts Options) (*Rendered, error) {
	img, err := Region(region, opts)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	b := img.Bounds()
	return &Rendered{
		Width:       b.Dx(),
		Height:      b.Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
		Sources:     len(opts.Sources),
	}, nil
}

// SavePNG renders region to a PNG file.
func SavePNG(path string, region *astro.Region, opts Options) error {
	img, err := Region(region, opts)
	if err != nil {
		return err
	}
	if err := imgio.Save(path, img, imgio.PNGEncoder()); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
