package photometry

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ironsheep/astrophot/internal/detection"
	"github.com/ironsheep/astrophot/internal/imaging"
	"github.com/ironsheep/astrophot/internal/stats"
)

var (
	// ErrNonPositiveFlux is returned by Magnitude when the net flux is zero or
	// negative, for which no magnitude exists.
	ErrNonPositiveFlux = errors.New("net flux is not positive")

	// ErrInvalidExposure is returned when a magnitude is requested with a
	// non-positive exposure time.
	ErrInvalidExposure = errors.New("exposure time must be positive")
)

// Flag records conditions met while measuring one source.
type Flag uint8

const (
	// FlagNegativeFlux marks a net flux ≤ 0; the result has no magnitude.
	FlagNegativeFlux Flag = 1 << iota

	// FlagNoBackground marks an annulus without usable pixels; the
	// background was taken as 0.
	FlagNoBackground

	// FlagTruncated marks an aperture that extends past the region or covers
	// masked or non-finite pixels.
	FlagTruncated

	// FlagClipNotConverged marks an annulus whose sigma clipping hit the
	// iteration limit.
	FlagClipNotConverged
)

var flagNames = []struct {
	f    Flag
	name string
}{
	{FlagNegativeFlux, "negative_flux"},
	{FlagNoBackground, "no_background"},
	{FlagTruncated, "truncated"},
	{FlagClipNotConverged, "clip_not_converged"},
}

// Has reports whether every bit of f2 is set.
func (f Flag) Has(f2 Flag) bool { return f&f2 == f2 }

func (f Flag) String() string {
	if f == 0 {
		return "ok"
	}
	var parts []string
	for _, n := range flagNames {
		if f.Has(n.f) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Params configures Measure.
type Params struct {
	// ApertureRadius is the source aperture radius in pixels.
	ApertureRadius float64

	// AnnulusInner and AnnulusOuter bound the background ring.
	AnnulusInner float64
	AnnulusOuter float64

	// SigmaClip and MaxIters configure annulus clipping; zero selects the
	// stats package defaults.
	SigmaClip float64
	MaxIters  int

	// ExposureTime in seconds. Required when ZeroPoint is set.
	ExposureTime float64

	// ZeroPoint enables magnitudes when non-nil.
	ZeroPoint *float64

	// Mask excludes pixels from both aperture and annulus. Optional.
	Mask *detection.Mask
}

func (p Params) validate() error {
	if _, err := NewCircularAperture(0, 0, p.ApertureRadius); err != nil {
		return err
	}
	if _, err := NewCircularAnnulus(0, 0, p.AnnulusInner, p.AnnulusOuter); err != nil {
		return err
	}
	if p.SigmaClip < 0 || math.IsNaN(p.SigmaClip) {
		return fmt.Errorf("sigma clip must be positive, got %v", p.SigmaClip)
	}
	if p.MaxIters < 0 {
		return fmt.Errorf("max iterations must not be negative, got %d", p.MaxIters)
	}
	if p.ZeroPoint != nil {
		if math.IsNaN(*p.ZeroPoint) || math.IsInf(*p.ZeroPoint, 0) {
			return fmt.Errorf("zero point must be finite, got %v", *p.ZeroPoint)
		}
		if !(p.ExposureTime > 0) {
			return fmt.Errorf("%w: got %v", ErrInvalidExposure, p.ExposureTime)
		}
	}
	return nil
}

// Result is the photometry of one source.
type Result struct {
	SourceID int     `json:"source_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`

	// ApertureSum is the overlap-weighted sum of the pixels in the aperture.
	ApertureSum float64 `json:"aperture_sum"`

	// ApertureArea is the effective aperture area: the sum of the weights of
	// in-bounds, unmasked pixels.
	ApertureArea float64 `json:"aperture_area"`

	// BackgroundMean and BackgroundStdDev are the clipped per-pixel annulus
	// statistics; AnnulusPixels is the number of pixels that were clipped.
	BackgroundMean   float64 `json:"background_mean"`
	BackgroundStdDev float64 `json:"background_stddev"`
	AnnulusPixels    int     `json:"annulus_pixels"`

	// Background is BackgroundMean × ApertureArea.
	Background float64 `json:"background"`

	// NetFlux is ApertureSum − Background.
	NetFlux float64 `json:"net_flux"`

	// Magnitude is nil when no zero point was given or NetFlux ≤ 0.
	Magnitude *float64 `json:"magnitude"`

	Flags Flag `json:"flags"`
}

// Measure performs aperture photometry for each source in region.
//
// For every source the aperture sum weights each pixel by the exact area of
// its intersection with the circle. The background per pixel is the
// sigma-clipped mean of the annulus pixels whose centers lie in the ring and
// which have no overlap with the aperture; it is scaled by the effective
// aperture area and subtracted.
//
// Results are returned in the order of sources. A source with net flux ≤ 0 is
// kept with FlagNegativeFlux and no magnitude. Invalid parameters fail the
// whole call.
func Measure(region *imaging.Region, sources []detection.Source, p Params) ([]Result, error) {
	if region == nil {
		return nil, errors.New("nil region")
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.Mask != nil && !p.Mask.Matches(region) {
		return nil, fmt.Errorf("%w: mask %dx%d, region %dx%d",
			detection.ErrMaskShape, p.Mask.Cols(), p.Mask.Rows(), region.Cols(), region.Rows())
	}

	clip := stats.Options{Sigma: p.SigmaClip, MaxIters: p.MaxIters}
	results := make([]Result, 0, len(sources))
	for _, src := range sources {
		res, err := measureSource(region, src, p, clip)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", src.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func measureSource(region *imaging.Region, src detection.Source, p Params, clip stats.Options) (Result, error) {
	aper, err := NewCircularAperture(src.X, src.Y, p.ApertureRadius)
	if err != nil {
		return Result{}, err
	}
	ann, err := NewCircularAnnulus(src.X, src.Y, p.AnnulusInner, p.AnnulusOuter)
	if err != nil {
		return Result{}, err
	}

	res := Result{SourceID: src.ID, X: src.X, Y: src.Y}
	rows, cols := region.Rows(), region.Cols()

	for _, pw := range aper.Weights(rows, cols) {
		v := region.At(pw.Row, pw.Col)
		if p.Mask.At(pw.Row, pw.Col) || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		res.ApertureSum += pw.Weight * v
		res.ApertureArea += pw.Weight
	}
	if aper.Area()-res.ApertureArea > 1e-9*aper.Area() {
		res.Flags |= FlagTruncated
	}

	var ring []float64
	for _, pw := range ann.Pixels(rows, cols) {
		if p.Mask.At(pw.Row, pw.Col) || aper.touches(pw.Row, pw.Col) {
			continue
		}
		ring = append(ring, region.At(pw.Row, pw.Col))
	}

	bg, err := stats.SigmaClip(ring, clip)
	switch {
	case errors.Is(err, stats.ErrNoData):
		res.Flags |= FlagNoBackground
	case err != nil:
		return Result{}, err
	default:
		res.BackgroundMean = bg.Mean
		res.BackgroundStdDev = bg.StdDev
		res.AnnulusPixels = bg.Kept + bg.Rejected
		if !bg.Converged {
			res.Flags |= FlagClipNotConverged
		}
	}

	res.Background = res.BackgroundMean * res.ApertureArea
	res.NetFlux = res.ApertureSum - res.Background

	if res.NetFlux <= 0 {
		res.Flags |= FlagNegativeFlux
		return res, nil
	}
	if p.ZeroPoint != nil {
		mag, err := Magnitude(*p.ZeroPoint, res.NetFlux, p.ExposureTime)
		if err != nil {
			return Result{}, err
		}
		res.Magnitude = &mag
	}
	return res, nil
}

// Magnitude converts a net count to a calibrated magnitude:
//
//	m = zp − 2.5·log10(net / exptime)
//
// It returns ErrNonPositiveFlux for net ≤ 0 and ErrInvalidExposure for a
// non-positive exposure time.
func Magnitude(zp, net, exptime float64) (float64, error) {
	if !(net > 0) {
		return 0, fmt.Errorf("%w: %v", ErrNonPositiveFlux, net)
	}
	if !(exptime > 0) {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidExposure, exptime)
	}
	return zp - 2.5*math.Log10(net/exptime), nil
}
