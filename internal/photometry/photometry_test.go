package photometry

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/astrophot/internal/detection"
	"github.com/ironsheep/astrophot/internal/imaging"
)

// starField returns a width×height region with a constant background and one
// pixel-integrated Gaussian star.
func starField(t *testing.T, width, height int, bg, x0, y0, flux, sigma float64) *imaging.Region {
	t.Helper()
	pix := make([]float64, width*height)
	s := math.Sqrt2 * sigma
	for row := 0; row < height; row++ {
		fy := 0.5 * (math.Erf((float64(row)+0.5-y0)/s) - math.Erf((float64(row)-0.5-y0)/s))
		for col := 0; col < width; col++ {
			fx := 0.5 * (math.Erf((float64(col)+0.5-x0)/s) - math.Erf((float64(col)-0.5-x0)/s))
			pix[row*width+col] = bg + flux*fx*fy
		}
	}
	img, err := imaging.NewImage(width, height, pix, nil)
	require.NoError(t, err)
	return img.Full()
}

func defaultParams() Params {
	return Params{ApertureRadius: 3, AnnulusInner: 3.5, AnnulusOuter: 5}
}

func TestMeasureRecoversStarFlux(t *testing.T) {
	region := starField(t, 21, 21, 10, 10, 10, 1000, 1)
	sources := []detection.Source{{ID: 1, X: 10, Y: 10}}

	results, err := Measure(region, sources, defaultParams())
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, 1, r.SourceID)
	assert.InDelta(t, 1000, r.NetFlux, 50, "net flux within 5%% of the injected flux")
	assert.InDelta(t, 10, r.BackgroundMean, 0.5)
	assert.InDelta(t, math.Pi*9, r.ApertureArea, 1e-9)
	assert.InDelta(t, r.ApertureSum-r.Background, r.NetFlux, 1e-9)
	assert.InDelta(t, r.BackgroundMean*r.ApertureArea, r.Background, 1e-9)
	assert.Greater(t, r.AnnulusPixels, 0)
	assert.Nil(t, r.Magnitude, "no zero point, no magnitude")
	assert.False(t, r.Flags.Has(FlagNegativeFlux))
	assert.False(t, r.Flags.Has(FlagTruncated))
	assert.False(t, r.Flags.Has(FlagNoBackground))
}

func TestMeasureRecoversStarFluxSmallFrame(t *testing.T) {
	region := starField(t, 10, 10, 10, 4.5, 4.5, 1000, 1)
	sources := []detection.Source{{ID: 1, X: 4.5, Y: 4.5}}

	results, err := Measure(region, sources, defaultParams())
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.InDelta(t, 1000, r.NetFlux, 50, "net flux within 5%% of the injected flux")
	assert.InDelta(t, 10, r.BackgroundMean, 0.5)
	assert.InDelta(t, r.ApertureSum-r.BackgroundMean*r.ApertureArea, r.NetFlux, 1e-9)
	assert.False(t, r.Flags.Has(FlagTruncated))
}

func TestMeasureApertureSumVanishesWithRadius(t *testing.T) {
	region := starField(t, 10, 10, 100, 0, 0, 0, 1)
	sources := []detection.Source{{ID: 1, X: 5, Y: 5}}

	prev := math.Inf(1)
	for _, radius := range []float64{1, 0.1, 0.01, 0.001} {
		p := Params{ApertureRadius: radius, AnnulusInner: 3.5, AnnulusOuter: 4.5}
		results, err := Measure(region, sources, p)
		require.NoError(t, err)
		require.Len(t, results, 1)

		sum := results[0].ApertureSum
		want := 100 * math.Pi * radius * radius
		assert.InDelta(t, want, sum, 1e-9*math.Max(want, 1), "radius %v", radius)
		assert.Less(t, sum, prev, "radius %v", radius)
		prev = sum
	}
	assert.Less(t, prev, 1e-3)
}

func TestMeasureMagnitude(t *testing.T) {
	region := starField(t, 21, 21, 10, 10.4, 9.8, 1000, 1)
	zp := 25.0
	p := defaultParams()
	p.ZeroPoint = &zp
	p.ExposureTime = 10

	results, err := Measure(region, []detection.Source{{ID: 7, X: 10.4, Y: 9.8}}, p)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Magnitude)

	want := zp - 2.5*math.Log10(results[0].NetFlux/10)
	assert.InDelta(t, want, *results[0].Magnitude, 1e-12)
	assert.Equal(t, 7, results[0].SourceID)
}

func TestMeasureNegativeFlux(t *testing.T) {
	const w, h = 21, 21
	pix := make([]float64, w*h)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			pix[row*w+col] = 10
			if PixelOverlap(row, col, 10, 10, 3) > 0 {
				pix[row*w+col] = 5
			}
		}
	}
	img, err := imaging.NewImage(w, h, pix, nil)
	require.NoError(t, err)

	zp := 25.0
	p := defaultParams()
	p.ZeroPoint = &zp
	p.ExposureTime = 100

	results, err := Measure(img.Full(), []detection.Source{{ID: 1, X: 10, Y: 10}}, p)
	require.NoError(t, err, "negative flux is not a run failure")
	require.Len(t, results, 1)

	r := results[0]
	assert.True(t, r.Flags.Has(FlagNegativeFlux))
	assert.Nil(t, r.Magnitude)
	assert.InDelta(t, -5*math.Pi*9, r.NetFlux, 1e-9)
	assert.Equal(t, 10.0, r.BackgroundMean)
}

func TestMeasureNoBackground(t *testing.T) {
	region := starField(t, 7, 7, 0, 3, 3, 100, 1)
	p := Params{ApertureRadius: 2, AnnulusInner: 5, AnnulusOuter: 6}

	results, err := Measure(region, []detection.Source{{ID: 1, X: 3, Y: 3}}, p)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.True(t, r.Flags.Has(FlagNoBackground))
	assert.Zero(t, r.Background)
	assert.Equal(t, r.ApertureSum, r.NetFlux)
}

func TestMeasureTruncatedAtEdge(t *testing.T) {
	region := starField(t, 15, 15, 10, 0, 0, 500, 1)

	results, err := Measure(region, []detection.Source{{ID: 1, X: 0, Y: 0}}, defaultParams())
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.True(t, r.Flags.Has(FlagTruncated))
	assert.Less(t, r.ApertureArea, math.Pi*9)
	assert.InDelta(t, r.BackgroundMean*r.ApertureArea, r.Background, 1e-9)
}

func TestMeasureMaskedAperturePixel(t *testing.T) {
	region := starField(t, 21, 21, 10, 10, 10, 1000, 1)
	mask := detection.NewMask(21, 21)
	mask.Set(10, 10, true)

	p := defaultParams()
	p.Mask = mask
	results, err := Measure(region, []detection.Source{{ID: 1, X: 10, Y: 10}}, p)
	require.NoError(t, err)

	r := results[0]
	assert.True(t, r.Flags.Has(FlagTruncated))
	assert.InDelta(t, math.Pi*9-1, r.ApertureArea, 1e-9)
}

func TestMeasurePreservesSourceOrder(t *testing.T) {
	region := starField(t, 40, 40, 10, 20, 20, 1000, 1)
	sources := []detection.Source{
		{ID: 3, X: 30, Y: 30},
		{ID: 1, X: 20, Y: 20},
		{ID: 2, X: 10, Y: 10},
	}

	results, err := Measure(region, sources, defaultParams())
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, sources[i].ID, r.SourceID)
	}
}

func TestMeasureNoSources(t *testing.T) {
	region := starField(t, 10, 10, 1, 5, 5, 0, 1)
	results, err := Measure(region, nil, defaultParams())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMeasureInvalidParams(t *testing.T) {
	region := starField(t, 10, 10, 1, 5, 5, 10, 1)
	src := []detection.Source{{ID: 1, X: 5, Y: 5}}
	zp := 25.0

	tests := []struct {
		name    string
		params  Params
		wantErr error
	}{
		{"zero aperture", Params{ApertureRadius: 0, AnnulusInner: 3, AnnulusOuter: 4}, ErrInvalidAperture},
		{"negative aperture", Params{ApertureRadius: -1, AnnulusInner: 3, AnnulusOuter: 4}, ErrInvalidAperture},
		{"inner equals outer", Params{ApertureRadius: 2, AnnulusInner: 4, AnnulusOuter: 4}, ErrInvalidAperture},
		{"inner above outer", Params{ApertureRadius: 2, AnnulusInner: 5, AnnulusOuter: 4}, ErrInvalidAperture},
		{"zero inner", Params{ApertureRadius: 2, AnnulusInner: 0, AnnulusOuter: 4}, ErrInvalidAperture},
		{"zero point without exposure", Params{ApertureRadius: 2, AnnulusInner: 3, AnnulusOuter: 4, ZeroPoint: &zp}, ErrInvalidExposure},
		{"mask shape", Params{ApertureRadius: 2, AnnulusInner: 3, AnnulusOuter: 4, Mask: detection.NewMask(3, 3)}, detection.ErrMaskShape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Measure(region, src, tt.params)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestMagnitude(t *testing.T) {
	mag, err := Magnitude(25, 100, 100)
	require.NoError(t, err)
	assert.Equal(t, 25.0, mag)

	mag, err = Magnitude(24.5, 1000, 10)
	require.NoError(t, err)
	assert.InDelta(t, 19.5, mag, 1e-12)

	_, err = Magnitude(25, 0, 100)
	assert.ErrorIs(t, err, ErrNonPositiveFlux)

	_, err = Magnitude(25, -3, 100)
	assert.ErrorIs(t, err, ErrNonPositiveFlux)

	_, err = Magnitude(25, 100, 0)
	assert.ErrorIs(t, err, ErrInvalidExposure)
}

func TestMagnitudeMonotonic(t *testing.T) {
	prev := math.Inf(1)
	for _, net := range []float64{1, 10, 100, 1e3, 1e4} {
		mag, err := Magnitude(25, net, 1)
		require.NoError(t, err)
		assert.Less(t, mag, prev, "brighter sources have smaller magnitudes")
		prev = mag
	}
}

func TestAnnulusExcludesAperturePixels(t *testing.T) {
	aper, err := NewCircularAperture(10, 10, 3)
	require.NoError(t, err)
	ann, err := NewCircularAnnulus(10, 10, 2, 5)
	require.NoError(t, err)

	var usable int
	for _, pw := range ann.Pixels(21, 21) {
		assert.True(t, ann.Contains(float64(pw.Col), float64(pw.Row)))
		if !aper.touches(pw.Row, pw.Col) {
			usable++
			assert.Zero(t, PixelOverlap(pw.Row, pw.Col, 10, 10, 3))
		}
	}
	assert.Greater(t, usable, 0)
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "ok", Flag(0).String())
	assert.Equal(t, "negative_flux|truncated", (FlagNegativeFlux | FlagTruncated).String())
}
