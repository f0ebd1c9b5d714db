package detection

import (
	"errors"
	"fmt"
	"math"

	"github.com/ironsheep/astrophot/internal/imaging"
)

// Default detection bounds.
const (
	DefaultSigmaRadius = 1.5
	DefaultSharpLo     = 0.2
	DefaultSharpHi     = 1.0
	DefaultRoundLo     = -1.0
	DefaultRoundHi     = 1.0
)

// windowed centroid iteration limits
const (
	centroidMaxIter = 20
	centroidTol     = 1e-4
)

// ErrMaskShape is returned when a mask is not congruent with the region.
var ErrMaskShape = errors.New("mask shape does not match region")

// Options configures Detect.
//
// Zero values select defaults: SigmaRadius 1.5, sharpness bounds [0.2, 1.0]
// when both are zero, roundness bounds [-1, 1] when both are zero.
type Options struct {
	// FWHM is the expected PSF full width at half maximum in pixels. Required.
	FWHM float64

	// Threshold is the detection threshold in data units above Sky.
	Threshold float64

	// Sky is subtracted from every pixel before filtering, normally the
	// clipped background median.
	Sky float64

	// Mask excludes pixels from detection. Optional.
	Mask *Mask

	// SigmaRadius truncates the kernel, in units of the Gaussian sigma.
	SigmaRadius float64

	SharpLo, SharpHi float64
	RoundLo, RoundHi float64

	// ExcludeBorder drops peaks closer than the kernel half-size to the
	// region edge.
	ExcludeBorder bool
}

func (o Options) withDefaults() Options {
	if o.SigmaRadius == 0 {
		o.SigmaRadius = DefaultSigmaRadius
	}
	if o.SharpLo == 0 && o.SharpHi == 0 {
		o.SharpLo, o.SharpHi = DefaultSharpLo, DefaultSharpHi
	}
	if o.RoundLo == 0 && o.RoundHi == 0 {
		o.RoundLo, o.RoundHi = DefaultRoundLo, DefaultRoundHi
	}
	return o
}

func (o Options) validate() error {
	if !(o.FWHM > 0) || math.IsInf(o.FWHM, 0) {
		return fmt.Errorf("fwhm must be positive, got %v", o.FWHM)
	}
	if !(o.Threshold >= 0) || math.IsInf(o.Threshold, 0) {
		return fmt.Errorf("threshold must be non-negative, got %v", o.Threshold)
	}
	if math.IsNaN(o.Sky) || math.IsInf(o.Sky, 0) {
		return fmt.Errorf("sky must be finite, got %v", o.Sky)
	}
	if o.SharpLo > o.SharpHi {
		return fmt.Errorf("sharpness bounds [%v, %v] are inverted", o.SharpLo, o.SharpHi)
	}
	if o.RoundLo > o.RoundHi {
		return fmt.Errorf("roundness bounds [%v, %v] are inverted", o.RoundLo, o.RoundHi)
	}
	return nil
}

// Source is a detected point-source candidate.
type Source struct {
	// ID numbers sources 1..n in scan order.
	ID int `json:"id"`

	// X and Y are the sub-pixel centroid in region coordinates, pixel centers
	// at integers. X is the column axis.
	X float64 `json:"x"`
	Y float64 `json:"y"`

	// Peak is the sky-subtracted value of the peak pixel.
	Peak float64 `json:"peak"`

	// Flux is the sky-subtracted sum over the kernel footprint.
	Flux float64 `json:"flux"`

	Sharpness  float64 `json:"sharpness"`
	Roundness1 float64 `json:"roundness1"`
	Roundness2 float64 `json:"roundness2"`

	// NPix is the number of footprint pixels inside the region.
	NPix int `json:"npix"`
}

// Detect finds point sources in a region with a PSF-matched filter.
//
// The region minus Sky is convolved with the lowered Gaussian kernel. A pixel
// is a peak when its filtered value exceeds Threshold (rescaled to filtered
// units) and is the maximum over the kernel footprint. On exact ties the
// pixel that comes first in scan order wins. Each peak is characterized by
// its centroid, sharpness and two roundness measures; candidates outside the
// sharpness or roundness bounds, or whose centroid falls outside the region,
// are dropped.
//
// Sources are returned in row-major scan order of their peaks (row
// ascending, then column) with IDs 1..n. No peaks yields an empty slice.
//
// Masked pixels are set to zero before filtering and never become peaks.
// Non-finite samples are treated as masked.
func Detect(region *imaging.Region, opts Options) ([]Source, error) {
	if region == nil {
		return nil, errors.New("nil region")
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Mask != nil && !opts.Mask.Matches(region) {
		return nil, fmt.Errorf("%w: mask %dx%d, region %dx%d",
			ErrMaskShape, opts.Mask.Cols(), opts.Mask.Rows(), region.Cols(), region.Rows())
	}

	kernel, err := NewKernel(opts.FWHM, opts.SigmaRadius)
	if err != nil {
		return nil, err
	}

	rows, cols := region.Rows(), region.Cols()
	data := newGrid(rows, cols)
	excluded := make([]bool, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			v := region.At(r, c)
			if opts.Mask.At(r, c) || math.IsNaN(v) || math.IsInf(v, 0) {
				excluded[i] = true
				continue
			}
			data.v[i] = v - opts.Sky
		}
	}

	conv := convolve(data, kernel)
	threshold := opts.Threshold * kernel.RelErr
	offsets := kernel.offsets()

	sources := make([]Source, 0)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			if excluded[i] {
				continue
			}
			if opts.ExcludeBorder && (r < kernel.Radius || c < kernel.Radius ||
				r >= rows-kernel.Radius || c >= cols-kernel.Radius) {
				continue
			}
			v := conv.v[i]
			if !(v > threshold) || !isLocalMax(conv, r, c, offsets) {
				continue
			}

			src, ok := characterize(region, data, conv, kernel, offsets, r, c)
			if !ok {
				continue
			}
			if src.Sharpness < opts.SharpLo || src.Sharpness > opts.SharpHi {
				continue
			}
			if src.Roundness1 < opts.RoundLo || src.Roundness1 > opts.RoundHi ||
				src.Roundness2 < opts.RoundLo || src.Roundness2 > opts.RoundHi {
				continue
			}

			src.ID = len(sources) + 1
			sources = append(sources, src)
		}
	}

	return sources, nil
}

// isLocalMax reports whether conv(r, c) is the footprint maximum. Equal values
// earlier in scan order suppress the candidate.
func isLocalMax(conv *grid, r, c int, offsets [][2]int) bool {
	v := conv.v[r*conv.cols+c]
	for _, off := range offsets {
		dy, dx := off[0], off[1]
		if dy == 0 && dx == 0 {
			continue
		}
		y, x := r+dy, c+dx
		if y < 0 || y >= conv.rows || x < 0 || x >= conv.cols {
			continue
		}
		n := conv.v[y*conv.cols+x]
		if n > v {
			return false
		}
		if n == v && (dy < 0 || (dy == 0 && dx < 0)) {
			return false
		}
	}
	return true
}

// characterize measures the candidate peaked at (r, c). It returns false when
// the candidate is degenerate or its centroid leaves the region.
func characterize(region *imaging.Region, data, conv *grid, k *Kernel, offsets [][2]int, r, c int) (Source, bool) {
	convPeak := conv.at(r, c)
	dataPeak := data.at(r, c)
	if convPeak <= 0 {
		return Source{}, false
	}

	src := Source{Peak: dataPeak}

	var others float64
	var nOthers int
	for _, off := range offsets {
		y, x := r+off[0], c+off[1]
		if y < 0 || y >= data.rows || x < 0 || x >= data.cols {
			continue
		}
		src.NPix++
		v := data.at(y, x)
		src.Flux += v
		if off[0] != 0 || off[1] != 0 {
			others += v
			nOthers++
		}
	}
	if nOthers == 0 {
		return Source{}, false
	}
	src.Sharpness = (dataPeak - others/float64(nOthers)) / convPeak
	src.Roundness1 = quadrantRoundness(conv, k.Radius, r, c)

	mx, my, sx, sy, ok := marginalMoments(data, offsets, r, c)
	if !ok {
		return Source{}, false
	}
	if sx+sy > 0 {
		src.Roundness2 = 2 * (sx - sy) / (sx + sy)
	}

	cx, cy := windowedCentroid(data, k, float64(c)+mx, float64(r)+my)
	if math.Abs(cx-float64(c)) > float64(k.Radius) || math.Abs(cy-float64(r)) > float64(k.Radius) {
		cx, cy = float64(c)+mx, float64(r)+my
	}
	src.X, src.Y = cx, cy

	if math.IsNaN(src.Sharpness) || math.IsNaN(src.Roundness1) || math.IsNaN(src.Roundness2) {
		return Source{}, false
	}
	if !region.Contains(src.X, src.Y) {
		return Source{}, false
	}
	return src, true
}

// quadrantRoundness compares the four quadrants of the filtered cutout
// centred on (r, c), the centre pixel excluded. A source elongated along a
// diagonal gives a value away from zero.
func quadrantRoundness(conv *grid, radius, r, c int) float64 {
	var q1, q2, q3, q4, total float64
	for j := 0; j <= 2*radius; j++ {
		for i := 0; i <= 2*radius; i++ {
			if i == radius && j == radius {
				continue
			}
			v := conv.at(r+j-radius, c+i-radius)
			total += math.Abs(v)
			switch {
			case j <= radius && i > radius:
				q1 += v
			case j < radius && i <= radius:
				q2 += v
			case j >= radius && i < radius:
				q3 += v
			case j > radius && i >= radius:
				q4 += v
			}
		}
	}
	if total == 0 {
		return 0
	}
	return 2 * (q2 + q4 - q1 - q3) / total
}

// marginalMoments returns the first moments (offsets from the peak) and the
// marginal standard deviations of the positive data over the footprint.
func marginalMoments(data *grid, offsets [][2]int, r, c int) (mx, my, sx, sy float64, ok bool) {
	var sw, swx, swy float64
	for _, off := range offsets {
		w := data.at(r+off[0], c+off[1])
		if w <= 0 {
			continue
		}
		sw += w
		swx += w * float64(off[1])
		swy += w * float64(off[0])
	}
	if sw <= 0 {
		return 0, 0, 0, 0, false
	}
	mx, my = swx/sw, swy/sw

	var vx, vy float64
	for _, off := range offsets {
		w := data.at(r+off[0], c+off[1])
		if w <= 0 {
			continue
		}
		dx := float64(off[1]) - mx
		dy := float64(off[0]) - my
		vx += w * dx * dx
		vy += w * dy * dy
	}
	return mx, my, math.Sqrt(vx / sw), math.Sqrt(vy / sw), true
}

// windowedCentroid refines a centroid with Gaussian-weighted first moments.
// The window has the kernel's sigma and is re-centred each iteration; for a
// Gaussian source of that width the weighted mean lies halfway between the
// window centre and the true centre, hence the factor of two.
func windowedCentroid(data *grid, k *Kernel, x, y float64) (float64, float64) {
	reach := k.Radius + 1
	twoSig2 := 2 * k.Sigma * k.Sigma

	for iter := 0; iter < centroidMaxIter; iter++ {
		r0, c0 := int(math.Round(y)), int(math.Round(x))
		var sw, sdx, sdy float64
		for row := r0 - reach; row <= r0+reach; row++ {
			for col := c0 - reach; col <= c0+reach; col++ {
				v := data.at(row, col)
				if v == 0 {
					continue
				}
				dx, dy := float64(col)-x, float64(row)-y
				w := v * math.Exp(-(dx*dx+dy*dy)/twoSig2)
				sw += w
				sdx += w * dx
				sdy += w * dy
			}
		}
		if sw <= 0 {
			break
		}
		stepX, stepY := 2*sdx/sw, 2*sdy/sw
		x += stepX
		y += stepY
		if math.Abs(stepX) < centroidTol && math.Abs(stepY) < centroidTol {
			break
		}
	}
	return x, y
}
