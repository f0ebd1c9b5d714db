package detection

import (
	"fmt"
	"math"
)

// fwhmToSigma converts a Gaussian FWHM to its standard deviation.
var fwhmToSigma = 1 / (2 * math.Sqrt(2*math.Ln2))

// Kernel is the PSF-matched detection filter.
//
// The kernel is a circular Gaussian truncated to an elliptical-radius
// footprint, "lowered" so it sums to zero over the footprint, and normalized so
// that convolving it with a Gaussian star on a flat background yields the
// star's amplitude. A flat background does not contribute; near the edges of
// the data the filter is re-lowered over the in-bounds part of the footprint
// (see convolve) so the same holds there.
type Kernel struct {
	// FWHM is the full width at half maximum the kernel was built for.
	FWHM float64

	// Sigma is the Gaussian standard deviation, FWHM/(2√(2 ln 2)).
	Sigma float64

	// Radius is the half-size; the kernel is (2·Radius+1) pixels square.
	Radius int

	// Data holds the normalized, lowered kernel values, row-major.
	// Entries outside the footprint are zero.
	Data []float64

	// Gauss holds the unlowered Gaussian over the footprint, row-major.
	Gauss []float64

	// Footprint marks the pixels that belong to the kernel.
	Footprint []bool

	// NPix is the number of footprint pixels.
	NPix int

	// RelErr converts a threshold in data units to the matching threshold in
	// convolved units.
	RelErr float64
}

// NewKernel builds the detection kernel for a PSF of the given FWHM.
//
// sigmaRadius sets the truncation radius in units of sigma: a pixel at offset
// (dx, dy) is in the footprint when (dx²+dy²)/(2σ²) ≤ sigmaRadius²/2. The half
// size is max(2, ⌊σ·sigmaRadius⌋).
func NewKernel(fwhm, sigmaRadius float64) (*Kernel, error) {
	if !(fwhm > 0) || math.IsInf(fwhm, 0) {
		return nil, fmt.Errorf("fwhm must be positive, got %v", fwhm)
	}
	if !(sigmaRadius > 0) {
		return nil, fmt.Errorf("sigma radius must be positive, got %v", sigmaRadius)
	}

	sigma := fwhm * fwhmToSigma
	radius := int(math.Floor(sigma * sigmaRadius))
	if radius < 2 {
		radius = 2
	}
	size := 2*radius + 1
	limit := sigmaRadius * sigmaRadius / 2

	k := &Kernel{
		FWHM:      fwhm,
		Sigma:     sigma,
		Radius:    radius,
		Data:      make([]float64, size*size),
		Footprint: make([]bool, size*size),
	}

	gauss := make([]float64, size*size)
	k.Gauss = gauss
	var sum, sumSq float64
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			i := (dy+radius)*size + dx + radius
			er := float64(dx*dx+dy*dy) / (2 * sigma * sigma)
			if er > limit && (dx != 0 || dy != 0) {
				continue
			}
			g := math.Exp(-er)
			gauss[i] = g
			k.Footprint[i] = true
			k.NPix++
			sum += g
			sumSq += g * g
		}
	}

	denom := sumSq - sum*sum/float64(k.NPix)
	if denom <= 0 {
		return nil, fmt.Errorf("fwhm %v too small for a usable kernel", fwhm)
	}
	k.RelErr = 1 / math.Sqrt(denom)

	mean := sum / float64(k.NPix)
	for i, in := range k.Footprint {
		if in {
			k.Data[i] = (gauss[i] - mean) / denom
		}
	}

	return k, nil
}

// Size returns the kernel width in pixels.
func (k *Kernel) Size() int { return 2*k.Radius + 1 }

// offsets returns the (dy, dx) offsets of the footprint pixels in scan order.
func (k *Kernel) offsets() [][2]int {
	size := k.Size()
	out := make([][2]int, 0, k.NPix)
	for i, in := range k.Footprint {
		if in {
			out = append(out, [2]int{i/size - k.Radius, i%size - k.Radius})
		}
	}
	return out
}
