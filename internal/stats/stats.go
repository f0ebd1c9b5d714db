// Package stats estimates robust background statistics with iterative sigma
// clipping.
package stats

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/astrophot/internal/imaging"
)

// DefaultMaxIters is the iteration cap used when Options.MaxIters is zero.
const DefaultMaxIters = 5

// DefaultSigma is the clipping threshold used when Options.Sigma is zero.
const DefaultSigma = 3.0

// ErrConvergenceLimitReached reports that clipping stopped at the iteration
// cap while still rejecting values. The accompanying Stats remain usable.
var ErrConvergenceLimitReached = errors.New("sigma clipping did not converge within iteration cap")

// ErrNoData is returned when no finite values remain to estimate from.
var ErrNoData = errors.New("no finite values to estimate from")

// Options controls sigma clipping.
type Options struct {
	// Sigma is the rejection threshold in standard deviations from the mean.
	Sigma float64

	// MaxIters caps the number of clip passes.
	MaxIters int
}

// Stats is the result of a sigma-clipped estimate.
type Stats struct {
	Mean       float64 `json:"mean"`
	Median     float64 `json:"median"`
	StdDev     float64 `json:"stddev"`
	Iterations int     `json:"iterations"`
	Kept       int     `json:"kept"`
	Rejected   int     `json:"rejected"`
	Converged  bool    `json:"converged"`
}

// Err returns ErrConvergenceLimitReached when the estimate hit the iteration
// cap, nil otherwise.
func (s Stats) Err() error {
	if !s.Converged {
		return ErrConvergenceLimitReached
	}
	return nil
}

// SigmaClip computes clipped statistics over values.
//
// Each pass computes the mean and population standard deviation of the kept
// values and rejects every value further than Sigma standard deviations from
// that mean. Passes repeat until one rejects nothing or MaxIters passes have
// run. A zero standard deviation ends clipping at once, so a constant input
// converges after exactly one pass with StdDev 0.
//
// NaN and infinite values are ignored. The input slice is not modified.
func SigmaClip(values []float64, opts Options) (Stats, error) {
	if opts.Sigma <= 0 {
		opts.Sigma = DefaultSigma
	}
	if opts.MaxIters <= 0 {
		opts.MaxIters = DefaultMaxIters
	}

	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return Stats{}, ErrNoData
	}
	total := len(kept)

	var (
		mean, std float64
		iters     int
		converged bool
	)
	for iters < opts.MaxIters {
		iters++
		mean, std = stat.PopMeanStdDev(kept, nil)
		if std == 0 {
			converged = true
			break
		}

		limit := opts.Sigma * std
		next := make([]float64, 0, len(kept))
		for _, v := range kept {
			if math.Abs(v-mean) <= limit {
				next = append(next, v)
			}
		}
		if len(next) == len(kept) {
			converged = true
			break
		}
		if len(next) == 0 {
			// A threshold below the spread rejects everything; keep the
			// previous population as the best estimate.
			break
		}
		kept = next
	}
	if !converged {
		mean, std = stat.PopMeanStdDev(kept, nil)
	}

	return Stats{
		Mean:       mean,
		Median:     median(kept),
		StdDev:     std,
		Iterations: iters,
		Kept:       len(kept),
		Rejected:   total - len(kept),
		Converged:  converged,
	}, nil
}

// Estimate computes clipped statistics over every sample of a region.
func Estimate(region *imaging.Region, sigma float64) (Stats, error) {
	return SigmaClip(region.Values(), Options{Sigma: sigma})
}

// EstimateMasked is Estimate restricted to samples whose mask entry is false.
// The mask is row-major and congruent with the region.
func EstimateMasked(region *imaging.Region, mask []bool, opts Options) (Stats, error) {
	vals := region.Values()
	if mask == nil {
		return SigmaClip(vals, opts)
	}
	if len(mask) != len(vals) {
		return Stats{}, errors.New("mask shape does not match region")
	}
	kept := make([]float64, 0, len(vals))
	for i, v := range vals {
		if !mask[i] {
			kept = append(kept, v)
		}
	}
	return SigmaClip(kept, opts)
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return floats.Sum(sorted[n/2-1:n/2+1]) / 2
}
