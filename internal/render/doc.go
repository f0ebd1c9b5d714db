// Package render turns image regions into viewable PNGs.
//
// Intensities are mapped to display levels between two percentiles of the
// region with a linear, log or asinh stretch, optionally through a colormap.
// The frame is flipped so FITS row 0 appears at the bottom, scaled with
// nearest-neighbour resampling, and detected sources can be overlaid with
// their aperture and annulus circles and ID labels.
package render
