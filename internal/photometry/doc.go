// Package photometry measures the brightness of detected sources.
//
// Each source gets a circular aperture and a concentric background annulus.
// Pixels are weighted by the exact area of their overlap with the aperture
// circle, computed analytically rather than by sub-sampling, so the weights of
// an aperture that lies fully inside the region sum to πr².
//
// The sky level is the sigma-clipped mean of the annulus pixels whose centers
// fall inside the ring and that do not touch the aperture. It is scaled by
// the effective aperture area and subtracted from the aperture sum to give the
// net flux. With a zero point and exposure time the net flux becomes a
// magnitude, m = zp − 2.5·log10(net/exptime).
//
// Sources whose net flux is zero or negative are still reported, flagged with
// FlagNegativeFlux and without a magnitude.
package photometry
