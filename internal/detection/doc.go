// Package detection finds point sources in an image region.
//
// The detector is a PSF-matched peak finder in the DAOFIND tradition: the
// region is convolved with a lowered, truncated Gaussian kernel whose FWHM
// matches the expected stellar profile, local maxima above a threshold become
// candidates, and each candidate is characterized and filtered by shape.
//
// # Algorithm Overview
//
//  1. Kernel: Gaussian with σ = FWHM/(2√(2 ln 2)), truncated to the pixels
//     whose elliptical radius (dx²+dy²)/(2σ²) is at most SigmaRadius²/2,
//     lowered to zero sum and normalized so the filtered value of a matching
//     Gaussian star equals its amplitude.
//  2. Filter: the sky-subtracted region, masked pixels set to zero, is
//     convolved with the kernel. Samples outside the region count as zero.
//  3. Peaks: a pixel is a candidate when its filtered value exceeds the
//     threshold and is the maximum over the kernel footprint.
//  4. Shape: sharpness compares the peak pixel with its footprint
//     neighbours; roundness1 compares quadrants of the filtered cutout and
//     roundness2 compares the marginal widths. Candidates outside the bounds
//     are rejected, which removes cosmic rays and blended or extended objects.
//  5. Centroid: Gaussian-windowed first moments, seeded from the plain moments
//     of the positive data in the footprint.
//
// # Coordinate System
//
// Positions are in region coordinates with pixel centers at integers, X along
// columns and Y along rows (row 0 at the bottom of the frame). A source
// centroid always lies inside its region.
//
// # Ordering
//
// Sources are reported in the row-major scan order of their peaks and numbered
// 1..n in that order, so the same input always yields the same IDs.
//
// # Masks
//
// A Mask marks pixels to ignore, for example a saturated star's bleed trail or
// a bad column. Masks are built per run from rectangles and must be congruent
// with the region they are applied to.
package detection
