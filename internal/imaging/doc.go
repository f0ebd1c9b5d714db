// Package imaging provides the image model used by the photometry pipeline.
//
// This package loads astronomical frames from FITS files, exposes their header
// cards, and extracts rectangular regions for analysis. Pixel samples are held
// as float64 intensities after BSCALE/BZERO have been applied.
//
// # Coordinate System
//
// Images follow the FITS storage order:
//   - Row 0 is the bottom row of the frame (origin at lower-left for display)
//   - Column 0 is the leftmost column
//   - Samples are stored row-major, columns varying fastest
//
// Sub-pixel positions used by the detection and photometry packages place
// pixel centers at integer coordinates, so pixel (row, col) covers
// [col-0.5, col+0.5) × [row-0.5, row+0.5).
//
// # Regions
//
// A Region is a read-only view over an Image. It never copies pixel data.
// Row and column ranges are half-open [Start, End). Ranges that fall outside
// the image, or that are empty, are rejected with an OutOfBoundsError rather
// than clamped, so a region always has exactly the requested shape.
//
// # Thread Safety
//
// Images are immutable once loaded, and Regions never write through to their
// parent, so both may be shared between goroutines. The ImageCache type is
// safe for concurrent use.
//
// # Error Handling
//
// Functions return errors for invalid inputs such as:
//   - Region ranges outside image bounds (ErrOutOfBounds)
//   - Files that cannot be opened or are not FITS images
//   - FITS primary HDUs with no image data or an unsupported BITPIX
package imaging
