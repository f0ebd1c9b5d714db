package photometry

import "math"

// OverlapArea returns the exact area of intersection between a circle of
// radius r centred at the origin and the axis-aligned rectangle
// [xmin, xmax] × [ymin, ymax]. A non-positive radius or an empty rectangle
// yields 0.
func OverlapArea(xmin, ymin, xmax, ymax, r float64) float64 {
	if !(r > 0) || !(xmax > xmin) || !(ymax > ymin) {
		return 0
	}
	return overlapSigned(xmin, ymin, xmax, ymax, r)
}

// overlapSigned reduces any rectangle to pieces lying in the first quadrant.
func overlapSigned(xmin, ymin, xmax, ymax, r float64) float64 {
	switch {
	case xmin >= 0:
		switch {
		case ymin >= 0:
			return overlapQuadrant(xmin, ymin, xmax, ymax, r)
		case ymax <= 0:
			return overlapQuadrant(xmin, -ymax, xmax, -ymin, r)
		default:
			return overlapSigned(xmin, ymin, xmax, 0, r) + overlapSigned(xmin, 0, xmax, ymax, r)
		}
	case xmax <= 0:
		return overlapSigned(-xmax, ymin, -xmin, ymax, r)
	default:
		return overlapSigned(xmin, ymin, 0, ymax, r) + overlapSigned(0, ymin, xmax, ymax, r)
	}
}

// overlapQuadrant handles a rectangle with xmin, ymin >= 0. The circle
// boundary crosses it in at most one arc, so the overlap is a polygon plus
// one circular segment.
func overlapQuadrant(xmin, ymin, xmax, ymax, r float64) float64 {
	r2 := r * r
	if xmin*xmin+ymin*ymin >= r2 {
		return 0
	}
	if xmax*xmax+ymax*ymax <= r2 {
		return (xmax - xmin) * (ymax - ymin)
	}

	lowerRight := xmax*xmax+ymin*ymin < r2
	upperLeft := xmin*xmin+ymax*ymax < r2

	switch {
	case lowerRight && upperLeft:
		// only the far corner is outside
		x1, y1 := math.Sqrt(r2-ymax*ymax), ymax
		x2, y2 := xmax, math.Sqrt(r2-xmax*xmax)
		return (xmax-xmin)*(ymax-ymin) -
			triangleArea(x1, y1, x2, y2, xmax, ymax) +
			segmentArea(x1, y1, x2, y2, r)
	case lowerRight:
		// arc enters through the left edge, leaves through the right
		x1, y1 := xmin, math.Sqrt(r2-xmin*xmin)
		x2, y2 := xmax, math.Sqrt(r2-xmax*xmax)
		return segmentArea(x1, y1, x2, y2, r) +
			triangleArea(x1, y1, x1, ymin, xmax, ymin) +
			triangleArea(x1, y1, x2, ymin, x2, y2)
	case upperLeft:
		// arc enters through the bottom edge, leaves through the top
		x1, y1 := math.Sqrt(r2-ymin*ymin), ymin
		x2, y2 := math.Sqrt(r2-ymax*ymax), ymax
		return segmentArea(x1, y1, x2, y2, r) +
			triangleArea(x1, y1, xmin, y1, xmin, ymax) +
			triangleArea(x1, y1, xmin, y2, x2, y2)
	default:
		// only the near corner is inside
		x1, y1 := math.Sqrt(r2-ymin*ymin), ymin
		x2, y2 := xmin, math.Sqrt(r2-xmin*xmin)
		return segmentArea(x1, y1, x2, y2, r) +
			triangleArea(x1, y1, x2, y2, xmin, ymin)
	}
}

// segmentArea is the area between the chord (x1,y1)-(x2,y2) and the arc of
// the circle of radius r through both points.
func segmentArea(x1, y1, x2, y2, r float64) float64 {
	chord := math.Hypot(x2-x1, y2-y1)
	s := 0.5 * chord / r
	if s > 1 {
		s = 1
	}
	theta := 2 * math.Asin(s)
	return 0.5 * r * r * (theta - math.Sin(theta))
}

func triangleArea(x1, y1, x2, y2, x3, y3 float64) float64 {
	return 0.5 * math.Abs(x1*(y2-y3)+x2*(y3-y1)+x3*(y1-y2))
}

// PixelOverlap returns the area of pixel (row, col) covered by a circle of
// radius r centred at (cx, cy). Pixel centers sit at integer coordinates, so
// the pixel spans [col-0.5, col+0.5] × [row-0.5, row+0.5].
func PixelOverlap(row, col int, cx, cy, r float64) float64 {
	x, y := float64(col)-cx, float64(row)-cy
	return OverlapArea(x-0.5, y-0.5, x+0.5, y+0.5, r)
}
