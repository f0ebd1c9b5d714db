package detection

// grid is a row-major float image used for intermediate products.
type grid struct {
	rows, cols int
	v          []float64
}

func newGrid(rows, cols int) *grid {
	return &grid{rows: rows, cols: cols, v: make([]float64, rows*cols)}
}

// at returns the value at (row, col), or 0 outside the grid.
func (g *grid) at(row, col int) float64 {
	if row < 0 || row >= g.rows || col < 0 || col >= g.cols {
		return 0
	}
	return g.v[row*g.cols+col]
}

// convolve filters g with the kernel. The kernel is symmetric, so
// correlation and convolution coincide.
//
// Where the footprint overhangs the grid, the Gaussian is re-lowered and
// re-normalized over the in-bounds pixels only, so a flat pedestal filters to
// zero at every position, edges included.
func convolve(g *grid, k *Kernel) *grid {
	out := newGrid(g.rows, g.cols)
	size := k.Size()
	r := k.Radius

	for y := 0; y < g.rows; y++ {
		for x := 0; x < g.cols; x++ {
			if y >= r && y < g.rows-r && x >= r && x < g.cols-r {
				out.v[y*g.cols+x] = convolveInterior(g, k, y, x)
				continue
			}

			var n, sg, sgg, sv, sgv float64
			for ky := -r; ky <= r; ky++ {
				py := y + ky
				if py < 0 || py >= g.rows {
					continue
				}
				row := (ky + r) * size
				for kx := -r; kx <= r; kx++ {
					i := row + kx + r
					if !k.Footprint[i] {
						continue
					}
					px := x + kx
					if px < 0 || px >= g.cols {
						continue
					}
					gw := k.Gauss[i]
					v := g.v[py*g.cols+px]
					n++
					sg += gw
					sgg += gw * gw
					sv += v
					sgv += gw * v
				}
			}
			if n < 2 {
				continue
			}
			denom := sgg - sg*sg/n
			if denom <= 0 {
				continue
			}
			out.v[y*g.cols+x] = (sgv - sg/n*sv) / denom
		}
	}
	return out
}

// convolveInterior applies the precomputed kernel at a position whose whole
// footprint lies inside the grid.
func convolveInterior(g *grid, k *Kernel, y, x int) float64 {
	size := k.Size()
	r := k.Radius
	var sum float64
	for ky := -r; ky <= r; ky++ {
		row := (ky + r) * size
		base := (y+ky)*g.cols + x
		for kx := -r; kx <= r; kx++ {
			w := k.Data[row+kx+r]
			if w == 0 {
				continue
			}
			sum += g.v[base+kx] * w
		}
	}
	return sum
}
