// Package grid implements the elevation sample grid: a width x height array
// of float32 samples plus a no-data sentinel, with half-pixel-convention
// bilinear sampling.
package grid

import "math"

// NoData is the reserved sentinel marking "missing elevation". It must be
// preserved across every merge operation in internal/elevationlayer.
const NoData = float32(-32768)

// Grid is a regular width x height array of elevation samples covering a
// tile's extents.
type Grid struct {
	Width, Height int
	Samples       []float32 // row-major, length Width*Height
}

// New allocates a grid filled with NoData.
func New(width, height int) *Grid {
	g := &Grid{Width: width, Height: height, Samples: make([]float32, width*height)}
	for i := range g.Samples {
		g.Samples[i] = NoData
	}
	return g
}

// At returns the raw sample at (col, row), or NoData if out of bounds.
func (g *Grid) At(col, row int) float32 {
	if g == nil || col < 0 || row < 0 || col >= g.Width || row >= g.Height {
		return NoData
	}
	return g.Samples[row*g.Width+col]
}

// Set stores a sample at (col, row). Out-of-range writes are ignored.
func (g *Grid) Set(col, row int, v float32) {
	if g == nil || col < 0 || row < 0 || col >= g.Width || row >= g.Height {
		return
	}
	g.Samples[row*g.Width+col] = v
}

// IsNoData reports whether v is the no-data sentinel.
func IsNoData(v float32) bool { return v == NoData }

// Sample performs a bilinear lookup at normalized coordinates (u, v) in
// [0,1]x[0,1] over the grid's extents, using the half-pixel convention: a
// sample grid of Width columns covers u in [0,1] with sample centers at
// (i+0.5)/Width, so edge samples aren't double-weighted across tile
// boundaries that share a corner. Out-of-range (u,v) returns NoData, never a
// silently clamped neighbor. If any of the four neighbors is NoData, the
// result is NoData.
func (g *Grid) Sample(u, v float64) float32 {
	if g == nil || g.Width < 2 || g.Height < 2 {
		return NoData
	}
	if u < 0 || u > 1 || v < 0 || v > 1 || math.IsNaN(u) || math.IsNaN(v) {
		return NoData
	}

	// Map normalized coords to continuous sample-space coordinates under
	// the half-pixel convention: sample i is centered at (i+0.5)/Width.
	fx := u*float64(g.Width) - 0.5
	fy := v*float64(g.Height) - 0.5

	if fx < 0 {
		fx = 0
	}
	if fy < 0 {
		fy = 0
	}

	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	x1, y1 := x0+1, y0+1
	if x1 >= g.Width {
		x1 = g.Width - 1
	}
	if y1 >= g.Height {
		y1 = g.Height - 1
	}
	if x0 >= g.Width {
		x0 = g.Width - 1
	}
	if y0 >= g.Height {
		y0 = g.Height - 1
	}

	tx := fx - float64(x0)
	ty := fy - float64(y0)

	s00 := g.At(x0, y0)
	s10 := g.At(x1, y0)
	s01 := g.At(x0, y1)
	s11 := g.At(x1, y1)

	if IsNoData(s00) || IsNoData(s10) || IsNoData(s01) || IsNoData(s11) {
		return NoData
	}

	top := float64(s00)*(1-tx) + float64(s10)*tx
	bottom := float64(s01)*(1-tx) + float64(s11)*tx
	return float32(top*(1-ty) + bottom*ty)
}

// Resample builds a new grid of size (width, height) by bilinear-sampling
// the (u0,v0)-(u1,v1) sub-rectangle of src. Used when a child tile inherits
// and resamples its parent's elevation grid across its own sub-extent; the
// caller passes (u0,v0)-(u1,v1) identifying which sub-rectangle of src to
// stretch across the new grid (e.g. the LL quadrant maps to [0,0.5]x[0,0.5]).
func Resample(src *Grid, width, height int, u0, v0, u1, v1 float64) *Grid {
	dst := New(width, height)
	if src == nil {
		return dst
	}
	for row := 0; row < height; row++ {
		v := v0 + (v1-v0)*(float64(row)+0.5)/float64(height)
		for col := 0; col < width; col++ {
			u := u0 + (u1-u0)*(float64(col)+0.5)/float64(width)
			dst.Set(col, row, src.Sample(u, v))
		}
	}
	return dst
}
