// Package extents implements axis-aligned lon/lat rectangles and the
// quadtree tile identity (TileKey) built on top of them.
package extents

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Extents is an axis-aligned lon/lat rectangle in degrees, wrapping orb.Bound
// so intersection/containment reuse orb's interval math instead of
// reinventing it.
type Extents struct {
	bound orb.Bound
}

// New builds an Extents from its four degree bounds.
func New(minLon, minLat, maxLon, maxLat float64) Extents {
	return Extents{bound: orb.Bound{
		Min: orb.Point{minLon, minLat},
		Max: orb.Point{maxLon, maxLat},
	}}
}

// Global returns the extents covering the whole planet.
func Global() Extents {
	return New(-180, -90, 180, 90)
}

func (e Extents) MinLon() float64 { return e.bound.Min[0] }
func (e Extents) MinLat() float64 { return e.bound.Min[1] }
func (e Extents) MaxLon() float64 { return e.bound.Max[0] }
func (e Extents) MaxLat() float64 { return e.bound.Max[1] }

// Bound exposes the underlying orb.Bound for callers that need orb interop
// (e.g. intersecting against orb geometries fetched by vector sources).
func (e Extents) Bound() orb.Bound { return e.bound }

// Intersects returns true iff both axes overlap on a closed interval.
func (e Extents) Intersects(other Extents) bool {
	return e.bound.Intersects(other.bound)
}

// Contains is a closed-interval membership test.
func (e Extents) Contains(lon, lat float64) bool {
	return e.bound.Contains(orb.Point{lon, lat})
}

// Center returns the midpoint of the rectangle.
func (e Extents) Center() (lon, lat float64) {
	c := e.bound.Center()
	return c[0], c[1]
}

// Quadrant names used by Split.
type Quadrant int

const (
	LL Quadrant = iota // lower-left  (min lon, min lat)
	LR                 // lower-right (max lon, min lat)
	UL                 // upper-left  (min lon, max lat)
	UR                 // upper-right (max lon, max lat)
)

// Split computes the midpoint m = (min+max)/2 and returns the four
// sub-rectangles in LL, LR, UL, UR order. Callers splitting a tree of
// Extents must always derive children via Split (never by independently
// recomputing endpoints) so sibling edges stay bitwise-coincident.
func (e Extents) Split() (ll, lr, ul, ur Extents) {
	midLon := (e.MinLon() + e.MaxLon()) / 2
	midLat := (e.MinLat() + e.MaxLat()) / 2

	ll = New(e.MinLon(), e.MinLat(), midLon, midLat)
	lr = New(midLon, e.MinLat(), e.MaxLon(), midLat)
	ul = New(e.MinLon(), midLat, midLon, e.MaxLat())
	ur = New(midLon, midLat, e.MaxLon(), e.MaxLat())
	return
}

// String encodes the four doubles with enough precision (>=15 significant
// digits) to disambiguate neighboring tiles in cache file names.
func (e Extents) String() string {
	return fmt.Sprintf("%.15g_%.15g_%.15g_%.15g", e.MinLon(), e.MinLat(), e.MaxLon(), e.MaxLat())
}

// Equal is exact (bitwise) equality on the underlying float64 bounds.
func (e Extents) Equal(other Extents) bool {
	return e.bound == other.bound
}

// ExpandByFraction grows the rectangle outward by frac * width/height on
// each axis, used by vector/raster fetches that need a small halo beyond
// the tile's own edges (e.g. to avoid seams in line-feature clipping).
func (e Extents) ExpandByFraction(frac float64) Extents {
	w := e.MaxLon() - e.MinLon()
	h := e.MaxLat() - e.MinLat()
	return New(
		e.MinLon()-w*frac, e.MinLat()-h*frac,
		e.MaxLon()+w*frac, e.MaxLat()+h*frac,
	)
}

// Size returns (width, height) in degrees.
func (e Extents) Size() (w, h float64) {
	return e.MaxLon() - e.MinLon(), e.MaxLat() - e.MinLat()
}

// MeshSize is the (rows, cols) vertex grid dimension baked into a TileKey.
type MeshSize struct {
	Rows, Cols int
}

// ImageSize is the (width, height) pixel dimension baked into a TileKey.
type ImageSize struct {
	Width, Height int
}

// TileKey is the immutable logical identity of a tile: row, column, level,
// extents, and target mesh/image sizes. TileKey.Split is the sole permitted
// source of child keys — it preserves mesh and image sizes and quarters the
// extents via Extents.Split so children are always edge-coincident with
// their siblings.
type TileKey struct {
	Row, Column, Level int
	Extents            Extents
	MeshSize           MeshSize
	ImageSize          ImageSize
}

// NewRootKey builds the identity of one of the Body's initial root tiles.
func NewRootKey(row, column int, ext Extents, mesh MeshSize, img ImageSize) TileKey {
	return TileKey{Row: row, Column: column, Level: 0, Extents: ext, MeshSize: mesh, ImageSize: img}
}

// Split yields the four children of k: level+1, coordinates (2r|2r+1,
// 2c|2c+1), inherited mesh and image sizes, and the matching quadrant of
// the parent extents.
func (k TileKey) Split() (ll, lr, ul, ur TileKey) {
	extLL, extLR, extUL, extUR := k.Extents.Split()
	row, col, level := 2*k.Row, 2*k.Column, k.Level+1

	child := func(r, c int, e Extents) TileKey {
		return TileKey{Row: r, Column: c, Level: level, Extents: e, MeshSize: k.MeshSize, ImageSize: k.ImageSize}
	}

	ll = child(row, col, extLL)
	lr = child(row, col+1, extLR)
	ul = child(row+1, col, extUL)
	ur = child(row+1, col+1, extUR)
	return
}

// String gives a stable, log- and cache-friendly identity string.
func (k TileKey) String() string {
	return fmt.Sprintf("L%d/%d/%d", k.Level, k.Row, k.Column)
}

// QuadKeyParity verifies k is a plausible descendant of root by checking
// that successively halving row/column by level reaches the root's origin.
// Used by invariant tests, not by production code.
func QuadKeyParity(root, k TileKey) bool {
	if k.Level < root.Level {
		return false
	}
	shift := k.Level - root.Level
	return k.Row>>uint(shift) == root.Row && k.Column>>uint(shift) == root.Column
}

// ApproxEqualSphere reports whether two points on a sphere of the given
// radius are within tolerance meters of each other — used by LandModel
// round-trip tests where comparing raw lon/lat near the poles is unstable.
func ApproxEqualSphere(radius, lat1, lon1, lat2, lon2, toleranceMeters float64) bool {
	toRad := math.Pi / 180
	dLat := (lat2 - lat1) * toRad
	dLon := (lon2 - lon1) * toRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*toRad)*math.Cos(lat2*toRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return radius*c <= toleranceMeters
}
