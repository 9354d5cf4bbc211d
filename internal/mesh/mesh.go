// Package mesh builds the per-tile triangulated patch sampled from a tile's
// elevation grid, with optional skirt geometry and a debug border.
package mesh

import (
	"math"

	"github.com/MeKo-Tech/planetcore/internal/elevation/grid"
	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
	"github.com/MeKo-Tech/planetcore/internal/geo/landmodel"
)

// MaxSkirtDepthM bounds the level-dependent skirt depth from above.
const MaxSkirtDepthM = 10000.0

// MinSkirtDepthM is a fixed 1 mm floor for skirt depth, so even at
// the deepest subdivision level the skirt still has non-zero thickness.
const MinSkirtDepthM = 1e-3

// SkirtDepthForLevel returns the level-dependent skirt depth: larger near
// the root (coarse tiles, bigger visible cracks) and shrinking toward
// MinSkirtDepthM as level increases, never exceeding MaxSkirtDepthM.
func SkirtDepthForLevel(level int) float64 {
	depth := MaxSkirtDepthM / math.Pow(2, float64(level))
	if depth > MaxSkirtDepthM {
		return MaxSkirtDepthM
	}
	if depth < MinSkirtDepthM {
		return MinSkirtDepthM
	}
	return depth
}

// Sphere is a world-space bounding sphere.
type Sphere struct {
	Center landmodel.Vec3
	Radius float64
}

// Mesh is the triangulated patch for one tile: a regular rows x cols vertex
// grid in world space, triangle indices, optional skirt vertices/triangles,
// and an optional debug border line loop.
type Mesh struct {
	Vertices []landmodel.Vec3
	Normals  []landmodel.Vec3
	Indices  []int32 // triangle list, 3 indices per triangle

	HasSkirt       bool
	SkirtVertexOff int // index of the first skirt vertex in Vertices

	HasBorder    bool
	BorderIndices []int32 // line-loop indices into Vertices

	Bounds Sphere
}

// SmallestDistanceSquared returns the squared distance from eye to the
// nearest point on the mesh's bounding sphere (0 if eye is inside it). This
// is the query the cull/split decision uses; it never returns a negative
// value.
func (m *Mesh) SmallestDistanceSquared(eye landmodel.Vec3) float64 {
	dx := eye.X - m.Bounds.Center.X
	dy := eye.Y - m.Bounds.Center.Y
	dz := eye.Z - m.Bounds.Center.Z
	centerDist := math.Sqrt(dx*dx + dy*dy + dz*dz)
	d := centerDist - m.Bounds.Radius
	if d < 0 {
		d = 0
	}
	return d * d
}

// Options controls mesh construction.
type Options struct {
	UseSkirts  bool
	UseBorders bool
}

// Build generates a regular (key.MeshSize.Rows x key.MeshSize.Cols) grid of
// vertices over key.Extents. Each vertex's lon/lat is transformed to world
// coordinates via model using the elevation sampled (with half-pixel
// convention) from elev; elev may be nil, in which case height 0 is used
// everywhere (a flat patch at the reference surface, e.g. while elevation
// data is still pending).
func Build(key extents.TileKey, elev *grid.Grid, model landmodel.LandModel, opts Options) *Mesh {
	rows, cols := key.MeshSize.Rows, key.MeshSize.Cols
	if rows < 2 {
		rows = 2
	}
	if cols < 2 {
		cols = 2
	}

	minLon, minLat := key.Extents.MinLon(), key.Extents.MinLat()
	w, h := key.Extents.Size()

	verts := make([]landmodel.Vec3, 0, rows*cols)
	sampleHeight := func(u, v float64) float64 {
		if elev == nil {
			return 0
		}
		s := elev.Sample(u, v)
		if grid.IsNoData(s) {
			return 0
		}
		return float64(s)
	}

	for r := 0; r < rows; r++ {
		v := float64(r) / float64(rows-1)
		lat := minLat + v*h
		for c := 0; c < cols; c++ {
			u := float64(c) / float64(cols-1)
			lon := minLon + u*w
			elevM := sampleHeight(u, v)
			verts = append(verts, model.LatLonHeightToXYZ(lat, lon, elevM))
		}
	}

	idx := make([]int32, 0, (rows-1)*(cols-1)*6)
	at := func(r, c int) int32 { return int32(r*cols + c) }
	for r := 0; r < rows-1; r++ {
		for c := 0; c < cols-1; c++ {
			v00, v10 := at(r, c), at(r, c+1)
			v01, v11 := at(r+1, c), at(r+1, c+1)
			idx = append(idx, v00, v10, v11, v00, v11, v01)
		}
	}

	m := &Mesh{Vertices: verts, Indices: idx}

	if opts.UseSkirts {
		addSkirt(m, key, model, rows, cols, sampleHeight)
	}
	if opts.UseBorders {
		addBorder(m, rows, cols)
	}

	m.Bounds = boundingSphere(verts)
	return m
}

// addSkirt duplicates the outer ring of vertices and lowers them (same
// lat/lon, smaller height) by the level-dependent skirt depth, then stitches skirt
// triangles between the original ring and its duplicate. This hides the
// visible crack between neighboring-level tiles.
func addSkirt(m *Mesh, key extents.TileKey, model landmodel.LandModel, rows, cols int, sampleHeight func(u, v float64) float64) {
	depth := SkirtDepthForLevel(key.Level)
	minLon, minLat := key.Extents.MinLon(), key.Extents.MinLat()
	w, h := key.Extents.Size()

	m.SkirtVertexOff = len(m.Vertices)

	type ringPt struct {
		r, c int
	}
	var ring []ringPt
	for c := 0; c < cols; c++ {
		ring = append(ring, ringPt{0, c})
	}
	for r := 1; r < rows; r++ {
		ring = append(ring, ringPt{r, cols - 1})
	}
	for c := cols - 2; c >= 0; c-- {
		ring = append(ring, ringPt{rows - 1, c})
	}
	for r := rows - 2; r >= 1; r-- {
		ring = append(ring, ringPt{r, 0})
	}

	skirtStart := int32(len(m.Vertices))
	for _, p := range ring {
		u := float64(p.c) / float64(cols-1)
		v := float64(p.r) / float64(rows-1)
		lat := minLat + v*h
		lon := minLon + u*w
		elevM := sampleHeight(u, v) - depth
		m.Vertices = append(m.Vertices, model.LatLonHeightToXYZ(lat, lon, elevM))
	}

	n := len(ring)
	originalAt := func(i int) int32 { return int32(ring[i].r*cols + ring[i].c) }
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		top0, top1 := originalAt(i), originalAt(j)
		bot0, bot1 := skirtStart+int32(i), skirtStart+int32(j)
		m.Indices = append(m.Indices, top0, top1, bot1, top0, bot1, bot0)
	}

	m.HasSkirt = true
}

// addBorder overlays a colored line loop around the tile's outer ring,
// reusing the top-ring vertex indices (no duplicate geometry needed — a
// line loop only needs an index list).
func addBorder(m *Mesh, rows, cols int) {
	var loop []int32
	for c := 0; c < cols; c++ {
		loop = append(loop, int32(c))
	}
	for r := 1; r < rows; r++ {
		loop = append(loop, int32(r*cols+cols-1))
	}
	for c := cols - 2; c >= 0; c-- {
		loop = append(loop, int32((rows-1)*cols+c))
	}
	for r := rows - 2; r >= 1; r-- {
		loop = append(loop, int32(r*cols))
	}
	loop = append(loop, loop[0])
	m.BorderIndices = loop
	m.HasBorder = true
}

func boundingSphere(verts []landmodel.Vec3) Sphere {
	if len(verts) == 0 {
		return Sphere{}
	}
	var cx, cy, cz float64
	for _, v := range verts {
		cx += v.X
		cy += v.Y
		cz += v.Z
	}
	n := float64(len(verts))
	center := landmodel.Vec3{X: cx / n, Y: cy / n, Z: cz / n}

	var maxR2 float64
	for _, v := range verts {
		dx, dy, dz := v.X-center.X, v.Y-center.Y, v.Z-center.Z
		r2 := dx*dx + dy*dy + dz*dz
		if r2 > maxR2 {
			maxR2 = r2
		}
	}
	return Sphere{Center: center, Radius: math.Sqrt(maxR2)}
}
