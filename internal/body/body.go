// Package body implements the Body: the root of the quadtree forest,
// owning the planet's land model, its three layer stacks, the job
// manager, and the global policies (split distance, max level, alpha)
// that every tile's Services struct is built from.
package body

import (
	"context"
	"encoding/xml"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"

	"github.com/MeKo-Tech/planetcore/internal/compositor"
	"github.com/MeKo-Tech/planetcore/internal/elevation/grid"
	"github.com/MeKo-Tech/planetcore/internal/elevationlayer"
	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
	"github.com/MeKo-Tech/planetcore/internal/geo/landmodel"
	"github.com/MeKo-Tech/planetcore/internal/jobs"
	"github.com/MeKo-Tech/planetcore/internal/mesh"
	"github.com/MeKo-Tech/planetcore/internal/quadtree"
	"github.com/MeKo-Tech/planetcore/internal/raster"
	"github.com/MeKo-Tech/planetcore/internal/vector"
)

// Config is the XML-equivalent document shape a Body persists as, matching
// the narrow serialization scope the core requires (no general document
// editor): enough fields to round-trip a Body's top-level settings and its
// layer list.
type Config struct {
	XMLName          xml.Name     `xml:"body"`
	LandModel        string       `xml:"land_model"` // "sphere" or "ellipsoid"
	EquatorialRadius float64      `xml:"equatorial_radius_m"`
	PolarRadius      float64      `xml:"polar_radius_m,omitempty"`
	MaxLevel         int          `xml:"max_level"`
	SplitDistance    float64      `xml:"split_distance"`
	MeshRows         int          `xml:"mesh_size>rows"`
	MeshCols         int          `xml:"mesh_size>cols"`
	UseSkirts        bool         `xml:"use_skirts"`
	UseBorders       bool         `xml:"use_borders"`
	ImageWidth       int          `xml:"image_size>width"`
	ImageHeight      int          `xml:"image_size>height"`
	Alpha            float64      `xml:"alpha"`
	NumberOfRows     int          `xml:"number_of_rows"`
	NumberOfColumns  int          `xml:"number_of_columns"`
	MinLon           float64      `xml:"extents>min_lon"`
	MinLat           float64      `xml:"extents>min_lat"`
	MaxLon           float64      `xml:"extents>max_lon"`
	MaxLat           float64      `xml:"extents>max_lat"`
	Layers           []LayerEntry `xml:"layers>layer"`
}

// LayerEntry describes one persisted layer, raster or elevation; Kind
// disambiguates the polymorphic variant since XML has no native sum type.
type LayerEntry struct {
	Name      string  `xml:"name,attr"`
	Kind      string  `xml:"kind,attr"` // "raster" or "elevation"
	Variant   string  `xml:"variant"`   // "network", "file", "static", "directory"
	URL       string  `xml:"url,omitempty"`
	Path      string  `xml:"path,omitempty"`
	Alpha     float64 `xml:"alpha"`
	MinLevel  int     `xml:"min_level"`
	MaxLevel  int     `xml:"max_level"`
	Visible   bool    `xml:"visible"`
}

// ToConfig serializes the Body's current top-level settings and layer
// stacks into the XML-equivalent document shape.
func (b *Body) ToConfig() Config {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg := Config{
		MaxLevel:        b.maxLevel,
		SplitDistance:   b.splitDistance,
		MeshRows:        b.meshSize.Rows,
		MeshCols:        b.meshSize.Cols,
		UseSkirts:       b.meshOptions.UseSkirts,
		UseBorders:      b.meshOptions.UseBorders,
		ImageWidth:      b.imageSize.Width,
		ImageHeight:     b.imageSize.Height,
		Alpha:           b.globalAlpha,
		NumberOfRows:    b.rows,
		NumberOfColumns: b.columns,
		MinLon:          b.globalExtents.MinLon(),
		MinLat:          b.globalExtents.MinLat(),
		MaxLon:          b.globalExtents.MaxLon(),
		MaxLat:          b.globalExtents.MaxLat(),
	}

	switch m := b.landModel.(type) {
	case landmodel.Sphere:
		cfg.LandModel = "sphere"
		cfg.EquatorialRadius = m.EquatorialRadius()
	case landmodel.Ellipsoid:
		cfg.LandModel = "ellipsoid"
		cfg.EquatorialRadius = m.EquatorialRadiusM
		cfg.PolarRadius = m.PolarRadiusM
	}

	for _, l := range b.rasterStack.Layers {
		cfg.Layers = append(cfg.Layers, LayerEntry{
			Name: l.Name, Kind: "raster", Alpha: l.Alpha,
			MinLevel: l.MinLevel, MaxLevel: l.MaxLevel, Visible: l.Visible,
		})
	}
	for _, l := range b.elevationStack.Layers {
		cfg.Layers = append(cfg.Layers, LayerEntry{
			Name: l.Name, Kind: "elevation", Alpha: l.Alpha,
			MinLevel: l.MinLevel, MaxLevel: l.MaxLevel, Visible: l.Visible,
		})
	}
	return cfg
}

// Options configures a new Body.
type Options struct {
	LandModel     landmodel.LandModel
	MaxLevel      int
	SplitDistance float64
	MeshSize      extents.MeshSize
	ImageSize     extents.ImageSize
	MeshOptions   mesh.Options
	GlobalExtents extents.Extents
	Rows, Columns int // root tiling grid over GlobalExtents
	WorkerCount   int
	Logger        *slog.Logger
	VectorSource  vector.VectorSource
}

// Body is the root of the quadtree forest.
type Body struct {
	mu sync.Mutex

	landModel     landmodel.LandModel
	maxLevel      int
	splitDistance float64
	meshSize      extents.MeshSize
	imageSize     extents.ImageSize
	meshOptions   mesh.Options
	globalExtents extents.Extents
	rows, columns int
	globalAlpha   float64

	rasterStack    raster.Stack
	elevationStack elevationlayer.Stack
	vectorSource   vector.VectorSource

	jobManager *jobs.Manager
	log        *slog.Logger

	topTiles   []*quadtree.Tile
	topMu      sync.Mutex
	pending    []*quadtree.Tile
	pendingMu  sync.Mutex

	allowSplit    bool
	keepDetail    bool
	splitCallback quadtree.SplitCallback
}

// New constructs a Body and its initial rows x columns root tiling over
// GlobalExtents. No network/disk work happens here; content is requested
// lazily as tiles go dirty.
func New(ctx context.Context, opts Options) *Body {
	if opts.LandModel == nil {
		opts.LandModel = landmodel.NewSphere(6371008.8)
	}
	if opts.MaxLevel <= 0 {
		opts.MaxLevel = 20
	}
	if opts.SplitDistance <= 0 {
		opts.SplitDistance = 2_000_000
	}
	if opts.MeshSize.Rows < 2 {
		opts.MeshSize.Rows = 17
	}
	if opts.MeshSize.Cols < 2 {
		opts.MeshSize.Cols = 17
	}
	if opts.ImageSize.Width <= 0 {
		opts.ImageSize.Width = 256
	}
	if opts.ImageSize.Height <= 0 {
		opts.ImageSize.Height = 256
	}
	if opts.GlobalExtents == (extents.Extents{}) {
		opts.GlobalExtents = extents.Global()
	}
	if opts.Rows <= 0 {
		opts.Rows = 2
	}
	if opts.Columns <= 0 {
		opts.Columns = 4
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	b := &Body{
		landModel:     opts.LandModel,
		maxLevel:      opts.MaxLevel,
		splitDistance: opts.SplitDistance,
		meshSize:      opts.MeshSize,
		imageSize:     opts.ImageSize,
		meshOptions:   opts.MeshOptions,
		globalExtents: opts.GlobalExtents,
		rows:          opts.Rows,
		columns:       opts.Columns,
		globalAlpha:   1.0,
		vectorSource:  opts.VectorSource,
		jobManager:    jobs.NewManager(ctx, opts.WorkerCount),
		log:           opts.Logger.With("component", "body"),
		allowSplit:    true,
		splitCallback: quadtree.PassThroughSplitCallback{},
	}

	b.layoutRootTiles()
	return b
}

func (b *Body) layoutRootTiles() {
	minLon, minLat := b.globalExtents.MinLon(), b.globalExtents.MinLat()
	w, h := b.globalExtents.Size()
	colW, rowH := w/float64(b.columns), h/float64(b.rows)

	for r := 0; r < b.rows; r++ {
		for c := 0; c < b.columns; c++ {
			ext := extents.New(
				minLon+float64(c)*colW, minLat+float64(r)*rowH,
				minLon+float64(c+1)*colW, minLat+float64(r+1)*rowH,
			)
			key := extents.NewRootKey(r, c, ext, b.meshSize, b.imageSize)
			tile := quadtree.New(key, b.tileServices(), nil)
			b.topTiles = append(b.topTiles, tile)
		}
	}
}

// tileServices builds the Services struct every Tile this Body creates is
// injected with — the explicit-dependency-injection replacement for a
// global job pool / layer stack singleton.
func (b *Body) tileServices() quadtree.Services {
	return quadtree.Services{
		Jobs:          b.jobManager,
		MeshOptions:   b.meshOptions,
		LandModel:     b.landModel,
		SplitDistance: b.splitDistance,
		MaxLevel:      b.maxLevel,
		VectorSource:  b.vectorSource,
		BuildTexture: func(ctx context.Context, key extents.TileKey) (image.Image, error) {
			img, err := compositor.Composite(ctx, &b.rasterStack, key, key.ImageSize.Width, key.ImageSize.Height)
			if err != nil {
				return nil, err
			}
			if img == nil {
				return nil, nil
			}
			return img, nil
		},
		BuildElevation: func(ctx context.Context, key extents.TileKey, parentGrid *grid.Grid) (*grid.Grid, error) {
			g, contributed, err := b.elevationStack.Merge(ctx, key, key.MeshSize.Cols, key.MeshSize.Rows)
			if err != nil {
				return nil, err
			}
			if !contributed && parentGrid != nil {
				u0, v0, u1, v1 := childQuadrant(key)
				return grid.Resample(parentGrid, key.MeshSize.Cols, key.MeshSize.Rows, u0, v0, u1, v1), nil
			}
			return g, nil
		},
	}
}

// TopTiles returns the Body's root tiles, in row-major order.
func (b *Body) TopTiles() []*quadtree.Tile {
	b.topMu.Lock()
	defer b.topMu.Unlock()
	out := make([]*quadtree.Tile, len(b.topTiles))
	copy(out, b.topTiles)
	return out
}

// AddRasterLayer appends a raster layer to the stack and marks every
// current tile's TEXTURE bit dirty within the layer's extents so the next
// traversal picks it up.
func (b *Body) AddRasterLayer(l *raster.Layer) {
	b.mu.Lock()
	b.rasterStack.Layers = append(b.rasterStack.Layers, l)
	ext := l.Extents
	b.mu.Unlock()

	b.broadcast(quadtree.Texture|quadtree.Image, &ext)
}

// RemoveRasterLayer removes the named layer and re-dirties the tiles it
// could have contributed to, so a subsequent texture build reflects its
// absence (scenario: "layer removal while zoomed").
func (b *Body) RemoveRasterLayer(name string) {
	b.mu.Lock()
	var removedExt extents.Extents
	found := false
	kept := b.rasterStack.Layers[:0]
	for _, l := range b.rasterStack.Layers {
		if l.Name == name {
			removedExt = l.Extents
			found = true
			continue
		}
		kept = append(kept, l)
	}
	b.rasterStack.Layers = kept
	b.mu.Unlock()

	if found {
		b.broadcast(quadtree.Texture|quadtree.Image, &removedExt)
	}
}

// AddElevationLayer appends an elevation layer and dirties VERTICES within
// its extents.
func (b *Body) AddElevationLayer(l *elevationlayer.Layer) {
	b.mu.Lock()
	b.elevationStack.Layers = append(b.elevationStack.Layers, l)
	ext := l.Extents
	b.mu.Unlock()

	b.broadcast(quadtree.Vertices, &ext)
}

// SetGlobalAlpha updates the whole-body alpha multiplier and broadcasts a
// TEXTURE dirty to every tile, recursively, unconditional of region.
func (b *Body) SetGlobalAlpha(alpha float64) {
	b.mu.Lock()
	b.globalAlpha = alpha
	b.mu.Unlock()
	b.broadcast(quadtree.Texture, nil)
}

// SetSplitDistance records d as the Body's split distance, which ToConfig
// reports and tileServices hands to tiles the Body constructs afterwards.
// Existing tiles keep the copy of their Services they were constructed
// with, and a split copies the parent's Services into its children, so
// the new value does not reach the existing tree or the children it
// builds later.
func (b *Body) SetSplitDistance(d float64) {
	b.mu.Lock()
	b.splitDistance = d
	b.mu.Unlock()
}

// SetAllowSplit toggles whether Cull may request new splits at all; false
// freezes the current level of detail everywhere (used by a paused or
// screenshot-capture frame).
func (b *Body) SetAllowSplit(allow bool) {
	b.mu.Lock()
	b.allowSplit = allow
	b.mu.Unlock()
}

// SetKeepDetail toggles whether Cull may request collapses; true pins
// every currently-split tile resident regardless of eye distance, useful
// while a caller is actively inspecting fine detail that would otherwise
// collapse away next frame.
func (b *Body) SetKeepDetail(keep bool) {
	b.mu.Lock()
	b.keepDetail = keep
	b.mu.Unlock()
}

// SetSplitCallback installs a subscriber callback that gets the final say on
// each tile's split decision during Cull, overriding (or passing through)
// the traversal's own distance/max-level suggestion. Passing nil restores
// the pass-through default.
func (b *Body) SetSplitCallback(cb quadtree.SplitCallback) {
	if cb == nil {
		cb = quadtree.PassThroughSplitCallback{}
	}
	b.mu.Lock()
	b.splitCallback = cb
	b.mu.Unlock()
}

func (b *Body) broadcast(flags quadtree.DirtyFlags, region *extents.Extents) {
	for _, t := range b.TopTiles() {
		t.MarkDirty(flags, true, region)
	}
}

// ElevationAtLatLong recursively descends the quadtree to the finest
// resident tile covering (lat, lon) and bilinear-samples its elevation
// grid; ok is false if no tile covers the point or no tile in the chain
// has elevation data yet.
func (b *Body) ElevationAtLatLong(lat, lon float64) (meters float64, ok bool) {
	for _, root := range b.TopTiles() {
		if !root.Key().Extents.Contains(lon, lat) {
			continue
		}
		return descendElevation(root, lon, lat)
	}
	return 0, false
}

// childQuadrant reports which quadrant of its parent's extents key occupies,
// as the (u0,v0)-(u1,v1) sub-rectangle grid.Resample expects. TileKey.Split
// always produces LL/LR at the even row 2*row and UL/UR at 2*row+1, and LL/UL
// at the even column 2*column and LR/UR at 2*column+1, so the quadrant is
// recoverable from row/column parity alone without walking back up to the
// parent key.
func childQuadrant(key extents.TileKey) (u0, v0, u1, v1 float64) {
	if key.Column%2 == 0 {
		u0, u1 = 0, 0.5
	} else {
		u0, u1 = 0.5, 1
	}
	if key.Row%2 == 0 {
		v0, v1 = 0, 0.5
	} else {
		v0, v1 = 0.5, 1
	}
	return
}

func descendElevation(t *quadtree.Tile, lon, lat float64) (float64, bool) {
	if t.State() == quadtree.Parent {
		for _, c := range t.Children() {
			if c != nil && c.Key().Extents.Contains(lon, lat) {
				return descendElevation(c, lon, lat)
			}
		}
	}

	g := t.Elevation()
	if g == nil {
		return 0, false
	}
	ext := t.Key().Extents
	w, h := ext.Size()
	u := (lon - ext.MinLon()) / w
	v := (lat - ext.MinLat()) / h
	s := g.Sample(u, v)
	if grid.IsNoData(s) {
		return 0, false
	}
	return float64(s), true
}

// Update ticks every resident tile's state machine once. It must be
// called from the single traversal goroutine.
func (b *Body) Update(ctx context.Context) {
	for _, root := range b.TopTiles() {
		root.Walk(func(t *quadtree.Tile) bool {
			t.Update(ctx)
			return true
		})
	}
}

// Cull walks every resident tile and requests a split or collapse based on
// its squared distance to eye, then requests texture/elevation/vector
// builds for any tile left with dirty bits set. Must be called from the
// single traversal goroutine, before Update.
func (b *Body) Cull(eye landmodel.Vec3) {
	b.mu.Lock()
	allowSplit, keepDetail, splitCallback := b.allowSplit, b.keepDetail, b.splitCallback
	b.mu.Unlock()

	eyeIsNaN := math.IsNaN(eye.X) || math.IsNaN(eye.Y) || math.IsNaN(eye.Z)

	for _, root := range b.TopTiles() {
		root.Walk(func(t *quadtree.Tile) bool {
			distSq := t.DistanceSquaredTo(eye)
			suggestHigh := allowSplit && !eyeIsNaN && t.ShouldSplit(distSq)
			switch {
			case splitCallback.ShouldSplit(suggestHigh, t):
				t.RequestSplit()
			case !keepDetail && t.ShouldCollapse(distSq):
				t.RequestCollapse()
				b.enqueuePending(t)
				return false // children are being torn down, don't descend further
			}
			if t.Dirty()&quadtree.Texture != 0 {
				t.RequestTextureBuild()
			}
			if t.Dirty()&quadtree.Vertices != 0 {
				t.RequestElevationBuild()
			}
			if t.Dirty()&quadtree.VectorFlag != 0 {
				t.RequestVectorRefine()
			}
			return true
		})
	}
}

func (b *Body) enqueuePending(t *quadtree.Tile) {
	b.pendingMu.Lock()
	b.pending = append(b.pending, t)
	b.pendingMu.Unlock()
}

// PurgeTiles drains the pending-deletion queue. It is the single consumer
// of that single-producer queue and must be called at a named frame
// boundary, never concurrently with Cull/Update.
func (b *Body) PurgeTiles(ctx context.Context) int {
	b.pendingMu.Lock()
	drained := b.pending
	b.pending = nil
	b.pendingMu.Unlock()

	for _, t := range drained {
		t.Update(ctx)
	}
	return len(drained)
}

// Close cancels every outstanding job and waits for the worker pool to
// drain. Safe to call once; tiles remain valid to read (but not to
// mutate) afterward since their Body handle was never anything but this
// Body's own jobManager pointer.
func (b *Body) Close() {
	for _, t := range b.TopTiles() {
		t.CancelJobs()
	}
	b.jobManager.Shutdown()
}

// String renders a short diagnostic summary, useful for cmd/planetd's
// status output.
func (b *Body) String() string {
	return fmt.Sprintf("body{rows=%d cols=%d maxLevel=%d splitDistance=%.0f rasterLayers=%d elevationLayers=%d}",
		b.rows, b.columns, b.maxLevel, b.splitDistance, len(b.rasterStack.Layers), len(b.elevationStack.Layers))
}
