// Package quadtree implements the Tile state machine: LEAF-LOW,
// SPLITTING, PARENT, COLLAPSING, with the cull/split decision and the
// update tick that applies completed job results back onto the scene
// graph. Only the traversal goroutine may call Cull/Update; jobs run on
// worker goroutines and communicate results solely through *jobs.Handle
// polling, never by mutating a Tile directly.
//
// State transitions:
//
//  1. LEAF-LOW: one render child (mesh+texture group). Entered on
//     construction and whenever a PARENT collapses.
//  2. SPLITTING: a tile-build job for this tile's four children is
//     outstanding; traversal keeps drawing this tile's own LOW content.
//  3. PARENT: four children exist and a second render child holds them;
//     cull traversal draws the child group. The LOW content remains
//     resident so a subsequent collapse is free (no rebuild).
//  4. COLLAPSING: children are marked for clearing; the next Update call
//     discards the child group and the children themselves, and the tile
//     returns to LEAF-LOW.
//
// Dirty bits (VERTICES, TEXTURE, IMAGE, VECTOR) are set either by a
// broadcast from the owning Body (global alpha change, layer add/remove)
// or by local job completion, and are cleared only once the corresponding
// data has been installed and is visible to the next render — never
// before, so a half-updated tile is never drawn as though it were current.
package quadtree

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/MeKo-Tech/planetcore/internal/elevation/grid"
	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
	"github.com/MeKo-Tech/planetcore/internal/geo/landmodel"
	"github.com/MeKo-Tech/planetcore/internal/jobs"
	"github.com/MeKo-Tech/planetcore/internal/mesh"
	"github.com/MeKo-Tech/planetcore/internal/vector"
)

// State is the tile's position in the LEAF-LOW/SPLITTING/PARENT/COLLAPSING
// machine.
type State int

const (
	LeafLow State = iota
	Splitting
	Parent
	Collapsing
)

func (s State) String() string {
	switch s {
	case LeafLow:
		return "LEAF-LOW"
	case Splitting:
		return "SPLITTING"
	case Parent:
		return "PARENT"
	case Collapsing:
		return "COLLAPSING"
	default:
		return "UNKNOWN"
	}
}

// DirtyFlags is a bitmask of what about a tile needs rebuilding.
type DirtyFlags uint8

const (
	Vertices DirtyFlags = 1 << iota
	Texture
	Image
	VectorFlag
)

// Services are the constructor-injected dependencies a Tile needs to
// build its own content — the explicit-injection replacement for the
// global-singleton pattern a C++ scene graph would use (no package-level
// land model, job pool, or layer stack; every Tile is handed its Services
// once, at construction, and never reaches for ambient state).
type Services struct {
	Jobs           *jobs.Manager
	MeshOptions    mesh.Options
	LandModel      landmodel.LandModel
	BuildTexture func(ctx context.Context, key extents.TileKey) (image.Image, error)
	// BuildElevation merges this tile's own elevation sources. parentGrid is
	// the current elevation grid of this tile's parent (nil for a root tile
	// or a parent with no grid yet), passed so the implementation can
	// resample it as a fallback when no source covers this tile's extent.
	BuildElevation func(ctx context.Context, key extents.TileKey, parentGrid *grid.Grid) (*grid.Grid, error)
	VectorSource   vector.VectorSource
	SplitDistance  float64 // meters; squared internally for comparison
	MaxLevel       int
}

// SplitCallback lets an embedder override the traversal's own split
// suggestion for a tile, so detail can be forced near markers, a selected
// path, or the current camera target regardless of plain eye distance.
// ShouldSplit is queried once per tile per Cull pass with the traversal's
// own suggestion (false once the tile is far away, the eye position is
// invalid, or the tile is already at the max level) and returns the final
// decision.
type SplitCallback interface {
	ShouldSplit(suggestHigh bool, tile *Tile) bool
}

// PassThroughSplitCallback is the default SplitCallback: it returns the
// traversal's own suggestion unchanged.
type PassThroughSplitCallback struct{}

func (PassThroughSplitCallback) ShouldSplit(suggestHigh bool, _ *Tile) bool { return suggestHigh }

// handle is the weak back-reference a Tile hands to its children: Go has
// no weak pointers, so teardown nils the embedded pointer under the
// owning Tile's mutex, and every caller checks get() for nil before
// touching anything, exactly the pattern used for tile-to-Body links in
// internal/body.
type handle struct {
	mu   sync.Mutex
	tile *Tile
}

func (h *handle) get() *Tile {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tile
}

func (h *handle) clear() {
	h.mu.Lock()
	h.tile = nil
	h.mu.Unlock()
}

// Tile is one quadtree node.
type Tile struct {
	mu sync.Mutex

	key   extents.TileKey
	state State
	dirty DirtyFlags

	svc Services

	mesh      *mesh.Mesh
	texture   image.Image
	elevation *grid.Grid
	vectorInh *vector.Inherited

	children        [4]*Tile
	pendingChildren [4]*Tile
	parent          *handle
	self            *handle

	splitJob     *jobs.Handle
	textureJob   *jobs.Handle
	elevationJob *jobs.Handle
	vectorJob    *jobs.Handle

	childrenPendingDelete bool
}

// New constructs a LEAF-LOW tile. parentVector, if non-nil, seeds this
// tile's inherited vector data (nil for a Body root tile).
func New(key extents.TileKey, svc Services, parentVector *vector.FeatureSet) *Tile {
	t := &Tile{
		key:       key,
		state:     LeafLow,
		dirty:     Vertices | Texture | Image | VectorFlag,
		svc:       svc,
		vectorInh: vector.NewInherited(parentVector),
	}
	t.self = &handle{tile: t}
	t.mesh = mesh.Build(key, nil, svc.LandModel, svc.MeshOptions)
	// No job is outstanding yet, so the busy border starts off.
	t.mesh.HasBorder = false
	return t
}

// Key returns the tile's immutable identity.
func (t *Tile) Key() extents.TileKey {
	return t.key
}

// State returns the tile's current state. Safe for concurrent use; it is
// a value copy, not a reference into tile internals.
func (t *Tile) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Dirty returns the current dirty bitmask.
func (t *Tile) Dirty() DirtyFlags {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty
}

// ClearDirty unsets flags once the corresponding data has been installed.
func (t *Tile) ClearDirty(flags DirtyFlags) {
	t.mu.Lock()
	t.dirty &^= flags
	t.mu.Unlock()
}

// MarkDirty ORs in flags, restricted to tiles whose extents intersect
// region (or unconditionally if region is nil), matching
// Dirty(flags, recursive, extents?) from the distilled design. recursive
// additionally marks all current children.
func (t *Tile) MarkDirty(flags DirtyFlags, recursive bool, region *extents.Extents) {
	t.mu.Lock()
	if region == nil || t.key.Extents.Intersects(*region) {
		t.dirty |= flags
	}
	children := t.children
	t.mu.Unlock()

	if !recursive {
		return
	}
	for _, c := range children {
		if c != nil {
			c.MarkDirty(flags, recursive, region)
		}
	}
}

// Mesh returns the tile's current triangle mesh. Never nil after
// construction.
func (t *Tile) Mesh() *mesh.Mesh {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mesh
}

// Texture returns the tile's current composited texture, or nil if none
// has been built yet.
func (t *Tile) Texture() image.Image {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.texture
}

// Elevation returns the tile's current elevation grid, or nil if none has
// been built yet (the mesh is then flat, sampled at height 0).
func (t *Tile) Elevation() *grid.Grid {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elevation
}

// Vector returns the tile's currently active vector data, inherited from
// its parent until its own refine job swaps it in.
func (t *Tile) Vector() *vector.FeatureSet {
	return t.vectorInh.Get()
}

// Children returns the tile's four children, or all nil if not currently
// a PARENT.
func (t *Tile) Children() [4]*Tile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.children
}

// DistanceSquaredTo reports the squared distance from eye to this tile's
// bounding sphere surface, the quantity the split/collapse threshold
// compares against.
func (t *Tile) DistanceSquaredTo(eye landmodel.Vec3) float64 {
	t.mu.Lock()
	m := t.mesh
	t.mu.Unlock()
	if m == nil {
		return 0
	}
	return m.SmallestDistanceSquared(eye)
}

// ShouldSplit reports whether, given distSq to the eye, a LEAF-LOW tile at
// this level is a split candidate. A tile already at MaxLevel never
// splits, the hard floor on subdivision depth.
func (t *Tile) ShouldSplit(distSq float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != LeafLow {
		return false
	}
	if t.svc.MaxLevel > 0 && t.key.Level >= t.svc.MaxLevel {
		return false
	}
	threshold := t.svc.SplitDistance * t.svc.SplitDistance
	return distSq < threshold
}

// ShouldCollapse reports whether a PARENT tile should begin collapsing
// given distSq to the eye. A 2x hysteresis factor on distance (4x on
// distSq) keeps a tile right at the threshold from oscillating split and
// collapse every frame.
func (t *Tile) ShouldCollapse(distSq float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Parent {
		return false
	}
	threshold := t.svc.SplitDistance * t.svc.SplitDistance * 4
	return distSq > threshold
}

// RequestSplit transitions a LEAF-LOW tile to SPLITTING and submits a
// BuildTiles job for its four children. A no-op if the tile isn't
// LEAF-LOW (e.g. a concurrent caller already requested the split).
func (t *Tile) RequestSplit() {
	t.mu.Lock()
	if t.state != LeafLow {
		t.mu.Unlock()
		return
	}
	t.state = Splitting
	t.mu.Unlock()

	job := jobs.NewBuildTilesJob(t.key, func(ctx context.Context, _ extents.TileKey) error {
		return t.buildChildren(ctx)
	})

	t.mu.Lock()
	t.splitJob = t.svc.Jobs.Submit(job)
	t.mu.Unlock()
}

// buildChildren constructs the four child tiles off the traversal
// goroutine; they are staged into pendingChildren and only published into
// t.children during Update, so cull traversal never observes a partially
// built child group.
func (t *Tile) buildChildren(ctx context.Context) error {
	t.mu.Lock()
	key := t.key
	svc := t.svc
	parentVector := t.vectorInh.Get()
	t.mu.Unlock()

	ll, lr, ul, ur := key.Split()
	keys := [4]extents.TileKey{ll, lr, ul, ur}

	var built [4]*Tile
	for i, k := range keys {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		built[i] = New(k, svc, parentVector)
	}

	t.mu.Lock()
	t.pendingChildren = built
	t.mu.Unlock()
	return nil
}

// RequestTextureBuild submits a BuildRaster job for this tile's TEXTURE
// dirty bit, if one isn't already outstanding. The result is installed by
// Update once the job completes.
func (t *Tile) RequestTextureBuild() {
	t.mu.Lock()
	if t.svc.BuildTexture == nil || (t.dirty&Texture) == 0 || (t.textureJob != nil && !t.textureJob.IsDone()) {
		t.mu.Unlock()
		return
	}
	key := t.key
	t.mu.Unlock()

	job := jobs.NewBuildRasterJob(key, func(ctx context.Context, tk extents.TileKey) error {
		img, err := t.svc.BuildTexture(ctx, tk)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.texture = img
		t.mu.Unlock()
		return nil
	})

	t.mu.Lock()
	t.textureJob = t.svc.Jobs.Submit(job)
	t.mu.Unlock()
}

// RequestElevationBuild submits a BuildElevation job for this tile's
// VERTICES dirty bit, if one isn't already outstanding. A successful
// result triggers a mesh rebuild so the new heights are reflected. The
// parent's current elevation grid, if any, is captured up front and handed
// to BuildElevation so a tile with no covering source of its own resamples
// the parent instead of going flat.
func (t *Tile) RequestElevationBuild() {
	t.mu.Lock()
	if t.svc.BuildElevation == nil || (t.dirty&Vertices) == 0 || (t.elevationJob != nil && !t.elevationJob.IsDone()) {
		t.mu.Unlock()
		return
	}
	key := t.key
	parent := t.parent.get()
	t.mu.Unlock()

	var parentGrid *grid.Grid
	if parent != nil {
		parentGrid = parent.Elevation()
	}

	job := jobs.NewBuildElevationJob(key, func(ctx context.Context, tk extents.TileKey) error {
		g, err := t.svc.BuildElevation(ctx, tk, parentGrid)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.elevation = g
		t.mesh = mesh.Build(t.key, g, t.svc.LandModel, t.svc.MeshOptions)
		t.mu.Unlock()
		return nil
	})

	t.mu.Lock()
	t.elevationJob = t.svc.Jobs.Submit(job)
	t.mu.Unlock()
}

// RequestVectorRefine submits a TileVectorJob that swaps this tile's
// inherited vector data for its own extent-refined set, if VECTOR is
// dirty and no refine job is already outstanding.
func (t *Tile) RequestVectorRefine() {
	t.mu.Lock()
	if t.svc.VectorSource == nil || (t.dirty&VectorFlag) == 0 || (t.vectorJob != nil && !t.vectorJob.IsDone()) {
		t.mu.Unlock()
		return
	}
	key := t.key
	work := vector.BuildRefineJob(t.svc.VectorSource, t.vectorInh)
	t.mu.Unlock()

	job := jobs.NewTileVectorJob(key, work)

	t.mu.Lock()
	t.vectorJob = t.svc.Jobs.Submit(job)
	t.mu.Unlock()
}

// reconcileContentJobs clears the dirty bits whose build job has finished
// successfully. A job that failed or was canceled leaves the bit set so a
// later Cull/Update pass retries it.
func (t *Tile) reconcileContentJobs() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.textureJob != nil && t.textureJob.IsDone() {
		if t.textureJob.Success() {
			// This core has no separate GPU-upload stage, so a completed
			// texture build satisfies both the decoded-image and the
			// texture dirty bits at once.
			t.dirty &^= Texture | Image
		}
		t.textureJob = nil
	}
	if t.elevationJob != nil && t.elevationJob.IsDone() {
		if t.elevationJob.Success() {
			t.dirty &^= Vertices
		}
		t.elevationJob = nil
	}
	if t.vectorJob != nil && t.vectorJob.IsDone() {
		if t.vectorJob.Success() {
			t.dirty &^= VectorFlag
		}
		t.vectorJob = nil
	}
}

// updateBorderVisibility turns the debug border on for as long as this
// tile has any outstanding job, off once it goes idle, so the border is a
// live "this tile is busy" indicator rather than a static construction-time
// flag. A no-op when UseBorders was never requested for this tile.
func (t *Tile) updateBorderVisibility() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.svc.MeshOptions.UseBorders || t.mesh == nil {
		return
	}
	busy := outstanding(t.splitJob) || outstanding(t.textureJob) ||
		outstanding(t.elevationJob) || outstanding(t.vectorJob)
	t.mesh.HasBorder = busy
}

func outstanding(h *jobs.Handle) bool {
	return h != nil && !h.IsDone()
}

// Update is the per-frame tick that applies completed job results. It
// must be called once per frame from the traversal goroutine, after the
// cull pass has had a chance to submit new work via RequestSplit or
// RequestCollapse. Ordering guarantee: dirty bits clear only after the
// corresponding data is installed, and a SPLITTING tile's child group
// attaches atomically (cull can't observe a half-built PARENT).
func (t *Tile) Update(ctx context.Context) {
	defer t.updateBorderVisibility()

	t.mu.Lock()
	state := t.state
	splitJob := t.splitJob
	t.mu.Unlock()

	t.reconcileContentJobs()

	switch state {
	case Splitting:
		if splitJob == nil || !splitJob.IsDone() {
			return
		}
		t.mu.Lock()
		if splitJob.Success() {
			t.children = t.pendingChildren
			for _, c := range t.children {
				if c != nil {
					c.parent = t.self
				}
			}
			t.state = Parent
			t.dirty |= Vertices
		} else {
			// Failed or canceled: stay LEAF-LOW, per the error-handling
			// rule that a transient failure doesn't poison the tile, it
			// just means this frame's split attempt didn't happen.
			t.state = LeafLow
		}
		t.splitJob = nil
		t.pendingChildren = [4]*Tile{}
		t.mu.Unlock()

	case Collapsing:
		t.mu.Lock()
		children := t.children
		t.children = [4]*Tile{}
		t.childrenPendingDelete = false
		t.state = LeafLow
		t.mu.Unlock()

		for _, c := range children {
			if c != nil {
				c.teardown()
			}
		}
	}
}

// RequestCollapse transitions a PARENT tile to COLLAPSING and cancels
// every outstanding job belonging to its children, the cooperative
// cancellation required when the eye retreats mid-build.
func (t *Tile) RequestCollapse() {
	t.mu.Lock()
	if t.state != Parent {
		t.mu.Unlock()
		return
	}
	t.state = Collapsing
	t.childrenPendingDelete = true
	children := t.children
	t.mu.Unlock()

	for _, c := range children {
		if c != nil {
			c.CancelJobs()
		}
	}
}

// CancelJobs cancels every outstanding job this tile owns (split,
// texture, elevation, vector), recursively for its current children —
// culling a subtree cancels the whole subtree's work, not just its root.
func (t *Tile) CancelJobs() {
	t.mu.Lock()
	jobsToCancel := []*jobs.Handle{t.splitJob, t.textureJob, t.elevationJob, t.vectorJob}
	children := t.children
	t.mu.Unlock()

	for _, h := range jobsToCancel {
		if h != nil {
			h.Cancel()
		}
	}
	for _, c := range children {
		if c != nil {
			c.CancelJobs()
		}
	}
}

// teardown nils this tile's weak self-handle and cancels its jobs,
// recursively for children. Run once a tile is removed from the scene
// graph for good, as opposed to merely collapsed: a collapsed PARENT's
// children are gone, but the PARENT itself survives as a LEAF-LOW node.
func (t *Tile) teardown() {
	t.CancelJobs()
	t.mu.Lock()
	if t.self != nil {
		t.self.clear()
	}
	children := t.children
	t.children = [4]*Tile{}
	t.mu.Unlock()
	for _, c := range children {
		if c != nil {
			c.teardown()
		}
	}
}

// Walk traverses t and its descendants pre-order, the generalization of a
// C++ Visitor over the scene graph: fn returning false prunes that
// subtree (its children are not visited) rather than stopping the whole
// walk.
func (t *Tile) Walk(fn func(*Tile) bool) {
	if t == nil || !fn(t) {
		return
	}
	for _, c := range t.Children() {
		if c != nil {
			c.Walk(fn)
		}
	}
}

// Validate checks the scene-graph invariants: a PARENT has exactly its
// four children, and every child's extents exactly match the quadrant
// TileKey.Split would produce, so two siblings can never share a child
// slot and a child's extents can never drift from its key's extents.
func (t *Tile) Validate() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Parent {
		return nil
	}
	ll, lr, ul, ur := t.key.Split()
	want := [4]extents.TileKey{ll, lr, ul, ur}
	for i, c := range t.children {
		if c == nil {
			return fmt.Errorf("quadtree: tile %s PARENT missing child %d", t.key.String(), i)
		}
		if !c.key.Extents.Equal(want[i].Extents) {
			return fmt.Errorf("quadtree: tile %s child %d extents mismatch", t.key.String(), i)
		}
	}
	return nil
}
