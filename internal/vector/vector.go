// Package vector implements the per-tile vector refinement pipeline: a
// planet-wide VectorSource (grounded on the teacher's OverpassDataSource)
// supplies a coarse FeatureSet that tiles inherit from their parent, and a
// per-tile VectorJob clips/refines that inherited set down to the tile's
// own extents, replacing the inherited pointer exactly once.
package vector

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
	"github.com/paulmach/orb"
)

// Feature is a single geographic feature clipped/refined for one tile,
// mirroring the teacher's types.Feature shape without the watercolor
// rendering category split — category is carried as a free-form tag
// instead of a fixed FeatureType enum, since the set of tags a planetary
// body needs is open-ended in a way OSM road/water/park never was.
type Feature struct {
	ID         string
	Geometry   orb.Geometry
	Properties map[string]any
}

// FeatureSet groups features fetched or refined for one extent.
type FeatureSet struct {
	Features []Feature
}

// VectorSource fetches raw features for an extent, the planet-wide
// counterpart of raster.Source: (nil, nil) declines (extent outside the
// source's coverage).
type VectorSource interface {
	Fetch(ctx context.Context, ext extents.Extents) (*FeatureSet, error)
}

// Inherited holds the vector data a tile currently has to draw from: it
// starts as a nilable pointer to the parent's FeatureSet (set at
// construction, before any job runs) and is replaced, at most once per
// tile's lifetime, by the tile's own refined FeatureSet once its
// TileVectorJob completes. current is an atomic pointer rather than a
// plain field because Swap runs on a jobs.Manager worker goroutine while
// Get is read from the traversal goroutine, with no other synchronization
// between the two. The "replaced at most once" rule is enforced by
// swapped, a separate atomic flag guarding the compare-and-swap: once
// replaced, the tile never reverts to its parent's data even if a later
// refine job is requested (a fresh tile/Inherited is created instead, the
// way Split always creates fresh child Tiles).
type Inherited struct {
	current atomic.Pointer[FeatureSet]
	swapped atomic.Bool
}

// NewInherited seeds a tile's vector data from its parent (or nil for a
// root tile with no inherited data yet).
func NewInherited(fromParent *FeatureSet) *Inherited {
	inh := &Inherited{}
	inh.current.Store(fromParent)
	return inh
}

// Get returns the currently active FeatureSet — the parent's until Swap is
// called, this tile's own refined set afterward. Safe to call
// concurrently with Swap; callers get either the old or new pointer, never
// a half-updated one, since FeatureSet itself is treated as immutable
// once published and current is an atomic pointer.
func (inh *Inherited) Get() *FeatureSet {
	return inh.current.Load()
}

// Swap installs own as this tile's FeatureSet. Only the first call takes
// effect; subsequent calls are no-ops, enforcing "replaced at most once"
// via an atomic CompareAndSwap rather than a mutex on the hot Get() path.
func (inh *Inherited) Swap(own *FeatureSet) {
	if !inh.swapped.CompareAndSwap(false, true) {
		return
	}
	inh.current.Store(own)
}

// Swapped reports whether this tile's own refined data has replaced the
// inherited parent data yet.
func (inh *Inherited) Swapped() bool { return inh.swapped.Load() }

// Refine clips src down to ext, keeping every feature whose geometry
// bound intersects ext. This is the per-tile "refinement" a TileVectorJob
// performs; a real geometry clip (not just a bound filter) belongs to a
// full clipping library, but bound-filtering is sufficient to bound the
// feature count a tile needs to render or re-query against.
func Refine(src *FeatureSet, ext extents.Extents) *FeatureSet {
	if src == nil {
		return &FeatureSet{}
	}
	out := &FeatureSet{Features: make([]Feature, 0, len(src.Features))}
	for _, f := range src.Features {
		bound := f.Geometry.Bound()
		featExt := extents.New(bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1])
		if ext.Intersects(featExt) {
			out.Features = append(out.Features, f)
		}
	}
	return out
}

// BuildRefineJob returns the closure a jobs.TileVectorJob runs: fetch
// (or reuse) this tile's own data from src and swap it into inh. Declared
// here (rather than constructing a *jobs.TileVectorJob directly) to avoid
// an import cycle between internal/vector and internal/jobs.
func BuildRefineJob(src VectorSource, inh *Inherited) func(ctx context.Context, tileKey extents.TileKey) error {
	return func(ctx context.Context, tileKey extents.TileKey) error {
		fetched, err := src.Fetch(ctx, tileKey.Extents)
		if err != nil {
			return fmt.Errorf("vector: refine %s: %w", tileKey.String(), err)
		}
		if fetched == nil {
			fetched = Refine(inh.Get(), tileKey.Extents)
		}
		inh.Swap(fetched)
		return nil
	}
}
