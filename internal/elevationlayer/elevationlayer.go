// Package elevationlayer is the elevation counterpart of internal/raster:
// the same cache-first/source-fallback contract, but producing float grids
// instead of RGBA images, merged first-non-no-data-wins instead of
// alpha-blended.
package elevationlayer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/planetcore/internal/diskcache"
	"github.com/MeKo-Tech/planetcore/internal/elevation/grid"
	"github.com/MeKo-Tech/planetcore/internal/encode"
	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
)

// Source is the variant-specific elevation fetch contract, mirroring
// raster.Source: (nil, nil) declines the tile.
type Source interface {
	Fetch(ctx context.Context, tileKey extents.TileKey, width, height int) (*grid.Grid, error)
}

// Layer wraps a Source with visibility, extents, and level range, caching
// grids through the Terrarium codec so they share internal/diskcache with
// raster imagery instead of needing a bespoke binary format.
type Layer struct {
	Name        string
	ContentHash string
	Source      Source

	Visible  bool
	Extents  extents.Extents
	MinLevel int
	MaxLevel int

	cache    *diskcache.Cache
	terrarium *encode.TerrariumCodec
	log      *slog.Logger

	maxAttempts  int
	retryBackoff time.Duration
	failCooldown time.Duration
}

// Options configures a Layer.
type Options struct {
	Cache        *diskcache.Cache
	Logger       *slog.Logger
	MaxAttempts  int
	RetryBackoff time.Duration
	FailCooldown time.Duration
}

// NewLayer builds a Layer with the same defaulting posture as
// raster.NewLayer.
func NewLayer(name, contentHash string, src Source, opts Options) *Layer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.FailCooldown <= 0 {
		opts.FailCooldown = 5 * time.Minute
	}

	return &Layer{
		Name:         name,
		ContentHash:  contentHash,
		Source:       src,
		Visible:      true,
		Extents:      extents.Global(),
		cache:        opts.Cache,
		terrarium:    &encode.TerrariumCodec{},
		log:          opts.Logger.With("elevation_layer", name),
		maxAttempts:  opts.MaxAttempts,
		retryBackoff: opts.RetryBackoff,
		failCooldown: opts.FailCooldown,
	}
}

func (l *Layer) Key() diskcache.Key {
	return diskcache.Key{KindName: l.Name, ContentHash: l.ContentHash}
}

// InRange mirrors raster.Layer.InRange.
func (l *Layer) InRange(tileKey extents.TileKey) bool {
	if !l.Visible {
		return false
	}
	if !l.Extents.Intersects(tileKey.Extents) {
		return false
	}
	if tileKey.Level < l.MinLevel {
		return false
	}
	if l.MaxLevel > 0 && tileKey.Level > l.MaxLevel {
		return false
	}
	return true
}

// Fetch resolves tileKey to a Grid: cache first (decoded via the
// Terrarium codec), then the source, with the same retry/backoff/failure
// sidecar posture as raster.Layer.Texture.
func (l *Layer) Fetch(ctx context.Context, tileKey extents.TileKey, width, height int) (*grid.Grid, error) {
	if !l.InRange(tileKey) {
		return nil, nil
	}

	if l.cache != nil {
		path, status := l.cache.Get(l.Key(), tileKey, width, height, l.terrarium.Extension())
		if status == diskcache.FileOK {
			if g, err := l.readCachedGrid(path, width, height); err == nil && g != nil {
				return g, nil
			}
		}
		if last, ok := l.cache.LastFailure(l.Key(), tileKey); ok {
			if time.Since(time.Unix(last, 0)) < l.failCooldown {
				return nil, nil
			}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		g, err := l.Source.Fetch(ctx, tileKey, width, height)
		if err != nil {
			lastErr = err
			l.log.Warn("elevation fetch attempt failed", "tile", tileKey.String(), "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.retryBackoff * time.Duration(attempt)):
			}
			continue
		}
		if g == nil {
			return nil, nil
		}

		if l.cache != nil {
			if path, ok := l.cache.Path(l.Key(), tileKey, width, height, l.terrarium.Extension()); ok {
				data, encErr := l.terrarium.EncodeGrid(g.Width, g.Height, toFloat64(g.Samples), isNoData64)
				if encErr == nil {
					if werr := writeRaw(path, data); werr != nil {
						l.log.Warn("cache write failed", "tile", tileKey.String(), "error", werr)
					}
				}
			}
		}
		return g, nil
	}

	if l.cache != nil {
		l.cache.RecordFailure(l.Key(), tileKey)
	}
	l.log.Warn("elevation fetch exhausted retries", "tile", tileKey.String(), "attempts", l.maxAttempts, "error", lastErr)
	return nil, fmt.Errorf("elevationlayer: fetch %s after %d attempts: %w", tileKey.String(), l.maxAttempts, lastErr)
}

func (l *Layer) readCachedGrid(path string, width, height int) (*grid.Grid, error) {
	data, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	w, h, samples64, err := l.terrarium.DecodeGrid(data, float64(grid.NoData))
	if err != nil {
		return nil, nil
	}
	if w != width || h != height {
		return nil, nil
	}
	g := grid.New(w, h)
	for i, v := range samples64 {
		g.Samples[i] = float32(v)
	}
	return g, nil
}

func toFloat64(samples []float32) []float64 {
	out := make([]float64, len(samples))
	for i, v := range samples {
		out[i] = float64(v)
	}
	return out
}

func isNoData64(v float64) bool { return v == float64(grid.NoData) }

// Stack is an ordered list of elevation layers.
type Stack struct {
	Layers []*Layer
}

// Merge fetches every in-range layer for tileKey and merges them
// first-non-no-data-wins per cell, preserving grid.NoData everywhere no
// layer contributed a real sample. contributed reports whether any layer
// covered this tile at all; a false value is the signal internal/body uses
// to resample the tile's parent grid instead of handing back an empty one.
func (s *Stack) Merge(ctx context.Context, tileKey extents.TileKey, width, height int) (out *grid.Grid, contributed bool, err error) {
	out = grid.New(width, height)

	for _, layer := range s.Layers {
		if !layer.InRange(tileKey) {
			continue
		}
		g, ferr := layer.Fetch(ctx, tileKey, width, height)
		if ferr != nil {
			return nil, false, fmt.Errorf("elevationlayer: merge layer %s: %w", layer.Name, ferr)
		}
		if g == nil {
			continue
		}
		if g.Width != width || g.Height != height {
			return nil, false, fmt.Errorf("elevationlayer: layer %s produced %dx%d, expected %dx%d",
				layer.Name, g.Width, g.Height, width, height)
		}

		for i, v := range g.Samples {
			if grid.IsNoData(out.Samples[i]) && !grid.IsNoData(v) {
				out.Samples[i] = v
				contributed = true
			}
		}
	}

	return out, contributed, nil
}
