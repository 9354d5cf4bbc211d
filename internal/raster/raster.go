// Package raster implements the raster-layer stack: a polymorphic
// RasterSource (network/file/static/directory-backed) wrapped by a
// RasterLayer that adds visibility, extents, level range, and alpha, fed
// through the shared internal/diskcache and internal/encode packages the
// way the teacher's datasource.FetchQueue feeds a fixed Overpass backend.
package raster

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/planetcore/internal/diskcache"
	"github.com/MeKo-Tech/planetcore/internal/encode"
	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
	"golang.org/x/image/draw"
)

// resampleToSize returns img unchanged if it already measures (width,
// height), otherwise a Catmull-Rom resample to that size. A Source is
// free to return its native resolution rather than matching the request
// exactly (a file- or directory-backed source serving a fixed asset,
// say); the compositor stack requires every layer's texture to match
// the tile's pixel size, so this is enforced once here rather than in
// every Source implementation.
func resampleToSize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Source is the variant-specific fetch contract. A Source may decline a
// tile by returning (nil, nil) — outside its extents, or its level range —
// which is not an error the caller must special-case.
type Source interface {
	// Fetch retrieves raw encoded bytes (not yet decoded) for tileKey at
	// the requested pixel size, or (nil, nil, "") if this source has
	// nothing for that tile.
	Fetch(ctx context.Context, tileKey extents.TileKey, width, height int) (data []byte, ext string, err error)
}

// Key identifies the layer for cache and failure-tracking purposes.
func (l *Layer) Key() diskcache.Key {
	return diskcache.Key{KindName: l.Name, ContentHash: l.ContentHash}
}

// PerColorAlpha maps an exact source RGB triple to an override alpha,
// consulted by the compositor ahead of layerAlpha*srcAlpha.
type PerColorAlpha map[[3]uint8]uint8

// Layer wraps a Source with visibility, extents, level range, and alpha —
// the polymorphism the distilled design calls out is carried entirely in
// which Source implementation a Layer holds, not in a type switch here.
type Layer struct {
	Name        string
	ContentHash string
	Source      Source

	Visible    bool
	Extents    extents.Extents
	MinLevel   int
	MaxLevel   int // 0 means unbounded
	Alpha      float64
	PerColor   PerColorAlpha
	PreferExt  string // codec extension this layer writes on cache miss

	cache    *diskcache.Cache
	registry *encode.Registry
	log      *slog.Logger

	maxAttempts  int
	retryBackoff time.Duration
	failCooldown time.Duration
}

// Options configures a Layer's cache and retry behavior.
type Options struct {
	Cache        *diskcache.Cache
	Registry     *encode.Registry
	Logger       *slog.Logger
	MaxAttempts  int
	RetryBackoff time.Duration
	FailCooldown time.Duration
}

// NewLayer builds a Layer. Defaults mirror the teacher's
// DefaultFetchQueueConfig pattern: sensible non-zero values when the
// caller leaves Options fields at zero.
func NewLayer(name, contentHash string, src Source, opts Options) *Layer {
	if opts.Registry == nil {
		opts.Registry = encode.DefaultRegistry()
	}
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
		Alpha:        1.0,
		PreferExt:    "png",
		cache:        opts.Cache,
		registry:     opts.Registry,
		log:          opts.Logger.With("layer", name),
		maxAttempts:  opts.MaxAttempts,
		retryBackoff: opts.RetryBackoff,
		failCooldown: opts.FailCooldown,
	}
}

// InRange reports whether tileKey is within this layer's extents and level
// bounds, the precondition the compositor checks before calling Texture.
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

// Texture resolves tileKey to an RGBA8 image at (width, height): cache
// first, then the source, retrying up to maxAttempts with linear backoff
// and recording a cache failure sidecar on the last attempt so later
// sessions skip re-requesting until failCooldown elapses.
func (l *Layer) Texture(ctx context.Context, tileKey extents.TileKey, width, height int) (image.Image, error) {
	if !l.InRange(tileKey) {
		return nil, nil
	}

	if l.cache != nil {
		path, status := l.cache.Get(l.Key(), tileKey, width, height, l.PreferExt)
		if status == diskcache.FileOK {
			img, err := l.cache.ReadImage(path, l.registry)
			if err == nil && img != nil {
				return resampleToSize(img, width, height), nil
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
		data, ext, err := l.Source.Fetch(ctx, tileKey, width, height)
		if err != nil {
			lastErr = err
			l.log.Warn("fetch attempt failed", "tile", tileKey.String(), "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.retryBackoff * time.Duration(attempt)):
			}
			continue
		}
		if data == nil {
			return nil, nil
		}

		codec, ok := l.registry.For(ext)
		if !ok {
			return nil, encode.ErrUnsupportedFormat(ext)
		}
		img, err := codec.Decode(data)
		if err != nil {
			lastErr = err
			continue
		}
		img = resampleToSize(img, width, height)

		if l.cache != nil {
			if path, _ := l.cache.Path(l.Key(), tileKey, width, height, codec.Extension()); path != "" {
				if werr := l.cache.WriteImage(path, img, codec); werr != nil {
					l.log.Warn("cache write failed", "tile", tileKey.String(), "error", werr)
				}
			}
		}
		return img, nil
	}

	if l.cache != nil {
		l.cache.RecordFailure(l.Key(), tileKey)
	}
	l.log.Warn("fetch exhausted retries", "tile", tileKey.String(), "attempts", l.maxAttempts, "error", lastErr)
	return nil, fmt.Errorf("raster: fetch %s after %d attempts: %w", tileKey.String(), l.maxAttempts, lastErr)
}

// Stack is an ordered list of layers in compositing order: index 0 is
// drawn first and each later layer is blended over it.
type Stack struct {
	Layers []*Layer
}

// VisibleAt returns the layers that would contribute to tileKey, in stack
// order, without fetching anything.
func (s *Stack) VisibleAt(tileKey extents.TileKey) []*Layer {
	var out []*Layer
	for _, l := range s.Layers {
		if l.InRange(tileKey) {
			out = append(out, l)
		}
	}
	return out
}

// httpClient is the default client used by NetworkSource; exposed as a
// package var so tests can swap in one pointed at httptest.Server.
var httpClient = &http.Client{Timeout: 30 * time.Second}
