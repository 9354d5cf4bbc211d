// Package synth provides procedural raster and elevation sources for
// offline demo use, when no network imagery or DEM file is configured.
// It adapts the teacher's internal/mask Perlin-noise and blur utilities
// (originally built to generate organic watercolor mask edges) into a
// seamless, globally-aligned terrain generator: the same noise field
// sampled at different tile offsets tiles without visible seams, which
// is exactly the alignment guarantee internal/mask's
// GeneratePerlinNoiseWithOffset already provides.
package synth

import (
	"context"
	"image"
	"image/color"

	"github.com/MeKo-Tech/planetcore/internal/elevation/grid"
	"github.com/MeKo-Tech/planetcore/internal/encode"
	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
	"github.com/MeKo-Tech/planetcore/internal/mask"
)

// degreesToPixels maps a tile's extents to a stable global pixel offset
// so adjacent tiles sample contiguous regions of the same noise field,
// regardless of level: 1 degree of longitude/latitude is always
// pixelsPerDegree pixels in the synthetic noise space.
const pixelsPerDegree = 256

func globalOffset(ext extents.Extents) (offsetX, offsetY int) {
	return int(ext.MinLon() * pixelsPerDegree), int(ext.MinLat() * pixelsPerDegree)
}

// RasterSource generates a grayscale Perlin terrain colorized into a
// green-to-brown-to-white elevation tint, standing in for satellite or
// aerial imagery during offline demos.
type RasterSource struct {
	Seed  int64
	Scale float64 // noise frequency divisor; larger is smoother
}

// NewRasterSource builds a RasterSource with the teacher's own default
// noise scale (internal/mask's callers use 64-256 for tile-sized output).
func NewRasterSource(seed int64) *RasterSource {
	return &RasterSource{Seed: seed, Scale: 96}
}

func (s *RasterSource) Fetch(_ context.Context, tileKey extents.TileKey, width, height int) ([]byte, string, error) {
	offX, offY := globalOffset(tileKey.Extents)
	noise := mask.GeneratePerlinNoiseWithOffset(width, height, s.Scale, s.Seed, offX, offY)

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	bounds := noise.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := noise.GrayAt(x, y).Y
			img.SetNRGBA(x, y, terrainTint(v))
		}
	}

	codec := &encode.PNGCodec{}
	data, err := codec.Encode(img)
	if err != nil {
		return nil, "", err
	}
	return data, "png", nil
}

// terrainTint maps a noise level to a rough elevation-tinted color: deep
// green at low values, brown through the midrange, white above the
// synthetic snowline.
func terrainTint(v uint8) color.NRGBA {
	switch {
	case v < 110:
		return color.NRGBA{R: 34, G: 85 + v/3, B: 34, A: 255}
	case v < 200:
		t := v - 110
		return color.NRGBA{R: 110 + t/2, G: 90 + t/3, B: 60, A: 255}
	default:
		return color.NRGBA{R: 235, G: 235, B: 245, A: 255}
	}
}

// ElevationSource generates a Perlin heightfield at the same global
// alignment as RasterSource, scaled to AmplitudeMeters.
type ElevationSource struct {
	Seed            int64
	Scale           float64
	AmplitudeMeters float64
}

// NewElevationSource builds an ElevationSource; a light Gaussian blur on
// the noise field (via mask.GaussianBlur, itself backed by gift) keeps
// adjacent mesh vertices from looking like static, matching the mask
// package's own "smooth organic edges" use of the same filter.
func NewElevationSource(seed int64, amplitudeMeters float64) *ElevationSource {
	return &ElevationSource{Seed: seed, Scale: 96, AmplitudeMeters: amplitudeMeters}
}

func (s *ElevationSource) Fetch(_ context.Context, tileKey extents.TileKey, width, height int) (*grid.Grid, error) {
	offX, offY := globalOffset(tileKey.Extents)
	noise := mask.GeneratePerlinNoiseWithOffset(width, height, s.Scale, s.Seed, offX, offY)
	smoothed := mask.GaussianBlur(noise, 1.2)

	g := grid.New(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := smoothed.GrayAt(x, y).Y
			normalized := (float64(v) / 255.0) * 2.0 - 1.0 // [-1, 1]
			g.Set(x, y, float32(normalized*s.AmplitudeMeters))
		}
	}
	return g, nil
}
