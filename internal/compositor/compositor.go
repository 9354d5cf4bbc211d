// Package compositor generalizes the teacher's fixed-layer-set alpha
// compositor (internal/composite) to an arbitrary N-channel raster.Layer
// stack: 1-channel sources broadcast to RGB, 2-channel treat the second
// channel as alpha, 3-channel apply the layer's own alpha uniformly, and
// 4-channel composite straight RGBA, all through the same blend formula.
package compositor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
	"github.com/MeKo-Tech/planetcore/internal/raster"
)

// Composite fetches every layer in stack that is in range for tileKey, in
// stack order, and alpha-blends them onto an RGBA8 accumulator exactly
// (width, height) in size. Returns nil if no layer contributed anything.
func Composite(ctx context.Context, stack *raster.Stack, tileKey extents.TileKey, width, height int) (*image.NRGBA, error) {
	layers := stack.VisibleAt(tileKey)
	if len(layers) == 0 {
		return nil, nil
	}

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	contributed := false

	for _, layer := range layers {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := layer.Texture(ctx, tileKey, width, height)
		if err != nil {
			return nil, fmt.Errorf("compositor: layer %s: %w", layer.Name, err)
		}
		if img == nil {
			continue
		}
		if img.Bounds().Dx() != width || img.Bounds().Dy() != height {
			return nil, fmt.Errorf("compositor: layer %s produced %dx%d, expected %dx%d",
				layer.Name, img.Bounds().Dx(), img.Bounds().Dy(), width, height)
		}

		if alphaOver(dst, img, layer) {
			contributed = true
		}
	}

	if !contributed {
		return nil, nil
	}
	return dst, nil
}

// channelCount reports the logical channel count of a decoded image, used
// to decide how alphaOver interprets each pixel. Go's image package always
// exposes 4 RGBA samples at the color.Color level regardless of source
// format, so only the genuinely alpha-less formats (no per-pixel alpha
// channel in the source codec) are singled out here; 2-channel
// luminance+alpha sources decode to *image.NRGBA with R==G==B and fall
// through to the default case, where their real alpha carries through.
func channelCount(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16, *image.YCbCr:
		return 1
	default:
		return 4
	}
}

// alphaOver blends src onto dst and reports whether any pixel of src had a
// non-zero effective alpha (i.e. whether the layer contributed at all).
func alphaOver(dst *image.NRGBA, src image.Image, layer *raster.Layer) bool {
	bounds := dst.Bounds()
	chans := channelCount(src)
	wrote := false

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			s := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)

			effAlpha := effectiveAlpha(s, layer, chans)
			if effAlpha == 0 {
				continue
			}
			wrote = true

			d := dst.NRGBAAt(x, y)
			sa := effAlpha
			da := float64(d.A) / 255.0

			outA := sa + da*(1.0-sa)
			if outA == 0 {
				dst.SetNRGBA(x, y, color.NRGBA{})
				continue
			}

			// Premultiplied "over", then un-premultiplied by outA rather
			// than the literal dst*(1-a)+src*a on straight-alpha values: a
			// non-opaque layer over the still-transparent accumulator
			// (da == 0) resolves to the source color at full strength, not
			// darkened by sa, since the forced-opaque output alpha below
			// would otherwise make a half-alpha first layer look like it
			// was blended against black.
			blend := func(srcVal, dstVal uint8) uint8 {
				srcPremult := float64(srcVal) * sa
				dstPremult := float64(dstVal) * da
				outPremult := srcPremult + dstPremult*(1.0-sa)
				return uint8(math.Round(outPremult / outA))
			}

			// Destination alpha is forced opaque once any source has
			// contributed, per the layer-stack contract.
			dst.SetNRGBA(x, y, color.NRGBA{
				R: blend(s.R, d.R),
				G: blend(s.G, d.G),
				B: blend(s.B, d.B),
				A: 255,
			})
		}
	}
	return wrote
}

// effectiveAlpha resolves PerColorOverride[rgb] if present, else
// layerAlpha * srcAlpha, per the compositor's alpha-resolution contract.
func effectiveAlpha(s color.NRGBA, layer *raster.Layer, chans int) float64 {
	if layer.PerColor != nil {
		if override, ok := layer.PerColor[[3]uint8{s.R, s.G, s.B}]; ok {
			return float64(override) / 255.0
		}
	}

	srcAlpha := float64(s.A) / 255.0
	if chans == 1 {
		// 1-channel sources have no native alpha; treat every pixel as
		// fully opaque before applying the layer's own alpha.
		srcAlpha = 1.0
	}
	return layer.Alpha * srcAlpha
}
