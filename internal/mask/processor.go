package mask

import (
	"image"
	"image/color"
	"math"

	"github.com/aquilax/go-perlin"
	"github.com/disintegration/gift"
)

// ExtractAlphaMask converts an image's alpha channel into a grayscale mask (0-255).
// This preserves anti-aliased edges from the renderer and is suitable for alpha-only
// mask composition.
func ExtractAlphaMask(img image.Image) *image.Gray {
	if img == nil {
		return nil
	}

	bounds := img.Bounds()
	out := image.NewGray(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			// a is 0-65535; map to 0-255.
			out.SetGray(x, y, color.Gray{Y: uint8(a >> 8)})
		}
	}

	return out
}

// NewEmptyMask returns an all-zero grayscale mask of the given bounds.
func NewEmptyMask(bounds image.Rectangle) *image.Gray {
	return image.NewGray(bounds)
}

// MaxMask computes a pixel-wise max of two masks (union/or for alpha masks).
// Masks must have identical bounds.
func MaxMask(a, b *image.Gray) *image.Gray {
	if a == nil || b == nil {
		return nil
	}
	if a.Bounds() != b.Bounds() {
		return nil
	}

	bounds := a.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			av := a.GrayAt(x, y).Y
			bv := b.GrayAt(x, y).Y
			if bv > av {
				av = bv
			}
			out.SetGray(x, y, color.Gray{Y: av})
		}
	}
	return out
}

// MinMask computes a pixel-wise min of two masks (intersection/and for alpha masks).
// Masks must have identical bounds.
func MinMask(a, b *image.Gray) *image.Gray {
	if a == nil || b == nil {
		return nil
	}
	if a.Bounds() != b.Bounds() {
		return nil
	}

	bounds := a.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			av := a.GrayAt(x, y).Y
			bv := b.GrayAt(x, y).Y
			if bv < av {
				av = bv
			}
			out.SetGray(x, y, color.Gray{Y: av})
		}
	}
	return out
}

// MinMaskRGBA applies a grayscale mask to an NRGBA image by taking the minimum
// of the image's alpha channel and the mask value at each pixel.
// RGB values are preserved; only alpha is modified.
func MinMaskRGBA(img *image.NRGBA, mask *image.Gray) *image.NRGBA {
	if img == nil || mask == nil {
		return nil
	}
	if img.Bounds() != mask.Bounds() {
		return nil
	}

	bounds := img.Bounds()
	out := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			maskVal := mask.GrayAt(x, y).Y
			alpha := c.A
			if maskVal < alpha {
				alpha = maskVal
			}
			out.SetNRGBA(x, y, color.NRGBA{
				R: c.R,
				G: c.G,
				B: c.B,
				A: alpha,
			})
		}
	}
	return out
}

// InvertMask inverts a grayscale mask (Y -> 255-Y).
func InvertMask(m *image.Gray) *image.Gray {
	if m == nil {
		return nil
	}
	bounds := m.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := m.GrayAt(x, y).Y
			out.SetGray(x, y, color.Gray{Y: 255 - v})
		}
	}
	return out
}

// ExtractBinaryMask converts a colored layer image into a binary mask.
// Pixels with any non-transparent color become white (255), transparent pixels become black (0).
func ExtractBinaryMask(img image.Image) *image.Gray {
	bounds := img.Bounds()
	mask := image.NewGray(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			// RGBA() returns values in range 0-65535, so check if alpha > 0
			if a > 0 {
				mask.SetGray(x, y, color.Gray{Y: 255}) // White - feature present
			} else {
				mask.SetGray(x, y, color.Gray{Y: 0}) // Black - no feature
			}
		}
	}

	return mask
}

// GaussianBlur applies a Gaussian blur filter to soften mask edges.
// The sigma parameter controls the blur radius (larger = more blur).
func GaussianBlur(mask *image.Gray, sigma float32) *image.Gray {
	g := gift.New(gift.GaussianBlur(sigma))

	// Create output image
	dst := image.NewGray(g.Bounds(mask.Bounds()))

	// Apply the blur filter
	g.Draw(dst, mask)

	return dst
}

// GeneratePerlinNoise generates a grayscale Perlin noise texture.
// width, height: dimensions of the output image
// scale: controls the frequency of the noise (smaller = more detail)
// seed: random seed for deterministic noise generation
func GeneratePerlinNoise(width, height int, scale float64, seed int64) *image.Gray {
	return GeneratePerlinNoiseWithOffset(width, height, scale, seed, 0, 0)
}

// GeneratePerlinNoiseWithOffset generates Perlin noise aligned to a global grid.
// Offsets allow adjacent tiles to sample the same underlying noise field to avoid seams.
func GeneratePerlinNoiseWithOffset(
	width, height int,
	scale float64,
	seed int64,
	offsetX, offsetY int,
) *image.Gray {
	// Create Perlin noise generator with octaves, alpha, and beta parameters
	// alpha: persistence (how much each octave contributes)
	// beta: lacunarity (frequency multiplier between octaves)
	// n: number of octaves
	p := perlin.NewPerlin(2.0, 2.0, 3, seed)

	noise := image.NewGray(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			// Sample Perlin noise at normalized coordinates
			nx := float64(offsetX+x) / scale
			ny := float64(offsetY+y) / scale

			// Get noise value (range approximately -1 to 1)
			val := p.Noise2D(nx, ny)

			// Normalize to 0-255 range
			// Apply a gentler mapping to get better distribution
			normalized := (val + 1.0) / 2.0
			gray := uint8(math.Max(0, math.Min(255, normalized*255)))

			noise.SetGray(x, y, color.Gray{Y: gray})
		}
	}

	return noise
}

// ApplyNoiseToMask overlays Perlin noise onto a blurred mask to create organic edges.
// mask: the blurred binary mask
// noise: the Perlin noise texture (should match or be larger than mask dimensions)
// strength: how much noise to apply (0.0 = no noise, 1.0 = full noise)
func ApplyNoiseToMask(mask, noise *image.Gray, strength float64) *image.Gray {
	bounds := mask.Bounds()
	result := image.NewGray(bounds)

	noiseBounds := noise.Bounds()

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			// Get mask value
			maskVal := float64(mask.GrayAt(x, y).Y)

			// Get noise value (tile if noise is smaller, or sample if larger)
			nx := (x - bounds.Min.X) % noiseBounds.Dx()
			ny := (y - bounds.Min.Y) % noiseBounds.Dy()
			noiseVal := float64(noise.GrayAt(noiseBounds.Min.X+nx, noiseBounds.Min.Y+ny).Y)

			// Apply noise as a perturbation
			// Noise is centered around 128, so subtract 128 to get -128 to +127 range
			noiseDelta := (noiseVal - 128.0) * strength

			// Combine mask and noise
			combined := maskVal + noiseDelta

			// Clamp to valid range
			if combined < 0 {
				combined = 0
			}
			if combined > 255 {
				combined = 255
			}

			result.SetGray(x, y, color.Gray{Y: uint8(combined)})
		}
	}

	return result
}

// ApplyThreshold applies a binary threshold to sharpen mask edges.
// Values below threshold become 0 (black), values at or above become 255 (white).
func ApplyThreshold(mask *image.Gray, threshold uint8) *image.Gray {
	bounds := mask.Bounds()
	result := image.NewGray(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			val := mask.GrayAt(x, y).Y

			if val >= threshold {
				result.SetGray(x, y, color.Gray{Y: 255})
			} else {
				result.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}

	return result
}

// ApplyThresholdWithAntialias applies a threshold with smooth antialiased edges.
// Uses a fixed transition zone with cubic interpolation (smoothstep) for natural-looking edges.
// The transition zone is 20 gray levels on each side of the threshold value.
func ApplyThresholdWithAntialias(mask *image.Gray, threshold uint8) *image.Gray {
	bounds := mask.Bounds()
	result := image.NewGray(bounds)

	// Transition zone: 20 gray levels on each side of threshold
	const transitionWidth = 20

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			val := mask.GrayAt(x, y).Y

			// Smooth threshold with cubic interpolation
			lower := int(threshold) - transitionWidth
			upper := int(threshold) + transitionWidth

			var outVal uint8
			if int(val) <= lower {
				outVal = 0
			} else if int(val) >= upper {
				outVal = 255
			} else {
				// Cubic interpolation: smoothstep (3t² - 2t³)
				t := float32(int(val)-lower) / float32(2*transitionWidth)
				smoothT := t * t * (3.0 - 2.0*t)
				outVal = uint8((smoothT) * 255.0)
			}
			result.SetGray(x, y, color.Gray{Y: outVal})
		}
	}

	return result
}

// ApplyThresholdWithAntialiasAndInvert applies a threshold with smooth antialiased edges.
// Uses a fixed transition zone with cubic interpolation (smoothstep) for natural-looking edges.
// The transition zone is 20 gray levels on each side of the threshold value.
func ApplyThresholdWithAntialiasAndInvert(mask *image.Gray, threshold uint8) *image.Gray {
	bounds := mask.Bounds()
	result := image.NewGray(bounds)

	// Transition zone: 20 gray levels on each side of threshold
	const transitionWidth = 20

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			val := mask.GrayAt(x, y).Y

			// Smooth threshold with cubic interpolation
			lower := int(threshold) - transitionWidth
			upper := int(threshold) + transitionWidth

			var outVal uint8
			if int(val) <= lower {
				outVal = 255
			} else if int(val) >= upper {
				outVal = 0
			} else {
				// Cubic interpolation: smoothstep (3t² - 2t³)
				t := float32(int(val)-lower) / float32(2*transitionWidth)
				smoothT := t * t * (3.0 - 2.0*t)
				outVal = uint8((1.0 - smoothT) * 255.0)
			}
			result.SetGray(x, y, color.Gray{Y: outVal})
		}
	}

	return result
}

// BoxBlur applies a fast box blur with the given radius using a sliding window algorithm.
// This is significantly faster than Gaussian blur (O(1) per pixel vs O(k) per pixel).
// The blur is applied in two separable passes (horizontal then vertical).
func BoxBlur(mask *image.Gray, radius int) *image.Gray {
	if radius < 1 {
		// No blur needed, return a copy
		bounds := mask.Bounds()
		dst := image.NewGray(bounds)
		copy(dst.Pix, mask.Pix)
		return dst
	}

	bounds := mask.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	// Temporary buffer for horizontal pass
	temp := image.NewGray(bounds)

	// Horizontal pass
	for y := 0; y < height; y++ {
		// Sliding window sum
		sum := 0
		count := 0

		// Initialize window
		for x := -radius; x <= radius; x++ {
			if x >= 0 && x < width {
				idx := y*mask.Stride + x
				sum += int(mask.Pix[idx])
				count++
			}
		}

		// First pixel
		temp.Pix[y*temp.Stride] = uint8(sum / count)

		// Slide window across row
		for x := 1; x < width; x++ {
			// Remove left pixel from window
			leftX := x - radius - 1
			if leftX >= 0 {
				idx := y*mask.Stride + leftX
				sum -= int(mask.Pix[idx])
				count--
			}

			// Add right pixel to window
			rightX := x + radius
			if rightX < width {
				idx := y*mask.Stride + rightX
				sum += int(mask.Pix[idx])
				count++
			}

			temp.Pix[y*temp.Stride+x] = uint8(sum / count)
		}
	}

	// Vertical pass (on temp -> dst)
	dst := image.NewGray(bounds)

	for x := 0; x < width; x++ {
		// Sliding window sum
		sum := 0
		count := 0

		// Initialize window
		for y := -radius; y <= radius; y++ {
			if y >= 0 && y < height {
				idx := y*temp.Stride + x
				sum += int(temp.Pix[idx])
				count++
			}
		}

		// First pixel
		dst.Pix[x] = uint8(sum / count)

		// Slide window down column
		for y := 1; y < height; y++ {
			// Remove top pixel from window
			topY := y - radius - 1
			if topY >= 0 {
				idx := topY*temp.Stride + x
				sum -= int(temp.Pix[idx])
				count--
			}

			// Add bottom pixel to window
			bottomY := y + radius
			if bottomY < height {
				idx := bottomY*temp.Stride + x
				sum += int(temp.Pix[idx])
				count++
			}

			dst.Pix[y*dst.Stride+x] = uint8(sum / count)
		}
	}

	return dst
}

// BoxBlurSigma applies a 3-pass box blur to approximate a Gaussian blur.
// This is optimized for small sigma values (σ < 5) and provides significant
// performance improvement over true Gaussian blur while maintaining good quality.
//
// The function converts sigma to box radius using the formula:
// r = sqrt((12 * σ² / N) + 1) where N = 3 (number of passes)
//
// Expected speedup: 3-7x faster than Gaussian blur for σ < 5.
func BoxBlurSigma(mask *image.Gray, sigma float32) *image.Gray {
	if sigma <= 0 {
		// No blur needed, return a copy
		bounds := mask.Bounds()
		dst := image.NewGray(bounds)
		copy(dst.Pix, mask.Pix)
		return dst
	}

	// Convert sigma to box radius for 3-pass approximation
	// Formula: r = sqrt((12 * σ² / N) + 1) where N = 3
	sigmaSquared := float64(sigma) * float64(sigma)
	radiusFloat := math.Sqrt((12.0*sigmaSquared)/3.0 + 1.0)
	radius := int(radiusFloat)

	// Ensure minimum radius of 1
	if radius < 1 {
		radius = 1
	}

	// Apply box blur 3 times to approximate Gaussian
	result := BoxBlur(mask, radius)
	result = BoxBlur(result, radius)
	result = BoxBlur(result, radius)

	return result
}

// AntialiasEdges applies subtle antialiasing to smooth sharp mask edges.
// This is essentially a light blur to soften transitions.
func AntialiasEdges(mask *image.Gray, sigma float32) *image.Gray {
	// Use BoxBlurSigma for fast antialiasing
	return BoxBlurSigma(mask, sigma)
}
