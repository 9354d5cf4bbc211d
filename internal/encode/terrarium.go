package encode

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
)

// Terrarium elevation base/offset/scale, per the Mapzen Terrarium format:
// elevation = (R*256 + G + B/256) - 32768, with R=G=B=0 reserved for no-data
// at alpha 0. Ported from the geotiff2pmtiles tile packer.
const (
	terrariumBase  = 32768.0
	terrariumScale = 256.0
)

// ElevationToTerrarium maps a single elevation sample (meters, or grid.NoData)
// to the Terrarium RGB+A encoding.
func ElevationToTerrarium(meters float64, isNoData bool) (r, g, b, a uint8) {
	if isNoData {
		return 0, 0, 0, 0
	}
	v := meters + terrariumBase
	scaled := v * terrariumScale
	if scaled < 0 {
		scaled = 0
	}
	if scaled > 16777215 {
		scaled = 16777215
	}
	packed := uint32(math.Round(scaled))
	r = uint8((packed >> 16) & 0xff)
	g = uint8((packed >> 8) & 0xff)
	b = uint8(packed & 0xff)
	return r, g, b, 255
}

// TerrariumToElevation inverts ElevationToTerrarium. ok is false for the
// reserved no-data sentinel (alpha 0).
func TerrariumToElevation(r, g, b, a uint8) (meters float64, ok bool) {
	if a == 0 {
		return 0, false
	}
	packed := uint32(r)<<16 | uint32(g)<<8 | uint32(b)
	return float64(packed)/terrariumScale - terrariumBase, true
}

// TerrariumCodec encodes elevation grids as Terrarium-RGB PNGs so elevation
// tiles can share the same file cache and transport path as raster imagery.
// It implements Codec over an image.NRGBA carrying one elevation sample per
// pixel; callers that want grid.Grid in and out should use EncodeGrid /
// DecodeGrid instead of the raw Codec methods.
type TerrariumCodec struct{}

func (c *TerrariumCodec) CanRead(ext string) bool { return ext == "terrarium" || ext == "ter.png" }
func (c *TerrariumCodec) Extension() string       { return "terrarium" }

func (c *TerrariumCodec) Decode(data []byte) (image.Image, error) {
	return png.Decode(bytes.NewReader(data))
}

func (c *TerrariumCodec) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeGrid renders samples (row-major, width*height) as a Terrarium PNG.
func (c *TerrariumCodec) EncodeGrid(width, height int, samples []float64, isNoData func(float64) bool) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := samples[y*width+x]
			r, g, b, a := ElevationToTerrarium(v, isNoData(v))
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: a})
		}
	}
	return c.Encode(img)
}

// DecodeGrid parses a Terrarium PNG back into row-major elevation samples,
// using noData for pixels whose alpha marks them as missing.
func (c *TerrariumCodec) DecodeGrid(data []byte, noData float64) (width, height int, samples []float64, err error) {
	img, err := c.Decode(data)
	if err != nil {
		return 0, 0, nil, err
	}
	bounds := img.Bounds()
	width, height = bounds.Dx(), bounds.Dy()
	samples = make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			v, ok := TerrariumToElevation(uint8(r>>8), uint8(g>>8), uint8(b>>8), uint8(a>>8))
			if !ok {
				samples[y*width+x] = noData
				continue
			}
			samples[y*width+x] = v
		}
	}
	return width, height, samples, nil
}
