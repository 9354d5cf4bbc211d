package encode

import (
	"bytes"
	"image"

	"github.com/gen2brain/webp"
)

// WebPCodec encodes/decodes WebP via github.com/gen2brain/webp, a pure-Go
// (WASM/wazero-backed) implementation chosen over a cgo libwebp binding so
// the module keeps its no-cgo build posture — see SPEC_FULL.md §4.F for why
// this is preferred over a cgo libwebp binding.
type WebPCodec struct {
	Quality float32
}

func (c *WebPCodec) CanRead(ext string) bool { return ext == "webp" }
func (c *WebPCodec) Extension() string       { return "webp" }

func (c *WebPCodec) Decode(data []byte) (image.Image, error) {
	return webp.Decode(bytes.NewReader(data))
}

func (c *WebPCodec) Encode(img image.Image) ([]byte, error) {
	q := c.Quality
	if q <= 0 {
		q = 85
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: q}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
