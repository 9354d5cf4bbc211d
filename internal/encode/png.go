package encode

import (
	"bytes"
	"image"
	"image/png"
)

// PNGCodec is the disk cache's default codec, matching the teacher's
// pipeline.Generator PNG-encode path (internal/pipeline/generator.go).
type PNGCodec struct{}

func (c *PNGCodec) CanRead(ext string) bool { return ext == "png" }
func (c *PNGCodec) Extension() string       { return "png" }

func (c *PNGCodec) Decode(data []byte) (image.Image, error) {
	return png.Decode(bytes.NewReader(data))
}

func (c *PNGCodec) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
