package encode

import (
	"bytes"
	"image"
	"image/jpeg"
)

// JPEGCodec is used by raster layers carrying lossy satellite imagery,
// where PNG's lossless overhead isn't worth the disk/network cost.
type JPEGCodec struct {
	Quality int
}

func (c *JPEGCodec) CanRead(ext string) bool { return ext == "jpg" || ext == "jpeg" }
func (c *JPEGCodec) Extension() string       { return "jpg" }

func (c *JPEGCodec) Decode(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}

func (c *JPEGCodec) Encode(img image.Image) ([]byte, error) {
	q := c.Quality
	if q <= 0 {
		q = 85
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
