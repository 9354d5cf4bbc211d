// Package encode supplies the raster image codecs consumed by
// internal/diskcache and internal/raster: the disk cache decides which
// Codec to use by file extension (the "Raster image decoder" contract from
// the external-interfaces section), and each RasterSource/ElevationSource
// names its preferred Codec for writes.
package encode

import (
	"fmt"
	"image"
	"strings"
)

// Codec both encodes and decodes one image format, supplying the "Raster
// image decoder" external interface (CanRead plus Decode; reading from a
// path is diskcache.Cache.ReadImage) and the write side the disk cache needs.
type Codec interface {
	// CanRead reports whether this codec handles the given file extension
	// (lower-case, without the leading dot; Registry.For normalizes case and
	// strips the dot before asking).
	CanRead(ext string) bool

	// Decode reads an RGBA8 image from raw bytes.
	Decode(data []byte) (image.Image, error)

	// Encode writes img in this codec's format.
	Encode(img image.Image) ([]byte, error)

	// Extension is the canonical file extension this codec writes (no dot).
	Extension() string
}

// Registry resolves a Codec by file extension, mirroring the teacher's
// plugin-registration pattern (internal/texture/loader.go registers
// image.Decode formats via blank import) but made explicit and injectable
// so tests can substitute a minimal codec set.
type Registry struct {
	codecs []Codec
}

// NewRegistry builds a registry from an explicit codec list. Order matters
// only for CanRead ties, which should not occur with distinct extensions.
func NewRegistry(codecs ...Codec) *Registry {
	return &Registry{codecs: codecs}
}

// DefaultRegistry returns the standard codec set: PNG (default), JPEG,
// WebP, and Terrarium (for elevation tiles sharing the same file cache).
func DefaultRegistry() *Registry {
	return NewRegistry(&PNGCodec{}, &JPEGCodec{Quality: 90}, &WebPCodec{Quality: 85}, &TerrariumCodec{})
}

// For returns the codec registered for ext, or (nil, false).
func (r *Registry) For(ext string) (Codec, bool) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, c := range r.codecs {
		if c.CanRead(ext) {
			return c, true
		}
	}
	return nil, false
}

// ErrUnsupportedFormat is returned by For callers that require a codec and
// got none.
func ErrUnsupportedFormat(ext string) error {
	return fmt.Errorf("encode: no codec registered for extension %q", ext)
}
