package encode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebPCodecRoundTrip(t *testing.T) {
	c := &WebPCodec{Quality: 80}
	data, err := c.Encode(sampleImage())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	out, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, sampleImage().Bounds(), out.Bounds())
}

func TestWebPCodecDefaultsQuality(t *testing.T) {
	c := &WebPCodec{}
	_, err := c.Encode(sampleImage())
	require.NoError(t, err)
}

func TestWebPCodecExtensionAndCanRead(t *testing.T) {
	c := &WebPCodec{}
	assert.Equal(t, "webp", c.Extension())
	assert.True(t, c.CanRead("webp"))
	assert.False(t, c.CanRead("png"))
}
