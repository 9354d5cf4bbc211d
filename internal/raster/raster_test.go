package raster

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/planetcore/internal/diskcache"
	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTile() extents.TileKey {
	return extents.NewRootKey(0, 0, extents.New(-10, -10, 10, 10),
		extents.MeshSize{Rows: 5, Cols: 5}, extents.ImageSize{Width: 32, Height: 32})
}

func encodedPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type countingSource struct {
	calls int
	data  []byte
	ext   string
	err   error
}

func (s *countingSource) Fetch(_ context.Context, _ extents.TileKey, _, _ int) ([]byte, string, error) {
	s.calls++
	return s.data, s.ext, s.err
}

func TestLayerInRangeRespectsExtentsAndLevel(t *testing.T) {
	l := NewLayer("test", "h1", &countingSource{}, Options{})
	l.Extents = extents.New(0, 0, 5, 5)
	l.MinLevel = 2
	l.MaxLevel = 4

	outside := extents.NewRootKey(0, 0, extents.New(50, 50, 51, 51), extents.MeshSize{}, extents.ImageSize{})
	assert.False(t, l.InRange(outside))

	tooLow := extents.NewRootKey(0, 0, extents.New(1, 1, 2, 2), extents.MeshSize{}, extents.ImageSize{})
	tooLow.Level = 1
	assert.False(t, l.InRange(tooLow))

	inRange := extents.NewRootKey(0, 0, extents.New(1, 1, 2, 2), extents.MeshSize{}, extents.ImageSize{})
	inRange.Level = 3
	assert.True(t, l.InRange(inRange))
}

func TestLayerInvisibleLayerNeverInRange(t *testing.T) {
	l := NewLayer("test", "h1", &countingSource{}, Options{})
	l.Visible = false
	assert.False(t, l.InRange(testTile()))
}

func TestTextureFetchesAndCaches(t *testing.T) {
	dir := t.TempDir()
	cache, err := diskcache.Open(dir)
	require.NoError(t, err)
	defer cache.Close()

	src := &countingSource{data: encodedPNG(t), ext: "png"}
	l := NewLayer("test", "h1", src, Options{Cache: cache})

	img, err := l.Texture(context.Background(), testTile(), 32, 32)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, 1, src.calls)

	img2, err := l.Texture(context.Background(), testTile(), 32, 32)
	require.NoError(t, err)
	require.NotNil(t, img2)
	assert.Equal(t, 1, src.calls, "second call should be served from cache")
}

func TestTextureSourceDeclineReturnsNilNil(t *testing.T) {
	src := &countingSource{}
	l := NewLayer("test", "h1", src, Options{})

	img, err := l.Texture(context.Background(), testTile(), 32, 32)
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestTextureRetriesThenFailsRecordsFailure(t *testing.T) {
	dir := t.TempDir()
	cache, err := diskcache.Open(dir)
	require.NoError(t, err)
	defer cache.Close()

	src := &countingSource{err: assertErr}
	l := NewLayer("test", "h1", src, Options{
		Cache:        cache,
		MaxAttempts:  2,
		RetryBackoff: time.Millisecond,
	})

	img, err := l.Texture(context.Background(), testTile(), 32, 32)
	assert.Error(t, err)
	assert.Nil(t, img)
	assert.Equal(t, 2, src.calls)

	_, ok := cache.LastFailure(l.Key(), testTile())
	assert.True(t, ok)
}

func TestTextureOutOfRangeSkipsSource(t *testing.T) {
	src := &countingSource{data: encodedPNG(t), ext: "png"}
	l := NewLayer("test", "h1", src, Options{})
	l.MinLevel = 99

	img, err := l.Texture(context.Background(), testTile(), 32, 32)
	require.NoError(t, err)
	assert.Nil(t, img)
	assert.Equal(t, 0, src.calls)
}

func TestNetworkSourceBuildsURLAndFetches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(encodedPNG(t))
	}))
	defer srv.Close()

	src := NewNetworkSource(srv.URL+"/{z}/{x}/{y}.png", srv.Client())
	data, ext, err := src.Fetch(context.Background(), testTile(), 32, 32)
	require.NoError(t, err)
	assert.Equal(t, "png", ext)
	assert.NotEmpty(t, data)
}

func TestNetworkSourceErrorsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewNetworkSource(srv.URL+"/{z}/{x}/{y}.png", srv.Client())
	_, _, err := src.Fetch(context.Background(), testTile(), 32, 32)
	assert.Error(t, err)
}

func TestStackVisibleAtFiltersByInRange(t *testing.T) {
	inLayer := NewLayer("in", "h1", &countingSource{}, Options{})
	outLayer := NewLayer("out", "h2", &countingSource{}, Options{})
	outLayer.Visible = false

	stack := &Stack{Layers: []*Layer{inLayer, outLayer}}
	visible := stack.VisibleAt(testTile())
	require.Len(t, visible, 1)
	assert.Equal(t, "in", visible[0].Name)
}

var assertErr = &testFetchError{}

type testFetchError struct{}

func (e *testFetchError) Error() string { return "simulated fetch failure" }
