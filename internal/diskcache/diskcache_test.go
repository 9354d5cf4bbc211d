package diskcache

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/planetcore/internal/encode"
	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTileKey() extents.TileKey {
	return extents.NewRootKey(0, 0, extents.New(10, 20, 11, 21),
		extents.MeshSize{Rows: 5, Cols: 5}, extents.ImageSize{Width: 64, Height: 64})
}

func testImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	return img
}

func TestGetReportsMissingThenOKAfterWrite(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	key := Key{KindName: "bluemarble", ContentHash: "abc123"}
	tile := testTileKey()

	path, status := c.Get(key, tile, 64, 64, "png")
	assert.Equal(t, FileMissing, status)
	require.NotEmpty(t, path)

	require.NoError(t, c.WriteImage(path, testImage(), &encode.PNGCodec{}))

	path2, status2 := c.Get(key, tile, 64, 64, "png")
	assert.Equal(t, FileOK, status2)
	assert.Equal(t, path, path2)
}

func TestGetReturnsBadNameForEmptyKind(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	_, status := c.Get(Key{}, testTileKey(), 64, 64, "png")
	assert.Equal(t, BadName, status)
}

func TestWriteThenReadImageRoundTrips(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	key := Key{KindName: "elevation", ContentHash: "h1"}
	path, _ := c.Get(key, testTileKey(), 64, 64, "png")
	require.NoError(t, c.WriteImage(path, testImage(), &encode.PNGCodec{}))

	reg := encode.DefaultRegistry()
	img, err := c.ReadImage(path, reg)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, testImage().Bounds(), img.Bounds())
}

func TestReadImageTreatsCorruptFileAsMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	path := filepath.Join(dir, "corrupt.png")
	require.NoError(t, os.WriteFile(path, []byte("not a png"), 0o644))

	reg := encode.DefaultRegistry()
	img, err := c.ReadImage(path, reg)
	assert.NoError(t, err)
	assert.Nil(t, img)
}

func TestReadImageMissingFileIsNilNil(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	reg := encode.DefaultRegistry()
	img, err := c.ReadImage(filepath.Join(dir, "nope.png"), reg)
	assert.NoError(t, err)
	assert.Nil(t, img)
}

func TestDeleteCacheRemovesLayerSubtree(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	key := Key{KindName: "bluemarble", ContentHash: "abc123"}
	path, _ := c.Get(key, testTileKey(), 64, 64, "png")
	require.NoError(t, c.WriteImage(path, testImage(), &encode.PNGCodec{}))

	require.NoError(t, c.DeleteCache(key))

	_, status := c.Get(key, testTileKey(), 64, 64, "png")
	assert.Equal(t, FileMissing, status)
}

func TestPathIsStableForSameInputs(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	key := Key{KindName: "k", ContentHash: "h"}
	tile := testTileKey()

	p1, ok1 := c.Path(key, tile, 64, 64, "png")
	p2, ok2 := c.Path(key, tile, 64, 64, "png")
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, p1, p2)
}

func TestPathDiffersForDifferentExtents(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	key := Key{KindName: "k", ContentHash: "h"}
	tile1 := testTileKey()
	tile2 := extents.NewRootKey(0, 0, extents.New(30, 40, 31, 41), tile1.MeshSize, tile1.ImageSize)

	p1, _ := c.Path(key, tile1, 64, 64, "png")
	p2, _ := c.Path(key, tile2, 64, 64, "png")
	assert.NotEqual(t, p1, p2)
}

func TestRecordFailureAndLastFailure(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	key := Key{KindName: "network", ContentHash: "h"}
	tile := testTileKey()

	_, ok := c.LastFailure(key, tile)
	assert.False(t, ok)

	c.RecordFailure(key, tile)
	last, ok := c.LastFailure(key, tile)
	require.True(t, ok)
	assert.Greater(t, last, int64(0))
}

func TestStatsCountsWrittenFiles(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	key := Key{KindName: "bluemarble", ContentHash: "h"}
	tile := testTileKey()
	path, _ := c.Get(key, tile, 64, 64, "png")
	require.NoError(t, c.WriteImage(path, testImage(), &encode.PNGCodec{}))

	stats, err := c.Stats(key)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.WrittenFiles)
}
