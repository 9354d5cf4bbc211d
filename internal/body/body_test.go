package body

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
	"time"

	"github.com/MeKo-Tech/planetcore/internal/elevation/grid"
	"github.com/MeKo-Tech/planetcore/internal/elevationlayer"
	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
	"github.com/MeKo-Tech/planetcore/internal/geo/landmodel"
	"github.com/MeKo-Tech/planetcore/internal/quadtree"
	"github.com/MeKo-Tech/planetcore/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec3(v [3]float64) landmodel.Vec3 {
	return landmodel.Vec3{X: v[0], Y: v[1], Z: v[2]}
}

func encodePNGBytes(img image.Image) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

type fakeRasterSource struct{ color color.NRGBA }

func (f fakeRasterSource) Fetch(_ context.Context, _ extents.TileKey, w, h int) ([]byte, string, error) {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, f.color)
		}
	}
	return encodePNGBytes(img), "png", nil
}

type fakeElevationSource struct{ height float32 }

func (f fakeElevationSource) Fetch(_ context.Context, _ extents.TileKey, w, h int) (*grid.Grid, error) {
	g := grid.New(w, h)
	for i := range g.Samples {
		g.Samples[i] = f.height
	}
	return g, nil
}

func newTestBody(t *testing.T) *Body {
	t.Helper()
	b := New(context.Background(), Options{
		MaxLevel:      3,
		SplitDistance: 5_000_000,
		MeshSize:      extents.MeshSize{Rows: 3, Cols: 3},
		ImageSize:     extents.ImageSize{Width: 4, Height: 4},
		GlobalExtents: extents.New(-180, -90, 180, 90),
		Rows:          1,
		Columns:       1,
		WorkerCount:   2,
	})
	t.Cleanup(b.Close)
	return b
}

func waitForBody(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestNewBodyLaysOutRootTilesOverGlobalExtents(t *testing.T) {
	b := newTestBody(t)
	tiles := b.TopTiles()
	require.Len(t, tiles, 1)
	assert.Equal(t, extents.New(-180, -90, 180, 90), tiles[0].Key().Extents)
}

func TestCullRequestsSplitWhenCloseAndCollapseWhenFar(t *testing.T) {
	b := newTestBody(t)
	ctx := context.Background()

	near := [3]float64{0, 0, 0} // inside the bounding sphere: distSq == 0
	b.Cull(vec3(near))
	waitForBody(t, func() bool {
		b.Update(ctx)
		return b.TopTiles()[0].State() == quadtree.Parent
	})

	far := [3]float64{1e9, 1e9, 1e9}
	b.Cull(vec3(far))
	assert.Equal(t, quadtree.Collapsing, b.TopTiles()[0].State())

	n := b.PurgeTiles(ctx)
	assert.Equal(t, 1, n)
	assert.Equal(t, quadtree.LeafLow, b.TopTiles()[0].State())
}

func TestAddRasterLayerDirtiesTopTilesAndBuildsTexture(t *testing.T) {
	b := newTestBody(t)
	layer := raster.NewLayer("osm", "v1", fakeRasterSource{color: color.NRGBA{R: 200, G: 10, B: 10, A: 255}}, raster.Options{})
	b.AddRasterLayer(layer)

	tile := b.TopTiles()[0]
	assert.NotEqual(t, quadtree.DirtyFlags(0), tile.Dirty()&quadtree.Texture)

	tile.RequestTextureBuild()
	ctx := context.Background()
	waitForBody(t, func() bool {
		tile.Update(ctx)
		return tile.Dirty()&quadtree.Texture == 0
	})
	assert.NotNil(t, tile.Texture())
}

func TestRemoveRasterLayerDirtiesAffectedTiles(t *testing.T) {
	b := newTestBody(t)
	layer := raster.NewLayer("osm", "v1", fakeRasterSource{color: color.NRGBA{A: 255}}, raster.Options{})
	b.AddRasterLayer(layer)

	tile := b.TopTiles()[0]
	tile.ClearDirty(quadtree.Texture | quadtree.Image)
	require.Equal(t, quadtree.DirtyFlags(0), tile.Dirty()&quadtree.Texture)

	b.RemoveRasterLayer("osm")
	assert.NotEqual(t, quadtree.DirtyFlags(0), tile.Dirty()&quadtree.Texture)
}

func TestElevationAtLatLongUsesResidentTileGrid(t *testing.T) {
	b := newTestBody(t)
	layer := elevationlayer.NewLayer("srtm", "v1", fakeElevationSource{height: 321}, elevationlayer.Options{})
	b.AddElevationLayer(layer)

	tile := b.TopTiles()[0]
	tile.RequestElevationBuild()
	ctx := context.Background()
	waitForBody(t, func() bool {
		tile.Update(ctx)
		return tile.Dirty()&quadtree.Vertices == 0
	})

	meters, ok := b.ElevationAtLatLong(0, 0)
	require.True(t, ok)
	assert.InDelta(t, 321, meters, 0.01)
}

func TestBuildElevationResamplesParentWhenNoSourceCovers(t *testing.T) {
	b := newTestBody(t)
	ctx := context.Background()

	parentGrid := grid.New(2, 2)
	parentGrid.Set(0, 0, 10)
	parentGrid.Set(1, 0, 20)
	parentGrid.Set(0, 1, 30)
	parentGrid.Set(1, 1, 40)

	ll, _, _, _ := b.TopTiles()[0].Key().Split()
	ll.MeshSize = extents.MeshSize{Rows: 2, Cols: 2}

	g, err := b.tileServices().BuildElevation(ctx, ll, parentGrid)
	require.NoError(t, err)
	require.NotNil(t, g)
	for _, v := range g.Samples {
		assert.False(t, grid.IsNoData(v), "child with no covering source must resample the parent grid, not go flat")
	}
}

func TestElevationAtLatLongMissingTileReportsNotOK(t *testing.T) {
	b := newTestBody(t)
	_, ok := b.ElevationAtLatLong(0, 0)
	assert.False(t, ok, "no elevation layer installed yet, so no grid is resident")
}

func TestSetGlobalAlphaDirtiesTextureEverywhere(t *testing.T) {
	b := newTestBody(t)
	tile := b.TopTiles()[0]
	tile.ClearDirty(quadtree.Texture)

	b.SetGlobalAlpha(0.5)
	assert.NotEqual(t, quadtree.DirtyFlags(0), tile.Dirty()&quadtree.Texture)
}

func TestSetAllowSplitFalsePreventsSplitting(t *testing.T) {
	b := newTestBody(t)
	b.SetAllowSplit(false)

	b.Cull(vec3([3]float64{0, 0, 0}))
	assert.Equal(t, quadtree.LeafLow, b.TopTiles()[0].State())
}

type forceSplitCallback struct{}

func (forceSplitCallback) ShouldSplit(_ bool, _ *quadtree.Tile) bool { return true }

func TestSetSplitCallbackOverridesDefaultDecision(t *testing.T) {
	b := newTestBody(t)
	b.SetSplitCallback(forceSplitCallback{})

	// Far away: the traversal's own suggestion would be "don't split", but
	// the installed callback forces it regardless.
	b.Cull(vec3([3]float64{1e9, 1e9, 1e9}))
	assert.Equal(t, quadtree.Splitting, b.TopTiles()[0].State(), "split callback must override the distance-based suggestion")
}

func TestCullTreatsNaNEyeAsLowDetailSuggestion(t *testing.T) {
	b := newTestBody(t)
	nan := math.NaN()

	b.Cull(vec3([3]float64{nan, nan, nan}))
	assert.Equal(t, quadtree.LeafLow, b.TopTiles()[0].State(), "a NaN eye position must never suggest a split")
}

func TestSetKeepDetailPreventsCollapse(t *testing.T) {
	b := newTestBody(t)
	ctx := context.Background()

	b.Cull(vec3([3]float64{0, 0, 0}))
	waitForBody(t, func() bool {
		b.Update(ctx)
		return b.TopTiles()[0].State() == quadtree.Parent
	})

	b.SetKeepDetail(true)
	b.Cull(vec3([3]float64{1e9, 1e9, 1e9}))
	assert.Equal(t, quadtree.Parent, b.TopTiles()[0].State(), "keepDetail must block the collapse request")
}

func TestToConfigRoundTripsTopLevelSettings(t *testing.T) {
	b := newTestBody(t)
	layer := raster.NewLayer("osm", "v1", fakeRasterSource{}, raster.Options{})
	b.AddRasterLayer(layer)

	cfg := b.ToConfig()
	assert.Equal(t, "sphere", cfg.LandModel)
	assert.Equal(t, 3, cfg.MaxLevel)
	assert.Equal(t, 1, cfg.NumberOfRows)
	assert.Equal(t, 1, cfg.NumberOfColumns)
	require.Len(t, cfg.Layers, 1)
	assert.Equal(t, "osm", cfg.Layers[0].Name)
	assert.Equal(t, "raster", cfg.Layers[0].Kind)
}
