package vector

import (
	"context"
	"testing"

	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInheritedGetReturnsParentBeforeSwap(t *testing.T) {
	parent := &FeatureSet{Features: []Feature{{ID: "parent-1"}}}
	inh := NewInherited(parent)

	assert.Same(t, parent, inh.Get())
	assert.False(t, inh.Swapped())
}

func TestSwapReplacesExactlyOnce(t *testing.T) {
	parent := &FeatureSet{Features: []Feature{{ID: "parent-1"}}}
	own := &FeatureSet{Features: []Feature{{ID: "own-1"}}}
	other := &FeatureSet{Features: []Feature{{ID: "other-1"}}}

	inh := NewInherited(parent)
	inh.Swap(own)
	assert.Same(t, own, inh.Get())
	assert.True(t, inh.Swapped())

	inh.Swap(other)
	assert.Same(t, own, inh.Get(), "second swap must be a no-op")
}

func TestRefineKeepsOnlyIntersectingFeatures(t *testing.T) {
	inside := Feature{ID: "inside", Geometry: orb.Point{5, 5}}
	outside := Feature{ID: "outside", Geometry: orb.Point{50, 50}}
	src := &FeatureSet{Features: []Feature{inside, outside}}

	out := Refine(src, extents.New(0, 0, 10, 10))
	require.Len(t, out.Features, 1)
	assert.Equal(t, "inside", out.Features[0].ID)
}

func TestRefineNilSourceReturnsEmptySet(t *testing.T) {
	out := Refine(nil, extents.New(0, 0, 10, 10))
	assert.Empty(t, out.Features)
}

type fakeVectorSource struct {
	set *FeatureSet
	err error
}

func (f *fakeVectorSource) Fetch(_ context.Context, _ extents.Extents) (*FeatureSet, error) {
	return f.set, f.err
}

func TestBuildRefineJobSwapsFetchedData(t *testing.T) {
	parent := &FeatureSet{Features: []Feature{{ID: "parent-1"}}}
	own := &FeatureSet{Features: []Feature{{ID: "own-1"}}}
	inh := NewInherited(parent)

	job := BuildRefineJob(&fakeVectorSource{set: own}, inh)
	key := extents.NewRootKey(0, 0, extents.New(0, 0, 1, 1), extents.MeshSize{}, extents.ImageSize{})

	require.NoError(t, job(context.Background(), key))
	assert.Same(t, own, inh.Get())
}

func TestBuildRefineJobFallsBackToRefiningInherited(t *testing.T) {
	inside := Feature{ID: "inside", Geometry: orb.Point{0.5, 0.5}}
	parent := &FeatureSet{Features: []Feature{inside}}
	inh := NewInherited(parent)

	job := BuildRefineJob(&fakeVectorSource{set: nil}, inh)
	key := extents.NewRootKey(0, 0, extents.New(0, 0, 1, 1), extents.MeshSize{}, extents.ImageSize{})

	require.NoError(t, job(context.Background(), key))
	require.Len(t, inh.Get().Features, 1)
	assert.Equal(t, "inside", inh.Get().Features[0].ID)
}

func TestBuildRefineJobPropagatesFetchError(t *testing.T) {
	inh := NewInherited(nil)
	job := BuildRefineJob(&fakeVectorSource{err: errFetch}, inh)
	key := extents.NewRootKey(0, 0, extents.New(0, 0, 1, 1), extents.MeshSize{}, extents.ImageSize{})

	assert.Error(t, job(context.Background(), key))
}

var errFetch = fetchFailure{}

type fetchFailure struct{}

func (fetchFailure) Error() string { return "simulated overpass failure" }
