package grid

import "testing"

func TestOutOfRangeReturnsNoData(t *testing.T) {
	g := New(4, 4)
	if v := g.Sample(-0.1, 0.5); !IsNoData(v) {
		t.Errorf("expected NoData for u<0, got %v", v)
	}
	if v := g.Sample(1.1, 0.5); !IsNoData(v) {
		t.Errorf("expected NoData for u>1, got %v", v)
	}
}

func TestBilinearInterpolation(t *testing.T) {
	g := New(2, 2)
	g.Set(0, 0, 0)
	g.Set(1, 0, 10)
	g.Set(0, 1, 0)
	g.Set(1, 1, 10)

	// Center of the grid should average to 5 regardless of row.
	v := g.Sample(0.5, 0.5)
	if IsNoData(v) {
		t.Fatal("unexpected NoData")
	}
	if v < 4.9 || v > 5.1 {
		t.Errorf("expected ~5, got %v", v)
	}
}

func TestAnyNoDataNeighborPropagates(t *testing.T) {
	g := New(2, 2)
	g.Set(0, 0, 1)
	g.Set(1, 0, 1)
	g.Set(0, 1, 1)
	// (1,1) left as NoData.
	v := g.Sample(0.9, 0.9)
	if !IsNoData(v) {
		t.Errorf("expected NoData when a neighbor is NoData, got %v", v)
	}
}

func TestResamplePreservesNoData(t *testing.T) {
	parent := New(4, 4)
	for i := range parent.Samples {
		parent.Samples[i] = 100
	}
	parent.Set(0, 0, NoData)

	child := Resample(parent, 4, 4, 0, 0, 0.5, 0.5)
	found := false
	for _, s := range child.Samples {
		if IsNoData(s) {
			found = true
		}
	}
	if !found {
		t.Error("expected resampled child to preserve at least one NoData cell near parent's NoData corner")
	}
}

func TestResampleNilSourceReturnsAllNoData(t *testing.T) {
	child := Resample(nil, 2, 2, 0, 0, 1, 1)
	for _, s := range child.Samples {
		if !IsNoData(s) {
			t.Fatal("expected all-NoData grid for nil source")
		}
	}
}
