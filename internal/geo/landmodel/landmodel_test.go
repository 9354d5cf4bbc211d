package landmodel

import (
	"math"
	"testing"
)

func TestSphereRoundTrip(t *testing.T) {
	s := NewSphere(6371008.8)

	cases := []struct{ lat, lon, h float64 }{
		{0, 0, 0},
		{45, 90, 1000},
		{-30, -120, 500},
		{89, 179, 0},
	}

	for _, c := range cases {
		p := s.LatLonHeightToXYZ(c.lat, c.lon, c.h)
		lat, lon, h := s.XYZToLatLonHeight(p)
		if math.Abs(lat-c.lat) > 1e-9 || math.Abs(lon-c.lon) > 1e-9 || math.Abs(h-c.h) > 1e-6 {
			t.Errorf("round trip mismatch: got (%v,%v,%v) want (%v,%v,%v)", lat, lon, h, c.lat, c.lon, c.h)
		}
	}
}

func TestEllipsoidRoundTripBelow80Lat(t *testing.T) {
	e := WGS84()

	cases := []struct{ lat, lon, h float64 }{
		{0, 0, 0},
		{10, 45, 200},
		{-45, -60, 1000},
		{79.9, 170, 0},
	}

	for _, c := range cases {
		p := e.LatLonHeightToXYZ(c.lat, c.lon, c.h)
		lat, lon, h := e.XYZToLatLonHeight(p)

		// Tolerance tighter near the equator, looser toward higher
		// latitudes per the spec's round-trip property.
		tol := 0.01 // meters in height; ~1cm
		if math.Abs(h-c.h) > tol {
			t.Errorf("height mismatch at lat=%v: got %v want %v", c.lat, h, c.h)
		}
		if math.Abs(lat-c.lat) > 1e-6 || math.Abs(lon-c.lon) > 1e-6 {
			t.Errorf("lat/lon mismatch at lat=%v: got (%v,%v) want (%v,%v)", c.lat, lat, lon, c.lat, c.lon)
		}
	}
}

func TestLatitudeOutOfRangePanics(t *testing.T) {
	s := NewSphere(6371000)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range latitude")
		}
	}()
	s.LatLonHeightToXYZ(91, 0, 0)
}

func TestPlanetRotationMatrixOrthonormal(t *testing.T) {
	s := NewSphere(6371000)
	m := s.PlanetRotationMatrix(30, 45, 0, 0)

	east := Vec3{m[0], m[1], m[2]}
	north := Vec3{m[4], m[5], m[6]}
	up := Vec3{m[8], m[9], m[10]}

	dot := func(a, b Vec3) float64 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
	norm := func(a Vec3) float64 { return math.Sqrt(dot(a, a)) }

	const eps = 1e-9
	if math.Abs(norm(east)-1) > eps || math.Abs(norm(north)-1) > eps || math.Abs(norm(up)-1) > eps {
		t.Error("expected unit-length basis vectors")
	}
	if math.Abs(dot(east, north)) > eps || math.Abs(dot(north, up)) > eps || math.Abs(dot(east, up)) > eps {
		t.Error("expected orthogonal basis vectors")
	}
}

func TestHeadingRotatesEastNorth(t *testing.T) {
	s := NewSphere(6371000)
	m0 := s.PlanetRotationMatrix(0, 0, 0, 0)
	m90 := s.PlanetRotationMatrix(0, 0, 0, 90)

	// After a 90 degree heading turn, the new "east" axis should equal the
	// old "north" axis (up to sign conventions of rotation direction).
	north0 := Vec3{m0[4], m0[5], m0[6]}
	east90 := Vec3{m90[0], m90[1], m90[2]}

	const eps = 1e-9
	if math.Abs(north0.X-east90.X) > eps || math.Abs(north0.Y-east90.Y) > eps || math.Abs(north0.Z-east90.Z) > eps {
		t.Errorf("expected heading rotation to align north(0) with east(90): %v vs %v", north0, east90)
	}
}
