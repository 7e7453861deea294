package geo

import (
	"math"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
)

func TestGeodesicArea_EquatorialDegreeCell(t *testing.T) {
	// R² · Δλ · (sin φ1 − sin φ0) for a 1°×1° cell on the equator.
	want := EarthRadius * EarthRadius * radians(1) * math.Sin(radians(1))
	got := GeodesicArea(box(0, 0, 1, 1))
	assert.InEpsilon(t, want, got, 1e-9)
	assert.InEpsilon(t, 1.2391e10, got, 1e-3)
}

func TestGeodesicArea_ShrinksTowardPoles(t *testing.T) {
	equator := GeodesicArea(box(10, 0, 11, 1))
	subpolar := GeodesicArea(box(10, 70, 11, 71))
	assert.Less(t, subpolar, equator/2)
}

func TestGeodesicArea_WindingIndependent(t *testing.T) {
	ccw := box(0, 0, 2, 2)
	cw := geom.Polygon{{
		{X: 0, Y: 0},
		{X: 0, Y: 2},
		{X: 2, Y: 2},
		{X: 2, Y: 0},
	}}
	assert.InDelta(t, GeodesicArea(ccw), GeodesicArea(cw), 1e-3)
}

func TestGeodesicArea_ClosedRingMatchesOpen(t *testing.T) {
	closed := geom.Polygon{{
		{X: 0, Y: 0},
		{X: 1, Y: 0},
		{X: 1, Y: 1},
		{X: 0, Y: 1},
		{X: 0, Y: 0},
	}}
	assert.InDelta(t, GeodesicArea(box(0, 0, 1, 1)), GeodesicArea(closed), 1e-3)
}

func TestGeodesicArea_HoleSubtracted(t *testing.T) {
	outer := box(0, 0, 2, 2)
	hole := box(0.5, 0.5, 1.5, 1.5)
	withHole := geom.Polygon{outer[0], hole[0]}

	want := GeodesicArea(outer) - GeodesicArea(hole)
	assert.InDelta(t, want, GeodesicArea(withHole), 1)
}

func TestGeodesicArea_MultiPolygonSums(t *testing.T) {
	a := box(0, 0, 1, 1)
	b := box(5, 0, 6, 1)
	mp := geom.MultiPolygon{a, b}
	assert.InDelta(t, GeodesicArea(a)+GeodesicArea(b), GeodesicArea(mp), 1)
}

func TestGeodesicArea_Nil(t *testing.T) {
	assert.Zero(t, GeodesicArea(nil))
}
