package geo

import (
	"math"

	"github.com/ctessum/geom"
)

// EarthRadius is the WGS84 equatorial radius in meters.
const EarthRadius = 6378137.0

// GeodesicArea returns the area in square meters of a lon/lat polygonal
// geometry measured on the sphere. Holes are detected by nesting depth, so
// ring winding order does not matter.
func GeodesicArea(p geom.Polygonal) float64 {
	if p == nil {
		return 0
	}
	var total float64
	for _, poly := range p.Polygons() {
		total += polygonArea(poly)
	}
	return total
}

func polygonArea(p geom.Polygon) float64 {
	var area float64
	for i, ring := range p {
		r := openRing(ring)
		if len(r) < 3 {
			continue
		}
		a := math.Abs(ringArea(r))
		if nestingDepth(p, i)%2 == 1 {
			area -= a
		} else {
			area += a
		}
	}
	return math.Max(area, 0)
}

// ringArea is the signed spherical-excess approximation
//
//	A = R²/2 · Σ (λ[i+1] − λ[i−1]) · sin φ[i]
//
// over the ring's distinct vertices, indices taken cyclically.
func ringArea(r []geom.Point) float64 {
	n := len(r)
	var sum float64
	for i := 0; i < n; i++ {
		prev := r[(i+n-1)%n]
		next := r[(i+1)%n]
		sum += (radians(next.X) - radians(prev.X)) * math.Sin(radians(r[i].Y))
	}
	return sum * EarthRadius * EarthRadius / 2
}

// openRing drops a duplicated closing vertex.
func openRing(r []geom.Point) []geom.Point {
	if len(r) > 1 && r[0] == r[len(r)-1] {
		return r[:len(r)-1]
	}
	return r
}

// nestingDepth counts the other rings of p that contain ring i.
func nestingDepth(p geom.Polygon, i int) int {
	if len(p[i]) == 0 {
		return 0
	}
	probe := p[i][0]
	depth := 0
	for j, other := range p {
		if j == i {
			continue
		}
		if pointInRing(probe, openRing(other)) {
			depth++
		}
	}
	return depth
}

// pointInRing is an even-odd ray cast along +X.
func pointInRing(pt geom.Point, ring []geom.Point) bool {
	in := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Y > pt.Y) != (b.Y > pt.Y) &&
			pt.X < (b.X-a.X)*(pt.Y-a.Y)/(b.Y-a.Y)+a.X {
			in = !in
		}
	}
	return in
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
