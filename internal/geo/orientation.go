// Package geo computes area-weighted overlap masks between catchment polygons
// and regular lon/lat grids.
//
// A grid may store latitude (or longitude) ascending or descending, and
// longitude either in [-180, 180) or wrapped to [0, 360). These layouts are
// resolved once into an Orientation; a single index search and a single
// weighting loop then serve every combination.
package geo

import (
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Orientation describes how a grid's coordinate axes are laid out relative to
// the polygon being weighted.
type Orientation struct {
	LatDescending bool
	LonDescending bool
	// LonWrapped is set when the grid uses [0, 360) longitudes while the
	// polygon reaches into negative longitudes.
	LonWrapped bool
}

// String renders the orientation as "lat-ascending|lon-unwrapped" style tags.
func (o Orientation) String() string {
	var parts []string
	if o.LatDescending {
		parts = append(parts, "lat-descending")
	} else {
		parts = append(parts, "lat-ascending")
	}
	if o.LonWrapped {
		parts = append(parts, "lon-wrapped")
	} else {
		parts = append(parts, "lon-unwrapped")
	}
	if o.LonDescending {
		parts = append(parts, "lon-descending")
	}
	return strings.Join(parts, "|")
}

// ResolveOrientation inspects the coordinate axes and the polygon's minimum
// longitude. Axis direction is taken from the first and last elements.
func ResolveOrientation(lons, lats []float64, polyMinLon float64) Orientation {
	var o Orientation
	if len(lats) > 1 {
		o.LatDescending = lats[len(lats)-1] < lats[0]
	}
	if len(lons) > 1 {
		o.LonDescending = lons[len(lons)-1] < lons[0]
	}
	if len(lons) > 0 {
		o.LonWrapped = floats.Min(lons) >= 0 && floats.Max(lons) > 180 && polyMinLon < 0
	}
	return o
}

// lonShift is the offset applied to polygon longitudes when searching a
// wrapped grid.
func (o Orientation) lonShift() float64 {
	if o.LonWrapped {
		return 360
	}
	return 0
}

// axisRange finds the smallest index range [lo, hi] of grid lines that
// encloses [min, max] on one axis. With strict set, a grid line lying exactly
// on an edge does not count as enclosing it. ok is false when either search
// comes up empty or the range holds no cell.
func axisRange(coords []float64, min, max float64, descending, strict bool) (lo, hi int, ok bool) {
	below := func(v, edge float64) bool {
		if strict {
			return v < edge
		}
		return v <= edge
	}
	above := func(v, edge float64) bool {
		if strict {
			return v > edge
		}
		return v >= edge
	}

	if descending {
		lo = lastIndex(coords, func(v float64) bool { return above(v, max) })
		hi = firstIndex(coords, func(v float64) bool { return below(v, min) })
	} else {
		lo = lastIndex(coords, func(v float64) bool { return below(v, min) })
		hi = firstIndex(coords, func(v float64) bool { return above(v, max) })
	}
	if lo < 0 || hi < 0 || hi <= lo {
		return lo, hi, false
	}
	return lo, hi, true
}

func lastIndex(xs []float64, pred func(float64) bool) int {
	for i := len(xs) - 1; i >= 0; i-- {
		if pred(xs[i]) {
			return i
		}
	}
	return -1
}

func firstIndex(xs []float64, pred func(float64) bool) int {
	for i, v := range xs {
		if pred(v) {
			return i
		}
	}
	return -1
}
