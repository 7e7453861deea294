package geo

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"gonum.org/v1/gonum/floats"

	"reducer/internal/types"
)

// Bounds are the grid-line indices enclosing a polygon. Cell i on an axis
// spans grid lines i and i+1, so the mask covers cells [Lo, Hi) on each axis
// and the matching data window is indices [Lo, Hi).
type Bounds struct {
	LonLo int
	LatLo int
	LonHi int
	LatHi int
}

// LonCells is the number of mask columns.
func (b Bounds) LonCells() int { return b.LonHi - b.LonLo }

// LatCells is the number of mask rows.
func (b Bounds) LatCells() int { return b.LatHi - b.LatLo }

// Extents are the geographic limits of the cells actually built, in true
// [-180, 180) longitudes.
type Extents struct {
	MinLon float64
	MaxLon float64
	MinLat float64
	MaxLat float64
}

// Mask holds per-cell overlap fractions for one (polygon, grid) pair.
// Weights is indexed [lat][lon] relative to Bounds.LatLo and Bounds.LonLo,
// following the grid's own index order.
type Mask struct {
	Weights     [][]float64
	Bounds      Bounds
	Extents     Extents
	Orientation Orientation
}

// Total is the sum of all weights.
func (m *Mask) Total() float64 {
	var s float64
	for _, row := range m.Weights {
		for _, w := range row {
			s += w
		}
	}
	return s
}

// NonZero counts cells with a positive weight.
func (m *Mask) NonZero() int {
	n := 0
	for _, row := range m.Weights {
		for _, w := range row {
			if w > 0 {
				n++
			}
		}
	}
	return n
}

// Weigh computes the fraction of each grid cell's area covered by poly, over
// the smallest sub-window of the grid enclosing the polygon's bounding box.
// Longitude edges match non-strictly, latitude edges strictly.
//
// A polygon whose bounding box cannot be enclosed by the grid returns a
// geometry_outside_grid error.
func Weigh(lons, lats []float64, poly geom.Polygonal) (*Mask, error) {
	if poly == nil {
		return nil, types.NewAppError(types.ErrCodeGeometryInvalid, "polygon is nil", nil)
	}
	if len(lons) < 2 || len(lats) < 2 {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeGeometryInvalid,
			"grid needs at least two lines per axis", nil,
			map[string]any{"lons": len(lons), "lats": len(lats)})
	}
	pb := poly.Bounds()
	if pb == nil || math.IsInf(pb.Min.X, 0) || math.IsInf(pb.Max.X, 0) {
		return nil, types.NewAppError(types.ErrCodeGeometryInvalid, "polygon has no extent", nil)
	}

	o := ResolveOrientation(lons, lats, pb.Min.X)
	shift := o.lonShift()

	lonLo, lonHi, ok := axisRange(lons, pb.Min.X+shift, pb.Max.X+shift, o.LonDescending, false)
	if !ok {
		return nil, coverageError("longitude", pb, o, lons)
	}
	latLo, latHi, ok := axisRange(lats, pb.Min.Y, pb.Max.Y, o.LatDescending, true)
	if !ok {
		return nil, coverageError("latitude", pb, o, lats)
	}

	lonLines := append([]float64(nil), lons[lonLo:lonHi+1]...)
	latLines := lats[latLo : latHi+1]
	if o.LonWrapped && floats.Min(lonLines) > 180 {
		for i := range lonLines {
			lonLines[i] -= 360
		}
	}

	weights := make([][]float64, len(latLines)-1)
	for j := range weights {
		y0, y1 := ordered(latLines[j], latLines[j+1])
		row := make([]float64, len(lonLines)-1)
		for i := range row {
			x0, x1 := ordered(lonLines[i], lonLines[i+1])
			row[i] = cellWeight(x0, y0, x1, y1, poly, pb)
		}
		weights[j] = row
	}

	return &Mask{
		Weights: weights,
		Bounds: Bounds{
			LonLo: lonLo,
			LatLo: latLo,
			LonHi: lonHi,
			LatHi: latHi,
		},
		Extents: Extents{
			MinLon: floats.Min(lonLines),
			MaxLon: floats.Max(lonLines),
			MinLat: floats.Min(latLines),
			MaxLat: floats.Max(latLines),
		},
		Orientation: o,
	}, nil
}

// cellWeight is area(cell ∩ poly) / area(cell), clamped to [0, 1].
func cellWeight(x0, y0, x1, y1 float64, poly geom.Polygonal, pb *geom.Bounds) float64 {
	cb := &geom.Bounds{Min: geom.Point{X: x0, Y: y0}, Max: geom.Point{X: x1, Y: y1}}
	if !pb.Overlaps(cb) {
		return 0
	}
	cell := geom.Polygon{{
		{X: x0, Y: y0},
		{X: x1, Y: y0},
		{X: x1, Y: y1},
		{X: x0, Y: y1},
	}}
	cellArea := GeodesicArea(cell)
	if cellArea <= 0 {
		return 0
	}
	isect := cell.Intersection(poly)
	if isect == nil {
		return 0
	}
	w := GeodesicArea(isect) / cellArea
	switch {
	case w < 0:
		return 0
	case w > 1:
		return 1
	}
	return w
}

func coverageError(axis string, pb *geom.Bounds, o Orientation, coords []float64) error {
	return types.NewAppErrorWithDetails(types.ErrCodeGeometryOutsideGrid,
		fmt.Sprintf("polygon bounding box is not enclosed by the grid %s axis", axis), nil,
		map[string]any{
			"axis":        axis,
			"orientation": o.String(),
			"poly_min":    []float64{pb.Min.X, pb.Min.Y},
			"poly_max":    []float64{pb.Max.X, pb.Max.Y},
			"grid_first":  coords[0],
			"grid_last":   coords[len(coords)-1],
		})
}

func ordered(a, b float64) (float64, float64) {
	if a > b {
		return b, a
	}
	return a, b
}
