// Package reduce collapses gridded archive variables to per-catchment time
// series and shapes them into daily rows.
package reduce

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/ctessum/geom"
	"gonum.org/v1/gonum/stat"

	"reducer/internal/geo"
	"reducer/internal/types"
)

// ArrayReader exposes the variables of one opened feed archive.
type ArrayReader interface {
	Layout(ctx context.Context, variable string) (*types.GridLayout, error)
	Read(ctx context.Context, variable string, w types.Window) (*types.Block, error)
}

// Series is one variable reduced over one polygon. Values is indexed
// [time][step]; variables without a lead axis have a single pseudo-step and
// nil Steps.
type Series struct {
	Times  []time.Time
	Steps  []time.Duration
	Values [][]float64
}

// Len returns the number of time samples.
func (s *Series) Len() int {
	return len(s.Times)
}

// Reducer computes area-weighted spatial means of one variable.
type Reducer struct {
	reader   ArrayReader
	variable string
	logger   *slog.Logger

	layout *types.GridLayout
}

// NewReducer creates a Reducer for variable.
func NewReducer(reader ArrayReader, variable string, logger *slog.Logger) *Reducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reducer{reader: reader, variable: variable, logger: logger}
}

// Layout returns (and caches) the variable's grid.
func (r *Reducer) Layout(ctx context.Context) (*types.GridLayout, error) {
	if r.layout != nil {
		return r.layout, nil
	}
	layout, err := r.reader.Layout(ctx, r.variable)
	if err != nil {
		return nil, err
	}
	r.layout = layout
	return layout, nil
}

// Reduce returns the weighted spatial mean of the variable over poly for the
// calendar days first through last inclusive. Cells with zero weight and
// missing values do not contribute; a time step with no contributing cell is
// NaN.
func (r *Reducer) Reduce(ctx context.Context, poly geom.Polygonal, first, last time.Time) (*Series, error) {
	layout, err := r.Layout(ctx)
	if err != nil {
		return nil, err
	}

	mask, err := geo.Weigh(layout.Lons, layout.Lats, poly)
	if err != nil {
		return nil, err
	}

	tLo, tHi := timeRange(layout.Times, types.TruncateDay(first), types.TruncateDay(last).AddDate(0, 0, 1))
	series := &Series{Steps: layout.Steps}
	if tLo >= tHi {
		return series, nil
	}

	block, err := r.reader.Read(ctx, r.variable, types.Window{
		TimeLo: tLo,
		TimeHi: tHi,
		LatLo:  mask.Bounds.LatLo,
		LatHi:  mask.Bounds.LatHi,
		LonLo:  mask.Bounds.LonLo,
		LonHi:  mask.Bounds.LonHi,
	})
	if err != nil {
		return nil, err
	}

	series.Times = layout.Times[tLo:tHi]
	series.Values = weightedMeans(block, mask.Weights)

	r.logger.DebugContext(ctx, "reduced variable",
		"variable", r.variable,
		"times", tHi-tLo,
		"steps", block.NStep,
		"cells", mask.NonZero(),
		"orientation", mask.Orientation.String(),
	)
	return series, nil
}

// timeRange returns the index range of times within [from, until). times is
// ascending.
func timeRange(times []time.Time, from, until time.Time) (int, int) {
	lo := sort.Search(len(times), func(i int) bool { return !times[i].Before(from) })
	hi := sort.Search(len(times), func(i int) bool { return !times[i].Before(until) })
	return lo, hi
}

func weightedMeans(block *types.Block, weights [][]float64) [][]float64 {
	n := block.NLat * block.NLon
	xs := make([]float64, 0, n)
	ws := make([]float64, 0, n)

	out := make([][]float64, block.NTime)
	for t := 0; t < block.NTime; t++ {
		out[t] = make([]float64, block.NStep)
		for s := 0; s < block.NStep; s++ {
			xs, ws = xs[:0], ws[:0]
			for la := 0; la < block.NLat; la++ {
				for lo := 0; lo < block.NLon; lo++ {
					w := weights[la][lo]
					v := block.At(t, s, la, lo)
					if w <= 0 || math.IsNaN(v) {
						continue
					}
					xs = append(xs, v)
					ws = append(ws, w)
				}
			}
			if len(xs) == 0 {
				out[t][s] = math.NaN()
				continue
			}
			out[t][s] = stat.Mean(xs, ws)
		}
	}
	return out
}
