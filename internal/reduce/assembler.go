package reduce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"gonum.org/v1/gonum/stat"

	"reducer/internal/types"
)

// Opener opens a feed's archive for reading.
type Opener interface {
	Open(ctx context.Context, spec types.FeedSpec) (ArrayReader, error)
}

// AssemblerConfig holds the dependencies for an Assembler.
type AssemblerConfig struct {
	Opener Opener
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Assembler reduces every variable of a feed over a set of geometries and
// shapes the result into one daily row per (reservoir, date).
type Assembler struct {
	opener Opener
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewAssembler creates an Assembler from cfg.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Assembler{opener: cfg.Opener, clock: clock, logger: logger}
}

// Assemble produces the rows for geoms over the calendar days first through
// last inclusive. Days without any source sample produce no row. When any
// variable carries a lead axis, each column holds one value per lead day.
func (a *Assembler) Assemble(ctx context.Context, spec types.FeedSpec, geoms []types.Geometry, first, last time.Time) (*types.RowSet, error) {
	reader, err := a.opener.Open(ctx, spec)
	if err != nil {
		return nil, err
	}

	rename := spec.RenameMap()
	columns := make([]string, len(spec.Variables))
	reducers := make([]*Reducer, len(spec.Variables))
	hasLead := false
	for i, v := range spec.Variables {
		columns[i] = rename[v]
		reducers[i] = NewReducer(reader, v, a.logger)
		layout, err := reducers[i].Layout(ctx)
		if err != nil {
			return nil, err
		}
		hasLead = hasLead || layout.HasLead()
	}

	// One processing timestamp for the whole assembly.
	stamp := a.clock.Now().UTC().Format(types.TimestampLayout)

	set := &types.RowSet{Feed: spec.Name, Columns: columns, HasLead: hasLead}
	for _, g := range geoms {
		perVar := make([]*daily, len(reducers))
		for i, r := range reducers {
			series, err := r.Reduce(ctx, g.Polygon, first, last)
			if err != nil {
				return nil, annotate(err, g.Name, spec.Variables[i])
			}
			perVar[i] = resampleDaily(series)
		}
		set.Rows = append(set.Rows, shapeRows(g.Name, stamp, columns, hasLead, perVar)...)
	}

	a.logger.InfoContext(ctx, "assembled rows",
		"feed", spec.Name,
		"reservoirs", len(geoms),
		"first", first.Format(types.DateLayout),
		"last", last.Format(types.DateLayout),
		"rows", set.Len(),
	)
	return set, nil
}

// daily is one variable's series averaged to calendar days and lead days.
type daily struct {
	days    []time.Time
	buckets []int
	values  map[time.Time]map[int]float64
}

// resampleDaily averages time samples within each calendar day, then lead
// steps within 24h bins counted from the smallest step. Missing values are
// skipped; a group with none left is NaN.
func resampleDaily(s *Series) *daily {
	nStep := 1
	if s.Steps != nil {
		nStep = len(s.Steps)
	}
	buckets := leadBuckets(s.Steps, nStep)

	var days []time.Time
	byDay := make(map[time.Time][]int)
	for t, ts := range s.Times {
		d := types.TruncateDay(ts)
		if _, ok := byDay[d]; !ok {
			days = append(days, d)
		}
		byDay[d] = append(byDay[d], t)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	out := &daily{days: days, values: make(map[time.Time]map[int]float64, len(days))}
	if len(buckets) > 0 {
		lo, hi := slices.Min(buckets), slices.Max(buckets)
		for b := lo; b <= hi; b++ {
			out.buckets = append(out.buckets, b)
		}
	}

	col := make([]float64, 0, len(s.Times))
	for _, d := range days {
		stepMeans := make([]float64, nStep)
		for step := 0; step < nStep; step++ {
			col = col[:0]
			for _, t := range byDay[d] {
				col = append(col, s.Values[t][step])
			}
			stepMeans[step] = nanMean(col)
		}

		grouped := make(map[int][]float64, len(out.buckets))
		for step, b := range buckets {
			grouped[b] = append(grouped[b], stepMeans[step])
		}
		vals := make(map[int]float64, len(out.buckets))
		for _, b := range out.buckets {
			vals[b] = nanMean(grouped[b])
		}
		out.values[d] = vals
	}
	return out
}

// leadBuckets assigns each step to floor((step - min) / 24h), so the first
// bin starts at the earliest lead rather than at zero.
func leadBuckets(steps []time.Duration, nStep int) []int {
	buckets := make([]int, nStep)
	n := min(nStep, len(steps))
	if n == 0 {
		return buckets
	}
	origin := slices.Min(steps[:n])
	for i := range n {
		buckets[i] = int(math.Floor(float64(steps[i]-origin) / float64(24*time.Hour)))
	}
	return buckets
}

func nanMean(xs []float64) float64 {
	vals := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			vals = append(vals, x)
		}
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	return stat.Mean(vals, nil)
}

// shapeRows merges the variables of one reservoir on the union of their days
// and lead buckets.
func shapeRows(reservoir, stamp string, columns []string, hasLead bool, perVar []*daily) []types.Row {
	daySet := make(map[time.Time]struct{})
	bucketSet := make(map[int]struct{})
	for _, d := range perVar {
		for _, day := range d.days {
			daySet[day] = struct{}{}
		}
		for _, b := range d.buckets {
			bucketSet[b] = struct{}{}
		}
	}
	days := make([]time.Time, 0, len(daySet))
	for day := range daySet {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	buckets := make([]int, 0, len(bucketSet))
	for b := range bucketSet {
		buckets = append(buckets, b)
	}
	sort.Ints(buckets)

	rows := make([]types.Row, 0, len(days))
	for _, day := range days {
		row := types.Row{
			Reservoir: reservoir,
			Date:      day.Format(types.DateLayout),
			Timestamp: stamp,
		}
		if hasLead {
			row.Leads = make(map[string][]float64, len(columns))
		} else {
			row.Values = make(map[string]float64, len(columns))
		}
		for i, c := range columns {
			vals, ok := perVar[i].values[day]
			if !hasLead {
				v := math.NaN()
				if ok {
					v = vals[0]
				}
				row.Values[c] = v
				continue
			}
			seq := make([]float64, len(buckets))
			for k, b := range buckets {
				v, found := vals[b]
				if !ok || !found {
					v = math.NaN()
				}
				seq[k] = v
			}
			row.Leads[c] = seq
		}
		rows = append(rows, row)
	}
	return rows
}

func annotate(err error, reservoir, variable string) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.WithDetails(map[string]any{"reservoir": reservoir, "variable": variable})
	}
	return fmt.Errorf("reduce %s for %s: %w", variable, reservoir, err)
}
