package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reducer/internal/types"
)

// Dataset exposes one feed's archive as named variables on a lon/lat/time
// (+ lead) grid, using the coordinate names declared in the feed spec.
type Dataset struct {
	store  *Store
	spec   types.FeedSpec
	logger *slog.Logger

	coords map[string][]float64
	times  map[string][]time.Time
	steps  map[string][]time.Duration
}

// NewDataset wraps an opened store with the coordinate naming of spec.
func NewDataset(store *Store, spec types.FeedSpec, logger *slog.Logger) *Dataset {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dataset{
		store:  store,
		spec:   spec,
		logger: logger,
		coords: make(map[string][]float64),
		times:  make(map[string][]time.Time),
		steps:  make(map[string][]time.Duration),
	}
}

func (d *Dataset) timeCol() string {
	if d.spec.TimeCol != "" {
		return d.spec.TimeCol
	}
	return "time"
}

func (d *Dataset) stepCol() string {
	if d.spec.StepCol != "" {
		return d.spec.StepCol
	}
	return "step"
}

// axes locates each role's position in a variable's dimension order. step
// is -1 when the variable has no lead axis. Any other dimension must have
// length 1 and is read at index 0.
type axes struct {
	time, step, lat, lon int
}

func (d *Dataset) axesOf(a *Array) (axes, error) {
	ax := axes{
		time: a.DimIndex(d.timeCol()),
		step: a.DimIndex(d.stepCol()),
		lat:  a.DimIndex(d.spec.LatCol),
		lon:  a.DimIndex(d.spec.LonCol),
	}
	if ax.time < 0 || ax.lat < 0 || ax.lon < 0 {
		return ax, corruptError(fmt.Sprintf("variable %s dims %v lack %s/%s/%s",
			a.Name, a.Dims, d.timeCol(), d.spec.LatCol, d.spec.LonCol), d.store.URL(), nil)
	}
	for i, name := range a.Dims {
		if i == ax.time || i == ax.step || i == ax.lat || i == ax.lon {
			continue
		}
		if a.Meta.Shape[i] != 1 {
			return ax, corruptError(fmt.Sprintf("variable %s has extra dimension %s of length %d",
				a.Name, name, a.Meta.Shape[i]), d.store.URL(), nil)
		}
	}
	return ax, nil
}

// Layout returns the coordinate system of variable.
func (d *Dataset) Layout(ctx context.Context, variable string) (*types.GridLayout, error) {
	a, err := d.store.Array(ctx, variable)
	if err != nil {
		return nil, err
	}
	ax, err := d.axesOf(a)
	if err != nil {
		return nil, err
	}

	lons, err := d.floatCoord(ctx, a.Dims[ax.lon])
	if err != nil {
		return nil, err
	}
	lats, err := d.floatCoord(ctx, a.Dims[ax.lat])
	if err != nil {
		return nil, err
	}
	times, err := d.timeCoord(ctx, a.Dims[ax.time])
	if err != nil {
		return nil, err
	}
	layout := &types.GridLayout{Lons: lons, Lats: lats, Times: times}
	if ax.step >= 0 {
		steps, err := d.stepCoord(ctx, a.Dims[ax.step])
		if err != nil {
			return nil, err
		}
		layout.Steps = steps
	}

	if len(lons) != a.Meta.Shape[ax.lon] || len(lats) != a.Meta.Shape[ax.lat] || len(times) != a.Meta.Shape[ax.time] {
		return nil, corruptError(fmt.Sprintf("variable %s shape %v disagrees with its coordinates", variable, a.Meta.Shape), d.store.URL(), nil)
	}
	return layout, nil
}

// Read returns the window of variable as a (time, step, lat, lon) block.
func (d *Dataset) Read(ctx context.Context, variable string, w types.Window) (*types.Block, error) {
	a, err := d.store.Array(ctx, variable)
	if err != nil {
		return nil, err
	}
	ax, err := d.axesOf(a)
	if err != nil {
		return nil, err
	}

	ndim := len(a.Meta.Shape)
	start := make([]int, ndim)
	count := make([]int, ndim)
	for i := range count {
		count[i] = 1
	}
	start[ax.time], count[ax.time] = w.TimeLo, w.TimeHi-w.TimeLo
	start[ax.lat], count[ax.lat] = w.LatLo, w.LatHi-w.LatLo
	start[ax.lon], count[ax.lon] = w.LonLo, w.LonHi-w.LonLo
	nStep := 1
	if ax.step >= 0 {
		nStep = a.Meta.Shape[ax.step]
		count[ax.step] = nStep
	}

	vals, err := d.store.ReadRegion(ctx, a, start, count)
	if err != nil {
		return nil, err
	}

	block := types.NewBlock(count[ax.time], nStep, count[ax.lat], count[ax.lon])
	strides := cOrderStrides(count)
	stepStride := 0
	if ax.step >= 0 {
		stepStride = strides[ax.step]
	}
	for t := 0; t < block.NTime; t++ {
		for s := 0; s < block.NStep; s++ {
			for la := 0; la < block.NLat; la++ {
				for lo := 0; lo < block.NLon; lo++ {
					src := t*strides[ax.time] + s*stepStride + la*strides[ax.lat] + lo*strides[ax.lon]
					block.Set(t, s, la, lo, vals[src])
				}
			}
		}
	}

	d.logger.DebugContext(ctx, "read archive window",
		"variable", variable,
		"time", []int{w.TimeLo, w.TimeHi},
		"lat", []int{w.LatLo, w.LatHi},
		"lon", []int{w.LonLo, w.LonHi},
	)
	return block, nil
}

func (d *Dataset) floatCoord(ctx context.Context, name string) ([]float64, error) {
	if v, ok := d.coords[name]; ok {
		return v, nil
	}
	a, err := d.coordArray(ctx, name)
	if err != nil {
		return nil, err
	}
	vals, err := d.store.ReadAll(ctx, a)
	if err != nil {
		return nil, err
	}
	d.coords[name] = vals
	return vals, nil
}

func (d *Dataset) timeCoord(ctx context.Context, name string) ([]time.Time, error) {
	if v, ok := d.times[name]; ok {
		return v, nil
	}
	a, err := d.coordArray(ctx, name)
	if err != nil {
		return nil, err
	}
	raw, err := d.store.ReadAll(ctx, a)
	if err != nil {
		return nil, err
	}
	times, err := DecodeTimes(a, raw)
	if err != nil {
		return nil, corruptError(err.Error(), d.store.URL(), err)
	}
	d.times[name] = times
	return times, nil
}

func (d *Dataset) stepCoord(ctx context.Context, name string) ([]time.Duration, error) {
	if v, ok := d.steps[name]; ok {
		return v, nil
	}
	a, err := d.coordArray(ctx, name)
	if err != nil {
		return nil, err
	}
	raw, err := d.store.ReadAll(ctx, a)
	if err != nil {
		return nil, err
	}
	steps, err := DecodeDurations(a, raw)
	if err != nil {
		return nil, corruptError(err.Error(), d.store.URL(), err)
	}
	d.steps[name] = steps
	return steps, nil
}

func (d *Dataset) coordArray(ctx context.Context, name string) (*Array, error) {
	a, err := d.store.Array(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(a.Meta.Shape) != 1 {
		return nil, corruptError(fmt.Sprintf("coordinate %s is not one-dimensional", name), d.store.URL(), nil)
	}
	return a, nil
}

// Opener opens a feed's Zarr archive.
type Opener struct {
	s3     S3Client
	logger *slog.Logger
}

// NewOpener creates an Opener reading through client.
func NewOpener(client S3Client, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{s3: client, logger: logger}
}

// Open opens the archive at spec.URL.
func (o *Opener) Open(ctx context.Context, spec types.FeedSpec) (*Dataset, error) {
	store, err := Open(ctx, o.s3, spec.URL, o.logger)
	if err != nil {
		return nil, err
	}
	return NewDataset(store, spec, o.logger.With("feed", spec.Name)), nil
}
