package types

import (
	"time"

	"github.com/ctessum/geom"
)

// DateLayout is the calendar-date wire format used for run inputs, horizon
// tokens and reduced rows.
const DateLayout = "2006-01-02"

// TimestampLayout is the processing timestamp format written on each reduced
// row (ISO 8601 with microseconds, no zone).
const TimestampLayout = "2006-01-02T15:04:05.000000"

// FeedName identifies one independent source/table pair.
type FeedName string

const (
	// FeedForecast is the ensemble forecast feed (carries a lead axis).
	FeedForecast FeedName = "forecast"
	// FeedPrecip is the observed precipitation feed.
	FeedPrecip FeedName = "precip"
)

// FeedOrder is the order feeds are processed within a run.
var FeedOrder = []FeedName{FeedForecast, FeedPrecip}

// Geometry is a tracked catchment polygon in EPSG:4326 lon/lat.
type Geometry struct {
	UUID    string
	Name    string
	Polygon geom.Polygonal
}

// FeedSpec declares where a feed's archive lives and how to read and persist it.
type FeedSpec struct {
	Name            FeedName     `json:"-"`
	URL             string       `json:"url" validate:"required,startswith=s3://"`
	Variables       []string     `json:"variables" validate:"required,min=1,dive,required"`
	VariablesRename []string     `json:"variables_rename" validate:"required,min=1,dive,required"`
	LatCol          string       `json:"lat_col" validate:"required"`
	LonCol          string       `json:"lon_col" validate:"required"`
	TimeCol         string       `json:"time_col"`
	StepCol         string       `json:"step_col"`
	Table           string       `json:"table" validate:"required"`
	Horizon         HorizonToken `json:"horizon" validate:"required"`
}

// HorizonToken locates the small JSON object holding a feed's most recent
// available date.
type HorizonToken struct {
	URL string `json:"url" validate:"required,startswith=s3://"`
	Key string `json:"key" validate:"required"`
}

// RenameMap maps archive variable names to persisted column names.
func (f FeedSpec) RenameMap() map[string]string {
	m := make(map[string]string, len(f.Variables))
	for i, v := range f.Variables {
		if i < len(f.VariablesRename) {
			m[v] = f.VariablesRename[i]
		}
	}
	return m
}

// CatchupWindow is one unit of catch-up work: the reservoirs sharing the
// same last-reduced date After, reduced over (After, Through].
type CatchupWindow struct {
	Feed       FeedName
	Reservoirs []string
	After      time.Time
	Through    time.Time
}

// FirstDay is the first calendar day the window covers.
func (w CatchupWindow) FirstDay() time.Time {
	return w.After.AddDate(0, 0, 1)
}

// RunInput is the payload that triggers one catch-up run.
type RunInput struct {
	Today string `json:"today" validate:"required,datetime=2006-01-02"`
}

// RunStatus is the terminal state of a catch-up run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusSkipped RunStatus = "skipped"
)

// RunResult summarizes a catch-up run.
type RunResult struct {
	RunID  string           `json:"run_id,omitempty"`
	Today  string           `json:"today"`
	Status RunStatus        `json:"status"`
	Rows   map[FeedName]int `json:"rows"`
}

// TruncateDay returns t at 00:00 UTC on the same calendar day.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string as a UTC calendar day.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
