package archive

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var cfUnits = map[string]time.Duration{
	"days":         24 * time.Hour,
	"day":          24 * time.Hour,
	"d":            24 * time.Hour,
	"hours":        time.Hour,
	"hour":         time.Hour,
	"hrs":          time.Hour,
	"h":            time.Hour,
	"minutes":      time.Minute,
	"minute":       time.Minute,
	"min":          time.Minute,
	"seconds":      time.Second,
	"second":       time.Second,
	"s":            time.Second,
	"milliseconds": time.Millisecond,
	"ms":           time.Millisecond,
	"microseconds": time.Microsecond,
	"us":           time.Microsecond,
	"nanoseconds":  time.Nanosecond,
	"ns":           time.Nanosecond,
}

var epochLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-1-2 15:4:5",
	"2006-1-2",
}

// ParseTimeUnits parses a CF "<unit> since <epoch>" string.
func ParseTimeUnits(units string) (time.Duration, time.Time, error) {
	unitStr, epochStr, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("time units %q lack a reference date", units)
	}
	unit, err := parseUnit(unitStr)
	if err != nil {
		return 0, time.Time{}, err
	}
	epochStr = strings.TrimSpace(epochStr)
	epochStr = strings.TrimSuffix(epochStr, " UTC")
	epochStr = strings.TrimSuffix(epochStr, "Z")
	for _, layout := range epochLayouts {
		if t, err := time.ParseInLocation(layout, epochStr, time.UTC); err == nil {
			return unit, t, nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("unparseable reference date in %q", units)
}

func parseUnit(s string) (time.Duration, error) {
	unit, ok := cfUnits[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unsupported time unit %q", s)
	}
	return unit, nil
}

// DecodeTimes converts raw coordinate values of a to timestamps. Native
// datetime64 arrays count their dtype unit since the Unix epoch; numeric
// arrays need CF "units" of the form "<unit> since <epoch>".
func DecodeTimes(a *Array, raw []float64) ([]time.Time, error) {
	var (
		unit  time.Duration
		epoch time.Time
		err   error
	)
	if a.dtype.kind == 'M' {
		unit, err = parseUnit(a.dtype.unit)
		epoch = time.Unix(0, 0).UTC()
	} else {
		units, _ := a.Attrs["units"].(string)
		unit, epoch, err = ParseTimeUnits(units)
	}
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", a.Name, err)
	}

	out := make([]time.Time, len(raw))
	for i, v := range raw {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("array %s: missing value at index %d", a.Name, i)
		}
		out[i] = epoch.Add(scaleDuration(v, unit))
	}
	return out, nil
}

// DecodeDurations converts raw lead-step values of a to durations. Native
// timedelta64 arrays use their dtype unit; numeric arrays need CF "units"
// such as "hours".
func DecodeDurations(a *Array, raw []float64) ([]time.Duration, error) {
	var (
		unit time.Duration
		err  error
	)
	if a.dtype.kind == 'm' {
		unit, err = parseUnit(a.dtype.unit)
	} else {
		units, _ := a.Attrs["units"].(string)
		unit, err = parseUnit(units)
	}
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", a.Name, err)
	}

	out := make([]time.Duration, len(raw))
	for i, v := range raw {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("array %s: missing value at index %d", a.Name, i)
		}
		out[i] = scaleDuration(v, unit)
	}
	return out, nil
}

// scaleDuration rounds to whole microseconds: nanosecond datetime64 values
// pass through float64 and lose up to a few hundred nanoseconds.
func scaleDuration(v float64, unit time.Duration) time.Duration {
	return time.Duration(math.Round(v * float64(unit))).Round(time.Microsecond)
}
