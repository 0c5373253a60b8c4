package ncfile

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
)

// TimeUnits is a parsed CF time units attribute, e.g.
// "days since 1800-01-01 00:00:00".
type TimeUnits struct {
	Unit  time.Duration
	Epoch time.Time
}

var unitDurations = map[string]time.Duration{
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
	"d":       24 * time.Hour,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"h":       time.Hour,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"min":     time.Minute,
	"second":  time.Second,
	"seconds": time.Second,
	"s":       time.Second,
}

var epochLayouts = []string{
	"2006-1-2 15:4:5",
	"2006-1-2T15:4:5",
	"2006-1-2 15:4:5Z",
	"2006-1-2T15:4:5Z",
	"2006-1-2 15:4",
	"2006-1-2",
}

// ParseTimeUnits parses a units attribute of the form "<unit> since <date>".
func ParseTimeUnits(units string) (TimeUnits, error) {
	parts := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(parts) != 2 {
		return TimeUnits{}, errors.E(errors.Invalid, fmt.Sprintf("ncfile: time units %q: want \"<unit> since <date>\"", units))
	}
	unit, ok := unitDurations[strings.ToLower(strings.TrimSpace(parts[0]))]
	if !ok {
		return TimeUnits{}, errors.E(errors.Invalid, fmt.Sprintf("ncfile: time units %q: unknown unit %q", units, parts[0]))
	}
	date := strings.TrimSpace(parts[1])
	// Drop fractional seconds and a trailing UTC offset such as " +00:00".
	if i := strings.IndexByte(date, '.'); i >= 0 {
		date = date[:i]
	}
	if fields := strings.Fields(date); len(fields) == 3 {
		date = fields[0] + " " + fields[1]
	}
	for _, layout := range epochLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			return TimeUnits{Unit: unit, Epoch: t.UTC()}, nil
		}
	}
	return TimeUnits{}, errors.E(errors.Invalid, fmt.Sprintf("ncfile: time units %q: bad reference date", units))
}

// Time returns the instant v units after the epoch. Fractions of a unit are
// rounded to the nearest second.
func (u TimeUnits) Time(v float64) time.Time {
	whole, frac := math.Modf(v)
	t := u.Epoch
	if u.Unit == 24*time.Hour {
		t = t.AddDate(0, 0, int(whole))
	} else {
		t = t.Add(time.Duration(whole) * u.Unit)
	}
	return t.Add(time.Duration(math.Round(frac*u.Unit.Seconds())) * time.Second)
}

// DecodeTimes converts raw time values with the given units attribute into
// times. NaN values decode to the zero time.
func DecodeTimes(vals []float64, units string) ([]time.Time, error) {
	u, err := ParseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		times[i] = u.Time(v)
	}
	return times, nil
}

// Value is the inverse of Time: it returns t as a number of units since
// the epoch.
func (u TimeUnits) Value(t time.Time) float64 {
	return float64(t.Unix()-u.Epoch.Unix()) / u.Unit.Seconds()
}
