package domain

import (
	"fmt"
	"time"
)

// Frequency is the sampling granularity of a price series.
type Frequency int

const (
	Day Frequency = iota
	Hour
	Minutes15
	Minutes5
	Minute
	Seconds10
	Second
)

// DailyFrequency is the default frequency for end-of-day updates.
const DailyFrequency = Day

// String returns the short config spelling of the frequency.
func (f Frequency) String() string {
	switch f {
	case Day:
		return "D"
	case Hour:
		return "H"
	case Minutes15:
		return "15M"
	case Minutes5:
		return "5M"
	case Minute:
		return "M"
	case Seconds10:
		return "10S"
	case Second:
		return "S"
	}
	return fmt.Sprintf("Frequency(%d)", int(f))
}

// ParseFrequency converts a config spelling back into a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch s {
	case "D":
		return Day, nil
	case "H":
		return Hour, nil
	case "15M":
		return Minutes15, nil
	case "5M":
		return Minutes5, nil
	case "M":
		return Minute, nil
	case "10S":
		return Seconds10, nil
	case "S":
		return Second, nil
	}
	return Day, fmt.Errorf("unknown frequency %q", s)
}

// IsIntraday reports whether the frequency samples within a trading day.
func (f Frequency) IsIntraday() bool {
	return f != Day
}

// BarSpec is the static per-frequency request geometry for the broker
// gateway: the vendor bar-size string, the duration of one bar, and the
// largest span a single historical request may cover (with its vendor
// spelling).
type BarSpec struct {
	BarSize    string
	BarPeriod  time.Duration
	MaxSpan    time.Duration
	MaxSpanStr string
}

// barSpecs is a fixed lookup table, not computed. The spans mirror the
// gateway's documented per-bar-size request limits.
var barSpecs = map[Frequency]BarSpec{
	Day:       {BarSize: "1 day", BarPeriod: 24 * time.Hour, MaxSpan: 365 * 24 * time.Hour, MaxSpanStr: "1 Y"},
	Hour:      {BarSize: "1 hour", BarPeriod: time.Hour, MaxSpan: 30 * 24 * time.Hour, MaxSpanStr: "1 M"},
	Minutes15: {BarSize: "15 mins", BarPeriod: 15 * time.Minute, MaxSpan: 7 * 24 * time.Hour, MaxSpanStr: "1 W"},
	Minutes5:  {BarSize: "5 mins", BarPeriod: 5 * time.Minute, MaxSpan: 7 * 24 * time.Hour, MaxSpanStr: "1 W"},
	Minute:    {BarSize: "1 min", BarPeriod: time.Minute, MaxSpan: 24 * time.Hour, MaxSpanStr: "1 D"},
	Seconds10: {BarSize: "10 secs", BarPeriod: 10 * time.Second, MaxSpan: 4 * time.Hour, MaxSpanStr: "14400 S"},
	Second:    {BarSize: "1 secs", BarPeriod: time.Second, MaxSpan: 30 * time.Minute, MaxSpanStr: "1800 S"},
}

// Spec returns the request geometry for the frequency.
func (f Frequency) Spec() (BarSpec, error) {
	spec, ok := barSpecs[f]
	if !ok {
		return BarSpec{}, fmt.Errorf("no bar spec for frequency %s", f)
	}
	return spec, nil
}
