package domain

import (
	"fmt"
	"sort"
	"time"
)

// Bar is one OHLCV sample at a timestamp.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// PriceSeries is an ordered, timestamp-indexed, duplicate-free sequence of
// bars for one contract.
type PriceSeries []Bar

// Sort orders the series by timestamp in place.
func (s PriceSeries) Sort() {
	sort.Slice(s, func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) })
}

// LastTime returns the timestamp of the final bar, or the zero time for an
// empty series.
func (s PriceSeries) LastTime() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].Timestamp
}

// Validate checks the series invariants: strictly increasing timestamps with
// no duplicates.
func (s PriceSeries) Validate() error {
	for i := 1; i < len(s); i++ {
		if !s[i].Timestamp.After(s[i-1].Timestamp) {
			return fmt.Errorf("series not strictly increasing at index %d (%s then %s)",
				i, s[i-1].Timestamp, s[i].Timestamp)
		}
	}
	return nil
}

// Merge reconciles newly fetched bars against the stored series. Stored rows
// are never altered: only bars with timestamps strictly after the stored tail
// are added. Earlier or overlapping bars are reported as skipped so callers
// can log them instead of silently overwriting. Both the merged series and
// the list of added bars are returned.
//
// This append-only rule is what makes the intraday-before-daily ordering
// matter upstream: once a later daily bar exists, earlier intraday bars can
// no longer be backfilled.
func Merge(stored PriceSeries, fetched PriceSeries) (merged PriceSeries, added []Bar, skipped int) {
	merged = make(PriceSeries, len(stored), len(stored)+len(fetched))
	copy(merged, stored)

	ordered := make(PriceSeries, len(fetched))
	copy(ordered, fetched)
	ordered.Sort()

	tail := stored.LastTime()
	for _, bar := range ordered {
		if len(stored) > 0 && !bar.Timestamp.After(tail) {
			skipped++
			continue
		}
		if n := len(merged); n > 0 && !bar.Timestamp.After(merged[n-1].Timestamp) {
			// duplicate timestamp within the fetched data itself
			skipped++
			continue
		}
		merged = append(merged, bar)
		added = append(added, bar)
	}
	return merged, added, skipped
}
