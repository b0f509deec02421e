// Package reconcile screens incoming prices for implausible jumps and
// provides the operator-driven path for resolving them.
package reconcile

import (
	"errors"
	"fmt"
	"math"
	"time"

	"pricewarden/internal/domain"
)

const (
	// spikeMultiplier scales the trailing mean absolute close-to-close change
	// into the rejection threshold.
	spikeMultiplier = 8.0
	// maxReferenceChanges caps how far back the trailing mean looks.
	maxReferenceChanges = 25
	// minReferenceChanges is the history needed before the trailing mean is
	// trusted; below it the fallback fraction of the previous close applies.
	minReferenceChanges = 3
	// fallbackFraction of the previous close is the short-history threshold
	// and also the floor under the trailing mean, so a run of identical
	// settles does not collapse the threshold to zero.
	fallbackFraction = 0.10
)

// ErrSpikeFound marks a rejected write: none of the candidate rows were
// stored and the series needs a manual check.
var ErrSpikeFound = errors.New("price spike found")

// SpikeError carries the offending bar for logs and notifications. It
// matches ErrSpikeFound under errors.Is.
type SpikeError struct {
	Timestamp time.Time
	PrevClose float64
	NewClose  float64
	Threshold float64
}

func (e *SpikeError) Error() string {
	return fmt.Sprintf("price spike at %s: close moved %.4f -> %.4f (threshold %.4f)",
		e.Timestamp.Format("2006-01-02 15:04"), e.PrevClose, e.NewClose, e.Threshold)
}

func (e *SpikeError) Is(target error) bool { return target == ErrSpikeFound }

// CheckSeries screens the rows about to be appended against the stored
// series. Each new close is compared with the close before it; a move larger
// than spikeMultiplier times the trailing mean absolute change (over at most
// maxReferenceChanges changes) is a spike. With too little history the
// threshold falls back to a fraction of the previous close. The first row
// ever stored for a contract has nothing to compare against and passes.
func CheckSeries(stored domain.PriceSeries, added []domain.Bar) error {
	closes := make([]float64, 0, len(stored)+len(added))
	for _, bar := range stored {
		closes = append(closes, bar.Close)
	}

	for _, bar := range added {
		n := len(closes)
		if n > 0 {
			prev := closes[n-1]
			threshold := spikeThreshold(closes)
			if math.Abs(bar.Close-prev) > threshold {
				return &SpikeError{
					Timestamp: bar.Timestamp,
					PrevClose: prev,
					NewClose:  bar.Close,
					Threshold: threshold,
				}
			}
		}
		closes = append(closes, bar.Close)
	}
	return nil
}

// spikeThreshold derives the acceptable move size from the trailing closes.
func spikeThreshold(closes []float64) float64 {
	prev := closes[len(closes)-1]

	start := len(closes) - maxReferenceChanges - 1
	if start < 0 {
		start = 0
	}
	window := closes[start:]

	var sum float64
	changes := 0
	for i := 1; i < len(window); i++ {
		sum += math.Abs(window[i] - window[i-1])
		changes++
	}
	floor := math.Abs(prev) * fallbackFraction
	if changes < minReferenceChanges {
		return floor
	}
	threshold := spikeMultiplier * sum / float64(changes)
	if threshold < floor {
		return floor
	}
	return threshold
}
