package reconcile

import (
	"errors"
	"testing"
	"time"

	"pricewarden/internal/domain"
)

func dailySeries(start time.Time, closes ...float64) domain.PriceSeries {
	series := make(domain.PriceSeries, len(closes))
	for i, c := range closes {
		series[i] = domain.Bar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      c, High: c, Low: c, Close: c,
		}
	}
	return series
}

var seriesStart = time.Date(2026, 7, 1, 23, 0, 0, 0, time.UTC)

func TestCheckSeriesRejectsTenfoldJump(t *testing.T) {
	// Closes hovering around 100 with unit-scale moves.
	stored := dailySeries(seriesStart,
		100, 101, 100, 102, 101, 100, 99, 100, 101, 102)
	added := []domain.Bar{{
		Timestamp: seriesStart.AddDate(0, 0, len(stored)),
		Close:     1000,
	}}

	err := CheckSeries(stored, added)
	if !errors.Is(err, ErrSpikeFound) {
		t.Fatalf("CheckSeries() = %v, want ErrSpikeFound", err)
	}
	var spike *SpikeError
	if !errors.As(err, &spike) {
		t.Fatalf("error is not a *SpikeError: %v", err)
	}
	if spike.NewClose != 1000 || spike.PrevClose != 102 {
		t.Errorf("spike = %+v", spike)
	}
}

func TestCheckSeriesAcceptsNormalMoves(t *testing.T) {
	stored := dailySeries(seriesStart,
		100, 101, 100, 102, 101, 100, 99, 100, 101, 102)
	added := []domain.Bar{
		{Timestamp: seriesStart.AddDate(0, 0, 10), Close: 104},
		{Timestamp: seriesStart.AddDate(0, 0, 11), Close: 103},
	}
	if err := CheckSeries(stored, added); err != nil {
		t.Fatalf("CheckSeries() = %v, want nil", err)
	}
}

func TestCheckSeriesFallbackWithShortHistory(t *testing.T) {
	stored := dailySeries(seriesStart, 100)

	spikey := []domain.Bar{{Timestamp: seriesStart.AddDate(0, 0, 1), Close: 115}}
	if err := CheckSeries(stored, spikey); !errors.Is(err, ErrSpikeFound) {
		t.Errorf("15%% move on short history accepted, want spike")
	}

	fine := []domain.Bar{{Timestamp: seriesStart.AddDate(0, 0, 1), Close: 108}}
	if err := CheckSeries(stored, fine); err != nil {
		t.Errorf("8%% move on short history rejected: %v", err)
	}
}

func TestCheckSeriesToleratesFlatHistory(t *testing.T) {
	// Identical settles, common for illiquid contracts. The trailing mean
	// change is zero; small moves must still pass.
	stored := dailySeries(seriesStart, 100, 100, 100, 100, 100, 100)

	fine := []domain.Bar{{Timestamp: seriesStart.AddDate(0, 0, 6), Close: 105}}
	if err := CheckSeries(stored, fine); err != nil {
		t.Fatalf("5%% move after flat history rejected: %v", err)
	}

	spikey := []domain.Bar{{Timestamp: seriesStart.AddDate(0, 0, 6), Close: 1000}}
	if err := CheckSeries(stored, spikey); !errors.Is(err, ErrSpikeFound) {
		t.Errorf("tenfold move after flat history accepted, want spike")
	}
}

func TestCheckSeriesFirstRowEverPasses(t *testing.T) {
	added := []domain.Bar{{Timestamp: seriesStart, Close: 5000}}
	if err := CheckSeries(nil, added); err != nil {
		t.Fatalf("CheckSeries(nil, first row) = %v, want nil", err)
	}
}

func TestCheckSeriesCatchesSpikeWithinBatch(t *testing.T) {
	// The spike is between two added rows, not against the stored tail.
	stored := dailySeries(seriesStart, 100, 101, 100, 101, 100)
	added := []domain.Bar{
		{Timestamp: seriesStart.AddDate(0, 0, 5), Close: 101},
		{Timestamp: seriesStart.AddDate(0, 0, 6), Close: 500},
	}
	if err := CheckSeries(stored, added); !errors.Is(err, ErrSpikeFound) {
		t.Fatalf("CheckSeries() = %v, want ErrSpikeFound", err)
	}
}
