// Package store persists per-contract price series and the contract registry
// that drives sampling.
package store

import (
	"context"

	"pricewarden/internal/domain"
)

// PriceStore reads and writes per-contract OHLCV series. One series holds
// all frequencies for the contract; daily bars sit at the notional close so
// they interleave cleanly with intraday bars.
type PriceStore interface {
	// GetSeries returns the stored series for the contract, oldest first. A
	// contract with no data yields an empty series, not an error.
	GetSeries(ctx context.Context, contract domain.Contract) (domain.PriceSeries, error)

	// WriteSeries merges the fetched series into storage and reports how many
	// rows were added. With checkForSpike set the write is append-only after
	// the stored tail and is rejected wholesale, nothing written, when the
	// candidate rows contain an implausible jump. Without it the series is
	// written as given, replacing overlapping rows; that is the manual
	// override path.
	WriteSeries(ctx context.Context, contract domain.Contract, series domain.PriceSeries, checkForSpike bool) (int, error)

	// ListInstruments returns all instrument codes known to the registry.
	ListInstruments(ctx context.Context) ([]string, error)
}

// ContractRegistry tracks which contracts exist per instrument and which are
// currently sampled for price collection.
type ContractRegistry interface {
	// RegisterContract records a contract and its sampling state.
	RegisterContract(ctx context.Context, contract domain.Contract, sampled bool) error

	// SampledContracts returns the unexpired contracts currently sampled for
	// the instrument. A virtual instrument has no real contracts and yields
	// its single proxy contract.
	SampledContracts(ctx context.Context, instrument string) ([]domain.Contract, error)

	// AllContracts returns every known contract for the instrument,
	// optionally including expired ones.
	AllContracts(ctx context.Context, instrument string, includeExpired bool) ([]domain.Contract, error)
}
