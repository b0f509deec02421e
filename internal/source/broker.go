package source

import (
	"context"
	"time"

	"pricewarden/internal/config"
	"pricewarden/internal/domain"
)

func init() {
	Register("broker", newBrokerSource)
}

// Compile-time interface check.
var _ Source = (*BrokerSource)(nil)

// BrokerSource serves prices from the broker gateway via the pacing-governed
// fetch client. It is the primary source: intraday plus daily, for every
// sampled contract.
type BrokerSource struct {
	deps Deps
}

func newBrokerSource(deps Deps, _ config.SourceRules) (Source, error) {
	return &BrokerSource{deps: deps}, nil
}

// Name implements Source.
func (s *BrokerSource) Name() string { return "broker" }

// Frequencies implements Source: the configured intraday frequency first,
// then daily.
func (s *BrokerSource) Frequencies() []domain.Frequency {
	return []domain.Frequency{s.deps.IntradayFrequency, domain.Day}
}

// Contracts implements Source using the sampling registry.
func (s *BrokerSource) Contracts(ctx context.Context, instrument string) ([]domain.Contract, error) {
	return s.deps.Registry.SampledContracts(ctx, instrument)
}

// Fetch implements Source.
func (s *BrokerSource) Fetch(ctx context.Context, contract domain.Contract, freq domain.Frequency, since time.Time) (domain.PriceSeries, error) {
	return s.deps.Broker.Fetch(ctx, contract, freq, since)
}
