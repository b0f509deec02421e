package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/time/rate"

	"pricewarden/internal/broker"
	"pricewarden/internal/config"
	"pricewarden/internal/domain"
	"pricewarden/internal/store"
	"pricewarden/internal/util"
)

func init() {
	Register("vendor", newVendorSource)
}

// Compile-time interface check.
var _ Source = (*VendorSource)(nil)

const (
	vendorRetryAttempts = 3
	vendorRetryDelay    = 2 * time.Second
)

// VendorSource serves daily bars from the third-party market-data API. It
// covers only the instruments with a symbol mapping in the vendor config and
// is typically used as a cross-check or backup behind the broker source.
type VendorSource struct {
	client   *marketdata.Client
	registry store.ContractRegistry
	symbols  map[string]config.VendorSymbol
	limiter  *rate.Limiter
	log      *slog.Logger
}

func newVendorSource(deps Deps, _ config.SourceRules) (Source, error) {
	if deps.Vendor.APIKey == "" {
		return nil, fmt.Errorf("vendor source requires api credentials")
	}
	opts := marketdata.ClientOpts{
		APIKey:    deps.Vendor.APIKey,
		APISecret: deps.Vendor.APISecret,
	}
	if deps.Vendor.BaseURL != "" {
		opts.BaseURL = deps.Vendor.BaseURL
	}
	perMin := deps.Vendor.RateLimitPerMin
	if perMin <= 0 {
		perMin = 200
	}

	return &VendorSource{
		client:   marketdata.NewClient(opts),
		registry: deps.Registry,
		symbols:  deps.Vendor.Symbols,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1),
		log:      deps.Log.With("source", "vendor"),
	}, nil
}

// Name implements Source.
func (s *VendorSource) Name() string { return "vendor" }

// Frequencies implements Source. The vendor API serves end-of-day data only.
func (s *VendorSource) Frequencies() []domain.Frequency {
	return []domain.Frequency{domain.Day}
}

// Contracts implements Source: the full unexpired contract list for
// instruments the vendor has a symbol mapping for. Unlike the broker source
// it is not limited to the sampled set, so it can fill history for
// contracts the gateway no longer serves.
func (s *VendorSource) Contracts(ctx context.Context, instrument string) ([]domain.Contract, error) {
	if _, ok := s.symbols[instrument]; !ok {
		return nil, fmt.Errorf("instrument %s: %w", instrument, domain.ErrUnknownInstrument)
	}
	return s.registry.AllContracts(ctx, instrument, false)
}

// Fetch implements Source. Transient API failures are retried with backoff;
// prices are rescaled by the per-instrument multiplier into the unit the
// broker data uses.
func (s *VendorSource) Fetch(ctx context.Context, contract domain.Contract, freq domain.Frequency, since time.Time) (domain.PriceSeries, error) {
	if freq != domain.Day {
		return nil, fmt.Errorf("vendor source serves daily bars only, not %s", freq)
	}
	mapping, ok := s.symbols[contract.InstrumentCode]
	if !ok {
		return nil, fmt.Errorf("instrument %s: %w", contract.InstrumentCode, domain.ErrUnknownInstrument)
	}
	symbol, err := vendorContractSymbol(mapping.Symbol, contract)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := marketdata.GetBarsRequest{TimeFrame: marketdata.OneDay}
	if !since.IsZero() {
		req.Start = since
	}

	var raw []marketdata.Bar
	err = util.Retry(ctx, vendorRetryAttempts, vendorRetryDelay, func() error {
		var ferr error
		raw, ferr = s.client.GetBars(symbol, req)
		if ferr != nil {
			s.log.Warn("vendor request failed, will retry",
				"symbol", symbol, "err", ferr)
		}
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s from vendor: %w", symbol, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("vendor has no data for %s: %w", symbol, domain.ErrMissingData)
	}

	multiplier := mapping.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}
	series := make(domain.PriceSeries, 0, len(raw))
	for _, bar := range raw {
		local := bar.Timestamp.In(time.Local)
		series = append(series, domain.Bar{
			Timestamp: time.Date(local.Year(), local.Month(), local.Day(),
				broker.NotionalCloseHour, 0, 0, 0, time.Local),
			Open:   bar.Open * multiplier,
			High:   bar.High * multiplier,
			Low:    bar.Low * multiplier,
			Close:  bar.Close * multiplier,
			Volume: int64(bar.Volume),
		})
	}
	series.Sort()
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("vendor returned malformed series for %s: %w", symbol, err)
	}
	return series, nil
}

// vendorContractSymbol builds the vendor's contract symbol, e.g. base "GC"
// for the December 2026 contract becomes "GCZ26".
func vendorContractSymbol(base string, contract domain.Contract) (string, error) {
	letter, err := contract.MonthLetter()
	if err != nil {
		return "", fmt.Errorf("contract %s: %w", contract, err)
	}
	year, err := contract.Year()
	if err != nil {
		return "", fmt.Errorf("contract %s: %w", contract, err)
	}
	return fmt.Sprintf("%s%s%02d", base, letter, year%100), nil
}
