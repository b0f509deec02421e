// Package source defines the historical price datasource drivers and the
// registry that binds config driver names to constructors.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pricewarden/internal/broker"
	"pricewarden/internal/config"
	"pricewarden/internal/domain"
	"pricewarden/internal/store"
)

// Source is one historical price datasource.
type Source interface {
	// Name returns the driver identifier.
	Name() string

	// Frequencies returns the frequencies this source serves, intraday
	// before daily. The update pipeline relies on that ordering: a failed
	// intraday fetch must block the daily fetch for the contract.
	Frequencies() []domain.Frequency

	// Contracts lists the contracts this source can update for the
	// instrument.
	Contracts(ctx context.Context, instrument string) ([]domain.Contract, error)

	// Fetch returns bars for the contract at the frequency, starting after
	// since. A zero since asks for the source's full available history.
	Fetch(ctx context.Context, contract domain.Contract, freq domain.Frequency, since time.Time) (domain.PriceSeries, error)
}

// Deps carries the shared infrastructure a driver may need. Each driver
// takes only what it uses.
type Deps struct {
	Broker            *broker.PriceFetchClient
	Registry          store.ContractRegistry
	Vendor            config.Vendor
	IntradayFrequency domain.Frequency
	Log               *slog.Logger
}

// Factory builds one driver from its per-source rules.
type Factory func(deps Deps, rules config.SourceRules) (Source, error)

// drivers maps config driver names onto constructors. Entries are registered
// from each driver file's init; config never names code paths directly.
var drivers = make(map[string]Factory)

// Register installs a driver factory under its config name.
func Register(name string, factory Factory) {
	drivers[name] = factory
}

// New builds the driver named in the source config.
func New(driver string, deps Deps, rules config.SourceRules) (Source, error) {
	factory, ok := drivers[driver]
	if !ok {
		return nil, fmt.Errorf("unknown datasource driver %q", driver)
	}
	return factory(deps, rules)
}
