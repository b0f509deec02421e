// Package update runs the price acquisition pipeline: it walks the
// configured datasources, decides per contract and frequency what may be
// sampled, fetches, screens and stores the results.
package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"pricewarden/internal/config"
	"pricewarden/internal/domain"
	"pricewarden/internal/notify"
	"pricewarden/internal/reconcile"
	"pricewarden/internal/schedule"
	"pricewarden/internal/source"
	"pricewarden/internal/store"
)

// AllInstruments is the scope value meaning every instrument in the store.
const AllInstruments = "ALL"

// Archiver mirrors successfully stored series; *store.ParquetArchive
// satisfies it. May be nil when no archive is configured.
type Archiver interface {
	WriteSeries(contract domain.Contract, series domain.PriceSeries) error
}

// Entry is one configured datasource with its eligibility rules.
type Entry struct {
	Name    string
	Source  source.Source
	Checker *schedule.Checker
	Enabled bool
}

// Orchestrator drives one update run across all datasources.
type Orchestrator struct {
	store    store.PriceStore
	archive  Archiver
	notifier notify.Notifier
	log      *slog.Logger

	// manual switches the pipeline into operator-reconciled mode: fetched
	// rows are reviewed interactively and written without the spike screen.
	manual *reconcile.ManualReconciler

	entries []Entry
}

// NewOrchestrator wires the automated pipeline. archive may be nil.
func NewOrchestrator(priceStore store.PriceStore, archive Archiver, notifier notify.Notifier, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    priceStore,
		archive:  archive,
		notifier: notifier,
		log:      log.With("component", "update"),
	}
}

// SetManual switches the orchestrator into manual reconciliation mode.
func (o *Orchestrator) SetManual(r *reconcile.ManualReconciler) {
	o.manual = r
}

// AddSource registers one datasource entry. Entries are run in name order
// regardless of registration order.
func (o *Orchestrator) AddSource(entry Entry) {
	o.entries = append(o.entries, entry)
}

// BuildEntries constructs the datasource entries from config, wiring each
// driver with its schedule checker. Driver construction failures are fatal:
// a misconfigured source must be fixed, not skipped.
func BuildEntries(sources map[string]config.SourceConfig, deps source.Deps) ([]Entry, error) {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		sc := sources[name]
		src, err := source.New(sc.Driver, deps, sc.Config)
		if err != nil {
			return nil, fmt.Errorf("datasource %s: %w", name, err)
		}
		entries = append(entries, Entry{
			Name:    name,
			Source:  src,
			Checker: schedule.New(sc.Config),
			Enabled: sc.IsEnabled(),
		})
	}
	return entries, nil
}

// Run updates prices for the given scope: a single instrument code or
// AllInstruments. Per-contract data problems are contained and reported in
// the aggregate error; a datasource-level failure (bad config, listing
// failure) aborts the whole run so it cannot be mistaken for a clean pass.
func (o *Orchestrator) Run(ctx context.Context, scope string) error {
	sort.Slice(o.entries, func(i, j int) bool { return o.entries[i].Name < o.entries[j].Name })

	failedContracts := 0
	for _, entry := range o.entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !entry.Enabled {
			o.log.Warn("datasource disabled, skipping", "source", entry.Name)
			continue
		}
		failed, err := o.runSource(ctx, entry, scope)
		failedContracts += failed
		if err != nil {
			o.log.Error("datasource failed, aborting run", "source", entry.Name, "err", err)
			return fmt.Errorf("datasource %s: %w", entry.Name, err)
		}
	}
	if failedContracts > 0 {
		return fmt.Errorf("%d contract updates failed", failedContracts)
	}
	return nil
}

// runSource updates every eligible contract the datasource serves within
// the scope. The returned count is contract-level data failures; the error
// is a source-level failure that must abort the run.
func (o *Orchestrator) runSource(ctx context.Context, entry Entry, scope string) (int, error) {
	log := o.log.With("source", entry.Name)

	instruments, err := o.scopeInstruments(ctx, scope)
	if err != nil {
		return 0, err
	}

	failedContracts := 0
	for _, instrument := range instruments {
		if ctx.Err() != nil {
			return failedContracts, ctx.Err()
		}
		contracts, err := entry.Source.Contracts(ctx, instrument)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownInstrument) {
				log.Info("instrument not served by source", "instrument", instrument)
				continue
			}
			return failedContracts, fmt.Errorf("listing contracts for %s: %w", instrument, err)
		}
		for _, contract := range contracts {
			if err := o.updateContract(ctx, entry, contract); err != nil {
				if isConfigError(err) {
					return failedContracts, err
				}
				log.Warn("contract update failed", "contract", contract.Key(), "err", err)
				failedContracts++
			}
		}
	}
	return failedContracts, nil
}

// scopeInstruments resolves the scope into instrument codes.
func (o *Orchestrator) scopeInstruments(ctx context.Context, scope string) ([]string, error) {
	if scope != "" && scope != AllInstruments {
		return []string{scope}, nil
	}
	return o.store.ListInstruments(ctx)
}

// configError marks schedule misconfiguration, which must abort the source
// rather than count as one more failed contract.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func isConfigError(err error) bool {
	var ce *configError
	return errors.As(err, &ce)
}

// updateContract walks the source's frequencies in order, intraday before
// daily. When an intraday fetch fails the daily fetch is skipped: storage is
// append-only past the stored tail, so writing today's daily bar would
// permanently block backfilling the missed intraday bars.
func (o *Orchestrator) updateContract(ctx context.Context, entry Entry, contract domain.Contract) error {
	log := o.log.With("source", entry.Name, "contract", contract.Key())

	var firstErr error
	for _, freq := range entry.Source.Frequencies() {
		allowed, err := entry.Checker.Allowed(contract.InstrumentCode, freq)
		if err != nil {
			return &configError{err: fmt.Errorf("source %s: %w", entry.Name, err)}
		}
		if !allowed {
			log.Debug("sampling not allowed now", "freq", freq.String())
			continue
		}

		err = o.updateAtFrequency(ctx, entry.Source, contract, freq)
		switch {
		case err == nil:
			continue
		case errors.Is(err, domain.ErrNoMarketPermissions):
			log.Warn("no market data permissions", "freq", freq.String())
		case errors.Is(err, domain.ErrMissingData):
			log.Info("source has no data", "freq", freq.String())
		case errors.Is(err, reconcile.ErrSpikeFound):
			log.Warn("spike found, series needs manual check", "freq", freq.String(), "err", err)
			o.notifier.Send("Price Spike "+contract.InstrumentCode,
				fmt.Sprintf("contract %s: %v\nNothing was written; run a manual price check.", contract.Key(), err))
			if firstErr == nil {
				firstErr = err
			}
		default:
			// Daily failures are tolerated; the next run picks the bar up.
			// Intraday failures count, and block daily below.
			log.Warn("fetch failed", "freq", freq.String(), "err", err)
			if freq.IsIntraday() && firstErr == nil {
				firstErr = err
			}
		}

		if freq.IsIntraday() {
			log.Warn("intraday update incomplete, skipping lower frequencies",
				"freq", freq.String())
			break
		}
	}
	return firstErr
}

// updateAtFrequency fetches and stores one contract at one frequency.
func (o *Orchestrator) updateAtFrequency(ctx context.Context, src source.Source, contract domain.Contract, freq domain.Frequency) error {
	stored, err := o.store.GetSeries(ctx, contract)
	if err != nil {
		return err
	}

	var since time.Time
	if len(stored) > 0 {
		since = stored.LastTime()
	}

	fetched, err := src.Fetch(ctx, contract, freq, since)
	if err != nil {
		return err
	}

	added, err := o.writeSeries(ctx, contract, stored, fetched)
	if err != nil {
		return err
	}
	if added > 0 {
		o.log.Info("prices updated",
			"contract", contract.Key(), "freq", freq.String(), "rows", added)
		o.mirrorToArchive(ctx, contract)
	}
	return nil
}

// mirrorToArchive copies the series as committed to the archive. The store is
// re-read so rows the merge skipped, or rows the operator overrode, never
// reach the mirror. The store succeeded already; a stale mirror is
// recoverable, so failures here are only logged.
func (o *Orchestrator) mirrorToArchive(ctx context.Context, contract domain.Contract) {
	if o.archive == nil {
		return
	}
	committed, err := o.store.GetSeries(ctx, contract)
	if err != nil {
		o.log.Warn("archive mirror failed", "contract", contract.Key(), "err", err)
		return
	}
	if err := o.archive.WriteSeries(contract, committed); err != nil {
		o.log.Warn("archive mirror failed", "contract", contract.Key(), "err", err)
	}
}

// writeSeries stores the fetched rows: spike-screened and append-only in
// automated mode, operator-reviewed upsert in manual mode.
func (o *Orchestrator) writeSeries(ctx context.Context, contract domain.Contract, stored, fetched domain.PriceSeries) (int, error) {
	if o.manual == nil {
		return o.store.WriteSeries(ctx, contract, fetched, true)
	}

	reconciled, err := o.manual.Reconcile(contract, stored, fetched)
	if err != nil {
		return 0, err
	}
	return o.store.WriteSeries(ctx, contract, reconciled, false)
}
