package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pricewarden/internal/domain"
)

// NotionalCloseHour is the local hour-of-day assigned to bars that represent
// a whole period rather than an instant, so all series share one intraday
// anchor. Data is never collected around that time.
const NotionalCloseHour = 23

// headTimestampFallback is assumed when the gateway cannot report the
// earliest available data point for a contract.
const headTimestampFallback = 10 * 365 * 24 * time.Hour

// PriceFetchClient produces a clean per-contract OHLCV series for a
// requested frequency and date range, hiding the gateway's request-size
// limits and timezone quirks. All historical requests are pacing-governed
// and reconnect-wrapped.
type PriceFetchClient struct {
	conn   *ConnectionManager
	pacing *PacingGovernor
	log    *slog.Logger

	now func() time.Time
}

// NewPriceFetchClient builds a client over an established connection.
func NewPriceFetchClient(conn *ConnectionManager, log *slog.Logger) *PriceFetchClient {
	return &PriceFetchClient{
		conn:   conn,
		pacing: NewPacingGovernor(log),
		log:    log.With("component", "fetch"),
		now:    time.Now,
	}
}

// Fetch returns bars for the contract at the given frequency. With a zero
// since it issues a single request for the frequency's maximum span ending
// now; otherwise it backfills in frequency-sized chunks from the later of
// since and the contract's earliest available data point.
//
// Zero combined results are translated using the last recorded gateway
// error for the contract: domain.ErrNoMarketPermissions for an entitlement
// problem, domain.ErrMissingData when the gateway has no history, and a
// hard error otherwise.
func (c *PriceFetchClient) Fetch(ctx context.Context, contract domain.Contract, freq domain.Frequency, since time.Time) (domain.PriceSeries, error) {
	spec, err := freq.Spec()
	if err != nil {
		return nil, err
	}
	log := c.log.With("contract", contract.Key(), "freq", freq.String())

	var raw []domain.Bar
	if since.IsZero() {
		raw, err = c.governedBars(ctx, contract, spec, time.Time{})
		if err != nil {
			return nil, err
		}
	} else {
		raw, err = c.backfill(ctx, contract, spec, since, log)
		if err != nil {
			return nil, err
		}
	}

	if len(raw) == 0 {
		return nil, c.zeroResultError(contract, freq)
	}

	series := c.normalize(raw, freq)
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("gateway returned malformed series for %s: %w", contract, err)
	}
	return series, nil
}

// backfill walks the requested range one maximum-span chunk at a time,
// advancing each window by the chunk span plus one bar period so windows are
// contiguous without overlap.
func (c *PriceFetchClient) backfill(ctx context.Context, contract domain.Contract, spec domain.BarSpec, since time.Time, log *slog.Logger) ([]domain.Bar, error) {
	earliest, err := c.headTimestamp(ctx, contract)
	if err != nil {
		earliest = c.now().Add(-headTimestampFallback)
		log.Info("no head timestamp from gateway, assuming lookback",
			"start", laterOf(since, earliest).Format("2006-01-02"))
	} else {
		log.Info("head timestamp resolved",
			"earliest", earliest.Format("2006-01-02"),
			"start", laterOf(since, earliest).Format("2006-01-02"))
	}
	start := laterOf(since, earliest)

	var all []domain.Bar
	for start.Before(c.now()) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		end := start.Add(spec.MaxSpan)
		chunk, err := c.governedBars(ctx, contract, spec, end)
		if err != nil {
			return nil, err
		}
		all = append(all, chunk...)
		start = end.Add(spec.BarPeriod)
	}
	return all, nil
}

func (c *PriceFetchClient) headTimestamp(ctx context.Context, contract domain.Contract) (time.Time, error) {
	var head time.Time
	err := c.conn.CallWithReconnect(ctx, func() error {
		var err error
		head, err = c.conn.Session().HeadTimestamp(ctx, contract)
		return err
	})
	if err != nil {
		return time.Time{}, err
	}
	if code, ok := c.conn.LastError(contract); ok && code == ErrCodeNoHeadTimestamp {
		return time.Time{}, domain.ErrMissingData
	}
	if head.IsZero() {
		return time.Time{}, domain.ErrMissingData
	}
	return head, nil
}

// governedBars performs one pacing-governed, reconnect-wrapped historical
// request.
func (c *PriceFetchClient) governedBars(ctx context.Context, contract domain.Contract, spec domain.BarSpec, end time.Time) ([]domain.Bar, error) {
	if err := c.pacing.Throttle(ctx); err != nil {
		return nil, err
	}
	var bars []domain.Bar
	err := c.conn.CallWithReconnect(ctx, func() error {
		var err error
		bars, err = c.conn.Session().HistoricalBars(ctx, contract, spec.BarSize, spec.MaxSpanStr, end)
		return err
	})
	c.pacing.MarkCall()
	if err != nil {
		return nil, err
	}
	return bars, nil
}

func (c *PriceFetchClient) zeroResultError(contract domain.Contract, freq domain.Frequency) error {
	if code, ok := c.conn.LastError(contract); ok {
		switch code {
		case ErrCodeNoMarketPermissions:
			return domain.ErrNoMarketPermissions
		case ErrCodeNoHeadTimestamp:
			return domain.ErrMissingData
		}
	}
	// Zero rows with no recorded entitlement or availability error is not
	// "empty history", it is a failure we must not paper over.
	return fmt.Errorf("could not fetch %s bars for contract %s", freq, contract)
}

// normalize converts gateway timestamps to local time and anchors
// whole-period bars at the notional close hour.
func (c *PriceFetchClient) normalize(raw []domain.Bar, freq domain.Frequency) domain.PriceSeries {
	series := make(domain.PriceSeries, 0, len(raw))
	for _, bar := range raw {
		local := bar.Timestamp.In(time.Local)
		if !freq.IsIntraday() {
			local = time.Date(local.Year(), local.Month(), local.Day(),
				NotionalCloseHour, 0, 0, 0, time.Local)
		}
		bar.Timestamp = local
		series = append(series, bar)
	}
	series.Sort()
	// Chunk boundaries can repeat a bar; keep the first occurrence.
	deduped := series[:0]
	for i, bar := range series {
		if i > 0 && !bar.Timestamp.After(deduped[len(deduped)-1].Timestamp) {
			continue
		}
		deduped = append(deduped, bar)
	}
	return deduped
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
