package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pricewarden/internal/config"
	"pricewarden/internal/domain"
	"pricewarden/internal/reconcile"
	"pricewarden/internal/schedule"
	"pricewarden/internal/source"
	"pricewarden/internal/store"
)

// scriptedSource is a Source with programmable behaviour per test.
type scriptedSource struct {
	name         string
	freqs        []domain.Frequency
	contracts    map[string][]domain.Contract
	contractsErr error
	fetch        func(contract domain.Contract, freq domain.Frequency, since time.Time) (domain.PriceSeries, error)

	fetchCalls []string
}

var _ source.Source = (*scriptedSource)(nil)

func (s *scriptedSource) Name() string                    { return s.name }
func (s *scriptedSource) Frequencies() []domain.Frequency { return s.freqs }

func (s *scriptedSource) Contracts(_ context.Context, instrument string) ([]domain.Contract, error) {
	if s.contractsErr != nil {
		return nil, s.contractsErr
	}
	return s.contracts[instrument], nil
}

func (s *scriptedSource) Fetch(_ context.Context, contract domain.Contract, freq domain.Frequency, since time.Time) (domain.PriceSeries, error) {
	s.fetchCalls = append(s.fetchCalls, fmt.Sprintf("%s@%s", contract.Key(), freq))
	return s.fetch(contract, freq, since)
}

// recordingArchiver captures the last series mirrored per contract.
type recordingArchiver struct {
	series map[string]domain.PriceSeries
}

func (a *recordingArchiver) WriteSeries(contract domain.Contract, series domain.PriceSeries) error {
	if a.series == nil {
		a.series = make(map[string]domain.PriceSeries)
	}
	a.series[contract.Key()] = series
	return nil
}

// recordingNotifier captures sent subjects.
type recordingNotifier struct {
	subjects []string
}

func (n *recordingNotifier) Send(subject, _ string) {
	n.subjects = append(n.subjects, subject)
}

var updateStart = time.Date(2026, 8, 20, 23, 0, 0, 0, time.Local)

func seedStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "prices.db"), slog.Default())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func flatSeries(start time.Time, step time.Duration, closes ...float64) domain.PriceSeries {
	series := make(domain.PriceSeries, len(closes))
	for i, c := range closes {
		series[i] = domain.Bar{
			Timestamp: start.Add(time.Duration(i) * step),
			Open:      c, High: c, Low: c, Close: c,
		}
	}
	return series
}

func alwaysAllow() *schedule.Checker { return schedule.New(config.SourceRules{}) }

func goldContract() domain.Contract { return domain.NewContract("GOLD", "20261200") }

func TestRunSkipsDailyWhenIntradayFails(t *testing.T) {
	st := seedStore(t)
	src := &scriptedSource{
		name:      "broker",
		freqs:     []domain.Frequency{domain.Hour, domain.Day},
		contracts: map[string][]domain.Contract{"GOLD": {goldContract()}},
		fetch: func(_ domain.Contract, freq domain.Frequency, _ time.Time) (domain.PriceSeries, error) {
			if freq == domain.Hour {
				return nil, errors.New("gateway tantrum")
			}
			return flatSeries(updateStart, 24*time.Hour, 100), nil
		},
	}

	o := NewOrchestrator(st, nil, &recordingNotifier{}, slog.Default())
	o.AddSource(Entry{Name: "broker", Source: src, Checker: alwaysAllow(), Enabled: true})

	if err := o.Run(context.Background(), "GOLD"); err == nil {
		t.Fatal("Run() = nil, want aggregate failure")
	}
	for _, call := range src.fetchCalls {
		if strings.HasSuffix(call, "@D") {
			t.Fatalf("daily fetch issued after intraday failure: %v", src.fetchCalls)
		}
	}
}

func TestRunFetchesIntradayThenDaily(t *testing.T) {
	st := seedStore(t)
	src := &scriptedSource{
		name:      "broker",
		freqs:     []domain.Frequency{domain.Hour, domain.Day},
		contracts: map[string][]domain.Contract{"GOLD": {goldContract()}},
		fetch: func(_ domain.Contract, freq domain.Frequency, _ time.Time) (domain.PriceSeries, error) {
			if freq == domain.Hour {
				return flatSeries(updateStart.Add(-2*time.Hour), time.Hour, 100, 100.5), nil
			}
			return flatSeries(updateStart, 24*time.Hour, 101), nil
		},
	}

	o := NewOrchestrator(st, nil, &recordingNotifier{}, slog.Default())
	o.AddSource(Entry{Name: "broker", Source: src, Checker: alwaysAllow(), Enabled: true})

	if err := o.Run(context.Background(), "GOLD"); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	want := []string{"GOLD/20261200@H", "GOLD/20261200@D"}
	if len(src.fetchCalls) != 2 || src.fetchCalls[0] != want[0] || src.fetchCalls[1] != want[1] {
		t.Fatalf("fetchCalls = %v, want %v", src.fetchCalls, want)
	}

	series, err := st.GetSeries(context.Background(), goldContract())
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if len(series) != 3 {
		t.Errorf("len(series) = %d, want hourly and daily bars interleaved (3)", len(series))
	}
}

func TestRunSpikeNotifiesAndFails(t *testing.T) {
	st := seedStore(t)
	gold := goldContract()
	ctx := context.Background()
	if _, err := st.WriteSeries(ctx, gold,
		flatSeries(updateStart.AddDate(0, 0, -10), 24*time.Hour, 100, 101, 100, 101, 100, 101, 100, 101, 100, 101), true); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	src := &scriptedSource{
		name:      "broker",
		freqs:     []domain.Frequency{domain.Day},
		contracts: map[string][]domain.Contract{"GOLD": {gold}},
		fetch: func(_ domain.Contract, _ domain.Frequency, since time.Time) (domain.PriceSeries, error) {
			return flatSeries(since.Add(24*time.Hour), 24*time.Hour, 1000), nil
		},
	}
	notifier := &recordingNotifier{}

	o := NewOrchestrator(st, nil, notifier, slog.Default())
	o.AddSource(Entry{Name: "broker", Source: src, Checker: alwaysAllow(), Enabled: true})

	if err := o.Run(ctx, "GOLD"); err == nil {
		t.Fatal("Run() = nil, want failure after spike")
	}
	if len(notifier.subjects) != 1 || notifier.subjects[0] != "Price Spike GOLD" {
		t.Errorf("notifications = %v, want [Price Spike GOLD]", notifier.subjects)
	}

	series, err := st.GetSeries(ctx, gold)
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if len(series) != 10 {
		t.Errorf("len(series) = %d after rejected spike, want 10", len(series))
	}
}

func TestRunSentinelErrorsAreNonFatal(t *testing.T) {
	st := seedStore(t)
	src := &scriptedSource{
		name:      "broker",
		freqs:     []domain.Frequency{domain.Day},
		contracts: map[string][]domain.Contract{"GOLD": {goldContract()}},
		fetch: func(domain.Contract, domain.Frequency, time.Time) (domain.PriceSeries, error) {
			return nil, domain.ErrNoMarketPermissions
		},
	}

	o := NewOrchestrator(st, nil, &recordingNotifier{}, slog.Default())
	o.AddSource(Entry{Name: "broker", Source: src, Checker: alwaysAllow(), Enabled: true})

	if err := o.Run(context.Background(), "GOLD"); err != nil {
		t.Fatalf("Run() = %v, want nil for entitlement problem", err)
	}
}

func TestRunDisabledSourceIsSkipped(t *testing.T) {
	st := seedStore(t)
	src := &scriptedSource{
		name:      "broker",
		freqs:     []domain.Frequency{domain.Day},
		contracts: map[string][]domain.Contract{"GOLD": {goldContract()}},
		fetch: func(domain.Contract, domain.Frequency, time.Time) (domain.PriceSeries, error) {
			return flatSeries(updateStart, 24*time.Hour, 100), nil
		},
	}

	o := NewOrchestrator(st, nil, &recordingNotifier{}, slog.Default())
	o.AddSource(Entry{Name: "broker", Source: src, Checker: alwaysAllow(), Enabled: false})

	if err := o.Run(context.Background(), "GOLD"); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if len(src.fetchCalls) != 0 {
		t.Errorf("disabled source was fetched from: %v", src.fetchCalls)
	}
}

func TestRunSourcesInNameOrder(t *testing.T) {
	st := seedStore(t)
	var order []string
	mkSource := func(name string) *scriptedSource {
		return &scriptedSource{
			name:      name,
			freqs:     []domain.Frequency{domain.Day},
			contracts: map[string][]domain.Contract{"GOLD": {goldContract()}},
			fetch: func(domain.Contract, domain.Frequency, time.Time) (domain.PriceSeries, error) {
				order = append(order, name)
				return nil, domain.ErrMissingData
			},
		}
	}

	o := NewOrchestrator(st, nil, &recordingNotifier{}, slog.Default())
	o.AddSource(Entry{Name: "zebra", Source: mkSource("zebra"), Checker: alwaysAllow(), Enabled: true})
	o.AddSource(Entry{Name: "alpha", Source: mkSource("alpha"), Checker: alwaysAllow(), Enabled: true})

	if err := o.Run(context.Background(), "GOLD"); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if len(order) != 2 || order[0] != "alpha" || order[1] != "zebra" {
		t.Errorf("source order = %v, want [alpha zebra]", order)
	}
}

func TestRunAllInstrumentsScope(t *testing.T) {
	st := seedStore(t)
	ctx := context.Background()
	for _, code := range []string{"CORN", "GOLD"} {
		if err := st.RegisterContract(ctx, domain.NewContract(code, "20271200"), true); err != nil {
			t.Fatalf("RegisterContract: %v", err)
		}
	}

	src := &scriptedSource{
		name:  "broker",
		freqs: []domain.Frequency{domain.Day},
		contracts: map[string][]domain.Contract{
			"CORN": {domain.NewContract("CORN", "20271200")},
			"GOLD": {domain.NewContract("GOLD", "20271200")},
		},
		fetch: func(domain.Contract, domain.Frequency, time.Time) (domain.PriceSeries, error) {
			return nil, domain.ErrMissingData
		},
	}

	o := NewOrchestrator(st, nil, &recordingNotifier{}, slog.Default())
	o.AddSource(Entry{Name: "broker", Source: src, Checker: alwaysAllow(), Enabled: true})

	if err := o.Run(ctx, AllInstruments); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if len(src.fetchCalls) != 2 {
		t.Errorf("fetchCalls = %v, want one per instrument", src.fetchCalls)
	}
}

func TestRunScheduleConfigErrorAbortsSource(t *testing.T) {
	st := seedStore(t)
	src := &scriptedSource{
		name:      "broker",
		freqs:     []domain.Frequency{domain.Day},
		contracts: map[string][]domain.Contract{"GOLD": {goldContract()}},
		fetch: func(domain.Contract, domain.Frequency, time.Time) (domain.PriceSeries, error) {
			return flatSeries(updateStart, 24*time.Hour, 100), nil
		},
	}
	broken := schedule.New(config.SourceRules{
		Schedule: map[string]config.Schedule{"nodays": {}},
	})

	o := NewOrchestrator(st, nil, &recordingNotifier{}, slog.Default())
	o.AddSource(Entry{Name: "broker", Source: src, Checker: broken, Enabled: true})

	if err := o.Run(context.Background(), "GOLD"); err == nil {
		t.Fatal("Run() = nil, want failure for schedule config error")
	}
	if len(src.fetchCalls) != 0 {
		t.Errorf("fetched despite config error: %v", src.fetchCalls)
	}
}

func TestRunSourceLevelFailureAbortsRun(t *testing.T) {
	st := seedStore(t)
	broken := &scriptedSource{
		name:         "alpha",
		freqs:        []domain.Frequency{domain.Day},
		contractsErr: errors.New("registry unavailable"),
	}
	next := &scriptedSource{
		name:      "zebra",
		freqs:     []domain.Frequency{domain.Day},
		contracts: map[string][]domain.Contract{"GOLD": {goldContract()}},
		fetch: func(domain.Contract, domain.Frequency, time.Time) (domain.PriceSeries, error) {
			return flatSeries(updateStart, 24*time.Hour, 100), nil
		},
	}

	o := NewOrchestrator(st, nil, &recordingNotifier{}, slog.Default())
	o.AddSource(Entry{Name: "alpha", Source: broken, Checker: alwaysAllow(), Enabled: true})
	o.AddSource(Entry{Name: "zebra", Source: next, Checker: alwaysAllow(), Enabled: true})

	if err := o.Run(context.Background(), "GOLD"); err == nil {
		t.Fatal("Run() = nil, want abort on datasource failure")
	}
	if len(next.fetchCalls) != 0 {
		t.Errorf("later source still ran after abort: %v", next.fetchCalls)
	}
}

func TestRunDailyFailureIsTolerated(t *testing.T) {
	st := seedStore(t)
	src := &scriptedSource{
		name:      "broker",
		freqs:     []domain.Frequency{domain.Hour, domain.Day},
		contracts: map[string][]domain.Contract{"GOLD": {goldContract()}},
		fetch: func(_ domain.Contract, freq domain.Frequency, _ time.Time) (domain.PriceSeries, error) {
			if freq == domain.Day {
				return nil, errors.New("gateway tantrum")
			}
			return flatSeries(updateStart, time.Hour, 100, 100.5), nil
		},
	}

	o := NewOrchestrator(st, nil, &recordingNotifier{}, slog.Default())
	o.AddSource(Entry{Name: "broker", Source: src, Checker: alwaysAllow(), Enabled: true})

	if err := o.Run(context.Background(), "GOLD"); err != nil {
		t.Fatalf("Run() = %v, want nil when only the daily fetch failed", err)
	}
}

func TestRunArchiveMirrorsCommittedRows(t *testing.T) {
	st := seedStore(t)
	gold := goldContract()
	ctx := context.Background()
	if _, err := st.WriteSeries(ctx, gold, flatSeries(updateStart, 24*time.Hour, 100), true); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	src := &scriptedSource{
		name:      "broker",
		freqs:     []domain.Frequency{domain.Day},
		contracts: map[string][]domain.Contract{"GOLD": {gold}},
		fetch: func(_ domain.Contract, _ domain.Frequency, _ time.Time) (domain.PriceSeries, error) {
			// Revises the stored bar and adds one new one. The store keeps
			// its own value for the overlap; so must the archive.
			revised := flatSeries(updateStart, 24*time.Hour, 999, 101)
			return revised, nil
		},
	}
	archive := &recordingArchiver{}

	o := NewOrchestrator(st, archive, &recordingNotifier{}, slog.Default())
	o.AddSource(Entry{Name: "broker", Source: src, Checker: alwaysAllow(), Enabled: true})

	if err := o.Run(ctx, "GOLD"); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	mirrored := archive.series[gold.Key()]
	if len(mirrored) != 2 {
		t.Fatalf("len(mirrored) = %d, want 2", len(mirrored))
	}
	if mirrored[0].Close != 100 {
		t.Errorf("mirrored overlap close = %v, want the stored 100", mirrored[0].Close)
	}
	if mirrored[1].Close != 101 {
		t.Errorf("mirrored new close = %v, want 101", mirrored[1].Close)
	}
}

func TestRunManualModeReplacesRows(t *testing.T) {
	st := seedStore(t)
	gold := goldContract()
	ctx := context.Background()
	if _, err := st.WriteSeries(ctx, gold, flatSeries(updateStart, 24*time.Hour, 100, 101), true); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	src := &scriptedSource{
		name:      "broker",
		freqs:     []domain.Frequency{domain.Day},
		contracts: map[string][]domain.Contract{"GOLD": {gold}},
		fetch: func(_ domain.Contract, _ domain.Frequency, _ time.Time) (domain.PriceSeries, error) {
			// Overlaps the stored tail with a corrected close.
			return flatSeries(updateStart.Add(24*time.Hour), 24*time.Hour, 150), nil
		},
	}

	o := NewOrchestrator(st, nil, &recordingNotifier{}, slog.Default())
	o.AddSource(Entry{Name: "broker", Source: src, Checker: alwaysAllow(), Enabled: true})
	o.SetManual(reconcile.NewManualReconciler(strings.NewReader("n\n"), &strings.Builder{}, slog.Default()))

	if err := o.Run(ctx, "GOLD"); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	series, err := st.GetSeries(ctx, gold)
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("len(series) = %d, want 2", len(series))
	}
	if series[1].Close != 150 {
		t.Errorf("tail close = %v, want operator-accepted 150", series[1].Close)
	}
}
