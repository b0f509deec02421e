package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"pricewarden/internal/broker"
	"pricewarden/internal/config"
	"pricewarden/internal/domain"
)

func init() {
	Register("csv", newCSVSource)
}

// Compile-time interface check.
var _ Source = (*CSVSource)(nil)

// CSVSource serves daily bars from a directory of per-contract CSV files.
// The file naming, date format, column names and price scale are all
// parameters, so one driver covers archives from different suppliers.
type CSVSource struct {
	datapath string
	opts     config.CSVOptions
	log      *slog.Logger

	// now is swappable for expiry tests.
	now func() time.Time
}

func newCSVSource(deps Deps, rules config.SourceRules) (Source, error) {
	if rules.CSVDatapath == "" {
		return nil, fmt.Errorf("csv source requires csv_datapath")
	}
	opts := rules.CSV
	if opts.FilePattern == "" {
		opts.FilePattern = "%s_%s.csv"
	}
	if opts.DateFormat == "" {
		opts.DateFormat = "2006-01-02"
	}
	if opts.DateColumn == "" {
		opts.DateColumn = "date"
	}
	if opts.OpenColumn == "" {
		opts.OpenColumn = "open"
	}
	if opts.HighColumn == "" {
		opts.HighColumn = "high"
	}
	if opts.LowColumn == "" {
		opts.LowColumn = "low"
	}
	if opts.CloseColumn == "" {
		opts.CloseColumn = "close"
	}
	if opts.VolColumn == "" {
		opts.VolColumn = "volume"
	}
	if opts.Multiplier == 0 {
		opts.Multiplier = 1
	}
	return &CSVSource{
		datapath: rules.CSVDatapath,
		opts:     opts,
		log:      deps.Log.With("source", "csv"),
		now:      time.Now,
	}, nil
}

// Name implements Source.
func (s *CSVSource) Name() string { return "csv" }

// Frequencies implements Source: archives carry end-of-day data.
func (s *CSVSource) Frequencies() []domain.Frequency {
	return []domain.Frequency{domain.Day}
}

// fileSymbol maps an instrument code onto the symbol used in filenames.
func (s *CSVSource) fileSymbol(instrument string) string {
	if sym, ok := s.opts.Symbols[instrument]; ok {
		return sym
	}
	return instrument
}

// Contracts implements Source by scanning the archive directory for files
// matching the instrument's symbol. Expired contracts are skipped: their
// archives exist but there is nothing left to update.
func (s *CSVSource) Contracts(_ context.Context, instrument string) ([]domain.Contract, error) {
	entries, err := os.ReadDir(s.datapath)
	if err != nil {
		return nil, fmt.Errorf("reading csv datapath: %w", err)
	}

	symbol := s.fileSymbol(instrument)
	now := s.now()
	var contracts []domain.Contract
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		sym, date, ok := splitByPattern(s.opts.FilePattern, e.Name())
		if !ok || sym != symbol {
			continue
		}
		contract := domain.NewContract(instrument, date)
		if contract.IsExpired(now) {
			continue
		}
		contracts = append(contracts, contract)
	}
	sort.Slice(contracts, func(i, j int) bool {
		return contracts[i].DateStr < contracts[j].DateStr
	})
	return contracts, nil
}

// Fetch implements Source.
func (s *CSVSource) Fetch(_ context.Context, contract domain.Contract, freq domain.Frequency, since time.Time) (domain.PriceSeries, error) {
	if freq != domain.Day {
		return nil, fmt.Errorf("csv source serves daily bars only, not %s", freq)
	}

	name := fmt.Sprintf(s.opts.FilePattern, s.fileSymbol(contract.InstrumentCode), contract.DateStr)
	path := filepath.Join(s.datapath, name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no archive file for %s: %w", contract, domain.ErrMissingData)
		}
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("archive file %s has no data rows: %w", name, domain.ErrMissingData)
	}

	cols, err := s.columnIndexes(rows[0])
	if err != nil {
		return nil, fmt.Errorf("archive file %s: %w", name, err)
	}

	series := make(domain.PriceSeries, 0, len(rows)-1)
	for _, row := range rows[1:] {
		bar, err := s.parseRow(row, cols)
		if err != nil {
			return nil, fmt.Errorf("archive file %s: %w", name, err)
		}
		if !since.IsZero() && !bar.Timestamp.After(since) {
			continue
		}
		series = append(series, bar)
	}
	series.Sort()
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("archive file %s: %w", name, err)
	}
	return series, nil
}

// csvColumns holds the resolved column positions for one file.
type csvColumns struct {
	date, open, high, low, close, volume int
}

func (s *CSVSource) columnIndexes(header []string) (csvColumns, error) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		byName[strings.ToLower(strings.TrimSpace(h))] = i
	}
	cols := csvColumns{volume: -1}
	find := func(name string, required bool) (int, error) {
		i, ok := byName[strings.ToLower(name)]
		if !ok {
			if required {
				return 0, fmt.Errorf("missing column %q", name)
			}
			return -1, nil
		}
		return i, nil
	}

	var err error
	if cols.date, err = find(s.opts.DateColumn, true); err != nil {
		return cols, err
	}
	if cols.open, err = find(s.opts.OpenColumn, true); err != nil {
		return cols, err
	}
	if cols.high, err = find(s.opts.HighColumn, true); err != nil {
		return cols, err
	}
	if cols.low, err = find(s.opts.LowColumn, true); err != nil {
		return cols, err
	}
	if cols.close, err = find(s.opts.CloseColumn, true); err != nil {
		return cols, err
	}
	// Some archives carry no volume.
	if cols.volume, err = find(s.opts.VolColumn, false); err != nil {
		return cols, err
	}
	return cols, nil
}

func (s *CSVSource) parseRow(row []string, cols csvColumns) (domain.Bar, error) {
	ts, err := time.ParseInLocation(s.opts.DateFormat, row[cols.date], time.Local)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing date %q: %w", row[cols.date], err)
	}
	// Date-only archives get the notional close anchor like every other
	// daily series.
	if ts.Hour() == 0 && ts.Minute() == 0 {
		ts = time.Date(ts.Year(), ts.Month(), ts.Day(), broker.NotionalCloseHour, 0, 0, 0, time.Local)
	}

	price := func(i int) (float64, error) {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing price %q: %w", row[i], err)
		}
		return v * s.opts.Multiplier, nil
	}

	bar := domain.Bar{Timestamp: ts}
	if bar.Open, err = price(cols.open); err != nil {
		return domain.Bar{}, err
	}
	if bar.High, err = price(cols.high); err != nil {
		return domain.Bar{}, err
	}
	if bar.Low, err = price(cols.low); err != nil {
		return domain.Bar{}, err
	}
	if bar.Close, err = price(cols.close); err != nil {
		return domain.Bar{}, err
	}
	if cols.volume >= 0 {
		vol, err := strconv.ParseFloat(strings.TrimSpace(row[cols.volume]), 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("parsing volume %q: %w", row[cols.volume], err)
		}
		bar.Volume = int64(vol)
	}
	return bar, nil
}

// splitByPattern inverts a two-verb "%s" file pattern, recovering the symbol
// and contract date from a filename.
func splitByPattern(pattern, name string) (symbol, date string, ok bool) {
	parts := strings.Split(pattern, "%s")
	if len(parts) != 3 {
		return "", "", false
	}
	if !strings.HasPrefix(name, parts[0]) || !strings.HasSuffix(name, parts[2]) {
		return "", "", false
	}
	core := name[len(parts[0]) : len(name)-len(parts[2])]
	sep := strings.LastIndex(core, parts[1])
	if parts[1] == "" || sep < 0 {
		return "", "", false
	}
	return core[:sep], core[sep+len(parts[1]):], true
}
