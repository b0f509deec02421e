package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"pricewarden/internal/domain"
	"pricewarden/internal/reconcile"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ PriceStore = (*SQLiteStore)(nil)
var _ ContractRegistry = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS prices (
	instrument    TEXT    NOT NULL,
	contract_date TEXT    NOT NULL,
	ts            INTEGER NOT NULL,
	open          REAL    NOT NULL,
	high          REAL    NOT NULL,
	low           REAL    NOT NULL,
	close         REAL    NOT NULL,
	volume        INTEGER NOT NULL,
	PRIMARY KEY (instrument, contract_date, ts)
);
CREATE TABLE IF NOT EXISTS contracts (
	instrument    TEXT    NOT NULL,
	contract_date TEXT    NOT NULL,
	sampled       INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (instrument, contract_date)
);
`

// SQLiteStore implements PriceStore and ContractRegistry backed by a SQLite
// database.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// schema exists.
func NewSQLiteStore(dbPath string, log *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{
		db:  db,
		log: log.With("component", "store"),
		now: time.Now,
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// PriceStore implementation
// ---------------------------------------------------------------------------

// GetSeries returns the stored series for the contract, oldest first.
func (s *SQLiteStore) GetSeries(ctx context.Context, contract domain.Contract) (domain.PriceSeries, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM prices
		WHERE instrument = ? AND contract_date = ?
		ORDER BY ts`,
		contract.InstrumentCode, contract.DateStr)
	if err != nil {
		return nil, fmt.Errorf("reading series for %s: %w", contract, err)
	}
	defer rows.Close()

	var series domain.PriceSeries
	for rows.Next() {
		var ts int64
		var bar domain.Bar
		if err := rows.Scan(&ts, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, err
		}
		bar.Timestamp = time.Unix(ts, 0).In(time.Local)
		series = append(series, bar)
	}
	return series, rows.Err()
}

// WriteSeries implements PriceStore. The spike-checked path appends only
// rows past the stored tail and rejects the whole batch on a spike; rows
// before the tail are counted and skipped, never overwritten. The unchecked
// path upserts every row.
func (s *SQLiteStore) WriteSeries(ctx context.Context, contract domain.Contract, series domain.PriceSeries, checkForSpike bool) (int, error) {
	if !checkForSpike {
		return s.upsertSeries(ctx, contract, series)
	}

	stored, err := s.GetSeries(ctx, contract)
	if err != nil {
		return 0, err
	}
	_, added, skipped := domain.Merge(stored, series)
	if skipped > 0 {
		s.log.Debug("skipped rows at or before stored tail",
			"contract", contract.Key(), "skipped", skipped)
	}
	if len(added) == 0 {
		return 0, nil
	}
	if err := reconcile.CheckSeries(stored, added); err != nil {
		return 0, err
	}
	return s.insertBars(ctx, contract, added, false)
}

// upsertSeries writes the series as given, replacing rows at existing
// timestamps. Manual reconciliation is the only caller.
func (s *SQLiteStore) upsertSeries(ctx context.Context, contract domain.Contract, series domain.PriceSeries) (int, error) {
	return s.insertBars(ctx, contract, series, true)
}

func (s *SQLiteStore) insertBars(ctx context.Context, contract domain.Contract, bars []domain.Bar, replace bool) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	verb := "INSERT"
	if replace {
		verb = "INSERT OR REPLACE"
	}
	stmt, err := tx.PrepareContext(ctx, verb+` INTO prices
		(instrument, contract_date, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx,
			contract.InstrumentCode, contract.DateStr, bar.Timestamp.Unix(),
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume); err != nil {
			return 0, fmt.Errorf("writing bar %s for %s: %w",
				bar.Timestamp.Format(time.RFC3339), contract, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(bars), nil
}

// ListInstruments returns all instrument codes in the registry, sorted.
func (s *SQLiteStore) ListInstruments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instrument FROM contracts
		UNION SELECT instrument FROM prices
		ORDER BY instrument`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		instruments = append(instruments, code)
	}
	return instruments, rows.Err()
}

// ---------------------------------------------------------------------------
// ContractRegistry implementation
// ---------------------------------------------------------------------------

// RegisterContract records a contract and its sampling state.
func (s *SQLiteStore) RegisterContract(ctx context.Context, contract domain.Contract, sampled bool) error {
	flag := 0
	if sampled {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO contracts (instrument, contract_date, sampled)
		VALUES (?, ?, ?)`,
		contract.InstrumentCode, contract.DateStr, flag)
	return err
}

// SampledContracts returns the unexpired sampled contracts for the
// instrument. Virtual instruments yield the proxy contract directly.
func (s *SQLiteStore) SampledContracts(ctx context.Context, instrument string) ([]domain.Contract, error) {
	if domain.IsVirtualInstrument(instrument) {
		return []domain.Contract{domain.VirtualContract(instrument)}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT contract_date FROM contracts
		WHERE instrument = ? AND sampled = 1
		ORDER BY contract_date`, instrument)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := s.now()
	var contracts []domain.Contract
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, err
		}
		contract := domain.NewContract(instrument, date)
		if contract.IsExpired(now) {
			continue
		}
		contracts = append(contracts, contract)
	}
	return contracts, rows.Err()
}

// AllContracts returns every known contract for the instrument.
func (s *SQLiteStore) AllContracts(ctx context.Context, instrument string, includeExpired bool) ([]domain.Contract, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contract_date FROM contracts
		WHERE instrument = ?
		ORDER BY contract_date`, instrument)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := s.now()
	var contracts []domain.Contract
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, err
		}
		contract := domain.NewContract(instrument, date)
		if !includeExpired && contract.IsExpired(now) {
			continue
		}
		contracts = append(contracts, contract)
	}
	return contracts, rows.Err()
}
