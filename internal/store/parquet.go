package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"pricewarden/internal/domain"
)

// ParquetArchive mirrors stored price series as Parquet files for analytics
// and offsite backup. It is a write-behind copy of the SQLite store, never
// the source of truth.
type ParquetArchive struct {
	DataDir string
}

// NewParquetArchive roots the archive at the given directory.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// barRecord is the on-disk Parquet schema for one OHLCV row.
type barRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// WriteSeries merges the series into the contract's archive file. Rows are
// deduplicated by timestamp, incoming rows winning, so re-archiving after a
// manual fix updates the mirror.
//
// Layout: <DataDir>/<INSTRUMENT>/<CONTRACTDATE>.parquet
func (a *ParquetArchive) WriteSeries(contract domain.Contract, series domain.PriceSeries) error {
	if len(series) == 0 {
		return nil
	}
	path := a.seriesPath(contract)

	existing, _ := readParquetFile[barRecord](path)
	incoming := make([]barRecord, 0, len(series))
	for _, bar := range series {
		incoming = append(incoming, barRecord{
			Timestamp: bar.Timestamp.UnixMilli(),
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    bar.Volume,
		})
	}

	if err := writeParquetFile(path, mergeRecords(existing, incoming)); err != nil {
		return fmt.Errorf("archiving %s: %w", contract, err)
	}
	return nil
}

// ReadSeries loads the archived series for the contract, oldest first. A
// missing file yields an empty series.
func (a *ParquetArchive) ReadSeries(contract domain.Contract) (domain.PriceSeries, error) {
	records, err := readParquetFile[barRecord](a.seriesPath(contract))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading archive for %s: %w", contract, err)
	}

	series := make(domain.PriceSeries, 0, len(records))
	for _, r := range records {
		series = append(series, domain.Bar{
			Timestamp: time.UnixMilli(r.Timestamp).In(time.Local),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return series, nil
}

// ListInstruments lists instrument codes with archived data, sorted.
func (a *ParquetArchive) ListInstruments() ([]string, error) {
	entries, err := os.ReadDir(a.DataDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var instruments []string
	for _, e := range entries {
		if e.IsDir() {
			instruments = append(instruments, e.Name())
		}
	}
	sort.Strings(instruments)
	return instruments, nil
}

// seriesPath returns the archive file for a contract.
func (a *ParquetArchive) seriesPath(contract domain.Contract) string {
	return filepath.Join(a.DataDir, contract.InstrumentCode, contract.DateStr+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeRecords deduplicates by timestamp, incoming records winning, sorted
// ascending.
func mergeRecords(existing, incoming []barRecord) []barRecord {
	seen := make(map[int64]barRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]barRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
