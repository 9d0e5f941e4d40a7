// Package pricedata resolves and caches OHLCV history for tickers over a
// date range from a tiered source chain: bundled local dataset, compressed
// on-disk cache, then remote download. Results are memoized per process and
// duplicate in-flight requests join the first fetch.
package pricedata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"vela/internal/domain"
)

// Source yields ascending-by-date bars for one ticker over [start, end].
// Implementations must not return duplicate dates.
type Source interface {
	Fetch(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error)
}

// ---------------------------------------------------------------------------
// DatasetSource — pre-bundled local CSV datasets
// ---------------------------------------------------------------------------

// DatasetSource reads bundled OHLCV history from CSV files laid out as
// <dir>/<TICKER>.csv with a Date,Open,High,Low,Close,Volume header.
type DatasetSource struct {
	Dir string
}

// NewDatasetSource creates a DatasetSource rooted at dir.
func NewDatasetSource(dir string) *DatasetSource {
	return &DatasetSource{Dir: dir}
}

// Fetch reads the ticker's CSV and returns bars within [start, end].
// A missing file is reported as ErrDataUnavailable so the repository can
// fall through to the next tier.
func (s *DatasetSource) Fetch(_ context.Context, ticker string, start, end time.Time) ([]domain.Bar, error) {
	path := filepath.Join(s.Dir, strings.ToUpper(ticker)+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no dataset file for %s", domain.ErrDataUnavailable, ticker)
		}
		return nil, fmt.Errorf("opening dataset %s: %w", path, err)
	}
	defer f.Close()

	bars, err := readBarCSV(f, strings.ToUpper(ticker))
	if err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	return sliceRange(bars, start, end), nil
}

// readBarCSV parses Date,Open,High,Low,Close,Volume rows. The header row is
// skipped. Rows are returned sorted ascending by date.
func readBarCSV(r io.Reader, ticker string) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	var bars []domain.Bar
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "date") {
			continue
		}
		if len(rec) < 6 {
			return nil, fmt.Errorf("row %d: want 6 columns, got %d", line, len(rec))
		}

		date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("row %d: bad date %q: %w", line, rec[0], err)
		}
		vals := make([]float64, 4)
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad price %q: %w", line, rec[i+1], err)
			}
			vals[i] = v
		}
		vol, err := strconv.ParseInt(strings.TrimSpace(rec[5]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad volume %q: %w", line, rec[5], err)
		}

		bars = append(bars, domain.Bar{
			Ticker: ticker,
			Date:   domain.Day(date),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vol,
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return dedupeByDate(bars), nil
}

// sliceRange returns the bars within [start, end], inclusive.
func sliceRange(bars []domain.Bar, start, end time.Time) []domain.Bar {
	start, end = domain.Day(start), domain.Day(end)
	lo := sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(start) })
	hi := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(end) })
	if lo >= hi {
		return nil
	}
	out := make([]domain.Bar, hi-lo)
	copy(out, bars[lo:hi])
	return out
}

// dedupeByDate drops repeated dates, keeping the last occurrence. Input must
// be sorted ascending.
func dedupeByDate(bars []domain.Bar) []domain.Bar {
	if len(bars) < 2 {
		return bars
	}
	out := bars[:1]
	for _, b := range bars[1:] {
		if b.Date.Equal(out[len(out)-1].Date) {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
