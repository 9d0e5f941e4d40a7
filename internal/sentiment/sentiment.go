// Package sentiment supplies daily per-ticker sentiment scores in [-1, 1]
// for the signal overlay. The only shipping implementation reads bundled
// score files; days with no reading report ok=false so the caller can
// renormalise without the overlay.
package sentiment

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"vela/internal/domain"
)

// Source yields a sentiment score for one ticker on one day.
type Source interface {
	// Score returns the score for the day and whether a reading exists.
	Score(ticker string, date time.Time) (float64, bool)
}

// DatasetSource reads per-ticker Date,Score CSV files lazily and keeps the
// parsed series in memory. Safe for concurrent use.
type DatasetSource struct {
	Dir string

	mu     sync.Mutex
	loaded map[string]map[int64]float64 // ticker -> unix day -> score
}

func NewDatasetSource(dir string) *DatasetSource {
	return &DatasetSource{Dir: dir, loaded: make(map[string]map[int64]float64)}
}

// Score implements Source. Unknown tickers and uncovered days report
// ok=false; a ticker whose file is malformed is treated as having no data.
func (s *DatasetSource) Score(ticker string, date time.Time) (float64, bool) {
	ticker = strings.ToUpper(ticker)

	s.mu.Lock()
	series, ok := s.loaded[ticker]
	if !ok {
		var err error
		series, err = readScoreCSV(filepath.Join(s.Dir, ticker+".csv"))
		if err != nil {
			series = map[int64]float64{}
		}
		s.loaded[ticker] = series
	}
	s.mu.Unlock()

	score, ok := series[domain.Day(date).Unix()]
	return score, ok
}

func readScoreCSV(path string) (map[int64]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.TrimLeadingSpace = true

	series := make(map[int64]float64)
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
		if len(rec) < 2 {
			return nil, fmt.Errorf("row %d: want 2 columns, got %d", line, len(rec))
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("row %d: bad date %q: %w", line, rec[0], err)
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad score %q: %w", line, rec[1], err)
		}
		if score > 1 {
			score = 1
		} else if score < -1 {
			score = -1
		}
		series[domain.Day(date).Unix()] = score
	}
	return series, nil
}
