package pricedata

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"vela/internal/domain"
)

// sourceVersion is baked into every cache file name. Bumping it invalidates
// all existing entries after an upstream data format change.
const sourceVersion = 1

// CacheStore is the compressed on-disk price cache. Entries are Parquet
// files content-addressed by (ticker, start, end, source version):
//
//	<Dir>/<TICKER>/<start>_<end>_v<N>.parquet
//
// A lookup is served by any entry whose range is a superset of the request;
// partially overlapping entries never serve a request, so gaps cannot leak
// in silently.
type CacheStore struct {
	Dir string
}

// NewCacheStore creates a CacheStore rooted at dir.
func NewCacheStore(dir string) *CacheStore {
	return &CacheStore{Dir: dir}
}

// barRecord is the Parquet schema for cached daily bars.
type barRecord struct {
	Ticker string  `parquet:"ticker"`
	Date   int64   `parquet:"date,timestamp(millisecond)"` // Unix ms, midnight UTC
	Open   float64 `parquet:"open"`
	High   float64 `parquet:"high"`
	Low    float64 `parquet:"low"`
	Close  float64 `parquet:"close"`
	Volume int64   `parquet:"volume"`
}

// Get returns cached bars covering [start, end], sliced to the request.
// The second return value reports whether a covering entry existed.
func (c *CacheStore) Get(ticker string, start, end time.Time) ([]domain.Bar, bool) {
	dir := filepath.Join(c.Dir, strings.ToUpper(ticker))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}

	start, end = domain.Day(start), domain.Day(end)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		es, ee, ok := parseEntryName(e.Name())
		if !ok {
			continue
		}
		if es.After(start) || ee.Before(end) {
			continue // not a superset of the request
		}
		records, err := parquet.ReadFile[barRecord](filepath.Join(dir, e.Name()))
		if err != nil {
			continue // unreadable entry, treat as a miss
		}
		bars := make([]domain.Bar, 0, len(records))
		for _, r := range records {
			bars = append(bars, domain.Bar{
				Ticker: r.Ticker,
				Date:   domain.Day(time.UnixMilli(r.Date)),
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
				Close:  r.Close,
				Volume: r.Volume,
			})
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
		return sliceRange(bars, start, end), true
	}
	return nil, false
}

// Put writes bars under the (ticker, start, end) key, replacing any previous
// entry for the same key. The write goes to a temp file first so a crashed
// writer never leaves a truncated entry behind.
func (c *CacheStore) Put(ticker string, start, end time.Time, bars []domain.Bar) error {
	dir := filepath.Join(c.Dir, strings.ToUpper(ticker))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	records := make([]barRecord, 0, len(bars))
	for _, b := range bars {
		records = append(records, barRecord{
			Ticker: b.Ticker,
			Date:   b.Date.UnixMilli(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}

	path := filepath.Join(dir, entryName(start, end))
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing cache entry %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing cache entry %s: %w", path, err)
	}
	return nil
}

// entryName builds the content-addressed file name for a range.
func entryName(start, end time.Time) string {
	return fmt.Sprintf("%s_%s_v%d.parquet",
		start.Format("2006-01-02"), end.Format("2006-01-02"), sourceVersion)
}

// parseEntryName recovers the (start, end) key from a cache file name.
// Entries written under a different source version are ignored.
func parseEntryName(name string) (start, end time.Time, ok bool) {
	base, found := strings.CutSuffix(name, fmt.Sprintf("_v%d.parquet", sourceVersion))
	if !found {
		return time.Time{}, time.Time{}, false
	}
	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, false
	}
	s, err1 := time.Parse("2006-01-02", parts[0])
	e, err2 := time.Parse("2006-01-02", parts[1])
	if err1 != nil || err2 != nil {
		return time.Time{}, time.Time{}, false
	}
	return domain.Day(s), domain.Day(e), true
}
