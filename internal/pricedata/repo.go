package pricedata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"vela/internal/domain"
	"vela/internal/util"
)

// coverageTolerance is how far inside the requested span the first/last bar
// may sit before the span counts as unserved. Requested edges often land on
// weekends or holidays, so an exact match is too strict.
const coverageTolerance = 7 * 24 * time.Hour

// Repository resolves price series through the tiered source chain.
// Construct once per process and share; all methods are safe for
// concurrent use.
type Repository struct {
	dataset *DatasetSource
	cache   *CacheStore
	remote  Source

	maxAttempts int
	retryDelay  time.Duration
	log         *slog.Logger

	group singleflight.Group

	mu   sync.RWMutex
	memo map[string][]domain.Bar
}

// Option configures a Repository.
type Option func(*Repository)

// WithDataset sets the bundled local dataset tier.
func WithDataset(ds *DatasetSource) Option {
	return func(r *Repository) { r.dataset = ds }
}

// WithCache sets the compressed on-disk cache tier.
func WithCache(cs *CacheStore) Option {
	return func(r *Repository) { r.cache = cs }
}

// WithRemote sets the remote download tier.
func WithRemote(src Source) Option {
	return func(r *Repository) { r.remote = src }
}

// WithRetry overrides the remote retry budget and base delay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(r *Repository) {
		r.maxAttempts = maxAttempts
		r.retryDelay = baseDelay
	}
}

// NewRepository creates a Repository. At least one tier should be
// configured; a Repository with no tiers reports every request as
// DataUnavailable.
func NewRepository(log *slog.Logger, opts ...Option) *Repository {
	r := &Repository{
		maxAttempts: 3,
		retryDelay:  500 * time.Millisecond,
		log:         log,
		memo:        make(map[string][]domain.Bar),
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Series resolves the bar series for one ticker over [start, end].
// Resolution order: memo, bundled dataset, cache, remote (with cache
// write-back). Concurrent requests for the same key share one fetch.
// The returned slice is shared and must be treated as read-only.
func (r *Repository) Series(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error) {
	start, end = domain.Day(start), domain.Day(end)
	key := fmt.Sprintf("%s|%s|%s", ticker, start.Format("2006-01-02"), end.Format("2006-01-02"))

	r.mu.RLock()
	if bars, ok := r.memo[key]; ok {
		r.mu.RUnlock()
		return bars, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(key, func() (any, error) {
		bars, err := r.resolve(ctx, ticker, start, end)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.memo[key] = bars
		r.mu.Unlock()
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Bar), nil
}

func (r *Repository) resolve(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error) {
	// Tier 1: bundled dataset.
	if r.dataset != nil {
		bars, err := r.dataset.Fetch(ctx, ticker, start, end)
		if err == nil && covers(bars, start, end) {
			r.log.Debug("price series from dataset", "ticker", ticker, "bars", len(bars))
			return bars, nil
		}
	}

	// Tier 2: compressed cache.
	if r.cache != nil {
		if bars, ok := r.cache.Get(ticker, start, end); ok && covers(bars, start, end) {
			r.log.Debug("price series from cache", "ticker", ticker, "bars", len(bars))
			return bars, nil
		}
	}

	// Tier 3: remote download with retry, written back to the cache.
	if r.remote != nil {
		var bars []domain.Bar
		err := util.Retry(ctx, r.maxAttempts, r.retryDelay, func() error {
			var ferr error
			bars, ferr = r.remote.Fetch(ctx, ticker, start, end)
			return ferr
		})
		if err != nil {
			return nil, fmt.Errorf("%w: remote fetch for %s failed: %v", domain.ErrDataUnavailable, ticker, err)
		}
		if !covers(bars, start, end) {
			return nil, fmt.Errorf("%w: %s has no bars spanning %s to %s",
				domain.ErrDataUnavailable, ticker, start.Format("2006-01-02"), end.Format("2006-01-02"))
		}
		if r.cache != nil {
			if err := r.cache.Put(ticker, start, end, bars); err != nil {
				r.log.Warn("cache write-back failed", "ticker", ticker, "error", err)
			}
		}
		r.log.Debug("price series from remote", "ticker", ticker, "bars", len(bars))
		return bars, nil
	}

	return nil, fmt.Errorf("%w: no source has %s over %s to %s",
		domain.ErrDataUnavailable, ticker, start.Format("2006-01-02"), end.Format("2006-01-02"))
}

// FetchAll resolves series for every ticker concurrently, joining before
// return. workers bounds the parallelism. Any single failure fails the
// whole prefetch.
func (r *Repository) FetchAll(ctx context.Context, tickers []string, start, end time.Time, workers int) (map[string][]domain.Bar, error) {
	if workers <= 0 {
		workers = 8
	}

	var (
		mu  sync.Mutex
		out = make(map[string][]domain.Bar, len(tickers))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, ticker := range tickers {
		g.Go(func() error {
			bars, err := r.Series(gctx, ticker, start, end)
			if err != nil {
				return err
			}
			mu.Lock()
			out[ticker] = bars
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// covers reports whether bars span [start, end] within the edge tolerance.
func covers(bars []domain.Bar, start, end time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	first, last := bars[0].Date, bars[len(bars)-1].Date
	return !first.After(start.Add(coverageTolerance)) && !last.Before(end.Add(-coverageTolerance))
}
