package pricedata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"vela/internal/domain"
	"vela/internal/util"
)

// Compile-time interface check.
var _ Source = (*AlpacaSource)(nil)

// AlpacaSource is the remote tier: daily OHLCV bars from the Alpaca
// market-data API, rate limited across concurrent fetches.
type AlpacaSource struct {
	client  *marketdata.Client
	limiter *util.RateLimiter
}

// NewAlpacaSource creates an AlpacaSource with the given credentials.
// perMinute bounds the request rate shared by all callers.
func NewAlpacaSource(apiKey, apiSecret, dataURL string, perMinute int) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if perMinute <= 0 {
		perMinute = 200
	}
	return &AlpacaSource{
		client:  marketdata.NewClient(opts),
		limiter: util.NewRateLimiter(perMinute),
	}
}

// Fetch downloads daily bars for the ticker over [start, end].
func (s *AlpacaSource) Fetch(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	alpacaBars, err := s.client.GetBars(strings.ToUpper(ticker), marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      "iex",
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", ticker, err)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Ticker: strings.ToUpper(ticker),
			Date:   domain.Day(ab.Timestamp),
			Open:   ab.Open,
			High:   ab.High,
			Low:    ab.Low,
			Close:  ab.Close,
			Volume: int64(ab.Volume),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return dedupeByDate(bars), nil
}
