package backtest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"vela/internal/domain"
)

type fakeRepo struct {
	bars  map[string][]domain.Bar
	delay time.Duration
}

func (f *fakeRepo) FetchAll(ctx context.Context, tickers []string, _, _ time.Time, _ int) (map[string][]domain.Bar, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make(map[string][]domain.Bar, len(tickers))
	for _, t := range tickers {
		bars, ok := f.bars[t]
		if !ok {
			return nil, domain.ErrDataUnavailable
		}
		out[t] = bars
	}
	return out, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved []*RunResult
}

func (f *fakeStore) Save(r *RunResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, r)
	return nil
}

func (f *fakeStore) Load(string) (*RunResult, error) { return nil, domain.ErrRunNotFound }
func (f *fakeStore) List() ([]RunMeta, error)        { return nil, nil }
func (f *fakeStore) Delete(string) error             { return domain.ErrRunNotFound }

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func risingBars(ticker string, n int) []domain.Bar {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		p := 100 + float64(i)
		bars[i] = domain.Bar{
			Ticker: ticker,
			Date:   base.AddDate(0, 0, i),
			Open:   p,
			High:   p + 1,
			Low:    p - 1,
			Close:  p + 0.5,
			Volume: 1_000_000,
		}
	}
	return bars
}

func runConfig(tickers ...string) domain.RunConfig {
	return domain.RunConfig{
		Tickers:          tickers,
		Start:            time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		End:              time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Variant:          domain.VariantThreshold,
		Risk:             domain.RiskMedium,
		SentimentMode:    domain.SentimentNone,
		InitialCapital:   100_000,
		MaxOpenPositions: 5,
		BuyThreshold:     0.10,
		SellThreshold:    0.10,
		SlippageBPS:      5,
	}
}

func runToCompletion(t *testing.T, r *Runner, cfg domain.RunConfig) (*Task, Status) {
	t.Helper()
	task, err := r.Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-task.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
	return task, task.Status()
}

func TestRisingSeriesBuysOnceAndHolds(t *testing.T) {
	repo := &fakeRepo{bars: map[string][]domain.Bar{
		"AAPL": risingBars("AAPL", 60),
		"SPY":  risingBars("SPY", 60),
	}}
	store := &fakeStore{}
	r := NewRunner(repo, nil, store, quietLogger(), 2)

	cfg := runConfig("AAPL")
	cfg.BenchmarkTicker = "SPY"
	cfg.RunID = "run_test_rising"
	_, status := runToCompletion(t, r, cfg)

	if status.State != StateComplete {
		t.Fatalf("state = %s (%s), want complete", status.State, status.Error)
	}
	if status.RunID != "run_test_rising" {
		t.Fatalf("run_id = %q", status.RunID)
	}
	if store.count() != 1 {
		t.Fatalf("saved %d results, want 1", store.count())
	}

	result := store.saved[0]
	buys, sells := 0, 0
	for _, tr := range result.Trades {
		switch tr.Side {
		case domain.SideBuy:
			buys++
		case domain.SideSell:
			sells++
		}
	}
	if buys != 1 || sells != 0 {
		t.Fatalf("trades = %d buys / %d sells, want exactly one BUY and no SELL", buys, sells)
	}
	if len(result.Curve) != 60 {
		t.Fatalf("curve has %d points, want 60", len(result.Curve))
	}
	if result.Summary.CumulativeReturn <= 0 {
		t.Fatalf("cum return = %v, want positive for a held rising position", result.Summary.CumulativeReturn)
	}

	// The one fill executes at its day's open, and the final return is
	// exactly the held position's gain over that entry net of slippage.
	buy := result.Trades[0]
	var buyOpen float64
	for _, b := range repo.bars["AAPL"] {
		if b.Date.Equal(buy.Date) {
			buyOpen = b.Open
			break
		}
	}
	if buyOpen == 0 {
		t.Fatalf("no bar on buy date %s", buy.Date.Format("2006-01-02"))
	}
	if buy.Price != buyOpen {
		t.Fatalf("fill price = %v, want buy-day open %v", buy.Price, buyOpen)
	}
	lastClose := repo.bars["AAPL"][len(repo.bars["AAPL"])-1].Close
	entryCost := float64(buy.Shares)*buy.Price + buy.SlippageCost + buy.Commission
	wantEquity := cfg.InitialCapital - entryCost + float64(buy.Shares)*lastClose
	wantReturn := wantEquity/cfg.InitialCapital - 1
	if math.Abs(result.Summary.CumulativeReturn-wantReturn) > 1e-9 {
		t.Fatalf("cum return = %v, want %v implied by the held position", result.Summary.CumulativeReturn, wantReturn)
	}
	if !result.Summary.Beta.Defined {
		t.Fatal("benchmark supplied, beta should be defined")
	}
	if result.Benchmark == nil {
		t.Fatal("benchmark summary missing")
	}
}

func TestNoLookAhead(t *testing.T) {
	// Two runs over the same window; the second sees extra fabricated bars
	// after the window. Trades inside the window must be identical.
	short := risingBars("AAPL", 60)
	extended := risingBars("AAPL", 90)
	for i := 60; i < 90; i++ {
		extended[i].Close = 10 // a crash the first run cannot see
		extended[i].Open = 10
	}

	end := short[len(short)-1].Date

	run := func(bars []domain.Bar) []domain.Trade {
		store := &fakeStore{}
		r := NewRunner(&fakeRepo{bars: map[string][]domain.Bar{"AAPL": bars}}, nil, store, quietLogger(), 1)
		cfg := runConfig("AAPL")
		cfg.BenchmarkTicker = ""
		cfg.RunID = "run_lookahead"
		_, status := runToCompletion(t, r, cfg)
		if status.State != StateComplete {
			t.Fatalf("state = %s (%s)", status.State, status.Error)
		}
		var inWindow []domain.Trade
		for _, tr := range store.saved[0].Trades {
			if !tr.Date.After(end) {
				inWindow = append(inWindow, tr)
			}
		}
		return inWindow
	}

	a := run(short)
	b := run(extended)
	if len(a) != len(b) {
		t.Fatalf("trade counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("trade %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestCancelLeavesNothingPersisted(t *testing.T) {
	repo := &fakeRepo{
		bars:  map[string][]domain.Bar{"AAPL": risingBars("AAPL", 60)},
		delay: 200 * time.Millisecond,
	}
	store := &fakeStore{}
	r := NewRunner(repo, nil, store, quietLogger(), 1)

	cfg := runConfig("AAPL")
	cfg.BenchmarkTicker = ""
	task, err := r.Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	task.Cancel()

	select {
	case <-task.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("canceled run did not stop")
	}
	if s := task.Status(); s.State != StateError {
		t.Fatalf("state = %s, want error after cancel", s.State)
	}
	if store.count() != 0 {
		t.Fatalf("saved %d results after cancel, want 0", store.count())
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	r := NewRunner(&fakeRepo{}, nil, &fakeStore{}, quietLogger(), 1)

	cfg := runConfig("AAPL")
	cfg.InitialCapital = -5
	if _, err := r.Start(context.Background(), cfg); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}

	cfg = runConfig() // no tickers, no sector
	if _, err := r.Start(context.Background(), cfg); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig for empty universe", err)
	}
}

func TestStartWhileRunning(t *testing.T) {
	repo := &fakeRepo{
		bars:  map[string][]domain.Bar{"AAPL": risingBars("AAPL", 60)},
		delay: 300 * time.Millisecond,
	}
	r := NewRunner(repo, nil, &fakeStore{}, quietLogger(), 1)

	cfg := runConfig("AAPL")
	cfg.BenchmarkTicker = ""
	task, err := r.Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := r.Start(context.Background(), cfg); !errors.Is(err, ErrRunActive) {
		t.Fatalf("second Start err = %v, want ErrRunActive", err)
	}
	task.Cancel()
	<-task.Done()
}

func TestDataUnavailableSurfacesAsError(t *testing.T) {
	r := NewRunner(&fakeRepo{bars: map[string][]domain.Bar{}}, nil, &fakeStore{}, quietLogger(), 1)
	cfg := runConfig("AAPL")
	cfg.BenchmarkTicker = ""
	_, status := runToCompletion(t, r, cfg)
	if status.State != StateError || status.Error == "" {
		t.Fatalf("status = %+v, want error state with message", status)
	}
}

func TestStatusIdleBeforeFirstRun(t *testing.T) {
	r := NewRunner(&fakeRepo{}, nil, &fakeStore{}, quietLogger(), 1)
	if s := r.Status(); s.State != StateIdle {
		t.Fatalf("state = %s, want idle", s.State)
	}
}
