// Package backtest drives one walk-forward simulation end to end: price
// prefetch, scoring, daily decision/execution, metrics, and persistence.
//
// Decisions for day t come from scores computed on data through day t-1
// and fill at day t's open. The day loop checks for cancellation between
// days, and nothing is persisted unless the run finishes cleanly.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"vela/internal/domain"
	"vela/internal/ledger"
	"vela/internal/metrics"
	"vela/internal/sentiment"
	"vela/internal/signal"
	"vela/internal/strategy"
	"vela/internal/universe"
)

// ErrRunActive is returned by Start while a previous run is still going.
var ErrRunActive = errors.New("a backtest is already running")

// PriceRepo is the slice of the price repository the runner needs.
type PriceRepo interface {
	FetchAll(ctx context.Context, tickers []string, start, end time.Time, workers int) (map[string][]domain.Bar, error)
}

// Runner owns the orchestration of simulations, one at a time.
type Runner struct {
	prices    PriceRepo
	sentiment sentiment.Source // nil disables the overlay regardless of mode
	store     Store
	universe  *universe.Universe
	log       *slog.Logger
	workers   int

	mu      sync.Mutex
	current *Task
}

// NewRunner wires a Runner. workers bounds the prefetch parallelism.
func NewRunner(prices PriceRepo, sentimentSrc sentiment.Source, store Store, log *slog.Logger, workers int) *Runner {
	if workers <= 0 {
		workers = 8
	}
	return &Runner{
		prices:    prices,
		sentiment: sentimentSrc,
		store:     store,
		universe:  universe.New(),
		log:       log,
		workers:   workers,
	}
}

// Status reports the latest job's status, or idle before the first Start.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Status{State: StateIdle}
	}
	return r.current.Status()
}

// Start validates the config, resolves the universe, and launches the
// simulation in a goroutine. Invalid configs are rejected here, before any
// data is touched; only one run may be active at a time.
func (r *Runner) Start(ctx context.Context, cfg domain.RunConfig) (*Task, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tickers, err := r.universe.Resolve(cfg.Tickers, cfg.Sector)
	if err != nil {
		return nil, err
	}
	cfg.Tickers = tickers
	if cfg.RunID == "" {
		cfg.RunID = NewRunID(time.Now())
	}

	r.mu.Lock()
	if r.current != nil {
		select {
		case <-r.current.Done():
		default:
			r.mu.Unlock()
			return nil, ErrRunActive
		}
	}
	// The job outlives the caller (an HTTP request, usually), so only
	// Task.Cancel or process shutdown stops it, not the request ending.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	task := newTask(cancel)
	r.current = task
	r.mu.Unlock()

	go func() {
		defer cancel()
		if err := r.run(runCtx, cfg, task); err != nil {
			r.log.Error("backtest failed", "run_id", cfg.RunID, "error", err)
			task.setError(err)
			return
		}
		r.log.Info("backtest complete", "run_id", cfg.RunID)
		task.setComplete(cfg.RunID)
	}()
	return task, nil
}

func (r *Runner) run(ctx context.Context, cfg domain.RunConfig, task *Task) error {
	started := time.Now()
	r.log.Info("backtest starting",
		"run_id", cfg.RunID,
		"tickers", len(cfg.Tickers),
		"variant", cfg.Variant,
		"start", cfg.Start.Format("2006-01-02"),
		"end", cfg.End.Format("2006-01-02"))

	// Prefetch everything up front, benchmark included. The benchmark never
	// joins the trading universe.
	fetchList := make([]string, len(cfg.Tickers))
	copy(fetchList, cfg.Tickers)
	benchmark := cfg.BenchmarkTicker
	if benchmark != "" && !contains(fetchList, benchmark) {
		fetchList = append(fetchList, benchmark)
	}
	series, err := r.prices.FetchAll(ctx, fetchList, cfg.Start, cfg.End, r.workers)
	if err != nil {
		return err
	}

	gen := signal.NewGenerator(cfg.Variant, cfg.SentimentMode, r.sentiment)
	scores := make(map[string]map[int64]domain.CompositeScore, len(cfg.Tickers))
	opens := make(map[string]map[int64]float64, len(cfg.Tickers))
	closes := make(map[string]map[int64]float64, len(cfg.Tickers))
	for _, ticker := range cfg.Tickers {
		bars := series[ticker]
		byDay := make(map[int64]domain.CompositeScore, len(bars))
		for _, s := range gen.Scores(bars) {
			byDay[s.Date.Unix()] = s
		}
		scores[ticker] = byDay

		o := make(map[int64]float64, len(bars))
		c := make(map[int64]float64, len(bars))
		for _, b := range bars {
			o[b.Date.Unix()] = b.Open
			c[b.Date.Unix()] = b.Close
		}
		opens[ticker] = o
		closes[ticker] = c
	}

	days := tradingDays(series, cfg.Tickers)
	if len(days) < 2 {
		return fmt.Errorf("%w: fewer than two trading days in range", domain.ErrDataUnavailable)
	}

	eval := strategy.New(cfg)
	book := ledger.New(cfg)

	// Day 0 seeds the curve; decisions start on day 1 so every decision has
	// a prior day's score behind it.
	for i, day := range days {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run canceled on day %d/%d", i+1, len(days))
		}
		task.setProgress(fmt.Sprintf("day %d/%d", i+1, len(days)))

		dayOpens := make(map[string]float64)
		dayCloses := make(map[string]float64)
		prevScores := make(map[string]domain.CompositeScore)
		for _, ticker := range cfg.Tickers {
			key := day.Unix()
			if v, ok := opens[ticker][key]; ok {
				dayOpens[ticker] = v
			}
			if v, ok := closes[ticker][key]; ok {
				dayCloses[ticker] = v
			}
			if i > 0 {
				if s, ok := scores[ticker][days[i-1].Unix()]; ok {
					prevScores[ticker] = s
				}
			}
		}

		var decisions []domain.Decision
		if i > 0 {
			decisions = eval.Decide(day, prevScores, book.Positions())
		}
		if err := book.ApplyDay(day, decisions, dayOpens, dayCloses); err != nil {
			return err
		}
	}

	result := r.buildResult(cfg, book, series, days, benchmark)
	if err := ctx.Err(); err != nil {
		return errors.New("run canceled before persisting")
	}
	if err := r.store.Save(result); err != nil {
		return fmt.Errorf("persisting run %s: %w", cfg.RunID, err)
	}

	r.log.Info("backtest simulated",
		"run_id", cfg.RunID,
		"days", len(days),
		"trades", len(result.Trades),
		"took", time.Since(started).Round(time.Millisecond))
	return nil
}

func (r *Runner) buildResult(cfg domain.RunConfig, book *ledger.Ledger, series map[string][]domain.Bar, days []time.Time, benchmark string) *RunResult {
	returns := metrics.Returns(book.Curve())
	summary := metrics.Compute(returns, book.Trades(), cfg.RiskFreeRate)

	var benchSummary *metrics.Summary
	if bars := series[benchmark]; len(bars) > 1 {
		benchReturns := closeReturns(bars)
		bs := metrics.Compute(benchReturns, nil, cfg.RiskFreeRate)
		benchSummary = &bs
		// The curve covers the union of all tickers' trading days; the
		// benchmark only its own. Pair by date, not by index.
		stratDated, benchDated := datedCurveReturns(book.Curve()), datedCloseReturns(bars)
		alignedS, alignedB := metrics.AlignReturns(stratDated, benchDated)
		metrics.AddBenchmark(&summary, alignedS, alignedB)
	}

	returnsByTicker := make(map[string][]float64, len(cfg.Tickers))
	tradesByTicker := make(map[string][]domain.Trade)
	for _, ticker := range cfg.Tickers {
		if bars := series[ticker]; len(bars) > 1 {
			returnsByTicker[ticker] = closeReturns(bars)
		}
	}
	for _, tr := range book.Trades() {
		tradesByTicker[tr.Ticker] = append(tradesByTicker[tr.Ticker], tr)
	}

	return &RunResult{
		RunID:       cfg.RunID,
		Config:      cfg,
		Summary:     summary,
		Benchmark:   benchSummary,
		PerTicker:   metrics.PerTicker(returnsByTicker, tradesByTicker, cfg.RiskFreeRate),
		Curve:       book.Curve(),
		Trades:      book.Trades(),
		GeneratedAt: time.Now().UTC(),
	}
}

// tradingDays is the sorted union of bar dates across the trading universe.
func tradingDays(series map[string][]domain.Bar, tickers []string) []time.Time {
	seen := make(map[int64]time.Time)
	for _, ticker := range tickers {
		for _, b := range series[ticker] {
			seen[b.Date.Unix()] = b.Date
		}
	}
	days := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

func datedCurveReturns(curve []domain.EquityPoint) []metrics.DatedReturn {
	if len(curve) < 2 {
		return nil
	}
	out := make([]metrics.DatedReturn, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		var ret float64
		if prev := curve[i-1].TotalValue; prev != 0 {
			ret = curve[i].TotalValue/prev - 1
		}
		out = append(out, metrics.DatedReturn{Date: curve[i].Date, Return: ret})
	}
	return out
}

func datedCloseReturns(bars []domain.Bar) []metrics.DatedReturn {
	out := make([]metrics.DatedReturn, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		var ret float64
		if prev := bars[i-1].Close; prev != 0 {
			ret = bars[i].Close/prev - 1
		}
		out = append(out, metrics.DatedReturn{Date: bars[i].Date, Return: ret})
	}
	return out
}

func closeReturns(bars []domain.Bar) []float64 {
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, bars[i].Close/prev-1)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
