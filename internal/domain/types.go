// Package domain defines the core data types shared across the vela
// backtesting engine: price bars, signals, decisions, portfolio state,
// and run configuration.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Bar is one day of OHLCV data for a single ticker. Immutable once fetched.
type Bar struct {
	Ticker string    `json:"ticker" parquet:"ticker"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open" parquet:"open"`
	High   float64   `json:"high" parquet:"high"`
	Low    float64   `json:"low" parquet:"low"`
	Close  float64   `json:"close" parquet:"close"`
	Volume int64     `json:"volume" parquet:"volume"`
}

// SentimentPoint is an externally supplied per-ticker, per-date sentiment
// score in [-1, 1]. Absence on a date means "no signal", never an error.
type SentimentPoint struct {
	Ticker string
	Date   time.Time
	Score  float64
}

// ScoreComponents breaks a composite score into its weighted sub-factors.
type ScoreComponents struct {
	Momentum      float64 `json:"momentum"`
	MACrossover   float64 `json:"ma_crossover"`
	VolumeAnomaly float64 `json:"volume_anomaly"`
	Sentiment     float64 `json:"sentiment"`
}

// CompositeScore is the per-day signal value for one ticker, in [-1, 1].
// Derived each run, never persisted.
type CompositeScore struct {
	Ticker     string
	Date       time.Time
	Value      float64
	Components ScoreComponents
}

// Action is a discrete trading decision.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Decision is the per-ticker, per-day output of the strategy evaluator.
// Consumed immediately by the ledger.
type Decision struct {
	Ticker       string
	Date         time.Time
	Action       Action
	TargetWeight float64 // conviction in [0, 1]; fraction of the per-slot allocation
}

// Side identifies the direction of an executed trade.
type Side string

const (
	SideBuy   Side = "BUY"
	SideSell  Side = "SELL"
	SideShort Side = "SHORT"
	SideCover Side = "COVER"
)

// Position is the ledger's holding in one ticker. Shares are signed;
// negative only when shorting is enabled.
type Position struct {
	Ticker  string  `json:"ticker"`
	Shares  int64   `json:"shares"`
	AvgCost float64 `json:"avg_cost"`
}

// Trade is one executed fill. Append-only, immutable after creation.
type Trade struct {
	Date         time.Time `json:"date"`
	Ticker       string    `json:"ticker"`
	Side         Side      `json:"side"`
	Shares       int64     `json:"shares"`
	Price        float64   `json:"price"`
	SlippageCost float64   `json:"slippage_cost"`
	Commission   float64   `json:"commission,omitempty"`
	RealizedPnL  float64   `json:"realized_pnl"` // non-zero only on closing fills
}

// EquityPoint is the marked portfolio value at the close of one simulated
// trading day.
type EquityPoint struct {
	Date       time.Time `json:"date"`
	TotalValue float64   `json:"total_value"`
}

// ---------------------------------------------------------------------------
// Closed configuration variants
// ---------------------------------------------------------------------------

// StrategyVariant selects the decision rule and factor weighting.
type StrategyVariant string

const (
	VariantThreshold StrategyVariant = "threshold"
	VariantBlend     StrategyVariant = "blend"
	VariantAdaptive  StrategyVariant = "adaptive"
)

// ParseStrategyVariant maps a string to a StrategyVariant.
func ParseStrategyVariant(s string) (StrategyVariant, error) {
	switch StrategyVariant(strings.ToLower(strings.TrimSpace(s))) {
	case VariantThreshold:
		return VariantThreshold, nil
	case VariantBlend:
		return VariantBlend, nil
	case VariantAdaptive:
		return VariantAdaptive, nil
	}
	return "", fmt.Errorf("%w: unknown strategy variant %q", ErrInvalidConfig, s)
}

// RiskLevel scales signal thresholds and position sizing.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Multiplier returns the threshold/sizing multiplier for the risk level.
func (r RiskLevel) Multiplier() float64 {
	switch r {
	case RiskLow:
		return 0.5
	case RiskHigh:
		return 1.5
	default:
		return 1.0
	}
}

// ParseRiskLevel maps a string to a RiskLevel (case-insensitive).
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium", "":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	}
	return "", fmt.Errorf("%w: unknown risk level %q", ErrInvalidConfig, s)
}

// SentimentMode controls whether the sentiment factor participates in the
// composite score.
type SentimentMode string

const (
	SentimentNone    SentimentMode = "none"
	SentimentDataset SentimentMode = "dataset"
)

// ParseSentimentMode maps a string to a SentimentMode.
func ParseSentimentMode(s string) (SentimentMode, error) {
	switch SentimentMode(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentNone, "":
		return SentimentNone, nil
	case SentimentDataset:
		return SentimentDataset, nil
	}
	return "", fmt.Errorf("%w: unknown sentiment mode %q", ErrInvalidConfig, s)
}

// ---------------------------------------------------------------------------
// Run configuration
// ---------------------------------------------------------------------------

// RunConfig is the immutable input to one backtest simulation.
type RunConfig struct {
	RunID            string          `json:"run_id" yaml:"run_id"`
	Tickers          []string        `json:"tickers" yaml:"tickers"`
	Sector           string          `json:"sector,omitempty" yaml:"sector"`
	Start            time.Time       `json:"start" yaml:"start"`
	End              time.Time       `json:"end" yaml:"end"`
	Variant          StrategyVariant `json:"strategy_variant" yaml:"strategy_variant"`
	Risk             RiskLevel       `json:"risk_level" yaml:"risk_level"`
	SentimentMode    SentimentMode   `json:"sentiment_mode" yaml:"sentiment_mode"`
	InitialCapital   float64         `json:"initial_capital" yaml:"initial_capital"`
	MaxOpenPositions int             `json:"max_open_positions" yaml:"max_open_positions"`
	BuyThreshold     float64         `json:"buy_threshold" yaml:"buy_threshold"`
	SellThreshold    float64         `json:"sell_threshold" yaml:"sell_threshold"`
	AllowShorts      bool            `json:"allow_shorts" yaml:"allow_shorts"`
	BenchmarkTicker  string          `json:"benchmark_ticker,omitempty" yaml:"benchmark_ticker"`
	SlippageBPS      float64         `json:"slippage_bps" yaml:"slippage_bps"`
	Commission       float64         `json:"commission,omitempty" yaml:"commission"`
	RiskFreeRate     float64         `json:"risk_free_rate,omitempty" yaml:"risk_free_rate"` // annualized; 0 unless supplied
}

// Validate rejects configurations that must never reach the simulation loop.
// All failures wrap ErrInvalidConfig.
func (c *RunConfig) Validate() error {
	if len(c.Tickers) == 0 && c.Sector == "" {
		return fmt.Errorf("%w: empty ticker universe and no sector", ErrInvalidConfig)
	}
	if c.Start.IsZero() || c.End.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidConfig)
	}
	if !c.Start.Before(c.End) {
		return fmt.Errorf("%w: start %s must precede end %s",
			ErrInvalidConfig, c.Start.Format("2006-01-02"), c.End.Format("2006-01-02"))
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("%w: initial capital must be positive, got %.2f", ErrInvalidConfig, c.InitialCapital)
	}
	if c.MaxOpenPositions <= 0 {
		return fmt.Errorf("%w: max open positions must be positive, got %d", ErrInvalidConfig, c.MaxOpenPositions)
	}
	if c.BuyThreshold <= 0 || c.BuyThreshold > 1 {
		return fmt.Errorf("%w: buy threshold must be in (0, 1], got %g", ErrInvalidConfig, c.BuyThreshold)
	}
	if c.SellThreshold <= 0 || c.SellThreshold > 1 {
		return fmt.Errorf("%w: sell threshold must be in (0, 1], got %g", ErrInvalidConfig, c.SellThreshold)
	}
	if c.SlippageBPS < 0 {
		return fmt.Errorf("%w: slippage must be non-negative, got %g", ErrInvalidConfig, c.SlippageBPS)
	}
	if _, err := ParseStrategyVariant(string(defaultStr(string(c.Variant), string(VariantThreshold)))); err != nil {
		return err
	}
	if _, err := ParseRiskLevel(string(c.Risk)); err != nil {
		return err
	}
	if _, err := ParseSentimentMode(string(c.SentimentMode)); err != nil {
		return err
	}
	return nil
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Day truncates t to midnight UTC. All simulation dates are compared at
// day granularity.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
