// Package strategy converts composite scores into BUY/SELL/HOLD decisions.
//
// Decisions for day t are made from the scores of day t-1; execution then
// happens at day t's open. The caller owns that ordering — the evaluator is
// handed the prior day's score per ticker and never sees day t's bars.
package strategy

import (
	"sort"
	"time"

	"vela/internal/domain"
)

// minConvictionWeight keeps a triggered order from sizing to nothing when
// the score barely clears the threshold.
const minConvictionWeight = 0.1

// adaptiveThresholds replace the configured thresholds under the adaptive
// variant: stricter at low risk, looser at high risk.
var adaptiveThresholds = map[domain.RiskLevel]float64{
	domain.RiskLow:    0.25,
	domain.RiskMedium: 0.10,
	domain.RiskHigh:   0.05,
}

// Evaluator applies one closed decision rule to daily scores.
type Evaluator struct {
	buyThreshold  float64
	sellThreshold float64 // positive magnitude, applied to -score
	allowShorts   bool
}

// New builds the Evaluator for the run. Thresholds are resolved up front:
// the adaptive variant swaps in its per-risk-level table, then the risk
// multiplier (Low x0.5, Medium x1.0, High x1.5) scales both sides.
func New(cfg domain.RunConfig) *Evaluator {
	buy, sell := cfg.BuyThreshold, cfg.SellThreshold
	if cfg.Variant == domain.VariantAdaptive {
		t := adaptiveThresholds[cfg.Risk]
		buy, sell = t, t
	}
	mult := cfg.Risk.Multiplier()
	return &Evaluator{
		buyThreshold:  buy * mult,
		sellThreshold: sell * mult,
		allowShorts:   cfg.AllowShorts,
	}
}

// Decide produces one Decision per scored ticker for the given day, in
// lexicographic ticker order. scores carry the previous trading day's
// composite per ticker; positions reflect holdings going into the day.
func (e *Evaluator) Decide(date time.Time, scores map[string]domain.CompositeScore, positions map[string]domain.Position) []domain.Decision {
	tickers := make([]string, 0, len(scores))
	for t := range scores {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	out := make([]domain.Decision, 0, len(tickers))
	for _, ticker := range tickers {
		score := scores[ticker].Value
		pos, held := positions[ticker]
		held = held && pos.Shares != 0

		d := domain.Decision{Ticker: ticker, Date: date, Action: domain.ActionHold}
		switch {
		case score >= e.buyThreshold && (!held || pos.Shares < 0):
			// Opens a long, or covers an existing short.
			d.Action = domain.ActionBuy
			d.TargetWeight = convictionWeight(score, e.buyThreshold)
		case score <= -e.sellThreshold:
			if held && pos.Shares > 0 {
				d.Action = domain.ActionSell
				d.TargetWeight = convictionWeight(-score, e.sellThreshold)
			} else if !held && e.allowShorts {
				d.Action = domain.ActionSell
				d.TargetWeight = convictionWeight(-score, e.sellThreshold)
			}
			// Naked SELL with shorts disabled stays HOLD.
		}
		out = append(out, d)
	}
	return out
}

// convictionWeight maps how far the score clears the threshold to a target
// weight in [minConvictionWeight, 1], linear in the remaining headroom.
func convictionWeight(magnitude, threshold float64) float64 {
	headroom := 1 - threshold
	if headroom <= 0 {
		return 1
	}
	t := (magnitude - threshold) / headroom
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return minConvictionWeight + t*(1-minConvictionWeight)
}
