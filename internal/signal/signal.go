// Package signal turns a bar series into daily composite scores in [-1, 1].
//
// The composite is a weighted sum of four factors: 14-day RSI momentum,
// 5/20-day moving-average crossover, volume anomaly, and an optional
// sentiment overlay. Scoring is deterministic for identical inputs; there
// is no randomness and no wall-clock dependence.
package signal

import (
	"math"

	"vela/internal/domain"
	"vela/internal/sentiment"
)

const (
	rsiPeriod    = 14
	smaFast      = 5
	smaSlow      = 20
	volumePeriod = 20
)

// Weights holds the per-factor blend weights for one strategy variant.
type Weights struct {
	Momentum    float64
	MACrossover float64
	Volume      float64
	Sentiment   float64
}

// variantWeights follows the original blend ratios: the threshold and
// adaptive variants lean on sentiment, the blend variant balances it
// against the price factors.
func variantWeights(variant domain.StrategyVariant) Weights {
	switch variant {
	case domain.VariantBlend:
		return Weights{Momentum: 0.30, MACrossover: 0.20, Volume: 0.10, Sentiment: 0.40}
	default: // threshold, adaptive
		return Weights{Momentum: 0.15, MACrossover: 0.10, Volume: 0.05, Sentiment: 0.70}
	}
}

// Generator scores bar series for one run configuration.
type Generator struct {
	weights   Weights
	sentiment sentiment.Source // nil when sentiment_mode is none
}

// NewGenerator builds a Generator for the variant. src may be nil, or is
// ignored when mode disables the overlay; either way the remaining factor
// weights are renormalised so the composite still spans [-1, 1].
func NewGenerator(variant domain.StrategyVariant, mode domain.SentimentMode, src sentiment.Source) *Generator {
	g := &Generator{weights: variantWeights(variant)}
	if mode != domain.SentimentNone && src != nil {
		g.sentiment = src
	}
	if g.sentiment == nil {
		w := g.weights
		sum := w.Momentum + w.MACrossover + w.Volume
		if sum > 0 {
			g.weights = Weights{
				Momentum:    w.Momentum / sum,
				MACrossover: w.MACrossover / sum,
				Volume:      w.Volume / sum,
			}
		}
	}
	return g
}

// Scores computes one CompositeScore per bar, in bar order. Factors with
// insufficient lookback contribute 0 rather than aborting the series.
func (g *Generator) Scores(bars []domain.Bar) []domain.CompositeScore {
	if len(bars) == 0 {
		return nil
	}

	momentum := rsiMomentum(bars)
	crossover := maCrossover(bars)
	volume := volumeAnomaly(bars)

	out := make([]domain.CompositeScore, len(bars))
	for i, b := range bars {
		comp := domain.ScoreComponents{
			Momentum:      sanitize(momentum[i]),
			MACrossover:   sanitize(crossover[i]),
			VolumeAnomaly: sanitize(volume[i]),
		}
		if g.sentiment != nil {
			if s, ok := g.sentiment.Score(b.Ticker, b.Date); ok {
				comp.Sentiment = clamp(sanitize(s))
			}
		}

		w := g.weights
		value := w.Momentum*comp.Momentum +
			w.MACrossover*comp.MACrossover +
			w.Volume*comp.VolumeAnomaly +
			w.Sentiment*comp.Sentiment

		out[i] = domain.CompositeScore{
			Ticker:     b.Ticker,
			Date:       b.Date,
			Value:      clamp(sanitize(value)),
			Components: comp,
		}
	}
	return out
}

// rsiMomentum maps 14-day Wilder RSI to [-1, 1] via (rsi-50)/50. The first
// rsiPeriod entries have no full lookback and stay 0.
func rsiMomentum(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	if len(bars) <= rsiPeriod {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= rsiPeriod; i++ {
		delta := bars[i].Close - bars[i-1].Close
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= rsiPeriod
	avgLoss /= rsiPeriod
	out[rsiPeriod] = rsiValue(avgGain, avgLoss)

	for i := rsiPeriod + 1; i < len(bars); i++ {
		delta := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(rsiPeriod-1) + gain) / rsiPeriod
		avgLoss = (avgLoss*(rsiPeriod-1) + loss) / rsiPeriod
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgGain+avgLoss == 0 {
		return 0 // flat series, neutral
	}
	rsi := 100 * avgGain / (avgGain + avgLoss)
	return (rsi - 50) / 50
}

// maCrossover computes (SMA5-SMA20)/SMA20 clamped to [-1, 1].
func maCrossover(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := smaSlow - 1; i < len(bars); i++ {
		fast := smaClose(bars, i, smaFast)
		slow := smaClose(bars, i, smaSlow)
		if slow == 0 {
			continue
		}
		out[i] = clamp((fast - slow) / slow)
	}
	return out
}

func smaClose(bars []domain.Bar, end, n int) float64 {
	var sum float64
	for i := end - n + 1; i <= end; i++ {
		sum += bars[i].Close
	}
	return sum / float64(n)
}

// volumeAnomaly computes (vol / SMA20(vol) - 1) clamped to [-1, 1], with the
// sign flipped on down days so unusual volume reinforces the price move
// direction rather than always reading bullish.
func volumeAnomaly(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := volumePeriod - 1; i < len(bars); i++ {
		var sum float64
		for j := i - volumePeriod + 1; j <= i; j++ {
			sum += float64(bars[j].Volume)
		}
		avg := sum / volumePeriod
		if avg == 0 {
			continue
		}
		anomaly := clamp(float64(bars[i].Volume)/avg - 1)
		if i > 0 && bars[i].Close < bars[i-1].Close {
			anomaly = -anomaly
		}
		out[i] = anomaly
	}
	return out
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
