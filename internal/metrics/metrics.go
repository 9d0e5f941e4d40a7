// Package metrics computes performance statistics over a finished equity
// curve, trade log, and optional benchmark series. Everything here is a
// pure function of its inputs.
//
// Ratios with a zero denominator (zero volatility, zero drawdown, no
// losing trades) report an undefined Stat rather than raising or
// fabricating infinity.
package metrics

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"vela/internal/domain"
)

// TradingDaysPerYear is the annualisation factor for daily series.
const TradingDaysPerYear = 252

// Stat is a ratio that may be undefined. It marshals to JSON null when
// undefined so consumers never see NaN or Inf.
type Stat struct {
	Value   float64
	Defined bool
}

// Defined wraps a concrete value.
func Defined(v float64) Stat { return Stat{Value: v, Defined: true} }

// Undefined is the sentinel for a ratio with no meaningful value.
func Undefined() Stat { return Stat{} }

func (s Stat) MarshalJSON() ([]byte, error) {
	if !s.Defined {
		return []byte("null"), nil
	}
	return json.Marshal(s.Value)
}

func (s *Stat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Stat{}
		return nil
	}
	s.Defined = true
	return json.Unmarshal(data, &s.Value)
}

// Summary is the full metric set for one return series.
type Summary struct {
	Days             int     `json:"n_days"`
	CumulativeReturn float64 `json:"cum_return"`
	AnnualizedReturn float64 `json:"ann_return"`
	AnnualizedVol    float64 `json:"ann_volatility"`
	Sharpe           Stat    `json:"sharpe_ratio"`
	Sortino          Stat    `json:"sortino_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	Calmar           Stat    `json:"calmar_ratio"`
	WinRate          float64 `json:"win_rate"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	ProfitFactor     Stat    `json:"profit_factor"`
	BestDay          float64 `json:"best_day"`
	WorstDay         float64 `json:"worst_day"`
	VaR95            float64 `json:"var_95"`

	// Benchmark-relative, undefined unless a benchmark was supplied.
	Alpha         Stat `json:"alpha_ann"`
	Beta          Stat `json:"beta"`
	InfoRatio     Stat `json:"info_ratio"`
	TrackingError Stat `json:"tracking_error"`
	UpCapture     Stat `json:"up_capture"`
	DownCapture   Stat `json:"down_capture"`
}

// Returns converts an equity curve to daily simple returns.
func Returns(curve []domain.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].TotalValue
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, curve[i].TotalValue/prev-1)
	}
	return out
}

// Compute builds a Summary from daily returns, the trade log, and the
// annual risk-free rate. Fewer than two observations yield a zero Summary
// with every ratio undefined.
func Compute(returns []float64, trades []domain.Trade, riskFree float64) Summary {
	s := Summary{Days: len(returns)}
	if len(returns) < 2 {
		s.ProfitFactor = profitFactor(trades)
		return s
	}

	// Cumulative and annualised return, compounded over actual days.
	cum := 1.0
	for _, r := range returns {
		cum *= 1 + r
	}
	s.CumulativeReturn = cum - 1
	years := float64(len(returns)) / TradingDaysPerYear
	s.AnnualizedReturn = math.Pow(1+s.CumulativeReturn, 1/years) - 1

	// Volatility from daily log-returns.
	logs := make([]float64, 0, len(returns))
	for _, r := range returns {
		if 1+r > 0 {
			logs = append(logs, math.Log(1+r))
		}
	}
	s.AnnualizedVol = stddev(logs) * math.Sqrt(TradingDaysPerYear)

	// Sharpe: mean excess daily return over daily vol.
	rfDaily := riskFree / TradingDaysPerYear
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - rfDaily
	}
	if sd := stddev(excess); sd > 0 {
		s.Sharpe = Defined(mean(excess) / sd * math.Sqrt(TradingDaysPerYear))
	}

	// Sortino: downside deviation only.
	var downside []float64
	for _, r := range returns {
		if r < rfDaily {
			downside = append(downside, r)
		}
	}
	if len(downside) > 1 {
		if dd := stddev(downside) * math.Sqrt(TradingDaysPerYear); dd > 0 {
			s.Sortino = Defined((s.AnnualizedReturn - riskFree) / dd)
		}
	}

	s.MaxDrawdown = maxDrawdown(returns)
	if s.MaxDrawdown != 0 {
		s.Calmar = Defined(s.AnnualizedReturn / math.Abs(s.MaxDrawdown))
	}

	wins, losses := 0, 0
	var winSum, lossSum float64
	s.BestDay, s.WorstDay = returns[0], returns[0]
	for _, r := range returns {
		if r > 0 {
			wins++
			winSum += r
		} else if r < 0 {
			losses++
			lossSum += r
		}
		if r > s.BestDay {
			s.BestDay = r
		}
		if r < s.WorstDay {
			s.WorstDay = r
		}
	}
	s.WinRate = float64(wins) / float64(len(returns))
	if wins > 0 {
		s.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		s.AvgLoss = lossSum / float64(losses)
	}

	s.ProfitFactor = profitFactor(trades)
	s.VaR95 = percentile(returns, 0.05)
	return s
}

// DatedReturn is one daily return tagged with the day it closed on.
type DatedReturn struct {
	Date   time.Time
	Return float64
}

// AlignReturns intersects two dated return series on the days they
// share, dropping days present in only one side. The paired slices come
// back in ascending date order, ready for AddBenchmark. Index-pairing
// series built over different calendars would shift every observation
// after the first mismatch.
func AlignReturns(a, b []DatedReturn) (as, bs []float64) {
	other := make(map[int64]float64, len(b))
	for _, r := range b {
		other[r.Date.Unix()] = r.Return
	}
	sorted := append([]DatedReturn(nil), a...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	for _, r := range sorted {
		if bv, ok := other[r.Date.Unix()]; ok {
			as = append(as, r.Return)
			bs = append(bs, bv)
		}
	}
	return as, bs
}

// AddBenchmark fills the benchmark-relative stats from date-aligned
// daily return series (see AlignReturns). Series shorter than ten
// shared observations are left undefined.
func AddBenchmark(s *Summary, strategy, benchmark []float64) {
	n := len(strategy)
	if len(benchmark) < n {
		n = len(benchmark)
	}
	if n < 10 {
		return
	}
	strategy, benchmark = strategy[:n], benchmark[:n]

	// Beta and alpha via OLS on the covariance.
	if varB := variance(benchmark); varB > 0 {
		beta := covariance(strategy, benchmark) / varB
		s.Beta = Defined(beta)
		s.Alpha = Defined((mean(strategy) - beta*mean(benchmark)) * TradingDaysPerYear)
	}

	active := make([]float64, n)
	for i := range active {
		active[i] = strategy[i] - benchmark[i]
	}
	if te := stddev(active) * math.Sqrt(TradingDaysPerYear); te > 0 {
		s.TrackingError = Defined(te)
		s.InfoRatio = Defined(mean(active) * TradingDaysPerYear / te)
	}

	var upS, upB, downS, downB []float64
	for i, b := range benchmark {
		if b > 0 {
			upS = append(upS, strategy[i])
			upB = append(upB, b)
		} else if b < 0 {
			downS = append(downS, strategy[i])
			downB = append(downB, b)
		}
	}
	if len(upB) > 5 {
		if m := mean(upB); m != 0 {
			s.UpCapture = Defined(mean(upS) / m)
		}
	}
	if len(downB) > 5 {
		if m := mean(downB); m != 0 {
			s.DownCapture = Defined(mean(downS) / m)
		}
	}
}

// TickerSummary is one per-ticker metric row.
type TickerSummary struct {
	Ticker string `json:"ticker"`
	Summary
}

// PerTicker computes a Summary per ticker from its own daily returns,
// sorted by Sharpe descending with undefined Sharpe rows last.
func PerTicker(returnsByTicker map[string][]float64, tradesByTicker map[string][]domain.Trade, riskFree float64) []TickerSummary {
	out := make([]TickerSummary, 0, len(returnsByTicker))
	for ticker, returns := range returnsByTicker {
		out = append(out, TickerSummary{
			Ticker:  ticker,
			Summary: Compute(returns, tradesByTicker[ticker], riskFree),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Sharpe, out[j].Sharpe
		switch {
		case a.Defined && !b.Defined:
			return true
		case !a.Defined && b.Defined:
			return false
		case a.Defined:
			if a.Value != b.Value {
				return a.Value > b.Value
			}
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out
}

// profitFactor is gross realised gains over gross realised losses from
// closing trades. Undefined with no losses.
func profitFactor(trades []domain.Trade) Stat {
	var gains, losses float64
	for _, t := range trades {
		switch {
		case t.RealizedPnL > 0:
			gains += t.RealizedPnL
		case t.RealizedPnL < 0:
			losses -= t.RealizedPnL
		}
	}
	if losses == 0 {
		return Undefined()
	}
	return Defined(gains / losses)
}

// maxDrawdown is the largest peak-to-trough decline of the compounded
// curve, as a negative fraction.
func maxDrawdown(returns []float64) float64 {
	level, peak, worst := 1.0, 1.0, 0.0
	for _, r := range returns {
		level *= 1 + r
		if level > peak {
			peak = level
		}
		if dd := (level - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst
}

// percentile computes the p-quantile with linear interpolation.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// variance is the sample variance (n-1 denominator).
func variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values)-1)
}

func stddev(values []float64) float64 {
	return math.Sqrt(variance(values))
}

func covariance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	ma, mb := mean(a), mean(b)
	var sum float64
	for i := range a {
		sum += (a[i] - ma) * (b[i] - mb)
	}
	return sum / float64(len(a)-1)
}
