package metrics

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"vela/internal/domain"
)

func approx(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestFlatCurveBoundaries(t *testing.T) {
	returns := make([]float64, 30) // no movement, no trades
	s := Compute(returns, nil, 0)

	if s.CumulativeReturn != 0 {
		t.Errorf("cum return = %v, want 0", s.CumulativeReturn)
	}
	if s.Sharpe.Defined {
		t.Errorf("Sharpe = %+v, want undefined with zero volatility", s.Sharpe)
	}
	if s.MaxDrawdown != 0 {
		t.Errorf("max drawdown = %v, want 0", s.MaxDrawdown)
	}
	if s.Calmar.Defined {
		t.Errorf("Calmar = %+v, want undefined with zero drawdown", s.Calmar)
	}
	if s.ProfitFactor.Defined {
		t.Errorf("profit factor = %+v, want undefined with no trades", s.ProfitFactor)
	}
	if s.AnnualizedVol != 0 {
		t.Errorf("ann vol = %v, want 0", s.AnnualizedVol)
	}
}

func TestComputeKnownSeries(t *testing.T) {
	// +1% then -1% alternating for 252 days.
	returns := make([]float64, 252)
	for i := range returns {
		if i%2 == 0 {
			returns[i] = 0.01
		} else {
			returns[i] = -0.01
		}
	}
	s := Compute(returns, nil, 0)

	wantCum := math.Pow(1.01*0.99, 126) - 1
	approx(t, "cum return", s.CumulativeReturn, wantCum, 1e-9)
	approx(t, "win rate", s.WinRate, 0.5, 1e-12)
	approx(t, "best day", s.BestDay, 0.01, 1e-12)
	approx(t, "worst day", s.WorstDay, -0.01, 1e-12)
	if !s.Sharpe.Defined {
		t.Fatal("Sharpe should be defined")
	}
	if s.MaxDrawdown >= 0 {
		t.Errorf("max drawdown = %v, want negative", s.MaxDrawdown)
	}
	// The curve drifts down from its day-one peak; the trough is the final
	// down day measured against that first peak.
	wantDD := math.Pow(1.01*0.99, 126)/1.01 - 1
	approx(t, "max drawdown", s.MaxDrawdown, wantDD, 1e-9)
}

func TestReturnsFromCurve(t *testing.T) {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	curve := []domain.EquityPoint{
		{Date: base, TotalValue: 100000},
		{Date: base.AddDate(0, 0, 1), TotalValue: 101000},
		{Date: base.AddDate(0, 0, 2), TotalValue: 99990},
	}
	r := Returns(curve)
	if len(r) != 2 {
		t.Fatalf("len = %d, want 2", len(r))
	}
	approx(t, "r[0]", r[0], 0.01, 1e-12)
	approx(t, "r[1]", r[1], 99990.0/101000-1, 1e-12)

	if got := Returns(curve[:1]); got != nil {
		t.Fatalf("single point should yield nil returns, got %v", got)
	}
}

func TestProfitFactorFromTrades(t *testing.T) {
	trades := []domain.Trade{
		{RealizedPnL: 300},
		{RealizedPnL: -100},
		{RealizedPnL: 0}, // opening fill, ignored
		{RealizedPnL: -50},
	}
	pf := profitFactor(trades)
	if !pf.Defined {
		t.Fatal("profit factor should be defined with losses present")
	}
	approx(t, "profit factor", pf.Value, 2.0, 1e-12)

	if pf := profitFactor([]domain.Trade{{RealizedPnL: 100}}); pf.Defined {
		t.Errorf("all-winner log should be undefined, got %+v", pf)
	}
}

func TestAddBenchmarkBeta(t *testing.T) {
	// Strategy is exactly 2x the benchmark: beta 2, alpha 0. More than
	// five up and five down days so both capture ratios are defined.
	bench := []float64{0.01, -0.005, 0.02, -0.01, 0.003, 0.007, -0.002, 0.012, -0.008, 0.004, 0.006, -0.004, -0.006, 0.009, -0.003}
	strat := make([]float64, len(bench))
	for i, b := range bench {
		strat[i] = 2 * b
	}

	s := Compute(strat, nil, 0)
	AddBenchmark(&s, strat, bench)

	if !s.Beta.Defined {
		t.Fatal("beta should be defined")
	}
	approx(t, "beta", s.Beta.Value, 2.0, 1e-9)
	approx(t, "alpha", s.Alpha.Value, 0.0, 1e-9)
	if !s.TrackingError.Defined || s.TrackingError.Value <= 0 {
		t.Errorf("tracking error = %+v, want positive", s.TrackingError)
	}
	if !s.UpCapture.Defined {
		t.Fatal("up capture should be defined")
	}
	approx(t, "up capture", s.UpCapture.Value, 2.0, 1e-9)
	approx(t, "down capture", s.DownCapture.Value, 2.0, 1e-9)
}

func TestAddBenchmarkTooShort(t *testing.T) {
	s := Compute([]float64{0.01, 0.02, 0.03}, nil, 0)
	AddBenchmark(&s, []float64{0.01, 0.02, 0.03}, []float64{0.01, 0.02, 0.03})
	if s.Beta.Defined || s.Alpha.Defined {
		t.Errorf("short overlap should leave benchmark stats undefined: %+v", s)
	}
}

func TestAlignReturnsPairsByDate(t *testing.T) {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	vals := []float64{0.01, -0.005, 0.02, -0.01, 0.003, 0.007, -0.002, 0.012, -0.008, 0.004, 0.006, -0.004}

	var strat, bench []DatedReturn
	for i, v := range vals {
		d := base.AddDate(0, 0, i)
		strat = append(strat, DatedReturn{Date: d, Return: v})
		bench = append(bench, DatedReturn{Date: d, Return: v})
	}
	// One extra strategy trading day mid-series the benchmark never saw.
	// Index-pairing would shift every later observation by one.
	extra := DatedReturn{Date: base.AddDate(0, 0, 5).Add(12 * time.Hour), Return: 0.05}
	strat = append(strat[:6:6], append([]DatedReturn{extra}, strat[6:]...)...)

	as, bs := AlignReturns(strat, bench)
	if len(as) != len(vals) || len(bs) != len(vals) {
		t.Fatalf("aligned lengths = %d/%d, want %d", len(as), len(bs), len(vals))
	}

	var s Summary
	AddBenchmark(&s, as, bs)
	if !s.Beta.Defined {
		t.Fatal("beta should be defined")
	}
	approx(t, "beta", s.Beta.Value, 1.0, 1e-12)
	approx(t, "alpha", s.Alpha.Value, 0.0, 1e-12)
	if s.TrackingError.Defined {
		t.Errorf("identical aligned series should leave tracking error undefined, got %+v", s.TrackingError)
	}
}

func TestPerTickerSortedBySharpe(t *testing.T) {
	steady := make([]float64, 40)
	choppy := make([]float64, 40)
	for i := range steady {
		steady[i] = 0.005 + 0.001*float64(i%2) // positive, low variance
		if i%2 == 0 {
			choppy[i] = 0.02
		} else {
			choppy[i] = -0.019
		}
	}
	flat := make([]float64, 40) // undefined Sharpe

	rows := PerTicker(map[string][]float64{
		"FLAT":   flat,
		"STEADY": steady,
		"CHOPPY": choppy,
	}, nil, 0)

	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].Ticker != "STEADY" {
		t.Errorf("rows[0] = %s, want STEADY (highest Sharpe)", rows[0].Ticker)
	}
	if rows[2].Ticker != "FLAT" {
		t.Errorf("rows[2] = %s, want FLAT (undefined Sharpe last)", rows[2].Ticker)
	}
}

func TestStatJSONRoundTrip(t *testing.T) {
	var payload struct {
		Sharpe Stat `json:"sharpe_ratio"`
		Calmar Stat `json:"calmar_ratio"`
	}
	payload.Sharpe = Defined(1.25)

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"sharpe_ratio":1.25,"calmar_ratio":null}`; string(data) != want {
		t.Fatalf("marshal = %s, want %s", data, want)
	}

	var back struct {
		Sharpe Stat `json:"sharpe_ratio"`
		Calmar Stat `json:"calmar_ratio"`
	}
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Sharpe.Defined || back.Sharpe.Value != 1.25 || back.Calmar.Defined {
		t.Fatalf("round trip lost state: %+v", back)
	}
}

func TestVaR95(t *testing.T) {
	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = float64(i-50) / 1000 // -0.05 .. 0.049
	}
	s := Compute(returns, nil, 0)
	// 5th percentile of a linear ramp sits near the bottom twentieth.
	if s.VaR95 > -0.04 || s.VaR95 < -0.05 {
		t.Errorf("VaR95 = %v, want in [-0.05, -0.04]", s.VaR95)
	}
}
