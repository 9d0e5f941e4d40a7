package runstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vela/internal/backtest"
	"vela/internal/domain"
	"vela/internal/metrics"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult(runID string, cumReturn float64) *backtest.RunResult {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	return &backtest.RunResult{
		RunID: runID,
		Config: domain.RunConfig{
			RunID:   runID,
			Tickers: []string{"AAPL", "MSFT"},
			Start:   start,
			End:     end,
			Variant: domain.VariantThreshold,
		},
		Summary: metrics.Summary{
			Days:             120,
			CumulativeReturn: cumReturn,
			Sharpe:           metrics.Defined(1.1),
			MaxDrawdown:      -0.08,
		},
		Curve: []domain.EquityPoint{
			{Date: start, TotalValue: 100000},
			{Date: end, TotalValue: 100000 * (1 + cumReturn)},
		},
		Trades: []domain.Trade{
			{Date: start, Ticker: "AAPL", Side: domain.SideBuy, Shares: 100, Price: 180},
		},
		GeneratedAt: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openStore(t)
	want := sampleResult("run_20240701_120000_abc123", 0.15)
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(want.RunID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RunID != want.RunID {
		t.Errorf("run_id = %q, want %q", got.RunID, want.RunID)
	}
	if got.Summary.CumulativeReturn != want.Summary.CumulativeReturn {
		t.Errorf("cum return = %v, want %v", got.Summary.CumulativeReturn, want.Summary.CumulativeReturn)
	}
	if len(got.Trades) != 1 || got.Trades[0].Ticker != "AAPL" {
		t.Errorf("trades lost in round trip: %+v", got.Trades)
	}
	if !got.Summary.Sharpe.Defined || got.Summary.Sharpe.Value != 1.1 {
		t.Errorf("sharpe = %+v, want defined 1.1", got.Summary.Sharpe)
	}
}

func TestSaveIsIdempotentPerRunID(t *testing.T) {
	s := openStore(t)
	id := "run_20240701_120000_abc123"

	if err := s.Save(sampleResult(id, 0.10)); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(sampleResult(id, 0.25)); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	runs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("list has %d rows, want 1 after duplicate save", len(runs))
	}
	// The second write wins.
	if runs[0].CumReturn != 0.25 {
		t.Errorf("cum_return = %v, want 0.25 from the superseding save", runs[0].CumReturn)
	}
	got, err := s.Load(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary.CumulativeReturn != 0.25 {
		t.Errorf("loaded cum return = %v, want 0.25", got.Summary.CumulativeReturn)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openStore(t)
	old := sampleResult("run_a", 0.05)
	old.GeneratedAt = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	recent := sampleResult("run_b", 0.10)
	recent.GeneratedAt = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	if err := s.Save(old); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(recent); err != nil {
		t.Fatal(err)
	}

	runs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "run_b" || runs[1].RunID != "run_a" {
		t.Fatalf("list order = %+v, want run_b before run_a", runs)
	}
	if runs[0].Tickers != 2 || runs[0].Trades != 1 {
		t.Errorf("meta counts = %+v", runs[0])
	}
}

func TestLoadUnknownRun(t *testing.T) {
	s := openStore(t)
	if _, err := s.Load("run_missing"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := openStore(t)
	if err := s.Save(sampleResult("run_x", 0.1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("run_x"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load("run_x"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("run still loadable after delete: %v", err)
	}
	if err := s.Delete("run_x"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("double delete err = %v, want ErrRunNotFound", err)
	}
}

func TestCompare(t *testing.T) {
	s := openStore(t)
	a := sampleResult("run_a", 0.10)
	a.Summary.Sharpe = metrics.Defined(0.9)
	b := sampleResult("run_b", 0.30)
	b.Summary.Sharpe = metrics.Defined(1.8)
	b.Config.Variant = domain.VariantBlend
	if err := s.Save(a); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(b); err != nil {
		t.Fatal(err)
	}

	cmp, err := s.Compare([]string{"run_a", "run_b"})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	wantCols := []string{"Metric", "run_a", "run_b"}
	for i, c := range wantCols {
		if cmp.Columns[i] != c {
			t.Fatalf("columns = %v, want %v", cmp.Columns, wantCols)
		}
	}

	rows := make(map[string][]string, len(cmp.Rows))
	for _, r := range cmp.Rows {
		rows[r[0]] = r[1:]
	}
	// Each run's variant shows in its own column.
	if st := rows["Strategy"]; st[0] != string(domain.VariantThreshold) || st[1] != string(domain.VariantBlend) {
		t.Errorf("strategy row = %v, want [threshold blend]", st)
	}
	// Shared-window runs agree on window and trade count, diverge on metrics.
	if w := rows["Window"]; w[0] != w[1] {
		t.Errorf("windows differ: %v", w)
	}
	if tr := rows["Trades"]; tr[0] != tr[1] {
		t.Errorf("trade counts differ: %v", tr)
	}
	if sh := rows["Sharpe"]; sh[0] == sh[1] {
		t.Errorf("sharpe columns should diverge: %v", sh)
	}
	if cr := rows["Cumulative Return"]; cr[0] == cr[1] {
		t.Errorf("return columns should diverge: %v", cr)
	}
	// Undefined stats render as an em dash placeholder.
	if beta := rows["Beta"]; beta[0] != "—" {
		t.Errorf("beta cell = %q, want — for undefined", beta[0])
	}
}

func TestCompareUnknownRunFails(t *testing.T) {
	s := openStore(t)
	if err := s.Save(sampleResult("run_a", 0.1)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Compare([]string{"run_a", "run_nope"}); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound when any id is missing", err)
	}
}
