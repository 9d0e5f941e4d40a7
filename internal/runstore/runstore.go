// Package runstore persists finished backtest runs in SQLite. Hot listing
// columns are denormalised; the full result rides along as JSON.
package runstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"vela/internal/backtest"
	"vela/internal/domain"
	"vela/internal/metrics"
)

// Compile-time interface check.
var _ backtest.Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	strategy     TEXT NOT NULL,
	start_date   TEXT NOT NULL,
	end_date     TEXT NOT NULL,
	tickers      INTEGER NOT NULL,
	trades       INTEGER NOT NULL,
	cum_return   REAL NOT NULL,
	sharpe       REAL,
	max_drawdown REAL NOT NULL,
	generated_at TEXT NOT NULL,
	result_json  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_generated_at ON runs (generated_at DESC);
`

// SQLiteStore implements backtest.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and applies the schema.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying runs schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save persists a run. Saving the same run_id again supersedes the earlier
// record; there is never more than one row per id.
func (s *SQLiteStore) Save(result *backtest.RunResult) error {
	if result == nil || result.RunID == "" {
		return fmt.Errorf("%w: result has no run_id", domain.ErrInvalidConfig)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", result.RunID, err)
	}

	var sharpe any // NULL when undefined
	if result.Summary.Sharpe.Defined {
		sharpe = result.Summary.Sharpe.Value
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, strategy, start_date, end_date, tickers, trades,
			cum_return, sharpe, max_drawdown, generated_at, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			strategy     = excluded.strategy,
			start_date   = excluded.start_date,
			end_date     = excluded.end_date,
			tickers      = excluded.tickers,
			trades       = excluded.trades,
			cum_return   = excluded.cum_return,
			sharpe       = excluded.sharpe,
			max_drawdown = excluded.max_drawdown,
			generated_at = excluded.generated_at,
			result_json  = excluded.result_json`,
		result.RunID,
		string(result.Config.Variant),
		result.Config.Start.Format("2006-01-02"),
		result.Config.End.Format("2006-01-02"),
		len(result.Config.Tickers),
		len(result.Trades),
		result.Summary.CumulativeReturn,
		sharpe,
		result.Summary.MaxDrawdown,
		result.GeneratedAt.UTC().Format(time.RFC3339),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", result.RunID, err)
	}
	return nil
}

// Load returns the full result for one run id.
func (s *SQLiteStore) Load(runID string) (*backtest.RunResult, error) {
	var payload string
	err := s.db.QueryRow(`SELECT result_json FROM runs WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}

	var result backtest.RunResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return &result, nil
}

// List returns metadata for all saved runs, newest first.
func (s *SQLiteStore) List() ([]backtest.RunMeta, error) {
	rows, err := s.db.Query(`
		SELECT run_id, strategy, start_date, end_date, tickers, trades,
			cum_return, sharpe, max_drawdown, generated_at
		FROM runs ORDER BY generated_at DESC, run_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []backtest.RunMeta
	for rows.Next() {
		var (
			m      backtest.RunMeta
			sharpe sql.NullFloat64
			genAt  string
		)
		if err := rows.Scan(&m.RunID, &m.Strategy, &m.Start, &m.End,
			&m.Tickers, &m.Trades, &m.CumReturn, &sharpe, &m.MaxDrawdown, &genAt); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		if sharpe.Valid {
			m.Sharpe = metrics.Defined(sharpe.Float64)
		}
		if t, err := time.Parse(time.RFC3339, genAt); err == nil {
			m.GeneratedAt = t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes a saved run. Unknown ids return ErrRunNotFound.
func (s *SQLiteStore) Delete(runID string) error {
	res, err := s.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	return nil
}

// Comparison is a side-by-side metric table across runs: one column per
// run id after the leading metric-label column.
type Comparison struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// compareRow pairs a display label with a value extractor.
type compareRow struct {
	label  string
	format func(r *backtest.RunResult) string
}

var compareRows = []compareRow{
	{"Strategy", func(r *backtest.RunResult) string { return string(r.Config.Variant) }},
	{"Window", func(r *backtest.RunResult) string {
		return r.Config.Start.Format("2006-01-02") + " .. " + r.Config.End.Format("2006-01-02")
	}},
	{"Tickers", func(r *backtest.RunResult) string { return fmt.Sprintf("%d", len(r.Config.Tickers)) }},
	{"Trades", func(r *backtest.RunResult) string { return fmt.Sprintf("%d", len(r.Trades)) }},
	{"Cumulative Return", func(r *backtest.RunResult) string { return pct(r.Summary.CumulativeReturn) }},
	{"Annualised Return", func(r *backtest.RunResult) string { return pct(r.Summary.AnnualizedReturn) }},
	{"Annualised Vol", func(r *backtest.RunResult) string { return pct(r.Summary.AnnualizedVol) }},
	{"Sharpe", func(r *backtest.RunResult) string { return stat(r.Summary.Sharpe) }},
	{"Sortino", func(r *backtest.RunResult) string { return stat(r.Summary.Sortino) }},
	{"Max Drawdown", func(r *backtest.RunResult) string { return pct(r.Summary.MaxDrawdown) }},
	{"Calmar", func(r *backtest.RunResult) string { return stat(r.Summary.Calmar) }},
	{"Win Rate", func(r *backtest.RunResult) string { return pct(r.Summary.WinRate) }},
	{"Profit Factor", func(r *backtest.RunResult) string { return stat(r.Summary.ProfitFactor) }},
	{"VaR (95%)", func(r *backtest.RunResult) string { return pct(r.Summary.VaR95) }},
	{"Alpha (ann.)", func(r *backtest.RunResult) string { return statPct(r.Summary.Alpha) }},
	{"Beta", func(r *backtest.RunResult) string { return stat(r.Summary.Beta) }},
	{"Info Ratio", func(r *backtest.RunResult) string { return stat(r.Summary.InfoRatio) }},
}

// Compare builds the comparison table for the given run ids, preserving
// their order. Any unknown id fails the whole comparison with
// ErrRunNotFound.
func (s *SQLiteStore) Compare(runIDs []string) (*Comparison, error) {
	if len(runIDs) == 0 {
		return nil, fmt.Errorf("%w: no run ids to compare", domain.ErrInvalidConfig)
	}

	results := make([]*backtest.RunResult, 0, len(runIDs))
	for _, id := range runIDs {
		r, err := s.Load(id)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	cmp := &Comparison{Columns: append([]string{"Metric"}, runIDs...)}
	for _, row := range compareRows {
		cells := make([]string, 0, len(results)+1)
		cells = append(cells, row.label)
		for _, r := range results {
			cells = append(cells, row.format(r))
		}
		cmp.Rows = append(cmp.Rows, cells)
	}
	return cmp, nil
}

func pct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v*100)
}

func stat(s metrics.Stat) string {
	if !s.Defined {
		return "—"
	}
	return fmt.Sprintf("%.3f", s.Value)
}

func statPct(s metrics.Stat) string {
	if !s.Defined {
		return "—"
	}
	return pct(s.Value)
}
