package backtest

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"vela/internal/domain"
	"vela/internal/metrics"
)

// RunResult is the durable artifact of one completed simulation.
type RunResult struct {
	RunID       string                  `json:"run_id"`
	Config      domain.RunConfig        `json:"config"`
	Summary     metrics.Summary         `json:"summary"`
	Benchmark   *metrics.Summary        `json:"benchmark,omitempty"`
	PerTicker   []metrics.TickerSummary `json:"per_ticker"`
	Curve       []domain.EquityPoint    `json:"equity_curve"`
	Trades      []domain.Trade          `json:"trades"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// RunMeta is the listing row for one saved run.
type RunMeta struct {
	RunID       string       `json:"run_id"`
	Strategy    string       `json:"strategy"`
	Start       string       `json:"start"`
	End         string       `json:"end"`
	Tickers     int          `json:"n_tickers"`
	Trades      int          `json:"n_trades"`
	CumReturn   float64      `json:"cum_return"`
	Sharpe      metrics.Stat `json:"sharpe"`
	MaxDrawdown float64      `json:"max_dd"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Store persists finished runs. Implementations must make Save idempotent
// per run id: saving the same id twice keeps exactly one record holding
// the second write.
type Store interface {
	Save(result *RunResult) error
	Load(runID string) (*RunResult, error)
	List() ([]RunMeta, error)
	Delete(runID string) error
}

// NewRunID generates a collision-resistant identifier of the form
// run_20240102_150405_a1b2c3.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("run_%s_%s",
		now.UTC().Format("20060102_150405"),
		uuid.NewString()[:6])
}
