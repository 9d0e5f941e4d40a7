package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for the backtesting engine. InvalidConfig and
// DataUnavailable surface to the caller as terminal error status before or
// during data loading; RunNotFound covers retrieval of unknown run IDs.
var (
	ErrDataUnavailable = errors.New("price data unavailable")
	ErrInvalidConfig   = errors.New("invalid run config")
	ErrRunNotFound     = errors.New("run not found")
)

// SimulationError reports an unexpected internal fault mid-run, such as an
// arithmetic inconsistency in the ledger. It aborts the run and discards
// any partial result.
type SimulationError struct {
	Date   time.Time
	Ticker string
	Reason string
}

func (e *SimulationError) Error() string {
	if e.Ticker != "" {
		return fmt.Sprintf("simulation error on %s (%s): %s",
			e.Date.Format("2006-01-02"), e.Ticker, e.Reason)
	}
	return fmt.Sprintf("simulation error on %s: %s", e.Date.Format("2006-01-02"), e.Reason)
}
