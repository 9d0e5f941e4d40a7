// Package ledger tracks cash, positions, and the equity curve of one
// simulated portfolio. Per ticker the position moves FLAT -> LONG -> FLAT,
// or FLAT -> SHORT -> FLAT when shorting is enabled; partial exits are not
// modelled. Trades and equity points are append-only.
package ledger

import (
	"fmt"
	"math"
	"sort"
	"time"

	"vela/internal/domain"
)

// maxPositionFraction caps any single position at this share of total
// equity at trade time. Orders over the cap are sized down, not rejected.
const maxPositionFraction = 0.20

// Ledger is the portfolio state machine. Not safe for concurrent use; one
// simulation owns one Ledger.
type Ledger struct {
	cash      float64
	positions map[string]domain.Position
	trades    []domain.Trade
	curve     []domain.EquityPoint
	lastClose map[string]float64

	slippageRate float64 // fraction, e.g. 0.0005 for 5bps
	commission   float64 // flat per fill
	riskMult     float64
	maxOpen      int
	allowShorts  bool
	dailyRF      float64 // accrued on idle cash, 0 disables
}

// New builds a Ledger funded with the run's initial capital.
func New(cfg domain.RunConfig) *Ledger {
	return &Ledger{
		cash:         cfg.InitialCapital,
		positions:    make(map[string]domain.Position),
		lastClose:    make(map[string]float64),
		slippageRate: cfg.SlippageBPS / 10000,
		commission:   cfg.Commission,
		riskMult:     cfg.Risk.Multiplier(),
		maxOpen:      cfg.MaxOpenPositions,
		allowShorts:  cfg.AllowShorts,
		dailyRF:      cfg.RiskFreeRate / 252,
	}
}

// ApplyDay executes the day's decisions at the open prices, then marks every
// holding to the close and appends one EquityPoint. Decisions are applied in
// lexicographic ticker order regardless of input order, so same-day runs are
// reproducible. Returns a SimulationError if the books stop balancing.
func (l *Ledger) ApplyDay(date time.Time, decisions []domain.Decision, opens, closes map[string]float64) error {
	if l.dailyRF > 0 && l.cash > 0 {
		l.cash *= 1 + l.dailyRF
	}

	ordered := make([]domain.Decision, len(decisions))
	copy(ordered, decisions)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Ticker < ordered[j].Ticker })

	for _, d := range ordered {
		open, ok := opens[d.Ticker]
		if !ok || open <= 0 {
			continue // no tradable open today, holdings carry over
		}
		switch d.Action {
		case domain.ActionBuy:
			l.applyBuy(date, d, open)
		case domain.ActionSell:
			l.applySell(date, d, open)
		}
	}

	return l.markToMarket(date, closes)
}

func (l *Ledger) applyBuy(date time.Time, d domain.Decision, open float64) {
	pos := l.positions[d.Ticker]

	// BUY against a short covers the whole short first.
	if pos.Shares < 0 {
		l.closePosition(date, d.Ticker, open)
		return
	}
	if pos.Shares > 0 {
		return // already long, no pyramiding
	}
	if l.openCount() >= l.maxOpen {
		return
	}

	shares := l.sizeOrder(d.TargetWeight, open)
	if shares <= 0 {
		return
	}

	fill := open * (1 + l.slippageRate)
	cost := float64(shares)*fill + l.commission
	if cost > l.cash {
		// Cash-constrained partial fill.
		shares = int64((l.cash - l.commission) / fill)
		if shares <= 0 {
			return
		}
		cost = float64(shares)*fill + l.commission
	}

	l.cash -= cost
	l.positions[d.Ticker] = domain.Position{Ticker: d.Ticker, Shares: shares, AvgCost: fill}
	l.trades = append(l.trades, domain.Trade{
		Date:         date,
		Ticker:       d.Ticker,
		Side:         domain.SideBuy,
		Shares:       shares,
		Price:        open,
		SlippageCost: float64(shares) * open * l.slippageRate,
		Commission:   l.commission,
	})
}

func (l *Ledger) applySell(date time.Time, d domain.Decision, open float64) {
	pos := l.positions[d.Ticker]

	if pos.Shares > 0 {
		l.closePosition(date, d.Ticker, open)
		return
	}
	if pos.Shares < 0 || !l.allowShorts {
		return
	}
	if l.openCount() >= l.maxOpen {
		return
	}

	shares := l.sizeOrder(d.TargetWeight, open)
	if shares <= 0 {
		return
	}

	fill := open * (1 - l.slippageRate)
	l.cash += float64(shares)*fill - l.commission
	l.positions[d.Ticker] = domain.Position{Ticker: d.Ticker, Shares: -shares, AvgCost: fill}
	l.trades = append(l.trades, domain.Trade{
		Date:         date,
		Ticker:       d.Ticker,
		Side:         domain.SideShort,
		Shares:       -shares,
		Price:        open,
		SlippageCost: float64(shares) * open * l.slippageRate,
		Commission:   l.commission,
	})
}

// closePosition flattens the full holding at the given open price and
// records the realised PnL on the closing trade.
func (l *Ledger) closePosition(date time.Time, ticker string, open float64) {
	pos := l.positions[ticker]
	if pos.Shares == 0 {
		return
	}

	var (
		side     domain.Side
		fill     float64
		realized float64
	)
	if pos.Shares > 0 {
		side = domain.SideSell
		fill = open * (1 - l.slippageRate)
		realized = (fill-pos.AvgCost)*float64(pos.Shares) - l.commission
		l.cash += float64(pos.Shares)*fill - l.commission
	} else {
		side = domain.SideCover
		fill = open * (1 + l.slippageRate)
		realized = (pos.AvgCost-fill)*float64(-pos.Shares) - l.commission
		l.cash -= float64(-pos.Shares)*fill + l.commission
	}

	l.trades = append(l.trades, domain.Trade{
		Date:         date,
		Ticker:       ticker,
		Side:         side,
		Shares:       -pos.Shares,
		Price:        open,
		SlippageCost: math.Abs(float64(pos.Shares)) * open * l.slippageRate,
		Commission:   l.commission,
		RealizedPnL:  realized,
	})
	delete(l.positions, ticker)
}

// sizeOrder translates a conviction weight into whole shares:
// targetNotional = weight x riskMult x equity/maxOpen, capped at 20% of
// equity at trade time.
func (l *Ledger) sizeOrder(weight float64, price float64) int64 {
	if weight <= 0 || l.maxOpen <= 0 {
		return 0
	}
	equity := l.equity(l.lastClose)
	notional := weight * l.riskMult * equity / float64(l.maxOpen)
	if limit := maxPositionFraction * equity; notional > limit {
		notional = limit
	}
	if notional <= 0 {
		return 0
	}
	return int64(notional / price)
}

// markToMarket values every holding at the day's close and appends one
// EquityPoint. Tickers without a close today keep their last mark.
func (l *Ledger) markToMarket(date time.Time, closes map[string]float64) error {
	for t, c := range closes {
		if c > 0 {
			l.lastClose[t] = c
		}
	}

	total := l.equity(l.lastClose)
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return &domain.SimulationError{Date: date, Reason: "portfolio value is not finite"}
	}
	if total < 0 && !l.allowShorts {
		return &domain.SimulationError{Date: date, Reason: fmt.Sprintf("negative equity %.2f without shorts", total)}
	}

	l.curve = append(l.curve, domain.EquityPoint{Date: date, TotalValue: total})
	return nil
}

// equity returns cash plus the value of all holdings at the given marks.
// Positions with no mark yet fall back to their average cost.
func (l *Ledger) equity(marks map[string]float64) float64 {
	total := l.cash
	for t, pos := range l.positions {
		price, ok := marks[t]
		if !ok || price <= 0 {
			price = pos.AvgCost
		}
		total += float64(pos.Shares) * price
	}
	return total
}

func (l *Ledger) openCount() int {
	return len(l.positions)
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 { return l.cash }

// Positions returns a copy of the open positions keyed by ticker.
func (l *Ledger) Positions() map[string]domain.Position {
	out := make(map[string]domain.Position, len(l.positions))
	for t, p := range l.positions {
		out[t] = p
	}
	return out
}

// Trades returns the append-only trade log.
func (l *Ledger) Trades() []domain.Trade { return l.trades }

// Curve returns the equity curve, one point per simulated day.
func (l *Ledger) Curve() []domain.EquityPoint { return l.curve }
