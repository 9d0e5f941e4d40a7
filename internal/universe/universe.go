// Package universe manages the investable ticker universe with GICS-style
// sector classification. All tickers are treated identically by the
// strategy layer; the table only exists to resolve sector filters.
package universe

import (
	"fmt"
	"sort"
	"strings"

	"vela/internal/domain"
)

type entry struct {
	ticker string
	name   string
	sector string
}

// S&P 500 constituents, sector-classified. Trimmed to the liquid names the
// bundled datasets cover; Add registers anything else at runtime.
var table = []entry{
	// Information Technology
	{"AAPL", "Apple Inc.", "Technology"},
	{"MSFT", "Microsoft Corp.", "Technology"},
	{"NVDA", "NVIDIA Corp.", "Technology"},
	{"AVGO", "Broadcom Inc.", "Technology"},
	{"ORCL", "Oracle Corp.", "Technology"},
	{"AMD", "Advanced Micro Devices", "Technology"},
	{"QCOM", "Qualcomm Inc.", "Technology"},
	{"TXN", "Texas Instruments", "Technology"},
	{"INTC", "Intel Corp.", "Technology"},
	{"CSCO", "Cisco Systems", "Technology"},
	{"IBM", "IBM Corp.", "Technology"},
	{"ADBE", "Adobe Inc.", "Technology"},
	{"CRM", "Salesforce Inc.", "Technology"},
	{"NOW", "ServiceNow Inc.", "Technology"},
	{"INTU", "Intuit Inc.", "Technology"},
	// Consumer Discretionary
	{"AMZN", "Amazon.com Inc.", "Consumer Discretionary"},
	{"TSLA", "Tesla Inc.", "Consumer Discretionary"},
	{"HD", "Home Depot Inc.", "Consumer Discretionary"},
	{"MCD", "McDonald's Corp.", "Consumer Discretionary"},
	{"NKE", "Nike Inc.", "Consumer Discretionary"},
	{"SBUX", "Starbucks Corp.", "Consumer Discretionary"},
	{"LOW", "Lowe's Companies", "Consumer Discretionary"},
	{"BKNG", "Booking Holdings", "Consumer Discretionary"},
	// Communication Services
	{"GOOGL", "Alphabet Inc. (Class A)", "Communication Services"},
	{"META", "Meta Platforms", "Communication Services"},
	{"NFLX", "Netflix Inc.", "Communication Services"},
	{"DIS", "Walt Disney Co.", "Communication Services"},
	{"CMCSA", "Comcast Corp.", "Communication Services"},
	{"VZ", "Verizon Communications", "Communication Services"},
	{"T", "AT&T Inc.", "Communication Services"},
	{"TMUS", "T-Mobile US", "Communication Services"},
	// Financials
	{"JPM", "JPMorgan Chase", "Financials"},
	{"BAC", "Bank of America", "Financials"},
	{"WFC", "Wells Fargo", "Financials"},
	{"GS", "Goldman Sachs", "Financials"},
	{"MS", "Morgan Stanley", "Financials"},
	{"BLK", "BlackRock Inc.", "Financials"},
	{"AXP", "American Express", "Financials"},
	{"V", "Visa Inc.", "Financials"},
	{"MA", "Mastercard Inc.", "Financials"},
	// Health Care
	{"LLY", "Eli Lilly & Co.", "Health Care"},
	{"UNH", "UnitedHealth Group", "Health Care"},
	{"JNJ", "Johnson & Johnson", "Health Care"},
	{"ABBV", "AbbVie Inc.", "Health Care"},
	{"MRK", "Merck & Co.", "Health Care"},
	{"PFE", "Pfizer Inc.", "Health Care"},
	{"TMO", "Thermo Fisher Scientific", "Health Care"},
	{"ABT", "Abbott Laboratories", "Health Care"},
	// Consumer Staples
	{"PG", "Procter & Gamble", "Consumer Staples"},
	{"KO", "Coca-Cola Co.", "Consumer Staples"},
	{"PEP", "PepsiCo Inc.", "Consumer Staples"},
	{"COST", "Costco Wholesale", "Consumer Staples"},
	{"WMT", "Walmart Inc.", "Consumer Staples"},
	// Energy
	{"XOM", "Exxon Mobil", "Energy"},
	{"CVX", "Chevron Corp.", "Energy"},
	{"COP", "ConocoPhillips", "Energy"},
	{"SLB", "Schlumberger", "Energy"},
	// Industrials
	{"CAT", "Caterpillar Inc.", "Industrials"},
	{"BA", "Boeing Co.", "Industrials"},
	{"HON", "Honeywell International", "Industrials"},
	{"UPS", "United Parcel Service", "Industrials"},
	{"GE", "GE Aerospace", "Industrials"},
	// Utilities
	{"NEE", "NextEra Energy", "Utilities"},
	{"DUK", "Duke Energy", "Utilities"},
	{"SO", "Southern Co.", "Utilities"},
}

// Universe is the set of tradable tickers. New tickers can be added at
// runtime and are first-class once registered.
type Universe struct {
	entries []entry
}

// New returns a Universe populated with the built-in constituent table.
func New() *Universe {
	u := &Universe{entries: make([]entry, len(table))}
	copy(u.entries, table)
	return u
}

// Tickers returns all constituent tickers, sorted.
func (u *Universe) Tickers() []string {
	out := make([]string, 0, len(u.entries))
	for _, e := range u.entries {
		out = append(out, e.ticker)
	}
	sort.Strings(out)
	return out
}

// Sectors returns all distinct sector names, sorted.
func (u *Universe) Sectors() []string {
	seen := make(map[string]struct{})
	for _, e := range u.entries {
		seen[e.sector] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// BySector returns tickers in the named sector (case-insensitive), sorted.
func (u *Universe) BySector(sector string) []string {
	var out []string
	for _, e := range u.entries {
		if strings.EqualFold(e.sector, sector) {
			out = append(out, e.ticker)
		}
	}
	sort.Strings(out)
	return out
}

// Add registers an extra ticker at runtime. Duplicate tickers are ignored.
func (u *Universe) Add(ticker, name, sector string) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	for _, e := range u.entries {
		if e.ticker == ticker {
			return
		}
	}
	u.entries = append(u.entries, entry{ticker: ticker, name: name, sector: sector})
}

// Resolve turns the tickers|sector field pair of a run request into a
// deduplicated, upper-cased, sorted ticker list. An explicit ticker list
// wins over the sector filter.
func (u *Universe) Resolve(tickers []string, sector string) ([]string, error) {
	if len(tickers) > 0 {
		seen := make(map[string]struct{}, len(tickers))
		out := make([]string, 0, len(tickers))
		for _, t := range tickers {
			t = strings.ToUpper(strings.TrimSpace(t))
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: ticker list resolved empty", domain.ErrInvalidConfig)
		}
		sort.Strings(out)
		return out, nil
	}
	if sector != "" {
		out := u.BySector(sector)
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: unknown sector %q (valid: %s)",
				domain.ErrInvalidConfig, sector, strings.Join(u.Sectors(), ", "))
		}
		return out, nil
	}
	return u.Tickers(), nil
}
