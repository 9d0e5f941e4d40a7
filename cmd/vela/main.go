package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"vela/pkg/vela"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vela <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version                 Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  run                     Submit a backtest and wait for it\n")
		fmt.Fprintf(os.Stderr, "  list                    List saved runs\n")
		fmt.Fprintf(os.Stderr, "  show <run_id>           Print the summary of one run\n")
		fmt.Fprintf(os.Stderr, "  delete <run_id>         Remove a saved run\n")
		fmt.Fprintf(os.Stderr, "  compare <id> <id>...    Side-by-side metric table\n")
		fmt.Fprintf(os.Stderr, "  sectors                 List the built-in universe\n")
		fmt.Fprintf(os.Stderr, "\nServer address comes from VELA_SERVER (default http://localhost:8080).\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	client := vela.NewClient(serverURL())
	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("vela %s\n", version)
	case "run":
		err = cmdRun(ctx, client, os.Args[2:])
	case "list":
		err = cmdList(ctx, client)
	case "show":
		err = cmdShow(ctx, client, os.Args[2:])
	case "delete":
		err = cmdDelete(ctx, client, os.Args[2:])
	case "compare":
		err = cmdCompare(ctx, client, os.Args[2:])
	case "sectors":
		err = cmdSectors(ctx, client)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func serverURL() string {
	if v := os.Getenv("VELA_SERVER"); v != "" {
		return strings.TrimSuffix(v, "/")
	}
	return "http://localhost:8080"
}

func cmdRun(ctx context.Context, client *vela.Client, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	tickers := fs.String("tickers", "", "comma-separated tickers (e.g. AAPL,MSFT)")
	sector := fs.String("sector", "", "run on a whole sector instead of explicit tickers")
	start := fs.String("start", "", "start date YYYY-MM-DD")
	end := fs.String("end", "", "end date YYYY-MM-DD")
	variant := fs.String("variant", "", "strategy variant: threshold, adaptive, blend")
	risk := fs.String("risk", "", "risk level: low, medium, high")
	sentimentMode := fs.String("sentiment", "", "sentiment mode: none, dataset")
	capital := fs.Float64("capital", 0, "initial capital (server default when 0)")
	shorts := fs.Bool("shorts", false, "allow short positions")
	benchmark := fs.String("benchmark", "", "benchmark ticker")
	runID := fs.String("id", "", "explicit run id (generated when empty)")
	wait := fs.Bool("wait", true, "block until the run finishes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := vela.RunRequest{
		Sector:          *sector,
		Start:           *start,
		End:             *end,
		StrategyVariant: *variant,
		RiskLevel:       *risk,
		SentimentMode:   *sentimentMode,
		InitialCapital:  *capital,
		AllowShorts:     *shorts,
		BenchmarkTicker: *benchmark,
		RunID:           *runID,
	}
	if *tickers != "" {
		for _, t := range strings.Split(*tickers, ",") {
			if t = strings.TrimSpace(t); t != "" {
				req.Tickers = append(req.Tickers, strings.ToUpper(t))
			}
		}
	}

	status, err := client.StartRun(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("submitted %s\n", status.RunID)
	if !*wait {
		return nil
	}

	status, err = client.WaitForRun(ctx, 500*time.Millisecond)
	if err != nil {
		return err
	}
	if status.State == "error" {
		return fmt.Errorf("run failed: %s", status.Error)
	}
	fmt.Printf("completed %s\n\n", status.RunID)
	return cmdShow(ctx, client, []string{status.RunID})
}

func cmdList(ctx context.Context, client *vela.Client) error {
	runs, err := client.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no saved runs")
		return nil
	}

	fmt.Printf("%-32s %-10s %-22s %7s %7s %9s %8s %9s\n",
		"Run", "Strategy", "Window", "Tickers", "Trades", "Return", "Sharpe", "MaxDD")
	for _, r := range runs {
		sharpe := "—"
		if r.Sharpe.Defined {
			sharpe = fmt.Sprintf("%.3f", r.Sharpe.Value)
		}
		fmt.Printf("%-32s %-10s %-22s %7d %7d %8.2f%% %8s %8.2f%%\n",
			r.RunID, r.Strategy, r.Start+".."+r.End,
			r.Tickers, r.Trades, r.CumReturn*100, sharpe, r.MaxDrawdown*100)
	}
	return nil
}

func cmdShow(ctx context.Context, client *vela.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: vela show <run_id>")
	}
	result, err := client.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	s := result.Summary
	fmt.Printf("Run:        %s\n", result.RunID)
	fmt.Printf("Strategy:   %s / %s risk\n", result.Config.Variant, result.Config.Risk)
	fmt.Printf("Window:     %s .. %s  (%d trading days)\n",
		result.Config.Start.Format("2006-01-02"), result.Config.End.Format("2006-01-02"), s.Days)
	fmt.Printf("Tickers:    %s\n", strings.Join(result.Config.Tickers, ", "))
	fmt.Println()
	fmt.Printf("  %-18s %s\n", "Cum return", pct(s.CumulativeReturn))
	fmt.Printf("  %-18s %s\n", "Ann return", pct(s.AnnualizedReturn))
	fmt.Printf("  %-18s %s\n", "Ann volatility", pct(s.AnnualizedVol))
	fmt.Printf("  %-18s %s\n", "Sharpe", num(s.Sharpe.Value, s.Sharpe.Defined))
	fmt.Printf("  %-18s %s\n", "Sortino", num(s.Sortino.Value, s.Sortino.Defined))
	fmt.Printf("  %-18s %s\n", "Max drawdown", pct(s.MaxDrawdown))
	fmt.Printf("  %-18s %s\n", "Calmar", num(s.Calmar.Value, s.Calmar.Defined))
	fmt.Printf("  %-18s %s\n", "Win rate", pct(s.WinRate))
	fmt.Printf("  %-18s %s\n", "Profit factor", num(s.ProfitFactor.Value, s.ProfitFactor.Defined))
	fmt.Printf("  %-18s %d\n", "Trades", len(result.Trades))
	if result.Benchmark != nil {
		fmt.Println()
		fmt.Printf("  %-18s %s\n", "Benchmark return", pct(result.Benchmark.CumulativeReturn))
		fmt.Printf("  %-18s %s\n", "Alpha (ann)", num(s.Alpha.Value, s.Alpha.Defined))
		fmt.Printf("  %-18s %s\n", "Beta", num(s.Beta.Value, s.Beta.Defined))
	}

	if len(result.PerTicker) > 0 {
		fmt.Println()
		fmt.Printf("  %-8s %9s %8s %8s\n", "Ticker", "Return", "Sharpe", "MaxDD")
		for _, ts := range result.PerTicker {
			fmt.Printf("  %-8s %9s %8s %8s\n", ts.Ticker,
				pct(ts.CumulativeReturn),
				num(ts.Sharpe.Value, ts.Sharpe.Defined),
				pct(ts.MaxDrawdown))
		}
	}
	return nil
}

func cmdDelete(ctx context.Context, client *vela.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: vela delete <run_id>")
	}
	if err := client.DeleteRun(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func cmdCompare(ctx context.Context, client *vela.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: vela compare <run_id> <run_id> [...]")
	}
	cmp, err := client.Compare(ctx, args)
	if err != nil {
		return err
	}

	widths := make([]int, len(cmp.Columns))
	for i, col := range cmp.Columns {
		widths[i] = len(col)
	}
	for _, row := range cmp.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	printRow := func(cells []string) {
		for i, cell := range cells {
			fmt.Printf("%-*s  ", widths[i], cell)
		}
		fmt.Println()
	}
	printRow(cmp.Columns)
	for _, row := range cmp.Rows {
		printRow(row)
	}
	return nil
}

func cmdSectors(ctx context.Context, client *vela.Client) error {
	sectors, tickers, err := client.Sectors(ctx)
	if err != nil {
		return err
	}
	sort.Strings(sectors)
	for _, sec := range sectors {
		fmt.Printf("%s: %s\n", sec, strings.Join(tickers[sec], ", "))
	}
	return nil
}

func pct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v*100)
}

func num(v float64, defined bool) string {
	if !defined {
		return "—"
	}
	return fmt.Sprintf("%.3f", v)
}
