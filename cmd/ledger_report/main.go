package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"polyMarketBot/config"
	"polyMarketBot/internal/adapters/logger"
	"polyMarketBot/internal/adapters/sqlite"
	"polyMarketBot/internal/analytics"
	"polyMarketBot/internal/domain"
	"polyMarketBot/internal/ports"
	"polyMarketBot/internal/utils"
)

var (
	fromDate = flag.String("from", "", "first exit date to include (YYYY-MM-DD, UTC)")
	toDate   = flag.String("to", "", "last exit date to include (YYYY-MM-DD, UTC)")
	only     = flag.String("strategy", "", "report a single strategy")
	csvPath  = flag.String("csv", "", "also export the matching trades to this CSV file")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	// Keep the report readable; only warnings and errors go to stderr
	appLogger := logger.New(logger.LevelWarn, cfg.LogFormat)

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("Error opening ledger: %v", err)
	}
	defer repo.Close()

	engine, err := analytics.NewEngine(analytics.Config{
		Ledger:          repo,
		Logger:          appLogger,
		InitialBankroll: cfg.InitialBankroll,
	})
	if err != nil {
		log.Fatalf("Error creating metrics engine: %v", err)
	}

	filter, err := buildFilter(*fromDate, *toDate, *only)
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	ctx := context.Background()
	trades, err := ports.CollectTrades(repo.ListTrades(ctx, filter))
	if err != nil {
		log.Fatalf("Error reading trades: %v", err)
	}
	if len(trades) == 0 {
		log.Println("No closed trades match the selection.")
		return
	}

	fmt.Println("## Strategies")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Strategy\tTrades\tWinRate\tAvgWin\tAvgLoss\tTotalPnL\tPF\tMaxDD\t")
	for _, name := range strategyNames(trades) {
		f := filter
		f.Strategy = name
		report, err := engine.Performance(ctx, f)
		if err != nil {
			log.Printf("Error analyzing %s: %v", name, err)
			continue
		}
		printReportRow(w, name, report)
	}
	if *only == "" {
		report, err := engine.Performance(ctx, filter)
		if err != nil {
			log.Fatalf("Error analyzing trades: %v", err)
		}
		printReportRow(w, "ALL", report)
	}
	w.Flush()

	fmt.Println("\n## Daily")
	printDaily(ctx, engine, *fromDate, *toDate)

	if *csvPath != "" {
		if err := utils.WriteTradesCSVFile(*csvPath, trades); err != nil {
			log.Fatalf("Error exporting trades: %v", err)
		}
		fmt.Printf("\nExported %d trades to %s\n", len(trades), *csvPath)
	}
}

// buildFilter converts the date flags to an exit-time window over closed trades.
func buildFilter(from, to, strategy string) (ports.TradeFilter, error) {
	filter := ports.TradeFilter{Status: domain.StatusClosed, Strategy: strategy}
	if from != "" {
		start, _, err := domain.DayBounds(from)
		if err != nil {
			return filter, fmt.Errorf("-from: %w", err)
		}
		filter.ExitFrom = start
	}
	if to != "" {
		_, end, err := domain.DayBounds(to)
		if err != nil {
			return filter, fmt.Errorf("-to: %w", err)
		}
		filter.ExitTo = end
	}
	if !filter.ExitFrom.IsZero() && !filter.ExitTo.IsZero() && !filter.ExitFrom.Before(filter.ExitTo) {
		return filter, fmt.Errorf("-from must not be after -to")
	}
	return filter, nil
}

func strategyNames(trades []*domain.Trade) []string {
	seen := make(map[string]bool)
	var names []string
	for _, t := range trades {
		if !seen[t.Strategy] {
			seen[t.Strategy] = true
			names = append(names, t.Strategy)
		}
	}
	sort.Strings(names)
	return names
}

func printReportRow(w *tabwriter.Writer, name string, r *analytics.PerformanceReport) {
	fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
		name,
		r.TotalTrades,
		r.WinRate.StringFixed(2),
		r.AverageWin.StringFixed(2),
		r.AverageLoss.StringFixed(2),
		r.TotalProfit.StringFixed(2),
		r.ProfitFactor.StringFixed(2),
		r.MaxDrawdown.StringFixed(2),
	)
}

func printDaily(ctx context.Context, engine *analytics.Engine, from, to string) {
	rows, err := engine.DailyMetrics(ctx)
	if err != nil {
		log.Printf("Error reading daily metrics: %v", err)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Date\tStart\tEnd\tPnL\tPnL%\tTrades\tWinRate\tSharpe\tMaxDD\t")
	printed := 0
	for _, m := range rows {
		// Date keys are ISO dates, so string order is date order
		if (from != "" && m.Date < from) || (to != "" && m.Date > to) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t\n",
			m.Date,
			m.StartingBankroll.StringFixed(2),
			m.EndingBankroll.StringFixed(2),
			m.DailyPnL.StringFixed(2),
			m.DailyPnLPct.StringFixed(2),
			m.NumTrades,
			m.WinRate.StringFixed(2),
			m.SharpeRatio.StringFixed(2),
			m.MaxDrawdown.StringFixed(2),
		)
		printed++
	}
	w.Flush()
	if printed == 0 {
		fmt.Println("No daily metrics stored for the selection.")
	}
}
