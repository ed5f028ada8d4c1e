// Package analytics derives aggregate statistics from the ledger.
// It never mutates trades; its only write is the daily metrics row.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"polyMarketBot/internal/domain"
	"polyMarketBot/internal/ports"
)

// Config holds the engine's dependencies.
type Config struct {
	Ledger          ports.LedgerStore
	Logger          ports.Logger
	InitialBankroll decimal.Decimal
	Clock           func() time.Time // Defaults to time.Now
}

// Engine computes daily metrics, overall stats and the equity curve.
type Engine struct {
	ledger  ports.LedgerStore
	logger  ports.Logger
	initial decimal.Decimal
	clock   func() time.Time
}

// NewEngine creates a metrics engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Ledger == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	if !cfg.InitialBankroll.IsPositive() {
		return nil, fmt.Errorf("%w: initial bankroll must be positive", ports.ErrConfigurationError)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{ledger: cfg.Ledger, logger: cfg.Logger, initial: cfg.InitialBankroll, clock: cfg.Clock}, nil
}

// InitialBankroll returns the configured starting bankroll.
func (e *Engine) InitialBankroll() decimal.Decimal {
	return e.initial
}

// ComputeDaily derives and stores the metrics row for date (YYYY-MM-DD, UTC).
// Calling it again for a date with no new closes yields the identical row.
func (e *Engine) ComputeDaily(ctx context.Context, date string) (*domain.DailyMetrics, error) {
	start, end, err := domain.DayBounds(date)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q: %v", ports.ErrInvalidInput, date, err)
	}

	history, err := e.ledger.ListDailyMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily metrics history: %w", err)
	}

	closedToEnd, err := ports.CollectTrades(e.ledger.ListTrades(ctx, ports.TradeFilter{
		Status: domain.StatusClosed,
		ExitTo: end,
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to load closed trades up to %s: %w", date, err)
	}

	var closedBefore, closedToday []*domain.Trade
	for _, t := range closedToEnd {
		if t.ExitTime.Before(start) {
			closedBefore = append(closedBefore, t)
		} else {
			closedToday = append(closedToday, t)
		}
	}

	starting := e.startingBankroll(history, date, closedBefore)

	row := &domain.DailyMetrics{
		Date:             date,
		StartingBankroll: starting,
		DailyPnL:         decimal.Zero,
		DailyPnLPct:      decimal.Zero,
		WinRate:          decimal.Zero,
		SharpeRatio:      decimal.Zero,
		MaxDrawdown:      decimal.Zero,
	}

	wins := 0
	for _, t := range closedToday {
		row.DailyPnL = row.DailyPnL.Add(t.RealizedPnL())
		if t.IsWin() {
			wins++
		}
	}
	row.NumTrades = len(closedToday)
	row.EndingBankroll = starting.Add(row.DailyPnL)
	if row.NumTrades > 0 {
		row.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(row.NumTrades))).Mul(hundred)
	}
	if starting.IsPositive() {
		row.DailyPnLPct = row.DailyPnL.Div(starting).Mul(hundred)
	}

	// Daily returns of every earlier stored day, then this one
	returns := make([]decimal.Decimal, 0, len(history)+1)
	for _, h := range history {
		if h.Date < date {
			returns = append(returns, h.DailyPnLPct)
		}
	}
	returns = append(returns, row.DailyPnLPct)
	row.SharpeRatio = SharpeRatio(returns)

	row.MaxDrawdown = AnalyzePerformance(closedToEnd, e.initial).MaxDrawdown

	if err := e.ledger.UpsertDailyMetrics(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to store daily metrics for %s: %w", date, err)
	}

	e.logger.Info(ctx, "Daily metrics computed", map[string]interface{}{
		"date":        date,
		"dailyPnL":    row.DailyPnL.StringFixed(2),
		"numTrades":   row.NumTrades,
		"sharpe":      row.SharpeRatio.StringFixed(2),
		"maxDrawdown": row.MaxDrawdown.StringFixed(2),
	})
	return row, nil
}

// startingBankroll chains from the previous calendar day's stored row when present,
// otherwise it is the initial bankroll plus everything realized before the day.
func (e *Engine) startingBankroll(history []*domain.DailyMetrics, date string, closedBefore []*domain.Trade) decimal.Decimal {
	start, _, _ := domain.DayBounds(date)
	prevKey := domain.DayKey(start.AddDate(0, 0, -1))
	for _, h := range history {
		if h.Date == prevKey {
			return h.EndingBankroll
		}
	}
	starting := e.initial
	for _, t := range closedBefore {
		starting = starting.Add(t.RealizedPnL())
	}
	return starting
}

// SharpeRatio returns mean(returns) / sampleStdDev(returns).
// Fewer than two points or zero variance yields zero rather than NaN or Inf.
func SharpeRatio(returns []decimal.Decimal) decimal.Decimal {
	n := len(returns)
	if n < 2 {
		return decimal.Zero
	}
	count := decimal.NewFromInt(int64(n))
	sum := decimal.Zero
	for _, r := range returns {
		sum = sum.Add(r)
	}
	mean := sum.Div(count)

	sq := decimal.Zero
	for _, r := range returns {
		diff := r.Sub(mean)
		sq = sq.Add(diff.Mul(diff))
	}
	variance := sq.Div(decimal.NewFromInt(int64(n - 1)))
	if !variance.IsPositive() {
		return decimal.Zero
	}
	// decimal has no square root; the ratio tolerates float precision
	std := decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
	if std.IsZero() {
		return decimal.Zero
	}
	return mean.Div(std)
}

// OverallStats recomputes the performance summary from the ledger on every call.
// Marks are not persisted, so the current bankroll it reports is the realized one.
func (e *Engine) OverallStats(ctx context.Context) (*domain.Stats, error) {
	trades, err := ports.CollectTrades(e.ledger.ListTrades(ctx, ports.TradeFilter{}))
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}

	dayStart, dayEnd, _ := domain.DayBounds(domain.DayKey(e.clock()))

	stats := &domain.Stats{
		InitialBankroll: e.initial,
		UnrealizedPnL:   decimal.Zero,
		TotalPnL:        decimal.Zero,
		DailyPnL:        decimal.Zero,
		DailyPnLPct:     decimal.Zero,
		WinRate:         decimal.Zero,
		AvgTradePnL:     decimal.Zero,
		TotalPnLPct:     decimal.Zero,
	}
	for _, t := range trades {
		if t.IsOpen() {
			stats.OpenPositions++
			continue
		}
		pnl := t.RealizedPnL()
		stats.TotalTrades++
		stats.TotalPnL = stats.TotalPnL.Add(pnl)
		if t.IsWin() {
			stats.WinningTrades++
		} else {
			stats.LosingTrades++
		}
		if t.ExitTime != nil && !t.ExitTime.Before(dayStart) && t.ExitTime.Before(dayEnd) {
			stats.DailyPnL = stats.DailyPnL.Add(pnl)
		}
	}

	stats.RealizedBankroll = e.initial.Add(stats.TotalPnL)
	stats.CurrentBankroll = stats.RealizedBankroll
	stats.TotalPnLPct = stats.TotalPnL.Div(e.initial).Mul(hundred)
	if stats.TotalTrades > 0 {
		total := decimal.NewFromInt(int64(stats.TotalTrades))
		stats.WinRate = decimal.NewFromInt(int64(stats.WinningTrades)).Div(total).Mul(hundred)
		stats.AvgTradePnL = stats.TotalPnL.Div(total)
	}
	if dayStartBankroll := stats.RealizedBankroll.Sub(stats.DailyPnL); dayStartBankroll.IsPositive() {
		stats.DailyPnLPct = stats.DailyPnL.Div(dayStartBankroll).Mul(hundred)
	}
	return stats, nil
}

// EquityCurve returns (time, equity) pairs: the initial bankroll, then one point per close.
func (e *Engine) EquityCurve(ctx context.Context) ([]domain.EquityPoint, error) {
	report, err := e.Performance(ctx, ports.TradeFilter{Status: domain.StatusClosed})
	if err != nil {
		return nil, err
	}
	if len(report.EquityCurve) == 0 {
		return []domain.EquityPoint{{Time: e.clock().UTC(), Equity: e.initial}}, nil
	}
	return report.EquityCurve, nil
}

// Performance analyzes the closed trades matching filter.
func (e *Engine) Performance(ctx context.Context, filter ports.TradeFilter) (*PerformanceReport, error) {
	filter.Status = domain.StatusClosed
	trades, err := ports.CollectTrades(e.ledger.ListTrades(ctx, filter))
	if err != nil {
		return nil, fmt.Errorf("failed to load closed trades: %w", err)
	}
	return AnalyzePerformance(trades, e.initial), nil
}

// DailyMetrics returns every stored daily row; missing data is an empty slice.
func (e *Engine) DailyMetrics(ctx context.Context) ([]*domain.DailyMetrics, error) {
	rows, err := e.ledger.ListDailyMetrics(ctx)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return []*domain.DailyMetrics{}, nil
		}
		return nil, err
	}
	return rows, nil
}
