package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"polyMarketBot/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// PerformanceReport holds performance metrics for a set of closed trades.
// Percentages (WinRate, MaxDrawdown, Drawdown.Depth) are in percent units.
type PerformanceReport struct {
	// Basic Metrics
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
	MaxDrawdown   decimal.Decimal `json:"max_drawdown"`
	ProfitFactor  decimal.Decimal `json:"profit_factor"`
	AverageWin    decimal.Decimal `json:"average_win"`
	AverageLoss   decimal.Decimal `json:"average_loss"`
	FinalBalance  decimal.Decimal `json:"final_balance"`

	// Advanced Metrics
	MaxConsecutiveWins   int                  `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int                  `json:"max_consecutive_losses"`
	AverageTradeDuration time.Duration        `json:"average_trade_duration"`
	Expectancy           decimal.Decimal      `json:"expectancy"`
	Drawdowns            []Drawdown           `json:"drawdowns"`
	EquityCurve          []domain.EquityPoint `json:"equity_curve"`
}

// Drawdown represents a drawdown period
type Drawdown struct {
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	StartValue decimal.Decimal `json:"start_value"`
	EndValue   decimal.Decimal `json:"end_value"`
	Depth      decimal.Decimal `json:"depth"`
}

// AnalyzePerformance calculates performance metrics from trades.
// Open trades are ignored; closed trades are replayed in exit order.
func AnalyzePerformance(trades []*domain.Trade, initialBalance decimal.Decimal) *PerformanceReport {
	report := &PerformanceReport{
		WinRate:      decimal.Zero,
		TotalProfit:  decimal.Zero,
		MaxDrawdown:  decimal.Zero,
		ProfitFactor: decimal.Zero,
		AverageWin:   decimal.Zero,
		AverageLoss:  decimal.Zero,
		FinalBalance: initialBalance,
		Expectancy:   decimal.Zero,
		Drawdowns:    make([]Drawdown, 0),
		EquityCurve:  make([]domain.EquityPoint, 0),
	}

	closed := closedByExit(trades)
	if len(closed) == 0 {
		return report
	}

	currentBalance := initialBalance
	peakBalance := initialBalance
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	var currentDrawdown *Drawdown
	var consecutiveWins, consecutiveLosses int
	var totalDuration time.Duration

	report.EquityCurve = append(report.EquityCurve, domain.EquityPoint{Time: closed[0].EntryTime, Equity: initialBalance})

	for _, trade := range closed {
		pnl := trade.RealizedPnL()
		exitTime := *trade.ExitTime

		report.TotalTrades++
		if trade.IsWin() {
			report.WinningTrades++
			grossProfit = grossProfit.Add(pnl)
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			report.LosingTrades++
			grossLoss = grossLoss.Add(pnl)
			consecutiveLosses++
			consecutiveWins = 0
		}
		if consecutiveWins > report.MaxConsecutiveWins {
			report.MaxConsecutiveWins = consecutiveWins
		}
		if consecutiveLosses > report.MaxConsecutiveLosses {
			report.MaxConsecutiveLosses = consecutiveLosses
		}
		totalDuration += exitTime.Sub(trade.EntryTime)

		currentBalance = currentBalance.Add(pnl)
		report.TotalProfit = report.TotalProfit.Add(pnl)

		// Drawdown tracking
		if currentBalance.GreaterThanOrEqual(peakBalance) {
			peakBalance = currentBalance
			if currentDrawdown != nil {
				currentDrawdown.EndTime = exitTime
				currentDrawdown.EndValue = currentBalance
				report.Drawdowns = append(report.Drawdowns, *currentDrawdown)
				currentDrawdown = nil
			}
		} else {
			depth := drawdownPct(peakBalance, currentBalance)
			if currentDrawdown == nil {
				currentDrawdown = &Drawdown{
					StartTime:  exitTime,
					StartValue: peakBalance,
					Depth:      depth,
				}
			} else if depth.GreaterThan(currentDrawdown.Depth) {
				currentDrawdown.Depth = depth
			}
			if depth.GreaterThan(report.MaxDrawdown) {
				report.MaxDrawdown = depth
			}
		}

		report.EquityCurve = append(report.EquityCurve, domain.EquityPoint{Time: exitTime, Equity: currentBalance})
	}

	// Close any open drawdown
	if currentDrawdown != nil {
		currentDrawdown.EndTime = *closed[len(closed)-1].ExitTime
		currentDrawdown.EndValue = currentBalance
		report.Drawdowns = append(report.Drawdowns, *currentDrawdown)
	}

	total := decimal.NewFromInt(int64(report.TotalTrades))
	report.FinalBalance = currentBalance
	report.WinRate = decimal.NewFromInt(int64(report.WinningTrades)).Div(total).Mul(hundred)
	if report.WinningTrades > 0 {
		report.AverageWin = grossProfit.Div(decimal.NewFromInt(int64(report.WinningTrades)))
	}
	if report.LosingTrades > 0 {
		report.AverageLoss = grossLoss.Div(decimal.NewFromInt(int64(report.LosingTrades)))
	}
	if !grossLoss.IsZero() {
		report.ProfitFactor = grossProfit.Div(grossLoss.Neg())
	}
	report.Expectancy = report.TotalProfit.Div(total)
	report.AverageTradeDuration = totalDuration / time.Duration(report.TotalTrades)

	return report
}

// MaxDrawdown returns the largest peak-to-trough decline (percent) of an equity curve.
func MaxDrawdown(curve []domain.EquityPoint) decimal.Decimal {
	maxDD := decimal.Zero
	if len(curve) == 0 {
		return maxDD
	}
	peak := curve[0].Equity
	for _, p := range curve {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
			continue
		}
		if dd := drawdownPct(peak, p.Equity); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

func drawdownPct(peak, current decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() {
		return decimal.Zero
	}
	return peak.Sub(current).Div(peak).Mul(hundred)
}

// closedByExit returns the closed trades sorted by exit time, id breaking ties.
func closedByExit(trades []*domain.Trade) []*domain.Trade {
	closed := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Status == domain.StatusClosed && t.ExitTime != nil {
			closed = append(closed, t)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		if closed[i].ExitTime.Equal(*closed[j].ExitTime) {
			return closed[i].ID < closed[j].ID
		}
		return closed[i].ExitTime.Before(*closed[j].ExitTime)
	})
	return closed
}
