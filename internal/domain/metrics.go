package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the key format of DailyMetrics rows (calendar date, UTC).
const DateLayout = "2006-01-02"

// DailyMetrics aggregates all trades whose exit time falls on Date.
// EndingBankroll of one day equals StartingBankroll of the next.
type DailyMetrics struct {
	Date             string          `json:"date"`
	StartingBankroll decimal.Decimal `json:"starting_bankroll"`
	EndingBankroll   decimal.Decimal `json:"ending_bankroll"`
	DailyPnL         decimal.Decimal `json:"daily_pnl"`
	DailyPnLPct      decimal.Decimal `json:"daily_pnl_pct"`
	NumTrades        int             `json:"num_trades"`
	WinRate          decimal.Decimal `json:"win_rate"`
	SharpeRatio      decimal.Decimal `json:"sharpe_ratio"`
	MaxDrawdown      decimal.Decimal `json:"max_drawdown"`
}

// DayKey returns the DailyMetrics key of the UTC calendar date containing t.
func DayKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DayBounds returns [start, end) of the UTC calendar date named by key.
func DayBounds(key string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, key, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}

// Stats is the overall performance summary recomputed from the ledger.
type Stats struct {
	InitialBankroll  decimal.Decimal `json:"initial_bankroll"`
	RealizedBankroll decimal.Decimal `json:"realized_bankroll"` // Initial bankroll plus realized PnL
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`    // Open positions at their latest marks
	CurrentBankroll  decimal.Decimal `json:"current_bankroll"`  // Realized bankroll plus unrealized PnL
	TotalPnL         decimal.Decimal `json:"total_pnl"`
	TotalPnLPct      decimal.Decimal `json:"total_pnl_pct"`
	DailyPnL         decimal.Decimal `json:"daily_pnl"`
	DailyPnLPct      decimal.Decimal `json:"daily_pnl_pct"`
	OpenPositions    int             `json:"open_positions"`
	TotalTrades      int             `json:"total_trades"` // Closed trades only
	WinningTrades    int             `json:"winning_trades"`
	LosingTrades     int             `json:"losing_trades"`
	WinRate          decimal.Decimal `json:"win_rate"` // Percent
	AvgTradePnL      decimal.Decimal `json:"avg_trade_pnl"`
}

// EquityPoint is one point on the equity curve.
type EquityPoint struct {
	Time   time.Time       `json:"timestamp"`
	Equity decimal.Decimal `json:"equity"`
}
