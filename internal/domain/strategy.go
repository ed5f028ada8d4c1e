package domain

import "github.com/shopspring/decimal"

// StrategyState is the status of a named strategy.
// Counters are derived from closed trades; Enabled and the thresholds come from configuration.
type StrategyState struct {
	Name          string          `json:"name"`
	Enabled       bool            `json:"enabled"`
	CumulativePnL decimal.Decimal `json:"cumulative_pnl"`
	TradeCount    int             `json:"trade_count"`
	WinCount      int             `json:"win_count"`
	StopLossPct   decimal.Decimal `json:"stop_loss_pct"`   // Close when unrealized PnL% <= -StopLossPct; zero uses the global default
	TakeProfitPct decimal.Decimal `json:"take_profit_pct"` // Close when unrealized PnL% >= TakeProfitPct; zero uses the global default
}

// WinRate returns the percentage of winning trades, or zero without trades.
func (s *StrategyState) WinRate() decimal.Decimal {
	if s.TradeCount == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.WinCount)).Div(decimal.NewFromInt(int64(s.TradeCount))).Mul(hundred)
}

// RecordClose folds a closed trade into the strategy counters.
func (s *StrategyState) RecordClose(t *Trade) {
	s.TradeCount++
	s.CumulativePnL = s.CumulativePnL.Add(t.RealizedPnL())
	if t.IsWin() {
		s.WinCount++
	}
}
