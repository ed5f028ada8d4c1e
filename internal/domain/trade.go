package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the record of one position lifecycle, from entry to exit.
// Exit fields (ExitPrice, ExitTime, ExitReason, PnL, PnLPct) are set if and only if Status is CLOSED.
type Trade struct {
	ID         string              `json:"id"`
	MarketID   string              `json:"market_id"`
	Strategy   string              `json:"strategy"`
	Direction  Direction           `json:"direction"`
	EntryPrice decimal.Decimal     `json:"entry_price"`
	ExitPrice  decimal.NullDecimal `json:"exit_price"`
	SizeUSD    decimal.Decimal     `json:"size_usd"`
	Quantity   decimal.Decimal     `json:"quantity"`
	EntryTime  time.Time           `json:"entry_time"`
	ExitTime   *time.Time          `json:"exit_time,omitempty"`
	Status     TradeStatus         `json:"status"`
	PnL        decimal.NullDecimal `json:"pnl"`
	PnLPct     decimal.NullDecimal `json:"pnl_pct"`
	ExitReason ExitReason          `json:"exit_reason,omitempty"`
}

// IsOpen checks if the trade status is open.
func (t *Trade) IsOpen() bool {
	return t.Status == StatusOpen
}

// IsWin reports whether a closed trade realized a positive PnL.
func (t *Trade) IsWin() bool {
	return t.PnL.Valid && t.PnL.Decimal.IsPositive()
}

// RealizedPnL returns the realized PnL, or zero while the trade is open.
func (t *Trade) RealizedPnL() decimal.Decimal {
	if !t.PnL.Valid {
		return decimal.Zero
	}
	return t.PnL.Decimal
}

// Close marks the trade as closed and computes PnL from the exit price.
// It does not check the current status; callers guard the OPEN -> CLOSED transition.
func (t *Trade) Close(exitPrice decimal.Decimal, exitTime time.Time, reason ExitReason) {
	pnl, pnlPct := ComputePnL(t.Direction, t.EntryPrice, exitPrice, t.Quantity)
	exitTime = exitTime.UTC()

	t.ExitPrice = decimal.NewNullDecimal(exitPrice)
	t.ExitTime = &exitTime
	t.ExitReason = reason
	t.PnL = decimal.NewNullDecimal(pnl)
	t.PnLPct = decimal.NewNullDecimal(pnlPct)
	t.Status = StatusClosed
}

// ComputePnL returns the PnL in USD and the PnL percentage for a move from entry to price.
//
//	pnl     = (price - entry) * quantity * sign
//	pnl_pct = (price - entry) / entry * sign * 100
func ComputePnL(dir Direction, entry, price, quantity decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	move := price.Sub(entry).Mul(dir.Sign())
	pnl := move.Mul(quantity)
	if entry.IsZero() {
		return pnl, decimal.Zero
	}
	return pnl, move.Div(entry).Mul(hundred)
}
