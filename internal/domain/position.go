package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the live view of an OPEN trade together with its latest mark price.
// It is never persisted; the tracker rebuilds it from the ledger on startup.
type Position struct {
	Trade            Trade           `json:"trade"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal `json:"unrealized_pnl_pct"`
	MarkedAt         time.Time       `json:"marked_at"`
}

// NewPosition creates a position marked at the trade's entry price.
func NewPosition(t Trade) *Position {
	return &Position{
		Trade:            t,
		CurrentPrice:     t.EntryPrice,
		UnrealizedPnL:    decimal.Zero,
		UnrealizedPnLPct: decimal.Zero,
		MarkedAt:         t.EntryTime,
	}
}

// Mark revalues the position at price.
func (p *Position) Mark(price decimal.Decimal, at time.Time) {
	p.CurrentPrice = price
	p.UnrealizedPnL, p.UnrealizedPnLPct = ComputePnL(p.Trade.Direction, p.Trade.EntryPrice, price, p.Trade.Quantity)
	p.MarkedAt = at
}

// Age returns how long the position has been open as of now.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.Trade.EntryTime)
}

// BookSnapshot is one consistent reading of the open book and realized PnL.
// RealizedBefore covers every close before Day, RealizedToday the closes on Day.
type BookSnapshot struct {
	Day            string
	OpenCount      int
	UnrealizedPnL  decimal.Decimal
	RealizedBefore decimal.Decimal
	RealizedToday  decimal.Decimal
}
