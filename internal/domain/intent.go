package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeIntent is a strategy worker's request to open a position.
type TradeIntent struct {
	Strategy   string          `json:"strategy"`
	MarketID   string          `json:"market_id"`
	Direction  Direction       `json:"direction"`
	SizeUSD    decimal.Decimal `json:"size_usd"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

// Validate checks the intent fields. It returns a descriptive error for the first problem found.
func (i TradeIntent) Validate() error {
	switch {
	case strings.TrimSpace(i.Strategy) == "":
		return fmt.Errorf("strategy is required")
	case strings.TrimSpace(i.MarketID) == "":
		return fmt.Errorf("market_id is required")
	case !i.Direction.Valid():
		return fmt.Errorf("direction %q must be LONG or SHORT", i.Direction)
	case !i.SizeUSD.IsPositive():
		return fmt.Errorf("size_usd must be positive, got %s", i.SizeUSD)
	case !i.EntryPrice.IsPositive():
		return fmt.Errorf("entry_price must be positive, got %s", i.EntryPrice)
	}
	return nil
}

// PriceTick is a mark price observation for a market.
type PriceTick struct {
	MarketID  string          `json:"market_id"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Approval is the Risk Governor's verdict on an intent.
// Only an approval with Approved set may be turned into a position.
type Approval struct {
	Intent     TradeIntent
	Approved   bool
	ApprovedAt time.Time
}

// ForceCloseFailure records a position that could not be closed.
type ForceCloseFailure struct {
	TradeID  string `json:"trade_id"`
	MarketID string `json:"market_id"`
	Err      error  `json:"-"`
	Error    string `json:"error"`
}

// ForceCloseReport summarizes an emergency close of every open position.
type ForceCloseReport struct {
	Reason   ExitReason          `json:"reason"`
	Closed   []*Trade            `json:"closed"`
	Failures []ForceCloseFailure `json:"failures"`
}

// OK reports whether every close succeeded.
func (r *ForceCloseReport) OK() bool {
	return len(r.Failures) == 0
}
