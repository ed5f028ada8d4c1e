package domain

import "github.com/shopspring/decimal"

// Direction represents the side of a position (LONG or SHORT).
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// Sign returns +1 for LONG and -1 for SHORT.
func (d Direction) Sign() decimal.Decimal {
	if d == Short {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// TradeStatus represents the lifecycle status of a trade.
type TradeStatus string

const (
	StatusOpen   TradeStatus = "OPEN"
	StatusClosed TradeStatus = "CLOSED"
)

// ExitReason indicates why a position was closed.
type ExitReason string

const (
	ExitReasonStopLoss    ExitReason = "STOP_LOSS"
	ExitReasonTakeProfit  ExitReason = "TAKE_PROFIT"
	ExitReasonTimeStop    ExitReason = "TIME_STOP"    // Position held longer than the configured time stop
	ExitReasonForcedClose ExitReason = "FORCED_CLOSE" // Emergency close of every open position
	ExitReasonSignal      ExitReason = "SIGNAL"       // Strategy-driven exit
	ExitReasonManual      ExitReason = "MANUAL"
)

var hundred = decimal.NewFromInt(100)
