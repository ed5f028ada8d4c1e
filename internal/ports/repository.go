package ports

import (
	"context"
	"iter"
	"time"

	"github.com/shopspring/decimal"

	"polyMarketBot/internal/domain"
)

// TradeOrder selects the order ListTrades returns trades in.
type TradeOrder int

const (
	// OrderEntryAsc orders by (entry time, id) ascending.
	OrderEntryAsc TradeOrder = iota
	// OrderActivityDesc orders by (activity time, id) descending, where a
	// trade's activity time is its exit time once closed, its entry time before.
	OrderActivityDesc
)

// TradeFilter narrows ListTrades. Zero values mean "no constraint".
// Time ranges are half-open: [From, To).
type TradeFilter struct {
	Status    domain.TradeStatus
	Strategy  string
	MarketID  string
	EntryFrom time.Time
	EntryTo   time.Time
	ExitFrom  time.Time
	ExitTo    time.Time
	Offset    int
	Limit     int
	Order     TradeOrder
}

// LedgerStore is the durable record of trades and daily metrics.
type LedgerStore interface {
	// OpenTrade persists a new OPEN trade. Fails with ErrDuplicateID if the id exists.
	OpenTrade(ctx context.Context, trade *domain.Trade) (string, error)
	// CloseTrade marks a trade CLOSED and computes its PnL atomically.
	// Fails with ErrNotFound if absent and ErrAlreadyClosed if already closed.
	CloseTrade(ctx context.Context, id string, exitPrice decimal.Decimal, exitTime time.Time, reason domain.ExitReason) (*domain.Trade, error)
	// GetTrade retrieves a trade by id. Fails with ErrNotFound if absent.
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)
	// ListTrades returns a lazy sequence of trades in filter.Order.
	// Ranging over the sequence again re-runs the query.
	ListTrades(ctx context.Context, filter TradeFilter) iter.Seq2[*domain.Trade, error]
	// UpsertDailyMetrics writes the row for its date, overwriting any previous row.
	UpsertDailyMetrics(ctx context.Context, row *domain.DailyMetrics) error
	// GetDailyMetrics retrieves the row for date. Fails with ErrNotFound if absent.
	GetDailyMetrics(ctx context.Context, date string) (*domain.DailyMetrics, error)
	// ListDailyMetrics returns every stored row ordered by date ascending.
	ListDailyMetrics(ctx context.Context) ([]*domain.DailyMetrics, error)
}

// CollectTrades drains a trade sequence into a slice, stopping at the first error.
func CollectTrades(seq iter.Seq2[*domain.Trade, error]) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	for t, err := range seq {
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}
