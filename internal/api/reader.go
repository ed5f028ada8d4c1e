package api

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polyMarketBot/internal/domain"
	"polyMarketBot/internal/ports"
	"polyMarketBot/internal/risk"
)

const (
	DefaultRecentTrades = 10
	MaxRecentTrades     = 100
)

// MetricsSource is the part of the metrics engine the dashboard reads.
type MetricsSource interface {
	InitialBankroll() decimal.Decimal
	OverallStats(ctx context.Context) (*domain.Stats, error)
	EquityCurve(ctx context.Context) ([]domain.EquityPoint, error)
	DailyMetrics(ctx context.Context) ([]*domain.DailyMetrics, error)
}

// PositionView gives point-in-time copies of the tracker state.
type PositionView interface {
	Snapshot() []domain.Position
	Strategies() []domain.StrategyState
	Now() time.Time
}

// RiskSource reports limit usage.
type RiskSource interface {
	Status(ctx context.Context) (*risk.Status, error)
}

// ReaderConfig holds the Reader's dependencies.
type ReaderConfig struct {
	Metrics   MetricsSource
	Positions PositionView
	Ledger    ports.LedgerStore
	Risk      RiskSource
	Logger    ports.Logger
}

// Reader serves read-only projections. It never returns an error: a failed
// read falls back to the last good result, or to empty values before the first one.
type Reader struct {
	metrics   MetricsSource
	positions PositionView
	ledger    ports.LedgerStore
	risk      RiskSource
	logger    ports.Logger

	mu         sync.RWMutex // Protects the last good results below
	lastStats  *domain.Stats
	lastEquity []domain.EquityPoint
	lastDaily  []*domain.DailyMetrics
	lastRecent []*domain.Trade
	lastRisk   *risk.Status
}

// NewReader creates a Reader.
func NewReader(cfg ReaderConfig) *Reader {
	return &Reader{
		metrics:   cfg.Metrics,
		positions: cfg.Positions,
		ledger:    cfg.Ledger,
		risk:      cfg.Risk,
		logger:    cfg.Logger,
	}
}

// Stats returns the overall performance summary. The ledger only knows realized
// PnL, so the current bankroll adds the unrealized PnL of the open positions at
// their latest marks.
func (r *Reader) Stats(ctx context.Context) domain.Stats {
	stats, err := r.metrics.OverallStats(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()

	var out domain.Stats
	switch {
	case err == nil:
		r.lastStats = stats
		out = *stats
	case r.lastStats != nil:
		r.degraded(ctx, err, "stats")
		out = *r.lastStats
	default:
		r.degraded(ctx, err, "stats")
		initial := r.metrics.InitialBankroll()
		out = domain.Stats{
			InitialBankroll:  initial,
			RealizedBankroll: initial,
			TotalPnL:         decimal.Zero,
			TotalPnLPct:      decimal.Zero,
			DailyPnL:         decimal.Zero,
			DailyPnLPct:      decimal.Zero,
			WinRate:          decimal.Zero,
			AvgTradePnL:      decimal.Zero,
		}
	}

	unrealized := decimal.Zero
	for _, pos := range r.positions.Snapshot() {
		unrealized = unrealized.Add(pos.UnrealizedPnL)
	}
	out.UnrealizedPnL = unrealized
	out.CurrentBankroll = out.RealizedBankroll.Add(unrealized)
	return out
}

// EquityCurve returns (time, equity) pairs in time order.
func (r *Reader) EquityCurve(ctx context.Context) []domain.EquityPoint {
	curve, err := r.metrics.EquityCurve(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.degraded(ctx, err, "equity curve")
		if r.lastEquity != nil {
			return r.lastEquity
		}
		return []domain.EquityPoint{{Time: r.positions.Now().UTC(), Equity: r.metrics.InitialBankroll()}}
	}
	r.lastEquity = curve
	return curve
}

// OpenPositions returns every OPEN position with its latest mark.
func (r *Reader) OpenPositions() []domain.Position {
	return r.positions.Snapshot()
}

// Now returns the clock reading the positions are aged against.
func (r *Reader) Now() time.Time {
	return r.positions.Now()
}

// StrategyStats returns the state of every strategy ordered by name.
func (r *Reader) StrategyStats() []domain.StrategyState {
	return r.positions.Strategies()
}

// DailyMetrics returns the stored daily rows in date order.
func (r *Reader) DailyMetrics(ctx context.Context) []*domain.DailyMetrics {
	rows, err := r.metrics.DailyMetrics(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.degraded(ctx, err, "daily metrics")
		if r.lastDaily != nil {
			return r.lastDaily
		}
		return []*domain.DailyMetrics{}
	}
	r.lastDaily = rows
	return rows
}

// RecentTrades returns up to limit trades, most recent activity first.
// A trade's activity time is its exit time once closed, its entry time before.
func (r *Reader) RecentTrades(ctx context.Context, limit int) []*domain.Trade {
	if limit <= 0 {
		limit = DefaultRecentTrades
	}
	if limit > MaxRecentTrades {
		limit = MaxRecentTrades
	}

	recent, err := r.loadRecent(ctx, limit)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.degraded(ctx, err, "recent trades")
		if len(r.lastRecent) > limit {
			return r.lastRecent[:limit]
		}
		if r.lastRecent != nil {
			return r.lastRecent
		}
		return []*domain.Trade{}
	}
	r.lastRecent = recent
	return recent
}

func (r *Reader) loadRecent(ctx context.Context, limit int) ([]*domain.Trade, error) {
	return ports.CollectTrades(r.ledger.ListTrades(ctx, ports.TradeFilter{
		Order: ports.OrderActivityDesc,
		Limit: limit,
	}))
}

// RiskStatus returns the usage of each risk limit.
func (r *Reader) RiskStatus(ctx context.Context) risk.Status {
	st, err := r.risk.Status(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.degraded(ctx, err, "risk status")
		if r.lastRisk != nil {
			return *r.lastRisk
		}
		return risk.Status{
			Bankroll:         r.metrics.InitialBankroll(),
			MaxPositionUSD:   decimal.Zero,
			DailyRealizedPnL: decimal.Zero,
			DailyLossLimit:   decimal.Zero,
			OpenPositions:    len(r.positions.Snapshot()),
		}
	}
	r.lastRisk = st
	return *st
}

func (r *Reader) degraded(ctx context.Context, err error, what string) {
	r.logger.Warn(ctx, "Serving last known "+what, map[string]interface{}{"error": err.Error()})
}
