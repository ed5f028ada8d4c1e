package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"polyMarketBot/internal/domain"
	"polyMarketBot/internal/ports"
)

var hundred = decimal.NewFromInt(100)

// forceCloseParallelism bounds concurrent ledger writes during an emergency close.
const forceCloseParallelism = 4

// Limits holds the risk configuration. Percentages are in percent units.
type Limits struct {
	MaxPositionPct      decimal.Decimal // Largest intent as a share of current bankroll
	MaxDailyLossPct     decimal.Decimal // Realized loss per UTC day as a share of the day's starting bankroll
	MaxConcurrentTrades int
	StopLossPct         decimal.Decimal // Default for strategies without their own threshold; zero disables
	TakeProfitPct       decimal.Decimal // Default for strategies without their own threshold; zero disables
	TimeStop            time.Duration   // Close positions held at least this long; zero disables
}

// Validate checks the limits for values that would make every check meaningless.
func (l Limits) Validate() error {
	var errs []error
	if !l.MaxPositionPct.IsPositive() || l.MaxPositionPct.GreaterThan(hundred) {
		errs = append(errs, fmt.Errorf("max position pct must be in (0, 100], got %s", l.MaxPositionPct))
	}
	if !l.MaxDailyLossPct.IsPositive() || l.MaxDailyLossPct.GreaterThan(hundred) {
		errs = append(errs, fmt.Errorf("max daily loss pct must be in (0, 100], got %s", l.MaxDailyLossPct))
	}
	if l.MaxConcurrentTrades < 1 {
		errs = append(errs, fmt.Errorf("max concurrent trades must be at least 1, got %d", l.MaxConcurrentTrades))
	}
	if l.StopLossPct.IsNegative() || l.TakeProfitPct.IsNegative() {
		errs = append(errs, fmt.Errorf("stop loss and take profit pct must not be negative"))
	}
	if l.TimeStop < 0 {
		errs = append(errs, fmt.Errorf("time stop must not be negative, got %s", l.TimeStop))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ports.ErrConfigurationError, errors.Join(errs...))
	}
	return nil
}

// Reason names the limit that rejected an intent.
type Reason string

const (
	ReasonStrategyDisabled    Reason = "strategy_disabled"
	ReasonMaxPositionSize     Reason = "max_position_pct"
	ReasonMaxConcurrentTrades Reason = "max_concurrent_trades"
	ReasonMaxDailyLoss        Reason = "max_daily_loss_pct"
)

// RejectionError is returned for an intent that failed a risk check.
type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("risk rejected (%s): %s", e.Reason, e.Detail)
}

func (e *RejectionError) Unwrap() error {
	return ports.ErrRiskRejected
}

// RejectionReason extracts the violated limit from err, if err is a rejection.
func RejectionReason(err error) (Reason, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// PositionBook is the set of OPEN positions the governor guards.
type PositionBook interface {
	Open(ctx context.Context, approval *domain.Approval) (*domain.Position, error)
	UpdateMark(ctx context.Context, tick domain.PriceTick) ([]domain.Position, error)
	Close(ctx context.Context, id string, exitPrice decimal.Decimal, reason domain.ExitReason) (*domain.Trade, error)
	Snapshot() []domain.Position
	RiskSnapshot() domain.BookSnapshot
	Strategy(name string) (domain.StrategyState, bool)
	Strategies() []domain.StrategyState
	SetStrategyEnabled(name string, enabled bool) error
	DisableAll()
	Now() time.Time
}

// Config holds the governor's dependencies.
type Config struct {
	Book            PositionBook
	Logger          ports.Logger
	InitialBankroll decimal.Decimal
	Limits          Limits
}

// Governor approves entries, enforces standing exits and runs emergency actions.
// It persists nothing itself.
type Governor struct {
	book    PositionBook
	logger  ports.Logger
	initial decimal.Decimal

	limitsMu sync.RWMutex
	limits   Limits

	admitMu sync.Mutex // Serializes admission so the slot count cannot be oversubscribed
}

// NewGovernor creates a risk governor.
func NewGovernor(cfg Config) (*Governor, error) {
	if cfg.Book == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Governor")
	}
	if !cfg.InitialBankroll.IsPositive() {
		return nil, fmt.Errorf("%w: initial bankroll must be positive", ports.ErrConfigurationError)
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, err
	}
	return &Governor{
		book:    cfg.Book,
		logger:  cfg.Logger,
		initial: cfg.InitialBankroll,
		limits:  cfg.Limits,
	}, nil
}

// Limits returns the current limits.
func (g *Governor) Limits() Limits {
	g.limitsMu.RLock()
	defer g.limitsMu.RUnlock()
	return g.limits
}

// UpdateLimits replaces the limits after validating them.
func (g *Governor) UpdateLimits(ctx context.Context, l Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	g.limitsMu.Lock()
	g.limits = l
	g.limitsMu.Unlock()

	g.logger.Info(ctx, "Risk limits updated", map[string]interface{}{
		"maxPositionPct":      l.MaxPositionPct.String(),
		"maxDailyLossPct":     l.MaxDailyLossPct.String(),
		"maxConcurrentTrades": l.MaxConcurrentTrades,
		"stopLossPct":         l.StopLossPct.String(),
		"takeProfitPct":       l.TakeProfitPct.String(),
		"timeStop":            l.TimeStop.String(),
	})
	return nil
}

// ApproveEntry runs the admission checks on intent. A rejected intent yields a *RejectionError.
func (g *Governor) ApproveEntry(ctx context.Context, intent domain.TradeIntent) (*domain.Approval, error) {
	g.admitMu.Lock()
	defer g.admitMu.Unlock()
	return g.approveLocked(ctx, intent)
}

// Submit approves intent and opens it as one step, so two simultaneous
// intents never both take the last free slot.
func (g *Governor) Submit(ctx context.Context, intent domain.TradeIntent) (*domain.Position, error) {
	g.admitMu.Lock()
	defer g.admitMu.Unlock()

	approval, err := g.approveLocked(ctx, intent)
	if err != nil {
		return nil, err
	}
	return g.book.Open(ctx, approval)
}

func (g *Governor) approveLocked(ctx context.Context, intent domain.TradeIntent) (*domain.Approval, error) {
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrInvalidInput, err)
	}
	limits := g.Limits()
	now := g.book.Now()

	// (a) strategy enabled; unknown strategies are never enabled
	if s, ok := g.book.Strategy(intent.Strategy); !ok || !s.Enabled {
		return nil, g.reject(ctx, intent, ReasonStrategyDisabled, fmt.Sprintf("strategy %q is not enabled", intent.Strategy))
	}

	book := g.bankroll(g.book.RiskSnapshot())
	bankroll := book.bankroll

	// (b) position size
	maxSize := limits.MaxPositionPct.Div(hundred).Mul(bankroll)
	if intent.SizeUSD.GreaterThan(maxSize) {
		return nil, g.reject(ctx, intent, ReasonMaxPositionSize,
			fmt.Sprintf("size %s exceeds %s%% of bankroll %s (max %s)",
				intent.SizeUSD.StringFixed(2), limits.MaxPositionPct, bankroll.StringFixed(2), maxSize.StringFixed(2)))
	}

	// (c) concurrent positions
	if book.OpenCount >= limits.MaxConcurrentTrades {
		return nil, g.reject(ctx, intent, ReasonMaxConcurrentTrades,
			fmt.Sprintf("%d open positions, limit %d", book.OpenCount, limits.MaxConcurrentTrades))
	}

	// (d) realized loss today
	maxLoss := limits.MaxDailyLossPct.Div(hundred).Mul(book.dayStart)
	if loss := book.RealizedToday.Neg(); loss.GreaterThanOrEqual(maxLoss) {
		return nil, g.reject(ctx, intent, ReasonMaxDailyLoss,
			fmt.Sprintf("realized loss today %s reached limit %s", loss.StringFixed(2), maxLoss.StringFixed(2)))
	}

	return &domain.Approval{Intent: intent, Approved: true, ApprovedAt: now}, nil
}

// bookValue is a book snapshot priced against the initial bankroll.
type bookValue struct {
	domain.BookSnapshot
	dayStart decimal.Decimal // Bankroll at the start of the UTC day, realized only
	bankroll decimal.Decimal // Cash plus unrealized PnL
}

func (g *Governor) bankroll(snap domain.BookSnapshot) bookValue {
	dayStart := g.initial.Add(snap.RealizedBefore)
	return bookValue{
		BookSnapshot: snap,
		dayStart:     dayStart,
		bankroll:     dayStart.Add(snap.RealizedToday).Add(snap.UnrealizedPnL),
	}
}

func (g *Governor) reject(ctx context.Context, intent domain.TradeIntent, reason Reason, detail string) error {
	g.logger.Warn(ctx, "Trade intent rejected", map[string]interface{}{
		"strategy": intent.Strategy,
		"market":   intent.MarketID,
		"sizeUSD":  intent.SizeUSD.String(),
		"reason":   reason,
		"detail":   detail,
	})
	return &RejectionError{Reason: reason, Detail: detail}
}

// OnTick marks the tick's market and closes every position whose stop-loss,
// take-profit or time stop is breached. It returns the trades it closed.
func (g *Governor) OnTick(ctx context.Context, tick domain.PriceTick) ([]*domain.Trade, error) {
	marked, err := g.book.UpdateMark(ctx, tick)
	if err != nil {
		return nil, err
	}
	limits := g.Limits()
	now := g.book.Now()

	var closed []*domain.Trade
	var errs []error
	for _, pos := range marked {
		reason, hit := g.exitReason(pos, limits, now)
		if !hit {
			continue
		}
		trade, err := g.book.Close(ctx, pos.Trade.ID, pos.CurrentPrice, reason)
		if err != nil {
			// Someone else closed it between the mark and here
			if errors.Is(err, ports.ErrAlreadyClosed) || errors.Is(err, ports.ErrNotFound) {
				continue
			}
			g.logger.Error(ctx, err, "Standing exit failed", map[string]interface{}{"tradeID": pos.Trade.ID, "reason": reason})
			errs = append(errs, err)
			continue
		}
		g.logger.Info(ctx, "Standing exit triggered", map[string]interface{}{
			"tradeID": trade.ID,
			"reason":  reason,
			"pnlPct":  trade.PnLPct.Decimal.StringFixed(2),
		})
		closed = append(closed, trade)
	}
	return closed, errors.Join(errs...)
}

// exitReason evaluates a marked position against its strategy's thresholds.
func (g *Governor) exitReason(pos domain.Position, limits Limits, now time.Time) (domain.ExitReason, bool) {
	stopLoss, takeProfit := limits.StopLossPct, limits.TakeProfitPct
	if s, ok := g.book.Strategy(pos.Trade.Strategy); ok {
		if s.StopLossPct.IsPositive() {
			stopLoss = s.StopLossPct
		}
		if s.TakeProfitPct.IsPositive() {
			takeProfit = s.TakeProfitPct
		}
	}

	switch {
	case stopLoss.IsPositive() && pos.UnrealizedPnLPct.LessThanOrEqual(stopLoss.Neg()):
		return domain.ExitReasonStopLoss, true
	case takeProfit.IsPositive() && pos.UnrealizedPnLPct.GreaterThanOrEqual(takeProfit):
		return domain.ExitReasonTakeProfit, true
	case limits.TimeStop > 0 && pos.Age(now) >= limits.TimeStop:
		return domain.ExitReasonTimeStop, true
	}
	return "", false
}

// ForceCloseAll closes every OPEN position at its mark price. Each close is
// attempted independently; failures are collected in the report.
func (g *Governor) ForceCloseAll(ctx context.Context, reason domain.ExitReason) *domain.ForceCloseReport {
	if reason == "" {
		reason = domain.ExitReasonForcedClose
	}
	positions := g.book.Snapshot()

	type result struct {
		trade *domain.Trade
		err   error
	}
	results := make([]result, len(positions))

	var eg errgroup.Group
	eg.SetLimit(forceCloseParallelism)
	for i, pos := range positions {
		eg.Go(func() error {
			price := pos.CurrentPrice
			if !price.IsPositive() {
				price = pos.Trade.EntryPrice
			}
			trade, err := g.book.Close(ctx, pos.Trade.ID, price, reason)
			results[i] = result{trade: trade, err: err}
			return nil
		})
	}
	_ = eg.Wait()

	report := &domain.ForceCloseReport{
		Reason:   reason,
		Closed:   make([]*domain.Trade, 0, len(positions)),
		Failures: make([]domain.ForceCloseFailure, 0),
	}
	for i, r := range results {
		// Closed elsewhere after the snapshot; nothing left to do
		if errors.Is(r.err, ports.ErrAlreadyClosed) || errors.Is(r.err, ports.ErrNotFound) {
			g.logger.Debug(ctx, "Position already closed", map[string]interface{}{"tradeID": positions[i].Trade.ID})
			continue
		}
		if r.err != nil {
			report.Failures = append(report.Failures, domain.ForceCloseFailure{
				TradeID:  positions[i].Trade.ID,
				MarketID: positions[i].Trade.MarketID,
				Err:      r.err,
				Error:    r.err.Error(),
			})
			continue
		}
		report.Closed = append(report.Closed, r.trade)
	}

	fields := map[string]interface{}{"reason": reason, "closed": len(report.Closed), "failed": len(report.Failures)}
	if report.OK() {
		g.logger.Warn(ctx, "Force-closed all positions", fields)
	} else {
		g.logger.Error(ctx, errors.New("force close incomplete"), "Force-close finished with failures", fields)
	}
	return report
}

// PauseAllStrategies disables every strategy. Calling it again has no further effect.
func (g *Governor) PauseAllStrategies(ctx context.Context) {
	g.book.DisableAll()
	g.logger.Warn(ctx, "All strategies paused")
}

// SetStrategyEnabled enables or disables one strategy.
func (g *Governor) SetStrategyEnabled(ctx context.Context, name string, enabled bool) error {
	if err := g.book.SetStrategyEnabled(name, enabled); err != nil {
		return err
	}
	g.logger.Info(ctx, "Strategy toggled", map[string]interface{}{"strategy": name, "enabled": enabled})
	return nil
}

// Status is the current usage of each limit.
type Status struct {
	Bankroll            decimal.Decimal `json:"bankroll"`
	MaxPositionUSD      decimal.Decimal `json:"max_position_usd"`
	DailyRealizedPnL    decimal.Decimal `json:"daily_realized_pnl"`
	DailyLossLimit      decimal.Decimal `json:"daily_loss_limit"`
	OpenPositions       int             `json:"open_positions"`
	MaxConcurrentTrades int             `json:"max_concurrent_trades"`
	EnabledStrategies   int             `json:"enabled_strategies"`
	TradingHalted       bool            `json:"trading_halted"` // Daily loss limit reached or every strategy paused
}

// Status reports limit usage as of now.
func (g *Governor) Status(ctx context.Context) (*Status, error) {
	limits := g.Limits()
	book := g.bankroll(g.book.RiskSnapshot())

	st := &Status{
		Bankroll:            book.bankroll,
		MaxPositionUSD:      limits.MaxPositionPct.Div(hundred).Mul(book.bankroll),
		DailyRealizedPnL:    book.RealizedToday,
		DailyLossLimit:      limits.MaxDailyLossPct.Div(hundred).Mul(book.dayStart),
		OpenPositions:       book.OpenCount,
		MaxConcurrentTrades: limits.MaxConcurrentTrades,
	}
	for _, s := range g.book.Strategies() {
		if s.Enabled {
			st.EnabledStrategies++
		}
	}
	st.TradingHalted = st.EnabledStrategies == 0 || book.RealizedToday.Neg().GreaterThanOrEqual(st.DailyLossLimit)
	return st, nil
}
