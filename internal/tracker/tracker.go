// Package tracker keeps the authoritative in-memory set of OPEN positions.
//
// All mutations for one market (open, mark, close) are serialized through a
// per-market mutex; different markets proceed in parallel. Persistence happens
// before the in-memory state is touched, so a failed ledger write leaves the
// tracker exactly as it was.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"polyMarketBot/internal/domain"
	"polyMarketBot/internal/ports"
)

// Config holds the tracker's dependencies.
type Config struct {
	Ledger     ports.LedgerStore
	Logger     ports.Logger
	Strategies []domain.StrategyState // Configured strategies, registered before replay
	Clock      func() time.Time       // Defaults to time.Now
	NewID      func() string          // Defaults to uuid.NewString
}

// Tracker owns the OPEN -> CLOSED transition of every trade.
type Tracker struct {
	ledger ports.LedgerStore
	logger ports.Logger
	clock  func() time.Time
	newID  func() string

	locksMu     sync.Mutex
	marketLocks map[string]*marketLock

	mu         sync.RWMutex // Protects the fields below
	open       map[string]*domain.Position
	byMarket   map[string]map[string]struct{}
	strategies map[string]*domain.StrategyState

	// Realized PnL split at the start of realizedDay
	realizedDay    string
	realizedBefore decimal.Decimal
	realizedToday  decimal.Decimal

	replayed atomic.Bool
}

// New creates a tracker. Replay must be called before it accepts positions.
func New(cfg Config) (*Tracker, error) {
	if cfg.Ledger == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Tracker")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	t := &Tracker{
		ledger:      cfg.Ledger,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		newID:       cfg.NewID,
		marketLocks: make(map[string]*marketLock),
		open:        make(map[string]*domain.Position),
		byMarket:    make(map[string]map[string]struct{}),
		strategies:  make(map[string]*domain.StrategyState),

		realizedBefore: decimal.Zero,
		realizedToday:  decimal.Zero,
	}
	for _, s := range cfg.Strategies {
		t.EnsureStrategy(s)
	}
	return t, nil
}

type marketLock struct {
	sync.Mutex
	refs int // Holders and waiters, guarded by locksMu
}

// lockMarket acquires the mutex serializing mutations of one market and
// returns its release. The entry is dropped once nobody holds or waits for it.
func (t *Tracker) lockMarket(marketID string) func() {
	t.locksMu.Lock()
	m, ok := t.marketLocks[marketID]
	if !ok {
		m = &marketLock{}
		t.marketLocks[marketID] = m
	}
	m.refs++
	t.locksMu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		t.locksMu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(t.marketLocks, marketID)
		}
		t.locksMu.Unlock()
	}
}

// Replay rebuilds the OPEN set and the strategy counters from the ledger.
func (t *Tracker) Replay(ctx context.Context) error {
	openTrades, err := ports.CollectTrades(t.ledger.ListTrades(ctx, ports.TradeFilter{Status: domain.StatusOpen}))
	if err != nil {
		return fmt.Errorf("failed to load open trades: %w", err)
	}
	closedTrades, err := ports.CollectTrades(t.ledger.ListTrades(ctx, ports.TradeFilter{Status: domain.StatusClosed}))
	if err != nil {
		return fmt.Errorf("failed to load closed trades: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.open = make(map[string]*domain.Position, len(openTrades))
	t.byMarket = make(map[string]map[string]struct{})
	for _, s := range t.strategies {
		s.CumulativePnL = decimal.Zero
		s.TradeCount = 0
		s.WinCount = 0
	}
	t.realizedDay = domain.DayKey(t.clock())
	t.realizedBefore = decimal.Zero
	t.realizedToday = decimal.Zero

	for _, tr := range openTrades {
		t.insertLocked(domain.NewPosition(*tr))
		t.strategyLocked(tr.Strategy)
	}
	for _, tr := range closedTrades {
		t.strategyLocked(tr.Strategy).RecordClose(tr)
		t.accrueLocked(tr)
	}

	t.replayed.Store(true)
	t.logger.Info(ctx, "Position tracker replayed ledger", map[string]interface{}{
		"openPositions": len(openTrades),
		"closedTrades":  len(closedTrades),
	})
	return nil
}

// Open turns an approved intent into an OPEN position.
func (t *Tracker) Open(ctx context.Context, approval *domain.Approval) (*domain.Position, error) {
	if !t.replayed.Load() {
		return nil, ports.ErrNotReady
	}
	if approval == nil || !approval.Approved {
		return nil, fmt.Errorf("open without approval: %w", ports.ErrRiskRejected)
	}
	intent := approval.Intent
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrInvalidInput, err)
	}

	unlock := t.lockMarket(intent.MarketID)
	defer unlock()

	trade := &domain.Trade{
		ID:         t.newID(),
		MarketID:   intent.MarketID,
		Strategy:   intent.Strategy,
		Direction:  intent.Direction,
		EntryPrice: intent.EntryPrice,
		SizeUSD:    intent.SizeUSD,
		Quantity:   intent.SizeUSD.Div(intent.EntryPrice),
		EntryTime:  t.clock().UTC(),
		Status:     domain.StatusOpen,
	}

	if _, err := t.ledger.OpenTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to persist trade for market %s: %w", intent.MarketID, err)
	}

	pos := domain.NewPosition(*trade)
	t.mu.Lock()
	t.insertLocked(pos)
	t.strategyLocked(trade.Strategy)
	snapshot := *pos
	t.mu.Unlock()

	t.logger.Info(ctx, "Position opened", map[string]interface{}{
		"tradeID":   trade.ID,
		"market":    trade.MarketID,
		"strategy":  trade.Strategy,
		"direction": trade.Direction,
		"entry":     trade.EntryPrice.String(),
		"sizeUSD":   trade.SizeUSD.String(),
	})
	return &snapshot, nil
}

// UpdateMark revalues every OPEN position on the tick's market.
// Marks are ephemeral and never persisted. It returns the updated positions.
func (t *Tracker) UpdateMark(ctx context.Context, tick domain.PriceTick) ([]domain.Position, error) {
	if tick.MarketID == "" || !tick.Price.IsPositive() {
		return nil, fmt.Errorf("%w: tick for market %q with price %s", ports.ErrInvalidInput, tick.MarketID, tick.Price)
	}
	at := tick.Timestamp
	if at.IsZero() {
		at = t.clock()
	}

	unlock := t.lockMarket(tick.MarketID)
	defer unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	ids := t.byMarket[tick.MarketID]
	updated := make([]domain.Position, 0, len(ids))
	for id := range ids {
		pos := t.open[id]
		pos.Mark(tick.Price, at.UTC())
		updated = append(updated, *pos)
	}
	sortPositions(updated)

	if len(updated) > 0 {
		t.logger.Debug(ctx, "Marks updated", map[string]interface{}{"market": tick.MarketID, "price": tick.Price.String(), "positions": len(updated)})
	}
	return updated, nil
}

// Close moves an OPEN position to CLOSED at exitPrice.
func (t *Tracker) Close(ctx context.Context, id string, exitPrice decimal.Decimal, reason domain.ExitReason) (*domain.Trade, error) {
	if !t.replayed.Load() {
		return nil, ports.ErrNotReady
	}
	if !exitPrice.IsPositive() {
		return nil, fmt.Errorf("%w: exit price %s for trade %s", ports.ErrInvalidInput, exitPrice, id)
	}

	marketID, err := t.marketOf(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := t.lockMarket(marketID)
	defer unlock()

	closed, err := t.ledger.CloseTrade(ctx, id, exitPrice, t.clock(), reason)
	if err != nil {
		return nil, fmt.Errorf("failed to close trade %s: %w", id, err)
	}

	t.mu.Lock()
	t.removeLocked(id, marketID)
	t.strategyLocked(closed.Strategy).RecordClose(closed)
	t.accrueLocked(closed)
	t.mu.Unlock()

	t.logger.Info(ctx, "Position closed", map[string]interface{}{
		"tradeID": id,
		"market":  marketID,
		"exit":    exitPrice.String(),
		"pnl":     closed.PnL.Decimal.StringFixed(2),
		"reason":  reason,
	})
	return closed, nil
}

// marketOf finds the market of a trade, falling back to the ledger for trades not held in memory.
func (t *Tracker) marketOf(ctx context.Context, id string) (string, error) {
	t.mu.RLock()
	pos, ok := t.open[id]
	t.mu.RUnlock()
	if ok {
		return pos.Trade.MarketID, nil
	}

	trade, err := t.ledger.GetTrade(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return "", fmt.Errorf("trade %s: %w", id, ports.ErrNotFound)
		}
		return "", err
	}
	if !trade.IsOpen() {
		return "", fmt.Errorf("trade %s: %w", id, ports.ErrAlreadyClosed)
	}
	return trade.MarketID, nil
}

// --- Point-in-time reads ---

// Snapshot returns a copy of every OPEN position ordered by entry time.
func (t *Tracker) Snapshot() []domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Position, 0, len(t.open))
	for _, pos := range t.open {
		out = append(out, *pos)
	}
	sortPositions(out)
	return out
}

// Position returns a copy of one OPEN position.
func (t *Tracker) Position(id string) (domain.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.open[id]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// OpenCount returns the number of OPEN positions.
func (t *Tracker) OpenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.open)
}

// UnrealizedPnL sums the unrealized PnL of every OPEN position at its last mark.
func (t *Tracker) UnrealizedPnL() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := decimal.Zero
	for _, pos := range t.open {
		total = total.Add(pos.UnrealizedPnL)
	}
	return total
}

// RiskSnapshot reads the open count, the unrealized PnL and the realized PnL
// split at the start of the current UTC day under one lock, so a close can
// never be counted in one figure and missing from another.
func (t *Tracker) RiskSnapshot() domain.BookSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked(domain.DayKey(t.clock()))

	unrealized := decimal.Zero
	for _, pos := range t.open {
		unrealized = unrealized.Add(pos.UnrealizedPnL)
	}
	return domain.BookSnapshot{
		Day:            t.realizedDay,
		OpenCount:      len(t.open),
		UnrealizedPnL:  unrealized,
		RealizedBefore: t.realizedBefore,
		RealizedToday:  t.realizedToday,
	}
}

// Now returns the tracker's clock reading.
func (t *Tracker) Now() time.Time {
	return t.clock()
}

// --- Strategy state ---

// EnsureStrategy registers a strategy if unknown, or refreshes its configuration if known.
// Counters of an existing strategy are kept.
func (t *Tracker) EnsureStrategy(cfg domain.StrategyState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.strategies[cfg.Name]
	if !ok {
		t.strategies[cfg.Name] = &domain.StrategyState{
			Name:          cfg.Name,
			Enabled:       cfg.Enabled,
			CumulativePnL: decimal.Zero,
			StopLossPct:   cfg.StopLossPct,
			TakeProfitPct: cfg.TakeProfitPct,
		}
		return
	}
	s.Enabled = cfg.Enabled
	s.StopLossPct = cfg.StopLossPct
	s.TakeProfitPct = cfg.TakeProfitPct
}

// Strategy returns a copy of one strategy's state.
func (t *Tracker) Strategy(name string) (domain.StrategyState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.strategies[name]
	if !ok {
		return domain.StrategyState{}, false
	}
	return *s, true
}

// Strategies returns a copy of every strategy's state ordered by name.
func (t *Tracker) Strategies() []domain.StrategyState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.StrategyState, 0, len(t.strategies))
	for _, s := range t.strategies {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetStrategyEnabled enables or disables a registered strategy.
func (t *Tracker) SetStrategyEnabled(name string, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.strategies[name]
	if !ok {
		return fmt.Errorf("strategy %q: %w", name, ports.ErrNotFound)
	}
	s.Enabled = enabled
	return nil
}

// DisableAll sets enabled=false on every strategy.
func (t *Tracker) DisableAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.strategies {
		s.Enabled = false
	}
}

// --- Helpers (callers hold t.mu) ---

func (t *Tracker) insertLocked(pos *domain.Position) {
	t.open[pos.Trade.ID] = pos
	ids, ok := t.byMarket[pos.Trade.MarketID]
	if !ok {
		ids = make(map[string]struct{})
		t.byMarket[pos.Trade.MarketID] = ids
	}
	ids[pos.Trade.ID] = struct{}{}
}

func (t *Tracker) removeLocked(id, marketID string) {
	delete(t.open, id)
	if ids, ok := t.byMarket[marketID]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(t.byMarket, marketID)
		}
	}
}

// accrueLocked adds a closed trade's PnL to the realized split by its exit date.
func (t *Tracker) accrueLocked(tr *domain.Trade) {
	if tr.ExitTime == nil {
		return
	}
	day := domain.DayKey(*tr.ExitTime)
	t.rollLocked(day)
	if day == t.realizedDay {
		t.realizedToday = t.realizedToday.Add(tr.RealizedPnL())
		return
	}
	t.realizedBefore = t.realizedBefore.Add(tr.RealizedPnL())
}

// rollLocked moves the day's realized PnL into the running total once day is
// later than realizedDay. Day keys are ISO dates, so string order is date order.
func (t *Tracker) rollLocked(day string) {
	if day <= t.realizedDay {
		return
	}
	t.realizedBefore = t.realizedBefore.Add(t.realizedToday)
	t.realizedToday = decimal.Zero
	t.realizedDay = day
}

// strategyLocked returns the state for name, creating a disabled entry for
// strategies that only exist in trade history.
func (t *Tracker) strategyLocked(name string) *domain.StrategyState {
	s, ok := t.strategies[name]
	if !ok {
		s = &domain.StrategyState{Name: name, CumulativePnL: decimal.Zero}
		t.strategies[name] = s
	}
	return s
}

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Trade.EntryTime.Equal(ps[j].Trade.EntryTime) {
			return ps[i].Trade.ID < ps[j].Trade.ID
		}
		return ps[i].Trade.EntryTime.Before(ps[j].Trade.EntryTime)
	})
}
