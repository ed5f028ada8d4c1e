package api

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyMarketBot/internal/domain"
	"polyMarketBot/internal/ports"
	"polyMarketBot/internal/risk"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

var errDown = fmt.Errorf("disk gone: %w", ports.ErrStorageUnavailable)

var baseTime = time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeMetrics struct {
	stats *domain.Stats
	curve []domain.EquityPoint
	daily []*domain.DailyMetrics
	err   error
}

func (f *fakeMetrics) InitialBankroll() decimal.Decimal { return decimal.NewFromInt(1000) }

func (f *fakeMetrics) OverallStats(ctx context.Context) (*domain.Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

func (f *fakeMetrics) EquityCurve(ctx context.Context) ([]domain.EquityPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.curve, nil
}

func (f *fakeMetrics) DailyMetrics(ctx context.Context) ([]*domain.DailyMetrics, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.daily, nil
}

type fakePositions struct {
	positions  []domain.Position
	strategies []domain.StrategyState
}

func (f *fakePositions) Snapshot() []domain.Position        { return f.positions }
func (f *fakePositions) Strategies() []domain.StrategyState { return f.strategies }
func (f *fakePositions) Now() time.Time                     { return baseTime.Add(2 * time.Hour) }

// fakeLedger serves ListTrades from memory; other methods are not used by the Reader.
type fakeLedger struct {
	ports.LedgerStore
	trades []*domain.Trade
	err    error
	lists  []ports.TradeFilter
}

func activityTime(t *domain.Trade) time.Time {
	if t.ExitTime != nil {
		return *t.ExitTime
	}
	return t.EntryTime
}

func (f *fakeLedger) ListTrades(ctx context.Context, filter ports.TradeFilter) iter.Seq2[*domain.Trade, error] {
	f.lists = append(f.lists, filter)
	return func(yield func(*domain.Trade, error) bool) {
		if f.err != nil {
			yield(nil, f.err)
			return
		}
		trades := append([]*domain.Trade(nil), f.trades...)
		if filter.Order == ports.OrderActivityDesc {
			sort.Slice(trades, func(i, j int) bool {
				ai, aj := activityTime(trades[i]), activityTime(trades[j])
				if ai.Equal(aj) {
					return trades[i].ID > trades[j].ID
				}
				return ai.After(aj)
			})
		}
		if filter.Limit > 0 && len(trades) > filter.Limit {
			trades = trades[:filter.Limit]
		}
		for _, t := range trades {
			if !yield(t, nil) {
				return
			}
		}
	}
}

type fakeRisk struct {
	status *risk.Status
	err    error
}

func (f *fakeRisk) Status(ctx context.Context) (*risk.Status, error) {
	return f.status, f.err
}

func openTrade(id, market string, entry time.Time) *domain.Trade {
	return &domain.Trade{
		ID:         id,
		MarketID:   market,
		Strategy:   "Momentum",
		Direction:  domain.Long,
		EntryPrice: d("0.65"),
		SizeUSD:    d("50"),
		Quantity:   d("50").Div(d("0.65")),
		EntryTime:  entry,
		Status:     domain.StatusOpen,
	}
}

func closedTrade(id, market string, entry, exit time.Time) *domain.Trade {
	t := openTrade(id, market, entry)
	t.Close(d("0.72"), exit, domain.ExitReasonTakeProfit)
	return t
}

type fixture struct {
	metrics *fakeMetrics
	ledger  *fakeLedger
	risk    *fakeRisk
	reader  *Reader
	router  http.Handler
}

func setupAPI(t *testing.T) *fixture {
	t.Helper()
	pos := domain.NewPosition(*openTrade("open-1", "M1", baseTime))
	pos.Mark(d("0.72"), baseTime.Add(time.Hour))

	f := &fixture{
		metrics: &fakeMetrics{
			stats: &domain.Stats{
				InitialBankroll:  d("1000"),
				RealizedBankroll: d("1005.384615"),
				CurrentBankroll:  d("1005.384615"),
				TotalPnL:         d("5.384615"),
				TotalPnLPct:      d("0.5384615"),
				DailyPnL:         d("5.384615"),
				DailyPnLPct:      d("0.5384615"),
				TotalTrades:      1,
				WinningTrades:    1,
				OpenPositions:    1,
				WinRate:          d("100"),
				AvgTradePnL:      d("5.384615"),
			},
			curve: []domain.EquityPoint{
				{Time: baseTime, Equity: d("1000")},
				{Time: baseTime.Add(time.Hour), Equity: d("1005.384615")},
			},
			daily: []*domain.DailyMetrics{},
		},
		ledger: &fakeLedger{trades: []*domain.Trade{
			closedTrade("a", "M1", baseTime.Add(-5*time.Hour), baseTime.Add(-1*time.Hour)),
			openTrade("b", "M2", baseTime.Add(-4*time.Hour)),
			closedTrade("c", "M3", baseTime.Add(-3*time.Hour), baseTime.Add(-2*time.Hour)),
			openTrade("e", "M5", baseTime.Add(-30*time.Minute)),
		}},
		risk: &fakeRisk{status: &risk.Status{
			Bankroll:            d("1010.77"),
			MaxPositionUSD:      d("50.5385"),
			DailyRealizedPnL:    d("5.384615"),
			DailyLossLimit:      d("100"),
			OpenPositions:       1,
			MaxConcurrentTrades: 5,
			EnabledStrategies:   2,
		}},
	}
	positions := &fakePositions{
		positions: []domain.Position{*pos},
		strategies: []domain.StrategyState{
			{Name: "MeanReversion", Enabled: true, CumulativePnL: decimal.Zero},
			{Name: "Momentum", Enabled: true, CumulativePnL: d("5.384615"), TradeCount: 1, WinCount: 1},
		},
	}
	f.reader = NewReader(ReaderConfig{
		Metrics:   f.metrics,
		Positions: positions,
		Ledger:    f.ledger,
		Risk:      f.risk,
		Logger:    &mockLogger{},
	})
	f.router = SetupRoutes(NewHandler(f.reader, &mockLogger{}))
	return f
}

func (f *fixture) get(t *testing.T, path string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if out != nil {
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestReader_FallsBackToLastGoodSnapshot(t *testing.T) {
	ctx := context.Background()
	f := setupAPI(t)

	first := f.reader.Stats(ctx)
	f.metrics.err = errDown
	second := f.reader.Stats(ctx)
	assert.True(t, first.TotalPnL.Equal(second.TotalPnL))
	assert.Equal(t, first.TotalTrades, second.TotalTrades)

	// No curve was ever read successfully: the initial bankroll alone
	curve := f.reader.EquityCurve(ctx)
	require.Len(t, curve, 1)
	assert.True(t, curve[0].Equity.Equal(d("1000")))
}

func TestReader_EmptyDefaultsBeforeFirstRead(t *testing.T) {
	ctx := context.Background()
	f := setupAPI(t)
	f.metrics.err = errDown
	f.ledger.err = errDown
	f.risk.err = errDown
	f.risk.status = nil

	stats := f.reader.Stats(ctx)
	assert.True(t, stats.RealizedBankroll.Equal(d("1000")))
	assert.Equal(t, "1005.38", stats.CurrentBankroll.StringFixed(2), "open positions still count")
	assert.True(t, stats.TotalPnL.IsZero())

	curve := f.reader.EquityCurve(ctx)
	require.Len(t, curve, 1)
	assert.True(t, curve[0].Equity.Equal(d("1000")))

	assert.Empty(t, f.reader.DailyMetrics(ctx))
	assert.NotNil(t, f.reader.DailyMetrics(ctx))
	assert.Empty(t, f.reader.RecentTrades(ctx, 5))

	st := f.reader.RiskStatus(ctx)
	assert.Equal(t, 1, st.OpenPositions)
	assert.True(t, st.Bankroll.Equal(d("1000")))
}

func TestReader_RecentTrades(t *testing.T) {
	ctx := context.Background()
	f := setupAPI(t)

	// Activity: e (entry -30m), a (exit -1h), c (exit -2h), b (entry -4h)
	recent := f.reader.RecentTrades(ctx, 3)
	require.Len(t, recent, 3)
	assert.Equal(t, "e", recent[0].ID)
	assert.Equal(t, "a", recent[1].ID)
	assert.Equal(t, "c", recent[2].ID)

	assert.Len(t, f.reader.RecentTrades(ctx, 0), 4)
	assert.Len(t, f.reader.RecentTrades(ctx, 10_000), 4)

	// The ledger does the ordering and bounding
	last := f.ledger.lists[len(f.ledger.lists)-1]
	assert.Equal(t, ports.OrderActivityDesc, last.Order)
	assert.Equal(t, MaxRecentTrades, last.Limit)

	// A failed read serves the previous result, still bounded by the new limit
	f.ledger.err = errDown
	recent = f.reader.RecentTrades(ctx, 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "e", recent[0].ID)
}

func TestHandlers_Stats(t *testing.T) {
	f := setupAPI(t)

	var body map[string]interface{}
	f.get(t, "/api/v1/stats", &body)
	// Equity: realized bankroll plus the open position marked at 0.72
	assert.Equal(t, "1010.77", body["current_bankroll"])
	assert.Equal(t, "1005.38", body["realized_bankroll"])
	assert.Equal(t, "5.38", body["unrealized_pnl"])
	assert.Equal(t, "5.38", body["total_pnl"])
	assert.Equal(t, "0.54", body["total_pnl_pct"])
	assert.Equal(t, "100", body["win_rate"])
	assert.Equal(t, float64(1), body["total_trades"])
}

func TestHandlers_PositionsAndStrategies(t *testing.T) {
	f := setupAPI(t)

	var positions []map[string]interface{}
	f.get(t, "/api/v1/positions", &positions)
	require.Len(t, positions, 1)
	assert.Equal(t, "open-1", positions[0]["trade_id"])
	assert.Equal(t, "10.77", positions[0]["unrealized_pnl_pct"])
	assert.Equal(t, "5.38", positions[0]["unrealized_pnl"])
	assert.Equal(t, float64(7200), positions[0]["age_seconds"])

	var strategies []map[string]interface{}
	f.get(t, "/api/v1/strategies", &strategies)
	require.Len(t, strategies, 2)
	assert.Equal(t, "Momentum", strategies[1]["name"])
	assert.Equal(t, "100", strategies[1]["win_rate"])
	assert.Equal(t, "0", strategies[0]["win_rate"])
}

func TestHandlers_RecentTrades(t *testing.T) {
	f := setupAPI(t)

	var trades []map[string]interface{}
	f.get(t, "/api/v1/trades/recent?limit=2", &trades)
	require.Len(t, trades, 2)
	assert.Equal(t, "e", trades[0]["id"])
	assert.Nil(t, trades[0]["pnl"])
	assert.Equal(t, "a", trades[1]["id"])
	assert.Equal(t, "5.38", trades[1]["pnl"])
	assert.Equal(t, "TAKE_PROFIT", trades[1]["exit_reason"])

	// Malformed limit falls back to the default instead of failing
	f.get(t, "/api/v1/trades/recent?limit=abc", &trades)
	assert.Len(t, trades, 4)
}

func TestHandlers_EquityDailyRisk(t *testing.T) {
	f := setupAPI(t)

	var curve []map[string]interface{}
	f.get(t, "/api/v1/equity", &curve)
	require.Len(t, curve, 2)
	assert.Equal(t, "1005.38", curve[1]["equity"])

	var daily []map[string]interface{}
	f.get(t, "/api/v1/metrics/daily", &daily)
	assert.Empty(t, daily)

	var status map[string]interface{}
	f.get(t, "/api/v1/risk", &status)
	assert.Equal(t, "50.54", status["max_position_usd"])
	assert.Equal(t, false, status["trading_halted"])
}

func TestHandlers_ReadOnlyAndHealth(t *testing.T) {
	f := setupAPI(t)

	var health map[string]string
	f.get(t, "/health", &health)
	assert.Equal(t, "healthy", health["status"])

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.get(t, "/api/v1/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
