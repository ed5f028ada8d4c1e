package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyMarketBot/internal/domain"
	"polyMarketBot/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "ledger-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

var baseTime = time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newOpenTrade(id, market, strategy string, entry time.Time) *domain.Trade {
	return &domain.Trade{
		ID:         id,
		MarketID:   market,
		Strategy:   strategy,
		Direction:  domain.Long,
		EntryPrice: d("0.65"),
		SizeUSD:    d("50"),
		Quantity:   d("50").Div(d("0.65")),
		EntryTime:  entry,
		Status:     domain.StatusOpen,
	}
}

func TestRepository_OpenAndGetTrade(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	trade := newOpenTrade("t-1", "M1", "Momentum", baseTime)
	id, err := repo.OpenTrade(ctx, trade)
	require.NoError(t, err)
	assert.Equal(t, "t-1", id)

	found, err := repo.GetTrade(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "M1", found.MarketID)
	assert.Equal(t, "Momentum", found.Strategy)
	assert.Equal(t, domain.Long, found.Direction)
	assert.True(t, trade.EntryPrice.Equal(found.EntryPrice))
	assert.True(t, trade.Quantity.Equal(found.Quantity))
	assert.True(t, baseTime.Equal(found.EntryTime))
	assert.Equal(t, domain.StatusOpen, found.Status)

	// Exit fields stay unset while OPEN
	assert.False(t, found.ExitPrice.Valid)
	assert.False(t, found.PnL.Valid)
	assert.False(t, found.PnLPct.Valid)
	assert.Nil(t, found.ExitTime)
	assert.Empty(t, found.ExitReason)
}

func TestRepository_OpenTradeErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Repository) error
		trade   *domain.Trade
		wantErr error
	}{
		{
			name: "duplicate id",
			setup: func(r *Repository) error {
				_, err := r.OpenTrade(context.Background(), newOpenTrade("dup", "M1", "Momentum", baseTime))
				return err
			},
			trade:   newOpenTrade("dup", "M2", "Momentum", baseTime),
			wantErr: ports.ErrDuplicateID,
		},
		{
			name:    "missing id",
			trade:   newOpenTrade("", "M1", "Momentum", baseTime),
			wantErr: ports.ErrInvalidInput,
		},
		{
			name: "closed status",
			trade: func() *domain.Trade {
				tr := newOpenTrade("closed", "M1", "Momentum", baseTime)
				tr.Status = domain.StatusClosed
				return tr
			}(),
			wantErr: ports.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, cleanup := setupTestDB(t)
			defer cleanup()

			if tt.setup != nil {
				require.NoError(t, tt.setup(repo))
			}

			_, err := repo.OpenTrade(context.Background(), tt.trade)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRepository_CloseTrade(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, err := repo.OpenTrade(ctx, newOpenTrade("t-1", "M1", "Momentum", baseTime))
	require.NoError(t, err)

	exitTime := baseTime.Add(2 * time.Hour)
	closed, err := repo.CloseTrade(ctx, "t-1", d("0.72"), exitTime, domain.ExitReasonTakeProfit)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, domain.ExitReasonTakeProfit, closed.ExitReason)
	require.True(t, closed.PnL.Valid)
	assert.Equal(t, "5.38", closed.PnL.Decimal.StringFixed(2))
	assert.Equal(t, "10.77", closed.PnLPct.Decimal.StringFixed(2))

	// Persisted values match the returned trade
	found, err := repo.GetTrade(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, found.Status)
	require.NotNil(t, found.ExitTime)
	assert.True(t, exitTime.Equal(*found.ExitTime))
	assert.True(t, closed.PnL.Decimal.Equal(found.PnL.Decimal))
	assert.True(t, d("0.72").Equal(found.ExitPrice.Decimal))
}

func TestRepository_CloseTradeErrors(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, err := repo.CloseTrade(ctx, "missing", d("1"), baseTime, domain.ExitReasonManual)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = repo.OpenTrade(ctx, newOpenTrade("t-1", "M1", "Momentum", baseTime))
	require.NoError(t, err)
	first, err := repo.CloseTrade(ctx, "t-1", d("0.60"), baseTime.Add(time.Hour), domain.ExitReasonStopLoss)
	require.NoError(t, err)

	_, err = repo.CloseTrade(ctx, "t-1", d("0.90"), baseTime.Add(3*time.Hour), domain.ExitReasonManual)
	assert.ErrorIs(t, err, ports.ErrAlreadyClosed)

	// The second close must not have changed anything
	found, err := repo.GetTrade(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, first.PnL.Decimal.Equal(found.PnL.Decimal))
	assert.Equal(t, domain.ExitReasonStopLoss, found.ExitReason)
	assert.True(t, d("0.60").Equal(found.ExitPrice.Decimal))
}

func TestRepository_ListTradesFilters(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Insert out of entry order to prove ordering comes from entry_time
	seed := []struct {
		id       string
		market   string
		strategy string
		offset   time.Duration
		close    bool
	}{
		{"c", "M3", "Momentum", 3 * time.Hour, false},
		{"a", "M1", "Momentum", 1 * time.Hour, true},
		{"b", "M2", "MeanReversion", 2 * time.Hour, false},
		{"d", "M1", "MeanReversion", 26 * time.Hour, true},
	}
	for _, s := range seed {
		_, err := repo.OpenTrade(ctx, newOpenTrade(s.id, s.market, s.strategy, baseTime.Add(s.offset)))
		require.NoError(t, err)
		if s.close {
			_, err = repo.CloseTrade(ctx, s.id, d("0.70"), baseTime.Add(s.offset+time.Hour), domain.ExitReasonSignal)
			require.NoError(t, err)
		}
	}

	ids := func(filter ports.TradeFilter) []string {
		trades, err := ports.CollectTrades(repo.ListTrades(ctx, filter))
		require.NoError(t, err)
		out := make([]string, 0, len(trades))
		for _, tr := range trades {
			out = append(out, tr.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter ports.TradeFilter
		want   []string
	}{
		{"all ordered by entry", ports.TradeFilter{}, []string{"a", "b", "c", "d"}},
		{"open only", ports.TradeFilter{Status: domain.StatusOpen}, []string{"b", "c"}},
		{"closed only", ports.TradeFilter{Status: domain.StatusClosed}, []string{"a", "d"}},
		{"by strategy", ports.TradeFilter{Strategy: "MeanReversion"}, []string{"b", "d"}},
		{"by market", ports.TradeFilter{MarketID: "M1"}, []string{"a", "d"}},
		{"entry range", ports.TradeFilter{EntryFrom: baseTime.Add(2 * time.Hour), EntryTo: baseTime.Add(24 * time.Hour)}, []string{"b", "c"}},
		{"exit on second day", ports.TradeFilter{ExitFrom: baseTime.Add(24 * time.Hour), ExitTo: baseTime.Add(48 * time.Hour)}, []string{"d"}},
		{"offset and limit", ports.TradeFilter{Offset: 1, Limit: 2}, []string{"b", "c"}},
		// Activity: d exit 27h, c entry 3h, b entry 2h, a exit 2h; id breaks the tie
		{"recent activity first", ports.TradeFilter{Order: ports.OrderActivityDesc}, []string{"d", "c", "b", "a"}},
		{"recent activity limited", ports.TradeFilter{Order: ports.OrderActivityDesc, Limit: 2}, []string{"d", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(tt.filter))
		})
	}
}

func TestRepository_ListTradesIsLazyAndRestartable(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// More rows than one page so the keyset cursor is exercised
	total := pageSize + 37
	for i := 0; i < total; i++ {
		// Several trades share an entry time; id breaks the tie
		entry := baseTime.Add(time.Duration(i/3) * time.Minute)
		_, err := repo.OpenTrade(ctx, newOpenTrade(fmt.Sprintf("t-%04d", i), "M1", "Momentum", entry))
		require.NoError(t, err)
	}

	seq := repo.ListTrades(ctx, ports.TradeFilter{})

	first, err := ports.CollectTrades(seq)
	require.NoError(t, err)
	require.Len(t, first, total)
	for i, tr := range first {
		assert.Equal(t, fmt.Sprintf("t-%04d", i), tr.ID)
	}

	// Ranging again re-runs the query and sees new rows
	_, err = repo.OpenTrade(ctx, newOpenTrade("z-late", "M1", "Momentum", baseTime.Add(24*time.Hour)))
	require.NoError(t, err)
	second, err := ports.CollectTrades(seq)
	require.NoError(t, err)
	assert.Len(t, second, total+1)

	// Breaking early stops fetching and does not hold the connection
	count := 0
	for _, err := range seq {
		require.NoError(t, err)
		count++
		if count == 5 {
			break
		}
	}
	assert.Equal(t, 5, count)
	_, err = repo.GetTrade(ctx, "t-0000")
	require.NoError(t, err)
}

func TestRepository_ListTradesLimitAcrossPages(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < pageSize+10; i++ {
		_, err := repo.OpenTrade(ctx, newOpenTrade(fmt.Sprintf("t-%04d", i), "M1", "Momentum", baseTime.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	trades, err := ports.CollectTrades(repo.ListTrades(ctx, ports.TradeFilter{Offset: 5, Limit: pageSize + 2}))
	require.NoError(t, err)
	require.Len(t, trades, pageSize+2)
	assert.Equal(t, "t-0005", trades[0].ID)
	assert.Equal(t, fmt.Sprintf("t-%04d", pageSize+6), trades[len(trades)-1].ID)
}

func TestRepository_ListTradesActivityDescAcrossPages(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	total := pageSize + 10
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("t-%04d", i)
		entry := baseTime.Add(time.Duration(i) * time.Second)
		_, err := repo.OpenTrade(ctx, newOpenTrade(id, "M1", "Momentum", entry))
		require.NoError(t, err)
		// Even trades close an hour later, after every entry
		if i%2 == 0 {
			_, err = repo.CloseTrade(ctx, id, d("0.70"), entry.Add(time.Hour), domain.ExitReasonSignal)
			require.NoError(t, err)
		}
	}

	var want []string
	for i := total - 2; i >= 0; i -= 2 {
		want = append(want, fmt.Sprintf("t-%04d", i))
	}
	for i := total - 1; i >= 0; i -= 2 {
		want = append(want, fmt.Sprintf("t-%04d", i))
	}

	trades, err := ports.CollectTrades(repo.ListTrades(ctx, ports.TradeFilter{Order: ports.OrderActivityDesc, Limit: pageSize + 5}))
	require.NoError(t, err)
	got := make([]string, 0, len(trades))
	for _, tr := range trades {
		got = append(got, tr.ID)
	}
	assert.Equal(t, want[:pageSize+5], got)
}

func TestRepository_UpsertDailyMetricsIsIdempotent(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	row := &domain.DailyMetrics{
		Date:             "2026-02-20",
		StartingBankroll: d("1000"),
		EndingBankroll:   d("1012.30"),
		DailyPnL:         d("12.30"),
		DailyPnLPct:      d("1.23"),
		NumTrades:        3,
		WinRate:          d("66.6667"),
		SharpeRatio:      d("0"),
		MaxDrawdown:      d("0.5"),
	}
	require.NoError(t, repo.UpsertDailyMetrics(ctx, row))
	require.NoError(t, repo.UpsertDailyMetrics(ctx, row))

	updated := *row
	updated.EndingBankroll = d("1020")
	updated.NumTrades = 4
	require.NoError(t, repo.UpsertDailyMetrics(ctx, &updated))

	rows, err := repo.ListDailyMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].NumTrades)
	assert.True(t, d("1020").Equal(rows[0].EndingBankroll))

	found, err := repo.GetDailyMetrics(ctx, "2026-02-20")
	require.NoError(t, err)
	assert.True(t, d("66.6667").Equal(found.WinRate))

	_, err = repo.GetDailyMetrics(ctx, "2026-02-21")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	err = repo.UpsertDailyMetrics(ctx, &domain.DailyMetrics{Date: "yesterday"})
	assert.ErrorIs(t, err, ports.ErrInvalidInput)
}

func TestRepository_StorageUnavailableAfterClose(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.Close())

	_, err := repo.OpenTrade(ctx, newOpenTrade("t-1", "M1", "Momentum", baseTime))
	assert.ErrorIs(t, err, ports.ErrStorageUnavailable)

	_, err = ports.CollectTrades(repo.ListTrades(ctx, ports.TradeFilter{}))
	assert.ErrorIs(t, err, ports.ErrStorageUnavailable)
}
