package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"polyMarketBot/internal/domain"
	"polyMarketBot/internal/ports"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	reader *Reader
	logger ports.Logger
}

// NewHandler creates a new Handler
func NewHandler(reader *Reader, logger ports.Logger) *Handler {
	return &Handler{
		reader: reader,
		logger: logger,
	}
}

// money rounds a value for presentation. Internal values keep full precision.
func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

type statsResponse struct {
	InitialBankroll  decimal.Decimal `json:"initial_bankroll"`
	CurrentBankroll  decimal.Decimal `json:"current_bankroll"`
	RealizedBankroll decimal.Decimal `json:"realized_bankroll"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL         decimal.Decimal `json:"total_pnl"`
	TotalPnLPct      decimal.Decimal `json:"total_pnl_pct"`
	DailyPnL         decimal.Decimal `json:"daily_pnl"`
	DailyPnLPct      decimal.Decimal `json:"daily_pnl_pct"`
	OpenPositions    int             `json:"open_positions"`
	TotalTrades      int             `json:"total_trades"`
	WinningTrades    int             `json:"winning_trades"`
	LosingTrades     int             `json:"losing_trades"`
	WinRate          decimal.Decimal `json:"win_rate"`
	AvgTradePnL      decimal.Decimal `json:"avg_trade_pnl"`
}

type equityResponse struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

type positionResponse struct {
	TradeID          string           `json:"trade_id"`
	MarketID         string           `json:"market_id"`
	Strategy         string           `json:"strategy"`
	Direction        domain.Direction `json:"direction"`
	EntryPrice       decimal.Decimal  `json:"entry_price"`
	CurrentPrice     decimal.Decimal  `json:"current_price"`
	SizeUSD          decimal.Decimal  `json:"size_usd"`
	Quantity         decimal.Decimal  `json:"quantity"`
	UnrealizedPnL    decimal.Decimal  `json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal  `json:"unrealized_pnl_pct"`
	EntryTime        time.Time        `json:"entry_time"`
	AgeSeconds       int64            `json:"age_seconds"`
}

type strategyResponse struct {
	Name          string          `json:"name"`
	Enabled       bool            `json:"enabled"`
	CumulativePnL decimal.Decimal `json:"cumulative_pnl"`
	TradeCount    int             `json:"trade_count"`
	WinCount      int             `json:"win_count"`
	WinRate       decimal.Decimal `json:"win_rate"`
}

type tradeResponse struct {
	ID         string             `json:"id"`
	MarketID   string             `json:"market_id"`
	Strategy   string             `json:"strategy"`
	Direction  domain.Direction   `json:"direction"`
	Status     domain.TradeStatus `json:"status"`
	EntryPrice decimal.Decimal    `json:"entry_price"`
	ExitPrice  *decimal.Decimal   `json:"exit_price"`
	SizeUSD    decimal.Decimal    `json:"size_usd"`
	PnL        *decimal.Decimal   `json:"pnl"`
	PnLPct     *decimal.Decimal   `json:"pnl_pct"`
	EntryTime  time.Time          `json:"entry_time"`
	ExitTime   *time.Time         `json:"exit_time"`
	ExitReason domain.ExitReason  `json:"exit_reason,omitempty"`
}

type dailyResponse struct {
	Date             string          `json:"date"`
	StartingBankroll decimal.Decimal `json:"starting_bankroll"`
	EndingBankroll   decimal.Decimal `json:"ending_bankroll"`
	DailyPnL         decimal.Decimal `json:"daily_pnl"`
	DailyPnLPct      decimal.Decimal `json:"daily_pnl_pct"`
	NumTrades        int             `json:"num_trades"`
	WinRate          decimal.Decimal `json:"win_rate"`
	SharpeRatio      decimal.Decimal `json:"sharpe_ratio"`
	MaxDrawdown      decimal.Decimal `json:"max_drawdown"`
}

type riskResponse struct {
	Bankroll            decimal.Decimal `json:"bankroll"`
	MaxPositionUSD      decimal.Decimal `json:"max_position_usd"`
	DailyRealizedPnL    decimal.Decimal `json:"daily_realized_pnl"`
	DailyLossLimit      decimal.Decimal `json:"daily_loss_limit"`
	OpenPositions       int             `json:"open_positions"`
	MaxConcurrentTrades int             `json:"max_concurrent_trades"`
	EnabledStrategies   int             `json:"enabled_strategies"`
	TradingHalted       bool            `json:"trading_halted"`
}

func nullMoney(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	v := money(n.Decimal)
	return &v
}

// GetStats handles GET /api/v1/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	s := h.reader.Stats(r.Context())
	respondJSON(w, http.StatusOK, statsResponse{
		InitialBankroll:  money(s.InitialBankroll),
		CurrentBankroll:  money(s.CurrentBankroll),
		RealizedBankroll: money(s.RealizedBankroll),
		UnrealizedPnL:    money(s.UnrealizedPnL),
		TotalPnL:         money(s.TotalPnL),
		TotalPnLPct:      money(s.TotalPnLPct),
		DailyPnL:         money(s.DailyPnL),
		DailyPnLPct:      money(s.DailyPnLPct),
		OpenPositions:    s.OpenPositions,
		TotalTrades:      s.TotalTrades,
		WinningTrades:    s.WinningTrades,
		LosingTrades:     s.LosingTrades,
		WinRate:          money(s.WinRate),
		AvgTradePnL:      money(s.AvgTradePnL),
	})
}

// GetEquityCurve handles GET /api/v1/equity
func (h *Handler) GetEquityCurve(w http.ResponseWriter, r *http.Request) {
	curve := h.reader.EquityCurve(r.Context())
	out := make([]equityResponse, 0, len(curve))
	for _, p := range curve {
		out = append(out, equityResponse{Timestamp: p.Time, Equity: money(p.Equity)})
	}
	respondJSON(w, http.StatusOK, out)
}

// GetOpenPositions handles GET /api/v1/positions
func (h *Handler) GetOpenPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.reader.OpenPositions()
	now := h.reader.Now()
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionResponse{
			TradeID:          p.Trade.ID,
			MarketID:         p.Trade.MarketID,
			Strategy:         p.Trade.Strategy,
			Direction:        p.Trade.Direction,
			EntryPrice:       p.Trade.EntryPrice,
			CurrentPrice:     p.CurrentPrice,
			SizeUSD:          money(p.Trade.SizeUSD),
			Quantity:         p.Trade.Quantity.Round(4),
			UnrealizedPnL:    money(p.UnrealizedPnL),
			UnrealizedPnLPct: money(p.UnrealizedPnLPct),
			EntryTime:        p.Trade.EntryTime,
			AgeSeconds:       int64(p.Age(now).Seconds()),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// GetStrategies handles GET /api/v1/strategies
func (h *Handler) GetStrategies(w http.ResponseWriter, r *http.Request) {
	strategies := h.reader.StrategyStats()
	out := make([]strategyResponse, 0, len(strategies))
	for _, s := range strategies {
		out = append(out, strategyResponse{
			Name:          s.Name,
			Enabled:       s.Enabled,
			CumulativePnL: money(s.CumulativePnL),
			TradeCount:    s.TradeCount,
			WinCount:      s.WinCount,
			WinRate:       money(s.WinRate()),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// GetRecentTrades handles GET /api/v1/trades/recent?limit=N
func (h *Handler) GetRecentTrades(w http.ResponseWriter, r *http.Request) {
	// A malformed limit falls back to the default; reads never fail on input
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.logger.Debug(r.Context(), "Ignoring malformed limit", map[string]interface{}{"limit": raw})
		}
		limit = n
	}
	trades := h.reader.RecentTrades(r.Context(), limit)
	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeResponse{
			ID:         t.ID,
			MarketID:   t.MarketID,
			Strategy:   t.Strategy,
			Direction:  t.Direction,
			Status:     t.Status,
			EntryPrice: t.EntryPrice,
			ExitPrice:  nullPrice(t.ExitPrice),
			SizeUSD:    money(t.SizeUSD),
			PnL:        nullMoney(t.PnL),
			PnLPct:     nullMoney(t.PnLPct),
			EntryTime:  t.EntryTime,
			ExitTime:   t.ExitTime,
			ExitReason: t.ExitReason,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func nullPrice(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	v := n.Decimal
	return &v
}

// GetDailyMetrics handles GET /api/v1/metrics/daily
func (h *Handler) GetDailyMetrics(w http.ResponseWriter, r *http.Request) {
	rows := h.reader.DailyMetrics(r.Context())
	out := make([]dailyResponse, 0, len(rows))
	for _, m := range rows {
		out = append(out, dailyResponse{
			Date:             m.Date,
			StartingBankroll: money(m.StartingBankroll),
			EndingBankroll:   money(m.EndingBankroll),
			DailyPnL:         money(m.DailyPnL),
			DailyPnLPct:      money(m.DailyPnLPct),
			NumTrades:        m.NumTrades,
			WinRate:          money(m.WinRate),
			SharpeRatio:      money(m.SharpeRatio),
			MaxDrawdown:      money(m.MaxDrawdown),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// GetRiskStatus handles GET /api/v1/risk
func (h *Handler) GetRiskStatus(w http.ResponseWriter, r *http.Request) {
	st := h.reader.RiskStatus(r.Context())
	respondJSON(w, http.StatusOK, riskResponse{
		Bankroll:            money(st.Bankroll),
		MaxPositionUSD:      money(st.MaxPositionUSD),
		DailyRealizedPnL:    money(st.DailyRealizedPnL),
		DailyLossLimit:      money(st.DailyLossLimit),
		OpenPositions:       st.OpenPositions,
		MaxConcurrentTrades: st.MaxConcurrentTrades,
		EnabledStrategies:   st.EnabledStrategies,
		TradingHalted:       st.TradingHalted,
	})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
