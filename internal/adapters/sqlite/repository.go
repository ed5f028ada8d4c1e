package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/shopspring/decimal"

	"polyMarketBot/internal/domain"
	"polyMarketBot/internal/ports"
)

// pageSize bounds how many rows ListTrades fetches per round trip.
const pageSize = 200

// Repository implements the ports.LedgerStore interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trading_bot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode lets readers proceed while a write is in flight
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serializes every write, so two closes of the same
	// trade can never interleave between the status check and the update.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// Money columns are TEXT so decimals round-trip without float conversion.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		market_id TEXT NOT NULL,
		strategy TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		exit_price TEXT DEFAULT NULL,
		size_usd TEXT NOT NULL,
		quantity TEXT NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP DEFAULT NULL,
		status TEXT NOT NULL,
		pnl TEXT DEFAULT NULL,
		pnl_pct TEXT DEFAULT NULL,
		exit_reason TEXT DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_metrics (
		date TEXT PRIMARY KEY,
		starting_bankroll TEXT NOT NULL,
		ending_bankroll TEXT NOT NULL,
		daily_pnl TEXT NOT NULL,
		daily_pnl_pct TEXT NOT NULL,
		num_trades INTEGER NOT NULL,
		win_rate TEXT NOT NULL,
		sharpe_ratio TEXT NOT NULL,
		max_drawdown TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades (entry_time, id);
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades (status);
	CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades (exit_time);
	CREATE INDEX IF NOT EXISTS idx_trades_activity ON trades (COALESCE(exit_time, entry_time), id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// storageErr tags infrastructure failures with ports.ErrStorageUnavailable.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ports.ErrStorageUnavailable, err)
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// --- Trades ---

const tradeColumns = `id, market_id, strategy, direction, entry_price, exit_price, size_usd, quantity,
	       entry_time, exit_time, status, pnl, pnl_pct, exit_reason`

// OpenTrade persists a new OPEN trade and returns its id.
func (r *Repository) OpenTrade(ctx context.Context, trade *domain.Trade) (string, error) {
	if trade == nil || trade.ID == "" {
		return "", fmt.Errorf("%w: trade id is required", ports.ErrInvalidInput)
	}
	if trade.Status != domain.StatusOpen {
		return "", fmt.Errorf("%w: trade %s must be OPEN to be opened, got %s", ports.ErrInvalidInput, trade.ID, trade.Status)
	}

	const query = `
	INSERT INTO trades (id, market_id, strategy, direction, entry_price, size_usd, quantity, entry_time, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		trade.ID, trade.MarketID, trade.Strategy, string(trade.Direction),
		trade.EntryPrice, trade.SizeUSD, trade.Quantity, trade.EntryTime.UTC(), string(trade.Status))
	if err != nil {
		if isConstraintViolation(err) {
			return "", fmt.Errorf("trade %s: %w", trade.ID, ports.ErrDuplicateID)
		}
		return "", storageErr(fmt.Sprintf("failed to insert trade %s", trade.ID), err)
	}

	r.logger.Debug(ctx, "Trade opened", map[string]interface{}{"tradeID": trade.ID, "market": trade.MarketID, "strategy": trade.Strategy})
	return trade.ID, nil
}

// CloseTrade marks a trade CLOSED, computing PnL from the stored entry, in one transaction.
func (r *Repository) CloseTrade(ctx context.Context, id string, exitPrice decimal.Decimal, exitTime time.Time, reason domain.ExitReason) (*domain.Trade, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(fmt.Sprintf("failed to begin close of trade %s", id), err)
	}
	defer tx.Rollback() // No-op once committed

	trade, err := scanTrade(tx.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("trade %s: %w", id, ports.ErrNotFound)
		}
		return nil, storageErr(fmt.Sprintf("failed to load trade %s", id), err)
	}
	if !trade.IsOpen() {
		return nil, fmt.Errorf("trade %s: %w", id, ports.ErrAlreadyClosed)
	}

	trade.Close(exitPrice, exitTime, reason)

	const update = `
	UPDATE trades
	SET exit_price = ?, exit_time = ?, status = ?, pnl = ?, pnl_pct = ?, exit_reason = ?
	WHERE id = ? AND status = ?`

	result, err := tx.ExecContext(ctx, update,
		trade.ExitPrice, *trade.ExitTime, string(trade.Status), trade.PnL, trade.PnLPct, string(trade.ExitReason),
		id, string(domain.StatusOpen))
	if err != nil {
		return nil, storageErr(fmt.Sprintf("failed to update trade %s", id), err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, storageErr(fmt.Sprintf("failed to get rows affected for trade %s", id), err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("trade %s: %w", id, ports.ErrAlreadyClosed)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr(fmt.Sprintf("failed to commit close of trade %s", id), err)
	}

	r.logger.Debug(ctx, "Trade closed", map[string]interface{}{"tradeID": id, "pnl": trade.PnL.Decimal.String(), "reason": reason})
	return trade, nil
}

// GetTrade retrieves a trade by its id.
func (r *Repository) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	trade, err := scanTrade(r.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("trade %s: %w", id, ports.ErrNotFound)
		}
		return nil, storageErr(fmt.Sprintf("failed to query trade %s", id), err)
	}
	return trade, nil
}

// ListTrades returns a lazy sequence of trades in filter.Order.
// Rows are read in keyset pages; no connection is held while the caller's loop body runs.
func (r *Repository) ListTrades(ctx context.Context, filter ports.TradeFilter) iter.Seq2[*domain.Trade, error] {
	return func(yield func(*domain.Trade, error) bool) {
		where, args := filterClause(filter)

		remaining := filter.Limit
		offset := filter.Offset
		var cursor *domain.Trade

		for {
			limit := pageSize
			if filter.Limit > 0 && remaining < limit {
				limit = remaining
			}
			if filter.Limit > 0 && limit <= 0 {
				return
			}

			page, err := r.fetchPage(ctx, filter.Order, where, args, cursor, offset, limit)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, t := range page {
				if !yield(t, nil) {
					return
				}
			}
			if len(page) < limit {
				return
			}

			cursor = page[len(page)-1]
			offset = 0
			remaining -= len(page)
		}
	}
}

// activityExpr matches the idx_trades_activity index expression.
const activityExpr = "COALESCE(exit_time, entry_time)"

func (r *Repository) fetchPage(ctx context.Context, order ports.TradeOrder, where []string, args []interface{}, after *domain.Trade, offset, limit int) ([]*domain.Trade, error) {
	clauses := append([]string(nil), where...)
	params := append([]interface{}(nil), args...)
	orderBy := " ORDER BY entry_time ASC, id ASC"
	if order == ports.OrderActivityDesc {
		orderBy = " ORDER BY " + activityExpr + " DESC, id DESC"
	}
	if after != nil {
		if order == ports.OrderActivityDesc {
			clauses = append(clauses, "("+activityExpr+" < ? OR ("+activityExpr+" = ? AND id < ?))")
			at := after.EntryTime.UTC()
			if after.ExitTime != nil {
				at = after.ExitTime.UTC()
			}
			params = append(params, at, at, after.ID)
		} else {
			clauses = append(clauses, "(entry_time > ? OR (entry_time = ? AND id > ?))")
			entry := after.EntryTime.UTC()
			params = append(params, entry, entry, after.ID)
		}
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + tradeColumns + ` FROM trades`)
	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}
	sb.WriteString(orderBy)
	sb.WriteString(" LIMIT ? OFFSET ?")
	params = append(params, limit, offset)

	rows, err := r.db.QueryContext(ctx, sb.String(), params...)
	if err != nil {
		return nil, storageErr("failed to query trades", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0, limit)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, storageErr("failed to scan trade", err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, storageErr("error iterating trade rows", err)
	}
	return trades, nil
}

func filterClause(f ports.TradeFilter) ([]string, []interface{}) {
	var where []string
	var args []interface{}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Strategy != "" {
		where = append(where, "strategy = ?")
		args = append(args, f.Strategy)
	}
	if f.MarketID != "" {
		where = append(where, "market_id = ?")
		args = append(args, f.MarketID)
	}
	if !f.EntryFrom.IsZero() {
		where = append(where, "entry_time >= ?")
		args = append(args, f.EntryFrom.UTC())
	}
	if !f.EntryTo.IsZero() {
		where = append(where, "entry_time < ?")
		args = append(args, f.EntryTo.UTC())
	}
	if !f.ExitFrom.IsZero() {
		where = append(where, "exit_time >= ?")
		args = append(args, f.ExitFrom.UTC())
	}
	if !f.ExitTo.IsZero() {
		where = append(where, "exit_time < ?")
		args = append(args, f.ExitTo.UTC())
	}
	return where, args
}

// --- Daily Metrics ---

// UpsertDailyMetrics writes the row for its date; a second write for the same date overwrites the first.
func (r *Repository) UpsertDailyMetrics(ctx context.Context, row *domain.DailyMetrics) error {
	if row == nil || row.Date == "" {
		return fmt.Errorf("%w: daily metrics date is required", ports.ErrInvalidInput)
	}
	if _, _, err := domain.DayBounds(row.Date); err != nil {
		return fmt.Errorf("%w: invalid daily metrics date %q: %v", ports.ErrInvalidInput, row.Date, err)
	}

	const query = `
	INSERT INTO daily_metrics (date, starting_bankroll, ending_bankroll, daily_pnl, daily_pnl_pct,
	                           num_trades, win_rate, sharpe_ratio, max_drawdown)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(date) DO UPDATE SET
		starting_bankroll = excluded.starting_bankroll,
		ending_bankroll = excluded.ending_bankroll,
		daily_pnl = excluded.daily_pnl,
		daily_pnl_pct = excluded.daily_pnl_pct,
		num_trades = excluded.num_trades,
		win_rate = excluded.win_rate,
		sharpe_ratio = excluded.sharpe_ratio,
		max_drawdown = excluded.max_drawdown`

	_, err := r.db.ExecContext(ctx, query,
		row.Date, row.StartingBankroll, row.EndingBankroll, row.DailyPnL, row.DailyPnLPct,
		row.NumTrades, row.WinRate, row.SharpeRatio, row.MaxDrawdown)
	if err != nil {
		return storageErr(fmt.Sprintf("failed to upsert daily metrics for %s", row.Date), err)
	}
	r.logger.Debug(ctx, "Daily metrics upserted", map[string]interface{}{"date": row.Date, "dailyPnL": row.DailyPnL.String()})
	return nil
}

const dailyColumns = `date, starting_bankroll, ending_bankroll, daily_pnl, daily_pnl_pct,
	       num_trades, win_rate, sharpe_ratio, max_drawdown`

// GetDailyMetrics retrieves the row for date.
func (r *Repository) GetDailyMetrics(ctx context.Context, date string) (*domain.DailyMetrics, error) {
	row, err := scanDailyMetrics(r.db.QueryRowContext(ctx, `SELECT `+dailyColumns+` FROM daily_metrics WHERE date = ?`, date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("daily metrics %s: %w", date, ports.ErrNotFound)
		}
		return nil, storageErr(fmt.Sprintf("failed to query daily metrics %s", date), err)
	}
	return row, nil
}

// ListDailyMetrics returns every stored row ordered by date ascending.
func (r *Repository) ListDailyMetrics(ctx context.Context) ([]*domain.DailyMetrics, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+dailyColumns+` FROM daily_metrics ORDER BY date ASC`)
	if err != nil {
		return nil, storageErr("failed to query daily metrics", err)
	}
	defer rows.Close()

	out := make([]*domain.DailyMetrics, 0)
	for rows.Next() {
		row, err := scanDailyMetrics(rows)
		if err != nil {
			return nil, storageErr("failed to scan daily metrics", err)
		}
		out = append(out, row)
	}
	if err = rows.Err(); err != nil {
		return nil, storageErr("error iterating daily metrics rows", err)
	}
	return out, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var direction, status string
	var exitTime sql.NullTime
	var exitReason sql.NullString
	err := s.Scan(
		&t.ID, &t.MarketID, &t.Strategy, &direction, &t.EntryPrice, &t.ExitPrice, &t.SizeUSD, &t.Quantity,
		&t.EntryTime, &exitTime, &status, &t.PnL, &t.PnLPct, &exitReason)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Direction = domain.Direction(direction)
	t.Status = domain.TradeStatus(status)
	t.EntryTime = t.EntryTime.UTC()
	if exitTime.Valid {
		et := exitTime.Time.UTC()
		t.ExitTime = &et
	}
	if exitReason.Valid {
		t.ExitReason = domain.ExitReason(exitReason.String)
	}
	return t, nil
}

// scanDailyMetrics scans a row into a domain.DailyMetrics struct.
func scanDailyMetrics(s scanner) (*domain.DailyMetrics, error) {
	m := &domain.DailyMetrics{}
	err := s.Scan(
		&m.Date, &m.StartingBankroll, &m.EndingBankroll, &m.DailyPnL, &m.DailyPnLPct,
		&m.NumTrades, &m.WinRate, &m.SharpeRatio, &m.MaxDrawdown)
	if err != nil {
		return nil, err
	}
	return m, nil
}
