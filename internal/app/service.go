package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"polyMarketBot/config"
	"polyMarketBot/internal/analytics"
	"polyMarketBot/internal/api"
	"polyMarketBot/internal/domain"
	"polyMarketBot/internal/ports"
	"polyMarketBot/internal/risk"
	"polyMarketBot/internal/tracker"
)

const shutdownTimeout = 5 * time.Second

// Service wires the ledger, tracker, metrics engine, risk governor and Read API,
// and owns their lifecycle.
type Service struct {
	logger   ports.Logger
	ledger   ports.LedgerStore
	tracker  *tracker.Tracker
	engine   *analytics.Engine
	governor *risk.Governor
	router   http.Handler
	clock    func() time.Time

	mu      sync.Mutex // Protects the fields below
	cfg     *config.Config
	lastDay string

	ready     chan struct{}
	readyOnce sync.Once
}

// NewService creates a new application service instance.
func NewService(cfg *config.Config, logger ports.Logger, ledger ports.LedgerStore) (*Service, error) {
	return newService(cfg, logger, ledger, time.Now)
}

func newService(cfg *config.Config, logger ports.Logger, ledger ports.LedgerStore, clock func() time.Time) (*Service, error) {
	// Validate dependencies
	if cfg == nil || logger == nil || ledger == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}
	if cfg.RolloverInterval <= 0 {
		return nil, fmt.Errorf("%w: rollover interval must be positive", ports.ErrConfigurationError)
	}

	tr, err := tracker.New(tracker.Config{
		Ledger:     ledger,
		Logger:     logger,
		Strategies: cfg.StrategyStates(),
		Clock:      clock,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create position tracker: %w", err)
	}

	engine, err := analytics.NewEngine(analytics.Config{
		Ledger:          ledger,
		Logger:          logger,
		InitialBankroll: cfg.InitialBankroll,
		Clock:           clock,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics engine: %w", err)
	}

	gov, err := risk.NewGovernor(risk.Config{
		Book:            tr,
		Logger:          logger,
		InitialBankroll: cfg.InitialBankroll,
		Limits:          cfg.Limits(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create risk governor: %w", err)
	}

	reader := api.NewReader(api.ReaderConfig{
		Metrics:   engine,
		Positions: tr,
		Ledger:    ledger,
		Risk:      gov,
		Logger:    logger,
	})

	return &Service{
		cfg:      cfg,
		logger:   logger,
		ledger:   ledger,
		tracker:  tr,
		engine:   engine,
		governor: gov,
		router:   api.SetupRoutes(api.NewHandler(reader, logger)),
		clock:    clock,
		ready:    make(chan struct{}),
	}, nil
}

// Ready is closed once the ledger has been replayed and intents are accepted.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Handler returns the Read API router.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Start replays the ledger, then serves the Read API and runs the day
// rollover until ctx is cancelled or a shutdown signal arrives.
// SIGHUP reloads the configuration.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting service...")

	// Create a context that can be canceled by signals
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown and reload
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					s.reloadFromEnv(ctx)
					continue
				}
				s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
				cancel()
				return
			}
		}
	}()

	// The in-memory state is a cache of the ledger and must be rebuilt first
	if err := s.tracker.Replay(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to replay ledger")
		return fmt.Errorf("failed to replay ledger: %w", err)
	}
	s.catchUp(ctx)
	s.readyOnce.Do(func() { close(s.ready) })

	group, ctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	addr := s.cfg.HTTPAddr
	interval := s.cfg.RolloverInterval
	s.mu.Unlock()

	if addr != "" {
		group.Go(func() error {
			if err := s.serveHTTP(ctx, addr); err != nil {
				return fmt.Errorf("read api server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.checkRollover(ctx)
			}
		}
	})

	err := group.Wait()

	// Persist today's figures so far; the rollover recomputes the final row
	flushCtx, flushCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer flushCancel()
	if _, ferr := s.engine.ComputeDaily(flushCtx, domain.DayKey(s.clock())); ferr != nil {
		s.logger.Error(flushCtx, ferr, "Failed to store daily metrics on shutdown")
	}

	if err != nil {
		return err
	}
	s.logger.Info(context.Background(), "Service stopped.")
	return nil
}

func (s *Service) serveHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info(ctx, "Read API listening", map[string]interface{}{"addr": addr})

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// catchUp finalizes yesterday's row if the process was down across midnight.
// A row written by the shutdown flush may be partial, so an existing row is
// always recomputed.
func (s *Service) catchUp(ctx context.Context) {
	now := s.clock()
	today := domain.DayKey(now)
	yesterday := domain.DayKey(now.UTC().AddDate(0, 0, -1))

	s.mu.Lock()
	s.lastDay = today
	s.mu.Unlock()

	_, err := s.ledger.GetDailyMetrics(ctx, yesterday)
	switch {
	case err == nil:
		if _, err := s.engine.ComputeDaily(ctx, yesterday); err != nil {
			s.logger.Error(ctx, err, "Failed to catch up daily metrics", map[string]interface{}{"date": yesterday})
		}
		return
	case !errors.Is(err, ports.ErrNotFound):
		s.logger.Warn(ctx, "Skipping daily metrics catch-up", map[string]interface{}{"date": yesterday, "error": err.Error()})
		return
	}

	// No row yet: only days with closes get one
	start, end, _ := domain.DayBounds(yesterday)
	closed, err := ports.CollectTrades(s.ledger.ListTrades(ctx, ports.TradeFilter{
		Status:   domain.StatusClosed,
		ExitFrom: start,
		ExitTo:   end,
		Limit:    1,
	}))
	if err != nil {
		s.logger.Warn(ctx, "Skipping daily metrics catch-up", map[string]interface{}{"date": yesterday, "error": err.Error()})
		return
	}
	if len(closed) == 0 {
		return
	}
	if _, err := s.engine.ComputeDaily(ctx, yesterday); err != nil {
		s.logger.Error(ctx, err, "Failed to catch up daily metrics", map[string]interface{}{"date": yesterday})
	}
}

// checkRollover finalizes the previous day's metrics once the UTC date changes.
func (s *Service) checkRollover(ctx context.Context) {
	today := domain.DayKey(s.clock())

	s.mu.Lock()
	previous := s.lastDay
	s.mu.Unlock()
	if previous == "" || previous == today {
		return
	}

	if _, err := s.engine.ComputeDaily(ctx, previous); err != nil {
		// Retried on the next tick
		s.logger.Error(ctx, err, "Failed to finalize daily metrics", map[string]interface{}{"date": previous})
		return
	}

	s.mu.Lock()
	s.lastDay = today
	s.mu.Unlock()
	s.logger.Info(ctx, "Day rolled over", map[string]interface{}{"closedDay": previous, "today": today})
}

// --- Strategy worker boundary ---

// SubmitIntent approves and opens a trade intent, or returns the rejection.
func (s *Service) SubmitIntent(ctx context.Context, intent domain.TradeIntent) (*domain.Position, error) {
	return s.governor.Submit(ctx, intent)
}

// HandleTick applies a price tick and returns any trades closed by standing exits.
func (s *Service) HandleTick(ctx context.Context, tick domain.PriceTick) ([]*domain.Trade, error) {
	return s.governor.OnTick(ctx, tick)
}

// ClosePosition closes one position on a strategy's exit signal.
func (s *Service) ClosePosition(ctx context.Context, tradeID string, exitPrice decimal.Decimal) (*domain.Trade, error) {
	return s.tracker.Close(ctx, tradeID, exitPrice, domain.ExitReasonSignal)
}

// ForceCloseAll is the emergency close of every open position.
func (s *Service) ForceCloseAll(ctx context.Context) *domain.ForceCloseReport {
	return s.governor.ForceCloseAll(ctx, domain.ExitReasonForcedClose)
}

// PauseAll disables every strategy.
func (s *Service) PauseAll(ctx context.Context) {
	s.governor.PauseAllStrategies(ctx)
}

// SetStrategyEnabled toggles one strategy.
func (s *Service) SetStrategyEnabled(ctx context.Context, name string, enabled bool) error {
	return s.governor.SetStrategyEnabled(ctx, name, enabled)
}

// --- Reload ---

// Reload applies new risk limits and strategy settings at runtime.
// Bankroll, storage and listen address changes need a restart.
func (s *Service) Reload(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ports.ErrConfigurationError)
	}
	if err := s.governor.UpdateLimits(ctx, cfg.Limits()); err != nil {
		return err
	}
	for _, st := range cfg.StrategyStates() {
		s.tracker.EnsureStrategy(st)
	}

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if !old.InitialBankroll.Equal(cfg.InitialBankroll) || old.DBPath != cfg.DBPath || old.HTTPAddr != cfg.HTTPAddr {
		s.logger.Warn(ctx, "Bankroll, database and listen address changes take effect after restart")
	}
	s.logger.Info(ctx, "Configuration reloaded", map[string]interface{}{"strategies": len(cfg.Strategies)})
	return nil
}

func (s *Service) reloadFromEnv(ctx context.Context) {
	cfg, err := config.LoadConfig()
	if err != nil {
		s.logger.Error(ctx, err, "Configuration reload failed, keeping current settings")
		return
	}
	if err := s.Reload(ctx, cfg); err != nil {
		s.logger.Error(ctx, err, "Configuration reload rejected, keeping current settings")
	}
}
