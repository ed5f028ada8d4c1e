package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"polyMarketBot/config"
	"polyMarketBot/internal/adapters/logger"
	"polyMarketBot/internal/adapters/sqlite"
	"polyMarketBot/internal/app"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(cfg.LogLevel, cfg.LogFormat)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	// 3. Initialize Ledger (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize ledger")
		log.Fatalf("FATAL: Failed to initialize ledger: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing ledger")
		}
	}()
	appLogger.Info(context.Background(), "Ledger initialized", map[string]interface{}{"path": cfg.DBPath})

	// 4. Initialize Application Service (tracker, metrics, risk governor, Read API)
	service, err := app.NewService(cfg, appLogger, repo)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize service")
		log.Fatalf("FATAL: Failed to initialize service: %v", err)
	}
	appLogger.Info(context.Background(), "Service initialized", map[string]interface{}{
		"initialBankroll":     cfg.InitialBankroll.String(),
		"maxPositionPct":      cfg.MaxPositionPct.String(),
		"maxDailyLossPct":     cfg.MaxDailyLossPct.String(),
		"maxConcurrentTrades": cfg.MaxConcurrentTrades,
		"strategies":          len(cfg.Strategies),
	})

	// 5. Run until a shutdown signal arrives
	if err := service.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Service stopped with error")
		log.Fatalf("FATAL: Service stopped with error: %v", err)
	}
}
