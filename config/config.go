package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"polyMarketBot/internal/adapters/logger" // Import the logger package for LogLevel
	"polyMarketBot/internal/domain"
	"polyMarketBot/internal/risk"
)

// knownStrategies are registered even when nothing enables them, so the
// dashboard lists them as paused.
var knownStrategies = []string{"Momentum", "MeanReversion", "Scalping", "Contrarian"}

// Config holds all application configuration.
type Config struct {
	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat string          // "text" or "json"

	// Read API
	HTTPAddr string

	// Bankroll and risk limits. Percentages are in percent units (5 means 5%).
	InitialBankroll     decimal.Decimal
	MaxPositionPct      decimal.Decimal
	MaxDailyLossPct     decimal.Decimal
	MaxConcurrentTrades int
	StopLossPct         decimal.Decimal
	TakeProfitPct       decimal.Decimal
	TimeStop            time.Duration

	// Strategies
	Strategies     []StrategyConfig
	StrategiesFile string

	// How often the day rollover checks whether the UTC date changed
	RolloverInterval time.Duration
}

// StrategyConfig is the configured state of one strategy.
// Zero thresholds fall back to the global StopLossPct/TakeProfitPct.
type StrategyConfig struct {
	Name          string
	Enabled       bool
	StopLossPct   decimal.Decimal
	TakeProfitPct decimal.Decimal
}

// strategiesFile is the YAML layout of STRATEGIES_FILE.
type strategiesFile struct {
	Strategies []struct {
		Name          string   `yaml:"name"`
		Enabled       *bool    `yaml:"enabled"`
		StopLossPct   *float64 `yaml:"stop_loss_pct"`
		TakeProfitPct *float64 `yaml:"take_profit_pct"`
	} `yaml:"strategies"`
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/polymarket_bot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be text or json")
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	// Bankroll and limits
	cfg.InitialBankroll, err = getEnvAsDecimalRequired("INITIAL_BANKROLL", "1000")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_BANKROLL: %v", err))
	} else if !cfg.InitialBankroll.IsPositive() {
		errs = append(errs, "INITIAL_BANKROLL must be positive")
	}

	cfg.MaxPositionPct, err = getEnvAsDecimalRequired("MAX_POSITION_PCT", "5")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_PCT: %v", err))
	}

	cfg.MaxDailyLossPct, err = getEnvAsDecimalRequired("MAX_DAILY_LOSS_PCT", "10")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_LOSS_PCT: %v", err))
	}

	cfg.MaxConcurrentTrades, err = getEnvAsIntRequired("MAX_CONCURRENT_TRADES", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_CONCURRENT_TRADES: %v", err))
	}

	cfg.StopLossPct, err = getEnvAsDecimalRequired("STOP_LOSS_PCT", "20")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PCT: %v", err))
	}

	cfg.TakeProfitPct, err = getEnvAsDecimalRequired("TAKE_PROFIT_PCT", "8")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT_PCT: %v", err))
	}

	timeStopDays, err := getEnvAsIntRequired("TIME_STOP_DAYS", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TIME_STOP_DAYS: %v", err))
	} else if timeStopDays < 0 {
		errs = append(errs, "TIME_STOP_DAYS cannot be negative")
	}
	cfg.TimeStop = time.Duration(timeStopDays) * 24 * time.Hour

	// Range checks shared with the runtime reload path
	if len(errs) == 0 {
		if err := cfg.Limits().Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	// Strategies
	cfg.Strategies = defaultStrategies(getEnv("STRATEGIES", "Momentum,MeanReversion"))
	cfg.StrategiesFile = getEnv("STRATEGIES_FILE", "")
	if cfg.StrategiesFile != "" {
		if err := cfg.applyStrategiesFile(cfg.StrategiesFile); err != nil {
			errs = append(errs, err.Error())
		}
	}

	rolloverSeconds := getEnvAsInt("ROLLOVER_CHECK_SECONDS", 60)
	if rolloverSeconds <= 0 {
		errs = append(errs, "ROLLOVER_CHECK_SECONDS must be positive")
	}
	cfg.RolloverInterval = time.Duration(rolloverSeconds) * time.Second

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// Limits returns the risk limits described by the configuration.
func (c *Config) Limits() risk.Limits {
	return risk.Limits{
		MaxPositionPct:      c.MaxPositionPct,
		MaxDailyLossPct:     c.MaxDailyLossPct,
		MaxConcurrentTrades: c.MaxConcurrentTrades,
		StopLossPct:         c.StopLossPct,
		TakeProfitPct:       c.TakeProfitPct,
		TimeStop:            c.TimeStop,
	}
}

// StrategyStates converts the strategy configuration for the position tracker.
func (c *Config) StrategyStates() []domain.StrategyState {
	out := make([]domain.StrategyState, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		out = append(out, domain.StrategyState{
			Name:          s.Name,
			Enabled:       s.Enabled,
			CumulativePnL: decimal.Zero,
			StopLossPct:   s.StopLossPct,
			TakeProfitPct: s.TakeProfitPct,
		})
	}
	return out
}

// defaultStrategies registers the known strategies plus any named in enabledList,
// enabling exactly those in enabledList.
func defaultStrategies(enabledList string) []StrategyConfig {
	enabled := make(map[string]bool)
	var names []string
	names = append(names, knownStrategies...)
	for _, n := range strings.Split(enabledList, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		enabled[n] = true
		names = append(names, n)
	}

	seen := make(map[string]bool)
	out := make([]StrategyConfig, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, StrategyConfig{Name: n, Enabled: enabled[n], StopLossPct: decimal.Zero, TakeProfitPct: decimal.Zero})
	}
	return out
}

// applyStrategiesFile overlays per-strategy settings from a YAML file.
func (c *Config) applyStrategiesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read STRATEGIES_FILE: %w", err)
	}
	var file strategiesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse STRATEGIES_FILE %s: %w", path, err)
	}

	index := make(map[string]int, len(c.Strategies))
	for i, s := range c.Strategies {
		index[s.Name] = i
	}
	for _, entry := range file.Strategies {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return fmt.Errorf("STRATEGIES_FILE %s: strategy without a name", path)
		}
		i, ok := index[name]
		if !ok {
			c.Strategies = append(c.Strategies, StrategyConfig{Name: name, StopLossPct: decimal.Zero, TakeProfitPct: decimal.Zero})
			i = len(c.Strategies) - 1
			index[name] = i
		}
		s := &c.Strategies[i]
		if entry.Enabled != nil {
			s.Enabled = *entry.Enabled
		}
		if entry.StopLossPct != nil {
			if *entry.StopLossPct < 0 {
				return fmt.Errorf("STRATEGIES_FILE %s: %s stop_loss_pct cannot be negative", path, name)
			}
			s.StopLossPct = decimal.NewFromFloat(*entry.StopLossPct)
		}
		if entry.TakeProfitPct != nil {
			if *entry.TakeProfitPct < 0 {
				return fmt.Errorf("STRATEGIES_FILE %s: %s take_profit_pct cannot be negative", path, name)
			}
			s.TakeProfitPct = decimal.NewFromFloat(*entry.TakeProfitPct)
		}
	}
	return nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimalRequired(key string, defaultValue string) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return decimal.RequireFromString(defaultValue), nil
	}
	value, err := decimal.NewFromString(strings.TrimSpace(valueStr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
