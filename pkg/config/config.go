package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"trigger-engine/internal/order"
	"trigger-engine/internal/signal"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the trigger engine.
type Config struct {
	Port     string
	GRPCPort string

	// Binance
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	UseMockFeed      bool

	// Execution
	DryRun bool

	// Dry-run simulation
	DryRunInitialBalance float64
	DryRunFeeRate        float64 // decimal (e.g. 0.0004 = 4 bps)
	DryRunSlippageBps    float64 // slippage applied on fills (bps)
	DryRunLatencyMinMs   int     // simulated venue latency lower bound
	DryRunLatencyMaxMs   int     // simulated venue latency upper bound

	// Database
	DBPath         string
	OrderRetention int
	PriceRetention int
	PriceFlushMs   int

	// Engine tunables
	QueuePacingMs          int
	ReconnectBaseDelayMs   int
	MaxReconnectAttempts   int
	InitRetries            int
	InitRetryDelayMs       int
	ShutdownTimeoutSeconds int

	// Auth
	JWTSecret         string
	WebhookSecretHash string

	// API rate limiting
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Logging
	LogLevel  string
	LogPretty bool

	// Strategy file
	TradingConfigPath string
	Trading           Trading
}

// Trading is the trading.yaml document: signal thresholds and risk sizing.
type Trading struct {
	Thresholds signal.Thresholds `yaml:"thresholds"`
	Risk       order.RiskConfig  `yaml:"risk"`
}

// DefaultTrading mirrors the bundled trading.yaml.
func DefaultTrading() Trading {
	return Trading{
		Thresholds: signal.Thresholds{
			PlusDIThreshold:  25,
			MinusDIThreshold: 20,
			ADXMinimum:       20,
		},
		Risk: order.RiskConfig{
			TakeProfitPercent: 2,
			StopLossPercent:   1,
			DefaultQuantity:   0.001,
			PricePrecision:    2,
		},
	}
}

// Load reads environment variables (optionally via .env) into Config and
// merges the trading file.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", "8080"),
		GRPCPort:               getEnv("GRPC_PORT", "9090"),
		BinanceTestnet:         getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceAPIKey:          os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:       os.Getenv("BINANCE_API_SECRET"),
		UseMockFeed:            getEnv("USE_MOCK_FEED", "true") == "true",
		DryRun:                 getEnv("DRY_RUN", "true") == "true",
		DryRunInitialBalance:   getEnvFloat("DRY_RUN_INITIAL_BALANCE", 10000.0),
		DryRunFeeRate:          getEnvFloat("DRY_RUN_FEE_RATE", 0.0004),
		DryRunSlippageBps:      getEnvFloat("DRY_RUN_SLIPPAGE_BPS", 2),
		DryRunLatencyMinMs:     getEnvInt("DRY_RUN_LATENCY_MIN_MS", 0),
		DryRunLatencyMaxMs:     getEnvInt("DRY_RUN_LATENCY_MAX_MS", 0),
		DBPath:                 getEnv("DB_PATH", "./data/trigger.db"),
		OrderRetention:         getEnvInt("ORDER_RETENTION", 1000),
		PriceRetention:         getEnvInt("PRICE_RETENTION", 5000),
		PriceFlushMs:           getEnvInt("PRICE_FLUSH_MS", 1000),
		QueuePacingMs:          getEnvInt("QUEUE_PACING_MS", 100),
		ReconnectBaseDelayMs:   getEnvInt("RECONNECT_BASE_DELAY_MS", 1000),
		MaxReconnectAttempts:   getEnvInt("MAX_RECONNECT_ATTEMPTS", 5),
		InitRetries:            getEnvInt("INIT_RETRIES", 3),
		InitRetryDelayMs:       getEnvInt("INIT_RETRY_DELAY_MS", 2000),
		ShutdownTimeoutSeconds: getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 10),
		JWTSecret:              getEnv("JWT_SECRET", "dev-secret"),
		WebhookSecretHash:      os.Getenv("WEBHOOK_SECRET_HASH"),
		RateLimitPerSecond:     getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:         getEnvInt("RATE_LIMIT_BURST", 50),
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogPretty:              getEnv("LOG_PRETTY", "false") == "true",
		TradingConfigPath:      getEnv("TRADING_CONFIG", "trading.yaml"),
	}

	trading, err := LoadTrading(cfg.TradingConfigPath)
	if err != nil {
		return nil, err
	}
	applyTradingEnv(&trading)
	cfg.Trading = trading

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTrading reads a trading file over the defaults. A missing file keeps
// the defaults.
func LoadTrading(path string) (Trading, error) {
	t := DefaultTrading()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, nil
		}
		return t, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse %s: %w", path, err)
	}
	return t, nil
}

func applyTradingEnv(t *Trading) {
	t.Thresholds.PlusDIThreshold = getEnvFloat("PLUS_DI_THRESHOLD", t.Thresholds.PlusDIThreshold)
	t.Thresholds.MinusDIThreshold = getEnvFloat("MINUS_DI_THRESHOLD", t.Thresholds.MinusDIThreshold)
	t.Thresholds.ADXMinimum = getEnvFloat("ADX_MINIMUM", t.Thresholds.ADXMinimum)
	t.Risk.TakeProfitPercent = getEnvFloat("TAKE_PROFIT_PERCENT", t.Risk.TakeProfitPercent)
	t.Risk.StopLossPercent = getEnvFloat("STOP_LOSS_PERCENT", t.Risk.StopLossPercent)
	t.Risk.DefaultQuantity = getEnvFloat("DEFAULT_QUANTITY", t.Risk.DefaultQuantity)
	t.Risk.PricePrecision = int32(getEnvInt("PRICE_PRECISION", int(t.Risk.PricePrecision)))
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Live() && (c.BinanceAPIKey == "" || c.BinanceAPISecret == "") {
		return errors.New("config: BINANCE_API_KEY and BINANCE_API_SECRET are required for live trading")
	}
	if c.Trading.Risk.DefaultQuantity <= 0 {
		return errors.New("config: risk.defaultQuantity must be positive")
	}
	if c.Trading.Risk.TakeProfitPercent <= 0 || c.Trading.Risk.StopLossPercent <= 0 {
		return errors.New("config: risk percentages must be positive")
	}
	if c.MaxReconnectAttempts <= 0 {
		return errors.New("config: MAX_RECONNECT_ATTEMPTS must be positive")
	}
	return nil
}

// Live reports whether orders go to the real venue.
func (c *Config) Live() bool {
	return !c.UseMockFeed && !c.DryRun
}

func (c *Config) QueuePacing() time.Duration {
	return time.Duration(c.QueuePacingMs) * time.Millisecond
}

func (c *Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseDelayMs) * time.Millisecond
}

func (c *Config) InitRetryDelay() time.Duration {
	return time.Duration(c.InitRetryDelayMs) * time.Millisecond
}

func (c *Config) PriceFlushInterval() time.Duration {
	return time.Duration(c.PriceFlushMs) * time.Millisecond
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
