package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Web server
	Bind string

	// Connect-time auth
	JWTSecret string

	// Billing
	BillingInterval           time.Duration
	WalletTimeout             time.Duration
	DefaultRatePerMinuteCents int64

	// Wallet ledger
	WalletDriver string
	RedisAddr    string

	// Settlement store
	SettlementDriver string
	DatabaseURL      string

	// Session journal; empty disables durability
	JournalPath string
}

func Load() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Bind:             getEnvDefault("BIND", ":8080"),
		JWTSecret:        getEnvDefault("JWT_SECRET", "dev-only-change-me"),
		WalletDriver:     getEnvDefault("WALLET_DRIVER", "memory"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		SettlementDriver: getEnvDefault("SETTLEMENT_DRIVER", "memory"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JournalPath:      getEnvDefault("JOURNAL_PATH", "sessions.db"),
	}

	interval, err := getEnvSeconds("BILLING_INTERVAL_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.BillingInterval = interval

	timeout, err := getEnvSeconds("WALLET_TIMEOUT_SECONDS", 5)
	if err != nil {
		return nil, err
	}
	cfg.WalletTimeout = timeout

	rate, err := getEnvInt64("DEFAULT_RATE_PER_MINUTE_CENTS", 100)
	if err != nil {
		return nil, err
	}
	cfg.DefaultRatePerMinuteCents = rate

	if cfg.WalletDriver == "redis" && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required with WALLET_DRIVER=redis")
	}
	if cfg.SettlementDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required with SETTLEMENT_DRIVER=postgres")
	}

	return cfg, nil
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvSeconds(key string, defaultValue int64) (time.Duration, error) {
	n, err := getEnvInt64(key, defaultValue)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return time.Duration(n) * time.Second, nil
}
