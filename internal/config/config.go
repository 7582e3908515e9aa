// Package config loads engine configuration from a .env file (if present)
// and process environment variables.
package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every recognized configuration key.
type Config struct {
	Exchange   string
	Symbol     string
	APIKey     string
	APISecret  string
	TOTPSecret string

	InitialBalance    float64
	DiscordWebhookURL string
	TelegramBotToken  string
	TelegramChatID    string

	DatabasePath          string
	CachePath             string
	OutputPath            string
	LogLevel              string
	DefaultHistoryCandles int

	RedisAddr     string
	RedisPassword string
	MetricsAddr   string
}

// supportedExchanges bounds the Exchange config value to the set this
// engine actually knows how to talk to.
var supportedExchanges = map[string]bool{
	"bybit":       true,
	"binance":     true,
	"hyperliquid": true,
}

// Load reads a .env file if one exists in the working directory (silently
// ignored if absent — process environment alone is a valid deployment),
// then builds Config from environment variables with defaults for
// everything except the exchange credentials. Config errors that would
// otherwise surface as confusing runtime failures — an unsupported
// exchange, a negative starting balance — are fatal here instead.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env present but unreadable: %v", err)
	}

	c := &Config{
		Exchange:   getEnv("EXCHANGE", "binance"),
		Symbol:     getEnv("SYMBOL", "BTC/USDT:USDT"),
		APIKey:     getEnv("API_KEY", ""),
		APISecret:  getEnv("API_SECRET", ""),
		TOTPSecret: getEnv("TOTP_SECRET", ""),

		InitialBalance:    getFloatEnv("INITIAL_BALANCE", 10_000),
		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getEnv("TELEGRAM_CHAT_ID", ""),

		DatabasePath:          getEnv("DATABASE_PATH", "data/engine.db"),
		CachePath:             getEnv("CACHE_PATH", "localhost:6379"),
		OutputPath:            getEnv("OUTPUT_PATH", "data/results"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		DefaultHistoryCandles: getIntEnv("DEFAULT_HISTORY_CANDLES", 500),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
	}

	c.validateFatal()
	return c
}

// validateFatal exits the process on a configuration value that can never
// produce correct behavior downstream, rather than let it surface later as
// a confusing failure mid-run.
func (c *Config) validateFatal() {
	if !supportedExchanges[c.Exchange] {
		log.Fatalf("[config] unsupported EXCHANGE %q (must be one of bybit, binance, hyperliquid)", c.Exchange)
	}
	if c.InitialBalance < 0 {
		log.Fatalf("[config] INITIAL_BALANCE must not be negative, got %v", c.InitialBalance)
	}
}

// RequireExchangeCredentials fails fast when a forward-test run is about to
// need live exchange access but no API key was configured — config errors
// are fatal, never a silent degraded mode.
func (c *Config) RequireExchangeCredentials() {
	if c.APIKey == "" || c.APISecret == "" {
		log.Fatalf("[config] API_KEY and API_SECRET are required for live/forward-test runs")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s=%q, using default %v", key, v, fallback)
		return fallback
	}
	return f
}

func getIntEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s=%q, using default %v", key, v, fallback)
		return fallback
	}
	return n
}
