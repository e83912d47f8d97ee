package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Dhan credentials. Either AccessToken or PIN+TOTPSecret is required.
	DhanClientID    string
	DhanAccessToken string
	DhanPIN         string
	DhanTOTPSecret  string

	// Upstream endpoints
	FeedURL            string
	DhanAPIURL         string
	DhanAuthURL        string
	SecondaryLookupURL string

	// Relay
	DefaultSymbol  string
	RelayAddr      string
	MetricsAddr    string
	IgnoreHolidays bool
	BackoffUnit    time.Duration

	// Symbol store
	SQLitePath    string
	DatabaseURL   string // Postgres; takes precedence over SQLitePath when set
	LookupTimeout time.Duration
	SweepInterval time.Duration
	StaleAfter    time.Duration

	HistoricalCacheTTL time.Duration

	// Redis mirror, disabled when RedisAddr is empty
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Alerts
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string

	LogLevel string
}

// Load reads .env (if present) and the environment. It exits on invalid
// configuration.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] .env not loaded: %v", err)
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

// FromEnv builds a Config from the current environment with defaults.
func FromEnv() *Config {
	return &Config{
		DhanClientID:    getEnv("DHAN_CLIENT_ID", ""),
		DhanAccessToken: getEnv("DHAN_API_KEY", ""),
		DhanPIN:         getEnv("DHAN_PIN", ""),
		DhanTOTPSecret:  getEnv("DHAN_TOTP_SECRET", ""),

		FeedURL:            getEnv("FEED_WS_URL", "wss://api-feed.dhan.co"),
		DhanAPIURL:         getEnv("DHAN_API_URL", "https://api.dhan.co"),
		DhanAuthURL:        getEnv("DHAN_AUTH_URL", "https://auth.dhan.co"),
		SecondaryLookupURL: getEnv("SECONDARY_LOOKUP_URL", "https://www.nseindia.com"),

		DefaultSymbol:  strings.ToUpper(getEnv("DEFAULT_SYMBOL", "RELIANCE")),
		RelayAddr:      getEnv("RELAY_ADDR", ":8000"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
		IgnoreHolidays: getEnvBool("IGNORE_HOLIDAYS", false),
		BackoffUnit:    getEnvDuration("FEED_BACKOFF_UNIT", time.Second),

		SQLitePath:    getEnv("SQLITE_PATH", "data/symbols.db"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		LookupTimeout: getEnvDuration("LOOKUP_TIMEOUT", 5*time.Second),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 24*time.Hour),
		StaleAfter:    getEnvDuration("STALE_AFTER", 30*24*time.Hour),

		HistoricalCacheTTL: getEnvDuration("HISTORICAL_CACHE_TTL", time.Hour),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks the settings the relay cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.DhanClientID == "" {
		errs = append(errs, errors.New("DHAN_CLIENT_ID is required"))
	}
	if c.DhanAccessToken == "" && (c.DhanPIN == "" || c.DhanTOTPSecret == "") {
		errs = append(errs, errors.New("set DHAN_API_KEY, or DHAN_PIN and DHAN_TOTP_SECRET"))
	}
	if c.LookupTimeout <= 0 {
		errs = append(errs, errors.New("LOOKUP_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// UseTOTP reports whether the access token comes from a TOTP login.
func (c *Config) UseTOTP() bool {
	return c.DhanAccessToken == "" && c.DhanPIN != "" && c.DhanTOTPSecret != ""
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
