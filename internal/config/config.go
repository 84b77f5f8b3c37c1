// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/simaogato/tokenledger-backend/internal/domain"
)

const defaultJWTSecret = "dev-secret-change-me"

// Config holds every setting of the server
type Config struct {
	DBDriver   string // postgres or sqlite
	DBConnStr  string
	SQLitePath string

	RedisAddr     string // empty selects the in-process wallet lock
	RedisPassword string
	SyncLockTTL   time.Duration

	GRPCAddr  string
	JWTSecret string
	LogLevel  string

	PriceAPIURL         string
	PriceAPIKey         string
	PriceFallbackWindow time.Duration
	PriceCacheTTL       time.Duration
	PriceRateLimit      float64 // requests per second, 0 disables throttling
	PriceRateBurst      int

	SourceAPIURL    string
	SourceAPIKey    string
	SourceRateLimit float64

	FetchTimeout    time.Duration
	PriceTimeout    time.Duration
	SyncConcurrency int

	DefaultCostBasisMethod domain.CostBasisMethod
}

// Load reads .env when present, then the environment, applying defaults
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded, relying on environment variables", "error", err)
	}

	method, err := domain.ParseCostBasisMethod(getEnv("DEFAULT_COST_BASIS_METHOD", "FIFO"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_COST_BASIS_METHOD: %w", err)
	}

	cfg := &Config{
		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DBConnStr:  os.Getenv("DB_CONN_STR"),
		SQLitePath: getEnv("SQLITE_PATH", "tokenledger.db"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		SyncLockTTL:   getDuration("SYNC_LOCK_TTL", 10*time.Minute),

		GRPCAddr:  getEnv("GRPC_ADDR", ":8080"),
		JWTSecret: getEnv("JWT_SECRET", defaultJWTSecret),
		LogLevel:  getEnv("LOG_LEVEL", "info"),

		PriceAPIURL:         getEnv("PRICE_API_URL", "http://localhost:9090"),
		PriceAPIKey:         os.Getenv("PRICE_API_KEY"),
		PriceFallbackWindow: getDuration("PRICE_FALLBACK_WINDOW", 24*time.Hour),
		PriceCacheTTL:       getDuration("PRICE_CACHE_TTL", time.Minute),
		PriceRateLimit:      getFloat("PRICE_RATE_LIMIT", 5),
		PriceRateBurst:      getInt("PRICE_RATE_BURST", 10),

		SourceAPIURL:    getEnv("SOURCE_API_URL", "http://localhost:9091"),
		SourceAPIKey:    os.Getenv("SOURCE_API_KEY"),
		SourceRateLimit: getFloat("SOURCE_RATE_LIMIT", 2),

		FetchTimeout:    getDuration("FETCH_TIMEOUT", 30*time.Second),
		PriceTimeout:    getDuration("PRICE_TIMEOUT", 10*time.Second),
		SyncConcurrency: getInt("SYNC_CONCURRENCY", 4),

		DefaultCostBasisMethod: method,
	}

	if cfg.DBDriver == "postgres" && cfg.DBConnStr == "" {
		// Build it from individual vars (Docker friendly)
		cfg.DBConnStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", "postgres"),
			getEnv("DB_NAME", "tokenledger"),
		)
	}
	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		return nil, fmt.Errorf("invalid DB_DRIVER %q: want postgres or sqlite", cfg.DBDriver)
	}
	if cfg.JWTSecret == defaultJWTSecret {
		slog.Warn("using default insecure JWT_SECRET, set JWT_SECRET for production")
	}

	return cfg, nil
}

// DSN returns the connection string for the configured driver
func (c *Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return c.DBConnStr
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", raw, "default", fallback.String())
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		slog.Warn("invalid integer, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		slog.Warn("invalid number, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return f
}
