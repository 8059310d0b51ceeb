package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseURL      string
	DatabaseMaxConns int
	DatabaseMinConns int

	CoinGeckoURL           string
	CoinGeckoAPIKey        string
	CoinGeckoRatePerMinute int
	CoinGeckoTimeout       time.Duration
	CircuitThreshold       int
	CircuitCooldown        time.Duration
	PriceAllowAPIFallback  bool
	USDEURRate             decimal.Decimal
	BackfillBatchSize      int
	BackfillBatchDelay     time.Duration

	CardanoScanURL            string
	CardanoScanAPIKey         string
	CardanoScanRetryMax       int
	CardanoScanRetryBaseDelay time.Duration
	CardanoScanRatePerSecond  float64
	CardanoSyncInterval       time.Duration

	QuoteWorkerInterval  time.Duration
	ReportWorkerInterval time.Duration
	HTTPPort             string
	AdminAPIKey          string
	ExportDir            string
	LogLevel             string

	GoogleSheetsID        string
	GoogleCredentialsJSON string
}

// LoadDotEnv loads variables from the given files (".env" when none is
// given) without overriding variables already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		err := godotenv.Load(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		slog.Debug("loaded env file", "path", p)
	}
	return nil
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		DatabaseURL:      envOrDefaultWarn("DATABASE_URL", ""),
		DatabaseMaxConns: envOrDefaultInt("DATABASE_MAX_CONNS", 10),
		DatabaseMinConns: envOrDefaultInt("DATABASE_MIN_CONNS", 1),

		CoinGeckoURL:           envOrDefault("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
		CoinGeckoAPIKey:        envOrDefault("COINGECKO_API_KEY", ""),
		CoinGeckoRatePerMinute: envOrDefaultInt("COINGECKO_RATE_PER_MINUTE", 25),
		CoinGeckoTimeout:       envOrDefaultDuration("COINGECKO_TIMEOUT", 10*time.Second),
		CircuitThreshold:       envOrDefaultInt("CIRCUIT_THRESHOLD", 3),
		CircuitCooldown:        envOrDefaultDuration("CIRCUIT_COOLDOWN", 5*time.Minute),
		PriceAllowAPIFallback:  envOrDefaultBool("PRICE_ALLOW_API_FALLBACK", true),
		USDEURRate:             envOrDefaultDecimal("USD_EUR_RATE", decimal.RequireFromString("0.92")),
		BackfillBatchSize:      envOrDefaultInt("BACKFILL_BATCH_SIZE", 5),
		BackfillBatchDelay:     envOrDefaultDuration("BACKFILL_BATCH_DELAY", 2*time.Second),

		CardanoScanURL:            envOrDefault("CARDANOSCAN_URL", "https://api.cardanoscan.io/api/v1"),
		CardanoScanAPIKey:         envOrDefault("CARDANOSCAN_API_KEY", ""),
		CardanoScanRetryMax:       envOrDefaultInt("CARDANOSCAN_RETRY_MAX", 5),
		CardanoScanRetryBaseDelay: envOrDefaultDuration("CARDANOSCAN_RETRY_BASE_DELAY", 2*time.Second),
		CardanoScanRatePerSecond:  envOrDefaultFloat("CARDANOSCAN_RATE_PER_SECOND", 2),
		CardanoSyncInterval:       envOrDefaultDuration("CARDANO_SYNC_INTERVAL", 6*time.Hour),

		QuoteWorkerInterval:  envOrDefaultDuration("QUOTE_WORKER_INTERVAL", 1*time.Hour),
		ReportWorkerInterval: envOrDefaultDuration("REPORT_WORKER_INTERVAL", 24*time.Hour),
		HTTPPort:             envOrDefault("HTTP_PORT", "8080"),
		AdminAPIKey:          envOrDefault("ADMIN_API_KEY", ""),
		ExportDir:            envOrDefault("EXPORT_DIR", "exports"),
		LogLevel:             envOrDefault("LOG_LEVEL", "info"),

		GoogleSheetsID:        envOrDefault("GOOGLE_SHEETS_ID", ""),
		GoogleCredentialsJSON: envOrDefault("GOOGLE_CREDENTIALS_JSON", ""),
	}
}

// SheetsEnabled reports whether Google Sheets export is configured.
func (c Config) SheetsEnabled() bool {
	return c.GoogleSheetsID != "" && c.GoogleCredentialsJSON != ""
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultWarn(key, defaultVal string) string {
	v := envOrDefault(key, defaultVal)
	if v == "" {
		slog.Warn("required env var not set", "key", key)
	}
	return v
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid float env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return f
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return b
	}
	return defaultVal
}

func envOrDefaultDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || !d.IsPositive() {
			slog.Warn("invalid decimal env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}
