package util

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the service settings, read from the environment after an
// optional .env file.
type Config struct {
	Port         string
	LogLevel     string
	LogFormat    string // text or json
	Provider     string // synthetic, alpaca or sqlite
	AlpacaKey    string
	AlpacaSecret string
	DBPath       string
	Rate         float64
	Dividend     float64
	APIKeyHash   string // bcrypt hash; empty disables authentication
	Workers      int
	CacheSize    int // zero disables the surface cache
	FitTimeout   time.Duration
	RhoMode      string
}

// LoadConfig loads path (if present) into the environment and reads the
// config from it. Variables already set take precedence over the file.
func LoadConfig(path string) (Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	cfg := Config{
		Port:         getenv("PORT", "8080"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogFormat:    getenv("LOG_FORMAT", "text"),
		Provider:     getenv("PROVIDER", "synthetic"),
		AlpacaKey:    os.Getenv("ALPACA_API_KEY"),
		AlpacaSecret: os.Getenv("ALPACA_SECRET_KEY"),
		DBPath:       getenv("DB_PATH", "./data/snapshots.db"),
		APIKeyHash:   os.Getenv("API_KEY_HASH"),
		RhoMode:      getenv("RHO_MODE", "global"),
	}
	var err error
	if cfg.Rate, err = getFloat("RISK_FREE_RATE", 0); err != nil {
		return cfg, err
	}
	if cfg.Dividend, err = getFloat("DIVIDEND_YIELD", 0); err != nil {
		return cfg, err
	}
	if cfg.Workers, err = getInt("WORKERS", 4); err != nil {
		return cfg, err
	}
	if cfg.CacheSize, err = getInt("CACHE_SIZE", 64); err != nil {
		return cfg, err
	}
	if cfg.FitTimeout, err = time.ParseDuration(getenv("FIT_TIMEOUT", "2m")); err != nil {
		return cfg, fmt.Errorf("invalid FIT_TIMEOUT: %w", err)
	}

	switch cfg.Provider {
	case "synthetic", "sqlite":
	case "alpaca":
		if cfg.AlpacaKey == "" || cfg.AlpacaSecret == "" {
			return cfg, errors.New("alpaca provider needs ALPACA_API_KEY and ALPACA_SECRET_KEY")
		}
	default:
		return cfg, fmt.Errorf("unknown PROVIDER %q", cfg.Provider)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
