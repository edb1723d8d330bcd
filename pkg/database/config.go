package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds connection settings for both logical databases.
type Config struct {
	AccountsDSN string
	LedgerDSN   string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv loads database configuration from environment variables.
// ACCOUNTS_DB_URI and LEDGER_DB_URI are required.
func LoadConfigFromEnv() (Config, error) {
	accounts := os.Getenv("ACCOUNTS_DB_URI")
	if accounts == "" {
		return Config{}, fmt.Errorf("ACCOUNTS_DB_URI is required")
	}
	ledger := os.Getenv("LEDGER_DB_URI")
	if ledger == "" {
		return Config{}, fmt.Errorf("LEDGER_DB_URI is required")
	}

	maxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "10"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "5"))

	return Config{
		AccountsDSN:     accounts,
		LedgerDSN:       ledger,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
