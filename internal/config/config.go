package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	LedgerSolana = "solana"
	LedgerMemory = "memory"

	DefaultProgramID = "E3mHBkUKFf1hhXN6YEG3oXD5G8SZkvVfoRQ4TNQewqYJ"
)

// Config holds all configuration for stakepool
type Config struct {
	// Account storage
	Store      string
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string

	// Redis configuration, used for the operation queue and pool locks
	RedisURL string

	// Token custody
	Ledger         string
	RPCEndpoints   []string
	RPCRateLimit   float64
	CustodyKeypair string
	ProgramID      solana.PublicKey
	TokenDecimals  int32

	// Worker configuration
	Workers      int
	StuckTimeout time.Duration

	// Logging configuration
	LogLevel string

	// Metrics configuration
	MetricsPort string
}

// Load reads configuration from environment variables and validates it
func Load() (Config, error) {
	cfg := Config{
		Store:          strings.ToLower(getEnv("STORE", StorePostgres)),
		DBHost:         getEnv("DB_HOST", ""),
		DBUser:         getEnv("DB_USER", ""),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", ""),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379"),
		Ledger:         strings.ToLower(getEnv("LEDGER", LedgerSolana)),
		CustodyKeypair: getEnv("CUSTODY_KEYPAIR", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		MetricsPort:    getEnv("METRICS_PORT", "9100"),
	}

	// Parse RPC endpoints
	if rpcEndpointsStr := getEnv("RPC_ENDPOINTS", ""); rpcEndpointsStr != "" {
		for _, endpoint := range strings.Split(rpcEndpointsStr, ",") {
			if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
				cfg.RPCEndpoints = append(cfg.RPCEndpoints, endpoint)
			}
		}
	}

	var err error
	cfg.ProgramID, err = solana.PublicKeyFromBase58(getEnv("PROGRAM_ID", DefaultProgramID))
	if err != nil {
		return cfg, fmt.Errorf("invalid PROGRAM_ID: %w", err)
	}

	cfg.RPCRateLimit, err = parseFloatEnv("RPC_RATE_LIMIT", 2)
	if err != nil {
		return cfg, fmt.Errorf("invalid RPC_RATE_LIMIT: %w", err)
	}

	decimals, err := parseIntEnv("TOKEN_DECIMALS", 6)
	if err != nil {
		return cfg, fmt.Errorf("invalid TOKEN_DECIMALS: %w", err)
	}
	cfg.TokenDecimals = int32(decimals)

	cfg.Workers, err = parseIntEnv("WORKERS", 4)
	if err != nil {
		return cfg, fmt.Errorf("invalid WORKERS: %w", err)
	}

	stuckMinutes, err := parseIntEnv("STUCK_TIMEOUT_MINUTES", 15)
	if err != nil {
		return cfg, fmt.Errorf("invalid STUCK_TIMEOUT_MINUTES: %w", err)
	}
	cfg.StuckTimeout = time.Duration(stuckMinutes) * time.Minute

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// DSN returns the postgres connection string
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode,
	)
}

// validate checks that the configuration is valid
func (c Config) validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DBHost == "" || c.DBUser == "" || c.DBName == "" {
			return fmt.Errorf("DB_HOST, DB_USER and DB_NAME are required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid STORE: %s (must be one of: postgres, memory)", c.Store)
	}

	switch c.Ledger {
	case LedgerSolana:
		if len(c.RPCEndpoints) == 0 {
			return fmt.Errorf("RPC_ENDPOINTS is required for the solana ledger")
		}
		if c.CustodyKeypair == "" {
			return fmt.Errorf("CUSTODY_KEYPAIR is required for the solana ledger")
		}
	case LedgerMemory:
	default:
		return fmt.Errorf("invalid LEDGER: %s (must be one of: solana, memory)", c.Ledger)
	}

	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.RPCRateLimit <= 0 {
		return fmt.Errorf("RPC_RATE_LIMIT must be positive")
	}

	if c.TokenDecimals < 0 || c.TokenDecimals > 19 {
		return fmt.Errorf("TOKEN_DECIMALS must be between 0 and 19")
	}

	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1")
	}

	if c.StuckTimeout <= 0 {
		return fmt.Errorf("STUCK_TIMEOUT_MINUTES must be at least 1")
	}

	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
		"panic": true,
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be one of: trace, debug, info, warn, error, fatal, panic)", c.LogLevel)
	}

	return nil
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv parses an integer environment variable with a default value
func parseIntEnv(key string, defaultValue int) (int, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(str)
}

// parseFloatEnv parses a float environment variable with a default value
func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(str, 64)
}
