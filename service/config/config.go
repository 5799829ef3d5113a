package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// TON configuration
	TONProvider     string // "toncenter" or "tonapi"
	TonCenterAPIURL string
	TonAPIURL       string
	MonitoredWallet string

	// Deposit acceptance configuration
	MinAmountTON decimal.Decimal

	// Classification configuration
	NanotonsPerTon      int64    // smallest units per native TON; must be a power of ten
	ExtraBlockedOpcodes []uint32 // opcodes blocked in addition to the built-in jetton list

	// Fetch configuration
	DefaultFetchLimit int
	MaxFetchLimit     int

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Polling configuration
	PollInterval    time.Duration
	MinPollInterval time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// TON configuration
	cfg.TONProvider = getEnvOrDefault("TON_API", "toncenter")
	if cfg.TONProvider != "toncenter" && cfg.TONProvider != "tonapi" {
		errs = append(errs, fmt.Errorf("TON_API must be toncenter or tonapi, got %q", cfg.TONProvider))
	}
	cfg.TonCenterAPIURL = os.Getenv("TONCENTER_API_URL")
	cfg.TonAPIURL = os.Getenv("TONAPI_URL")

	cfg.MonitoredWallet = os.Getenv("MONITORED_WALLET")
	if cfg.MonitoredWallet == "" {
		errs = append(errs, fmt.Errorf("MONITORED_WALLET is required"))
	}

	// Deposit acceptance configuration
	minAmount, err := parseDecimal("MIN_AMOUNT_TON", "0.01")
	if err != nil {
		errs = append(errs, err)
	} else if minAmount.IsNegative() {
		errs = append(errs, fmt.Errorf("MIN_AMOUNT_TON must not be negative"))
	} else {
		cfg.MinAmountTON = minAmount
	}

	// Classification configuration
	nanotons, err := parseInt64("NANOTONS_PER_TON", 1_000_000_000)
	if err != nil {
		errs = append(errs, err)
	} else if !isPowerOfTen(nanotons) {
		errs = append(errs, fmt.Errorf("NANOTONS_PER_TON must be a positive power of ten, got %d", nanotons))
	} else {
		cfg.NanotonsPerTon = nanotons
	}

	extraOpcodes, err := parseOpcodes("EXTRA_BLOCKED_OPCODES")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ExtraBlockedOpcodes = extraOpcodes
	}

	// Fetch configuration
	defaultLimit, err := parseInt("DEFAULT_FETCH_LIMIT", 50)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultFetchLimit = defaultLimit
	}

	maxLimit, err := parseInt("MAX_FETCH_LIMIT", 250)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxFetchLimit = maxLimit
	}

	if cfg.DefaultFetchLimit > 0 && cfg.MaxFetchLimit > 0 && cfg.DefaultFetchLimit > cfg.MaxFetchLimit {
		errs = append(errs, fmt.Errorf("DEFAULT_FETCH_LIMIT (%d) cannot be greater than MAX_FETCH_LIMIT (%d)",
			cfg.DefaultFetchLimit, cfg.MaxFetchLimit))
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "tonwatch-deposit-polling")

	// Polling configuration
	pollInterval, err := parseDuration("POLL_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollInterval = pollInterval
	}

	minInterval, err := parseDuration("MIN_POLL_INTERVAL", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinPollInterval = minInterval
	}

	if cfg.MinPollInterval > cfg.PollInterval {
		errs = append(errs, fmt.Errorf("MIN_POLL_INTERVAL (%v) cannot be greater than POLL_INTERVAL (%v)",
			cfg.MinPollInterval, cfg.PollInterval))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.MonitoredWallet == "" {
		errs = append(errs, fmt.Errorf("MonitoredWallet is required"))
	}

	if c.TONProvider != "toncenter" && c.TONProvider != "tonapi" {
		errs = append(errs, fmt.Errorf("TONProvider must be toncenter or tonapi"))
	}

	if c.MinAmountTON.IsNegative() {
		errs = append(errs, fmt.Errorf("MinAmountTON must not be negative"))
	}

	if c.NanotonsPerTon != 0 && !isPowerOfTen(c.NanotonsPerTon) {
		errs = append(errs, fmt.Errorf("NanotonsPerTon must be a positive power of ten"))
	}

	if c.DefaultFetchLimit <= 0 {
		errs = append(errs, fmt.Errorf("DefaultFetchLimit must be positive"))
	}

	if c.MaxFetchLimit < c.DefaultFetchLimit {
		errs = append(errs, fmt.Errorf("MaxFetchLimit cannot be less than DefaultFetchLimit"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.MinPollInterval > c.PollInterval {
		errs = append(errs, fmt.Errorf("MinPollInterval cannot be greater than PollInterval"))
	}

	if c.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("PollInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// UnitExponent returns the power of ten between the smallest unit and one
// native TON, derived from NanotonsPerTon. A zero NanotonsPerTon falls back
// to the standard 1e9.
func (c *Config) UnitExponent() int32 {
	v := c.NanotonsPerTon
	if v == 0 {
		v = 1_000_000_000
	}
	var exp int32
	for v > 1 {
		v /= 10
		exp++
	}
	return exp
}

// ProviderBaseURL returns the configured base URL override for the active
// provider, or "" for the provider's public default.
func (c *Config) ProviderBaseURL() string {
	if c.TONProvider == "tonapi" {
		return c.TonAPIURL
	}
	return c.TonCenterAPIURL
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseInt64 parses a 64-bit integer from an environment variable or uses a default.
func parseInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseOpcodes parses a comma-separated list of 32-bit opcodes from an
// environment variable. Values may carry a 0x prefix and are read as hex.
func parseOpcodes(key string) ([]uint32, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, nil
	}
	var opcodes []uint32
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		op, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(part), "0x"), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid opcode %q: %w", key, part, err)
		}
		opcodes = append(opcodes, uint32(op))
	}
	return opcodes, nil
}

// isPowerOfTen reports whether v is 1, 10, 100, and so on.
func isPowerOfTen(v int64) bool {
	if v <= 0 {
		return false
	}
	for v%10 == 0 {
		v /= 10
	}
	return v == 1
}

// parseDecimal parses an exact decimal from an environment variable or uses a default.
func parseDecimal(key, defaultValue string) (decimal.Decimal, error) {
	value := getEnvOrDefault(key, defaultValue)
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q: %w", key, value, err)
	}
	return d, nil
}
