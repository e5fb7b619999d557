package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Genesis hashes identify a cluster in the X-Blockchain-Ids action header.
var genesisHashes = map[string]string{
	"mainnet": "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d",
	"devnet":  "EtWTRABZaYq6iMfeYKouRu166VU2xqa1wcaWoxPkrZBG",
	"testnet": "4uhcVJyU9pJkvQyS88uRDiswHXSCkY3zQawwpjk2NsNY",
}

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr    string
	LogLevel      string
	PublicBaseURL string
	ActionTimeout time.Duration

	// Database configuration
	DatabaseURL    string
	PersistTimeout time.Duration

	// NATS configuration (optional)
	NATSURL string

	// Redis configuration (optional)
	RedisURL          string
	TokenInfoCacheTTL time.Duration
	TokenListURL      string

	// Solana configuration
	SolanaRPCURL  string // comma-separated list of endpoints
	SolanaNetwork string // "mainnet", "devnet" or "testnet"

	// Creation fee and gating
	Payment PaymentConfig

	// Temporal configuration (optional: empty host confirms payments inline)
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Worker configuration
	MetricsAddr                string
	MaxConcurrentVerifications int
}

// PaymentConfig holds the creation-fee and paid-gating settings.
type PaymentConfig struct {
	TreasuryWallet          string
	FeeLamports             uint64
	Required                bool
	MaxCommissionPercentage float64
	ConfirmTimeout          time.Duration
}

// Treasury returns the treasury wallet as a public key. Load has already
// validated it.
func (p PaymentConfig) Treasury() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(p.TreasuryWallet)
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.PublicBaseURL = strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/")

	actionTimeout, err := parseDuration("ACTION_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ActionTimeout = actionTimeout
	}

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	persistTimeout, err := parseDuration("PERSIST_TIMEOUT", "5s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PersistTimeout = persistTimeout
	}

	// NATS and Redis configuration
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.TokenListURL = os.Getenv("TOKEN_LIST_URL")

	cacheTTL, err := parseDuration("TOKEN_INFO_CACHE_TTL", "1h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TokenInfoCacheTTL = cacheTTL
	}

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.SolanaNetwork = getEnvOrDefault("SOLANA_NETWORK", "mainnet")
	if _, ok := genesisHashes[cfg.SolanaNetwork]; !ok {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK must be mainnet, devnet or testnet, got %q", cfg.SolanaNetwork))
	}

	// Payment configuration
	payment, paymentErrs := loadPaymentConfig()
	cfg.Payment = payment
	errs = append(errs, paymentErrs...)

	// Temporal configuration
	cfg.TemporalHost = os.Getenv("TEMPORAL_HOST")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "blinks-payments")

	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")

	maxVerifications, err := parseUint("WORKER_MAX_CONCURRENT_VERIFICATIONS", 10)
	if err != nil {
		errs = append(errs, err)
	} else if maxVerifications == 0 {
		errs = append(errs, fmt.Errorf("WORKER_MAX_CONCURRENT_VERIFICATIONS must be positive"))
	} else {
		cfg.MaxConcurrentVerifications = int(maxVerifications)
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

func loadPaymentConfig() (PaymentConfig, []error) {
	var (
		cfg  PaymentConfig
		errs []error
	)

	cfg.TreasuryWallet = os.Getenv("TREASURY_WALLET")
	if cfg.TreasuryWallet == "" {
		errs = append(errs, fmt.Errorf("TREASURY_WALLET is required"))
	} else if _, err := solana.PublicKeyFromBase58(cfg.TreasuryWallet); err != nil {
		errs = append(errs, fmt.Errorf("TREASURY_WALLET: invalid public key %q: %w", cfg.TreasuryWallet, err))
	}

	fee, err := parseUint("BLINK_CREATION_FEE_LAMPORTS", 10_000_000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.FeeLamports = fee
	}

	required, err := parseBool("REQUIRE_PAYMENT", true)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.Required = required
	}

	maxCommission, err := parseFloat("MAX_COMMISSION_PERCENTAGE", 0.01)
	if err != nil {
		errs = append(errs, err)
	} else if maxCommission < 0 || maxCommission > 1 {
		errs = append(errs, fmt.Errorf("MAX_COMMISSION_PERCENTAGE must be within [0,1], got %v", maxCommission))
	} else {
		cfg.MaxCommissionPercentage = maxCommission
	}

	timeout, err := parseDuration("PAYMENT_CONFIRM_TIMEOUT", "2m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = timeout
	}

	return cfg, errs
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

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if _, ok := genesisHashes[c.SolanaNetwork]; !ok {
		errs = append(errs, fmt.Errorf("SolanaNetwork %q is not supported", c.SolanaNetwork))
	}

	if _, err := solana.PublicKeyFromBase58(c.Payment.TreasuryWallet); err != nil {
		errs = append(errs, fmt.Errorf("Payment.TreasuryWallet is invalid: %w", err))
	}

	if c.Payment.MaxCommissionPercentage < 0 || c.Payment.MaxCommissionPercentage > 1 {
		errs = append(errs, fmt.Errorf("Payment.MaxCommissionPercentage must be within [0,1]"))
	}

	if c.Payment.Required && c.Payment.FeeLamports == 0 {
		errs = append(errs, fmt.Errorf("Payment.FeeLamports must be positive when payment is required"))
	}

	if c.ActionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ActionTimeout must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// BlockchainID returns the CAIP-2 chain id advertised in X-Blockchain-Ids.
func (c *Config) BlockchainID() string {
	return "solana:" + genesisHashes[c.SolanaNetwork]
}

// TemporalEnabled reports whether payments are confirmed through Temporal.
func (c *Config) TemporalEnabled() bool {
	return c.TemporalHost != ""
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

// parseUint parses an unsigned integer from an environment variable or uses a default.
func parseUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseFloat parses a float from an environment variable or uses a default.
func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
