package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"wagerbot/database"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	DatabaseURL  string
	DatabaseName string

	// Redis configuration (locks, rate limits, transaction idempotency)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS configuration; empty disables event fan-out
	NATSServers string

	// Chain configuration
	RPCURL        string
	ChainID       int64
	TokenRegistry string // SYMBOL:0xaddress:decimals, comma separated
	NativeAsset   string
	PayoutAsset   string
	GasReserve    decimal.Decimal // native amount kept in escrow to pay for the swap

	// Custody configuration
	KeyPassphrase    string
	KeyKDFIterations int

	// Swap provider configuration
	OKXBaseURL    string
	OKXAPIKey     string
	OKXSecretKey  string
	OKXPassphrase string
	OKXProjectID  string
	OKXChainIndex string
	OKXSlippage   string

	// Oracle configuration
	PerplexityAPIKey  string
	PerplexityBaseURL string
	PerplexityModel   string

	// Notification configuration
	DiscordToken   string
	TelegramToken  string
	TelegramAPIURL string

	// Archive configuration; empty bucket disables archiving
	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3UseSSL         bool
	S3ForcePathStyle bool

	// Wager policy
	ConfidenceThreshold      float64
	RequireFundingToActivate bool
	PendingWagerTTL          time.Duration
	DeadlineFallbackWindow   time.Duration
	LockTTL                  time.Duration
	BalanceChecksPerSecond   int

	// Settlement policy
	PayoutMaxElapsed time.Duration
	PayoutMaxRetries uint64
	AutoSettle       bool
	TxReceiptTimeout time.Duration

	// Workers
	DeadlineSweepInterval   time.Duration
	SettlementSweepInterval time.Duration

	// Environment
	Environment string // "development", "production" or "test"
	LogLevel    string
}

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex
)

// Get returns the global configuration instance
func Get() *Config {
	mu.RLock()
	if instance != nil {
		defer mu.RUnlock()
		return instance
	}
	mu.RUnlock()

	once.Do(func() {
		cfg, err := load()
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
		mu.Lock()
		instance = cfg
		mu.Unlock()
	})

	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// GetDatabaseURL constructs the full database URL by combining base URL and database name
func (c *Config) GetDatabaseURL() string {
	return database.ConstructDatabaseURL(c.DatabaseURL, c.DatabaseName)
}

// ArchiveEnabled reports whether settled wagers are written to object storage
func (c *Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// load loads configuration from the environment, reading .env first when present
func load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Failed to read .env file")
	}

	config := &Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DatabaseName: os.Getenv("DATABASE_NAME"),

		RedisAddr:     getEnvWithDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		NATSServers: os.Getenv("NATS_SERVERS"),

		RPCURL:        os.Getenv("RPC_URL"),
		ChainID:       int64(getEnvInt("CHAIN_ID", 8453)),
		TokenRegistry: os.Getenv("TOKEN_REGISTRY"),
		NativeAsset:   strings.ToUpper(getEnvWithDefault("NATIVE_ASSET", "ETH")),
		PayoutAsset:   strings.ToUpper(getEnvWithDefault("PAYOUT_ASSET", "USDC")),
		GasReserve:    getEnvDecimal("GAS_RESERVE", decimal.RequireFromString("0.0005")),

		KeyPassphrase:    os.Getenv("KEY_PASSPHRASE"),
		KeyKDFIterations: getEnvInt("KEY_KDF_ITERATIONS", 480_000),

		OKXBaseURL:    getEnvWithDefault("OKX_BASE_URL", "https://web3.okx.com"),
		OKXAPIKey:     os.Getenv("OKX_API_KEY"),
		OKXSecretKey:  os.Getenv("OKX_SECRET_KEY"),
		OKXPassphrase: os.Getenv("OKX_PASSPHRASE"),
		OKXProjectID:  os.Getenv("OKX_PROJECT_ID"),
		OKXChainIndex: getEnvWithDefault("OKX_CHAIN_INDEX", "8453"),
		OKXSlippage:   getEnvWithDefault("OKX_SLIPPAGE", "0.005"),

		PerplexityAPIKey:  os.Getenv("PERPLEXITY_API_KEY"),
		PerplexityBaseURL: getEnvWithDefault("PERPLEXITY_BASE_URL", "https://api.perplexity.ai"),
		PerplexityModel:   getEnvWithDefault("PERPLEXITY_MODEL", "sonar-pro"),

		DiscordToken:   os.Getenv("DISCORD_TOKEN"),
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		TelegramAPIURL: getEnvWithDefault("TELEGRAM_API_URL", "https://api.telegram.org"),

		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3Region:         getEnvWithDefault("S3_REGION", "us-east-1"),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:         getEnvBool("S3_USE_SSL", true),
		S3ForcePathStyle: getEnvBool("S3_FORCE_PATH_STYLE", false),

		ConfidenceThreshold:      getEnvFloat("CONFIDENCE_THRESHOLD", 0.5),
		RequireFundingToActivate: getEnvBool("REQUIRE_FUNDING_TO_ACTIVATE", false),
		PendingWagerTTL:          getEnvDuration("PENDING_WAGER_TTL", 72*time.Hour),
		DeadlineFallbackWindow:   getEnvDuration("DEADLINE_FALLBACK_WINDOW", 5*time.Minute),
		LockTTL:                  getEnvDuration("LOCK_TTL", 10*time.Minute),
		BalanceChecksPerSecond:   getEnvInt("BALANCE_CHECKS_PER_SECOND", 5),

		PayoutMaxElapsed: getEnvDuration("PAYOUT_MAX_ELAPSED", 2*time.Minute),
		PayoutMaxRetries: uint64(getEnvInt("PAYOUT_MAX_RETRIES", 5)),
		AutoSettle:       getEnvBool("AUTO_SETTLE", true),
		TxReceiptTimeout: getEnvDuration("TX_RECEIPT_TIMEOUT", 2*time.Minute),

		DeadlineSweepInterval:   getEnvDuration("DEADLINE_SWEEP_INTERVAL", time.Minute),
		SettlementSweepInterval: getEnvDuration("SETTLEMENT_SWEEP_INTERVAL", 5*time.Minute),

		Environment: os.Getenv("ENVIRONMENT"),
		LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),
	}

	// Set default environment if not specified
	if config.Environment == "" {
		config.Environment = "development"
	}

	if config.Environment != "test" {
		if err := config.validate(); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.KeyPassphrase == "" {
		return fmt.Errorf("KEY_PASSPHRASE is required")
	}
	if c.PerplexityAPIKey == "" {
		return fmt.Errorf("PERPLEXITY_API_KEY is required")
	}
	if c.DiscordToken == "" && c.TelegramToken == "" {
		return fmt.Errorf("DISCORD_TOKEN or TELEGRAM_TOKEN is required")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be between 0 and 1, got %v", c.ConfidenceThreshold)
	}
	if c.DatabaseName != "" && strings.TrimSpace(c.DatabaseName) == "" {
		return fmt.Errorf("DATABASE_NAME cannot be empty when provided")
	}
	return nil
}

// getEnvWithDefault returns the environment variable value or a default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.WithField("key", key).Warn("Ignoring non-integer config value")
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
		log.WithField("key", key).Warn("Ignoring non-numeric config value")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		log.WithField("key", key).Warn("Ignoring non-boolean config value")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
		log.WithField("key", key).Warn("Ignoring invalid duration config value")
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil && !parsed.IsNegative() {
			return parsed
		}
		log.WithField("key", key).Warn("Ignoring invalid decimal config value")
	}
	return defaultValue
}

// Test helpers - only use in tests

// SetTestConfig overrides the global config instance for testing
func SetTestConfig(testConfig *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = testConfig
}

// ResetConfig resets the global config instance and sync.Once for testing
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

// NewTestConfig creates a minimal config suitable for unit tests
func NewTestConfig() *Config {
	return &Config{
		Environment:            "test",
		NativeAsset:            "ETH",
		PayoutAsset:            "USDC",
		GasReserve:             decimal.RequireFromString("0.0005"),
		ConfidenceThreshold:    0.5,
		PendingWagerTTL:        72 * time.Hour,
		DeadlineFallbackWindow: 5 * time.Minute,
		LockTTL:                10 * time.Minute,
		PayoutMaxRetries:       3,
		TxReceiptTimeout:       time.Minute,
	}
}
