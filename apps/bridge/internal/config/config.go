package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DbURL       string
	KafkaBroker string
	KafkaTopic  string
	APIPort     int

	// Exchange API credentials. Missing credentials are a startup error,
	// never a silent degradation.
	ExchangeBaseURL    string
	ExchangeKey        string
	ExchangeSecret     string
	ExchangePassphrase string

	// EVM chain adapter.
	EvmRPCURL     string
	EvmChainID    int64
	OperatorKey   string
	EscrowAddress string

	MatchInterval   time.Duration
	ReapInterval    time.Duration
	SettleDelay     time.Duration
	OrderPollEvery  time.Duration
	OrderPollLimit  int
	IntentTTL       time.Duration
	DepositLookback time.Duration
	MatchTolerance  float64 // relative, e.g. 0.05 for 5%
}

// NewConfig loads configuration from environment variables
func NewConfig() *Config {
	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	return &Config{
		DbURL:       getEnvOrFatal("DB_URL"),
		KafkaBroker: getEnvOrFatal("KAFKA_BROKER"),
		KafkaTopic:  getEnvOrFatal("KAFKA_TOPIC"),
		APIPort:     getEnvInt("API_PORT", 8080),

		ExchangeBaseURL:    getEnvOrFatal("EXCHANGE_BASE_URL"),
		ExchangeKey:        getEnvOrFatal("EXCHANGE_API_KEY"),
		ExchangeSecret:     getEnvOrFatal("EXCHANGE_API_SECRET"),
		ExchangePassphrase: getEnvOrFatal("EXCHANGE_API_PASSPHRASE"),

		EvmRPCURL:     getEnvOrFatal("EVM_RPC_URL"),
		EvmChainID:    int64(getEnvInt("EVM_CHAIN_ID", 1)),
		OperatorKey:   getEnvOrFatal("OPERATOR_KEY"),
		EscrowAddress: getEnvOrFatal("ESCROW_ADDRESS"),

		MatchInterval:   getEnvDuration("MATCH_INTERVAL", 15*time.Second),
		ReapInterval:    getEnvDuration("REAP_INTERVAL", 30*time.Second),
		SettleDelay:     getEnvDuration("SETTLE_DELAY", 3*time.Second),
		OrderPollEvery:  getEnvDuration("ORDER_POLL_EVERY", 2*time.Second),
		OrderPollLimit:  getEnvInt("ORDER_POLL_LIMIT", 30),
		IntentTTL:       getEnvDuration("INTENT_TTL", 5*time.Minute),
		DepositLookback: getEnvDuration("DEPOSIT_LOOKBACK", 5*time.Minute),
		MatchTolerance:  getEnvFloat("MATCH_TOLERANCE", 0.05),
	}
}

func getEnvOrFatal(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	log.Fatalf("environment variable %s not set", key)

	return ""
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
