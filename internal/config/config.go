package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Telegram
	BotToken string

	// TonAPI
	TonAPIKey     string
	TonAPIBaseURL string

	// OpenAI
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	AITimeout     time.Duration

	// Wallet
	ServiceWalletAddr string

	// State
	StatePath        string
	SnapshotInterval time.Duration

	// Deposits
	DepositPollInterval time.Duration
	DepositTTL          time.Duration
	MinDepositNano      int64
	MaxDepositNano      int64

	// Pricing
	BaseFeeNano     int64
	TokenPriceNano  int64
	MaxAnswerTokens int

	// Limits
	MaxInputChars int

	// Webhook
	WebhookPort int

	// Logging
	LogLevel string
}

func Load() *Config {
	return &Config{
		// Telegram
		BotToken: getEnv("BOT_TOKEN", ""),

		// TonAPI
		TonAPIKey:     getEnv("TONAPI_API_KEY", ""),
		TonAPIBaseURL: strings.TrimSuffix(getEnv("TONAPI_BASE_URL", "https://tonapi.io/v2"), "/"),

		// OpenAI
		OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: strings.TrimSuffix(getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AITimeout:     getEnvDuration("AI_TIMEOUT", 60*time.Second),

		// Wallet
		ServiceWalletAddr: getEnv("SERVICE_WALLET_ADDR", ""),

		// State
		StatePath:        getEnv("STATE_PATH", "./state.json"),
		SnapshotInterval: getEnvDuration("SNAPSHOT_INTERVAL", 30*time.Second),

		// Deposits
		DepositPollInterval: getEnvDuration("DEPOSIT_POLL_INTERVAL", 15*time.Second),
		DepositTTL:          getEnvDuration("DEPOSIT_TTL", 30*time.Minute),
		MinDepositNano:      getEnvInt64("MIN_DEPOSIT_NANO", 100_000_000),         // 0.1 TON
		MaxDepositNano:      getEnvInt64("MAX_DEPOSIT_NANO", 1_000_000_000_000),   // 1000 TON

		// Pricing
		BaseFeeNano:     getEnvInt64("BASE_FEE_NANO", 1_000_000), // 0.001 TON per query
		TokenPriceNano:  getEnvInt64("TOKEN_PRICE_NANO", 10_000), // 0.00001 TON per token
		MaxAnswerTokens: getEnvInt("MAX_ANSWER_TOKENS", 1024),

		// Limits
		MaxInputChars: getEnvInt("MAX_INPUT_CHARS", 4000),

		// Webhook
		WebhookPort: getEnvInt("WEBHOOK_PORT", 8080),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
