package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// QR payload encryption
	EncryptionKey string
	EncryptionIV  string

	// Admin access (bcrypt hash of the operator password)
	AdminPasswordHash string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration (realtime scan feed)
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	ScanFeedChannel    string

	// Issuance batch
	SenderName    string
	SenderAddress string
	SendDelay     time.Duration
	IssuanceLock  time.Duration

	// Rate limiting
	ScanRateLimit  int64
	ScanRateWindow time.Duration

	// Monitoring
	EnableMetrics bool
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Encryption
		EncryptionKey: getEnv("ENCRYPTION_KEY", "your_32_character_encryption_key_change_this"),
		EncryptionIV:  getEnv("ENCRYPTION_IV", "your_16_char_iv"),

		// Admin
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		ScanFeedChannel:    getEnv("SCAN_FEED_CHANNEL", "gate-scans"),

		// Issuance
		SenderName:    getEnv("EMAIL_SENDER_NAME", "Event Tickets"),
		SenderAddress: getEnv("EMAIL_SENDER_ADDRESS", "tickets@example.com"),
		SendDelay:     getEnvAsDuration("ISSUANCE_SEND_DELAY", "500ms"),
		IssuanceLock:  getEnvAsDuration("ISSUANCE_LOCK_TTL", "10m"),

		// Rate limiting
		ScanRateLimit:  int64(getEnvAsInt("SCAN_RATE_LIMIT", 60)),
		ScanRateWindow: getEnvAsDuration("SCAN_RATE_WINDOW", "1m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
