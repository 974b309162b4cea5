// Package config loads the connector's configuration from environment
// variables with sensible defaults and validates it before startup.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - TLS_CERT, TLS_KEY: Optional TLS certificate and key paths
//
// Security Configuration:
//   - ENCRYPTION_KEY: Key for encrypting stored tokens (required)
//   - STATE_SECRET: OAuth state signing secret (required, minimum 32 characters)
//
// Token Store:
//   - TOKEN_STORE_BACKEND: "memory", "sqlite", "postgres", or "redis" (default: sqlite)
//   - TOKEN_STORE_SQLITE_PATH: SQLite database file path (default: ./wearable_tokens.db)
//   - TOKEN_STORE_POSTGRES_URL: PostgreSQL connection string (required for postgres)
//   - TOKEN_STORE_REDIS_ADDR: Redis address (required for redis)
//   - TOKEN_STORE_REDIS_PASSWORD: Redis password
//   - TOKEN_STORE_REDIS_DB: Redis database number (default: 0)
//
// Event Queue:
//   - QUEUE_BACKEND: "memory", "redis", or "sqs" (default: memory)
//   - QUEUE_REDIS_ADDR: Redis address (required for redis)
//   - QUEUE_REDIS_PASSWORD: Redis password
//   - QUEUE_REDIS_DB: Redis database number (default: 0)
//   - QUEUE_REDIS_PREFIX: Redis key prefix (default: events)
//   - QUEUE_SQS_URL: SQS queue URL (required for sqs)
//   - QUEUE_SQS_REGION: AWS region (required for sqs)
//   - QUEUE_SQS_ACCESS_KEY_ID, QUEUE_SQS_SECRET_ACCESS_KEY: Static AWS credentials (optional)
//   - QUEUE_SQS_ENDPOINT: SQS endpoint override for local testing
//
// Background Work:
//   - CONSUMER_ENABLED: Run the queue consumer (default: true)
//   - PULL_ENABLED: Run the scheduled puller (default: true)
//   - PULL_SCHEDULE: Cron expression for pull sweeps (default: @hourly)
//
// Vendors (a vendor is enabled when its client ID and secret are set):
//   - WHOOP_CLIENT_ID, WHOOP_CLIENT_SECRET, WHOOP_WEBHOOK_SECRET
//   - WHOOP_BASE_URL (default: https://api.prod.whoop.com)
//   - WHOOP_REDIRECT_URI: Default OAuth redirect target (optional)
//   - WHOOP_RATE_LIMIT, WHOOP_RATE_WINDOW (default: 100 per 60s)
//   - GARMIN_CLIENT_ID, GARMIN_CLIENT_SECRET, GARMIN_WEBHOOK_SECRET
//   - GARMIN_BASE_URL (default: https://apis.garmin.com)
//   - GARMIN_REDIRECT_URI: Default OAuth redirect target (optional)
//   - GARMIN_RATE_LIMIT, GARMIN_RATE_WINDOW (default: 100 per 60s)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"wearable-connector/internal/queue"
	"wearable-connector/internal/tokens"
	"wearable-connector/internal/vendors"
)

// Config holds all configuration for the connector service
type Config struct {
	// Application settings
	Port     string
	LogLevel string
	TLSCert  string
	TLSKey   string

	// Security
	EncryptionKey string
	StateSecret   string

	// Token store backend
	TokenStoreBackend       string
	TokenStoreSQLitePath    string
	TokenStorePostgresURL   string
	TokenStoreRedisAddr     string
	TokenStoreRedisPassword string
	TokenStoreRedisDB       string

	// Event queue backend
	QueueBackend         string
	QueueRedisAddr       string
	QueueRedisPassword   string
	QueueRedisDB         string
	QueueRedisPrefix     string
	QueueSQSURL          string
	QueueSQSRegion       string
	QueueSQSAccessKeyID  string
	QueueSQSSecretKey    string
	QueueSQSEndpoint     string

	// Background work
	ConsumerEnabled bool
	PullEnabled     bool
	PullSchedule    string

	// Vendor integrations
	Whoop  VendorSettings
	Garmin VendorSettings
}

// VendorSettings holds the per-vendor OAuth and webhook credentials
type VendorSettings struct {
	ClientID      string
	ClientSecret  string
	WebhookSecret string
	BaseURL       string
	AuthURL       string
	TokenURL      string
	RedirectURI   string
	RateLimit     string
	RateWindow    string
}

// Enabled reports whether the vendor has credentials configured
func (v VendorSettings) Enabled() bool {
	return v.ClientID != "" && v.ClientSecret != ""
}

// Load creates a Config from environment variables. Call Validate before
// using it.
func Load() *Config {
	whoopBase := getEnv("WHOOP_BASE_URL", "https://api.prod.whoop.com")
	garminBase := getEnv("GARMIN_BASE_URL", "https://apis.garmin.com")

	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		TLSCert:  getEnv("TLS_CERT", ""),
		TLSKey:   getEnv("TLS_KEY", ""),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		StateSecret:   getEnv("STATE_SECRET", ""),

		TokenStoreBackend:       getEnv("TOKEN_STORE_BACKEND", "sqlite"),
		TokenStoreSQLitePath:    getEnv("TOKEN_STORE_SQLITE_PATH", "./wearable_tokens.db"),
		TokenStorePostgresURL:   getEnv("TOKEN_STORE_POSTGRES_URL", ""),
		TokenStoreRedisAddr:     getEnv("TOKEN_STORE_REDIS_ADDR", ""),
		TokenStoreRedisPassword: getEnv("TOKEN_STORE_REDIS_PASSWORD", ""),
		TokenStoreRedisDB:       getEnv("TOKEN_STORE_REDIS_DB", "0"),

		QueueBackend:        getEnv("QUEUE_BACKEND", "memory"),
		QueueRedisAddr:      getEnv("QUEUE_REDIS_ADDR", ""),
		QueueRedisPassword:  getEnv("QUEUE_REDIS_PASSWORD", ""),
		QueueRedisDB:        getEnv("QUEUE_REDIS_DB", "0"),
		QueueRedisPrefix:    getEnv("QUEUE_REDIS_PREFIX", "events"),
		QueueSQSURL:         getEnv("QUEUE_SQS_URL", ""),
		QueueSQSRegion:      getEnv("QUEUE_SQS_REGION", ""),
		QueueSQSAccessKeyID: getEnv("QUEUE_SQS_ACCESS_KEY_ID", ""),
		QueueSQSSecretKey:   getEnv("QUEUE_SQS_SECRET_ACCESS_KEY", ""),
		QueueSQSEndpoint:    getEnv("QUEUE_SQS_ENDPOINT", ""),

		ConsumerEnabled: getBoolEnv("CONSUMER_ENABLED", true),
		PullEnabled:     getBoolEnv("PULL_ENABLED", true),
		PullSchedule:    getEnv("PULL_SCHEDULE", "@hourly"),

		Whoop: VendorSettings{
			ClientID:      getEnv("WHOOP_CLIENT_ID", ""),
			ClientSecret:  getEnv("WHOOP_CLIENT_SECRET", ""),
			WebhookSecret: getEnv("WHOOP_WEBHOOK_SECRET", ""),
			BaseURL:       whoopBase,
			AuthURL:       getEnv("WHOOP_AUTH_URL", whoopBase+"/oauth/oauth2/auth"),
			TokenURL:      getEnv("WHOOP_TOKEN_URL", whoopBase+"/oauth/oauth2/token"),
			RedirectURI:   getEnv("WHOOP_REDIRECT_URI", ""),
			RateLimit:     getEnv("WHOOP_RATE_LIMIT", "100"),
			RateWindow:    getEnv("WHOOP_RATE_WINDOW", "60s"),
		},
		Garmin: VendorSettings{
			ClientID:      getEnv("GARMIN_CLIENT_ID", ""),
			ClientSecret:  getEnv("GARMIN_CLIENT_SECRET", ""),
			WebhookSecret: getEnv("GARMIN_WEBHOOK_SECRET", ""),
			BaseURL:       garminBase,
			AuthURL:       getEnv("GARMIN_AUTH_URL", "https://connect.garmin.com/oauth2Confirm"),
			TokenURL:      getEnv("GARMIN_TOKEN_URL", "https://diauth.garmin.com/di-oauth2-service/oauth/token"),
			RedirectURI:   getEnv("GARMIN_REDIRECT_URI", ""),
			RateLimit:     getEnv("GARMIN_RATE_LIMIT", "100"),
			RateWindow:    getEnv("GARMIN_RATE_WINDOW", "60s"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks required fields, formats, and cross-field dependencies
func (c *Config) Validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY environment variable is required")
	}

	if c.StateSecret == "" {
		return fmt.Errorf("STATE_SECRET environment variable is required")
	}
	if len(c.StateSecret) < 32 {
		return fmt.Errorf("STATE_SECRET must be at least 32 characters long")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.TokenStoreBackend {
	case "memory", "sqlite":
	case "postgres":
		if c.TokenStorePostgresURL == "" {
			return fmt.Errorf("TOKEN_STORE_POSTGRES_URL is required when using the postgres token store")
		}
	case "redis":
		if c.TokenStoreRedisAddr == "" {
			return fmt.Errorf("TOKEN_STORE_REDIS_ADDR is required when using the redis token store")
		}
		if _, err := strconv.Atoi(c.TokenStoreRedisDB); err != nil {
			return fmt.Errorf("TOKEN_STORE_REDIS_DB must be a number")
		}
	default:
		return fmt.Errorf("TOKEN_STORE_BACKEND must be 'memory', 'sqlite', 'postgres', or 'redis'")
	}

	switch c.QueueBackend {
	case "memory":
	case "redis":
		if c.QueueRedisAddr == "" {
			return fmt.Errorf("QUEUE_REDIS_ADDR is required when using the redis queue")
		}
		if _, err := strconv.Atoi(c.QueueRedisDB); err != nil {
			return fmt.Errorf("QUEUE_REDIS_DB must be a number")
		}
	case "sqs":
		if c.QueueSQSURL == "" {
			return fmt.Errorf("QUEUE_SQS_URL is required when using the sqs queue")
		}
		if c.QueueSQSRegion == "" {
			return fmt.Errorf("QUEUE_SQS_REGION is required when using the sqs queue")
		}
	default:
		return fmt.Errorf("QUEUE_BACKEND must be 'memory', 'redis', or 'sqs'")
	}

	if !c.Whoop.Enabled() && !c.Garmin.Enabled() {
		return fmt.Errorf("at least one vendor must be configured (set WHOOP_CLIENT_ID/WHOOP_CLIENT_SECRET or GARMIN_CLIENT_ID/GARMIN_CLIENT_SECRET)")
	}

	if c.Whoop.Enabled() {
		if err := validateVendorSettings("WHOOP", c.Whoop); err != nil {
			return err
		}
	}
	if c.Garmin.Enabled() {
		if err := validateVendorSettings("GARMIN", c.Garmin); err != nil {
			return err
		}
	}

	return nil
}

func validateVendorSettings(prefix string, v VendorSettings) error {
	if v.WebhookSecret == "" {
		return fmt.Errorf("%s_WEBHOOK_SECRET is required when the vendor is enabled", prefix)
	}
	if limit, err := strconv.Atoi(v.RateLimit); err != nil || limit < 1 {
		return fmt.Errorf("%s_RATE_LIMIT must be a positive number", prefix)
	}
	if _, err := time.ParseDuration(v.RateWindow); err != nil {
		return fmt.Errorf("%s_RATE_WINDOW must be a valid duration (e.g., '60s', '1m')", prefix)
	}
	return nil
}

// VendorConfigs builds the runtime configuration for every enabled vendor
func (c *Config) VendorConfigs() map[vendors.VendorType]*vendors.VendorConfig {
	configs := make(map[vendors.VendorType]*vendors.VendorConfig)

	if c.Whoop.Enabled() {
		configs[vendors.VendorWhoop] = vendorConfig(vendors.VendorWhoop, c.Whoop,
			[]string{"read:recovery", "read:sleep", "read:workout", "read:cycles", "read:profile"})
	}
	if c.Garmin.Enabled() {
		configs[vendors.VendorGarmin] = vendorConfig(vendors.VendorGarmin, c.Garmin, nil)
	}

	return configs
}

func vendorConfig(vendor vendors.VendorType, settings VendorSettings, scopes []string) *vendors.VendorConfig {
	maxRequests, _ := strconv.Atoi(settings.RateLimit)
	window, _ := time.ParseDuration(settings.RateWindow)

	return &vendors.VendorConfig{
		Vendor:        vendor,
		ClientID:      settings.ClientID,
		ClientSecret:  settings.ClientSecret,
		WebhookSecret: settings.WebhookSecret,
		BaseURL:       settings.BaseURL,
		AuthURL:       settings.AuthURL,
		TokenURL:      settings.TokenURL,
		RedirectURI:   settings.RedirectURI,
		Scopes:        scopes,
		RateLimit: vendors.RateLimitConfig{
			MaxRequests: maxRequests,
			TimeWindow:  window,
		},
	}
}

// StoreConfig builds the token store factory configuration
func (c *Config) StoreConfig() tokens.StoreConfig {
	redisDB, _ := strconv.Atoi(c.TokenStoreRedisDB)

	return tokens.StoreConfig{
		Backend:       c.TokenStoreBackend,
		SQLitePath:    c.TokenStoreSQLitePath,
		PostgresURL:   c.TokenStorePostgresURL,
		RedisAddr:     c.TokenStoreRedisAddr,
		RedisPassword: c.TokenStoreRedisPassword,
		RedisDB:       redisDB,
	}
}

// QueueConfig builds the event queue factory configuration
func (c *Config) QueueConfig() queue.Config {
	redisDB, _ := strconv.Atoi(c.QueueRedisDB)

	return queue.Config{
		Backend:       c.QueueBackend,
		RedisAddr:     c.QueueRedisAddr,
		RedisPassword: c.QueueRedisPassword,
		RedisDB:       redisDB,
		RedisPrefix:   c.QueueRedisPrefix,
		SQS: queue.SQSConfig{
			QueueURL:        c.QueueSQSURL,
			Region:          c.QueueSQSRegion,
			AccessKeyID:     c.QueueSQSAccessKeyID,
			SecretAccessKey: c.QueueSQSSecretKey,
			Endpoint:        c.QueueSQSEndpoint,
		},
	}
}
