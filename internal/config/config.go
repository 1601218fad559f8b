package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort        string
	ServiceApiPort string

	// Signature provider (OAuth + REST)
	ProviderTokenURL       string
	ProviderIntegrationKey string
	ProviderSecretKey      string
	ProviderDefaultBaseURI string
	ProviderHTTPTimeout    time.Duration
	ProviderMaxRetries     int
	ProviderRetryBaseDelay time.Duration
	TokenRefreshMargin     time.Duration
	ConnectionCacheTTL     time.Duration
	ProviderSyncInterval   time.Duration

	// Attorney review
	AttorneyReviewStates []string // property states that require a review window
	AttorneyReviewDays   int

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string

	// AWS S3 (signed document archive)
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string

	// App Defaults
	AppName string

	// Rate Limiting Defaults
	RateLimitSoftBucketSize int
	RateLimitSoftRefillRate int // tokens per second
	RateLimitHardBucketSize int
	RateLimitHardRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode, // Set from flag
	}

	var err error

	// Helper function to get env var or default
	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	// Helper function to get required env var
	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	// Load basic string values
	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")

	cfg.ProviderTokenURL = getEnv("PROVIDER_TOKEN_URL", "https://account.docusign.com/oauth/token")
	cfg.ProviderIntegrationKey = getEnv("PROVIDER_INTEGRATION_KEY", "")
	cfg.ProviderSecretKey = getEnv("PROVIDER_SECRET_KEY", "")
	cfg.ProviderDefaultBaseURI = getEnv("PROVIDER_DEFAULT_BASE_URI", "")

	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@investorkonnect.example.com")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.AppName = getEnv("APP_NAME", "InvestorKonnect")

	reviewStates := getEnv("ATTORNEY_REVIEW_STATES", "NJ")
	for _, s := range strings.Split(reviewStates, ",") {
		s = strings.TrimSpace(strings.ToUpper(s))
		if s != "" {
			cfg.AttorneyReviewStates = append(cfg.AttorneyReviewStates, s)
		}
	}

	// Load numeric and time duration values with defaults and parsing
	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	jwtTTLSeconds, err := strconv.ParseInt(getEnv("JWT_TTL_SECONDS", "3600"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL_SECONDS: %w", err)
	}
	cfg.JwtTTL = time.Duration(jwtTTLSeconds) * time.Second

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	providerTimeoutSeconds, err := strconv.ParseInt(getEnv("PROVIDER_HTTP_TIMEOUT_SECONDS", "15"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PROVIDER_HTTP_TIMEOUT_SECONDS: %w", err)
	}
	cfg.ProviderHTTPTimeout = time.Duration(providerTimeoutSeconds) * time.Second

	cfg.ProviderMaxRetries, err = strconv.Atoi(getEnv("PROVIDER_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROVIDER_MAX_RETRIES: %w", err)
	}

	retryBaseMs, err := strconv.ParseInt(getEnv("PROVIDER_RETRY_BASE_DELAY_MS", "500"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PROVIDER_RETRY_BASE_DELAY_MS: %w", err)
	}
	cfg.ProviderRetryBaseDelay = time.Duration(retryBaseMs) * time.Millisecond

	refreshMarginSeconds, err := strconv.ParseInt(getEnv("TOKEN_REFRESH_MARGIN_SECONDS", "300"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_REFRESH_MARGIN_SECONDS: %w", err)
	}
	cfg.TokenRefreshMargin = time.Duration(refreshMarginSeconds) * time.Second

	connCacheTTLSeconds, err := strconv.ParseInt(getEnv("CONNECTION_CACHE_TTL_SECONDS", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CONNECTION_CACHE_TTL_SECONDS: %w", err)
	}
	cfg.ConnectionCacheTTL = time.Duration(connCacheTTLSeconds) * time.Second

	syncIntervalSeconds, err := strconv.ParseInt(getEnv("PROVIDER_SYNC_INTERVAL_SECONDS", "300"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PROVIDER_SYNC_INTERVAL_SECONDS: %w", err)
	}
	cfg.ProviderSyncInterval = time.Duration(syncIntervalSeconds) * time.Second

	cfg.AttorneyReviewDays, err = strconv.Atoi(getEnv("ATTORNEY_REVIEW_DAYS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid ATTORNEY_REVIEW_DAYS: %w", err)
	}

	// Rate Limiting
	cfg.RateLimitSoftBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_SOFT_BUCKET_SIZE", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_SOFT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitSoftRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_SOFT_REFILL_RATE", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_SOFT_REFILL_RATE: %w", err)
	}
	cfg.RateLimitHardBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_HARD_BUCKET_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_HARD_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitHardRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_HARD_REFILL_RATE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_HARD_REFILL_RATE: %w", err)
	}

	return cfg, nil
}

// RequiresAttorneyReview reports whether agreements for properties in the
// given state enter the attorney-review window after full signature.
func (c *Config) RequiresAttorneyReview(propertyState string) bool {
	propertyState = strings.ToUpper(strings.TrimSpace(propertyState))
	for _, s := range c.AttorneyReviewStates {
		if s == propertyState {
			return true
		}
	}
	return false
}
