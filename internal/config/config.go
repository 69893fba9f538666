package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Environment string
	ServerPort  string
	LogLevel    string
	LogFormat   string

	// Database
	DatabaseType string
	DatabasePath string
	DatabaseURL  string

	// Sessions
	SessionSecret   string
	SessionDuration time.Duration

	// Quotas and budget
	FreeDailyLimit       int
	SecondaryDailyLimit  int
	GlobalDailyBudgetUSD float64
	CostPer1KTokensUSD   float64
	QuotaTimezone        string
	StoreRetries         int
	MinAgeWithoutConsent int

	// Counter cache
	CacheDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Completion provider
	Provider         string
	ProviderBaseURL  string
	ProviderAPIKey   string
	ProviderModel    string
	ProviderTimeout  time.Duration
	MaxOutputTokens  int
	MaxResponseBytes int64
	SystemPrompt     string

	// Request limits
	MaxQuestionChars int
	MaxImageBytes    int64

	// Rate limiting
	RateLimitGlobal   int
	RateLimitAuth     int
	RateLimitSolve    int
	RateLimitWindow   time.Duration
	TrustProxyHeaders bool

	// Content policy
	ContentPolicyFile string

	// Operator surfaces
	AdminToken     string
	AlertEmailFrom string
	AlertEmailTo   string
	AWSRegion      string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory, if present, is loaded first and never
// overrides variables that are already set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		ServerPort:  getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		DatabaseType: getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath: getEnv("DB_PATH", "./solvegate.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		SessionSecret:   getEnv("SESSION_SECRET", ""),
		SessionDuration: getEnvDuration("SESSION_DURATION", 30*24*time.Hour),

		FreeDailyLimit:       getEnvInt("FREE_DAILY_LIMIT", 5),
		SecondaryDailyLimit:  getEnvInt("SECONDARY_DAILY_LIMIT", 100),
		GlobalDailyBudgetUSD: getEnvFloat("GLOBAL_DAILY_BUDGET_USD", 50),
		CostPer1KTokensUSD:   getEnvFloat("COST_PER_1K_TOKENS_USD", 0.002),
		QuotaTimezone:        getEnv("QUOTA_TIMEZONE", "Local"),
		StoreRetries:         getEnvInt("STORE_RETRIES", 3),
		MinAgeWithoutConsent: getEnvInt("MIN_AGE_WITHOUT_CONSENT", 13),

		CacheDriver:   getEnv("CACHE_DRIVER", "memory"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		Provider:         getEnv("PROVIDER", "mock"),
		ProviderBaseURL:  getEnv("PROVIDER_BASE_URL", ""),
		ProviderAPIKey:   getEnv("PROVIDER_API_KEY", ""),
		ProviderModel:    getEnv("PROVIDER_MODEL", ""),
		ProviderTimeout:  getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		MaxOutputTokens:  getEnvInt("MAX_OUTPUT_TOKENS", 1024),
		MaxResponseBytes: int64(getEnvInt("MAX_RESPONSE_BYTES", 1<<20)),
		SystemPrompt:     getEnv("SYSTEM_PROMPT", ""),

		MaxQuestionChars: getEnvInt("MAX_QUESTION_CHARS", 4000),
		MaxImageBytes:    int64(getEnvInt("MAX_IMAGE_BYTES", 5*1024*1024)), // 5MB

		RateLimitGlobal:   getEnvInt("RATE_LIMIT_GLOBAL", 100),
		RateLimitAuth:     getEnvInt("RATE_LIMIT_AUTH", 10),
		RateLimitSolve:    getEnvInt("RATE_LIMIT_SOLVE", 20),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),

		ContentPolicyFile: getEnv("CONTENT_POLICY_FILE", ""),

		AdminToken:     getEnv("ADMIN_TOKEN", ""),
		AlertEmailFrom: getEnv("ALERT_EMAIL_FROM", ""),
		AlertEmailTo:   getEnv("ALERT_EMAIL_TO", ""),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
	}
}

// IsDevelopment reports whether the gateway runs in development mode
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Location resolves the quota time zone
func (c *Config) Location() (*time.Location, error) {
	if c.QuotaTimezone == "" || strings.EqualFold(c.QuotaTimezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.QuotaTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTA_TIMEZONE %q: %w", c.QuotaTimezone, err)
	}
	return loc, nil
}

// Validate checks settings that would otherwise fail at request time
func (c *Config) Validate() error {
	var errs []error

	if c.SessionSecret == "" {
		if !c.IsDevelopment() {
			errs = append(errs, errors.New("SESSION_SECRET is required outside development"))
		}
		c.SessionSecret = "development-only-secret"
	}
	if c.FreeDailyLimit < 0 {
		errs = append(errs, errors.New("FREE_DAILY_LIMIT must not be negative"))
	}
	if c.SecondaryDailyLimit < 0 {
		errs = append(errs, errors.New("SECONDARY_DAILY_LIMIT must not be negative"))
	}
	if c.GlobalDailyBudgetUSD <= 0 {
		errs = append(errs, errors.New("GLOBAL_DAILY_BUDGET_USD must be positive"))
	}
	if c.SessionDuration <= 0 {
		errs = append(errs, errors.New("SESSION_DURATION must be positive"))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive"))
	}
	switch strings.ToLower(c.Provider) {
	case "mock":
	case "openai", "gemini":
		if c.ProviderAPIKey == "" {
			errs = append(errs, fmt.Errorf("PROVIDER_API_KEY is required for provider %q", c.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported PROVIDER %q", c.Provider))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s", "720h")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
