// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	AWS         AWSConfig
	Ledger      LedgerConfig
	Sponsor     SponsorConfig
	Security    SecurityConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
	// Per-IP request limits.
	RateLimit       float64 // requests per second
	RateBurst       int
	AuthPerMinute   int
	LedgerPerMinute int
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey      string
	AccessTokenTTL int // in hours
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	CloudFrontURL   string
	URLExpiry       time.Duration
}

type LedgerConfig struct {
	// Mode selects the gateway implementation: "http" or "fake".
	Mode        string
	URL         string
	APIUser     string
	APIPassword string
	Timeout     time.Duration
	RateLimit   float64
	Burst       int

	RegistrationAttempts int
	RegistrationDelay    time.Duration
}

type SponsorConfig struct {
	Enabled             bool
	Username            string
	Password            string
	PIN                 string
	AccountName         string
	SessionRefresh      time.Duration
	MaxFeePerTx         decimal.Decimal
	DailyLimit          decimal.Decimal
	MintFeeEstimate     decimal.Decimal
	TransferFeeEstimate decimal.Decimal
}

type SecurityConfig struct {
	// CredentialKey seals users' ledger passwords and PINs at rest.
	CredentialKey string
	AdminPassword string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),

			RateLimit:       getEnvAsFloat("RATE_LIMIT", 10),
			RateBurst:       getEnvAsInt("RATE_BURST", 20),
			AuthPerMinute:   getEnvAsInt("RATE_AUTH_PER_MINUTE", 5),
			LedgerPerMinute: getEnvAsInt("RATE_LEDGER_PER_MINUTE", 30),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "tunevault"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "silent"),
		},
		JWT: JWTConfig{
			SecretKey:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenTTL: getEnvAsInt("JWT_ACCESS_TTL", 24),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "tunevault-media"),
			CloudFrontURL:   getEnv("AWS_CLOUDFRONT_URL", ""),
			URLExpiry:       getEnvAsDuration("AWS_URL_EXPIRY", time.Hour),
		},
		Ledger: LedgerConfig{
			Mode:                 getEnv("LEDGER_MODE", "http"),
			URL:                  getEnv("LEDGER_URL", "http://localhost:8080"),
			APIUser:              getEnv("LEDGER_API_USER", ""),
			APIPassword:          getEnv("LEDGER_API_PASSWORD", ""),
			Timeout:              getEnvAsDuration("LEDGER_TIMEOUT", 15*time.Second),
			RateLimit:            getEnvAsFloat("LEDGER_RATE_LIMIT", 20),
			Burst:                getEnvAsInt("LEDGER_RATE_BURST", 10),
			RegistrationAttempts: getEnvAsInt("LEDGER_REGISTRATION_ATTEMPTS", 3),
			RegistrationDelay:    getEnvAsDuration("LEDGER_REGISTRATION_DELAY", 5*time.Second),
		},
		Sponsor: SponsorConfig{
			Enabled:             getEnvAsBool("SPONSOR_ENABLED", true),
			Username:            getEnv("SPONSOR_USERNAME", ""),
			Password:            getEnv("SPONSOR_PASSWORD", ""),
			PIN:                 getEnv("SPONSOR_PIN", ""),
			AccountName:         getEnv("SPONSOR_ACCOUNT", "default"),
			SessionRefresh:      getEnvAsDuration("SPONSOR_SESSION_REFRESH", 30*time.Minute),
			MaxFeePerTx:         getEnvAsDecimal("SPONSOR_MAX_FEE_PER_TX", decimal.RequireFromString("0.01")),
			DailyLimit:          getEnvAsDecimal("SPONSOR_DAILY_LIMIT", decimal.RequireFromString("1")),
			MintFeeEstimate:     getEnvAsDecimal("SPONSOR_MINT_FEE", decimal.RequireFromString("0.01")),
			TransferFeeEstimate: getEnvAsDecimal("SPONSOR_TRANSFER_FEE", decimal.RequireFromString("0.01")),
		},
		Security: SecurityConfig{
			CredentialKey: getEnv("CREDENTIAL_KEY", "dev-credential-key-change-in-production"),
			AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Security.CredentialKey == "dev-credential-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("credential key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Ledger.Mode != "http" && c.Ledger.Mode != "fake" {
		return fmt.Errorf("unknown ledger mode %q", c.Ledger.Mode)
	}

	if c.Ledger.Mode == "fake" && c.Environment == "production" {
		return fmt.Errorf("fake ledger is not allowed in production")
	}

	if c.Server.AuthPerMinute < 1 || c.Server.LedgerPerMinute < 1 {
		return fmt.Errorf("per-minute rate limits must be at least 1")
	}

	if c.Ledger.RegistrationAttempts < 1 {
		return fmt.Errorf("ledger registration attempts must be at least 1")
	}

	if c.Sponsor.MaxFeePerTx.IsNegative() || c.Sponsor.DailyLimit.IsNegative() {
		return fmt.Errorf("sponsorship limits must not be negative")
	}

	return nil
}

// Configured reports whether platform credentials are present.
func (s SponsorConfig) Configured() bool {
	return s.Enabled && s.Username != "" && s.Password != "" && s.PIN != ""
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
