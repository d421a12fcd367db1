// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Env            string `mapstructure:"APP_ENV"`
	Port           string `mapstructure:"PORT"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	// Search index (Postgres)
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`

	RedisURL string `mapstructure:"REDIS_URL"`

	// Primary store and assets (AWS)
	AWSRegion          string `mapstructure:"AWS_REGION"`
	AWSEndpointURL     string `mapstructure:"AWS_ENDPOINT_URL"`
	PostsTable         string `mapstructure:"POSTS_TABLE"`
	CountersTable      string `mapstructure:"COUNTERS_TABLE"`
	ImageBucket        string `mapstructure:"IMAGE_BUCKET"`
	CloudFrontDomain   string `mapstructure:"CLOUDFRONT_DOMAIN"`
	CloudFrontDistID   string `mapstructure:"CLOUDFRONT_DISTRIBUTION_ID"`
	ImageMaxUploadSize int64  `mapstructure:"IMAGE_MAX_UPLOAD_SIZE_MB"`

	// SMS delivery: "gateway", "kavenegar" or "log"
	SMSProvider   string `mapstructure:"SMS_PROVIDER"`
	SMSGatewayURL string `mapstructure:"SMS_GATEWAY_URL"`
	SMSAPIKey     string `mapstructure:"SMS_API_KEY"`
	SMSSender     string `mapstructure:"SMS_SENDER"`

	// Lifecycle tuning
	OTPTTLMinutes            int    `mapstructure:"OTP_TTL_MINUTES"`
	VerifyCooldownMinutes    int    `mapstructure:"VERIFY_COOLDOWN_MINUTES"`
	SweepAt                  string `mapstructure:"SWEEP_AT"`
	SweepMinAgeMinutes       int    `mapstructure:"SWEEP_MIN_AGE_MINUTES"`
	SweepEnabled             bool   `mapstructure:"SWEEP_ENABLED"`
	RateLimitFailClosed      bool   `mapstructure:"RATE_LIMIT_FAIL_CLOSED"`
	DBConnMaxLifetimeMinutes int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	// Tracing
	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	// A local .env is optional; values already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional; env vars and defaults are enough to boot.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")

	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "dhoka")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)

	viper.SetDefault("REDIS_URL", "localhost:6379")

	viper.SetDefault("AWS_REGION", "ap-south-1")
	viper.SetDefault("AWS_ENDPOINT_URL", "")
	viper.SetDefault("POSTS_TABLE", "Posts")
	viper.SetDefault("COUNTERS_TABLE", "PostCounters")
	viper.SetDefault("IMAGE_BUCKET", "dhoka-post-images")
	viper.SetDefault("CLOUDFRONT_DOMAIN", "")
	viper.SetDefault("CLOUDFRONT_DISTRIBUTION_ID", "")
	viper.SetDefault("IMAGE_MAX_UPLOAD_SIZE_MB", 10)

	viper.SetDefault("SMS_PROVIDER", "gateway")
	viper.SetDefault("SMS_SENDER", "")
	viper.SetDefault("SMS_GATEWAY_URL", "")
	viper.SetDefault("SMS_API_KEY", "")

	viper.SetDefault("OTP_TTL_MINUTES", 10)
	viper.SetDefault("VERIFY_COOLDOWN_MINUTES", 20)
	viper.SetDefault("SWEEP_AT", "16:25")
	viper.SetDefault("SWEEP_MIN_AGE_MINUTES", 60)
	viper.SetDefault("SWEEP_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_FAIL_CLOSED", false)

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

// IsProduction reports whether the production profile is active.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

func (c *Config) OTPTTL() time.Duration {
	return time.Duration(c.OTPTTLMinutes) * time.Minute
}

func (c *Config) VerifyCooldown() time.Duration {
	return time.Duration(c.VerifyCooldownMinutes) * time.Minute
}

func (c *Config) SweepMinAge() time.Duration {
	return time.Duration(c.SweepMinAgeMinutes) * time.Minute
}

// SweepClock parses SWEEP_AT as a local wall-clock hour and minute.
func (c *Config) SweepClock() (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.SweepAt))
	if err != nil {
		return 0, 0, fmt.Errorf("SWEEP_AT must be HH:MM: %w", err)
	}
	return t.Hour(), t.Minute(), nil
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.PostsTable == "" || c.CountersTable == "" {
		return errors.New("POSTS_TABLE and COUNTERS_TABLE are required")
	}
	if c.OTPTTLMinutes <= 0 {
		return errors.New("OTP_TTL_MINUTES must be positive")
	}
	if c.VerifyCooldownMinutes < 0 {
		return errors.New("VERIFY_COOLDOWN_MINUTES must not be negative")
	}
	if c.ImageMaxUploadSize <= 0 {
		return errors.New("IMAGE_MAX_UPLOAD_SIZE_MB must be positive")
	}
	if c.DBConnMaxLifetimeMinutes <= 0 {
		return errors.New("DB_CONN_MAX_LIFETIME_MINUTES must be positive")
	}
	if _, _, err := c.SweepClock(); err != nil {
		return err
	}
	switch c.SMSProvider {
	case "gateway", "log":
	case "kavenegar":
		if c.SMSAPIKey == "" {
			return errors.New("SMS_API_KEY is required for the kavenegar provider")
		}
	default:
		return fmt.Errorf("unknown SMS_PROVIDER %q", c.SMSProvider)
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable TLS in production")
		}
		if c.CloudFrontDomain == "" {
			return errors.New("CLOUDFRONT_DOMAIN is required in production")
		}
		if c.SMSProvider == "log" || (c.SMSProvider == "gateway" && c.SMSGatewayURL == "") {
			return errors.New("a real SMS provider is required in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
