package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	AMQPURL       string   `mapstructure:"AMQP_URL"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`
	JWTSecret     string   `mapstructure:"JWT_SECRET"`
	WebhookSecret string   `mapstructure:"WEBHOOK_SECRET"`

	// Provider settings. ProviderBaseURL is the default endpoint used when a
	// clinic has no per-clinic credentials stored.
	ProviderBaseURL string `mapstructure:"PROVIDER_BASE_URL"`
	ProviderAPIKey  string `mapstructure:"PROVIDER_API_KEY"`
	ProviderTimeout int    `mapstructure:"PROVIDER_TIMEOUT_SECONDS"`

	// Retry policy knobs for failed dispatches.
	MaxRetries       int `mapstructure:"MAX_RETRIES"`
	RetryBaseMinutes int `mapstructure:"RETRY_BASE_MINUTES"`

	// RunCron is the cron expression for the daily batch run.
	RunCron string `mapstructure:"RUN_CRON"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("PROVIDER_TIMEOUT_SECONDS", 30)
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("RETRY_BASE_MINUTES", 5)
	v.SetDefault("RUN_CRON", "0 6 * * *")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AMQP_URL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("WEBHOOK_SECRET")
	v.BindEnv("PROVIDER_BASE_URL")
	v.BindEnv("PROVIDER_API_KEY")
	v.BindEnv("PROVIDER_TIMEOUT_SECONDS")
	v.BindEnv("MAX_RETRIES")
	v.BindEnv("RETRY_BASE_MINUTES")
	v.BindEnv("RUN_CRON")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Operator routes accept unauthenticated requests.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Production requires
// a JWT secret for operator routes and a webhook secret so provider callbacks
// can be authenticated.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.WebhookSecret == "" {
			return fmt.Errorf("WEBHOOK_SECRET is required in production")
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.RetryBaseMinutes <= 0 {
		return fmt.Errorf("RETRY_BASE_MINUTES must be positive, got %d", c.RetryBaseMinutes)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT_SECONDS must be positive, got %d", c.ProviderTimeout)
	}
	return nil
}
