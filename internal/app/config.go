package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (TECHAVEN_ prefix), flags, or YAML config files.
type Config struct {
	Addr                string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL         string `usage:"PostgreSQL connection URL (TECHAVEN_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	StripeSecretKey     string `usage:"Stripe API secret key; empty disables payments" flag:"stripe-secret-key"`
	StripeWebhookSecret string `usage:"Stripe webhook signing secret" flag:"stripe-webhook-secret"`
	Currency            string `default:"usd" usage:"ISO currency code for payment intents"`
	Timeouts            TimeoutConfig
	RateLimit           RateLimitConfig
	CORS                CORSConfig
	Graceful            GracefulConfig
}

// TimeoutConfig bounds the external calls made while placing an order.
type TimeoutConfig struct {
	Catalog time.Duration `default:"3s"  usage:"Stock reservation deadline" flag:"catalog-timeout"`
	Persist time.Duration `default:"5s"  usage:"Order persistence deadline" flag:"persist-timeout"`
	Gateway time.Duration `default:"10s" usage:"Payment gateway deadline" flag:"gateway-timeout"`
	Release time.Duration `default:"30s" usage:"Stock release (compensation) deadline" flag:"release-timeout"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "TECHAVEN",
		Files:     []string{"config.yaml", "/etc/techaven/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set TECHAVEN_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's TECHAVEN_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
