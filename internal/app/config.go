package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

// Config holds the complete application configuration, loadable from
// environment variables (QKART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (QKART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for webhook de-duplication; disabled when empty" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (QKART_API_KEY_PEPPER)" flag:"api-key-pepper"`
	JWT          JWTConfig
	Stripe       StripeConfig
	Mail         MailConfig
	Checkout     CheckoutConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// JWTConfig controls customer bearer token verification.
type JWTConfig struct {
	Secret string `usage:"HS256 secret for customer bearer tokens" flag:"jwt-secret"`
}

// StripeConfig holds payment gateway credentials.
type StripeConfig struct {
	SecretKey     string        `usage:"Stripe secret API key" flag:"stripe-secret-key"`
	WebhookSecret string        `usage:"Stripe webhook signing secret" flag:"stripe-webhook-secret"`
	Currency      string        `default:"usd" usage:"Default payment currency"`
	EventTTL      time.Duration `default:"72h" usage:"How long processed webhook event ids are remembered"`
}

// MailConfig holds SMTP settings for order confirmations. Mail is disabled
// when Host is empty.
type MailConfig struct {
	Host      string `usage:"SMTP host" flag:"mail-host"`
	Port      int    `default:"587" usage:"SMTP port" flag:"mail-port"`
	Username  string `usage:"SMTP username"`
	Password  string `usage:"SMTP password"`
	From      string `default:"orders@qkart.local" usage:"Sender address"`
	QueueSize int    `default:"256" usage:"Pending confirmation e-mails before new ones are dropped"`
}

// CheckoutConfig controls order placement.
type CheckoutConfig struct {
	DeliveryDays int `default:"5" usage:"Estimated delivery lead time in days" flag:"delivery-days"`
}

// RateLimitConfig controls per-client rate limiting. The window is shared
// across instances through Redis when it is configured.
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

// LoadConfig loads configuration from a .env file, environment variables,
// YAML config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "QKART",
		Files:     []string{"config.yaml", "/etc/qkart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set QKART_DATABASE_URL or DATABASE_URL")
	case c.JWT.Secret == "":
		return errors.New("JWT secret is required: set QKART_JWT_SECRET")
	case c.APIKeyPepper == "":
		return errors.New("API key pepper is required: set QKART_API_KEY_PEPPER")
	case c.Stripe.SecretKey == "" || c.Stripe.WebhookSecret == "":
		return errors.New("stripe keys are required: set QKART_STRIPE_SECRET_KEY and QKART_STRIPE_WEBHOOK_SECRET")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's QKART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
