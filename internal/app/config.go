package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (SPREE_ prefix), flags, or YAML config files.
type Config struct {
	Addr            string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL     string `usage:"PostgreSQL connection URL (SPREE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper    string `usage:"HMAC pepper for API key hashing (SPREE_API_KEY_PEPPER)" flag:"api-key-pepper"`
	DefaultCurrency string `default:"USD" usage:"Currency of new orders" flag:"default-currency"`
	TaxZoneID       int64  `default:"1" usage:"Tax zone of new orders" flag:"tax-zone-id"`
	Shipping        ShippingConfig
	Redis           RedisConfig
	Kafka           KafkaConfig
	RateLimit       RateLimitConfig
	CORS            CORSConfig
	Graceful        GracefulConfig
}

// ShippingConfig controls proposed shipments.
type ShippingConfig struct {
	FlatRate string `default:"5.00" usage:"Cost of every proposed shipment" flag:"shipping-flat-rate"`
}

// RedisConfig controls the variant cache. An empty address disables it.
type RedisConfig struct {
	Addr       string        `default:"" usage:"Redis address for the variant cache" flag:"redis-addr"`
	Password   string        `default:"" usage:"Redis password" flag:"redis-password"`
	DB         int           `default:"0" usage:"Redis database" flag:"redis-db"`
	VariantTTL time.Duration `default:"5m" usage:"Variant cache TTL" flag:"redis-variant-ttl"`
}

// KafkaConfig controls event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers      []string      `usage:"Kafka brokers for order events" flag:"kafka-brokers"`
	BatchSize    int           `default:"100" usage:"Max events per batch" flag:"kafka-batch-size"`
	BatchTimeout time.Duration `default:"10ms" usage:"Max wait before flushing a batch" flag:"kafka-batch-timeout"`
}

// RateLimitConfig controls the per-client sliding window rate limiter. The
// counters live in Redis when Redis.Addr is set, in memory otherwise.
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

// LoadConfig loads configuration from command-line args, environment
// variables and YAML config files, and applies platform-specific defaults.
func LoadConfig(args []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SPREE",
		Args:      args,
		Files:     []string{"config.yaml", "/etc/spree/config.yaml"},
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
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SPREE_DATABASE_URL or DATABASE_URL")
	}
	if _, err := c.ShippingRate(); err != nil {
		return err
	}
	if len(c.DefaultCurrency) != 3 {
		return errors.Errorf("invalid default currency %q", c.DefaultCurrency)
	}
	c.DefaultCurrency = strings.ToUpper(c.DefaultCurrency)
	return nil
}

// ShippingRate parses the configured flat shipping rate.
func (c *Config) ShippingRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.Shipping.FlatRate)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse shipping flat rate %q", c.Shipping.FlatRate)
	}
	if rate.IsNegative() {
		return decimal.Zero, errors.Errorf("negative shipping flat rate %s", rate)
	}
	return rate, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SPREE_-prefixed configuration.
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
