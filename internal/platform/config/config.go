package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the opportunity cache and refresher.
type Config struct {
	Redis         RedisConfig         `mapstructure:"redis"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Validity      ValidityConfig      `mapstructure:"validity"`
	Exchanges     ExchangesConfig     `mapstructure:"exchanges"`
	Warmup        WarmupConfig        `mapstructure:"warmup"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Refresh       RefreshConfig       `mapstructure:"refresh"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// RedisConfig holds Redis connection configuration. An empty address
// selects the in-memory backend instead.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig holds tiered-cache settings.
type CacheConfig struct {
	TierCapacity int  `mapstructure:"tier_capacity"`
	Compression  bool `mapstructure:"compression"`
}

// ValidityConfig holds the opportunity evaluation thresholds.
type ValidityConfig struct {
	MinProfitPercent   float64 `mapstructure:"min_profit_percent"`
	MinFundingRateDiff float64 `mapstructure:"min_funding_rate_diff"`
	Parallelism        int     `mapstructure:"parallelism"`
}

// ExchangesConfig holds per-exchange API settings.
type ExchangesConfig struct {
	Binance ExchangeConfig `mapstructure:"binance"`
	Bybit   ExchangeConfig `mapstructure:"bybit"`
}

// ExchangeConfig holds one exchange's API settings.
type ExchangeConfig struct {
	BaseURL   string          `mapstructure:"base_url"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// WarmupConfig holds cache pre-population settings. Pairs are
// "exchange:SYMBOL" strings, e.g. "binance:BTCUSDT".
type WarmupConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Pairs       []string      `mapstructure:"pairs"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Parallelism int           `mapstructure:"parallelism"`
}

// AWSConfig holds AWS service configuration. An empty SNS topic ARN
// disables invalidation events.
type AWSConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	DynamoTable string `mapstructure:"dynamo_table"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// RefreshConfig holds the periodic validity refresh settings.
type RefreshConfig struct {
	Schedule   string `mapstructure:"schedule"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ARBEDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Cache defaults
	v.SetDefault("cache.tier_capacity", 10000)
	v.SetDefault("cache.compression", true)

	// Validity defaults
	v.SetDefault("validity.min_profit_percent", 0.1)
	v.SetDefault("validity.min_funding_rate_diff", 0.02)
	v.SetDefault("validity.parallelism", 4)

	// Exchange defaults
	v.SetDefault("exchanges.binance.base_url", "https://fapi.binance.com")
	v.SetDefault("exchanges.binance.rate_limit.requests_per_second", 5)
	v.SetDefault("exchanges.binance.rate_limit.burst", 10)
	v.SetDefault("exchanges.bybit.base_url", "https://api.bybit.com")
	v.SetDefault("exchanges.bybit.rate_limit.requests_per_second", 5)
	v.SetDefault("exchanges.bybit.rate_limit.burst", 10)

	// Warmup defaults
	v.SetDefault("warmup.enabled", true)
	v.SetDefault("warmup.pairs", []string{"binance:BTCUSDT", "bybit:BTCUSDT"})
	v.SetDefault("warmup.timeout", "30s")
	v.SetDefault("warmup.parallelism", 4)

	// AWS defaults
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.dynamo_table", "arbitrage-opportunities")
	v.SetDefault("aws.sns_topic_arn", "")

	// Refresh defaults
	v.SetDefault("refresh.schedule", "*/5 * * * *")
	v.SetDefault("refresh.run_on_start", true)

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9091)
}

// ParsedPairs splits the warmup pair strings into (exchange, symbol)
// tuples, rejecting malformed entries.
func (w WarmupConfig) ParsedPairs() ([][2]string, error) {
	pairs := make([][2]string, 0, len(w.Pairs))
	for _, raw := range w.Pairs {
		exchange, symbol, ok := strings.Cut(raw, ":")
		if !ok || exchange == "" || symbol == "" {
			return nil, fmt.Errorf("invalid warmup pair %q, want exchange:SYMBOL", raw)
		}
		pairs = append(pairs, [2]string{exchange, symbol})
	}
	return pairs, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validity validation
	if c.Validity.MinProfitPercent <= 0 {
		return fmt.Errorf("validity min profit percent must be > 0")
	}
	if c.Validity.MinFundingRateDiff <= 0 {
		return fmt.Errorf("validity min funding rate diff must be > 0")
	}
	if c.Validity.Parallelism <= 0 {
		return fmt.Errorf("validity parallelism must be > 0")
	}

	// Cache validation
	if c.Cache.TierCapacity < 0 {
		return fmt.Errorf("cache tier capacity must be >= 0")
	}

	// AWS validation
	if c.AWS.Region == "" {
		return fmt.Errorf("AWS region is required")
	}
	if c.AWS.DynamoTable == "" {
		return fmt.Errorf("DynamoDB table name is required")
	}

	// Refresh validation
	if c.Refresh.Schedule == "" {
		return fmt.Errorf("refresh schedule is required")
	}

	// Warmup validation
	if c.Warmup.Enabled {
		if _, err := c.Warmup.ParsedPairs(); err != nil {
			return err
		}
	}

	// Observability validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}
