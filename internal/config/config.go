package config

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sundayezeilo/linkkeeper/internal/ttl"
)

// Config holds all application configuration.
type Config struct {
	Link      LinkConfig
	App       AppConfig
	Generator GeneratorConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Resolver  ResolverConfig
}

// Duration is a time.Duration that envconfig decodes from the link TTL
// grammar ("30m", "7d"), a Go duration ("1h30m") or an ISO-8601 duration
// ("PT1H", "P7D").
type Duration time.Duration

var isoPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("duration cannot be empty")
	}

	if v, err := ttl.Parse(value); err == nil {
		*d = Duration(v)
		return nil
	}
	if v, err := time.ParseDuration(value); err == nil {
		*d = Duration(v)
		return nil
	}
	if v, ok := parseISO(strings.ToUpper(value)); ok {
		*d = Duration(v)
		return nil
	}
	return fmt.Errorf("invalid duration %q", value)
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func parseISO(s string) (time.Duration, bool) {
	m := isoPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return 0, false
	}
	units := []time.Duration{ttl.Day, time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, false
		}
		total += time.Duration(n) * unit
	}
	return total, true
}

// LinkConfig holds the caps applied to every link.
type LinkConfig struct {
	MaxClicks int      `envconfig:"LINK_MAX_CLICKS" required:"true"`
	MaxTTL    Duration `envconfig:"LINK_MAX_TIME_TO_LIVE" required:"true"`
}

// Validate validates the link limits.
func (c *LinkConfig) Validate() error {
	if c.MaxClicks <= 0 {
		return fmt.Errorf("max clicks must be positive")
	}
	if c.MaxTTL <= 0 {
		return fmt.Errorf("max time to live must be positive")
	}
	return nil
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"` // development, staging, production, test
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`      // debug, info, warn, error
	IDVersion   int    `envconfig:"ID_VERSION" default:"7"`        // 4 or 7
	MetricsFile string `envconfig:"METRICS_FILE"`                  // node_exporter textfile, written on shutdown
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Environment)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	if c.IDVersion != 4 && c.IDVersion != 7 {
		return fmt.Errorf("invalid id version: %d (must be 4 or 7)", c.IDVersion)
	}
	return nil
}

const (
	StrategyRandom = "random"
	StrategySqids  = "sqids"
)

// GeneratorConfig shapes the short codes. Empty values select the
// generator defaults.
type GeneratorConfig struct {
	Strategy string `envconfig:"CODE_STRATEGY" default:"random"` // random, sqids
	Prefix   string `envconfig:"CODE_PREFIX"`
	Alphabet string `envconfig:"CODE_ALPHABET"`
	Length   int    `envconfig:"CODE_LENGTH"`
}

// Validate validates the generator configuration.
func (c *GeneratorConfig) Validate() error {
	if c.Strategy != StrategyRandom && c.Strategy != StrategySqids {
		return fmt.Errorf("invalid code strategy: %s (must be one of: random, sqids)", c.Strategy)
	}
	if c.Length < 0 || c.Length > 64 {
		return fmt.Errorf("code length must be between 1 and 64, got %d", c.Length)
	}
	if c.Alphabet != "" {
		seen := make(map[rune]bool, len(c.Alphabet))
		for _, r := range c.Alphabet {
			if r > 127 {
				return fmt.Errorf("code alphabet must be ASCII")
			}
			if seen[r] {
				return fmt.Errorf("code alphabet contains duplicate %q", r)
			}
			seen[r] = true
		}
		if len(seen) < 2 {
			return fmt.Errorf("code alphabet needs at least 2 characters")
		}
		if c.Strategy == StrategySqids && len(seen) < 3 {
			return fmt.Errorf("sqids code alphabet needs at least 3 characters")
		}
	}
	return nil
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// StoreConfig selects the storage backend.
type StoreConfig struct {
	Driver string `envconfig:"STORE_DRIVER" default:"memory"`
	// UserCacheSize bounds the in-process user cache in front of the
	// postgres and redis drivers. Zero disables it.
	UserCacheSize int64 `envconfig:"USER_CACHE_SIZE" default:"10000"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case DriverMemory, DriverPostgres, DriverRedis:
	default:
		return fmt.Errorf("invalid store driver: %s (must be one of: memory, postgres, redis)", c.Driver)
	}
	if c.UserCacheSize < 0 {
		return fmt.Errorf("user cache size cannot be negative")
	}
	return nil
}

// DatabaseConfig holds database connection configuration.
// Only loaded when the postgres driver is selected.
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" required:"true"`
	Port     string `envconfig:"DB_PORT" required:"true"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	Name     string `envconfig:"DB_NAME" required:"true"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" default:"4"`
	MinConns int32  `envconfig:"DB_MIN_CONNS" default:"1"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if c.Name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.MinConns <= 0 {
		return fmt.Errorf("min connections must be positive")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", c.SSLMode)
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds the Redis connection.
// Only loaded when the redis driver is selected.
type RedisConfig struct {
	Addr      string `envconfig:"REDIS_ADDR" required:"true"`
	Password  string `envconfig:"REDIS_PASSWORD"`
	DB        int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"linkkeeper:"`
}

// Validate validates the redis configuration.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if c.DB < 0 {
		return fmt.Errorf("db cannot be negative")
	}
	return nil
}

const (
	ResolverBrowser = "browser"
	ResolverPrint   = "print"
)

// ResolverConfig selects how a fetched link is opened.
type ResolverConfig struct {
	Mode string `envconfig:"RESOLVER_MODE" default:"print"`
}

// Validate validates the resolver configuration.
func (c *ResolverConfig) Validate() error {
	switch c.Mode {
	case ResolverBrowser, ResolverPrint:
		return nil
	default:
		return fmt.Errorf("invalid resolver mode: %s (must be one of: browser, print)", c.Mode)
	}
}

// Load loads configuration from environment variables only.
// (.env loading happens in the app package, not here.)
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process("", &cfg.Link); err != nil {
		return nil, fmt.Errorf("failed to load Link config: %w", err)
	}
	if err := cfg.Link.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Link config: %w", err)
	}

	if err := envconfig.Process("", &cfg.App); err != nil {
		return nil, fmt.Errorf("failed to load App config: %w", err)
	}
	if err := cfg.App.Validate(); err != nil {
		return nil, fmt.Errorf("invalid App config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Generator); err != nil {
		return nil, fmt.Errorf("failed to load Generator config: %w", err)
	}
	if err := cfg.Generator.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Generator config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Store); err != nil {
		return nil, fmt.Errorf("failed to load Store config: %w", err)
	}
	if err := cfg.Store.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Store config: %w", err)
	}

	if cfg.Store.Driver == DriverPostgres {
		if err := envconfig.Process("", &cfg.Database); err != nil {
			return nil, fmt.Errorf("failed to load Database config: %w", err)
		}
		if err := cfg.Database.Validate(); err != nil {
			return nil, fmt.Errorf("invalid Database config: %w", err)
		}
	}

	if cfg.Store.Driver == DriverRedis {
		if err := envconfig.Process("", &cfg.Redis); err != nil {
			return nil, fmt.Errorf("failed to load Redis config: %w", err)
		}
		if err := cfg.Redis.Validate(); err != nil {
			return nil, fmt.Errorf("invalid Redis config: %w", err)
		}
	}

	if err := envconfig.Process("", &cfg.Resolver); err != nil {
		return nil, fmt.Errorf("failed to load Resolver config: %w", err)
	}
	if err := cfg.Resolver.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Resolver config: %w", err)
	}

	return cfg, nil
}
