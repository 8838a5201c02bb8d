package config

import (
	"fmt"
	"strings"
	"time"
	// TIMEZONE must resolve on hosts without a zoneinfo database
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	LockAdvisory = "advisory"
	LockMemory   = "memory"
	LockRedis    = "redis"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant  string        `mapstructure:"DEFAULT_TENANT"`
	MigrationsDir  string        `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	DevUserID      string        `mapstructure:"DEV_USER_ID"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	Timezone       string        `mapstructure:"TIMEZONE"`
	MinDaysAhead   int           `mapstructure:"MIN_DAYS_AHEAD"`
	LockBackend    string        `mapstructure:"LOCK_BACKEND"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	LockTTL        time.Duration `mapstructure:"LOCK_TTL"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_TENANT",
	"MIGRATIONS_DIR", "CORS_ORIGINS", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"AUTH_SIGNING_KEY", "DEV_USER_ID", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "TIMEZONE", "MIN_DAYS_AHEAD", "LOCK_BACKEND",
	"REDIS_URL", "LOCK_TTL",
}

// Load reads the environment, falling back to a .env file in the working
// directory and then to the defaults below.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DEV_USER_ID", "00000000-0000-0000-0000-000000000001")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "64K")
	v.SetDefault("TIMEZONE", "Africa/Luanda")
	v.SetDefault("MIN_DAYS_AHEAD", 1)
	v.SetDefault("LOCK_BACKEND", LockAdvisory)
	v.SetDefault("LOCK_TTL", "10s")

	// AutomaticEnv alone is not seen by Unmarshal
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// a missing .env is fine
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves TIMEZONE, in which every booking rule is evaluated.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) DevUser() (uuid.UUID, error) {
	id, err := uuid.Parse(c.DevUserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("DEV_USER_ID is not a uuid: %w", err)
	}
	return id, nil
}

// Validate rejects settings the server cannot start with. Outside development
// a token verifier must be configured.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.MinDaysAhead < 0 {
		return fmt.Errorf("MIN_DAYS_AHEAD must not be negative, got %d", c.MinDaysAhead)
	}

	switch c.LockBackend {
	case LockAdvisory, LockMemory:
	case LockRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when LOCK_BACKEND is %q", LockRedis)
		}
	default:
		return fmt.Errorf("LOCK_BACKEND must be %q, %q or %q, got %q", LockAdvisory, LockMemory, LockRedis, c.LockBackend)
	}

	if c.IsDev() {
		if _, err := c.DevUser(); err != nil {
			return err
		}
		return nil
	}
	if c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes in production")
	}
	return nil
}
