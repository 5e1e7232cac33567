// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Key store backends.
const (
	KeyStoreFile     = "file"
	KeyStoreDatabase = "database"
	KeyStoreRedis    = "redis"
)

// Refresh-token reuse policies.
const (
	ReusePolicyReject        = "reject"
	ReusePolicyRevokeLineage = "revoke_lineage"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseDriver selects the relational store: postgres or sqlite.
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	// DatabaseURL is the Postgres DSN; required when DatabaseDriver is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// SQLitePath is the SQLite database file; used when DatabaseDriver is sqlite.
	SQLitePath string `mapstructure:"SQLITE_PATH"`

	// KeyStore selects where signing keys are persisted: file, database or redis.
	KeyStore string `mapstructure:"KEY_STORE"`
	// KeyDir is the directory for the file key store.
	KeyDir string `mapstructure:"KEY_DIR"`
	// RedisURL is the redis:// URL for the redis key store.
	RedisURL string `mapstructure:"REDIS_URL"`
	// RedisKeyPrefix namespaces signing keys in Redis.
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`
	// RSAKeyBits is the modulus size of generated signing keys.
	RSAKeyBits int `mapstructure:"RSA_KEY_BITS"`
	// KeyRetireGrace is how long a retired key stays verification-eligible (e.g. "15m"); empty means the access TTL.
	KeyRetireGrace string `mapstructure:"KEY_RETIRE_GRACE"`

	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token (session) lifetime (e.g. "720h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4 to 31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// LockoutThreshold is the number of consecutive failed logins that locks an account.
	LockoutThreshold int `mapstructure:"LOCKOUT_THRESHOLD"`
	// LockoutDuration is how long an account stays locked (e.g. "15m").
	LockoutDuration string `mapstructure:"LOCKOUT_DURATION"`
	// RequireEmailVerified rejects logins from accounts whose email is not verified.
	RequireEmailVerified bool `mapstructure:"REQUIRE_EMAIL_VERIFIED"`
	// RefreshReusePolicy is reject (fail the call) or revoke_lineage (also revoke every session in the lineage).
	RefreshReusePolicy string `mapstructure:"REFRESH_REUSE_POLICY"`

	// PolicyFile is an optional Rego module replacing the built-in authorization policy.
	PolicyFile string `mapstructure:"POLICY_FILE"`

	// LogFormat is text, json or pretty (colored, for local development).
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// CORSOrigins is a comma-separated list of allowed origins.
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`
	// WebhookToken must be presented in X-Webhook-Token by webhook callers. Empty disables the endpoint.
	WebhookToken string `mapstructure:"WEBHOOK_TOKEN"`
	// WorkerInterval is how often cmd/worker sweeps expired sessions and prunes retired keys.
	WorkerInterval string `mapstructure:"WORKER_INTERVAL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_DRIVER", DriverPostgres)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "./data/auth.db")
	v.SetDefault("KEY_STORE", KeyStoreFile)
	v.SetDefault("KEY_DIR", "./keys")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_KEY_PREFIX", "authkeys:")
	v.SetDefault("RSA_KEY_BITS", 2048)
	v.SetDefault("KEY_RETIRE_GRACE", "")
	v.SetDefault("JWT_ISSUER", "saas-auth")
	v.SetDefault("JWT_AUDIENCE", "saas-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "720h") // 30d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION", "15m")
	v.SetDefault("REQUIRE_EMAIL_VERIFIED", false)
	v.SetDefault("REFRESH_REUSE_POLICY", ReusePolicyReject)
	v.SetDefault("POLICY_FILE", "")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("WEBHOOK_TOKEN", "")
	v.SetDefault("WORKER_INTERVAL", "10m")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch c.DatabaseDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when DATABASE_DRIVER=postgres")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("config: SQLITE_PATH must be set when DATABASE_DRIVER=sqlite")
		}
	default:
		return errors.New("config: DATABASE_DRIVER must be postgres or sqlite")
	}
	switch c.KeyStore {
	case KeyStoreFile:
		if strings.TrimSpace(c.KeyDir) == "" {
			return errors.New("config: KEY_DIR must be set when KEY_STORE=file")
		}
	case KeyStoreDatabase:
	case KeyStoreRedis:
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL must be set when KEY_STORE=redis")
		}
	default:
		return errors.New("config: KEY_STORE must be file, database or redis")
	}
	if c.RSAKeyBits == 0 {
		c.RSAKeyBits = 2048
	}
	if c.RSAKeyBits < 2048 {
		return errors.New("config: RSA_KEY_BITS must be at least 2048")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.LockoutThreshold <= 0 {
		return errors.New("config: LOCKOUT_THRESHOLD must be positive")
	}
	if c.RefreshReusePolicy != ReusePolicyReject && c.RefreshReusePolicy != ReusePolicyRevokeLineage {
		return errors.New("config: REFRESH_REUSE_POLICY must be reject or revoke_lineage")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json", "pretty":
	default:
		return errors.New("config: LOG_FORMAT must be text, json or pretty")
	}
	if c.KeyRetireGrace != "" {
		d, err := time.ParseDuration(c.KeyRetireGrace)
		if err != nil {
			return errors.New("config: KEY_RETIRE_GRACE must be a duration")
		}
		if d < c.AccessTTL() {
			return errors.New("config: KEY_RETIRE_GRACE must not be shorter than JWT_ACCESS_TTL")
		}
	}
	return nil
}

// SweepInterval parses WorkerInterval. Returns 10m if unset or invalid.
func (c *Config) SweepInterval() time.Duration {
	return parseDurationOr(c.WorkerInterval, 10*time.Minute)
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDurationOr(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDurationOr(c.JWTRefreshTTL, 720*time.Hour)
}

// LockoutWindow parses LockoutDuration. Returns 15m if unset or invalid.
func (c *Config) LockoutWindow() time.Duration {
	return parseDurationOr(c.LockoutDuration, 15*time.Minute)
}

// RetireGrace returns how long a retired signing key stays verification-eligible.
// It is never shorter than the access token TTL.
func (c *Config) RetireGrace() time.Duration {
	grace := parseDurationOr(c.KeyRetireGrace, 0)
	if access := c.AccessTTL(); grace < access {
		return access
	}
	return grace
}

// CORSOriginList returns allowed origins from the comma-separated config.
func (c *Config) CORSOriginList() []string {
	if c == nil || c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
