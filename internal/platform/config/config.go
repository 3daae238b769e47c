// Package config loads service configuration from the environment so main
// stays lean. Every knob has a development default except secrets, which
// must be provided explicitly.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	stringsx "warden/pkg/platform/strings"
)

// Config is the root configuration for the service.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Otel      OtelConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Crypto    CryptoConfig
	Session   SessionConfig
	MFA       MFAConfig
	Providers ProvidersConfig
	Tenant    TenantConfig
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string
	Format string
}

// OtelConfig controls trace export. An empty endpoint disables tracing.
type OtelConfig struct {
	Endpoint    string
	ServiceName string
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CookieDomain    string

	// OpsToken, when set, is required on operational endpoints
	// (metrics, pprof). Empty leaves them open, which is fine behind
	// a private listener.
	OpsToken string
}

// PostgresConfig configures the database pool. An empty DSN selects the
// in-memory stores, which is the development default.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the optional Redis connection used for MFA
// lockout counters. An empty URL falls back to in-memory counters.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional audit event sink. No brokers means
// audit events are only written to the local store.
type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
}

// CryptoConfig holds the master key every other key is derived from.
type CryptoConfig struct {
	MasterKey []byte
}

// SessionConfig controls session and refresh token lifetimes.
type SessionConfig struct {
	TTL           time.Duration
	RefreshTTL    time.Duration
	SweepInterval time.Duration
}

// MFAConfig controls TOTP issuance and verification lockout.
type MFAConfig struct {
	Issuer           string
	LockoutThreshold int
	LockoutWindow    time.Duration
	LockoutDuration  time.Duration
}

// ProviderConfig holds OAuth client credentials for one identity provider.
// A provider with an empty ClientID is treated as not configured.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// ProvidersConfig groups all supported identity providers.
type ProvidersConfig struct {
	GitHub    ProviderConfig
	Google    ProviderConfig
	Microsoft ProviderConfig
	Apple     ProviderConfig
}

// TenantConfig controls how requests are mapped to tenants.
type TenantConfig struct {
	HeaderName string
	DefaultID  string
}

// FromEnv builds the full configuration from environment variables.
// It returns an error when a required secret is missing or malformed.
func FromEnv() (Config, error) {
	masterKey, err := decodeMasterKey(os.Getenv("WARDEN_MASTER_KEY"))
	if err != nil {
		return Config{}, err
	}

	redirectBase := envStr("OAUTH_REDIRECT_BASE_URL", "http://localhost:8080")

	cfg := Config{
		Server: ServerConfig{
			Addr:            envStr("WARDEN_ADDR", ":8080"),
			ReadTimeout:     envDuration("WARDEN_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    envDuration("WARDEN_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: envDuration("WARDEN_SHUTDOWN_TIMEOUT", 10*time.Second),
			CookieDomain:    os.Getenv("WARDEN_COOKIE_DOMAIN"),
			OpsToken:        os.Getenv("WARDEN_OPS_TOKEN"),
		},
		Log: LogConfig{
			Level:  envStr("WARDEN_LOG_LEVEL", "info"),
			Format: envStr("WARDEN_LOG_FORMAT", "json"),
		},
		Otel: OtelConfig{
			Endpoint:    os.Getenv("WARDEN_OTEL_ENDPOINT"),
			ServiceName: envStr("WARDEN_OTEL_SERVICE_NAME", "warden"),
		},
		Postgres: PostgresConfig{
			DSN:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("WARDEN_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("WARDEN_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("WARDEN_DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("WARDEN_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("WARDEN_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("WARDEN_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("WARDEN_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("WARDEN_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:     envStrings("KAFKA_BROKERS"),
			TopicPrefix: envStr("WARDEN_AUDIT_TOPIC_PREFIX", "warden.audit"),
		},
		Crypto: CryptoConfig{
			MasterKey: masterKey,
		},
		Session: SessionConfig{
			TTL:           envDuration("WARDEN_SESSION_TTL", 24*time.Hour),
			RefreshTTL:    envDuration("WARDEN_REFRESH_TTL", 30*24*time.Hour),
			SweepInterval: envDuration("WARDEN_SWEEP_INTERVAL", time.Hour),
		},
		MFA: MFAConfig{
			Issuer:           envStr("WARDEN_MFA_ISSUER", "Warden"),
			LockoutThreshold: envInt("WARDEN_MFA_LOCKOUT_THRESHOLD", 5),
			LockoutWindow:    envDuration("WARDEN_MFA_LOCKOUT_WINDOW", 15*time.Minute),
			LockoutDuration:  envDuration("WARDEN_MFA_LOCKOUT_DURATION", 15*time.Minute),
		},
		Providers: ProvidersConfig{
			GitHub:    providerFromEnv("GITHUB", redirectBase, "github"),
			Google:    providerFromEnv("GOOGLE", redirectBase, "google"),
			Microsoft: providerFromEnv("MICROSOFT", redirectBase, "microsoft"),
			Apple:     providerFromEnv("APPLE", redirectBase, "apple"),
		},
		Tenant: TenantConfig{
			HeaderName: envStr("WARDEN_TENANT_HEADER", "X-Tenant-ID"),
			DefaultID:  os.Getenv("WARDEN_DEFAULT_TENANT"),
		},
	}

	return cfg, nil
}

// decodeMasterKey decodes the base64 master key and enforces its length.
// All session tokens, state payloads, and stored secrets depend on this key,
// so a missing or short key is a startup error rather than a fallback.
func decodeMasterKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("WARDEN_MASTER_KEY is required (base64-encoded, 32 bytes)")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode WARDEN_MASTER_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("WARDEN_MASTER_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func providerFromEnv(name, redirectBase, slug string) ProviderConfig {
	return ProviderConfig{
		ClientID:     os.Getenv("OAUTH_" + name + "_CLIENT_ID"),
		ClientSecret: os.Getenv("OAUTH_" + name + "_CLIENT_SECRET"),
		RedirectURL:  strings.TrimSuffix(redirectBase, "/") + "/auth/oauth/" + slug + "/callback",
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envStrings(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return stringsx.DedupeAndTrim(strings.Split(v, ","))
}
