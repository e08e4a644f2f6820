package config

import (
	"context"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the ulists service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode, the bearer token is accepted verbatim as the caller's account id.
	Mode string

	// Database
	DBURL string

	// Datastore backend type: "postgres" or "sqlite".
	DatastoreType string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Redis, shared by the redis cache and the redis change stream.
	RedisURL string

	// Handle cache backend type: "redis" or "none".
	CacheType string

	// How long a resolved handle -> account mapping is cached. Handles are never
	// reassigned, so this only bounds memory use in redis.
	CacheHandleTTL time.Duration

	// Change stream backend type: "postgres", "redis" or "local". Empty picks
	// one matching DatastoreType.
	StreamType string

	// Per-subscription event buffer.
	StreamBufferSize int

	// Interval between websocket pings on /v1/lists/:listId/changes.
	StreamPingInterval time.Duration

	// Identity registry: attempts before giving up with a RegistryError, and the
	// pause between attempts that failed on a store error (collisions retry immediately).
	HandleMaxAttempts int
	HandleRetryDelay  time.Duration

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string // Internal URL for OIDC discovery (when issuer URL is not reachable)

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly provided.
	// When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for /health, /ready and /metrics.
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		CacheType:               "none",
		CacheHandleTTL:          24 * time.Hour,
		StreamBufferSize:        256,
		StreamPingInterval:      30 * time.Second,
		HandleMaxAttempts:       10,
		HandleRetryDelay:        100 * time.Millisecond,
		MetricsLabels:           "service=ulists",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       true,
		},
		MaxBodySize:  1024 * 1024,
		DrainTimeout: 30,
	}
}

// ResolvedStreamType returns the configured change stream kind, defaulting to
// the trigger-based postgres stream for postgres and the in-process hub otherwise.
func (c *Config) ResolvedStreamType() string {
	if c == nil {
		return "local"
	}
	if kind := strings.TrimSpace(c.StreamType); kind != "" {
		return kind
	}
	if c.DatastoreType == "postgres" {
		return "postgres"
	}
	return "local"
}
