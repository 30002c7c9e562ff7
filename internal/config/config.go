// Package config resolves the gateway's runtime configuration from
// environment variables, the same getenvDefault/parseBoolDefault idiom
// services/payments-gateway/config.go uses, generalized to this
// gateway's own knobs: database backend selection, bind address,
// API auth, CORS, and the janitor/reconciler poll intervals.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cryptogateway/internal/api/middleware"
	"cryptogateway/internal/logging"
)

// DatabaseKind selects which store.Store implementation boots.
type DatabaseKind string

const (
	DatabaseMock     DatabaseKind = "mock"
	DatabasePostgres DatabaseKind = "postgres"
)

const (
	envDatabaseURL         = "DATABASE_URL"
	envDatabaseType        = "DATABASE_TYPE"
	envDatabaseMaxConns    = "DATABASE_MAX_CONNECTIONS"
	envAPIKey              = "API_KEY"
	envBindAddress         = "BIND_ADDRESS"
	envIncludeSwagger      = "INCLUDE_SWAGGER"
	envJanitorInterval     = "JANITOR_INTERVAL"
	envConfirmatorInterval = "CONFIRMATOR_INTERVAL"
	envCORSOrigins         = "CORS_ALLOWED_ORIGINS"
	envLogFormat           = "LOG_FORMAT"
	envLogFile             = "LOG_FILE"
	envServiceName         = "SERVICE_NAME"
	envEnvironment         = "ENVIRONMENT"
	envRateLimitRPS        = "RATE_LIMIT_PER_SECOND"
	envRateLimitBurst      = "RATE_LIMIT_BURST"
	envOTelEndpoint        = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envOTelInsecure        = "OTEL_EXPORTER_OTLP_INSECURE"
	envOTelHeaders         = "OTEL_EXPORTER_OTLP_HEADERS"
	envOTelMetrics         = "OTEL_METRICS_ENABLED"
	envOTelTraces          = "OTEL_TRACES_ENABLED"
)

// Config is the fully resolved set of knobs main wires into the store,
// orchestrator, reconciler, janitor, webhook dispatcher, and API server.
type Config struct {
	DatabaseURL         string
	DatabaseType        DatabaseKind
	DatabaseMaxConns    int
	APIKey              string
	BindAddress         string
	IncludeSwagger      bool
	JanitorInterval     time.Duration
	ConfirmatorInterval time.Duration
	CORSOrigins         []string
	LogFormat           logging.Format
	LogFile             string
	ServiceName         string
	Environment         string
	RateLimit           middleware.RateLimit
	OTelEndpoint        string
	OTelInsecure        bool
	OTelHeaders         string
	OTelMetrics         bool
	OTelTraces          bool
}

// LoadFromEnv resolves Config from the environment, applying a sane
// default for each variable. API_KEY is always required: without it the
// static bearer auth middleware has nothing to compare against.
// DATABASE_URL is also required when DATABASE_TYPE=postgres.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL:         os.Getenv(envDatabaseURL),
		DatabaseType:        DatabaseKind(strings.ToLower(getenvDefault(envDatabaseType, string(DatabaseMock)))),
		DatabaseMaxConns:    int(parseIntDefault(envDatabaseMaxConns, 20)),
		APIKey:              strings.TrimSpace(os.Getenv(envAPIKey)),
		BindAddress:         getenvDefault(envBindAddress, "127.0.0.1:3000"),
		IncludeSwagger:      parseBoolDefault(envIncludeSwagger, false),
		JanitorInterval:     parseSecondsDefault(envJanitorInterval, 30*time.Second),
		ConfirmatorInterval: parseSecondsDefault(envConfirmatorInterval, 5*time.Second),
		CORSOrigins:         middleware.ParseAllowedOrigins(os.Getenv(envCORSOrigins)),
		LogFormat:           logging.Format(strings.ToLower(getenvDefault(envLogFormat, "json"))),
		LogFile:             os.Getenv(envLogFile),
		ServiceName:         getenvDefault(envServiceName, "crypto-gateway"),
		Environment:         getenvDefault(envEnvironment, "development"),
		RateLimit: middleware.RateLimit{
			RatePerSecond: parseFloatDefault(envRateLimitRPS, 20),
			Burst:         int(parseIntDefault(envRateLimitBurst, 40)),
		},
		OTelEndpoint: os.Getenv(envOTelEndpoint),
		OTelInsecure: parseBoolDefault(envOTelInsecure, true),
		OTelHeaders:  os.Getenv(envOTelHeaders),
		OTelMetrics:  parseBoolDefault(envOTelMetrics, false),
		OTelTraces:   parseBoolDefault(envOTelTraces, false),
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s is required", envAPIKey)
	}
	switch cfg.DatabaseType {
	case DatabaseMock, DatabasePostgres:
	default:
		return nil, fmt.Errorf("%s: unknown database type %q", envDatabaseType, cfg.DatabaseType)
	}
	if cfg.DatabaseType == DatabasePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("%s is required when %s=postgres", envDatabaseURL, envDatabaseType)
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

// parseSecondsDefault reads key as a plain integer count of seconds, the
// shape JANITOR_INTERVAL/CONFIRMATOR_INTERVAL document ("sec, default N").
func parseSecondsDefault(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func parseIntDefault(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func parseFloatDefault(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}

func parseBoolDefault(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}
