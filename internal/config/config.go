// Package config loads the server's runtime configuration from environment
// variables only — there is no config file. Every variable has a typed
// default so the zero-config case (nothing set) still produces a usable
// Config.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config is the complete runtime configuration.
type Config struct {
	Server   ServerConfig
	Security SecurityConfig
	Presence PresenceConfig
	Logging  LoggingConfig
	Redis    RedisConfig
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Host string
	Port int
}

// SecurityConfig mirrors the environment table this server's admission
// control and rate limiting are driven by.
type SecurityConfig struct {
	MaxBodyBytes        int64
	MaxWSConnections     uint32
	MaxWSPerIP           uint32
	CORSOrigins          []string // empty ≡ permissive
	RateLimitRESTPerMin  int
	RateLimitWSPerMin    int
}

// PresenceConfig controls the presence backend's TTL and refresh cadence.
type PresenceConfig struct {
	TTL time.Duration
}

// LoggingConfig controls the zerolog logger built at startup.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// RedisConfig configures the optional external presence backend. When
// Enabled is false, the server runs with the in-memory presence backend
// instead.
type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Load builds a Config from the process environment.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnvString("HOST", "0.0.0.0"),
			Port: getEnvInt("PORT", 8080),
		},
		Security: SecurityConfig{
			MaxBodyBytes:        getEnvInt64("MAX_BODY_BYTES", 1_000_000),
			MaxWSConnections:    getEnvUint32("MAX_WS_CONNECTIONS", 0),
			MaxWSPerIP:          getEnvUint32("MAX_WS_PER_IP", 0),
			CORSOrigins:         getEnvOrigins("CORS_ORIGINS"),
			RateLimitRESTPerMin: getEnvInt("RATE_LIMIT_REST_PER_MIN", 60),
			RateLimitWSPerMin:   getEnvInt("RATE_LIMIT_WS_PER_MIN", 250),
		},
		Presence: PresenceConfig{
			TTL: time.Duration(getEnvInt("PRESENCE_TTL_SECS", 30)) * time.Second,
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Enabled:      getEnvBool("REDIS_ENABLED", false),
			Host:         getEnvString("REDIS_HOST", "localhost"),
			Port:         getEnvInt("REDIS_PORT", 6379),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			MaxRetries:   getEnvInt("REDIS_MAX_RETRIES", 3),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 5),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
}

// GetLogLevel maps the configured level string to a zerolog.Level,
// defaulting to Info on anything unrecognized.
func (c *Config) GetLogLevel() zerolog.Level {
	switch c.Logging.Level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getEnvUint32(key string, def uint32) uint32 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return def
	}
	return uint32(n)
}

// getEnvOrigins parses a comma-separated CORS_ORIGINS value. Unset or "*"
// means permissive (nil slice); the caller treats that as allow-all.
func getEnvOrigins(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" || raw == "*" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
