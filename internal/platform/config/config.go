// Package config builds runtime configuration from the environment so main
// stays lean. Every knob has a development default.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	Server    Server
	Postgres  Postgres
	Redis     Redis
	Kafka     Kafka
	JWT       JWT
	RateLimit RateLimit
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Postgres holds the connection string; empty means run on in-memory stores.
type Postgres struct {
	DSN string
}

// Redis holds the rate-limiter backend; empty means in-memory fallback.
type Redis struct {
	URL string
}

// Kafka configures the audit relay; no brokers means the relay stays off.
type Kafka struct {
	Brokers    []string
	AuditTopic string
}

// JWT configures access-token signing.
type JWT struct {
	SigningKey string
	Issuer     string
	TTL        time.Duration
}

// RateLimit bounds create/vote attempts per user per window.
type RateLimit struct {
	MaxAttempts int
	Window      time.Duration
}

// FromEnv reads configuration from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envOr("SIGNALOS_ADDR", ":8080"),
			ShutdownTimeout: envDuration("SIGNALOS_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Postgres: Postgres{
			DSN: os.Getenv("SIGNALOS_POSTGRES_DSN"),
		},
		Redis: Redis{
			URL: os.Getenv("SIGNALOS_REDIS_URL"),
		},
		Kafka: Kafka{
			Brokers:    splitNonEmpty(os.Getenv("SIGNALOS_KAFKA_BROKERS")),
			AuditTopic: envOr("SIGNALOS_AUDIT_TOPIC", "signalos.audit"),
		},
		JWT: JWT{
			// Dev default; must be overridden in production.
			SigningKey: envOr("SIGNALOS_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			Issuer:     envOr("SIGNALOS_JWT_ISSUER", "signalos"),
			TTL:        envDuration("SIGNALOS_JWT_TTL", time.Hour),
		},
		RateLimit: RateLimit{
			MaxAttempts: envInt("SIGNALOS_RATELIMIT_MAX", 5),
			Window:      envDuration("SIGNALOS_RATELIMIT_WINDOW", time.Minute),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
