package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CollaboratorMode decides what happens when a collaborator check cannot be
// performed. There is no implicit default-allow: the mode is always one of
// these two explicit values.
type CollaboratorMode string

const (
	// ModeStrict fails the operation with collaborator_unavailable.
	ModeStrict CollaboratorMode = "strict"
	// ModePermissive allows the operation and emits an audit event
	// recording the skipped check.
	ModePermissive CollaboratorMode = "permissive"
)

// Server captures process-level configuration.
type Server struct {
	Addr             string
	JWTSigningKey    string
	PostgresDSN      string
	RedisURL         string
	KafkaBrokers     []string
	AuditTopic       string
	CollaboratorMode CollaboratorMode
	ShutdownTimeout  time.Duration
	VerifyParallel   int
}

// RedisConfig tunes the optional Redis connection used for the chain tail
// cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays
// lean. Unset values fall back to development defaults; the collaborator
// mode defaults to strict because permissive must be an explicit choice.
func FromEnv() Server {
	cfg := Server{
		Addr:             getEnv("CUSTODIA_ADDR", ":8080"),
		JWTSigningKey:    getEnv("CUSTODIA_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PostgresDSN:      os.Getenv("CUSTODIA_POSTGRES_DSN"),
		RedisURL:         os.Getenv("CUSTODIA_REDIS_URL"),
		AuditTopic:       getEnv("CUSTODIA_AUDIT_TOPIC", "custodia.audit"),
		CollaboratorMode: ModeStrict,
		ShutdownTimeout:  getDuration("CUSTODIA_SHUTDOWN_TIMEOUT", 10*time.Second),
		VerifyParallel:   getInt("CUSTODIA_VERIFY_PARALLEL", 8),
	}
	if brokers := os.Getenv("CUSTODIA_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	if os.Getenv("CUSTODIA_COLLABORATOR_MODE") == string(ModePermissive) {
		cfg.CollaboratorMode = ModePermissive
	}
	return cfg
}

// Redis derives the Redis connection config from the server config.
func (s Server) Redis() RedisConfig {
	return RedisConfig{
		URL:          s.RedisURL,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
