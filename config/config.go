package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the process reads from the environment.
// Defaults are development-friendly; production deployments override via env.
type Config struct {
	Port           string
	Env            string // "development" | "production"
	AllowedOrigins string
	BodyLimitBytes int

	RateLimitMax    int
	RateLimitWindow time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Signing key lifecycle
	KeyBackend        string // "postgres" | "file"
	KeyFilePath       string
	KeyAlgorithm      string // "HS256" | "EdDSA"
	RotationInterval  time.Duration
	RotationRetention int

	// Idempotency layer
	IdempotencyBackend string // "postgres" | "redis" | "memory"
	IdempotencyTTL     time.Duration
	SweepInterval      time.Duration

	RedisAddr string
	RedisDB   int
}

// Load reads .env (if present) and builds the Config. A missing .env file is
// not an error; real deployments set variables directly.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:           envStr("PORT", "8080"),
		Env:            envStr("APP_ENV", "development"),
		AllowedOrigins: envStr("ALLOWED_ORIGINS", "*"),

		RateLimitMax:    envInt("RATE_LIMIT_MAX", 60),
		RateLimitWindow: time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,

		DBHost:     envStr("DB_HOST", "db"),
		DBPort:     envStr("DB_PORT", "5432"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),

		KeyBackend:        envStr("KEY_BACKEND", "postgres"),
		KeyFilePath:       envStr("KEY_FILE_PATH", "signing-keys.json"),
		KeyAlgorithm:      envStr("KEY_ALGORITHM", "HS256"),
		RotationRetention: envInt("ROTATION_RETENTION", 3),

		IdempotencyBackend: envStr("IDEMPOTENCY_BACKEND", "postgres"),
		IdempotencyTTL:     envDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		SweepInterval:      envDuration("IDEMPOTENCY_SWEEP_INTERVAL", time.Hour),

		RedisAddr: envStr("REDIS_ADDR", "localhost:6379"),
		RedisDB:   envInt("REDIS_DB", 0),
	}

	// Keys rotate daily in production; hourly in development so stale dev
	// keys never outlive a working day.
	defInterval := 24 * time.Hour
	if cfg.Env != "production" {
		defInterval = time.Hour
	}
	cfg.RotationInterval = envDuration("ROTATION_INTERVAL", defInterval)

	// Fiber default BodyLimit is 4 MiB if unset; allow overriding with
	// BODY_LIMIT_BYTES or BODY_LIMIT_MB.
	cfg.BodyLimitBytes = envInt("BODY_LIMIT_BYTES", 0)
	if cfg.BodyLimitBytes <= 0 {
		cfg.BodyLimitBytes = envInt("BODY_LIMIT_MB", 4) * 1024 * 1024
	}

	return cfg
}

// envStr reads a string env var with a default fallback.
func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt reads an int env var with a default fallback.
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// envDuration reads a Go duration string ("30m", "24h") with a default fallback.
func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
