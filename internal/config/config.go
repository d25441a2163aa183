package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file named by ORACLE_ENV (or .env by default), then
// the matching .secret sidecar if it exists. Variables already set in the
// environment win over both files.
func Load() error {
	envFile := os.Getenv("ORACLE_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

// ServerPort returns the HTTP port.
// Defaults to 8080 if not set.
func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// StoreBackend is "postgres" (default) or "memory".
func StoreBackend() string {
	b := strings.ToLower(os.Getenv("STORE_BACKEND"))
	if b == "" {
		return "postgres"
	}
	return b
}

func MigrationsPath() string {
	p := os.Getenv("MIGRATIONS_PATH")
	if p == "" {
		return "migrations"
	}
	return p
}

// NetworkPath is the YAML topology to load. Empty means the built-in
// reference network.
func NetworkPath() string {
	return os.Getenv("NETWORK_PATH")
}

// CPTTolerance is how far a CPT row may sum away from 1.
// Defaults to 1e-6.
func CPTTolerance() float64 {
	tol, err := strconv.ParseFloat(os.Getenv("CPT_TOLERANCE"), 64)
	if err != nil || tol <= 0 {
		return 1e-6
	}
	return tol
}

func InferenceTimeout() time.Duration {
	return duration("INFERENCE_TIMEOUT", 5*time.Second)
}

func InferenceMaxConcurrent() int {
	n, err := strconv.Atoi(os.Getenv("INFERENCE_MAX_CONCURRENT"))
	if err != nil || n <= 0 {
		return 8
	}
	return n
}

// AutoResolve makes the watcher resolve claims it triggers.
func AutoResolve() bool {
	on, err := strconv.ParseBool(os.Getenv("AUTO_RESOLVE"))
	return err == nil && on
}

func WatchInterval() time.Duration {
	return duration("WATCH_INTERVAL", 30*time.Second)
}

// ControllerName is the actor the watcher resolves claims as.
func ControllerName() string {
	n := os.Getenv("CONTROLLER_NAME")
	if n == "" {
		return "controller"
	}
	return n
}

// RedisURL enables Redis pub/sub fan-out of ledger events when set.
func RedisURL() string {
	return os.Getenv("REDIS_URL")
}

func NotifyChannel() string {
	c := os.Getenv("NOTIFY_CHANNEL")
	if c == "" {
		return "bnoracle.events"
	}
	return c
}

// TracesExporter is none, stdout or otlp.
func TracesExporter() string {
	e := os.Getenv("OTEL_TRACES_EXPORTER")
	if e == "" {
		return "none"
	}
	return e
}

func OTLPEndpoint() string {
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

func duration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
