package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates every configuration section this service reads at
// startup. Sections carried by the teacher but irrelevant to an OCR job
// pipeline (JWT, secrets managers, payments, geography, ...) are not
// reproduced here — see DESIGN.md.
type Config struct {
	ServiceName string
	Server      ServerConfig
	Redis       RedisConfig
	Database    DatabaseConfig
	ObjectStore ObjectStoreConfig
	Resilience  ResilienceConfig
	Timeout     TimeoutConfig
	Tier        TierConfig
}

// ServerConfig controls the HTTP listener serving the callback endpoint and
// health/metrics surface.
type ServerConfig struct {
	Port         string
	Environment  string
	ReadTimeout  int
	WriteTimeout int
}

// RedisConfig describes the backing key-value store used for the job
// queue, reply queue, validator queue, and Pending Validation State.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RedisAddr returns the host:port pair used to dial Redis.
func (c RedisConfig) RedisAddr() string {
	return c.Host + ":" + c.Port
}

// DatabaseConfig describes the Postgres pool backing the db-kind image
// resolver's blob lookup.
type DatabaseConfig struct {
	Host        string
	Port        string
	User        string
	Password    string
	Name        string
	SSLMode     string
	MaxConns    int
	MinConns    int
	ServiceName string
	Breaker     CircuitBreakerSettings
}

// DSN builds the libpq connection string pgxpool expects.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// ObjectStoreConfig describes the S3/MinIO endpoint used by the s3/minio
// image resolver.
type ObjectStoreConfig struct {
	Endpoint   string
	Region     string
	Bucket     string
	PathStyle  bool
	AccessKey  string
	SecretKey  string
}

// CircuitBreakerSettings are generic per-breaker knobs, mirrored by every
// circuit-broken collaborator (object store, validator enqueue, LLM OCR
// RPC).
type CircuitBreakerSettings struct {
	Enabled           bool
	IntervalSeconds   int
	TimeoutSeconds    int
	FailureThreshold  int
	SuccessThreshold  int
}

// ResilienceConfig groups the circuit breaker defaults applied across the
// service's external collaborators.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerSettings
}

// TimeoutConfig bounds how long a single inbound HTTP request (such as the
// callback endpoint) may run. Outbound provider calls are bounded by
// DefaultHTTPClientTimeoutDuration instead.
type TimeoutConfig struct {
	DefaultRequestTimeout int // seconds
	RouteOverrides        map[string]int
}

// TierConfig holds the tier cascade and OCR-specific tunables from
// spec.md §6's configuration table.
type TierConfig struct {
	EnabledTiers       []string
	MaxTextBytes       int
	MaxAttempts        int
	LanguageDefault    string
	ValidationModel    string
	MinConfidence      *float64
	PendingStateTTLSec int
	LocalImageRoot     string
	TierConcurrency    int
	TierTimeoutSec     int
	SweepIntervalSec   int
}

// Load reads configuration from the environment (optionally seeded by a
// .env file) for the named service, following the teacher's
// load-then-typed-getters pattern.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: serviceName,
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnv("DB_PORT", "5432"),
			User:        getEnv("DB_USER", "jarvis"),
			Password:    getEnv("DB_PASSWORD", ""),
			Name:        getEnv("DB_NAME", "jarvis_ocr"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:    getEnvAsInt("DB_MIN_CONNS", 2),
			ServiceName: serviceName,
			Breaker: CircuitBreakerSettings{
				Enabled:          getEnvAsBool("DB_BREAKER_ENABLED", false),
				IntervalSeconds:  getEnvAsInt("DB_BREAKER_INTERVAL_SECONDS", 60),
				TimeoutSeconds:   getEnvAsInt("DB_BREAKER_TIMEOUT_SECONDS", 30),
				FailureThreshold: getEnvAsInt("DB_BREAKER_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvAsInt("DB_BREAKER_SUCCESS_THRESHOLD", 1),
			},
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:  getEnv("OBJECT_STORE_ENDPOINT", ""),
			Region:    getEnv("OBJECT_STORE_REGION", "us-east-1"),
			Bucket:    getEnv("OBJECT_STORE_BUCKET", ""),
			PathStyle: getEnvAsBool("OBJECT_STORE_PATH_STYLE", false),
			AccessKey: getEnv("OBJECT_STORE_ACCESS_KEY", ""),
			SecretKey: getEnv("OBJECT_STORE_SECRET_KEY", ""),
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerSettings{
				Enabled:          getEnvAsBool("CIRCUIT_BREAKER_ENABLED", true),
				IntervalSeconds:  getEnvAsInt("CIRCUIT_BREAKER_INTERVAL_SECONDS", 60),
				TimeoutSeconds:   getEnvAsInt("CIRCUIT_BREAKER_TIMEOUT_SECONDS", 30),
				FailureThreshold: getEnvAsInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvAsInt("CIRCUIT_BREAKER_SUCCESS_THRESHOLD", 1),
			},
		},
		Timeout: TimeoutConfig{
			DefaultRequestTimeout: getEnvAsInt("REQUEST_TIMEOUT_SECONDS", 30),
			RouteOverrides:        map[string]int{},
		},
		Tier: TierConfig{
			EnabledTiers:       getEnvAsSlice("OCR_ENABLED_TIERS", []string{"tesseract", "easyocr", "paddleocr", "apple_vision", "llm_local", "llm_cloud"}),
			MaxTextBytes:       getEnvAsInt("OCR_MAX_TEXT_BYTES", 51200),
			MaxAttempts:        getEnvAsInt("OCR_MAX_ATTEMPTS", 3),
			LanguageDefault:    getEnv("OCR_LANGUAGE_DEFAULT", "en"),
			ValidationModel:    getEnv("OCR_VALIDATION_MODEL", "llm_local_light"),
			MinConfidence:      getEnvAsFloatPtr("OCR_MIN_CONFIDENCE"),
			PendingStateTTLSec: getEnvAsInt("OCR_PENDING_STATE_TTL_SECONDS", 600),
			LocalImageRoot:     getEnv("OCR_LOCAL_IMAGE_ROOT", "/data/images/"),
			TierConcurrency:    getEnvAsInt("OCR_TIER_CONCURRENCY", 2),
			TierTimeoutSec:     getEnvAsInt("OCR_TIER_TIMEOUT_SECONDS", 60),
			SweepIntervalSec:   getEnvAsInt("OCR_SWEEP_INTERVAL_SECONDS", 30),
		},
	}

	if len(cfg.Tier.EnabledTiers) == 0 {
		return nil, fmt.Errorf("OCR_ENABLED_TIERS resolved to an empty tier list")
	}

	return cfg, nil
}

// Close releases resources owned by the Config. There are none today; this
// mirrors the teacher's Config.Close() call site so main() doesn't need a
// special case when/if one is added (e.g. a secrets client).
func (c *Config) Close() {}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}

func getEnvAsFloatPtr(key string) *float64 {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &parsed
}

// DefaultDatabaseQueryTimeout is the statement timeout applied to pooled
// connections when the caller doesn't specify one, in seconds.
const DefaultDatabaseQueryTimeout = 10

// DefaultHTTPClientTimeoutDuration returns the default overall timeout for
// outbound HTTP calls (provider sidecars, LLM OCR RPC).
func DefaultHTTPClientTimeoutDuration() time.Duration {
	return time.Duration(getEnvAsInt("HTTP_CLIENT_TIMEOUT_SECONDS", 30)) * time.Second
}
