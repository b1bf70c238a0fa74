// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// HTTP server, the relational store, webhook verification, the job queue,
// reservation timing, collaborators (Kafka, Redis, fulfillment provider) and
// observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS and the
// static admin token guarding the operational surface.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
	AdminToken string // ADMIN_TOKEN; empty disables the admin guard (dev only)
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// WebhookConfig holds the shared secrets and signature header names for the
// two provider callbacks.
type WebhookConfig struct {
	PaymentSecret       string // PAYMENT_WEBHOOK_SECRET
	PaymentHeader       string // PAYMENT_SIGNATURE_HEADER
	FulfillmentSecret   string // FULFILLMENT_WEBHOOK_SECRET
	FulfillmentHeader   string // FULFILLMENT_SIGNATURE_HEADER
	MaxSignatureHexSize int    // upper bound on the signature header length
}

// QueueConfig tunes the durable job queue and its retry policy.
type QueueConfig struct {
	Workers      int           // QUEUE_WORKERS
	PollInterval time.Duration // QUEUE_POLL_INTERVAL
	MaxAttempts  int           // QUEUE_MAX_ATTEMPTS
	BaseDelay    time.Duration // RETRY_BASE_DELAY
	MaxDelay     time.Duration // RETRY_MAX_DELAY
}

// FulfillmentConfig holds reservation timing and the provider API settings.
type FulfillmentConfig struct {
	ReservationTTL      time.Duration // RESERVATION_TTL
	PaymentWindow       time.Duration // PAYMENT_WINDOW
	SweepInterval       time.Duration // SWEEP_INTERVAL
	FlagsReloadInterval time.Duration // FLAGS_RELOAD_INTERVAL
	VaultMasterKey      string        // VAULT_MASTER_KEY
	ProviderBaseURL     string        // PROVIDER_BASE_URL
	ProviderAPIKey      string        // PROVIDER_API_KEY
	ProviderTimeout     time.Duration // PROVIDER_TIMEOUT
	DefaultCurrency     string        // DEFAULT_CURRENCY
}

// MessagingConfig configures the Kafka notifier and Redis flag invalidation.
type MessagingConfig struct {
	KafkaBrokers []string // KAFKA_BROKERS (CSV); empty selects the log notifier
	KafkaTopic   string   // KAFKA_TOPIC
	RedisAddr    string   // REDIS_ADDR; empty disables pub/sub invalidation
	RedisChannel string   // FLAGS_CHANNEL
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	// Store
	DBDriver string // sqlite|postgres
	DBPath   string // SQLite path
	DBDSN    string // Postgres DSN

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	Webhooks    WebhookConfig
	Queue       QueueConfig
	Fulfillment FulfillmentConfig
	Messaging   MessagingConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DBDriver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:   getenv("DB_PATH", "keyshop.db"),
		DBDSN:    getenv("DB_DSN", ""),

		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
			AdminToken: getenv("ADMIN_TOKEN", ""),
		},

		Webhooks: WebhookConfig{
			PaymentSecret:       getenv("PAYMENT_WEBHOOK_SECRET", ""),
			PaymentHeader:       getenv("PAYMENT_SIGNATURE_HEADER", "X-Payment-Provider-Signature"),
			FulfillmentSecret:   getenv("FULFILLMENT_WEBHOOK_SECRET", ""),
			FulfillmentHeader:   getenv("FULFILLMENT_SIGNATURE_HEADER", "X-Fulfillment-Provider-Signature"),
			MaxSignatureHexSize: getint("MAX_SIGNATURE_HEX_SIZE", 256),
		},

		Queue: QueueConfig{
			Workers:      getint("QUEUE_WORKERS", 4),
			PollInterval: getdur("QUEUE_POLL_INTERVAL", time.Second),
			MaxAttempts:  getint("QUEUE_MAX_ATTEMPTS", 5),
			BaseDelay:    getdur("RETRY_BASE_DELAY", 2*time.Second),
			MaxDelay:     getdur("RETRY_MAX_DELAY", 5*time.Minute),
		},

		Fulfillment: FulfillmentConfig{
			ReservationTTL:      getdur("RESERVATION_TTL", 30*time.Minute),
			PaymentWindow:       getdur("PAYMENT_WINDOW", 2*time.Hour),
			SweepInterval:       getdur("SWEEP_INTERVAL", time.Minute),
			FlagsReloadInterval: getdur("FLAGS_RELOAD_INTERVAL", 15*time.Second),
			VaultMasterKey:      getenv("VAULT_MASTER_KEY", ""),
			ProviderBaseURL:     getenv("PROVIDER_BASE_URL", ""),
			ProviderAPIKey:      getenv("PROVIDER_API_KEY", ""),
			ProviderTimeout:     getdur("PROVIDER_TIMEOUT", 10*time.Second),
			DefaultCurrency:     strings.ToUpper(getenv("DEFAULT_CURRENCY", "EUR")),
		},

		Messaging: MessagingConfig{
			KafkaBrokers: splitCSV(getenv("KAFKA_BROKERS", "")),
			KafkaTopic:   getenv("KAFKA_TOPIC", "order_deliveries"),
			RedisAddr:    getenv("REDIS_ADDR", ""),
			RedisChannel: getenv("FLAGS_CHANNEL", "feature_flags:invalidate"),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "keyshop-fulfillment"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DBDriver == "postgresql" || cfg.DBDriver == "pg" {
		cfg.DBDriver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return cfg, errors.New("DB_DSN must be set when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if strings.TrimSpace(cfg.Webhooks.PaymentHeader) == "" || strings.TrimSpace(cfg.Webhooks.FulfillmentHeader) == "" {
		return cfg, errors.New("signature header names must not be empty")
	}
	if cfg.Webhooks.MaxSignatureHexSize < 128 {
		return cfg, errors.New("MAX_SIGNATURE_HEX_SIZE must be >= 128")
	}
	if cfg.Queue.Workers < 1 {
		return cfg, errors.New("QUEUE_WORKERS must be >= 1")
	}
	if cfg.Queue.MaxAttempts < 1 {
		return cfg, errors.New("QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Queue.PollInterval <= 0 || cfg.Queue.BaseDelay <= 0 || cfg.Queue.MaxDelay < cfg.Queue.BaseDelay {
		return cfg, errors.New("queue intervals must be positive and RETRY_MAX_DELAY >= RETRY_BASE_DELAY")
	}
	if cfg.Fulfillment.ReservationTTL <= 0 || cfg.Fulfillment.PaymentWindow <= 0 {
		return cfg, errors.New("RESERVATION_TTL and PAYMENT_WINDOW must be > 0")
	}
	if cfg.Fulfillment.SweepInterval <= 0 || cfg.Fulfillment.FlagsReloadInterval <= 0 {
		return cfg, errors.New("SWEEP_INTERVAL and FLAGS_RELOAD_INTERVAL must be > 0")
	}
	if len(cfg.Fulfillment.DefaultCurrency) != 3 {
		return cfg, errors.New("DEFAULT_CURRENCY must be a 3-letter code")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
