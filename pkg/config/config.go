package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// SecurityConfig controls encryption-specific parameters.
type SecurityConfig struct {
	SecretEncryptionKey string `json:"secret_encryption_key" env:"SECRET_ENCRYPTION_KEY"`
}

// AuthConfig controls HTTP API authentication: the JWT secret used to
// verify the subject carrier ABACMiddleware's SubjectResolver decodes,
// plus a static token/user list for service-to-service and operator
// access.
type AuthConfig struct {
	Tokens    []string   `json:"tokens"`
	JWTSecret string     `json:"jwt_secret" env:"AUTH_JWT_SECRET"`
	Users     []UserSpec `json:"users"`
}

// ConsistencyConfig tunes the read-your-writes consistency engine
// (component in pkg/consistency). Mirrors consistency.Options.
type ConsistencyConfig struct {
	TokenTTLMillis       int64 `json:"token_ttl_millis" env:"CONSISTENCY_TOKEN_TTL_MILLIS"`
	ClockSkewMillis      int64 `json:"clock_skew_millis" env:"CONSISTENCY_CLOCK_SKEW_MILLIS"`
	RYWInitialPollMillis int64 `json:"ryw_initial_poll_millis" env:"CONSISTENCY_RYW_INITIAL_POLL_MILLIS"`
	RYWMaxPollMillis     int64 `json:"ryw_max_poll_millis" env:"CONSISTENCY_RYW_MAX_POLL_MILLIS"`
	RYWMaxWaitMillis     int64 `json:"ryw_max_wait_millis" env:"CONSISTENCY_RYW_MAX_WAIT_MILLIS"`
}

// IdempotencyConfig tunes the idempotency-key gate (pkg/idempotency).
type IdempotencyConfig struct {
	RecordTTL       string `json:"record_ttl" env:"IDEMPOTENCY_RECORD_TTL"`
	SweepSchedule   string `json:"sweep_schedule" env:"IDEMPOTENCY_SWEEP_SCHEDULE"`
	SweepBatchSize  int    `json:"sweep_batch_size" env:"IDEMPOTENCY_SWEEP_BATCH_SIZE"`
}

// DedupeConfig tunes the event-dedupe service (pkg/dedupe).
type DedupeConfig struct {
	WindowTTL string `json:"window_ttl" env:"DEDUPE_WINDOW_TTL"`
	RedisAddr string `json:"redis_addr" env:"DEDUPE_REDIS_ADDR"`
}

// OutboxConfig tunes the transactional outbox drainer and housekeeper
// (pkg/outbox). Mirrors outbox.Options.
type OutboxConfig struct {
	BatchSize           int     `json:"batch_size" env:"OUTBOX_BATCH_SIZE"`
	InitialBackoff      string  `json:"initial_backoff" env:"OUTBOX_INITIAL_BACKOFF"`
	BackoffMultiplier   float64 `json:"backoff_multiplier" env:"OUTBOX_BACKOFF_MULTIPLIER"`
	MaxBackoff          string  `json:"max_backoff" env:"OUTBOX_MAX_BACKOFF"`
	QuarantineThreshold int     `json:"quarantine_threshold" env:"OUTBOX_QUARANTINE_THRESHOLD"`
	PublishedRetention  string  `json:"published_retention" env:"OUTBOX_PUBLISHED_RETENTION"`
}

// ProducerConfig tunes the reliable event-bus producer (pkg/eventbus).
// Mirrors eventbus.Options; the underlying broker client is wired at
// the application-composition boundary, not configured here.
type ProducerConfig struct {
	MaxAttempts       int     `json:"max_attempts" env:"PRODUCER_MAX_ATTEMPTS"`
	SendTimeout       string  `json:"send_timeout" env:"PRODUCER_SEND_TIMEOUT"`
	InitialBackoff    string  `json:"initial_backoff" env:"PRODUCER_INITIAL_BACKOFF"`
	BackoffMultiplier float64 `json:"backoff_multiplier" env:"PRODUCER_BACKOFF_MULTIPLIER"`
	MaxBackoff        string  `json:"max_backoff" env:"PRODUCER_MAX_BACKOFF"`
	JitterRatio       float64 `json:"jitter_ratio" env:"PRODUCER_JITTER_RATIO"`
}

// StepUpConfig tunes the step-up elevation workflow (pkg/stepup).
// Mirrors stepup.Options.
type StepUpConfig struct {
	ChallengeTTL  string `json:"challenge_ttl" env:"STEPUP_CHALLENGE_TTL"`
	MinElevation  string `json:"min_elevation" env:"STEPUP_MIN_ELEVATION"`
	MaxElevation  string `json:"max_elevation" env:"STEPUP_MAX_ELEVATION"`
	ApprovalTTL   string `json:"approval_ttl" env:"STEPUP_APPROVAL_TTL"`
	MinJustifyLen int    `json:"min_justify_len" env:"STEPUP_MIN_JUSTIFY_LEN"`
}

// RateLimitConfig sets the default token-bucket policy (pkg/ratelimit);
// per-route overrides are registered programmatically at startup.
type RateLimitConfig struct {
	Capacity       int    `json:"capacity" env:"RATELIMIT_CAPACITY"`
	RefillTokens   int    `json:"refill_tokens" env:"RATELIMIT_REFILL_TOKENS"`
	RefillPeriod   string `json:"refill_period" env:"RATELIMIT_REFILL_PERIOD"`
	MaxBuckets     int    `json:"max_buckets" env:"RATELIMIT_MAX_BUCKETS"`
	IdleEvictAfter string `json:"idle_evict_after" env:"RATELIMIT_IDLE_EVICT_AFTER"`
}

// HMACConfig tunes the HMAC request-signing verifier (pkg/hmacauth).
type HMACConfig struct {
	ClockSkew         string `json:"clock_skew" env:"HMAC_CLOCK_SKEW"`
	MaxBodyBytes      int64  `json:"max_body_bytes" env:"HMAC_MAX_BODY_BYTES"`
	EnforceBodySHA256 bool   `json:"enforce_body_sha256" env:"HMAC_ENFORCE_BODY_SHA256"`
	NonceTTL          string `json:"nonce_ttl" env:"HMAC_NONCE_TTL"`
	AlgLabel          string `json:"alg_label" env:"HMAC_ALG_LABEL"`
}

// TracingConfig configures OTLP/Tracing exporters.
type TracingConfig struct {
	Endpoint           string            `json:"endpoint" env:"TRACING_OTLP_ENDPOINT"`
	Insecure           bool              `json:"insecure" env:"TRACING_OTLP_INSECURE"`
	ServiceName        string            `json:"service_name" env:"TRACING_SERVICE_NAME"`
	ResourceAttributes map[string]string `json:"resource_attributes" mapstructure:"resource_attributes"`
	AttributesEnv      string            `json:"-" yaml:"-" env:"TRACING_OTLP_ATTRIBUTES"`
}

type UserSpec struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Logging     LoggingConfig     `json:"logging"`
	Security    SecurityConfig    `json:"security"`
	Auth        AuthConfig        `json:"auth"`
	Consistency ConsistencyConfig `json:"consistency"`
	Idempotency IdempotencyConfig `json:"idempotency"`
	Dedupe      DedupeConfig      `json:"dedupe"`
	Outbox      OutboxConfig      `json:"outbox"`
	Producer    ProducerConfig    `json:"producer"`
	StepUp      StepUpConfig      `json:"step_up" mapstructure:"step_up"`
	RateLimit   RateLimitConfig   `json:"rate_limit" mapstructure:"rate_limit"`
	HMAC        HMACConfig        `json:"hmac"`
	Tracing     TracingConfig     `json:"tracing"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "platform-core",
		},
		Security: SecurityConfig{},
		Auth:     AuthConfig{},
		Consistency: ConsistencyConfig{
			TokenTTLMillis:       30_000,
			ClockSkewMillis:      5_000,
			RYWInitialPollMillis: 20,
			RYWMaxPollMillis:     150,
			RYWMaxWaitMillis:     2_000,
		},
		Idempotency: IdempotencyConfig{
			RecordTTL:      "24h",
			SweepSchedule:  "@every 5m",
			SweepBatchSize: 500,
		},
		Dedupe: DedupeConfig{
			WindowTTL: "168h",
		},
		Outbox: OutboxConfig{
			BatchSize:           100,
			InitialBackoff:      "1s",
			BackoffMultiplier:   2.0,
			MaxBackoff:          "5m",
			QuarantineThreshold: 10,
			PublishedRetention:  "168h",
		},
		Producer: ProducerConfig{
			MaxAttempts:       5,
			SendTimeout:       "5s",
			InitialBackoff:    "100ms",
			BackoffMultiplier: 2.0,
			MaxBackoff:        "5s",
			JitterRatio:       0.2,
		},
		StepUp: StepUpConfig{
			ChallengeTTL:  "5m",
			MinElevation:  "15m",
			MaxElevation:  "60m",
			ApprovalTTL:   "15m",
			MinJustifyLen: 20,
		},
		RateLimit: RateLimitConfig{
			Capacity:       100,
			RefillTokens:   100,
			RefillPeriod:   "1m",
			MaxBuckets:     100_000,
			IdleEvictAfter: "10m",
		},
		HMAC: HMACConfig{
			ClockSkew:         "5m",
			MaxBodyBytes:      1 << 20,
			EnforceBodySHA256: true,
			NonceTTL:          "10m",
			AlgLabel:          "HMAC-SHA256",
		},
		Tracing: TracingConfig{},
	}
}

// ConnectionString builds a PostgreSQL connection string using host parameters.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)
	cfg.normalize()

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig is a helper used by tests to load JSON config snippets.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

// applyDatabaseURLOverride lets a non-empty DATABASE_URL environment variable
// override any file-based DSN to reduce setup friction.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}

func (t *TracingConfig) normalize() {
	if t == nil {
		return
	}
	t.MergeAttributes(t.AttributesEnv)
}

// MergeAttributes merges comma-separated key=value pairs into ResourceAttributes.
func (t *TracingConfig) MergeAttributes(raw string) {
	if t == nil {
		return
	}
	pairs := parseAttributePairs(raw)
	if len(pairs) == 0 {
		return
	}
	if t.ResourceAttributes == nil {
		t.ResourceAttributes = make(map[string]string, len(pairs))
	}
	for k, v := range pairs {
		if k == "" {
			continue
		}
		t.ResourceAttributes[k] = v
	}
}

func parseAttributePairs(raw string) map[string]string {
	result := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		val := ""
		if len(kv) > 1 {
			val = strings.TrimSpace(kv[1])
		}
		result[key] = val
	}
	return result
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	c.Tracing.normalize()
}
