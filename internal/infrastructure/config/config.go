package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the full runtime configuration. Values are resolved in
// three layers: compiled defaults, then an optional YAML file, then
// GOVERN_* environment variables.
type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Kafka     KafkaConfig     `koanf:"kafka"`
	Archive   ArchiveConfig   `koanf:"archive"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Security  SecurityConfig  `koanf:"security"`
	Crypto    CryptoConfig    `koanf:"crypto"`
	Consent   ConsentConfig   `koanf:"consent"`
	Retention RetentionConfig `koanf:"retention"`
	Privacy   PrivacyConfig   `koanf:"privacy"`
	Payment   PaymentConfig   `koanf:"payment"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type KafkaConfig struct {
	Enabled      bool     `koanf:"enabled"`
	Brokers      []string `koanf:"brokers"`
	ClientID     string   `koanf:"client_id"`
	AuditTopic   string   `koanf:"audit_topic"`
	ErasureTopic string   `koanf:"erasure_topic"`
}

// ArchiveConfig controls cold storage of audit entries in S3.
type ArchiveConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Bucket   string        `koanf:"bucket"`
	Region   string        `koanf:"region"`
	Prefix   string        `koanf:"prefix"`
	Endpoint string        `koanf:"endpoint"`
	MinAge   time.Duration `koanf:"min_age"`
}

// TelemetryConfig controls the OTLP exporters and the Prometheus
// scrape endpoint. Disabled by default so a bare binary needs no
// collector.
type TelemetryConfig struct {
	Enabled       bool          `koanf:"enabled"`
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`
	SamplingRate  float64       `koanf:"sampling_rate"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
	MetricsPort   int           `koanf:"metrics_port"`
}

type SecurityConfig struct {
	JWTSecret   string        `koanf:"jwt_secret"`
	TokenExpiry time.Duration `koanf:"token_expiry"`
}

// CryptoConfig feeds the keyring. MasterKey is the base64-encoded
// 32-byte root secret; every field key and token epoch secret is
// derived from it, so rotation is a matter of key ids and epochs, not
// of distributing new roots.
type CryptoConfig struct {
	MasterKey        string   `koanf:"master_key"`
	ActiveKeyID      string   `koanf:"active_key_id"`
	KeyIDs           []string `koanf:"key_ids"`
	ActiveTokenEpoch int      `koanf:"active_token_epoch"`
}

// ConsentConfig enumerates the purposes that may be processed without
// a recorded grant. An empty list means no purpose ever bypasses the
// registry.
type ConsentConfig struct {
	LegitimateInterestPurposes []string      `koanf:"legitimate_interest_purposes"`
	CacheTTL                   time.Duration `koanf:"cache_ttl"`
}

type RetentionConfig struct {
	SweepInterval  time.Duration `koanf:"sweep_interval"`
	SweepBatchSize int           `koanf:"sweep_batch_size"`
	SweepRate      int           `koanf:"sweep_rate"`
	SweepBurst     int           `koanf:"sweep_burst"`
	LockTTL        time.Duration `koanf:"lock_ttl"`
}

type PrivacyConfig struct {
	ObligationDeadline time.Duration `koanf:"obligation_deadline"`
	ExportFormat       string        `koanf:"export_format"`
}

type PaymentConfig struct {
	SupportedCurrencies []string `koanf:"supported_currencies"`
}

// Load resolves configuration from defaults, configs/config.yaml when
// present, and the environment.
func Load() (*Config, error) {
	return LoadFrom("configs/config.yaml")
}

// LoadFrom is Load with an explicit file path. The file is optional;
// everything else about the chain is the same.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// GOVERN_DATABASE__URL -> database.url. A double underscore
	// separates nesting levels so that key names may themselves
	// contain underscores (GOVERN_CRYPTO__MASTER_KEY).
	if err := k.Load(env.Provider("GOVERN_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, "GOVERN_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB: 0,
		},
		Kafka: KafkaConfig{
			ClientID:     "governance-api",
			AuditTopic:   "governance.audit",
			ErasureTopic: "governance.erasure",
		},
		Archive: ArchiveConfig{
			Prefix: "audit",
			MinAge: 90 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "localhost:4317",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			BatchTimeout:  5 * time.Second,
			MetricsPort:   9090,
		},
		Security: SecurityConfig{
			TokenExpiry: 24 * time.Hour,
		},
		Crypto: CryptoConfig{
			ActiveKeyID:      "govern-key-1",
			KeyIDs:           []string{"govern-key-1"},
			ActiveTokenEpoch: 1,
		},
		Consent: ConsentConfig{
			// Empty on purpose: a purpose bypasses consent only when a
			// deployment names it here.
			LegitimateInterestPurposes: nil,
			CacheTTL:                   5 * time.Minute,
		},
		Retention: RetentionConfig{
			SweepInterval:  24 * time.Hour,
			SweepBatchSize: 500,
			SweepRate:      25,
			SweepBurst:     5,
			LockTTL:        10 * time.Minute,
		},
		Privacy: PrivacyConfig{
			ObligationDeadline: 72 * time.Hour,
			ExportFormat:       "json",
		},
		Payment: PaymentConfig{
			SupportedCurrencies: []string{"USD", "EUR", "GBP"},
		},
	}
}

// Validate rejects configurations the engine must not start with. The
// crypto and signing secrets are required outside development; running
// without them would silently disable the protections the rest of the
// system assumes.
func (c *Config) Validate() error {
	var problems []string

	if c.Environment != "development" && c.Environment != "test" {
		if c.Crypto.MasterKey == "" {
			problems = append(problems, "crypto.master_key is required")
		}
		if c.Security.JWTSecret == "" {
			problems = append(problems, "security.jwt_secret is required")
		}
		if c.Database.URL == "" {
			problems = append(problems, "database.url is required")
		}
	}
	if c.Crypto.ActiveKeyID == "" {
		problems = append(problems, "crypto.active_key_id is required")
	}
	if !containsString(c.Crypto.KeyIDs, c.Crypto.ActiveKeyID) {
		problems = append(problems, "crypto.key_ids must include the active key id")
	}
	if c.Crypto.ActiveTokenEpoch < 1 {
		problems = append(problems, "crypto.active_token_epoch must be at least 1")
	}
	if c.Retention.SweepBatchSize < 1 {
		problems = append(problems, "retention.sweep_batch_size must be positive")
	}
	if c.Retention.SweepRate < 1 {
		problems = append(problems, "retention.sweep_rate must be positive")
	}
	if c.Privacy.ObligationDeadline <= 0 {
		problems = append(problems, "privacy.obligation_deadline must be positive")
	}
	if len(c.Payment.SupportedCurrencies) == 0 {
		problems = append(problems, "payment.supported_currencies must not be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsDevelopment reports whether the config targets a development
// environment, where missing secrets are tolerated.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "test"
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
