package domain

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which storage, cache and bus backends are used
	Tier Tier `json:"tier"`

	// Tenants the async worker and bus model responder consume for
	Tenants []string `json:"tenants"`

	// Scoring core
	Features   FeatureConfig    `json:"features"`
	Normalizer NormalizerConfig `json:"normalizer"`
	Model      ModelConfig      `json:"model"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
	MaxBodyBytes int64  `json:"maxBodyBytes"`
}

// FeatureConfig is the risk policy consumed by the feature extractor.
// Training and serving must run with identical values.
type FeatureConfig struct {
	// HighRiskCountries are ISO country codes matched against the first two
	// characters of the debtor IBAN.
	HighRiskCountries []string `json:"highRiskCountries"`

	// SanctionedIDs are debtor identifiers matched exactly.
	SanctionedIDs []string `json:"sanctionedIds"`

	// RegulatoryCode is the regulatory reporting code that raises the flag.
	RegulatoryCode string `json:"regulatoryCode"`

	// AmountThreshold flags amounts strictly above it.
	AmountThreshold float64 `json:"amountThreshold"`
}

// DefaultFeatureConfig returns the default risk policy.
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		HighRiskCountries: []string{"NG", "IR", "SY"},
		SanctionedIDs:     []string{"BlacklistedID1", "BlacklistedID2"},
		RegulatoryCode:    "AML",
		AmountThreshold:   5000,
	}
}

// NormalizerConfig holds normalization settings.
type NormalizerConfig struct {
	ZeroStdPolicy ZeroStdPolicy `json:"zeroStdPolicy"`

	// Path to a fitted parameters artifact. When empty, the server loads
	// the latest version from the repository.
	Path string `json:"path"`
}

// ModelConfig selects the inference backend.
type ModelConfig struct {
	// Type is "http", "bus" or "logistic"
	Type string `json:"type"`

	// HTTP model server endpoint (TensorFlow Serving REST predict URL)
	URL string `json:"url"`

	// Path to logistic weights
	Path string `json:"path"`

	Timeout time.Duration `json:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-memory cache and channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5000,
			ReadTimeout:  30,
			WriteTimeout: 30,
			MaxBodyBytes: 1 << 20,
		},
		Tier:     TierCommunity,
		Tenants:  []string{DefaultTenant},
		Features: DefaultFeatureConfig(),
		Normalizer: NormalizerConfig{
			ZeroStdPolicy: ZeroStdUnit,
			Path:          "./normalizer.json",
		},
		Model: ModelConfig{
			Type:    "http",
			URL:     "http://localhost:8501/v1/models/fraud:predict",
			Timeout: 5 * time.Second,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ScoreTTL:     10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		ScoreTTL:       10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "kestrel",
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// ApplyEnv overrides configuration values from KESTREL_* environment
// variables. Unset variables leave the current value untouched.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("KESTREL_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KESTREL_PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	if v := os.Getenv("KESTREL_TENANTS"); v != "" {
		cfg.Tenants = splitList(v)
	}

	// Feature policy
	if v := os.Getenv("KESTREL_HIGH_RISK_COUNTRIES"); v != "" {
		cfg.Features.HighRiskCountries = splitList(v)
	}
	if v := os.Getenv("KESTREL_SANCTIONED_IDS"); v != "" {
		cfg.Features.SanctionedIDs = splitList(v)
	}
	if v := os.Getenv("KESTREL_REGULATORY_CODE"); v != "" {
		cfg.Features.RegulatoryCode = v
	}
	if v := os.Getenv("KESTREL_AMOUNT_THRESHOLD"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("KESTREL_AMOUNT_THRESHOLD: %w", err)
		}
		cfg.Features.AmountThreshold = threshold
	}

	// Normalizer and model
	if v, ok := os.LookupEnv("KESTREL_NORMALIZER_PATH"); ok {
		cfg.Normalizer.Path = v
	}
	if v := os.Getenv("KESTREL_ZERO_STD_POLICY"); v != "" {
		cfg.Normalizer.ZeroStdPolicy = ZeroStdPolicy(v)
	}
	if v := os.Getenv("KESTREL_MODEL_TYPE"); v != "" {
		cfg.Model.Type = v
	}
	if v := os.Getenv("KESTREL_MODEL_URL"); v != "" {
		cfg.Model.URL = v
	}
	if v := os.Getenv("KESTREL_MODEL_PATH"); v != "" {
		cfg.Model.Path = v
	}

	// Backends
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_NATS_TOKEN"); v != "" {
		cfg.EventBus.NATSToken = v
	}
	if v, ok := os.LookupEnv("KESTREL_NATS_QUEUE_GROUP"); ok {
		cfg.EventBus.NATSQueueGroup = v
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
