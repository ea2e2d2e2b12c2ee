package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines backing-service selection
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Scoring pipeline
	Ensemble EnsembleConfig `json:"ensemble"`
	Features FeaturesConfig `json:"features"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// Model names used across configuration, registry, and decisions.
const (
	ModelIsolationForest = "isolation_forest"
	ModelXGBoost         = "xgboost"
	ModelAutoencoder     = "autoencoder"
)

// EnsembleConfig holds scorer weights and the decision threshold.
// Set once at process start; read-only thereafter.
type EnsembleConfig struct {
	// Weights maps model name to its configured nonnegative weight.
	Weights map[string]float64 `json:"weights"`

	// FraudThreshold flags a decision when fraud_score >= threshold.
	FraudThreshold float64 `json:"fraudThreshold"`

	// ScorerTimeout bounds a single scorer invocation. Zero disables
	// the bound (reference behavior); on expiry the scorer is treated
	// as failed for that request only.
	ScorerTimeout time.Duration `json:"scorerTimeout"`
}

// FeaturesConfig holds feature engine settings.
type FeaturesConfig struct {
	// MaxHistory caps per-user retained history. Zero keeps the
	// unbounded reference behavior.
	MaxHistory int `json:"maxHistory"`

	// Shards is the lock-stripe count for per-user serialization.
	Shards int `json:"shards"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
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
	Endpoint    string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultEnsembleConfig returns the reference weights and threshold.
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{
		Weights: map[string]float64{
			ModelIsolationForest: 0.35,
			ModelXGBoost:         0.45,
			ModelAutoencoder:     0.20,
		},
		FraudThreshold: 0.55,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Ensemble: DefaultEnsembleConfig(),
		Features: FeaturesConfig{
			Shards: 64,
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
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
