package domain

import (
	"time"
)

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`

	// Scoring engine
	Detection DetectionConfig `mapstructure:"detection"`
	Model     ModelConfig     `mapstructure:"model"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Baseline  BaselineConfig  `mapstructure:"baseline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// FusionPolicy selects how model and rule scores become a severity.
type FusionPolicy string

const (
	// PolicyWeighted fuses 0.6 × model + 0.4 × rules and classifies the result.
	PolicyWeighted FusionPolicy = "weighted"

	// PolicyLegacy classifies directly from model score and terminal z-score.
	//
	// Deprecated: kept to reproduce historical alerts; use PolicyWeighted.
	PolicyLegacy FusionPolicy = "legacy"
)

// NormalizationMode selects how raw model scores map onto [0,100].
type NormalizationMode string

const (
	// NormalizeBatch rescales by the min/max of the current scoring batch.
	NormalizeBatch NormalizationMode = "batch"

	// NormalizeFrozen rescales by the min/max recorded at training time.
	NormalizeFrozen NormalizationMode = "frozen"
)

// DetectionConfig holds scoring pipeline settings.
type DetectionConfig struct {
	Policy        FusionPolicy      `mapstructure:"policy"`
	Normalization NormalizationMode `mapstructure:"normalization"`
	Workers       int               `mapstructure:"workers"`
	BatchSize     int               `mapstructure:"batch_size"`     // windows per scoring batch in backfills
	RecentWindows int               `mapstructure:"recent_windows"` // windows averaged for the drastic change rule
	InboxDir      string            `mapstructure:"inbox_dir"`
	Timezone      string            `mapstructure:"timezone"` // IANA zone of file timestamps and temporal flags
}

// ModelConfig holds outlier model artifact and training settings.
type ModelConfig struct {
	ArtifactPath  string        `mapstructure:"artifact_path"`
	Contamination float64       `mapstructure:"contamination"`
	Trees         int           `mapstructure:"trees"`
	MaxSamples    int           `mapstructure:"max_samples"`
	MaxFeatures   float64       `mapstructure:"max_features"`
	RandomState   uint64        `mapstructure:"random_state"`
	SampleSize    int           `mapstructure:"sample_size"` // 0 = train on every stored window
	TrainLookback time.Duration `mapstructure:"train_lookback"`
}

// RulesConfig holds rule engine settings.
type RulesConfig struct {
	// OverridePath is an optional YAML file replacing the built-in rules.
	OverridePath string `mapstructure:"override_path"`
}

// AlertsConfig holds alert writer settings.
type AlertsConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
}

// BaselineConfig holds baseline recomputation settings.
type BaselineConfig struct {
	Lookback time.Duration `mapstructure:"lookback"`
}

// SchedulerConfig holds periodic job settings (robfig/cron specs).
type SchedulerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	InboxSpec    string `mapstructure:"inbox_spec"`
	BaselineSpec string `mapstructure:"baseline_spec"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Location resolves the configured timezone, falling back to UTC.
func (d DetectionConfig) Location() *time.Location {
	if d.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultConfig returns a self-contained configuration: SQLite, in-memory cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			BaselineTTL:  time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Detection: DetectionConfig{
			Policy:        PolicyWeighted,
			Normalization: NormalizeBatch,
			Workers:       8,
			BatchSize:     1000,
			RecentWindows: 4,
			InboxDir:      "./inbox",
			Timezone:      "UTC",
		},
		Model: ModelConfig{
			ArtifactPath:  "./models/harrier-iforest.json",
			Contamination: 0.01,
			Trees:         200,
			MaxSamples:    256,
			MaxFeatures:   0.8,
			RandomState:   42,
			TrainLookback: 90 * 24 * time.Hour,
		},
		Alerts: AlertsConfig{
			ChunkSize: 1000,
		},
		Baseline: BaselineConfig{
			Lookback: 90 * 24 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			InboxSpec:    "@every 15m",
			BaselineSpec: "0 2 * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}
