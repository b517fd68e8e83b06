// Package config loads Harrier configuration from defaults, an optional file and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. HARRIER_REPOSITORY_DRIVER.
const EnvPrefix = "HARRIER"

// Load reads configuration from file and environment variables.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*domain.Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults mirrors domain.DefaultConfig so every key is known to viper
// and therefore overridable from the environment.
func setDefaults(v *viper.Viper) {
	d := domain.DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("repository.driver", d.Repository.Driver)
	v.SetDefault("repository.sqlite_path", d.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", "localhost")
	v.SetDefault("repository.postgres_port", 5432)
	v.SetDefault("repository.postgres_user", "")
	v.SetDefault("repository.postgres_password", "")
	v.SetDefault("repository.postgres_db", "harrier")
	v.SetDefault("repository.postgres_sslmode", "disable")
	v.SetDefault("repository.max_open_conns", 0)
	v.SetDefault("repository.max_idle_conns", 0)
	v.SetDefault("repository.conn_max_lifetime", "0s")

	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.local_max_size", d.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", d.Cache.LocalTTL.String())
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.enable_two_phase", false)
	v.SetDefault("cache.baseline_ttl", d.Cache.BaselineTTL.String())

	v.SetDefault("event_bus.type", d.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", d.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", "nats://localhost:4222")
	v.SetDefault("event_bus.nats_token", "")
	v.SetDefault("event_bus.nats_max_reconnects", 10)
	v.SetDefault("event_bus.nats_reconnect_wait", 5)
	v.SetDefault("event_bus.kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("event_bus.kafka_group_id", "harrier")

	v.SetDefault("detection.policy", string(d.Detection.Policy))
	v.SetDefault("detection.normalization", string(d.Detection.Normalization))
	v.SetDefault("detection.workers", d.Detection.Workers)
	v.SetDefault("detection.batch_size", d.Detection.BatchSize)
	v.SetDefault("detection.recent_windows", d.Detection.RecentWindows)
	v.SetDefault("detection.inbox_dir", d.Detection.InboxDir)
	v.SetDefault("detection.timezone", d.Detection.Timezone)

	v.SetDefault("model.artifact_path", d.Model.ArtifactPath)
	v.SetDefault("model.contamination", d.Model.Contamination)
	v.SetDefault("model.trees", d.Model.Trees)
	v.SetDefault("model.max_samples", d.Model.MaxSamples)
	v.SetDefault("model.max_features", d.Model.MaxFeatures)
	v.SetDefault("model.random_state", d.Model.RandomState)
	v.SetDefault("model.sample_size", d.Model.SampleSize)
	v.SetDefault("model.train_lookback", d.Model.TrainLookback.String())

	v.SetDefault("rules.override_path", "")

	v.SetDefault("alerts.chunk_size", d.Alerts.ChunkSize)

	v.SetDefault("baseline.lookback", d.Baseline.Lookback.String())

	v.SetDefault("scheduler.enabled", d.Scheduler.Enabled)
	v.SetDefault("scheduler.inbox_spec", d.Scheduler.InboxSpec)
	v.SetDefault("scheduler.baseline_spec", d.Scheduler.BaselineSpec)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Validate checks that all configuration values are usable.
func Validate(c *domain.Config) error {
	switch c.Repository.Driver {
	case "sqlite", "postgres", "pgx":
	default:
		return fmt.Errorf("repository.driver must be sqlite, postgres or pgx, got %q", c.Repository.Driver)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.type must be memory or redis, got %q", c.Cache.Type)
	}
	switch c.EventBus.Type {
	case "channel", "nats", "kafka":
	default:
		return fmt.Errorf("event_bus.type must be channel, nats or kafka, got %q", c.EventBus.Type)
	}
	switch c.Detection.Policy {
	case domain.PolicyWeighted, domain.PolicyLegacy:
	default:
		return fmt.Errorf("detection.policy must be weighted or legacy, got %q", c.Detection.Policy)
	}
	switch c.Detection.Normalization {
	case domain.NormalizeBatch, domain.NormalizeFrozen:
	default:
		return fmt.Errorf("detection.normalization must be batch or frozen, got %q", c.Detection.Normalization)
	}
	if _, err := time.LoadLocation(c.Detection.Timezone); err != nil {
		return fmt.Errorf("detection.timezone is invalid: %w", err)
	}
	if c.Model.Contamination <= 0 || c.Model.Contamination > 0.5 {
		return fmt.Errorf("model.contamination must be in (0, 0.5], got %v", c.Model.Contamination)
	}
	if c.Model.MaxFeatures <= 0 || c.Model.MaxFeatures > 1 {
		return fmt.Errorf("model.max_features must be in (0, 1], got %v", c.Model.MaxFeatures)
	}
	if c.Model.Trees < 1 {
		return fmt.Errorf("model.trees must be at least 1")
	}
	if c.Alerts.ChunkSize < 1 {
		return fmt.Errorf("alerts.chunk_size must be at least 1")
	}
	if c.Detection.BatchSize < 1 {
		return fmt.Errorf("detection.batch_size must be at least 1")
	}
	if c.Detection.Workers < 1 {
		return fmt.Errorf("detection.workers must be at least 1")
	}
	return nil
}
