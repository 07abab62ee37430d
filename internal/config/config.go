// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	DB        DBConfig        `mapstructure:"db"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Enricher  EnricherConfig  `mapstructure:"enricher"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PipelineConfig governs the scheduler, workers, and recovery sweep.
type PipelineConfig struct {
	MaxConcurrentDomains       int  `mapstructure:"max_concurrent_domains"`
	SameDomainDelaySeconds     int  `mapstructure:"same_domain_delay_seconds"`
	RequestTimeoutSeconds      int  `mapstructure:"request_timeout_seconds"`
	ProcessingTimeoutSeconds   int  `mapstructure:"processing_timeout_seconds"`
	StaleProcessingThresholdSec int `mapstructure:"stale_processing_threshold_seconds"`
	SweepIntervalSeconds       int  `mapstructure:"sweep_interval_seconds"`
	PollIntervalSeconds        int  `mapstructure:"poll_interval_seconds"`
	AutoProcessAfterDiscovery  bool `mapstructure:"auto_process_after_discovery"`
	Workers                    int  `mapstructure:"workers"`
	QueueDepth                 int  `mapstructure:"queue_depth"`
	BatchLimit                 int  `mapstructure:"batch_limit"`
}

// DBConfig controls access to the relational store.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_seconds"`
}

// ArchiveConfig selects where raw extraction snapshots are written.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ExtractorConfig configures the reader client and its fallbacks.
type ExtractorConfig struct {
	ReaderBaseURL       string `mapstructure:"reader_base_url"`
	ReaderAPIKey        string `mapstructure:"reader_api_key"`
	MaxContentLength    int    `mapstructure:"max_content_length"`
	UserAgent           string `mapstructure:"user_agent"`
	DirectFallback      bool   `mapstructure:"direct_fallback"`
	HeadlessEnabled     bool   `mapstructure:"headless_enabled"`
	HeadlessMaxParallel int    `mapstructure:"headless_max_parallel"`
	HeadlessNavTimeout  int    `mapstructure:"headless_nav_timeout_seconds"`
}

// EnricherConfig configures the clean/summarize/translate collaborator.
type EnricherConfig struct {
	APIURL    string   `mapstructure:"api_url"`
	APIKey    string   `mapstructure:"api_key"`
	Model     string   `mapstructure:"model"`
	Languages []string `mapstructure:"languages"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.max_concurrent_domains", 3)
	v.SetDefault("pipeline.same_domain_delay_seconds", 3)
	v.SetDefault("pipeline.request_timeout_seconds", 60)
	v.SetDefault("pipeline.processing_timeout_seconds", 30)
	v.SetDefault("pipeline.stale_processing_threshold_seconds", 600)
	v.SetDefault("pipeline.sweep_interval_seconds", 300)
	v.SetDefault("pipeline.poll_interval_seconds", 5)
	v.SetDefault("pipeline.auto_process_after_discovery", true)
	v.SetDefault("pipeline.workers", 3)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.batch_limit", 100)
	v.SetDefault("archive.provider", "memory")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("extractor.reader_base_url", "https://r.jina.ai")
	v.SetDefault("extractor.max_content_length", 5000)
	v.SetDefault("extractor.user_agent", "newsflow-bot/0.1")
	v.SetDefault("extractor.direct_fallback", true)
	v.SetDefault("extractor.headless_enabled", false)
	v.SetDefault("extractor.headless_max_parallel", 1)
	v.SetDefault("extractor.headless_nav_timeout_seconds", 25)
	v.SetDefault("enricher.languages", []string{"en", "zh", "ms"})
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.MaxConcurrentDomains <= 0 {
		return fmt.Errorf("pipeline.max_concurrent_domains must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("pipeline.request_timeout_seconds must be > 0")
	}
	if c.Pipeline.ProcessingTimeoutSeconds <= 0 {
		return fmt.Errorf("pipeline.processing_timeout_seconds must be > 0")
	}
	if c.Pipeline.StaleProcessingThresholdSec <= 0 {
		return fmt.Errorf("pipeline.stale_processing_threshold_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Archive.Provider {
	case "memory", "local", "gcs", "none":
	default:
		return fmt.Errorf("unknown archive provider %q", c.Archive.Provider)
	}
	if c.Archive.Provider == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
	}
	if c.Archive.Provider == "local" && c.Archive.LocalDir == "" {
		return fmt.Errorf("archive.local_dir must be set when archive.provider is local")
	}
	return nil
}

// SameDomainDelay returns the minimum spacing between requests to one domain.
func (c Config) SameDomainDelay() time.Duration {
	return time.Duration(c.Pipeline.SameDomainDelaySeconds) * time.Second
}

// RequestTimeout bounds a single extraction call.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Pipeline.RequestTimeoutSeconds) * time.Second
}

// ProcessingTimeout bounds a single enrichment call.
func (c Config) ProcessingTimeout() time.Duration {
	return time.Duration(c.Pipeline.ProcessingTimeoutSeconds) * time.Second
}

// StaleProcessingThreshold is the age at which a processing item counts as stuck.
func (c Config) StaleProcessingThreshold() time.Duration {
	return time.Duration(c.Pipeline.StaleProcessingThresholdSec) * time.Second
}

// SweepInterval is the cadence of the stuck-work recovery sweep.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Pipeline.SweepIntervalSeconds) * time.Second
}

// PollInterval is the scheduler's idle backlog poll cadence.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Pipeline.PollIntervalSeconds) * time.Second
}
