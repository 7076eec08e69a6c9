package config

import (
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Sources   []SourceConfig  `yaml:"sources" mapstructure:"sources"`
	Reader    ReaderConfig    `yaml:"reader" mapstructure:"reader"`
	Gateway   GatewayConfig   `yaml:"gateway" mapstructure:"gateway"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Discover  DiscoverConfig  `yaml:"discover" mapstructure:"discover"`
	Outreach  OutreachConfig  `yaml:"outreach" mapstructure:"outreach"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SourceConfig configures one search source adapter.
type SourceConfig struct {
	ID      string `yaml:"id" mapstructure:"id"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`
}

// ReaderConfig configures the page reader used for contact extraction.
type ReaderConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`
}

// GatewayConfig configures the WhatsApp gateway session.
type GatewayConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	SessionID   string `yaml:"session_id" mapstructure:"session_id"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig configures optional LLM brand classification.
// An empty key disables the classifier; the keyword heuristic is used instead.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// DiscoverConfig configures the discovery phase.
type DiscoverConfig struct {
	MaxResults    int `yaml:"max_results" mapstructure:"max_results"`
	PerQueryLimit int `yaml:"per_query_limit" mapstructure:"per_query_limit"`
	TimeoutSecs   int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// OutreachConfig configures the outreach scheduler.
type OutreachConfig struct {
	MinIntervalSecs  int    `yaml:"min_interval_secs" mapstructure:"min_interval_secs"`
	CooldownHours    int    `yaml:"cooldown_hours" mapstructure:"cooldown_hours"`
	MaxRetries       int    `yaml:"max_retries" mapstructure:"max_retries"`
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size"`
	RetryBackoffSecs int    `yaml:"retry_backoff_secs" mapstructure:"retry_backoff_secs"`
	SendTimeoutSecs  int    `yaml:"send_timeout_secs" mapstructure:"send_timeout_secs"`
	TemplatesPath    string `yaml:"templates_path" mapstructure:"templates_path"`
}

// MinInterval returns the global inter-message delay.
func (c OutreachConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSecs) * time.Second
}

// Cooldown returns the per-contact cool-down window.
func (c OutreachConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownHours) * time.Hour
}

// RetryBackoff returns the base backoff delay between retries of a failed contact.
func (c OutreachConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSecs) * time.Second
}

// Validate rejects malformed outreach settings before any dispatch attempt.
func (c OutreachConfig) Validate() error {
	if c.MinIntervalSecs < 0 {
		return eris.Errorf("config: outreach min_interval_secs must be >= 0, got %d", c.MinIntervalSecs)
	}
	if c.CooldownHours <= 0 {
		return eris.Errorf("config: outreach cooldown_hours must be > 0, got %d", c.CooldownHours)
	}
	if c.MaxRetries < 0 {
		return eris.Errorf("config: outreach max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.BatchSize <= 0 {
		return eris.Errorf("config: outreach batch_size must be > 0, got %d", c.BatchSize)
	}
	return nil
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BRANDREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "brandreach.db")
	v.SetDefault("discover.max_results", 50)
	v.SetDefault("discover.per_query_limit", 10)
	v.SetDefault("discover.timeout_secs", 20)
	v.SetDefault("discover.max_concurrent", 4)
	v.SetDefault("outreach.min_interval_secs", 10)
	v.SetDefault("outreach.cooldown_hours", 24)
	v.SetDefault("outreach.max_retries", 3)
	v.SetDefault("outreach.batch_size", 20)
	v.SetDefault("outreach.retry_backoff_secs", 60)
	v.SetDefault("outreach.send_timeout_secs", 30)
	v.SetDefault("gateway.timeout_secs", 30)
	v.SetDefault("anthropic.model", "claude-haiku-4-5")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; env and defaults may be enough.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
