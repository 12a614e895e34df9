package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Sync      SyncConfig      `yaml:"sync" mapstructure:"sync"`
	HTTP      HTTPConfig      `yaml:"http" mapstructure:"http"`
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for the LLM extractor.
type AnthropicConfig struct {
	Key              string  `yaml:"key" mapstructure:"key"`
	Model            string  `yaml:"model" mapstructure:"model"`
	MaxTokens        int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerS     float64 `yaml:"requests_per_s" mapstructure:"requests_per_s"`
	UseBatch         bool    `yaml:"use_batch" mapstructure:"use_batch"`
	PollIntervalSecs int     `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	// BreakerFailures opens the circuit after that many consecutive API
	// failures; BreakerResetSecs is how long it stays open before probing.
	BreakerFailures  int `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// SyncConfig configures the reconciliation pipeline's inputs and matching.
type SyncConfig struct {
	// DumpPath is a saved portal dump file; DumpURL fetches one instead.
	DumpPath string `yaml:"dump_path" mapstructure:"dump_path"`
	DumpURL  string `yaml:"dump_url" mapstructure:"dump_url"`
	// PagesDir holds one saved page text per installation ID.
	PagesDir string `yaml:"pages_dir" mapstructure:"pages_dir"`
	// PolicyPath overrides the compiled-in merge precedence policy.
	PolicyPath string `yaml:"policy_path" mapstructure:"policy_path"`
	// MaxNameMatchKM gates name-only matches by distance; <= 0 disables.
	MaxNameMatchKM float64 `yaml:"max_name_match_km" mapstructure:"max_name_match_km"`
	// DLQPath appends failed records to a JSONL dead-letter file; "" disables.
	DLQPath string `yaml:"dlq_path" mapstructure:"dlq_path"`
}

// HTTPConfig configures the outbound fetcher.
type HTTPConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// MonitorConfig configures health checks over the sync log and the
// dead-letter file.
type MonitorConfig struct {
	// WebhookURL receives alert payloads as JSON POSTs; "" disables sending.
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	// FailureRateThreshold alerts when failed records / consumed records in
	// the lookback window exceeds it.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// DLQDepthThreshold alerts when the dead-letter file holds at least this
	// many entries; <= 0 disables.
	DLQDepthThreshold   int `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	LookbackWindowHours int `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs   int `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
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
	v.SetEnvPrefix("GARDESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/gardesync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1500)
	v.SetDefault("anthropic.requests_per_s", 2)
	v.SetDefault("anthropic.poll_interval_secs", 10)
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("anthropic.breaker_failures", 5)
	v.SetDefault("anthropic.breaker_reset_secs", 30)
	v.SetDefault("sync.pages_dir", "data/portal-text")
	v.SetDefault("sync.max_name_match_km", 2)
	v.SetDefault("monitor.failure_rate_threshold", 0.25)
	v.SetDefault("monitor.dlq_depth_threshold", 25)
	v.SetDefault("monitor.lookback_window_hours", 24)
	v.SetDefault("monitor.check_interval_secs", 300)
	v.SetDefault("http.user_agent", "gardesync/1.0")
	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("http.max_retries", 3)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields a command needs are present.
// Modes: "sync", "import", "store".
func (c *Config) Validate(mode string) error {
	var problems []string

	storeChecks := func() {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}

	switch mode {
	case "sync":
		storeChecks()
		if c.Sync.DumpPath == "" && c.Sync.DumpURL == "" && c.Sync.PagesDir == "" {
			problems = append(problems, "sync: at least one of dump_path, dump_url, pages_dir is required")
		}
		if c.Sync.DumpPath != "" && c.Sync.DumpURL != "" {
			problems = append(problems, "sync: dump_path and dump_url are mutually exclusive")
		}
		if c.Sync.MaxNameMatchKM < 0 {
			problems = append(problems, "sync.max_name_match_km must be >= 0")
		}
	case "import", "store":
		storeChecks()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
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
