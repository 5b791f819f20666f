package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (EMAILSCRAP_PIPELINE_WORKERS).
const EnvPrefix = "EMAILSCRAP"

// Config is the full emailscrap configuration.
type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Store    StoreConfig    `mapstructure:"store"`
	Export   ExportConfig   `mapstructure:"export"`
	Source   SourceConfig   `mapstructure:"source"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// PipelineConfig controls batching, the worker pool and stop conditions.
type PipelineConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	Workers         int           `mapstructure:"workers"`
	MaxEmptyBatches int           `mapstructure:"max_empty_batches"`
	MaxScans        int           `mapstructure:"max_scans"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	ExcludeHosts    []string      `mapstructure:"exclude_hosts"`
}

type ExtractConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	MaxRedirects  int           `mapstructure:"max_redirects"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
	MaxRetryAfter time.Duration `mapstructure:"max_retry_after"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
}

type ExportConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
}

type SourceConfig struct {
	Kind   string       `mapstructure:"kind"`
	Path   string       `mapstructure:"path"`
	Gemini GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	BindSensitiveEnvVars(v)
	return v
}

// Load reads the optional config file at path (empty for none), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates configuration from v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.BatchSize <= 0 {
		return errors.Newf("pipeline.batch_size must be positive, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.Workers <= 0 {
		return errors.Newf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.MaxEmptyBatches <= 0 {
		return errors.Newf("pipeline.max_empty_batches must be positive, got %d", c.Pipeline.MaxEmptyBatches)
	}
	if c.Pipeline.MaxScans <= 0 {
		return errors.Newf("pipeline.max_scans must be positive, got %d", c.Pipeline.MaxScans)
	}
	if c.Pipeline.MaxRetries < 0 {
		return errors.Newf("pipeline.max_retries must not be negative, got %d", c.Pipeline.MaxRetries)
	}
	switch c.Store.Backend {
	case BackendFile, BackendSQLite:
		if c.Store.Path == "" {
			return errors.WithHint(errors.New("store.path is empty"), "set store.path or EMAILSCRAP_STORE_PATH")
		}
	case BackendPostgres:
		if c.Store.DSN == "" {
			return errors.WithHint(errors.New("store.dsn is empty"), "set store.dsn or EMAILSCRAP_STORE_DSN")
		}
	default:
		return errors.Newf("unknown store.backend %q", c.Store.Backend)
	}
	switch c.Export.Format {
	case FormatXLSX, FormatCSV:
	default:
		return errors.Newf("unknown export.format %q", c.Export.Format)
	}
	switch c.Source.Kind {
	case SourceFile, SourceGemini:
	default:
		return errors.Newf("unknown source.kind %q", c.Source.Kind)
	}
	return nil
}
