package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	FormatXLSX = "xlsx"
	FormatCSV  = "csv"

	SourceFile   = "file"
	SourceGemini = "gemini"
)

// DefaultUserAgent is sent with every website fetch.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.batch_size", 5)
	v.SetDefault("pipeline.workers", 5)
	v.SetDefault("pipeline.max_empty_batches", 5)
	v.SetDefault("pipeline.max_scans", 200)
	v.SetDefault("pipeline.request_timeout", 3*time.Second)
	v.SetDefault("pipeline.retry_delay", 300*time.Millisecond)
	v.SetDefault("pipeline.max_retries", 1)
	v.SetDefault("pipeline.rate_limit_rps", 0.0) // off
	v.SetDefault("pipeline.exclude_hosts", []string{"google.com"})

	v.SetDefault("extract.user_agent", DefaultUserAgent)
	v.SetDefault("extract.max_redirects", 10)
	v.SetDefault("extract.max_body_bytes", int64(2<<20))
	v.SetDefault("extract.max_retry_after", 5*time.Second)

	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.path", "database.json")
	v.SetDefault("store.dsn", "")

	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.format", FormatXLSX)

	v.SetDefault("source.kind", SourceFile)
	v.SetDefault("source.path", "listings.yaml")
	v.SetDefault("source.gemini.api_key", "")
	v.SetDefault("source.gemini.model", "gemini-2.5-flash")
	v.SetDefault("source.gemini.base_url", "")

	v.SetDefault("server.addr", ":8580")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars binds credentials to their conventional environment names.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("source.gemini.api_key", EnvPrefix+"_SOURCE_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("store.dsn", EnvPrefix+"_STORE_DSN", "DATABASE_URL")
}
