// Package app wires configuration into a runnable pipeline and owns the run lifecycle
// for the CLI and the HTTP server.
package app

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/eloisaabril01/emailscrap/internal/config"
	"github.com/eloisaabril01/emailscrap/internal/export"
	"github.com/eloisaabril01/emailscrap/internal/extract"
	"github.com/eloisaabril01/emailscrap/internal/listing"
	"github.com/eloisaabril01/emailscrap/internal/logger"
	"github.com/eloisaabril01/emailscrap/internal/pipeline"
	"github.com/eloisaabril01/emailscrap/internal/progress"
	"github.com/eloisaabril01/emailscrap/internal/shown"
	"github.com/eloisaabril01/emailscrap/internal/source"
	"github.com/eloisaabril01/emailscrap/internal/source/gemini"
)

// App is a fully wired pipeline.
type App struct {
	Config      *config.Config
	Coordinator *pipeline.Coordinator
	Sink        *export.Sink
	Store       shown.Store
	Tracker     *progress.Tracker
}

// Build opens the configured source, store and sink and assembles a Coordinator.
// Close releases the store.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	log := logger.ComponentLogger("app")

	sources, err := OpenSources(ctx, cfg.Source)
	if err != nil {
		return nil, err
	}
	sink, err := OpenSink(cfg.Export)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	opts := PipelineOptions(cfg.Pipeline)
	ex := extract.New(extract.Options{
		UserAgent:     cfg.Extract.UserAgent,
		MaxRedirects:  cfg.Extract.MaxRedirects,
		MaxBodyBytes:  cfg.Extract.MaxBodyBytes,
		MaxRetryAfter: cfg.Extract.MaxRetryAfter,
		Timeout:       opts.RequestTimeout,
	})
	tracker := progress.NewTracker()
	coord := pipeline.New(pipeline.Deps{
		Sources:   sources,
		Extractor: newTracedExtractor(ex, logger.ComponentLogger("extract"), opts.MaxRetries, opts.RequestTimeout),
		Store:     store,
		Sink:      sink,
		Tracker:   tracker,
		Logger:    logger.ComponentLogger("pipeline"),
	}, opts)

	log.Infow("Pipeline wired",
		"source", cfg.Source.Kind,
		logger.FieldBackend, cfg.Store.Backend,
		"export_format", cfg.Export.Format,
		"export_dir", cfg.Export.Dir,
	)
	return &App{
		Config:      cfg,
		Coordinator: coord,
		Sink:        sink,
		Store:       store,
		Tracker:     tracker,
	}, nil
}

// Close releases the shown store.
func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// PipelineOptions maps the pipeline config section onto coordinator options.
func PipelineOptions(c config.PipelineConfig) pipeline.Options {
	return pipeline.Options{
		BatchSize:       c.BatchSize,
		Workers:         c.Workers,
		MaxEmptyBatches: c.MaxEmptyBatches,
		MaxScans:        c.MaxScans,
		RequestTimeout:  c.RequestTimeout,
		RetryDelay:      c.RetryDelay,
		MaxRetries:      c.MaxRetries,
		RateLimitRPS:    c.RateLimitRPS,
		ExcludeHosts:    c.ExcludeHosts,
	}
}

// OpenSources returns the listing source factory for the configured kind.
func OpenSources(ctx context.Context, c config.SourceConfig) (listing.SourceFactory, error) {
	switch c.Kind {
	case config.SourceFile:
		return source.NewFileFactory(c.Path), nil
	case config.SourceGemini:
		f, err := gemini.New(ctx, gemini.Config{
			APIKey:  c.Gemini.APIKey,
			Model:   c.Gemini.Model,
			BaseURL: c.Gemini.BaseURL,
		})
		if err != nil {
			return nil, errors.Wrap(err, "gemini source")
		}
		return f, nil
	default:
		return nil, errors.Newf("unknown source kind %q", c.Kind)
	}
}

// OpenStore opens the configured shown-record backend.
func OpenStore(ctx context.Context, c config.StoreConfig) (shown.Store, error) {
	switch c.Backend {
	case config.BackendFile:
		return shown.NewFileStore(c.Path), nil
	case config.BackendSQLite:
		return shown.OpenSQLite(ctx, c.Path)
	case config.BackendPostgres:
		return shown.OpenPostgres(ctx, c.DSN)
	default:
		return nil, errors.Newf("unknown store backend %q", c.Backend)
	}
}

// OpenSink returns the export sink for the configured directory and format.
func OpenSink(c config.ExportConfig) (*export.Sink, error) {
	sink, err := export.NewSink(c.Dir, c.Format)
	if err != nil {
		return nil, errors.Wrap(err, "export sink")
	}
	return sink, nil
}
