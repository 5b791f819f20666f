// Package server exposes run progress and control over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/eloisaabril01/emailscrap/internal/export"
	"github.com/eloisaabril01/emailscrap/internal/logger"
	"github.com/eloisaabril01/emailscrap/internal/progress"
	"github.com/eloisaabril01/emailscrap/internal/redact"
)

// DefaultLimit is the search target when a request names none.
const DefaultLimit = 10

// Runs starts and stops the single background run.
type Runs interface {
	Start(query string, limit int) error
	Stop() bool
	Tracker() *progress.Tracker
}

// Exports lists, combines and resolves export files.
type Exports interface {
	List() ([]export.FileInfo, error)
	Combine(ctx context.Context) (export.CombineSummary, error)
	Path(filename string) (string, error)
}

// Options tune the HTTP surface.
type Options struct {
	// AllowedOrigins are Origin prefixes, besides the server's own host, that may
	// open the progress websocket.
	AllowedOrigins []string
}

// Server is the HTTP control surface.
type Server struct {
	runs           Runs
	exports        Exports
	log            *zap.SugaredLogger
	echo           *echo.Echo
	allowedOrigins []string
	upgrader       websocket.Upgrader

	// wsPing bounds how long a websocket client can stay silent between pushes.
	wsPing time.Duration
}

// New builds the server and registers its routes.
func New(runs Runs, exports Exports, opts Options) *Server {
	s := &Server{
		runs:           runs,
		exports:        exports,
		log:            logger.ComponentLogger("server"),
		allowedOrigins: opts.AllowedOrigins,
		wsPing:         30 * time.Second,
	}
	s.upgrader = s.newUpgrader()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debugw("Request",
				logger.FieldMethod, v.Method,
				logger.FieldPath, v.URIPath,
				logger.FieldStatus, v.Status,
				logger.FieldDurationMS, v.Latency.Milliseconds(),
			)
			return nil
		},
	}))

	e.GET("/progress", s.handleProgress).Name = "progress"
	e.POST("/stop", s.handleStop).Name = "stop"
	e.GET("/results", s.handleResults).Name = "results"
	e.POST("/search", s.handleSearch).Name = "search"
	e.GET("/exports", s.handleExports).Name = "exports"
	e.POST("/exports/combine", s.handleCombine).Name = "exports-combine"
	e.GET("/download/:filename", s.handleDownload).Name = "download"
	e.GET("/ws/progress", s.handleProgressWS).Name = "ws-progress"

	s.echo = e
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	s.log.Infow("HTTP server listening", logger.FieldAddress, addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "serve %s", addr)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	if code >= http.StatusInternalServerError {
		s.log.Errorw("Request failed", logger.FieldPath, c.Path(), logger.FieldError, err)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, errorBody{Error: redact.Secrets(msg)})
}
