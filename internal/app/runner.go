package app

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/eloisaabril01/emailscrap/internal/logger"
	"github.com/eloisaabril01/emailscrap/internal/pipeline"
	"github.com/eloisaabril01/emailscrap/internal/progress"
)

var (
	// ErrRunInProgress is returned by Start while another run is active.
	ErrRunInProgress = errors.New("a search is already running")
	// ErrEmptyQuery is returned by Start for a blank query.
	ErrEmptyQuery = errors.New("query is required")
)

// Runner owns the single background run behind the HTTP server.
type Runner struct {
	coord *pipeline.Coordinator
	ctx   context.Context
	log   *zap.SugaredLogger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	last    pipeline.Summary
	lastErr error
}

// NewRunner returns a Runner whose runs inherit ctx.
func NewRunner(ctx context.Context, coord *pipeline.Coordinator) *Runner {
	done := make(chan struct{})
	close(done)
	return &Runner{
		coord: coord,
		ctx:   ctx,
		log:   logger.ComponentLogger("runner"),
		done:  done,
	}
}

// Tracker returns the progress of the current or most recent run.
func (r *Runner) Tracker() *progress.Tracker { return r.coord.Tracker() }

// Start launches a run in the background.
func (r *Runner) Start(query string, limit int) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrEmptyQuery
	}
	if limit <= 0 {
		return errors.Newf("limit must be positive, got %d", limit)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRunInProgress
	}
	r.running = true
	done := make(chan struct{})
	r.done = done
	// Stop may arrive before the goroutine reaches Run.
	r.coord.Tracker().Arm()

	go func() {
		summary, err := r.coord.Run(r.ctx, query, limit)
		if err != nil {
			r.log.Warnw("Background run failed", logger.FieldQuery, query, logger.FieldError, err)
		}
		r.mu.Lock()
		r.running = false
		r.last, r.lastErr = summary, err
		r.mu.Unlock()
		close(done)
	}()
	return nil
}

// Stop requests cooperative cancellation. It reports whether a run was active.
func (r *Runner) Stop() bool {
	return r.coord.Tracker().RequestCancel()
}

// Running reports whether a run is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Wait blocks until the current run finishes or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Last returns the outcome of the most recent finished run.
func (r *Runner) Last() (pipeline.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.lastErr
}
