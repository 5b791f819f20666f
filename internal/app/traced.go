package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eloisaabril01/emailscrap/internal/extract"
	"github.com/eloisaabril01/emailscrap/internal/logger"
	"github.com/eloisaabril01/emailscrap/internal/pipeline"
	"github.com/eloisaabril01/emailscrap/internal/redact"
	"github.com/eloisaabril01/emailscrap/pkg/pipeline/worker"
)

// tracedExtractor logs every extraction attempt with its outcome and whether the pool
// will retry it.
//
// Attempt counts live only while a URL may still be retried, and only for the run
// named by the context; a new run ID drops the previous run's counts.
type tracedExtractor struct {
	next           extract.Extractor
	log            *zap.SugaredLogger
	maxRetries     int
	requestTimeout time.Duration

	mu       sync.Mutex
	runID    string
	attempts map[string]int
}

func newTracedExtractor(next extract.Extractor, log *zap.SugaredLogger, maxRetries int, requestTimeout time.Duration) *tracedExtractor {
	return &tracedExtractor{
		next:           next,
		log:            log,
		maxRetries:     maxRetries,
		requestTimeout: requestTimeout,
		attempts:       make(map[string]int),
	}
}

func (t *tracedExtractor) Extract(ctx context.Context, url string) ([]string, error) {
	url = strings.TrimSpace(url)
	runID := pipeline.RunIDFromContext(ctx)
	attempt := t.nextAttempt(runID, url)
	safeURL := redact.Secrets(url)

	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	t.log.Debugw("Extract request",
		logger.FieldRunID, runID,
		logger.FieldURL, safeURL,
		logger.FieldAttempt, attempt,
		"timeout", t.requestTimeout,
		"deadline_in", deadlineIn,
	)

	start := time.Now()
	emails, err := t.next.Extract(ctx, url)
	elapsed := time.Since(start)

	if err != nil {
		retryable := worker.IsTransient(err)
		willRetry := retryable && attempt <= worker.MaxExtraRetries(t.maxRetries, err)
		if !willRetry {
			t.done(runID, url)
		}
		t.log.Debugw("Extract response",
			logger.FieldRunID, runID,
			logger.FieldURL, safeURL,
			logger.FieldAttempt, attempt,
			logger.FieldDurationMS, elapsed.Milliseconds(),
			logger.FieldStatus, "error",
			logger.FieldRetryable, retryable,
			"will_retry", willRetry,
			logger.FieldError, redact.Secrets(err.Error()),
		)
		return emails, err
	}

	t.done(runID, url)
	t.log.Debugw("Extract response",
		logger.FieldRunID, runID,
		logger.FieldURL, safeURL,
		logger.FieldAttempt, attempt,
		logger.FieldDurationMS, elapsed.Milliseconds(),
		logger.FieldStatus, "ok",
		logger.FieldCount, len(emails),
	)
	return emails, nil
}

func (t *tracedExtractor) nextAttempt(runID, url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if runID != t.runID {
		t.runID = runID
		clear(t.attempts)
	}
	t.attempts[url]++
	return t.attempts[url]
}

// done forgets url once the pool will not call it again in this run.
func (t *tracedExtractor) done(runID, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if runID == t.runID {
		delete(t.attempts, url)
	}
}
