// Package pipeline drives one search run: batched discovery, bounded parallel email
// extraction, deduplicating merge and export.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eloisaabril01/emailscrap/internal/export"
	"github.com/eloisaabril01/emailscrap/internal/extract"
	"github.com/eloisaabril01/emailscrap/internal/listing"
	"github.com/eloisaabril01/emailscrap/internal/logger"
	"github.com/eloisaabril01/emailscrap/internal/progress"
	"github.com/eloisaabril01/emailscrap/internal/redact"
	"github.com/eloisaabril01/emailscrap/internal/shown"
	"github.com/eloisaabril01/emailscrap/pkg/pipeline/worker"
)

type Options struct {
	BatchSize       int
	Workers         int
	MaxEmptyBatches int
	MaxScans        int
	RequestTimeout  time.Duration
	RetryDelay      time.Duration
	MaxRetries      int
	RateLimitRPS    float64
	ExcludeHosts    []string
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 5
	}
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.MaxEmptyBatches <= 0 {
		o.MaxEmptyBatches = 5
	}
	if o.MaxScans <= 0 {
		o.MaxScans = 200
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 3 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 300 * time.Millisecond
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	return o
}

// Exporter persists a run's results.
type Exporter interface {
	Append(ctx context.Context, query string, results []listing.VerifiedResult) (export.Destination, int, error)
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Sources   listing.SourceFactory
	Extractor extract.Extractor
	Store     shown.Store
	Sink      Exporter
	Tracker   *progress.Tracker
	Logger    *zap.SugaredLogger
}

// Summary is the outcome of one run.
type Summary struct {
	RunID       string
	Query       string
	Results     []listing.VerifiedResult
	Destination export.Destination
	Exported    int
	Cancelled   bool
	ExportErr   error
}

// Coordinator runs searches one at a time against a shared Tracker.
type Coordinator struct {
	deps Deps
	opts Options
	log  *zap.SugaredLogger
}

// New returns a Coordinator. A nil Tracker gets a private one.
func New(deps Deps, opts Options) *Coordinator {
	if deps.Tracker == nil {
		deps.Tracker = progress.NewTracker()
	}
	return &Coordinator{
		deps: deps,
		opts: opts.withDefaults(),
		log:  logger.OrDefault(deps.Logger, "pipeline"),
	}
}

// Tracker returns the state shared with reporters.
func (c *Coordinator) Tracker() *progress.Tracker { return c.deps.Tracker }

// run holds the mutable state of one Run call. It is only touched by the coordinator
// goroutine and the pool's result callback, which never run concurrently.
type run struct {
	id     string
	query  string
	target int
	log    *zap.SugaredLogger

	shown   shown.Set
	seen    map[string]struct{}
	merged  map[string]struct{}
	results []listing.VerifiedResult
}

// Run searches for up to target businesses with verified emails and exports them.
//
// Cancellation through the Tracker or ctx ends the run early; results merged so far
// are still exported. A corrupt shown record fails the run before discovery starts.
//
// Callers that start Run on another goroutine should Arm the Tracker first so a stop
// requested before Run begins is not lost.
func (c *Coordinator) Run(ctx context.Context, query string, target int) (Summary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Summary{}, errors.New("empty query")
	}
	if target <= 0 {
		return Summary{}, errors.Newf("target must be positive, got %d", target)
	}

	r := &run{
		id:     uuid.NewString(),
		query:  query,
		target: target,
		seen:   make(map[string]struct{}),
		merged: make(map[string]struct{}),
	}
	r.log = c.log.With(logger.FieldRunID, r.id, logger.FieldQuery, query)
	ctx = WithRunID(ctx, r.id)
	tr := c.deps.Tracker
	if !tr.Armed() {
		tr.Arm()
	}
	tr.Begin(r.id, query, target)
	start := time.Now()
	r.log.Infow("Run started", logger.FieldTarget, target)

	summary := Summary{RunID: r.id, Query: query}

	set, err := shown.LoadSet(ctx, c.deps.Store, query)
	if err != nil {
		return summary, c.fail(r, errors.Wrap(err, "load shown record"))
	}
	r.shown = set

	src, err := c.deps.Sources.Open(ctx, query)
	if err != nil {
		return summary, c.fail(r, errors.Wrap(err, "open listing source"))
	}

	c.discover(ctx, r, src)

	summary.Results = r.results
	summary.Cancelled = c.cancelled(ctx)
	c.finalize(ctx, r, &summary)

	r.log.Infow("Run finished",
		logger.FieldCount, len(r.results),
		logger.FieldPhase, tr.Snapshot().Phase,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return summary, nil
}

func (c *Coordinator) fail(r *run, err error) error {
	r.log.Errorw("Run failed", logger.FieldError, err)
	c.deps.Tracker.Finish(progress.PhaseFailed, "Error: "+redact.Secrets(err.Error()), "")
	return err
}

func (c *Coordinator) cancelled(ctx context.Context) bool {
	return c.deps.Tracker.Cancelled() || ctx.Err() != nil
}

// discover alternates Discovering and ExtractingBatch until the target is met, the
// source runs dry, the scan budget is spent or the run is cancelled.
func (c *Coordinator) discover(ctx context.Context, r *run, src listing.Source) {
	tr := c.deps.Tracker
	emptyBatches := 0
	for scans := 0; len(r.results) < r.target; {
		if c.cancelled(ctx) {
			return
		}
		if scans >= c.opts.MaxScans {
			r.log.Infow("Scan budget spent", "scans", scans)
			return
		}

		if scans == 0 {
			tr.SetPhaseStatus(progress.PhaseDiscovering, "Searching for "+r.query+"...")
		} else {
			tr.SetPhaseStatus(progress.PhaseDiscovering,
				fmt.Sprintf("Found %d/%d, getting next batch...", len(r.results), r.target))
		}
		batch, exhausted, err := c.nextBatch(ctx, src)
		scans++
		if err != nil {
			if !c.cancelled(ctx) {
				r.log.Warnw("Discovery failed, finishing with results so far", logger.FieldError, err)
			}
			return
		}

		if len(batch) == 0 {
			emptyBatches++
			if exhausted || emptyBatches >= c.opts.MaxEmptyBatches {
				r.log.Infow("Discovery exhausted", "empty_batches", emptyBatches, "source_exhausted", exhausted)
				return
			}
			continue
		}
		emptyBatches = 0

		tr.SetStatus(fmt.Sprintf("Processing batch of %d businesses...", len(batch)))
		candidates := c.candidates(r, batch)
		if len(candidates) > 0 {
			if c.cancelled(ctx) {
				return
			}
			c.extractBatch(ctx, r, candidates)
		}
		if exhausted {
			return
		}
	}
}

// nextBatch retries a transient discovery failure once, unless the error caps its
// own retries lower.
func (c *Coordinator) nextBatch(ctx context.Context, src listing.Source) ([]listing.Listing, bool, error) {
	batch, exhausted, err := src.NextBatch(ctx, c.opts.BatchSize)
	if err == nil || !worker.IsTransient(err) || worker.MaxExtraRetries(1, err) == 0 {
		return batch, exhausted, err
	}
	t := time.NewTimer(c.opts.RetryDelay)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
		return nil, false, ctx.Err()
	}
	return src.NextBatch(ctx, c.opts.BatchSize)
}

// candidates drops listings without a usable website and identities already seen in
// this run or shown in earlier runs.
func (c *Coordinator) candidates(r *run, batch []listing.Listing) []listing.Listing {
	out := make([]listing.Listing, 0, len(batch))
	for _, l := range batch {
		if !l.HasWebsite() || c.excluded(l.Website) {
			continue
		}
		id := l.Identity()
		if _, dup := r.seen[id]; dup || r.shown.Has(id) {
			continue
		}
		r.seen[id] = struct{}{}
		out = append(out, l)
	}
	return out
}

func (c *Coordinator) excluded(website string) bool {
	if len(c.opts.ExcludeHosts) == 0 {
		return false
	}
	host := ""
	if u, err := url.Parse(strings.TrimSpace(website)); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	for _, ex := range c.opts.ExcludeHosts {
		ex = strings.ToLower(strings.TrimSpace(ex))
		if ex == "" {
			continue
		}
		if host == "" {
			if strings.Contains(strings.ToLower(website), ex) {
				return true
			}
			continue
		}
		if host == ex || strings.HasSuffix(host, "."+ex) {
			return true
		}
	}
	return false
}

func (c *Coordinator) extractBatch(ctx context.Context, r *run, candidates []listing.Listing) {
	tr := c.deps.Tracker
	tr.SetPhaseStatus(progress.PhaseExtractingBatch,
		fmt.Sprintf("Extracting emails from %d websites...", len(candidates)))
	r.log.Debugw("Extracting batch", logger.FieldBatchSize, len(candidates))

	_, err := worker.ProcessAllWithCallback(
		ctx,
		candidates,
		func(ctx context.Context, l listing.Listing) ([]string, error) {
			return c.deps.Extractor.Extract(ctx, l.Website)
		},
		func(res worker.Result[listing.Listing, []string]) error {
			return c.merge(ctx, r, res)
		},
		worker.Options{
			Workers:           c.opts.Workers,
			MaxRetries:        c.opts.MaxRetries,
			RequestTimeout:    c.opts.RequestTimeout,
			RateLimitRPS:      c.opts.RateLimitRPS,
			BackoffInitial:    c.opts.RetryDelay,
			BackoffMax:        c.opts.RetryDelay,
			BackoffJitterFrac: -1,
		},
	)
	if err != nil && !c.cancelled(ctx) {
		r.log.Warnw("Batch ended early", logger.FieldError, err)
	}
}

// merge folds one completed extraction into the run.
func (c *Coordinator) merge(ctx context.Context, r *run, res worker.Result[listing.Listing, []string]) error {
	if c.cancelled(ctx) {
		return worker.ErrStop
	}
	l := res.Input
	if res.Err != nil {
		r.log.Debugw("Extraction failed, treating as no emails",
			logger.FieldURL, redact.Secrets(l.Website),
			logger.FieldError, res.Err,
		)
		return nil
	}
	emails := extract.Verified(res.Output)
	if len(emails) == 0 {
		return nil
	}

	tr := c.deps.Tracker
	tr.SetPhase(progress.PhaseMerging)
	id := l.Identity()
	if _, dup := r.merged[id]; dup {
		return nil
	}
	r.merged[id] = struct{}{}
	result := listing.NewVerifiedResult(l, emails)
	r.results = append(r.results, result)

	if err := c.deps.Store.MarkShown(context.WithoutCancel(ctx), id, r.query); err != nil {
		r.log.Errorw("Failed to record shown business", logger.FieldBusiness, id, logger.FieldError, err)
	}
	tr.AddResult(result)
	tr.SetProgress(len(r.results), fmt.Sprintf("%d/%d businesses with verified emails", len(r.results), r.target))
	r.log.Infow("Verified business",
		logger.FieldBusiness, l.Name,
		logger.FieldCount, len(emails),
		logger.FieldTotalCount, len(r.results),
	)

	if len(r.results) >= r.target {
		return worker.ErrStop
	}
	return nil
}

// finalize exports the run's results and settles the terminal phase.
func (c *Coordinator) finalize(ctx context.Context, r *run, summary *Summary) {
	tr := c.deps.Tracker
	tr.SetPhaseStatus(progress.PhaseFinalizing, "Saving results...")

	n := len(r.results)
	prefix, phase := "Complete!", progress.PhaseCompleted
	if summary.Cancelled {
		prefix, phase = "Stopped.", progress.PhaseCancelled
	}

	if n == 0 {
		tr.Finish(phase, fmt.Sprintf("%s Found 0 verified results", prefix), "")
		return
	}

	dest, exported, err := c.deps.Sink.Append(context.WithoutCancel(ctx), r.query, r.results)
	summary.Destination = dest
	summary.Exported = exported
	if err != nil {
		summary.ExportErr = err
		r.log.Errorw("Export failed", logger.FieldFile, dest.Filename, logger.FieldError, err)
		tr.Finish(phase, fmt.Sprintf("%s Found %d results (export failed: %s)", prefix, n, redact.Secrets(err.Error())), "")
		return
	}
	tr.Finish(phase, fmt.Sprintf("%s Saved %d results to %s", prefix, n, dest.Filename), dest.Filename)
}
