// Package extract fetches business websites and pulls contact emails out of them.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/eloisaabril01/emailscrap/internal/redact"
	"github.com/eloisaabril01/emailscrap/pkg/pipeline/core"
)

var errTooManyRedirects = errors.New("too many redirects")

// Extractor returns the verified-candidate emails found at a website.
type Extractor interface {
	Extract(ctx context.Context, url string) ([]string, error)
}

type Options struct {
	UserAgent    string
	MaxRedirects int
	MaxBodyBytes int64

	// Timeout bounds a single fetch when the caller's context has no deadline.
	Timeout time.Duration

	// MaxRetryAfter is the longest Retry-After a throttled site may ask for and
	// still be retried. Longer waits fail the site after the current attempt.
	MaxRetryAfter time.Duration

	// Transport overrides the HTTP transport. Useful for testing.
	Transport http.RoundTripper
}

// HTTPExtractor fetches pages over HTTP with browser-like headers.
type HTTPExtractor struct {
	client        *http.Client
	userAgent     string
	maxBodyBytes  int64
	maxRetryAfter time.Duration
	now           func() time.Time
}

// FetchError is a sanitized summary of a failed website fetch.
type FetchError struct {
	URL        string
	StatusCode int
	Status     string

	// Snippet is a redacted, truncated hint of the response body.
	Snippet string
}

func (e *FetchError) Error() string {
	if e == nil {
		return "fetch error"
	}
	msg := fmt.Sprintf("fetch %s: status=%s", redact.Secrets(e.URL), strings.TrimSpace(e.Status))
	if e.Snippet != "" {
		msg += " body=" + e.Snippet
	}
	return msg
}

// New builds an HTTPExtractor.
func New(opts Options) *HTTPExtractor {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2 << 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.MaxRetryAfter <= 0 {
		opts.MaxRetryAfter = 5 * time.Second
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	}
	maxRedirects := opts.MaxRedirects
	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: opts.Transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.Wrapf(errTooManyRedirects, "stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return &HTTPExtractor{
		client:        client,
		userAgent:     opts.UserAgent,
		maxBodyBytes:  opts.MaxBodyBytes,
		maxRetryAfter: opts.MaxRetryAfter,
		now:           time.Now,
	}
}

// Extract fetches url and returns up to MaxEmails candidate emails.
//
// Network failures, 429 and 5xx responses are returned as core.TransientError. A
// Retry-After longer than MaxRetryAfter yields core.LimitedTransientError with no
// extra retries. Any other response body is scanned regardless of status.
func (e *HTTPExtractor) Extract(ctx context.Context, url string) ([]string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "build request for %s", redact.Secrets(url))
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &core.TransientError{Err: errors.Wrap(err, "read body")}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		fe := &FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Snippet:    snippet(body),
		}
		if wait, ok := retryAfter(resp.Header.Get("Retry-After"), e.now()); ok && wait > e.maxRetryAfter {
			return nil, &core.LimitedTransientError{Err: fe, ExtraRetries: 0}
		}
		return nil, &core.TransientError{Err: fe}
	}

	return ExtractFromText(string(body)), nil
}

// classifyErr marks client failures retryable, except redirect loops and bad schemes.
func classifyErr(err error) error {
	if errors.Is(err, errTooManyRedirects) || strings.Contains(err.Error(), "unsupported protocol scheme") {
		return err
	}
	return &core.TransientError{Err: err}
}

// retryAfter parses a Retry-After value given either as delay-seconds or an HTTP date.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	return t.Sub(now), true
}

func snippet(body []byte) string {
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Truncate(redact.Secrets(string(b)), max)
	if len(body) > max && !strings.HasSuffix(s, "...") {
		s += "..."
	}
	return s
}
