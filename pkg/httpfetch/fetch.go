// Package httpfetch implements §4.D's download contract: a pooled HTTP
// client with bounded retries, exponential backoff with jitter, GitHub
// token discovery scoped to github.com, and resumable range downloads.
// Grounded on flavor-go's logging conventions and on the retry/backoff
// shape the pack's registry clients (e.g. stacktower's integrations
// client) build around net/http, reworked here on top of
// golang.org/x/time/rate for pacing instead of a bespoke sleep loop.
package httpfetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/x509roots/fallback"
	"golang.org/x/time/rate"

	"github.com/spinel-coop/rv/pkg/rverrors"
)

const (
	userAgentPrefix = "rv/"
	maxRedirects    = 10
	maxAttempts     = 5
	attemptTimeout  = 5 * time.Minute
)

// Fetcher performs authenticated, retried HTTP downloads.
type Fetcher struct {
	client    *http.Client
	logger    hclog.Logger
	userAgent string
	limiter   *rate.Limiter
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(l hclog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithRateLimit caps the number of requests issued per second, used to
// throttle concurrent downloads so a worker-pool install doesn't hammer
// a single origin.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(f *Fetcher) { f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// New constructs a Fetcher. version is rv's own release version, used in
// the User-Agent string.
func New(version string, opts ...Option) *Fetcher {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     &tls.Config{RootCAs: fallback.Roots},
	}
	f := &Fetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
			Timeout: 0, // Get wraps each attempt in its own attemptTimeout context
		},
		logger:    hclog.NewNullLogger(),
		userAgent: userAgentPrefix + version,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// githubToken returns a token for requests bound to github.com or
// api.github.com, preferring GITHUB_TOKEN then GH_TOKEN. It never
// applies to other hosts, so a token never leaks to a third-party mirror.
func githubToken() string {
	if t := os.Getenv("GITHUB_TOKEN"); t != "" {
		return t
	}
	return os.Getenv("GH_TOKEN")
}

func isGitHubHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Host == "github.com" || u.Host == "api.github.com"
}

// Get downloads rawURL into dest, resuming a partial file if one exists
// and the server honors Range requests, retrying transient failures with
// exponential backoff and jitter up to maxAttempts times.
func (f *Fetcher) Get(ctx context.Context, rawURL, dest string) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		err := f.attempt(attemptCtx, rawURL, dest)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		var retryAfter time.Duration
		if re, ok := err.(*retryableError); ok {
			retryAfter = re.retryAfter
		} else {
			return rverrors.NetworkFailure(rawURL, 0, attempt, err)
		}

		if attempt == maxAttempts {
			break
		}
		wait := retryAfter
		if wait == 0 {
			wait = backoff(attempt)
		}
		f.logger.Debug("retrying download", "url", rawURL, "attempt", attempt, "wait", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return rverrors.NetworkFailure(rawURL, 0, maxAttempts, lastErr)
}

type retryableError struct {
	status     int
	retryAfter time.Duration
	cause      error
}

func (e *retryableError) Error() string { return e.cause.Error() }
func (e *retryableError) Unwrap() error { return e.cause }

func backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base + jitter
}

func (f *Fetcher) attempt(ctx context.Context, rawURL, dest string) error {
	var resumeFrom int64
	if info, err := os.Stat(dest + ".part"); err == nil {
		resumeFrom = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", f.userAgent)
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}
	if isGitHubHost(rawURL) {
		if tok := githubToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return &retryableError{cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// The partial file no longer matches the remote object; drop it
		// and let the caller re-attempt from zero.
		os.Remove(dest + ".part")
		return &retryableError{status: resp.StatusCode, cause: fmt.Errorf("range not satisfiable, restarting")}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &retryableError{status: resp.StatusCode, retryAfter: wait, cause: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusPartialContent, resp.StatusCode == http.StatusOK:
		// proceed
	default:
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(dest+".part", flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return &retryableError{cause: err}
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(dest+".part", dest)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}
