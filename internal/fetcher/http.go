package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/metrics"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/resilience"
)

// maxBodyBytes bounds a single page body. A 5000-row page is a few MB.
const maxBodyBytes = 64 << 20

// redactedParams are query parameters never written to logs or errors.
var redactedParams = []string{"api-key", "api_key"}

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Retry     resilience.RetryConfig

	// AdaptiveLimiters maps host to limiter. Nil uses DefaultAdaptiveLimiters.
	// Hosts without an entry are not rate limited.
	AdaptiveLimiters map[string]*AdaptiveLimiter
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// DefaultAdaptiveLimiters returns adaptive rate limiters for known hosts.
func DefaultAdaptiveLimiters() map[string]*AdaptiveLimiter {
	return map[string]*AdaptiveLimiter{
		"api.data.gov.in": NewAdaptiveLimiter(5, 5),
	}
}

// HTTPFetcher implements Fetcher using net/http with retry and rate limiting.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "awaaz-e-punjab/1.0"
	}
	limiters := opts.AdaptiveLimiters
	if limiters == nil {
		limiters = DefaultAdaptiveLimiters()
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: limiters,
	}
}

func (f *HTTPFetcher) limiterFor(u *url.URL) *AdaptiveLimiter {
	return f.limiters[u.Host]
}

// GetJSON issues GET rawURL, retrying every transport error, non-2xx status
// and undecodable body under the configured retry budget. When the budget is
// spent it returns a *FetchExhaustedError carrying the last failure.
func (f *HTTPFetcher) GetJSON(ctx context.Context, rawURL string, v any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrapf(err, "fetcher: parse url %s", RedactURL(rawURL))
	}
	safeURL := RedactURL(rawURL)

	target := reflect.ValueOf(v)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return eris.Errorf("fetcher: decode target for %s must be a non-nil pointer, got %T", safeURL, v)
	}

	cfg := f.opts.Retry
	if cfg.OnRetry == nil {
		logRetry := resilience.RetryLogger("fetcher", "get_json")
		cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
			metrics.FetchAttempts.WithLabelValues("retry").Inc()
			logRetry(attempt, err, delay)
		}
	}

	attempts := 0
	var decoded reflect.Value
	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		attempts++
		data, err := f.doOnce(ctx, u, safeURL)
		if err != nil {
			return nil, err
		}
		// Each attempt decodes into its own value; v is written only once an
		// attempt has fully succeeded.
		fresh := reflect.New(target.Elem().Type())
		if err := DecodeJSON(data, fresh.Interface()); err != nil {
			return nil, err
		}
		decoded = fresh
		return data, nil
	})
	if err == nil {
		target.Elem().Set(decoded.Elem())
		metrics.FetchAttempts.WithLabelValues("success").Inc()
		zap.L().Debug("fetcher: page fetched",
			zap.String("url", safeURL),
			zap.Int("attempts", attempts),
			zap.Int("bytes", len(body)),
		)
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return eris.Wrapf(ctxErr, "fetcher: get %s", safeURL)
	}

	metrics.FetchAttempts.WithLabelValues("exhausted").Inc()
	zap.L().Error("fetcher: retry budget exhausted",
		zap.String("url", safeURL),
		zap.Int("attempts", attempts),
		zap.Int("last_status", resilience.StatusCode(err)),
		zap.Error(err),
	)
	return &FetchExhaustedError{URL: safeURL, Attempts: attempts, Err: err}
}

// doOnce performs a single rate-limited GET and returns the raw body.
func (f *HTTPFetcher) doOnce(ctx context.Context, u *url.URL, safeURL string) ([]byte, error) {
	limiter := f.limiterFor(u)
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(redactError(err), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests && limiter != nil {
		limiter.OnRateLimit()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resilience.NewStatusError(resp.StatusCode, safeURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(redactError(err), "read body"), resp.StatusCode)
	}

	if limiter != nil {
		limiter.OnSuccess()
	}
	return data, nil
}

// RedactURL masks credential query parameters so the URL can be logged.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	changed := false
	for _, p := range redactedParams {
		if q.Has(p) {
			q.Set(p, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// redactError strips credentials from the URL embedded in net/http errors.
func redactError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &url.Error{Op: urlErr.Op, URL: RedactURL(urlErr.URL), Err: urlErr.Err}
	}
	return err
}
