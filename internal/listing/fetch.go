package listing

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/partwise/pricing-cli/internal/resilience"
)

// maxPageBytes bounds how much of a product page is read.
const maxPageBytes = 4 << 20

// Fetcher retrieves product page markup.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success the rate grows 20% (up to 2x initial); on a throttle signal it
// halves (down to initial/4).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
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
	a.setLocked(min(a.currentRate*1.2, a.maxRate))
}

// OnRateLimit halves the rate, down to initial/4.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setLocked(max(a.currentRate*0.5, a.minRate))
}

func (a *AdaptiveLimiter) setLocked(r rate.Limit) {
	a.currentRate = r
	a.limiter.SetLimit(r)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	// RequestsPerSecond is the starting per-host rate. Default: 0.5.
	RequestsPerSecond float64
	// DefaultBackoff is used when a throttle response carries no Retry-After.
	DefaultBackoff time.Duration
}

// HTTPFetcher fetches product pages directly with per-host adaptive rate
// limiting and block detection. It never retries; a failure is reported to
// the caller, which moves on to another source.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter

	nowFunc func() time.Time
}

// NewHTTPFetcher creates an HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = "de-DE,de;q=0.9,en;q=0.8"
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 0.5
	}
	if opts.DefaultBackoff <= 0 {
		opts.DefaultBackoff = 30 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
		nowFunc:  time.Now,
	}
}

func (f *HTTPFetcher) limiterFor(rawURL string) *AdaptiveLimiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(rate.Limit(f.opts.RequestsPerSecond), 1)
		f.limiters[host] = lim
	}
	return lim
}

// Fetch returns the body of a product page. Throttle and challenge
// responses become *resilience.RateLimitError, server errors become
// *resilience.TransientError and 404/410 become ErrNotFound.
func (f *HTTPFetcher) Fetch(ctx context.Context, targetURL string) ([]byte, error) {
	lim := f.limiterFor(targetURL)
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "marketplace: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "marketplace: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", f.opts.AcceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "marketplace: fetch"), 0)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "marketplace: read body"), resp.StatusCode)
	}

	if blocked, kind := DetectBlock(resp, body); blocked {
		lim.OnRateLimit()
		retryAfter := resilience.ParseRetryAfter(resp.Header, f.nowFunc())
		if retryAfter == 0 {
			retryAfter = f.opts.DefaultBackoff
		}
		zap.L().Warn("marketplace: blocked, slowing down",
			zap.String("url", targetURL),
			zap.String("block", string(kind)),
			zap.Int("status", resp.StatusCode),
			zap.Float64("new_rate", float64(lim.Limit())),
		)
		return nil, &resilience.RateLimitError{
			Source:     "marketplace",
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Reason:     string(kind),
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, eris.Wrapf(ErrNotFound, "marketplace: status %d", resp.StatusCode)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(eris.Errorf("marketplace: status %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, eris.Errorf("marketplace: status %d", resp.StatusCode)
	}

	if len(body) < 512 {
		return nil, eris.New("marketplace: empty page")
	}

	lim.OnSuccess()
	return body, nil
}
