package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-shop/config"
)

const (
	ctxStartKey    = "start"
	ctxResponseKey = "response"

	acceptHTML     = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguage = "en-US,en;q=0.9"
)

// Page is a successfully fetched document.
type Page struct {
	URL        string
	FinalURL   string // after redirects
	StatusCode int
	Body       []byte
	Attempts   int
}

// Fetcher issues GET requests through a synchronous colly collector and
// retries transient failures with capped exponential backoff.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	metrics   *Metrics
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error

	requestCount atomic.Int64
	retryCount   atomic.Int64
}

// NewFetcher builds a fetcher limited to the target URL's host.
func NewFetcher(cfg *config.Config, metrics *Metrics, logger *slog.Logger) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("target url must include a host")
	}
	if logger == nil {
		logger = slog.Default()
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.AllowedDomains(allowedHosts(parsed.Hostname())...),
		colly.UserAgent(userAgent(cfg)),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(newDecodingTransport(defaultTransport(cfg.Timeout)))

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	f := &Fetcher{
		cfg:       cfg,
		collector: collector,
		metrics:   metrics,
		logger:    logger.With("component", "fetcher"),
		sleep:     sleepContext,
	}
	f.configureHandlers()
	return f, nil
}

// SetTransport replaces the HTTP transport, keeping Brotli decoding.
func (f *Fetcher) SetTransport(rt http.RoundTripper) {
	f.collector.WithTransport(newDecodingTransport(rt))
}

// RequestCount returns the number of requests sent, retries included.
func (f *Fetcher) RequestCount() int {
	return int(f.requestCount.Load())
}

// RetryCount returns the number of retries scheduled.
func (f *Fetcher) RetryCount() int {
	return int(f.retryCount.Load())
}

func (f *Fetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStartKey, time.Now())
		f.requestCount.Add(1)
	})

	f.collector.OnResponse(func(r *colly.Response) {
		if start, ok := r.Ctx.GetAny(ctxStartKey).(time.Time); ok {
			f.metrics.ObserveDuration(time.Since(start))
		}
		r.Ctx.Put(ctxResponseKey, r)
	})
}

// Fetch downloads rawURL. Every attempt first waits on throttle. Connection
// errors, timeouts, 5xx and 429 responses are retried up to MaxAttempts;
// other statuses fail at once. Failures are returned as *FetchError, except
// context cancellation which is returned wrapped as is.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, throttle *Throttle) (*Page, error) {
	maxAttempts := f.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		if err := throttle.Wait(ctx); err != nil {
			return nil, fmt.Errorf("fetch %s: throttle: %w", rawURL, err)
		}

		res := f.attempt(rawURL)
		cause := classifyError(res.err, res.statusCode)
		if cause == nil {
			f.metrics.IncRequest("success")
			f.logger.Debug("fetch complete",
				slog.String("url", rawURL),
				slog.Int("status", res.statusCode),
				slog.Int("attempt", attempt),
				slog.Int("bytes", len(res.body)),
			)
			return &Page{
				URL:        rawURL,
				FinalURL:   res.finalURL,
				StatusCode: res.statusCode,
				Body:       res.body,
				Attempts:   attempt,
			}, nil
		}

		f.metrics.IncRequest("error")
		retryable := isRetryable(cause)
		f.logger.Warn("fetch attempt failed",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Int("status", res.statusCode),
			slog.String("category", errorTypeLabel(cause)),
			slog.Bool("retryable", retryable),
			slog.Any("error", cause),
		)

		if !retryable {
			return nil, newFetchError(rawURL, cause, res.statusCode, attempt, false)
		}
		if attempt >= maxAttempts {
			return nil, newFetchError(rawURL, cause, res.statusCode, attempt, true)
		}

		delay := f.backoff(attempt)
		if res.statusCode == http.StatusTooManyRequests {
			delay = f.retryAfter(res.header.Get("Retry-After"), delay)
		}
		f.retryCount.Add(1)
		f.metrics.IncRetries()
		f.logger.Debug("retry scheduled",
			slog.String("url", rawURL),
			slog.Int("next_attempt", attempt+1),
			slog.Duration("delay", delay),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}
}

type attemptResult struct {
	statusCode int
	body       []byte
	header     http.Header
	finalURL   string
	err        error
}

func (f *Fetcher) attempt(rawURL string) attemptResult {
	cctx := colly.NewContext()
	err := f.collector.Request(http.MethodGet, rawURL, nil, cctx, f.headers())

	res := attemptResult{err: err, finalURL: rawURL, header: http.Header{}}
	if resp, ok := cctx.GetAny(ctxResponseKey).(*colly.Response); ok {
		res.statusCode = resp.StatusCode
		res.body = resp.Body
		if resp.Headers != nil {
			res.header = *resp.Headers
		}
		if resp.Request != nil && resp.Request.URL != nil {
			res.finalURL = resp.Request.URL.String()
		}
	}
	return res
}

// headers builds a fresh header set per request; colly hands the map to
// net/http as is.
func (f *Fetcher) headers() http.Header {
	return http.Header{
		"User-Agent":      []string{userAgent(f.cfg)},
		"Accept":          []string{acceptHTML},
		"Accept-Language": []string{acceptLanguage},
		"Accept-Encoding": []string{acceptEncoding},
	}
}

// backoff returns RetryBackoff doubled per failed attempt, capped at
// RetryBackoffMax.
func (f *Fetcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := f.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	limit := f.cfg.RetryBackoffMax

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if limit > 0 && delay >= limit {
			return limit
		}
	}
	if limit > 0 && delay > limit {
		delay = limit
	}
	return delay
}

// retryAfter prefers a server supplied Retry-After when it asks for a longer
// pause than fallback, still capped at RetryBackoffMax.
func (f *Fetcher) retryAfter(header string, fallback time.Duration) time.Duration {
	wait := parseRetryAfter(header)
	if wait <= fallback {
		return fallback
	}
	if limit := f.cfg.RetryBackoffMax; limit > 0 && wait > limit {
		return limit
	}
	return wait
}

// parseRetryAfter reads delay-seconds or HTTP-date values. Unparseable or
// missing values yield zero.
func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func userAgent(cfg *config.Config) string {
	if cfg.UserAgent == "" {
		return config.DefaultUserAgent
	}
	return cfg.UserAgent
}

// allowedHosts lists host together with its www/non-www counterpart.
func allowedHosts(host string) []string {
	host = strings.ToLower(host)
	if strings.HasPrefix(host, "www.") {
		return []string{host, strings.TrimPrefix(host, "www.")}
	}
	return []string{host, "www." + host}
}
