package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/gocolly/colly/v2"
)

var (
	// ErrNonRetryable marks a fetch that failed without being retried.
	ErrNonRetryable = errors.New("non-retryable fetch failure")
	// ErrRetriesExhausted marks a fetch that failed on every allowed attempt.
	ErrRetriesExhausted = errors.New("fetch retries exhausted")
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrServer indicates a 5xx response.
type ErrServer struct {
	Err error
}

func (e ErrServer) Error() string {
	return fmt.Errorf("server_error: %w", e.Err).Error()
}

func (e ErrServer) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404 or 410).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrHTTPStatus indicates any other unexpected status code.
type ErrHTTPStatus struct {
	StatusCode int
	Err        error
}

func (e ErrHTTPStatus) Error() string {
	return fmt.Errorf("http_status %d: %w", e.StatusCode, e.Err).Error()
}

func (e ErrHTTPStatus) Unwrap() error {
	return e.Err
}

// FailureKind is the coarse category of a failed fetch.
type FailureKind int

const (
	KindTimeout FailureKind = iota + 1
	KindHTTPStatus
	KindConnection
)

func (k FailureKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http_status"
	case KindConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// FetchError is returned by Fetcher.Fetch once a URL is given up on. It
// matches ErrRetriesExhausted or ErrNonRetryable with errors.Is, and the
// classified cause of the last attempt with errors.As.
type FetchError struct {
	URL        string
	Kind       FailureKind
	StatusCode int
	Attempts   int
	Exhausted  bool
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error {
	sentinel := ErrNonRetryable
	if e.Exhausted {
		sentinel = ErrRetriesExhausted
	}
	return []error{sentinel, e.Err}
}

func newFetchError(rawURL string, cause error, statusCode, attempts int, exhausted bool) *FetchError {
	return &FetchError{
		URL:        rawURL,
		Kind:       failureKind(cause, statusCode),
		StatusCode: statusCode,
		Attempts:   attempts,
		Exhausted:  exhausted,
		Err:        cause,
	}
}

func failureKind(err error, statusCode int) FailureKind {
	var timeout ErrTimeout
	switch {
	case errors.As(err, &timeout):
		return KindTimeout
	case statusCode != 0:
		return KindHTTPStatus
	default:
		return KindConnection
	}
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var server ErrServer
	if errors.As(err, &server) {
		return "server_error"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var status ErrHTTPStatus
	if errors.As(err, &status) {
		return "http_status"
	}
	return "other"
}

// classifyError maps a transport error or response status to one of the
// typed errors above. A nil result means the attempt succeeded.
func classifyError(err error, statusCode int) error {
	if err == nil && (statusCode == 0 || isSuccess(statusCode)) {
		return nil
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout{Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrTimeout{Err: err}
		}
		if rejectedByCollector(err) {
			return err
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return ErrConnection{Err: err}
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return ErrConnection{Err: err}
		}
		if statusCode == 0 {
			return err
		}
	}

	wrapped := err
	if wrapped == nil {
		wrapped = fmt.Errorf("http status %d", statusCode)
	}
	switch {
	case statusCode == http.StatusForbidden:
		return ErrForbidden{Err: wrapped}
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return ErrNotFound{Err: wrapped}
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited{Err: wrapped}
	case statusCode >= http.StatusInternalServerError:
		return ErrServer{Err: wrapped}
	default:
		return ErrHTTPStatus{StatusCode: statusCode, Err: wrapped}
	}
}

// isRetryable reports whether a classified error may succeed on a later
// attempt.
func isRetryable(err error) bool {
	var (
		timeout     ErrTimeout
		conn        ErrConnection
		server      ErrServer
		rateLimited ErrRateLimited
	)
	return errors.As(err, &timeout) ||
		errors.As(err, &conn) ||
		errors.As(err, &server) ||
		errors.As(err, &rateLimited)
}

// rejectedByCollector reports errors raised by colly before any request was
// sent. They are deterministic, so retrying cannot help.
func rejectedByCollector(err error) bool {
	return errors.Is(err, colly.ErrForbiddenDomain) ||
		errors.Is(err, colly.ErrRobotsTxtBlocked) ||
		errors.Is(err, colly.ErrForbiddenURL) ||
		errors.Is(err, colly.ErrNoURLFiltersMatch) ||
		errors.Is(err, colly.ErrMissingURL)
}

func isSuccess(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}
