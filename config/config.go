package config

import (
	"fmt"
	"net/url"
	"time"
)

// FailurePolicy decides what a page-level fetch failure does to the run.
type FailurePolicy string

const (
	// PolicyAbort stops the run on the failing page.
	PolicyAbort FailurePolicy = "abort"
	// PolicySkip records the failure and moves on to the next page.
	PolicySkip FailurePolicy = "skip"
)

// DefaultUserAgent identifies the tool to shop operators.
const DefaultUserAgent = "go-scrape-shop/1.0 (+https://github.com/aluiziolira/go-scrape-shop)"

// Config holds scraper configuration.
type Config struct {
	TargetURL        string        `mapstructure:"url"`
	MaxPages         int           `mapstructure:"max_pages"`
	RequestDelay     time.Duration `mapstructure:"delay"`
	RandomDelay      time.Duration `mapstructure:"random_delay"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax  time.Duration `mapstructure:"retry_backoff_max"`
	FirstPageFailure FailurePolicy `mapstructure:"first_page_failure"`
	LaterPageFailure FailurePolicy `mapstructure:"later_page_failure"`
	InferPagination  bool          `mapstructure:"infer_pagination"`
	FetchDetails     bool          `mapstructure:"fetch_details"`
	DedupeMaxSize    int           `mapstructure:"dedupe_max_size"`
	OutputFile       string        `mapstructure:"output"`
	OutputFormat     string        `mapstructure:"format"` // csv, json, or dual
	UserAgent        string        `mapstructure:"user_agent"`
	Verbose          bool          `mapstructure:"verbose"`
	RespectRobotsTxt bool          `mapstructure:"respect_robots"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
}

// DefaultConfig returns polite defaults for an unknown shop.
func DefaultConfig() *Config {
	return &Config{
		MaxPages:         200,
		RequestDelay:     1500 * time.Millisecond,
		RandomDelay:      0,
		Timeout:          10 * time.Second,
		MaxAttempts:      3,
		RetryBackoff:     time.Second,
		RetryBackoffMax:  8 * time.Second,
		FirstPageFailure: PolicyAbort,
		LaterPageFailure: PolicySkip,
		InferPagination:  true,
		FetchDetails:     false,
		DedupeMaxSize:    1_000_000,
		OutputFile:       "products.csv",
		OutputFormat:     "csv",
		UserAgent:        DefaultUserAgent,
		Verbose:          false,
		RespectRobotsTxt: false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.TargetURL == "" {
		return fmt.Errorf("target URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.TargetURL)
	if err != nil {
		return fmt.Errorf("invalid target URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("target URL must use http or https")
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("target URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.RequestDelay < 0 {
		return fmt.Errorf("request delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if !validPolicy(c.FirstPageFailure) {
		return fmt.Errorf("first page failure policy must be abort or skip")
	}
	if !validPolicy(c.LaterPageFailure) {
		return fmt.Errorf("later page failure policy must be abort or skip")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// PolicyFor returns the failure policy that applies to the given page number.
func (c *Config) PolicyFor(page int) FailurePolicy {
	if page <= 1 {
		return c.FirstPageFailure
	}
	return c.LaterPageFailure
}

func validPolicy(p FailurePolicy) bool {
	return p == PolicyAbort || p == PolicySkip
}
