// Package models defines data structures for the scraper.
package models

import (
	"strings"
	"time"
)

// CategorySeparator joins categories into the single tabular column.
const CategorySeparator = ", "

// ProductRecord represents one product extracted from a listing page.
type ProductRecord struct {
	Name        string   `csv:"name" json:"name"`
	Price       string   `csv:"price" json:"price"`
	Categories  []string `csv:"categories" json:"categories"`
	Description string   `csv:"description" json:"description"`
	ImageURL    string   `csv:"image_url" json:"image_url"`
	ProductURL  string   `csv:"product_url" json:"product_url"`
}

// CategoriesString renders the categories as one delimited value.
func (p *ProductRecord) CategoriesString() string {
	return strings.Join(p.Categories, CategorySeparator)
}

// TerminationReason explains why a run stopped.
type TerminationReason int

const (
	ReasonUnknown TerminationReason = iota
	ReasonNoMorePages
	ReasonZeroProductsOnFirstPage
	ReasonFatalFetchError
	ReasonPageLimitReached
	ReasonCancelled
	ReasonSinkFailure
)

func (r TerminationReason) String() string {
	switch r {
	case ReasonNoMorePages:
		return "no_more_pages"
	case ReasonZeroProductsOnFirstPage:
		return "zero_products_on_first_page"
	case ReasonFatalFetchError:
		return "fatal_fetch_error"
	case ReasonPageLimitReached:
		return "page_limit_reached"
	case ReasonCancelled:
		return "cancelled"
	case ReasonSinkFailure:
		return "sink_failure"
	default:
		return "unknown"
	}
}

// Fatal reports whether the reason should be surfaced as a failed run.
func (r TerminationReason) Fatal() bool {
	return r == ReasonFatalFetchError || r == ReasonSinkFailure
}

// PageError describes a page-level failure recorded during a run.
type PageError struct {
	URL        string `json:"url"`
	Page       int    `json:"page"`
	Kind       string `json:"kind"`
	StatusCode int    `json:"status_code,omitempty"`
	Attempts   int    `json:"attempts"`
	Message    string `json:"message"`
}

// RunSummary holds the overall result of a scraping run.
type RunSummary struct {
	RunID             string
	TargetURL         string
	StartTime         time.Time
	EndTime           time.Time
	PagesVisited      int
	ProductsFound     int
	DuplicatesSkipped int
	InvalidDropped    int
	RequestCount      int
	RetryCount        int
	Errors            []PageError
	Reason            TerminationReason
}

// Duration returns the wall time of the run.
func (s *RunSummary) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}
