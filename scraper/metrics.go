package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	PagesTotal        *prometheus.CounterVec
	ProductsTotal     prometheus.Counter
	DuplicatesTotal   prometheus.Counter
	InvalidTotal      prometheus.Counter
	TerminationsTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper, by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of page-level errors by type.",
		},
		[]string{"error_type"},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Listing pages fetched, by how their URL was discovered.",
		},
		[]string{"source"},
	)
	products := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_products_emitted_total",
			Help: "Total number of products written to the sink.",
		},
	)
	duplicates := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_duplicates_skipped_total",
			Help: "Total number of products skipped as duplicates.",
		},
	)
	invalid := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_invalid_dropped_total",
			Help: "Total number of product candidates dropped for a missing product URL.",
		},
	)
	terminations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_runs_total",
			Help: "Completed runs by termination reason.",
		},
		[]string{"reason"},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal, pages, products, duplicates, invalid, terminations)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		PagesTotal:        pages,
		ProductsTotal:     products,
		DuplicatesTotal:   duplicates,
		InvalidTotal:      invalid,
		TerminationsTotal: terminations,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncPage counts a fetched listing page.
func (m *Metrics) IncPage(source string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(source).Inc()
}

// AddOutcome records what the pipeline did with one page of records.
func (m *Metrics) AddOutcome(accepted, duplicates, invalid int) {
	if m == nil {
		return
	}
	m.ProductsTotal.Add(float64(accepted))
	m.DuplicatesTotal.Add(float64(duplicates))
	m.InvalidTotal.Add(float64(invalid))
}

// IncTermination counts a finished run.
func (m *Metrics) IncTermination(reason string) {
	if m == nil {
		return
	}
	m.TerminationsTotal.WithLabelValues(reason).Inc()
}
