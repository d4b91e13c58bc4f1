package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-shop/models"
	"github.com/aluiziolira/go-scrape-shop/parser"
)

var (
	// ErrPipelineClosed is returned when Emit is called after Close.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// Sink receives accepted records, one call per record, in discovery order.
type Sink interface {
	Append(record *models.ProductRecord) error
}

// OutputWriter is a Sink backed by a file.
type OutputWriter interface {
	Sink
	Close() error
	Validate() error
}

// Enricher completes an admitted record before it reaches the sink. Errors
// are logged and the record is emitted as it is.
type Enricher interface {
	Enrich(ctx context.Context, record *models.ProductRecord) error
}

// Outcome counts what happened to one batch of records.
type Outcome struct {
	Accepted   int
	Duplicates int
	Invalid    int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEnricher sets the enricher applied to admitted records.
func WithEnricher(e Enricher) Option {
	return func(p *Pipeline) { p.enricher = e }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pipeline validates, de-duplicates and forwards records to a sink.
type Pipeline struct {
	sink     Sink
	dedupe   *Deduplicator
	enricher Enricher
	logger   *slog.Logger

	metrics metrics

	mu     sync.Mutex // guards closed
	closed bool
}

// NewPipeline builds a pipeline writing to sink.
func NewPipeline(sink Sink, dedupe *Deduplicator, opts ...Option) *Pipeline {
	p := &Pipeline{
		sink:    sink,
		dedupe:  dedupe,
		logger:  slog.Default(),
		metrics: newMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	return p
}

// Admit validates and de-duplicates records, keeping discovery order. The
// returned outcome has Accepted unset; Emit decides it.
func (p *Pipeline) Admit(records ...*models.ProductRecord) ([]*models.ProductRecord, Outcome) {
	var out Outcome
	admitted := make([]*models.ProductRecord, 0, len(records))
	for _, record := range records {
		if record == nil {
			continue
		}
		if err := parser.ValidateRecord(record); err != nil {
			out.Invalid++
			p.metrics.addValidation("invalid_record")
			p.logger.Debug("dropping invalid record", slog.String("error", err.Error()))
			continue
		}
		if !p.dedupe.Admit(record) {
			out.Duplicates++
			p.metrics.addValidation("duplicate_url")
			p.logger.Debug("skipping duplicate product", slog.String("product_url", record.ProductURL))
			continue
		}
		admitted = append(admitted, record)
	}
	return admitted, out
}

// Emit enriches admitted records and appends them to the sink. It stops at
// the first sink error; records appended before it stay in the sink.
func (p *Pipeline) Emit(ctx context.Context, records []*models.ProductRecord) (int, error) {
	if p.isClosed() {
		return 0, ErrPipelineClosed
	}

	accepted := 0
	for _, record := range records {
		if p.enricher != nil && ctx.Err() == nil {
			if err := p.enricher.Enrich(ctx, record); err != nil {
				p.logger.Warn("product enrichment failed",
					slog.String("product_url", record.ProductURL),
					slog.String("error", err.Error()),
				)
			}
		}

		if err := p.sink.Append(record); err != nil {
			return accepted, fmt.Errorf("append record %s: %w", record.ProductURL, err)
		}
		accepted++
		p.metrics.incrementProcessed()
	}
	return accepted, nil
}

// Close prevents further processing.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting logs progress every interval until ctx is done.
func (p *Pipeline) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := p.GetMetrics()
				processed := m["processed_products"].(int64)
				validation := m["validation_errors"].(map[string]int)
				p.logger.Info("pipeline progress",
					slog.Int64("processed", processed),
					slog.Int("duplicates", validation["duplicate_url"]),
					slog.Int("invalid", validation["invalid_record"]),
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_products": m.processed,
		"validation_errors":  copyValidation,
	}
}
