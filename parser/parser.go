// Package parser turns WooCommerce listing markup into product records.
package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-shop/models"
)

// DefaultDescriptionLimit caps description excerpts, in runes.
const DefaultDescriptionLimit = 500

// Result is the outcome of parsing one listing page.
type Result struct {
	Records    []*models.ProductRecord
	Strategy   string // name of the strategy that produced the candidates
	Candidates int
	Dropped    int // candidates without a resolvable product URL
}

// Parser extracts product records using an ordered strategy chain.
type Parser struct {
	strategies       []Strategy
	descriptionLimit int
	logger           *slog.Logger
}

// Option customises a Parser.
type Option func(*Parser)

// WithStrategies replaces the default candidate strategies.
func WithStrategies(strategies ...Strategy) Option {
	return func(p *Parser) {
		p.strategies = strategies
	}
}

// WithDescriptionLimit sets the maximum description length in runes.
func WithDescriptionLimit(limit int) Option {
	return func(p *Parser) {
		p.descriptionLimit = limit
	}
}

// WithLogger sets the logger used for drop and strategy diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) {
		p.logger = logger
	}
}

// New builds a parser with the default strategy chain.
func New(opts ...Option) *Parser {
	p := &Parser{
		strategies:       DefaultStrategies(),
		descriptionLimit: DefaultDescriptionLimit,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "parser")
	return p
}

// Parse reads html and extracts the products it lists. Malformed input yields
// an empty result rather than an error.
func (p *Parser) Parse(html []byte, pageURL string) Result {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		p.logger.Warn("unreadable html", slog.String("url", pageURL), slog.Any("error", err))
		return Result{}
	}
	return p.ParseDocument(doc, pageURL)
}

// ParseDocument extracts products from an already parsed document. The first
// strategy that yields at least one candidate is used for the whole page.
func (p *Parser) ParseDocument(doc *goquery.Document, pageURL string) Result {
	var result Result
	if doc == nil {
		return result
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	var candidates *goquery.Selection
	for _, strategy := range p.strategies {
		found := strategy.Find(doc)
		if found != nil && found.Length() > 0 {
			candidates = found
			result.Strategy = strategy.Name
			break
		}
	}
	if candidates == nil {
		return result
	}

	result.Candidates = candidates.Length()
	candidates.Each(func(_ int, sel *goquery.Selection) {
		record := p.extract(sel, base)
		if record == nil {
			result.Dropped++
			p.logger.Debug("candidate dropped: no product url",
				slog.String("url", pageURL),
				slog.String("strategy", result.Strategy),
			)
			return
		}
		result.Records = append(result.Records, record)
	})

	return result
}

func (p *Parser) extract(sel *goquery.Selection, base *url.URL) *models.ProductRecord {
	productURL := extractProductURL(sel, base)
	if productURL == "" {
		return nil
	}
	return &models.ProductRecord{
		Name:        extractName(sel),
		Price:       extractPrice(sel),
		Categories:  extractCategories(sel),
		Description: extractDescription(sel, p.descriptionLimit),
		ImageURL:    extractImageURL(sel, base),
		ProductURL:  productURL,
	}
}

// ValidateRecord ensures a record carries its identity.
func ValidateRecord(r *models.ProductRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.ProductURL) == "" {
		return fmt.Errorf("record missing product url")
	}
	u, err := url.Parse(r.ProductURL)
	if err != nil {
		return fmt.Errorf("record product url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("record product url %q is not absolute", r.ProductURL)
	}
	return nil
}
