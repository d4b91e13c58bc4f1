package scraper

import (
	"bytes"
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-shop/models"
	"github.com/aluiziolira/go-scrape-shop/parser"
)

// detailEnricher fills a listing record's missing description and
// categories from its product page. It shares the run's throttle.
type detailEnricher struct {
	fetcher  *Fetcher
	parser   *parser.Parser
	throttle *Throttle
}

func (d *detailEnricher) Enrich(ctx context.Context, record *models.ProductRecord) error {
	if record.Description != "" && len(record.Categories) > 0 {
		return nil
	}

	page, err := d.fetcher.Fetch(ctx, record.ProductURL, d.throttle)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return fmt.Errorf("parse product page: %w", err)
	}

	detail := d.parser.ParseDetail(doc)
	record.Description, record.Categories = detail.Merge(record.Description, record.Categories)
	return nil
}
