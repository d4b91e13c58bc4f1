package pipeline

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-shop/models"
	"github.com/aluiziolira/go-scrape-shop/urlnorm"
)

// DefaultDedupeSize bounds the number of product identities remembered per run.
const DefaultDedupeSize = 1_000_000

// Deduplicator remembers product identities by normalized product URL.
type Deduplicator struct {
	seen    *lru.Cache[string, struct{}]
	evicted atomic.Int64
	logger  *slog.Logger
}

// NewDeduplicator builds a deduplicator holding at most size identities. Once
// full, the least recently admitted identity is forgotten.
func NewDeduplicator(size int, logger *slog.Logger) (*Deduplicator, error) {
	if size <= 0 {
		size = DefaultDedupeSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Deduplicator{logger: logger.With("component", "dedupe")}
	cache, err := lru.NewWithEvict[string, struct{}](size, d.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	d.seen = cache
	return d, nil
}

// Admit returns true the first time a product identity is seen and records
// it. Records without a product URL are never admitted.
func (d *Deduplicator) Admit(record *models.ProductRecord) bool {
	if record == nil || record.ProductURL == "" {
		return false
	}
	key := urlnorm.Normalize(record.ProductURL)
	found, _ := d.seen.ContainsOrAdd(key, struct{}{})
	return !found
}

// Len returns the number of identities currently held.
func (d *Deduplicator) Len() int {
	return d.seen.Len()
}

// Evicted returns how many identities were forgotten because the set was full.
func (d *Deduplicator) Evicted() int64 {
	return d.evicted.Load()
}

func (d *Deduplicator) onEvict(key string, _ struct{}) {
	if d.evicted.Add(1) == 1 {
		d.logger.Warn("dedupe capacity reached, forgetting oldest product urls",
			slog.Int("capacity", d.seen.Len()),
			slog.String("first_evicted", key),
		)
	}
}
