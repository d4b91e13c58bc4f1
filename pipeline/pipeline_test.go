package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/aluiziolira/go-scrape-shop/models"
)

type mockSink struct {
	mu      sync.Mutex
	records []*models.ProductRecord
	failAt  int
}

func (ms *mockSink) Append(record *models.ProductRecord) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.failAt > 0 && len(ms.records)+1 == ms.failAt {
		return errors.New("disk full")
	}
	ms.records = append(ms.records, record)
	return nil
}

func (ms *mockSink) urls() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]string, 0, len(ms.records))
	for _, r := range ms.records {
		out = append(out, r.ProductURL)
	}
	return out
}

type stubEnricher struct {
	calls int
	err   error
}

func (se *stubEnricher) Enrich(_ context.Context, record *models.ProductRecord) error {
	se.calls++
	if se.err != nil {
		return se.err
	}
	if record.Description == "" {
		record.Description = "from detail page"
	}
	return nil
}

func newTestPipeline(t *testing.T, sink Sink, opts ...Option) *Pipeline {
	t.Helper()
	dedupe, err := NewDeduplicator(100, nil)
	if err != nil {
		t.Fatalf("new deduplicator: %v", err)
	}
	return NewPipeline(sink, dedupe, opts...)
}

// process admits records and emits the survivors, the way the scraper handles
// one listing page.
func process(ctx context.Context, p *Pipeline, records ...*models.ProductRecord) (Outcome, error) {
	admitted, out := p.Admit(records...)
	accepted, err := p.Emit(ctx, admitted)
	out.Accepted = accepted
	return out, err
}

func product(url string) *models.ProductRecord {
	return &models.ProductRecord{Name: "Hoodie", Price: "$45.00", ProductURL: url}
}

func TestPipelineValidationAndDedup(t *testing.T) {
	sink := &mockSink{}
	p := newTestPipeline(t, sink)

	valid := product("https://shop.test/product/hoodie/")
	invalid := product("")
	relative := product("/product/relative/")
	duplicate := product("https://shop.test/product/hoodie?utm_source=mail")

	out, err := process(context.Background(), p, valid, invalid, nil, relative, duplicate)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	want := Outcome{Accepted: 1, Duplicates: 1, Invalid: 2}
	if out != want {
		t.Fatalf("outcome = %+v, want %+v", out, want)
	}
	if got := sink.urls(); len(got) != 1 || got[0] != valid.ProductURL {
		t.Fatalf("emitted = %v, want [%s]", got, valid.ProductURL)
	}

	metrics := p.GetMetrics()
	if got := metrics["processed_products"].(int64); got != 1 {
		t.Fatalf("processed_products = %d, want 1", got)
	}
	validation, ok := metrics["validation_errors"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation errors map")
	}
	if validation["invalid_record"] != 2 {
		t.Fatalf("invalid_record = %d, want 2", validation["invalid_record"])
	}
	if validation["duplicate_url"] != 1 {
		t.Fatalf("duplicate_url = %d, want 1", validation["duplicate_url"])
	}
}

func TestPipelineDedupAcrossCalls(t *testing.T) {
	sink := &mockSink{}
	p := newTestPipeline(t, sink)
	ctx := context.Background()

	first, err := process(ctx, p, product("https://shop.test/product/a/"), product("https://shop.test/product/b/"))
	if err != nil {
		t.Fatalf("process page 1: %v", err)
	}
	second, err := process(ctx, p, product("https://SHOP.test/product/b"), product("https://shop.test/product/c/"))
	if err != nil {
		t.Fatalf("process page 2: %v", err)
	}

	if first.Accepted != 2 || second.Accepted != 1 || second.Duplicates != 1 {
		t.Fatalf("outcomes = %+v %+v", first, second)
	}
	if got := len(sink.urls()); got != 3 {
		t.Fatalf("emitted = %d, want 3", got)
	}
}

func TestPipelineKeepsDiscoveryOrder(t *testing.T) {
	sink := &mockSink{}
	p := newTestPipeline(t, sink)

	var records []*models.ProductRecord
	for i := 0; i < 20; i++ {
		records = append(records, product("https://shop.test/product/"+strconv.Itoa(i)+"/"))
	}
	if _, err := process(context.Background(), p, records...); err != nil {
		t.Fatalf("process: %v", err)
	}

	for i, url := range sink.urls() {
		if url != records[i].ProductURL {
			t.Fatalf("record %d = %s, want %s", i, url, records[i].ProductURL)
		}
	}
}

func TestPipelineSinkFailureStopsBatch(t *testing.T) {
	sink := &mockSink{failAt: 2}
	p := newTestPipeline(t, sink)

	out, err := process(context.Background(), p,
		product("https://shop.test/product/a/"),
		product("https://shop.test/product/b/"),
		product("https://shop.test/product/c/"),
	)
	if err == nil {
		t.Fatalf("expected sink error")
	}
	if out.Accepted != 1 {
		t.Fatalf("accepted = %d, want 1", out.Accepted)
	}
	if got := sink.urls(); len(got) != 1 {
		t.Fatalf("rows before failure = %d, want 1", len(got))
	}
}

func TestPipelineEnricher(t *testing.T) {
	sink := &mockSink{}
	enricher := &stubEnricher{}
	p := newTestPipeline(t, sink, WithEnricher(enricher))

	_, err := process(context.Background(), p,
		product("https://shop.test/product/a/"),
		product("https://shop.test/product/a/"),
	)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if enricher.calls != 1 {
		t.Fatalf("enrich calls = %d, want 1 (duplicates are not enriched)", enricher.calls)
	}
	if sink.records[0].Description != "from detail page" {
		t.Fatalf("description = %q", sink.records[0].Description)
	}
}

func TestPipelineEnricherFailureKeepsRecord(t *testing.T) {
	sink := &mockSink{}
	p := newTestPipeline(t, sink, WithEnricher(&stubEnricher{err: errors.New("timeout")}))

	out, err := process(context.Background(), p, product("https://shop.test/product/a/"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Accepted != 1 {
		t.Fatalf("accepted = %d, want 1", out.Accepted)
	}
}

func TestPipelineClosed(t *testing.T) {
	p := newTestPipeline(t, &mockSink{})
	p.Close()

	if _, err := process(context.Background(), p, product("https://shop.test/product/a/")); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}
