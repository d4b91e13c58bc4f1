package pipeline

import (
	"strconv"
	"testing"

	"github.com/aluiziolira/go-scrape-shop/models"
)

func TestDeduplicatorAdmitsOncePerNormalizedURL(t *testing.T) {
	d, err := NewDeduplicator(100, nil)
	if err != nil {
		t.Fatalf("new deduplicator: %v", err)
	}

	urls := []string{
		"https://shop.test/product/hoodie/",
		"https://shop.test/product/hoodie",
		"HTTPS://Shop.Test:443/product/hoodie/?utm_campaign=x#reviews",
		"https://shop.test/product/hoodie/?fbclid=abc",
		"https://shop.test/product/beanie/",
		"https://shop.test/product/hoodie/?color=blue",
		"https://shop.test/product/beanie",
	}

	admitted := 0
	for _, u := range urls {
		if d.Admit(&models.ProductRecord{ProductURL: u}) {
			admitted++
		}
	}

	// hoodie, beanie and hoodie?color=blue
	if admitted != 3 {
		t.Fatalf("admitted = %d, want 3", admitted)
	}
	if d.Len() != 3 {
		t.Fatalf("len = %d, want 3", d.Len())
	}
}

func TestDeduplicatorRejectsEmptyIdentity(t *testing.T) {
	d, err := NewDeduplicator(10, nil)
	if err != nil {
		t.Fatalf("new deduplicator: %v", err)
	}

	if d.Admit(nil) {
		t.Fatalf("nil record admitted")
	}
	if d.Admit(&models.ProductRecord{Name: "No URL"}) {
		t.Fatalf("record without product url admitted")
	}
}

func TestDeduplicatorEvictsWhenFull(t *testing.T) {
	d, err := NewDeduplicator(2, nil)
	if err != nil {
		t.Fatalf("new deduplicator: %v", err)
	}

	for i := 0; i < 3; i++ {
		d.Admit(&models.ProductRecord{ProductURL: "https://shop.test/p/" + strconv.Itoa(i)})
	}

	if d.Evicted() != 1 {
		t.Fatalf("evicted = %d, want 1", d.Evicted())
	}
	if d.Len() != 2 {
		t.Fatalf("len = %d, want 2", d.Len())
	}
	if d.Admit(&models.ProductRecord{ProductURL: "https://shop.test/p/2"}) {
		t.Fatalf("recent identity admitted twice")
	}
}
