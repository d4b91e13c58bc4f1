package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Detail holds the fields a product page can contribute to a listing record.
type Detail struct {
	Description string
	Categories  []string
}

var (
	detailDescriptionSelectors = []string{
		"div.rh-post-wrapper",
		"div.woocommerce-product-details__short-description",
		"div.post-inner",
	}
	detailCategoryContainers = []string{
		"div.rh-breadcrumbs",
		"div.woocommerce-breadcrumb",
		"nav.woocommerce-breadcrumb",
		"div.product-categories",
		".posted_in",
	}
)

const detailCategorySelector = `a[href*="product-category"], a[href*="category"], span[property="name"]`

// ParseDetail reads description and categories from a single product page.
func (p *Parser) ParseDetail(doc *goquery.Document) Detail {
	var detail Detail
	if doc == nil {
		return detail
	}

	for _, selector := range detailDescriptionSelectors {
		el := doc.Find(selector).First()
		if el.Length() == 0 {
			continue
		}
		clone := el.Clone()
		clone.Find("script, style").Remove()
		detail.Description = truncateRunes(cleanText(clone.Text()), p.descriptionLimit)
		break
	}

	for _, selector := range detailCategoryContainers {
		container := doc.Find(selector).First()
		if container.Length() == 0 {
			continue
		}
		var names []string
		seen := make(map[string]struct{})
		container.Find(detailCategorySelector).Each(func(_ int, s *goquery.Selection) {
			name := cleanText(s.Text())
			key := strings.ToLower(name)
			if name == "" {
				return
			}
			if _, skip := skippedCategories[key]; skip {
				return
			}
			if _, dup := seen[key]; dup {
				return
			}
			seen[key] = struct{}{}
			names = append(names, name)
		})
		if len(names) > 0 {
			detail.Categories = names
			break
		}
	}

	return detail
}

// Merge fills empty description and categories from d, leaving values the
// listing already provided untouched.
func (d Detail) Merge(description string, categories []string) (string, []string) {
	if description == "" {
		description = d.Description
	}
	if len(categories) == 0 && len(d.Categories) > 0 {
		categories = append([]string(nil), d.Categories...)
	}
	return description, categories
}
