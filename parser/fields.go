package parser

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-shop/urlnorm"
)

var (
	productLinkSelectors = []string{
		"a.woocommerce-LoopProduct-link",
		"a.woocommerce-loop-product__link",
		"a[href]",
	}
	nameSelectors = []string{
		".woocommerce-loop-product__title",
		".product-title",
		".product_title",
		"h1", "h2", "h3", "h4", "h5", "h6",
	}
	priceSelectors = []string{
		".rh_regular_price",
		".price",
		".amount",
		"[itemprop=price]",
	}
	descriptionSelectors = []string{
		".woocommerce-product-details__short-description",
		".short-description",
		".product-short-description",
		".product-excerpt",
		".excerpt",
		"[itemprop=description]",
		"p.description",
	}
	imageAttrs = []string{"src", "data-src", "data-lazy-src", "data-original"}
)

const categoryLinkSelector = `a[href*="product-category"], a[href*="product_cat="], a[rel~="tag"], ` +
	`.posted_in a, .product-categories a, .cat-links a, span.ast-woo-product-category, .product-cat`

var skippedCategories = map[string]struct{}{
	"home":     {},
	"shop":     {},
	"products": {},
}

// extractProductURL returns the absolute product link of a candidate, or "".
func extractProductURL(sel *goquery.Selection, base *url.URL) string {
	if goquery.NodeName(sel) == "a" {
		if resolved := productHref(sel, base); resolved != "" {
			return resolved
		}
	}
	for _, selector := range productLinkSelectors {
		var found string
		sel.Find(selector).EachWithBreak(func(_ int, link *goquery.Selection) bool {
			found = productHref(link, base)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func productHref(link *goquery.Selection, base *url.URL) string {
	href, ok := link.Attr("href")
	if !ok || strings.Contains(href, "add-to-cart") {
		return ""
	}
	resolved, err := urlnorm.Resolve(base, href)
	if err != nil {
		return ""
	}
	return resolved
}

func extractName(sel *goquery.Selection) string {
	for _, selector := range nameSelectors {
		if text := cleanText(sel.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	if alt, ok := sel.Find("img[alt]").First().Attr("alt"); ok {
		return cleanText(alt)
	}
	return ""
}

func extractPrice(sel *goquery.Selection) string {
	for _, selector := range priceSelectors {
		el := sel.Find(selector).First()
		if el.Length() == 0 {
			continue
		}
		if price := priceText(el); price != "" {
			return price
		}
	}
	return priceFromText(sel)
}

// priceFromText returns the first text node of sel that reads like a price.
// Heuristic candidates carry their price in unclassed markup.
func priceFromText(sel *goquery.Selection) string {
	var price string
	sel.Find("*").AddSelection(sel).Contents().EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if goquery.NodeName(s) != "#text" {
			return true
		}
		if text := cleanText(s.Text()); priceLike.MatchString(text) {
			price = CleanPrice(text)
			return false
		}
		return true
	})
	return price
}

// priceText reads the current price of a price element, preferring the sale
// price inside <ins> and ignoring screen-reader annotations.
func priceText(el *goquery.Selection) string {
	if ins := el.Find("ins").First(); ins.Length() > 0 {
		clone := ins.Clone()
		clone.Find(".screen-reader-text").Remove()
		if text := CleanPrice(clone.Text()); text != "" {
			return text
		}
	}

	clone := el.Clone()
	clone.Find(".screen-reader-text").Remove()
	text := CleanPrice(clone.Text())
	if text == "" {
		if content, ok := el.Attr("content"); ok {
			text = CleanPrice(content)
		}
	}
	if text == "" {
		// the annotation alone still names the current price
		text = CleanPrice(el.Text())
	}
	return text
}

// CleanPrice reduces a price string to the current price as displayed,
// keeping the currency symbol.
func CleanPrice(text string) string {
	price := cleanText(text)
	if price == "" {
		return ""
	}
	if _, after, ok := strings.Cut(price, "Current price is:"); ok {
		price = after
	}
	if before, _, ok := strings.Cut(price, "Original price was:"); ok {
		price = before
	}
	price = strings.TrimSpace(price)
	price = strings.TrimRight(price, ".")
	return strings.TrimSpace(price)
}

func extractCategories(sel *goquery.Selection) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(name string) {
		name = cleanText(name)
		if name == "" {
			return
		}
		key := strings.ToLower(name)
		if _, skip := skippedCategories[key]; skip {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}

	sel.Find(categoryLinkSelector).Each(func(_ int, s *goquery.Selection) {
		add(s.Text())
	})
	if len(out) > 0 {
		return out
	}

	// WooCommerce tags the product wrapper with product_cat-<slug> classes.
	if class, ok := sel.Attr("class"); ok {
		for _, token := range strings.Fields(class) {
			slug, found := strings.CutPrefix(token, "product_cat-")
			if !found || slug == "uncategorized" {
				continue
			}
			add(humanizeSlug(slug))
		}
	}
	return out
}

func extractDescription(sel *goquery.Selection, limit int) string {
	for _, selector := range descriptionSelectors {
		el := sel.Find(selector).First()
		if el.Length() == 0 {
			continue
		}
		clone := el.Clone()
		clone.Find("script, style").Remove()
		if text := truncateRunes(cleanText(clone.Text()), limit); text != "" {
			return text
		}
	}
	return ""
}

func extractImageURL(sel *goquery.Selection, base *url.URL) string {
	img := sel.Find("img").First()
	if img.Length() == 0 {
		return ""
	}
	for _, attr := range imageAttrs {
		value, ok := img.Attr(attr)
		if !ok {
			continue
		}
		if resolved, err := urlnorm.Resolve(base, value); err == nil {
			return resolved
		}
	}
	if srcset, ok := img.Attr("srcset"); ok {
		first, _, _ := strings.Cut(srcset, ",")
		if fields := strings.Fields(first); len(fields) > 0 {
			if resolved, err := urlnorm.Resolve(base, fields[0]); err == nil {
				return resolved
			}
		}
	}
	return ""
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}

func humanizeSlug(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
