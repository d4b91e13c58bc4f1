package parser

import (
	"regexp"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Strategy locates product candidate nodes on a listing page.
type Strategy struct {
	Name string
	Find func(doc *goquery.Document) *goquery.Selection
}

const (
	StrategyWooCommerceClass = "woocommerce-class"
	StrategyProductAttribute = "product-attribute"
	StrategyImageLink        = "image-link-heuristic"
)

const (
	wooProductSelector  = "li.product:not(.product-category), div.product:not(.product-category)"
	productAttrSelector = `[itemtype*="schema.org/Product"], .type-product, [data-product-id]:not(a):not(button)`
	imageLinkXPath      = `//a[@href][.//img][not(contains(@href, "add-to-cart"))]`
)

var priceLike = regexp.MustCompile(`(?i)(?:[$€£¥₹₽]|R\$|\bkr\b|zł|\b(?:USD|EUR|GBP)\b)\s?\d|\d[\d.,]*\s?(?:[$€£¥₹₽]|\bkr\b|zł|Kč|\b(?:USD|EUR|GBP)\b)`)

// DefaultStrategies returns the chain used for WordPress themes, most
// specific first.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: StrategyWooCommerceClass, Find: selectorStrategy(wooProductSelector)},
		{Name: StrategyProductAttribute, Find: selectorStrategy(productAttrSelector)},
		{Name: StrategyImageLink, Find: imageLinkStrategy},
	}
}

// selectorStrategy matches selector and keeps only outermost matches so a
// product wrapper nested in another is not counted twice.
func selectorStrategy(selector string) func(*goquery.Document) *goquery.Selection {
	return func(doc *goquery.Document) *goquery.Selection {
		return doc.Find(selector).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.ParentsFiltered(selector).Length() == 0
		})
	}
}

// imageLinkStrategy treats an anchor wrapping an image as a product when the
// anchor, or one of its two nearest ancestors, carries price-like text.
func imageLinkStrategy(doc *goquery.Document) *goquery.Selection {
	if len(doc.Nodes) == 0 {
		return nil
	}
	anchors, err := htmlquery.QueryAll(doc.Nodes[0], imageLinkXPath)
	if err != nil || len(anchors) == 0 {
		return nil
	}

	seen := make(map[*html.Node]struct{})
	var nodes []*html.Node
	for _, anchor := range anchors {
		container := priceContainer(anchor)
		if container == nil {
			continue
		}
		if _, ok := seen[container]; ok {
			continue
		}
		seen[container] = struct{}{}
		nodes = append(nodes, container)
	}
	if len(nodes) == 0 {
		return nil
	}

	// drop containers nested inside another container
	outer := nodes[:0]
	for _, n := range nodes {
		if !hasAncestorIn(n, seen) {
			outer = append(outer, n)
		}
	}
	return doc.FindNodes(outer...)
}

// priceContainer walks up at most two levels from anchor. A level wrapping
// image links to other targets is a listing grid, not a product, and ends
// the walk.
func priceContainer(anchor *html.Node) *html.Node {
	href := htmlquery.SelectAttr(anchor, "href")
	node := anchor
	for level := 0; level <= 2 && node != nil; level++ {
		if node.Type != html.ElementNode {
			break
		}
		if level > 0 && !singleTarget(node, href) {
			return nil
		}
		if priceLike.MatchString(htmlquery.InnerText(node)) {
			return node
		}
		node = node.Parent
	}
	return nil
}

func singleTarget(container *html.Node, href string) bool {
	links, err := htmlquery.QueryAll(container, `.//a[@href][.//img]`)
	if err != nil {
		return false
	}
	for _, link := range links {
		if htmlquery.SelectAttr(link, "href") != href {
			return false
		}
	}
	return true
}

func hasAncestorIn(n *html.Node, set map[*html.Node]struct{}) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if _, ok := set[p]; ok {
			return true
		}
	}
	return false
}
