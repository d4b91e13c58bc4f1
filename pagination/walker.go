// Package pagination discovers the next listing page of a shop catalog.
package pagination

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-shop/urlnorm"
)

var (
	// ErrNoNextPage means the page carries no pagination signal.
	ErrNoNextPage = errors.New("pagination: no next page")
	// ErrCycleDetected means the next page was already visited.
	ErrCycleDetected = errors.New("pagination: next page already visited")
	// ErrPageLimit means the configured page cap was reached.
	ErrPageLimit = errors.New("pagination: page limit reached")
)

// Source tells where a page URL came from.
type Source int

const (
	SourceStart Source = iota
	SourceNextLink
	SourcePagePattern
)

func (s Source) String() string {
	switch s {
	case SourceStart:
		return "start"
	case SourceNextLink:
		return "next_link"
	case SourcePagePattern:
		return "page_pattern"
	default:
		return "unknown"
	}
}

// State is the walk position. It is mutated by Walker.Next and Arrive.
type State struct {
	CurrentURL string
	PageNumber int
	Source     Source
	Visited    map[string]struct{}
}

// NewState starts a walk at startURL as page 1.
func NewState(startURL string) *State {
	s := &State{
		CurrentURL: startURL,
		PageNumber: 1,
		Source:     SourceStart,
		Visited:    make(map[string]struct{}),
	}
	s.Visited[urlnorm.Normalize(startURL)] = struct{}{}
	return s
}

// Seen reports whether rawURL was already visited in this walk.
func (s *State) Seen(rawURL string) bool {
	_, ok := s.Visited[urlnorm.Normalize(rawURL)]
	return ok
}

// Arrive records the URL the current page was actually served from after
// redirects. Next links and page patterns are then resolved against it.
func (s *State) Arrive(finalURL string) {
	if finalURL == "" || finalURL == s.CurrentURL {
		return
	}
	s.CurrentURL = finalURL
	s.Visited[urlnorm.Normalize(finalURL)] = struct{}{}
}

// Step is one move of the walk.
type Step struct {
	URL    string
	Page   int
	Source Source
}

// Walker decides the next page to fetch.
type Walker struct {
	maxPages     int
	inferPattern bool
	logger       *slog.Logger
}

// NewWalker builds a walker capped at maxPages pages. When inferPattern is
// set, numeric page URLs are guessed if the document has no next link.
func NewWalker(maxPages int, inferPattern bool, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{
		maxPages:     maxPages,
		inferPattern: inferPattern,
		logger:       logger.With("component", "pagination"),
	}
}

var nextLinkSelectors = []string{
	`link[rel="next"]`,
	`a[rel~="next"]`,
	"a.next.page-numbers",
	".woocommerce-pagination a.next",
	".nav-links a.next",
	"li.next a",
	".pagination a.next",
	"a.next",
}

// Next computes the page after state.CurrentURL. doc may be nil when the
// current page could not be fetched; only the URL pattern is used then. On
// success state advances to the returned step.
func (w *Walker) Next(state *State, doc *goquery.Document) (Step, error) {
	if w.maxPages > 0 && state.PageNumber >= w.maxPages {
		return Step{}, ErrPageLimit
	}

	current, err := url.Parse(state.CurrentURL)
	if err != nil {
		return Step{}, fmt.Errorf("parse current url: %w", err)
	}

	if next := w.nextLink(doc, current); next != "" {
		if state.Seen(next) {
			w.logger.Warn("pagination cycle detected",
				slog.String("from", state.CurrentURL),
				slog.String("to", next),
			)
			return Step{}, ErrCycleDetected
		}
		return w.advance(state, next, SourceNextLink), nil
	}

	if !w.inferPattern {
		return Step{}, ErrNoNextPage
	}
	next, ok := NextPatternURL(current, state.PageNumber)
	if !ok {
		return Step{}, ErrNoNextPage
	}
	if state.Seen(next) {
		return Step{}, ErrCycleDetected
	}
	return w.advance(state, next, SourcePagePattern), nil
}

func (w *Walker) advance(state *State, next string, source Source) Step {
	state.CurrentURL = next
	state.PageNumber++
	state.Source = source
	state.Visited[urlnorm.Normalize(next)] = struct{}{}

	w.logger.Debug("next page",
		slog.String("url", next),
		slog.Int("page", state.PageNumber),
		slog.String("source", source.String()),
	)
	return Step{URL: next, Page: state.PageNumber, Source: source}
}

// nextLink returns the absolute same-host target of an explicit next link.
func (w *Walker) nextLink(doc *goquery.Document, current *url.URL) string {
	if doc == nil {
		return ""
	}
	for _, selector := range nextLinkSelectors {
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, ok := s.Attr("href")
			if !ok {
				return true
			}
			resolved, err := urlnorm.Resolve(current, href)
			if err != nil {
				return true
			}
			if !urlnorm.SameHost(resolved, current.String()) {
				w.logger.Debug("ignoring off-site next link", slog.String("href", resolved))
				return true
			}
			found = resolved
			return false
		})
		if found != "" {
			return found
		}
	}
	return ""
}

var (
	pathPagePattern = regexp.MustCompile(`/page/(\d+)(/|$)`)
	pageQueryKeys   = []string{"paged", "product-page", "page"}
)

// NextPatternURL increments the numeric page marker in current. Recognised
// markers are a /page/N/ path segment and the paged, product-page and page
// query parameters. Without a marker, page 1 maps to the WordPress permalink
// form <path>/page/2/.
func NextPatternURL(current *url.URL, pageNumber int) (string, bool) {
	next := *current
	next.Fragment = ""
	next.RawFragment = ""

	if loc := pathPagePattern.FindStringSubmatchIndex(next.Path); loc != nil {
		n, err := strconv.Atoi(next.Path[loc[2]:loc[3]])
		if err != nil {
			return "", false
		}
		next.Path = next.Path[:loc[2]] + strconv.Itoa(n+1) + next.Path[loc[3]:]
		next.RawPath = ""
		return next.String(), true
	}

	query := next.Query()
	for _, key := range pageQueryKeys {
		value := query.Get(key)
		if value == "" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		query.Set(key, strconv.Itoa(n+1))
		next.RawQuery = query.Encode()
		return next.String(), true
	}

	if pageNumber != 1 {
		return "", false
	}
	if !strings.HasSuffix(next.Path, "/") {
		next.Path += "/"
	}
	next.Path += "page/2/"
	next.RawPath = ""
	return next.String(), true
}
