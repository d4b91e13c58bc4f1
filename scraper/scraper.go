package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-shop/config"
	"github.com/aluiziolira/go-scrape-shop/models"
	"github.com/aluiziolira/go-scrape-shop/pagination"
	"github.com/aluiziolira/go-scrape-shop/parser"
	"github.com/aluiziolira/go-scrape-shop/pipeline"
	"github.com/aluiziolira/go-scrape-shop/urlnorm"
)

const progressInterval = 10 * time.Second

// phase is a state of the crawl loop, logged on every transition.
type phase string

const (
	phaseInit          phase = "init"
	phaseFetching      phase = "fetching"
	phaseParsing       phase = "parsing"
	phaseDeduplicating phase = "deduplicating"
	phaseEmitting      phase = "emitting"
	phaseTerminated    phase = "terminated"
)

// Scraper walks a shop's listing pages one at a time and streams the
// products it finds to a sink.
type Scraper struct {
	cfg     *config.Config
	fetcher *Fetcher
	parser  *parser.Parser
	walker  *pagination.Walker
	Metrics *Metrics
	logger  *slog.Logger
	runID   string
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithLogger sets the logger shared by all components.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scraper) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRunID sets the identifier reported in the summary and logs.
func WithRunID(id string) Option {
	return func(s *Scraper) { s.runID = id }
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Scraper{
		cfg:     cfg,
		Metrics: NewMetrics(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	s.logger = s.logger.With("run_id", s.runID)
	s.parser = parser.New(parser.WithLogger(s.logger))

	fetcher, err := NewFetcher(cfg, s.Metrics, s.logger)
	if err != nil {
		return nil, err
	}
	s.fetcher = fetcher
	s.walker = pagination.NewWalker(cfg.MaxPages, cfg.InferPagination, s.logger)
	return s, nil
}

// SetTransport routes all requests through rt.
func (s *Scraper) SetTransport(rt http.RoundTripper) {
	s.fetcher.SetTransport(rt)
}

// Run crawls from the configured URL until pagination ends, a fatal error
// occurs or ctx is cancelled. The summary is always returned. The error is
// non-nil when the run was aborted by a fetch failure, a sink failure or
// cancellation; records appended before that stay in the sink.
func (s *Scraper) Run(ctx context.Context, sink pipeline.Sink) (*models.RunSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	r := &run{
		Scraper:  s,
		summary:  &models.RunSummary{RunID: s.runID, TargetURL: s.cfg.TargetURL, StartTime: time.Now()},
		state:    pagination.NewState(s.cfg.TargetURL),
		throttle: NewThrottle(s.cfg.RequestDelay),
		phase:    phaseInit,
	}

	dedupe, err := pipeline.NewDeduplicator(s.cfg.DedupeMaxSize, s.logger)
	if err != nil {
		return r.finish(models.ReasonSinkFailure, err)
	}
	opts := []pipeline.Option{pipeline.WithLogger(s.logger)}
	if s.cfg.FetchDetails {
		opts = append(opts, pipeline.WithEnricher(&detailEnricher{
			fetcher:  s.fetcher,
			parser:   s.parser,
			throttle: r.throttle,
		}))
	}
	r.pipe = pipeline.NewPipeline(sink, dedupe, opts...)
	defer r.pipe.Close()

	if s.cfg.Verbose {
		reportCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		r.pipe.StartMetricsReporting(reportCtx, progressInterval)
	}

	s.logger.Info("scrape started",
		slog.String("url", s.cfg.TargetURL),
		slog.Int("max_pages", s.cfg.MaxPages),
		slog.Duration("delay", r.throttle.Delay()),
	)
	return r.loop(ctx)
}

// run holds the state of one Run call.
type run struct {
	*Scraper
	summary  *models.RunSummary
	state    *pagination.State
	throttle *Throttle
	pipe     *pipeline.Pipeline
	phase    phase
}

func (r *run) loop(ctx context.Context) (*models.RunSummary, error) {
	for {
		if err := ctx.Err(); err != nil {
			return r.finish(models.ReasonCancelled, err)
		}

		pageNum := r.state.PageNumber
		pageURL := r.state.CurrentURL
		source := r.state.Source

		r.enter(phaseFetching, slog.String("url", pageURL), slog.Int("page", pageNum))
		page, err := r.fetcher.Fetch(ctx, pageURL, r.throttle)
		if err != nil {
			if ctx.Err() != nil {
				return r.finish(models.ReasonCancelled, ctx.Err())
			}
			if pastLastPage(err, pageNum, source) {
				r.logger.Info("inferred page does not exist, pagination finished",
					slog.String("url", pageURL),
					slog.Int("page", pageNum),
				)
				return r.finish(models.ReasonNoMorePages, nil)
			}

			r.recordFetchError(pageURL, pageNum, err)
			if r.cfg.PolicyFor(pageNum) == config.PolicyAbort {
				return r.finish(models.ReasonFatalFetchError, fmt.Errorf("page %d: %w", pageNum, err))
			}
			r.logger.Warn("skipping failed page",
				slog.String("url", pageURL),
				slog.Int("page", pageNum),
			)
			if _, err := r.walker.Next(r.state, nil); err != nil {
				return r.finish(terminationFor(err), nil)
			}
			continue
		}

		r.summary.PagesVisited++
		r.Metrics.IncPage(source.String())

		if pageNum > 1 && redirectedToVisited(page, r.state) {
			r.logger.Info("page redirected to an already visited page, pagination finished",
				slog.String("url", pageURL),
				slog.String("final_url", page.FinalURL),
			)
			return r.finish(models.ReasonNoMorePages, nil)
		}
		r.state.Arrive(page.FinalURL)

		r.enter(phaseParsing, slog.Int("bytes", len(page.Body)))
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
		if err != nil {
			r.logger.Warn("unreadable html", slog.String("url", pageURL), slog.Any("error", err))
			doc = nil
		}
		result := r.parser.ParseDocument(doc, page.FinalURL)
		r.summary.InvalidDropped += result.Dropped
		r.Metrics.AddOutcome(0, 0, result.Dropped)

		if len(result.Records) == 0 {
			if pageNum == 1 {
				r.logger.Warn("no products found on first page",
					slog.String("url", pageURL),
					slog.Int("candidates", result.Candidates),
				)
				return r.finish(models.ReasonZeroProductsOnFirstPage, nil)
			}
			r.logger.Info("page has no products, pagination finished",
				slog.String("url", pageURL),
				slog.Int("page", pageNum),
			)
			return r.finish(models.ReasonNoMorePages, nil)
		}

		r.enter(phaseDeduplicating,
			slog.String("strategy", result.Strategy),
			slog.Int("records", len(result.Records)),
		)
		admitted, outcome := r.pipe.Admit(result.Records...)
		r.summary.DuplicatesSkipped += outcome.Duplicates
		r.summary.InvalidDropped += outcome.Invalid

		r.enter(phaseEmitting, slog.Int("records", len(admitted)))
		accepted, err := r.pipe.Emit(ctx, admitted)
		r.summary.ProductsFound += accepted
		r.Metrics.AddOutcome(accepted, outcome.Duplicates, outcome.Invalid)
		if err != nil {
			r.summary.Errors = append(r.summary.Errors, models.PageError{
				URL:     pageURL,
				Page:    pageNum,
				Kind:    "sink",
				Message: err.Error(),
			})
			return r.finish(models.ReasonSinkFailure, fmt.Errorf("write output: %w", err))
		}

		if source == pagination.SourcePagePattern && len(admitted) == 0 && outcome.Duplicates > 0 {
			r.logger.Info("inferred page repeats known products, pagination finished",
				slog.String("url", pageURL),
				slog.Int("page", pageNum),
				slog.Int("duplicates", outcome.Duplicates),
			)
			return r.finish(models.ReasonNoMorePages, nil)
		}

		r.logger.Info("page scraped",
			slog.Int("page", pageNum),
			slog.String("url", pageURL),
			slog.String("source", source.String()),
			slog.Int("products", accepted),
			slog.Int("duplicates", outcome.Duplicates),
		)

		if _, err := r.walker.Next(r.state, doc); err != nil {
			return r.finish(terminationFor(err), nil)
		}
	}
}

func (r *run) enter(next phase, attrs ...any) {
	args := append([]any{slog.String("from", string(r.phase)), slog.String("to", string(next))}, attrs...)
	r.logger.Debug("state transition", args...)
	r.phase = next
}

func (r *run) recordFetchError(pageURL string, pageNum int, err error) {
	pe := models.PageError{
		URL:     pageURL,
		Page:    pageNum,
		Kind:    errorTypeLabel(err),
		Message: err.Error(),
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		pe.StatusCode = fe.StatusCode
		pe.Attempts = fe.Attempts
	}
	r.summary.Errors = append(r.summary.Errors, pe)
	r.Metrics.IncError(pe.Kind)
	r.logger.Error("page fetch failed",
		slog.String("url", pageURL),
		slog.Int("page", pageNum),
		slog.String("category", pe.Kind),
		slog.Int("attempts", pe.Attempts),
		slog.Any("error", err),
	)
}

func (r *run) finish(reason models.TerminationReason, err error) (*models.RunSummary, error) {
	r.enter(phaseTerminated, slog.String("reason", reason.String()))

	r.summary.Reason = reason
	r.summary.EndTime = time.Now()
	r.summary.RequestCount = r.fetcher.RequestCount()
	r.summary.RetryCount = r.fetcher.RetryCount()
	r.Metrics.IncTermination(reason.String())

	level := slog.LevelInfo
	if reason.Fatal() {
		level = slog.LevelError
	}
	r.logger.Log(context.Background(), level, "scrape finished",
		slog.String("reason", reason.String()),
		slog.Int("pages", r.summary.PagesVisited),
		slog.Int("products", r.summary.ProductsFound),
		slog.Int("duplicates", r.summary.DuplicatesSkipped),
		slog.Int("invalid", r.summary.InvalidDropped),
		slog.Int("errors", len(r.summary.Errors)),
		slog.Int("requests", r.summary.RequestCount),
		slog.Int("retries", r.summary.RetryCount),
		slog.Duration("duration", r.summary.Duration()),
	)
	return r.summary, err
}

// pastLastPage reports a 404/410 on a page whose URL was guessed from the
// numeric pattern. WooCommerce answers that way past its last page.
func pastLastPage(err error, pageNum int, source pagination.Source) bool {
	if pageNum <= 1 || source != pagination.SourcePagePattern {
		return false
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.StatusCode == http.StatusNotFound || fe.StatusCode == http.StatusGone
}

func redirectedToVisited(page *Page, state *pagination.State) bool {
	if page.FinalURL == "" || urlnorm.Normalize(page.FinalURL) == urlnorm.Normalize(page.URL) {
		return false
	}
	return state.Seen(page.FinalURL)
}

func terminationFor(err error) models.TerminationReason {
	if errors.Is(err, pagination.ErrPageLimit) {
		return models.ReasonPageLimitReached
	}
	return models.ReasonNoMorePages
}
